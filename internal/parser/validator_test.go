package parser

import (
	"context"
	"reflect"
	"testing"

	"github.com/tracelens/backend/internal/models"
)

// recordsFrom builds single-column records, one per line.
func recordsFrom(lines ...string) []models.Record {
	recs := make([]models.Record, len(lines))
	for i, l := range lines {
		recs[i] = models.Record{LineNumber: i, Cells: []string{l}}
	}
	return recs
}

func validationSchema() *models.Schema {
	s := schemaWith(1, ",")
	return &s
}

func TestValidateMatchedPair(t *testing.T) {
	rep, err := Validate(context.Background(), validationSchema(), recordsFrom(
		"{entry: Foo::Foo",
		"}exit: Foo::~Foo",
	))
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !rep.Clean() {
		t.Errorf("report = %+v, want clean", rep)
	}
}

func TestValidateExitWithoutEntry(t *testing.T) {
	rep, _ := Validate(context.Background(), validationSchema(), recordsFrom(
		"INF starting",
		"}exit: X",
	))
	if want := []int{1}; !reflect.DeepEqual(rep.InconsistentExitLines, want) {
		t.Errorf("InconsistentExitLines = %v, want %v", rep.InconsistentExitLines, want)
	}
	if len(rep.UnmatchedConstructs) != 0 {
		t.Errorf("UnmatchedConstructs = %v, want none", rep.UnmatchedConstructs)
	}
}

func TestValidateUnmatchedConstructor(t *testing.T) {
	rep, _ := Validate(context.Background(), validationSchema(), recordsFrom(
		"{entry: A::A",
	))
	want := []models.UnmatchedConstruct{{Line: 0, Class: "A"}}
	if !reflect.DeepEqual(rep.UnmatchedConstructs, want) {
		t.Errorf("UnmatchedConstructs = %v, want %v", rep.UnmatchedConstructs, want)
	}
}

func TestValidateNestedBlocks(t *testing.T) {
	rep, _ := Validate(context.Background(), validationSchema(), recordsFrom(
		"{entry: outer()",
		"{entry: inner()",
		"}exit: inner()",
		"}exit: outer()",
		"}exit: outer()",
	))
	if want := []int{4}; !reflect.DeepEqual(rep.InconsistentExitLines, want) {
		t.Errorf("InconsistentExitLines = %v, want %v", rep.InconsistentExitLines, want)
	}
}

func TestValidateLabelMismatch(t *testing.T) {
	rep, _ := Validate(context.Background(), validationSchema(), recordsFrom(
		"{entry: open()",
		"}exit: other()",
	))
	if want := []int{1}; !reflect.DeepEqual(rep.InconsistentExitLines, want) {
		t.Errorf("InconsistentExitLines = %v, want %v", rep.InconsistentExitLines, want)
	}
}

func TestFindAndRemoveBySignatureIsNotLIFO(t *testing.T) {
	rep, _ := Validate(context.Background(), validationSchema(), recordsFrom(
		"{entry: A::A",
		"{entry: B::B",
		"}exit: A::~A",
	))
	want := []models.UnmatchedConstruct{{Line: 1, Class: "B"}}
	if !reflect.DeepEqual(rep.UnmatchedConstructs, want) {
		t.Errorf("UnmatchedConstructs = %v, want %v", rep.UnmatchedConstructs, want)
	}
}

func TestFindAndRemoveBySignaturePrefersNewest(t *testing.T) {
	classes := []classEntry{
		{line: 1, class: "A"},
		{line: 2, class: "A"},
	}
	got := findAndRemoveBySignature(classes, "}exit: A::~A", false)
	if len(got) != 1 || got[0].line != 1 {
		t.Errorf("remaining = %+v, want line 1", got)
	}

	untouched := findAndRemoveBySignature(got, "}exit: Z::~Z", false)
	if len(untouched) != 1 {
		t.Errorf("non-matching exit changed the stack: %+v", untouched)
	}
}

func TestConstructorClass(t *testing.T) {
	tests := []struct {
		label string
		class string
		ok    bool
	}{
		{"Foo::Foo", "Foo", true},
		{"Foo::Foo(int)", "Foo", true},
		{"Foo::~Foo", "", false},
		{"Foo::bar", "", false},
		{"plain()", "", false},
		{"::x", "", false},
	}
	for _, tt := range tests {
		class, ok := constructorClass(tt.label)
		if class != tt.class || ok != tt.ok {
			t.Errorf("constructorClass(%q) = %q, %v; want %q, %v", tt.label, class, ok, tt.class, tt.ok)
		}
	}
}

// With a thread column configured the block matcher is switched off while
// the class matcher keeps running. This mirrors long-standing behavior.
func TestValidateThreadColumnDisablesBlockMatcher(t *testing.T) {
	s := schemaWith(2, ",")
	s.ThreadColumn = 1

	recs := []models.Record{
		{LineNumber: 0, Cells: []string{"T1", "}exit: orphan"}},
		{LineNumber: 1, Cells: []string{"T1", "{entry: C::C"}},
		{LineNumber: 2, Cells: []string{"T2", "{entry: C::C"}},
		{LineNumber: 3, Cells: []string{"T2", "}exit: C::~C T2"}},
	}
	rep, err := Validate(context.Background(), &s, recs)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if len(rep.InconsistentExitLines) != 0 {
		t.Errorf("InconsistentExitLines = %v, want none while a thread column is set", rep.InconsistentExitLines)
	}
	want := []models.UnmatchedConstruct{{Line: 1, Class: "C"}}
	if !reflect.DeepEqual(rep.UnmatchedConstructs, want) {
		t.Errorf("UnmatchedConstructs = %v, want %v", rep.UnmatchedConstructs, want)
	}
}

func TestValidateCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rep, err := Validate(ctx, validationSchema(), recordsFrom("{entry: A::A"))
	if err == nil || rep != nil {
		t.Errorf("Validate after cancel = %v, %v; want nil report and error", rep, err)
	}
}

func TestValidateProgress(t *testing.T) {
	var seen []int
	v := NewValidator(validationSchema()).OnProgress(func(i int) { seen = append(seen, i) })
	if _, err := v.Validate(context.Background(), recordsFrom("a", "b", "c")); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !reflect.DeepEqual(seen, []int{0, 1, 2}) {
		t.Errorf("progress = %v", seen)
	}
}
