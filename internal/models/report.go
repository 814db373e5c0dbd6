package models

// UnmatchedConstruct is a constructor entry with no matching destructor exit.
type UnmatchedConstruct struct {
	Line  int    `json:"line" yaml:"line"`
	Class string `json:"class" yaml:"class"`
}

// ValidationReport is the result of one structural validation pass.
type ValidationReport struct {
	InconsistentExitLines []int                `json:"inconsistentExitLines" yaml:"inconsistentExitLines"`
	UnmatchedConstructs   []UnmatchedConstruct `json:"unmatchedConstructs" yaml:"unmatchedConstructs"`
}

// Clean reports whether validation found nothing.
func (r *ValidationReport) Clean() bool {
	return len(r.InconsistentExitLines) == 0 && len(r.UnmatchedConstructs) == 0
}
