package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/tracelens/backend/internal/parser"
)

// ExitInconsistent is returned by validate when the log has findings.
const ExitInconsistent = 2

func (a *app) newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate FILE",
		Short: "Check entry/exit markers and constructor/destructor pairs",
		Long: `Validate that block entry and exit markers are well nested and that every
constructor trace has a matching destructor. Exits with status 2 when
inconsistencies are found.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rep, err := a.report(cmd.Context(), args[0], false)
			if err != nil {
				return err
			}
			if err := parser.ExportReport(a.out, rep, parser.FormatText); err != nil {
				return err
			}
			if !rep.Validation.Clean() {
				return &ExitError{Code: ExitInconsistent}
			}
			return nil
		},
	}
}

func (a *app) newSearchCmd() *cobra.Command {
	var (
		start  int
		column int
		all    bool
	)
	cmd := &cobra.Command{
		Use:   "search FILE QUERY",
		Short: "Find records whose column contains QUERY",
		Long: `Print the 1-based index of the next record at or after --start whose column
contains QUERY (case-sensitive). --column is 0-based; the default searches the
message column. With --all every match is printed.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := a.schema()
			if err != nil {
				return err
			}
			table, err := a.load(cmd.Context(), args[0], f.Schema)
			if err != nil {
				return err
			}

			found := 0
			for idx := parser.Search(cmd.Context(), table.Records, args[1], start, column); idx != parser.NotFound; idx = parser.Search(cmd.Context(), table.Records, args[1], idx, column) {
				rec := table.Records[idx-1]
				fmt.Fprintf(a.out, "%d: %s\n", idx, rec.Last())
				found++
				if !all {
					break
				}
			}
			if found == 0 {
				fmt.Fprintln(a.out, "not found")
				return &ExitError{Code: 1}
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&start, "start", 0, "number of records to skip (pass a previous result to continue)")
	cmd.Flags().IntVar(&column, "column", -1, "0-based column to search; negative means the last column")
	cmd.Flags().BoolVar(&all, "all", false, "print every match")
	return cmd
}

func (a *app) newExceptionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "exceptions FILE",
		Short: "List lines whose message mentions an exception",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := a.schema()
			if err != nil {
				return err
			}
			table, err := a.load(cmd.Context(), args[0], f.Schema)
			if err != nil {
				return err
			}
			lines, err := parser.FindExceptions(cmd.Context(), table.Records)
			if err != nil {
				return err
			}
			for _, l := range lines {
				fmt.Fprintf(a.out, "%d: %s\n", l+1, table.Records[l].Last())
			}
			return nil
		},
	}
}

func (a *app) newExportCmd() *cobra.Command {
	var (
		format string
		out    string
	)
	cmd := &cobra.Command{
		Use:   "export FILE",
		Short: "Write the summary, validation result and exceptions to a report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if format == "" && out != "" {
				format = filepath.Ext(out)
			}
			ef, err := parser.ParseExportFormat(format)
			if err != nil {
				return err
			}
			rep, err := a.report(cmd.Context(), args[0], true)
			if err != nil {
				return err
			}

			if out == "" {
				return parser.ExportReport(a.out, rep, ef)
			}
			file, err := os.Create(out)
			if err != nil {
				return fmt.Errorf("create report: %w", err)
			}
			if err := parser.ExportReport(file, rep, ef); err != nil {
				file.Close()
				return err
			}
			return file.Close()
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "", "txt, md, html or yaml (default: from --out extension, else txt)")
	cmd.Flags().StringVar(&out, "out", "", "write to this file instead of stdout")
	return cmd
}

// report ingests path and validates it. With exceptions set the exception
// lines are included too.
func (a *app) report(ctx context.Context, path string, exceptions bool) (*parser.ResultReport, error) {
	f, err := a.schema()
	if err != nil {
		return nil, err
	}
	table, err := a.load(ctx, path, f.Schema)
	if err != nil {
		return nil, err
	}
	validation, err := parser.Validate(ctx, &table.Schema, table.Records)
	if err != nil {
		return nil, err
	}

	rep := &parser.ResultReport{
		File:       path,
		Summary:    table.Summary,
		Validation: validation,
	}
	if exceptions {
		if rep.Exceptions, err = parser.FindExceptions(ctx, table.Records); err != nil {
			return nil, err
		}
	}
	return rep, nil
}
