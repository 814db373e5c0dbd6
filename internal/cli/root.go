// Package cli implements the tracelens command line tool.
package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// ExitError carries a process exit code out of a command.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }

// app is the state shared by all subcommands.
type app struct {
	v      *viper.Viper
	out    io.Writer
	errOut io.Writer
	logger *slog.Logger
}

// NewRootCmd builds the command tree writing to out and errOut.
func NewRootCmd(out, errOut io.Writer) *cobra.Command {
	a := &app{v: viper.New(), out: out, errOut: errOut}
	var cfgFile string

	root := &cobra.Command{
		Use:   "tracelens",
		Short: "TraceLens - structured log viewer and block validator",
		Long: `TraceLens splits log lines into columns according to a schema, colors them
by severity and thread, and checks that entry/exit trace markers are well nested.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.initConfig(cmd, cfgFile)
		},
	}
	root.SetOut(out)
	root.SetErr(errOut)

	pf := root.PersistentFlags()
	pf.StringVarP(&cfgFile, "config", "c", "", "config file (default: $HOME/.tracelens.yaml)")
	pf.StringP("schema", "s", "", "schema file (key=value)")
	pf.StringP("profile", "p", "", "profile file overriding the schema for this run")
	pf.String("object", "auto", "embedded-object decoding: auto, on, off")
	pf.StringP("output", "o", "text", "output format: text, json")
	pf.BoolP("verbose", "v", false, "log progress to stderr")

	root.AddCommand(
		a.newParseCmd(),
		a.newValidateCmd(),
		a.newSearchCmd(),
		a.newExceptionsCmd(),
		a.newExportCmd(),
		a.newWatchCmd(),
	)
	return root
}

func (a *app) initConfig(cmd *cobra.Command, cfgFile string) error {
	if cfgFile != "" {
		a.v.SetConfigFile(cfgFile)
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			a.v.AddConfigPath(home)
		}
		a.v.AddConfigPath(".")
		a.v.SetConfigName(".tracelens")
		a.v.SetConfigType("yaml")
	}

	a.v.SetEnvPrefix("TRACELENS")
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	a.v.AutomaticEnv()
	if err := a.v.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	if err := a.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("read config: %w", err)
		}
	}

	level := slog.LevelWarn
	if a.v.GetBool("verbose") {
		level = slog.LevelDebug
	}
	a.logger = slog.New(slog.NewTextHandler(a.errOut, &slog.HandlerOptions{Level: level}))
	return nil
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	root := NewRootCmd(os.Stdout, os.Stderr)
	if err := root.Execute(); err != nil {
		var exit *ExitError
		if errors.As(err, &exit) {
			if exit.Err != nil {
				fmt.Fprintln(os.Stderr, exit.Err)
			}
			return exit.Code
		}
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}
