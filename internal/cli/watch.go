package cli

import (
	"context"
	"fmt"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/tracelens/backend/internal/parser"
)

// watchDebounce coalesces bursts of writes into one reload.
const watchDebounce = 200 * time.Millisecond

func (a *app) newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch FILE",
		Short: "Re-ingest and re-validate a log file whenever it changes",
		Long: `Watch a log file and print a fresh summary and validation result each time
it is written, replaced or renamed into place. Stop with Ctrl+C.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			path := args[0]
			reload := func() {
				rep, err := a.report(ctx, path, true)
				if err != nil {
					a.logger.Error("reload failed", "file", path, "error", err)
					return
				}
				fmt.Fprintf(a.out, "--- %s\n", time.Now().Format("15:04:05"))
				if err := parser.ExportReport(a.out, rep, parser.FormatText); err != nil {
					a.logger.Error("render failed", "error", err)
				}
			}

			reload()
			return watchFile(ctx, path, reload)
		},
	}
}

// watchFile calls onChange after path is written, created or renamed. The
// parent directory is watched so editors that replace the file are seen.
// It blocks until ctx is done.
func watchFile(ctx context.Context, path string, onChange func()) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer fsw.Close()

	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("cannot watch %s: %w", abs, err)
	}

	var (
		timer   *time.Timer
		pending <-chan time.Time
	)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(watchDebounce)
			} else {
				timer.Reset(watchDebounce)
			}
			pending = timer.C
		case <-pending:
			pending = nil
			onChange()
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("watch %s: %w", abs, err)
		}
	}
}
