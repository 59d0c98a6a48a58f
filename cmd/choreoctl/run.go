package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/choreoctl/choreo/pkg/codeexec"
	"github.com/choreoctl/choreo/pkg/environment"
	"github.com/choreoctl/choreo/pkg/scheduler"
	"github.com/choreoctl/choreo/pkg/validator"
)

var (
	runTimeScale float64
	runTickEvery time.Duration
	runWatch     bool
)

var runCmd = &cobra.Command{
	Use:   "run <file>",
	Short: "Run a program document against a real wall clock",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRun(args[0])
	},
}

func init() {
	runCmd.Flags().Float64Var(&runTimeScale, "time-scale", 1.0, "simulated-seconds per wall-clock-second multiplier")
	runCmd.Flags().DurationVar(&runTickEvery, "tick", 250*time.Millisecond, "wall-clock interval between ticks")
	runCmd.Flags().BoolVarP(&runWatch, "watch", "w", false, "on file change, re-validate and run again when no run is active; changes during a run are ignored")
}

func runRun(path string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	shutdownTracing, err := setupTracing(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn("trace exporter shutdown failed", "error", err)
		}
	}()

	var mu sync.Mutex
	active := false

	runOnce := func() {
		mu.Lock()
		if active {
			mu.Unlock()
			logger.Warn("run already in progress, ignoring change", "file", path)
			return
		}
		active = true
		mu.Unlock()
		defer func() {
			mu.Lock()
			active = false
			mu.Unlock()
		}()

		if err := executeProgram(ctx, path); err != nil {
			logger.Error("run failed", "file", path, "error", err)
		}
	}

	if runWatch {
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			return fmt.Errorf("start file watcher: %w", err)
		}
		defer watcher.Close()
		if err := watcher.Add(path); err != nil {
			return fmt.Errorf("watch %s: %w", path, err)
		}

		go func() {
			for {
				select {
				case ev, ok := <-watcher.Events:
					if !ok {
						return
					}
					if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
						if _, _, err := loadDocument(path); err != nil {
							logger.Error("watch: file no longer parses", "file", path, "error", err)
							continue
						}
						logger.Info("file changed, re-validating", "file", path)
						go runOnce()
					}
				case err, ok := <-watcher.Errors:
					if !ok {
						return
					}
					logger.Error("watcher error", "error", err)
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	runOnce()
	if runWatch {
		<-ctx.Done()
	}
	return nil
}

// executeProgram validates path, instantiates a Scheduler with a real
// wall clock, and ticks it until every step reaches a terminal status
// or ctx is canceled, then prints a status table.
func executeProgram(ctx context.Context, path string) error {
	doc, p, err := loadDocument(path)
	if err != nil {
		return err
	}
	catalog, err := loadCatalog(environmentFiles)
	if err != nil {
		return err
	}

	result := validator.Validate(doc, p, validator.Options{Catalog: catalog})
	if !result.IsValid {
		printValidationReport(result)
		return fmt.Errorf("%s is not valid", path)
	}

	resolved, err := environment.Resolve(p, catalog)
	if err != nil {
		return err
	}

	sched := scheduler.New(p, resolved,
		scheduler.WithTimeScale(runTimeScale),
		scheduler.WithLogger(logger.WithPrefix("scheduler")),
		scheduler.WithExecutor(codeexec.Dispatcher{
			Script: codeexec.NewScriptExecutor(),
			Shell:  codeexec.NewShellExecutor(),
		}),
	)
	logger.Info("starting program", "programId", p.ID, "runId", sched.RunID())
	sched.OnEvent(func(e scheduler.Event) {
		logger.Info(string(e.Kind), "stepId", e.StepID, "time", e.Time)
	})
	sched.Submit(scheduler.Command{Kind: scheduler.CommandStartProgram})

	ticker := time.NewTicker(runTickEvery)
	defer ticker.Stop()

	for !sched.Finished() {
		select {
		case <-ctx.Done():
			printStatusTable(sched)
			return ctx.Err()
		case <-ticker.C:
			sched.Tick(ctx)
		}
	}

	printStatusTable(sched)
	return nil
}

func printStatusTable(sched *scheduler.Scheduler) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 0 {
		t.SetAllowedRowLength(w)
	}
	t.AppendHeader(table.Row{"Step", "Track", "Status", "Started", "Ended"})
	for _, st := range sched.Snapshot() {
		started, ended := "-", "-"
		if st.StartedAt != nil {
			started = fmt.Sprintf("%.2f", *st.StartedAt)
		}
		if st.EndedAt != nil {
			ended = fmt.Sprintf("%.2f", *st.EndedAt)
		}
		t.AppendRow(table.Row{st.Step.ID, st.Step.TrackID, st.Status, started, ended})
	}
	t.Render()
}
