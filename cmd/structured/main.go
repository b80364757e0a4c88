package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/aristath/structured/internal/config"
	"github.com/aristath/structured/internal/events"
	"github.com/aristath/structured/internal/executor"
	"github.com/aristath/structured/internal/persistence"
	"github.com/aristath/structured/internal/scenario"
	"github.com/aristath/structured/internal/tui"
)

func main() {
	// Create signal-aware context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "usage:")
	fmt.Fprintln(w, "  structured run <scenario> [-trace db]   run a scenario, optionally recording a trace")
	fmt.Fprintln(w, "  structured monitor [-scenario name]     run a scenario under the live monitor")
	fmt.Fprintln(w, "  structured trace <db>                   print the task tree recorded in db")
	fmt.Fprintln(w, "  structured list                         list scenarios")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "scenarios:")
	scenario.Describe(w)
	fmt.Fprintf(w, "  %-11s %s\n", scenario.All, "every scenario in turn")
}

// run dispatches a subcommand and returns the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		usage(stderr)
		return 2
	}

	var err error
	switch args[0] {
	case "run":
		err = runCommand(ctx, args[1:], stdout)
	case "monitor":
		err = monitorCommand(ctx, args[1:])
	case "trace":
		err = traceCommand(ctx, args[1:], stdout)
	case "list":
		scenario.Describe(stdout)
	case "help", "-h", "--help":
		usage(stdout)
	default:
		fmt.Fprintf(stderr, "unknown command %q\n", args[0])
		usage(stderr)
		return 2
	}

	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// parseWithName accepts the positional name before or after the flags.
func parseWithName(fs *flag.FlagSet, args []string) (string, error) {
	if err := fs.Parse(args); err != nil {
		return "", err
	}
	if fs.NArg() == 0 {
		return "", nil
	}
	name := fs.Arg(0)
	if err := fs.Parse(fs.Args()[1:]); err != nil {
		return "", err
	}
	if fs.NArg() > 0 {
		return "", fmt.Errorf("unexpected arguments %v", fs.Args())
	}
	return name, nil
}

type runFlags struct {
	set   *flag.FlagSet
	trace *string
}

func newRunFlags() runFlags {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	return runFlags{
		set:   fs,
		trace: fs.String("trace", "", "record task events into this SQLite database"),
	}
}

func runCommand(ctx context.Context, args []string, stdout io.Writer) error {
	flags := newRunFlags()
	tracePath := flags.trace
	name, err := parseWithName(flags.set, args)
	if err != nil {
		return err
	}
	if name == "" {
		return errors.New("run: scenario name required")
	}

	cfg, err := config.LoadDefault()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if *tracePath == "" && cfg.Trace.Enabled {
		*tracePath = cfg.Trace.Path
	}

	env := scenario.NewEnv(cfg, stdout)
	defer env.Close()
	defer executor.SetDefault(executor.SetDefault(env.Executors.Default))

	bus := events.NewEventBus()
	var rec *persistence.Recorder
	if *tracePath != "" {
		store, err := persistence.NewSQLiteStore(ctx, *tracePath)
		if err != nil {
			return fmt.Errorf("opening trace: %w", err)
		}
		defer store.Close()

		rec = persistence.NewRecorder(store, bus, cfg.EventBuffer)
		rec.Start(context.Background())
	}

	runErr := scenario.Run(events.WithBus(ctx, bus), env, name)

	bus.Close()
	if rec != nil {
		rec.Wait()
		written, failed := rec.Stats()
		fmt.Fprintf(stdout, "trace: %d events written to %s", written, *tracePath)
		if failed > 0 {
			fmt.Fprintf(stdout, " (%d failed)", failed)
		}
		if dropped := bus.Dropped(events.TopicTask); dropped > 0 {
			fmt.Fprintf(stdout, " (%d dropped)", dropped)
		}
		fmt.Fprintln(stdout)
	}
	return runErr
}

func traceCommand(ctx context.Context, args []string, stdout io.Writer) error {
	if len(args) != 1 {
		return errors.New("trace: database path required")
	}
	if _, err := os.Stat(args[0]); err != nil {
		return fmt.Errorf("trace: %w", err)
	}

	store, err := persistence.NewSQLiteStore(ctx, args[0])
	if err != nil {
		return fmt.Errorf("opening trace: %w", err)
	}
	defer store.Close()

	records, err := store.ListTasks(ctx)
	if err != nil {
		return err
	}
	return persistence.WriteTree(stdout, persistence.BuildTree(records))
}

func monitorCommand(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("monitor", flag.ContinueOnError)
	name := fs.String("scenario", scenario.All, "scenario to run while monitoring")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if _, ok := scenario.Lookup(*name); !ok && *name != scenario.All {
		return fmt.Errorf("unknown scenario %q", *name)
	}

	cfg, err := config.LoadDefault()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	globalPath, err := config.GlobalPath()
	if err != nil {
		return err
	}

	bus := events.NewEventBus()
	model := tui.New(bus, cfg, globalPath, filepath.FromSlash(config.ProjectPath))

	// Scenario output would corrupt the alternate screen
	env := scenario.NewEnv(cfg, io.Discard)
	defer env.Close()
	defer executor.SetDefault(executor.SetDefault(env.Executors.Default))

	p := tea.NewProgram(model, tea.WithAltScreen())
	errChan := make(chan error, 1)
	go func() {
		_, err := p.Run()
		errChan <- err
	}()

	runCtx, cancelRun := context.WithCancel(events.WithBus(ctx, bus))
	defer cancelRun()
	runDone := make(chan error, 1)
	go func() {
		err := scenario.Run(runCtx, env, *name)
		bus.Close()
		runDone <- err
	}()

	var runErr error
	select {
	case err := <-errChan:
		// Normal TUI exit (user pressed 'q')
		cancelRun()
		runErr = <-runDone
		if err != nil {
			return err
		}
	case <-ctx.Done():
		log.Println("Shutdown signal received, cleaning up...")
		cancelRun()
		p.Quit()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		select {
		case err := <-errChan:
			if err != nil {
				log.Printf("ERROR: monitor exit: %v", err)
			}
		case <-shutdownCtx.Done():
			log.Println("WARNING: shutdown timeout exceeded, forcing exit")
		}
		runErr = <-runDone
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return nil
}
