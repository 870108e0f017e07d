package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"golang.org/x/term"

	"dbferry/internal/adapter"
	_ "dbferry/internal/adapter/mssql"
	_ "dbferry/internal/adapter/mysql"
	_ "dbferry/internal/adapter/postgres"
	"dbferry/internal/config"
	"dbferry/internal/engine"
	"dbferry/internal/exitcodes"
	"dbferry/internal/logging"
	"dbferry/internal/notify"
	"dbferry/internal/progress"
	"dbferry/internal/rename"
	"dbferry/internal/runstate"
	"dbferry/internal/selection"
	"dbferry/internal/validate"
)

var version = "dev"

func main() {
	app := &cli.App{
		Name:    "dbferry",
		Usage:   "Heterogeneous database migration: structure, data, validation",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   "config.yaml",
				Usage:   "Path to configuration file",
			},
			&cli.StringFlag{
				Name:  "verbosity",
				Value: "info",
				Usage: "Log verbosity level (debug, info, warn, error)",
			},
		},
		Before: func(c *cli.Context) error {
			level, err := logging.ParseLevel(c.String("verbosity"))
			if err != nil {
				return err
			}
			logging.SetLevel(level)
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "Run the full migration: structure, data, renames, validation",
				Action: runAll,
			},
			{
				Name:   "structure",
				Usage:  "Create target structure only",
				Action: runStructure,
			},
			{
				Name:   "data",
				Usage:  "Copy data into an existing target structure",
				Action: runData,
			},
			{
				Name:   "validate",
				Usage:  "Compare source and target without copying",
				Action: runValidate,
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Output the full report as JSON",
					},
				},
			},
			{
				Name:   "rename",
				Usage:  "Apply configured column renames on the target",
				Action: runRenames,
			},
			{
				Name:   "status",
				Usage:  "Show status of the last run",
				Action: showStatus,
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Output status as JSON",
					},
				},
			},
			{
				Name:  "history",
				Usage: "List migration runs, or view details of a specific run",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "run",
						Usage: "Show details for a specific run ID",
					},
					&cli.IntFlag{
						Name:  "limit",
						Value: 20,
						Usage: "Number of runs to list",
					},
				},
				Action: showHistory,
			},
			{
				Name:   "test-connection",
				Usage:  "Verify both endpoints are reachable",
				Action: testConnections,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitcodes.FromError(err))
	}
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}
	if err := promptPassword(&cfg.Source, "source"); err != nil {
		return nil, err
	}
	if err := promptPassword(&cfg.Target, "target"); err != nil {
		return nil, err
	}
	return cfg, nil
}

// promptPassword asks for a password interactively when the config omits it
// and stdin is a terminal.
func promptPassword(e *config.Endpoint, which string) error {
	if e.Password != "" || !term.IsTerminal(int(os.Stdin.Fd())) {
		return nil
	}
	fmt.Fprintf(os.Stderr, "Password for %s (%s@%s): ", which, e.User, e.Host)
	pw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return fmt.Errorf("reading password: %w", err)
	}
	e.Password = string(pw)
	return nil
}

type session struct {
	cfg    *config.Config
	source adapter.Adapter
	target adapter.Adapter
	sel    *selection.Model
	store  *runstate.Store
	eng    *engine.Engine
}

func newSession(c *cli.Context) (*session, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}

	source, err := adapter.Open(&cfg.Source)
	if err != nil {
		return nil, fmt.Errorf("opening source: %w", err)
	}
	target, err := adapter.Open(&cfg.Target)
	if err != nil {
		source.Close()
		return nil, fmt.Errorf("opening target: %w", err)
	}
	store, err := runstate.New(cfg.Migration.DataDir)
	if err != nil {
		source.Close()
		target.Close()
		return nil, err
	}

	sel := selection.FromConfig(&cfg.Migration)
	eng := engine.New(source, target, sel, store, engine.Options{
		SourceID:    cfg.Source.ID,
		TargetID:    cfg.Target.ID,
		SampleLimit: cfg.Migration.SampleLimit,
	})
	return &session{cfg: cfg, source: source, target: target, sel: sel, store: store, eng: eng}, nil
}

func (s *session) close() {
	s.source.Close()
	s.target.Close()
	s.store.Close()
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nInterrupted.")
		cancel()
	}()
	return ctx, cancel
}

// attachBar wires a terminal progress bar to the copy loop.
func attachBar(eng *engine.Engine) *progress.Bar {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return nil
	}
	bar := progress.NewBar(-1)
	var current string
	eng.SetChunkHook(func(table adapter.TableRef, copied, chunk, expected int64) {
		if name := table.String(); name != current {
			current = name
			bar.SetTable(name)
		}
		bar.Add(chunk)
	})
	return bar
}

func runAll(c *cli.Context) error {
	s, err := newSession(c)
	if err != nil {
		return err
	}
	defer s.close()

	ctx, cancel := signalContext()
	defer cancel()

	notifier := notify.New(s.cfg.Notify)
	start := time.Now()

	bar := attachBar(s.eng)
	report, runErr := s.eng.Run(ctx)
	if bar != nil {
		bar.Finish()
	}

	if report != nil {
		printValidationSummary(report)
	}

	if notifier.Enabled() {
		notifyOutcome(notifier, s, runErr, time.Since(start))
	}
	if runErr != nil {
		return runErr
	}
	logging.Info("Migration run %s complete", s.eng.RunID())
	return nil
}

func notifyOutcome(notifier *notify.Notifier, s *session, runErr error, elapsed time.Duration) {
	runID := s.eng.RunID()
	run, err := s.store.GetRun(runID)
	if err == nil && run != nil && run.Status.Terminal() {
		err = notifier.RunCompleted(runID, string(run.Status), run.MigratedRows, run.FailedRows, elapsed)
	} else {
		err = notifier.RunFailed(runID, runErr, elapsed)
	}
	if err != nil {
		logging.Warn("Slack notification: %v", err)
	}
}

func runStructure(c *cli.Context) error {
	s, err := newSession(c)
	if err != nil {
		return err
	}
	defer s.close()

	ctx, cancel := signalContext()
	defer cancel()

	if _, err := s.eng.BeginRun(); err != nil {
		return err
	}
	task, err := s.eng.StartStructure(ctx)
	if err != nil {
		return err
	}
	taskErr := task.Wait()

	st := s.eng.StructureStatus()
	logging.Info("Structure migration: %d/%d objects created", st.Created, st.Attempted)
	return taskErr
}

func runData(c *cli.Context) error {
	s, err := newSession(c)
	if err != nil {
		return err
	}
	defer s.close()

	ctx, cancel := signalContext()
	defer cancel()

	if _, err := s.eng.BeginRun(); err != nil {
		return err
	}
	if err := s.eng.AdoptStructure(ctx); err != nil {
		return err
	}

	bar := attachBar(s.eng)
	task, err := s.eng.StartData(ctx)
	if err != nil {
		return err
	}
	taskErr := task.Wait()
	if bar != nil {
		bar.Finish()
	}

	if report := s.eng.CopyReport(); report != nil {
		logging.Info("Data migration: %d rows copied, %d rows failed",
			report.MigratedRows, report.FailedRows)
	}
	return taskErr
}

func runValidate(c *cli.Context) error {
	s, err := newSession(c)
	if err != nil {
		return err
	}
	defer s.close()

	ctx, cancel := signalContext()
	defer cancel()

	report, err := s.eng.RunValidation(ctx)
	if err != nil {
		return err
	}

	if c.Bool("json") {
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	printValidationSummary(report)
	if report.Summary.Failed > 0 {
		return fmt.Errorf("validation failed: %d checks failed across %d tables",
			report.Summary.Failed, len(report.Tables))
	}
	return nil
}

func printValidationSummary(report *validate.Report) {
	logging.Print("\nValidation summary\n")
	logging.Print("%-40s %12s %12s %8s\n", "Table", "Source rows", "Target rows", "Checks")
	for _, tr := range report.Tables {
		status := "ok"
		if tr.Summary.Failed > 0 {
			status = fmt.Sprintf("%d failed", tr.Summary.Failed)
		}
		logging.Print("%-40s %12d %12d %8s\n",
			tr.Source, tr.SourceRowCount, tr.TargetRowCount, status)
	}
	logging.Print("Tables matched: %d/%d  overall accuracy: %.1f%%\n",
		report.Summary.TablesMatched, len(report.Tables), report.Summary.OverallAccuracy)
}

func runRenames(c *cli.Context) error {
	s, err := newSession(c)
	if err != nil {
		return err
	}
	defer s.close()

	if !s.sel.HasRenames() {
		logging.Info("No column renames configured")
		return nil
	}

	ctx, cancel := signalContext()
	defer cancel()

	results := rename.Apply(ctx, s.target, s.sel)
	failed := 0
	for _, r := range results {
		if !r.OK() {
			failed++
		}
	}
	logging.Info("Renames applied: %d ok, %d failed", len(results)-failed, failed)
	if failed > 0 {
		return fmt.Errorf("%d of %d renames failed", failed, len(results))
	}
	return nil
}

func showStatus(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	store, err := runstate.New(cfg.Migration.DataDir)
	if err != nil {
		return err
	}
	defer store.Close()

	run, err := store.LastRun()
	if err != nil {
		return err
	}
	if run == nil {
		fmt.Println("No runs recorded")
		return nil
	}

	if c.Bool("json") {
		data, err := json.MarshalIndent(run, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	printRun(store, run)
	return nil
}

func showHistory(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	store, err := runstate.New(cfg.Migration.DataDir)
	if err != nil {
		return err
	}
	defer store.Close()

	if runID := c.String("run"); runID != "" {
		run, err := store.GetRun(runID)
		if err != nil {
			return err
		}
		if run == nil {
			return fmt.Errorf("run %s not found", runID)
		}
		printRun(store, run)

		report, err := store.ValidationReport(runID)
		if err != nil {
			return err
		}
		if report != "" {
			fmt.Println("\nValidation report:")
			fmt.Println(report)
		}
		return nil
	}

	runs, err := store.ListRuns(c.Int("limit"))
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("No runs recorded")
		return nil
	}

	fmt.Printf("%-10s %-22s %-20s %-12s %12s %10s\n",
		"Run", "Status", "Started", "Duration", "Rows", "Failed")
	for _, r := range runs {
		started := ""
		if r.StartedAt != nil {
			started = r.StartedAt.Format("2006-01-02 15:04:05")
		}
		fmt.Printf("%-10s %-22s %-20s %-12s %12d %10d\n",
			r.ID, r.Status, started, formatMs(r.DurationMs), r.MigratedRows, r.FailedRows)
	}
	return nil
}

func printRun(store *runstate.Store, run *runstate.Run) {
	fmt.Printf("Run:          %s\n", run.ID)
	fmt.Printf("Status:       %s\n", run.Status)
	fmt.Printf("Source:       %s\n", run.SourceID)
	fmt.Printf("Target:       %s\n", run.TargetID)
	if run.StartedAt != nil {
		fmt.Printf("Started:      %s\n", run.StartedAt.Format("2006-01-02 15:04:05"))
	}
	if run.CompletedAt != nil {
		fmt.Printf("Completed:    %s\n", run.CompletedAt.Format("2006-01-02 15:04:05"))
	}
	fmt.Printf("Duration:     %s\n", formatMs(run.DurationMs))
	fmt.Printf("Rows:         %d migrated, %d failed\n", run.MigratedRows, run.FailedRows)

	outcomes, err := store.TableOutcomes(run.ID)
	if err != nil || len(outcomes) == 0 {
		return
	}
	fmt.Printf("\n%-40s %-10s %12s\n", "Table", "Status", "Rows")
	for _, o := range outcomes {
		fmt.Printf("%-40s %-10s %12d", o.TableName, o.Status, o.RowsCopied)
		if o.Error != "" {
			fmt.Printf("  %s", strings.ReplaceAll(o.Error, "\n", " "))
		}
		fmt.Println()
	}
}

func formatMs(ms int64) string {
	if ms <= 0 {
		return "-"
	}
	secs := ms / 1000
	if secs < 60 {
		return fmt.Sprintf("%d.%01ds", secs, (ms%1000)/100)
	}
	return fmt.Sprintf("%dm%02ds", secs/60, secs%60)
}

func testConnections(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	ctx := context.Background()
	for _, ep := range []*config.Endpoint{&cfg.Source, &cfg.Target} {
		a, err := adapter.Open(ep)
		if err != nil {
			return err
		}
		err = a.TestConnection(ctx)
		a.Close()
		if err != nil {
			return err
		}
		logging.Info("%s (%s): connection ok", ep.ID, ep.Type)
	}
	return nil
}
