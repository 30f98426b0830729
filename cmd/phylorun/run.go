package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/phylorun/internal/archive"
	"github.com/ShayCichocki/phylorun/internal/config"
	"github.com/ShayCichocki/phylorun/internal/engine"
	"github.com/ShayCichocki/phylorun/internal/metrics"
	"github.com/ShayCichocki/phylorun/internal/queue"
	"github.com/ShayCichocki/phylorun/internal/state"
	"github.com/ShayCichocki/phylorun/internal/supervisor"
)

// fallbackPoll is used when the submit signal cannot be watched.
const fallbackPoll = 2 * time.Second

var (
	runOnce        bool
	runTUI         bool
	runMetricsAddr string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run queued jobs",
	Long: `Start the supervisor. Ready jobs run one at a time, oldest first.

Without --once the supervisor keeps waiting for new jobs until interrupted.
Jobs submitted from another terminal are picked up immediately.

Examples:
  phylorun run                       # serve the queue until Ctrl+C
  phylorun run --once                # run every ready job, then exit
  phylorun run --tui                 # with the terminal monitor
  phylorun run --metrics-addr :9464  # expose Prometheus metrics`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

func init() {
	runCmd.Flags().BoolVar(&runOnce, "once", false, "Exit when no ready job remains")
	runCmd.Flags().BoolVar(&runTUI, "tui", false, "Show the terminal monitor")
	runCmd.Flags().StringVar(&runMetricsAddr, "metrics-addr", "", "Serve /metrics on this address (overrides metrics.addr)")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, db, err := openRepo()
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	q := queue.New(db)
	supCfg := cfg.SupervisorConfig()

	if !runOnce {
		sw, err := queue.WatchSignals(cfg.DataDir, q)
		if err != nil {
			log.Printf("[run] cannot watch for submitted jobs, polling every %s: %v", fallbackPoll, err)
			if supCfg.PollInterval == 0 {
				supCfg.PollInterval = fallbackPoll
			}
		} else {
			defer sw.Close()
		}
	}

	logger := supervisor.NewDebugLoggerForDataDir(cfg.DataDir)
	defer logger.Close()

	emitter := supervisor.NewEventEmitter(1024)
	opts := []supervisor.Option{
		supervisor.WithEmitter(emitter),
		supervisor.WithLogger(logger),
		supervisor.WithRecovery(state.NewRecoveryManager(db)),
	}

	addr := runMetricsAddr
	if addr == "" {
		addr = cfg.Metrics.Addr
	}
	if addr != "" {
		col := metrics.New()
		opts = append(opts, supervisor.WithMetrics(col))
		srv := startMetricsServer(addr, col)
		defer shutdownMetricsServer(srv)
	}

	if cfg.Archive.Enabled {
		a, err := newArchiver(ctx, cfg)
		if err != nil {
			return err
		}
		opts = append(opts, supervisor.WithArchiver(a))
	}

	sup := supervisor.New(db, q, engine.NewTable(cfg.EngineConfig()), supCfg, opts...)

	if runTUI {
		return runWithTUI(ctx, cancel, cfg, sup, emitter)
	}

	go printEvents(emitter.Events())
	defer emitter.Close()

	if runOnce {
		err = sup.Drain(ctx)
	} else {
		printStatus("●", fmt.Sprintf("Supervisor waiting for jobs (data dir %s)", cfg.DataDir), color.FgCyan)
		err = sup.Run(ctx)
	}
	if errors.Is(err, state.ErrSupervisorActive) {
		return fmt.Errorf("%w; stop it before starting another", err)
	}
	return err
}

func newArchiver(ctx context.Context, cfg *config.Config) (*archive.S3Archiver, error) {
	ac, err := cfg.ArchiveConfig()
	if err != nil {
		return nil, err
	}
	a, err := archive.New(ctx, ac)
	if err != nil {
		return nil, fmt.Errorf("create archiver: %w", err)
	}
	log.Printf("[run] archiving results to s3://%s/%s (credentials: %s)", ac.Bucket, ac.Prefix, config.ArchiveCredentialSource(cfg))
	return a, nil
}

func startMetricsServer(addr string, col *metrics.Collectors) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", col.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("[run] metrics server: %v", err)
		}
	}()
	log.Printf("[run] serving metrics on %s/metrics", addr)
	return srv
}

func shutdownMetricsServer(srv *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	srv.Shutdown(ctx)
}

// printEvents reports job progress on stdout until events is closed.
func printEvents(events <-chan supervisor.Event) {
	for e := range events {
		switch e.Type {
		case supervisor.EventStatus:
			if e.Phase == supervisor.PhaseRunning {
				printStatus("▶", fmt.Sprintf("%s job %s running", e.Category, e.JobID), color.FgCyan)
			}
		case supervisor.EventProgress:
			fmt.Printf("  %s %.1f%%\n", e.JobID, e.Percentage)
		case supervisor.EventConsensus:
			printStatus("✓", fmt.Sprintf("%s consensus: %s", e.JobID, e.Message), color.FgGreen)
		case supervisor.EventError:
			printStatus("✗", fmt.Sprintf("%s %s", e.JobID, e.Message), color.FgRed)
		}
	}
}
