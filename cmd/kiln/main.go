// Command kiln exercises the code index under load: a pool of reader
// workers dispatches through the active generation while a writer task
// hot-swaps module code, so the rotation, gate and quiescence machinery
// run against real contention.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/kiln-vm/kiln/internal/codeix"
	"github.com/kiln-vm/kiln/internal/loader"
	"github.com/kiln-vm/kiln/internal/sched"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var jsonLogs bool

	root := &cobra.Command{
		Use:           "kiln",
		Short:         "live code replacement runtime tools",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().BoolVar(&jsonLogs, "json", false, "emit JSON logs")
	root.AddCommand(newStressCmd(&jsonLogs))
	return root
}

type stressOpts struct {
	readers     int
	loads       int
	duration    time.Duration
	metricsAddr string
}

func newStressCmd(jsonLogs *bool) *cobra.Command {
	opts := stressOpts{}
	cmd := &cobra.Command{
		Use:   "stress",
		Short: "run readers against a writer performing hot code swaps",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStress(cmd.Context(), newLogger(*jsonLogs), opts)
		},
	}
	cmd.Flags().IntVar(&opts.readers, "readers", 8, "reader worker count")
	cmd.Flags().IntVar(&opts.loads, "loads", 1000, "hot swaps to perform")
	cmd.Flags().DurationVar(&opts.duration, "duration", time.Minute, "maximum run time")
	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	return cmd
}

func newLogger(jsonLogs bool) *slog.Logger {
	if jsonLogs {
		return slog.New(slog.NewJSONHandler(os.Stderr, nil))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, nil))
}

func runStress(parent context.Context, log *slog.Logger, opts stressOpts) error {
	if opts.readers < 1 {
		return fmt.Errorf("--readers must be at least 1")
	}
	runID := uuid.NewString()
	log = log.With("run_id", runID)

	ctx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	ctx, timeout := context.WithTimeout(ctx, opts.duration)
	defer timeout()

	if opts.metricsAddr != "" {
		go serveMetrics(log, opts.metricsAddr)
	}

	// Only readers are scheduled as tracked workers; the writer never
	// dispatches through a cached index, so it stays out of the sweep.
	s := sched.New(ctx, opts.readers)
	engine := loader.New(loader.Config{Tracker: s.Tracker(), Logger: log})
	for i := 0; i < opts.readers; i++ {
		s.Go(func(ctx context.Context, w *sched.Worker) error {
			return readLoop(ctx, engine, w)
		})
	}

	writerErr := writeLoop(ctx, log, engine, opts.loads)
	cancel()
	readerErr := s.Wait()

	log.Info("stress run finished",
		"readers", opts.readers,
		"loads", opts.loads,
		"active_ix", int(engine.Set().ActiveIndex()),
	)
	return errors.Join(writerErr, readerErr)
}

func readLoop(ctx context.Context, engine *loader.Engine, w *sched.Worker) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		ix := engine.Set().ActiveIndex()
		if ep, ok := engine.ResolveAt(ix, "hot", "run", 1); ok {
			if *ep == 0 {
				return fmt.Errorf("reader %d dispatched into a zeroed body", w.ID)
			}
		}
		// The cached index is dropped here; publish the safe point.
		w.SafePoint()
	}
}

func writeLoop(ctx context.Context, log *slog.Logger, engine *loader.Engine, loads int) error {
	task := sched.NewSuspender()
	for i := 1; i <= loads; i++ {
		if ctx.Err() != nil {
			return nil
		}
		if err := task.Seize(ctx, engine.Gate()); err != nil {
			return nil
		}

		def := loader.ModuleDef{
			Name: "hot",
			Functions: []loader.FunctionDef{
				{Name: "run", Arity: 1, Body: []codeix.Instr{codeix.Instr(i)}},
			},
		}
		// Every 16th swap aborts on purpose to keep the abort path hot.
		if i%16 == 0 {
			def.Functions[0].Body = nil
		}

		err := engine.Load(ctx, task, def)
		engine.Gate().Release()
		switch {
		case err == nil:
		case errors.Is(err, loader.ErrEmptyBody):
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return nil
		default:
			return fmt.Errorf("hot swap %d: %w", i, err)
		}

		// Exercise the background queue alongside foreground swaps.
		if i%64 == 0 {
			if err := engine.Enqueue(loader.Request{Def: loader.ModuleDef{
				Name: "background",
				Functions: []loader.FunctionDef{
					{Name: "tick", Arity: 0, Body: []codeix.Instr{codeix.Instr(i)}},
				},
			}}); err == nil {
				engine.DrainQueue(ctx)
			}
		}
	}
	log.Info("writer completed all swaps", "loads", loads)
	return nil
}

func serveMetrics(log *slog.Logger, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	log.Info("serving metrics", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Error("metrics server failed", "err", err)
	}
}
