package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"

	"github.com/franksops/filestore/engine"
	"github.com/franksops/filestore/provider"
	"github.com/franksops/filestore/store"
	"github.com/franksops/filestore/ui"
)

func mirrorCommand(e *env) *cli.Command {
	return &cli.Command{
		Name:      "mirror",
		Usage:     "Copy every matching entry of the backend to another backend",
		ArgsUsage: "<destination-backend>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "pattern", Usage: "Only copy entries matching this pattern"},
			&cli.StringFlag{Name: "dest-prefix", Usage: "Folder below which entries are written"},
			&cli.IntFlag{Name: "workers", Usage: "Concurrent transfers (default from config)"},
			&cli.IntFlag{Name: "page-size", Usage: "Entries requested per listing call (default from config)"},
			&cli.BoolFlag{Name: "verify", Usage: "Re-read every copy and compare CRC64 checksums"},
			&cli.StringFlag{Name: "state", Usage: "Transfer state database (default from config)"},
			&cli.BoolFlag{Name: "no-resume", Usage: "Do not record or skip completed transfers"},
			&cli.BoolFlag{Name: "tui", Usage: "Show an interactive progress view"},
			&cli.StringFlag{Name: "metrics-addr", Usage: "Serve Prometheus metrics on this address while running"},
		},
		Action: func(cCtx *cli.Context) error {
			dest, err := arg(cCtx, 0, "destination-backend")
			if err != nil {
				return err
			}
			ctx := cCtx.Context
			cfg := e.cfg

			log := e.log
			if cCtx.Bool("tui") {
				// the alt screen owns the terminal
				log = slog.New(slog.DiscardHandler)
			}

			if addr := firstNonEmpty(cCtx.String("metrics-addr"), cfg.Metrics.Addr); addr != "" {
				cfg.Metrics.Enabled = true
				stopMetrics := e.serveMetrics(addr)
				defer stopMetrics()
			}

			src, err := cfg.OpenProvider(ctx, log, e.registry)
			if err != nil {
				return fmt.Errorf("open source: %w", err)
			}
			defer src.Close()

			dst, err := cfg.OpenBackend(ctx, dest, log, e.registry)
			if err != nil {
				return fmt.Errorf("open destination: %w", err)
			}
			defer dst.Close()

			var tracker *engine.JobTracker
			if !cCtx.Bool("no-resume") {
				statePath := firstNonEmpty(cCtx.String("state"), cfg.Mirror.StatePath)
				if err := os.MkdirAll(filepath.Dir(statePath), 0o755); err != nil {
					return fmt.Errorf("create state directory: %w", err)
				}
				st, err := store.NewBoltStore(statePath)
				if err != nil {
					return err
				}
				defer st.Close()
				tracker = engine.NewJobTracker(st, engine.DefaultCheckpointConfig)
			}

			opts := engine.MirrorOptions{
				Pattern:    provider.AllFiles,
				DestPrefix: cCtx.String("dest-prefix"),
				Workers:    firstPositive(cCtx.Int("workers"), cfg.Mirror.Workers),
				PageSize:   firstPositive(cCtx.Int("page-size"), cfg.Mirror.PageSize),
				Verify:     cCtx.Bool("verify"),
			}
			if p := cCtx.String("pattern"); p != "" {
				opts.Pattern = provider.Match(p)
			}

			m := engine.NewMirror(src, dst, tracker, log)

			var summary engine.Summary
			if cCtx.Bool("tui") {
				summary, err = runWithTUI(ctx, m, opts, cfg.Backend, dest)
			} else {
				summary, err = m.Run(ctx, opts)
			}

			printSummary(cCtx.App.Writer, summary)
			if tracker != nil && summary.Failed > 0 {
				printFailures(cCtx.App.ErrWriter, tracker)
			}
			return err
		},
	}
}

func runWithTUI(ctx context.Context, m *engine.Mirror, opts engine.MirrorOptions, source, dest string) (engine.Summary, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	state := func() *ui.UIState {
		st := ui.FromProgress(m.Snapshot())
		st.Source = source
		st.Destination = dest
		return st
	}

	model := ui.NewTUIModel(state(), func(delta int) {
		m.SetWorkers(m.Snapshot().Workers + delta)
	})
	program := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))

	var (
		summary engine.Summary
		runErr  error
	)
	done := make(chan struct{})
	go func() {
		defer close(done)
		summary, runErr = m.Run(ctx, opts)

		final := state()
		final.Done = true
		final.IsRunning = false
		program.Send(ui.TUIUpdateMsg{State: final})
	}()

	go func() {
		ticker := time.NewTicker(500 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				program.Send(ui.TUIUpdateMsg{State: state()})
			}
		}
	}()

	_, tuiErr := program.Run()
	// quitting the view stops the transfers still running
	cancel()
	<-done

	if tuiErr != nil && !errors.Is(tuiErr, tea.ErrProgramKilled) {
		return summary, errors.Join(runErr, tuiErr)
	}
	return summary, runErr
}

func (e *env) serveMetrics(addr string) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			e.log.Error("Metrics server failed", slog.String("addr", addr), "err", err)
		}
	}()
	e.log.Info("Serving metrics", slog.String("addr", addr))

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

func printSummary(w io.Writer, s engine.Summary) {
	fmt.Fprintf(w, "queued %d, copied %d, skipped %d, failed %d, %d bytes in %s\n",
		s.Queued, s.Copied, s.Skipped, s.Failed, s.Bytes, s.Elapsed.Round(time.Millisecond))
}

func printFailures(w io.Writer, tracker *engine.JobTracker) {
	failed, err := tracker.Failed()
	if err != nil {
		fmt.Fprintln(w, "failed to list failed transfers:", err)
		return
	}
	for _, rec := range failed {
		fmt.Fprintf(w, "FAILED %s -> %s: %s\n", rec.SourcePath, rec.DestinationPath, rec.Error)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstPositive(values ...int) int {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}
