package cli

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/freeeve/framestore/internal/httpapi"
	"github.com/freeeve/framestore/internal/ingest"
	"github.com/freeeve/framestore/internal/store"
)

// backgroundFlusher is implemented by stores that can flush on a timer.
type backgroundFlusher interface {
	StartBackgroundFlush(interval time.Duration)
	StopBackgroundFlush()
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		addr  string
		watch string
		pprof bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the store over HTTP and ingest files dropped into a watch directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup(rootOpts, cmd)
			if err != nil {
				return err
			}
			if addr != "" {
				e.cfg.HTTP.Addr = addr
			}
			if watch != "" {
				e.cfg.Ingest.WatchDir = watch
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return store.With(e.openStore, func(s store.FramewiseStore) error {
				return e.serve(ctx, s, pprof)
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides http.addr)")
	cmd.Flags().StringVar(&watch, "watch", "", "directory to ingest feature files from (overrides ingest.watch_dir)")
	cmd.Flags().BoolVar(&pprof, "pprof", false, "mount /debug/pprof")
	return cmd
}

func (e *env) serve(ctx context.Context, s store.FramewiseStore, pprof bool) error {
	if bf, ok := s.(backgroundFlusher); ok && e.cfg.Store.FlushInterval > 0 {
		bf.StartBackgroundFlush(e.cfg.Store.FlushInterval)
		defer bf.StopBackgroundFlush()
	}

	worker, err := ingest.NewWorker(ingest.Config{
		WatchDir:     e.cfg.Ingest.WatchDir,
		PollInterval: e.cfg.Ingest.PollInterval,
		Parallelism:  e.cfg.Ingest.Parallelism,
		Logger:       e.log,
	}, s)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr: e.cfg.HTTP.Addr,
		Handler: httpapi.NewRouter(e.log.With().Str("component", "http").Logger(), s, httpapi.Options{
			RateLimit:   e.cfg.HTTP.RateLimit,
			Burst:       e.cfg.HTTP.Burst,
			CORSOrigins: e.cfg.HTTP.CORSOrigins,
			Pprof:       pprof,
		}),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		e.log.Info().Str("addr", srv.Addr).Msg("api listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		e.log.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if worker != nil {
		g.Go(func() error {
			// Ingest shares the store with the HTTP readers; the store's
			// lock serialises the worker's writes against them.
			if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}
	return g.Wait()
}
