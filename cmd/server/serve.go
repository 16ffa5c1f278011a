package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/DoyleJ11/share-board/internal/auth"
	"github.com/DoyleJ11/share-board/internal/config"
	"github.com/DoyleJ11/share-board/internal/httpapi"
	"github.com/DoyleJ11/share-board/internal/hub"
	"github.com/DoyleJ11/share-board/internal/lobby"
	"github.com/DoyleJ11/share-board/internal/logging"
	"github.com/DoyleJ11/share-board/internal/metrics"
	"github.com/DoyleJ11/share-board/internal/store"
)

const (
	shutdownGrace = 10 * time.Second
	purgeEvery    = time.Minute
	issuer        = "share-board"
)

func serveCmd(envFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the server until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, *envFile)
		},
	}
}

func runServe(ctx context.Context, envFile string) error {
	cfg, err := config.LoadServer(envFile)
	if err != nil {
		return err
	}
	log, err := logging.New(cfg.Log.Level)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	st, err := openStore(cfg, log)
	if err != nil {
		return err
	}
	defer st.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	h := hub.NewHub(ctx, lobby.Deps{Store: st, Log: log.Named("lobby"), Metrics: m})

	srv := &http.Server{
		Addr: fmt.Sprintf(":%d", cfg.Port),
		Handler: httpapi.SetupRoutes(httpapi.Deps{
			Hub:            h,
			Store:          st,
			Auth:           auth.NewManager(cfg.JWTSecret, cfg.CredentialTTL, issuer),
			Metrics:        m,
			Log:            log.Named("http"),
			TicketTTL:      cfg.TicketTTL,
			OriginPatterns: cfg.AllowedOrigins,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		// Closing the lobbies ends every realtime connection; Shutdown does
		// not wait for hijacked connections.
		h.Shutdown()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	g.Go(func() error {
		t := time.NewTicker(purgeEvery)
		defer t.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case now := <-t.C:
				n, err := st.PurgeExpiredTickets(gctx, now)
				if err != nil {
					log.Warn("purge tickets", zap.Error(err))
					continue
				}
				if n > 0 {
					log.Debug("purged expired tickets", zap.Int64("count", n))
				}
			}
		}
	})
	return g.Wait()
}

func openStore(cfg *config.Server, log *zap.Logger) (store.Store, error) {
	if cfg.DatabaseURL == "" {
		log.Warn("DATABASE_URL not set, rooms live in memory only")
		return store.NewMemory(), nil
	}
	return store.OpenPostgres(store.GormConfig{
		DSN:             cfg.DatabaseURL,
		MaxIdleConns:    cfg.DB.MaxIdleConns,
		MaxOpenConns:    cfg.DB.MaxOpenConns,
		ConnMaxLifetime: cfg.DB.ConnMaxLifetime,
	}, log.Named("store"))
}
