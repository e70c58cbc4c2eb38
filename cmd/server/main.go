package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/LingByte/LingMeet/cmd/bootstrap"
	"github.com/LingByte/LingMeet/pkg/api"
	"github.com/LingByte/LingMeet/pkg/config"
	"github.com/LingByte/LingMeet/pkg/controller"
	"github.com/LingByte/LingMeet/pkg/logger"
	"github.com/LingByte/LingMeet/pkg/metrics"
	"github.com/LingByte/LingMeet/pkg/rendezvous"
	"github.com/LingByte/LingMeet/pkg/store"
	"github.com/LingByte/LingMeet/pkg/webrtc/rtcmedia"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type flags struct {
	mode     string
	addr     string
	dbDriver string
	dsn      string
	migrate  bool
	verbose  bool
}

func main() {
	var f flags
	root := &cobra.Command{
		Use:          "lingmeet",
		Short:        "Anonymous one-to-one video chat with store-backed matchmaking",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setup(&f)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			logger.Sync()
		},
	}
	root.PersistentFlags().StringVar(&f.mode, "mode", "", "running environment (development, test, production)")
	root.PersistentFlags().StringVar(&f.dbDriver, "db-driver", "", "database driver (sqlite, sqlite3, postgres, mysql, none)")
	root.PersistentFlags().StringVar(&f.dsn, "dsn", "", "database source name")
	root.PersistentFlags().BoolVar(&f.verbose, "verbose-sql", false, "log every SQL statement")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the session controller and its control API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), &f)
		},
	}
	serveCmd.Flags().StringVar(&f.addr, "addr", "", "HTTP serve address")
	serveCmd.Flags().BoolVar(&f.migrate, "migrate", true, "create the store tables on startup")

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the waiting_users and signals tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := bootstrap.SetupDatabase(os.Stdout, &bootstrap.Options{AutoMigrate: true, Verbose: f.verbose})
			return err
		},
	}

	sweepCmd := &cobra.Command{
		Use:   "sweep",
		Short: "Delete stale waiting entries once and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := bootstrap.SetupDatabase(os.Stdout, &bootstrap.Options{Verbose: f.verbose})
			if err != nil {
				return err
			}
			st := store.NewGormStore(db, store.NopNotifier{}, store.WithLogger(logger.Named("store")))
			q := rendezvous.NewQueue(st, rendezvous.WithTTL(config.GlobalConfig.Rendezvous.WaitingTTL))
			n, err := q.SweepStale(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("removed %d stale waiting entries\n", n)
			return nil
		},
	}

	root.AddCommand(serveCmd, migrateCmd, sweepCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := root.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// setup loads configuration and the logger; command line flags win over env.
func setup(f *flags) error {
	if f.mode != "" {
		os.Setenv("MODE", f.mode)
	}
	if err := config.Load(); err != nil {
		return fmt.Errorf("config load failed: %w", err)
	}
	cfg := config.GlobalConfig
	if f.dbDriver != "" {
		cfg.DBDriver = f.dbDriver
	}
	if f.dsn != "" {
		cfg.DSN = f.dsn
	}
	if f.addr != "" {
		cfg.Addr = f.addr
	}
	if !strings.Contains(cfg.Addr, ":") {
		cfg.Addr = ":" + cfg.Addr
	}
	return logger.Init(&cfg.Log, cfg.Mode)
}

func serve(ctx context.Context, f *flags) error {
	cfg := config.GlobalConfig
	if err := bootstrap.PrintBannerFromFile("banner.txt", cfg.ServerName); err != nil {
		log.Printf("unload banner: %v", err)
	}
	bootstrap.LogConfigInfo()

	m := metrics.New(prometheus.DefaultRegisterer)

	// a nil store leaves the controller in config_required on start
	var st store.Store
	var notifier store.Notifier
	db, err := bootstrap.SetupDatabase(os.Stdout, &bootstrap.Options{AutoMigrate: f.migrate, Verbose: f.verbose})
	switch {
	case errors.Is(err, store.ErrNotConfigured):
		logger.Warn("no store configured, matchmaking is disabled")
	case err != nil:
		logger.Error("database setup failed", zap.Error(err))
	default:
		notifier = bootstrap.SetupNotifier(ctx)
		st = store.NewGormStore(db, notifier, store.WithLogger(logger.Named("store")))
	}

	var sweeper *rendezvous.Sweeper
	if st != nil {
		q := rendezvous.NewQueue(st,
			rendezvous.WithTTL(cfg.Rendezvous.WaitingTTL),
			rendezvous.WithQueueMetrics(m),
		)
		sweeper, err = rendezvous.NewSweeper(q, cfg.Rendezvous.SweepSchedule)
		if err != nil {
			return fmt.Errorf("sweeper: %w", err)
		}
		sweeper.Start()
	}

	opt := rtcmedia.DefaultWebRTCOption()
	if len(cfg.ICE.URLs) > 0 {
		opt.ICEServers = rtcmedia.ICEServersFromURLs(cfg.ICE.URLs, cfg.ICE.TURNUsername, cfg.ICE.TURNCredential)
	} else {
		opt.ICEServers = rtcmedia.DefaultICEServers(cfg.ICE.TURNUsername, cfg.ICE.TURNCredential)
	}

	ctrl := controller.New(st, rtcmedia.SyntheticSource{Option: opt}, controller.PionPeers(opt, logger.Named("peer")), controller.Options{
		WaitingTTL:         cfg.Rendezvous.WaitingTTL,
		MatchPollInterval:  cfg.Rendezvous.MatchPollInterval,
		SignalPollInterval: cfg.Rendezvous.SignalPollInterval,
		RetryDebounce:      cfg.Rendezvous.RetryDebounce,
		Constraints:        rtcmedia.Constraints{Video: cfg.Media.Video, Audio: cfg.Media.Audio},
		Logger:             logger.Named("controller"),
		Metrics:            m,
	})

	handlerOpts := []api.Option{api.WithLogger(logger.Named("api"))}
	if st != nil {
		handlerOpts = append(handlerOpts, api.WithHealthCheck(st.Ping))
	}
	if cfg.Mode == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := api.NewRouter(api.NewHandlers(ctrl, handlerOpts...))

	httpServer := &http.Server{
		Addr:           cfg.Addr,
		Handler:        router,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		IdleTimeout:    cfg.Server.IdleTimeout,
		MaxHeaderBytes: 1 << 20, // 1MB
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", cfg.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case runErr = <-errCh:
		if runErr != nil {
			logger.Error("HTTP server run failed", zap.Error(runErr))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)
	_ = ctrl.Close()
	if sweeper != nil {
		sweeper.Stop()
	}
	if notifier != nil {
		_ = notifier.Close()
	}
	if db != nil {
		if sqlDB, dbErr := db.DB(); dbErr == nil {
			_ = sqlDB.Close()
		}
	}
	return runErr
}
