package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"cdpmock/internal/cdp"
	"cdpmock/internal/config"
	"cdpmock/internal/handler"
	"cdpmock/internal/logger"
	"cdpmock/internal/rules"
	"cdpmock/internal/service"
	"cdpmock/internal/session"
	"cdpmock/internal/storage"
	"cdpmock/internal/web"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Connect to the browser, intercept paused requests and serve the control API",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	return config.Load(path)
}

func newLogger(cfg *config.Config) (logger.Logger, func() error, error) {
	return logger.New(logger.Options{
		Level:      cfg.Log.Level,
		Writers:    cfg.Log.Writer,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
	})
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	log, closeLog, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer closeLog()

	store, err := storage.Open(cfg.Sqlite.Dsn, cfg.Sqlite.Prefix, log)
	if err != nil {
		return err
	}
	defer store.Close()

	dbg := cdp.New(cfg.DevTools.URL, log)
	defer dbg.Close()

	sessions := session.NewManager(session.Options{
		Debugger: dbg,
		Store:    store,
		Patterns: cfg.Intercept.URLPatterns,
		Logger:   log,
	})
	svc := service.New(service.Options{Store: store, Sessions: sessions, Logger: log})

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := svc.Load(ctx); err != nil {
		return err
	}

	engine := handler.New(handler.Config{
		Debugger:         dbg,
		Rules:            svc,
		Sessions:         sessions,
		Matcher:          rules.NewMatcher(cfg.Intercept.RegexCacheSize, log),
		Events:           svc.EventSink(),
		Concurrency:      cfg.Intercept.Concurrency,
		ProcessTimeoutMS: cfg.Intercept.ProcessTimeoutMS,
		Logger:           log,
	})
	srv, err := web.NewServer(cfg.Web.ListenAddr, svc, log)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return engine.Run(gctx) })
	g.Go(func() error { return svc.RunEvents(gctx) })
	g.Go(srv.Start)
	g.Go(func() error {
		<-gctx.Done()
		return srv.Stop()
	})

	log.Info("cdpmock 已启动", "version", Version, "devtools", cfg.DevTools.URL, "listen", cfg.Web.ListenAddr)
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Err(err, "服务异常退出")
		return err
	}
	log.Info("cdpmock 已停止")
	return nil
}
