package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dropwatch/internal/api"
	"dropwatch/internal/ingest"
	"dropwatch/internal/metrics"
	"dropwatch/internal/middleware"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Validate credentials and watch the folder until interrupted",
		Long: `run performs a one-shot credential probe (write and delete a throwaway object),
then processes the watched folder every monitoring-delay seconds until SIGINT or SIGTERM.

When http-addr is configured a status server exposes /healthz, /metrics and /ingests.`,
		RunE: runWatch,
	}
}

func runWatch(cmd *cobra.Command, args []string) error {
	a, err := setup()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.probe(ctx); err != nil {
		a.logger.Error("存储凭据校验失败，退出", "error", err)
		return err
	}

	svc, cleanup, err := a.openJournal(ctx)
	if err != nil {
		a.logger.Error("初始化上传日志失败，退出", "error", err)
		return err
	}
	defer cleanup()

	cycle := a.newCycle(svc, metrics.NewIngest(nil))

	g, gctx := errgroup.WithContext(ctx)

	var wake <-chan struct{}
	if a.cfg.WatchNotify {
		notifier := ingest.NewNotifier(a.cfg.Root, a.cfg.WatchExtension, a.logger)
		wake = notifier.Wake()
		g.Go(func() error {
			if err := notifier.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				// 文件事件只是加速手段，失败后仍按间隔轮询
				a.logger.Warn("文件事件监听退出，继续按间隔轮询", "error", err)
			}
			return nil
		})
	}

	loop := ingest.NewLoop(cycle, a.cfg.MonitoringDelay, wake, a.logger)
	g.Go(func() error {
		if err := loop.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	if a.cfg.HTTPAddr != "" {
		srv := &http.Server{
			Addr:         a.cfg.HTTPAddr,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  120 * time.Second,
			Handler:      api.NewRouter(a.cfg, api.NewIngestHandler(svc), middleware.NewHTTPMetrics(nil)),
		}

		g.Go(func() error {
			a.logger.Info("状态接口监听", "addr", a.cfg.HTTPAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				a.logger.Warn("状态接口优雅关闭失败", "error", err)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		a.logger.Error("服务异常退出", "error", err)
		return err
	}

	a.logger.Info("服务已停止")
	return nil
}
