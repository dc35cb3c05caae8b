package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"tunnel-keeper/cmd/root"
	"tunnel-keeper/controllers"
	_ "tunnel-keeper/docs"
	"tunnel-keeper/internal/config"
	"tunnel-keeper/internal/env"
	"tunnel-keeper/internal/logger"
	"tunnel-keeper/internal/middleware"
	"tunnel-keeper/services"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
)

const httpShutdownTimeout = 10 * time.Second

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "启动隧道管理服务",
	Long:  `启动HTTP管理服务：恢复上次保存的隧道记录，启动过期巡检，监听TCP端口和unix socket`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return startServer(ctx)
	},
}

/**
 * Run the management server until ctx is cancelled
 * @param {context.Context} ctx - cancelled on SIGINT/SIGTERM
 * @returns {error} listener failure, nil on a signal initiated shutdown
 * @description
 * - Shutdown order: stop accepting HTTP, then stop every tunnel and join the sweeper
 * - Config file changes re-apply the log level
 */
func startServer(ctx context.Context) error {
	cfg := config.Get()
	if cfg.Server.Mode != "" {
		gin.SetMode(cfg.Server.Mode)
	}

	server, err := services.NewServerFromConfig(ctx, &cfg)
	if err != nil {
		return fmt.Errorf("初始化服务失败: %w", err)
	}

	router := gin.New()
	router.Use(gin.Recovery(),
		middleware.RequestID(),
		middleware.AccessLog(logger.Named("http")),
		middleware.MetricsMiddleware())
	controllers.NewAPIController(server).RegisterRoutes(router, cfg.Metrics)

	addrs := []ListenAddr{{Network: "tcp", Address: cfg.Server.Address}}
	socketPath := ""
	if cfg.Server.Socket != "" && IsUnixSocketSupported() {
		socketPath = filepath.Join(env.RunDir(), cfg.Server.Socket)
		addrs = append(addrs, ListenAddr{Network: "unix", Address: socketPath})
	}
	listeners, err := CreateListeners(addrs)
	if len(listeners) == 0 {
		return fmt.Errorf("没有可用的监听地址: %w", err)
	}

	server.Start(ctx)
	config.WatchConfig(server.ApplyConfig)

	httpSrv := &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, len(listeners))
	for _, l := range listeners {
		l := l
		go func() {
			if err := httpSrv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()
	}

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case serveErr = <-errCh:
		logger.Errorf("HTTP server failed: %v", serveErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("HTTP server shutdown: %v", err)
	}
	server.Shutdown(shutdownCtx)
	if socketPath != "" {
		os.Remove(socketPath)
	}
	logger.Info("tunnel-keeper stopped")
	logger.Sync()
	return serveErr
}

func init() {
	root.RootCmd.AddCommand(serverCmd)
}
