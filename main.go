package main

import (
	"context"
	"os"

	_ "tunnel-keeper/cmd"
	"tunnel-keeper/cmd/root"
	"tunnel-keeper/internal/config"
	"tunnel-keeper/internal/logger"
)

func main() {
	// 检查是否是服务器模式
	isServerMode := len(os.Args) > 1 && os.Args[1] == "server"

	// 根据运行模式初始化日志系统
	cfg := config.Get()
	logger.InitLoggerWithMode(&cfg.Log, isServerMode)

	if err := root.RootCmd.ExecuteContext(context.Background()); err != nil {
		logger.Sync()
		os.Exit(1)
	}
	logger.Sync()
	os.Exit(0)
}
