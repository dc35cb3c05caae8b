package root

import (
	"tunnel-keeper/internal/config"
	"tunnel-keeper/internal/logger"

	"github.com/spf13/cobra"
)

var configFile string

var RootCmd = &cobra.Command{
	Use:   "tunnel-keeper",
	Short: "Cloudflare快速隧道的生命周期管理器",
	Long:  `tunnel-keeper为本机服务启动、续期、停止cloudflared快速隧道，捕获公网地址并在重启后恢复隧道记录`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if configFile == "" {
			return nil
		}
		if err := config.Use(configFile); err != nil {
			return err
		}
		// 日志在main中按默认配置初始化过，这里按指定的配置文件重建
		cfg := config.Get()
		logger.InitLoggerWithMode(&cfg.Log, cmd.Name() == "server")
		return nil
	},
	SilenceUsage: true,
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Config file (default searches ./config.yaml, <dataDir>/config.yaml, /etc/tunnel-keeper/config.yaml)")
}
