package env

import (
	"os"
	"path/filepath"
)

// (default: %USERPROFILE%/.tunnel-keeper on Windows, $HOME/.tunnel-keeper on Linux)
var KeeperDir string = GetKeeperDir()

/**
 * Get tunnel-keeper data directory path
 * @returns {string} Returns data directory path
 * @description
 * - TUNNEL_KEEPER_HOME overrides the default location
 * - Falls back to ./data when the home directory cannot be resolved
 */
func GetKeeperDir() string {
	if dir := os.Getenv("TUNNEL_KEEPER_HOME"); dir != "" {
		return dir
	}
	homeDir, err := os.UserHomeDir()
	if err != nil || homeDir == "" {
		return "data"
	}
	return filepath.Join(homeDir, ".tunnel-keeper")
}

// RunDir 存放unix socket的目录
func RunDir() string {
	return filepath.Join(KeeperDir, "run")
}

// LogsDir 日志目录
func LogsDir() string {
	return filepath.Join(KeeperDir, "logs")
}

// Version 运行中的版本号，构建时由cmd注入
var Version = "dev"
