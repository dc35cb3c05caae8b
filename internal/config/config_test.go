package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"tunnel-keeper/internal/env"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	file := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(file, []byte(content), 0644); err != nil {
		t.Fatalf("写配置文件失败: %v", err)
	}
	return file
}

func TestLoadDefaults(t *testing.T) {
	oldDir := env.KeeperDir
	env.KeeperDir = t.TempDir()
	defer func() { env.KeeperDir = oldDir }()
	t.Setenv(EnvLocalIP, "")
	t.Setenv(EnvPort, "")

	cfg, _, err := Load("")
	if err != nil {
		t.Fatalf("没有配置文件时应使用默认值: %v", err)
	}
	if cfg.Server.Address != ":5001" || cfg.Server.Socket != "tunnel-keeper.sock" {
		t.Errorf("server默认值错误: %+v", cfg.Server)
	}
	if cfg.Tunnel.Command != DefaultAgent || cfg.Tunnel.DefaultDurationHours != 48 {
		t.Errorf("tunnel默认值错误: %+v", cfg.Tunnel)
	}
	if cfg.Tunnel.CaptureTimeout != 35*time.Second || cfg.Tunnel.FallbackLines != 20 {
		t.Errorf("capture默认值错误: %v %d", cfg.Tunnel.CaptureTimeout, cfg.Tunnel.FallbackLines)
	}
	if cfg.Tunnel.SweepInterval != 30*time.Second || cfg.Tunnel.SweepTolerance != time.Minute {
		t.Errorf("sweep默认值错误: %v %v", cfg.Tunnel.SweepInterval, cfg.Tunnel.SweepTolerance)
	}
	if len(cfg.Tunnel.Args) == 0 || cfg.Tunnel.Args[0] != "tunnel" {
		t.Errorf("args默认值错误: %v", cfg.Tunnel.Args)
	}
	if cfg.State.Redis.Addr != "" || !cfg.Metrics.Enabled || cfg.Metrics.Path != "/metrics" {
		t.Errorf("state/metrics默认值错误: %+v %+v", cfg.State, cfg.Metrics)
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	file := writeConfig(t, `
server:
  address: "127.0.0.1:6000"
  socket: ""
tunnel:
  default_duration_hours: 12
  capture_timeout: 10s
  args: ["tunnel", "--url", "{{.LocalURL}}"]
state:
  redis:
    addr: "localhost:6379"
`)
	t.Setenv(EnvLocalIP, "192.168.1.20")
	t.Setenv(EnvPort, "")
	t.Setenv("TUNNEL_KEEPER_TUNNEL_FALLBACK_LINES", "5")

	cfg, v, err := Load(file)
	if err != nil {
		t.Fatalf("加载配置失败: %v", err)
	}
	if v.ConfigFileUsed() != file {
		t.Errorf("ConfigFileUsed = %s", v.ConfigFileUsed())
	}
	if cfg.Server.Address != "127.0.0.1:6000" || cfg.Server.Socket != "" {
		t.Errorf("server配置错误: %+v", cfg.Server)
	}
	if cfg.Tunnel.DefaultDurationHours != 12 || cfg.Tunnel.CaptureTimeout != 10*time.Second {
		t.Errorf("tunnel配置错误: %+v", cfg.Tunnel)
	}
	if !reflect.DeepEqual(cfg.Tunnel.Args, []string{"tunnel", "--url", "{{.LocalURL}}"}) {
		t.Errorf("args错误: %v", cfg.Tunnel.Args)
	}
	if cfg.Tunnel.FallbackLines != 5 {
		t.Errorf("环境变量未生效: fallback_lines=%d", cfg.Tunnel.FallbackLines)
	}
	if cfg.Tunnel.LocalIP != "192.168.1.20" {
		t.Errorf("LOCAL_IP未生效: %s", cfg.Tunnel.LocalIP)
	}
	if cfg.State.Redis.Addr != "localhost:6379" || cfg.State.Redis.Key != "tunnel-keeper:state" {
		t.Errorf("redis配置错误: %+v", cfg.State.Redis)
	}
}

func TestPortOverride(t *testing.T) {
	cases := []struct {
		address string
		port    string
		want    string
	}{
		{":5001", "7001", ":7001"},
		{"127.0.0.1:5001", "7002", "127.0.0.1:7002"},
		{":5001", "not-a-port", ":5001"},
		{":5001", "70000", ":5001"},
	}
	for _, c := range cases {
		t.Setenv(EnvPort, c.port)
		t.Setenv(EnvLocalIP, "")
		cfg := &AppConfig{Server: ServerConfig{Address: c.address}}
		applyEnvOverrides(cfg)
		if cfg.Server.Address != c.want {
			t.Errorf("address=%s port=%s: got %s, want %s", c.address, c.port, cfg.Server.Address, c.want)
		}
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	if _, _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("显式指定的配置文件不存在时应报错")
	}
}

func TestUseAndReload(t *testing.T) {
	saved := Get()
	mu.RLock()
	savedViper := current
	mu.RUnlock()
	defer func() {
		mu.Lock()
		Config = saved
		current = savedViper
		mu.Unlock()
	}()
	t.Setenv(EnvPort, "")

	file := writeConfig(t, "log:\n  level: debug\n")
	if err := Use(file); err != nil {
		t.Fatalf("Use失败: %v", err)
	}
	if Get().Log.Level != "debug" {
		t.Errorf("log.level = %s", Get().Log.Level)
	}

	if err := os.WriteFile(file, []byte("log:\n  level: warn\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := ReloadConfig(); err != nil {
		t.Fatalf("ReloadConfig失败: %v", err)
	}
	if Get().Log.Level != "warn" {
		t.Errorf("重新加载后log.level = %s", Get().Log.Level)
	}

	// 加载失败时保留原配置
	if err := Use(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Use不存在的文件应报错")
	}
	if Get().Log.Level != "warn" {
		t.Errorf("加载失败后配置被修改: %s", Get().Log.Level)
	}
}
