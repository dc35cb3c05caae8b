package services

import (
	"context"
	"time"

	"tunnel-keeper/internal/config"
	"tunnel-keeper/internal/env"
	"tunnel-keeper/internal/logger"
	"tunnel-keeper/internal/models"
	"tunnel-keeper/internal/utils"
)

/**
 * Server 管理服务的门面，控制器通过它访问注册表和周边组件
 * @property {*TunnelManager} tunnels - 隧道注册表
 * @property {ServiceLister} lister - 宿主机服务列表
 * @property {*EventHub} events - 生命周期事件
 */
type Server struct {
	cfg       *config.AppConfig
	tunnels   *TunnelManager
	lister    ServiceLister
	events    *EventHub
	startTime time.Time
	closers   []func() error
}

/**
 * Create new server facade
 * @param {*config.AppConfig} cfg - Application configuration
 * @param {*TunnelManager} tm - tunnel registry
 * @param {ServiceLister} lister - host service lister, may be nil
 * @param {*EventHub} events - event hub shared with the registry
 * @returns {*Server} server facade
 */
func NewServer(cfg *config.AppConfig, tm *TunnelManager, lister ServiceLister, events *EventHub) *Server {
	return &Server{
		cfg:       cfg,
		tunnels:   tm,
		lister:    lister,
		events:    events,
		startTime: time.Now(),
	}
}

/**
 * Build the whole tunnel stack from configuration
 * @param {context.Context} ctx - bounds the redis connection attempts
 * @param {*config.AppConfig} cfg - Application configuration
 * @returns {*Server} server with registry, supervisor, stores, backend and event hub wired
 * @returns {error} never fatal today, a redis failure only disables the mirror
 * @description
 * - State goes to the JSON file, mirrored to redis when state.redis.addr is set
 * - The named tunnel backend watches config.yml for external edits
 */
func NewServerFromConfig(ctx context.Context, cfg *config.AppConfig) (*Server, error) {
	localIP := utils.ResolveLocalIP(ctx, cfg.Tunnel.LocalIP)
	events := NewEventHub(0)

	var closers []func() error
	fileStore := NewFileStateStore(cfg.State.Path)
	var store StateStore = fileStore
	if cfg.State.Redis.Addr != "" {
		client, err := ConnectRedis(ctx, cfg.State.Redis, logger.Named("redis"))
		if err != nil {
			logger.Warnf("Redis state mirror disabled: %v", err)
		} else {
			rs := NewRedisStateStore(client, cfg.State.Redis.Key)
			store = NewMirroredStateStore(fileStore, logger.Named("state"), rs)
			closers = append(closers, rs.Close)
		}
	}

	backend := NewNamedTunnelBackend(cfg.Named, logger.Named("named"))
	if err := backend.Watch(ctx); err != nil {
		logger.Warnf("Watch cloudflared config failed: %v", err)
	}

	tm := NewTunnelManager(ManagerOptions{
		Supervisor:      NewProcessSupervisor(cfg.Tunnel, logger.Named("supervisor")),
		Scanner:         NewScanner(cfg.Tunnel.CaptureTimeout, cfg.Tunnel.FallbackLines, logger.Named("scanner")),
		Store:           store,
		Backend:         backend,
		Events:          events,
		LocalIP:         localIP,
		DefaultDuration: time.Duration(cfg.Tunnel.DefaultDurationHours * float64(time.Hour)),
		SweepInterval:   cfg.Tunnel.SweepInterval,
		SweepTolerance:  cfg.Tunnel.SweepTolerance,
		ShutdownWait:    cfg.Tunnel.ShutdownWait,
		KillOrphans:     cfg.Tunnel.KillOrphans,
		Logger:          logger.Named("registry"),
	})
	s := NewServer(cfg, tm, NewDockerServiceLister(logger.Named("docker")), events)
	s.closers = closers
	logger.Infof("Tunnel manager ready, local IP: %s, state: %s", localIP, cfg.State.Path)
	return s, nil
}

func (s *Server) Tunnels() *TunnelManager {
	return s.tunnels
}

func (s *Server) Events() *EventHub {
	return s.events
}

// Start 恢复状态并启动巡检
func (s *Server) Start(ctx context.Context) {
	s.tunnels.Start(ctx)
}

/**
 * Stop every tunnel and release resources
 * @param {context.Context} ctx - passed to the registry shutdown
 * @description
 * - Event subscribers are closed after the final stop events were published
 */
func (s *Server) Shutdown(ctx context.Context) {
	s.tunnels.Shutdown(ctx)
	if s.events != nil {
		s.events.Close()
	}
	for _, c := range s.closers {
		if err := c(); err != nil {
			logger.Warnf("Close resource failed: %v", err)
		}
	}
}

func (s *Server) Services(ctx context.Context) []models.HostService {
	if s.lister == nil {
		return []models.HostService{}
	}
	return s.lister.List(ctx)
}

func (s *Server) namedStatus(ctx context.Context) models.NamedTunnelStatus {
	if b := s.tunnels.Backend(); b != nil {
		return b.Status(ctx)
	}
	return models.NamedTunnelStatus{ConfigPath: s.cfg.Named.ConfigPath, Hostnames: []string{}}
}

/**
 * Collect the status page: services, tunnels, local address, named tunnel status
 * @param {context.Context} ctx - request context
 * @returns {models.StatusResponse} status response
 */
func (s *Server) GetStatus(ctx context.Context) models.StatusResponse {
	tunnels := s.tunnels.Snapshot(ctx)
	running := 0
	for _, t := range tunnels {
		if t.IsRunning {
			running++
		}
	}
	named := s.namedStatus(ctx)
	return models.StatusResponse{
		Services:                   s.Services(ctx),
		ActiveTunnels:              tunnels,
		ActiveTunnelsCount:         running,
		LocalIP:                    s.tunnels.LocalIP(),
		DefaultTunnelDurationHours: s.tunnels.DefaultDurationHours(),
		NamedTunnelStatus:          named,
		SudoAvailable:              named.SudoAvailable,
		AdminRequired:              named.AdminRequired,
	}
}

/**
* Get server health check information
* @returns {models.HealthResponse} Returns health check response
* @description
* - Calculates server uptime from start time
* - Collects tunnel statistics from the registry
* - Request totals come from the request metrics middleware
 */
func (s *Server) GetHealthz(ctx context.Context) models.HealthResponse {
	uptime := time.Since(s.startTime)
	total, running, persistent := s.tunnels.Counts(ctx)
	return models.HealthResponse{
		Version:   env.Version,
		StartTime: s.startTime.Format(time.RFC3339),
		Status:    "UP",
		Uptime:    uptime.Truncate(time.Second).String(),
		Metrics: models.Metrics{
			TotalRequests:     GetTotalRequestCount(),
			ErrorRequests:     GetTotalErrorCount(),
			TotalTunnels:      total,
			RunningTunnels:    running,
			PersistentTunnels: persistent,
		},
	}
}

// ApplyConfig 配置热加载后生效的部分(目前只有日志级别)
func (s *Server) ApplyConfig(cfg *config.AppConfig) {
	logger.SetLevel(cfg.Log.Level)
	logger.Infof("Configuration reloaded, log level: %s", cfg.Log.Level)
}
