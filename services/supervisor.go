package services

import (
	"context"
	"fmt"
	"os/exec"
	"sync"
	"time"

	"tunnel-keeper/internal/config"
	"tunnel-keeper/internal/logger"
	"tunnel-keeper/internal/models"
	"tunnel-keeper/internal/proc"
	"tunnel-keeper/internal/utils"
)

const versionCheckTimeout = 10 * time.Second

// TunnelTarget 启动一个隧道进程所需的信息
type TunnelTarget struct {
	ServiceName string
	LocalIP     string
	Port        int
	LocalURL    string
	OnExit      func() // 进程自行退出或被停止后调用，在任何锁之外执行
}

// ProcessHandle 运行中的隧道进程，由注册表独占持有
type ProcessHandle interface {
	Pid() int
	Primary() LineSource
	Secondary() LineSource
}

/**
 * Supervisor 隧道进程的启动、停止和存活判断
 * @description
 * - IsAlive 是进程存活的唯一判断，查询、巡检、续期都经过它
 * - Stop 对nil或已退出的句柄返回nil
 */
type Supervisor interface {
	Start(ctx context.Context, target TunnelTarget) (ProcessHandle, error)
	Stop(h ProcessHandle, reason string) error
	IsAlive(h ProcessHandle) bool
}

// 可选能力，由ProcessSupervisor实现，测试替身可以不实现
type orphanKiller interface {
	KillOrphans() (int, error)
}

type agentInspector interface {
	AgentProcesses() ([]models.OSProcess, error)
	AgentVersion(ctx context.Context) (string, error)
}

type handleDetailer interface {
	Detail() models.ProcessDetail
}

type agentHandle struct {
	pi *proc.ProcessInstance
}

func (h *agentHandle) Pid() int { return h.pi.Pid() }

// cloudflared把日志写到stderr，所以stderr是主流
func (h *agentHandle) Primary() LineSource   { return h.pi.Stderr() }
func (h *agentHandle) Secondary() LineSource { return h.pi.Stdout() }

func (h *agentHandle) Detail() models.ProcessDetail { return h.pi.GetDetail() }

/**
 * ProcessSupervisor 通过子进程运行隧道代理(cloudflared)
 * @property {config.TunnelConfig} cfg - 命令模板、停止等待时间等
 */
type ProcessSupervisor struct {
	cfg         config.TunnelConfig
	log         logger.Logger
	versionOnce sync.Once
}

func NewProcessSupervisor(cfg config.TunnelConfig, log logger.Logger) *ProcessSupervisor {
	if log == nil {
		log = logger.Nop()
	}
	if cfg.Command == "" {
		cfg.Command = config.DefaultAgent
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = config.DefaultGracePeriod
	}
	if cfg.KillWait <= 0 {
		cfg.KillWait = config.DefaultKillWait
	}
	return &ProcessSupervisor{cfg: cfg, log: log}
}

// ProcessName 代理进程在进程列表中的名字
func (s *ProcessSupervisor) ProcessName() string {
	return utils.Path2ProcessName(s.cfg.Command)
}

/**
 * Start the agent process for a tunnel target
 * @param {context.Context} ctx - a cancelled ctx refuses to spawn
 * @param {TunnelTarget} target - service name and local target
 * @returns {ProcessHandle} handle owning the process and its output streams
 * @returns {error} SpawnError when the command cannot be rendered, found or started
 * @description
 * - The command line is rendered from tunnel.command/tunnel.args templates
 * - The agent version is checked once per supervisor, a low version only warns
 */
func (s *ProcessSupervisor) Start(ctx context.Context, target TunnelTarget) (ProcessHandle, error) {
	command, args, err := utils.GetCommandLine(s.cfg.Command, s.cfg.Args, utils.TunnelArgs{
		ServiceName: target.ServiceName,
		LocalIP:     target.LocalIP,
		Port:        target.Port,
		LocalURL:    target.LocalURL,
	})
	if err != nil {
		return nil, newTunnelError(KindSpawn, target.ServiceName, err)
	}
	path, err := exec.LookPath(command)
	if err != nil {
		return nil, newTunnelError(KindSpawn, target.ServiceName, fmt.Errorf("agent executable '%s' not found: %w", command, err))
	}
	// 版本检查只做一次，不跟随第一个请求的ctx
	s.versionOnce.Do(func() {
		vctx, cancel := context.WithTimeout(context.Background(), versionCheckTimeout)
		defer cancel()
		s.checkVersion(vctx)
	})

	title := fmt.Sprintf("%s -> %s", target.ServiceName, target.LocalURL)
	pi := proc.NewProcessInstance(title, s.ProcessName(), path, args)
	pi.SetTailSize(s.cfg.TailLines)
	if target.OnExit != nil {
		onExit := target.OnExit
		pi.SetWatcher(func(*proc.ProcessInstance) { onExit() })
	}
	if err := pi.StartProcess(ctx); err != nil {
		return nil, newTunnelError(KindSpawn, target.ServiceName, err)
	}
	s.log.Info("tunnel agent started",
		logger.String("service", target.ServiceName),
		logger.String("target", target.LocalURL),
		logger.Int("pid", pi.Pid()))
	return &agentHandle{pi: pi}, nil
}

/**
 * Stop the agent process, terminate first then kill
 * @param {ProcessHandle} h - handle returned by Start
 * @param {string} reason - logged only
 * @returns {error} TerminationTimeout when exit cannot be confirmed
 */
func (s *ProcessSupervisor) Stop(h ProcessHandle, reason string) error {
	ah, ok := h.(*agentHandle)
	if !ok || ah == nil {
		return nil
	}
	s.log.Info("stopping tunnel agent", logger.String("title", ah.pi.Title), logger.Int("pid", ah.pi.Pid()), logger.String("reason", reason))
	if err := ah.pi.StopProcess(s.cfg.GracePeriod, s.cfg.KillWait); err != nil {
		return newTunnelError(KindTerminationTimeout, ah.pi.Title, err)
	}
	return nil
}

func (s *ProcessSupervisor) IsAlive(h ProcessHandle) bool {
	ah, ok := h.(*agentHandle)
	return ok && ah != nil && ah.pi.IsAlive()
}

// KillOrphans 杀死残留的快速隧道进程(例如上次异常退出留下的)，系统服务实例不受影响
func (s *ProcessSupervisor) KillOrphans() (int, error) {
	return utils.KillProcessesMatching(s.ProcessName(), "--url")
}

func (s *ProcessSupervisor) AgentProcesses() ([]models.OSProcess, error) {
	return utils.ListProcesses(s.ProcessName())
}

func (s *ProcessSupervisor) AgentVersion(ctx context.Context) (string, error) {
	ver, err := utils.AgentVersion(ctx, s.cfg.Command)
	if err != nil {
		return "", err
	}
	return ver.String(), nil
}

func (s *ProcessSupervisor) checkVersion(ctx context.Context) {
	ver, err := utils.AgentVersion(ctx, s.cfg.Command)
	if err != nil {
		s.log.Warn("unable to determine agent version", logger.Err(err))
		return
	}
	ok, err := utils.VersionAtLeast(ver, s.cfg.MinAgentVersion)
	if err != nil {
		s.log.Warn("invalid tunnel.min_agent_version", logger.String("min", s.cfg.MinAgentVersion), logger.Err(err))
		return
	}
	if !ok {
		s.log.Warn("agent version is older than the supported minimum",
			logger.String("version", ver.String()), logger.String("min", s.cfg.MinAgentVersion))
	}
}
