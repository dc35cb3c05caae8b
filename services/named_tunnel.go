package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"tunnel-keeper/internal/config"
	"tunnel-keeper/internal/logger"
	"tunnel-keeper/internal/models"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

const catchAllService = "http_status:404"

/**
 * PersistentBackend 持久隧道的发布方
 * @description
 * - 持久隧道没有本服务拥有的进程，存活状态由发布方判断
 */
type PersistentBackend interface {
	Publish(ctx context.Context, domain, target string) error
	Teardown(ctx context.Context, domain string) error
	IsAlive(ctx context.Context, domain string) bool
	Status(ctx context.Context) models.NamedTunnelStatus
}

// IngressRule cloudflared config.yml中的一条ingress规则
type IngressRule struct {
	Hostname      string                 `yaml:"hostname,omitempty"`
	Path          string                 `yaml:"path,omitempty"`
	Service       string                 `yaml:"service"`
	OriginRequest map[string]interface{} `yaml:"originRequest,omitempty"`
}

// CloudflaredConfig 只解析需要修改的字段，其余字段原样保留
type CloudflaredConfig struct {
	Tunnel          string                 `yaml:"tunnel,omitempty"`
	CredentialsFile string                 `yaml:"credentials-file,omitempty"`
	Ingress         []IngressRule          `yaml:"ingress"`
	Extra           map[string]interface{} `yaml:",inline"`
}

// Hostnames 配置中的全部主机名，不含兜底规则
func (c *CloudflaredConfig) Hostnames() []string {
	var out []string
	for _, r := range c.Ingress {
		if r.Hostname != "" {
			out = append(out, r.Hostname)
		}
	}
	return out
}

/**
 * Insert or replace the rule for a hostname
 * @param {string} hostname - public hostname
 * @param {string} service - local target, e.g. http://192.168.1.10:3000
 * @returns {bool} true when the config changed
 */
func (c *CloudflaredConfig) UpsertRule(hostname, service string) bool {
	for i, r := range c.Ingress {
		if r.Hostname == hostname {
			if r.Service == service {
				return false
			}
			c.Ingress[i].Service = service
			return true
		}
	}
	c.Ingress = append(c.Ingress, IngressRule{Hostname: hostname, Service: service})
	c.normalize()
	return true
}

func (c *CloudflaredConfig) RemoveRule(hostname string) bool {
	kept := c.Ingress[:0]
	removed := false
	for _, r := range c.Ingress {
		if r.Hostname == hostname {
			removed = true
			continue
		}
		kept = append(kept, r)
	}
	c.Ingress = kept
	c.normalize()
	return removed
}

// normalize 兜底规则必须是最后一条，cloudflared否则拒绝启动
func (c *CloudflaredConfig) normalize() {
	rules := make([]IngressRule, 0, len(c.Ingress)+1)
	var catchAll *IngressRule
	for i, r := range c.Ingress {
		if r.Hostname == "" && r.Path == "" {
			if catchAll == nil {
				catchAll = &c.Ingress[i]
			}
			continue
		}
		rules = append(rules, r)
	}
	if catchAll != nil {
		rules = append(rules, *catchAll)
	} else {
		rules = append(rules, IngressRule{Service: catchAllService})
	}
	c.Ingress = rules
}

// CommandRunner 执行外部命令，测试时替换
type CommandRunner func(ctx context.Context, name string, args ...string) error

func execRunner(ctx context.Context, name string, args ...string) error {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return nil
}

/**
 * NamedTunnelBackend 通过cloudflared系统服务发布持久隧道
 * @property {string} configPath - cloudflared config.yml
 * @property {string} backupDir - 每次修改前的备份目录
 * @property {string} unit - systemd服务名
 * @description
 * - 修改ingress后重启服务使其生效
 * - 非root且允许sudo时命令前加 sudo -n
 */
type NamedTunnelBackend struct {
	configPath string
	backupDir  string
	unit       string
	useSudo    bool
	run        CommandRunner
	isRoot     func() bool
	now        func() time.Time
	log        logger.Logger

	mu     sync.Mutex
	cached *CloudflaredConfig
}

func NewNamedTunnelBackend(cfg config.NamedConfig, log logger.Logger) *NamedTunnelBackend {
	if log == nil {
		log = logger.Nop()
	}
	return &NamedTunnelBackend{
		configPath: cfg.ConfigPath,
		backupDir:  cfg.BackupDir,
		unit:       cfg.Unit,
		useSudo:    cfg.UseSudo,
		run:        execRunner,
		isRoot:     func() bool { return os.Geteuid() == 0 },
		now:        time.Now,
		log:        log,
	}
}

// SetRunner 替换命令执行方式
func (b *NamedTunnelBackend) SetRunner(run CommandRunner) {
	b.run = run
}

func (b *NamedTunnelBackend) privileged(ctx context.Context, name string, args ...string) error {
	if !b.isRoot() && b.useSudo {
		return b.run(ctx, "sudo", append([]string{"-n", name}, args...)...)
	}
	return b.run(ctx, name, args...)
}

// load 读取配置文件，文件不存在时返回空配置
func (b *NamedTunnelBackend) load() (*CloudflaredConfig, error) {
	data, err := os.ReadFile(b.configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &CloudflaredConfig{}, nil
		}
		return nil, fmt.Errorf("read %s: %w", b.configPath, err)
	}
	var cfg CloudflaredConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", b.configPath, err)
	}
	return &cfg, nil
}

// backup 修改前保存一份带时间戳的副本
func (b *NamedTunnelBackend) backup() error {
	data, err := os.ReadFile(b.configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	if err := os.MkdirAll(b.backupDir, 0755); err != nil {
		return fmt.Errorf("create backup dir: %w", err)
	}
	name := fmt.Sprintf("config-%s.yml", b.now().Format("20060102-150405.000"))
	return os.WriteFile(filepath.Join(b.backupDir, name), data, 0644)
}

func (b *NamedTunnelBackend) write(ctx context.Context, cfg *CloudflaredConfig) error {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	enc.Close()

	err := os.WriteFile(b.configPath, buf.Bytes(), 0644)
	if err == nil || !errors.Is(err, os.ErrPermission) || b.isRoot() || !b.useSudo {
		return err
	}
	// /etc/cloudflared通常只有root可写
	cmd := exec.CommandContext(ctx, "sudo", "-n", "tee", b.configPath)
	cmd.Stdin = &buf
	if out, terr := cmd.CombinedOutput(); terr != nil {
		return fmt.Errorf("sudo tee %s: %w: %s", b.configPath, terr, strings.TrimSpace(string(out)))
	}
	return nil
}

/**
 * Apply one ingress change: backup, write, restart the service
 * @param {context.Context} ctx - bounds the restart command
 * @param {func(*CloudflaredConfig) bool} change - edits the config, returns false when nothing changed
 * @returns {error} read/parse/write/restart failure
 */
func (b *NamedTunnelBackend) update(ctx context.Context, change func(*CloudflaredConfig) bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	cfg, err := b.load()
	if err != nil {
		return err
	}
	if !change(cfg) {
		b.cached = cfg
		return nil
	}
	if err := b.backup(); err != nil {
		return fmt.Errorf("backup %s: %w", b.configPath, err)
	}
	if err := b.write(ctx, cfg); err != nil {
		return err
	}
	b.cached = cfg
	return b.Apply(ctx)
}

func (b *NamedTunnelBackend) Publish(ctx context.Context, domain, target string) error {
	err := b.update(ctx, func(cfg *CloudflaredConfig) bool {
		return cfg.UpsertRule(domain, target)
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", domain, err)
	}
	b.log.Info("persistent tunnel published", logger.String("domain", domain), logger.String("target", target))
	return nil
}

func (b *NamedTunnelBackend) Teardown(ctx context.Context, domain string) error {
	err := b.update(ctx, func(cfg *CloudflaredConfig) bool {
		return cfg.RemoveRule(domain)
	})
	if err != nil {
		return fmt.Errorf("teardown %s: %w", domain, err)
	}
	b.log.Info("persistent tunnel removed", logger.String("domain", domain))
	return nil
}

// Apply 重启系统服务使配置生效
func (b *NamedTunnelBackend) Apply(ctx context.Context) error {
	if b.unit == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	return b.privileged(ctx, "systemctl", "restart", b.unit)
}

func (b *NamedTunnelBackend) serviceActive(ctx context.Context) bool {
	if b.unit == "" {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return b.run(ctx, "systemctl", "is-active", "--quiet", b.unit) == nil
}

func (b *NamedTunnelBackend) sudoAvailable(ctx context.Context) bool {
	if b.isRoot() {
		return true
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return b.run(ctx, "sudo", "-n", "true") == nil
}

func (b *NamedTunnelBackend) current() (*CloudflaredConfig, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cached != nil {
		return b.cached, nil
	}
	cfg, err := b.load()
	if err != nil {
		return nil, err
	}
	b.cached = cfg
	return cfg, nil
}

func (b *NamedTunnelBackend) IsAlive(ctx context.Context, domain string) bool {
	cfg, err := b.current()
	if err != nil {
		return false
	}
	found := false
	for _, h := range cfg.Hostnames() {
		if h == domain {
			found = true
			break
		}
	}
	return found && b.serviceActive(ctx)
}

func (b *NamedTunnelBackend) Status(ctx context.Context) models.NamedTunnelStatus {
	st := models.NamedTunnelStatus{
		ConfigPath: b.configPath,
		Hostnames:  []string{},
	}
	cfg, err := b.current()
	if err != nil {
		st.Error = err.Error()
	} else {
		st.Configured = cfg.Tunnel != ""
		st.TunnelName = cfg.Tunnel
		if hosts := cfg.Hostnames(); hosts != nil {
			st.Hostnames = hosts
		}
	}
	st.ServiceActive = b.serviceActive(ctx)
	st.SudoAvailable = b.sudoAvailable(ctx)
	st.AdminRequired = !b.isRoot() && !st.SudoAvailable
	return st
}

// Reload 丢弃缓存，重新读取配置文件
func (b *NamedTunnelBackend) Reload() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	cfg, err := b.load()
	if err != nil {
		return err
	}
	b.cached = cfg
	return nil
}

/**
 * Watch config.yml for external edits and reload the cached ingress
 * @param {context.Context} ctx - watching stops when ctx is done
 * @returns {error} when the watcher cannot be created
 * @description
 * - The directory is watched, editors usually replace the file
 * - Reloads are debounced by 500ms
 */
func (b *NamedTunnelBackend) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	dir := filepath.Dir(b.configPath)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	go func() {
		defer watcher.Close()
		var debounce *time.Timer
		for {
			select {
			case <-ctx.Done():
				if debounce != nil {
					debounce.Stop()
				}
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != filepath.Clean(b.configPath) {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) && !ev.Has(fsnotify.Remove) {
					continue
				}
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(500*time.Millisecond, func() {
					if err := b.Reload(); err != nil {
						b.log.Warn("reload cloudflared config failed", logger.Err(err))
						return
					}
					b.log.Info("cloudflared config reloaded", logger.String("path", b.configPath))
				})
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				b.log.Warn("config watcher error", logger.Err(err))
			}
		}
	}()
	return nil
}
