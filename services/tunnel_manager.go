package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"tunnel-keeper/internal/logger"
	"tunnel-keeper/internal/models"

	"github.com/google/uuid"
)

const (
	MsgNotFound = "Tunnel not found or already stopped"

	defaultLifetime = 48 * time.Hour
)

var errShuttingDown = errors.New("tunnel manager is shutting down")

// ephemeralState 临时隧道独有的字段，进程由本服务拥有
type ephemeralState struct {
	handle     ProcessHandle
	publicURL  string // 空表示尚未捕获，CaptureFailed表示捕获超时
	expiresAt  time.Time
	generation string // 每个进程一个uuid，过期的捕获结果据此丢弃
	capturing  bool
	stopping   bool
	lastExit   string
}

// persistentState 持久隧道只记录域名，没有进程
type persistentState struct {
	customDomain string
}

type tunnelRecord struct {
	name       string
	state      models.TunnelState
	port       int
	localURL   string
	startedAt  time.Time
	ephemeral  *ephemeralState
	persistent *persistentState
}

func (r *tunnelRecord) kind() models.TunnelKind {
	if r.persistent != nil {
		return models.KindPersistent
	}
	return models.KindEphemeral
}

// ManagerOptions 构造TunnelManager的依赖，Supervisor必填
type ManagerOptions struct {
	Supervisor      Supervisor
	Scanner         *Scanner
	Store           StateStore
	Backend         PersistentBackend
	Events          *EventHub
	LocalIP         string
	DefaultDuration time.Duration
	SweepInterval   time.Duration
	SweepTolerance  time.Duration
	ShutdownWait    time.Duration
	KillOrphans     bool
	Now             func() time.Time
	Logger          logger.Logger
}

/**
 * TunnelManager 隧道注册表，每个服务名最多一条记录
 * @description
 * - mu保护records，所有读改写都在mu下进行
 * - 同一服务名的启动/停止/过期通过名字锁串行，停止进程时不持有mu
 * - 状态写入按变更顺序进行(stateSeq/savedSeq)
 * - URL捕获在独立协程中进行，结果通过applyCapture写回
 */
type TunnelManager struct {
	sup             Supervisor
	scanner         *Scanner
	store           StateStore
	backend         PersistentBackend
	events          *EventHub
	localIP         string
	defaultDuration time.Duration
	shutdownWait    time.Duration
	killOrphans     bool
	now             func() time.Time
	log             logger.Logger
	sweeper         *Sweeper

	mu        sync.Mutex
	records   map[string]*tunnelRecord
	nameLocks map[string]*nameLock
	stateSeq  uint64
	closed    bool

	saveMu   sync.Mutex
	savedSeq uint64

	captures sync.WaitGroup
}

func NewTunnelManager(opts ManagerOptions) *TunnelManager {
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}
	if opts.Scanner == nil {
		opts.Scanner = NewScanner(0, 0, opts.Logger)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.DefaultDuration <= 0 {
		opts.DefaultDuration = defaultLifetime
	}
	if opts.ShutdownWait <= 0 {
		opts.ShutdownWait = 3 * time.Second
	}
	if opts.LocalIP == "" {
		opts.LocalIP = "127.0.0.1"
	}
	tm := &TunnelManager{
		sup:             opts.Supervisor,
		scanner:         opts.Scanner,
		store:           opts.Store,
		backend:         opts.Backend,
		events:          opts.Events,
		localIP:         opts.LocalIP,
		defaultDuration: opts.DefaultDuration,
		shutdownWait:    opts.ShutdownWait,
		killOrphans:     opts.KillOrphans,
		now:             opts.Now,
		log:             opts.Logger,
		records:         make(map[string]*tunnelRecord),
		nameLocks:       make(map[string]*nameLock),
	}
	tm.sweeper = NewSweeper(tm, opts.SweepInterval, opts.SweepTolerance, opts.Logger)
	return tm
}

func (tm *TunnelManager) LocalIP() string {
	return tm.localIP
}

func (tm *TunnelManager) DefaultDurationHours() float64 {
	return tm.defaultDuration.Hours()
}

func (tm *TunnelManager) Backend() PersistentBackend {
	return tm.backend
}

func (tm *TunnelManager) Sweeper() *Sweeper {
	return tm.sweeper
}

func (tm *TunnelManager) localTarget(port int) string {
	return fmt.Sprintf("http://%s:%d", tm.localIP, port)
}

// nameLock 服务名锁，refs为持有和等待者数量，归零时从nameLocks删除
type nameLock struct {
	mu   sync.Mutex
	refs int
}

// lockName 同一服务名的操作串行执行，返回的函数不能在持有tm.mu时调用
func (tm *TunnelManager) lockName(name string) func() {
	tm.mu.Lock()
	l, ok := tm.nameLocks[name]
	if !ok {
		l = &nameLock{}
		tm.nameLocks[name] = l
	}
	l.refs++
	tm.mu.Unlock()
	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		tm.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(tm.nameLocks, name)
		}
		tm.mu.Unlock()
	}
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

func timePtr(t time.Time) *float64 {
	if t.IsZero() {
		return nil
	}
	v := unixSeconds(t)
	return &v
}

func fromUnix(v *float64) time.Time {
	if v == nil || *v <= 0 {
		return time.Time{}
	}
	sec, frac := math.Modf(*v)
	return time.Unix(int64(sec), int64(frac*1e9))
}

/**
 * Validate a start request
 * @param {models.StartTunnelRequest} req - request from the API or CLI
 * @returns {models.TunnelKind} requested kind
 * @returns {time.Duration} lifetime, default applied
 * @returns {error} ValidationError, nothing has been mutated
 */
func (tm *TunnelManager) validate(name string, req models.StartTunnelRequest) (models.TunnelKind, time.Duration, error) {
	if name == "" {
		return "", 0, validationError(name, "service_name is required")
	}
	if req.Port <= 0 || req.Port >= 65536 {
		return "", 0, validationError(name, "port must be between 1 and 65535, got %d", req.Port)
	}
	lifetime := tm.defaultDuration
	if req.DurationHours != nil {
		h := *req.DurationHours
		if math.IsNaN(h) || math.IsInf(h, 0) || h <= 0 {
			return "", 0, validationError(name, "duration_hours must be greater than 0")
		}
		lifetime = time.Duration(h * float64(time.Hour))
	}
	kind, ok := models.ParseTunnelKind(strings.ToLower(strings.TrimSpace(req.TunnelType)))
	if !ok {
		return "", 0, validationError(name, "unknown tunnel_type '%s'", req.TunnelType)
	}
	if kind == models.KindPersistent {
		if strings.TrimSpace(req.CustomDomain) == "" {
			return "", 0, validationError(name, "custom_domain is required for persistent tunnels")
		}
		if tm.backend == nil {
			return "", 0, validationError(name, "persistent tunnels are not configured")
		}
	}
	return kind, lifetime, nil
}

/**
 * Start, renew or replace the tunnel of a service
 * @param {context.Context} ctx - request context, the spawned process outlives it
 * @param {models.StartTunnelRequest} req - service name, port, optional duration/kind/domain
 * @returns {string} human readable result
 * @returns {error} ValidationError, SpawnError or a backend error
 * @description
 * - A live ephemeral tunnel on the same target is renewed: new expiration,
 *   and a recapture when it has no URL yet
 * - A live tunnel on another target (or of another kind) is stopped first
 * - A fresh ephemeral tunnel is spawned and its URL captured in the background
 */
func (tm *TunnelManager) RequestStart(ctx context.Context, req models.StartTunnelRequest) (string, error) {
	name := strings.TrimSpace(req.ServiceName)
	kind, lifetime, err := tm.validate(name, req)
	if err != nil {
		return "", err
	}
	localURL := tm.localTarget(req.Port)

	unlock := tm.lockName(name)
	defer unlock()

	tm.mu.Lock()
	if tm.closed {
		tm.mu.Unlock()
		return "", errShuttingDown
	}
	rec := tm.records[name]
	if rec != nil && kind == models.KindEphemeral && rec.ephemeral != nil &&
		rec.localURL == localURL && tm.sup.IsAlive(rec.ephemeral.handle) {
		msg, ev := tm.renewLocked(rec, lifetime)
		sf, seq := tm.stateLocked()
		tm.mu.Unlock()
		tm.save(ctx, sf, seq)
		tm.events.Publish(ev)
		tunnelStarts.WithLabelValues("renewed").Inc()
		return msg, nil
	}
	if rec != nil && kind == models.KindPersistent && rec.persistent != nil &&
		rec.localURL == localURL && rec.persistent.customDomain == req.CustomDomain {
		tm.mu.Unlock()
		return fmt.Sprintf("Persistent tunnel for %s already published at https://%s", name, req.CustomDomain), nil
	}
	live := rec != nil && (rec.persistent != nil || tm.sup.IsAlive(rec.ephemeral.handle))
	tm.mu.Unlock()

	if live {
		tm.log.Info("tunnel target changed, replacing", logger.String("service", name), logger.String("old", rec.localURL), logger.String("new", localURL))
		if err := tm.teardown(ctx, rec, "target changed"); err != nil {
			tm.log.Warn("stop of replaced tunnel not confirmed", logger.String("service", name), logger.Err(err))
		}
	}

	if kind == models.KindPersistent {
		return tm.publishPersistent(ctx, name, req.Port, localURL, req.CustomDomain)
	}
	return tm.spawn(ctx, name, req.Port, localURL, lifetime)
}

// renewLocked 延长有效期，没有URL时在现有进程上重新捕获
func (tm *TunnelManager) renewLocked(rec *tunnelRecord, lifetime time.Duration) (string, models.TunnelEvent) {
	eph := rec.ephemeral
	now := tm.now()
	eph.expiresAt = now.Add(lifetime)
	if !IsCapturedURL(eph.publicURL) && !eph.capturing {
		eph.capturing = true
		tm.startCapture(rec.name, eph.generation, eph.handle)
		tm.log.Info("recapturing tunnel url", logger.String("service", rec.name))
	}
	tm.log.Info("tunnel renewed", logger.String("service", rec.name), logger.Time("expires_at", eph.expiresAt))
	msg := fmt.Sprintf("Tunnel for %s already running, expiration extended to %s",
		rec.name, eph.expiresAt.Format(time.RFC3339))
	return msg, tm.eventLocked(models.EventRenewed, rec, "")
}

func (tm *TunnelManager) spawn(ctx context.Context, name string, port int, localURL string, lifetime time.Duration) (string, error) {
	generation := uuid.NewString()
	h, err := tm.sup.Start(ctx, TunnelTarget{
		ServiceName: name,
		LocalIP:     tm.localIP,
		Port:        port,
		LocalURL:    localURL,
		OnExit:      func() { tm.onProcessExit(name, generation) },
	})
	if err != nil {
		tunnelStarts.WithLabelValues("failed").Inc()
		var te *TunnelError
		if !errors.As(err, &te) {
			err = newTunnelError(KindSpawn, name, err)
		}
		tm.log.Error("tunnel spawn failed", logger.String("service", name), logger.Err(err))
		return "", err
	}

	now := tm.now()
	rec := &tunnelRecord{
		name:      name,
		state:     models.StateStarting,
		port:      port,
		localURL:  localURL,
		startedAt: now,
		ephemeral: &ephemeralState{
			handle:     h,
			expiresAt:  now.Add(lifetime),
			generation: generation,
			capturing:  true,
		},
	}
	tm.mu.Lock()
	tm.records[name] = rec
	rec.state = models.StateAwaitingURL
	tm.startCapture(name, generation, h)
	ev := tm.eventLocked(models.EventStarted, rec, "")
	sf, seq := tm.stateLocked()
	tm.mu.Unlock()

	tm.save(ctx, sf, seq)
	tm.events.Publish(ev)
	tunnelStarts.WithLabelValues("spawned").Inc()
	tm.log.Info("tunnel started", logger.String("service", name), logger.String("target", localURL), logger.Int("pid", h.Pid()))
	return fmt.Sprintf("Tunnel for %s started on %s, waiting for public URL", name, localURL), nil
}

func (tm *TunnelManager) publishPersistent(ctx context.Context, name string, port int, localURL, domain string) (string, error) {
	if err := tm.backend.Publish(ctx, domain, localURL); err != nil {
		tunnelStarts.WithLabelValues("failed").Inc()
		return "", fmt.Errorf("publish persistent tunnel %s: %w", name, err)
	}
	rec := &tunnelRecord{
		name:       name,
		state:      models.StateActive,
		port:       port,
		localURL:   localURL,
		startedAt:  tm.now(),
		persistent: &persistentState{customDomain: domain},
	}
	tm.mu.Lock()
	tm.records[name] = rec
	ev := tm.eventLocked(models.EventStarted, rec, "")
	sf, seq := tm.stateLocked()
	tm.mu.Unlock()

	tm.save(ctx, sf, seq)
	tm.events.Publish(ev)
	tunnelStarts.WithLabelValues("spawned").Inc()
	return fmt.Sprintf("Persistent tunnel for %s published at https://%s", name, domain), nil
}

func (tm *TunnelManager) startCapture(name, generation string, h ProcessHandle) {
	tm.captures.Add(1)
	go func() {
		defer tm.captures.Done()
		res := tm.scanner.Capture(context.Background(), h.Primary(), h.Secondary())
		tm.applyCapture(name, generation, res)
	}()
}

/**
 * Apply a capture result under the registry lock
 * @param {string} name - service name
 * @param {string} generation - generation of the process that was scanned
 * @param {CaptureResult} res - scanner result
 * @description
 * - A vanished record or another generation makes this a no-op
 * - A URL is written once per process, a failure only marks an empty URL
 */
func (tm *TunnelManager) applyCapture(name, generation string, res CaptureResult) {
	tm.mu.Lock()
	rec := tm.records[name]
	if rec == nil || rec.ephemeral == nil || rec.ephemeral.generation != generation {
		tm.mu.Unlock()
		urlCaptures.WithLabelValues("discarded").Inc()
		tm.log.Debug("capture result discarded", logger.String("service", name), logger.String("generation", generation))
		return
	}
	eph := rec.ephemeral
	eph.capturing = false

	var ev models.TunnelEvent
	switch {
	case res.URL != "" && !IsCapturedURL(eph.publicURL):
		eph.publicURL = res.URL
		tm.reconcileLocked(rec)
		ev = tm.eventLocked(models.EventURLCaptured, rec, "")
		urlCaptures.WithLabelValues("captured").Inc()
		tm.log.Info("tunnel url captured", logger.String("service", name), logger.String("url", res.URL), logger.String("rule", res.Rule))
	case res.URL != "":
		tm.mu.Unlock()
		urlCaptures.WithLabelValues("discarded").Inc()
		return
	default:
		if !IsCapturedURL(eph.publicURL) {
			eph.publicURL = CaptureFailed
		}
		tm.reconcileLocked(rec)
		reason := ""
		if res.Err != nil {
			reason = res.Err.Error()
		}
		ev = tm.eventLocked(models.EventCaptureFailed, rec, reason)
		urlCaptures.WithLabelValues("failed").Inc()
		tm.log.Warn("tunnel url capture failed", logger.String("service", name), logger.String("reason", reason))
	}
	sf, seq := tm.stateLocked()
	tm.mu.Unlock()

	tm.save(context.Background(), sf, seq)
	tm.events.Publish(ev)
}

// onProcessExit 进程自行退出，记录保留到被巡检清理或被新的启动请求替换
func (tm *TunnelManager) onProcessExit(name, generation string) {
	tm.mu.Lock()
	rec := tm.records[name]
	if rec == nil || rec.ephemeral == nil || rec.ephemeral.generation != generation || rec.ephemeral.stopping {
		tm.mu.Unlock()
		return
	}
	tm.reconcileLocked(rec)
	ev := tm.eventLocked(models.EventStopped, rec, "process exited")
	tm.mu.Unlock()

	tm.log.Warn("tunnel agent exited unexpectedly", logger.String("service", name), logger.String("state", string(ev.State)))
	tm.events.Publish(ev)
}

/**
 * reconcileLocked 根据进程存活情况修正状态
 * @description
 * - 进程已退出时释放句柄，状态变为Stopped(有过URL)或Failed
 * - 进程存活时状态为Active(有URL)或AwaitingURL
 */
func (tm *TunnelManager) reconcileLocked(rec *tunnelRecord) {
	eph := rec.ephemeral
	if eph == nil {
		return
	}
	if eph.handle != nil && !tm.sup.IsAlive(eph.handle) {
		if d, ok := eph.handle.(handleDetailer); ok {
			eph.lastExit = d.Detail().LastExitReason
		}
		eph.handle = nil
	}
	if eph.handle == nil {
		switch rec.state {
		case models.StateStarting, models.StateAwaitingURL, models.StateActive:
			if IsCapturedURL(eph.publicURL) {
				rec.state = models.StateStopped
			} else {
				rec.state = models.StateFailed
			}
		}
		return
	}
	if IsCapturedURL(eph.publicURL) {
		rec.state = models.StateActive
	} else {
		rec.state = models.StateAwaitingURL
	}
}

/**
 * Stop the tunnel of a service and remove its record
 * @param {context.Context} ctx - bounds the backend teardown of persistent tunnels
 * @param {string} name - service name
 * @param {string} reason - recorded in logs, events and metrics
 * @returns {string} result message, "not found" is a success too
 * @returns {error} reserved, stop failures are logged and the record removed anyway
 */
func (tm *TunnelManager) RequestStop(ctx context.Context, name, reason string) (string, error) {
	if reason == "" {
		reason = "manual"
	}
	found, err := tm.stopOne(ctx, name, reason)
	if err != nil {
		return "", err
	}
	if !found {
		return MsgNotFound, nil
	}
	return fmt.Sprintf("Tunnel stopped (reason: %s)", reason), nil
}

// stopOne 返回记录是否存在，停止失败只记录日志
func (tm *TunnelManager) stopOne(ctx context.Context, name, reason string) (bool, error) {
	unlock := tm.lockName(name)
	defer unlock()

	tm.mu.Lock()
	rec := tm.records[name]
	tm.mu.Unlock()
	if rec == nil {
		return false, nil
	}
	if err := tm.teardown(ctx, rec, reason); err != nil {
		tm.log.Warn("tunnel stop not confirmed, record removed anyway", logger.String("service", name), logger.Err(err))
	}
	return true, nil
}

/**
 * teardown 停止进程或撤销发布，然后删除记录并持久化
 * @description
 * - 调用方持有该服务名的名字锁
 * - 进程停止期间不持有mu，查询不受影响
 */
func (tm *TunnelManager) teardown(ctx context.Context, rec *tunnelRecord, reason string) error {
	var handle ProcessHandle
	tm.mu.Lock()
	if rec.ephemeral != nil {
		rec.ephemeral.stopping = true
		handle = rec.ephemeral.handle
	}
	tm.mu.Unlock()

	var err error
	switch {
	case rec.persistent != nil && tm.backend != nil:
		err = tm.backend.Teardown(ctx, rec.persistent.customDomain)
	case handle != nil:
		err = tm.sup.Stop(handle, reason)
	}

	tm.mu.Lock()
	if tm.records[rec.name] == rec {
		delete(tm.records, rec.name)
	}
	if rec.ephemeral != nil {
		rec.ephemeral.handle = nil
	}
	rec.state = models.StateStopped
	ev := tm.eventLocked(models.EventStopped, rec, reason)
	sf, seq := tm.stateLocked()
	tm.mu.Unlock()

	tm.save(ctx, sf, seq)
	tm.events.Publish(ev)
	tunnelStops.WithLabelValues(reason).Inc()
	tm.log.Info("tunnel stopped", logger.String("service", rec.name), logger.String("reason", reason))
	return err
}

/**
 * Stop every tunnel
 * @param {context.Context} ctx - passed to each stop
 * @param {string} reason - stop reason
 * @returns {string} "Stopped N tunnels"
 * @description
 * - Failures of one tunnel never abort the others
 * - With kill_orphans, leftover quick tunnel agents are killed afterwards
 */
func (tm *TunnelManager) StopAll(ctx context.Context, reason string) string {
	if reason == "" {
		reason = "stop all"
	}
	tm.mu.Lock()
	names := make([]string, 0, len(tm.records))
	for name := range tm.records {
		names = append(names, name)
	}
	tm.mu.Unlock()
	sort.Strings(names)

	stopped := 0
	for _, name := range names {
		found, err := tm.stopOne(ctx, name, reason)
		if err != nil {
			tm.log.Warn("stop failed", logger.String("service", name), logger.Err(err))
			continue
		}
		if found {
			stopped++
		}
	}

	if tm.killOrphans {
		if k, ok := tm.sup.(orphanKiller); ok {
			n, err := k.KillOrphans()
			if err != nil {
				tm.log.Warn("kill orphan agents failed", logger.Err(err))
			} else if n > 0 {
				tm.log.Info("killed orphan agents", logger.Int("count", n))
			}
		}
	}
	return fmt.Sprintf("Stopped %d tunnels", stopped)
}

type recordCopy struct {
	rec    tunnelRecord
	eph    ephemeralState
	domain string
	alive  bool
}

func (tm *TunnelManager) copyRecordsLocked() []recordCopy {
	out := make([]recordCopy, 0, len(tm.records))
	for _, rec := range tm.records {
		tm.reconcileLocked(rec)
		c := recordCopy{rec: *rec}
		if rec.ephemeral != nil {
			c.eph = *rec.ephemeral
			c.alive = tm.sup.IsAlive(rec.ephemeral.handle)
		}
		if rec.persistent != nil {
			c.domain = rec.persistent.customDomain
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].rec.name < out[j].rec.name })
	return out
}

// copies 在锁内复制记录，持久隧道的存活状态在锁外查询
func (tm *TunnelManager) copies(ctx context.Context) []recordCopy {
	tm.mu.Lock()
	list := tm.copyRecordsLocked()
	tm.mu.Unlock()
	for i := range list {
		if list[i].rec.persistent != nil {
			list[i].alive = tm.backend != nil && tm.backend.IsAlive(ctx, list[i].domain)
		}
	}
	return list
}

func (tm *TunnelManager) viewOf(c recordCopy, now time.Time) models.TunnelView {
	v := models.TunnelView{
		ServiceName: c.rec.name,
		Port:        c.rec.port,
		LocalURL:    c.rec.localURL,
		IsRunning:   c.alive,
		StartTime:   timePtr(c.rec.startedAt),
		TunnelType:  c.rec.kind(),
		State:       c.rec.state,
	}
	if c.rec.persistent != nil {
		domain := c.domain
		v.CustomDomain = &domain
		if c.alive {
			u := "https://" + domain
			v.URL = &u
			v.State = models.StateActive
		} else {
			v.State = models.StateStopped
		}
		return v
	}
	v.ExpirationTime = timePtr(c.eph.expiresAt)
	if c.alive && IsCapturedURL(c.eph.publicURL) {
		u := c.eph.publicURL
		v.URL = &u
	}
	if c.alive && !c.eph.expiresAt.IsZero() {
		remaining := math.Max(0, c.eph.expiresAt.Sub(now).Seconds())
		v.TimeRemainingSeconds = &remaining
	}
	return v
}

/**
 * Snapshot of every tunnel, liveness recomputed now
 * @param {context.Context} ctx - bounds the persistent liveness probes
 * @returns {[]models.TunnelView} views sorted by service name
 */
func (tm *TunnelManager) Snapshot(ctx context.Context) []models.TunnelView {
	list := tm.copies(ctx)
	now := tm.now()
	views := make([]models.TunnelView, 0, len(list))
	var eLive, eDead, pLive, pDead int
	for _, c := range list {
		views = append(views, tm.viewOf(c, now))
		switch {
		case c.rec.persistent != nil && c.alive:
			pLive++
		case c.rec.persistent != nil:
			pDead++
		case c.alive:
			eLive++
		default:
			eDead++
		}
	}
	recordTunnelCounts(eLive, eDead, pLive, pDead)
	return views
}

// Get 单个服务的隧道信息
func (tm *TunnelManager) Get(ctx context.Context, name string) (models.TunnelView, bool) {
	for _, v := range tm.Snapshot(ctx) {
		if v.ServiceName == name {
			return v, true
		}
	}
	return models.TunnelView{}, false
}

/**
 * Debug view: in-memory records with process details, agent processes, state file
 * @param {context.Context} ctx - bounds the agent version probe
 * @returns {models.DebugInfo} debug information
 */
func (tm *TunnelManager) Debug(ctx context.Context) models.DebugInfo {
	tm.mu.Lock()
	details := make(map[string]models.RecordDebug, len(tm.records))
	active := 0
	for name, rec := range tm.records {
		tm.reconcileLocked(rec)
		d := models.RecordDebug{
			ServiceName: name,
			Kind:        rec.kind(),
			State:       rec.state,
			Port:        rec.port,
			LocalURL:    rec.localURL,
		}
		if !rec.startedAt.IsZero() {
			d.StartTime = rec.startedAt.Format(time.RFC3339)
		}
		if rec.persistent != nil {
			d.CustomDomain = rec.persistent.customDomain
		}
		if eph := rec.ephemeral; eph != nil {
			d.URL = eph.publicURL
			d.Generation = eph.generation
			d.Capturing = eph.capturing
			d.LastExitReason = eph.lastExit
			if !eph.expiresAt.IsZero() {
				d.Expiration = eph.expiresAt.Format(time.RFC3339)
			}
			if eph.handle != nil && tm.sup.IsAlive(eph.handle) {
				d.IsRunning = true
				d.Pid = eph.handle.Pid()
				active++
				if src := eph.handle.Primary(); src != nil {
					d.StderrTail = src.Tail()
				}
				if src := eph.handle.Secondary(); src != nil {
					d.StdoutTail = src.Tail()
				}
			}
		}
		details[name] = d
	}
	tm.mu.Unlock()

	info := models.DebugInfo{
		ActiveTunnelsCount: active,
		Records:            details,
		AgentProcesses:     []models.OSProcess{},
		LocalIP:            tm.localIP,
	}
	if insp, ok := tm.sup.(agentInspector); ok {
		if procs, err := insp.AgentProcesses(); err == nil && procs != nil {
			info.AgentProcesses = procs
		}
		if ver, err := insp.AgentVersion(ctx); err != nil {
			info.AgentVersionError = err.Error()
		} else {
			info.AgentVersion = ver
		}
	}
	if p, ok := tm.store.(interface{ Path() string }); ok {
		info.StateFile = p.Path()
	}
	if r, ok := tm.store.(rawReader); ok {
		if content, err := r.ReadRaw(); err != nil {
			info.StateFileContent = fmt.Sprintf("unavailable: %v", err)
		} else {
			info.StateFileContent = content
		}
	}
	return info
}

func (tm *TunnelManager) eventLocked(typ string, rec *tunnelRecord, reason string) models.TunnelEvent {
	ev := models.TunnelEvent{
		Type:        typ,
		ServiceName: rec.name,
		State:       rec.state,
		Reason:      reason,
		Time:        unixSeconds(tm.now()),
	}
	switch {
	case rec.persistent != nil:
		ev.URL = "https://" + rec.persistent.customDomain
	case rec.ephemeral != nil && IsCapturedURL(rec.ephemeral.publicURL):
		ev.URL = rec.ephemeral.publicURL
	}
	return ev
}

// stateLocked 生成需要持久化的完整状态，CaptureFailed和黑名单地址写为null
func (tm *TunnelManager) stateLocked() (*models.StateFile, uint64) {
	sf := &models.StateFile{
		Timestamp: unixSeconds(tm.now()),
		Tunnels:   make(map[string]models.StateEntry, len(tm.records)),
	}
	for name, rec := range tm.records {
		entry := models.StateEntry{
			Port:      rec.port,
			LocalURL:  rec.localURL,
			StartTime: timePtr(rec.startedAt),
		}
		if eph := rec.ephemeral; eph != nil {
			if IsCapturedURL(eph.publicURL) {
				u := eph.publicURL
				entry.URL = &u
			}
			entry.ExpirationTime = timePtr(eph.expiresAt)
		}
		if p := rec.persistent; p != nil {
			u := "https://" + p.customDomain
			entry.URL = &u
			entry.TunnelType = models.KindPersistent
			entry.CustomDomain = p.customDomain
		}
		sf.Tunnels[name] = entry
	}
	tm.stateSeq++
	return sf, tm.stateSeq
}

// save 按生成顺序写入，较旧的状态不会覆盖较新的状态
func (tm *TunnelManager) save(ctx context.Context, sf *models.StateFile, seq uint64) {
	if tm.store == nil {
		return
	}
	tm.saveMu.Lock()
	defer tm.saveMu.Unlock()
	if seq <= tm.savedSeq {
		return
	}
	tm.savedSeq = seq
	if err := tm.store.Save(ctx, sf); err != nil {
		persistenceErrors.Inc()
		tm.log.Error("persist tunnel state failed", logger.Err(newTunnelError(KindPersistence, "", err)))
	}
}

// scrubStateFile 清除黑名单地址，返回清除的条数
func scrubStateFile(sf *models.StateFile) int {
	n := 0
	for name, entry := range sf.Tunnels {
		if entry.URL != nil && (IsBlockedURL(*entry.URL) || *entry.URL == CaptureFailed) {
			entry.URL = nil
			sf.Tunnels[name] = entry
			n++
		}
	}
	return n
}

// scrubInvalidURLsLocked 内存中的黑名单地址清除为未捕获
func (tm *TunnelManager) scrubInvalidURLsLocked() int {
	n := 0
	for _, rec := range tm.records {
		if eph := rec.ephemeral; eph != nil && eph.publicURL != "" && IsBlockedURL(eph.publicURL) {
			eph.publicURL = ""
			tm.reconcileLocked(rec)
			n++
		}
	}
	return n
}

/**
 * Restore records from durable state
 * @param {context.Context} ctx - passed to the store
 * @returns {error} PersistenceError when the state cannot be loaded
 * @description
 * - Entries not in memory become inert placeholders so their expiration survives
 *   a restart; the sweeper removes them once expired
 * - Blocklisted URLs are scrubbed from memory and from the store
 */
func (tm *TunnelManager) Restore(ctx context.Context) error {
	if tm.store == nil {
		return nil
	}
	sf, err := tm.store.Load(ctx)
	if err != nil {
		persistenceErrors.Inc()
		return newTunnelError(KindPersistence, "", err)
	}
	if sf == nil {
		return nil
	}
	scrubbed := scrubStateFile(sf)

	tm.mu.Lock()
	var events []models.TunnelEvent
	for name, entry := range sf.Tunnels {
		if _, ok := tm.records[name]; ok {
			continue
		}
		rec := tm.placeholder(name, entry)
		tm.records[name] = rec
		events = append(events, tm.eventLocked(models.EventRestored, rec, ""))
	}
	scrubbed += tm.scrubInvalidURLsLocked()
	var (
		state *models.StateFile
		seq   uint64
	)
	if scrubbed > 0 {
		state, seq = tm.stateLocked()
	}
	tm.mu.Unlock()

	if state != nil {
		tm.log.Info("scrubbed invalid tunnel urls from state", logger.Int("count", scrubbed))
		tm.save(ctx, state, seq)
	}
	for _, ev := range events {
		tm.events.Publish(ev)
	}
	if len(events) > 0 {
		tm.log.Info("restored tunnel records", logger.Int("count", len(events)))
	}
	return nil
}

func (tm *TunnelManager) placeholder(name string, entry models.StateEntry) *tunnelRecord {
	rec := &tunnelRecord{
		name:      name,
		state:     models.StateAwaitingRetry,
		port:      entry.Port,
		localURL:  entry.LocalURL,
		startedAt: fromUnix(entry.StartTime),
	}
	if entry.TunnelType == models.KindPersistent && entry.CustomDomain != "" {
		rec.state = models.StateActive
		rec.persistent = &persistentState{customDomain: entry.CustomDomain}
		return rec
	}
	rec.ephemeral = &ephemeralState{expiresAt: fromUnix(entry.ExpirationTime)}
	if entry.URL != nil {
		rec.ephemeral.publicURL = *entry.URL
	}
	return rec
}

// Start 恢复持久化状态并启动过期巡检
func (tm *TunnelManager) Start(ctx context.Context) {
	if err := tm.Restore(ctx); err != nil {
		tm.log.Warn("restore tunnel state failed", logger.Err(err))
	}
	tm.sweeper.Start(ctx)
}

/**
 * Shutdown: stop the sweeper, stop every tunnel, join the sweeper
 * @param {context.Context} ctx - passed to the stops
 * @returns {string} StopAll message
 * @description
 * - Start requests are refused once shutdown begins
 * - The sweeper join is bounded by shutdown_wait
 */
func (tm *TunnelManager) Shutdown(ctx context.Context) string {
	tm.mu.Lock()
	tm.closed = true
	tm.mu.Unlock()

	tm.sweeper.Stop()
	msg := tm.StopAll(ctx, "shutdown")
	if !tm.sweeper.Wait(tm.shutdownWait) {
		tm.log.Warn("sweeper did not stop in time", logger.Duration("wait", tm.shutdownWait))
	}
	if !tm.waitCaptures(tm.shutdownWait) {
		tm.log.Warn("url capture still running after shutdown", logger.Duration("wait", tm.shutdownWait))
	}
	tm.log.Info("tunnel manager shut down", logger.String("result", msg))
	return msg
}

/**
 * Counts 隧道数量，healthz使用
 * @returns {int} 记录总数
 * @returns {int} 存活的隧道数
 * @returns {int} 持久隧道数
 */
func (tm *TunnelManager) Counts(ctx context.Context) (int, int, int) {
	list := tm.copies(ctx)
	running, persistent := 0, 0
	for _, c := range list {
		if c.alive {
			running++
		}
		if c.rec.persistent != nil {
			persistent++
		}
	}
	return len(list), running, persistent
}

// waitCaptures 等待所有捕获协程结束，超时返回false
func (tm *TunnelManager) waitCaptures(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		tm.captures.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}
