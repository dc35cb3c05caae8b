package services

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"tunnel-keeper/internal/models"
)

// fakeSource 可控的输出流
type fakeSource struct {
	lines chan string
	tail  []string
}

func newFakeSource(tail ...string) *fakeSource {
	return &fakeSource{lines: make(chan string, 16), tail: tail}
}

func (s *fakeSource) Lines() <-chan string { return s.lines }
func (s *fakeSource) Tail() []string       { return s.tail }

type fakeHandle struct {
	pid       int
	alive     atomic.Bool
	primary   *fakeSource
	secondary *fakeSource
	target    TunnelTarget
}

func (h *fakeHandle) Pid() int              { return h.pid }
func (h *fakeHandle) Primary() LineSource   { return h.primary }
func (h *fakeHandle) Secondary() LineSource { return h.secondary }

// crash 模拟进程自行退出
func (h *fakeHandle) crash() {
	h.alive.Store(false)
	if h.target.OnExit != nil {
		h.target.OnExit()
	}
}

// fakeSupervisor 记录启动/停止，进程输出由primaryTail决定
type fakeSupervisor struct {
	mu          sync.Mutex
	handles     []*fakeHandle
	stops       []string
	startErr    error
	stopErr     error
	primaryTail []string
	nextPid     int
}

func (s *fakeSupervisor) Start(ctx context.Context, target TunnelTarget) (ProcessHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.startErr != nil {
		return nil, s.startErr
	}
	s.nextPid++
	h := &fakeHandle{
		pid:       1000 + s.nextPid,
		primary:   newFakeSource(s.primaryTail...),
		secondary: newFakeSource(),
		target:    target,
	}
	h.alive.Store(true)
	s.handles = append(s.handles, h)
	return h, nil
}

func (s *fakeSupervisor) Stop(h ProcessHandle, reason string) error {
	fh, ok := h.(*fakeHandle)
	if !ok || fh == nil {
		return nil
	}
	s.mu.Lock()
	s.stops = append(s.stops, reason)
	err := s.stopErr
	s.mu.Unlock()
	fh.alive.Store(false)
	// 真实进程被停止时也会触发退出回调
	if fh.target.OnExit != nil {
		fh.target.OnExit()
	}
	return err
}

func (s *fakeSupervisor) IsAlive(h ProcessHandle) bool {
	fh, ok := h.(*fakeHandle)
	return ok && fh != nil && fh.alive.Load()
}

func (s *fakeSupervisor) started() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.handles)
}

func (s *fakeSupervisor) handle(i int) *fakeHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handles[i]
}

func (s *fakeSupervisor) stopReasons() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.stops...)
}

// memStore 内存中的StateStore
type memStore struct {
	mu      sync.Mutex
	state   *models.StateFile
	saves   int
	loadErr error
	saveErr error
}

func (m *memStore) Load(ctx context.Context) (*models.StateFile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	return m.state, nil
}

func (m *memStore) Save(ctx context.Context, state *models.StateFile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.state = state
	m.saves++
	return nil
}

func (m *memStore) last() *models.StateFile {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// fakeBackend 持久隧道发布方
type fakeBackend struct {
	mu         sync.Mutex
	published  map[string]string
	publishErr error
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{published: map[string]string{}}
}

func (b *fakeBackend) Publish(ctx context.Context, domain, target string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.publishErr != nil {
		return b.publishErr
	}
	b.published[domain] = target
	return nil
}

func (b *fakeBackend) Teardown(ctx context.Context, domain string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.published, domain)
	return nil
}

func (b *fakeBackend) IsAlive(ctx context.Context, domain string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.published[domain]
	return ok
}

func (b *fakeBackend) Status(ctx context.Context) models.NamedTunnelStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	st := models.NamedTunnelStatus{Configured: true, ServiceActive: true, Hostnames: []string{}}
	for d := range b.published {
		st.Hostnames = append(st.Hostnames, d)
	}
	return st
}

// fakeClock 手动推进的时钟
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

var errBoom = errors.New("boom")

const testURL = "https://sunny-river-abc123.trycloudflare.com"

type testEnv struct {
	tm      *TunnelManager
	sup     *fakeSupervisor
	store   *memStore
	backend *fakeBackend
	events  *EventHub
	clock   *fakeClock
}

func newTestEnv(t *testing.T, primaryTail ...string) *testEnv {
	t.Helper()
	env := &testEnv{
		sup:     &fakeSupervisor{primaryTail: primaryTail},
		store:   &memStore{},
		backend: newFakeBackend(),
		events:  NewEventHub(64),
		clock:   newFakeClock(),
	}
	env.tm = NewTunnelManager(ManagerOptions{
		Supervisor:      env.sup,
		Scanner:         NewScanner(100*time.Millisecond, 5, nil),
		Store:           env.store,
		Backend:         env.backend,
		Events:          env.events,
		LocalIP:         "10.0.0.2",
		DefaultDuration: 48 * time.Hour,
		SweepInterval:   time.Hour,
		SweepTolerance:  time.Minute,
		ShutdownWait:    time.Second,
		Now:             env.clock.Now,
	})
	t.Cleanup(func() { env.tm.waitCaptures(2 * time.Second) })
	return env
}

// settle 等待所有捕获协程结束
func (e *testEnv) settle(t *testing.T) {
	t.Helper()
	if !e.tm.waitCaptures(2 * time.Second) {
		t.Fatal("url capture did not finish")
	}
}

func (e *testEnv) view(t *testing.T, name string) models.TunnelView {
	t.Helper()
	v, ok := e.tm.Get(context.Background(), name)
	if !ok {
		t.Fatalf("tunnel %s not found", name)
	}
	return v
}

func hours(h float64) *float64 { return &h }

func urlLine(u string) string {
	return "2024-05-01T12:00:00Z INF |  " + u + "  |"
}
