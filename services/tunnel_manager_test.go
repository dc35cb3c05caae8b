package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"tunnel-keeper/internal/models"
)

func TestStartCapturesURL(t *testing.T) {
	e := newTestEnv(t, "starting tunnel", urlLine(testURL))
	evs, cancel := e.events.Subscribe()
	defer cancel()

	msg, err := e.tm.RequestStart(context.Background(), models.StartTunnelRequest{ServiceName: "grafana", Port: 3000})
	if err != nil {
		t.Fatalf("RequestStart failed: %v", err)
	}
	if !strings.Contains(msg, "http://10.0.0.2:3000") {
		t.Errorf("unexpected message: %s", msg)
	}
	e.settle(t)

	v := e.view(t, "grafana")
	if v.URL == nil || *v.URL != testURL {
		t.Fatalf("url not captured: %+v", v)
	}
	if !v.IsRunning || v.State != models.StateActive || v.TunnelType != models.KindEphemeral {
		t.Errorf("unexpected view: %+v", v)
	}
	if v.LocalURL != "http://10.0.0.2:3000" || v.Port != 3000 {
		t.Errorf("unexpected target: %s %d", v.LocalURL, v.Port)
	}
	if v.TimeRemainingSeconds == nil || *v.TimeRemainingSeconds != (48*time.Hour).Seconds() {
		t.Errorf("remaining = %v", v.TimeRemainingSeconds)
	}
	if v.CustomDomain != nil {
		t.Errorf("ephemeral tunnel has a custom domain: %v", *v.CustomDomain)
	}

	sf := e.store.last()
	entry, ok := sf.Tunnels["grafana"]
	if !ok || entry.URL == nil || *entry.URL != testURL {
		t.Fatalf("persisted entry missing url: %+v", sf)
	}
	if entry.ExpirationTime == nil || *entry.ExpirationTime != unixSeconds(e.clock.Now().Add(48*time.Hour)) {
		t.Errorf("persisted expiration = %v", entry.ExpirationTime)
	}
	if entry.TunnelType != "" || entry.CustomDomain != "" {
		t.Errorf("ephemeral entry carries persistent fields: %+v", entry)
	}

	// 捕获协程和启动请求并发发布，不比较顺序
	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case ev := <-evs:
			if ev.ServiceName != "grafana" {
				t.Errorf("unexpected event %+v", ev)
			}
			seen[ev.Type] = true
		case <-time.After(time.Second):
			t.Fatalf("missing events, got %v", seen)
		}
	}
	if !seen[models.EventStarted] || !seen[models.EventURLCaptured] {
		t.Errorf("events = %v", seen)
	}
}

func TestCaptureFailureKeepsProcess(t *testing.T) {
	e := newTestEnv(t)
	if _, err := e.tm.RequestStart(context.Background(), models.StartTunnelRequest{ServiceName: "api", Port: 8080}); err != nil {
		t.Fatalf("RequestStart failed: %v", err)
	}
	e.settle(t)

	v := e.view(t, "api")
	if v.URL != nil {
		t.Errorf("url should be empty after capture failure: %v", *v.URL)
	}
	if !v.IsRunning || v.State != models.StateAwaitingURL {
		t.Errorf("process should keep running: %+v", v)
	}
	// 捕获失败标记不写入持久化
	if entry := e.store.last().Tunnels["api"]; entry.URL != nil {
		t.Errorf("capture failure persisted as %q", *entry.URL)
	}
	d := e.tm.Debug(context.Background())
	if d.Records["api"].URL != CaptureFailed || d.Records["api"].Capturing {
		t.Errorf("debug record = %+v", d.Records["api"])
	}
}

func TestRenewSameTarget(t *testing.T) {
	e := newTestEnv(t, urlLine(testURL))
	ctx := context.Background()
	if _, err := e.tm.RequestStart(ctx, models.StartTunnelRequest{ServiceName: "grafana", Port: 3000}); err != nil {
		t.Fatal(err)
	}
	e.settle(t)

	e.clock.Advance(time.Hour)
	msg, err := e.tm.RequestStart(ctx, models.StartTunnelRequest{ServiceName: "grafana", Port: 3000, DurationHours: hours(2)})
	if err != nil {
		t.Fatalf("renew failed: %v", err)
	}
	if !strings.Contains(msg, "already running") {
		t.Errorf("unexpected renew message: %s", msg)
	}
	if e.sup.started() != 1 {
		t.Errorf("renew must not spawn, started=%d", e.sup.started())
	}
	v := e.view(t, "grafana")
	if v.ExpirationTime == nil || *v.ExpirationTime != unixSeconds(e.clock.Now().Add(2*time.Hour)) {
		t.Errorf("expiration not extended: %v", v.ExpirationTime)
	}
	if v.URL == nil || *v.URL != testURL {
		t.Errorf("renew lost the url: %+v", v)
	}
}

func TestRenewRecapturesMissingURL(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	if _, err := e.tm.RequestStart(ctx, models.StartTunnelRequest{ServiceName: "grafana", Port: 3000}); err != nil {
		t.Fatal(err)
	}
	e.settle(t)
	if v := e.view(t, "grafana"); v.URL != nil {
		t.Fatalf("url should not be captured yet: %v", *v.URL)
	}

	e.sup.handle(0).primary.lines <- urlLine(testURL)
	if _, err := e.tm.RequestStart(ctx, models.StartTunnelRequest{ServiceName: "grafana", Port: 3000}); err != nil {
		t.Fatal(err)
	}
	e.settle(t)

	v := e.view(t, "grafana")
	if v.URL == nil || *v.URL != testURL {
		t.Fatalf("recapture failed: %+v", v)
	}
	if e.sup.started() != 1 {
		t.Errorf("recapture must reuse the process, started=%d", e.sup.started())
	}
}

func TestTargetChangeReplacesProcess(t *testing.T) {
	e := newTestEnv(t, urlLine(testURL))
	ctx := context.Background()
	if _, err := e.tm.RequestStart(ctx, models.StartTunnelRequest{ServiceName: "grafana", Port: 3000}); err != nil {
		t.Fatal(err)
	}
	e.settle(t)
	if _, err := e.tm.RequestStart(ctx, models.StartTunnelRequest{ServiceName: "grafana", Port: 4000}); err != nil {
		t.Fatal(err)
	}
	e.settle(t)

	if e.sup.started() != 2 {
		t.Fatalf("expected a new process, started=%d", e.sup.started())
	}
	if reasons := e.sup.stopReasons(); len(reasons) != 1 || reasons[0] != "target changed" {
		t.Errorf("stop reasons = %v", reasons)
	}
	if e.sup.IsAlive(e.sup.handle(0)) {
		t.Error("old process still alive")
	}
	v := e.view(t, "grafana")
	if v.Port != 4000 || v.LocalURL != "http://10.0.0.2:4000" || !v.IsRunning {
		t.Errorf("unexpected view after replace: %+v", v)
	}
	if got := len(e.tm.Snapshot(ctx)); got != 1 {
		t.Errorf("one record per service expected, got %d", got)
	}
}

func TestStopTunnel(t *testing.T) {
	e := newTestEnv(t, urlLine(testURL))
	ctx := context.Background()

	msg, err := e.tm.RequestStop(ctx, "missing", "")
	if err != nil || msg != MsgNotFound {
		t.Errorf("stop of unknown tunnel = %q %v", msg, err)
	}

	if _, err := e.tm.RequestStart(ctx, models.StartTunnelRequest{ServiceName: "grafana", Port: 3000}); err != nil {
		t.Fatal(err)
	}
	e.settle(t)
	evs, cancel := e.events.Subscribe()
	defer cancel()

	msg, err = e.tm.RequestStop(ctx, "grafana", "")
	if err != nil {
		t.Fatalf("RequestStop failed: %v", err)
	}
	if msg != "Tunnel stopped (reason: manual)" {
		t.Errorf("unexpected message: %s", msg)
	}
	if _, ok := e.tm.Get(ctx, "grafana"); ok {
		t.Error("record should be removed")
	}
	if e.sup.IsAlive(e.sup.handle(0)) {
		t.Error("process still alive")
	}
	if len(e.store.last().Tunnels) != 0 {
		t.Errorf("stopped tunnel still persisted: %+v", e.store.last().Tunnels)
	}

	// 主动停止只产生一个stopped事件，退出回调被忽略
	select {
	case ev := <-evs:
		if ev.Type != models.EventStopped || ev.Reason != "manual" {
			t.Errorf("unexpected event %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("missing stopped event")
	}
	select {
	case ev := <-evs:
		t.Errorf("unexpected extra event %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestStopTerminationTimeoutStillRemoves(t *testing.T) {
	e := newTestEnv(t, urlLine(testURL))
	ctx := context.Background()
	if _, err := e.tm.RequestStart(ctx, models.StartTunnelRequest{ServiceName: "grafana", Port: 3000}); err != nil {
		t.Fatal(err)
	}
	e.settle(t)
	e.sup.stopErr = newTunnelError(KindTerminationTimeout, "grafana", errBoom)

	msg, err := e.tm.RequestStop(ctx, "grafana", "manual")
	if err != nil || !strings.HasPrefix(msg, "Tunnel stopped") {
		t.Errorf("stop = %q %v", msg, err)
	}
	if _, ok := e.tm.Get(ctx, "grafana"); ok {
		t.Error("record should be removed even when termination is not confirmed")
	}
}

func TestStopAll(t *testing.T) {
	e := newTestEnv(t, urlLine(testURL))
	ctx := context.Background()
	for i, name := range []string{"a", "b", "c"} {
		if _, err := e.tm.RequestStart(ctx, models.StartTunnelRequest{ServiceName: name, Port: 3000 + i}); err != nil {
			t.Fatal(err)
		}
	}
	e.settle(t)

	if msg := e.tm.StopAll(ctx, ""); msg != "Stopped 3 tunnels" {
		t.Errorf("StopAll = %s", msg)
	}
	if n := len(e.tm.Snapshot(ctx)); n != 0 {
		t.Errorf("records left: %d", n)
	}
	for i := 0; i < 3; i++ {
		if e.sup.IsAlive(e.sup.handle(i)) {
			t.Errorf("process %d still alive", i)
		}
	}
	if msg := e.tm.StopAll(ctx, ""); msg != "Stopped 0 tunnels" {
		t.Errorf("second StopAll = %s", msg)
	}
}

func TestProcessExitMarksRecord(t *testing.T) {
	e := newTestEnv(t, urlLine(testURL))
	ctx := context.Background()
	if _, err := e.tm.RequestStart(ctx, models.StartTunnelRequest{ServiceName: "grafana", Port: 3000}); err != nil {
		t.Fatal(err)
	}
	e.settle(t)

	e.sup.handle(0).crash()
	v := e.view(t, "grafana")
	if v.IsRunning || v.URL != nil || v.TimeRemainingSeconds != nil {
		t.Errorf("dead tunnel reported as live: %+v", v)
	}
	if v.State != models.StateStopped {
		t.Errorf("state = %s", v.State)
	}
	total, running, _ := e.tm.Counts(ctx)
	if total != 1 || running != 0 {
		t.Errorf("counts = %d/%d", total, running)
	}

	// 新的启动请求替换死亡记录
	if _, err := e.tm.RequestStart(ctx, models.StartTunnelRequest{ServiceName: "grafana", Port: 3000}); err != nil {
		t.Fatal(err)
	}
	e.settle(t)
	if e.sup.started() != 2 || !e.view(t, "grafana").IsRunning {
		t.Error("dead record should be replaced by a new process")
	}
}

func TestStaleCaptureDiscarded(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	if _, err := e.tm.RequestStart(ctx, models.StartTunnelRequest{ServiceName: "grafana", Port: 3000}); err != nil {
		t.Fatal(err)
	}
	e.settle(t)

	e.tm.applyCapture("grafana", "previous-generation", CaptureResult{URL: testURL})
	if v := e.view(t, "grafana"); v.URL != nil {
		t.Errorf("capture of another generation applied: %v", *v.URL)
	}
	e.tm.applyCapture("unknown", "x", CaptureResult{URL: testURL})
	if _, ok := e.tm.Get(ctx, "unknown"); ok {
		t.Error("capture created a record")
	}
}

func TestStartValidation(t *testing.T) {
	e := newTestEnv(t)
	noBackend := NewTunnelManager(ManagerOptions{Supervisor: e.sup})
	cases := []struct {
		name string
		tm   *TunnelManager
		req  models.StartTunnelRequest
	}{
		{"empty name", e.tm, models.StartTunnelRequest{ServiceName: "  ", Port: 3000}},
		{"port zero", e.tm, models.StartTunnelRequest{ServiceName: "a", Port: 0}},
		{"port too large", e.tm, models.StartTunnelRequest{ServiceName: "a", Port: 65536}},
		{"zero duration", e.tm, models.StartTunnelRequest{ServiceName: "a", Port: 3000, DurationHours: hours(0)}},
		{"negative duration", e.tm, models.StartTunnelRequest{ServiceName: "a", Port: 3000, DurationHours: hours(-1)}},
		{"unknown type", e.tm, models.StartTunnelRequest{ServiceName: "a", Port: 3000, TunnelType: "vpn"}},
		{"persistent without domain", e.tm, models.StartTunnelRequest{ServiceName: "a", Port: 3000, TunnelType: "persistent"}},
		{"persistent without backend", noBackend, models.StartTunnelRequest{ServiceName: "a", Port: 3000, TunnelType: "persistent", CustomDomain: "a.example.com"}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := c.tm.RequestStart(context.Background(), c.req)
			if !IsValidation(err) {
				t.Errorf("expected validation error, got %v", err)
			}
		})
	}
	if e.sup.started() != 0 {
		t.Errorf("invalid requests spawned %d processes", e.sup.started())
	}
	if e.store.last() != nil {
		t.Error("invalid requests touched the store")
	}
}

func TestSpawnError(t *testing.T) {
	e := newTestEnv(t)
	e.sup.startErr = errBoom
	_, err := e.tm.RequestStart(context.Background(), models.StartTunnelRequest{ServiceName: "grafana", Port: 3000})
	if !errors.Is(err, ErrSpawn) || !errors.Is(err, errBoom) {
		t.Fatalf("expected spawn error wrapping boom, got %v", err)
	}
	if IsValidation(err) {
		t.Error("spawn error classified as validation")
	}
	if _, ok := e.tm.Get(context.Background(), "grafana"); ok {
		t.Error("failed spawn left a record")
	}
}

func TestPersistentTunnel(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	req := models.StartTunnelRequest{ServiceName: "app", Port: 8080, TunnelType: "persistent", CustomDomain: "app.example.com"}
	msg, err := e.tm.RequestStart(ctx, req)
	if err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	if !strings.Contains(msg, "https://app.example.com") {
		t.Errorf("unexpected message: %s", msg)
	}
	if e.backend.published["app.example.com"] != "http://10.0.0.2:8080" {
		t.Errorf("backend not updated: %v", e.backend.published)
	}
	if e.sup.started() != 0 {
		t.Error("persistent tunnel must not spawn a process")
	}

	v := e.view(t, "app")
	if v.TunnelType != models.KindPersistent || v.URL == nil || *v.URL != "https://app.example.com" || !v.IsRunning {
		t.Errorf("unexpected view: %+v", v)
	}
	if v.ExpirationTime != nil || v.TimeRemainingSeconds != nil {
		t.Error("persistent tunnels do not expire")
	}
	entry := e.store.last().Tunnels["app"]
	if entry.TunnelType != models.KindPersistent || entry.CustomDomain != "app.example.com" {
		t.Errorf("persisted entry = %+v", entry)
	}

	// 相同请求不会重复发布
	if _, err := e.tm.RequestStart(ctx, req); err != nil {
		t.Fatal(err)
	}

	if _, err := e.tm.RequestStop(ctx, "app", "manual"); err != nil {
		t.Fatal(err)
	}
	if len(e.backend.published) != 0 {
		t.Errorf("backend rule not removed: %v", e.backend.published)
	}

	e.backend.publishErr = errBoom
	if _, err := e.tm.RequestStart(ctx, req); !errors.Is(err, errBoom) {
		t.Errorf("backend error not returned: %v", err)
	}
	if _, ok := e.tm.Get(ctx, "app"); ok {
		t.Error("failed publish left a record")
	}
}

func TestRestorePlaceholders(t *testing.T) {
	e := newTestEnv(t)
	now := e.clock.Now()
	future := unixSeconds(now.Add(time.Hour))
	started := unixSeconds(now.Add(-time.Hour))
	blocked := "https://developers.cloudflare.com/docs"
	good := testURL
	e.store.state = &models.StateFile{
		Timestamp: started,
		Tunnels: map[string]models.StateEntry{
			"grafana": {URL: &blocked, Port: 3000, LocalURL: "http://10.0.0.2:3000", StartTime: &started, ExpirationTime: &future},
			"api":     {URL: &good, Port: 8080, LocalURL: "http://10.0.0.2:8080", StartTime: &started, ExpirationTime: &future},
			"app":     {Port: 80, LocalURL: "http://10.0.0.2:80", TunnelType: models.KindPersistent, CustomDomain: "app.example.com"},
		},
	}
	e.backend.published["app.example.com"] = "http://10.0.0.2:80"
	evs, cancel := e.events.Subscribe()
	defer cancel()

	if err := e.tm.Restore(context.Background()); err != nil {
		t.Fatalf("Restore failed: %v", err)
	}

	v := e.view(t, "grafana")
	if v.IsRunning || v.URL != nil || v.State != models.StateAwaitingRetry {
		t.Errorf("placeholder view = %+v", v)
	}
	if v.ExpirationTime == nil || *v.ExpirationTime != future {
		t.Errorf("expiration not restored: %v", v.ExpirationTime)
	}
	if v := e.view(t, "app"); !v.IsRunning || v.TunnelType != models.KindPersistent {
		t.Errorf("persistent view = %+v", v)
	}

	// 黑名单地址被清除并写回
	sf := e.store.last()
	if sf.Tunnels["grafana"].URL != nil {
		t.Errorf("blocklisted url kept: %v", *sf.Tunnels["grafana"].URL)
	}
	if u := sf.Tunnels["api"].URL; u == nil || *u != testURL {
		t.Errorf("valid url lost: %v", u)
	}

	n := 0
	for {
		select {
		case ev := <-evs:
			if ev.Type != models.EventRestored {
				t.Errorf("unexpected event %+v", ev)
			}
			n++
			continue
		case <-time.After(50 * time.Millisecond):
		}
		break
	}
	if n != 3 {
		t.Errorf("restored events = %d", n)
	}

	// 占位记录可以被新的启动请求替换
	if _, err := e.tm.RequestStart(context.Background(), models.StartTunnelRequest{ServiceName: "grafana", Port: 3000}); err != nil {
		t.Fatal(err)
	}
	if e.sup.started() != 1 {
		t.Errorf("placeholder should be replaced by a spawn, started=%d", e.sup.started())
	}
}

func TestRestoreLoadError(t *testing.T) {
	e := newTestEnv(t)
	e.store.loadErr = errBoom
	err := e.tm.Restore(context.Background())
	if !errors.Is(err, ErrPersistence) {
		t.Errorf("expected persistence error, got %v", err)
	}
}

func TestPersistenceFailureDoesNotFailStart(t *testing.T) {
	e := newTestEnv(t, urlLine(testURL))
	e.store.saveErr = errBoom
	if _, err := e.tm.RequestStart(context.Background(), models.StartTunnelRequest{ServiceName: "grafana", Port: 3000}); err != nil {
		t.Fatalf("save failure must not fail the request: %v", err)
	}
	e.settle(t)
	if v := e.view(t, "grafana"); v.URL == nil {
		t.Error("url should still be captured in memory")
	}
}

func TestShutdownRefusesStarts(t *testing.T) {
	e := newTestEnv(t, urlLine(testURL))
	ctx := context.Background()
	if _, err := e.tm.RequestStart(ctx, models.StartTunnelRequest{ServiceName: "grafana", Port: 3000}); err != nil {
		t.Fatal(err)
	}
	e.settle(t)
	e.tm.Start(ctx)

	if msg := e.tm.Shutdown(ctx); msg != "Stopped 1 tunnels" {
		t.Errorf("Shutdown = %s", msg)
	}
	if e.sup.IsAlive(e.sup.handle(0)) {
		t.Error("process alive after shutdown")
	}
	if _, err := e.tm.RequestStart(ctx, models.StartTunnelRequest{ServiceName: "grafana", Port: 3000}); err == nil {
		t.Error("start accepted after shutdown")
	}
}

func TestDebugInfo(t *testing.T) {
	e := newTestEnv(t, urlLine(testURL))
	ctx := context.Background()
	if _, err := e.tm.RequestStart(ctx, models.StartTunnelRequest{ServiceName: "grafana", Port: 3000}); err != nil {
		t.Fatal(err)
	}
	e.settle(t)

	d := e.tm.Debug(ctx)
	if d.ActiveTunnelsCount != 1 || d.LocalIP != "10.0.0.2" {
		t.Errorf("debug = %+v", d)
	}
	rec := d.Records["grafana"]
	if !rec.IsRunning || rec.Pid != e.sup.handle(0).Pid() || rec.URL != testURL || rec.Generation == "" {
		t.Errorf("record debug = %+v", rec)
	}
	if len(rec.StderrTail) != 1 {
		t.Errorf("stderr tail = %v", rec.StderrTail)
	}
	if d.AgentProcesses == nil {
		t.Error("agent processes should be an empty list, not null")
	}
}

// aliveHandles 仍在运行的假进程数量
func (s *fakeSupervisor) aliveHandles() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, h := range s.handles {
		if h.alive.Load() {
			n++
		}
	}
	return n
}

/**
 * TestConcurrentOperationsOnOneName 同一服务名上并发启动、停止、巡检
 * @description
 * - 任何时刻最多一个记录、最多一个存活进程
 * - 结束后服务名锁全部释放
 */
func TestConcurrentOperationsOnOneName(t *testing.T) {
	e := newTestEnv(t, urlLine(testURL))
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			switch i % 4 {
			case 0, 1:
				e.tm.RequestStart(ctx, models.StartTunnelRequest{ServiceName: "grafana", Port: 3000 + i%3})
			case 2:
				e.tm.RequestStop(ctx, "grafana", "manual")
			case 3:
				e.tm.Sweeper().Sweep(ctx)
			}
			if n := e.sup.aliveHandles(); n > 1 {
				t.Errorf("%d live agents for one name", n)
			}
		}(i)
	}
	wg.Wait()
	e.settle(t)

	e.tm.mu.Lock()
	records := len(e.tm.records)
	locks := len(e.tm.nameLocks)
	e.tm.mu.Unlock()

	alive := e.sup.aliveHandles()
	if records > 1 || alive > 1 {
		t.Fatalf("records=%d alive=%d", records, alive)
	}
	if records == 0 && alive != 0 {
		t.Errorf("agent left running without a record")
	}
	if records == 1 {
		if v := e.view(t, "grafana"); v.IsRunning != (alive == 1) {
			t.Errorf("view running=%v, live agents=%d", v.IsRunning, alive)
		}
	}
	if locks != 0 {
		t.Errorf("name locks not released: %d", locks)
	}
}

func TestNameLocksReleased(t *testing.T) {
	e := newTestEnv(t, urlLine(testURL))
	ctx := context.Background()
	for i, name := range []string{"a", "b", "c"} {
		if _, err := e.tm.RequestStart(ctx, models.StartTunnelRequest{ServiceName: name, Port: 3000 + i}); err != nil {
			t.Fatal(err)
		}
		if _, err := e.tm.RequestStop(ctx, name, ""); err != nil {
			t.Fatal(err)
		}
	}
	e.tm.RequestStop(ctx, "never-started", "")
	e.settle(t)

	e.tm.mu.Lock()
	defer e.tm.mu.Unlock()
	if len(e.tm.nameLocks) != 0 {
		t.Errorf("name locks kept after removal: %v", len(e.tm.nameLocks))
	}
}
