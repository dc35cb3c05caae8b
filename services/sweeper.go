package services

import (
	"context"
	"sync"
	"time"

	"tunnel-keeper/internal/logger"
	"tunnel-keeper/internal/models"
)

const (
	defaultSweepInterval  = 30 * time.Second
	defaultSweepTolerance = 60 * time.Second
)

// SweepResult 一次巡检的结果
type SweepResult struct {
	Removed int
	Expired int
	Errors  int
}

/**
 * Sweeper 定期清理死亡和过期的临时隧道
 * @property {time.Duration} interval - 巡检周期
 * @property {time.Duration} tolerance - 死亡记录过期后保留的时间
 * @description
 * - 死亡且不在捕获中的记录：没有过期时间或过期超过tolerance则删除
 * - 存活但已到期的记录：以"expired"原因停止
 * - 持久隧道不参与巡检
 */
type Sweeper struct {
	tm        *TunnelManager
	interval  time.Duration
	tolerance time.Duration
	log       logger.Logger

	mu      sync.Mutex
	stopCh  chan struct{}
	doneCh  chan struct{}
	started bool
	stopped bool
}

func NewSweeper(tm *TunnelManager, interval, tolerance time.Duration, log logger.Logger) *Sweeper {
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	if tolerance <= 0 {
		tolerance = defaultSweepTolerance
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Sweeper{
		tm:        tm,
		interval:  interval,
		tolerance: tolerance,
		log:       log,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Start 启动巡检协程，第一次巡检在一个周期之后
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.stopped {
		return
	}
	s.started = true
	s.log.Info("starting expiration sweeper", logger.Duration("interval", s.interval), logger.Duration("tolerance", s.tolerance))

	go func() {
		defer close(s.doneCh)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.Sweep(ctx)
			case <-s.stopCh:
				s.log.Info("expiration sweeper stopped")
				return
			case <-ctx.Done():
				s.log.Info("expiration sweeper stopped (context cancelled)")
				return
			}
		}
	}()
}

// Stop 通知巡检协程退出，可重复调用
func (s *Sweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.stopped = true
	close(s.stopCh)
}

// Wait 等待巡检协程退出，超时返回false；未启动过直接返回true
func (s *Sweeper) Wait(timeout time.Duration) bool {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if !started {
		return true
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-s.doneCh:
		return true
	case <-timer.C:
		return false
	}
}

/**
 * Sweep runs one pass over the registry
 * @param {context.Context} ctx - passed to the stops
 * @returns {SweepResult} counts of removed and expired records
 * @description
 * - Decisions are re-checked under the registry lock before acting
 * - A failure on one record does not abort the pass
 */
func (s *Sweeper) Sweep(ctx context.Context) SweepResult {
	var res SweepResult
	now := s.tm.now()
	cutoff := now.Add(-s.tolerance)

	for _, it := range s.tm.sweepItems() {
		switch {
		case !it.alive:
			if it.capturing {
				continue
			}
			if it.expiresAt.IsZero() || it.expiresAt.Before(cutoff) {
				if s.tm.removeDead(ctx, it.name, it.generation, cutoff) {
					res.Removed++
					sweepRemoved.Inc()
				}
			}
		case !it.expiresAt.IsZero() && !now.Before(it.expiresAt):
			expired, err := s.tm.expire(ctx, it.name, it.generation)
			if err != nil {
				res.Errors++
				s.log.Warn("stop of expired tunnel not confirmed", logger.String("service", it.name), logger.Err(err))
			}
			if expired {
				res.Expired++
			}
		}
	}
	sweepsTotal.Inc()
	if res.Removed > 0 || res.Expired > 0 || res.Errors > 0 {
		s.log.Info("sweep finished",
			logger.Int("removed", res.Removed),
			logger.Int("expired", res.Expired),
			logger.Int("errors", res.Errors))
	}
	return res
}

type sweepItem struct {
	name       string
	generation string
	alive      bool
	capturing  bool
	expiresAt  time.Time
}

// sweepItems 临时隧道的巡检视图
func (tm *TunnelManager) sweepItems() []sweepItem {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	items := make([]sweepItem, 0, len(tm.records))
	for name, rec := range tm.records {
		eph := rec.ephemeral
		if eph == nil {
			continue
		}
		tm.reconcileLocked(rec)
		items = append(items, sweepItem{
			name:       name,
			generation: eph.generation,
			alive:      tm.sup.IsAlive(eph.handle),
			capturing:  eph.capturing,
			expiresAt:  eph.expiresAt,
		})
	}
	return items
}

// removeDead 在锁内复查后删除死亡记录
func (tm *TunnelManager) removeDead(ctx context.Context, name, generation string, cutoff time.Time) bool {
	unlock := tm.lockName(name)
	defer unlock()

	tm.mu.Lock()
	rec := tm.records[name]
	if rec == nil || rec.ephemeral == nil || rec.ephemeral.generation != generation {
		tm.mu.Unlock()
		return false
	}
	eph := rec.ephemeral
	if tm.sup.IsAlive(eph.handle) || eph.capturing ||
		(!eph.expiresAt.IsZero() && !eph.expiresAt.Before(cutoff)) {
		tm.mu.Unlock()
		return false
	}
	delete(tm.records, name)
	ev := tm.eventLocked(models.EventRemoved, rec, "dead")
	sf, seq := tm.stateLocked()
	tm.mu.Unlock()

	tm.save(ctx, sf, seq)
	tm.events.Publish(ev)
	tm.log.Info("removed dead tunnel record", logger.String("service", name), logger.String("state", string(rec.state)))
	return true
}

// expire 在名字锁内复查，仍然存活且到期时停止
func (tm *TunnelManager) expire(ctx context.Context, name, generation string) (bool, error) {
	unlock := tm.lockName(name)
	defer unlock()

	tm.mu.Lock()
	rec := tm.records[name]
	ok := rec != nil && rec.ephemeral != nil && rec.ephemeral.generation == generation &&
		tm.sup.IsAlive(rec.ephemeral.handle) &&
		!rec.ephemeral.expiresAt.IsZero() && !tm.now().Before(rec.ephemeral.expiresAt)
	tm.mu.Unlock()
	if !ok {
		return false, nil
	}
	tm.log.Info("tunnel expired", logger.String("service", name))
	return true, tm.teardown(ctx, rec, "expired")
}
