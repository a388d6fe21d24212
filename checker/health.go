package checker

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"padel-finder/metrics"
	"padel-finder/parser"
)

// Status is the last probe result of one adapter.
type Status struct {
	Club      string    `json:"club"`
	Up        bool      `json:"up"`
	CheckedAt time.Time `json:"checkedAt"`
	// Since is when the adapter entered its current state.
	Since time.Time `json:"since"`
}

const defaultHealthInterval = 30 * time.Minute

// HealthChecker probes every adapter with TestConnection and alerts the
// admin chat when one goes down or comes back.
type HealthChecker struct {
	adapters    []parser.Adapter
	metrics     metrics.Recorder
	notify      Notifier
	adminChatID int64
	log         *zap.Logger
	now         func() time.Time

	mu     sync.RWMutex
	status map[string]Status
}

// NewHealthChecker creates a checker. notify may be nil, and alerts are
// only sent when adminChatID is set.
func NewHealthChecker(adapters []parser.Adapter, rec metrics.Recorder, notify Notifier, adminChatID int64, log *zap.Logger) *HealthChecker {
	if rec == nil {
		rec = metrics.Nop{}
	}
	return &HealthChecker{
		adapters:    adapters,
		metrics:     rec,
		notify:      notify,
		adminChatID: adminChatID,
		log:         log.Named("health"),
		now:         time.Now,
		status:      make(map[string]Status),
	}
}

// Run checks immediately and then every interval until ctx ends. A
// non-positive interval falls back to 30 minutes.
func (h *HealthChecker) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = defaultHealthInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		h.CheckAll(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// CheckAll probes every adapter concurrently and returns the new snapshot.
func (h *HealthChecker) CheckAll(ctx context.Context) []Status {
	results := make([]bool, len(h.adapters))
	var wg sync.WaitGroup
	for i, a := range h.adapters {
		wg.Add(1)
		go func(i int, a parser.Adapter) {
			defer wg.Done()
			results[i] = a.TestConnection(ctx)
		}(i, a)
	}
	wg.Wait()

	if ctx.Err() != nil {
		return h.Snapshot()
	}
	for i, a := range h.adapters {
		h.record(ctx, a.ClubID(), results[i])
	}
	return h.Snapshot()
}

func (h *HealthChecker) record(ctx context.Context, club string, up bool) {
	now := h.now()
	h.metrics.SetAdapterUp(club, up)

	h.mu.Lock()
	prev, known := h.status[club]
	st := Status{Club: club, Up: up, CheckedAt: now, Since: now}
	if known && prev.Up == up {
		st.Since = prev.Since
	}
	h.status[club] = st
	h.mu.Unlock()

	// An adapter never seen before counts as up.
	wasUp := !known || prev.Up
	switch {
	case wasUp && !up:
		h.log.Warn("🔴 adapter down", zap.String("club", club))
		h.alert(ctx, fmt.Sprintf("🔴 %s ne répond plus.", club))
	case !wasUp && up:
		h.log.Info("🟢 adapter back up", zap.String("club", club), zap.Duration("down_for", now.Sub(prev.Since)))
		h.alert(ctx, fmt.Sprintf("🟢 %s répond de nouveau.", club))
	}
}

func (h *HealthChecker) alert(ctx context.Context, text string) {
	if h.notify == nil || h.adminChatID == 0 {
		return
	}
	if err := h.notify.Notify(ctx, h.adminChatID, text); err != nil {
		h.log.Warn("⚠️ health alert not delivered", zap.Error(err))
	}
}

// Snapshot returns the last known status of every probed adapter, sorted
// by club id.
func (h *HealthChecker) Snapshot() []Status {
	h.mu.RLock()
	out := make([]Status, 0, len(h.status))
	for _, st := range h.status {
		out = append(out, st)
	}
	h.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Club < out[j].Club })
	return out
}
