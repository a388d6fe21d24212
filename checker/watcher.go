package checker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"padel-finder/aggregator"
	"padel-finder/types"
)

const (
	dayInterval   = 20 * time.Minute
	nightInterval = 3 * time.Hour
	daysAhead     = 7
)

// Searcher runs one availability search.
type Searcher interface {
	Search(ctx context.Context, q aggregator.Query) ([]types.Slot, error)
}

// WatchStore is the storage used by the Watcher.
type WatchStore interface {
	ListWatches(ctx context.Context) ([]*types.Watch, error)
	GetWatch(ctx context.Context, chatID int64) (*types.Watch, error)
	GetLastSlots(ctx context.Context, chatID int64) ([]string, error)
	SaveLastSlots(ctx context.Context, chatID int64, ids []string) error
}

// Watcher periodically re-runs every stored watch and notifies the chat
// about slots it has not been told about yet.
type Watcher struct {
	search Searcher
	store  WatchStore
	notify Notifier
	log    *zap.Logger
	loc    *time.Location
	now    func() time.Time
}

func NewWatcher(search Searcher, store WatchStore, notify Notifier, loc *time.Location, log *zap.Logger) *Watcher {
	if loc == nil {
		loc = time.UTC
	}
	return &Watcher{
		search: search,
		store:  store,
		notify: notify,
		log:    log.Named("watcher"),
		loc:    loc,
		now:    time.Now,
	}
}

// Interval returns the pause before the next pass: 3 hours between 01:00
// and 08:00, 20 minutes otherwise.
func Interval(t time.Time) time.Duration {
	if h := t.Hour(); h >= 1 && h < 8 {
		return nightInterval
	}
	return dayInterval
}

// Run primes the notification state of existing watches, then checks them
// on the adaptive interval until ctx ends.
func (w *Watcher) Run(ctx context.Context) {
	w.log.Info("🔍 watcher started")
	w.Prime(ctx)

	for {
		wait := Interval(w.now().In(w.loc))
		w.log.Debug("next watch pass", zap.Duration("in", wait))
		select {
		case <-ctx.Done():
			w.log.Info("🛑 watcher stopped")
			return
		case <-time.After(wait):
		}
		w.CheckAll(ctx)
	}
}

// Prime records the current slots of every watch without notifying, so a
// restart does not resend what users already saw.
func (w *Watcher) Prime(ctx context.Context) {
	watches, err := w.store.ListWatches(ctx)
	if err != nil {
		w.log.Error("list watches", zap.Error(err))
		return
	}
	for _, watch := range watches {
		slots := w.collect(ctx, watch)
		if err := w.store.SaveLastSlots(ctx, watch.ChatID, slotIDs(slots)); err != nil {
			w.log.Warn("save last slots", zap.Int64("chat_id", watch.ChatID), zap.Error(err))
		}
	}
	w.log.Info("📋 watch state primed", zap.Int("watches", len(watches)))
}

// CheckAll runs one pass over every stored watch.
func (w *Watcher) CheckAll(ctx context.Context) {
	watches, err := w.store.ListWatches(ctx)
	if err != nil {
		w.log.Error("list watches", zap.Error(err))
		return
	}
	for _, watch := range watches {
		if ctx.Err() != nil {
			return
		}
		if err := w.check(ctx, watch, false); err != nil {
			w.log.Warn("⚠️ watch check failed", zap.Int64("chat_id", watch.ChatID), zap.Error(err))
		}
	}
}

// CheckNow evaluates the watch of a chat immediately and sends every slot
// currently available, not only the new ones.
func (w *Watcher) CheckNow(ctx context.Context, chatID int64) error {
	watch, err := w.store.GetWatch(ctx, chatID)
	if err != nil {
		return fmt.Errorf("load watch %d: %w", chatID, err)
	}
	if watch == nil {
		return fmt.Errorf("no watch for chat %d", chatID)
	}
	return w.check(ctx, watch, true)
}

func (w *Watcher) check(ctx context.Context, watch *types.Watch, initial bool) error {
	current := w.collect(ctx, watch)

	toSend := current
	if !initial {
		last, err := w.store.GetLastSlots(ctx, watch.ChatID)
		if err != nil {
			return fmt.Errorf("load last slots: %w", err)
		}
		toSend = newSlots(current, last)
		if len(toSend) == 0 {
			return nil
		}
	}

	var notifyErr error
	if len(toSend) > 0 {
		header := "🆕 Nouveaux créneaux disponibles !"
		if initial {
			header = "🎾 Créneaux disponibles actuellement :"
		}
		notifyErr = w.send(ctx, watch.ChatID, header, toSend)
	} else if initial {
		notifyErr = w.notify.Notify(ctx, watch.ChatID, "Aucun créneau disponible pour le moment. Je te préviens dès qu'un terrain se libère.")
	}

	if err := w.store.SaveLastSlots(ctx, watch.ChatID, slotIDs(current)); err != nil {
		return errors.Join(notifyErr, fmt.Errorf("save last slots: %w", err))
	}
	w.log.Info("watch checked",
		zap.Int64("chat_id", watch.ChatID),
		zap.Int("slots", len(current)),
		zap.Int("sent", len(toSend)),
	)
	return notifyErr
}

func (w *Watcher) send(ctx context.Context, chatID int64, header string, slots []types.Slot) error {
	if err := w.notify.Notify(ctx, chatID, header); err != nil {
		return err
	}
	for _, text := range FormatSlots(slots) {
		if err := w.notify.Notify(ctx, chatID, text); err != nil {
			return err
		}
	}
	return nil
}

// collect searches every matching date of the next week. A failed date is
// logged and skipped.
func (w *Watcher) collect(ctx context.Context, watch *types.Watch) []types.Slot {
	var out []types.Slot
	seen := make(map[string]bool)
	for _, date := range matchingDates(w.now().In(w.loc), watch.Days, daysAhead) {
		slots, err := w.search.Search(ctx, aggregator.Query{
			Date:      date,
			StartHour: watch.HourFrom,
			EndHour:   watch.HourTo,
			Lat:       watch.Lat,
			Lon:       watch.Lon,
			RadiusKm:  watch.RadiusKm,
		})
		if err != nil {
			w.log.Warn("⚠️ watch search failed", zap.Int64("chat_id", watch.ChatID), zap.String("date", date), zap.Error(err))
			continue
		}
		for _, s := range slots {
			id := s.UniqueID()
			if seen[id] {
				continue
			}
			seen[id] = true
			out = append(out, s)
		}
	}
	return out
}

// matchingDates returns the dates of the next n days, today included,
// whose weekday ("Mon", "Tue", ...) is in days.
func matchingDates(now time.Time, days []string, n int) []string {
	wanted := make(map[string]bool, len(days))
	for _, d := range days {
		wanted[d] = true
	}
	var dates []string
	for i := 0; i < n; i++ {
		d := now.AddDate(0, 0, i)
		if wanted[d.Weekday().String()[:3]] {
			dates = append(dates, d.Format("2006-01-02"))
		}
	}
	return dates
}

func newSlots(current []types.Slot, last []string) []types.Slot {
	seen := make(map[string]bool, len(last))
	for _, id := range last {
		seen[id] = true
	}
	var out []types.Slot
	for _, s := range current {
		if !seen[s.UniqueID()] {
			out = append(out, s)
		}
	}
	return out
}

func slotIDs(slots []types.Slot) []string {
	ids := make([]string, 0, len(slots))
	for _, s := range slots {
		ids = append(ids, s.UniqueID())
	}
	return ids
}
