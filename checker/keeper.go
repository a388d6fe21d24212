package checker

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"padel-finder/session"
)

const (
	renewBefore                 = 72 * time.Hour
	defaultSessionCheckInterval = 24 * time.Hour
)

// SessionKeeper renews login sessions before they lapse, so searches do
// not pay for a browser login.
type SessionKeeper struct {
	stores      []*session.Store
	notify      Notifier
	adminChatID int64
	log         *zap.Logger
	now         func() time.Time
}

func NewSessionKeeper(stores []*session.Store, notify Notifier, adminChatID int64, log *zap.Logger) *SessionKeeper {
	return &SessionKeeper{
		stores:      stores,
		notify:      notify,
		adminChatID: adminChatID,
		log:         log.Named("sessions"),
		now:         time.Now,
	}
}

// Run checks immediately and then every interval until ctx ends. A
// non-positive interval falls back to 24 hours.
func (k *SessionKeeper) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = defaultSessionCheckInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		k.CheckAll(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// CheckAll refreshes every session that is missing or expires within 72
// hours. Stores are handled one at a time; a failure is reported and left
// for the next pass.
func (k *SessionKeeper) CheckAll(ctx context.Context) (refreshed, failed int) {
	for _, st := range k.stores {
		if ctx.Err() != nil {
			return refreshed, failed
		}
		log := k.log.With(zap.String("session", st.Key()))

		if rec := st.GetValid(ctx); rec != nil {
			left := time.UnixMilli(rec.ExpiresAt).Sub(k.now())
			if left > renewBefore {
				log.Debug("session still fresh", zap.Duration("expires_in", left))
				continue
			}
			log.Info("🍪 session expires soon, renewing", zap.Duration("expires_in", left))
		} else {
			log.Info("🔐 no valid session, logging in", zap.String("state", st.State().String()))
		}

		rec, err := st.Refresh(ctx)
		if err != nil {
			failed++
			log.Error("❌ session renewal failed", zap.Error(err))
			k.alert(ctx, fmt.Sprintf("⚠️ Connexion impossible pour %s : %v", st.Key(), err))
			continue
		}
		refreshed++
		log.Info("✅ session renewed", zap.Time("expires_at", time.UnixMilli(rec.ExpiresAt)))
	}
	return refreshed, failed
}

func (k *SessionKeeper) alert(ctx context.Context, text string) {
	if k.notify == nil || k.adminChatID == 0 {
		return
	}
	if err := k.notify.Notify(ctx, k.adminChatID, text); err != nil {
		k.log.Warn("⚠️ session alert not delivered", zap.Error(err))
	}
}
