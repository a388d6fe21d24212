package parser

import (
	"time"

	"go.uber.org/zap"

	"padel-finder/clubs"
	"padel-finder/config"
	"padel-finder/session"
	"padel-finder/types"
)

var defaultBaseURLs = map[string]string{
	clubs.IndoorAix:  "https://padel-indoor-aix.fr",
	clubs.AllInPadel: "https://api.allinpadel.fr",
	clubs.CasaPadel:  "https://api-v3.doinsport.club",
	clubs.UrbanPadel: "https://urbanpadel-marseille.fr",
	clubs.Pertuis:    "https://padelclubpertuis.gestion-sports.com",
	clubs.LeFive:     "https://lefive.fr",
	clubs.ArenaPadel: "https://api.padelarena-vitrolles.fr",
}

// Registry holds the enabled adapters in club table order.
type Registry struct {
	adapters []Adapter
	byID     map[string]Adapter
}

// NewRegistry indexes adapters by club id. Later duplicates are ignored.
func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{byID: make(map[string]Adapter, len(adapters))}
	for _, a := range adapters {
		if _, dup := r.byID[a.ClubID()]; dup {
			continue
		}
		r.adapters = append(r.adapters, a)
		r.byID[a.ClubID()] = a
	}
	return r
}

// Get returns the adapter of a club.
func (r *Registry) Get(clubID string) (Adapter, bool) {
	a, ok := r.byID[clubID]
	return a, ok
}

// All returns every enabled adapter.
func (r *Registry) All() []Adapter {
	out := make([]Adapter, len(r.adapters))
	copy(out, r.adapters)
	return out
}

// Sessions returns the session stores of every authenticated adapter.
func (r *Registry) Sessions() []*session.Store {
	var out []*session.Store
	for _, a := range r.adapters {
		if sr, ok := a.(SessionRefresher); ok {
			out = append(out, sr.Sessions()...)
		}
	}
	return out
}

// Build creates the adapters enabled by cfg. A club whose credentials are
// missing is skipped with a warning; the others still run.
func Build(cfg *config.Config, backend session.Backend, deps Deps) *Registry {
	deps = deps.withDefaults()
	log := deps.Log

	storeOpts := func(names ...string) []session.Option {
		opts := []session.Option{
			session.WithMetrics(deps.Metrics),
			session.WithClock(deps.Now),
			session.WithRefreshTimeout(cfg.BrowserTimeout + 15*time.Second),
		}
		if len(names) > 0 {
			opts = append(opts, session.WithCookieNames(names...))
		}
		return opts
	}

	var adapters []Adapter
	for _, club := range clubs.All() {
		baseURL := baseURLFor(cfg, club)
		switch club.ID {
		case clubs.IndoorAix:
			creds, ok := cfg.Credentials[club.ID]
			if !ok {
				log.Warn("⚠️ club disabled: no credentials", zap.String("club", club.ID))
				continue
			}
			auth := &session.BrowserLogin{
				LoginURL:         baseURL + "/connexion",
				UsernameSelector: "#email",
				PasswordSelector: "#password",
				SubmitSelector:   "button[type='submit']",
				ReadySelector:    ".mon-compte",
				Username:         creds.Username,
				Password:         creds.Password,
				ChromePath:       cfg.ChromePath,
				Timeout:          cfg.BrowserTimeout,
			}
			store := session.NewStore(club.ID, backend, auth, log, storeOpts("remember_me")...)
			adapters = append(adapters, NewIndoorAix(club, baseURL, store, deps))

		case clubs.LeFive:
			creds, ok := cfg.Credentials[club.ID]
			if !ok {
				log.Warn("⚠️ club disabled: no credentials", zap.String("club", club.ID))
				continue
			}
			auth := &session.BrowserLogin{
				LoginURL:         baseURL + "/login",
				UsernameSelector: "input[name='email']",
				PasswordSelector: "input[name='password']",
				SubmitSelector:   "button[type='submit']",
				ReadySelector:    ".user-menu",
				Username:         creds.Username,
				Password:         creds.Password,
				ChromePath:       cfg.ChromePath,
				Timeout:          cfg.BrowserTimeout,
			}
			store := session.NewStore(club.ID, backend, auth, log, storeOpts("lefive_session")...)
			adapters = append(adapters, NewLeFive(club, baseURL, store, deps))

		case clubs.Pertuis:
			list := cfg.Accounts[club.ID]
			if len(list) == 0 {
				if creds, ok := cfg.Credentials[club.ID]; ok {
					list = []config.Credentials{creds}
				}
			}
			if len(list) == 0 {
				log.Warn("⚠️ club disabled: no accounts", zap.String("club", club.ID))
				continue
			}
			accounts := make([]*session.Account, 0, len(list))
			for _, creds := range list {
				auth := &session.FormLogin{
					LoginURL:       baseURL + "/connexion.php",
					UsernameField:  "email",
					PasswordField:  "pass",
					Username:       creds.Username,
					Password:       creds.Password,
					RequiredCookie: "COOK_COMPTE",
				}
				key := club.ID + ":" + creds.Username
				accounts = append(accounts, &session.Account{
					Username: creds.Username,
					Store:    session.NewStore(key, backend, auth, log, storeOpts("COOK_COMPTE")...),
				})
			}
			adapters = append(adapters, NewPertuis(club, baseURL, session.NewPool(accounts), deps))

		case clubs.ArenaPadel:
			key := cfg.APIKeys[club.ID]
			if key == "" {
				log.Warn("⚠️ club disabled: no api key", zap.String("club", club.ID))
				continue
			}
			adapters = append(adapters, NewArena(club, baseURL, key, deps))

		case clubs.AllInPadel:
			adapters = append(adapters, NewAllInPadel(club, baseURL, deps))
		case clubs.CasaPadel:
			adapters = append(adapters, NewCasaPadel(club, baseURL, deps))
		case clubs.UrbanPadel:
			adapters = append(adapters, NewUrbanPadel(club, baseURL, deps))
		}
	}

	log.Info("🎾 adapters enabled", zap.Int("count", len(adapters)))
	return NewRegistry(adapters...)
}

func baseURLFor(cfg *config.Config, club types.Club) string {
	if u := cfg.BaseURLs[club.ID]; u != "" {
		return u
	}
	return defaultBaseURLs[club.ID]
}
