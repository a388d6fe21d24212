package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"padel-finder/clubs"
)

// Credentials is one login for a club booking portal.
type Credentials struct {
	Username string
	Password string
}

// Empty reports whether the credentials are unusable.
func (c Credentials) Empty() bool {
	return c.Username == "" || c.Password == ""
}

// Config is read once at start and treated as immutable.
type Config struct {
	Environment string
	HTTPAddr    string
	Timezone    string

	// Redis
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Sessions
	SessionBackend       string // file | redis
	SessionDir           string
	SessionCheckInterval time.Duration
	BrowserTimeout       time.Duration
	ChromePath           string

	// Telegram
	TelegramToken string
	AdminChatID   int64

	// Health
	HealthInterval time.Duration

	// Per club, keyed by club id
	Credentials map[string]Credentials
	Accounts    map[string][]Credentials
	APIKeys     map[string]string
	BaseURLs    map[string]string
}

// Load reads .env (if any) and the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(".env"); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg := &Config{
		Environment:          getEnvString("ENV", "development"),
		HTTPAddr:             getEnvString("HTTP_ADDR", ":8080"),
		Timezone:             getEnvString("TIMEZONE", "Europe/Paris"),
		RedisAddr:            os.Getenv("REDIS_ADDR"),
		RedisPassword:        os.Getenv("REDIS_PASSWORD"),
		RedisDB:              getEnvInt("REDIS_DB", 0),
		SessionBackend:       getEnvString("SESSION_BACKEND", "file"),
		SessionDir:           getEnvString("SESSION_DIR", "./sessions"),
		SessionCheckInterval: getEnvDuration("SESSION_CHECK_INTERVAL", 24*time.Hour),
		BrowserTimeout:       getEnvDuration("BROWSER_TIMEOUT", 45*time.Second),
		ChromePath:           os.Getenv("CHROME_PATH"),
		TelegramToken:        os.Getenv("TELEGRAM_BOT_TOKEN"),
		AdminChatID:          getEnvInt64("TELEGRAM_ADMIN_CHAT_ID", 0),
		HealthInterval:       getEnvDuration("HEALTH_INTERVAL", 30*time.Minute),
		Credentials:          make(map[string]Credentials),
		Accounts:             make(map[string][]Credentials),
		APIKeys:              make(map[string]string),
		BaseURLs:             make(map[string]string),
	}

	switch cfg.SessionBackend {
	case "file", "redis":
	default:
		return nil, fmt.Errorf("SESSION_BACKEND must be file or redis, got %q", cfg.SessionBackend)
	}
	if cfg.SessionBackend == "redis" && cfg.RedisAddr == "" {
		return nil, fmt.Errorf("SESSION_BACKEND=redis requires REDIS_ADDR")
	}

	for _, c := range clubs.All() {
		prefix := EnvPrefix(c.ID)
		creds := Credentials{
			Username: os.Getenv(prefix + "_USERNAME"),
			Password: os.Getenv(prefix + "_PASSWORD"),
		}
		if !creds.Empty() {
			cfg.Credentials[c.ID] = creds
		}
		if accounts := ParseAccounts(os.Getenv(prefix + "_ACCOUNTS")); len(accounts) > 0 {
			cfg.Accounts[c.ID] = accounts
		}
		if key := os.Getenv(prefix + "_API_KEY"); key != "" {
			cfg.APIKeys[c.ID] = key
		}
		if base := os.Getenv(prefix + "_BASE_URL"); base != "" {
			cfg.BaseURLs[c.ID] = strings.TrimRight(base, "/")
		}
	}

	return cfg, nil
}

// EnvPrefix turns a club id into its environment prefix:
// "padel-indoor-aix" -> "PADEL_INDOOR_AIX".
func EnvPrefix(clubID string) string {
	return strings.ToUpper(strings.ReplaceAll(clubID, "-", "_"))
}

// ParseAccounts parses "user:pass,user2:pass2". Malformed entries are skipped.
func ParseAccounts(v string) []Credentials {
	var out []Credentials
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		user, pass, ok := strings.Cut(part, ":")
		if !ok {
			continue
		}
		c := Credentials{Username: strings.TrimSpace(user), Password: pass}
		if c.Empty() {
			continue
		}
		out = append(out, c)
	}
	return out
}

// Location loads the configured time zone, falling back to UTC.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return defaultVal
	}
	return d
}
