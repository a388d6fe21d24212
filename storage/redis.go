package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"padel-finder/types"
)

const (
	lastSlotsTTL = 24 * time.Hour
	locationTTL  = 30 * 24 * time.Hour
	// sessionGrace keeps an expired session record around for inspection.
	sessionGrace = 7 * 24 * time.Hour
)

// Storage keeps watches, notification state, user locations and login
// sessions in Redis.
type Storage struct {
	client *redis.Client
	now    func() time.Time
}

func New(addr, password string, db int) *Storage {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return NewFromClient(rdb)
}

// NewFromClient wraps an existing client.
func NewFromClient(client *redis.Client) *Storage {
	return &Storage{client: client, now: time.Now}
}

func watchKey(chatID int64) string  { return fmt.Sprintf("watch:%d", chatID) }
func slotsKey(chatID int64) string  { return fmt.Sprintf("slots:%d", chatID) }
func locKey(chatID int64) string    { return fmt.Sprintf("loc:%d", chatID) }
func sessionKey(name string) string { return "session:" + name }

// ===== Watches =====

// SaveWatch stores the watch of a chat, replacing the previous one.
func (s *Storage) SaveWatch(ctx context.Context, w *types.Watch) error {
	data, err := json.Marshal(w)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, watchKey(w.ChatID), data, 0).Err()
}

// GetWatch returns the watch of a chat, or nil if there is none.
func (s *Storage) GetWatch(ctx context.Context, chatID int64) (*types.Watch, error) {
	var w types.Watch
	ok, err := s.getJSON(ctx, watchKey(chatID), &w)
	if err != nil || !ok {
		return nil, err
	}
	return &w, nil
}

// ListWatches returns every stored watch. Unreadable entries are skipped.
func (s *Storage) ListWatches(ctx context.Context) ([]*types.Watch, error) {
	var watches []*types.Watch
	iter := s.client.Scan(ctx, 0, "watch:*", 100).Iterator()
	for iter.Next(ctx) {
		var w types.Watch
		ok, err := s.getJSON(ctx, iter.Val(), &w)
		if err != nil || !ok {
			continue
		}
		watches = append(watches, &w)
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return watches, nil
}

// DeleteWatch removes the watch of a chat and its notification state.
func (s *Storage) DeleteWatch(ctx context.Context, chatID int64) error {
	return s.client.Del(ctx, watchKey(chatID), slotsKey(chatID)).Err()
}

// ===== Notification state =====

// SaveLastSlots stores the slot ids last sent to a chat (TTL: 24 hours).
func (s *Storage) SaveLastSlots(ctx context.Context, chatID int64, ids []string) error {
	data, err := json.Marshal(ids)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, slotsKey(chatID), data, lastSlotsTTL).Err()
}

// GetLastSlots returns the slot ids last sent to a chat, nil if none.
func (s *Storage) GetLastSlots(ctx context.Context, chatID int64) ([]string, error) {
	var ids []string
	if _, err := s.getJSON(ctx, slotsKey(chatID), &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

// ===== User location =====

// SaveLocation remembers the last location shared by a chat.
func (s *Storage) SaveLocation(ctx context.Context, chatID int64, c types.Coordinates) error {
	v := strconv.FormatFloat(c.Lat, 'f', 6, 64) + "," + strconv.FormatFloat(c.Lon, 'f', 6, 64)
	return s.client.Set(ctx, locKey(chatID), v, locationTTL).Err()
}

// GetLocation returns the last location shared by a chat, or nil.
func (s *Storage) GetLocation(ctx context.Context, chatID int64) (*types.Coordinates, error) {
	val, err := s.client.Get(ctx, locKey(chatID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	latS, lonS, ok := strings.Cut(val, ",")
	if !ok {
		return nil, fmt.Errorf("malformed location %q", val)
	}
	lat, err := strconv.ParseFloat(latS, 64)
	if err != nil {
		return nil, fmt.Errorf("malformed latitude: %w", err)
	}
	lon, err := strconv.ParseFloat(lonS, 64)
	if err != nil {
		return nil, fmt.Errorf("malformed longitude: %w", err)
	}
	return &types.Coordinates{Lat: lat, Lon: lon}, nil
}

// ===== Login sessions (session.Backend) =====

// Load returns the session record stored under key, or nil if there is none.
func (s *Storage) Load(ctx context.Context, key string) (*types.SessionRecord, error) {
	var rec types.SessionRecord
	ok, err := s.getJSON(ctx, sessionKey(key), &rec)
	if err != nil || !ok {
		return nil, err
	}
	return &rec, nil
}

// Save replaces the session record stored under key. The entry expires a
// week after the session itself.
func (s *Storage) Save(ctx context.Context, key string, rec *types.SessionRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	ttl := time.UnixMilli(rec.ExpiresAt).Sub(s.now()) + sessionGrace
	if ttl <= 0 {
		ttl = time.Minute
	}
	return s.client.Set(ctx, sessionKey(key), data, ttl).Err()
}

func (s *Storage) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Storage) Close() error {
	return s.client.Close()
}

// getJSON decodes the value at key into out. It reports false when the key
// does not exist.
func (s *Storage) getJSON(ctx context.Context, key string, out any) (bool, error) {
	val, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(val, out); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}
