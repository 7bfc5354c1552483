// Package prefs stores small per-account client state: muted conversation
// partners and the app mode the user last chose.
package prefs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/redis/go-redis/v9"

	"lazone/api/internal/apperr"
	"lazone/api/internal/utils"
)

// ErrKeyNotFound is returned by KV.Get for a missing key.
var ErrKeyNotFound = errors.New("prefs: key not found")

// KV is a string key-value store.
type KV interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// AppMode is the top-level experience the user browses in.
type AppMode string

const (
	AppModeRealEstate AppMode = "real_estate"
	AppModeResidence  AppMode = "residence"
)

// Valid reports whether m is a known mode.
func (m AppMode) Valid() bool {
	return m == AppModeRealEstate || m == AppModeResidence
}

// Preferences is the persisted client state of one account.
type Preferences struct {
	MutedUsers []string `json:"muted_users"`
	AppMode    AppMode  `json:"app_mode"`
}

// Default is what a fresh account sees.
func Default() Preferences {
	return Preferences{MutedUsers: []string{}, AppMode: AppModeRealEstate}
}

// IsMuted reports whether conversations with user are muted.
func (p Preferences) IsMuted(user string) bool {
	for _, u := range p.MutedUsers {
		if u == user {
			return true
		}
	}
	return false
}

// Store reads and writes Preferences through a KV.
type Store struct {
	kv KV
}

// NewStore creates a preferences store over kv.
func NewStore(kv KV) *Store {
	return &Store{kv: kv}
}

func key(account utils.SixID) string {
	return "prefs:" + account.String()
}

// Get returns the account's preferences, or the defaults if none were saved.
func (s *Store) Get(ctx context.Context, account utils.SixID) (Preferences, error) {
	raw, err := s.kv.Get(ctx, key(account))
	if errors.Is(err, ErrKeyNotFound) {
		return Default(), nil
	}
	if err != nil {
		return Preferences{}, fmt.Errorf("failed to read preferences of %s: %w", account, err)
	}
	p := Default()
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		// Corrupt state resets to defaults rather than locking the user out.
		return Default(), nil
	}
	if !p.AppMode.Valid() {
		p.AppMode = AppModeRealEstate
	}
	if p.MutedUsers == nil {
		p.MutedUsers = []string{}
	}
	return p, nil
}

// Put validates and saves p. Muted users are de-duplicated and sorted.
func (s *Store) Put(ctx context.Context, account utils.SixID, p Preferences) (Preferences, error) {
	if p.AppMode == "" {
		p.AppMode = AppModeRealEstate
	}
	if !p.AppMode.Valid() {
		return Preferences{}, apperr.New(apperr.KindValidation, "", fmt.Sprintf("unknown app mode %q", p.AppMode))
	}
	seen := make(map[string]struct{}, len(p.MutedUsers))
	muted := make([]string, 0, len(p.MutedUsers))
	for _, u := range p.MutedUsers {
		if u == "" {
			continue
		}
		if _, dup := seen[u]; dup {
			continue
		}
		seen[u] = struct{}{}
		muted = append(muted, u)
	}
	sort.Strings(muted)
	p.MutedUsers = muted

	raw, err := json.Marshal(p)
	if err != nil {
		return Preferences{}, fmt.Errorf("failed to encode preferences: %w", err)
	}
	if err := s.kv.Set(ctx, key(account), string(raw)); err != nil {
		return Preferences{}, fmt.Errorf("failed to save preferences of %s: %w", account, err)
	}
	return p, nil
}

// Reset forgets the account's preferences.
func (s *Store) Reset(ctx context.Context, account utils.SixID) error {
	if err := s.kv.Delete(ctx, key(account)); err != nil {
		return fmt.Errorf("failed to reset preferences of %s: %w", account, err)
	}
	return nil
}

// RedisKV implements KV on Redis.
type RedisKV struct {
	rdb *redis.Client
}

// NewRedisKV creates a KV on rdb.
func NewRedisKV(rdb *redis.Client) *RedisKV {
	return &RedisKV{rdb: rdb}
}

func (r *RedisKV) Get(ctx context.Context, k string) (string, error) {
	v, err := r.rdb.Get(ctx, k).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrKeyNotFound
	}
	return v, err
}

func (r *RedisKV) Set(ctx context.Context, k, value string) error {
	return r.rdb.Set(ctx, k, value, 0).Err()
}

func (r *RedisKV) Delete(ctx context.Context, k string) error {
	return r.rdb.Del(ctx, k).Err()
}

// MemoryKV implements KV in process.
type MemoryKV struct {
	mu sync.RWMutex
	m  map[string]string
}

// NewMemoryKV creates an empty MemoryKV.
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{m: make(map[string]string)}
}

func (m *MemoryKV) Get(_ context.Context, k string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.m[k]
	if !ok {
		return "", ErrKeyNotFound
	}
	return v, nil
}

func (m *MemoryKV) Set(_ context.Context, k, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.m[k] = value
	return nil
}

func (m *MemoryKV) Delete(_ context.Context, k string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.m, k)
	return nil
}
