package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/xhad/brief/internal/models"
)

var ErrSessionNotFound = errors.New("session not found")

// SessionStore persists session snapshots so a client can resume a
// conversation by session id.
type SessionStore interface {
	Save(ctx context.Context, snap models.SessionSnapshot) error
	Load(ctx context.Context, id string) (models.SessionSnapshot, error)
	Delete(ctx context.Context, id string) error
}

// MemorySessionStore keeps snapshots in process memory.
type MemorySessionStore struct {
	ttl time.Duration
	now func() time.Time

	mu       sync.Mutex
	sessions map[string]memoryEntry
}

type memoryEntry struct {
	snap      models.SessionSnapshot
	expiresAt time.Time
}

// NewMemorySessionStore creates a store whose entries expire after ttl. A
// zero ttl keeps entries forever.
func NewMemorySessionStore(ttl time.Duration) *MemorySessionStore {
	return &MemorySessionStore{
		ttl:      ttl,
		now:      time.Now,
		sessions: make(map[string]memoryEntry),
	}
}

func (m *MemorySessionStore) Save(ctx context.Context, snap models.SessionSnapshot) error {
	if snap.ID == "" {
		return errors.New("session id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	entry := memoryEntry{snap: cloneSnapshot(snap)}
	if m.ttl > 0 {
		entry.expiresAt = m.now().Add(m.ttl)
	}
	m.sessions[snap.ID] = entry
	return nil
}

func (m *MemorySessionStore) Load(ctx context.Context, id string) (models.SessionSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.sessions[id]
	if !ok {
		return models.SessionSnapshot{}, ErrSessionNotFound
	}
	if !entry.expiresAt.IsZero() && m.now().After(entry.expiresAt) {
		delete(m.sessions, id)
		return models.SessionSnapshot{}, ErrSessionNotFound
	}
	return cloneSnapshot(entry.snap), nil
}

func (m *MemorySessionStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

func cloneSnapshot(snap models.SessionSnapshot) models.SessionSnapshot {
	out := snap
	out.History = append([]models.ConversationTurn(nil), snap.History...)
	if snap.Summary != nil {
		s := *snap.Summary
		out.Summary = &s
	}
	if snap.Policy != nil {
		p := *snap.Policy
		out.Policy = &p
	}
	return out
}

// RedisSessionStore keeps snapshots as JSON values with a TTL.
type RedisSessionStore struct {
	client *redis.Client
	ttl    time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// NewRedisSessionStore connects and pings the server.
func NewRedisSessionStore(ctx context.Context, config RedisConfig) (*RedisSessionStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", config.Addr, err)
	}

	return &RedisSessionStore{client: client, ttl: config.TTL}, nil
}

func sessionKey(id string) string {
	return fmt.Sprintf("brief:session:%s", id)
}

func (r *RedisSessionStore) Save(ctx context.Context, snap models.SessionSnapshot) error {
	if snap.ID == "" {
		return errors.New("session id is required")
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	if err := r.client.Set(ctx, sessionKey(snap.ID), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

func (r *RedisSessionStore) Load(ctx context.Context, id string) (models.SessionSnapshot, error) {
	val, err := r.client.Get(ctx, sessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.SessionSnapshot{}, ErrSessionNotFound
	}
	if err != nil {
		return models.SessionSnapshot{}, fmt.Errorf("failed to load session: %w", err)
	}

	var snap models.SessionSnapshot
	if err := json.Unmarshal(val, &snap); err != nil {
		return models.SessionSnapshot{}, fmt.Errorf("failed to decode session: %w", err)
	}
	return snap, nil
}

func (r *RedisSessionStore) Delete(ctx context.Context, id string) error {
	return r.client.Del(ctx, sessionKey(id)).Err()
}

func (r *RedisSessionStore) Close() error {
	return r.client.Close()
}
