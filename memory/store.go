package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// ConversationStore persists conversation rounds per session (user).
type ConversationStore interface {
	// GetLastNRounds returns up to n most recent rounds, oldest first. n <= 0 returns all.
	GetLastNRounds(ctx context.Context, sessionID string, n int) ([]ConversationRound, error)
	SaveRound(ctx context.Context, sessionID string, round ConversationRound) error
	Clear(ctx context.Context, sessionID string) error
}

// =============================================================================
// InMemoryConversationStore
// =============================================================================

// InMemoryConversationStore keeps rounds in process memory. Suitable for
// development and single-replica deployments.
type InMemoryConversationStore struct {
	mu        sync.RWMutex
	sessions  map[string][]ConversationRound
	maxRounds int
}

func NewInMemoryConversationStore(maxRounds int) *InMemoryConversationStore {
	if maxRounds <= 0 {
		maxRounds = 10
	}
	return &InMemoryConversationStore{
		sessions:  make(map[string][]ConversationRound),
		maxRounds: maxRounds,
	}
}

func (s *InMemoryConversationStore) GetLastNRounds(ctx context.Context, sessionID string, n int) ([]ConversationRound, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rounds := s.sessions[sessionID]
	if len(rounds) == 0 {
		return []ConversationRound{}, nil
	}
	if n <= 0 || n >= len(rounds) {
		result := make([]ConversationRound, len(rounds))
		copy(result, rounds)
		return result, nil
	}
	result := make([]ConversationRound, n)
	copy(result, rounds[len(rounds)-n:])
	return result, nil
}

func (s *InMemoryConversationStore) SaveRound(ctx context.Context, sessionID string, round ConversationRound) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rounds := append(s.sessions[sessionID], round)
	if len(rounds) > s.maxRounds {
		rounds = append([]ConversationRound(nil), rounds[len(rounds)-s.maxRounds:]...)
	}
	s.sessions[sessionID] = rounds
	return nil
}

func (s *InMemoryConversationStore) Clear(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
	return nil
}

// =============================================================================
// RedisConversationStore
// =============================================================================

// RedisConversationStore keeps each session as a capped redis list of JSON
// encoded rounds. Suitable for multi-replica deployments.
type RedisConversationStore struct {
	client           redis.UniversalClient
	keyPrefix        string
	sessionExpiry    time.Duration
	maxHistoryRounds int
}

// RedisConversationStoreConfig configures a RedisConversationStore.
type RedisConversationStoreConfig struct {
	Client           redis.UniversalClient
	KeyPrefix        string
	SessionExpiry    time.Duration
	MaxHistoryRounds int
}

func NewRedisConversationStore(cfg *RedisConversationStoreConfig) *RedisConversationStore {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "supportrag:conversation:"
	}
	if cfg.SessionExpiry == 0 {
		cfg.SessionExpiry = 24 * time.Hour
	}
	if cfg.MaxHistoryRounds == 0 {
		cfg.MaxHistoryRounds = 10
	}
	return &RedisConversationStore{
		client:           cfg.Client,
		keyPrefix:        cfg.KeyPrefix,
		sessionExpiry:    cfg.SessionExpiry,
		maxHistoryRounds: cfg.MaxHistoryRounds,
	}
}

func (s *RedisConversationStore) key(sessionID string) string {
	return s.keyPrefix + sessionID + ":rounds"
}

func (s *RedisConversationStore) GetLastNRounds(ctx context.Context, sessionID string, n int) ([]ConversationRound, error) {
	start := int64(0)
	if n > 0 {
		start = int64(-n)
	}
	values, err := s.client.LRange(ctx, s.key(sessionID), start, -1).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("failed to read session rounds: %w", err)
	}
	rounds := make([]ConversationRound, 0, len(values))
	for _, v := range values {
		var r ConversationRound
		if err := json.Unmarshal([]byte(v), &r); err != nil {
			return nil, fmt.Errorf("failed to unmarshal session round: %w", err)
		}
		rounds = append(rounds, r)
	}
	return rounds, nil
}

func (s *RedisConversationStore) SaveRound(ctx context.Context, sessionID string, round ConversationRound) error {
	data, err := json.Marshal(round)
	if err != nil {
		return fmt.Errorf("failed to marshal round: %w", err)
	}
	key := s.key(sessionID)
	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.RPush(ctx, key, data)
		p.LTrim(ctx, key, int64(-s.maxHistoryRounds), -1)
		p.Expire(ctx, key, s.sessionExpiry)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save session round: %w", err)
	}
	return nil
}

func (s *RedisConversationStore) Clear(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, s.key(sessionID)).Err(); err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	return nil
}
