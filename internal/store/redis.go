// ABOUTME: Redis implementation of MessageStore using go-redis
// ABOUTME: Keeps one sorted set of message IDs per room plus a JSON value per message

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// RedisStore implements MessageStore on top of Redis.
type RedisStore struct {
	client *redis.Client
	logger *slog.Logger
}

// NewRedisStore connects to redisURL and verifies the connection.
func NewRedisStore(ctx context.Context, redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}

	logger := slog.Default().With("component", "store")
	logger.Info("Redis store initialized", "addr", opts.Addr, "db", opts.DB)
	return &RedisStore{client: client, logger: logger}, nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// roomMessagesKey returns the key for a room's message sorted set.
func roomMessagesKey(room string) string {
	return fmt.Sprintf("room:%s:messages", room)
}

// roomNonceKey returns the key reserving a client nonce within a room.
func roomNonceKey(room, nonce string) string {
	return fmt.Sprintf("room:%s:nonce:%s", room, nonce)
}

// messageKey returns the key holding a message's JSON body.
func messageKey(id string) string {
	return fmt.Sprintf("message:%s", id)
}

// InsertMessage stores a message. The nonce reservation happens first so a
// retried write never produces a second row.
func (s *RedisStore) InsertMessage(ctx context.Context, msg *ChatMessage) (*ChatMessage, error) {
	m, err := prepareInsert(msg)
	if err != nil {
		return nil, err
	}

	if m.ClientNonce != "" {
		ok, err := s.client.SetNX(ctx, roomNonceKey(m.Room, m.ClientNonce), m.ID, 0).Result()
		if err != nil {
			return nil, fmt.Errorf("reserving nonce: %w", err)
		}
		if !ok {
			return nil, ErrDuplicateMessage
		}
	}

	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encoding message: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, messageKey(m.ID), data, 0)
		// Members with equal scores sort lexically, which for ULIDs is creation order
		pipe.ZAdd(ctx, roomMessagesKey(m.Room), redis.Z{
			Score:  float64(m.CreatedAt.UnixMilli()),
			Member: m.ID,
		})
		return nil
	})
	if err != nil {
		if m.ClientNonce != "" {
			s.client.Del(ctx, roomNonceKey(m.Room, m.ClientNonce))
		}
		return nil, fmt.Errorf("inserting message: %w", err)
	}

	s.logger.Debug("saved chat message", "message_id", m.ID, "room", m.Room)
	return m, nil
}

// ListMessages returns the newest limit messages of a room in ascending order.
func (s *RedisStore) ListMessages(ctx context.Context, room string, limit int) ([]*ChatMessage, error) {
	limit = clampLimit(limit)

	ids, err := s.client.ZRevRange(ctx, roomMessagesKey(room), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("listing message ids: %w", err)
	}

	// Reverse to ascending
	for i, j := 0, len(ids)-1; i < j; i, j = i+1, j-1 {
		ids[i], ids[j] = ids[j], ids[i]
	}

	return s.loadMessages(ctx, ids)
}

// GetMessage retrieves a single message by ID.
func (s *RedisStore) GetMessage(ctx context.Context, id string) (*ChatMessage, error) {
	data, err := s.client.Get(ctx, messageKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting message: %w", err)
	}

	var msg ChatMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("decoding message: %w", err)
	}
	return &msg, nil
}

// GetMessageByNonce resolves a nonce reservation to its message.
func (s *RedisStore) GetMessageByNonce(ctx context.Context, room, nonce string) (*ChatMessage, error) {
	id, err := s.client.Get(ctx, roomNonceKey(room, nonce)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting nonce: %w", err)
	}
	return s.GetMessage(ctx, id)
}

// UpdateMessages rewrites every matching message of the room.
func (s *RedisStore) UpdateMessages(ctx context.Context, filter MessageFilter, patch MessagePatch) ([]*ChatMessage, error) {
	if filter.Room == "" {
		return nil, fmt.Errorf("%w: room is required", ErrInvalidMessage)
	}
	if patch.Read == nil {
		return nil, nil
	}

	ids, err := s.client.ZRange(ctx, roomMessagesKey(filter.Room), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("listing message ids: %w", err)
	}

	msgs, err := s.loadMessages(ctx, ids)
	if err != nil {
		return nil, err
	}

	var updated []*ChatMessage
	pipe := s.client.TxPipeline()
	for _, msg := range msgs {
		if !filter.Matches(msg) || msg.Read == *patch.Read {
			continue
		}
		msg.Read = *patch.Read
		data, err := json.Marshal(msg)
		if err != nil {
			return nil, fmt.Errorf("encoding message: %w", err)
		}
		pipe.Set(ctx, messageKey(msg.ID), data, 0)
		updated = append(updated, msg)
	}

	if len(updated) == 0 {
		return nil, nil
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("updating messages: %w", err)
	}

	s.logger.Debug("updated chat messages", "room", filter.Room, "count", len(updated))
	return updated, nil
}

// loadMessages fetches message bodies for ids, preserving order and skipping
// IDs whose body has disappeared.
func (s *RedisStore) loadMessages(ctx context.Context, ids []string) ([]*ChatMessage, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = messageKey(id)
	}

	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("loading messages: %w", err)
	}

	msgs := make([]*ChatMessage, 0, len(values))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			s.logger.Warn("message body missing", "message_id", ids[i])
			continue
		}
		var msg ChatMessage
		if err := json.Unmarshal([]byte(raw), &msg); err != nil {
			return nil, fmt.Errorf("decoding message %s: %w", ids[i], err)
		}
		msgs = append(msgs, &msg)
	}
	return msgs, nil
}
