// ABOUTME: Conversation service is the write path for support chat messages
// ABOUTME: Record first, then broadcast: every insert and read update reaches subscribers only after it is stored

package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/2389/mealdesk/internal/dedupe"
	"github.com/2389/mealdesk/internal/realtime"
	"github.com/2389/mealdesk/internal/store"
)

// ErrEmptyMessage is returned when a message has no content after trimming.
var ErrEmptyMessage = errors.New("message content is empty")

// Service persists chat messages and fans the resulting frames out to the
// room's subscribers.
type Service struct {
	store       store.MessageStore
	broadcaster *Broadcaster
	nonces      *dedupe.Cache
	logger      *slog.Logger
}

// New creates a conversation service. nonces may be nil, in which case
// retries are resolved by the store's unique nonce constraint alone.
func New(s store.MessageStore, broadcaster *Broadcaster, nonces *dedupe.Cache, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:       s,
		broadcaster: broadcaster,
		nonces:      nonces,
		logger:      logger.With("component", "conversation"),
	}
}

// PostResult is the outcome of Post.
type PostResult struct {
	Message *store.ChatMessage
	// Created is false when the nonce matched an earlier write and Message is
	// that original.
	Created bool
}

// Post records msg and broadcasts it to the room. A repeated client nonce
// returns the original message without writing or broadcasting again.
func (s *Service) Post(ctx context.Context, msg *store.ChatMessage) (*PostResult, error) {
	msg = msg.Clone()
	msg.Content = strings.TrimSpace(msg.Content)
	if msg.Content == "" {
		return nil, ErrEmptyMessage
	}

	key := ""
	if msg.ClientNonce != "" && s.nonces != nil {
		key = nonceKey(msg.Room, msg.ClientNonce)
		if existing, dup := s.nonces.Claim(key); dup && existing != "" {
			original, err := s.store.GetMessage(ctx, existing)
			if err == nil {
				s.logger.Debug("nonce replay answered from cache", "room", msg.Room, "message_id", existing)
				return &PostResult{Message: original}, nil
			}
			if !errors.Is(err, store.ErrNotFound) {
				return nil, fmt.Errorf("loading original message: %w", err)
			}
			s.nonces.Forget(key)
			s.nonces.Claim(key)
		}
	}

	saved, err := s.store.InsertMessage(ctx, msg)
	if errors.Is(err, store.ErrDuplicateMessage) {
		original, lookupErr := s.store.GetMessageByNonce(ctx, msg.Room, msg.ClientNonce)
		if lookupErr != nil {
			return nil, fmt.Errorf("resolving duplicate nonce: %w", lookupErr)
		}
		if key != "" {
			s.nonces.Resolve(key, original.ID)
		}
		s.logger.Debug("nonce replay answered from store", "room", msg.Room, "message_id", original.ID)
		return &PostResult{Message: original}, nil
	}
	if err != nil {
		if key != "" {
			s.nonces.Forget(key)
		}
		return nil, fmt.Errorf("failed to record message: %w", err)
	}

	if key != "" {
		s.nonces.Resolve(key, saved.ID)
	}

	s.logger.Debug("chat message recorded",
		"room", saved.Room,
		"message_id", saved.ID,
		"sender_role", saved.SenderRole)

	s.broadcaster.Publish(saved.Room, realtime.InsertFrame(saved))
	return &PostResult{Message: saved, Created: true}, nil
}

// MarkRead flags every unread message of room sent by senderRole as read and
// broadcasts an update frame per changed message.
func (s *Service) MarkRead(ctx context.Context, room string, senderRole store.Role) ([]*store.ChatMessage, error) {
	if !senderRole.Valid() {
		return nil, fmt.Errorf("%w: sender_role must be customer or agent", store.ErrInvalidMessage)
	}

	read := true
	updated, err := s.store.UpdateMessages(ctx,
		store.MessageFilter{Room: room, SenderRole: senderRole, UnreadOnly: true},
		store.MessagePatch{Read: &read},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to mark messages read: %w", err)
	}

	for _, msg := range updated {
		s.broadcaster.Publish(room, realtime.UpdateFrame(msg))
	}

	s.logger.Debug("messages marked read", "room", room, "sender_role", senderRole, "count", len(updated))
	return updated, nil
}

// History returns the newest limit messages of room, oldest first.
func (s *Service) History(ctx context.Context, room string, limit int) ([]*store.ChatMessage, error) {
	msgs, err := s.store.ListMessages(ctx, room, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	return msgs, nil
}

// Subscribe registers for room frames until ctx is cancelled.
func (s *Service) Subscribe(ctx context.Context, room string) (<-chan *realtime.Frame, string) {
	return s.broadcaster.Subscribe(ctx, room)
}

// Unsubscribe ends a subscription early.
func (s *Service) Unsubscribe(room, subID string) {
	s.broadcaster.Unsubscribe(room, subID)
}

// RelayHeartbeat forwards a liveness signal to every subscriber of the
// heartbeat's room, the sender included, so each side sees its own signal
// echoed while the channel is healthy.
func (s *Service) RelayHeartbeat(hb realtime.Heartbeat) {
	s.broadcaster.Publish(hb.Room, realtime.HeartbeatFrame(hb))
}

func nonceKey(room, nonce string) string {
	return room + "\x00" + nonce
}
