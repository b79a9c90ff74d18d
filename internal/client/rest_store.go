// ABOUTME: Message store that reads and writes a room through the gateway's HTTP API
// ABOUTME: Implements the chat session's store contract over JSON requests with bearer auth

package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/2389/mealdesk/internal/store"
)

// ErrUnsupportedPatch is returned for updates the gateway API cannot express.
var ErrUnsupportedPatch = errors.New("unsupported message update")

// TokenSource supplies the bearer token for each request.
type TokenSource interface {
	Token() string
}

// StaticToken is a TokenSource that never changes.
type StaticToken string

// Token returns the token itself.
func (t StaticToken) Token() string { return string(t) }

// APIError is a non-2xx gateway response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("gateway returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("gateway error (%d): %s", e.StatusCode, e.Message)
}

// RESTStore talks to the gateway's room endpoints.
type RESTStore struct {
	baseURL string
	tokens  TokenSource
	client  *http.Client
}

// NewRESTStore creates a store for the gateway at baseURL. A nil client
// uses http.DefaultClient.
func NewRESTStore(baseURL string, tokens TokenSource, client *http.Client) *RESTStore {
	if client == nil {
		client = http.DefaultClient
	}
	return &RESTStore{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		tokens:  tokens,
		client:  client,
	}
}

type postMessageRequest struct {
	Content     string     `json:"content"`
	SenderRole  store.Role `json:"sender_role"`
	AgentID     string     `json:"agent_id,omitempty"`
	ClientNonce string     `json:"client_nonce,omitempty"`
}

type messagesResponse struct {
	Messages []*store.ChatMessage `json:"messages"`
}

type markReadRequest struct {
	SenderRole store.Role `json:"sender_role,omitempty"`
}

// ListMessages fetches the newest limit messages of room, oldest first.
func (s *RESTStore) ListMessages(ctx context.Context, room string, limit int) ([]*store.ChatMessage, error) {
	path := roomPath(room, "messages")
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}

	var resp messagesResponse
	if err := s.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

// InsertMessage posts msg. A replayed client nonce returns the original
// message rather than an error.
func (s *RESTStore) InsertMessage(ctx context.Context, msg *store.ChatMessage) (*store.ChatMessage, error) {
	if msg == nil {
		return nil, store.ErrInvalidMessage
	}
	req := postMessageRequest{
		Content:     msg.Content,
		SenderRole:  msg.SenderRole,
		ClientNonce: msg.ClientNonce,
	}
	if msg.AgentID != nil {
		req.AgentID = *msg.AgentID
	}

	var saved store.ChatMessage
	if err := s.do(ctx, http.MethodPost, roomPath(msg.Room, "messages"), req, &saved); err != nil {
		return nil, err
	}
	return &saved, nil
}

// UpdateMessages supports the one update the gateway exposes: marking a
// room's unread messages from one sender role as read.
func (s *RESTStore) UpdateMessages(ctx context.Context, filter store.MessageFilter, patch store.MessagePatch) ([]*store.ChatMessage, error) {
	if patch.Read == nil {
		return nil, nil
	}
	if !*patch.Read {
		return nil, fmt.Errorf("%w: messages cannot be marked unread", ErrUnsupportedPatch)
	}
	if filter.Room == "" {
		return nil, fmt.Errorf("%w: room is required", store.ErrInvalidMessage)
	}

	var resp messagesResponse
	if err := s.do(ctx, http.MethodPost, roomPath(filter.Room, "read"), markReadRequest{SenderRole: filter.SenderRole}, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

func roomPath(room, leaf string) string {
	return "/api/rooms/" + url.PathEscape(room) + "/" + leaf
}

// do sends a JSON request and decodes a 2xx JSON response into out.
func (s *RESTStore) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if tok := s.tokens.Token(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return handleErrorResponse(resp)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}

// handleErrorResponse extracts the error message from a non-2xx response.
func handleErrorResponse(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var errResp struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &errResp) == nil && errResp.Error != "" {
		return &APIError{StatusCode: resp.StatusCode, Message: errResp.Error}
	}
	return &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
}
