package ws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"charity-service/internal/models"
	"charity-service/internal/repositories"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

var errTransportClosed = errors.New("transport closed")

// mockTransport implements Transport for testing
type mockTransport struct {
	mu          sync.Mutex
	written     [][]byte
	pings       int
	failWrites  bool
	autoPong    bool
	pongHandler func(string) error

	inbound   chan []byte
	closed    chan struct{}
	closeOnce sync.Once
}

func newMockTransport() *mockTransport {
	return &mockTransport{
		inbound: make(chan []byte, 16),
		closed:  make(chan struct{}),
	}
}

func (m *mockTransport) ReadMessage() (int, []byte, error) {
	select {
	case frame := <-m.inbound:
		return websocket.TextMessage, frame, nil
	case <-m.closed:
		return 0, nil, &websocket.CloseError{Code: websocket.CloseNormalClosure}
	}
}

func (m *mockTransport) WriteMessage(messageType int, data []byte) error {
	m.mu.Lock()
	if m.isClosed() {
		m.mu.Unlock()
		return errTransportClosed
	}
	if m.failWrites {
		m.mu.Unlock()
		return errors.New("write failed")
	}
	if messageType == websocket.PingMessage {
		m.pings++
		handler := m.pongHandler
		autoPong := m.autoPong
		m.mu.Unlock()
		if autoPong && handler != nil {
			_ = handler("")
		}
		return nil
	}
	m.written = append(m.written, data)
	m.mu.Unlock()
	return nil
}

func (m *mockTransport) SetReadDeadline(time.Time) error  { return nil }
func (m *mockTransport) SetWriteDeadline(time.Time) error { return nil }

func (m *mockTransport) SetPongHandler(h func(string) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pongHandler = h
}

func (m *mockTransport) Close() error {
	m.closeOnce.Do(func() { close(m.closed) })
	return nil
}

func (m *mockTransport) isClosed() bool {
	select {
	case <-m.closed:
		return true
	default:
		return false
	}
}

// peerSend simulates a frame sent by the client
func (m *mockTransport) peerSend(t *testing.T, event EventName, data any) {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	frame, err := json.Marshal(Envelope{Event: event, Data: raw})
	require.NoError(t, err)
	m.inbound <- frame
}

func (m *mockTransport) envelopes() []Envelope {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Envelope, 0, len(m.written))
	for _, frame := range m.written {
		var env Envelope
		if err := json.Unmarshal(frame, &env); err == nil {
			out = append(out, env)
		}
	}
	return out
}

func (m *mockTransport) eventNames() []EventName {
	envs := m.envelopes()
	names := make([]EventName, len(envs))
	for i, env := range envs {
		names[i] = env.Event
	}
	return names
}

func (m *mockTransport) countOf(name EventName) int {
	n := 0
	for _, e := range m.eventNames() {
		if e == name {
			n++
		}
	}
	return n
}

// waitForEvents blocks until the transport has received at least n frames
func (m *mockTransport) waitForEvents(t *testing.T, n int) []EventName {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(m.eventNames()) >= n
	}, 2*time.Second, 5*time.Millisecond, "expected %d frames, got %v", n, m.eventNames())
	return m.eventNames()
}

// startConnection creates a connection with a running write pump
func startConnection(t *testing.T, userID string, cfg HeartbeatConfig) (*Connection, *mockTransport) {
	t.Helper()
	tr := newMockTransport()
	conn := NewConnection(userID, tr, cfg, nil)
	go conn.writePump()
	t.Cleanup(func() { conn.Close("test cleanup") })
	return conn, tr
}

// stubCommunityStore serves memberships from memory
type stubCommunityStore struct {
	mu          sync.Mutex
	communities map[string]models.Community
	members     map[string]map[string]bool
	err         error
}

func newStubCommunityStore() *stubCommunityStore {
	return &stubCommunityStore{
		communities: make(map[string]models.Community),
		members:     make(map[string]map[string]bool),
	}
}

func (s *stubCommunityStore) addCommunity(name string, members ...string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := models.Community{ID: primitive.NewObjectID(), Name: name, IsActive: true}
	id := c.ID.Hex()
	s.communities[id] = c
	s.members[id] = make(map[string]bool)
	for _, u := range members {
		s.members[id][u] = true
	}
	return id
}

func (s *stubCommunityStore) FindActiveByMember(_ context.Context, userID string) ([]models.Community, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	var out []models.Community
	for id, c := range s.communities {
		if s.members[id][userID] {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *stubCommunityStore) FindActiveMembership(_ context.Context, communityID, userID string) (*models.Community, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	c, ok := s.communities[communityID]
	if !ok || !s.members[communityID][userID] {
		return nil, repositories.ErrNotFound
	}
	return &c, nil
}

func (s *stubCommunityStore) join(communityID, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.members[communityID][userID] = true
}

func decodeData(env Envelope, v any) error {
	return json.Unmarshal(env.Data, v)
}
