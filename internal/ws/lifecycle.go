package ws

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"charity-service/internal/models"
	"charity-service/internal/repositories"
)

// CommunityStore is the persistence view of community membership.
type CommunityStore interface {
	// FindActiveByMember lists the active communities userID belongs to
	FindActiveByMember(ctx context.Context, userID string) ([]models.Community, error)
	// FindActiveMembership returns the community when it is active and userID
	// is a member, repositories.ErrNotFound otherwise
	FindActiveMembership(ctx context.Context, communityID, userID string) (*models.Community, error)
}

type ManagerConfig struct {
	Heartbeat HeartbeatConfig
	// SendTimeout bounds direct sends (confirmations, errors, pongs)
	SendTimeout time.Duration
	// StoreTimeout bounds each membership query
	StoreTimeout time.Duration
	// StrictInvariants turns registry invariant violations into panics
	StrictInvariants bool
}

// Manager drives connections through
// CONNECTING -> AUTHENTICATED -> ACTIVE -> CLOSING -> CLOSED
// and keeps the registry and the subscription index consistent.
//
// Registry and index mutations that concern the same user are serialized
// by the lifecycle lock, so a reconnect racing a teardown is never purged
// and a user absent from the registry never keeps subscriptions.
type Manager struct {
	registry    *Registry
	subs        *SubscriptionIndex
	communities CommunityStore
	cfg         ManagerConfig

	lifecycle sync.Mutex

	logger *slog.Logger
}

func NewManager(registry *Registry, subs *SubscriptionIndex, communities CommunityStore, cfg ManagerConfig, logger *slog.Logger) *Manager {
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 5 * time.Second
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 10 * time.Second
	}
	cfg.Heartbeat = cfg.Heartbeat.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		registry:    registry,
		subs:        subs,
		communities: communities,
		cfg:         cfg,
		logger:      logger,
	}
}

// Serve runs an authenticated transport until it closes. It returns an
// error when the connection could not be admitted or ended abnormally.
func (m *Manager) Serve(ctx context.Context, id Identity, transport Transport) error {
	conn := NewConnection(id.UserID, transport, m.cfg.Heartbeat, m.logger)
	conn.advance(StateAuthenticated, StateConnecting)

	go conn.writePump()

	if err := m.OnConnect(ctx, conn, id); err != nil {
		m.OnDisconnect(conn, "connect aborted")
		return err
	}

	go func() {
		select {
		case <-ctx.Done():
			conn.Close("server shutdown")
		case <-conn.Done():
		}
	}()

	err := conn.readPump(func(frame []byte) {
		m.HandleFrame(ctx, conn, frame)
	})
	m.OnDisconnect(conn, "peer disconnected")
	return err
}

// OnConnect registers conn, subscribes the user to the communities it
// belongs to and moves conn to ACTIVE.
func (m *Manager) OnConnect(ctx context.Context, conn *Connection, id Identity) error {
	m.lifecycle.Lock()
	err := m.registry.Add(id.UserID, conn)
	m.lifecycle.Unlock()
	if err != nil {
		m.logger.Warn("Connection refused", "userID", id.UserID, "error", err)
		return err
	}

	if err := conn.Send(ConnectionEstablished{
		UserID:      id.UserID,
		UserDetails: id.Profile,
		Timestamp:   time.Now().UTC(),
	}, m.cfg.SendTimeout); err != nil {
		m.logger.Debug("Failed to send connection confirmation", "connectionID", conn.ID(), "error", err)
	}

	communities := m.loadMemberships(ctx, id.UserID)

	m.lifecycle.Lock()
	if conn.State() >= StateClosing || !m.registry.Has(id.UserID) {
		m.lifecycle.Unlock()
		return ErrConnectionClosed
	}
	for _, c := range communities {
		m.subs.Subscribe(id.UserID, c.ID.Hex())
	}
	m.lifecycle.Unlock()

	conn.advance(StateActive, StateAuthenticated)
	m.logger.Info("User connected",
		"userID", id.UserID,
		"connectionID", conn.ID(),
		"communities", len(communities),
		"totalConnections", m.registry.Count(),
	)

	for _, c := range communities {
		if err := conn.Send(CommunitySubscribed{CommunityID: c.ID.Hex(), CommunityName: c.Name}, m.cfg.SendTimeout); err != nil {
			m.logger.Debug("Failed to send subscription confirmation", "connectionID", conn.ID(), "error", err)
			break
		}
	}
	return nil
}

// loadMemberships returns the user's communities. A store failure leaves
// the user connected without subscriptions.
func (m *Manager) loadMemberships(ctx context.Context, userID string) []models.Community {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.StoreTimeout)
	defer cancel()

	communities, err := m.communities.FindActiveByMember(ctx, userID)
	if err != nil {
		m.logger.Error("Failed to load user communities", "userID", userID, "error", err)
		return nil
	}
	return communities
}

// OnDisconnect closes conn, removes it from the registry and, when it was the
// user's last connection, drops all of the user's subscriptions.
func (m *Manager) OnDisconnect(conn *Connection, reason string) {
	conn.Close(reason)

	userID := conn.UserID()
	m.lifecycle.Lock()
	var left []string
	if m.registry.Remove(userID, conn) {
		left = m.purgeLocked(userID)
	}
	m.lifecycle.Unlock()

	conn.markClosed()
	m.logger.Info("User disconnected",
		"userID", userID,
		"connectionID", conn.ID(),
		"reason", reason,
		"unsubscribed", len(left),
		"totalConnections", m.registry.Count(),
	)
}

func (m *Manager) purgeLocked(userID string) []string {
	if m.registry.Has(userID) {
		if m.cfg.StrictInvariants {
			panic(fmt.Sprintf("ws: purge of user %s with live connections", userID))
		}
		m.logger.Error("Refusing to purge user with live connections", "userID", userID)
		return nil
	}
	return m.subs.PurgeUser(userID)
}

// HandleFrame services one control message from an ACTIVE connection.
func (m *Manager) HandleFrame(ctx context.Context, conn *Connection, frame []byte) {
	if conn.State() != StateActive {
		return
	}

	msg, err := DecodeControl(frame)
	if err != nil {
		m.logger.Debug("Invalid control message", "connectionID", conn.ID(), "error", err)
		m.sendError(conn, "Invalid message format")
		return
	}

	switch msg.Name {
	case EventSubscribeCommunity:
		m.Subscribe(ctx, conn, msg.Subscribe.CommunityID)
	case EventUnsubscribeCommunity:
		m.Unsubscribe(conn.UserID(), msg.Unsubscribe.CommunityID)
	case EventPing:
		if err := conn.Send(Pong{Timestamp: time.Now().UTC()}, m.cfg.SendTimeout); err != nil {
			m.logger.Debug("Failed to send pong", "connectionID", conn.ID(), "error", err)
		}
	}
}

// Subscribe re-validates membership against the store before subscribing,
// since the cached membership may be stale. A non-member gets an error
// event on conn and nothing changes.
func (m *Manager) Subscribe(ctx context.Context, conn *Connection, communityID string) error {
	userID := conn.UserID()

	storeCtx, cancel := context.WithTimeout(ctx, m.cfg.StoreTimeout)
	community, err := m.communities.FindActiveMembership(storeCtx, communityID, userID)
	cancel()
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			authzErr := &AuthorizationError{UserID: userID, CommunityID: communityID}
			m.logger.Warn("Subscription rejected", "error", authzErr)
			m.sendError(conn, "Not authorized to subscribe to this community")
			return authzErr
		}
		m.logger.Error("Failed to verify community membership", "userID", userID, "communityID", communityID, "error", err)
		m.sendError(conn, "Failed to subscribe to community")
		return err
	}

	m.lifecycle.Lock()
	if !m.registry.Has(userID) {
		m.lifecycle.Unlock()
		return ErrConnectionClosed
	}
	m.subs.Subscribe(userID, communityID)
	m.lifecycle.Unlock()

	m.logger.Info("User subscribed to community", "userID", userID, "communityID", communityID)
	m.SendToUser(userID, CommunitySubscribed{CommunityID: communityID, CommunityName: community.Name})
	return nil
}

// Unsubscribe removes the user from communityID and confirms on all of its connections.
func (m *Manager) Unsubscribe(userID, communityID string) {
	m.lifecycle.Lock()
	m.subs.Unsubscribe(userID, communityID)
	m.lifecycle.Unlock()

	m.logger.Info("User unsubscribed from community", "userID", userID, "communityID", communityID)
	m.SendToUser(userID, CommunityUnsubscribed{CommunityID: communityID})
}

// SendToUser delivers ev to every live connection of userID and returns how many accepted it.
func (m *Manager) SendToUser(userID string, ev Event) int {
	delivered := 0
	for _, conn := range m.registry.ConnectionsOf(userID) {
		if err := conn.Send(ev, m.cfg.SendTimeout); err != nil {
			m.logger.Debug("Failed to send to user", "userID", userID, "connectionID", conn.ID(), "event", ev.EventName(), "error", err)
			continue
		}
		delivered++
	}
	return delivered
}

func (m *Manager) sendError(conn *Connection, message string) {
	if err := conn.Send(NewErrorEvent(message), m.cfg.SendTimeout); err != nil {
		m.logger.Debug("Failed to send error event", "connectionID", conn.ID(), "error", err)
	}
}
