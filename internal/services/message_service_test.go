package services

import (
	"context"
	"errors"
	"slices"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"charity-service/internal/adapters/kafka"
	"charity-service/internal/models"
	"charity-service/internal/repositories"
	"charity-service/internal/ws"

	"github.com/IBM/sarama"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type fakeMessageStore struct {
	mu       sync.Mutex
	messages map[primitive.ObjectID]*models.CommunityMessage
}

func newFakeMessageStore() *fakeMessageStore {
	return &fakeMessageStore{messages: make(map[primitive.ObjectID]*models.CommunityMessage)}
}

func (f *fakeMessageStore) Create(_ context.Context, msg *models.CommunityMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if msg.ID.IsZero() {
		msg.ID = primitive.NewObjectID()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	cp := *msg
	f.messages[msg.ID] = &cp
	return nil
}

func (f *fakeMessageStore) FindByID(_ context.Context, messageID string) (*models.CommunityMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	oid, err := primitive.ObjectIDFromHex(messageID)
	if err != nil {
		return nil, repositories.ErrNotFound
	}
	msg, ok := f.messages[oid]
	if !ok || msg.IsDeleted {
		return nil, repositories.ErrNotFound
	}
	cp := *msg
	return &cp, nil
}

func (f *fakeMessageStore) ListByCommunity(_ context.Context, communityID primitive.ObjectID, page, limit int) ([]models.CommunityMessage, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var all []models.CommunityMessage
	for _, m := range f.messages {
		if m.Community == communityID && !m.IsDeleted {
			all = append(all, *m)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	start := min((page-1)*limit, len(all))
	end := min(start+limit, len(all))
	return all[start:end], int64(len(all)), nil
}

func (f *fakeMessageStore) UpdateContent(_ context.Context, msg *models.CommunityMessage, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored, ok := f.messages[msg.ID]
	if !ok || stored.IsDeleted {
		return repositories.ErrNotFound
	}
	stored.Content, stored.IsEdited = content, true
	msg.Content, msg.IsEdited = content, true
	return nil
}

func (f *fakeMessageStore) SoftDelete(_ context.Context, msg *models.CommunityMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored, ok := f.messages[msg.ID]
	if !ok || stored.IsDeleted {
		return repositories.ErrNotFound
	}
	stored.IsDeleted = true
	msg.IsDeleted = true
	return nil
}

func (f *fakeMessageStore) SaveReactions(_ context.Context, msg *models.CommunityMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored, ok := f.messages[msg.ID]
	if !ok || stored.IsDeleted {
		return repositories.ErrNotFound
	}
	stored.Reactions = append([]models.MessageReaction(nil), msg.Reactions...)
	return nil
}

func (f *fakeMessageStore) RecentByCommunities(_ context.Context, communityIDs []primitive.ObjectID, limit int) ([]models.CommunityMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	all := []models.CommunityMessage{}
	for _, m := range f.messages {
		if slices.Contains(communityIDs, m.Community) && !m.IsDeleted {
			all = append(all, *m)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	return all[:min(limit, len(all))], nil
}

func (f *fakeMessageStore) MarkRead(_ context.Context, communityID, userID primitive.ObjectID, at time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var marked int64
	for _, m := range f.messages {
		if m.Community != communityID || m.IsDeleted || hasRead(m, userID) {
			continue
		}
		m.ReadBy = append(m.ReadBy, models.MessageRead{User: userID, ReadAt: at})
		marked++
	}
	return marked, nil
}

func (f *fakeMessageStore) UnreadCounts(_ context.Context, communityIDs []primitive.ObjectID, userID primitive.ObjectID) (map[primitive.ObjectID]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	counts := make(map[primitive.ObjectID]int64)
	for _, m := range f.messages {
		if slices.Contains(communityIDs, m.Community) && !m.IsDeleted && m.Sender != userID && !hasRead(m, userID) {
			counts[m.Community]++
		}
	}
	return counts, nil
}

func hasRead(m *models.CommunityMessage, userID primitive.ObjectID) bool {
	return slices.ContainsFunc(m.ReadBy, func(r models.MessageRead) bool { return r.User == userID })
}

type fakeCommunities struct {
	byID map[primitive.ObjectID]*models.Community
}

func (f *fakeCommunities) FindActiveByID(_ context.Context, communityID string) (*models.Community, error) {
	oid, err := primitive.ObjectIDFromHex(communityID)
	if err != nil {
		return nil, repositories.ErrNotFound
	}
	c, ok := f.byID[oid]
	if !ok || !c.IsActive {
		return nil, repositories.ErrNotFound
	}
	return c, nil
}

func (f *fakeCommunities) FindActiveByMember(_ context.Context, userID string) ([]models.Community, error) {
	var out []models.Community
	for _, c := range f.byID {
		if c.IsActive && c.IsMember(userID) {
			out = append(out, models.Community{ID: c.ID, Name: c.Name})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (f *fakeCommunities) FindByID(_ context.Context, id primitive.ObjectID) (*models.Community, error) {
	c, ok := f.byID[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return c, nil
}

type fakeProfiles struct{}

func (fakeProfiles) FindSummaries(_ context.Context, ids []primitive.ObjectID) (map[primitive.ObjectID]models.UserSummary, error) {
	out := make(map[primitive.ObjectID]models.UserSummary, len(ids))
	for _, id := range ids {
		out[id] = models.UserSummary{ID: id.Hex(), Name: "user-" + id.Hex()[:4]}
	}
	return out, nil
}

type published struct {
	communityID string
	event       ws.Event
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []published
}

func (p *recordingPublisher) PublishAsync(communityID string, ev ws.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, published{communityID, ev})
}

func (p *recordingPublisher) all() []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]published(nil), p.events...)
}

type failingSink struct {
	calls int
}

func (s *failingSink) Emit(string, ws.Event) error {
	s.calls++
	return errors.New("broker down")
}

type messageFixture struct {
	svc       *MessageService
	store     *fakeMessageStore
	publisher *recordingPublisher
	community *models.Community
	admin     primitive.ObjectID
	member    primitive.ObjectID
	outsider  primitive.ObjectID
}

func newMessageFixture(t *testing.T) *messageFixture {
	t.Helper()
	admin, member, outsider := primitive.NewObjectID(), primitive.NewObjectID(), primitive.NewObjectID()
	community := &models.Community{
		ID:        primitive.NewObjectID(),
		Name:      "Blood Donors",
		CreatedBy: admin,
		IsActive:  true,
		Members: []models.CommunityMember{
			{User: admin, Role: models.MemberRoleAdmin},
			{User: member, Role: models.MemberRoleMember},
		},
	}
	store := newFakeMessageStore()
	publisher := &recordingPublisher{}
	communities := &fakeCommunities{byID: map[primitive.ObjectID]*models.Community{community.ID: community}}
	return &messageFixture{
		svc:       NewMessageService(store, communities, fakeProfiles{}, publisher, nil, nil),
		store:     store,
		publisher: publisher,
		community: community,
		admin:     admin,
		member:    member,
		outsider:  outsider,
	}
}

func (f *messageFixture) send(t *testing.T, sender primitive.ObjectID, content string) *models.CommunityMessage {
	t.Helper()
	msg, err := f.svc.SendMessage(context.Background(), sender.Hex(), f.community.ID.Hex(), models.SendMessageRequest{Content: content})
	require.NoError(t, err)
	return msg
}

func TestSendMessageBroadcastsNewMessage(t *testing.T) {
	f := newMessageFixture(t)

	msg := f.send(t, f.member, "  Need   O-negative donors  today ")

	assert.Equal(t, "Need O-negative donors today", msg.Content)
	assert.Equal(t, models.MessageTypeText, msg.MessageType)
	require.NotNil(t, msg.SenderInfo)
	assert.Equal(t, f.member.Hex(), msg.SenderInfo.ID)

	events := f.publisher.all()
	require.Len(t, events, 1)
	assert.Equal(t, f.community.ID.Hex(), events[0].communityID)
	ev, ok := events[0].event.(ws.NewMessage)
	require.True(t, ok)
	assert.Equal(t, "Blood Donors", ev.CommunityName)
	assert.Equal(t, msg.ID, ev.Message.ID)
}

func TestSendMessageRejections(t *testing.T) {
	f := newMessageFixture(t)
	ctx := context.Background()

	tests := []struct {
		name        string
		sender      primitive.ObjectID
		communityID string
		content     string
		want        error
	}{
		{"non member", f.outsider, f.community.ID.Hex(), "hello", ErrNotCommunityMember},
		{"unknown community", f.member, primitive.NewObjectID().Hex(), "hello", ErrCommunityNotFound},
		{"blank content", f.member, f.community.ID.Hex(), "   ", ErrEmptyContent},
		{"repeated characters", f.member, f.community.ID.Hex(), "heyyyyyyyyyyyyy", ErrSpamContent},
		{"spam phrase", f.member, f.community.ID.Hex(), "Click here for prizes", ErrSpamContent},
		{"shouting", f.member, f.community.ID.Hex(), "PLEASE DONATE NOW", ErrExcessiveCaps},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.SendMessage(ctx, tt.sender.Hex(), tt.communityID, models.SendMessageRequest{Content: tt.content})
			assert.ErrorIs(t, err, tt.want)
		})
	}
	assert.Empty(t, f.publisher.all())
}

func TestGetCommunityMessagesPaginates(t *testing.T) {
	f := newMessageFixture(t)
	base := time.Now().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		require.NoError(t, f.store.Create(context.Background(), &models.CommunityMessage{
			Community: f.community.ID,
			Sender:    f.member,
			Content:   string(rune('a' + i)),
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	page, err := f.svc.GetCommunityMessages(context.Background(), f.member.Hex(), f.community.ID.Hex(), 1, 2)
	require.NoError(t, err)

	require.Len(t, page.Messages, 2)
	assert.Equal(t, "d", page.Messages[0].Content)
	assert.Equal(t, "e", page.Messages[1].Content)
	assert.Equal(t, models.Pagination{CurrentPage: 1, TotalPages: 3, TotalItems: 5, ItemsPerPage: 2}, page.Pagination)
	require.NotNil(t, page.Messages[0].SenderInfo)

	_, err = f.svc.GetCommunityMessages(context.Background(), f.outsider.Hex(), f.community.ID.Hex(), 1, 2)
	assert.ErrorIs(t, err, ErrNotCommunityMember)
}

func TestEditMessage(t *testing.T) {
	f := newMessageFixture(t)
	msg := f.send(t, f.member, "first draft")

	_, err := f.svc.EditMessage(context.Background(), f.admin.Hex(), msg.ID.Hex(), models.EditMessageRequest{Content: "hijack"})
	assert.ErrorIs(t, err, ErrNotMessageSender)

	edited, err := f.svc.EditMessage(context.Background(), f.member.Hex(), msg.ID.Hex(), models.EditMessageRequest{Content: " final  version "})
	require.NoError(t, err)
	assert.Equal(t, "final version", edited.Content)
	assert.True(t, edited.IsEdited)

	events := f.publisher.all()
	require.Len(t, events, 2)
	ev, ok := events[1].event.(ws.MessageEdited)
	require.True(t, ok)
	assert.Equal(t, "final version", ev.Message.Content)
	assert.Equal(t, f.community.ID.Hex(), ev.CommunityID)
}

func TestEditMessageContentLength(t *testing.T) {
	f := newMessageFixture(t)
	msg := f.send(t, f.member, "short")

	_, err := f.svc.EditMessage(context.Background(), f.member.Hex(), msg.ID.Hex(), models.EditMessageRequest{Content: strings.Repeat("x", 2001)})
	assert.ErrorIs(t, err, ErrContentTooLong)

	_, err = f.svc.EditMessage(context.Background(), f.member.Hex(), msg.ID.Hex(), models.EditMessageRequest{Content: "  "})
	assert.ErrorIs(t, err, ErrEmptyContent)
	assert.Len(t, f.publisher.all(), 1, "rejected edits are not broadcast")
}

func TestEditMessageOutsideWindow(t *testing.T) {
	f := newMessageFixture(t)
	msg := f.send(t, f.member, "old news")
	f.svc.now = func() time.Time { return msg.CreatedAt.Add(models.MessageEditWindow + time.Minute) }

	_, err := f.svc.EditMessage(context.Background(), f.member.Hex(), msg.ID.Hex(), models.EditMessageRequest{Content: "too late"})
	assert.ErrorIs(t, err, ErrEditWindowExpired)
}

func TestDeleteMessagePermissions(t *testing.T) {
	f := newMessageFixture(t)
	ctx := context.Background()

	byMember := f.send(t, f.member, "member message")
	byAdmin := f.send(t, f.admin, "admin message")

	err := f.svc.DeleteMessage(ctx, f.outsider.Hex(), byMember.ID.Hex())
	assert.ErrorIs(t, err, ErrDeleteNotAllowed)

	err = f.svc.DeleteMessage(ctx, f.member.Hex(), byAdmin.ID.Hex())
	assert.ErrorIs(t, err, ErrDeleteNotAllowed)

	require.NoError(t, f.svc.DeleteMessage(ctx, f.admin.Hex(), byMember.ID.Hex()))
	require.NoError(t, f.svc.DeleteMessage(ctx, f.admin.Hex(), byAdmin.ID.Hex()))

	err = f.svc.DeleteMessage(ctx, f.admin.Hex(), byAdmin.ID.Hex())
	assert.ErrorIs(t, err, ErrMessageNotFound)

	events := f.publisher.all()
	require.Len(t, events, 4)
	ev, ok := events[2].event.(ws.MessageDeleted)
	require.True(t, ok)
	assert.Equal(t, byMember.ID.Hex(), ev.MessageID)
	assert.Equal(t, "Blood Donors", ev.CommunityName)
}

func TestReactions(t *testing.T) {
	f := newMessageFixture(t)
	ctx := context.Background()
	msg := f.send(t, f.member, "thanks everyone")

	_, err := f.svc.AddReaction(ctx, f.admin.Hex(), msg.ID.Hex(), models.ReactionRequest{Emoji: "🍕"})
	assert.ErrorIs(t, err, ErrInvalidReaction)

	_, err = f.svc.AddReaction(ctx, f.outsider.Hex(), msg.ID.Hex(), models.ReactionRequest{Emoji: "👍"})
	assert.ErrorIs(t, err, ErrNotCommunityMember)

	_, err = f.svc.AddReaction(ctx, f.admin.Hex(), msg.ID.Hex(), models.ReactionRequest{Emoji: "👍"})
	require.NoError(t, err)
	updated, err := f.svc.AddReaction(ctx, f.admin.Hex(), msg.ID.Hex(), models.ReactionRequest{Emoji: "❤️"})
	require.NoError(t, err)
	require.Len(t, updated.Reactions, 1)
	assert.Equal(t, "❤️", updated.Reactions[0].Emoji)

	events := f.publisher.all()
	require.Len(t, events, 3)
	ev, ok := events[2].event.(ws.MessageReactionAdded)
	require.True(t, ok)
	assert.Equal(t, ws.Reaction{UserID: f.admin.Hex(), Emoji: "❤️"}, ev.Reaction)

	removed, err := f.svc.RemoveReaction(ctx, f.admin.Hex(), msg.ID.Hex())
	require.NoError(t, err)
	assert.Empty(t, removed.Reactions)
	assert.Len(t, f.publisher.all(), 3, "removing a reaction is not broadcast")
}

func TestOutboxFailureDoesNotFailSend(t *testing.T) {
	f := newMessageFixture(t)
	sink := &failingSink{}
	f.svc.outbox = sink

	f.send(t, f.member, "still delivered")

	assert.Equal(t, 1, sink.calls)
	assert.Len(t, f.publisher.all(), 1)
}

// stalledProducer never accepts input, like a producer cut off from its brokers
type stalledProducer struct {
	sarama.AsyncProducer
	input     chan *sarama.ProducerMessage
	successes chan *sarama.ProducerMessage
	errors    chan *sarama.ProducerError
}

func (p *stalledProducer) Input() chan<- *sarama.ProducerMessage { return p.input }
func (p *stalledProducer) Successes() <-chan *sarama.ProducerMessage { return p.successes }
func (p *stalledProducer) Errors() <-chan *sarama.ProducerError { return p.errors }
func (p *stalledProducer) AsyncClose() { close(p.successes); close(p.errors) }

func TestSendMessageDoesNotWaitOnStalledOutbox(t *testing.T) {
	f := newMessageFixture(t)
	outbox := kafka.NewEventOutbox(&stalledProducer{
		input:     make(chan *sarama.ProducerMessage),
		successes: make(chan *sarama.ProducerMessage),
		errors:    make(chan *sarama.ProducerError),
	}, "community-events", nil)
	t.Cleanup(func() { _ = outbox.Close() })
	f.svc.outbox = outbox

	start := time.Now()
	f.send(t, f.member, "not held up by the broker")
	assert.Less(t, time.Since(start), 200*time.Millisecond)
	assert.Len(t, f.publisher.all(), 1)

	_, failed := outbox.Stats()
	assert.Equal(t, int64(1), failed)
}

// addCommunity registers a second active community with the same members
func (f *messageFixture) addCommunity(name string) *models.Community {
	c := &models.Community{
		ID:        primitive.NewObjectID(),
		Name:      name,
		CreatedBy: f.admin,
		IsActive:  true,
		Members:   f.community.Members,
	}
	f.svc.communities.(*fakeCommunities).byID[c.ID] = c
	return c
}

func (f *messageFixture) sendTo(t *testing.T, community *models.Community, sender primitive.ObjectID, content string) *models.CommunityMessage {
	t.Helper()
	msg, err := f.svc.SendMessage(context.Background(), sender.Hex(), community.ID.Hex(), models.SendMessageRequest{Content: content})
	require.NoError(t, err)
	return msg
}

func TestGetRecentMessages(t *testing.T) {
	f := newMessageFixture(t)
	ctx := context.Background()
	food := f.addCommunity("Food Bank")

	base := time.Now()
	for i, c := range []*models.Community{f.community, food, f.community} {
		msg := f.sendTo(t, c, f.admin, "update "+strconv.Itoa(i))
		f.store.messages[msg.ID].CreatedAt = base.Add(time.Duration(i) * time.Minute)
	}
	deleted := f.sendTo(t, food, f.admin, "withdrawn")
	require.NoError(t, f.svc.DeleteMessage(ctx, f.admin.Hex(), deleted.ID.Hex()))

	recent, err := f.svc.GetRecentMessages(ctx, f.member.Hex(), 0)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	assert.Equal(t, "update 2", recent[0].Content)
	assert.Equal(t, "Blood Donors", recent[0].CommunityName)
	assert.Equal(t, "update 1", recent[1].Content)
	assert.Equal(t, "Food Bank", recent[1].CommunityName)
	require.NotNil(t, recent[0].SenderInfo)

	limited, err := f.svc.GetRecentMessages(ctx, f.member.Hex(), 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "update 2", limited[0].Content)

	none, err := f.svc.GetRecentMessages(ctx, f.outsider.Hex(), 10)
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func TestMarkMessagesAsRead(t *testing.T) {
	f := newMessageFixture(t)
	ctx := context.Background()
	f.send(t, f.admin, "first")
	f.send(t, f.admin, "second")

	_, err := f.svc.MarkMessagesAsRead(ctx, f.outsider.Hex(), f.community.ID.Hex())
	assert.ErrorIs(t, err, ErrNotCommunityMember)

	_, err = f.svc.MarkMessagesAsRead(ctx, f.member.Hex(), primitive.NewObjectID().Hex())
	assert.ErrorIs(t, err, ErrCommunityNotFound)

	marked, err := f.svc.MarkMessagesAsRead(ctx, f.member.Hex(), f.community.ID.Hex())
	require.NoError(t, err)
	assert.Equal(t, int64(2), marked)

	again, err := f.svc.MarkMessagesAsRead(ctx, f.member.Hex(), f.community.ID.Hex())
	require.NoError(t, err)
	assert.Zero(t, again, "messages are only marked once per reader")
	assert.Len(t, f.publisher.all(), 2, "read receipts are not broadcast")
}

func TestGetUnreadMessageCounts(t *testing.T) {
	f := newMessageFixture(t)
	ctx := context.Background()
	food := f.addCommunity("Food Bank")

	f.send(t, f.admin, "one")
	f.send(t, f.admin, "two")
	f.send(t, f.member, "own messages never count")
	f.sendTo(t, food, f.admin, "three")

	counts, err := f.svc.GetUnreadMessageCounts(ctx, f.member.Hex())
	require.NoError(t, err)
	assert.Equal(t, int64(3), counts.TotalUnread)
	require.Len(t, counts.Communities, 2)
	assert.Equal(t, models.CommunityUnreadCount{CommunityID: f.community.ID.Hex(), CommunityName: "Blood Donors", UnreadCount: 2}, counts.Communities[0])
	assert.Equal(t, int64(1), counts.Communities[1].UnreadCount)

	_, err = f.svc.MarkMessagesAsRead(ctx, f.member.Hex(), f.community.ID.Hex())
	require.NoError(t, err)

	counts, err = f.svc.GetUnreadMessageCounts(ctx, f.member.Hex())
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts.TotalUnread)
	assert.Zero(t, counts.Communities[0].UnreadCount)

	empty, err := f.svc.GetUnreadMessageCounts(ctx, f.outsider.Hex())
	require.NoError(t, err)
	assert.Empty(t, empty.Communities)
	assert.Zero(t, empty.TotalUnread)
}
