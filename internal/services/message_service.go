package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"charity-service/internal/models"
	"charity-service/internal/repositories"
	"charity-service/internal/ws"

	"github.com/samber/lo"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	DefaultPageSize    = 50
	MaxPageSize        = 100
	DefaultRecentLimit = 10
)

// Custom errors
var (
	ErrCommunityNotFound   = errors.New("community not found")
	ErrNotCommunityMember  = errors.New("you must be a member of this community")
	ErrMessageNotFound     = errors.New("message not found")
	ErrNotMessageSender    = errors.New("you can only edit your own messages")
	ErrEditWindowExpired   = errors.New("cannot edit messages older than 24 hours")
	ErrDeleteNotAllowed    = errors.New("you can only delete your own messages or you must be an admin")
	ErrInvalidReaction     = errors.New("invalid emoji")
	ErrInvalidReplyMessage = errors.New("invalid reply message")
)

type MessageStore interface {
	Create(ctx context.Context, msg *models.CommunityMessage) error
	FindByID(ctx context.Context, messageID string) (*models.CommunityMessage, error)
	ListByCommunity(ctx context.Context, communityID primitive.ObjectID, page, limit int) ([]models.CommunityMessage, int64, error)
	UpdateContent(ctx context.Context, msg *models.CommunityMessage, content string) error
	SoftDelete(ctx context.Context, msg *models.CommunityMessage) error
	SaveReactions(ctx context.Context, msg *models.CommunityMessage) error
	RecentByCommunities(ctx context.Context, communityIDs []primitive.ObjectID, limit int) ([]models.CommunityMessage, error)
	MarkRead(ctx context.Context, communityID, userID primitive.ObjectID, at time.Time) (int64, error)
	UnreadCounts(ctx context.Context, communityIDs []primitive.ObjectID, userID primitive.ObjectID) (map[primitive.ObjectID]int64, error)
}

type CommunityLookup interface {
	FindActiveByID(ctx context.Context, communityID string) (*models.Community, error)
	FindByID(ctx context.Context, id primitive.ObjectID) (*models.Community, error)
	FindActiveByMember(ctx context.Context, userID string) ([]models.Community, error)
}

type ProfileLookup interface {
	FindSummaries(ctx context.Context, ids []primitive.ObjectID) (map[primitive.ObjectID]models.UserSummary, error)
}

// EventPublisher hands events to the realtime layer without waiting for delivery.
type EventPublisher interface {
	PublishAsync(communityID string, ev ws.Event)
}

// EventSink receives a copy of every published event. Emit must not block
// on the downstream system.
type EventSink interface {
	Emit(communityID string, ev ws.Event) error
}

// MessageService implements community message operations and announces each
// change to the community's live subscribers.
type MessageService struct {
	messages    MessageStore
	communities CommunityLookup
	profiles    ProfileLookup
	publisher   EventPublisher
	outbox      EventSink
	now         func() time.Time
	logger      *slog.Logger
}

// NewMessageService builds the service. outbox may be nil.
func NewMessageService(messages MessageStore, communities CommunityLookup, profiles ProfileLookup, publisher EventPublisher, outbox EventSink, logger *slog.Logger) *MessageService {
	if logger == nil {
		logger = slog.Default()
	}
	return &MessageService{
		messages:    messages,
		communities: communities,
		profiles:    profiles,
		publisher:   publisher,
		outbox:      outbox,
		now:         time.Now,
		logger:      logger,
	}
}

// SendMessage stores a new message from userID and broadcasts new_message.
func (s *MessageService) SendMessage(ctx context.Context, userID, communityID string, req models.SendMessageRequest) (*models.CommunityMessage, error) {
	content, err := ValidateContent(req.Content)
	if err != nil {
		return nil, err
	}
	sender, err := primitive.ObjectIDFromHex(userID)
	if err != nil {
		return nil, ErrNotCommunityMember
	}

	community, err := s.memberCommunity(ctx, communityID, userID)
	if err != nil {
		return nil, err
	}

	msg := &models.CommunityMessage{
		Community:   community.ID,
		Sender:      sender,
		Content:     content,
		MessageType: lo.Ternary(req.MessageType == "", models.MessageTypeText, req.MessageType),
	}
	if req.ReplyTo != "" {
		replyTo, err := primitive.ObjectIDFromHex(req.ReplyTo)
		if err != nil {
			return nil, ErrInvalidReplyMessage
		}
		msg.ReplyTo = &replyTo
	}

	if err := s.messages.Create(ctx, msg); err != nil {
		return nil, fmt.Errorf("failed to save message: %w", err)
	}
	s.attachSenders(ctx, msg)

	s.logger.Info("Broadcasting new message",
		"communityID", community.ID.Hex(),
		"communityName", community.Name,
		"messageID", msg.ID.Hex(),
		"senderID", userID,
	)
	s.publish(community.ID.Hex(), ws.NewMessage{
		Message:       *msg,
		CommunityID:   community.ID.Hex(),
		CommunityName: community.Name,
	})
	return msg, nil
}

// GetCommunityMessages returns one page of a community's messages, oldest
// first within the page.
func (s *MessageService) GetCommunityMessages(ctx context.Context, userID, communityID string, page, limit int) (*models.PaginatedMessagesResponse, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = DefaultPageSize
	}
	limit = min(limit, MaxPageSize)

	community, err := s.memberCommunity(ctx, communityID, userID)
	if err != nil {
		return nil, err
	}

	messages, total, err := s.messages.ListByCommunity(ctx, community.ID, page, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	messages = lo.Reverse(messages)
	ptrs := make([]*models.CommunityMessage, len(messages))
	for i := range messages {
		ptrs[i] = &messages[i]
	}
	s.attachSenders(ctx, ptrs...)

	return &models.PaginatedMessagesResponse{
		Messages: messages,
		Pagination: models.Pagination{
			CurrentPage:  page,
			TotalPages:   int((total + int64(limit) - 1) / int64(limit)),
			TotalItems:   total,
			ItemsPerPage: limit,
		},
	}, nil
}

// EditMessage lets the sender rewrite a message during the edit window and
// broadcasts message_edited.
func (s *MessageService) EditMessage(ctx context.Context, userID, messageID string, req models.EditMessageRequest) (*models.CommunityMessage, error) {
	content := NormalizeContent(req.Content)
	if err := checkContentLength(content); err != nil {
		return nil, err
	}

	msg, err := s.findMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if msg.Sender.Hex() != userID {
		return nil, ErrNotMessageSender
	}
	if s.now().Sub(msg.CreatedAt) > models.MessageEditWindow {
		return nil, ErrEditWindowExpired
	}

	if err := s.messages.UpdateContent(ctx, msg, content); err != nil {
		return nil, s.storeError("edit message", err)
	}
	s.attachSenders(ctx, msg)

	community, err := s.communities.FindByID(ctx, msg.Community)
	if err != nil {
		s.logger.Error("Failed to load community for broadcast", "communityID", msg.Community.Hex(), "error", err)
		return msg, nil
	}
	s.publish(community.ID.Hex(), ws.MessageEdited{
		Message:       *msg,
		CommunityID:   community.ID.Hex(),
		CommunityName: community.Name,
	})
	return msg, nil
}

// DeleteMessage soft deletes a message. The sender, a community admin and the
// community creator may delete; message_deleted is broadcast.
func (s *MessageService) DeleteMessage(ctx context.Context, userID, messageID string) error {
	msg, err := s.findMessage(ctx, messageID)
	if err != nil {
		return err
	}

	community, err := s.communities.FindByID(ctx, msg.Community)
	if err != nil {
		return s.storeError("load community", err)
	}
	if msg.Sender.Hex() != userID && !community.CanModerate(userID) {
		return ErrDeleteNotAllowed
	}

	if err := s.messages.SoftDelete(ctx, msg); err != nil {
		return s.storeError("delete message", err)
	}

	s.publish(community.ID.Hex(), ws.MessageDeleted{
		MessageID:     msg.ID.Hex(),
		CommunityID:   community.ID.Hex(),
		CommunityName: community.Name,
	})
	return nil
}

// AddReaction sets userID's reaction on a message, replacing any previous
// one, and broadcasts message_reaction_added.
func (s *MessageService) AddReaction(ctx context.Context, userID, messageID string, req models.ReactionRequest) (*models.CommunityMessage, error) {
	if !lo.Contains(models.AllowedReactions, req.Emoji) {
		return nil, ErrInvalidReaction
	}
	user, err := primitive.ObjectIDFromHex(userID)
	if err != nil {
		return nil, ErrNotCommunityMember
	}

	msg, err := s.findMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	community, err := s.communities.FindByID(ctx, msg.Community)
	if err != nil {
		return nil, s.storeError("load community", err)
	}
	if !community.IsMember(userID) {
		return nil, ErrNotCommunityMember
	}

	msg.SetReaction(user, req.Emoji, s.now().UTC())
	if err := s.messages.SaveReactions(ctx, msg); err != nil {
		return nil, s.storeError("save reaction", err)
	}
	s.attachSenders(ctx, msg)

	s.publish(community.ID.Hex(), ws.MessageReactionAdded{
		MessageID:   msg.ID.Hex(),
		Reaction:    ws.Reaction{UserID: userID, Emoji: req.Emoji},
		CommunityID: community.ID.Hex(),
	})
	return msg, nil
}

// RemoveReaction drops userID's reaction. Nothing is broadcast.
func (s *MessageService) RemoveReaction(ctx context.Context, userID, messageID string) (*models.CommunityMessage, error) {
	user, err := primitive.ObjectIDFromHex(userID)
	if err != nil {
		return nil, ErrMessageNotFound
	}
	msg, err := s.findMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}

	msg.RemoveReaction(user)
	if err := s.messages.SaveReactions(ctx, msg); err != nil {
		return nil, s.storeError("remove reaction", err)
	}
	s.attachSenders(ctx, msg)
	return msg, nil
}

// GetRecentMessages returns the newest messages across every active
// community of userID, newest first.
func (s *MessageService) GetRecentMessages(ctx context.Context, userID string, limit int) ([]models.RecentMessage, error) {
	if limit < 1 {
		limit = DefaultRecentLimit
	}
	limit = min(limit, MaxPageSize)

	communities, err := s.communities.FindActiveByMember(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load communities: %w", err)
	}
	if len(communities) == 0 {
		return []models.RecentMessage{}, nil
	}
	names := lo.SliceToMap(communities, func(c models.Community) (primitive.ObjectID, string) {
		return c.ID, c.Name
	})

	messages, err := s.messages.RecentByCommunities(ctx, lo.Keys(names), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent messages: %w", err)
	}
	ptrs := make([]*models.CommunityMessage, len(messages))
	for i := range messages {
		ptrs[i] = &messages[i]
	}
	s.attachSenders(ctx, ptrs...)

	return lo.Map(messages, func(m models.CommunityMessage, _ int) models.RecentMessage {
		return models.RecentMessage{CommunityMessage: m, CommunityName: names[m.Community]}
	}), nil
}

// MarkMessagesAsRead records that userID has read every message of the
// community and returns how many messages were newly marked.
func (s *MessageService) MarkMessagesAsRead(ctx context.Context, userID, communityID string) (int64, error) {
	reader, err := primitive.ObjectIDFromHex(userID)
	if err != nil {
		return 0, ErrNotCommunityMember
	}
	community, err := s.memberCommunity(ctx, communityID, userID)
	if err != nil {
		return 0, err
	}

	marked, err := s.messages.MarkRead(ctx, community.ID, reader, s.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to mark messages read: %w", err)
	}
	s.logger.Debug("Messages marked as read", "communityID", community.ID.Hex(), "userID", userID, "count", marked)
	return marked, nil
}

// GetUnreadMessageCounts counts the messages of other members that userID
// has not read, per active community.
func (s *MessageService) GetUnreadMessageCounts(ctx context.Context, userID string) (*models.UnreadCountsResponse, error) {
	resp := &models.UnreadCountsResponse{Communities: []models.CommunityUnreadCount{}}
	reader, err := primitive.ObjectIDFromHex(userID)
	if err != nil {
		return resp, nil
	}

	communities, err := s.communities.FindActiveByMember(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load communities: %w", err)
	}
	if len(communities) == 0 {
		return resp, nil
	}

	ids := lo.Map(communities, func(c models.Community, _ int) primitive.ObjectID { return c.ID })
	counts, err := s.messages.UnreadCounts(ctx, ids, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to count unread messages: %w", err)
	}

	for _, c := range communities {
		n := counts[c.ID]
		resp.Communities = append(resp.Communities, models.CommunityUnreadCount{
			CommunityID:   c.ID.Hex(),
			CommunityName: c.Name,
			UnreadCount:   n,
		})
		resp.TotalUnread += n
	}
	return resp, nil
}

func (s *MessageService) memberCommunity(ctx context.Context, communityID, userID string) (*models.Community, error) {
	community, err := s.communities.FindActiveByID(ctx, communityID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, ErrCommunityNotFound
		}
		return nil, fmt.Errorf("failed to load community: %w", err)
	}
	if !community.IsMember(userID) {
		return nil, ErrNotCommunityMember
	}
	return community, nil
}

func (s *MessageService) findMessage(ctx context.Context, messageID string) (*models.CommunityMessage, error) {
	msg, err := s.messages.FindByID(ctx, messageID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, ErrMessageNotFound
		}
		return nil, fmt.Errorf("failed to load message: %w", err)
	}
	return msg, nil
}

func (s *MessageService) storeError(op string, err error) error {
	if errors.Is(err, repositories.ErrNotFound) {
		return ErrMessageNotFound
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}

// attachSenders fills SenderInfo. A lookup failure leaves messages without it.
func (s *MessageService) attachSenders(ctx context.Context, msgs ...*models.CommunityMessage) {
	if len(msgs) == 0 || s.profiles == nil {
		return
	}
	ids := lo.Uniq(lo.Map(msgs, func(m *models.CommunityMessage, _ int) primitive.ObjectID {
		return m.Sender
	}))
	profiles, err := s.profiles.FindSummaries(ctx, ids)
	if err != nil {
		s.logger.Warn("Failed to load message senders", "error", err)
		return
	}
	for _, m := range msgs {
		if p, ok := profiles[m.Sender]; ok {
			m.SenderInfo = &p
		}
	}
}

func (s *MessageService) publish(communityID string, ev ws.Event) {
	s.publisher.PublishAsync(communityID, ev)
	if s.outbox == nil {
		return
	}
	if err := s.outbox.Emit(communityID, ev); err != nil {
		s.logger.Warn("Failed to emit event to outbox", "communityID", communityID, "event", ev.EventName(), "error", err)
	}
}
