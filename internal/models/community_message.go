package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// enum
type MessageType string

const (
	MessageTypeText   MessageType = "text"
	MessageTypeImage  MessageType = "image"
	MessageTypeFile   MessageType = "file"
	MessageTypeSystem MessageType = "system"
)

// AllowedReactions is the closed set of emoji a message can be reacted with
var AllowedReactions = []string{"👍", "❤️", "😊", "😮", "😢", "😡"}

// MessageEditWindow is how long after creation the sender may still edit a message
const MessageEditWindow = 24 * time.Hour

/** --------------------ENTITIES-------------------- */
// CommunityMessage is a message posted to a community feed
type CommunityMessage struct {
	ID          primitive.ObjectID  `bson:"_id,omitempty" json:"_id"`
	Community   primitive.ObjectID  `bson:"community" json:"community"`
	Sender      primitive.ObjectID  `bson:"sender" json:"senderId"`
	SenderInfo  *UserSummary        `bson:"-" json:"sender,omitempty"`
	Content     string              `bson:"content" json:"content"`
	MessageType MessageType         `bson:"messageType" json:"messageType"`
	ReplyTo     *primitive.ObjectID `bson:"replyTo,omitempty" json:"replyTo,omitempty"`
	Reactions   []MessageReaction   `bson:"reactions" json:"reactions"`
	ReadBy      []MessageRead       `bson:"readBy" json:"readBy"`
	IsEdited    bool                `bson:"isEdited" json:"isEdited"`
	EditedAt    *time.Time          `bson:"editedAt,omitempty" json:"editedAt,omitempty"`
	IsDeleted   bool                `bson:"isDeleted" json:"-"`
	DeletedAt   *time.Time          `bson:"deletedAt,omitempty" json:"-"`
	CreatedAt   time.Time           `bson:"createdAt" json:"createdAt"`
	UpdatedAt   time.Time           `bson:"updatedAt" json:"updatedAt"`
}

// MessageReaction is one user's reaction on a message
type MessageReaction struct {
	User      primitive.ObjectID `bson:"user" json:"user"`
	Emoji     string             `bson:"emoji" json:"emoji"`
	CreatedAt time.Time          `bson:"createdAt" json:"createdAt"`
}

// MessageRead is a read receipt
type MessageRead struct {
	User   primitive.ObjectID `bson:"user" json:"user"`
	ReadAt time.Time          `bson:"readAt" json:"readAt"`
}

// SetReaction replaces any previous reaction of the user
func (m *CommunityMessage) SetReaction(user primitive.ObjectID, emoji string, at time.Time) {
	m.RemoveReaction(user)
	m.Reactions = append(m.Reactions, MessageReaction{User: user, Emoji: emoji, CreatedAt: at})
}

// RemoveReaction drops the reaction of the user, if any
func (m *CommunityMessage) RemoveReaction(user primitive.ObjectID) {
	kept := m.Reactions[:0]
	for _, r := range m.Reactions {
		if r.User != user {
			kept = append(kept, r)
		}
	}
	m.Reactions = kept
}

/** -------------------- DTOs -------------------- */
// SendMessageRequest is the body of POST /communities/:communityId/messages
type SendMessageRequest struct {
	Content     string      `json:"content" binding:"required,min=1,max=2000"`
	MessageType MessageType `json:"messageType" binding:"omitempty,oneof=text image file"`
	ReplyTo     string      `json:"replyTo" binding:"omitempty,mongodb"`
}

// EditMessageRequest is the body of PUT /communities/messages/:messageId
type EditMessageRequest struct {
	Content string `json:"content" binding:"required,min=1,max=2000"`
}

// ReactionRequest is the body of POST /communities/messages/:messageId/react
type ReactionRequest struct {
	Emoji string `json:"emoji" binding:"required,max=10"`
}

// Pagination describes a page of results
type Pagination struct {
	CurrentPage  int   `json:"currentPage"`
	TotalPages   int   `json:"totalPages"`
	TotalItems   int64 `json:"totalItems"`
	ItemsPerPage int   `json:"itemsPerPage"`
}

// PaginatedMessagesResponse is returned by GET /communities/:communityId/messages
type PaginatedMessagesResponse struct {
	Messages   []CommunityMessage `json:"messages"`
	Pagination Pagination         `json:"pagination"`
}

// RecentMessage is an entry of GET /communities/recent-messages
type RecentMessage struct {
	CommunityMessage
	CommunityName string `json:"communityName"`
}

type RecentMessagesResponse struct {
	Messages []RecentMessage `json:"messages"`
}

// MarkReadResponse is returned by POST /communities/:communityId/messages/read
type MarkReadResponse struct {
	Message     string `json:"message"`
	MarkedCount int64  `json:"markedCount"`
}

// CommunityUnreadCount is the number of messages a user has not read in one community
type CommunityUnreadCount struct {
	CommunityID   string `json:"communityId"`
	CommunityName string `json:"communityName"`
	UnreadCount   int64  `json:"unreadCount"`
}

// UnreadCountsResponse is returned by GET /communities/unread-counts
type UnreadCountsResponse struct {
	Communities []CommunityUnreadCount `json:"communities"`
	TotalUnread int64                  `json:"totalUnread"`
}
