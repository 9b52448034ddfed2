package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// enum
type MemberRole string

const (
	MemberRoleAdmin     MemberRole = "admin"
	MemberRoleModerator MemberRole = "moderator"
	MemberRoleMember    MemberRole = "member"
)

/** --------------------ENTITIES-------------------- */
// Community is a group of users sharing a message feed
type Community struct {
	ID          primitive.ObjectID `bson:"_id,omitempty" json:"_id"`
	Name        string             `bson:"name" json:"name"`
	Description string             `bson:"description,omitempty" json:"description,omitempty"`
	CreatedBy   primitive.ObjectID `bson:"createdBy" json:"createdBy"`
	Type        string             `bson:"type,omitempty" json:"type,omitempty"`
	Category    string             `bson:"category,omitempty" json:"category,omitempty"`
	Members     []CommunityMember  `bson:"members" json:"members"`
	IsActive    bool               `bson:"isActive" json:"isActive"`
	CreatedAt   time.Time          `bson:"createdAt,omitempty" json:"createdAt"`
	UpdatedAt   time.Time          `bson:"updatedAt,omitempty" json:"updatedAt"`
}

// CommunityMember is an entry of Community.Members
type CommunityMember struct {
	User     primitive.ObjectID `bson:"user" json:"user"`
	Role     MemberRole         `bson:"role" json:"role"`
	JoinedAt time.Time          `bson:"joinedAt" json:"joinedAt"`
}

// IsMember reports whether userID is listed in the members array
func (c *Community) IsMember(userID string) bool {
	return c.MemberRole(userID) != ""
}

// MemberRole returns the role of userID, or "" when the user is not a member
func (c *Community) MemberRole(userID string) MemberRole {
	for _, m := range c.Members {
		if m.User.Hex() == userID {
			return m.Role
		}
	}
	return ""
}

// CanModerate reports whether userID may delete other members' messages
func (c *Community) CanModerate(userID string) bool {
	return c.MemberRole(userID) == MemberRoleAdmin || c.CreatedBy.Hex() == userID
}
