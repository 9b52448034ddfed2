package models

import (
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type UserType string

const (
	UserTypeDonor    UserType = "donor"
	UserTypeHospital UserType = "hospital"
	UserTypeAdmin    UserType = "admin"
)

/** --------------------ENTITIES-------------------- */
// User is the subset of the users collection the realtime layer reads
type User struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"_id"`
	Email     string             `bson:"email" json:"email"`
	UserType  UserType           `bson:"userType" json:"userType"`
	FirstName string             `bson:"firstName,omitempty" json:"firstName,omitempty"`
	LastName  string             `bson:"lastName,omitempty" json:"lastName,omitempty"`
	Name      string             `bson:"name,omitempty" json:"name,omitempty"`
	IsActive  bool               `bson:"isActive" json:"isActive"`
	CreatedAt time.Time          `bson:"createdAt,omitempty" json:"createdAt"`
}

// DisplayName returns "First Last" for donors and the organisation name otherwise
func (u *User) DisplayName() string {
	if u.UserType == UserTypeDonor {
		if full := strings.TrimSpace(u.FirstName + " " + u.LastName); full != "" {
			return full
		}
	}
	return u.Name
}

// Summary returns the profile sent to clients on connect
func (u *User) Summary() UserSummary {
	return UserSummary{
		ID:        u.ID.Hex(),
		Email:     u.Email,
		UserType:  u.UserType,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Name:      u.Name,
	}
}

/** -------------------- DTOs -------------------- */
// UserSummary is the public profile of a user
type UserSummary struct {
	ID        string   `json:"_id,omitempty"`
	Email     string   `json:"email,omitempty"`
	UserType  UserType `json:"userType"`
	FirstName string   `json:"firstName,omitempty"`
	LastName  string   `json:"lastName,omitempty"`
	Name      string   `json:"name,omitempty"`
}
