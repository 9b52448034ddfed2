package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"charity-service/internal/models"
	"charity-service/internal/repositories"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const messagesCollection = "communitymessages"

type MessageRepository struct {
	coll *mongo.Collection
}

func NewMessageRepository(db *mongo.Database) *MessageRepository {
	return &MessageRepository{coll: db.Collection(messagesCollection)}
}

// Create inserts msg and sets its ID and timestamps.
func (r *MessageRepository) Create(ctx context.Context, msg *models.CommunityMessage) error {
	now := time.Now().UTC()
	if msg.ID.IsZero() {
		msg.ID = primitive.NewObjectID()
	}
	msg.CreatedAt = now
	msg.UpdatedAt = now
	if msg.Reactions == nil {
		msg.Reactions = []models.MessageReaction{}
	}
	if msg.ReadBy == nil {
		msg.ReadBy = []models.MessageRead{}
	}

	if _, err := r.coll.InsertOne(ctx, msg); err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}
	return nil
}

// FindByID returns a message that has not been soft deleted.
func (r *MessageRepository) FindByID(ctx context.Context, messageID string) (*models.CommunityMessage, error) {
	oid, err := primitive.ObjectIDFromHex(messageID)
	if err != nil {
		return nil, repositories.ErrNotFound
	}

	var msg models.CommunityMessage
	if err := r.coll.FindOne(ctx, bson.M{"_id": oid, "isDeleted": false}).Decode(&msg); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, repositories.ErrNotFound
		}
		return nil, fmt.Errorf("failed to find message %s: %w", messageID, err)
	}
	return &msg, nil
}

// ListByCommunity returns one page of live messages, newest first, and the
// total number of live messages in the community.
func (r *MessageRepository) ListByCommunity(ctx context.Context, communityID primitive.ObjectID, page, limit int) ([]models.CommunityMessage, int64, error) {
	filter := bson.M{"community": communityID, "isDeleted": false}

	total, err := r.coll.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count messages: %w", err)
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}}).
		SetSkip(int64((page - 1) * limit)).
		SetLimit(int64(limit))
	cursor, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list messages: %w", err)
	}

	messages := []models.CommunityMessage{}
	if err := cursor.All(ctx, &messages); err != nil {
		return nil, 0, fmt.Errorf("failed to decode messages: %w", err)
	}
	return messages, total, nil
}

// RecentByCommunities returns the newest live messages across communities.
func (r *MessageRepository) RecentByCommunities(ctx context.Context, communityIDs []primitive.ObjectID, limit int) ([]models.CommunityMessage, error) {
	messages := []models.CommunityMessage{}
	if len(communityIDs) == 0 {
		return messages, nil
	}

	filter := bson.M{"community": bson.M{"$in": communityIDs}, "isDeleted": false}
	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}}).
		SetLimit(int64(limit))
	cursor, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent messages: %w", err)
	}
	if err := cursor.All(ctx, &messages); err != nil {
		return nil, fmt.Errorf("failed to decode messages: %w", err)
	}
	return messages, nil
}

// MarkRead adds a read receipt for userID to every live message of the
// community it has not read yet, and returns how many messages it marked.
func (r *MessageRepository) MarkRead(ctx context.Context, communityID, userID primitive.ObjectID, at time.Time) (int64, error) {
	filter := bson.M{
		"community":   communityID,
		"isDeleted":   false,
		"readBy.user": bson.M{"$ne": userID},
	}
	update := bson.M{"$push": bson.M{"readBy": models.MessageRead{User: userID, ReadAt: at}}}

	res, err := r.coll.UpdateMany(ctx, filter, update)
	if err != nil {
		return 0, fmt.Errorf("failed to mark messages read: %w", err)
	}
	return res.ModifiedCount, nil
}

// UnreadCounts counts, per community, the live messages of other users that
// userID has not read. Communities without unread messages are absent.
func (r *MessageRepository) UnreadCounts(ctx context.Context, communityIDs []primitive.ObjectID, userID primitive.ObjectID) (map[primitive.ObjectID]int64, error) {
	counts := make(map[primitive.ObjectID]int64, len(communityIDs))
	if len(communityIDs) == 0 {
		return counts, nil
	}

	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{
			"community":   bson.M{"$in": communityIDs},
			"isDeleted":   false,
			"sender":      bson.M{"$ne": userID},
			"readBy.user": bson.M{"$ne": userID},
		}}},
		{{Key: "$group", Value: bson.M{
			"_id":         "$community",
			"unreadCount": bson.M{"$sum": 1},
		}}},
	}
	cursor, err := r.coll.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("failed to count unread messages: %w", err)
	}

	var rows []struct {
		Community   primitive.ObjectID `bson:"_id"`
		UnreadCount int64              `bson:"unreadCount"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("failed to decode unread counts: %w", err)
	}
	for _, row := range rows {
		counts[row.Community] = row.UnreadCount
	}
	return counts, nil
}

// UpdateContent rewrites the content of a message and flags it as edited.
func (r *MessageRepository) UpdateContent(ctx context.Context, msg *models.CommunityMessage, content string) error {
	now := time.Now().UTC()
	update := bson.M{"$set": bson.M{
		"content":   content,
		"isEdited":  true,
		"editedAt":  now,
		"updatedAt": now,
	}}
	if err := r.updateLive(ctx, msg.ID, update); err != nil {
		return err
	}
	msg.Content = content
	msg.IsEdited = true
	msg.EditedAt = &now
	msg.UpdatedAt = now
	return nil
}

// SoftDelete hides a message from every listing.
func (r *MessageRepository) SoftDelete(ctx context.Context, msg *models.CommunityMessage) error {
	now := time.Now().UTC()
	update := bson.M{"$set": bson.M{
		"isDeleted": true,
		"deletedAt": now,
		"updatedAt": now,
	}}
	if err := r.updateLive(ctx, msg.ID, update); err != nil {
		return err
	}
	msg.IsDeleted = true
	msg.DeletedAt = &now
	return nil
}

// SaveReactions persists the reactions array of msg.
func (r *MessageRepository) SaveReactions(ctx context.Context, msg *models.CommunityMessage) error {
	now := time.Now().UTC()
	if msg.Reactions == nil {
		msg.Reactions = []models.MessageReaction{}
	}
	update := bson.M{"$set": bson.M{"reactions": msg.Reactions, "updatedAt": now}}
	if err := r.updateLive(ctx, msg.ID, update); err != nil {
		return err
	}
	msg.UpdatedAt = now
	return nil
}

func (r *MessageRepository) updateLive(ctx context.Context, id primitive.ObjectID, update bson.M) error {
	res, err := r.coll.UpdateOne(ctx, bson.M{"_id": id, "isDeleted": false}, update)
	if err != nil {
		return fmt.Errorf("failed to update message %s: %w", id.Hex(), err)
	}
	if res.MatchedCount == 0 {
		return repositories.ErrNotFound
	}
	return nil
}

// EnsureIndexes creates the indexes used by the message listings and
// read receipts.
func (r *MessageRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "community", Value: 1}, {Key: "createdAt", Value: -1}}},
		{Keys: bson.D{{Key: "sender", Value: 1}}},
		{Keys: bson.D{{Key: "readBy.user", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("failed to create message indexes: %w", err)
	}
	return nil
}
