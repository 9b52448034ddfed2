package mongo

import (
	"context"
	"errors"
	"fmt"

	"charity-service/internal/models"
	"charity-service/internal/repositories"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const communitiesCollection = "communities"

type CommunityRepository struct {
	coll *mongo.Collection
}

func NewCommunityRepository(db *mongo.Database) *CommunityRepository {
	return &CommunityRepository{coll: db.Collection(communitiesCollection)}
}

// FindActiveByMember lists the active communities the user is a member of.
// Only _id and name are loaded.
func (r *CommunityRepository) FindActiveByMember(ctx context.Context, userID string) ([]models.Community, error) {
	uid, err := primitive.ObjectIDFromHex(userID)
	if err != nil {
		return nil, nil
	}

	opts := options.Find().SetProjection(bson.M{"_id": 1, "name": 1})
	cursor, err := r.coll.Find(ctx, bson.M{"members.user": uid, "isActive": true}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find communities of user %s: %w", userID, err)
	}

	var communities []models.Community
	if err := cursor.All(ctx, &communities); err != nil {
		return nil, fmt.Errorf("failed to decode communities: %w", err)
	}
	return communities, nil
}

// FindActiveMembership returns the community when it is active and the user
// belongs to it.
func (r *CommunityRepository) FindActiveMembership(ctx context.Context, communityID, userID string) (*models.Community, error) {
	cid, err := primitive.ObjectIDFromHex(communityID)
	if err != nil {
		return nil, repositories.ErrNotFound
	}
	uid, err := primitive.ObjectIDFromHex(userID)
	if err != nil {
		return nil, repositories.ErrNotFound
	}
	return r.findOne(ctx, bson.M{"_id": cid, "members.user": uid, "isActive": true})
}

// FindActiveByID returns an active community regardless of membership.
func (r *CommunityRepository) FindActiveByID(ctx context.Context, communityID string) (*models.Community, error) {
	cid, err := primitive.ObjectIDFromHex(communityID)
	if err != nil {
		return nil, repositories.ErrNotFound
	}
	return r.findOne(ctx, bson.M{"_id": cid, "isActive": true})
}

// FindByID returns a community whether active or not.
func (r *CommunityRepository) FindByID(ctx context.Context, id primitive.ObjectID) (*models.Community, error) {
	return r.findOne(ctx, bson.M{"_id": id})
}

func (r *CommunityRepository) findOne(ctx context.Context, filter bson.M) (*models.Community, error) {
	var community models.Community
	if err := r.coll.FindOne(ctx, filter).Decode(&community); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, repositories.ErrNotFound
		}
		return nil, fmt.Errorf("failed to find community: %w", err)
	}
	return &community, nil
}

// EnsureIndexes creates the membership index used on connect.
func (r *CommunityRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "members.user", Value: 1}, {Key: "isActive", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("failed to create community indexes: %w", err)
	}
	return nil
}
