package main

import (
	"context"
	"log"
	"log/slog"

	"charity-service/internal/config"
	"charity-service/internal/database"
	mongorepo "charity-service/internal/repositories/mongo"
)

type indexer interface {
	EnsureIndexes(ctx context.Context) error
}

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	slog.Info("Starting index migration...")

	// Connect to database
	mongoDB, err := database.NewMongoConnection(cfg.Mongo)
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}
	defer mongoDB.Close(context.Background())

	slog.Info("Database connection established", "database", cfg.Mongo.Database)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Mongo.Timeout)
	defer cancel()

	for name, repo := range map[string]indexer{
		"communities":       mongorepo.NewCommunityRepository(mongoDB.DB),
		"communitymessages": mongorepo.NewMessageRepository(mongoDB.DB),
	} {
		if err := repo.EnsureIndexes(ctx); err != nil {
			log.Fatalf("Failed to migrate %s: %v", name, err)
		}
		slog.Info("Indexes ensured", "collection", name)
	}

	slog.Info("Index migration completed successfully!")
}
