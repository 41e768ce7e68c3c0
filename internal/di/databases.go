package di

import (
	"fmt"

	"github.com/aristath/restock/internal/config"
	"github.com/aristath/restock/internal/database"
	"github.com/rs/zerolog"
)

// InitializeDatabase opens restock.db and applies the schema
func InitializeDatabase(cfg *config.Config, log zerolog.Logger) (*Container, error) {
	db, err := database.New(database.Config{
		Path:    cfg.DatabasePath(),
		Profile: database.ProfileStandard,
		Name:    "restock",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	log.Info().Str("path", db.Path()).Msg("Database ready")

	container := &Container{DB: db}
	container.closers = append(container.closers, db)
	return container, nil
}
