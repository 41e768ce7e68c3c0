package di

import (
	"context"
	"fmt"

	"github.com/aristath/restock/internal/config"
	"github.com/rs/zerolog"
)

// Wire initializes all dependencies and returns a fully configured container.
// Order of operations:
// 1. Open and migrate the database
// 2. Create repositories and clients
// 3. Create event bus, metrics and run lock
// 4. Create services
// 5. Register jobs
func Wire(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*Container, *JobInstances, error) {
	container, err := InitializeDatabase(cfg, log)
	if err != nil {
		return nil, nil, err
	}

	InitializeRepositories(container, log)
	InitializeClients(container, cfg, log)

	if err := InitializeInfrastructure(ctx, container, cfg, log); err != nil {
		container.Close()
		return nil, nil, fmt.Errorf("failed to initialize infrastructure: %w", err)
	}

	if err := InitializeServices(ctx, container, cfg, log); err != nil {
		container.Close()
		return nil, nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	jobs, err := RegisterJobs(container, cfg, log)
	if err != nil {
		container.Close()
		return nil, nil, fmt.Errorf("failed to register jobs: %w", err)
	}

	log.Info().Msg("Dependency injection wiring completed successfully")
	return container, jobs, nil
}
