// Package storage selects the durable backends behind the companion services.
package storage

import (
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aiox-platform/companion/internal/audit"
	"github.com/aiox-platform/companion/internal/memory"
	"github.com/aiox-platform/companion/internal/photos"
	"github.com/aiox-platform/companion/internal/safety"
	"github.com/aiox-platform/companion/internal/session"
)

// Driver names a storage backend.
type Driver string

const (
	DriverPostgres Driver = "postgres"
	DriverMemory   Driver = "memory"
)

// Backends groups the repositories shared by the services.
type Backends struct {
	Memory    memory.Repository
	Incidents safety.Store
	Photos    photos.Repository
	Profiles  session.ProfileRepository
	Audit     audit.Repository
}

// New builds the repositories for driver. The postgres driver requires pool.
func New(driver Driver, pool *pgxpool.Pool) (*Backends, error) {
	switch driver {
	case DriverPostgres:
		if pool == nil {
			return nil, fmt.Errorf("storage driver %q requires a database pool", driver)
		}
		return &Backends{
			Memory:    memory.NewPostgresRepository(pool),
			Incidents: safety.NewPostgresStore(pool),
			Photos:    photos.NewPostgresRepository(pool),
			Profiles:  session.NewPostgresProfileRepository(pool),
			Audit:     audit.NewPostgresRepository(pool),
		}, nil
	case DriverMemory:
		return &Backends{
			Memory:    memory.NewInMemoryRepository(),
			Incidents: safety.NewInMemoryStore(),
			Photos:    photos.NewInMemoryRepository(),
			Profiles:  session.NewInMemoryProfileRepository(),
			Audit:     audit.NewInMemoryRepository(),
		}, nil
	default:
		return nil, fmt.Errorf("unsupported storage driver: %s", driver)
	}
}
