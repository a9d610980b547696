package db

import (
	"context"

	"github.com/uptrace/bun"

	"ms-reservation/internal/models"
)

// Bootstrap creates the reservation tables if they do not exist. Used for
// local development and the sqlite test databases; postgres deployments run
// the versioned migrations instead.
func Bootstrap(ctx context.Context, bunDB *bun.DB) error {
	if _, err := bunDB.NewCreateTable().
		Model((*models.CapacityRecord)(nil)).
		IfNotExists().
		Exec(ctx); err != nil {
		return err
	}

	_, err := bunDB.NewCreateTable().
		Model((*models.Booking)(nil)).
		IfNotExists().
		Exec(ctx)
	return err
}
