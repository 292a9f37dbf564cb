package repositories

import (
	"context"

	"github.com/vidmirror/backend/internal/models"
)

// UserRepository defines the data access contract for users.
type UserRepository interface {
	UpsertUser(ctx context.Context, user models.User) (models.User, error)
	Grant(ctx context.Context, user models.User) (models.User, error)
	ListCredentialed(ctx context.Context, privileged bool) ([]models.User, error)
}

// ConfigRepository stores named configuration values.
type ConfigRepository interface {
	Get(ctx context.Context, name string) (string, error)
	Put(ctx context.Context, name, value string) error
}
