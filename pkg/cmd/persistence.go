// Package cmd provides common initialization for the automation binaries.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/clinicore/automation/pkg/persistence"
	"github.com/clinicore/automation/pkg/persistence/memory"
	"github.com/clinicore/automation/pkg/persistence/postgresql"
)

// NewPersistence selects the storage backend from the database URL scheme.
// memory:// is for local development and tests only.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.Persistence, error) {
	switch provider(databaseURL) {
	case "postgres", "postgresql":
		return postgresql.NewPersistence(ctx, logger, databaseURL)
	case "memory":
		return memory.NewPersistence(), nil
	default:
		return nil, fmt.Errorf("unsupported persistence provider in URL '%s'", databaseURL)
	}
}

func provider(databaseURL string) string {
	scheme, _, ok := strings.Cut(databaseURL, "://")
	if !ok {
		return ""
	}

	return scheme
}
