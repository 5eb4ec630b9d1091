package cmd

import (
	"context"
	"log/slog"
	"strings"

	"github.com/dukex/flowpoint/pkg/persistence"
	"github.com/dukex/flowpoint/pkg/persistence/file"
	"github.com/dukex/flowpoint/pkg/persistence/postgresql"
)

// NewPersistence picks the backend from the URL scheme: postgres:// and
// postgresql:// use PostgreSQL, file:// or a bare path use the file store.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.Persistence, error) {
	switch parsePersistenceProvider(databaseURL) {
	case "postgresql":
		return postgresql.NewPersistence(ctx, logger, databaseURL)
	default:
		root := strings.TrimPrefix(databaseURL, "file://")

		logger.InfoContext(ctx, "Using file persistence", "root", root)

		return file.NewPersistence(root), nil
	}
}

func parsePersistenceProvider(databaseURL string) string {
	scheme, _, found := strings.Cut(databaseURL, "://")
	if !found {
		return "file"
	}

	switch scheme {
	case "postgres", "postgresql":
		return "postgresql"
	default:
		return "file"
	}
}
