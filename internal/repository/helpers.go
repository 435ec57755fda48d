package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/storeline/scan-station/internal/database"
)

// getOptional scans a single row into a new T. A query matching no row
// yields nil and no error.
func getOptional[T any](ctx context.Context, db database.DBTX, query string, args ...any) (*T, error) {
	var row T
	err := db.GetContext(ctx, &row, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}
