package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/storeline/scan-station/internal/database"
	"github.com/storeline/scan-station/internal/model"
)

// ScanEventRepository stores the detection history of each station.
type ScanEventRepository interface {
	Create(ctx context.Context, params model.CreateScanEventParams) (*model.ScanEvent, error)
	FindByID(ctx context.Context, id string) (*model.ScanEvent, error)
	FindRecent(ctx context.Context, stationID string, limit int) ([]model.ScanEvent, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

type scanEventRepo struct {
	db database.DBTX
}

func NewScanEventRepository(db database.DBTX) ScanEventRepository {
	return &scanEventRepo{db: db}
}

func (r *scanEventRepo) Create(ctx context.Context, params model.CreateScanEventParams) (*model.ScanEvent, error) {
	scannedAt := params.ScannedAt
	if scannedAt.IsZero() {
		scannedAt = time.Now()
	}

	var event model.ScanEvent
	err := r.db.GetContext(ctx, &event, `
		INSERT INTO scan_events (id, station_id, session_id, raw_text, code_type, method, resolved_id, scanned_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING *
	`, uuid.NewString(), params.StationID, params.SessionID, params.RawText,
		params.CodeType, params.Method, params.ResolvedID, scannedAt)
	if err != nil {
		return nil, err
	}
	return &event, nil
}

func (r *scanEventRepo) FindByID(ctx context.Context, id string) (*model.ScanEvent, error) {
	return getOptional[model.ScanEvent](ctx, r.db, `SELECT * FROM scan_events WHERE id = $1`, id)
}

// FindRecent returns the station's newest events first.
func (r *scanEventRepo) FindRecent(ctx context.Context, stationID string, limit int) ([]model.ScanEvent, error) {
	events := []model.ScanEvent{}
	err := r.db.SelectContext(ctx, &events, `
		SELECT * FROM scan_events
		WHERE station_id = $1
		ORDER BY scanned_at DESC
		LIMIT $2
	`, stationID, limit)
	if err != nil {
		return nil, err
	}
	return events, nil
}

func (r *scanEventRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM scan_events WHERE scanned_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
