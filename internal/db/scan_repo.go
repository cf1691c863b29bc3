package db

import (
	"context"

	"medevent/internal/types"
)

// ScanRepository provides the fan-out resolution query over the qr_scans
// table. Scan rows are written by the attendance module when a QR code scan
// is accepted or rejected; the pipeline only reads them.
type ScanRepository struct {
	db DBTX
}

// NewScanRepository creates a new ScanRepository backed by the given database
// connection (pool or transaction).
func NewScanRepository(db DBTX) *ScanRepository {
	return &ScanRepository{db: db}
}

// SuccessfulScanUserIDs returns the distinct attendees with a successful scan
// recorded against any of the event's QR codes. The fan-out resolution step
// creates one per-user task for each.
//
// SQL: SELECT DISTINCT user_id FROM qr_scans
//      WHERE event_id = $1 AND status = 'success'
func (r *ScanRepository) SuccessfulScanUserIDs(ctx context.Context, eventID string) ([]string, error) {
	rows, err := r.db.Query(ctx,
		`SELECT DISTINCT user_id FROM qr_scans
		 WHERE event_id = $1 AND status = $2`,
		eventID,
		string(types.ScanStatusSuccess),
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query successful scans", err)
	}
	defer rows.Close()

	var userIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan user id", err)
		}
		userIDs = append(userIDs, id)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating scan rows", err)
	}

	return userIDs, nil
}
