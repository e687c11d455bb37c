package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type DBTX interface {
	ExecContext(context.Context, string, ...any) (sql.Result, error)
	QueryContext(context.Context, string, ...any) (*sql.Rows, error)
}

type Queries struct {
	db DBTX
}

type Transfer struct {
	ID           int64
	RunID        uuid.UUID
	SourcePath   string
	Destination  string
	Size         int64
	Checksum     string
	RemoteMTime  int64
	DownloadedAt time.Time
}

const insertTransfer = `
INSERT INTO transfers (run_id, source_path, destination, size, checksum, remote_mtime, downloaded_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
`

func (q *Queries) InsertTransfer(ctx context.Context, t Transfer) (int64, error) {
	res, err := q.db.ExecContext(
		ctx, insertTransfer,
		t.RunID.String(), t.SourcePath, t.Destination, t.Size, t.Checksum, t.RemoteMTime, t.DownloadedAt.Unix(),
	)
	if err != nil {
		return 0, fmt.Errorf("could not insert transfer of '%s': %w", t.SourcePath, err)
	}
	return res.LastInsertId()
}

const listTransfers = `
SELECT id, run_id, source_path, destination, size, checksum, remote_mtime, downloaded_at
FROM transfers
ORDER BY downloaded_at DESC, id DESC
LIMIT ?
`

// ListTransfers returns the latest transfers, newest first.
func (q *Queries) ListTransfers(ctx context.Context, limit int) ([]Transfer, error) {
	rows, err := q.db.QueryContext(ctx, listTransfers, limit)
	if err != nil {
		return nil, fmt.Errorf("could not list transfers: %w", err)
	}
	defer rows.Close()

	var items []Transfer
	for rows.Next() {
		var (
			t            Transfer
			runID        string
			downloadedAt int64
		)
		if err = rows.Scan(
			&t.ID, &runID, &t.SourcePath, &t.Destination, &t.Size, &t.Checksum, &t.RemoteMTime, &downloadedAt,
		); err != nil {
			return nil, fmt.Errorf("could not scan transfer: %w", err)
		}
		if t.RunID, err = uuid.Parse(runID); err != nil {
			return nil, fmt.Errorf("could not parse run id '%s': %w", runID, err)
		}
		t.DownloadedAt = time.Unix(downloadedAt, 0)
		items = append(items, t)
	}
	return items, rows.Err()
}

// Run records the transfers of one sync run under a shared id.
type Run struct {
	ID uuid.UUID
	q  *Queries
}

func (d *Database) StartRun() *Run {
	return &Run{ID: uuid.New(), q: d.Queries()}
}

func (r *Run) Record(ctx context.Context, t Transfer) error {
	t.RunID = r.ID
	_, err := r.q.InsertTransfer(ctx, t)
	return err
}
