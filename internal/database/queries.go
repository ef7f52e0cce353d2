package database

import (
	"context"
	"database/sql"
	"time"

	"scribe-go/internal/model"
)

// DBTX is satisfied by both *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
	QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
}

// queries holds the SQL of the version index. Every method runs against
// whatever DBTX it was built with, so the same code serves transactions.
type queries struct {
	db DBTX
}

func newQueries(db DBTX) *queries {
	return &queries{db: db}
}

func (q *queries) withTx(tx *sql.Tx) *queries {
	return &queries{db: tx}
}

type rowScanner interface {
	Scan(dest ...any) error
}

// Documents

const documentColumns = `id, created_at, updated_at, latest_version, last_full_at`

func scanDocument(r rowScanner) (*model.DocumentRecord, error) {
	var d model.DocumentRecord
	var lastFull sql.NullTime
	if err := r.Scan(&d.ID, &d.CreatedAt, &d.UpdatedAt, &d.LatestVersion, &lastFull); err != nil {
		return nil, err
	}
	if lastFull.Valid {
		d.LastFullAt = lastFull.Time
	}
	return &d, nil
}

func (q *queries) getDocument(ctx context.Context, id string) (*model.DocumentRecord, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = ?`, id)
	return scanDocument(row)
}

func (q *queries) listDocuments(ctx context.Context) ([]*model.DocumentRecord, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT `+documentColumns+` FROM documents ORDER BY updated_at DESC, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.DocumentRecord
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (q *queries) insertDocument(ctx context.Context, id string, now time.Time) error {
	_, err := q.db.ExecContext(ctx,
		`INSERT INTO documents (id, created_at, updated_at, latest_version) VALUES (?, ?, ?, 0)`,
		id, now, now)
	return err
}

func (q *queries) advanceDocument(ctx context.Context, id string, version int64, now time.Time, full bool) (int64, error) {
	query := `UPDATE documents SET latest_version = ?, updated_at = ? WHERE id = ? AND latest_version = ?`
	args := []any{version, now, id, version - 1}
	if full {
		query = `UPDATE documents SET latest_version = ?, updated_at = ?, last_full_at = ? WHERE id = ? AND latest_version = ?`
		args = []any{version, now, now, id, version - 1}
	}
	res, err := q.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Versions

const versionColumns = `document_id, version, created_at, is_full_snapshot, checksum, digest,
	change_count, block_count, word_count, speaker_count, change_summary, payload_size, encrypted`

func scanVersion(r rowScanner) (*model.VersionRecord, error) {
	var v model.VersionRecord
	err := r.Scan(&v.DocumentID, &v.Version, &v.CreatedAt, &v.IsFullSnapshot, &v.Checksum, &v.Digest,
		&v.ChangeCount, &v.BlockCount, &v.WordCount, &v.SpeakerCount, &v.ChangeSummary, &v.PayloadSize, &v.Encrypted)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (q *queries) scanVersions(ctx context.Context, query string, args ...any) ([]*model.VersionRecord, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.VersionRecord
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (q *queries) getVersion(ctx context.Context, documentID string, version int64) (*model.VersionRecord, error) {
	row := q.db.QueryRowContext(ctx,
		`SELECT `+versionColumns+` FROM versions WHERE document_id = ? AND version = ?`,
		documentID, version)
	return scanVersion(row)
}

func (q *queries) getLatestVersion(ctx context.Context, documentID string) (*model.VersionRecord, error) {
	row := q.db.QueryRowContext(ctx,
		`SELECT `+versionColumns+` FROM versions WHERE document_id = ? ORDER BY version DESC LIMIT 1`,
		documentID)
	return scanVersion(row)
}

func (q *queries) getLatestFullVersion(ctx context.Context, documentID string, atOrBefore int64) (*model.VersionRecord, error) {
	row := q.db.QueryRowContext(ctx,
		`SELECT `+versionColumns+` FROM versions
		 WHERE document_id = ? AND version <= ? AND is_full_snapshot
		 ORDER BY version DESC LIMIT 1`,
		documentID, atOrBefore)
	return scanVersion(row)
}

func (q *queries) listVersions(ctx context.Context, documentID string, limit int64) ([]*model.VersionRecord, error) {
	return q.scanVersions(ctx,
		`SELECT `+versionColumns+` FROM versions WHERE document_id = ? ORDER BY version DESC LIMIT ?`,
		documentID, limit)
}

func (q *queries) listVersionRange(ctx context.Context, documentID string, from, to int64) ([]*model.VersionRecord, error) {
	return q.scanVersions(ctx,
		`SELECT `+versionColumns+` FROM versions
		 WHERE document_id = ? AND version BETWEEN ? AND ? ORDER BY version`,
		documentID, from, to)
}

func (q *queries) insertVersion(ctx context.Context, v *model.VersionRecord) error {
	_, err := q.db.ExecContext(ctx,
		`INSERT INTO versions (`+versionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.DocumentID, v.Version, v.CreatedAt, v.IsFullSnapshot, v.Checksum, v.Digest,
		v.ChangeCount, v.BlockCount, v.WordCount, v.SpeakerCount, v.ChangeSummary, v.PayloadSize, v.Encrypted)
	return err
}

func (q *queries) listChecksumsBefore(ctx context.Context, documentID string, version int64) ([]string, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT DISTINCT checksum FROM versions WHERE document_id = ? AND version < ?`,
		documentID, version)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (q *queries) deleteVersionsBefore(ctx context.Context, documentID string, version int64) error {
	_, err := q.db.ExecContext(ctx, `DELETE FROM versions WHERE document_id = ? AND version < ?`, documentID, version)
	return err
}

func (q *queries) countChecksumRefs(ctx context.Context, checksum string) (int64, error) {
	var n int64
	err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM versions WHERE checksum = ?`, checksum).Scan(&n)
	return n, err
}

// Head blocks

func (q *queries) listHeadBlocks(ctx context.Context, documentID string) ([]model.Block, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT block_id, text, speaker_ref, speaker_name, time_marker
		 FROM head_blocks WHERE document_id = ? ORDER BY position`,
		documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Block
	for rows.Next() {
		var b model.Block
		var tm sql.NullFloat64
		if err := rows.Scan(&b.ID, &b.Text, &b.SpeakerRef, &b.SpeakerName, &tm); err != nil {
			return nil, err
		}
		if tm.Valid {
			t := tm.Float64
			b.TimeMarker = &t
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (q *queries) deleteHeadBlocks(ctx context.Context, documentID string) error {
	_, err := q.db.ExecContext(ctx, `DELETE FROM head_blocks WHERE document_id = ?`, documentID)
	return err
}

func (q *queries) insertHeadBlock(ctx context.Context, documentID string, position int, b model.Block) error {
	var tm sql.NullFloat64
	if b.TimeMarker != nil {
		tm = sql.NullFloat64{Float64: *b.TimeMarker, Valid: true}
	}
	_, err := q.db.ExecContext(ctx,
		`INSERT INTO head_blocks (document_id, block_id, position, text, speaker_ref, speaker_name, time_marker)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		documentID, b.ID, position, b.Text, b.SpeakerRef, b.SpeakerName, tm)
	return err
}

// Operations

func scanOperation(r rowScanner) (*model.OperationRecord, error) {
	var op model.OperationRecord
	var finished sql.NullTime
	if err := r.Scan(&op.ID, &op.StartedAt, &finished, &op.Operation, &op.Parameters, &op.Status); err != nil {
		return nil, err
	}
	if finished.Valid {
		t := finished.Time
		op.FinishedAt = &t
	}
	return &op, nil
}

func (q *queries) insertOperation(ctx context.Context, startedAt time.Time, operation, parameters string) (int64, error) {
	res, err := q.db.ExecContext(ctx,
		`INSERT INTO operations (started_at, operation, parameters) VALUES (?, ?, ?)`,
		startedAt, operation, parameters)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (q *queries) getOperation(ctx context.Context, id int64) (*model.OperationRecord, error) {
	row := q.db.QueryRowContext(ctx,
		`SELECT id, started_at, finished_at, operation, parameters, status FROM operations WHERE id = ?`, id)
	return scanOperation(row)
}

func (q *queries) finishOperation(ctx context.Context, id int64, finishedAt time.Time, status string) error {
	_, err := q.db.ExecContext(ctx,
		`UPDATE operations SET finished_at = ?, status = ? WHERE id = ?`,
		finishedAt, status, id)
	return err
}

func (q *queries) listOperations(ctx context.Context, limit int64) ([]*model.OperationRecord, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT id, started_at, finished_at, operation, parameters, status
		 FROM operations ORDER BY id DESC LIMIT ?`,
		limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.OperationRecord
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, op)
	}
	return out, rows.Err()
}

func (q *queries) maxOperationID(ctx context.Context) (int64, error) {
	var id int64
	err := q.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(id), 0) FROM operations`).Scan(&id)
	return id, err
}
