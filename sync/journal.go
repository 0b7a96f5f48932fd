package sync

import (
	"database/sql"
	"fmt"
	"time"
)

// PassRecord is one journal row.
type PassRecord struct {
	ID        int64
	Type      string
	Version   string
	Previous  string
	Source    string
	Status    PassStatus
	Success   int
	Failed    int
	Removed   int
	Unchanged int
	Deferred  int
	DiffLog   bool
	Error     string
	AppliedAt time.Time
}

// Journal records every pass in a sqlite database next to the client's
// version files. A nil *Journal records nothing.
type Journal struct {
	db *sql.DB
}

// OpenJournal opens the journal of the client directory clientDir on the
// local disk.
func OpenJournal(clientDir string) (*Journal, error) {
	db, err := openJournalDB(clientDir)
	if err != nil {
		return nil, err
	}
	return &Journal{db: db}, nil
}

// Close closes the underlying database.
func (j *Journal) Close() error {
	if j == nil {
		return nil
	}
	return j.db.Close()
}

// Record appends a row for report.
func (j *Journal) Record(report *PassReport) error {
	if j == nil || report == nil {
		return nil
	}
	counts := report.Counts()
	errText := ""
	if report.Err != nil {
		errText = report.Err.Error()
	}
	_, err := j.db.Exec(`
		INSERT INTO passes (vtype, version, previous, source, status, success, failed,
			removed, unchanged, deferred, difflog, error, applied_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, report.Type.Name, report.Version, report.Previous, report.Source, string(report.Status),
		counts[DownloadSuccess], counts[DownloadFailed], counts[DownloadRemoved],
		counts[DownloadNoChange], counts[DownloadForDeletionNoChange],
		report.DiffLogWritten, errText, nowFunc().UnixMilli())
	if err != nil {
		sub("journal").Error("record pass failed", "type", report.Type.Name, "err", err)
		return fmt.Errorf("record pass: %w", err)
	}
	return nil
}

// History returns the most recent passes, newest first. An empty vtype
// returns every type; limit <= 0 means no limit.
func (j *Journal) History(vtype string, limit int) ([]PassRecord, error) {
	if j == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = -1
	}
	rows, err := j.db.Query(`
		SELECT id, vtype, version, previous, source, status, success, failed,
			removed, unchanged, deferred, difflog, error, applied_at
		FROM passes
		WHERE ? = '' OR vtype = ?
		ORDER BY applied_at DESC, id DESC
		LIMIT ?
	`, vtype, vtype, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var out []PassRecord
	for rows.Next() {
		var (
			r         PassRecord
			status    string
			appliedAt int64
		)
		if err := rows.Scan(&r.ID, &r.Type, &r.Version, &r.Previous, &r.Source, &status,
			&r.Success, &r.Failed, &r.Removed, &r.Unchanged, &r.Deferred, &r.DiffLog,
			&r.Error, &appliedAt); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		r.Status = PassStatus(status)
		r.AppliedAt = time.UnixMilli(appliedAt)
		out = append(out, r)
	}
	return out, rows.Err()
}
