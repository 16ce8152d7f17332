package history

import (
	"context"
	"database/sql"
	"strings"

	"go.uber.org/zap"

	"github.com/teranos/scribe/db"
	"github.com/teranos/scribe/errors"
	"github.com/teranos/scribe/logger"
)

// SQLRepository stores history rows in SQLite. Each append is a single
// INSERT, so several processes can share one database file.
type SQLRepository struct {
	db     *sql.DB
	owned  bool
	logger *zap.SugaredLogger
}

// OpenSQLRepository opens (and migrates) the database at path.
func OpenSQLRepository(path string, log *zap.SugaredLogger) (*SQLRepository, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	conn, err := db.OpenWithMigrations(path, log)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open history database %s", path)
	}
	repo := NewSQLRepository(conn, log)
	repo.owned = true
	return repo, nil
}

// NewSQLRepository wraps an already-migrated connection. The caller keeps
// ownership of conn.
func NewSQLRepository(conn *sql.DB, log *zap.SugaredLogger) *SQLRepository {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &SQLRepository{db: conn, logger: logger.AddDBSymbol(log)}
}

// Append inserts one record.
func (r *SQLRepository) Append(ctx context.Context, record Record) error {
	var resultPath sql.NullString
	if record.ResultPath != nil {
		resultPath = sql.NullString{String: *record.ResultPath, Valid: true}
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO job_history (id, status, progress, result_path, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		record.ID, record.Status, record.Progress, resultPath,
		record.CreatedAt.String(), record.UpdatedAt.String(),
	)
	if err != nil {
		if db.IsDatabaseClosed(err) {
			return errors.Wrap(db.ErrDatabaseClosed, "append history record")
		}
		return errors.Wrapf(err, "failed to insert history record %s", record.ID)
	}
	return nil
}

// Prune deletes rows whose id is not in keepIDs, in one transaction.
func (r *SQLRepository) Prune(ctx context.Context, keepIDs []string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin prune transaction")
	}
	defer tx.Rollback()

	var res sql.Result
	if len(keepIDs) == 0 {
		res, err = tx.ExecContext(ctx, `DELETE FROM job_history`)
	} else {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(keepIDs)), ",")
		args := make([]interface{}, len(keepIDs))
		for i, id := range keepIDs {
			args[i] = id
		}
		res, err = tx.ExecContext(ctx,
			`DELETE FROM job_history WHERE id NOT IN (`+placeholders+`)`, args...)
	}
	if err != nil {
		return errors.Wrap(err, "failed to prune history")
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "failed to commit history prune")
	}

	if removed, err := res.RowsAffected(); err == nil {
		r.logger.Infow("History pruned", "kept_ids", len(keepIDs), "removed", removed)
	}
	return nil
}

// List returns all rows in insertion order.
func (r *SQLRepository) List(ctx context.Context) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, status, progress, result_path, created_at, updated_at
		 FROM job_history ORDER BY seq`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query history")
	}
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		var (
			rec                  Record
			resultPath           sql.NullString
			createdAt, updatedAt string
		)
		if err := rows.Scan(&rec.ID, &rec.Status, &rec.Progress, &resultPath, &createdAt, &updatedAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan history row")
		}
		if resultPath.Valid {
			path := resultPath.String
			rec.ResultPath = &path
		}
		if rec.CreatedAt, err = ParseTimestamp(createdAt); err != nil {
			return nil, err
		}
		if rec.UpdatedAt, err = ParseTimestamp(updatedAt); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate history rows")
	}
	return records, nil
}

// Close closes the database if this repository opened it.
func (r *SQLRepository) Close() error {
	if !r.owned {
		return nil
	}
	return r.db.Close()
}
