package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
)

const fileCols = `id, path, module, COALESCE(output_path, ''), fingerprint, COALESCE(run_id, ''), last_processed`

func scanFile(scanner interface{ Scan(...any) error }) (*Record, error) {
	r := &Record{}
	var last sql.NullTime
	if err := scanner.Scan(&r.ID, &r.Path, &r.Module, &r.OutputPath, &r.Fingerprint, &r.RunID, &last); err != nil {
		return nil, err
	}
	if last.Valid {
		r.LastProcessed = last.Time
	}
	return r, nil
}

// Record upserts the state of one processed file in a single transaction.
// Any previous record for r.Path is replaced. On success r.ID is set.
func (s *Store) Record(ctx context.Context, r *Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("record: begin", err)
	}
	defer tx.Rollback()

	var oldID int64
	err = tx.QueryRowContext(ctx, "SELECT id FROM files WHERE path = ?", r.Path).Scan(&oldID)
	switch {
	case err == sql.ErrNoRows:
	case err != nil:
		return storageErr("record: lookup", err)
	default:
		if err := deleteFileTx(ctx, tx, oldID); err != nil {
			return storageErr("record: delete old", err)
		}
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO files (path, module, output_path, fingerprint, run_id, last_processed)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		r.Path, r.Module, r.OutputPath, r.Fingerprint, r.RunID, r.LastProcessed,
	)
	if err != nil {
		return storageErr("record: insert file", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return storageErr("record: last insert id", err)
	}

	for _, sym := range r.Symbols {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO symbols (file_id, name, value, line) VALUES (?, ?, ?, ?)",
			id, sym.Name, sym.Value, sym.Line,
		); err != nil {
			return storageErr(fmt.Sprintf("record: symbol %q", sym.Name), err)
		}
	}
	for _, mod := range r.ReferencedModules {
		if _, err := tx.ExecContext(ctx,
			"INSERT OR IGNORE INTO module_uses (file_id, module) VALUES (?, ?)", id, mod,
		); err != nil {
			return storageErr("record: module use", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return storageErr("record: commit", err)
	}
	r.ID = id
	return nil
}

// Lookup returns the full record for path, or ErrNotFound.
func (s *Store) Lookup(ctx context.Context, path string) (*Record, error) {
	r, err := scanFile(s.db.QueryRowContext(ctx, "SELECT "+fileCols+" FROM files WHERE path = ?", path))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storageErr("lookup", err)
	}
	if err := s.loadChildren(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

func (s *Store) loadChildren(ctx context.Context, r *Record) error {
	rows, err := s.db.QueryContext(ctx,
		"SELECT name, value, COALESCE(line, 0) FROM symbols WHERE file_id = ? ORDER BY line, name", r.ID)
	if err != nil {
		return storageErr("load symbols", err)
	}
	for rows.Next() {
		var sym SymbolRecord
		if err := rows.Scan(&sym.Name, &sym.Value, &sym.Line); err != nil {
			rows.Close()
			return storageErr("scan symbol", err)
		}
		r.Symbols = append(r.Symbols, sym)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return storageErr("load symbols", err)
	}

	mods, err := s.queryStrings(ctx, "SELECT module FROM module_uses WHERE file_id = ? ORDER BY module", r.ID)
	if err != nil {
		return storageErr("load module uses", err)
	}
	r.ReferencedModules = mods
	return nil
}

// IsStale reports whether path must be reprocessed: true when no record
// exists or its fingerprint differs.
func (s *Store) IsStale(ctx context.Context, path, fingerprint string) (bool, error) {
	var stored string
	err := s.db.QueryRowContext(ctx, "SELECT fingerprint FROM files WHERE path = ?", path).Scan(&stored)
	if err == sql.ErrNoRows {
		return true, nil
	}
	if err != nil {
		return false, storageErr("is stale", err)
	}
	return stored != fingerprint, nil
}

// Forget removes the record for path. Missing records are not an error.
func (s *Store) Forget(ctx context.Context, path string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("forget: begin", err)
	}
	defer tx.Rollback()

	var id int64
	err = tx.QueryRowContext(ctx, "SELECT id FROM files WHERE path = ?", path).Scan(&id)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return storageErr("forget: lookup", err)
	}
	if err := deleteFileTx(ctx, tx, id); err != nil {
		return storageErr("forget: delete", err)
	}
	return storageErr("forget: commit", tx.Commit())
}

// RecordsByModule returns the file records (without children) whose
// module name equals module.
func (s *Store) RecordsByModule(ctx context.Context, module string) ([]*Record, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+fileCols+" FROM files WHERE module = ? ORDER BY path", module)
	if err != nil {
		return nil, storageErr("records by module", err)
	}
	defer rows.Close()
	var recs []*Record
	for rows.Next() {
		r, err := scanFile(rows)
		if err != nil {
			return nil, storageErr("scan file", err)
		}
		recs = append(recs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("records by module", err)
	}
	return recs, nil
}

// Symbol returns one definition owned by the file with the given record
// ID, or ErrNotFound.
func (s *Store) Symbol(ctx context.Context, fileID int64, name string) (*SymbolRecord, error) {
	sym := &SymbolRecord{}
	err := s.db.QueryRowContext(ctx,
		"SELECT name, value, COALESCE(line, 0) FROM symbols WHERE file_id = ? AND name = ?", fileID, name,
	).Scan(&sym.Name, &sym.Value, &sym.Line)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storageErr("symbol", err)
	}
	return sym, nil
}

// Records returns every record with its children, ordered by path.
func (s *Store) Records(ctx context.Context) ([]*Record, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+fileCols+" FROM files ORDER BY path")
	if err != nil {
		return nil, storageErr("records", err)
	}
	var recs []*Record
	for rows.Next() {
		r, err := scanFile(rows)
		if err != nil {
			rows.Close()
			return nil, storageErr("scan file", err)
		}
		recs = append(recs, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, storageErr("records", err)
	}
	for _, r := range recs {
		if err := s.loadChildren(ctx, r); err != nil {
			return nil, err
		}
	}
	return recs, nil
}

// Paths returns the source path of every record, sorted.
func (s *Store) Paths(ctx context.Context) ([]string, error) {
	paths, err := s.queryStrings(ctx, "SELECT path FROM files ORDER BY path")
	if err != nil {
		return nil, storageErr("paths", err)
	}
	return paths, nil
}

// Dependents returns the paths of files whose last successful run
// referenced module, sorted.
func (s *Store) Dependents(ctx context.Context, module string) ([]string, error) {
	paths, err := s.queryStrings(ctx,
		`SELECT f.path FROM module_uses mu JOIN files f ON f.id = mu.file_id
		 WHERE mu.module = ?`, module)
	if err != nil {
		return nil, storageErr("dependents", err)
	}
	sort.Strings(paths)
	return paths, nil
}

func (s *Store) queryStrings(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
