package dataset

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"

	"contactnet/internal/errors"
	"contactnet/internal/model"

	_ "modernc.org/sqlite"
)

// SQLiteProvider reads a dataset stored in a single sqlite file. Row metadata
// is loaded once at Init; examples are decoded on demand.
type SQLiteProvider struct {
	path string

	mu         sync.RWMutex
	db         *sql.DB
	categories []string
	rows       []model.Row
}

func NewSQLiteProvider(path string) *SQLiteProvider {
	return &SQLiteProvider{path: path}
}

func (p *SQLiteProvider) Init(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.path == "" {
		return errors.New("sqlite path is required")
	}
	if p.db != nil {
		return nil
	}

	db, err := sql.Open("sqlite", p.path)
	if err != nil {
		return err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return err
	}
	if err := createTables(ctx, db); err != nil {
		_ = db.Close()
		return err
	}

	categories, err := loadCategories(ctx, db)
	if err != nil {
		_ = db.Close()
		return err
	}
	rows, err := loadRows(ctx, db)
	if err != nil {
		_ = db.Close()
		return err
	}

	p.db = db
	p.categories = categories
	p.rows = rows
	return nil
}

func (p *SQLiteProvider) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return len(p.rows)
}

func (p *SQLiteProvider) Categories() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return append([]string(nil), p.categories...)
}

func (p *SQLiteProvider) Row(i int) (model.Row, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if i < 0 || i >= len(p.rows) {
		return model.Row{}, fmt.Errorf("row %d out of range [0, %d)", i, len(p.rows))
	}
	return p.rows[i], nil
}

func (p *SQLiteProvider) Example(ctx context.Context, i int) (model.Example, error) {
	db, err := p.getDB()
	if err != nil {
		return model.Example{}, err
	}

	var payload []byte
	err = db.QueryRowContext(ctx, `SELECT payload FROM examples WHERE idx = ?`, i).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Example{}, errors.Batch("example %d not found", i)
		}
		return model.Example{}, err
	}

	// A malformed payload spoils one example, not the dataset.
	example, err := DecodeExample(payload)
	if err != nil {
		return model.Example{}, errors.WrapBatch(err, "decode example %d", i)
	}
	return example, nil
}

func (p *SQLiteProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.db == nil {
		return nil
	}
	err := p.db.Close()
	p.db = nil
	return err
}

func (p *SQLiteProvider) getDB() (*sql.DB, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.db == nil {
		return nil, errors.New("dataset is not initialized")
	}
	return p.db, nil
}

// Writer appends rows and examples to a sqlite dataset inside one transaction.
type Writer struct {
	tx   *sql.Tx
	db   *sql.DB
	next int
}

// CreateSQLite opens (creating if needed) a dataset file, records the category
// table and starts a write transaction.
func CreateSQLite(ctx context.Context, path string, categories []string) (*Writer, error) {
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if err := createTables(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	payload, err := EncodeCategories(categories)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO meta (key, value) VALUES ('categories', ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, payload); err != nil {
		_ = tx.Rollback()
		_ = db.Close()
		return nil, err
	}

	var count int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM rows`).Scan(&count); err != nil {
		_ = tx.Rollback()
		_ = db.Close()
		return nil, err
	}
	return &Writer{tx: tx, db: db, next: count}, nil
}

// Put stores one row and its example, returning the assigned row index.
func (w *Writer) Put(ctx context.Context, row model.Row, example model.Example) (int, error) {
	idx := w.next
	if row.Size == 0 {
		row.Size = example.Size()
	}
	if row.NumResidues == 0 {
		row.NumResidues = len(example.QueryPositions)
	}
	if example.Key == "" {
		example.Key = row.Identifier
	}
	categories, err := json.Marshal(row.InterfaceCategories)
	if err != nil {
		return 0, err
	}
	payload, err := EncodeExample(example)
	if err != nil {
		return 0, err
	}

	if _, err := w.tx.ExecContext(ctx, `
		INSERT INTO rows (idx, identifier, assembly_count, categories, size, num_residues)
		VALUES (?, ?, ?, ?, ?, ?)
	`, idx, row.Identifier, row.AssemblyCount, string(categories), row.Size, row.NumResidues); err != nil {
		return 0, fmt.Errorf("insert row %d: %w", idx, err)
	}
	if _, err := w.tx.ExecContext(ctx, `
		INSERT INTO examples (idx, schema_version, codec_version, payload)
		VALUES (?, ?, ?, ?)
	`, idx, CurrentSchemaVersion, CurrentCodecVersion, payload); err != nil {
		return 0, fmt.Errorf("insert example %d: %w", idx, err)
	}
	w.next++
	return idx, nil
}

// Commit makes all puts durable and closes the database.
func (w *Writer) Commit() error {
	if err := w.tx.Commit(); err != nil {
		_ = w.db.Close()
		return err
	}
	return w.db.Close()
}

// Rollback discards all puts and closes the database.
func (w *Writer) Rollback() error {
	err := w.tx.Rollback()
	if closeErr := w.db.Close(); err == nil {
		err = closeErr
	}
	return err
}

func loadCategories(ctx context.Context, db *sql.DB) ([]string, error) {
	var payload []byte
	err := db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = 'categories'`).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.New("dataset has no category table")
		}
		return nil, err
	}
	return DecodeCategories(payload)
}

func loadRows(ctx context.Context, db *sql.DB) ([]model.Row, error) {
	result, err := db.QueryContext(ctx, `
		SELECT idx, identifier, assembly_count, categories, size, num_residues
		FROM rows ORDER BY idx
	`)
	if err != nil {
		return nil, err
	}
	defer result.Close()

	rows := make([]model.Row, 0, 1024)
	for result.Next() {
		var (
			row        model.Row
			categories string
		)
		if err := result.Scan(&row.Index, &row.Identifier, &row.AssemblyCount, &categories, &row.Size, &row.NumResidues); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(categories), &row.InterfaceCategories); err != nil {
			return nil, fmt.Errorf("decode row %d categories: %w", row.Index, err)
		}
		if row.Index != len(rows) {
			return nil, fmt.Errorf("row index gap: got %d want %d", row.Index, len(rows))
		}
		rows = append(rows, row)
	}
	return rows, result.Err()
}

func createTables(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value BLOB NOT NULL
		);
		CREATE TABLE IF NOT EXISTS rows (
			idx INTEGER PRIMARY KEY,
			identifier TEXT NOT NULL,
			assembly_count INTEGER NOT NULL,
			categories TEXT NOT NULL,
			size INTEGER NOT NULL,
			num_residues INTEGER NOT NULL
		);
		CREATE TABLE IF NOT EXISTS examples (
			idx INTEGER PRIMARY KEY,
			schema_version INTEGER NOT NULL,
			codec_version INTEGER NOT NULL,
			payload BLOB NOT NULL
		);
	`)
	return err
}
