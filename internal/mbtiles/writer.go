package mbtiles

import (
	"database/sql"
	"sync"

	"github.com/rotisserie/eris"

	_ "modernc.org/sqlite" // sqlite driver
)

// defaultBatchSize is how many tiles buffer before an automatic flush.
const defaultBatchSize = 100

type tileEntry struct {
	data    []byte
	z, x, y int
}

// Writer writes tiles to an MBTiles database in batches.
type Writer struct {
	mu    sync.Mutex
	db    *sql.DB
	batch []tileEntry
}

// NewWriter creates the database (and schema) at path and stores metadata.
func NewWriter(path string, meta Metadata) (*Writer, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, eris.Wrapf(err, "open %s", path)
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "set %s", pragma)
		}
	}

	schema := `
		CREATE TABLE IF NOT EXISTS metadata (name TEXT NOT NULL, value TEXT);
		CREATE TABLE IF NOT EXISTS tiles (
			zoom_level INTEGER NOT NULL,
			tile_column INTEGER NOT NULL,
			tile_row INTEGER NOT NULL,
			tile_data BLOB NOT NULL
		);
		CREATE UNIQUE INDEX IF NOT EXISTS tile_index ON tiles (zoom_level, tile_column, tile_row);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, eris.Wrap(err, "create schema")
	}

	if _, err := db.Exec("DELETE FROM metadata"); err != nil {
		db.Close()
		return nil, eris.Wrap(err, "clear metadata")
	}
	for name, value := range meta.toMap() {
		if _, err := db.Exec("INSERT INTO metadata (name, value) VALUES (?, ?)", name, value); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "insert metadata %q", name)
		}
	}

	return &Writer{db: db, batch: make([]tileEntry, 0, defaultBatchSize)}, nil
}

// WriteTile buffers a tile; full batches flush automatically. Data is
// gzip-compressed and the row TMS-flipped on write.
func (w *Writer) WriteTile(z, x, y int, data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.batch = append(w.batch, tileEntry{data: data, z: z, x: x, y: y})
	if len(w.batch) >= defaultBatchSize {
		return w.flushLocked()
	}
	return nil
}

// Flush writes buffered tiles to the database.
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flushLocked()
}

func (w *Writer) flushLocked() error {
	if len(w.batch) == 0 {
		return nil
	}
	tx, err := w.db.Begin()
	if err != nil {
		return eris.Wrap(err, "begin transaction")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.Prepare("INSERT OR REPLACE INTO tiles (zoom_level, tile_column, tile_row, tile_data) VALUES (?, ?, ?, ?)")
	if err != nil {
		return eris.Wrap(err, "prepare insert")
	}
	defer stmt.Close()

	for _, t := range w.batch {
		compressed, err := gzipCompress(t.data)
		if err != nil {
			return eris.Wrapf(err, "compress tile %d/%d/%d", t.z, t.x, t.y)
		}
		if _, err := stmt.Exec(t.z, t.x, tmsRow(t.z, t.y), compressed); err != nil {
			return eris.Wrapf(err, "insert tile %d/%d/%d", t.z, t.x, t.y)
		}
	}
	if err := tx.Commit(); err != nil {
		return eris.Wrap(err, "commit batch")
	}
	w.batch = w.batch[:0]
	return nil
}

// Close flushes remaining tiles and closes the database.
func (w *Writer) Close() error {
	if err := w.Flush(); err != nil {
		w.db.Close()
		return err
	}
	return w.db.Close()
}
