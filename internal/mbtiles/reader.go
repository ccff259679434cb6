package mbtiles

import (
	"database/sql"
	"errors"

	"github.com/rotisserie/eris"

	_ "modernc.org/sqlite" // sqlite driver
)

// ErrTileNotFound is returned when a tile row is absent from the archive.
var ErrTileNotFound = eris.New("tile not found")

// Reader reads tiles from an MBTiles database.
type Reader struct {
	db   *sql.DB
	path string
}

// OpenReader opens an MBTiles database read-only and verifies its schema.
func OpenReader(path string) (*Reader, error) {
	db, err := sql.Open("sqlite", path+"?mode=ro&immutable=1")
	if err != nil {
		return nil, eris.Wrapf(err, "open %s", path)
	}
	var count int
	err = db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='tiles'").Scan(&count)
	if err != nil {
		db.Close()
		return nil, eris.Wrap(err, "verify schema")
	}
	if count == 0 {
		db.Close()
		return nil, eris.Errorf("%s has no tiles table", path)
	}
	return &Reader{db: db, path: path}, nil
}

// ReadTile returns the decompressed tile bytes at XYZ coordinates.
func (r *Reader) ReadTile(z, x, y int) ([]byte, error) {
	var data []byte
	err := r.db.QueryRow(
		"SELECT tile_data FROM tiles WHERE zoom_level=? AND tile_column=? AND tile_row=?",
		z, x, tmsRow(z, y),
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrTileNotFound, "%d/%d/%d", z, x, y)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "query tile %d/%d/%d", z, x, y)
	}
	return gzipDecompress(data)
}

// Metadata reads the metadata table.
func (r *Reader) Metadata() (Metadata, error) {
	rows, err := r.db.Query("SELECT name, value FROM metadata")
	if err != nil {
		return Metadata{}, eris.Wrap(err, "query metadata")
	}
	defer rows.Close()

	kv := map[string]string{}
	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return Metadata{}, eris.Wrap(err, "scan metadata row")
		}
		kv[name] = value
	}
	if err := rows.Err(); err != nil {
		return Metadata{}, eris.Wrap(err, "iterate metadata")
	}
	return metadataFromMap(kv), nil
}

// ZoomHistogram counts stored tiles per zoom level.
func (r *Reader) ZoomHistogram() (map[int]int, error) {
	rows, err := r.db.Query("SELECT zoom_level, COUNT(*) FROM tiles GROUP BY zoom_level")
	if err != nil {
		return nil, eris.Wrap(err, "query zoom histogram")
	}
	defer rows.Close()

	out := map[int]int{}
	for rows.Next() {
		var z, n int
		if err := rows.Scan(&z, &n); err != nil {
			return nil, eris.Wrap(err, "scan histogram row")
		}
		out[z] = n
	}
	return out, rows.Err()
}

// Close releases the database handle.
func (r *Reader) Close() error {
	return r.db.Close()
}
