package mbtiles

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"
)

func testMeta() Metadata {
	return Metadata{
		Name:    "test",
		Format:  "png",
		Bounds:  [4]float64{9.7, 52.3, 9.9, 52.4},
		MinZoom: 0,
		MaxZoom: 4,
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tiles.mbtiles")
	w, err := NewWriter(path, testMeta())
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}

	payload := []byte("not actually a png, but bytes survive")
	if err := w.WriteTile(3, 4, 2, payload); err != nil {
		t.Fatalf("WriteTile: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	r, err := OpenReader(path)
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer r.Close()

	got, err := r.ReadTile(3, 4, 2)
	if err != nil {
		t.Fatalf("ReadTile: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("tile data corrupted through write/read")
	}
}

func TestReadMissingTile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tiles.mbtiles")
	w, err := NewWriter(path, testMeta())
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	w.Close()

	r, err := OpenReader(path)
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer r.Close()

	_, err = r.ReadTile(0, 0, 0)
	if !errors.Is(err, ErrTileNotFound) {
		t.Errorf("error = %v, want ErrTileNotFound", err)
	}
}

func TestMetadataRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tiles.mbtiles")
	w, err := NewWriter(path, testMeta())
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	w.Close()

	r, err := OpenReader(path)
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer r.Close()

	meta, err := r.Metadata()
	if err != nil {
		t.Fatalf("Metadata: %v", err)
	}
	if meta.Name != "test" || meta.MaxZoom != 4 {
		t.Errorf("metadata = %+v", meta)
	}
	if meta.Bounds[0] != 9.7 {
		t.Errorf("bounds = %v", meta.Bounds)
	}
}

func TestZoomHistogram(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tiles.mbtiles")
	w, err := NewWriter(path, testMeta())
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := w.WriteTile(2, i, 0, []byte{1}); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.WriteTile(3, 0, 0, []byte{1}); err != nil {
		t.Fatal(err)
	}
	w.Close()

	r, err := OpenReader(path)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	hist, err := r.ZoomHistogram()
	if err != nil {
		t.Fatal(err)
	}
	if hist[2] != 3 || hist[3] != 1 {
		t.Errorf("histogram = %v", hist)
	}
}

func TestOpenReaderRejectsMissingSchema(t *testing.T) {
	_, err := OpenReader(filepath.Join(t.TempDir(), "nope.mbtiles"))
	if err == nil {
		t.Error("expected error for nonexistent database")
	}
}

func TestGzipPassthrough(t *testing.T) {
	raw := []byte("plain bytes, no gzip frame")
	got, err := gzipDecompress(raw)
	if err != nil {
		t.Fatalf("gzipDecompress: %v", err)
	}
	if !bytes.Equal(got, raw) {
		t.Error("raw data should pass through untouched")
	}
}
