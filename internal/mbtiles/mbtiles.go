// Package mbtiles reads and writes MBTiles databases, the sqlite-backed
// tile archives the map entity can stream imagery from. Tile rows are
// stored TMS-flipped and gzip-compressed, per the MBTiles convention.
package mbtiles

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

// Metadata mirrors the MBTiles metadata table.
type Metadata struct {
	Name        string
	Format      string
	Description string
	Version     string
	Bounds      [4]float64 // minLon, minLat, maxLon, maxLat
	MinZoom     int
	MaxZoom     int
}

// toMap flattens the metadata for insertion.
func (m Metadata) toMap() map[string]string {
	out := map[string]string{}
	if m.Name != "" {
		out["name"] = m.Name
	}
	if m.Format != "" {
		out["format"] = m.Format
	}
	if m.Description != "" {
		out["description"] = m.Description
	}
	if m.Version != "" {
		out["version"] = m.Version
	}
	if m.Bounds != [4]float64{} {
		out["bounds"] = fmt.Sprintf("%.6f,%.6f,%.6f,%.6f", m.Bounds[0], m.Bounds[1], m.Bounds[2], m.Bounds[3])
	}
	out["minzoom"] = strconv.Itoa(m.MinZoom)
	out["maxzoom"] = strconv.Itoa(m.MaxZoom)
	return out
}

func metadataFromMap(kv map[string]string) Metadata {
	m := Metadata{
		Name:        kv["name"],
		Format:      kv["format"],
		Description: kv["description"],
		Version:     kv["version"],
	}
	if v, err := strconv.Atoi(kv["minzoom"]); err == nil {
		m.MinZoom = v
	}
	if v, err := strconv.Atoi(kv["maxzoom"]); err == nil {
		m.MaxZoom = v
	}
	if parts := strings.Split(kv["bounds"], ","); len(parts) == 4 {
		for i, p := range parts {
			if f, err := strconv.ParseFloat(strings.TrimSpace(p), 64); err == nil {
				m.Bounds[i] = f
			}
		}
	}
	return m
}

// tmsRow flips an XYZ row into TMS.
func tmsRow(z, y int) int {
	return (1 << z) - 1 - y
}

func gzipCompress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	if _, err := gw.Write(data); err != nil {
		gw.Close()
		return nil, err
	}
	if err := gw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// gzipDecompress undoes gzipCompress; data that is not gzip-framed passes
// through untouched, since some producers store tiles raw.
func gzipDecompress(data []byte) ([]byte, error) {
	if len(data) < 2 || data[0] != 0x1f || data[1] != 0x8b {
		return data, nil
	}
	gr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, eris.Wrap(err, "open gzip stream")
	}
	defer gr.Close()
	out, err := io.ReadAll(gr)
	if err != nil {
		return nil, eris.Wrap(err, "inflate tile")
	}
	return out, nil
}
