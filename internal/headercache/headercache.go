// Package headercache persists LAS header summaries in SQLite so catalog
// discovery can skip re-reading unchanged files.
package headercache

import (
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/beetlebugorg/lascat/internal/parser"
)

//go:embed schema.sql
var schemaSQL string

// Entry is the cached summary of one file. An entry is valid only while
// the file keeps the same size and modification time.
type Entry struct {
	Path         string
	Size         int64
	ModTime      time.Time
	VersionMajor uint8
	VersionMinor uint8
	PointFormat  uint8
	PointCount   uint64
	Compression  uint8
	Bounds       parser.Bounds
	Scale        [3]float64
	CRS          string
}

// Cache is a SQLite-backed header cache. It is safe for concurrent use.
type Cache struct {
	db *sql.DB
}

// Open opens or creates the cache database at path. ":memory:" gives a
// private in-memory cache.
func Open(path string) (*Cache, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// a single connection serialises writers and keeps :memory: shared
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialise header cache schema: %w", err)
	}

	return &Cache{db: db}, nil
}

// Get returns the entry for path if one was stored for the same size and
// modification time.
func (c *Cache) Get(path string, size int64, modTime time.Time) (Entry, bool, error) {
	query := `
		SELECT version_major, version_minor, point_format, point_count, compression,
		       min_x, min_y, min_z, max_x, max_y, max_z,
		       scale_x, scale_y, scale_z, crs
		FROM las_headers
		WHERE path = ? AND size = ? AND mtime_ns = ?
	`

	e := Entry{Path: path, Size: size, ModTime: modTime}
	var count int64
	err := c.db.QueryRow(query, path, size, modTime.UnixNano()).Scan(
		&e.VersionMajor, &e.VersionMinor, &e.PointFormat, &count, &e.Compression,
		&e.Bounds.MinX, &e.Bounds.MinY, &e.Bounds.MinZ,
		&e.Bounds.MaxX, &e.Bounds.MaxY, &e.Bounds.MaxZ,
		&e.Scale[0], &e.Scale[1], &e.Scale[2], &e.CRS,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("failed to query header cache: %w", err)
	}
	e.PointCount = uint64(count)

	return e, true, nil
}

// Put stores or replaces the entry for e.Path.
func (c *Cache) Put(e Entry) error {
	query := `
		INSERT OR REPLACE INTO las_headers (
			path, size, mtime_ns, version_major, version_minor, point_format,
			point_count, compression,
			min_x, min_y, min_z, max_x, max_y, max_z,
			scale_x, scale_y, scale_z, crs
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := c.db.Exec(query,
		e.Path, e.Size, e.ModTime.UnixNano(), e.VersionMajor, e.VersionMinor, e.PointFormat,
		int64(e.PointCount), e.Compression,
		e.Bounds.MinX, e.Bounds.MinY, e.Bounds.MinZ,
		e.Bounds.MaxX, e.Bounds.MaxY, e.Bounds.MaxZ,
		e.Scale[0], e.Scale[1], e.Scale[2], e.CRS,
	)
	if err != nil {
		return fmt.Errorf("failed to store header of %s: %w", e.Path, err)
	}

	return nil
}

// Remove drops the entry for path.
func (c *Cache) Remove(path string) error {
	if _, err := c.db.Exec(`DELETE FROM las_headers WHERE path = ?`, path); err != nil {
		return fmt.Errorf("failed to remove header of %s: %w", path, err)
	}
	return nil
}

// Len returns the number of cached entries.
func (c *Cache) Len() (int, error) {
	var n int
	if err := c.db.QueryRow(`SELECT COUNT(*) FROM las_headers`).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// Close closes the database.
func (c *Cache) Close() error {
	return c.db.Close()
}
