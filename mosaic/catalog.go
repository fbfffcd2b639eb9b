package mosaic

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/paulmach/orb"
)

// Entry describes one member dataset of a mosaic.
type Entry struct {
	Path string
	Type string
	SRID int
	// Corners are geodetic (lon, lat), upper-left, upper-right,
	// lower-right, lower-left.
	Corners [4]orb.Point
	MinGSD  float64
	MaxGSD  float64
	Width   int
	Height  int
}

// Bound returns the geodetic bounding box of the entry corners.
func (e Entry) Bound() orb.Bound {
	b := orb.Bound{Min: e.Corners[0], Max: e.Corners[0]}
	for _, c := range e.Corners[1:] {
		b = b.Extend(c)
	}
	return b
}

// Catalog finds the member datasets of a mosaic covering a region.
type Catalog interface {
	// Query returns the entries whose geodetic bounds intersect bounds.
	// An empty types list matches every type.
	Query(ctx context.Context, bounds orb.Bound, types []string) ([]Entry, error)
}

// SQLiteCatalog reads an ATAK mosaic database:
//
//	mosaicdata (id, type, path, minlat, minlon, maxlat, maxlon,
//	            ullat, ullon, urlat, urlon, lrlat, lrlon, lllat, lllon,
//	            mingsd, maxgsd, srid, precision, width, height)
//
// Relative paths are resolved against the directory of the database file.
// The sqlite3 driver must be registered by the caller, as for store.SQLite.
type SQLiteCatalog struct {
	db  *sql.DB
	dir string
}

const createMosaicData = `
	CREATE TABLE mosaicdata (
		id INTEGER PRIMARY KEY, type TEXT, path TEXT,
		minlat REAL, minlon REAL, maxlat REAL, maxlon REAL,
		ullat REAL, ullon REAL, urlat REAL, urlon REAL,
		lrlat REAL, lrlon REAL, lllat REAL, lllon REAL,
		mingsd REAL, maxgsd REAL, srid INTEGER, precision INTEGER,
		width INTEGER, height INTEGER
	);
`

// OpenCatalog opens a mosaic database read-only.
func OpenCatalog(filePath string) (*SQLiteCatalog, error) {
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?mode=ro", filePath))
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteCatalog{db: db, dir: filepath.Dir(filePath)}, nil
}

// CreateCatalog creates an empty mosaic database at filePath.
func CreateCatalog(filePath string) (*SQLiteCatalog, error) {
	db, err := sql.Open("sqlite3", filePath)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(createMosaicData); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteCatalog{db: db, dir: filepath.Dir(filePath)}, nil
}

// Add inserts an entry. The bounding columns are derived from the corners.
func (c *SQLiteCatalog) Add(e Entry) error {
	if c.db == nil {
		return ErrClosed
	}
	b := e.Bound()
	ul, ur, lr, ll := e.Corners[0], e.Corners[1], e.Corners[2], e.Corners[3]
	_, err := c.db.Exec(`
		INSERT INTO mosaicdata (type, path, minlat, minlon, maxlat, maxlon,
			ullat, ullon, urlat, urlon, lrlat, lrlon, lllat, lllon,
			mingsd, maxgsd, srid, precision, width, height)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)`,
		e.Type, e.Path, b.Min[1], b.Min[0], b.Max[1], b.Max[0],
		ul[1], ul[0], ur[1], ur[0], lr[1], lr[0], ll[1], ll[0],
		e.MinGSD, e.MaxGSD, e.SRID, e.Width, e.Height)
	return err
}

// Query returns matching entries ordered from the coarsest to the finest
// resolution.
func (c *SQLiteCatalog) Query(ctx context.Context, bounds orb.Bound, types []string) ([]Entry, error) {
	if c.db == nil {
		return nil, ErrClosed
	}
	var sb strings.Builder
	sb.WriteString(`SELECT path, type, srid, ullat, ullon, urlat, urlon, lrlat, lrlon, lllat, lllon,
		mingsd, maxgsd, width, height FROM mosaicdata
		WHERE maxlon >= ? AND minlon <= ? AND maxlat >= ? AND minlat <= ?`)
	args := []any{bounds.Min[0], bounds.Max[0], bounds.Min[1], bounds.Max[1]}
	if len(types) > 0 {
		sb.WriteString(" AND type IN (?" + strings.Repeat(", ?", len(types)-1) + ")")
		for _, t := range types {
			args = append(args, t)
		}
	}
	sb.WriteString(" ORDER BY maxgsd DESC, id")

	rows, err := c.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var ul, ur, lr, ll orb.Point
		err := rows.Scan(&e.Path, &e.Type, &e.SRID,
			&ul[1], &ul[0], &ur[1], &ur[0], &lr[1], &lr[0], &ll[1], &ll[0],
			&e.MinGSD, &e.MaxGSD, &e.Width, &e.Height)
		if err != nil {
			return nil, err
		}
		e.Corners = [4]orb.Point{ul, ur, lr, ll}
		if !filepath.IsAbs(e.Path) {
			e.Path = filepath.Join(c.dir, e.Path)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

func (c *SQLiteCatalog) Close() error {
	if c.db == nil {
		return nil
	}
	err := c.db.Close()
	c.db = nil
	return err
}
