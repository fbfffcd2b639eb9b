package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/eak1mov/go-rastertiles/tile"
	"github.com/eak1mov/go-rastertiles/tilekey"
)

var ErrInvalidPattern = errors.New("rastertiles: invalid file pattern")

var placeholder = regexp.MustCompile(`\{[xyz]\}`)

// dirPattern is a file pattern split at its {z}, {x} and {y} placeholders.
// literals has one more element than fields.
type dirPattern struct {
	literals []string
	fields   []byte
	root     string
	match    *regexp.Regexp
}

func parseDirPattern(pattern string) (*dirPattern, error) {
	p := &dirPattern{}
	var expr strings.Builder
	expr.WriteByte('^')
	last := 0
	for _, loc := range placeholder.FindAllStringIndex(pattern, -1) {
		literal := pattern[last:loc[0]]
		p.literals = append(p.literals, literal)
		p.fields = append(p.fields, pattern[loc[0]+1])
		expr.WriteString(regexp.QuoteMeta(literal))
		expr.WriteString(`(\d+)`)
		last = loc[1]
	}
	p.literals = append(p.literals, pattern[last:])
	expr.WriteString(regexp.QuoteMeta(pattern[last:]))
	expr.WriteByte('$')

	for _, f := range []byte("zxy") {
		if strings.Count(string(p.fields), string(f)) != 1 {
			return nil, fmt.Errorf("%w: %q needs exactly one {%c}", ErrInvalidPattern, pattern, f)
		}
	}
	p.match = regexp.MustCompile(expr.String())
	// Tiles live below the directory holding the first placeholder.
	p.root = filepath.Dir(p.literals[0] + "0")
	return p, nil
}

func (p *dirPattern) path(tileID tile.ID) string {
	var sb strings.Builder
	for i, f := range p.fields {
		sb.WriteString(p.literals[i])
		sb.WriteString(strconv.Itoa(p.value(f, tileID)))
	}
	sb.WriteString(p.literals[len(p.fields)])
	return sb.String()
}

func (p *dirPattern) value(field byte, tileID tile.ID) int {
	switch field {
	case 'z':
		return tileID.Level
	case 'x':
		return tileID.Column
	}
	return tileID.Row
}

// tileID parses a path produced by path.
func (p *dirPattern) tileID(filePath string) (tile.ID, bool) {
	m := p.match.FindStringSubmatch(filePath)
	if m == nil {
		return tile.ID{}, false
	}
	var tileID tile.ID
	for i, f := range p.fields {
		v, err := strconv.Atoi(m[i+1])
		if err != nil {
			return tile.ID{}, false
		}
		switch f {
		case 'z':
			tileID.Level = v
		case 'x':
			tileID.Column = v
		case 'y':
			tileID.Row = v
		}
	}
	return tileID, true
}

// Dir stores tiles as individual files named by a pattern such as
// "/home/user/tiles/{z}/{x}/{y}.png". Keys are decoded with a
// tilekey.Scheme; keys the scheme cannot decode read as missing tiles.
type Dir struct {
	pattern *dirPattern
	scheme  tilekey.Scheme
}

func NewDir(filePattern string, scheme tilekey.Scheme) (*Dir, error) {
	p, err := parseDirPattern(filePattern)
	if err != nil {
		return nil, err
	}
	return &Dir{p, scheme}, nil
}

func (d *Dir) Close() error { return nil }

func (d *Dir) Get(key int64) ([]byte, error) {
	tileID, ok := d.scheme.Decode(key)
	if !ok {
		return make([]byte, 0), nil
	}
	data, err := os.ReadFile(d.pattern.path(tileID))
	if errors.Is(err, os.ErrNotExist) {
		return make([]byte, 0), nil
	}
	return data, err
}

// Visit calls visitor for every file matching the pattern whose tile the
// scheme can encode. Other files are ignored.
func (d *Dir) Visit(visitor func(key int64, data []byte) error) error {
	return filepath.WalkDir(d.pattern.root, func(filePath string, entry os.DirEntry, err error) error {
		if err != nil || entry.IsDir() {
			return err
		}
		tileID, ok := d.pattern.tileID(filePath)
		if !ok {
			return nil
		}
		key, ok := d.scheme.Encode(tileID)
		if !ok {
			return nil
		}
		data, err := os.ReadFile(filePath)
		if err != nil {
			return err
		}
		return visitor(key, data)
	})
}

// DirWriter writes tiles as files named by a pattern.
type DirWriter struct {
	pattern *dirPattern
	scheme  tilekey.Scheme
}

func NewDirWriter(filePattern string, scheme tilekey.Scheme) (*DirWriter, error) {
	p, err := parseDirPattern(filePattern)
	if err != nil {
		return nil, err
	}
	return &DirWriter{p, scheme}, nil
}

func (w *DirWriter) Put(key int64, data []byte) error {
	tileID, ok := w.scheme.Decode(key)
	if !ok {
		return fmt.Errorf("rastertiles: invalid %s key %d", w.scheme.Name(), key)
	}
	filePath := w.pattern.path(tileID)
	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return err
	}
	return os.WriteFile(filePath, data, 0o644)
}

func (w *DirWriter) Finalize() error { return nil }
func (w *DirWriter) Close() error    { return nil }
