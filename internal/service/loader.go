package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/paulmach/orb/geojson"
	"github.com/rs/zerolog/log"
)

// ObjectFetcher reads whole objects from a bucket store.
type ObjectFetcher interface {
	Fetch(ctx context.Context, bucket, key string) ([]byte, error)
}

// LoaderConfig configures a Loader. DB and S3 are optional; references
// needing a missing backend fail to load.
type LoaderConfig struct {
	DataDir  string
	DB       *sql.DB
	S3       ObjectFetcher
	CacheTTL time.Duration
}

// Loader resolves data references into GeoJSON payloads. File, SQL and S3
// results are cached, so loading the same reference twice yields the same
// *geojson.FeatureCollection until the entry expires or is invalidated.
type Loader struct {
	sourcesDir string
	db         *sql.DB
	s3         ObjectFetcher
	cache      *ristretto.Cache
	ttl        time.Duration
}

// SourceFile represents a GeoJSON file in the sources directory.
type SourceFile struct {
	Name string `json:"name" doc:"File name" example:"roads.geojson"`
	Size string `json:"size" doc:"Human-readable file size" example:"1.2 MB"`
}

// NewLoader creates a loader reading files from <DataDir>/sources.
func NewLoader(cfg LoaderConfig) (*Loader, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e4,     // keys to track frequency of
		MaxCost:     64 << 20, // payload bytes held
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("creating data cache: %w", err)
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Loader{
		sourcesDir: filepath.Join(cfg.DataDir, "sources"),
		db:         cfg.DB,
		s3:         cfg.S3,
		cache:      cache,
		ttl:        ttl,
	}, nil
}

// Close releases the cache.
func (l *Loader) Close() {
	l.cache.Close()
}

// SourcesDir returns the path to the sources directory.
func (l *Loader) SourcesDir() string {
	return l.sourcesDir
}

// Load resolves ref. URL references load as the URL string itself.
func (l *Loader) Load(ctx context.Context, ref DataRef) (any, error) {
	if err := ref.Validate(); err != nil {
		return nil, err
	}
	switch {
	case ref.URL != "":
		return ref.URL, nil
	case ref.Inline != nil:
		raw, err := json.Marshal(ref.Inline)
		if err != nil {
			return nil, fmt.Errorf("encoding inline data: %w", err)
		}
		return parseGeoJSON(raw)
	}

	key, _ := ref.key()
	if cached, ok := l.cache.Get(key); ok {
		if fc, ok := cached.(*geojson.FeatureCollection); ok {
			return fc, nil
		}
	}

	var (
		fc   *geojson.FeatureCollection
		cost int64
		err  error
	)
	switch {
	case ref.File != "":
		fc, cost, err = l.loadFile(ref.File)
	case ref.SQL != "":
		fc, cost, err = l.loadSQL(ctx, ref.SQL)
	case ref.S3 != "":
		fc, cost, err = l.loadS3(ctx, ref.S3)
	}
	if err != nil {
		return nil, err
	}

	l.cache.SetWithTTL(key, fc, cost, l.ttl)
	l.cache.Wait()
	log.Debug().Str("ref", key).Int("features", len(fc.Features)).Msg("Data loaded")
	return fc, nil
}

// Invalidate drops the cached payload of ref.
func (l *Loader) Invalidate(ref DataRef) {
	if key, ok := ref.key(); ok {
		l.cache.Del(key)
	}
}

func (l *Loader) loadFile(name string) (*geojson.FeatureCollection, int64, error) {
	if err := l.validateSourceFile(name); err != nil {
		return nil, 0, err
	}
	data, err := os.ReadFile(filepath.Join(l.sourcesDir, name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, fmt.Errorf("source file %q: %w", name, ErrNotFound)
		}
		return nil, 0, err
	}
	fc, err := parseGeoJSON(data)
	return fc, int64(len(data)), err
}

// validateSourceFile rejects path traversal and non GeoJSON files.
func (l *Loader) validateSourceFile(name string) error {
	if strings.Contains(name, "/") || strings.Contains(name, "\\") || strings.Contains(name, "..") {
		return fmt.Errorf("source file %q: %w", name, ErrInvalid)
	}
	switch strings.ToLower(filepath.Ext(name)) {
	case ".geojson", ".json":
		return nil
	}
	return fmt.Errorf("source file %q: unsupported type: %w", name, ErrInvalid)
}

// loadSQL runs query against DuckDB. The query must return a column named
// geometry holding GeoJSON text (ST_AsGeoJSON); other columns become
// feature properties.
func (l *Loader) loadSQL(ctx context.Context, query string) (*geojson.FeatureCollection, int64, error) {
	if l.db == nil {
		return nil, 0, fmt.Errorf("sql data: database not available: %w", ErrInvalid)
	}
	rows, err := l.db.QueryContext(ctx, query)
	if err != nil {
		return nil, 0, fmt.Errorf("sql data: %w", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, 0, err
	}
	geomCol := -1
	for i, c := range columns {
		if c == "geometry" {
			geomCol = i
		}
	}
	if geomCol < 0 {
		return nil, 0, fmt.Errorf("sql data: query has no geometry column: %w", ErrInvalid)
	}

	fc := geojson.NewFeatureCollection()
	var cost int64
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, 0, fmt.Errorf("sql data: %w", err)
		}

		var raw []byte
		switch g := values[geomCol].(type) {
		case string:
			raw = []byte(g)
		case []byte:
			raw = g
		default:
			continue // NULL geometry
		}
		g, err := geojson.UnmarshalGeometry(raw)
		if err != nil {
			return nil, 0, fmt.Errorf("sql data: row %d: %w", len(fc.Features), err)
		}
		f := geojson.NewFeature(g.Geometry())
		for i, c := range columns {
			if i != geomCol {
				f.Properties[c] = values[i]
			}
		}
		fc.Append(f)
		cost += int64(len(raw))
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("sql data: %w", err)
	}
	return fc, cost, nil
}

func (l *Loader) loadS3(ctx context.Context, url string) (*geojson.FeatureCollection, int64, error) {
	if l.s3 == nil {
		return nil, 0, fmt.Errorf("s3 data: no s3 client configured: %w", ErrInvalid)
	}
	bucket, key, ok := strings.Cut(strings.TrimPrefix(url, "s3://"), "/")
	if !ok || bucket == "" || key == "" {
		return nil, 0, fmt.Errorf("s3 data: %q: %w", url, ErrInvalid)
	}
	data, err := l.s3.Fetch(ctx, bucket, key)
	if err != nil {
		return nil, 0, err
	}
	fc, err := parseGeoJSON(data)
	return fc, int64(len(data)), err
}

// parseGeoJSON accepts a FeatureCollection, a Feature or a bare geometry and
// always returns a collection.
func parseGeoJSON(data []byte) (*geojson.FeatureCollection, error) {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("parsing geojson: %w", err)
	}

	switch probe.Type {
	case "FeatureCollection":
		fc, err := geojson.UnmarshalFeatureCollection(data)
		if err != nil {
			return nil, fmt.Errorf("parsing geojson: %w", err)
		}
		return fc, nil
	case "Feature":
		f, err := geojson.UnmarshalFeature(data)
		if err != nil {
			return nil, fmt.Errorf("parsing geojson: %w", err)
		}
		return geojson.NewFeatureCollection().Append(f), nil
	case "":
		return nil, fmt.Errorf("parsing geojson: missing type: %w", ErrInvalid)
	}

	g, err := geojson.UnmarshalGeometry(data)
	if err != nil {
		return nil, fmt.Errorf("parsing geojson: %w", err)
	}
	return geojson.NewFeatureCollection().Append(geojson.NewFeature(g.Geometry())), nil
}

// Sources lists the GeoJSON files under the sources directory.
func (l *Loader) Sources() ([]SourceFile, error) {
	entries, err := os.ReadDir(l.sourcesDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []SourceFile{}, nil
		}
		return nil, err
	}

	files := []SourceFile{}
	for _, entry := range entries {
		if entry.IsDir() || l.validateSourceFile(entry.Name()) != nil {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, SourceFile{
			Name: entry.Name(),
			Size: formatSize(info.Size()),
		})
	}
	return files, nil
}

// formatSize returns a human-readable file size.
func formatSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
