// Package db opens the DuckDB database backing SQL data sources.
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/marcboeker/go-duckdb"
	"github.com/rs/zerolog/log"
)

// Config holds database configuration.
type Config struct {
	DataDir string
	DBName  string
}

// Path returns the database file path for cfg.
func (c Config) Path() string {
	return filepath.Join(c.DataDir, "duckdb", c.DBName+".duckdb")
}

// Open opens the DuckDB file and loads the spatial extension, which
// provides ST_AsGeoJSON for turning geometry columns into GeoJSON.
func Open(cfg Config) (*sql.DB, error) {
	path := cfg.Path()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create duckdb directory: %w", err)
	}

	conn, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}

	for _, ext := range []string{"spatial", "parquet"} {
		if _, err := conn.Exec(fmt.Sprintf("INSTALL %s; LOAD %s;", ext, ext)); err != nil {
			// offline installs keep working for queries without the extension
			log.Warn().Err(err).Str("extension", ext).Msg("DuckDB extension not loaded")
		}
	}
	return conn, nil
}
