// Package dataset moves normalized encounter records in and out of the
// warehouse: JSON documents, Parquet directories and a PostgreSQL OLTP
// database, plus a synthetic generator.
package dataset

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/Richard-Sarfo/Health-OLTP-STAR-Schema/internal/oltp"
)

// Source produces a complete dataset on every Load.
type Source interface {
	Load(ctx context.Context) (oltp.Dataset, error)
	String() string
}

// Open picks a Source for uri: a postgres:// or postgresql:// connection
// string, a directory of Parquet files, or a JSON file (optionally .gz).
func Open(uri string) (Source, error) {
	if strings.HasPrefix(uri, "postgres://") || strings.HasPrefix(uri, "postgresql://") {
		return &Postgres{ConnString: uri}, nil
	}
	fi, err := os.Stat(uri)
	if err != nil {
		return nil, fmt.Errorf("open source: %w", err)
	}
	if fi.IsDir() {
		return &ParquetDir{Dir: uri}, nil
	}
	return &JSONFile{Path: uri}, nil
}

// JSONFile is a dataset document on disk.
type JSONFile struct {
	Path string
}

func (f *JSONFile) String() string { return "json:" + f.Path }

func (f *JSONFile) Load(ctx context.Context) (oltp.Dataset, error) {
	file, err := os.Open(f.Path)
	if err != nil {
		return oltp.Dataset{}, fmt.Errorf("open dataset: %w", err)
	}
	defer file.Close()

	var r io.Reader = file
	if strings.EqualFold(filepath.Ext(f.Path), ".gz") {
		gz, err := gzip.NewReader(file)
		if err != nil {
			return oltp.Dataset{}, fmt.Errorf("open gzip dataset: %w", err)
		}
		defer gz.Close()
		r = gz
	}
	return ReadJSON(r)
}

// ReadJSON decodes one dataset document. Unknown fields are rejected so
// that misspelled entity keys do not silently load as empty.
func ReadJSON(r io.Reader) (oltp.Dataset, error) {
	var ds oltp.Dataset
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&ds); err != nil {
		return oltp.Dataset{}, fmt.Errorf("decode dataset: %w", err)
	}
	return ds, nil
}

// WriteJSON encodes ds as an indented document.
func WriteJSON(w io.Writer, ds oltp.Dataset) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(ds); err != nil {
		return fmt.Errorf("encode dataset: %w", err)
	}
	return nil
}

// WriteJSONFile writes ds to path, gzip compressed when path ends in .gz.
func WriteJSONFile(path string, ds oltp.Dataset) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create dataset file: %w", err)
	}

	var w io.Writer = file
	var gz *gzip.Writer
	if strings.EqualFold(filepath.Ext(path), ".gz") {
		gz = gzip.NewWriter(file)
		w = gz
	}
	if err := WriteJSON(w, ds); err != nil {
		file.Close()
		return err
	}
	if gz != nil {
		if err := gz.Close(); err != nil {
			file.Close()
			return fmt.Errorf("close gzip writer: %w", err)
		}
	}
	return file.Close()
}

// Static wraps an in-memory dataset.
type Static struct {
	Dataset oltp.Dataset
}

func (s *Static) String() string { return "static" }

func (s *Static) Load(context.Context) (oltp.Dataset, error) { return s.Dataset, nil }

// Generated produces the synthetic dataset for Options on every Load. The
// same options always yield the same dataset.
type Generated struct {
	Options GenerateOptions
}

func (g *Generated) String() string { return fmt.Sprintf("generated:seed=%d", g.Options.Seed) }

func (g *Generated) Load(ctx context.Context) (oltp.Dataset, error) {
	if err := ctx.Err(); err != nil {
		return oltp.Dataset{}, err
	}
	return Generate(g.Options)
}
