package pgdb

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Metadata is an in-memory catalog of table definitions, each
// optionally tagged with a schema namespace. The handle only reads
// it; the single mutation path is DDL emission in CreateAllTables.
type Metadata struct {
	Tables []*Table `yaml:"tables"`
}

type Table struct {
	Schema  string   `yaml:"schema,omitempty"`
	Name    string   `yaml:"name"`
	Columns []Column `yaml:"columns,omitempty"`

	// DDL, when set, overrides column-driven emission. Used for view
	// entries and tables with hand-written definitions.
	DDL string `yaml:"ddl,omitempty"`
}

type Column struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	NotNull    bool   `yaml:"not_null,omitempty"`
	PrimaryKey bool   `yaml:"primary_key,omitempty"`
	Default    string `yaml:"default,omitempty"`
}

// NewMetadata returns an empty catalog.
func NewMetadata() *Metadata {
	return &Metadata{}
}

// LoadMetadata reads a catalog from a YAML file.
func LoadMetadata(path string) (*Metadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read metadata file: %w", err)
	}
	var meta Metadata
	if err := yaml.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("parse metadata file %s: %w", path, err)
	}
	for _, tbl := range meta.Tables {
		if tbl.Name == "" {
			return nil, fmt.Errorf("metadata file %s: table with empty name", path)
		}
	}
	return &meta, nil
}

// QualifiedName returns the table name prefixed with its schema
// namespace when one is set.
func (t *Table) QualifiedName() string {
	if t.Schema == "" {
		return t.Name
	}
	return t.Schema + "." + t.Name
}

// CreateStatement emits an idempotent CREATE TABLE statement. A DDL
// override is returned verbatim.
func (t *Table) CreateStatement() string {
	if t.DDL != "" {
		return t.DDL
	}
	parts := make([]string, 0, len(t.Columns)+1)
	var pk []string
	for _, col := range t.Columns {
		def := col.Name + " " + col.Type
		if col.NotNull {
			def += " NOT NULL"
		}
		if col.Default != "" {
			def += " DEFAULT " + col.Default
		}
		parts = append(parts, def)
		if col.PrimaryKey {
			pk = append(pk, col.Name)
		}
	}
	if len(pk) > 0 {
		parts = append(parts, "PRIMARY KEY ("+strings.Join(pk, ", ")+")")
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", t.QualifiedName(), strings.Join(parts, ", "))
}
