package db

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

// SchemaDDL renders the table definitions for the given schema name.
func SchemaDDL(schema string) string {
	return strings.ReplaceAll(schemaSQL, "{{schema}}", pgx.Identifier{schema}.Sanitize())
}

// EnsureSchema creates the schema, the videos table and the trending_history
// table if they do not exist yet.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool, schema string) error {
	if _, err := pool.Exec(ctx, SchemaDDL(schema)); err != nil {
		return fmt.Errorf("ensure schema %s: %w", schema, err)
	}
	return nil
}
