// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package evidence wraps the relational database the copilot answers from.
//
// The store never returns query failures as Go errors: Execute reports them
// inside QueryResult so the repair loop can feed the exact text back to the
// query generator.
package evidence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	_ "modernc.org/sqlite"

	"github.com/AleutianAI/RetailCopilot/services/copilot/datatypes"
	"github.com/AleutianAI/RetailCopilot/services/copilot/sqlpolicy"
)

var tracer = otel.Tracer("copilot.evidence")

// ErrReadOnly is the error text reported for statements other than queries.
var ErrReadOnly = errors.New("only read-only SELECT statements are permitted")

// ViewDef is a convenience view created on open when absent.
type ViewDef struct {
	Name string `yaml:"name"`
	SQL  string `yaml:"sql"`
}

// DefaultViews flattens the Northwind tables whose names are awkward for a
// small model to spell. SQLite names are case-insensitive, so the lowercase
// views for tables that already exist are no-ops there and only matter for
// databases that were loaded under different names.
func DefaultViews() []ViewDef {
	return []ViewDef{
		{Name: "order_details", SQL: `SELECT OrderID, ProductID, UnitPrice, Quantity, Discount FROM "Order Details"`},
		{Name: "orders", SQL: `SELECT * FROM Orders`},
		{Name: "products", SQL: `SELECT * FROM Products`},
		{Name: "categories", SQL: `SELECT * FROM Categories`},
	}
}

// DefaultSchemaObjects lists the tables and views described to the query
// generator, in order.
func DefaultSchemaObjects() []string {
	return []string{"orders", "order_details", "products", "categories", "customers", "suppliers"}
}

// DefaultTables lists the tables that may be cited, with the spellings a
// query can use for them.
func DefaultTables() []datatypes.TableRef {
	return []datatypes.TableRef{
		{Name: "Orders"},
		{Name: "Order Details", Aliases: []string{"order_details", "OrderDetails"}},
		{Name: "Products"},
		{Name: "Customers"},
		{Name: "Categories"},
		{Name: "Suppliers"},
	}
}

// Config configures a Store.
type Config struct {
	// Path is the SQLite database file.
	Path string

	// Views are created with CREATE VIEW IF NOT EXISTS on Open.
	Views []ViewDef

	// SchemaObjects restricts Schema to these names. Missing ones are skipped.
	SchemaObjects []string

	// Tables feeds KnownTables.
	Tables []datatypes.TableRef

	// AllowWrites disables the read-only statement guard and the policy.
	AllowWrites bool

	// Policy screens queries that pass the read-only guard. Nil loads the
	// embedded default.
	Policy *sqlpolicy.Engine
}

// QueryResult is the outcome of one Execute call.
type QueryResult struct {
	// Rows is non-nil on success, empty for zero matching rows.
	Rows []datatypes.Row

	// Error holds the engine's error text on failure and is empty otherwise.
	Error string
}

// Failed reports whether the query did not run to completion.
func (r QueryResult) Failed() bool { return r.Error != "" }

// Store is the SQLite-backed evidence store.
//
// Thread Safety: Safe for concurrent use. The underlying *sql.DB pools
// connections and the store holds no other mutable state.
type Store struct {
	db          *sql.DB
	objects     []string
	tables      []datatypes.TableRef
	allowWrites bool
	policy      *sqlpolicy.Engine
}

// Open connects to the database and establishes the convenience views.
//
// # Description
//
// View creation failures are logged and otherwise ignored: a store whose
// views could not be created still answers queries against the base tables.
// Creating views from several processes at once is harmless since each
// statement is create-if-absent.
//
// # Outputs
//
//   - *Store: Caller must Close it.
//   - error: Non-nil if the database cannot be opened or reached.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, errors.New("evidence store path is required")
	}
	policy := cfg.Policy
	if policy == nil && !cfg.AllowWrites {
		var err error
		if policy, err = sqlpolicy.NewEngine(); err != nil {
			return nil, fmt.Errorf("load statement policy: %w", err)
		}
	}
	db, err := sql.Open("sqlite", cfg.Path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open evidence store %s: %w", cfg.Path, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping evidence store %s: %w", cfg.Path, err)
	}

	s := &Store{
		db:          db,
		objects:     cfg.SchemaObjects,
		tables:      cfg.Tables,
		allowWrites: cfg.AllowWrites,
		policy:      policy,
	}
	if s.objects == nil {
		s.objects = DefaultSchemaObjects()
	}
	if s.tables == nil {
		s.tables = DefaultTables()
	}
	views := cfg.Views
	if views == nil {
		views = DefaultViews()
	}
	s.ensureViews(ctx, views)

	slog.Info("Evidence store opened", "path", cfg.Path, "schema_objects", len(s.objects))
	return s, nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ensureViews(ctx context.Context, views []ViewDef) {
	for _, v := range views {
		stmt := fmt.Sprintf("CREATE VIEW IF NOT EXISTS %s AS %s", quoteIdent(v.Name), v.SQL)
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			slog.Warn("Could not create convenience view", "view", v.Name, "error", err)
		}
	}
}

// Schema describes the configured tables and views as they currently exist.
//
// The text is rebuilt on every call. Introspection failures are folded into
// the returned text so that the caller always has something to hand to the
// generator.
func (s *Store) Schema(ctx context.Context) string {
	out, err := s.schema(ctx)
	if err != nil {
		slog.Error("Schema introspection failed", "error", err)
		return "Error retrieving schema: " + err.Error()
	}
	return out
}

func (s *Store) schema(ctx context.Context) (string, error) {
	var b strings.Builder
	b.WriteString("Database Schema (SQLite):\n")
	for _, name := range s.objects {
		var found string
		err := s.db.QueryRowContext(ctx,
			`SELECT name FROM sqlite_master WHERE (type='table' OR type='view') AND name = ? COLLATE NOCASE`,
			name).Scan(&found)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("lookup %s: %w", name, err)
		}

		cols, err := s.columns(ctx, name)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&b, "Table: %s\n", name)
		for _, c := range cols {
			fmt.Fprintf(&b, "  - %s (%s)\n", c[0], c[1])
		}
		b.WriteString("\n")
	}
	return b.String(), nil
}

func (s *Store) columns(ctx context.Context, name string) ([][2]string, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", quoteIdent(name)))
	if err != nil {
		return nil, fmt.Errorf("table_info %s: %w", name, err)
	}
	defer rows.Close()

	var cols [][2]string
	for rows.Next() {
		var (
			cid     int
			colName string
			colType string
			notNull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &colName, &colType, &notNull, &dflt, &pk); err != nil {
			return nil, fmt.Errorf("scan table_info %s: %w", name, err)
		}
		cols = append(cols, [2]string{colName, colType})
	}
	return cols, rows.Err()
}

// Execute runs query and returns its rows or the engine's error text.
//
// # Description
//
// Only statements starting with SELECT or WITH are run unless the store was
// opened with AllowWrites, and those are then screened by the statement
// policy so a chained or side-effecting query never reaches the engine.
// Rejections are reported as QueryResult errors like any other. Byte slices are returned as strings so rows can be
// rendered into prompts and JSON unchanged.
//
// # Outputs
//
//   - QueryResult: Rows on success (non-nil, possibly empty), Error otherwise.
func (s *Store) Execute(ctx context.Context, query string) QueryResult {
	ctx, span := tracer.Start(ctx, "Store.Execute")
	defer span.End()
	span.SetAttributes(attribute.String("db.statement", query))

	res := s.execute(ctx, query)
	if res.Failed() {
		span.SetStatus(codes.Error, res.Error)
		slog.Debug("Query failed", "error", res.Error)
	} else {
		span.SetAttributes(attribute.Int("db.rows", len(res.Rows)))
	}
	return res
}

func (s *Store) execute(ctx context.Context, query string) QueryResult {
	if !s.allowWrites && !isReadStatement(query) {
		return QueryResult{Error: ErrReadOnly.Error()}
	}
	if !s.allowWrites {
		if f, denied := s.policy.Check(query); denied {
			slog.Warn("Query rejected by statement policy", "rule", f.Rule, "pattern", f.PatternID)
			return QueryResult{Error: f.Error()}
		}
	}

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return QueryResult{Error: err.Error()}
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return QueryResult{Error: err.Error()}
	}

	out := make([]datatypes.Row, 0)
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return QueryResult{Error: err.Error()}
		}
		row := make(datatypes.Row, len(cols))
		for i, c := range cols {
			if b, ok := values[i].([]byte); ok {
				row[c] = string(b)
				continue
			}
			row[c] = values[i]
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return QueryResult{Error: err.Error()}
	}
	return QueryResult{Rows: out}
}

// KnownTables returns the citable tables.
func (s *Store) KnownTables() []datatypes.TableRef {
	return s.tables
}

func isReadStatement(query string) bool {
	q := strings.TrimLeft(query, " \t\r\n(")
	fields := strings.Fields(q)
	if len(fields) == 0 {
		return false
	}
	switch strings.ToUpper(fields[0]) {
	case "SELECT", "WITH":
		return true
	}
	return false
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
