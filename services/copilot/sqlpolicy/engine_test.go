// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package sqlpolicy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine()
	require.NoError(t, err)
	return e
}

func TestNewEngine_SortsByPriority(t *testing.T) {
	e := defaultEngine(t)
	assert.Equal(t, []string{
		"statement_chaining",
		"data_modification",
		"schema_change",
		"host_access",
		"configuration",
	}, e.Rules())
}

func TestCheck_Allowed(t *testing.T) {
	e := defaultEngine(t)
	allowed := []string{
		"SELECT 1",
		"SELECT COUNT(*) FROM Orders;",
		"SELECT COUNT(*) FROM Orders;\n  ",
		`SELECT p.ProductName, SUM(od.Quantity) AS qty
			FROM order_details od JOIN products p ON p.ProductID = od.ProductID
			GROUP BY p.ProductName ORDER BY qty DESC LIMIT 3`,
		"SELECT replace(CompanyName, 'a', 'b') FROM Customers",
		"SELECT strftime('%Y', OrderDate) AS yr FROM Orders",
		"SELECT LastUpdated, Settings FROM Audit",
		"WITH x AS (SELECT 1 AS v) SELECT v FROM x",
		"SELECT * FROM products WHERE QuantityPerUnit = '10 boxes; 20 bags'",
		"SELECT * FROM orders WHERE ShipAddress LIKE '%DROP TABLE%'",
		"SELECT 'it''s; pragma' AS note",
	}
	for _, q := range allowed {
		t.Run(q, func(t *testing.T) {
			f, denied := e.Check(q)
			assert.False(t, denied, "unexpected finding %+v", f)
		})
	}
}

func TestCheck_Denied(t *testing.T) {
	e := defaultEngine(t)
	tests := []struct {
		query   string
		rule    string
		pattern string
	}{
		{"SELECT 1; DROP TABLE Orders", "statement_chaining", "TRAILING_STATEMENT"},
		{"SELECT 1 ;\nSELECT 2", "statement_chaining", "TRAILING_STATEMENT"},
		{"SELECT 'a;b'; DELETE FROM Orders", "statement_chaining", "TRAILING_STATEMENT"},
		{"WITH d AS (DELETE FROM Orders RETURNING *) SELECT * FROM d", "data_modification", "DELETE_FROM"},
		{"insert or ignore into Orders VALUES (1)", "data_modification", "INSERT_INTO"},
		{"REPLACE INTO Orders VALUES (1)", "data_modification", "INSERT_INTO"},
		{"UPDATE Orders\nSET Freight = 0", "data_modification", "UPDATE_SET"},
		{"CREATE TEMP TABLE t AS SELECT 1", "schema_change", "DDL"},
		{"drop view orders", "schema_change", "DDL"},
		{"ATTACH DATABASE 'x.db' AS x", "host_access", "ATTACH_DATABASE"},
		{"attach 'x.db' as x", "host_access", "ATTACH_DATABASE"},
		{"SELECT load_extension('/tmp/evil.so')", "host_access", "LOAD_EXTENSION"},
		{"SELECT readfile('/etc/passwd')", "host_access", "FILE_IO"},
		{"SELECT * FROM pragma_table_info('Orders')", "configuration", "PRAGMA"},
		{"PRAGMA journal_mode", "configuration", "PRAGMA"},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			f, denied := e.Check(tt.query)
			require.True(t, denied)
			assert.Equal(t, tt.rule, f.Rule)
			assert.Equal(t, tt.pattern, f.PatternID)
			assert.Contains(t, f.Error(), "statement rejected by policy "+tt.rule)
		})
	}
}

func TestCheck_PriorityWins(t *testing.T) {
	f, denied := defaultEngine(t).Check("PRAGMA foo; DELETE FROM Orders")
	require.True(t, denied)
	assert.Equal(t, "statement_chaining", f.Rule)
	assert.Equal(t, High, f.Severity)
}

func TestScan_ReportsEveryMatch(t *testing.T) {
	findings := defaultEngine(t).Scan("SELECT 1; DELETE FROM a; DELETE FROM b")
	ids := make([]string, 0, len(findings))
	for _, f := range findings {
		ids = append(ids, f.PatternID)
	}
	assert.Equal(t, []string{"TRAILING_STATEMENT", "TRAILING_STATEMENT", "DELETE_FROM", "DELETE_FROM"}, ids)
	assert.Equal(t, "DELETE FROM", findings[2].Matched)
}

func TestNilEngine_AllowsEverything(t *testing.T) {
	var e *Engine
	_, denied := e.Check("DROP TABLE Orders")
	assert.False(t, denied)
	assert.Nil(t, e.Scan("DROP TABLE Orders"))
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"malformed", "rules: [", "parse statement policy"},
		{"bad severity", `
rules:
  - name: r
    patterns:
      - id: P
        regex: 'x'
        severity: critical
`, "invalid severity"},
		{"bad regex", `
rules:
  - name: r
    patterns:
      - id: BROKEN
        regex: '(unclosed'
        severity: low
`, "compile pattern BROKEN"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.ErrorContains(t, err, tt.want)
		})
	}
}
