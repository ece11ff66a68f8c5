// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package evidencetest builds small Northwind-shaped SQLite databases for
// tests.
package evidencetest

import (
	"database/sql"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"
)

var northwindDDL = []string{
	`CREATE TABLE Categories (CategoryID INTEGER PRIMARY KEY, CategoryName TEXT, Description TEXT)`,
	`CREATE TABLE Suppliers (SupplierID INTEGER PRIMARY KEY, CompanyName TEXT, Country TEXT)`,
	`CREATE TABLE Customers (CustomerID TEXT PRIMARY KEY, CompanyName TEXT, Country TEXT)`,
	`CREATE TABLE Products (ProductID INTEGER PRIMARY KEY, ProductName TEXT, SupplierID INTEGER, CategoryID INTEGER, UnitPrice REAL, Discontinued INTEGER)`,
	`CREATE TABLE Orders (OrderID INTEGER PRIMARY KEY, CustomerID TEXT, EmployeeID INTEGER, OrderDate TEXT, ShipCountry TEXT)`,
	`CREATE TABLE "Order Details" (OrderID INTEGER, ProductID INTEGER, UnitPrice REAL, Quantity INTEGER, Discount REAL, PRIMARY KEY (OrderID, ProductID))`,
}

var northwindRows = []string{
	`INSERT INTO Categories VALUES (1, 'Beverages', 'Soft drinks, coffees, teas'), (2, 'Condiments', 'Sauces and spreads'), (3, 'Dairy Products', 'Cheeses')`,
	`INSERT INTO Suppliers VALUES (1, 'Exotic Liquids', 'UK'), (2, 'New Orleans Cajun Delights', 'USA')`,
	`INSERT INTO Customers VALUES ('ALFKI', 'Alfreds Futterkiste', 'Germany'), ('BONAP', 'Bon app''', 'France')`,
	`INSERT INTO Products VALUES (1, 'Chai', 1, 1, 18.0, 0), (2, 'Chang', 1, 1, 19.0, 0), (3, 'Aniseed Syrup', 1, 2, 10.0, 0), (4, 'Queso Cabrales', 2, 3, 21.0, 0)`,
	`INSERT INTO Orders VALUES (10248, 'ALFKI', 5, '1996-07-04', 'Germany'), (10249, 'BONAP', 6, '1996-07-05', 'France'), (10250, 'ALFKI', 4, '1997-06-10', 'Germany')`,
	`INSERT INTO "Order Details" VALUES (10248, 1, 18.0, 10, 0.0), (10248, 3, 10.0, 5, 0.0), (10249, 2, 19.0, 4, 0.25), (10250, 4, 21.0, 2, 0.0)`,
}

// NewNorthwind writes a fixture database into a test temp dir and returns
// its path. Orders fall in 1996 and June 1997.
func NewNorthwind(t testing.TB) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "northwind.sqlite")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open fixture db: %v", err)
	}
	defer db.Close()

	for _, stmt := range append(append([]string{}, northwindDDL...), northwindRows...) {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("fixture statement %q: %v", stmt, err)
		}
	}
	return path
}

// NewEmpty returns the path of a database with the Northwind tables but no
// rows.
func NewEmpty(t testing.TB) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "empty.sqlite")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open fixture db: %v", err)
	}
	defer db.Close()

	for _, stmt := range northwindDDL {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("fixture statement %q: %v", stmt, err)
		}
	}
	return path
}
