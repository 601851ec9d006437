// Package testutil provides the SQLite fixture schema and store helpers for
// tests and the in-process fake application.
package testutil

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/kuitang/uifixture/internal/db"
)

// SQLiteSchema is the subset of the reference application's data model that
// fixtures touch, in SQLite syntax. The in-process fake application and the
// package tests run against it. Foreign keys are declared so an out-of-order
// cleanup fails the same way it would on the real server.
const SQLiteSchema = `
CREATE TABLE IF NOT EXISTS person (
    person_id INTEGER PRIMARY KEY AUTOINCREMENT,
    uuid TEXT NOT NULL UNIQUE,
    gender TEXT NOT NULL DEFAULT '',
    birthdate TEXT,
    voided INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS person_name (
    person_name_id INTEGER PRIMARY KEY AUTOINCREMENT,
    person_id INTEGER NOT NULL REFERENCES person(person_id),
    given_name TEXT,
    family_name TEXT,
    uuid TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS name_phonetics (
    name_phonetic_id INTEGER PRIMARY KEY AUTOINCREMENT,
    person_name_id INTEGER NOT NULL REFERENCES person_name(person_name_id),
    field INTEGER NOT NULL,
    renderered_string TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS person_address (
    person_address_id INTEGER PRIMARY KEY AUTOINCREMENT,
    person_id INTEGER NOT NULL REFERENCES person(person_id),
    address1 TEXT,
    city_village TEXT,
    country TEXT,
    postal_code TEXT,
    uuid TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS person_attribute (
    person_attribute_id INTEGER PRIMARY KEY AUTOINCREMENT,
    person_id INTEGER NOT NULL REFERENCES person(person_id),
    value TEXT NOT NULL,
    uuid TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS patient_identifier_type (
    patient_identifier_type_id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL UNIQUE,
    uuid TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS patient (
    patient_id INTEGER PRIMARY KEY REFERENCES person(person_id),
    voided INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS patient_identifier (
    patient_identifier_id INTEGER PRIMARY KEY AUTOINCREMENT,
    patient_id INTEGER NOT NULL REFERENCES patient(patient_id),
    identifier TEXT NOT NULL,
    identifier_type INTEGER NOT NULL REFERENCES patient_identifier_type(patient_identifier_type_id),
    preferred INTEGER NOT NULL DEFAULT 0,
    uuid TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS role (
    role TEXT PRIMARY KEY,
    description TEXT,
    uuid TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS users (
    user_id INTEGER PRIMARY KEY AUTOINCREMENT,
    person_id INTEGER NOT NULL REFERENCES person(person_id),
    username TEXT UNIQUE,
    password TEXT NOT NULL,
    retired INTEGER NOT NULL DEFAULT 0,
    uuid TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS user_role (
    user_id INTEGER NOT NULL REFERENCES users(user_id),
    role TEXT NOT NULL REFERENCES role(role),
    PRIMARY KEY (user_id, role)
);

CREATE TABLE IF NOT EXISTS user_property (
    user_id INTEGER NOT NULL REFERENCES users(user_id),
    property TEXT NOT NULL,
    property_value TEXT NOT NULL DEFAULT '',
    PRIMARY KEY (user_id, property)
);

CREATE TABLE IF NOT EXISTS providermanagement_provider_role (
    provider_role_id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL UNIQUE,
    uuid TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS provider (
    provider_id INTEGER PRIMARY KEY AUTOINCREMENT,
    person_id INTEGER REFERENCES person(person_id),
    identifier TEXT,
    provider_role_id INTEGER REFERENCES providermanagement_provider_role(provider_role_id),
    uuid TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS encounter_type (
    encounter_type_id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL UNIQUE,
    uuid TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS encounter (
    encounter_id INTEGER PRIMARY KEY AUTOINCREMENT,
    encounter_type INTEGER NOT NULL REFERENCES encounter_type(encounter_type_id),
    patient_id INTEGER NOT NULL REFERENCES patient(patient_id),
    encounter_datetime TEXT NOT NULL,
    uuid TEXT NOT NULL UNIQUE
);
`

// ApplySQLiteSchema creates the fixture tables on a SQLite store.
func ApplySQLiteSchema(s *db.Store) error {
	_, err := s.DB().Exec(SQLiteSchema)
	return err
}

// OpenStore opens a SQLite store with the fixture schema in a fresh temp
// dir and closes it when the test completes.
func OpenStore(t testing.TB, opts db.Options) *db.Store {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "fixtures.db")
	s, err := db.Open(context.Background(), db.DriverSQLite, dsn, opts)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	if err := ApplySQLiteSchema(s); err != nil {
		t.Fatalf("schema: %v", err)
	}
	return s
}
