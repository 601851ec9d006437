package db

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"
	sqlite3 "github.com/mutecomm/go-sqlcipher/v4"
)

const (
	// SQLiteDriverName is the project-specific SQLCipher driver with custom SQL functions.
	SQLiteDriverName = "sqlite3_uifixture"
)

func init() {
	sql.Register(SQLiteDriverName, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			// uuid() mirrors the MySQL function the reference schema relies on.
			if err := conn.RegisterFunc("uuid", uuid.NewString, false); err != nil {
				if strings.Contains(strings.ToLower(err.Error()), "already exists") {
					return nil
				}
				return fmt.Errorf("register uuid SQL function: %w", err)
			}
			return nil
		},
	})
}

func sqliteCommonParams() string {
	return "_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_foreign_keys=on"
}

func appendSQLiteParams(dsn, params string) string {
	if strings.Contains(dsn, "?") {
		return dsn + "&" + params
	}
	return dsn + "?" + params
}
