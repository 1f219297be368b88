package pg

import (
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

// Migrate applies every pending migration under dir to dsn, the same
// golang-migrate file-source pattern a prior cmd/migrate.go uses
// (migrate.New("file://"+dir, dsn)), generalized into a library call the
// gateway's own startup path can invoke instead of requiring a separate
// CLI step.
func Migrate(dir, dsn string) error {
	m, err := migrate.New("file://"+dir, dsn)
	if err != nil {
		return fmt.Errorf("pg: create migrator: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("pg: apply migrations: %w", err)
	}
	return nil
}
