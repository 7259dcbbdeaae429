package migrate

import (
	"embed"
	"fmt"
	"io/fs"
)

//go:embed sql
var embedded embed.FS

// Migrations returns the bundled schema for a database/sql driver name
// ("pgx" or "sqlite").
func Migrations(driver string) (fs.FS, error) {
	var dir string
	switch driver {
	case "pgx", "postgres":
		dir = "sql/postgres"
	case "sqlite":
		dir = "sql/sqlite"
	default:
		return nil, fmt.Errorf("no bundled migrations for driver %q", driver)
	}
	return fs.Sub(embedded, dir)
}
