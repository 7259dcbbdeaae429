package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"pollhub.org/internal/migrate"
)

func main() {
	log.SetFlags(0)
	var (
		driver         = flag.String("driver", envOr("POLLHUB_DB_DRIVER", "pgx"), "database/sql driver: pgx or sqlite")
		dsn            = flag.String("dsn", os.Getenv("POLLHUB_DB_DSN"), "database DSN")
		migrationsPath = flag.String("migrations", "", "directory of SQL migrations (default: bundled schema)")
		seedsPath      = flag.String("seeds", "", "directory of SQL seeds")
	)
	flag.Parse()

	if *dsn == "" {
		log.Fatal("missing DSN: provide via -dsn or POLLHUB_DB_DSN")
	}
	if len(flag.Args()) == 0 {
		log.Fatal("usage: migrate [up|down|seed|status]")
	}

	var (
		schema fs.FS
		err    error
	)
	if *migrationsPath != "" {
		schema = os.DirFS(*migrationsPath)
	} else if schema, err = migrate.Migrations(*driver); err != nil {
		log.Fatal(err)
	}
	var opts []migrate.Option
	if *seedsPath != "" {
		opts = append(opts, migrate.WithSeeds(os.DirFS(*seedsPath)))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := sql.Open(*driver, *dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()

	mgr := migrate.NewManager(db, schema, opts...)

	switch flag.Arg(0) {
	case "up":
		err = mgr.Up(ctx)
	case "down":
		err = mgr.Down(ctx)
	case "seed":
		err = mgr.Seed(ctx)
	case "status":
		var history []string
		history, err = mgr.Status(ctx)
		if err == nil {
			for _, item := range history {
				fmt.Println(item)
			}
		}
	default:
		log.Fatalf("unknown command %q", flag.Arg(0))
	}
	if err != nil {
		log.Fatalf("migrate %s: %v", flag.Arg(0), err)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
