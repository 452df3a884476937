package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"pdifin.org/internal/migrate"
)

func main() {
	log.SetFlags(0)
	var (
		dsn           = flag.String("dsn", os.Getenv("PDIFIN_PG_DSN"), "PostgreSQL DSN")
		migrationsDir = flag.String("migrations", "ops/migrations/sql", "directory with .up.sql/.down.sql files")
		seedsDir      = flag.String("seeds", "ops/migrations/seeds", "directory with seed .sql files")
		timeout       = flag.Duration("timeout", 30*time.Second, "overall deadline")
	)
	flag.Parse()

	if *dsn == "" {
		log.Fatal("missing DSN: provide via -dsn or PDIFIN_PG_DSN")
	}
	cmd := flag.Arg(0)
	if cmd == "" {
		log.Fatal("usage: migrate [up|down|seed|status]")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	db, err := sql.Open("pgx", *dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()

	mgr := migrate.NewManager(db, *migrationsDir, *seedsDir)

	switch cmd {
	case "up":
		err = mgr.Up(ctx)
	case "down":
		err = mgr.Down(ctx)
	case "seed":
		err = mgr.Seed(ctx)
	case "status":
		var applied []string
		applied, err = mgr.Status(ctx)
		if err == nil {
			for _, name := range applied {
				fmt.Println(name)
			}
			fmt.Printf("%d applied\n", len(applied))
		}
	default:
		log.Fatalf("unknown command %q", cmd)
	}
	if err != nil {
		log.Fatalf("migrate %s: %v", cmd, err)
	}
}
