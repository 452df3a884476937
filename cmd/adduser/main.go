// Command adduser provisions an account directly in the database, bypassing
// the API. Intended for bootstrap and operator use.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"pdifin.org/internal/auth"
)

func main() {
	log.SetFlags(0)
	var (
		dsn      = flag.String("dsn", os.Getenv("PDIFIN_PG_DSN"), "PostgreSQL DSN")
		name     = flag.String("name", "", "display name")
		email    = flag.String("email", "", "login email, stored lowercase")
		password = flag.String("password", os.Getenv("PDIFIN_NEW_PASSWORD"), "initial password")
		role     = flag.String("role", "readonly", "admin|manager|coordinator|readonly")
	)
	flag.Parse()

	if *dsn == "" {
		log.Fatal("missing DSN: provide via -dsn or PDIFIN_PG_DSN")
	}
	if *name == "" || *email == "" || *password == "" {
		log.Fatal("name, email and password are required")
	}
	parsedRole, ok := auth.ParseRole(*role)
	if !ok {
		log.Fatalf("unknown role %q", *role)
	}

	policy := auth.PasswordPolicy{
		MinLength:      8,
		RequireUpper:   true,
		RequireLower:   true,
		RequireDigit:   true,
		RequireSpecial: true,
	}
	if err := policy.Validate(*password); err != nil {
		log.Fatalf("weak password: %v", err)
	}

	hash, err := auth.HashPassword(*password)
	if err != nil {
		log.Fatalf("hash password: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	db, err := sql.Open("pgx", *dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()

	account := &auth.Account{
		Name:         *name,
		Email:        strings.ToLower(strings.TrimSpace(*email)),
		PasswordHash: hash,
		Role:         parsedRole,
		Active:       true,
	}
	if err := auth.NewPGStore(db).Accounts(ctx).Create(ctx, account); err != nil {
		log.Fatalf("create account: %v", err)
	}
	fmt.Printf("created %s (%s) as %s\n", account.Email, account.ID, account.Role)
}
