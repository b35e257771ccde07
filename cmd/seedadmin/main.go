// Command seedadmin creates the first ADMIN account on an empty database.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	"fleetops.org/internal/auth"
	"fleetops.org/internal/store/pg"
)

func main() {
	log.SetFlags(0)
	var (
		dsn   = flag.String("dsn", os.Getenv("FLEETOPS_PG_DSN"), "PostgreSQL DSN")
		email = flag.String("email", "", "Admin email")
		name  = flag.String("name", "Administrator", "Display name")
	)
	flag.Parse()

	password := os.Getenv("FLEETOPS_ADMIN_PASSWORD")
	switch {
	case *dsn == "":
		log.Fatal("missing DSN: provide via -dsn or FLEETOPS_PG_DSN")
	case *email == "":
		log.Fatal("missing -email")
	case password == "":
		log.Fatal("missing FLEETOPS_ADMIN_PASSWORD")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, err := pg.Open(*dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer store.Close()

	users, err := auth.NewUsers(store, auth.Bcrypt{})
	if err != nil {
		log.Fatalf("init users: %v", err)
	}
	u, err := users.CreateUser(ctx, auth.NewUser{
		Email:    *email,
		Name:     *name,
		Password: password,
		Role:     string(auth.RoleAdmin),
	})
	if err != nil {
		log.Fatalf("create admin: %v", err)
	}
	log.Printf("created admin %s (%s)", u.Email, u.ID)
}
