package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"

	"github.com/xtrntr/gridledger/internal/auth"
	"github.com/xtrntr/gridledger/internal/config"
	"github.com/xtrntr/gridledger/internal/db"
)

// demo participants: a rooftop producer, a household consumer and a battery operator
var participants = []string{"producer", "consumer", "storage"}

// Seed the database with demo participants and print their tokens
func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	password := flag.String("password", "password", "password for every demo participant")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Database.URL == "" {
		log.Fatal("database.url is required")
	}

	ctx := context.Background()
	if err := db.Migrate(ctx, cfg.Database.URL); err != nil {
		log.Fatalf("Failed to apply migrations: %v", err)
	}
	database, err := db.NewDB(ctx, cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()

	authService := auth.NewAuthService(database, cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	for _, name := range participants {
		p, err := authService.Register(ctx, name, *password)
		switch {
		case errors.Is(err, db.ErrDuplicateUsername):
			fmt.Printf("%s already registered\n", name)
		case err != nil:
			log.Fatalf("Failed to register %s: %v", name, err)
		default:
			fmt.Printf("registered %s as participant %d\n", name, p.ID)
		}

		token, err := authService.Login(ctx, name, *password)
		if err != nil {
			log.Fatalf("Failed to log in %s: %v", name, err)
		}
		fmt.Printf("  token: %s\n", token)
	}
}
