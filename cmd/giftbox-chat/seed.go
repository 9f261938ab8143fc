// ABOUTME: seed subcommand that loads users and listings into the SQLite directory mirror
// ABOUTME: Reads a YAML file so a local server has people and items to chat about

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/fatih/color"
	"gopkg.in/yaml.v3"

	"github.com/2389/giftbox-chat/internal/config"
	"github.com/2389/giftbox-chat/internal/directory"
	"github.com/2389/giftbox-chat/internal/store"
)

// seedFile is the layout of a seed YAML file:
//
//	users:
//	  - id: alice
//	    name: Alice
//	    email: alice@example.com
//	listings:
//	  - id: lamp
//	    title: Desk lamp
//	    image_url: https://img.example/lamp.jpg
//	    slug: desk-lamp
type seedFile struct {
	Users    []directory.User    `yaml:"users"`
	Listings []directory.Listing `yaml:"listings"`
}

// directoryWriter is the subset of SQLiteStore that seeding needs.
type directoryWriter interface {
	UpsertUser(ctx context.Context, u directory.User) error
	UpsertListing(ctx context.Context, l directory.Listing) error
}

func loadSeedFile(path string) (*seedFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading seed file: %w", err)
	}

	var seed seedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("parsing seed file: %w", err)
	}
	return &seed, nil
}

// applySeed upserts every entry, stopping at the first failure.
func applySeed(ctx context.Context, w directoryWriter, seed *seedFile) (users, listings int, err error) {
	for _, u := range seed.Users {
		if err := w.UpsertUser(ctx, u); err != nil {
			return users, listings, fmt.Errorf("user %q: %w", u.ID, err)
		}
		users++
	}
	for _, l := range seed.Listings {
		if err := w.UpsertListing(ctx, l); err != nil {
			return users, listings, fmt.Errorf("listing %q: %w", l.ID, err)
		}
		listings++
	}
	return users, listings, nil
}

func runSeed(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: giftbox-chat seed FILE")
	}

	seed, err := loadSeedFile(args[0])
	if err != nil {
		return err
	}

	cfg, err := config.Load(config.Path())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Database.Driver != "sqlite" {
		return fmt.Errorf("seed writes the sqlite directory mirror; database.driver is %q", cfg.Database.Driver)
	}

	s, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer s.Close()

	users, listings, err := applySeed(ctx, s, seed)
	if err != nil {
		return err
	}

	green := color.New(color.FgGreen)
	green.Printf("  ✓ Seeded %d user(s) and %d listing(s) into %s\n", users, listings, cfg.Database.Path)
	return nil
}
