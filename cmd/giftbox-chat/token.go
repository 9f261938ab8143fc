// ABOUTME: token subcommand that mints a JWT for local development
// ABOUTME: Signs with the configured secret so the running server accepts it

package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/2389/giftbox-chat/internal/auth"
	"github.com/2389/giftbox-chat/internal/config"
)

type tokenArgs struct {
	userID string
	ttl    time.Duration
}

// parseTokenArgs supports both "--flag value" and "--flag=value" formats.
func parseTokenArgs(args []string) (*tokenArgs, error) {
	out := &tokenArgs{}
	var ttlRaw string

	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--user" || arg == "-u":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--user requires a value")
			}
			out.userID = args[i+1]
			i++
		case strings.HasPrefix(arg, "--user="):
			out.userID = strings.TrimPrefix(arg, "--user=")
		case arg == "--ttl":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--ttl requires a value")
			}
			ttlRaw = args[i+1]
			i++
		case strings.HasPrefix(arg, "--ttl="):
			ttlRaw = strings.TrimPrefix(arg, "--ttl=")
		case strings.HasPrefix(arg, "-"):
			return nil, fmt.Errorf("unknown flag: %s", arg)
		default:
			return nil, fmt.Errorf("unexpected argument: %s", arg)
		}
	}

	out.userID = strings.TrimSpace(out.userID)
	if out.userID == "" {
		return nil, fmt.Errorf("--user flag is required")
	}

	if ttlRaw != "" {
		ttl, err := time.ParseDuration(ttlRaw)
		if err != nil {
			return nil, fmt.Errorf("parsing --ttl %q: %w", ttlRaw, err)
		}
		if ttl <= 0 {
			return nil, fmt.Errorf("--ttl must be positive")
		}
		out.ttl = ttl
	}
	return out, nil
}

func runToken(args []string) error {
	parsed, err := parseTokenArgs(args)
	if err != nil {
		return err
	}

	cfg, err := config.Load(config.Path())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ttl := parsed.ttl
	if ttl == 0 {
		ttl = cfg.Auth.TokenTTL
	}

	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	if err != nil {
		return fmt.Errorf("creating JWT verifier: %w", err)
	}

	token, err := verifier.Generate(parsed.userID, ttl)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}

	gray := color.New(color.FgHiBlack)
	gray.Printf("  user %s, expires %s\n", parsed.userID, time.Now().Add(ttl).UTC().Format(time.RFC3339))
	fmt.Println(token)
	return nil
}
