package main

import (
	"fmt"
	"io"
	"time"

	"github.com/nerrad567/switch-dimmer/internal/auth"
	"github.com/nerrad567/switch-dimmer/internal/infrastructure/config"
)

const tokenUsage = "usage: switchdimmer token <subject> <viewer|operator> [ttl]"

// runToken prints an API bearer token signed with the configured secret.
// args are the words after "token".
func runToken(args []string, out io.Writer) error {
	if len(args) < 2 || len(args) > 3 {
		return fmt.Errorf("%s", tokenUsage)
	}

	role, err := auth.ParseRole(args[1])
	if err != nil {
		return fmt.Errorf("%w: %q", err, args[1])
	}

	var ttl time.Duration
	if len(args) == 3 {
		ttl, err = time.ParseDuration(args[2])
		if err != nil {
			return fmt.Errorf("parsing ttl: %w", err)
		}
	}

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.API.Auth.JWTSecret == "" {
		return fmt.Errorf("api.auth.jwt_secret is not set; the API is open")
	}

	tok, err := auth.IssueToken(args[0], role, cfg.API.Auth.JWTSecret, ttl)
	if err != nil {
		return fmt.Errorf("issuing token: %w", err)
	}
	fmt.Fprintln(out, tok)
	return nil
}
