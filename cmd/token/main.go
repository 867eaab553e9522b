// File: cmd/token/main.go
// token mints a bearer token for the subtitle API.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"video-subtitler/internal/config"
	"video-subtitler/internal/infra/api"
)

func main() {
	cfgPath := flag.String("config", "config.yaml", "path to config yaml")
	subject := flag.String("sub", "", "client identifier placed in the token subject")
	ttl := flag.Duration("ttl", 30*24*time.Hour, "token lifetime")
	flag.Parse()

	if *subject == "" {
		fmt.Fprintln(os.Stderr, "-sub is required")
		os.Exit(2)
	}
	cfg, err := config.Load(*cfgPath, false)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if cfg.Auth.JWTSecret == "" {
		fmt.Fprintln(os.Stderr, "auth.jwt_secret is not set")
		os.Exit(1)
	}

	tok, err := api.NewAuthenticator(cfg.Auth.JWTSecret, true, false).Mint(*subject, *ttl)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mint: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(tok)
}
