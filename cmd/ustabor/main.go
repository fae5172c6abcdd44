// Ustabor - marketplace terminal client
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/odilbekov/ustabor/internal/api"
	"github.com/odilbekov/ustabor/internal/auth"
	"github.com/odilbekov/ustabor/internal/chat"
	"github.com/odilbekov/ustabor/internal/config"
	"github.com/odilbekov/ustabor/internal/market"
	"github.com/odilbekov/ustabor/internal/store"
	"github.com/odilbekov/ustabor/internal/token"
)

const usage = `Usage: ustabor <command> [args]

Commands:
  login [-u user] [-p password]   sign in with username/password
  login -google                   sign in via Google in the browser
  register                        create an account interactively
  logout                          end the session
  whoami                          show the signed-in account
  masters [-page n]               browse service providers
  master <id>                     show one provider profile
  announcements [-page n]         browse job listings
  announcement <id>               show one listing
  chats                           list active conversations
  chat <announcement> <master> <client>   open a conversation
`

func main() {
	level := slog.LevelWarn
	if os.Getenv("USTABOR_DEBUG") != "" {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	repo, err := store.NewSQLite(cfg.StatePath)
	if err != nil {
		slog.Error("Failed to open state database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close state database", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("State database health check failed", "error", err)
		os.Exit(1)
	}

	tokens := token.NewStore(repo, cfg.AccessTTL, cfg.RefreshTTL)
	client := api.NewClient(cfg.APIURL, cfg.APIKey, tokens,
		api.WithHTTPClient(&http.Client{Timeout: cfg.HTTPTimeout}),
		api.WithAuthFailureHandler(func() {
			fmt.Fprintln(os.Stderr, "Session expired. Run `ustabor login` to sign in again.")
		}),
	)

	app := &app{
		cfg:      cfg,
		store:    repo,
		auth:     auth.NewService(client),
		chat:     chat.NewService(client, repo, cfg.WSURL),
		market:   market.NewService(client),
		sessions: nil,
	}
	app.sessions = auth.NewSessionManager(app.auth)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	if err := app.run(ctx, os.Args[1], os.Args[2:]); err != nil {
		if ctx.Err() == nil {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(1)
	}
}
