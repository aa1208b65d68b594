package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"

	"github.com/mbasaglia/Melanobot-v2-sub002/config"
	"github.com/mbasaglia/Melanobot-v2-sub002/hooks"
	"github.com/mbasaglia/Melanobot-v2-sub002/irc"
	"github.com/mbasaglia/Melanobot-v2-sub002/network"
	"github.com/mbasaglia/Melanobot-v2-sub002/user"
	"github.com/mbasaglia/Melanobot-v2-sub002/user/sqlstore"
	"github.com/mbasaglia/Melanobot-v2-sub002/wait"
	"github.com/mbasaglia/Melanobot-v2-sub002/web"
)

func main() {
	configPath := flag.String("config", "melanobot.yaml", "Configuration file or URL")
	debug := flag.Bool("debug", false, "Enable debug logging")
	retries := flag.Int("retries", 10, "Connection attempts before giving up, 0 retries forever")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *debug {
		cfg.Debug = true
	}
	if cfg.Debug {
		for i := range cfg.Connections {
			cfg.Connections[i].Debug = true
		}
	}

	log.Printf("Starting bot with the following configuration:")
	log.Printf("Config source: %s", cfg.Source)
	log.Printf("Connections: %d", len(cfg.Connections))
	log.Printf("Database: %q", cfg.Database)
	log.Printf("Web listen address: %q", cfg.Web.Listen)
	log.Printf("Debug logging: %v", cfg.Debug)

	users, err := directories(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}

	registry := network.NewRegistry()
	if err := irc.Register(registry); err != nil {
		log.Fatalf("Failed to register protocol: %v", err)
	}

	handlers := hooks.NewRegistry()
	handlers.HandleWithPriority(func(msg network.Message) error {
		if cfg.Debug && msg.Text != "" {
			log.Printf("[%s] %s <%s> %s", msg.Conn.ID(), strings.Join(msg.Channels, ","), msg.From, msg.Conn.Formatter().Decode(msg.Text))
		}
		return nil
	}, -10, "PRIVMSG", "CTCP")

	var status *web.Server
	if cfg.Web.Listen != "" {
		status = web.New(irc.Registry)
		status.EnableAdmin(cfg.Web.Token)
		handlers.Handle(status.Publish)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	fatal := make(chan error, len(cfg.Connections)+1)
	deps := network.Deps{
		Handler: handlers.Deliver,
		OnError: func(conn network.Connection, err error) {
			fatal <- fmt.Errorf("%s: %w", conn.ID(), err)
		},
		Users: users,
	}

	options := wait.DefaultOptions().
		WithContext(ctx).
		WithMaxRetries(*retries).
		WithTimeout(0).
		WithStrategy(wait.ConnectBackoff(*retries))

	var conns []network.Connection
	stopAll := func() {
		for _, conn := range conns {
			log.Printf("[%s] Stopping", conn.ID())
			conn.Stop()
		}
	}

	for _, connCfg := range cfg.Connections {
		log.Printf("[%s] Connecting to %s:%d", connCfg.Name, connCfg.Server.Host, connCfg.Server.Port)
		conn, err := wait.Start(func() (network.Connection, error) {
			return registry.Create(connCfg, deps)
		}, options)
		if err != nil {
			stopAll()
			log.Fatalf("[%s] Failed to connect: %v", connCfg.Name, err)
		}
		conns = append(conns, conn)
		if status != nil {
			status.Add(conn)
		}
	}

	if status != nil {
		if cfg.Web.LogConnection != "" && cfg.Web.LogChannel != "" {
			found := false
			for _, conn := range conns {
				if conn.ID() == cfg.Web.LogConnection {
					status.Echo().Use(web.ChatLogger(conn, cfg.Web.LogChannel))
					found = true
				}
			}
			if !found {
				log.Printf("Warning: no connection named %q to report requests to", cfg.Web.LogConnection)
			}
		}

		go func() {
			log.Printf("Status server listening on %s", cfg.Web.Listen)
			if err := status.Start(cfg.Web.Listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
				fatal <- fmt.Errorf("status server: %w", err)
			}
		}()
	}

	log.Println("Bot is running. Press Ctrl+C to stop.")

	exitCode := 0
	select {
	case <-ctx.Done():
		log.Println("Shutdown signal received, disconnecting...")
	case err := <-fatal:
		log.Printf("Fatal error: %v", err)
		exitCode = 1
	}

	stopAll()

	if status != nil {
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		if err := status.Shutdown(shutdownCtx); err != nil {
			log.Printf("Error stopping status server: %v", err)
		}
		done()
	}

	log.Println("Goodbye!")
	cancel()
	os.Exit(exitCode)
}

// directories returns the user directory builder for every connection.
// Group membership is kept in memory unless a database is configured.
func directories(dsn string) (func(config.Connection) network.UserDirectory, error) {
	if dsn == "" {
		return func(config.Connection) network.UserDirectory {
			return user.NewDirectory(user.NewMemoryStore(), irc.Fold)
		}, nil
	}

	store, err := sqlstore.Open(dsn)
	if err != nil {
		return nil, err
	}
	return func(cfg config.Connection) network.UserDirectory {
		return user.NewDirectory(store.Scope(cfg.Name), irc.Fold)
	}, nil
}
