// Command session runs one peer of a collaborative session: either the
// authoritative host of a new lobby (create-host) or a guest joining an
// existing one (join). The session id printed by the host is what guests
// pass as --session-id.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"go.opentelemetry.io/otel/attribute"

	"github.com/konnektoren/konnekt-session-go/internal/v1/config"
	"github.com/konnektoren/konnekt-session-go/internal/v1/logging"
	"github.com/konnektoren/konnekt-session-go/internal/v1/session"
	"github.com/konnektoren/konnekt-session-go/internal/v1/tracing"
	"github.com/konnektoren/konnekt-session-go/internal/v1/transport"
)

// Exit codes per the CLI contract.
const (
	exitOK             = 0
	exitConnectTimeout = 1
	exitInvalidConfig  = 2
	exitSyncTimeout    = 3
)

func main() {
	os.Exit(run())
}

func run() int {
	if err := godotenv.Load(); err == nil {
		slog.Info("Loaded environment from .env")
	}

	if len(os.Args) < 2 {
		usage()
		return exitInvalidConfig
	}
	mode := os.Args[1]
	if mode != "create-host" && mode != "join" {
		usage()
		return exitInvalidConfig
	}
	join := mode == "join"

	cfg := config.SessionFromEnv()
	fs := flag.NewFlagSet(mode, flag.ContinueOnError)
	fs.StringVar(&cfg.ServerURL, "server", "", "signalling server URL (ws:// or wss://)")
	fs.StringVar(&cfg.Name, "name", "", "display name (1-50 characters)")
	fs.StringVar(&cfg.TurnServer, "turn-server", "", "TURN server URL")
	fs.StringVar(&cfg.TurnUsername, "turn-username", "", "TURN username")
	fs.StringVar(&cfg.TurnCredential, "turn-credential", "", "TURN credential")
	var sessionIDFlag string
	if join {
		fs.StringVar(&sessionIDFlag, "session-id", "", "session id shared by the host")
	}
	if err := fs.Parse(os.Args[2:]); err != nil {
		return exitInvalidConfig
	}

	if err := logging.Initialize(cfg.DevelopmentMode, cfg.LogLevel); err != nil {
		slog.Error("Failed to initialize logger", "error", err)
		return exitInvalidConfig
	}
	defer logging.Sync()

	if join {
		id, err := uuid.Parse(sessionIDFlag)
		if err != nil && sessionIDFlag != "" {
			slog.Error("Invalid --session-id", "error", err)
			return exitInvalidConfig
		}
		cfg.SessionID = id
	} else {
		cfg.SessionID = uuid.New()
	}

	if err := cfg.Validate(join); err != nil {
		slog.Error("Invalid configuration", "error", err)
		return exitInvalidConfig
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.OtelCollectorAddr != "" {
		tp, err := tracing.Init(ctx, tracing.Config{
			ServiceName:   "konnekt-session",
			CollectorAddr: cfg.OtelCollectorAddr,
			Insecure:      cfg.OtelInsecure,
			Environment:   cfg.GoEnv,
			Attributes: []attribute.KeyValue{
				tracing.RoleAttr(mode),
				tracing.SessionAttr(cfg.SessionID.String()),
			},
		})
		if err != nil {
			slog.Warn("Tracing disabled", "error", err)
		} else {
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = tp.Shutdown(shutdownCtx)
			}()
		}
	}

	dialCtx, cancelDial := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancelDial()
	conn, err := transport.DialRelay(dialCtx, cfg.ServerURL, cfg.SessionID, cfg.ICEServers()...)
	if err != nil {
		slog.Error("Connecting to signalling server failed", "error", err)
		return exitConnectTimeout
	}

	loopCfg := session.Config{
		Conn:         conn,
		GracePeriod:  cfg.GracePeriod,
		TickInterval: cfg.TickInterval,
	}

	var loop *session.Loop
	if join {
		loop, err = session.NewGuest(cfg.SessionID, cfg.Name, loopCfg)
	} else {
		loop, err = session.NewHost(cfg.SessionID, cfg.Name, cfg.Name, loopCfg)
	}
	if err != nil {
		slog.Error("Starting session failed", "error", err)
		return exitInvalidConfig
	}

	if !join {
		fmt.Printf("session-id: %s\n", cfg.SessionID)
	}

	runErr := make(chan error, 1)
	go func() { runErr <- loop.Run(ctx) }()

	if join {
		if code := awaitSync(ctx, loop, cfg.SyncTimeout); code != exitOK {
			stop()
			<-runErr
			return code
		}
		slog.Info("Synchronized with host", "lobby", loop.LobbyID())
	}

	if err := <-runErr; err != nil && ctx.Err() == nil {
		slog.Error("Session loop failed", "error", err)
		return exitConnectTimeout
	}
	slog.Info("Session closed")
	return exitOK
}

// awaitSync polls for guest bootstrap completion within the sync timeout.
func awaitSync(ctx context.Context, loop *session.Loop, timeout time.Duration) int {
	deadline := time.After(timeout)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return exitOK
		case <-deadline:
			slog.Error("Timed out waiting for initial sync")
			return exitSyncTimeout
		case <-ticker.C:
			if loop.Bootstrapped() {
				return exitOK
			}
		}
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `usage:
  session create-host --server <url> --name <string> [--turn-server <url> --turn-username <s> --turn-credential <s>]
  session join --server <url> --session-id <uuid> --name <string> [--turn-server <url> --turn-username <s> --turn-credential <s>]
`)
}
