package gateway

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/tinyland-inc/bridgeclaw/cmd/bridgeclaw/internal"
	"github.com/tinyland-inc/bridgeclaw/pkg/bus"
	"github.com/tinyland-inc/bridgeclaw/pkg/channels"
	"github.com/tinyland-inc/bridgeclaw/pkg/channels/discord"
	"github.com/tinyland-inc/bridgeclaw/pkg/health"
	"github.com/tinyland-inc/bridgeclaw/pkg/intake"
	"github.com/tinyland-inc/bridgeclaw/pkg/logger"
	"github.com/tinyland-inc/bridgeclaw/pkg/maintenance"
	"github.com/tinyland-inc/bridgeclaw/pkg/session"

	// Channel registrations.
	_ "github.com/tinyland-inc/bridgeclaw/pkg/channels/console"
	_ "github.com/tinyland-inc/bridgeclaw/pkg/channels/slack"
	_ "github.com/tinyland-inc/bridgeclaw/pkg/channels/telegram"
)

const shutdownTimeout = 10 * time.Second

func gatewayCmd(debug bool) error {
	if debug {
		logger.SetLevel(logger.DEBUG)
	}
	if f := openLogFile(); f != nil {
		defer f.Close()
		logger.SetOutput(io.MultiWriter(os.Stderr, f))
	}

	cfg, err := internal.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	fmt.Printf("%s bridgeclaw gateway v%s\n\n", internal.Logo, internal.GetVersion())

	in, err := intake.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to build agent pipeline: %w", err)
	}

	sessions, err := session.NewFileStore(cfg.Session.Dir)
	if err != nil {
		return fmt.Errorf("failed to open session store: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	msgBus := bus.NewMessageBus()
	channelManager := channels.NewManager(cfg, msgBus)

	runner := intake.NewRunner(cfg, msgBus, channelManager, in, sessions)
	go runner.Run(ctx)
	go channelManager.DispatchOutbound(ctx)

	if err := channelManager.StartAll(ctx); err != nil {
		fmt.Printf("⚠ Some channels failed to start: %v\n", err)
	}
	enabled := channelManager.GetEnabledChannels()
	if len(enabled) == 0 {
		fmt.Println("⚠ No channels enabled; check your config")
	} else {
		fmt.Printf("✓ Channels: %s\n", strings.Join(enabled, ", "))
	}

	scheduler := maintenance.NewScheduler(maintenanceJobs(cfg.Maintenance.PairingPurgeCron, cfg.Maintenance.RateLimitResetCron, channelManager)...)
	go scheduler.Run(ctx)

	healthServer := health.NewServer(cfg.Gateway.Host, cfg.Gateway.Port, channelManager.Status)
	healthServer.Start()
	fmt.Printf("✓ Gateway listening on %s:%d\n", cfg.Gateway.Host, cfg.Gateway.Port)
	fmt.Println("Press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	fmt.Println("\nShutting down...")
	cancel()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stopCancel()

	if err := healthServer.Stop(stopCtx); err != nil {
		logger.WarnCF("gateway", "health server shutdown", map[string]any{"error": err.Error()})
	}
	channelManager.StopAll(stopCtx)
	msgBus.Close()

	fmt.Println("✓ Stopped")
	return nil
}

// openLogFile opens the append-mode gateway log. A failure just means
// stderr-only logging.
func openLogFile() *os.File {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil
	}
	dir := filepath.Join(home, ".bridgeclaw", "logs")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil
	}
	f, err := os.OpenFile(filepath.Join(dir, "gateway.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil
	}
	return f
}

// maintenanceJobs wires the cron-driven housekeeping that needs live
// channel state. Empty expressions leave a job disabled.
func maintenanceJobs(purgeCron, resetCron string, m *channels.Manager) []maintenance.Job {
	var jobs []maintenance.Job

	jobs = append(jobs, maintenance.Job{
		Name: "pairing-purge",
		Expr: purgeCron,
		Run: func() {
			if d, ok := discordChannel(m); ok {
				if n := d.PairingStore().Purge(); n > 0 {
					logger.InfoCF("gateway", "purged expired pairing codes", map[string]any{
						"purged": n, "pending": len(d.PairingStore().Pending()),
					})
				}
			}
		},
	})

	jobs = append(jobs, maintenance.Job{
		Name: "rate-limit-reset",
		Expr: resetCron,
		Run: func() {
			if d, ok := discordChannel(m); ok {
				d.RateLimiter().Reset()
				logger.DebugC("gateway", "rate limit counters reset")
			}
		},
	})

	return jobs
}

func discordChannel(m *channels.Manager) (*discord.DiscordChannel, bool) {
	ch, ok := m.GetChannel("discord")
	if !ok {
		return nil, false
	}
	d, ok := ch.(*discord.DiscordChannel)
	return d, ok
}
