package status

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/tinyland-inc/bridgeclaw/cmd/bridgeclaw/internal"
)

const probeTimeout = 2 * time.Second

func NewStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show gateway configuration and running state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return statusCmd()
		},
	}
}

func statusCmd() error {
	cfg, err := internal.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	fmt.Printf("%s bridgeclaw v%s\n\n", internal.Logo, internal.GetVersion())
	fmt.Printf("Config: %s\n", internal.GetConfigPath())
	fmt.Printf("Models: %d configured\n", len(cfg.ModelList))

	fmt.Println("\nChannels (config):")
	printEnabled("discord", cfg.Channels.Discord.Enabled)
	printEnabled("telegram", cfg.Channels.Telegram.Enabled)
	printEnabled("slack", cfg.Channels.Slack.Enabled)
	printEnabled("console", cfg.Channels.Console.Enabled)

	fmt.Println("\nGateway:")
	probeGateway(cfg.Gateway.Host, cfg.Gateway.Port)
	return nil
}

func printEnabled(name string, enabled bool) {
	state := "disabled"
	if enabled {
		state = "enabled"
	}
	fmt.Printf("  %-10s %s\n", name, state)
}

// probeGateway asks the running process for its readiness snapshot. A
// refused connection just means the gateway is not running.
func probeGateway(host string, port int) {
	client := &http.Client{Timeout: probeTimeout}
	resp, err := client.Get(fmt.Sprintf("http://%s:%d/ready", host, port))
	if err != nil {
		fmt.Println("  not running")
		return
	}
	defer resp.Body.Close()

	var body struct {
		Ready    bool `json:"ready"`
		Channels []struct {
			Name      string `json:"name"`
			Available bool   `json:"available"`
		} `json:"channels"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		fmt.Println("  running (unreadable status)")
		return
	}

	if body.Ready {
		fmt.Println("  running, all channels available")
	} else {
		fmt.Println("  running, some channels unavailable")
	}
	for _, ch := range body.Channels {
		state := "down"
		if ch.Available {
			state = "up"
		}
		fmt.Printf("  %-10s %s\n", ch.Name, state)
	}
}
