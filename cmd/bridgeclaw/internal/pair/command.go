// Package pair manages the Discord user mappings that back DM pairing.
// Pairing codes themselves are confirmed in-chat against the running
// gateway; this command edits the persisted mapping directly.
package pair

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/tinyland-inc/bridgeclaw/cmd/bridgeclaw/internal"
	"github.com/tinyland-inc/bridgeclaw/pkg/bus"
)

func NewPairCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pair",
		Short: "Manage Discord DM pairing",
	}

	cmd.AddCommand(newListCommand(), newApproveCommand(), newRevokeCommand())
	return cmd
}

func newListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List paired Discord users",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := internal.LoadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			mapping := cfg.Channels.Discord.ExternalUserMapping
			if len(mapping) == 0 {
				fmt.Println("No paired users")
				return nil
			}

			ids := make([]string, 0, len(mapping))
			for id := range mapping {
				ids = append(ids, id)
			}
			sort.Strings(ids)

			fmt.Printf("Paired users (%d):\n", len(ids))
			for _, id := range ids {
				fmt.Printf("  %s -> %s\n", id, mapping[id])
			}
			return nil
		},
	}
}

func newApproveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "approve <discord-user-id> [account-id]",
		Short: "Pair a Discord user without an in-chat code",
		Long:  "Pair a Discord user directly. Without an account id the user is recorded under the channel-scoped identity, the same default an in-chat code confirmation produces.",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			externalID := args[0]
			accountID := bus.ShadowAccountID("discord", externalID)
			if len(args) == 2 {
				accountID = args[1]
			}

			cfg, err := internal.LoadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			if cfg.Channels.Discord.ExternalUserMapping == nil {
				cfg.Channels.Discord.ExternalUserMapping = make(map[string]string)
			}
			cfg.Channels.Discord.ExternalUserMapping[externalID] = accountID

			if err := cfg.Save(); err != nil {
				return fmt.Errorf("failed to save config: %w", err)
			}

			fmt.Printf("✓ Paired %s -> %s\n", externalID, accountID)
			fmt.Println("Restart the gateway to pick up the new mapping")
			return nil
		},
	}
}

func newRevokeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <discord-user-id>",
		Short: "Remove a paired Discord user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := internal.LoadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			if _, ok := cfg.Channels.Discord.ExternalUserMapping[args[0]]; !ok {
				return fmt.Errorf("user %s is not paired", args[0])
			}
			delete(cfg.Channels.Discord.ExternalUserMapping, args[0])

			if err := cfg.Save(); err != nil {
				return fmt.Errorf("failed to save config: %w", err)
			}

			fmt.Printf("✓ Revoked pairing for %s\n", args[0])
			return nil
		},
	}
}
