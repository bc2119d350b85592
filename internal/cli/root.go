// Package cli implements queuectl, the operator tool for inspecting and
// maintaining the on-device offline queue.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"offline-sync-service/internal/config"
	"offline-sync-service/internal/store"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	Format     string // "json" | "text"
}

var ValidFormats = []string{"text", "json"}

func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "queuectl",
		Short: "Inspect and maintain the offline sync queue",
		Long:  "queuectl reads the same SQLite queue the offline-sync service drains. It can be used while the service is stopped.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			for _, f := range ValidFormats {
				if f == opts.Format {
					return nil
				}
			}
			return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "config.yaml", "path to the service config file")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewStatusCommand(opts))
	cmd.AddCommand(NewListCommand(opts))
	cmd.AddCommand(NewOrdersCommand(opts))
	cmd.AddCommand(NewPurgeFailedCommand(opts))
	cmd.AddCommand(NewHistoryCommand(opts))

	return cmd
}

// openStore opens the queue configured for the service. Callers close it.
func openStore(opts *RootOptions) (*store.SQLiteStore, *config.Config, error) {
	cfg, err := config.LoadConfig(opts.ConfigPath)
	if err != nil {
		return nil, nil, err
	}
	st, err := store.Open(cfg.Store.FilePath, cfg.Store.GetBusyTimeout(), store.WithMaxRetries(cfg.Sync.MaxRetries))
	if err != nil {
		return nil, nil, fmt.Errorf("open queue %s: %w", cfg.Store.FilePath, err)
	}
	return st, cfg, nil
}

// withStore runs fn against the configured store and always closes it.
func withStore(opts *RootOptions, fn func(ctx context.Context, st *store.SQLiteStore, cfg *config.Config) error) error {
	st, cfg, err := openStore(opts)
	if err != nil {
		return err
	}
	defer st.Close()
	return fn(context.Background(), st, cfg)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
