package cli

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"offline-sync-service/internal/config"
	"offline-sync-service/internal/status"
	"offline-sync-service/internal/store"
)

// queueCounts is the storage half of the aggregate status; the CLI cannot
// know the service's connectivity.
type queueCounts struct {
	PendingCount       int `json:"pendingCount"`
	OfflineOrdersCount int `json:"offlineOrdersCount"`
	TotalPending       int `json:"totalPending"`
	FailedCount        int `json:"failedCount"`
}

func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show queue counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(rootOpts, func(ctx context.Context, st *store.SQLiteStore, _ *config.Config) error {
				snap, err := status.NewBroadcaster(st).Snapshot(ctx, status.Flags{})
				if err != nil {
					return err
				}
				counts := queueCounts{
					PendingCount:       snap.PendingCount,
					OfflineOrdersCount: snap.OfflineOrdersCount,
					TotalPending:       snap.TotalPending,
					FailedCount:        snap.FailedCount,
				}
				if rootOpts.Format == "json" {
					return writeJSON(cmd.OutOrStdout(), counts)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "pending operations: %d\n", counts.PendingCount)
				fmt.Fprintf(out, "offline orders:     %d\n", counts.OfflineOrdersCount)
				fmt.Fprintf(out, "total pending:      %d\n", counts.TotalPending)
				fmt.Fprintf(out, "failed:             %d\n", counts.FailedCount)
				return nil
			})
		},
	}
}

func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List pending operations in replay order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(rootOpts, func(ctx context.Context, st *store.SQLiteStore, _ *config.Config) error {
				var (
					ops []*store.PendingOperation
					err error
				)
				if all {
					ops, err = st.ListOperations(ctx)
				} else {
					ops, err = st.ListPending(ctx)
				}
				if err != nil {
					return err
				}
				if !all {
					store.SortForReplay(ops)
				}
				if rootOpts.Format == "json" {
					if ops == nil {
						ops = []*store.PendingOperation{}
					}
					return writeJSON(cmd.OutOrStdout(), ops)
				}

				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tQUEUED\tMETHOD\tPATH\tSTATUS\tRETRIES\tLAST ERROR")
				for _, op := range ops {
					fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%d\t%s\n",
						op.ID,
						time.UnixMilli(op.Timestamp).UTC().Format(time.RFC3339),
						op.Method, op.Path, op.Status, op.RetryCount, op.LastError,
					)
				}
				return tw.Flush()
			})
		},
	}

	cmd.Flags().BoolVarP(&all, "all", "a", false, "include FAILED operations")
	return cmd
}

func NewOrdersCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "orders",
		Short: "List offline orders waiting for sync",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(rootOpts, func(ctx context.Context, st *store.SQLiteStore, _ *config.Config) error {
				orders, err := st.ListOfflineOrders(ctx)
				if err != nil {
					return err
				}
				if rootOpts.Format == "json" {
					if orders == nil {
						orders = []*store.OfflineOrder{}
					}
					return writeJSON(cmd.OutOrStdout(), orders)
				}

				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "TEMP ID\tCUSTOMER\tITEMS\tTOTAL\tSTATUS\tEDIT OF\tERROR")
				for _, o := range orders {
					customer := o.Order.CustomerName
					if customer == "" {
						customer = o.Order.CustomerID
					}
					fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%s\t%s\n",
						o.TempID, customer, len(o.Order.Items), o.Order.Total().StringFixed(2),
						o.Status, o.OriginalID, o.SyncError,
					)
				}
				return tw.Flush()
			})
		},
	}
}

func NewPurgeFailedCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "purge-failed",
		Short: "Delete operations that exhausted their retries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(rootOpts, func(ctx context.Context, st *store.SQLiteStore, _ *config.Config) error {
				n, err := st.PurgeFailed(ctx)
				if err != nil {
					return err
				}
				if rootOpts.Format == "json" {
					return writeJSON(cmd.OutOrStdout(), map[string]int64{"purged": n})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "purged %d failed operation(s)\n", n)
				return nil
			})
		},
	}
}

func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent drain passes, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(rootOpts, func(ctx context.Context, st *store.SQLiteStore, cfg *config.Config) error {
				n := limit
				if n <= 0 {
					n = cfg.Sync.HistoryLimit
				}
				runs, err := st.ListSyncRuns(ctx, n)
				if err != nil {
					return err
				}
				if rootOpts.Format == "json" {
					if runs == nil {
						runs = []*store.SyncRun{}
					}
					return writeJSON(cmd.OutOrStdout(), runs)
				}

				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "STARTED\tTOOK\tOUTCOME\tOK\tFAILED\tERROR")
				for _, r := range runs {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%s\n",
						r.StartedAt.UTC().Format(time.RFC3339),
						r.CompletedAt.Sub(r.StartedAt).Round(time.Millisecond),
						r.Outcome, r.Succeeded, r.Failed, r.Error,
					)
				}
				return tw.Flush()
			})
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "number of passes to show (defaults to sync.history_limit)")
	return cmd
}
