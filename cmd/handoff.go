package cmd

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/example/quickdrop-slots/internal/handoff"
	"github.com/example/quickdrop-slots/internal/infrastructure/crypto"
)

func newHandoffCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "handoff",
		Short: "Inspect queued appointment handoffs",
	}
	cmd.AddCommand(newHandoffListCmd())
	cmd.AddCommand(newHandoffRetryCmd())
	return cmd
}

func openRepo(ctx context.Context) (*handoff.Repo, func(), error) {
	cfg, _, err := setup()
	if err != nil {
		return nil, nil, err
	}
	key, err := cfg.HandoffKey()
	if err != nil {
		return nil, nil, err
	}
	aead, err := crypto.New(key)
	if err != nil {
		return nil, nil, err
	}
	d, err := openDB(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return handoff.NewRepo(d, aead), d.Close, nil
}

func newHandoffListCmd() *cobra.Command {
	var (
		status string
		limit  int
	)
	c := &cobra.Command{
		Use:   "list",
		Short: "List handoffs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := handoff.ParseStatus(status)
			if err != nil {
				return err
			}
			ctx := context.Background()
			repo, closeDB, err := openRepo(ctx)
			if err != nil {
				return err
			}
			defer closeDB()

			hs, err := repo.List(ctx, st, limit)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tBUSINESS\tAPPOINTMENT\tCUSTOMER\tSTATUS\tATTEMPTS\tORDER\tCREATED")
			for _, h := range hs {
				orderID := "-"
				if h.OrderID != nil {
					orderID = *h.OrderID
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
					h.ID, h.BusinessSlug, h.Appointment, h.CustomerName, h.Status, h.Attempts, orderID,
					h.CreatedAt.Format(time.RFC3339))
			}
			return tw.Flush()
		},
	}
	c.Flags().StringVar(&status, "status", "", "filter by status (pending, submitted, failed)")
	c.Flags().IntVar(&limit, "limit", 50, "maximum rows")
	return c
}

// retry puts a failed handoff back in the queue; the dispatcher picks it up
// on its next tick.
func newHandoffRetryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retry ID",
		Short: "Re-queue a failed handoff",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid id: %w", err)
			}
			ctx := context.Background()
			repo, closeDB, err := openRepo(ctx)
			if err != nil {
				return err
			}
			defer closeDB()

			h, err := repo.Get(ctx, id)
			if err != nil {
				return err
			}
			if h.Status != handoff.StatusFailed {
				return fmt.Errorf("handoff %s is %s, only failed handoffs can be retried", id, h.Status)
			}
			if err := repo.SetStatus(ctx, id, handoff.StatusPending, nil); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "re-queued %s (%s)\n", id, h.Appointment)
			return nil
		},
	}
}
