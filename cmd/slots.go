package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/example/quickdrop-slots/internal/application/usecases"
	"github.com/example/quickdrop-slots/internal/domain/availability"
)

func newSlotsCmd() *cobra.Command {
	var (
		business string
		date     string
		asJSON   bool
	)
	c := &cobra.Command{
		Use:   "slots",
		Short: "Print the slot grid of a business for one date",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			day, err := availability.ParseDate(date, cfg.Location)
			if err != nil {
				return fmt.Errorf("invalid --date (want YYYY-MM-DD): %w", err)
			}

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			backend := newBackend(cfg)
			hours, closeCache := hoursSource(ctx, cfg, backend, log)
			defer closeCache()

			grid, err := usecases.ListSlots{
				Hours:    hours,
				Busy:     backend,
				Location: cfg.Location,
				Log:      log,
			}.Execute(ctx, business, day, time.Now())
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(grid)
			}
			printGrid(cmd.OutOrStdout(), grid.Business, grid.Date, grid.Slots)
			if grid.Partial {
				fmt.Fprintln(cmd.OutOrStdout(), "(busy times unavailable; every slot shown as free)")
			}
			if grid.DefaultHours {
				fmt.Fprintln(cmd.OutOrStdout(), "(published hours unavailable; default hours shown)")
			}
			return nil
		},
	}
	c.Flags().StringVar(&business, "business", "", "business slug")
	c.Flags().StringVar(&date, "date", time.Now().Format(availability.DateLayout), "date YYYY-MM-DD")
	c.Flags().BoolVar(&asJSON, "json", false, "print the grid as JSON")
	_ = c.MarkFlagRequired("business")
	return c
}

// printGrid lays slots out four to a line, busy ones struck with an x.
func printGrid(w io.Writer, business, date string, slots []availability.Slot) {
	fmt.Fprintf(w, "%s %s\n", business, date)
	if len(slots) == 0 {
		fmt.Fprintln(w, "  no slots")
		return
	}
	for i, s := range slots {
		mark := " "
		if s.Busy {
			mark = "x"
		}
		fmt.Fprintf(w, "  [%s] %s", mark, s.Time)
		if i%4 == 3 || i == len(slots)-1 {
			fmt.Fprintln(w)
		}
	}
}
