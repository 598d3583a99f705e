package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/example/quickdrop-slots/internal/application/slotview"
	"github.com/example/quickdrop-slots/internal/domain/availability"
	"github.com/example/quickdrop-slots/internal/infrastructure/notify"
	"github.com/example/quickdrop-slots/internal/internaltypes"
)

const watchHelp = `commands:
  date YYYY-MM-DD   select a date
  book HH:MM        confirm a free slot
  show              print the grid again
  quit`

func newWatchCmd() *cobra.Command {
	var (
		business string
		tenant   string
		item     string
		date     string
		bell     bool
	)
	c := &cobra.Command{
		Use:   "watch",
		Short: "Follow a business's slots live and pick one interactively",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			backend := newBackend(cfg)
			hours, closeCache := hoursSource(ctx, cfg, backend, log)
			defer closeCache()

			sched, err := hours.BusinessHours(ctx, business)
			if err != nil {
				if errors.Is(err, internaltypes.ErrNotFound) {
					return fmt.Errorf("business %q: %w", business, err)
				}
				log.Warn("business hours unavailable; using default hours", zap.Error(err))
			}

			channel, closeChannel, err := pushChannel(ctx, cfg, log)
			if err != nil {
				log.Warn("push channel unavailable; live updates disabled", zap.Error(err))
				channel, closeChannel = nil, func() {}
			}
			defer closeChannel()

			out := &syncWriter{w: cmd.OutOrStdout()}
			notifyOpts := []notify.Option{notify.WithLogger(log.Named("notify"))}
			if bell {
				notifyOpts = append(notifyOpts, notify.WithBell())
			}
			center := notify.New(out, notifyOpts...)
			defer center.Close()

			var view *slotview.View
			view = slotview.New(slotview.Config{
				Business:  business,
				TenantID:  tenant,
				ItemID:    item,
				Schedule:  sched,
				Location:  cfg.Location,
				NotifyTTL: cfg.NotifyTTL,
			}, backend, channel,
				slotview.WithNotifier(center),
				slotview.WithLogger(log.Named("view")),
				slotview.WithOnChange(func(s slotview.State) { render(out, business, view, s) }),
				slotview.WithOnConfirm(func(itemID, dateTime string) {
					out.printf("confirmed %s at %s\n", itemID, dateTime)
				}),
			)
			defer func() { _ = view.Close() }()

			if err := view.Open(ctx); err != nil {
				return err
			}
			if date != "" {
				if err := selectDate(view, date, cfg.Location); err != nil {
					return err
				}
			}
			out.printf("%s\n", watchHelp)

			lines := make(chan string)
			go func() {
				sc := bufio.NewScanner(cmd.InOrStdin())
				for sc.Scan() {
					select {
					case lines <- strings.TrimSpace(sc.Text()):
					case <-ctx.Done():
						return
					}
				}
				close(lines)
			}()

			for {
				select {
				case <-ctx.Done():
					return nil
				case line, ok := <-lines:
					if !ok {
						return nil
					}
					if quit := handleLine(out, view, business, line, cfg.Location); quit {
						return nil
					}
				}
			}
		},
	}
	c.Flags().StringVar(&business, "business", "", "business slug")
	c.Flags().StringVar(&tenant, "tenant", "", "tenant id for live updates")
	c.Flags().StringVar(&item, "item", "", "item being booked")
	c.Flags().StringVar(&date, "date", "", "initial date YYYY-MM-DD")
	c.Flags().BoolVar(&bell, "bell", false, "ring the terminal bell on new bookings")
	_ = c.MarkFlagRequired("business")
	_ = c.MarkFlagRequired("tenant")
	return c
}

func handleLine(out *syncWriter, view *slotview.View, business, line string, loc *time.Location) bool {
	verb, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	switch verb {
	case "":
	case "date":
		if err := selectDate(view, arg, loc); err != nil {
			out.printf("error: %v\n", err)
		}
	case "book":
		if _, err := view.Confirm(arg); err != nil {
			out.printf("error: %v\n", err)
		}
	case "show":
		render(out, business, view, view.State())
	case "quit", "exit":
		return true
	default:
		out.printf("%s\n", watchHelp)
	}
	return false
}

func selectDate(view *slotview.View, raw string, loc *time.Location) error {
	day, err := availability.ParseDate(raw, loc)
	if err != nil {
		return fmt.Errorf("invalid date %q (want YYYY-MM-DD)", raw)
	}
	return view.SelectDate(day)
}

// render reads the view before taking the output lock.
func render(out *syncWriter, business string, view *slotview.View, s slotview.State) {
	date, slots := view.Date(), view.Slots()
	out.mu.Lock()
	defer out.mu.Unlock()
	switch s {
	case slotview.StateNoDate:
		fmt.Fprintln(out.w, "pick a date")
	case slotview.StateLoading:
		fmt.Fprintf(out.w, "%s %s: loading busy times...\n", business, date)
	case slotview.StateReady:
		printGrid(out.w, business, date, slots)
	}
}

// syncWriter serializes writes from the view, notifier and input loop.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

func (s *syncWriter) printf(format string, args ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.w, format, args...)
}
