package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/example/quickdrop-slots/internal/application/usecases"
	"github.com/example/quickdrop-slots/internal/auth"
	"github.com/example/quickdrop-slots/internal/handoff"
	"github.com/example/quickdrop-slots/internal/infrastructure/crypto"
	"github.com/example/quickdrop-slots/internal/infrastructure/relay"
	"github.com/example/quickdrop-slots/internal/metrics"
	"github.com/example/quickdrop-slots/internal/migrate"
	"github.com/example/quickdrop-slots/internal/web"
)

func newServerCmd() *cobra.Command {
	var migrateUp bool

	cmd := &cobra.Command{
		Use:   "server",
		Short: "Run the HTTP API and the handoff dispatcher",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			hashKey, blockKey, err := cfg.SessionKeys()
			if err != nil {
				return err
			}
			encKey, err := cfg.HandoffKey()
			if err != nil {
				return err
			}
			aead, err := crypto.New(encKey)
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			d, err := openDB(ctx, cfg)
			if err != nil {
				return err
			}
			defer d.Close()

			if migrateUp {
				if err := migrate.Up(ctx, d, log); err != nil {
					return err
				}
			}

			rec := metrics.New()
			backend := newBackend(cfg)
			hours, closeCache := hoursSource(ctx, cfg, backend, log)
			defer closeCache()

			repo := handoff.NewRepo(d, aead)
			slots := usecases.ListSlots{
				Hours:    hours,
				Busy:     backend,
				Local:    repo,
				Location: cfg.Location,
				Log:      log.Named("slots"),
			}

			// dispatcher
			dispatcher := &handoff.Dispatcher{
				Store:       repo,
				Orders:      backend,
				Metrics:     rec,
				Interval:    cfg.Dispatch.Interval,
				MaxAttempts: cfg.Dispatch.MaxAttempts,
				Log:         log.Named("dispatcher"),
			}
			if cfg.Relay.AMQPURL != "" {
				pub, conn, err := relay.Dial(cfg.Relay.AMQPURL, cfg.Relay.Queue, log.Named("relay"))
				if err != nil {
					return err
				}
				defer func() { _ = conn.Close() }()
				defer func() { _ = pub.Close() }()
				dispatcher.Relay = pub
			} else {
				log.Info("AMQP_URL not set; WhatsApp relay disabled")
			}
			go func() {
				if err := dispatcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					log.Error("dispatcher stopped", zap.Error(err))
				}
			}()

			// web
			srv := &web.Server{
				Auth:  auth.NewStore(d, hashKey, blockKey),
				Slots: slots,
				Enqueue: usecases.EnqueueHandoff{
					Slots:     slots,
					Store:     repo,
					Validator: validator.New(),
					Metrics:   rec,
				},
				Handoffs:       repo,
				Metrics:        rec,
				Log:            log.Named("http"),
				Location:       cfg.Location,
				AllowedOrigins: cfg.HTTP.AllowedOrigins,
				RatePerMinute:  cfg.HTTP.RatePerMinute,
			}
			return web.Start(ctx, cfg.ListenAddr, srv.Routes(), log)
		},
	}

	cmd.Flags().BoolVar(&migrateUp, "migrate", true, "run database migrations on startup")

	cmd.Flags().Lookup("migrate").NoOptDefVal = "true"
	return cmd
}
