package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"paper-trader/internal/app"
	"paper-trader/internal/config"
	"paper-trader/internal/events"
	"paper-trader/internal/feed"
	"paper-trader/internal/models"
	"paper-trader/internal/store"
)

func newRunCmd(a *App) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the simulator against the live market feed",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulator(cmd.Context(), a)
		},
	}
}

func runSimulator(ctx context.Context, a *App) error {
	cfg := a.Config
	log := a.Logger

	dbPath := cfg.Store.DBPath
	if dbPath == "" {
		dbPath = filepath.Join(config.DefaultConfigDir(), "paper.db")
	}
	st, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	if cfg.Credentials.Zerodha.APIKey == "" || cfg.Credentials.Zerodha.AccessToken == "" {
		return fmt.Errorf("zerodha credentials missing: set them in credentials.toml or the environment")
	}

	loader := feed.NewInstrumentLoader(cfg.Credentials.Zerodha.APIKey, cfg.Credentials.Zerodha.AccessToken, st, log)
	if _, err := loader.Refresh(ctx, cfg.Underlyings()...); err != nil {
		log.Warn().Err(err).Msg("instrument refresh failed, using stored master")
	}

	resolver := feed.NewResolver(st)
	if err := resolver.Warm(ctx, cfg.Underlyings()...); err != nil {
		log.Warn().Err(err).Msg("instrument master not fully loaded")
	}
	log.Info().Int("instruments", resolver.Count()).Msg("instrument master loaded")

	sim := app.New(app.ConfigFrom(cfg), app.Deps{
		Logger:   log,
		Bus:      events.NewBus(events.DefaultBusConfig()),
		Store:    st,
		Resolver: resolver,
		Clock:    app.RealClock(),
	})
	defer sim.Close()

	if err := sim.RestoreSnapshot(ctx); err != nil {
		log.Warn().Err(err).Msg("could not restore snapshot, starting fresh")
	}

	ticker := feed.NewKiteTicker(feed.KiteTickerConfig{
		APIKey:      cfg.Credentials.Zerodha.APIKey,
		AccessToken: cfg.Credentials.Zerodha.AccessToken,
	}, resolver)
	ticker.OnTick(sim.OnTick)
	ticker.OnError(func(err error) {
		log.Error().Err(err).Msg("feed error")
	})
	ticker.OnConnect(func() {
		log.Info().Msg("feed connected")
		if err := subscribeAll(ctx, ticker, st, cfg.Underlyings()); err != nil {
			log.Error().Err(err).Msg("subscription failed")
		}
	})
	ticker.OnDisconnect(func() {
		log.Warn().Msg("feed disconnected")
	})

	connectCtx, cancel := context.WithTimeout(ctx, 45*time.Second)
	defer cancel()
	if err := ticker.Connect(connectCtx); err != nil {
		return fmt.Errorf("connecting feed: %w", err)
	}
	defer ticker.Disconnect()

	log.Info().
		Str("capital", cfg.Account.InitialCapital).
		Dur("sweep_interval", cfg.Market.SweepInterval).
		Msg("simulator running")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	cycle := time.NewTicker(cfg.Market.SweepInterval)
	defer cycle.Stop()

	for {
		select {
		case <-cycle.C:
			sim.Cycle()
		case sig := <-sigCh:
			log.Info().Str("signal", sig.String()).Msg("shutting down")
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// subscribeAll puts every known contract for the configured underlyings on
// the stream in full mode, so depth reaches the fill engine.
func subscribeAll(ctx context.Context, ticker *feed.KiteTicker, st *store.SQLiteStore, underlyings []models.Underlying) error {
	var symbols []string
	for _, u := range underlyings {
		instruments, err := st.Instruments(ctx, u)
		if err != nil {
			return err
		}
		for _, inst := range instruments {
			symbols = append(symbols, inst.Symbol)
		}
	}
	if len(symbols) == 0 {
		return fmt.Errorf("no instruments for configured underlyings; load the instrument master first")
	}
	return ticker.Subscribe(symbols, feed.TickModeFull)
}
