package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/diceaviator/gamelink/internal/channel"
	"github.com/diceaviator/gamelink/internal/client"
	"github.com/diceaviator/gamelink/internal/codec"
	"github.com/diceaviator/gamelink/internal/config"
	"github.com/diceaviator/gamelink/internal/session"
)

func main() {
	configPath := flag.String("config", "", "optional YAML config overlay")
	rollOnce := flag.Bool("roll", false, "submit one roll once a game is selected")
	flag.Parse()

	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	// Setup logging
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if os.Getenv("LOG_LEVEL") == "debug" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	cfg := config.NewConfigFromEnv()
	if *configPath != "" {
		if err := cfg.LoadFile(*configPath); err != nil {
			log.Fatal().Err(err).Str("path", *configPath).Msg("failed to load config file")
		}
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	clock := clockwork.NewRealClock()
	store := session.NewStoreWithCap(clock, cfg.RecentRollsCap)

	chCfg := channel.DefaultConfig(cfg.SocketURL)
	chCfg.MaxReconnectAttempts = cfg.MaxReconnectAttempts
	chCfg.ReconnectWait = cfg.ReconnectWait
	chCfg.PingInterval = cfg.PingInterval
	chCfg.WriteTimeout = cfg.WriteTimeout
	chCfg.HandshakeTimeout = cfg.HandshakeTimeout
	mgr := channel.NewManager(chCfg, clock)
	defer mgr.Close()

	syncCfg := client.DefaultConfig(channel.Identity{
		ClientID:    cfg.ClientID,
		SessionHash: cfg.SessionHash,
	})
	syncCfg.RollTimeout = cfg.RollTimeout
	sync := client.New(syncCfg, mgr, store, codec.New(cfg.EncryptionKey), clock)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	states, _, err := sync.StateChanges(16)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to observe connection state")
	}
	go func() {
		for sc := range states {
			evt := log.Info()
			if sc.Err != nil {
				evt = log.Warn().Err(sc.Err)
			}
			evt.
				Str("from", sc.Previous.String()).
				Str("to", sc.Current.String()).
				Bool("terminal", sc.Terminal).
				Msg("connection state")
		}
	}()

	if err := sync.Start(); err != nil {
		log.Fatal().Err(err).Msg("failed to start synchronizer")
	}
	defer sync.Stop()

	log.Info().Str("endpoint", cfg.SocketURL).Msg("gamelink running, ctrl-c to exit")
	run(ctx, sync, clock, *rollOnce)
}

// run drives a minimal session: select the first joinable game, fetch its
// roll history, and report session state until interrupted.
func run(ctx context.Context, sync *client.Synchronizer, clock clockwork.Clock, rollOnce bool) {
	ticker := clock.NewTicker(2 * time.Second)
	defer ticker.Stop()

	rolled := false
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
		}

		st := sync.Session()
		if st.SelectedGameID == 0 {
			for _, g := range st.ActiveGames {
				if !g.Joinable() {
					continue
				}
				if err := sync.SelectGame(g.ID); err != nil {
					continue
				}
				log.Info().
					Int64("game_id", g.ID).
					Float64("stake", g.Stake).
					Time("ends", g.EndDate).
					Msg("selected game")
				if err := sync.RequestRecentRolls(ctx); err != nil {
					log.Warn().Err(err).Msg("could not fetch roll history")
				}
				break
			}
			continue
		}

		if rollOnce && !rolled {
			switch err := sync.RequestRoll(ctx); err {
			case nil:
				rolled = true
				log.Info().Msg("roll submitted")
			case client.ErrRollInFlight, client.ErrNotConnected:
				// transient, retry on the next tick
			default:
				log.Warn().Err(err).Msg("roll rejected")
				rolled = true
			}
		}

		evt := log.Info().
			Float64("balance", st.Balance).
			Str("currency", st.Currency).
			Int("games", len(st.ActiveGames)).
			Bool("roll_in_flight", st.RollInFlight).
			Ints("recent_rolls", st.RecentRolls)
		if st.LastRollResult != nil {
			evt = evt.Int("last_score", st.LastRollResult.Score)
		}
		evt.Msg("session")
	}
}
