package app

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"amm-quote-engine/internal/alerting"
	"amm-quote-engine/internal/config"
	"amm-quote-engine/internal/divergence"
	"amm-quote-engine/internal/engine"
	"amm-quote-engine/internal/feed"
	"amm-quote-engine/internal/fees"
	"amm-quote-engine/internal/inventory"
	"amm-quote-engine/internal/oracle"
	"amm-quote-engine/internal/recenter"
	"amm-quote-engine/internal/scheduler"
	"amm-quote-engine/internal/service"
	"amm-quote-engine/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) newFeeds() (feed.PrimarySource, feed.SecondarySource) {
	primary := feed.NewChainlink(feed.ChainlinkOptions{
		RPCURL:            a.Config.Ethereum.RPCURL,
		AggregatorAddress: a.Config.Ethereum.AggregatorAddress,
		Timeout:           a.Config.Ethereum.RequestTimeout,
	}, a.Logger)

	secondary := feed.NewVenue(feed.VenueOptions{
		BaseURL:   a.Config.Venue.BaseURL,
		Symbol:    a.Config.Venue.Symbol,
		Timeout:   a.Config.Venue.RequestTimeout,
		UserAgent: a.Config.Venue.UserAgent,
	}, a.Logger)

	return primary, secondary
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Enabled && a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger)
	}
	return nil
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

// buildEngine validates the raw engine parameter groups and wires them into
// a fresh Engine instance.
func (a *App) buildEngine(events engine.Events) (*engine.Engine, error) {
	ec := a.Config.Engine

	oracleCfg, err := oracle.NewConfig(oracle.ConfigParams{
		MaxAgeSec:           ec.Oracle.MaxAgeSec,
		SecondaryMaxAgeSec:  ec.Oracle.SecondaryMaxAgeSec,
		EMAFallbackEnabled:  ec.Oracle.EMAFallbackEnabled,
		EMALambda:           ec.Oracle.EMALambda,
		SigmaLambda:         ec.Oracle.SigmaLambda,
		ConfWeightSpread:    ec.Oracle.ConfWeightSpread,
		ConfWeightSigma:     ec.Oracle.ConfWeightSigma,
		ConfWeightSecondary: ec.Oracle.ConfWeightSecondary,
		ConfCapSpreadBps:    ec.Oracle.ConfCapSpreadBps,
		ConfCapSigmaBps:     ec.Oracle.ConfCapSigmaBps,
		ConfCapSecondaryBps: ec.Oracle.ConfCapSecondaryBps,
		ConfStrictCapBps:    ec.Oracle.ConfStrictCapBps,
	})
	if err != nil {
		return nil, fmt.Errorf("engine.oracle: %w", err)
	}

	divCfg, err := divergence.NewConfig(divergence.ConfigParams{
		AcceptBps:       ec.Divergence.AcceptBps,
		SoftBps:         ec.Divergence.SoftBps,
		HardBps:         ec.Divergence.HardBps,
		HaircutMinBps:   ec.Divergence.HaircutMinBps,
		HaircutSlopeBps: ec.Divergence.HaircutSlopeBps,
		HealthyStreak:   ec.Divergence.HealthyStreak,
	})
	if err != nil {
		return nil, fmt.Errorf("engine.divergence: %w", err)
	}

	feeCfg, err := fees.NewConfig(fees.ConfigParams{
		BaseBps:          ec.Fees.BaseBps,
		CapBps:           ec.Fees.CapBps,
		AlphaConfNum:     ec.Fees.AlphaConfNum,
		AlphaConfDen:     ec.Fees.AlphaConfDen,
		BetaInvNum:       ec.Fees.BetaInvNum,
		BetaInvDen:       ec.Fees.BetaInvDen,
		GammaSizeLinBps:  ec.Fees.GammaSizeLinBps,
		GammaSizeQuadBps: ec.Fees.GammaSizeQuadBps,
		SizeFeeCapBps:    ec.Fees.SizeFeeCapBps,
		S0Notional:       ec.Fees.S0Notional,
		LvrKappa:         ec.Fees.LvrKappa,
		LvrCapBps:        ec.Fees.LvrCapBps,
		QuoteTTL:         ec.Fees.QuoteTTLSec,
		TiltGamma:        ec.Fees.TiltGamma,
		TiltCapBps:       ec.Fees.TiltCapBps,
		AlphaBbo:         ec.Fees.AlphaBbo,
		FloorAbsBps:      ec.Fees.FloorAbsBps,
		RebateMaxBps:     ec.Fees.RebateMaxBps,
		DecayPctPerBlock: ec.Fees.DecayPctPerBlock,
	})
	if err != nil {
		return nil, fmt.Errorf("engine.fees: %w", err)
	}

	invCfg, err := inventory.NewConfig(inventory.ConfigParams{FloorBps: ec.Inventory.FloorBps})
	if err != nil {
		return nil, fmt.Errorf("engine.inventory: %w", err)
	}

	recCfg, err := recenter.NewConfig(recenter.ConfigParams{
		ThresholdPct: ec.Recenter.ThresholdPct,
		Cooldown:     ec.Recenter.Cooldown,
		RearmStreak:  ec.Recenter.RearmStreak,
	})
	if err != nil {
		return nil, fmt.Errorf("engine.recenter: %w", err)
	}

	makerCfg, err := engine.NewMakerConfig(engine.MakerParams{
		SnapshotMaxAge:  ec.Maker.SnapshotMaxAge,
		RefreshCooldown: ec.Maker.RefreshCooldown,
		StalenessReject: ec.Maker.StalenessReject,
		LadderLevels:    ec.Maker.LadderLevels,
	})
	if err != nil {
		return nil, fmt.Errorf("engine.maker: %w", err)
	}

	aomqCfg, err := engine.NewAomqConfig(engine.AomqParams{
		Enabled:            ec.Aomq.Enabled,
		EmergencySpreadBps: ec.Aomq.EmergencySpreadBps,
		MinQuoteNotional:   ec.Aomq.MinQuoteNotional,
		FloorEpsilonBps:    ec.Aomq.FloorEpsilonBps,
	})
	if err != nil {
		return nil, fmt.Errorf("engine.aomq: %w", err)
	}

	pair := a.Config.Pair
	return engine.New(engine.Params{
		OracleConfig:     oracleCfg,
		DivergenceConfig: divCfg,
		FeeConfig:        feeCfg,
		InventoryConfig:  invCfg,
		RecenterConfig:   recCfg,
		MakerConfig:      makerCfg,
		AomqConfig:       aomqCfg,
		InitialInventory: inventory.State{
			BaseReserves:   decimal.NewFromFloat(pair.BaseReserves),
			QuoteReserves:  decimal.NewFromFloat(pair.QuoteReserves),
			TargetBaseStar: decimal.NewFromFloat(pair.TargetBase),
		},
		BaseLeg:  engine.TokenLegInfo{Symbol: pair.BaseSymbol, Decimals: pair.BaseDecimals},
		QuoteLeg: engine.TokenLegInfo{Symbol: pair.QuoteSymbol, Decimals: pair.QuoteDecimals},
		Events:   events,
		Logger:   a.Logger,
	}), nil
}

// Run executes the long-running refresh service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; persistence disabled")
	}
	if closeStore != nil {
		defer closeStore()
	}

	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		AlignToStart: a.Config.Scheduler.AlignToBucket,
		StartupDelay: a.Config.Scheduler.StartupDelay,
	}, a.Logger)

	primary, secondary := a.newFeeds()
	notifier := a.newNotifier()

	var snapshotStore storage.SnapshotStore
	var recenterStore storage.RecenterEventStore
	if store != nil {
		snapshotStore = store
		recenterStore = store
	}

	sink := service.NewEventSink(notifier, recenterStore, a.Config.Alerting.Channels, a.Logger)
	eng, err := a.buildEngine(sink)
	if err != nil {
		return err
	}

	svc := service.New(a.Config, sched, primary, secondary, eng, snapshotStore, a.Logger)

	a.Logger.Info().Msg("starting quote engine service")
	err = svc.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("quote engine service stopped")
	return nil
}

// ExportOptions hold parameters for exporting historical snapshots.
type ExportOptions struct {
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
}

// SimulateOptions configure an offline quote simulation.
type SimulateOptions struct {
	Mid          float64
	SecondaryMid float64
	AmountIn     float64
	Side         string // "base" or "quote"
	Strict       bool
	RebateBps    float64
}
