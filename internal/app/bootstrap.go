package app

import (
	"context"
	"log/slog"
	"time"

	"orderfeed/internal/domain"
	"orderfeed/internal/engine"
	"orderfeed/internal/event"
	"orderfeed/internal/infra"
	"orderfeed/internal/infra/feed"
	"orderfeed/internal/infra/storage"
	"orderfeed/internal/service"
	"orderfeed/internal/subscription"
)

// DefaultConfigPath is used when no path is given.
const DefaultConfigPath = "configs/config.yaml"

const reportInterval = 5 * time.Second

// Bootstrap orchestrates the application startup sequence
type Bootstrap struct {
	ConfigPath string
	Config     *infra.Config
	Storage    *storage.Storage // nil when persistence is disabled
	Metrics    *infra.Metrics

	Scheduler  *engine.Scheduler
	Books      *service.BookService
	Worker     *feed.Worker
	Controller *subscription.Controller
}

// NewBootstrap creates a new Bootstrap instance
func NewBootstrap(configPath string) *Bootstrap {
	if configPath == "" {
		configPath = DefaultConfigPath
	}
	return &Bootstrap{ConfigPath: configPath}
}

// Initialize loads configuration and wires the engine, transport and storage.
func (b *Bootstrap) Initialize() error {
	slog.Info("🚀 Bootstrapping order feed...")

	// 1. Load Config
	cfg, err := infra.LoadConfig(b.ConfigPath)
	if err != nil {
		return err // Let main handle the error
	}
	b.Config = cfg

	// 2. Setup Logger
	slog.SetDefault(infra.NewLogger(cfg))

	// 3. Initialize Storage (DB) and restore the last selection
	product := cfg.Product()
	grouping := cfg.Grouping()
	if cfg.Storage.Path != "" {
		store, err := storage.NewStorage(cfg.Storage.Path)
		if err != nil {
			return err
		}
		b.Storage = store
		b.syncProducts()
		product, grouping = b.restoreSelection(product, grouping)
		slog.Info("✅ Database initialized", slog.String("path", cfg.Storage.Path))
	}

	// 4. Engine
	event.Warmup()
	b.Metrics = infra.GlobalMetrics
	b.Scheduler = engine.NewScheduler(product, engine.SchedulerConfig{
		Interval:      cfg.FlushInterval(),
		EagerSnapshot: cfg.Engine.EagerSnapshot,
	}, b.Metrics)

	truncate, _ := engine.ParseTruncatePolicy(cfg.Engine.Truncate)
	b.Books = service.NewBookService(product, service.BookConfig{
		Grouping: grouping,
		Limit:    cfg.Engine.DepthLimit,
		Truncate: truncate,
	})
	b.Scheduler.Subscribe(b.Books.OnPublish)

	// 5. Transport + subscription lifecycle
	b.Worker = feed.NewWorker(feed.Config{URL: cfg.Feed.WSURL, Reconnect: cfg.Feed.Reconnect}, b.Scheduler, b.Metrics)
	b.Controller = subscription.NewController(product, cfg.Feed.Channel, b.Worker, b.Scheduler, b.Metrics)
	b.Worker.SetObserver(b.Controller)

	slog.Info("✅ Engine ready",
		slog.String("product", product.String()),
		slog.String("grouping", b.Books.Grouping().String()),
		slog.Duration("flush_interval", cfg.FlushInterval()))
	return nil
}

// syncProducts makes sure every supported product has a preferences row.
func (b *Bootstrap) syncProducts() {
	for _, p := range domain.Products() {
		existing, err := b.Storage.GetProduct(p)
		if err != nil {
			slog.Error("Failed to load product", slog.String("symbol", p.String()), slog.Any("error", err))
			continue
		}
		if existing != nil {
			continue
		}
		info := &domain.ProductInfo{
			Symbol:          string(p),
			DefaultGrouping: p.DefaultDenomination().String(),
		}
		if err := b.Storage.UpsertProduct(info); err != nil {
			slog.Error("Failed to upsert product", slog.String("symbol", p.String()), slog.Any("error", err))
		}
	}
}

// restoreSelection prefers the last session's product and grouping over the config file.
func (b *Bootstrap) restoreSelection(product domain.Product, grouping domain.Denomination) (domain.Product, domain.Denomination) {
	saved, err := b.Storage.LoadConfigMap()
	if err != nil {
		slog.Warn("Failed to load saved selection", slog.Any("error", err))
		return product, grouping
	}
	if p, err := domain.ParseProduct(saved[domain.ConfigKeyProduct]); err == nil {
		if p != product {
			grouping = 0
		}
		product = p
	}
	if info, err := b.Storage.GetProduct(product); err == nil && info != nil && info.Grouping != "" {
		if d, err := domain.ParseDenomination(info.Grouping); err == nil {
			grouping = d
		}
	}
	return product, grouping
}

// Run starts every background component and blocks until ctx is cancelled.
func (b *Bootstrap) Run(ctx context.Context) error {
	if b.Config.Metrics.Addr != "" {
		infra.StartMetricsServer(ctx, b.Config.Metrics.Addr, b.Metrics)
	}

	watcher, err := infra.NewConfigWatcher(b.ConfigPath, infra.DefaultReloadDebounce, b.ApplyConfig)
	if err != nil {
		slog.Warn("Config hot reload disabled", slog.Any("error", err))
	} else {
		go watcher.Run(ctx)
	}

	b.Scheduler.Start(ctx)
	slog.InfoContext(ctx, "✅ Scheduler started")

	if err := b.Worker.Connect(ctx); err != nil {
		b.Scheduler.Stop()
		return err
	}
	slog.InfoContext(ctx, "✅ Feed worker started", slog.String("url", b.Config.Feed.WSURL))

	go b.drainErrors(ctx)
	go b.reportLoop(ctx)

	slog.InfoContext(ctx, "✨ Order feed fully operational. Press Ctrl+C to exit.")
	<-ctx.Done()

	slog.Info("👋 Shutting down gracefully...")
	b.Worker.Disconnect()
	b.Scheduler.Stop()
	if watcher != nil {
		<-watcher.Done()
	}
	if b.Storage != nil {
		if err := b.Storage.Close(); err != nil {
			slog.Warn("Failed to close database", slog.Any("error", err))
		}
	}
	return nil
}

// ApplyConfig applies a reloaded configuration to the running engine.
func (b *Bootstrap) ApplyConfig(cfg *infra.Config) {
	if err := b.SelectProduct(cfg.Product()); err != nil {
		slog.Warn("Product change failed", slog.Any("error", err))
	}
	if d := cfg.Grouping(); d != 0 {
		if err := b.SelectGrouping(d); err != nil {
			slog.Warn("Grouping change failed", slog.Any("error", err))
		}
	}
}

// SelectProduct switches the subscription to p and remembers the choice.
func (b *Bootstrap) SelectProduct(p domain.Product) error {
	if p == b.Controller.State().Symbol {
		return nil
	}
	// A failed resubscribe still leaves the book on p; the worker reconnects to it.
	err := b.Controller.ChangeSymbol(p)
	if b.Controller.State().Symbol != p {
		return err
	}
	if b.Storage != nil {
		if serr := b.Storage.SaveConfig(domain.ConfigKeyProduct, string(p)); serr != nil {
			slog.Warn("Failed to persist product", slog.Any("error", serr))
		}
		if serr := b.Storage.SetActiveProduct(p); serr != nil {
			slog.Warn("Failed to mark product active", slog.Any("error", serr))
		}
	}
	return err
}

// SelectGrouping overrides the ladder denomination for the current product.
func (b *Bootstrap) SelectGrouping(d domain.Denomination) error {
	if err := b.Books.SetGrouping(d); err != nil {
		return err
	}
	if b.Storage == nil {
		return nil
	}
	symbol := b.Books.Symbol()
	info, err := b.Storage.GetProduct(symbol)
	if err != nil {
		return err
	}
	if info == nil {
		info = &domain.ProductInfo{Symbol: string(symbol), DefaultGrouping: symbol.DefaultDenomination().String()}
	}
	info.Grouping = d.String()
	if err := b.Storage.UpsertProduct(info); err != nil {
		return err
	}
	return b.Storage.SaveConfig(domain.ConfigKeyGrouping, d.String())
}

func (b *Bootstrap) drainErrors(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case err := <-b.Controller.Errors():
			slog.Warn("Feed error", slog.Any("error", err), slog.Bool("retriable", domain.IsRetriable(err)))
		}
	}
}

// reportLoop logs the top of book periodically.
func (b *Bootstrap) reportLoop(ctx context.Context) {
	ticker := time.NewTicker(reportInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			slog.Info("Book", b.bookReport()...)
		}
	}
}

// bookReport summarises the ladder. Top of book comes from the raw state,
// since a truncated ladder may not contain the best levels.
func (b *Bootstrap) bookReport() []any {
	ladder := b.Books.Ladder()
	state := b.Books.State()
	attrs := []any{
		slog.String("symbol", ladder.Symbol.String()),
		slog.Uint64("version", ladder.Version),
		slog.String("grouping", ladder.Grouping.String()),
		slog.Int("bid_rows", len(ladder.Bids)),
		slog.Int("ask_rows", len(ladder.Asks)),
		slog.String("state", b.Controller.State().String()),
	}
	if bid, ok := state.BestBid(); ok {
		attrs = append(attrs, slog.String("best_bid", bid.Price.String()))
	}
	if ask, ok := state.BestAsk(); ok {
		attrs = append(attrs, slog.String("best_ask", ask.Price.String()))
	}
	if spread, ok := state.Spread(); ok {
		attrs = append(attrs, slog.String("spread", spread.String()))
	}
	return attrs
}
