package app

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"orderfeed/internal/domain"
	"orderfeed/internal/infra"
)

func writeConfig(t *testing.T, dir, product string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	body := "feed:\n" +
		"  ws_url: ws://127.0.0.1:1\n" +
		"  product: " + product + "\n" +
		"  reconnect: false\n" +
		"engine:\n" +
		"  flush_interval_ms: 20\n" +
		"storage:\n" +
		"  path: " + filepath.Join(dir, "orderfeed.db") + "\n" +
		"logging:\n" +
		"  level: error\n"
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestBootstrap_Initialize(t *testing.T) {
	b := NewBootstrap(writeConfig(t, t.TempDir(), "PI_XBTUSD"))
	if err := b.Initialize(); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	defer b.Storage.Close()

	if b.Scheduler.Symbol() != domain.ProductXBTUSD {
		t.Errorf("Expected XBT, got %s", b.Scheduler.Symbol())
	}
	if b.Books.Grouping() != domain.FiftyCents {
		t.Errorf("Expected product default grouping, got %s", b.Books.Grouping())
	}

	products, err := b.Storage.GetAllProducts()
	if err != nil || len(products) != len(domain.Products()) {
		t.Errorf("Expected every product synced, got %d (%v)", len(products), err)
	}
}

func TestBootstrap_MissingConfig(t *testing.T) {
	b := NewBootstrap(filepath.Join(t.TempDir(), "missing.yaml"))
	if err := b.Initialize(); err == nil {
		t.Error("Expected error for missing config")
	}
	if NewBootstrap("").ConfigPath != DefaultConfigPath {
		t.Error("Expected default config path")
	}
}

func TestBootstrap_SelectionIsRestored(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "PI_XBTUSD")

	b := NewBootstrap(path)
	if err := b.Initialize(); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	// Offline symbol change: the book resets, nothing is sent.
	if err := b.SelectProduct(domain.ProductETHUSD); err != nil {
		t.Fatalf("SelectProduct failed: %v", err)
	}
	if state := b.Scheduler.Snapshot(); state.Symbol != domain.ProductETHUSD || !state.IsEmpty() {
		t.Errorf("Expected empty ETH book, got %+v", state)
	}
	if b.Books.Grouping() != domain.FiveCents {
		t.Errorf("Expected ETH default grouping after switch, got %s", b.Books.Grouping())
	}
	if err := b.SelectGrouping(domain.TwentyFiveCents); err != nil {
		t.Fatalf("SelectGrouping failed: %v", err)
	}
	b.Storage.Close()

	restored := NewBootstrap(path)
	if err := restored.Initialize(); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	defer restored.Storage.Close()

	if restored.Controller.State().Symbol != domain.ProductETHUSD {
		t.Errorf("Expected restored ETH, got %s", restored.Controller.State().Symbol)
	}
	if restored.Books.Grouping() != domain.TwentyFiveCents {
		t.Errorf("Expected restored 0.25 grouping, got %s", restored.Books.Grouping())
	}
	info, _ := restored.Storage.GetProduct(domain.ProductETHUSD)
	if info == nil || !info.IsActive {
		t.Errorf("Expected ETH marked active, got %+v", info)
	}
}

func TestBootstrap_ApplyConfig(t *testing.T) {
	b := NewBootstrap(writeConfig(t, t.TempDir(), "PI_XBTUSD"))
	if err := b.Initialize(); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	defer b.Storage.Close()

	cfg, err := infra.ParseConfig([]byte("feed:\n  product: PI_ETHUSD\nengine:\n  grouping: \"0.10\"\n"))
	if err != nil {
		t.Fatalf("ParseConfig failed: %v", err)
	}
	b.ApplyConfig(cfg)

	if b.Books.Symbol() != domain.ProductETHUSD {
		t.Errorf("Expected ETH, got %s", b.Books.Symbol())
	}
	if b.Books.Grouping() != domain.TenCents {
		t.Errorf("Expected 0.10 grouping, got %s", b.Books.Grouping())
	}
	saved, _ := b.Storage.LoadConfigMap()
	if saved[domain.ConfigKeyGrouping] != "0.10" || saved[domain.ConfigKeyProduct] != "PI_ETHUSD" {
		t.Errorf("Unexpected saved selection: %v", saved)
	}
}

func TestBootstrap_RunStopsOnCancel(t *testing.T) {
	b := NewBootstrap(writeConfig(t, t.TempDir(), "PI_XBTUSD"))
	if err := b.Initialize(); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if b.Scheduler.Running() {
		t.Error("Scheduler still running after shutdown")
	}
}

func TestBootstrap_BookReportUsesTopOfBook(t *testing.T) {
	b := NewBootstrap(writeConfig(t, t.TempDir(), "PI_XBTUSD"))
	if err := b.Initialize(); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	defer b.Storage.Close()

	// More whole-dollar bid buckets than the ladder keeps; the lowest survive.
	var bids []domain.PriceLevel
	for p := 100; p < 120; p++ {
		bids = append(bids, domain.NewPriceLevel(float64(p), 1))
	}
	b.Scheduler.Ingest(&domain.FeedMessage{
		Kind:      domain.FeedSnapshot,
		ProductID: domain.ProductXBTUSD,
		Bids:      bids,
		Asks:      []domain.PriceLevel{domain.NewPriceLevel(120.5, 2)},
	})
	b.Scheduler.Flush()

	if got := b.Books.Ladder().Bids[0].Price.String(); got == "119" {
		t.Fatalf("Expected a truncated ladder, top row is %s", got)
	}

	fields := map[string]string{}
	for _, a := range b.bookReport() {
		if attr, ok := a.(slog.Attr); ok {
			fields[attr.Key] = attr.Value.String()
		}
	}
	if fields["best_bid"] != "119" {
		t.Errorf("best_bid = %q, want 119", fields["best_bid"])
	}
	if fields["best_ask"] != "120.5" {
		t.Errorf("best_ask = %q, want 120.5", fields["best_ask"])
	}
	if fields["spread"] != "1.5" {
		t.Errorf("spread = %q, want 1.5", fields["spread"])
	}
}
