package domain

import "context"

// FeedTransport defines the interface for market-data feed connectors
type FeedTransport interface {
	Connect(ctx context.Context) error
	Disconnect()
	IsConnected() bool
}

// ControlSender delivers subscription control messages to the feed.
type ControlSender interface {
	Send(msg ControlMessage) error
}

// PreferenceRepository persists the user's product and grouping selection.
type PreferenceRepository interface {
	UpsertProduct(info *ProductInfo) error
	GetProduct(symbol Product) (*ProductInfo, error)
	SaveConfig(key, value string) error
	LoadConfigMap() (map[string]string, error)
}
