package domain

// FeedKind tags a decoded feed frame.
type FeedKind int

const (
	FeedUnknown FeedKind = iota
	FeedSnapshot
	FeedDelta
	FeedEvent // subscription acks, info banners, server-side errors
)

func (k FeedKind) String() string {
	switch k {
	case FeedSnapshot:
		return "snapshot"
	case FeedDelta:
		return "delta"
	case FeedEvent:
		return "event"
	default:
		return "unknown"
	}
}

// FeedMessage is a decoded frame from the market-data feed.
// A snapshot replaces both sides; a delta is merged on top of them.
type FeedMessage struct {
	Kind      FeedKind
	ProductID Product // empty when the frame does not name one
	Bids      []PriceLevel
	Asks      []PriceLevel

	// Set for FeedEvent frames only.
	Event   string
	Message string
}

// ControlEvent is the verb of a subscription control message.
type ControlEvent string

const (
	EventSubscribe   ControlEvent = "subscribe"
	EventUnsubscribe ControlEvent = "unsubscribe"
)

// ControlMessage is sent to the feed to change subscriptions.
type ControlMessage struct {
	Event      ControlEvent `json:"event"`
	Feed       string       `json:"feed"`
	ProductIDs []Product    `json:"product_ids"`
}

// SubscribeMessage builds a subscribe request for one product on channel.
func SubscribeMessage(channel string, p Product) ControlMessage {
	return ControlMessage{Event: EventSubscribe, Feed: channel, ProductIDs: []Product{p}}
}

// UnsubscribeMessage builds an unsubscribe request for one product on channel.
func UnsubscribeMessage(channel string, p Product) ControlMessage {
	return ControlMessage{Event: EventUnsubscribe, Feed: channel, ProductIDs: []Product{p}}
}
