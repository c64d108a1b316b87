package event

import (
	"encoding/json"
	"fmt"

	"orderfeed/internal/domain"

	"github.com/shopspring/decimal"
)

// Feed tags as sent by the book_ui_1 channel. The short aliases are accepted
// for feeds that tag frames generically.
const (
	FeedTagDelta         = "book_ui_1"
	FeedTagSnapshot      = "book_ui_1_snapshot"
	FeedTagDeltaAlias    = "delta"
	FeedTagSnapshotAlias = "snapshot"
)

// wireMessage mirrors the JSON frame. Numbers stay as json.Number so prices
// are parsed into decimals without a float round trip.
type wireMessage struct {
	Feed      string          `json:"feed"`
	ProductID string          `json:"product_id"`
	Event     string          `json:"event"`
	Message   string          `json:"message"`
	Bids      [][]json.Number `json:"bids"`
	Asks      [][]json.Number `json:"asks"`
}

// Decode parses a raw frame into msg, reusing msg's level slices.
// Every failure is a *domain.MalformedMessageError; msg is then unspecified
// and must not be applied.
func Decode(raw []byte, msg *domain.FeedMessage) error {
	var w wireMessage
	if err := json.Unmarshal(raw, &w); err != nil {
		return domain.NewMalformedMessage("invalid json", err)
	}

	msg.ProductID = domain.Product(w.ProductID)
	msg.Event = w.Event
	msg.Message = w.Message

	if w.Event != "" {
		msg.Kind = domain.FeedEvent
		msg.Bids = msg.Bids[:0]
		msg.Asks = msg.Asks[:0]
		return nil
	}

	switch w.Feed {
	case FeedTagSnapshot, FeedTagSnapshotAlias:
		msg.Kind = domain.FeedSnapshot
	case FeedTagDelta, FeedTagDeltaAlias:
		msg.Kind = domain.FeedDelta
	default:
		msg.Kind = domain.FeedUnknown
		return domain.NewMalformedMessage(fmt.Sprintf("unrecognized feed tag %q", w.Feed), nil)
	}

	var err error
	if msg.Bids, err = decodeLevels(msg.Bids[:0], w.Bids); err != nil {
		return domain.NewMalformedMessage("bids", err)
	}
	if msg.Asks, err = decodeLevels(msg.Asks[:0], w.Asks); err != nil {
		return domain.NewMalformedMessage("asks", err)
	}
	return nil
}

func decodeLevels(dst []domain.PriceLevel, pairs [][]json.Number) ([]domain.PriceLevel, error) {
	for i, pair := range pairs {
		if len(pair) != 2 {
			return dst, fmt.Errorf("level %d: want [price, size], got %d values", i, len(pair))
		}
		price, err := decimal.NewFromString(pair[0].String())
		if err != nil {
			return dst, fmt.Errorf("level %d price: %w", i, err)
		}
		size, err := decimal.NewFromString(pair[1].String())
		if err != nil {
			return dst, fmt.Errorf("level %d size: %w", i, err)
		}
		if !price.IsPositive() {
			return dst, fmt.Errorf("level %d: non-positive price %s", i, price)
		}
		if size.IsNegative() {
			return dst, fmt.Errorf("level %d: negative size %s", i, size)
		}
		if !domain.FitsPriceScale(price) {
			return dst, fmt.Errorf("level %d price %s: %w", i, price, domain.ErrPricePrecision)
		}
		dst = append(dst, domain.PriceLevel{Price: price, Size: size})
	}
	return dst, nil
}

// EncodeControl renders a subscription control message.
func EncodeControl(msg domain.ControlMessage) ([]byte, error) {
	return json.Marshal(msg)
}
