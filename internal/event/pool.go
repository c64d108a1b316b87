package event

import (
	"sync"

	"orderfeed/internal/domain"
)

// feedMessagePool recycles decoded frames on the read path.
// Usage:
//
//	msg := AcquireFeedMessage()
//	err := Decode(raw, msg)
//	// ... ingest msg ...
//	ReleaseFeedMessage(msg) // once nothing references msg's slices
var feedMessagePool = sync.Pool{
	New: func() interface{} {
		return &domain.FeedMessage{}
	},
}

// AcquireFeedMessage gets a FeedMessage from the pool.
// The returned message has zero values apart from reusable slice capacity.
func AcquireFeedMessage() *domain.FeedMessage {
	return feedMessagePool.Get().(*domain.FeedMessage)
}

// ReleaseFeedMessage returns a FeedMessage to the pool.
// Level slices are truncated, not freed, so their capacity is reused.
func ReleaseFeedMessage(msg *domain.FeedMessage) {
	if msg == nil {
		return
	}
	msg.Kind = domain.FeedUnknown
	msg.ProductID = ""
	msg.Bids = msg.Bids[:0]
	msg.Asks = msg.Asks[:0]
	msg.Event = ""
	msg.Message = ""

	feedMessagePool.Put(msg)
}

// Warmup pre-allocates messages to reduce GC pressure at startup.
func Warmup() {
	const batchSize = 64

	msgs := make([]*domain.FeedMessage, 0, batchSize)
	for i := 0; i < batchSize; i++ {
		m := AcquireFeedMessage()
		if cap(m.Bids) == 0 {
			m.Bids = make([]domain.PriceLevel, 0, 32)
			m.Asks = make([]domain.PriceLevel, 0, 32)
		}
		msgs = append(msgs, m)
	}
	for _, m := range msgs {
		ReleaseFeedMessage(m)
	}
}
