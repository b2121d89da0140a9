package settlement

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// FillEvent is the settlement record emitted after a fill or cancellation
// commits. Persistence and reporting hang off these, never off engine
// internals.
type FillEvent struct {
	ID        string
	OrderType string // "limit" or "dca"
	Kind      string // "fill" or "cancel"
	OrderHash common.Hash
	Maker     common.Address
	Taker     common.Address

	FillAmount   *big.Int
	MakerPortion *big.Int
	Fee          *big.Int

	// FilledTotal is the cumulative filled taker amount (limit orders).
	FilledTotal *big.Int
	// TradesCompleted and LastFillAt mirror DCA fill state.
	TradesCompleted uint64
	LastFillAt      int64

	At time.Time
}

// EventSink receives committed settlement events.
type EventSink interface {
	RecordFillEvent(FillEvent)
}

func emitFill(sink EventSink, e FillEvent, at time.Time) {
	if sink == nil {
		return
	}
	e.ID = uuid.NewString()
	e.At = at
	sink.RecordFillEvent(e)
}
