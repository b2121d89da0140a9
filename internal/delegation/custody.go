// Package delegation implements the two-tier capability layer: a custody
// contract holding users' standing token allowances that honors pulls only
// from its single current proxy, and a proxy holding an allow-set of
// settlement callers. Delegate rotation on both tiers runs through a
// timelocked unlock/lock/confirm protocol; removal is always immediate.
package delegation

import (
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.uber.org/zap"

	serrors "github.com/axleworks/settler/common/errors"
	"github.com/axleworks/settler/internal/chain"
	"github.com/axleworks/settler/pkg/metrics"
)

// Event is the audit record emitted by delegation-layer mutations and claims.
type Event struct {
	ID      string
	Tier    string // "custody" or "proxy"
	Kind    string // "unlock", "lock", "confirm", "remove", "claim"
	Subject common.Address
	Token   common.Address
	From    common.Address
	To      common.Address
	Amount  *big.Int
	At      time.Time
}

// EventSink receives delegation events after they take effect.
type EventSink interface {
	RecordDelegationEvent(Event)
}

// rotation is the pending-delegate state shared by both tiers: at most one
// pending address and its unlock time.
type rotation struct {
	pending  common.Address
	unlockAt int64
	everSet  bool
}

func (r *rotation) clear() {
	r.pending = common.Address{}
	r.unlockAt = 0
}

// Custody holds no funds, only authorization: users grant it standing ledger
// allowances and it moves their tokens solely on request of its current proxy.
type Custody struct {
	mu sync.Mutex

	self   common.Address
	owner  common.Address
	ledger *chain.TokenLedger

	proxy common.Address
	rot   rotation

	rotationDelay time.Duration
	initialDelay  time.Duration

	now    func() time.Time
	logger *zap.Logger
	sink   EventSink
}

func NewCustody(self, owner common.Address, ledger *chain.TokenLedger, rotationDelay, initialDelay time.Duration, logger *zap.Logger, sink EventSink) *Custody {
	return &Custody{
		self:          self,
		owner:         owner,
		ledger:        ledger,
		rotationDelay: rotationDelay,
		initialDelay:  initialDelay,
		now:           time.Now,
		logger:        logger,
		sink:          sink,
	}
}

// Address returns the custody instance's own address, the spender users must
// grant their token allowance to.
func (c *Custody) Address() common.Address { return c.self }

// CurrentProxy returns the only caller whose pulls are honored. Zero until
// the first rotation confirms.
func (c *Custody) CurrentProxy() common.Address {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.proxy
}

// PendingProxy returns the in-flight rotation, if any.
func (c *Custody) PendingProxy() (common.Address, int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rot.pending, c.rot.unlockAt
}

// Unlock records newProxy as pending, effective only after the timelock. The
// very first assignment uses the shorter initial delay since there is no
// standing delegate to protect yet.
func (c *Custody) Unlock(caller, newProxy common.Address) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if caller != c.owner {
		return serrors.ErrNotOwner
	}
	if newProxy == (common.Address{}) {
		return serrors.ErrZeroAddress
	}
	delay := c.rotationDelay
	if !c.rot.everSet {
		delay = c.initialDelay
	}
	c.rot.pending = newProxy
	c.rot.unlockAt = c.now().Add(delay).Unix()
	c.logger.Info("custody proxy rotation unlocked",
		zap.String("pending", newProxy.Hex()), zap.Int64("unlock_at", c.rot.unlockAt))
	metrics.DelegationRotations.WithLabelValues("custody", "unlock").Inc()
	c.emit(Event{Tier: "custody", Kind: "unlock", Subject: newProxy})
	return nil
}

// Lock clears a pending rotation. Owner-only, effective immediately at any
// point before confirmation.
func (c *Custody) Lock(caller common.Address) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if caller != c.owner {
		return serrors.ErrNotOwner
	}
	if c.rot.pending == (common.Address{}) {
		return serrors.ErrNoPendingDelegate
	}
	cleared := c.rot.pending
	c.rot.clear()
	c.logger.Info("custody proxy rotation locked", zap.String("cleared", cleared.Hex()))
	metrics.DelegationRotations.WithLabelValues("custody", "lock").Inc()
	c.emit(Event{Tier: "custody", Kind: "lock", Subject: cleared})
	return nil
}

// Confirm commits the pending proxy once the timelock has elapsed.
func (c *Custody) Confirm(caller common.Address) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if caller != c.owner {
		return serrors.ErrNotOwner
	}
	if c.rot.pending == (common.Address{}) {
		return serrors.ErrNoPendingDelegate
	}
	if c.now().Unix() < c.rot.unlockAt {
		return serrors.ErrTimelockNotElapsed
	}
	c.proxy = c.rot.pending
	c.rot.clear()
	c.rot.everSet = true
	c.logger.Info("custody proxy rotation confirmed", zap.String("proxy", c.proxy.Hex()))
	metrics.DelegationRotations.WithLabelValues("custody", "confirm").Inc()
	c.emit(Event{Tier: "custody", Kind: "confirm", Subject: c.proxy})
	return nil
}

// ClaimTokens moves amount of token from `from` to `to` on the authority of
// the standing allowance `from` granted to this custody instance. Only the
// current proxy may call. A zero amount is a documented no-op that still
// emits its event.
func (c *Custody) ClaimTokens(caller, token, from, to common.Address, amount *big.Int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if caller == (common.Address{}) || caller != c.proxy {
		return serrors.Wrap(serrors.KindAuthorization, "custody",
			fmt.Errorf("%w: %s is not the current proxy", serrors.ErrNotAuthorizedCaller, caller.Hex()))
	}
	if token == (common.Address{}) || from == (common.Address{}) || to == (common.Address{}) {
		return serrors.ErrZeroAddress
	}
	if amount == nil || amount.Sign() < 0 {
		return serrors.Wrap(serrors.KindValidation, "custody", chain.ErrNegativeAmount)
	}
	if amount.Sign() == 0 {
		c.logger.Debug("zero-amount claim", zap.String("token", token.Hex()))
		c.emit(Event{Tier: "custody", Kind: "claim", Token: token, From: from, To: to, Amount: new(big.Int)})
		return nil
	}
	if err := c.ledger.TransferFrom(token, c.self, from, to, amount); err != nil {
		return serrors.Wrap(serrors.KindExternalCall, "custody", err)
	}
	metrics.TokensClaimed.WithLabelValues("custody").Inc()
	c.emit(Event{Tier: "custody", Kind: "claim", Token: token, From: from, To: to, Amount: new(big.Int).Set(amount)})
	return nil
}

func (c *Custody) emit(e Event) {
	if c.sink == nil {
		return
	}
	e.ID = newEventID()
	e.At = c.now()
	c.sink.RecordDelegationEvent(e)
}

func newEventID() string { return uuid.NewString() }
