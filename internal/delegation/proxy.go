package delegation

import (
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	serrors "github.com/axleworks/settler/common/errors"
	"github.com/axleworks/settler/pkg/metrics"
)

// Proxy is the allow-set tier: settlement engines call it, and it forwards
// pull requests to the custody tier only for allow-listed callers. Additions
// to the allow-set run through the same timelocked rotation protocol as the
// custody proxy; removals are immediate, revocation must never be delayed.
type Proxy struct {
	mu sync.Mutex

	self    common.Address
	owner   common.Address
	custody *Custody

	allowed map[common.Address]bool
	rot     rotation

	rotationDelay time.Duration
	initialDelay  time.Duration

	now    func() time.Time
	logger *zap.Logger
	sink   EventSink
}

func NewProxy(self, owner common.Address, custody *Custody, rotationDelay, initialDelay time.Duration, logger *zap.Logger, sink EventSink) *Proxy {
	return &Proxy{
		self:          self,
		owner:         owner,
		custody:       custody,
		allowed:       make(map[common.Address]bool),
		rotationDelay: rotationDelay,
		initialDelay:  initialDelay,
		now:           time.Now,
		logger:        logger,
		sink:          sink,
	}
}

// Address returns the proxy instance's own address, the delegate the custody
// tier must be rotated to before any pull can succeed.
func (p *Proxy) Address() common.Address { return p.self }

// IsAllowed reports allow-set membership.
func (p *Proxy) IsAllowed(addr common.Address) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.allowed[addr]
}

// Pending returns the in-flight allow-set addition, if any.
func (p *Proxy) Pending() (common.Address, int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rot.pending, p.rot.unlockAt
}

// Unlock records addr as a pending allow-set addition behind the timelock.
func (p *Proxy) Unlock(caller, addr common.Address) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if caller != p.owner {
		return serrors.ErrNotOwner
	}
	if addr == (common.Address{}) {
		return serrors.ErrZeroAddress
	}
	delay := p.rotationDelay
	if !p.rot.everSet {
		delay = p.initialDelay
	}
	p.rot.pending = addr
	p.rot.unlockAt = p.now().Add(delay).Unix()
	p.logger.Info("proxy allow-set addition unlocked",
		zap.String("pending", addr.Hex()), zap.Int64("unlock_at", p.rot.unlockAt))
	metrics.DelegationRotations.WithLabelValues("proxy", "unlock").Inc()
	p.emit(Event{Tier: "proxy", Kind: "unlock", Subject: addr})
	return nil
}

// Lock clears the pending addition. Owner-only, immediate.
func (p *Proxy) Lock(caller common.Address) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if caller != p.owner {
		return serrors.ErrNotOwner
	}
	if p.rot.pending == (common.Address{}) {
		return serrors.ErrNoPendingDelegate
	}
	cleared := p.rot.pending
	p.rot.clear()
	p.logger.Info("proxy allow-set addition locked", zap.String("cleared", cleared.Hex()))
	metrics.DelegationRotations.WithLabelValues("proxy", "lock").Inc()
	p.emit(Event{Tier: "proxy", Kind: "lock", Subject: cleared})
	return nil
}

// Confirm commits the pending addition into the allow-set after the timelock.
func (p *Proxy) Confirm(caller common.Address) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if caller != p.owner {
		return serrors.ErrNotOwner
	}
	if p.rot.pending == (common.Address{}) {
		return serrors.ErrNoPendingDelegate
	}
	if p.now().Unix() < p.rot.unlockAt {
		return serrors.ErrTimelockNotElapsed
	}
	added := p.rot.pending
	p.allowed[added] = true
	p.rot.clear()
	p.rot.everSet = true
	p.logger.Info("proxy allow-set addition confirmed", zap.String("member", added.Hex()))
	metrics.DelegationRotations.WithLabelValues("proxy", "confirm").Inc()
	p.emit(Event{Tier: "proxy", Kind: "confirm", Subject: added})
	return nil
}

// Remove drops addr from the allow-set immediately, bypassing the timelock.
func (p *Proxy) Remove(caller, addr common.Address) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if caller != p.owner {
		return serrors.ErrNotOwner
	}
	delete(p.allowed, addr)
	p.logger.Info("proxy allow-set member removed", zap.String("member", addr.Hex()))
	metrics.DelegationRotations.WithLabelValues("proxy", "remove").Inc()
	p.emit(Event{Tier: "proxy", Kind: "remove", Subject: addr})
	return nil
}

// ClaimTokens forwards an allow-listed caller's pull request to the custody
// tier. The custody tier independently re-checks that this proxy is its
// current delegate.
func (p *Proxy) ClaimTokens(caller, token, from, to common.Address, amount *big.Int) error {
	p.mu.Lock()
	if !p.allowed[caller] {
		p.mu.Unlock()
		return serrors.Wrap(serrors.KindAuthorization, "proxy",
			fmt.Errorf("%w: %s is not in the allow-set", serrors.ErrNotAuthorizedCaller, caller.Hex()))
	}
	p.mu.Unlock()

	if err := p.custody.ClaimTokens(p.self, token, from, to, amount); err != nil {
		return err
	}
	metrics.TokensClaimed.WithLabelValues("proxy").Inc()
	return nil
}

func (p *Proxy) emit(e Event) {
	if p.sink == nil {
		return
	}
	e.ID = newEventID()
	e.At = p.now()
	p.sink.RecordDelegationEvent(e)
}
