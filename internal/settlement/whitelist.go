package settlement

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"

	serrors "github.com/axleworks/settler/common/errors"
)

// Whitelist is the owner-mutated set of addresses permitted to act as taker
// for one order type. Checked on every fill.
type Whitelist struct {
	mu      sync.RWMutex
	owner   common.Address
	members map[common.Address]bool
}

func NewWhitelist(owner common.Address) *Whitelist {
	return &Whitelist{owner: owner, members: make(map[common.Address]bool)}
}

func (w *Whitelist) Add(caller, addr common.Address) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if caller != w.owner {
		return serrors.ErrNotOwner
	}
	if addr == (common.Address{}) {
		return serrors.ErrZeroAddress
	}
	w.members[addr] = true
	return nil
}

func (w *Whitelist) Remove(caller, addr common.Address) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if caller != w.owner {
		return serrors.ErrNotOwner
	}
	delete(w.members, addr)
	return nil
}

func (w *Whitelist) Allowed(addr common.Address) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.members[addr]
}

// Members returns a copy of the current membership, for the admin surface.
func (w *Whitelist) Members() []common.Address {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]common.Address, 0, len(w.members))
	for addr := range w.members {
		out = append(out, addr)
	}
	return out
}
