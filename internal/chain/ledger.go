package chain

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Token transfer failure reasons. These bubble out of settlement verbatim so
// a failed fill is diagnosable down to the token movement that broke it.
var (
	ErrInsufficientBalance   = errors.New("insufficient token balance")
	ErrInsufficientAllowance = errors.New("insufficient token allowance")
	ErrNegativeAmount        = errors.New("negative token amount")
)

// TokenLedger is the in-process token environment: per-token balances and
// owner→spender allowances with snapshot/revert semantics, so a settlement
// entry point can unwind every balance change when it rejects mid-flight.
//
// The ledger is not internally synchronized. Settlement entry points execute
// one at a time; the engines hold the lock.
type TokenLedger struct {
	balances   map[common.Address]map[common.Address]*big.Int
	allowances map[common.Address]map[common.Address]map[common.Address]*big.Int

	// journal holds undo closures; a snapshot is an index into it.
	journal []func()
}

func NewTokenLedger() *TokenLedger {
	return &TokenLedger{
		balances:   make(map[common.Address]map[common.Address]*big.Int),
		allowances: make(map[common.Address]map[common.Address]map[common.Address]*big.Int),
	}
}

// Snapshot returns a revision id for the current ledger state.
func (l *TokenLedger) Snapshot() int { return len(l.journal) }

// RevertToSnapshot unwinds every mutation made after the given revision.
func (l *TokenLedger) RevertToSnapshot(rev int) {
	for i := len(l.journal) - 1; i >= rev; i-- {
		l.journal[i]()
	}
	l.journal = l.journal[:rev]
}

// DiscardSnapshots drops accumulated undo entries once a transaction has
// committed. Reverting past this point is no longer possible.
func (l *TokenLedger) DiscardSnapshots() { l.journal = l.journal[:0] }

// BalanceOf returns the holder's balance of token. Absent balances are zero.
func (l *TokenLedger) BalanceOf(token, holder common.Address) *big.Int {
	if bals, ok := l.balances[token]; ok {
		if b, ok := bals[holder]; ok {
			return new(big.Int).Set(b)
		}
	}
	return new(big.Int)
}

// Allowance returns what spender may still pull from owner in token units.
func (l *TokenLedger) Allowance(token, owner, spender common.Address) *big.Int {
	if owners, ok := l.allowances[token]; ok {
		if spenders, ok := owners[owner]; ok {
			if a, ok := spenders[spender]; ok {
				return new(big.Int).Set(a)
			}
		}
	}
	return new(big.Int)
}

// Mint credits amount of token to holder. Genesis/test funding helper.
func (l *TokenLedger) Mint(token, holder common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrNegativeAmount
	}
	l.setBalance(token, holder, new(big.Int).Add(l.BalanceOf(token, holder), amount))
	return nil
}

// Approve sets spender's standing allowance over owner's token balance.
func (l *TokenLedger) Approve(token, owner, spender common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrNegativeAmount
	}
	l.setAllowance(token, owner, spender, new(big.Int).Set(amount))
	return nil
}

// Transfer moves amount of token from one holder to another.
func (l *TokenLedger) Transfer(token, from, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrNegativeAmount
	}
	fromBal := l.BalanceOf(token, from)
	if fromBal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s has %s of %s, needs %s",
			ErrInsufficientBalance, from.Hex(), fromBal, token.Hex(), amount)
	}
	l.setBalance(token, from, fromBal.Sub(fromBal, amount))
	l.setBalance(token, to, new(big.Int).Add(l.BalanceOf(token, to), amount))
	return nil
}

// TransferFrom moves amount of token from `from` to `to` on the authority of
// spender's standing allowance, decrementing it.
func (l *TokenLedger) TransferFrom(token, spender, from, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrNegativeAmount
	}
	allowance := l.Allowance(token, from, spender)
	if allowance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s allowed %s of %s from %s, needs %s",
			ErrInsufficientAllowance, spender.Hex(), allowance, token.Hex(), from.Hex(), amount)
	}
	if err := l.Transfer(token, from, to, amount); err != nil {
		return err
	}
	l.setAllowance(token, from, spender, allowance.Sub(allowance, amount))
	return nil
}

func (l *TokenLedger) setBalance(token, holder common.Address, value *big.Int) {
	bals, ok := l.balances[token]
	if !ok {
		bals = make(map[common.Address]*big.Int)
		l.balances[token] = bals
	}
	prev, had := bals[holder]
	l.journal = append(l.journal, func() {
		if had {
			bals[holder] = prev
		} else {
			delete(bals, holder)
		}
	})
	bals[holder] = value
}

func (l *TokenLedger) setAllowance(token, owner, spender common.Address, value *big.Int) {
	owners, ok := l.allowances[token]
	if !ok {
		owners = make(map[common.Address]map[common.Address]*big.Int)
		l.allowances[token] = owners
	}
	spenders, ok := owners[owner]
	if !ok {
		spenders = make(map[common.Address]*big.Int)
		owners[owner] = spenders
	}
	prev, had := spenders[spender]
	l.journal = append(l.journal, func() {
		if had {
			spenders[spender] = prev
		} else {
			delete(spenders, spender)
		}
	})
	spenders[spender] = value
}
