// Package signing validates order signatures for both key-holder accounts and
// programmable (contract wallet) accounts.
package signing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	serrors "github.com/axleworks/settler/common/errors"
	"github.com/axleworks/settler/internal/chain"
)

// DefaultValidationGasLimit bounds the resource budget of a contract-wallet
// validation call. One gas unit buys one microsecond of wall clock here.
const DefaultValidationGasLimit uint64 = 500_000

// Verifier dispatches signature checks by signer kind: direct ECDSA recovery
// for key-holder accounts, a budgeted validation call for addresses that host
// executable logic.
type Verifier struct {
	registry *chain.AccountRegistry
	logger   *zap.Logger

	mu       sync.RWMutex
	owner    common.Address
	gasLimit uint64
}

func NewVerifier(registry *chain.AccountRegistry, owner common.Address, logger *zap.Logger) *Verifier {
	return &Verifier{
		registry: registry,
		logger:   logger,
		owner:    owner,
		gasLimit: DefaultValidationGasLimit,
	}
}

// SetValidationGasLimit updates the contract-wallet validation budget.
// Owner-only; the ceiling must be positive.
func (v *Verifier) SetValidationGasLimit(caller common.Address, limit uint64) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if caller != v.owner {
		return serrors.ErrNotOwner
	}
	if limit == 0 {
		return serrors.ErrZeroGasCeiling
	}
	v.gasLimit = limit
	return nil
}

// ValidationGasLimit returns the current budget.
func (v *Verifier) ValidationGasLimit() uint64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.gasLimit
}

// Verify checks that signature authenticates digest for signer. Key-holder
// accounts fail with ErrInvalidSignature on mismatch; programmable accounts
// fail with ErrSignatureValidationFailed wrapping the underlying cause.
func (v *Verifier) Verify(ctx context.Context, signer common.Address, digest common.Hash, signature []byte) error {
	if signer == (common.Address{}) {
		return serrors.ErrZeroAddress
	}
	if v.registry.HasCode(signer) {
		return v.verifyContract(ctx, signer, digest, signature)
	}
	return v.verifyKeyHolder(signer, digest, signature)
}

func (v *Verifier) verifyKeyHolder(signer common.Address, digest common.Hash, signature []byte) error {
	if len(signature) != crypto.SignatureLength {
		return serrors.Wrap(serrors.KindValidation, "signing",
			fmt.Errorf("%w: expected %d signature bytes, got %d", serrors.ErrInvalidSignature, crypto.SignatureLength, len(signature)))
	}
	sig := make([]byte, crypto.SignatureLength)
	copy(sig, signature)
	// Accept both the raw 0/1 recovery id and the 27/28 convention.
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	pub, err := crypto.SigToPub(digest.Bytes(), sig)
	if err != nil {
		return serrors.Wrap(serrors.KindValidation, "signing", fmt.Errorf("%w: %v", serrors.ErrInvalidSignature, err))
	}
	if crypto.PubkeyToAddress(*pub) != signer {
		return serrors.ErrInvalidSignature
	}
	return nil
}

func (v *Verifier) verifyContract(ctx context.Context, signer common.Address, digest common.Hash, signature []byte) error {
	validator, ok := v.registry.Validator(signer)
	if !ok {
		return serrors.Wrap(serrors.KindExternalCall, "signing",
			fmt.Errorf("%w: account %s exposes no validation entry point", serrors.ErrSignatureValidationFailed, signer.Hex()))
	}

	budget := time.Duration(v.ValidationGasLimit()) * time.Microsecond
	callCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	magic, err := callValidator(callCtx, validator, digest, signature)
	if err != nil {
		v.logger.Debug("contract signature validation call failed",
			zap.String("signer", signer.Hex()), zap.Error(err))
		return serrors.Wrap(serrors.KindExternalCall, "signing",
			fmt.Errorf("%w: %w", serrors.ErrSignatureValidationFailed, err))
	}
	if magic != chain.ERC1271Magic {
		return serrors.Wrap(serrors.KindExternalCall, "signing",
			fmt.Errorf("%w: account %s returned %x", serrors.ErrSignatureValidationFailed, signer.Hex(), magic))
	}
	return nil
}

// callValidator shields the verifier from a panicking wallet program; a panic
// is reported as a failed call, not propagated.
func callValidator(ctx context.Context, validator chain.SignatureValidator, digest common.Hash, signature []byte) (magic [4]byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("validation call panicked: %v", r)
		}
	}()
	if err := ctx.Err(); err != nil {
		return magic, err
	}
	return validator.IsValidSignature(ctx, digest, signature)
}
