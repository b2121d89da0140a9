package signing

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	serrors "github.com/axleworks/settler/common/errors"
	"github.com/axleworks/settler/internal/chain"
)

var testOwner = chain.NamedAddress("test/owner")

func newTestVerifier(t *testing.T) (*Verifier, *chain.AccountRegistry) {
	t.Helper()
	registry := chain.NewAccountRegistry()
	return NewVerifier(registry, testOwner, zap.NewNop()), registry
}

// contractWallet is a programmable account for tests.
type contractWallet struct {
	magic     [4]byte
	err       error
	panicking bool
}

func (w *contractWallet) IsValidSignature(_ context.Context, _ common.Hash, _ []byte) ([4]byte, error) {
	if w.panicking {
		panic("wallet exploded")
	}
	return w.magic, w.err
}

func TestVerifyKeyHolder(t *testing.T) {
	v, _ := newTestVerifier(t)
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	signer := crypto.PubkeyToAddress(key.PublicKey)

	digest := crypto.Keccak256Hash([]byte("order commitment"))
	sig, err := crypto.Sign(digest.Bytes(), key)
	require.NoError(t, err)

	assert.NoError(t, v.Verify(context.Background(), signer, digest, sig))

	// Legacy 27/28 recovery ids are accepted too.
	legacy := make([]byte, len(sig))
	copy(legacy, sig)
	legacy[64] += 27
	assert.NoError(t, v.Verify(context.Background(), signer, digest, legacy))
}

func TestVerifyKeyHolderMismatch(t *testing.T) {
	v, _ := newTestVerifier(t)
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	other, err := crypto.GenerateKey()
	require.NoError(t, err)

	digest := crypto.Keccak256Hash([]byte("order commitment"))
	sig, err := crypto.Sign(digest.Bytes(), other)
	require.NoError(t, err)

	err = v.Verify(context.Background(), crypto.PubkeyToAddress(key.PublicKey), digest, sig)
	require.Error(t, err)
	assert.ErrorIs(t, err, serrors.ErrInvalidSignature)
}

func TestVerifyKeyHolderBadLength(t *testing.T) {
	v, _ := newTestVerifier(t)
	digest := crypto.Keccak256Hash([]byte("x"))
	err := v.Verify(context.Background(), chain.NamedAddress("test/eoa"), digest, []byte{1, 2, 3})
	require.Error(t, err)
	assert.ErrorIs(t, err, serrors.ErrInvalidSignature)
}

func TestVerifyContractWallet(t *testing.T) {
	v, registry := newTestVerifier(t)
	wallet := chain.NamedAddress("test/wallet")
	digest := crypto.Keccak256Hash([]byte("order commitment"))

	t.Run("accepts magic", func(t *testing.T) {
		registry.Register(wallet, &contractWallet{magic: chain.ERC1271Magic})
		assert.NoError(t, v.Verify(context.Background(), wallet, digest, []byte("sig")))
	})

	t.Run("rejects wrong magic", func(t *testing.T) {
		registry.Register(wallet, &contractWallet{magic: [4]byte{0xde, 0xad, 0xbe, 0xef}})
		err := v.Verify(context.Background(), wallet, digest, []byte("sig"))
		require.Error(t, err)
		assert.ErrorIs(t, err, serrors.ErrSignatureValidationFailed)
	})

	t.Run("preserves call failure reason", func(t *testing.T) {
		cause := errors.New("nonce gap in session key")
		registry.Register(wallet, &contractWallet{err: cause})
		err := v.Verify(context.Background(), wallet, digest, []byte("sig"))
		require.Error(t, err)
		assert.ErrorIs(t, err, serrors.ErrSignatureValidationFailed)
		assert.Contains(t, err.Error(), "nonce gap in session key")
	})

	t.Run("contains panics", func(t *testing.T) {
		registry.Register(wallet, &contractWallet{panicking: true})
		err := v.Verify(context.Background(), wallet, digest, []byte("sig"))
		require.Error(t, err)
		assert.ErrorIs(t, err, serrors.ErrSignatureValidationFailed)
	})

	t.Run("no validation entry point", func(t *testing.T) {
		registry.Register(wallet, struct{}{})
		err := v.Verify(context.Background(), wallet, digest, []byte("sig"))
		require.Error(t, err)
		assert.ErrorIs(t, err, serrors.ErrSignatureValidationFailed)
	})
}

func TestValidationGasLimitAdmin(t *testing.T) {
	v, _ := newTestVerifier(t)

	require.Error(t, v.SetValidationGasLimit(chain.NamedAddress("test/stranger"), 100))

	err := v.SetValidationGasLimit(testOwner, 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, serrors.ErrZeroGasCeiling)

	require.NoError(t, v.SetValidationGasLimit(testOwner, 250_000))
	assert.Equal(t, uint64(250_000), v.ValidationGasLimit())
}
