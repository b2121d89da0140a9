// Package hashing produces the domain-separated order commitments that serve
// as both the signed payload and the fill-state storage key.
package hashing

import (
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/axleworks/settler/internal/chain"
)

// Domain constants. Commitments from a different protocol name/version/chain
// never collide with ours.
const (
	DomainName    = "Axle Settler"
	DomainVersion = "1"
)

// Pre-computed type hashes over each order's canonical field tuple.
var (
	domainTypeHash = crypto.Keccak256Hash([]byte(
		"EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)",
	))

	limitOrderTypeHash = crypto.Keccak256Hash([]byte(
		"LimitOrder(address makerToken,address takerToken,uint256 makerAmount,uint256 takerAmount,address maker,uint256 expiration,uint256 salt)",
	))

	dcaOrderTypeHash = crypto.Keccak256Hash([]byte(
		"DCAOrder(uint256 cycleInterval,uint256 numberOfTrades,address inputToken,address outputToken,address maker,uint256 inAmountPerCycle,uint256 minOutPerCycle,uint256 maxOutPerCycle,uint256 expiration,uint256 salt)",
	))

	cancelOrderTypeHash = crypto.Keccak256Hash([]byte(
		"CancelOrder(bytes32 orderHash)",
	))
)

var (
	bytes32Ty = mustType("bytes32")
	addressTy = mustType("address")
	uint256Ty = mustType("uint256")
)

func mustType(name string) abi.Type {
	t, err := abi.NewType(name, "", nil)
	if err != nil {
		panic("hashing: bad abi type " + name + ": " + err.Error())
	}
	return t
}

// Hasher binds order commitments to one protocol instance (chain id plus the
// settlement instance address).
type Hasher struct {
	domainSeparator common.Hash
}

func NewHasher(chainID *big.Int, verifyingInstance common.Address) *Hasher {
	nameHash := crypto.Keccak256Hash([]byte(DomainName))
	versionHash := crypto.Keccak256Hash([]byte(DomainVersion))

	args := abi.Arguments{
		{Type: bytes32Ty}, // typeHash
		{Type: bytes32Ty}, // nameHash
		{Type: bytes32Ty}, // versionHash
		{Type: uint256Ty}, // chainId
		{Type: addressTy}, // verifyingContract
	}
	encoded, err := args.Pack(domainTypeHash, nameHash, versionHash, chainID, verifyingInstance)
	if err != nil {
		panic("hashing: domain separator encoding: " + err.Error())
	}
	return &Hasher{domainSeparator: crypto.Keccak256Hash(encoded)}
}

// DomainSeparator exposes the bound separator for compatibility checks.
func (h *Hasher) DomainSeparator() common.Hash { return h.domainSeparator }

// HashLimitOrder computes the order's commitment. Deterministic over the
// exact field tuple; any field change changes the commitment.
func (h *Hasher) HashLimitOrder(o *chain.LimitOrder) (common.Hash, error) {
	if err := o.Validate(); err != nil {
		return common.Hash{}, err
	}
	args := abi.Arguments{
		{Type: bytes32Ty}, // typeHash
		{Type: addressTy}, // makerToken
		{Type: addressTy}, // takerToken
		{Type: uint256Ty}, // makerAmount
		{Type: uint256Ty}, // takerAmount
		{Type: addressTy}, // maker
		{Type: uint256Ty}, // expiration
		{Type: uint256Ty}, // salt
	}
	encoded, err := args.Pack(
		limitOrderTypeHash,
		o.MakerToken,
		o.TakerToken,
		o.MakerAmount,
		o.TakerAmount,
		o.Maker,
		big.NewInt(o.Expiration),
		o.Salt,
	)
	if err != nil {
		return common.Hash{}, err
	}
	return h.signDigest(crypto.Keccak256Hash(encoded)), nil
}

// HashDCAOrder computes the recurring order's commitment.
func (h *Hasher) HashDCAOrder(o *chain.DCAOrder) (common.Hash, error) {
	if err := o.Validate(); err != nil {
		return common.Hash{}, err
	}
	args := abi.Arguments{
		{Type: bytes32Ty}, // typeHash
		{Type: uint256Ty}, // cycleInterval
		{Type: uint256Ty}, // numberOfTrades
		{Type: addressTy}, // inputToken
		{Type: addressTy}, // outputToken
		{Type: addressTy}, // maker
		{Type: uint256Ty}, // inAmountPerCycle
		{Type: uint256Ty}, // minOutPerCycle
		{Type: uint256Ty}, // maxOutPerCycle
		{Type: uint256Ty}, // expiration
		{Type: uint256Ty}, // salt
	}
	encoded, err := args.Pack(
		dcaOrderTypeHash,
		big.NewInt(o.CycleInterval),
		new(big.Int).SetUint64(o.NumberOfTrades),
		o.InputToken,
		o.OutputToken,
		o.Maker,
		o.InAmountPerCycle,
		o.MinOutPerCycle,
		o.MaxOutPerCycle,
		big.NewInt(o.Expiration),
		o.Salt,
	)
	if err != nil {
		return common.Hash{}, err
	}
	return h.signDigest(crypto.Keccak256Hash(encoded)), nil
}

// CancelDigest computes the signable commitment that authorizes cancelling
// the order behind orderHash. It is distinct from the order commitment, so a
// fill signature in a taker's hands never doubles as cancellation authority.
func (h *Hasher) CancelDigest(orderHash common.Hash) common.Hash {
	args := abi.Arguments{
		{Type: bytes32Ty}, // typeHash
		{Type: bytes32Ty}, // orderHash
	}
	encoded, err := args.Pack(cancelOrderTypeHash, orderHash)
	if err != nil {
		panic("hashing: cancel digest encoding: " + err.Error())
	}
	return h.signDigest(crypto.Keccak256Hash(encoded))
}

// signDigest folds a struct hash into the final signable commitment:
// keccak256("\x19\x01" || domainSeparator || structHash).
func (h *Hasher) signDigest(structHash common.Hash) common.Hash {
	data := make([]byte, 0, 2+32+32)
	data = append(data, 0x19, 0x01)
	data = append(data, h.domainSeparator.Bytes()...)
	data = append(data, structHash.Bytes()...)
	return crypto.Keccak256Hash(data)
}
