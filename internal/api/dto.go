package api

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/go-playground/validator/v10"

	"github.com/axleworks/settler/internal/chain"
)

var validate = validator.New()

// LimitOrderDTO is the wire form of a limit order. Amounts travel as base-10
// strings to keep uint256 precision out of JSON number territory.
type LimitOrderDTO struct {
	MakerToken  string `json:"makerToken" binding:"required"`
	TakerToken  string `json:"takerToken" binding:"required"`
	MakerAmount string `json:"makerAmount" binding:"required"`
	TakerAmount string `json:"takerAmount" binding:"required"`
	Maker       string `json:"maker" binding:"required"`
	Expiration  int64  `json:"expiration" binding:"required"`
	Salt        string `json:"salt" binding:"required"`
}

type DCAOrderDTO struct {
	CycleInterval    int64  `json:"cycleInterval" binding:"required"`
	NumberOfTrades   uint64 `json:"numberOfTrades" binding:"required"`
	InputToken       string `json:"inputToken" binding:"required"`
	OutputToken      string `json:"outputToken" binding:"required"`
	Maker            string `json:"maker" binding:"required"`
	InAmountPerCycle string `json:"inAmountPerCycle" binding:"required"`
	MinOutPerCycle   string `json:"minOutPerCycle" binding:"required"`
	MaxOutPerCycle   string `json:"maxOutPerCycle" binding:"required"`
	Expiration       int64  `json:"expiration" binding:"required"`
	Salt             string `json:"salt" binding:"required"`
}

type LimitFillRequest struct {
	Order        LimitOrderDTO `json:"order" binding:"required"`
	Signature    string        `json:"signature" binding:"required"`
	Taker        string        `json:"taker" binding:"required"`
	FillAmount   string        `json:"fillAmount" binding:"required"`
	MinFill      string        `json:"minFillAmount"`
	CallbackData string        `json:"callbackData"`
}

type DCAFillRequest struct {
	Order        DCAOrderDTO `json:"order" binding:"required"`
	Signature    string      `json:"signature" binding:"required"`
	Taker        string      `json:"taker" binding:"required"`
	CallbackData string      `json:"callbackData" binding:"required"`
}

// Cancel requests carry a signature over the order's cancel digest, not over
// the order commitment itself.
type LimitCancelRequest struct {
	Order     LimitOrderDTO `json:"order" binding:"required"`
	Signature string        `json:"signature" binding:"required"`
	Maker     string        `json:"maker" binding:"required"`
}

type DCACancelRequest struct {
	Order     DCAOrderDTO `json:"order" binding:"required"`
	Signature string      `json:"signature" binding:"required"`
	Maker     string      `json:"maker" binding:"required"`
}

type AddressRequest struct {
	Address string `json:"address" binding:"required"`
}

type FeeRateRequest struct {
	Bps uint64 `json:"bps" binding:"required"`
}

type GasCeilingRequest struct {
	Limit uint64 `json:"limit" binding:"required"`
}

func parseAddress(s string) (common.Address, error) {
	if err := validate.Var(s, "required,eth_addr"); err != nil {
		return common.Address{}, fmt.Errorf("invalid address %q", s)
	}
	return common.HexToAddress(s), nil
}

func parseAmount(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	return v, nil
}

func parseBytes(s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	return hexutil.Decode(s)
}

func (d *LimitOrderDTO) toOrder() (*chain.LimitOrder, error) {
	makerToken, err := parseAddress(d.MakerToken)
	if err != nil {
		return nil, err
	}
	takerToken, err := parseAddress(d.TakerToken)
	if err != nil {
		return nil, err
	}
	maker, err := parseAddress(d.Maker)
	if err != nil {
		return nil, err
	}
	makerAmount, err := parseAmount(d.MakerAmount)
	if err != nil {
		return nil, err
	}
	takerAmount, err := parseAmount(d.TakerAmount)
	if err != nil {
		return nil, err
	}
	salt, err := parseAmount(d.Salt)
	if err != nil {
		return nil, err
	}
	return &chain.LimitOrder{
		MakerToken:  makerToken,
		TakerToken:  takerToken,
		MakerAmount: makerAmount,
		TakerAmount: takerAmount,
		Maker:       maker,
		Expiration:  d.Expiration,
		Salt:        salt,
	}, nil
}

func (d *DCAOrderDTO) toOrder() (*chain.DCAOrder, error) {
	inputToken, err := parseAddress(d.InputToken)
	if err != nil {
		return nil, err
	}
	outputToken, err := parseAddress(d.OutputToken)
	if err != nil {
		return nil, err
	}
	maker, err := parseAddress(d.Maker)
	if err != nil {
		return nil, err
	}
	inAmount, err := parseAmount(d.InAmountPerCycle)
	if err != nil {
		return nil, err
	}
	minOut, err := parseAmount(d.MinOutPerCycle)
	if err != nil {
		return nil, err
	}
	maxOut, err := parseAmount(d.MaxOutPerCycle)
	if err != nil {
		return nil, err
	}
	salt, err := parseAmount(d.Salt)
	if err != nil {
		return nil, err
	}
	return &chain.DCAOrder{
		CycleInterval:    d.CycleInterval,
		NumberOfTrades:   d.NumberOfTrades,
		InputToken:       inputToken,
		OutputToken:      outputToken,
		Maker:            maker,
		InAmountPerCycle: inAmount,
		MinOutPerCycle:   minOut,
		MaxOutPerCycle:   maxOut,
		Expiration:       d.Expiration,
		Salt:             salt,
	}, nil
}
