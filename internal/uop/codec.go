package uop

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Wire is the JSON wire shape accepted from clients. It is a superset of
// both v0.6 and v0.7 fields; Decode determines the version from which
// fields are present and enforces §3's "both or neither" invariants.
type Wire struct {
	Sender   string `json:"sender"`
	Nonce    string `json:"nonce"`
	CallData string `json:"callData"`

	CallGasLimit         string `json:"callGasLimit"`
	VerificationGasLimit string `json:"verificationGasLimit"`
	PreVerificationGas   string `json:"preVerificationGas"`
	MaxFeePerGas         string `json:"maxFeePerGas"`
	MaxPriorityFeePerGas string `json:"maxPriorityFeePerGas"`

	Signature string `json:"signature"`

	// v0.6
	InitCode         string `json:"initCode"`
	PaymasterAndData string `json:"paymasterAndData"`

	// v0.7
	Factory                       string `json:"factory"`
	FactoryData                   string `json:"factoryData"`
	Paymaster                     string `json:"paymaster"`
	PaymasterVerificationGasLimit string `json:"paymasterVerificationGasLimit"`
	PaymasterPostOpGasLimit       string `json:"paymasterPostOpGasLimit"`
	PaymasterData                 string `json:"paymasterData"`
}

// ParseNumber accepts either a decimal string or a 0x-prefixed hex string
// and normalizes it to a single canonical *big.Int. Per spec §4.1, an
// input that cannot be normalized fails rather than being silently
// coerced to zero.
func ParseNumber(s string) (*big.Int, error) {
	if s == "" || s == "0x" {
		return big.NewInt(0), nil
	}
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		n, ok := new(big.Int).SetString(s[2:], 16)
		if !ok {
			return nil, fmt.Errorf("invalid hex number: %s", s)
		}
		return n, nil
	}
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid decimal number: %s", s)
	}
	return n, nil
}

// ParseBytes accepts a 0x-prefixed hex byte string (or the empty string,
// meaning zero-length bytes).
func ParseBytes(s string) ([]byte, error) {
	if s == "" || s == "0x" {
		return nil, nil
	}
	if !strings.HasPrefix(s, "0x") {
		return nil, fmt.Errorf("byte field missing 0x prefix: %s", s)
	}
	return common.FromHex(s), nil
}

// ParseAddress accepts a 0x-prefixed 20-byte address, or the empty string
// meaning "absent".
func ParseAddress(s string) (addr common.Address, present bool, err error) {
	if s == "" || s == "0x" {
		return common.Address{}, false, nil
	}
	if !common.IsHexAddress(s) {
		return common.Address{}, false, fmt.Errorf("invalid address: %s", s)
	}
	return common.HexToAddress(s), true, nil
}

// Decode parses a Wire payload into a UserOperation, inferring the version
// from which field set is populated and rejecting a mixed shape.
func Decode(w *Wire) (*UserOperation, error) {
	isV07 := w.Factory != "" || w.FactoryData != "" || w.Paymaster != "" ||
		w.PaymasterVerificationGasLimit != "" || w.PaymasterPostOpGasLimit != "" || w.PaymasterData != ""
	isV06 := w.InitCode != "" || w.PaymasterAndData != ""
	if isV07 && isV06 {
		return nil, fmt.Errorf("mixed v0.6/v0.7 fields in one UserOperation")
	}

	u := &UserOperation{}
	if isV07 {
		u.Version = V07
	} else {
		u.Version = V06
	}

	var err error
	if u.Sender, _, err = ParseAddress(w.Sender); err != nil {
		return nil, err
	}
	if u.Nonce, err = ParseNumber(w.Nonce); err != nil {
		return nil, err
	}
	if u.CallData, err = ParseBytes(w.CallData); err != nil {
		return nil, err
	}
	if u.CallGasLimit, err = ParseNumber(w.CallGasLimit); err != nil {
		return nil, err
	}
	if u.VerificationGasLimit, err = ParseNumber(w.VerificationGasLimit); err != nil {
		return nil, err
	}
	if u.PreVerificationGas, err = ParseNumber(w.PreVerificationGas); err != nil {
		return nil, err
	}
	if u.MaxFeePerGas, err = ParseNumber(w.MaxFeePerGas); err != nil {
		return nil, err
	}
	if u.MaxPriorityFeePerGas, err = ParseNumber(w.MaxPriorityFeePerGas); err != nil {
		return nil, err
	}
	if u.Signature, err = ParseBytes(w.Signature); err != nil {
		return nil, err
	}

	if u.Version == V06 {
		if u.InitCode, err = ParseBytes(w.InitCode); err != nil {
			return nil, err
		}
		if u.PaymasterAndData, err = ParseBytes(w.PaymasterAndData); err != nil {
			return nil, err
		}
		return u, nil
	}

	hasFactory := w.Factory != ""
	hasFactoryData := w.FactoryData != ""
	if hasFactory != hasFactoryData {
		return nil, fmt.Errorf("factory and factoryData must be both present or both absent")
	}
	if hasFactory {
		if u.Factory, u.HasFactory, err = ParseAddress(w.Factory); err != nil {
			return nil, err
		}
		if u.FactoryData, err = ParseBytes(w.FactoryData); err != nil {
			return nil, err
		}
	}

	paymasterFieldsPresent := []bool{
		w.Paymaster != "", w.PaymasterVerificationGasLimit != "",
		w.PaymasterPostOpGasLimit != "", w.PaymasterData != "",
	}
	anyPaymaster, allPaymaster := false, true
	for _, p := range paymasterFieldsPresent {
		if p {
			anyPaymaster = true
		} else {
			allPaymaster = false
		}
	}
	if anyPaymaster && !allPaymaster {
		return nil, fmt.Errorf("paymaster fields must be all present or all absent")
	}
	if anyPaymaster {
		if u.Paymaster, u.HasPaymaster, err = ParseAddress(w.Paymaster); err != nil {
			return nil, err
		}
		if u.PaymasterVerificationGasLimit, err = ParseNumber(w.PaymasterVerificationGasLimit); err != nil {
			return nil, err
		}
		if u.PaymasterPostOpGasLimit, err = ParseNumber(w.PaymasterPostOpGasLimit); err != nil {
			return nil, err
		}
		if u.PaymasterData, err = ParseBytes(w.PaymasterData); err != nil {
			return nil, err
		}
	}
	return u, nil
}

// DecodeJSON unmarshals raw JSON into a Wire and decodes it.
func DecodeJSON(raw []byte) (*UserOperation, error) {
	var w Wire
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("invalid UserOperation JSON: %w", err)
	}
	return Decode(&w)
}

func hexOrEmpty(b []byte) string {
	if len(b) == 0 {
		return "0x"
	}
	return "0x" + common.Bytes2Hex(b)
}

func numHex(n *big.Int) string {
	if n == nil {
		return "0x0"
	}
	return "0x" + n.Text(16)
}

// Encode serializes a UserOperation back to its wire shape.
func Encode(u *UserOperation) *Wire {
	w := &Wire{
		Sender:               u.Sender.Hex(),
		Nonce:                numHex(u.Nonce),
		CallData:             hexOrEmpty(u.CallData),
		CallGasLimit:         numHex(u.CallGasLimit),
		VerificationGasLimit: numHex(u.VerificationGasLimit),
		PreVerificationGas:   numHex(u.PreVerificationGas),
		MaxFeePerGas:         numHex(u.MaxFeePerGas),
		MaxPriorityFeePerGas: numHex(u.MaxPriorityFeePerGas),
		Signature:            hexOrEmpty(u.Signature),
	}
	if u.Version == V06 {
		w.InitCode = hexOrEmpty(u.InitCode)
		w.PaymasterAndData = hexOrEmpty(u.PaymasterAndData)
		return w
	}
	if u.HasFactory {
		w.Factory = u.Factory.Hex()
		w.FactoryData = hexOrEmpty(u.FactoryData)
	}
	if u.HasPaymaster {
		w.Paymaster = u.Paymaster.Hex()
		w.PaymasterVerificationGasLimit = numHex(u.PaymasterVerificationGasLimit)
		w.PaymasterPostOpGasLimit = numHex(u.PaymasterPostOpGasLimit)
		w.PaymasterData = hexOrEmpty(u.PaymasterData)
	}
	return w
}

// EncodeJSON serializes a UserOperation to its wire JSON form.
func EncodeJSON(u *UserOperation) ([]byte, error) {
	return json.Marshal(Encode(u))
}
