// Package validator implements structural, numeric, and safety checks on
// incoming UserOperations, per spec §4.2.
package validator

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/t402-io/paymaster-relay/internal/relayerr"
	"github.com/t402-io/paymaster-relay/internal/uop"
)

// Limits bounds the numeric/size checks. The Validator uses every field as
// given: a nil or zero field is not replaced by a default, so callers start
// from DefaultLimits.
type Limits struct {
	MaxGasLimit   *big.Int
	MinFeeWei     *big.Int
	MaxFeeWei     *big.Int
	MaxCallData   int
	MaxSignature  int
	BurnAddresses map[common.Address]bool
}

// DefaultLimits returns the spec-mandated defaults (§3, §4.2).
func DefaultLimits() Limits {
	gwei := big.NewInt(1_000_000_000)
	return Limits{
		MaxGasLimit:  big.NewInt(uop.DefaultMaxGasLimit),
		MinFeeWei:    new(big.Int).Mul(big.NewInt(1), gwei),
		MaxFeeWei:    new(big.Int).Mul(big.NewInt(10_000), gwei),
		MaxCallData:  65536,
		MaxSignature: 1024,
		BurnAddresses: map[common.Address]bool{
			common.HexToAddress("0x0000000000000000000000000000000000000000"): true,
			common.HexToAddress("0x000000000000000000000000000000000000dEaD"): true,
		},
	}
}

// Validator performs the ordered checks of spec §4.2.
type Validator struct {
	limits   Limits
	registry *uop.Registry
}

func New(limits Limits, registry *uop.Registry) *Validator {
	return &Validator{limits: limits, registry: registry}
}

// Validate runs every check in order, returning the first violation.
func (v *Validator) Validate(u *uop.UserOperation, entryPoint common.Address) error {
	if err := v.checkAddresses(u); err != nil {
		return err
	}
	version, ok := v.registry.Resolve(entryPoint)
	if !ok {
		return relayerr.NewInvalidInput("unknown entry point", map[string]interface{}{"entryPoint": entryPoint.Hex()})
	}
	if version != u.Version {
		return relayerr.NewInvalidInput("UserOperation fields do not match entry point version", nil)
	}
	if err := v.checkNumericBounds(u); err != nil {
		return err
	}
	if err := v.checkSizeBounds(u); err != nil {
		return err
	}
	return v.checkSuspiciousPatterns(u)
}

func (v *Validator) checkAddresses(u *uop.UserOperation) error {
	if (u.Sender == common.Address{}) {
		return relayerr.NewInvalidInput("sender address is zero", nil)
	}
	return nil
}

func (v *Validator) checkNumericBounds(u *uop.UserOperation) error {
	gasFields := map[string]*big.Int{
		"callGasLimit":         u.CallGasLimit,
		"verificationGasLimit": u.VerificationGasLimit,
		"preVerificationGas":   u.PreVerificationGas,
	}
	if u.Version == uop.V07 {
		gasFields["paymasterVerificationGasLimit"] = u.PaymasterVerificationGasLimit
		gasFields["paymasterPostOpGasLimit"] = u.PaymasterPostOpGasLimit
	}
	for name, val := range gasFields {
		if val == nil {
			continue
		}
		if val.Sign() < 0 || val.Cmp(v.limits.MaxGasLimit) > 0 {
			return relayerr.NewInvalidInput("gas field out of bounds", map[string]interface{}{"field": name})
		}
	}

	for name, val := range map[string]*big.Int{
		"maxFeePerGas":         u.MaxFeePerGas,
		"maxPriorityFeePerGas": u.MaxPriorityFeePerGas,
	} {
		if val == nil || val.Cmp(v.limits.MinFeeWei) < 0 || val.Cmp(v.limits.MaxFeeWei) > 0 {
			return relayerr.NewInvalidInput("fee field out of bounds", map[string]interface{}{"field": name})
		}
	}

	if u.MaxFeePerGas.Cmp(u.MaxPriorityFeePerGas) < 0 {
		return relayerr.NewInvalidInput("maxFeePerGas must be >= maxPriorityFeePerGas", nil)
	}
	return nil
}

func (v *Validator) checkSizeBounds(u *uop.UserOperation) error {
	if len(u.CallData) > v.limits.MaxCallData {
		return relayerr.NewInvalidInput("callData exceeds maximum size", nil)
	}
	if len(u.Signature) > v.limits.MaxSignature {
		return relayerr.NewInvalidInput("signature exceeds maximum size", nil)
	}
	var paymasterData []byte
	if u.Version == uop.V06 {
		paymasterData = u.PaymasterAndData
	} else {
		paymasterData = u.PaymasterData
	}
	if len(paymasterData) > v.limits.MaxSignature+256 {
		return relayerr.NewInvalidInput("paymaster data exceeds maximum size", nil)
	}
	return nil
}

func (v *Validator) checkSuspiciousPatterns(u *uop.UserOperation) error {
	if v.limits.BurnAddresses[u.Sender] {
		return relayerr.NewInvalidInput("sender is a known burn address", nil)
	}
	return nil
}
