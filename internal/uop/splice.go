package uop

import (
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// ValidityWindow is the EntryPoint-encoded (validAfter, validUntil) pair
// every spliced paymasterData carries ahead of the signature.
//
// Open question (SPEC_FULL.md §9): the exact on-chain encoding is
// EntryPoint-version-specific and must be cross-checked against real
// EntryPoint test vectors before go-live; this is a working default.
type ValidityWindow struct {
	ValidAfter  uint64
	ValidUntil  uint64
}

func (w ValidityWindow) encode() []byte {
	uint48Type, _ := abi.NewType("uint48", "", nil)
	args := abi.Arguments{{Type: uint48Type}, {Type: uint48Type}}
	packed, err := args.Pack(big.NewInt(int64(w.ValidAfter)), big.NewInt(int64(w.ValidUntil)))
	if err != nil {
		panic(err)
	}
	return packed
}

// Splice inserts the paymaster's signature and address into a UO in
// place, per spec §4.6 step 6. It mutates and returns u.
func Splice(u *UserOperation, paymasterAddr common.Address, window ValidityWindow, sig []byte) *UserOperation {
	windowBytes := window.encode()
	if u.Version == V06 {
		data := make([]byte, 0, 20+len(windowBytes)+len(sig))
		data = append(data, paymasterAddr.Bytes()...)
		data = append(data, windowBytes...)
		data = append(data, sig...)
		u.PaymasterAndData = data
		return u
	}

	u.Paymaster = paymasterAddr
	u.HasPaymaster = true
	if u.PaymasterVerificationGasLimit == nil {
		u.PaymasterVerificationGasLimit = big.NewInt(50_000)
	}
	if u.PaymasterPostOpGasLimit == nil {
		u.PaymasterPostOpGasLimit = big.NewInt(50_000)
	}
	data := make([]byte, 0, len(windowBytes)+len(sig))
	data = append(data, windowBytes...)
	data = append(data, sig...)
	u.PaymasterData = data
	return u
}
