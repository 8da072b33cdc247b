package uop

import "math/big"

// PackAccountGasLimits packs verification and call gas limits into a
// bytes32: first 16 bytes verification, last 16 bytes call.
func PackAccountGasLimits(verificationGasLimit, callGasLimit *big.Int) [32]byte {
	var result [32]byte
	copy(result[16-len(verificationGasLimit.Bytes()):16], verificationGasLimit.Bytes())
	copy(result[32-len(callGasLimit.Bytes()):32], callGasLimit.Bytes())
	return result
}

// UnpackAccountGasLimits reverses PackAccountGasLimits.
func UnpackAccountGasLimits(packed [32]byte) (verificationGasLimit, callGasLimit *big.Int) {
	verificationGasLimit = new(big.Int).SetBytes(packed[:16])
	callGasLimit = new(big.Int).SetBytes(packed[16:])
	return
}

// PackGasFees packs the priority fee and max fee into a bytes32: first 16
// bytes priority fee, last 16 bytes max fee.
func PackGasFees(maxPriorityFeePerGas, maxFeePerGas *big.Int) [32]byte {
	var result [32]byte
	copy(result[16-len(maxPriorityFeePerGas.Bytes()):16], maxPriorityFeePerGas.Bytes())
	copy(result[32-len(maxFeePerGas.Bytes()):32], maxFeePerGas.Bytes())
	return result
}

// UnpackGasFees reverses PackGasFees.
func UnpackGasFees(packed [32]byte) (maxPriorityFeePerGas, maxFeePerGas *big.Int) {
	maxPriorityFeePerGas = new(big.Int).SetBytes(packed[:16])
	maxFeePerGas = new(big.Int).SetBytes(packed[16:])
	return
}

// fillBytes16 renders n as a big-endian 16-byte slice, matching the
// half-word packing EntryPoint uses for paymaster gas limits.
func fillBytes16(n *big.Int) []byte {
	b := make([]byte, 16)
	n.FillBytes(b)
	return b
}
