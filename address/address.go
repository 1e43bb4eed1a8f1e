// Package address validates wallet addresses and transaction identifiers
// for the network families a facilitator commonly serves. Networks outside
// the known families are left unchecked so new chains keep working without
// a client upgrade.
package address

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	evmAddressPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)
	evmTxPattern      = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)
	base58Pattern     = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]+$`)
)

// IsEVM reports whether s is a 20-byte hex address.
func IsEVM(s string) bool {
	return evmAddressPattern.MatchString(s)
}

// IsEVMTransaction reports whether s is a 32-byte hex transaction hash.
func IsEVMTransaction(s string) bool {
	return evmTxPattern.MatchString(s)
}

// IsSolana reports whether s is a base58 Solana address.
func IsSolana(s string) bool {
	return len(s) >= 32 && len(s) <= 44 && base58Pattern.MatchString(s)
}

// IsSolanaSignature reports whether s is a base58 Solana transaction
// signature.
func IsSolanaSignature(s string) bool {
	return len(s) >= 80 && len(s) <= 90 && base58Pattern.MatchString(s)
}

// EVMNetwork reports whether network names an EVM chain, by CAIP-2 id or by
// common name.
func EVMNetwork(network string) bool {
	if strings.HasPrefix(network, "eip155:") {
		return true
	}
	for _, name := range []string{"ethereum", "polygon", "base", "avalanche"} {
		if strings.Contains(network, name) {
			return true
		}
	}
	return false
}

// SolanaNetwork reports whether network names a Solana cluster.
func SolanaNetwork(network string) bool {
	return strings.HasPrefix(network, "solana:") || strings.Contains(network, "solana")
}

// ValidForNetwork checks that addr has the shape network expects.
func ValidForNetwork(addr, network string) error {
	if addr == "" {
		return fmt.Errorf("address cannot be empty")
	}
	switch {
	case EVMNetwork(network):
		if !IsEVM(addr) {
			return fmt.Errorf("%q is not a valid EVM address", addr)
		}
	case SolanaNetwork(network):
		if !IsSolana(addr) {
			return fmt.Errorf("%q is not a valid Solana address", addr)
		}
	}
	return nil
}

// ValidTransactionForNetwork checks that hash has the shape network expects
// for a transaction identifier.
func ValidTransactionForNetwork(hash, network string) error {
	if hash == "" {
		return fmt.Errorf("transaction hash cannot be empty")
	}
	switch {
	case EVMNetwork(network):
		if !IsEVMTransaction(hash) {
			return fmt.Errorf("%q is not a valid EVM transaction hash", hash)
		}
	case SolanaNetwork(network):
		if !IsSolanaSignature(hash) {
			return fmt.Errorf("%q is not a valid Solana transaction signature", hash)
		}
	}
	return nil
}
