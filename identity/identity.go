// Package identity proves control of a payer wallet through EIP-191
// personal-sign messages. Resource servers use it to tie a payment to an
// authenticated wallet without an on-chain lookup.
package identity

import (
	"bytes"
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"strings"
	"text/template"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// DefaultTemplate is the challenge text a payer signs. It binds the wallet
// to a resource and a single-use nonce.
const DefaultTemplate = "x402 payment identity\nwallet: {{.Wallet}}\nresource: {{.Resource}}\nnonce: {{.Nonce}}"

// Challenge carries the fields rendered into an identity message.
type Challenge struct {
	Wallet   string
	Resource string
	Nonce    string
}

// BuildMessage renders tmpl with data. An empty tmpl selects
// DefaultTemplate.
func BuildMessage(tmpl string, data Challenge) (string, error) {
	if tmpl == "" {
		tmpl = DefaultTemplate
	}
	t, err := template.New("identity").Parse(tmpl)
	if err != nil {
		return "", fmt.Errorf("parsing identity template: %w", err)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("rendering identity message: %w", err)
	}
	return buf.String(), nil
}

// KeyFromHex parses a hex-encoded secp256k1 private key, with or without a
// 0x prefix.
func KeyFromHex(hexKey string) (*ecdsa.PrivateKey, error) {
	return crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
}

// AddressOf derives the checksummed wallet address controlled by key.
func AddressOf(key *ecdsa.PrivateKey) string {
	return crypto.PubkeyToAddress(key.PublicKey).Hex()
}

// Sign produces a personal-sign signature over message.
func Sign(message string, key *ecdsa.PrivateKey) (string, error) {
	hash := accounts.TextHash([]byte(message))
	sig, err := crypto.Sign(hash, key)
	if err != nil {
		return "", fmt.Errorf("signing identity message: %w", err)
	}
	return hexutil.Encode(sig), nil
}

// RecoverSigner returns the wallet that signed message.
func RecoverSigner(message, signature string) (string, error) {
	sigBytes, err := hex.DecodeString(strings.TrimPrefix(signature, "0x"))
	if err != nil {
		return "", fmt.Errorf("decoding signature: %w", err)
	}
	if len(sigBytes) != 65 {
		return "", fmt.Errorf("signature must be 65 bytes, got %d", len(sigBytes))
	}

	// Wallets emit v as 27/28, crypto.SigToPub wants 0/1.
	if sigBytes[64] >= 27 {
		sigBytes[64] -= 27
	}

	hash := accounts.TextHash([]byte(message))
	pubKey, err := crypto.SigToPub(hash, sigBytes)
	if err != nil {
		return "", fmt.Errorf("recovering signer: %w", err)
	}
	return crypto.PubkeyToAddress(*pubKey).Hex(), nil
}

// Verify reports whether signature over message was produced by wallet.
func Verify(message, signature, wallet string) (bool, error) {
	recovered, err := RecoverSigner(message, signature)
	if err != nil {
		return false, err
	}
	return common.HexToAddress(recovered) == common.HexToAddress(wallet), nil
}
