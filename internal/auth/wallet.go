package auth

import (
	"encoding/hex"
	"strings"

	"golang.org/x/crypto/sha3"

	"github.com/dropforge/socialverify/internal/apperror"
)

// NormalizeAddress validates a hex wallet address and returns it in EIP-55
// checksum form. Every store key and event derives from this, so
// "0xABC…", "0xabc…" and the mixed-case original all land on the same row.
func NormalizeAddress(addr string) (string, error) {
	addr = strings.TrimSpace(addr)
	if !strings.HasPrefix(addr, "0x") && !strings.HasPrefix(addr, "0X") {
		return "", apperror.ValidationFailed("user_address", "user_address must start with 0x")
	}

	body := strings.ToLower(addr[2:])
	if len(body) != 40 {
		return "", apperror.ValidationFailed("user_address", "user_address must be 20 bytes of hex")
	}
	if _, err := hex.DecodeString(body); err != nil {
		return "", apperror.ValidationFailed("user_address", "user_address is not valid hex")
	}

	// EIP-55: a hex letter is uppercased when the corresponding nibble of
	// keccak256(lowercase address body) is >= 8.
	hash := sha3.NewLegacyKeccak256()
	hash.Write([]byte(body))
	sum := hash.Sum(nil)

	out := make([]byte, 40)
	for i := 0; i < 40; i++ {
		c := body[i]
		if c >= 'a' && c <= 'f' {
			nibble := sum[i/2]
			if i%2 == 0 {
				nibble >>= 4
			}
			if nibble&0x0f >= 8 {
				c = c - 'a' + 'A'
			}
		}
		out[i] = c
	}

	return "0x" + string(out), nil
}
