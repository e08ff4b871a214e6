package enrollment

import (
	"crypto/rand"
	"fmt"
	"io"
	"math/big"
	"strings"
)

const (
	DefaultCertificatePrefix = "ABCDEF"
	certificateDigits        = 6
)

// CodeSource produces candidate certificate numbers.
type CodeSource interface {
	Next() (string, error)
}

// RandomCodes generates <prefix><6 random digits>.
type RandomCodes struct {
	Prefix string
	// Rand defaults to crypto/rand.
	Rand io.Reader
}

func NewRandomCodes(prefix string) *RandomCodes {
	if prefix == "" {
		prefix = DefaultCertificatePrefix
	}
	return &RandomCodes{Prefix: prefix, Rand: rand.Reader}
}

var ten = big.NewInt(10)

func (c *RandomCodes) Next() (string, error) {
	r := c.Rand
	if r == nil {
		r = rand.Reader
	}

	var b strings.Builder
	b.Grow(len(c.Prefix) + certificateDigits)
	b.WriteString(c.Prefix)
	for i := 0; i < certificateDigits; i++ {
		n, err := rand.Int(r, ten)
		if err != nil {
			return "", fmt.Errorf("failed to generate certificate digit: %w", err)
		}
		b.WriteByte(byte('0' + n.Int64()))
	}
	return b.String(), nil
}

// normalizeCode trims whitespace around a presented code.
func normalizeCode(code string) string {
	return strings.TrimSpace(code)
}
