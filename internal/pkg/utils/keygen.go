package utils

import (
	"crypto/rand"
	"math/big"
	"strings"
)

const base36Chars = "abcdefghijklmnopqrstuvwxyz0123456789"

// RandomDNSLabel returns n random lowercase alphanumeric characters, safe to
// embed in a DNS label.
func RandomDNSLabel(n int) (string, error) {
	var sb strings.Builder

	max := big.NewInt(int64(len(base36Chars)))
	for range n {
		num, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		sb.WriteByte(base36Chars[num.Int64()])
	}

	return sb.String(), nil
}
