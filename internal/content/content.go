// Package content validates opaque references to off-chain descriptive
// content. The roles core stores references verbatim; only their shape is
// checked here.
package content

import (
	"errors"
	"strings"
)

// ErrInvalidRef indicates a reference that matches no supported shape.
var ErrInvalidRef = errors.New("content: invalid reference")

const (
	rawPrefix = "raw:"

	cidV0Len = 46
	cidV1Len = 59
)

const base58Alphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

// Validate checks a content reference. An empty reference means "no content"
// and is always valid. Otherwise the reference must be either a raw payload
// ("raw:" prefix) or an IPFS CID (v0 or v1 shape).
func Validate(ref string) error {
	if ref == "" {
		return nil
	}
	if strings.HasPrefix(ref, rawPrefix) {
		if len(ref) == len(rawPrefix) {
			return ErrInvalidRef
		}
		return nil
	}
	if isCIDv0(ref) || isCIDv1(ref) {
		return nil
	}
	return ErrInvalidRef
}

func isCIDv0(ref string) bool {
	if len(ref) != cidV0Len || !strings.HasPrefix(ref, "Qm") {
		return false
	}
	for _, r := range ref {
		if !strings.ContainsRune(base58Alphabet, r) {
			return false
		}
	}
	return true
}

func isCIDv1(ref string) bool {
	if len(ref) != cidV1Len || ref[0] != 'b' {
		return false
	}
	for _, r := range ref {
		if !isBase32Lower(r) {
			return false
		}
	}
	return true
}

func isBase32Lower(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= '2' && r <= '7')
}
