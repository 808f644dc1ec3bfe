package session

import (
	"fmt"
	"strings"
)

const (
	// MainKey is the default session. It can be reset but never deleted.
	MainKey = "main"

	logExt      = ".jsonl"
	maxFileName = 255
	hexDigits   = "0123456789ABCDEF"
)

// ValidateKey checks that key is usable as a session key.
func ValidateKey(key string) error {
	if key == "" {
		return fmt.Errorf("%w: key cannot be empty", ErrInvalidKey)
	}
	if n := encodedLen(key) + len(logExt); n > maxFileName {
		return fmt.Errorf("%w: key encodes to %d bytes, limit is %d", ErrInvalidKey, n, maxFileName)
	}
	return nil
}

func isSafeKeyByte(c byte) bool {
	return c >= 'a' && c <= 'z' ||
		c >= 'A' && c <= 'Z' ||
		c >= '0' && c <= '9' ||
		c == '-' || c == '_'
}

func encodedLen(key string) int {
	n := 0
	for i := 0; i < len(key); i++ {
		if isSafeKeyByte(key[i]) {
			n++
		} else {
			n += 3
		}
	}
	return n
}

// EncodeKey maps a session key to a filename stem. Bytes outside [A-Za-z0-9_-]
// are written as %XX, so the mapping is injective: "a:b" becomes "a%3Ab" while
// "a_b" stays "a_b".
func EncodeKey(key string) string {
	var b strings.Builder
	b.Grow(encodedLen(key))
	for i := 0; i < len(key); i++ {
		c := key[i]
		if isSafeKeyByte(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(hexDigits[c>>4])
		b.WriteByte(hexDigits[c&0x0F])
	}
	return b.String()
}

// DecodeKey reverses EncodeKey. It rejects stems EncodeKey could not have produced.
func DecodeKey(stem string) (string, error) {
	var b strings.Builder
	b.Grow(len(stem))
	for i := 0; i < len(stem); i++ {
		c := stem[i]
		switch {
		case isSafeKeyByte(c):
			b.WriteByte(c)
		case c == '%':
			if i+2 >= len(stem) {
				return "", fmt.Errorf("%w: truncated escape in %q", ErrInvalidKey, stem)
			}
			hi, lo := unhex(stem[i+1]), unhex(stem[i+2])
			if hi < 0 || lo < 0 {
				return "", fmt.Errorf("%w: bad escape in %q", ErrInvalidKey, stem)
			}
			decoded := byte(hi<<4 | lo)
			if isSafeKeyByte(decoded) {
				return "", fmt.Errorf("%w: non-canonical escape in %q", ErrInvalidKey, stem)
			}
			b.WriteByte(decoded)
			i += 2
		default:
			return "", fmt.Errorf("%w: unexpected byte %q in %q", ErrInvalidKey, c, stem)
		}
	}
	if b.Len() == 0 {
		return "", fmt.Errorf("%w: empty file name", ErrInvalidKey)
	}
	return b.String(), nil
}

func unhex(c byte) int {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0')
	case c >= 'A' && c <= 'F':
		return int(c-'A') + 10
	}
	return -1
}
