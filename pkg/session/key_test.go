package session

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeKey(t *testing.T) {
	tests := []struct {
		key  string
		want string
	}{
		{"main", "main"},
		{"a_b", "a_b"},
		{"a-b", "a-b"},
		{"a:b", "a%3Ab"},
		{"telegram:12345", "telegram%3A12345"},
		{"a b", "a%20b"},
		{"100%", "100%25"},
		{"../x", "%2E%2E%2Fx"},
		{"é", "%C3%A9"},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			assert.Equal(t, tt.want, EncodeKey(tt.key))
		})
	}
}

func TestDecodeKey_RoundTrip(t *testing.T) {
	keys := []string{"main", "a:b", "a_b", "a%3Ab", "100%", "x/y\\z", "日本語", "tab\there"}
	seen := make(map[string]string)

	for _, key := range keys {
		stem := EncodeKey(key)
		if other, ok := seen[stem]; ok {
			t.Fatalf("keys %q and %q share file stem %q", key, other, stem)
		}
		seen[stem] = key

		decoded, err := DecodeKey(stem)
		require.NoError(t, err)
		assert.Equal(t, key, decoded)
	}
}

func TestDecodeKey_Rejects(t *testing.T) {
	tests := []struct {
		name string
		stem string
	}{
		{"empty", ""},
		{"truncated escape", "abc%3"},
		{"lone percent", "%"},
		{"lower-case hex", "a%3ab"},
		{"not hex", "a%ZZb"},
		{"escaped safe byte", "%61"},
		{"raw unsafe byte", "a.b"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeKey(tt.stem)
			assert.ErrorIs(t, err, ErrInvalidKey)
		})
	}
}

func TestValidateKey(t *testing.T) {
	assert.NoError(t, ValidateKey("main"))
	assert.NoError(t, ValidateKey(strings.Repeat("k", maxFileName-len(logExt))))

	err := ValidateKey("")
	assert.ErrorIs(t, err, ErrInvalidKey)
	assert.Equal(t, KindValidation, KindOf(err))

	assert.ErrorIs(t, ValidateKey(strings.Repeat("k", maxFileName)), ErrInvalidKey)
	// Each ':' costs three bytes once encoded.
	assert.ErrorIs(t, ValidateKey(strings.Repeat(":", 84)), ErrInvalidKey)
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		err  error
		want Kind
	}{
		{nil, ""},
		{ErrInvalidParams, KindValidation},
		{ErrNotFound, KindNotFound},
		{ErrReservedSession, KindReserved},
		{ErrLockContention, KindLockContention},
		{ErrMalformedRecord, KindMalformedRecord},
		{storageError("failed to open session file", assert.AnError), KindStorage},
		{assert.AnError, KindUnknown},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, KindOf(tt.err))
	}
}
