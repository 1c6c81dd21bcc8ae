package values

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewHashValue(t *testing.T) {
	validHash := generateValidHash(t)

	tests := []struct {
		name    string
		hash    string
		wantErr bool
		errCode string
	}{
		{
			name:    "valid hash",
			hash:    validHash,
			wantErr: false,
		},
		{
			name:    "valid hash uppercase",
			hash:    strings.ToUpper(validHash),
			wantErr: false,
		},
		{
			name:    "empty hash",
			hash:    "",
			wantErr: true,
			errCode: "EMPTY_HASH",
		},
		{
			name:    "invalid characters",
			hash:    "g" + validHash[1:], // 'g' is not hex
			wantErr: true,
			errCode: "INVALID_HASH_FORMAT",
		},
		{
			name:    "too short",
			hash:    validHash[:32],
			wantErr: true,
			errCode: "INVALID_HASH_FORMAT",
		},
		{
			name:    "too long",
			hash:    validHash + "00",
			wantErr: true,
			errCode: "INVALID_HASH_FORMAT",
		},
		{
			name:    "hash with whitespace",
			hash:    " " + validHash + " ",
			wantErr: false, // Should be trimmed and normalized
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hash, err := NewHashValue(tt.hash)

			if tt.wantErr {
				assert.Error(t, err)
				if tt.errCode != "" {
					assert.Contains(t, err.Error(), tt.errCode)
				}
				assert.True(t, hash.IsEmpty())
			} else {
				assert.NoError(t, err)
				assert.False(t, hash.IsEmpty())
				assert.Equal(t, strings.ToLower(strings.TrimSpace(tt.hash)), hash.String())
			}
		})
	}
}

func TestNewHashValueFromBytes(t *testing.T) {
	tests := []struct {
		name    string
		bytes   []byte
		wantErr bool
		errCode string
	}{
		{
			name:    "valid 32 bytes",
			bytes:   make([]byte, 32),
			wantErr: false,
		},
		{
			name:    "empty bytes",
			bytes:   []byte{},
			wantErr: true,
			errCode: "INVALID_HASH_LENGTH",
		},
		{
			name:    "wrong length",
			bytes:   make([]byte, 16),
			wantErr: true,
			errCode: "INVALID_HASH_LENGTH",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hash, err := NewHashValueFromBytes(tt.bytes)

			if tt.wantErr {
				assert.Error(t, err)
				if tt.errCode != "" {
					assert.Contains(t, err.Error(), tt.errCode)
				}
			} else {
				assert.NoError(t, err)
				assert.Equal(t, hex.EncodeToString(tt.bytes), hash.String())
			}
		})
	}
}

func TestComputeHashValue(t *testing.T) {
	data := []byte("audit entry payload")

	hash, err := ComputeHashValue(data)
	require.NoError(t, err)

	expected := sha256.Sum256(data)
	assert.Equal(t, hex.EncodeToString(expected[:]), hash.String())

	// Same data always produces the same hash
	again, err := ComputeHashValue(data)
	require.NoError(t, err)
	assert.True(t, hash.Equal(again))

	// Empty data is rejected
	_, err = ComputeHashValue(nil)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "EMPTY_DATA")
}

func TestHashValueVerify(t *testing.T) {
	data := []byte("chained content")
	hash, err := ComputeHashValue(data)
	require.NoError(t, err)

	ok, err := hash.Verify(data)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = hash.Verify([]byte("tampered content"))
	require.NoError(t, err)
	assert.False(t, ok)

	empty := HashValue{}
	_, err = empty.Verify(data)
	assert.Error(t, err)
}

func TestHashValueJSON(t *testing.T) {
	hash := generateHashValue(t)

	data, err := json.Marshal(hash)
	require.NoError(t, err)

	var decoded HashValue
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.True(t, hash.Equal(decoded))

	// Invalid content is rejected on the way in
	var bad HashValue
	err = json.Unmarshal([]byte(`"not-a-hash"`), &bad)
	assert.Error(t, err)

	// The empty hash survives a round trip (genesis previous_hash)
	data, err = json.Marshal(HashValue{})
	require.NoError(t, err)
	var emptyDecoded HashValue
	require.NoError(t, json.Unmarshal(data, &emptyDecoded))
	assert.True(t, emptyDecoded.IsEmpty())
}

func TestHashValueScan(t *testing.T) {
	validHash := generateValidHash(t)

	tests := []struct {
		name    string
		input   interface{}
		want    string
		wantErr bool
	}{
		{name: "string", input: validHash, want: validHash},
		{name: "bytes", input: []byte(validHash), want: validHash},
		{name: "nil", input: nil, want: ""},
		{name: "empty string", input: "", want: ""},
		{name: "unsupported type", input: 42, wantErr: true},
		{name: "invalid value", input: "zz", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var hash HashValue
			err := hash.Scan(tt.input)

			if tt.wantErr {
				assert.Error(t, err)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, hash.String())
		})
	}
}

func TestHashValueDisplay(t *testing.T) {
	hash := generateHashValue(t)

	assert.Len(t, hash.Truncate(), 8)
	assert.Equal(t, "hash:"+hash.String()[:8], hash.Format())
	assert.Equal(t, "<empty>", HashValue{}.Format())

	assert.True(t, ZeroHash().IsZero())
	assert.False(t, hash.IsZero())
}

func generateValidHash(t *testing.T) string {
	t.Helper()
	sum := sha256.Sum256([]byte("fixture"))
	return hex.EncodeToString(sum[:])
}

func generateHashValue(t *testing.T) HashValue {
	t.Helper()
	hash, err := NewHashValue(generateValidHash(t))
	require.NoError(t, err)
	return hash
}
