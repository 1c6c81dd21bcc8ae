package values

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewChainPosition(t *testing.T) {
	tests := []struct {
		name    string
		value   int64
		wantErr bool
		errCode string
	}{
		{name: "genesis", value: 0},
		{name: "positive", value: 41},
		{name: "max", value: MaxChainPosition},
		{
			name:    "negative",
			value:   -1,
			wantErr: true,
			errCode: "NEGATIVE_POSITION",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pos, err := NewChainPosition(tt.value)

			if tt.wantErr {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tt.errCode)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.value, pos.Value())
		})
	}
}

func TestChainPositionProgression(t *testing.T) {
	genesis := GenesisPosition()
	assert.True(t, genesis.IsGenesis())
	assert.Equal(t, int64(0), genesis.Value())

	next, err := genesis.Next()
	require.NoError(t, err)
	assert.Equal(t, int64(1), next.Value())
	assert.False(t, next.IsGenesis())
	assert.True(t, next.Follows(genesis))
	assert.False(t, genesis.Follows(next))

	// Positions only follow their direct predecessor
	later := MustNewChainPosition(5)
	assert.False(t, later.Follows(genesis))
}

func TestChainPositionNextOverflow(t *testing.T) {
	max := MustNewChainPosition(MaxChainPosition)

	_, err := max.Next()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "POSITION_OVERFLOW")
}

func TestChainPositionJSON(t *testing.T) {
	pos := MustNewChainPosition(7)

	data, err := json.Marshal(pos)
	require.NoError(t, err)
	assert.Equal(t, "7", string(data))

	var decoded ChainPosition
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.True(t, pos.Equal(decoded))

	var bad ChainPosition
	err = json.Unmarshal([]byte("-3"), &bad)
	assert.Error(t, err)
}

func TestChainPositionScan(t *testing.T) {
	tests := []struct {
		name    string
		input   interface{}
		want    int64
		wantErr bool
	}{
		{name: "int64", input: int64(12), want: 12},
		{name: "int", input: 3, want: 3},
		{name: "string", input: "9", want: 9},
		{name: "nil resets", input: nil, want: 0},
		{name: "negative", input: int64(-4), wantErr: true},
		{name: "bad string", input: "abc", wantErr: true},
		{name: "unsupported type", input: 1.5, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var pos ChainPosition
			err := pos.Scan(tt.input)

			if tt.wantErr {
				assert.Error(t, err)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, pos.Value())
		})
	}
}

func TestChainPositionFormat(t *testing.T) {
	assert.Equal(t, "pos:4", MustNewChainPosition(4).Format())
	assert.Equal(t, "4", MustNewChainPosition(4).String())
}
