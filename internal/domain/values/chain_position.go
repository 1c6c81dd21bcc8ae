package values

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"github.com/davidleathers/agent-trust-ledger/internal/domain/errors"
)

// ChainPosition represents the zero-based index of an entry within an
// agent's hash chain. The first entry of every chain sits at position 0.
type ChainPosition struct {
	value int64
}

// MaxChainPosition bounds positions to what fits a BIGINT column.
const MaxChainPosition = int64(math.MaxInt64)

// NewChainPosition creates a new ChainPosition value object with validation
func NewChainPosition(value int64) (ChainPosition, error) {
	if value < 0 {
		return ChainPosition{}, errors.NewValidationError("NEGATIVE_POSITION",
			fmt.Sprintf("chain position cannot be negative: %d", value))
	}

	return ChainPosition{value: value}, nil
}

// MustNewChainPosition creates ChainPosition and panics on error (for constants/tests)
func MustNewChainPosition(value int64) ChainPosition {
	p, err := NewChainPosition(value)
	if err != nil {
		panic(err)
	}
	return p
}

// GenesisPosition returns the position of the first entry in a chain
func GenesisPosition() ChainPosition {
	return ChainPosition{value: 0}
}

// Value returns the raw position
func (p ChainPosition) Value() int64 {
	return p.value
}

// String returns the string representation of the position
func (p ChainPosition) String() string {
	return strconv.FormatInt(p.value, 10)
}

// IsGenesis checks if this is the first position of a chain
func (p ChainPosition) IsGenesis() bool {
	return p.value == 0
}

// Equal checks if two ChainPosition values are equal
func (p ChainPosition) Equal(other ChainPosition) bool {
	return p.value == other.value
}

// Follows checks whether this position directly succeeds other
func (p ChainPosition) Follows(other ChainPosition) bool {
	return p.value == other.value+1
}

// Next returns the position that follows this one
func (p ChainPosition) Next() (ChainPosition, error) {
	if p.value == MaxChainPosition {
		return ChainPosition{}, errors.NewValidationError("POSITION_OVERFLOW",
			"chain position would overflow maximum value")
	}

	return ChainPosition{value: p.value + 1}, nil
}

// Format returns a formatted string for display
func (p ChainPosition) Format() string {
	return fmt.Sprintf("pos:%d", p.value)
}

// MarshalJSON implements JSON marshaling
func (p ChainPosition) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.value)
}

// UnmarshalJSON implements JSON unmarshaling
func (p *ChainPosition) UnmarshalJSON(data []byte) error {
	var value int64
	if err := json.Unmarshal(data, &value); err != nil {
		return err
	}

	pos, err := NewChainPosition(value)
	if err != nil {
		return err
	}

	*p = pos
	return nil
}

// DatabaseValue implements driver.Valuer for database storage
func (p ChainPosition) DatabaseValue() (driver.Value, error) {
	return p.value, nil
}

// Scan implements sql.Scanner for database retrieval
func (p *ChainPosition) Scan(value interface{}) error {
	if value == nil {
		*p = ChainPosition{}
		return nil
	}

	var val int64
	switch v := value.(type) {
	case int64:
		val = v
	case int:
		val = int64(v)
	case string:
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("cannot parse chain position string '%s': %w", v, err)
		}
		val = parsed
	default:
		return fmt.Errorf("cannot scan %T into ChainPosition", value)
	}

	pos, err := NewChainPosition(val)
	if err != nil {
		return err
	}

	*p = pos
	return nil
}
