package values

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Cost represents the monetary cost of a model interaction. Provider billing
// goes to fractions of a cent, so amounts keep full decimal precision.
type Cost struct {
	amount   decimal.Decimal
	currency string
}

// Supported billing currencies (ISO 4217)
const (
	USD = "USD"
	EUR = "EUR"
	GBP = "GBP"
)

// NewCost creates a new Cost value object
func NewCost(amount decimal.Decimal, currency string) (Cost, error) {
	if err := validateCurrency(currency); err != nil {
		return Cost{}, err
	}

	if amount.IsNegative() {
		return Cost{}, fmt.Errorf("cost cannot be negative: %s", amount.String())
	}

	return Cost{
		amount:   amount,
		currency: strings.ToUpper(currency),
	}, nil
}

// NewCostFromString creates Cost from string amount and currency
func NewCostFromString(amount, currency string) (Cost, error) {
	dec, err := decimal.NewFromString(amount)
	if err != nil {
		return Cost{}, fmt.Errorf("invalid amount: %w", err)
	}

	return NewCost(dec, currency)
}

// NewCostFromFloat creates Cost from a float64 amount. Provider APIs report
// spend as floats, so this is the common entry point.
func NewCostFromFloat(amount float64, currency string) (Cost, error) {
	return NewCost(decimal.NewFromFloat(amount), currency)
}

// MustNewCost creates Cost and panics on error (for constants/tests)
func MustNewCost(amount decimal.Decimal, currency string) Cost {
	c, err := NewCost(amount, currency)
	if err != nil {
		panic(err)
	}
	return c
}

// ZeroCost returns a zero Cost value in the given currency
func ZeroCost(currency string) Cost {
	return MustNewCost(decimal.Zero, currency)
}

// Amount returns the decimal amount
func (c Cost) Amount() decimal.Decimal {
	return c.amount
}

// Currency returns the currency code
func (c Cost) Currency() string {
	return c.currency
}

// String returns the amount with currency code (e.g., "0.0042 USD")
func (c Cost) String() string {
	return c.amount.String() + " " + c.currency
}

// IsZero checks if the amount is zero
func (c Cost) IsZero() bool {
	return c.amount.IsZero()
}

// Equal checks if two Cost values are equal (same amount and currency)
func (c Cost) Equal(other Cost) bool {
	return c.amount.Equal(other.amount) && c.currency == other.currency
}

// Add adds two Cost values (must have same currency)
func (c Cost) Add(other Cost) (Cost, error) {
	if c.currency != other.currency {
		return Cost{}, fmt.Errorf("cannot add different currencies: %s and %s", c.currency, other.currency)
	}

	return Cost{
		amount:   c.amount.Add(other.amount),
		currency: c.currency,
	}, nil
}

// PerThousandTokens returns the cost normalized to one thousand tokens
func (c Cost) PerThousandTokens(totalTokens int64) Cost {
	if totalTokens <= 0 {
		return ZeroCost(c.currency)
	}

	rate := c.amount.Div(decimal.NewFromInt(totalTokens)).Mul(decimal.NewFromInt(1000))
	return Cost{amount: rate, currency: c.currency}
}

// ToFloat64 converts to float64 (use with caution for precision)
func (c Cost) ToFloat64() float64 {
	f, _ := c.amount.Float64()
	return f
}

// JSON marshaling
func (c Cost) MarshalJSON() ([]byte, error) {
	data := struct {
		Amount   string `json:"amount"`
		Currency string `json:"currency"`
	}{
		Amount:   c.amount.String(),
		Currency: c.currency,
	}
	return json.Marshal(data)
}

// JSON unmarshaling. The zero Cost round-trips: an empty currency with a
// zero amount decodes back to the zero value instead of failing currency
// validation.
func (c *Cost) UnmarshalJSON(data []byte) error {
	var temp struct {
		Amount   string `json:"amount"`
		Currency string `json:"currency"`
	}

	if err := json.Unmarshal(data, &temp); err != nil {
		return err
	}

	amount := decimal.Zero
	if temp.Amount != "" {
		var err error
		amount, err = decimal.NewFromString(temp.Amount)
		if err != nil {
			return fmt.Errorf("invalid amount: %w", err)
		}
	}

	if temp.Currency == "" {
		if !amount.IsZero() {
			return fmt.Errorf("cost with a non-zero amount requires a currency")
		}
		*c = Cost{}
		return nil
	}

	cost, err := NewCost(amount, temp.Currency)
	if err != nil {
		return err
	}

	*c = cost
	return nil
}

// Scan implements sql.Scanner for database retrieval
func (c *Cost) Scan(value interface{}) error {
	if value == nil {
		*c = Cost{}
		return nil
	}

	switch v := value.(type) {
	case []byte:
		return c.scanFromString(string(v))
	case string:
		return c.scanFromString(v)
	default:
		return fmt.Errorf("cannot scan %T into Cost", value)
	}
}

// Value implements driver.Valuer for database storage
func (c Cost) Value() (driver.Value, error) {
	if c.amount.IsZero() && c.currency == "" {
		return nil, nil
	}
	return c.MarshalJSON()
}

func validateCurrency(currency string) error {
	if currency == "" {
		return fmt.Errorf("currency cannot be empty")
	}

	currency = strings.ToUpper(currency)

	if len(currency) != 3 {
		return fmt.Errorf("currency code must be 3 characters")
	}

	validCurrencies := map[string]bool{
		USD: true, EUR: true, GBP: true,
		"JPY": true, "CAD": true, "AUD": true, "CHF": true,
	}

	if !validCurrencies[currency] {
		return fmt.Errorf("unsupported currency: %s", currency)
	}

	return nil
}

func (c *Cost) scanFromString(s string) error {
	// JSON object form is what Value() writes
	if strings.HasPrefix(s, "{") {
		return c.UnmarshalJSON([]byte(s))
	}

	// Fall back to bare decimal (assume USD)
	amount, err := decimal.NewFromString(s)
	if err != nil {
		return fmt.Errorf("invalid cost format: %w", err)
	}

	cost, err := NewCost(amount, USD)
	if err != nil {
		return err
	}

	*c = cost
	return nil
}
