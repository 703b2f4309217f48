package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
)

// ErrInvalidInt indicates a malformed integer on the wire.
var ErrInvalidInt = errors.New("invalid integer encoding")

// Int is a non-negative arbitrary-precision integer with a hex JSON form.
type Int big.Int

// NewInt wraps v. A nil v gives a nil *Int.
func NewInt(v *big.Int) *Int {
	if v == nil {
		return nil
	}
	return (*Int)(new(big.Int).Set(v))
}

// Big returns a copy of the value, or nil for a nil receiver.
func (i *Int) Big() *big.Int {
	if i == nil {
		return nil
	}
	return new(big.Int).Set((*big.Int)(i))
}

func (i *Int) String() string {
	if i == nil {
		return "<nil>"
	}
	return "0x" + (*big.Int)(i).Text(16)
}

func (i *Int) MarshalJSON() ([]byte, error) {
	if i == nil {
		return []byte("null"), nil
	}
	return json.Marshal(i.String())
}

func (i *Int) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return fmt.Errorf("%w: null", ErrInvalidInt)
	}

	var v *big.Int
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidInt, err)
		}
		parsed, err := ParseInt(s)
		if err != nil {
			return err
		}
		v = parsed
	} else {
		parsed, ok := new(big.Int).SetString(string(data), 10)
		if !ok {
			return fmt.Errorf("%w: %s", ErrInvalidInt, data)
		}
		v = parsed
	}

	if v.Sign() < 0 {
		return fmt.Errorf("%w: negative value", ErrInvalidInt)
	}
	(*big.Int)(i).Set(v)
	return nil
}

// ParseInt parses a hex string with or without a 0x prefix.
func ParseInt(s string) (*big.Int, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if s == "" {
		return nil, fmt.Errorf("%w: empty string", ErrInvalidInt)
	}
	if s[0] == '+' || s[0] == '-' {
		return nil, fmt.Errorf("%w: %q has a sign", ErrInvalidInt, s)
	}
	v, ok := new(big.Int).SetString(s, 16)
	if !ok {
		return nil, fmt.Errorf("%w: %q is not hex", ErrInvalidInt, s)
	}
	if v.Sign() < 0 {
		return nil, fmt.Errorf("%w: negative value", ErrInvalidInt)
	}
	return v, nil
}
