package curve

import (
	"fmt"
	"strings"
)

var registry = map[string]func() Curve{
	"secp256k1":    NewSecp256k1,
	"ristretto255": NewRistretto255,
}

// FromName looks a curve up by its group name, ignoring case.
func FromName(name string) (Curve, error) {
	ctor, ok := registry[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("unsupported curve: %s", name)
	}
	return ctor(), nil
}

// SupportedCurves lists the names FromName accepts.
func SupportedCurves() []string {
	return []string{"secp256k1", "ristretto255"}
}

func IsSupported(name string) bool {
	_, ok := registry[strings.ToLower(name)]
	return ok
}
