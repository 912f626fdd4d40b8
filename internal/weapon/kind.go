// Package weapon holds the vocabulary shared by the tube controller: weapon
// kinds, control states, per-kind specifications, assignments and the
// environment inputs the planners consume.
package weapon

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnknownKind is returned when a weapon kind string cannot be parsed.
	ErrUnknownKind = errors.New("unknown weapon kind")
	// ErrUnknownState is returned when a control state string cannot be parsed.
	ErrUnknownState = errors.New("unknown control state")
)

// Kind identifies the weapon loaded in a tube.
type Kind int

const (
	KindNone Kind = iota
	KindALM       // land attack missile
	KindASM       // anti-ship missile
	KindAAM       // anti-air missile
	KindWGT       // wire-guided torpedo
	KindMine      // mobile mine
)

var kindNames = map[Kind]string{
	KindNone: "N/A",
	KindALM:  "ALM",
	KindASM:  "ASM",
	KindAAM:  "AAM",
	KindWGT:  "WGT",
	KindMine: "MINE",
}

// Kinds lists every loadable kind, excluding KindNone.
func Kinds() []Kind {
	return []Kind{KindALM, KindASM, KindAAM, KindWGT, KindMine}
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Valid reports whether k names a loadable weapon.
func (k Kind) Valid() bool { return k > KindNone && k <= KindMine }

// ParseKind parses a kind name, accepting common aliases.
func ParseKind(s string) (Kind, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "N/A", "NA", "NONE", "":
		return KindNone, nil
	case "ALM":
		return KindALM, nil
	case "ASM":
		return KindASM, nil
	case "AAM":
		return KindAAM, nil
	case "WGT", "TORPEDO":
		return KindWGT, nil
	case "MINE", "M_MINE":
		return KindMine, nil
	}
	return KindNone, fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(b []byte) error {
	parsed, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}
