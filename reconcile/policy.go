package reconcile

import (
	"errors"
	"fmt"
	"strings"
)

var ErrUnknownPolicy = errors.New("unknown collision policy")

// Policy decides which observation keeps a reference claimed by more than
// one observation.
type Policy int

const (
	// ClosestWins keeps the observation nearest to the reference, the earlier
	// one on equal distance.
	ClosestWins Policy = iota
	// FirstWins keeps the earliest observation in input order.
	FirstWins
	// LastWins keeps the latest observation in input order.
	LastWins
	// RejectCollisions leaves a contested reference out of the mapping and
	// displaces every observation that claimed it.
	RejectCollisions
)

var policyNames = map[Policy]string{
	ClosestWins:      "closest",
	FirstWins:        "first",
	LastWins:         "last",
	RejectCollisions: "reject",
}

func (p Policy) String() string {
	if name, ok := policyNames[p]; ok {
		return name
	}
	return fmt.Sprintf("Policy(%d)", int(p))
}

func (p Policy) valid() bool {
	_, ok := policyNames[p]
	return ok
}

func ParsePolicy(s string) (Policy, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for p, name := range policyNames {
		if name == s || name+"-wins" == s {
			return p, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownPolicy, s)
}

func (p Policy) MarshalText() ([]byte, error) {
	if !p.valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownPolicy, int(p))
	}
	return []byte(p.String()), nil
}

func (p *Policy) UnmarshalText(text []byte) error {
	v, err := ParsePolicy(string(text))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// replaces reports whether a challenger at distance d takes the reference
// over from the current claim.
func (p Policy) replaces(current claim, d float64) bool {
	switch p {
	case LastWins:
		return true
	case ClosestWins:
		return d < current.distance
	default:
		return false
	}
}
