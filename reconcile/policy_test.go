package reconcile

import (
	"errors"
	"testing"
)

func TestParsePolicy(t *testing.T) {
	tests := []struct {
		in   string
		want Policy
	}{
		{"closest", ClosestWins},
		{"Closest-Wins", ClosestWins},
		{"first", FirstWins},
		{" last ", LastWins},
		{"reject", RejectCollisions},
	}
	for _, tt := range tests {
		got, err := ParsePolicy(tt.in)
		if err != nil {
			t.Fatalf("%q: %s", tt.in, err)
		}
		if got != tt.want {
			t.Fatalf("%q: expected %s; got %s", tt.in, tt.want, got)
		}
	}

	if _, err := ParsePolicy("random"); !errors.Is(err, ErrUnknownPolicy) {
		t.Fatalf("expected ErrUnknownPolicy; got %v", err)
	}
}

func TestPolicyText(t *testing.T) {
	var p Policy
	if err := p.UnmarshalText([]byte("reject")); err != nil || p != RejectCollisions {
		t.Fatalf("unexpected %v %v", p, err)
	}
	text, err := LastWins.MarshalText()
	if err != nil || string(text) != "last" {
		t.Fatalf("unexpected %q %v", text, err)
	}
	if _, err := Policy(9).MarshalText(); err == nil {
		t.Fatalf("expected an error for an unknown policy")
	}
}

func TestReplaces(t *testing.T) {
	current := claim{obs: 0, distance: 10}
	if ClosestWins.replaces(current, 10) || !ClosestWins.replaces(current, 9.99) {
		t.Fatalf("closest wins must keep the earlier claim on ties")
	}
	if FirstWins.replaces(current, 1) {
		t.Fatalf("first wins never replaces")
	}
	if !LastWins.replaces(current, 100) {
		t.Fatalf("last wins always replaces")
	}
}
