package etsimport

import (
	"errors"
	"strings"
	"testing"
)

func TestViolationsSorted(t *testing.T) {
	var vs violations
	vs.add(InvariantUniqueKey, "b", "second")
	vs.add(InvariantGroupAddressLink, "z", "first")
	vs.add(InvariantUniqueKey, "a", "third")

	err := vs.err()
	var ce *ConsistencyError
	if !errors.As(err, &ce) {
		t.Fatalf("err() = %T, want *ConsistencyError", err)
	}
	if !errors.Is(err, ErrConsistency) {
		t.Error("errors.Is(err, ErrConsistency) = false")
	}

	var got []string
	for _, v := range ce.Violations {
		got = append(got, v.Invariant+":"+v.Entity)
	}
	want := "GROUP_ADDRESS_LINK:z,UNIQUE_KEY:a,UNIQUE_KEY:b"
	if strings.Join(got, ",") != want {
		t.Errorf("order = %v, want %s", got, want)
	}
	if !strings.Contains(err.Error(), "3 violation(s)") {
		t.Errorf("Error() = %q", err.Error())
	}
}

func TestNoViolations(t *testing.T) {
	var vs violations
	if err := vs.err(); err != nil {
		t.Errorf("err() = %v, want nil", err)
	}
}
