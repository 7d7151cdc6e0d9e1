package knx

import (
	"fmt"
	"strconv"
	"strings"
)

// DPT identifies a KNX datapoint type. Sub is nil when only the main
// number is known (ETS "DPT-9").
type DPT struct {
	Main int  `json:"main"`
	Sub  *int `json:"sub"`
}

// ParseDPT parses an ETS datapoint reference.
//
// Accepts formats:
//   - "DPST-1-1" main 1, sub 1
//   - "DPT-9"    main 9, no sub
func ParseDPT(s string) (DPT, error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, "-")

	switch {
	case len(parts) == 3 && strings.EqualFold(parts[0], "DPST"):
		main, err := strconv.Atoi(parts[1])
		if err != nil || main < 0 {
			return DPT{}, fmt.Errorf("%w: %q", ErrInvalidDPT, s)
		}
		sub, err := strconv.Atoi(parts[2])
		if err != nil || sub < 0 {
			return DPT{}, fmt.Errorf("%w: %q", ErrInvalidDPT, s)
		}
		return DPT{Main: main, Sub: &sub}, nil
	case len(parts) == 2 && strings.EqualFold(parts[0], "DPT"):
		main, err := strconv.Atoi(parts[1])
		if err != nil || main < 0 {
			return DPT{}, fmt.Errorf("%w: %q", ErrInvalidDPT, s)
		}
		return DPT{Main: main}, nil
	default:
		return DPT{}, fmt.Errorf("%w: %q", ErrInvalidDPT, s)
	}
}

// ParseDPTList parses the space separated DatapointType attribute.
// Invalid entries are skipped; ETS occasionally leaves stale ids behind.
func ParseDPTList(s string) []DPT {
	fields := strings.Fields(s)
	dpts := make([]DPT, 0, len(fields))
	for _, f := range fields {
		if dpt, err := ParseDPT(f); err == nil {
			dpts = append(dpts, dpt)
		}
	}
	return dpts
}

// String returns the dotted form, e.g. "1.001" or "9".
func (d DPT) String() string {
	if d.Sub == nil {
		return strconv.Itoa(d.Main)
	}
	return fmt.Sprintf("%d.%03d", d.Main, *d.Sub)
}

// Clone returns a copy that shares no memory with d.
func (d DPT) Clone() DPT {
	if d.Sub != nil {
		sub := *d.Sub
		d.Sub = &sub
	}
	return d
}
