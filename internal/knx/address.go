package knx

import (
	"fmt"
	"strconv"
	"strings"
)

// GroupAddressStyle is the presentation style configured on an ETS project.
type GroupAddressStyle string

// Group address presentation styles as written by ETS in ProjectInformation.
const (
	StyleThreeLevel GroupAddressStyle = "ThreeLevel"
	StyleTwoLevel   GroupAddressStyle = "TwoLevel"
	StyleFree       GroupAddressStyle = "Free"
)

// ParseGroupAddressStyle maps the ETS GroupAddressStyle attribute to a style.
// Unknown or empty values fall back to three-level, which is the ETS default.
func ParseGroupAddressStyle(s string) GroupAddressStyle {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "twolevel":
		return StyleTwoLevel
	case "free":
		return StyleFree
	default:
		return StyleThreeLevel
	}
}

// GroupAddress represents a KNX group address.
//
// The canonical form is the 16-bit raw value; the three-level split is
// kept because most projects present addresses that way.
//
// Format: Main/Middle/Sub
//   - Main:   0-31 (5 bits)
//   - Middle: 0-7  (3 bits)
//   - Sub:    0-255 (8 bits)
type GroupAddress struct {
	Main   uint8
	Middle uint8
	Sub    uint8
}

// Group address limits (KNX 3-level and 2-level styles).
const (
	maxMain      = 31
	maxMiddle    = 7
	maxSub       = 255
	maxTwoLevel  = 2047
	maxRawGroup  = 0xFFFF
	maxArea      = 15
	maxLine      = 15
	maxDevice    = 255
	gaMainMask   = 0x1F
	gaMiddleMask = 0x07
	gaSubMask    = 0xFF
	gaTwoMask    = 0x07FF
)

// ParseGroupAddress parses a group address in any of the ETS presentations.
//
// Accepts formats:
//   - "1/2/3" three-level
//   - "1/515" two-level (main/sub with an 11-bit sub group)
//   - "2563"  free style raw value
func ParseGroupAddress(s string) (GroupAddress, error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, "/")

	switch len(parts) {
	case 3:
		main, err := parseLevel(parts[0], maxMain)
		if err != nil {
			return GroupAddress{}, fmt.Errorf("%w: main group must be 0-%d, got %q", ErrInvalidGroupAddress, maxMain, parts[0])
		}
		middle, err := parseLevel(parts[1], maxMiddle)
		if err != nil {
			return GroupAddress{}, fmt.Errorf("%w: middle group must be 0-%d, got %q", ErrInvalidGroupAddress, maxMiddle, parts[1])
		}
		sub, err := parseLevel(parts[2], maxSub)
		if err != nil {
			return GroupAddress{}, fmt.Errorf("%w: sub group must be 0-%d, got %q", ErrInvalidGroupAddress, maxSub, parts[2])
		}
		return GroupAddress{Main: uint8(main), Middle: uint8(middle), Sub: uint8(sub)}, nil
	case 2:
		main, err := parseLevel(parts[0], maxMain)
		if err != nil {
			return GroupAddress{}, fmt.Errorf("%w: main group must be 0-%d, got %q", ErrInvalidGroupAddress, maxMain, parts[0])
		}
		sub, err := parseLevel(parts[1], maxTwoLevel)
		if err != nil {
			return GroupAddress{}, fmt.Errorf("%w: sub group must be 0-%d, got %q", ErrInvalidGroupAddress, maxTwoLevel, parts[1])
		}
		return GroupAddressFromUint16(uint16(main<<11 | sub)), nil
	case 1:
		raw, err := ParseRawGroupAddress(parts[0])
		if err != nil {
			return GroupAddress{}, err
		}
		return GroupAddressFromUint16(raw), nil
	default:
		return GroupAddress{}, fmt.Errorf("%w: unexpected format %q", ErrInvalidGroupAddress, s)
	}
}

// ParseRawGroupAddress parses the decimal raw value ETS stores in the
// GroupAddress Address attribute.
func ParseRawGroupAddress(s string) (uint16, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 10, 32)
	if err != nil || v > maxRawGroup {
		return 0, fmt.Errorf("%w: raw address must be 0-%d, got %q", ErrInvalidGroupAddress, maxRawGroup, s)
	}
	return uint16(v), nil
}

func parseLevel(s string, limit uint64) (uint64, error) {
	v, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return 0, err
	}
	if v > limit {
		return 0, fmt.Errorf("value %d exceeds %d", v, limit)
	}
	return v, nil
}

// String returns the group address in 3-level format.
//
// Example: "1/2/3"
func (ga GroupAddress) String() string {
	return fmt.Sprintf("%d/%d/%d", ga.Main, ga.Middle, ga.Sub)
}

// Format renders the address in the given presentation style.
func (ga GroupAddress) Format(style GroupAddressStyle) string {
	switch style {
	case StyleTwoLevel:
		return fmt.Sprintf("%d/%d", ga.Main, ga.ToUint16()&gaTwoMask)
	case StyleFree:
		return strconv.Itoa(int(ga.ToUint16()))
	default:
		return ga.String()
	}
}

// ToUint16 converts the group address to a 16-bit integer.
//
// Layout: MMMM MSSS SSSS SSSS
//   - M = Main (5 bits)
//   - S = Middle (3 bits) + Sub (8 bits)
func (ga GroupAddress) ToUint16() uint16 {
	return uint16(ga.Main)<<11 | uint16(ga.Middle)<<8 | uint16(ga.Sub)
}

// GroupAddressFromUint16 creates a GroupAddress from a 16-bit integer.
func GroupAddressFromUint16(value uint16) GroupAddress {
	return GroupAddress{
		Main:   uint8((value >> 11) & gaMainMask),  //nolint:gosec // masked to 5 bits (0-31)
		Middle: uint8((value >> 8) & gaMiddleMask), //nolint:gosec // masked to 3 bits (0-7)
		Sub:    uint8(value & gaSubMask),           //nolint:gosec // masked to 8 bits (0-255)
	}
}

// IndividualAddress is the three-part bus address of a KNX device.
type IndividualAddress struct {
	Area   uint8
	Line   uint8
	Device uint8
}

// NewIndividualAddress validates the three parts of an individual address
// as ETS stores them on the Area, Line and DeviceInstance elements.
func NewIndividualAddress(area, line, device string) (IndividualAddress, error) {
	a, err := parseLevel(strings.TrimSpace(area), maxArea)
	if err != nil {
		return IndividualAddress{}, fmt.Errorf("%w: area must be 0-%d, got %q", ErrInvalidIndividualAddress, maxArea, area)
	}
	l, err := parseLevel(strings.TrimSpace(line), maxLine)
	if err != nil {
		return IndividualAddress{}, fmt.Errorf("%w: line must be 0-%d, got %q", ErrInvalidIndividualAddress, maxLine, line)
	}
	d, err := parseLevel(strings.TrimSpace(device), maxDevice)
	if err != nil {
		return IndividualAddress{}, fmt.Errorf("%w: device must be 0-%d, got %q", ErrInvalidIndividualAddress, maxDevice, device)
	}
	return IndividualAddress{Area: uint8(a), Line: uint8(l), Device: uint8(d)}, nil
}

// ParseIndividualAddress parses "area.line.device".
func ParseIndividualAddress(s string) (IndividualAddress, error) {
	parts := strings.Split(strings.TrimSpace(s), ".")
	if len(parts) != 3 {
		return IndividualAddress{}, fmt.Errorf("%w: expected area.line.device, got %q", ErrInvalidIndividualAddress, s)
	}
	return NewIndividualAddress(parts[0], parts[1], parts[2])
}

// String returns the address as "area.line.device".
func (ia IndividualAddress) String() string {
	return fmt.Sprintf("%d.%d.%d", ia.Area, ia.Line, ia.Device)
}

// LineString returns the "area.line" prefix of the address.
func (ia IndividualAddress) LineString() string {
	return fmt.Sprintf("%d.%d", ia.Area, ia.Line)
}

// ToUint16 packs the address as AAAA LLLL DDDD DDDD. Useful for ordering.
func (ia IndividualAddress) ToUint16() uint16 {
	return uint16(ia.Area)<<12 | uint16(ia.Line)<<8 | uint16(ia.Device)
}
