package knx

import "errors"

// Domain errors for KNX address and datapoint parsing.
var (
	// ErrInvalidGroupAddress is returned when a group address string
	// cannot be parsed.
	ErrInvalidGroupAddress = errors.New("knx: invalid group address")

	// ErrInvalidIndividualAddress is returned when a device address is not
	// a valid area.line.device triple.
	ErrInvalidIndividualAddress = errors.New("knx: invalid individual address")

	// ErrInvalidDPT is returned when a datapoint type identifier is invalid.
	ErrInvalidDPT = errors.New("knx: invalid datapoint type")
)
