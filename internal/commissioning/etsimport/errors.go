package etsimport

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"strings"
)

// Sentinel errors for ETS import operations.
var (
	// ErrPasswordRequired indicates the project is protected and no
	// password was supplied.
	ErrPasswordRequired = errors.New("project is password protected")

	// ErrWrongPassword indicates none of the password candidates could
	// decrypt the project.
	ErrWrongPassword = errors.New("wrong project password")

	// ErrUnsupportedArchive indicates the container is not a readable
	// .knxproj archive or lacks required documents.
	ErrUnsupportedArchive = errors.New("unsupported archive structure")

	// ErrUnsupportedVersion indicates an unsupported ETS schema version.
	ErrUnsupportedVersion = errors.New("unsupported ETS version")

	// ErrMalformedDocument indicates an XML document inside the archive
	// could not be decoded. Returned wrapped in a *DocumentError.
	ErrMalformedDocument = errors.New("malformed project document")

	// ErrConsistency indicates the assembled model violated a structural
	// invariant. Returned wrapped in a *ConsistencyError.
	ErrConsistency = errors.New("inconsistent project model")

	// ErrFileTooLarge indicates the file exceeds the size limit.
	ErrFileTooLarge = errors.New("file exceeds maximum size limit")
)

// Warning codes for non-fatal parse issues.
const (
	WarnInvalidIndividualAddress = "INVALID_INDIVIDUAL_ADDRESS"
	WarnDuplicateDevice          = "DUPLICATE_DEVICE"
	WarnUnassignedDevice         = "UNASSIGNED_DEVICE"
	WarnApplicationNotFound      = "APPLICATION_NOT_FOUND"
	WarnTemplateNotFound         = "TEMPLATE_NOT_FOUND"
	WarnCatalogObjectNotFound    = "CATALOG_OBJECT_NOT_FOUND"
	WarnDuplicateObject          = "DUPLICATE_COMMUNICATION_OBJECT"
	WarnUnresolvedGroupAddress   = "UNRESOLVED_GROUP_ADDRESS"
	WarnInvalidGroupAddress      = "INVALID_GROUP_ADDRESS"
	WarnDuplicateGA              = "DUPLICATE_GA"
	WarnDuplicateGroupRange      = "DUPLICATE_GROUP_RANGE"
	WarnDPTUnknown               = "DPT_UNKNOWN"
	WarnLocationDeviceNotFound   = "LOCATION_DEVICE_NOT_FOUND"
	WarnFunctionGANotFound       = "FUNCTION_GA_NOT_FOUND"
	WarnLanguageNotFound         = "LANGUAGE_NOT_FOUND"
)

// Invariant names reported in a ConsistencyError.
const (
	InvariantObjectOwner      = "OBJECT_OWNER"
	InvariantGroupAddressLink = "GROUP_ADDRESS_LINK"
	InvariantUniqueKey        = "UNIQUE_KEY"
	InvariantTopologyRef      = "TOPOLOGY_REFERENCE"
	InvariantLocationRef      = "LOCATION_REFERENCE"
	InvariantGroupRangeRef    = "GROUP_RANGE_REFERENCE"
	InvariantFunctionRef      = "FUNCTION_REFERENCE"
	InvariantChannelRef       = "CHANNEL_REFERENCE"
)

// DocumentError reports an archive document that could not be decoded.
type DocumentError struct {
	// Document is the logical document name, e.g. "P-0123/0.xml".
	Document string
	Err      error
}

func (e *DocumentError) Error() string {
	return fmt.Sprintf("%s %s: %v", ErrMalformedDocument, e.Document, e.Err)
}

// Unwrap returns the underlying decode error.
func (e *DocumentError) Unwrap() error { return e.Err }

// Is reports ErrMalformedDocument so callers can match with errors.Is.
func (e *DocumentError) Is(target error) bool { return target == ErrMalformedDocument }

// Violation is a single failed structural check.
type Violation struct {
	Invariant string `json:"invariant"`
	Entity    string `json:"entity"`
	Message   string `json:"message"`
}

// ConsistencyError lists every structural violation found in a model.
type ConsistencyError struct {
	Violations []Violation
}

func (e *ConsistencyError) Error() string {
	parts := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		parts = append(parts, fmt.Sprintf("%s %s: %s", v.Invariant, v.Entity, v.Message))
	}
	return fmt.Sprintf("%s: %d violation(s): %s", ErrConsistency, len(e.Violations), strings.Join(parts, "; "))
}

// Is reports ErrConsistency so callers can match with errors.Is.
func (e *ConsistencyError) Is(target error) bool { return target == ErrConsistency }

// ParseWarning represents a non-fatal issue during parsing.
type ParseWarning struct {
	// Code is a machine-readable warning code.
	Code string `json:"code"`

	// Message is a human-readable description.
	Message string `json:"message"`

	// AffectedDevices lists individual addresses or device instance ids
	// affected by this warning.
	AffectedDevices []string `json:"affected_devices,omitempty"`

	// AffectedAddresses lists group addresses or ETS group address ids
	// affected by this warning.
	AffectedAddresses []string `json:"affected_addresses,omitempty"`
}

// violations accumulates consistency failures.
type violations []Violation

func (vs *violations) add(invariant, entity, format string, args ...any) {
	*vs = append(*vs, Violation{Invariant: invariant, Entity: entity, Message: fmt.Sprintf(format, args...)})
}

// err returns the violations sorted, or nil when there are none.
func (vs violations) err() error {
	if len(vs) == 0 {
		return nil
	}
	sorted := slices.Clone(vs)
	slices.SortFunc(sorted, func(a, b Violation) int {
		return cmp.Or(
			cmp.Compare(a.Invariant, b.Invariant),
			cmp.Compare(a.Entity, b.Entity),
			cmp.Compare(a.Message, b.Message),
		)
	})
	return &ConsistencyError{Violations: sorted}
}
