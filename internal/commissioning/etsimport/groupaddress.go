package etsimport

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/nerrad567/gray-logic-knxproj/internal/knx"
)

// GroupAddressResult is the output of BuildGroupAddresses.
type GroupAddressResult struct {
	// Addresses declared in the range tree, keyed by address string.
	Addresses map[string]GroupAddress

	// Ranges keyed by range identifier.
	Ranges map[string]GroupRange

	// byID maps full ETS ids ("P-0123-0_GA-1") to the address string.
	byID map[string]string

	// byShort maps an installation prefix ("P-0123-0") and short id
	// ("GA-1") to the address string. scopes lists the prefixes in
	// declaration order.
	byShort map[string]map[string]string
	scopes  []string

	// loose holds addresses declared outside the range tree. They become
	// implicit entries once an object links to them.
	loose map[string]GroupAddress
}

// Resolve maps an ETS group address id, full or short, to its address
// string. A bare short id resolves in the first installation declaring it.
func (r *GroupAddressResult) Resolve(id string) (string, bool) {
	return r.ResolveFrom(id, id)
}

// ResolveFrom resolves id as referenced by the element with ETS id from.
// Short ids bind within from's installation; only when that installation
// declares no group addresses does the first installation declaring the
// short id win.
func (r *GroupAddressResult) ResolveFrom(id, from string) (string, bool) {
	if addr, ok := r.byID[id]; ok {
		return addr, true
	}
	short := shortID(id)
	if index, ok := r.byShort[scopeOf(from)]; ok {
		addr, ok := index[short]
		return addr, ok
	}
	for _, scope := range r.scopes {
		if addr, ok := r.byShort[scope][short]; ok {
			return addr, true
		}
	}
	return "", false
}

// scopeOf returns the installation prefix of an ETS id, empty for short
// ids.
func scopeOf(id string) string {
	if i := strings.LastIndex(id, "_"); i >= 0 {
		return id[:i]
	}
	return ""
}

// shortID strips the project and installation prefix from an ETS id.
func shortID(id string) string {
	if i := strings.LastIndex(id, "_"); i >= 0 {
		return id[i+1:]
	}
	return id
}

// BuildGroupAddresses parses the group range tree and the leaf addresses
// of every installation. The raw value always comes from the numeric
// Address attribute; the key is presented in style.
func BuildGroupAddresses(ctx context.Context, a *Archive, schema Schema, style knx.GroupAddressStyle) (*GroupAddressResult, []ParseWarning, error) {
	b := &groupBuilder{
		schema: schema,
		style:  style,
		result: &GroupAddressResult{
			Addresses: make(map[string]GroupAddress),
			Ranges:    make(map[string]GroupRange),
			byID:      make(map[string]string),
			byShort:   make(map[string]map[string]string),
			loose:     make(map[string]GroupAddress),
		},
	}

	var containers []*node
	for _, name := range a.InstallationNames() {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		r, _ := a.Open(name)
		root, err := decodeDocument(name, r)
		if err != nil {
			return nil, nil, err
		}
		containers = append(containers, root.all("Project", "Installations", "Installation", "GroupAddresses")...)
	}

	// Range tree declarations take precedence over loose ones.
	for _, c := range containers {
		for _, r := range c.all("GroupRanges", "GroupRange") {
			b.addRange(r, "", 1)
		}
	}
	for _, c := range containers {
		for _, n := range c.children("GroupAddress") {
			b.addAddress(n, "")
		}
	}

	return b.result, b.warnings, nil
}

type groupBuilder struct {
	schema   Schema
	style    knx.GroupAddressStyle
	result   *GroupAddressResult
	warnings []ParseWarning
}

func (b *groupBuilder) warn(code string, addresses []string, format string, args ...any) {
	b.warnings = append(b.warnings, ParseWarning{
		Code:              code,
		Message:           fmt.Sprintf(format, args...),
		AffectedAddresses: addresses,
	})
}

func (b *groupBuilder) addRange(n *node, parentID string, depth int) string {
	start, errStart := knx.ParseRawGroupAddress(n.attr("RangeStart"))
	end, errEnd := knx.ParseRawGroupAddress(n.attr("RangeEnd"))
	if errStart != nil || errEnd != nil {
		b.warn(WarnInvalidGroupAddress, []string{n.attr("Id")}, "group range %q has invalid bounds %q-%q", n.attr("Name"), n.attr("RangeStart"), n.attr("RangeEnd"))
		return ""
	}

	key := b.rangeKey(start, end, depth)
	if _, exists := b.result.Ranges[key]; exists {
		b.warn(WarnDuplicateGroupRange, []string{key}, "group range %q duplicates range %s", n.attr("Name"), key)
		key = key + "@" + n.attr("Id")
		if _, exists := b.result.Ranges[key]; exists {
			return ""
		}
	}

	gr := GroupRange{
		Identifier:   key,
		Name:         n.attr("Name"),
		AddressStart: start,
		AddressEnd:   end,
		Comment:      n.attr("Comment"),
		ParentID:     parentID,
	}
	b.result.Ranges[key] = gr

	for i := range n.Nodes {
		child := &n.Nodes[i]
		switch child.XMLName.Local {
		case "GroupRange":
			if childKey := b.addRange(child, key, depth+1); childKey != "" {
				gr.GroupRangeIDs = append(gr.GroupRangeIDs, childKey)
			}
		case "GroupAddress":
			if addr := b.addAddress(child, key); addr != "" && !slices.Contains(gr.GroupAddresses, addr) {
				gr.GroupAddresses = append(gr.GroupAddresses, addr)
			}
		}
	}

	b.result.Ranges[key] = gr
	return key
}

// rangeKey derives a stable range key from the start address and depth:
// "6" and "6/0" for three-level, "6" for two-level main ranges, and
// "start-end" otherwise.
func (b *groupBuilder) rangeKey(start, end uint16, depth int) string {
	ga := knx.GroupAddressFromUint16(start)
	switch {
	case b.style == knx.StyleThreeLevel && depth == 1, b.style == knx.StyleTwoLevel && depth == 1:
		return strconv.Itoa(int(ga.Main))
	case b.style == knx.StyleThreeLevel && depth == 2:
		return fmt.Sprintf("%d/%d", ga.Main, ga.Middle)
	default:
		return fmt.Sprintf("%d-%d", start, end)
	}
}

// index registers a GroupAddress id. Within one installation the first
// declaration of a short id wins and later ones are reported.
func (b *groupBuilder) index(id, address string) {
	if _, ok := b.result.byID[id]; !ok {
		b.result.byID[id] = address
	}
	scope, short := scopeOf(id), shortID(id)
	index, ok := b.result.byShort[scope]
	if !ok {
		index = make(map[string]string)
		b.result.byShort[scope] = index
		b.result.scopes = append(b.result.scopes, scope)
	}
	if existing, ok := index[short]; ok {
		if existing != address {
			b.warn(WarnDuplicateGA, []string{existing, address}, "group address id %s already names %s, ignoring it for %s", id, existing, address)
		}
		return
	}
	index[short] = address
}

// addAddress records one GroupAddress element. rangeID is empty for
// declarations outside the range tree.
func (b *groupBuilder) addAddress(n *node, rangeID string) string {
	id := n.attr("Id")
	raw, err := knx.ParseRawGroupAddress(n.attr("Address"))
	if err != nil {
		b.warn(WarnInvalidGroupAddress, []string{id}, "group address %q: %v", n.attr("Name"), err)
		return ""
	}
	address := knx.GroupAddressFromUint16(raw).Format(b.style)

	if id != "" {
		b.index(id, address)
	}

	if existing, ok := b.result.Addresses[address]; ok {
		if rangeID == "" {
			return address
		}
		// First occurrence keeps descriptive fields; both ranges keep it.
		b.warn(WarnDuplicateGA, []string{address}, "group address %s declared again as %q", address, n.attr("Name"))
		if !slices.Contains(existing.GroupRangeIDs, rangeID) {
			existing.GroupRangeIDs = append(existing.GroupRangeIDs, rangeID)
		}
		b.result.Addresses[address] = existing
		return address
	}

	ga := GroupAddress{
		Address:     address,
		Name:        n.attr("Name"),
		Identifier:  id,
		RawAddress:  raw,
		Description: n.attr("Description"),
		Comment:     n.attr("Comment"),
	}
	if key := b.schema.name(fieldSecureKey); key != "" {
		ga.DataSecure = n.attr(key) != ""
	}
	if puid, err := strconv.Atoi(n.attr("Puid")); err == nil {
		ga.ProjectUID = &puid
	}
	if v := n.attr("DatapointType"); v != "" {
		if dpts := knx.ParseDPTList(v); len(dpts) > 0 {
			ga.DPT = &dpts[0]
		} else {
			b.warn(WarnDPTUnknown, []string{address}, "group address %s has unknown datapoint type %q", address, v)
		}
	}

	if rangeID == "" {
		if _, ok := b.result.loose[address]; !ok {
			ga.Implicit = true
			b.result.loose[address] = ga
		}
		return address
	}

	ga.GroupRangeIDs = []string{rangeID}
	b.result.Addresses[address] = ga
	return address
}
