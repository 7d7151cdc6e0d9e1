package etsimport

import (
	"context"
	"fmt"
	"strings"

	"github.com/nerrad567/gray-logic-knxproj/internal/knx"
)

// DeviceInstance is a device from the topology together with the raw
// instantiation data the linker joins against the catalog.
type DeviceInstance struct {
	Device Device

	// HardwareProgramID is the Hardware2ProgramRefId naming the
	// application program.
	HardwareProgramID string

	Objects []ObjectInstance

	// Channels are the channel nodes of the device's group object tree in
	// document order.
	Channels []ChannelInstance
}

// ChannelInstance is a Node of Type "Channel" in a device's
// GroupObjectTree.
type ChannelInstance struct {
	// RefID is the full catalog channel id.
	RefID string

	// Text is the channel name typed in the project, often empty.
	Text string

	// Objects are short catalog reference ids.
	Objects []string
}

// ObjectInstance is one ComObjectInstanceRef of a device.
type ObjectInstance struct {
	// RefID is the short catalog reference id ("O-40_R-1433").
	RefID string

	// Links are the ETS group address ids in declaration order, full
	// ("P-0123-0_GA-1") or short ("GA-1") depending on the generation.
	Links []string

	// attrs holds only the instance attributes, applied over the template.
	attrs *node
}

// TopologyResult is the output of BuildTopology.
type TopologyResult struct {
	// Devices is in document order.
	Devices   []DeviceInstance
	Areas     map[string]Area
	Spaces    map[string]Space
	Functions map[string]Function

	// functionRefs holds each function's group address references
	// until the group address index is available.
	functionRefs map[string][]functionRef

	schema Schema
}

type functionRef struct {
	RefID string
	Name  string
	Role  string
}

// BuildTopology parses areas, lines and devices from every installation
// document, then the location hierarchy. Tolerable per-device problems are
// returned as warnings and the device is excluded.
func BuildTopology(ctx context.Context, a *Archive, schema Schema) (*TopologyResult, []ParseWarning, error) {
	result := &TopologyResult{
		Areas:        make(map[string]Area),
		Spaces:       make(map[string]Space),
		Functions:    make(map[string]Function),
		functionRefs: make(map[string][]functionRef),
		schema:       schema,
	}
	b := &topologyBuilder{
		schema:     schema,
		result:     result,
		byInstance: make(map[string]string),
		seen:       make(map[string]bool),
	}

	var installations []*node
	for _, name := range a.InstallationNames() {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		r, _ := a.Open(name)
		root, err := decodeDocument(name, r)
		if err != nil {
			return nil, nil, err
		}
		installations = append(installations, root.all("Project", "Installations", "Installation")...)
	}

	// All devices first so locations in any installation can resolve them.
	for _, inst := range installations {
		b.walkTopology(inst.child("Topology"))
	}
	for _, inst := range installations {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		b.walkLocations(inst)
	}

	return result, b.warnings, nil
}

type topologyBuilder struct {
	schema   Schema
	result   *TopologyResult
	warnings []ParseWarning

	// byInstance maps DeviceInstance Id to individual address.
	byInstance map[string]string
	seen       map[string]bool
}

func (b *topologyBuilder) warn(code string, devices []string, format string, args ...any) {
	b.warnings = append(b.warnings, ParseWarning{
		Code:            code,
		Message:         fmt.Sprintf(format, args...),
		AffectedDevices: devices,
	})
}

func (b *topologyBuilder) walkTopology(topology *node) {
	for _, area := range topology.children("Area") {
		areaIA, err := knx.NewIndividualAddress(area.attr("Address"), "0", "0")
		if err != nil {
			b.warn(WarnInvalidIndividualAddress, nil, "area %q has an invalid address %q", area.attr("Name"), area.attr("Address"))
			continue
		}
		areaKey := fmt.Sprint(areaIA.Area)
		entry, ok := b.result.Areas[areaKey]
		if !ok {
			entry = Area{
				Address:     areaKey,
				Name:        area.attr("Name"),
				Description: area.attr("Description"),
				Lines:       make(map[string]Line),
			}
		}

		for _, line := range area.children("Line") {
			lineIA, err := knx.NewIndividualAddress(areaKey, line.attr("Address"), "0")
			if err != nil {
				b.warn(WarnInvalidIndividualAddress, nil, "line %q in area %s has an invalid address %q", line.attr("Name"), areaKey, line.attr("Address"))
				continue
			}
			lineKey := lineIA.LineString()
			l, ok := entry.Lines[lineKey]
			if !ok {
				l = Line{
					Address:     lineKey,
					Name:        line.attr("Name"),
					Description: line.attr("Description"),
					MediumType:  line.attr("MediumTypeRefId"),
				}
			}

			instances := line.children("DeviceInstance")
			for _, seg := range line.children(b.schema.name(fieldSegment)) {
				if l.MediumType == "" {
					l.MediumType = seg.attr("MediumTypeRefId")
				}
				instances = append(instances, seg.children("DeviceInstance")...)
			}

			for _, di := range instances {
				if ia, ok := b.addDevice(di, lineIA); ok {
					l.Devices = append(l.Devices, ia)
				}
			}
			entry.Lines[lineKey] = l
		}
		b.result.Areas[areaKey] = entry
	}

	for _, di := range topology.all("UnassignedDevices", "DeviceInstance") {
		b.warn(WarnUnassignedDevice, []string{di.attr("Id")}, "device %q has no individual address", di.attr("Name"))
	}
}

// addDevice validates and records one DeviceInstance.
func (b *topologyBuilder) addDevice(di *node, line knx.IndividualAddress) (string, bool) {
	id := di.attr("Id")
	number, ok := di.lookupAttr("Address")
	if !ok || number == "" {
		b.warn(WarnUnassignedDevice, []string{id}, "device %q on line %s has no individual address", di.attr("Name"), line.LineString())
		return "", false
	}

	ia, err := knx.NewIndividualAddress(fmt.Sprint(line.Area), fmt.Sprint(line.Line), number)
	if err != nil {
		b.warn(WarnInvalidIndividualAddress, []string{id}, "device %q: %v", di.attr("Name"), err)
		return "", false
	}
	address := ia.String()
	if b.seen[address] {
		b.warn(WarnDuplicateDevice, []string{address, id}, "device %q duplicates individual address %s", di.attr("Name"), address)
		return "", false
	}
	b.seen[address] = true
	b.byInstance[id] = address

	productRef := di.attr("ProductRefId")
	inst := DeviceInstance{
		Device: Device{
			Name:              di.attr("Name"),
			Description:       di.attr("Description"),
			IndividualAddress: address,
			InstanceID:        id,
			ProductRefID:      productRef,
			ManufacturerID:    manufacturerOf(productRef),
			AreaAddress:       fmt.Sprint(ia.Area),
			LineAddress:       ia.LineString(),
		},
		HardwareProgramID: di.attr("Hardware2ProgramRefId"),
	}

	for _, ref := range di.all("ComObjectInstanceRefs", "ComObjectInstanceRef") {
		if ref.attr("IsActive") == "false" {
			continue
		}
		inst.Objects = append(inst.Objects, ObjectInstance{
			RefID: b.schema.shortRefID(ref.attr("RefId")),
			Links: b.objectLinks(ref),
			attrs: &node{XMLName: ref.XMLName, Attrs: ref.Attrs},
		})
	}

	inst.Channels = b.channelInstances(di)

	b.result.Devices = append(b.result.Devices, inst)
	return address, true
}

func (b *topologyBuilder) channelInstances(di *node) []ChannelInstance {
	var out []ChannelInstance
	for _, n := range di.descendants("Node") {
		if n.attr("Type") != "Channel" || n.attr("RefId") == "" {
			continue
		}
		ch := ChannelInstance{RefID: n.attr("RefId"), Text: n.attr("Text")}
		for _, ref := range strings.Fields(n.attr("GroupObjectInstances")) {
			ch.Objects = append(ch.Objects, b.schema.shortRefID(ref))
		}
		out = append(out, ch)
	}
	return out
}

// objectLinks returns the GA ids of an instance ref in declaration order.
// The generation's own link form is read first; the other form is
// accepted when the first is absent.
func (b *topologyBuilder) objectLinks(ref *node) []string {
	fromAttr := func() []string {
		return strings.Fields(ref.attr("Links"))
	}
	fromConnectors := func() []string {
		var links []string
		connectors := ref.child(b.schema.name(fieldConnectors))
		if connectors == nil {
			return nil
		}
		refAttr := b.schema.name(fieldConnectorRef)
		for i := range connectors.Nodes {
			if id := connectors.Nodes[i].attr(refAttr); id != "" {
				links = append(links, id)
			}
		}
		return links
	}

	primary, secondary := fromConnectors, fromAttr
	if b.schema.name(fieldLinks) != "" {
		primary, secondary = fromAttr, fromConnectors
	}
	if links := primary(); len(links) > 0 {
		return links
	}
	return secondary()
}
