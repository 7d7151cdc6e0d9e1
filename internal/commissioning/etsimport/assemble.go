package etsimport

import (
	"fmt"
	"maps"
	"slices"
)

// Assemble merges the builder outputs into the final Project and validates
// the whole graph. Function group address references that cannot be
// resolved are dropped with a warning; any structural violation is
// returned as a *ConsistencyError listing all of them.
func Assemble(info ProjectInfo, topology *TopologyResult, groups *GroupAddressResult, link *LinkResult) (*Project, []ParseWarning, error) {
	var warnings []ParseWarning

	functions := make(map[string]Function, len(topology.Functions))
	for _, id := range slices.Sorted(maps.Keys(topology.Functions)) {
		fn := topology.Functions[id]
		fn.GroupAddresses = []FunctionGroupAddress{}
		for _, ref := range topology.functionRefs[id] {
			address, ok := groups.ResolveFrom(ref.RefID, id)
			if ok {
				_, ok = link.GroupAddresses[address]
			}
			if !ok {
				warnings = append(warnings, ParseWarning{
					Code:              WarnFunctionGANotFound,
					Message:           fmt.Sprintf("function %q references unknown group address %s", fn.Name, ref.RefID),
					AffectedAddresses: []string{ref.RefID},
				})
				continue
			}
			fn.GroupAddresses = append(fn.GroupAddresses, FunctionGroupAddress{Address: address, Name: ref.Name, Role: ref.Role})
		}
		functions[id] = fn
	}

	p := &Project{
		info:      info,
		devices:   cloneMap(link.Devices, Device.clone),
		objects:   cloneMap(link.Objects, CommunicationObject.clone),
		addresses: cloneMap(link.GroupAddresses, GroupAddress.clone),
		topology:  cloneMap(topology.Areas, Area.clone),
		locations: cloneMap(topology.Spaces, Space.clone),
		ranges:    cloneMap(groups.Ranges, GroupRange.clone),
		functions: cloneMap(functions, Function.clone),
	}

	if err := validate(p); err != nil {
		return nil, warnings, err
	}
	return p, warnings, nil
}

// validate runs every structural check over a complete model.
func validate(p *Project) error {
	var vs violations
	checkKeys(&vs, p)
	checkObjectOwnership(&vs, p.devices, p.objects)
	checkGroupAddressLinks(&vs, p.objects, p.addresses)
	checkChannels(&vs, p.devices, p.objects)
	checkTopology(&vs, p)
	checkLocations(&vs, p)
	checkGroupRanges(&vs, p)
	return vs.err()
}

// checkKeys asserts that map keys agree with the identifiers they index
// and that identifier lists carry no duplicates.
func checkKeys(vs *violations, p *Project) {
	for key, d := range p.devices {
		if d.IndividualAddress != key {
			vs.add(InvariantUniqueKey, key, "device keyed %q has individual address %q", key, d.IndividualAddress)
		}
		if dup := firstDuplicate(d.CommunicationObjectIDs); dup != "" {
			vs.add(InvariantUniqueKey, key, "device lists object %s more than once", dup)
		}
	}
	for key, c := range p.objects {
		if c.Identifier != key {
			vs.add(InvariantUniqueKey, key, "object keyed %q has identifier %q", key, c.Identifier)
		}
		if dup := firstDuplicate(c.GroupAddressLinks); dup != "" {
			vs.add(InvariantUniqueKey, key, "object links %s more than once", dup)
		}
	}
	for key, g := range p.addresses {
		if g.Address != key {
			vs.add(InvariantUniqueKey, key, "group address keyed %q has address %q", key, g.Address)
		}
		if dup := firstDuplicate(g.CommunicationObjectIDs); dup != "" {
			vs.add(InvariantUniqueKey, key, "group address lists object %s more than once", dup)
		}
	}
}

// checkObjectOwnership asserts that every object has exactly one owning
// device listing it and that every listed object exists.
func checkObjectOwnership(vs *violations, devices map[string]Device, objects map[string]CommunicationObject) {
	for id, c := range objects {
		d, ok := devices[c.DeviceAddress]
		if !ok {
			vs.add(InvariantObjectOwner, id, "owning device %s does not exist", c.DeviceAddress)
			continue
		}
		if !slices.Contains(d.CommunicationObjectIDs, id) {
			vs.add(InvariantObjectOwner, id, "device %s does not list the object", c.DeviceAddress)
		}
	}
	for address, d := range devices {
		for _, id := range d.CommunicationObjectIDs {
			c, ok := objects[id]
			if !ok {
				vs.add(InvariantObjectOwner, address, "listed object %s does not exist", id)
				continue
			}
			if c.DeviceAddress != address {
				vs.add(InvariantObjectOwner, address, "listed object %s belongs to %s", id, c.DeviceAddress)
			}
		}
	}
}

// checkGroupAddressLinks asserts both directions of the object/group
// address relation.
func checkGroupAddressLinks(vs *violations, objects map[string]CommunicationObject, addresses map[string]GroupAddress) {
	for id, c := range objects {
		for _, a := range c.GroupAddressLinks {
			g, ok := addresses[a]
			if !ok {
				vs.add(InvariantGroupAddressLink, id, "linked group address %s does not exist", a)
				continue
			}
			if !slices.Contains(g.CommunicationObjectIDs, id) {
				vs.add(InvariantGroupAddressLink, id, "group address %s does not list the object", a)
			}
		}
	}
	for a, g := range addresses {
		for _, id := range g.CommunicationObjectIDs {
			c, ok := objects[id]
			if !ok {
				vs.add(InvariantGroupAddressLink, a, "listed object %s does not exist", id)
				continue
			}
			if !slices.Contains(c.GroupAddressLinks, a) {
				vs.add(InvariantGroupAddressLink, a, "listed object %s does not link back", id)
			}
		}
	}
}

// checkChannels asserts that channel members are objects of the same
// device assigned to that channel, and that every assigned object is a
// member.
func checkChannels(vs *violations, devices map[string]Device, objects map[string]CommunicationObject) {
	for address, d := range devices {
		for key, ch := range d.Channels {
			if ch.Identifier != key {
				vs.add(InvariantChannelRef, address, "channel keyed %q has identifier %q", key, ch.Identifier)
			}
			for _, id := range ch.CommunicationObjectIDs {
				if !slices.Contains(d.CommunicationObjectIDs, id) {
					vs.add(InvariantChannelRef, address, "channel %s lists object %s the device does not", key, id)
					continue
				}
				if c, ok := objects[id]; ok && c.Channel != key {
					vs.add(InvariantChannelRef, address, "channel %s lists object %s assigned to %q", key, id, c.Channel)
				}
			}
		}
	}
	for id, c := range objects {
		if c.Channel == "" {
			continue
		}
		d, ok := devices[c.DeviceAddress]
		if !ok {
			continue
		}
		if ch, ok := d.Channels[c.Channel]; !ok || !slices.Contains(ch.CommunicationObjectIDs, id) {
			vs.add(InvariantChannelRef, id, "channel %s of device %s does not list the object", c.Channel, c.DeviceAddress)
		}
	}
}

func checkTopology(vs *violations, p *Project) {
	for areaKey, area := range p.topology {
		for lineKey, line := range area.Lines {
			for _, ia := range line.Devices {
				d, ok := p.devices[ia]
				if !ok {
					vs.add(InvariantTopologyRef, lineKey, "line lists unknown device %s", ia)
					continue
				}
				if d.LineAddress != lineKey || d.AreaAddress != areaKey {
					vs.add(InvariantTopologyRef, lineKey, "device %s belongs to line %s", ia, d.LineAddress)
				}
			}
		}
	}
}

func checkLocations(vs *violations, p *Project) {
	for id, s := range p.locations {
		if s.ParentID != "" {
			parent, ok := p.locations[s.ParentID]
			if !ok {
				vs.add(InvariantLocationRef, id, "parent space %s does not exist", s.ParentID)
			} else if !slices.Contains(parent.SpaceIDs, id) {
				vs.add(InvariantLocationRef, id, "parent space %s does not list the space", s.ParentID)
			}
		}
		for _, child := range s.SpaceIDs {
			if c, ok := p.locations[child]; !ok || c.ParentID != id {
				vs.add(InvariantLocationRef, id, "child space %s does not exist or has another parent", child)
			}
		}
		for _, ia := range s.Devices {
			if _, ok := p.devices[ia]; !ok {
				vs.add(InvariantLocationRef, id, "space lists unknown device %s", ia)
			}
		}
		for _, fid := range s.FunctionIDs {
			if f, ok := p.functions[fid]; !ok || f.SpaceID != id {
				vs.add(InvariantFunctionRef, id, "function %s does not exist or belongs to another space", fid)
			}
		}
	}
	for id, f := range p.functions {
		if _, ok := p.locations[f.SpaceID]; !ok {
			vs.add(InvariantFunctionRef, id, "space %s does not exist", f.SpaceID)
		}
		for _, ref := range f.GroupAddresses {
			if _, ok := p.addresses[ref.Address]; !ok {
				vs.add(InvariantFunctionRef, id, "group address %s does not exist", ref.Address)
			}
		}
	}
}

func checkGroupRanges(vs *violations, p *Project) {
	for id, r := range p.ranges {
		if r.ParentID != "" {
			if parent, ok := p.ranges[r.ParentID]; !ok || !slices.Contains(parent.GroupRangeIDs, id) {
				vs.add(InvariantGroupRangeRef, id, "parent range %s does not exist or does not list the range", r.ParentID)
			}
		}
		for _, child := range r.GroupRangeIDs {
			if c, ok := p.ranges[child]; !ok || c.ParentID != id {
				vs.add(InvariantGroupRangeRef, id, "child range %s does not exist or has another parent", child)
			}
		}
		for _, a := range r.GroupAddresses {
			g, ok := p.addresses[a]
			if !ok {
				vs.add(InvariantGroupRangeRef, id, "group address %s does not exist", a)
				continue
			}
			if !slices.Contains(g.GroupRangeIDs, id) {
				vs.add(InvariantGroupRangeRef, id, "group address %s does not list the range", a)
			}
		}
	}
	for a, g := range p.addresses {
		for _, id := range g.GroupRangeIDs {
			if _, ok := p.ranges[id]; !ok {
				vs.add(InvariantGroupRangeRef, a, "group range %s does not exist", id)
			}
		}
	}
}

func firstDuplicate(ids []string) string {
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			return id
		}
		seen[id] = true
	}
	return ""
}

