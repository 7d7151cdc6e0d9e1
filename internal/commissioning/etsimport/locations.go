package etsimport

// walkLocations builds the space hierarchy of one installation: ETS4
// Buildings/BuildingPart or ETS5+ Locations/Space, with ETS6 functions.
func (b *topologyBuilder) walkLocations(installation *node) {
	root := installation.child(b.schema.name(fieldLocationRoot))
	for _, space := range root.children(b.schema.name(fieldSpace)) {
		b.addSpace(space, "")
	}
}

func (b *topologyBuilder) addSpace(n *node, parentID string) {
	id := n.attr("Id")
	if _, exists := b.result.Spaces[id]; exists || id == "" {
		return
	}

	space := Space{
		Identifier:  id,
		Name:        n.attr("Name"),
		Type:        n.attr("Type"),
		UsageID:     n.attr(b.schema.name(fieldSpaceUsage)),
		Number:      n.attr("Number"),
		Description: n.attr("Description"),
		ParentID:    parentID,
	}
	// Reserve the key before recursing so children see their parent.
	b.result.Spaces[id] = space

	for i := range n.Nodes {
		child := &n.Nodes[i]
		switch name := child.XMLName.Local; {
		case name == b.schema.name(fieldSpace):
			if childID := child.attr("Id"); childID != "" {
				if _, exists := b.result.Spaces[childID]; !exists {
					space.SpaceIDs = append(space.SpaceIDs, childID)
				}
			}
			b.addSpace(child, id)

		case name == "DeviceInstanceRef":
			ref := child.attr("RefId")
			address, ok := b.byInstance[ref]
			if !ok {
				b.warn(WarnLocationDeviceNotFound, []string{ref}, "space %q references unknown device instance %s", space.Name, ref)
				continue
			}
			space.Devices = append(space.Devices, address)

		case name == b.schema.name(fieldFunction) && name != "":
			if fid := b.addFunction(child, id); fid != "" {
				space.FunctionIDs = append(space.FunctionIDs, fid)
			}
		}
	}

	b.result.Spaces[id] = space
}

func (b *topologyBuilder) addFunction(n *node, spaceID string) string {
	id := n.attr("Id")
	if _, exists := b.result.Functions[id]; exists || id == "" {
		return ""
	}
	b.result.Functions[id] = Function{
		Identifier:   id,
		Name:         n.attr("Name"),
		FunctionType: n.attr("Type"),
		Number:       n.attr("Number"),
		Comment:      n.attr("Comment"),
		SpaceID:      spaceID,
	}

	var refs []functionRef
	for _, ref := range n.children(b.schema.name(fieldFunctionGroupAddressRef)) {
		refs = append(refs, functionRef{
			RefID: ref.attr("RefId"),
			Name:  ref.attr("Name"),
			Role:  ref.attr("Role"),
		})
	}
	b.result.functionRefs[id] = refs
	return id
}
