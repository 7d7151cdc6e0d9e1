package etsimport

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
)

// LinkResult is the linked device, object and group address graph.
type LinkResult struct {
	Devices        map[string]Device
	Objects        map[string]CommunicationObject
	GroupAddresses map[string]GroupAddress

	// sources records the catalog ids each object was built from, for the
	// translation overlay.
	sources map[string]objectSource

	// channelSources maps "{device}/{channel}" to the catalog channel a
	// channel name was taken from. Names typed on the device are absent.
	channelSources map[string]channelSource
}

type objectSource struct {
	comObjectRefID string
	comObjectID    string

	// instanceText lists display attributes set on the instance; user
	// text is not replaced by catalog translations.
	instanceText map[string]bool

	// refText lists display attributes the ComObjectRef overrides.
	refText map[string]bool
}

type channelSource struct {
	catalogID string
	attr      string
}

// Link joins device instances with catalog templates and group addresses.
//
// For every instantiated object the identifier "{individual address}/
// {catalog reference id}" is synthesized and the template resolved by
// (manufacturer, application, reference id). Instance attributes override
// template defaults. Each link is resolved to a group address, creating an
// implicit entry for addresses declared outside the range tree, and the
// back-reference is appended. The object/device and object/group address
// relations are checked before returning.
func Link(topology *TopologyResult, catalog *Catalog, groups *GroupAddressResult) (*LinkResult, []ParseWarning, error) {
	l := &linker{
		schema: topology.schema,
		groups: groups,
		result: &LinkResult{
			Devices:        make(map[string]Device, len(topology.Devices)),
			Objects:        make(map[string]CommunicationObject),
			GroupAddresses: cloneMap(groups.Addresses, GroupAddress.clone),
			sources:        make(map[string]objectSource),
			channelSources: make(map[string]channelSource),
		},
	}

	for _, inst := range topology.Devices {
		l.linkDevice(inst, catalog)
	}

	var vs violations
	checkObjectOwnership(&vs, l.result.Devices, l.result.Objects)
	checkGroupAddressLinks(&vs, l.result.Objects, l.result.GroupAddresses)
	checkChannels(&vs, l.result.Devices, l.result.Objects)
	if err := vs.err(); err != nil {
		return nil, l.warnings, err
	}
	return l.result, l.warnings, nil
}

type linker struct {
	schema   Schema
	groups   *GroupAddressResult
	result   *LinkResult
	warnings []ParseWarning
}

func (l *linker) warn(code string, devices, addresses []string, format string, args ...any) {
	l.warnings = append(l.warnings, ParseWarning{
		Code:              code,
		Message:           fmt.Sprintf(format, args...),
		AffectedDevices:   devices,
		AffectedAddresses: addresses,
	})
}

func (l *linker) linkDevice(inst DeviceInstance, catalog *Catalog) {
	d := inst.Device
	address := d.IndividualAddress
	d.CommunicationObjectIDs = []string{}
	d.Channels = make(map[string]Channel)

	if p, ok := catalog.Products[d.ProductRefID]; ok {
		d.HardwareName = p.Text
		d.OrderNumber = p.OrderNumber
	}
	d.ManufacturerName = catalog.Manufacturers[d.ManufacturerID]

	app := catalog.Application(d.ManufacturerID, inst.HardwareProgramID)
	if app == nil {
		// Devices without an application program (power supplies) are
		// expected; only warn when something was configured.
		if inst.HardwareProgramID != "" || len(inst.Objects) > 0 {
			l.warn(WarnApplicationNotFound, []string{address}, nil,
				"device %s: application for %q not found in catalog", address, inst.HardwareProgramID)
		}
		l.result.Devices[address] = d
		return
	}
	d.ApplicationID = app.ID
	d.ApplicationName = app.Name

	// Channel membership written on the device wins over the catalog.
	prefix := app.ID + "_"
	instanceChannel := make(map[string]string)
	for _, ch := range inst.Channels {
		key := strings.TrimPrefix(ch.RefID, prefix)
		l.addChannel(&d, app, key, ch.Text)
		for _, ref := range ch.Objects {
			if _, assigned := instanceChannel[ref]; !assigned {
				instanceChannel[ref] = key
			}
		}
	}

	for _, obj := range inst.Objects {
		id := address + "/" + obj.RefID
		if _, dup := l.result.Objects[id]; dup {
			l.warn(WarnDuplicateObject, []string{address}, nil, "device %s instantiates %s twice", address, obj.RefID)
			continue
		}

		var t Template
		tmpl, fromTemplate := app.Templates[obj.RefID]
		if fromTemplate {
			t = *tmpl
		} else {
			l.warn(WarnTemplateNotFound, []string{address}, nil,
				"device %s: no catalog template %s in %s, using instance data", address, obj.RefID, app.ID)
			t = Template{RefID: obj.RefID}
		}
		applyObjectAttrs(&t, obj.attrs, l.schema)

		co := CommunicationObject{
			Identifier:    id,
			DeviceAddress: address,
			RefID:         obj.RefID,
			Number:        t.Number,
			Name:          t.Name,
			Text:          t.Text,
			FunctionText:  t.FunctionText,
			Description:   t.Description,
			DPTs:          t.DPTs,
			ObjectSize:    t.ObjectSize,
			Flags:         t.Flags,
			FromTemplate:  fromTemplate,
		}
		co = co.clone()
		co.GroupAddressLinks = l.linkAddresses(id, inst.Device, obj.Links)

		if key := cmp.Or(instanceChannel[obj.RefID], t.Channel); key != "" {
			l.addChannel(&d, app, key, "")
			ch := d.Channels[key]
			ch.CommunicationObjectIDs = append(ch.CommunicationObjectIDs, id)
			d.Channels[key] = ch
			co.Channel = key
		}

		l.result.Objects[id] = co
		l.result.sources[id] = objectSource{
			comObjectRefID: t.ComObjectRefID,
			comObjectID:    t.ComObjectID,
			instanceText:   textAttrs(obj.attrs),
			refText:        t.refText,
		}
		d.CommunicationObjectIDs = append(d.CommunicationObjectIDs, id)
	}

	l.result.Devices[address] = d
}

// linkAddresses resolves GA ids within the device's installation to address
// strings, deduplicated in declaration order, and appends the object to
// each group address.
func (l *linker) linkAddresses(objectID string, d Device, ids []string) []string {
	device := d.IndividualAddress
	links := []string{}
	for _, gaID := range ids {
		address, ok := l.groups.ResolveFrom(gaID, d.InstanceID)
		if !ok {
			l.warn(WarnUnresolvedGroupAddress, []string{device}, []string{gaID},
				"object %s links to unknown group address id %s", objectID, gaID)
			continue
		}
		if slices.Contains(links, address) {
			continue
		}

		ga, ok := l.result.GroupAddresses[address]
		if !ok {
			loose, declared := l.groups.loose[address]
			if !declared {
				l.warn(WarnUnresolvedGroupAddress, []string{device}, []string{gaID},
					"object %s links to undeclared group address %s", objectID, address)
				continue
			}
			ga = loose.clone()
		}
		if !slices.Contains(ga.CommunicationObjectIDs, objectID) {
			ga.CommunicationObjectIDs = append(ga.CommunicationObjectIDs, objectID)
		}
		l.result.GroupAddresses[address] = ga
		links = append(links, address)
	}
	return links
}

// addChannel creates the channel on d unless it already exists. An empty
// text falls back to the catalog channel's Text, then its Name.
func (l *linker) addChannel(d *Device, app *Application, key, text string) {
	if _, exists := d.Channels[key]; exists {
		return
	}
	ch := Channel{Identifier: key, Name: text, CommunicationObjectIDs: []string{}}
	if text == "" {
		if ac, ok := app.Channels[key]; ok {
			src := channelSource{catalogID: ac.ID, attr: "Text"}
			ch.Name = ac.Text
			if ch.Name == "" {
				src.attr, ch.Name = "Name", ac.Name
			}
			if ch.Name != "" {
				l.result.channelSources[d.IndividualAddress+"/"+key] = src
			}
		}
	}
	d.Channels[key] = ch
}

// textAttrs reports which display attributes are set on n.
func textAttrs(n *node) map[string]bool {
	set := make(map[string]bool)
	for _, name := range []string{"Name", "Text", "FunctionText", "Description"} {
		if n.attr(name) != "" {
			set[name] = true
		}
	}
	return set
}
