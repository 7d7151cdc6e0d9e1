// Package etstest builds synthetic .knxproj archives for tests.
//
// A Fixture describes a small project; Build renders it as the documents
// ETS writes for the requested schema version (ETS4 Connectors and
// BuildingPart, ETS5 Locations, ETS6 segments, Links and functions) and
// zips them, encrypting the nested project archive when a password is set.
package etstest

import (
	"bytes"
	"fmt"
	"io"
	"maps"
	"slices"
	"strconv"
	"strings"
	"testing"

	"github.com/yeka/zip"

	"github.com/nerrad567/gray-logic-knxproj/internal/commissioning/etsimport"
)

// Standard catalog shipped with every fixture unless OmitCatalog is set.
const (
	Manufacturer     = "M-0083"
	ManufacturerName = "MDT technologies"
	Application      = "M-0083_A-0014-12-A7A1"
	ApplicationName  = "AKS Switch Actuator"
	Product          = "M-0083_H-0014_P-AKS.2D0116.2E03"
	ProductText      = "AKS-0116.03 Switch Actuator 16-fold"
	OrderNumber      = "AKS-0116.03"
	HardwareProgram  = "M-0083_H-0014_HP-0014-12-A7A1"

	// SwitchRef is channel A switching: number 40, DPST-1-1, write.
	SwitchRef = "O-40_R-1433"
	// StatusRef is channel A status: number 41, DPST-1-11, read/transmit.
	// The catalog places it in no channel.
	StatusRef = "O-41_R-1434"

	// Channel is the catalog channel holding SwitchRef.
	Channel     = "CH-1"
	ChannelText = "Output A"
)

// Fixture describes a synthetic project.
type Fixture struct {
	// ProjectID defaults to "P-0123".
	ProjectID string
	Name      string

	// Version is the schema namespace number, 20 (ETS5) when zero.
	Version int

	// Style is the GroupAddressStyle attribute, "ThreeLevel" when empty.
	Style string

	// Password protects the nested project archive. ETS4 versions use
	// ZipCrypto with the raw password, later versions AES-256 with the
	// derived password.
	Password string

	// Unnested writes the project as a P-XXXX/ directory instead of a
	// nested P-XXXX.zip. Ignored when Password is set.
	Unnested bool

	Devices        []Device
	Ranges         []Range
	LooseAddresses []Address
	Spaces         []Space

	// Translations are written into the application program document;
	// ProjectTranslations into the installation document.
	Translations        []Language
	ProjectTranslations []Language

	OmitCatalog bool

	// ProjectFiles replaces or adds documents inside the project, keyed
	// by name relative to it ("project.xml", "1.xml"). An empty value
	// omits the document.
	ProjectFiles map[string]string

	// ExtraFiles replaces or adds entries of the outer archive. An empty
	// value omits the entry.
	ExtraFiles map[string]string
}

// Device is a DeviceInstance in area/line.
type Device struct {
	Area, Line string

	// Number is the device part of the individual address; empty writes
	// no Address attribute.
	Number string

	Name string

	// InstanceID defaults to "{project}-0_DI-{n}".
	InstanceID string

	// NoApplication writes neither product nor hardware program, like a
	// power supply.
	NoApplication bool

	// HardwareProgram overrides the standard Hardware2ProgramRefId.
	HardwareProgram string

	Objects []Object

	// Channels are written as Channel nodes of the GroupObjectTree.
	Channels []DeviceChannel
}

// DeviceChannel is a channel node of a device. Key is the short catalog
// channel id and Objects the short reference ids it groups.
type DeviceChannel struct {
	Key     string
	Text    string
	Objects []string
}

// Object is a ComObjectInstanceRef.
type Object struct {
	// RefID is the short catalog reference id.
	RefID string

	// Links are short group address ids ("GA-1").
	Links []string

	// Attrs are written on the instance ref and override the template.
	Attrs map[string]string
}

// Range is a GroupRange with raw bounds.
type Range struct {
	ID         string
	Name       string
	Start, End uint16
	Ranges     []Range
	Addresses  []Address
}

// Address is a GroupAddress.
type Address struct {
	// ID is the short id, "GA-1".
	ID          string
	Raw         uint16
	Name        string
	DPT         string
	Description string
	Secure      bool
}

// Space is a building part (ETS4) or space.
type Space struct {
	ID, Name, Type string

	// Devices are DeviceInstance ids.
	Devices   []string
	Spaces    []Space
	Functions []Function
}

// Function is an ETS6 function. Addresses are short group address ids.
type Function struct {
	ID, Name, Type string
	Addresses      []string
}

// Language is one translation table.
type Language struct {
	Identifier string
	Entries    []Translation
}

// Translation sets Attribute of the element RefID to Text.
type Translation struct {
	RefID, Attribute, Text string
}

// Standard returns the reference scenario: a power supply at 1.1.1, a
// switch actuator at 1.1.5 switching 6/0/1 with status on 6/0/2, a second
// actuator at 1.1.6 on the same template also linked to 6/0/1, and 6/0/3
// declared but unused. The kitchen space holds 1.1.5 and, from ETS6 on,
// a function on 6/0/1.
func Standard() Fixture {
	return Fixture{
		Name: "Fixture House",
		Devices: []Device{
			{Area: "1", Line: "1", Number: "1", Name: "Power supply", InstanceID: "P-0123-0_DI-1", NoApplication: true},
			{Area: "1", Line: "1", Number: "5", Name: "Kitchen actuator", InstanceID: "P-0123-0_DI-2", Objects: []Object{
				{RefID: SwitchRef, Links: []string{"GA-1"}},
				{RefID: StatusRef, Links: []string{"GA-2"}},
			}},
			{Area: "1", Line: "1", Number: "6", Name: "Hall actuator", InstanceID: "P-0123-0_DI-3", Objects: []Object{
				{RefID: SwitchRef, Links: []string{"GA-1"}},
			}},
		},
		Ranges: []Range{{
			ID: "GR-1", Name: "Lighting", Start: 12288, End: 14335,
			Ranges: []Range{{
				ID: "GR-2", Name: "Ground floor", Start: 12288, End: 12543,
				Addresses: []Address{
					{ID: "GA-1", Raw: 12289, Name: "Kitchen light", DPT: "DPST-1-1"},
					{ID: "GA-2", Raw: 12290, Name: "Kitchen light status", DPT: "DPST-1-11"},
					{ID: "GA-3", Raw: 12291, Name: "Spare", DPT: "DPST-1-1"},
				},
			}},
		}},
		Spaces: []Space{{
			ID: "P-0123-0_BP-1", Name: "House", Type: "Building",
			Spaces: []Space{{
				ID: "P-0123-0_BP-2", Name: "Kitchen", Type: "Room",
				Devices:   []string{"P-0123-0_DI-2"},
				Functions: []Function{{ID: "P-0123-0_F-1", Name: "Kitchen light", Type: "SwitchableLight", Addresses: []string{"GA-1"}}},
			}},
		}},
	}
}

// Build renders the fixture or fails the test.
func (f Fixture) Build(tb testing.TB) []byte {
	tb.Helper()
	data, err := f.Bytes()
	if err != nil {
		tb.Fatalf("building fixture: %v", err)
	}
	return data
}

// Bytes renders the fixture as a .knxproj archive.
func (f Fixture) Bytes() ([]byte, error) {
	f.defaults()

	outer := map[string]string{
		"knx_master.xml": f.masterData(),
	}
	if !f.OmitCatalog {
		outer[Manufacturer+"/"+Application+".xml"] = f.applicationDocument()
		outer[Manufacturer+"/Hardware.xml"] = f.hardwareDocument()
	}

	project := map[string]string{
		"project.xml": f.projectDocument(),
		"0.xml":       f.installationDocument(),
	}
	overlay(project, f.ProjectFiles)

	if f.Unnested && f.Password == "" {
		for name, content := range project {
			outer[f.ProjectID+"/"+name] = content
		}
	} else {
		nested, err := f.nestedArchive(project)
		if err != nil {
			return nil, err
		}
		outer[f.ProjectID+".zip"] = string(nested)
	}
	overlay(outer, f.ExtraFiles)

	return writeArchive(outer, "", 0)
}

func (f *Fixture) defaults() {
	if f.ProjectID == "" {
		f.ProjectID = "P-0123"
	}
	if f.Version == 0 {
		f.Version = 20
	}
	if f.Style == "" {
		f.Style = "ThreeLevel"
	}
	f.Devices = slices.Clone(f.Devices)
	for i := range f.Devices {
		if f.Devices[i].InstanceID == "" {
			f.Devices[i].InstanceID = fmt.Sprintf("%s-0_DI-%d", f.ProjectID, i+1)
		}
	}
}

func (f Fixture) ets4() bool { return f.Version <= 14 }
func (f Fixture) ets6() bool { return f.Version >= 21 }

func (f Fixture) namespace() string {
	return "http://knx.org/xml/project/" + strconv.Itoa(f.Version)
}

func (f Fixture) fullID(short string) string {
	return f.ProjectID + "-0_" + short
}

func (f Fixture) nestedArchive(files map[string]string) ([]byte, error) {
	if f.Password == "" {
		return writeArchive(files, "", 0)
	}
	if f.ets4() {
		return writeArchive(files, f.Password, zip.StandardEncryption)
	}
	return writeArchive(files, etsimport.DerivePassword(f.Password), zip.AES256Encryption)
}

func writeArchive(files map[string]string, password string, method zip.EncryptionMethod) ([]byte, error) {
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for _, name := range slices.Sorted(maps.Keys(files)) {
		var (
			fw  io.Writer
			err error
		)
		if password != "" {
			fw, err = w.Encrypt(name, password, method)
		} else {
			fw, err = w.Create(name)
		}
		if err != nil {
			return nil, fmt.Errorf("creating %s: %w", name, err)
		}
		if _, err := io.WriteString(fw, files[name]); err != nil {
			return nil, fmt.Errorf("writing %s: %w", name, err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func overlay(dst, src map[string]string) {
	for name, content := range src {
		if content == "" {
			delete(dst, name)
			continue
		}
		dst[name] = content
	}
}

func (f Fixture) root() *element {
	return el("KNX", "xmlns", f.namespace(), "CreatedBy", "ETS"+strconv.Itoa(f.generation()), "ToolVersion", "5.7.1093.38570")
}

func (f Fixture) generation() int {
	switch {
	case f.ets4():
		return 4
	case f.ets6():
		return 6
	default:
		return 5
	}
}

func (f Fixture) masterData() string {
	return document(f.root().add(
		el("MasterData").add(
			el("Manufacturers").add(
				el("Manufacturer", "Id", Manufacturer, "Name", ManufacturerName),
			),
		),
	))
}

func (f Fixture) applicationDocument() string {
	objects := el("ComObjectTable").add(
		el("ComObject",
			"Id", Application+"_O-40", "Number", "40", "Name", "Channel A", "Text", "Switch",
			"FunctionText", "Channel A", "ObjectSize", "1 Bit", "DatapointType", "DPST-1-1",
			"ReadFlag", "Disabled", "WriteFlag", "Enabled", "CommunicationFlag", "Enabled",
			"TransmitFlag", "Disabled", "UpdateFlag", "Disabled", "ReadOnInitFlag", "Disabled"),
		el("ComObject",
			"Id", Application+"_O-41", "Number", "41", "Name", "Channel A Status", "Text", "Status",
			"FunctionText", "Channel A", "ObjectSize", "1 Bit", "DatapointType", "DPST-1-1",
			"ReadFlag", "Enabled", "WriteFlag", "Disabled", "CommunicationFlag", "Enabled",
			"TransmitFlag", "Enabled", "UpdateFlag", "Disabled", "ReadOnInitFlag", "Disabled"),
	)
	refs := el("ComObjectRefs").add(
		el("ComObjectRef", "Id", Application+"_"+SwitchRef, "RefId", Application+"_O-40", "Text", "Switch Channel A"),
		el("ComObjectRef", "Id", Application+"_"+StatusRef, "RefId", Application+"_O-41", "DatapointType", "DPST-1-11"),
	)

	manufacturer := el("Manufacturer", "RefId", Manufacturer).add(
		el("ApplicationPrograms").add(
			el("ApplicationProgram", "Id", Application, "Name", ApplicationName, "ApplicationVersion", "18").add(
				el("Static").add(objects, refs),
			),
		),
	)
	if len(f.Translations) > 0 {
		manufacturer.add(languages(f.Translations))
	}
	return document(f.root().add(el("ManufacturerData").add(manufacturer)))
}

func (f Fixture) hardwareDocument() string {
	return document(f.root().add(
		el("ManufacturerData").add(
			el("Manufacturer", "RefId", Manufacturer).add(
				el("Hardware").add(
					el("Hardware", "Id", "M-0083_H-0014", "Name", "AKS-0116.03").add(
						el("Products").add(
							el("Product", "Id", Product, "Text", ProductText, "OrderNumber", OrderNumber),
						),
						el("Hardware2Programs").add(
							el("Hardware2Program", "Id", HardwareProgram).add(
								el("ApplicationProgramRef", "RefId", Application),
							),
						),
					),
				),
			),
		),
	))
}

func (f Fixture) projectDocument() string {
	return document(f.root().add(
		el("Project", "Id", f.ProjectID).add(
			el("ProjectInformation",
				"Name", f.Name,
				"GroupAddressStyle", f.Style,
				"LastModified", "2024-03-01T10:00:00.000Z",
				"Guid", "8c6f2d0e-7a4b-4f39-9d1e-2b5a0c3e9f11",
				"Comment", "synthetic"),
		),
	))
}

func (f Fixture) installationDocument() string {
	installation := el("Installation", "Name", "", "InstallationId", "0").add(
		f.topology(),
		f.locations(),
		f.groupAddresses(),
	)
	project := el("Project", "Id", f.ProjectID).add(el("Installations").add(installation))
	root := f.root().add(project)
	if len(f.ProjectTranslations) > 0 {
		root.add(languages(f.ProjectTranslations))
	}
	return document(root)
}

func (f Fixture) topology() *element {
	topology := el("Topology")
	areas := map[string]*element{}
	lines := map[string]*element{}
	var areaOrder []string

	for _, d := range f.Devices {
		area, ok := areas[d.Area]
		if !ok {
			area = el("Area", "Id", f.fullID("A-"+d.Area), "Name", "Area "+d.Area, "Address", d.Area)
			areas[d.Area] = area
			areaOrder = append(areaOrder, d.Area)
		}
		key := d.Area + "." + d.Line
		container, ok := lines[key]
		if !ok {
			line := el("Line", "Id", f.fullID("L-"+d.Area+"-"+d.Line), "Name", "Line "+key, "Address", d.Line)
			container = line
			if f.ets6() {
				container = el("Segment", "Id", f.fullID("S-"+d.Area+"-"+d.Line), "MediumTypeRefId", "MT-0")
				line.add(container)
			} else {
				line.attrs = append(line.attrs, [2]string{"MediumTypeRefId", "MT-0"})
			}
			area.add(line)
			lines[key] = container
		}
		container.add(f.deviceInstance(d))
	}

	for _, a := range areaOrder {
		topology.add(areas[a])
	}
	return topology
}

func (f Fixture) deviceInstance(d Device) *element {
	di := el("DeviceInstance", "Id", d.InstanceID, "Name", d.Name, "Address", d.Number)
	if !d.NoApplication {
		program := d.HardwareProgram
		if program == "" {
			program = HardwareProgram
		}
		di.attrs = append(di.attrs, [2]string{"ProductRefId", Product}, [2]string{"Hardware2ProgramRefId", program})
	}
	if len(d.Objects) == 0 && len(d.Channels) == 0 {
		return di
	}

	refs := el("ComObjectInstanceRefs")
	for _, o := range d.Objects {
		refID := o.RefID
		if f.ets4() {
			refID = Application + "_" + o.RefID
		}
		ref := el("ComObjectInstanceRef", "RefId", refID)
		for _, name := range slices.Sorted(maps.Keys(o.Attrs)) {
			ref.attrs = append(ref.attrs, [2]string{name, o.Attrs[name]})
		}
		switch {
		case len(o.Links) == 0:
		case f.ets6():
			ref.attrs = append(ref.attrs, [2]string{"Links", strings.Join(o.Links, " ")})
		default:
			connectors := el("Connectors")
			for i, link := range o.Links {
				kind := "Receive"
				if i == 0 {
					kind = "Send"
				}
				connectors.add(el(kind, "GroupAddressRefId", f.fullID(link)))
			}
			ref.add(connectors)
		}
		refs.add(ref)
	}
	di.add(refs)

	if len(d.Channels) > 0 {
		nodes := el("Nodes")
		for _, ch := range d.Channels {
			nodes.add(el("Node", "Type", "Channel", "RefId", Application+"_"+ch.Key, "Text", ch.Text,
				"GroupObjectInstances", strings.Join(ch.Objects, " ")))
		}
		di.add(el("GroupObjectTree").add(nodes))
	}
	return di
}

func (f Fixture) locations() *element {
	rootName, spaceName := "Locations", "Space"
	if f.ets4() {
		rootName, spaceName = "Buildings", "BuildingPart"
	}
	root := el(rootName)
	for _, s := range f.Spaces {
		root.add(f.space(s, spaceName))
	}
	return root
}

func (f Fixture) space(s Space, elementName string) *element {
	e := el(elementName, "Id", s.ID, "Name", s.Name, "Type", s.Type)
	for _, child := range s.Spaces {
		e.add(f.space(child, elementName))
	}
	for _, ref := range s.Devices {
		e.add(el("DeviceInstanceRef", "RefId", ref))
	}
	if f.ets6() {
		for _, fn := range s.Functions {
			fe := el("Function", "Id", fn.ID, "Name", fn.Name, "Type", fn.Type)
			for i, ga := range fn.Addresses {
				fe.add(el("GroupAddressRef", "Id", fmt.Sprintf("%s_GAR-%d", fn.ID, i+1), "RefId", f.fullID(ga), "Name", fn.Name, "Role", "SwitchOnOff"))
			}
			e.add(fe)
		}
	}
	return e
}

func (f Fixture) groupAddresses() *element {
	ranges := el("GroupRanges")
	for _, r := range f.Ranges {
		ranges.add(f.groupRange(r))
	}
	container := el("GroupAddresses").add(ranges)
	for _, a := range f.LooseAddresses {
		container.add(f.groupAddress(a))
	}
	return container
}

func (f Fixture) groupRange(r Range) *element {
	e := el("GroupRange",
		"Id", f.fullID(r.ID),
		"Name", r.Name,
		"RangeStart", strconv.Itoa(int(r.Start)),
		"RangeEnd", strconv.Itoa(int(r.End)))
	for _, child := range r.Ranges {
		e.add(f.groupRange(child))
	}
	for _, a := range r.Addresses {
		e.add(f.groupAddress(a))
	}
	return e
}

func (f Fixture) groupAddress(a Address) *element {
	e := el("GroupAddress",
		"Id", f.fullID(a.ID),
		"Address", strconv.Itoa(int(a.Raw)),
		"Name", a.Name,
		"DatapointType", a.DPT,
		"Description", a.Description,
		"Puid", strconv.Itoa(int(a.Raw)+1))
	if a.Secure && !f.ets4() {
		e.attrs = append(e.attrs, [2]string{"Key", "c2VjcmV0a2V5MTIzNDU2Nw=="})
	}
	return e
}

func languages(langs []Language) *element {
	root := el("Languages")
	for _, l := range langs {
		lang := el("Language", "Identifier", l.Identifier)
		unit := el("TranslationUnit", "RefId", Application)
		for _, t := range l.Entries {
			unit.add(el("TranslationElement", "RefId", t.RefID).add(
				el("Translation", "AttributeName", t.Attribute, "Text", t.Text),
			))
		}
		root.add(lang.add(unit))
	}
	return root
}
