package etsimport

import (
	"encoding/json"
	"slices"

	"github.com/nerrad567/gray-logic-knxproj/internal/knx"
)

// ProjectInfo is the project metadata record.
type ProjectInfo struct {
	ProjectID         string `json:"project_id"`
	Name              string `json:"name"`
	GroupAddressStyle string `json:"group_address_style"`
	LastModified      string `json:"last_modified"`
	Comment           string `json:"comment"`
	GUID              string `json:"guid"`
	CreatedBy         string `json:"created_by"`
	ToolVersion       string `json:"tool_version"`

	// SchemaVersion is the NN of the http://knx.org/xml/project/NN namespace.
	SchemaVersion int    `json:"schema_version"`
	ETSGeneration string `json:"ets_generation"`

	// LanguageCode is the translation table identifier applied to display
	// text, empty when no overlay was applied.
	LanguageCode string `json:"language_code"`
}

// Device is a physical device found in the topology.
type Device struct {
	Name              string `json:"name"`
	Description       string `json:"description"`
	IndividualAddress string `json:"individual_address"`

	// InstanceID is the ETS DeviceInstance Id.
	InstanceID       string `json:"instance_id"`
	ProductRefID     string `json:"product_ref_id"`
	HardwareName     string `json:"hardware_name"`
	OrderNumber      string `json:"order_number"`
	ManufacturerID   string `json:"manufacturer_id"`
	ManufacturerName string `json:"manufacturer_name"`
	ApplicationID    string `json:"application_id"`
	ApplicationName  string `json:"application_name"`
	AreaAddress      string `json:"area_address"`
	LineAddress      string `json:"line_address"`

	// CommunicationObjectIDs is in declaration order and includes the
	// objects of every channel.
	CommunicationObjectIDs []string `json:"communication_object_ids"`

	// Channels is keyed by short application channel id ("CH-1").
	Channels map[string]Channel `json:"channels"`
}

func (d Device) clone() Device {
	d.CommunicationObjectIDs = cloneStrings(d.CommunicationObjectIDs)
	d.Channels = cloneMap(d.Channels, Channel.clone)
	return d
}

// Channel groups the objects of one application channel on a device.
type Channel struct {
	Identifier string `json:"identifier"`

	// Name is the channel text given on the device, or the catalog
	// channel text when the device leaves it empty.
	Name string `json:"name"`

	// CommunicationObjectIDs is in the device's declaration order.
	CommunicationObjectIDs []string `json:"communication_object_ids"`
}

func (c Channel) clone() Channel {
	c.CommunicationObjectIDs = cloneStrings(c.CommunicationObjectIDs)
	return c
}

// Flags is the communication object flag set.
type Flags struct {
	Read          bool `json:"read"`
	Write         bool `json:"write"`
	Communication bool `json:"communication"`
	Transmit      bool `json:"transmit"`
	Update        bool `json:"update"`
	ReadOnInit    bool `json:"read_on_init"`
}

// CommunicationObject is one device-side endpoint. Its Identifier is
// "{device individual address}/{catalog reference id}".
type CommunicationObject struct {
	Identifier    string    `json:"identifier"`
	DeviceAddress string    `json:"device_address"`
	RefID         string    `json:"ref_id"`
	Number        int       `json:"number"`
	Name          string    `json:"name"`
	Text          string    `json:"text"`
	FunctionText  string    `json:"function_text"`
	Description   string    `json:"description"`
	DPTs          []knx.DPT `json:"dpts"`
	ObjectSize    string    `json:"object_size"`
	Flags         Flags     `json:"flags"`

	// Channel is the key of the owning device's channel, empty when the
	// object belongs to no channel.
	Channel string `json:"channel"`

	// GroupAddressLinks is in declaration order without duplicates.
	GroupAddressLinks []string `json:"group_address_links"`

	// FromTemplate is false for objects synthesized from instance data
	// because no catalog template matched.
	FromTemplate bool `json:"from_template"`
}

func (c CommunicationObject) clone() CommunicationObject {
	dpts := make([]knx.DPT, len(c.DPTs))
	for i, d := range c.DPTs {
		dpts[i] = d.Clone()
	}
	c.DPTs = dpts
	c.GroupAddressLinks = cloneStrings(c.GroupAddressLinks)
	return c
}

// GroupAddress is keyed by its address string in the project's
// presentation style.
type GroupAddress struct {
	Address string `json:"address"`
	Name    string `json:"name"`

	// Identifier is the ETS GroupAddress Id.
	Identifier  string   `json:"identifier"`
	RawAddress  uint16   `json:"raw_address"`
	ProjectUID  *int     `json:"project_uid"`
	DPT         *knx.DPT `json:"dpt"`
	DataSecure  bool     `json:"data_secure"`
	Description string   `json:"description"`
	Comment     string   `json:"comment"`

	// Implicit is set for addresses that were only declared outside the
	// range tree and created because an object links to them.
	Implicit               bool     `json:"implicit"`
	CommunicationObjectIDs []string `json:"communication_object_ids"`
	GroupRangeIDs          []string `json:"group_range_ids"`
}

func (g GroupAddress) clone() GroupAddress {
	g.CommunicationObjectIDs = cloneStrings(g.CommunicationObjectIDs)
	g.GroupRangeIDs = cloneStrings(g.GroupRangeIDs)
	if g.DPT != nil {
		dpt := g.DPT.Clone()
		g.DPT = &dpt
	}
	if g.ProjectUID != nil {
		uid := *g.ProjectUID
		g.ProjectUID = &uid
	}
	return g
}

// Area is a topology area keyed by its address ("1").
type Area struct {
	Address     string          `json:"address"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Lines       map[string]Line `json:"lines"`
}

func (a Area) clone() Area {
	lines := make(map[string]Line, len(a.Lines))
	for k, l := range a.Lines {
		l.Devices = cloneStrings(l.Devices)
		lines[k] = l
	}
	a.Lines = lines
	return a
}

// Line is a topology line keyed by "area.line". ETS6 segments are folded
// into their line.
type Line struct {
	Address     string   `json:"address"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	MediumType  string   `json:"medium_type"`
	Devices     []string `json:"devices"`
}

// Space is a node of the building/location hierarchy.
type Space struct {
	Identifier  string   `json:"identifier"`
	Name        string   `json:"name"`
	Type        string   `json:"type"`
	UsageID     string   `json:"usage_id"`
	Number      string   `json:"number"`
	Description string   `json:"description"`
	ParentID    string   `json:"parent_id"`
	SpaceIDs    []string `json:"space_ids"`
	Devices     []string `json:"devices"`
	FunctionIDs []string `json:"function_ids"`
}

func (s Space) clone() Space {
	s.SpaceIDs = cloneStrings(s.SpaceIDs)
	s.Devices = cloneStrings(s.Devices)
	s.FunctionIDs = cloneStrings(s.FunctionIDs)
	return s
}

// GroupRange is a node of the group address range tree.
type GroupRange struct {
	Identifier     string   `json:"identifier"`
	Name           string   `json:"name"`
	AddressStart   uint16   `json:"address_start"`
	AddressEnd     uint16   `json:"address_end"`
	Comment        string   `json:"comment"`
	GroupAddresses []string `json:"group_addresses"`
	GroupRangeIDs  []string `json:"group_range_ids"`
	ParentID       string   `json:"parent_id"`
}

func (r GroupRange) clone() GroupRange {
	r.GroupAddresses = cloneStrings(r.GroupAddresses)
	r.GroupRangeIDs = cloneStrings(r.GroupRangeIDs)
	return r
}

// FunctionGroupAddress is a group address bound into a function.
type FunctionGroupAddress struct {
	Address string `json:"address"`
	Name    string `json:"name"`
	Role    string `json:"role"`
}

// Function is an ETS6 function placed in a space.
type Function struct {
	Identifier     string                 `json:"identifier"`
	Name           string                 `json:"name"`
	FunctionType   string                 `json:"function_type"`
	Number         string                 `json:"number"`
	Comment        string                 `json:"comment"`
	SpaceID        string                 `json:"space_id"`
	GroupAddresses []FunctionGroupAddress `json:"group_addresses"`
}

func (f Function) clone() Function {
	f.GroupAddresses = slices.Clone(f.GroupAddresses)
	if f.GroupAddresses == nil {
		f.GroupAddresses = []FunctionGroupAddress{}
	}
	return f
}

// Project is the assembled, immutable project model. All accessors return
// copies; the model is safe for concurrent readers.
type Project struct {
	info      ProjectInfo
	devices   map[string]Device
	objects   map[string]CommunicationObject
	addresses map[string]GroupAddress
	topology  map[string]Area
	locations map[string]Space
	ranges    map[string]GroupRange
	functions map[string]Function
}

// Info returns the project metadata.
func (p *Project) Info() ProjectInfo { return p.info }

// Device returns the device with the given individual address.
func (p *Project) Device(address string) (Device, bool) {
	d, ok := p.devices[address]
	if !ok {
		return Device{}, false
	}
	return d.clone(), true
}

// Devices returns all devices keyed by individual address.
func (p *Project) Devices() map[string]Device { return cloneMap(p.devices, Device.clone) }

// CommunicationObject returns the object with the given identifier.
func (p *Project) CommunicationObject(id string) (CommunicationObject, bool) {
	c, ok := p.objects[id]
	if !ok {
		return CommunicationObject{}, false
	}
	return c.clone(), true
}

// CommunicationObjects returns all objects keyed by identifier.
func (p *Project) CommunicationObjects() map[string]CommunicationObject {
	return cloneMap(p.objects, CommunicationObject.clone)
}

// GroupAddress returns the group address with the given address string.
func (p *Project) GroupAddress(address string) (GroupAddress, bool) {
	g, ok := p.addresses[address]
	if !ok {
		return GroupAddress{}, false
	}
	return g.clone(), true
}

// GroupAddresses returns all group addresses keyed by address string.
func (p *Project) GroupAddresses() map[string]GroupAddress {
	return cloneMap(p.addresses, GroupAddress.clone)
}

// Topology returns the areas keyed by area address.
func (p *Project) Topology() map[string]Area { return cloneMap(p.topology, Area.clone) }

// Locations returns all spaces keyed by ETS space id.
func (p *Project) Locations() map[string]Space { return cloneMap(p.locations, Space.clone) }

// GroupRanges returns all group ranges keyed by range identifier.
func (p *Project) GroupRanges() map[string]GroupRange { return cloneMap(p.ranges, GroupRange.clone) }

// Functions returns all functions keyed by ETS function id.
func (p *Project) Functions() map[string]Function { return cloneMap(p.functions, Function.clone) }

type projectJSON struct {
	Info                 ProjectInfo                    `json:"info"`
	Devices              map[string]Device              `json:"devices"`
	CommunicationObjects map[string]CommunicationObject `json:"communication_objects"`
	GroupAddresses       map[string]GroupAddress        `json:"group_addresses"`
	Topology             map[string]Area                `json:"topology"`
	Locations            map[string]Space               `json:"locations"`
	GroupRanges          map[string]GroupRange          `json:"group_ranges"`
	Functions            map[string]Function            `json:"functions"`
}

// MarshalJSON encodes the model as nested mappings keyed by identifier.
func (p *Project) MarshalJSON() ([]byte, error) {
	return json.Marshal(projectJSON{
		Info:                 p.info,
		Devices:              p.devices,
		CommunicationObjects: p.objects,
		GroupAddresses:       p.addresses,
		Topology:             p.topology,
		Locations:            p.locations,
		GroupRanges:          p.ranges,
		Functions:            p.functions,
	})
}

// UnmarshalJSON decodes a model previously written by MarshalJSON. The
// result is validated like a freshly assembled model.
func (p *Project) UnmarshalJSON(data []byte) error {
	var doc projectJSON
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	decoded := &Project{
		info:      doc.Info,
		devices:   cloneMap(doc.Devices, Device.clone),
		objects:   cloneMap(doc.CommunicationObjects, CommunicationObject.clone),
		addresses: cloneMap(doc.GroupAddresses, GroupAddress.clone),
		topology:  cloneMap(doc.Topology, Area.clone),
		locations: cloneMap(doc.Locations, Space.clone),
		ranges:    cloneMap(doc.GroupRanges, GroupRange.clone),
		functions: cloneMap(doc.Functions, Function.clone),
	}
	if err := validate(decoded); err != nil {
		return err
	}
	*p = *decoded
	return nil
}

func cloneMap[V any](m map[string]V, clone func(V) V) map[string]V {
	out := make(map[string]V, len(m))
	for k, v := range m {
		out[k] = clone(v)
	}
	return out
}

// cloneStrings copies s, mapping nil to an empty slice so JSON output
// always carries [] rather than null.
func cloneStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return slices.Clone(s)
}
