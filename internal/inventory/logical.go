package inventory

import (
	"cmp"
	"slices"

	"github.com/nerrad567/gray-logic-knxproj/internal/commissioning/etsimport"
	"github.com/nerrad567/gray-logic-knxproj/internal/knx"
)

// Payload is the logical device inventory of one project.
type Payload struct {
	Project etsimport.ProjectInfo `json:"project"`
	Devices []LogicalDevice       `json:"devices"`
}

// LogicalDevice is a device with the group addresses it takes part in.
type LogicalDevice struct {
	IndividualAddress string              `json:"individual_address"`
	Name              string              `json:"name"`
	HardwareName      string              `json:"hardware_name"`
	ManufacturerName  string              `json:"manufacturer_name"`
	OrderNumber       string              `json:"order_number"`
	Application       string              `json:"application"`
	GroupAddresses    []GroupAddressEntry `json:"group_addresses"`
}

// GroupAddressEntry is one group address as seen from a single device:
// only that device's objects are listed.
type GroupAddressEntry struct {
	Address              string       `json:"address"`
	Name                 string       `json:"name"`
	ProjectUID           *int         `json:"project_uid"`
	DPT                  *knx.DPT     `json:"dpt"`
	DataSecure           bool         `json:"data_secure"`
	Description          string       `json:"description"`
	Comment              string       `json:"comment"`
	CommunicationObjects []ObjectLink `json:"communication_objects"`

	rawAddress uint16
	known      bool
}

// ObjectLink is a communication object linked to a group address.
type ObjectLink struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Number       int    `json:"number"`
	Text         string `json:"text"`
	FunctionText string `json:"function_text"`
	Description  string `json:"description"`

	// Channel and ChannelName are null for objects outside any channel.
	Channel     *string `json:"channel"`
	ChannelName *string `json:"channel_name"`
}

// BuildPayload returns the project info together with its logical devices.
func BuildPayload(p *etsimport.Project) Payload {
	return Payload{Project: p.Info(), Devices: BuildLogicalDevices(p)}
}

// FilterGroupAddress keeps the devices that use ga, each reduced to that
// one entry. ga is matched in the project's presentation style.
func (p Payload) FilterGroupAddress(ga knx.GroupAddress) Payload {
	address := ga.Format(knx.ParseGroupAddressStyle(p.Project.GroupAddressStyle))
	out := Payload{Project: p.Project, Devices: []LogicalDevice{}}
	for _, d := range p.Devices {
		i := slices.IndexFunc(d.GroupAddresses, func(e GroupAddressEntry) bool { return e.Address == address })
		if i < 0 {
			continue
		}
		d.GroupAddresses = []GroupAddressEntry{d.GroupAddresses[i]}
		out.Devices = append(out.Devices, d)
	}
	return out
}

// BuildLogicalDevices groups every device's communication objects by the
// group addresses they link to. Devices are ordered by individual address,
// group addresses by raw value and objects by number then identifier.
func BuildLogicalDevices(p *etsimport.Project) []LogicalDevice {
	devices := p.Devices()
	objects := p.CommunicationObjects()
	addresses := p.GroupAddresses()

	out := make([]LogicalDevice, 0, len(devices))
	for _, d := range devices {
		ld := LogicalDevice{
			IndividualAddress: d.IndividualAddress,
			Name:              d.Name,
			HardwareName:      d.HardwareName,
			ManufacturerName:  d.ManufacturerName,
			OrderNumber:       d.OrderNumber,
			Application:       d.ApplicationID,
			GroupAddresses:    []GroupAddressEntry{},
		}

		index := make(map[string]int)
		for _, id := range d.CommunicationObjectIDs {
			co, ok := objects[id]
			if !ok {
				continue
			}
			for _, address := range co.GroupAddressLinks {
				i, seen := index[address]
				if !seen {
					i = len(ld.GroupAddresses)
					index[address] = i
					ld.GroupAddresses = append(ld.GroupAddresses, newEntry(address, addresses))
				}
				entry := &ld.GroupAddresses[i]
				if !slices.ContainsFunc(entry.CommunicationObjects, func(o ObjectLink) bool { return o.ID == co.Identifier }) {
					entry.CommunicationObjects = append(entry.CommunicationObjects, objectLink(co, d))
				}
			}
		}

		for i := range ld.GroupAddresses {
			slices.SortFunc(ld.GroupAddresses[i].CommunicationObjects, func(a, b ObjectLink) int {
				return cmp.Or(cmp.Compare(a.Number, b.Number), cmp.Compare(a.ID, b.ID))
			})
		}
		slices.SortFunc(ld.GroupAddresses, compareEntries)
		out = append(out, ld)
	}

	slices.SortFunc(out, func(a, b LogicalDevice) int {
		return cmp.Or(
			cmp.Compare(individualValue(a.IndividualAddress), individualValue(b.IndividualAddress)),
			cmp.Compare(a.IndividualAddress, b.IndividualAddress),
		)
	})
	return out
}

func newEntry(address string, addresses map[string]etsimport.GroupAddress) GroupAddressEntry {
	ga, ok := addresses[address]
	if !ok {
		return GroupAddressEntry{Address: address, CommunicationObjects: []ObjectLink{}}
	}
	return GroupAddressEntry{
		Address:              ga.Address,
		Name:                 ga.Name,
		ProjectUID:           ga.ProjectUID,
		DPT:                  ga.DPT,
		DataSecure:           ga.DataSecure,
		Description:          ga.Description,
		Comment:              ga.Comment,
		CommunicationObjects: []ObjectLink{},
		rawAddress:           ga.RawAddress,
		known:                true,
	}
}

func objectLink(co etsimport.CommunicationObject, d etsimport.Device) ObjectLink {
	link := ObjectLink{
		ID:           co.Identifier,
		Name:         co.Name,
		Number:       co.Number,
		Text:         co.Text,
		FunctionText: co.FunctionText,
		Description:  co.Description,
	}
	if co.Channel != "" {
		key := co.Channel
		link.Channel = &key
		if ch, ok := d.Channels[key]; ok {
			name := ch.Name
			link.ChannelName = &name
		}
	}
	return link
}

// compareEntries puts known addresses first in raw order, then unknown
// ones by their string.
func compareEntries(a, b GroupAddressEntry) int {
	switch {
	case a.known && b.known:
		return cmp.Or(cmp.Compare(a.rawAddress, b.rawAddress), cmp.Compare(a.Address, b.Address))
	case a.known:
		return -1
	case b.known:
		return 1
	}
	return cmp.Compare(a.Address, b.Address)
}

// individualValue is 0 for addresses that do not parse.
func individualValue(s string) uint16 {
	ia, err := knx.ParseIndividualAddress(s)
	if err != nil {
		return 0
	}
	return ia.ToUint16()
}
