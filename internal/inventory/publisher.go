package inventory

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/nerrad567/gray-logic-knxproj/internal/commissioning/etsimport"
	"github.com/nerrad567/gray-logic-knxproj/internal/infrastructure/mqtt"
)

// MessagePublisher is satisfied by *mqtt.Client, which applies its
// configured QoS.
type MessagePublisher interface {
	PublishRetained(topic string, payload []byte) error
}

// Summary is the body of a project's info topic.
type Summary struct {
	Project        etsimport.ProjectInfo `json:"project"`
	Devices        []string              `json:"devices"`
	GroupAddresses int                   `json:"group_addresses"`
	ContentHash    string                `json:"content_hash,omitempty"`
}

// GroupAddressMessage is the body of a group address topic.
type GroupAddressMessage struct {
	etsimport.GroupAddress
	Devices []string `json:"devices"`
}

// Publisher writes a project inventory to the broker as retained messages:
// one per logical device, one per group address and a summary last, so a
// consumer that sees the summary can rely on the per-entity topics.
type Publisher struct {
	client MessagePublisher
	topics mqtt.Topics
}

// NewPublisher creates a Publisher writing under topics.
func NewPublisher(client MessagePublisher, topics mqtt.Topics) *Publisher {
	return &Publisher{client: client, topics: topics}
}

// PublishResult counts the messages sent.
type PublishResult struct {
	Devices        int `json:"devices"`
	GroupAddresses int `json:"group_addresses"`
}

// Publish sends the inventory of p. contentHash is optional and copied
// into the summary. It stops at the first failed publish or when ctx is
// done.
func (pub *Publisher) Publish(ctx context.Context, p *etsimport.Project, contentHash string) (PublishResult, error) {
	var res PublishResult
	info := p.Info()
	devices := BuildLogicalDevices(p)

	addressDevices := make(map[string][]string)
	summary := Summary{
		Project:     info,
		Devices:     make([]string, 0, len(devices)),
		ContentHash: contentHash,
	}

	for _, d := range devices {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if err := pub.send(pub.topics.ProjectDevice(info.ProjectID, d.IndividualAddress), d); err != nil {
			return res, err
		}
		res.Devices++
		summary.Devices = append(summary.Devices, d.IndividualAddress)
		for _, ga := range d.GroupAddresses {
			addressDevices[ga.Address] = append(addressDevices[ga.Address], d.IndividualAddress)
		}
	}

	for _, ga := range sortedAddresses(p.GroupAddresses()) {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		msg := GroupAddressMessage{GroupAddress: ga, Devices: addressDevices[ga.Address]}
		if msg.Devices == nil {
			msg.Devices = []string{}
		}
		if err := pub.send(pub.topics.ProjectGroupAddress(info.ProjectID, ga.Address), msg); err != nil {
			return res, err
		}
		res.GroupAddresses++
	}
	summary.GroupAddresses = res.GroupAddresses

	if err := pub.send(pub.topics.ProjectInfo(info.ProjectID), summary); err != nil {
		return res, err
	}
	return res, nil
}

func (pub *Publisher) send(topic string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", topic, err)
	}
	if err := pub.client.PublishRetained(topic, payload); err != nil {
		return fmt.Errorf("publishing %s: %w", topic, err)
	}
	return nil
}

func sortedAddresses(m map[string]etsimport.GroupAddress) []etsimport.GroupAddress {
	out := make([]etsimport.GroupAddress, 0, len(m))
	for _, ga := range m {
		out = append(out, ga)
	}
	slices.SortFunc(out, func(a, b etsimport.GroupAddress) int {
		return cmp.Or(cmp.Compare(a.RawAddress, b.RawAddress), cmp.Compare(a.Address, b.Address))
	})
	return out
}
