package mqtt

import (
	"strings"
)

// DefaultTopicPrefix is used when no prefix is configured.
const DefaultTopicPrefix = "knxproj"

// Topics builds the knxproj topic hierarchy under a configurable prefix.
//
//	{prefix}/system/status
//	{prefix}/projects/{project_id}/info
//	{prefix}/projects/{project_id}/devices/{individual_address}
//	{prefix}/projects/{project_id}/group_addresses/{address}
//
// Group addresses keep their '/' separators, so a three-level address
// spans three topic levels and can be matched per main or middle group.
type Topics struct {
	Prefix string
}

func (t Topics) prefix() string {
	if t.Prefix == "" {
		return DefaultTopicPrefix
	}
	return strings.TrimSuffix(t.Prefix, "/")
}

// SystemStatus returns the retained online/offline status topic.
//
// Example: knxproj/system/status
func (t Topics) SystemStatus() string {
	return t.prefix() + "/system/status"
}

// ProjectInfo returns the topic for a project's metadata.
//
// Example: knxproj/projects/P-0123/info
func (t Topics) ProjectInfo(projectID string) string {
	return t.project(projectID) + "/info"
}

// ProjectDevice returns the topic for one logical device of a project.
//
// Example: knxproj/projects/P-0123/devices/1.1.5
func (t Topics) ProjectDevice(projectID, individualAddress string) string {
	return t.project(projectID) + "/devices/" + segment(individualAddress)
}

// ProjectGroupAddress returns the topic for one group address of a project.
//
// Example: knxproj/projects/P-0123/group_addresses/6/0/1
func (t Topics) ProjectGroupAddress(projectID, address string) string {
	parts := strings.Split(address, "/")
	for i, p := range parts {
		parts[i] = segment(p)
	}
	return t.project(projectID) + "/group_addresses/" + strings.Join(parts, "/")
}

// AllProjectTopics returns a wildcard matching every topic of one project.
//
// Example: knxproj/projects/P-0123/#
func (t Topics) AllProjectTopics(projectID string) string {
	return t.project(projectID) + "/#"
}

func (t Topics) project(projectID string) string {
	return t.prefix() + "/projects/" + segment(projectID)
}

var segmentReplacer = strings.NewReplacer("/", "_", "+", "_", "#", "_")

// segment makes s usable as a single topic level.
func segment(s string) string {
	if s == "" {
		return "_"
	}
	return segmentReplacer.Replace(s)
}
