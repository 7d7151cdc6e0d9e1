package etsimport

import (
	"github.com/nerrad567/gray-logic-knxproj/internal/knx"
)

// ParseProjectInfo reads the metadata block from project.xml.
func ParseProjectInfo(a *Archive, schema Schema) (ProjectInfo, knx.GroupAddressStyle, error) {
	name := a.ManifestName()
	r, ok := a.Open(name)
	if !ok {
		return ProjectInfo{}, "", ErrUnsupportedArchive
	}
	root, err := decodeDocument(name, r)
	if err != nil {
		return ProjectInfo{}, "", err
	}

	project := root.child("Project")
	pi := project.child("ProjectInformation")
	style := knx.ParseGroupAddressStyle(pi.attr("GroupAddressStyle"))

	info := ProjectInfo{
		ProjectID:         project.attr("Id"),
		Name:              pi.attr("Name"),
		GroupAddressStyle: string(style),
		LastModified:      pi.attr("LastModified"),
		Comment:           pi.attr("Comment"),
		GUID:              pi.attr("Guid"),
		CreatedBy:         root.attr("CreatedBy"),
		ToolVersion:       root.attr("ToolVersion"),
		SchemaVersion:     schema.Version,
		ETSGeneration:     schema.Generation.String(),
	}
	if info.ProjectID == "" {
		info.ProjectID = a.ProjectID
	}
	return info, style, nil
}
