package etsimport_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/nerrad567/gray-logic-knxproj/internal/commissioning/etsimport"
	"github.com/nerrad567/gray-logic-knxproj/internal/commissioning/etsimport/etstest"
)

const (
	kitchenSwitch = "1.1.5/" + etstest.SwitchRef
	kitchenStatus = "1.1.5/" + etstest.StatusRef
	hallSwitch    = "1.1.6/" + etstest.SwitchRef
)

func parse(t *testing.T, f etstest.Fixture, opts etsimport.Options) *etsimport.ParseResult {
	t.Helper()
	result, err := etsimport.NewParser().ParseBytes(context.Background(), f.Build(t), opts)
	if err != nil {
		t.Fatalf("ParseBytes() error = %v", err)
	}
	return result
}

func parseErr(t *testing.T, f etstest.Fixture, opts etsimport.Options) error {
	t.Helper()
	_, err := etsimport.NewParser().ParseBytes(context.Background(), f.Build(t), opts)
	if err == nil {
		t.Fatal("ParseBytes() error = nil, want error")
	}
	return err
}

func warningCodes(ws []etsimport.ParseWarning) []string {
	codes := make([]string, 0, len(ws))
	for _, w := range ws {
		codes = append(codes, w.Code)
	}
	return codes
}

func TestParseStandardProject(t *testing.T) {
	data := etstest.Standard().Build(t)
	result, err := etsimport.NewParser().ParseBytes(context.Background(), data, etsimport.Options{})
	if err != nil {
		t.Fatalf("ParseBytes() error = %v", err)
	}
	p := result.Project

	if len(result.Warnings) != 0 {
		t.Errorf("Warnings = %v, want none", warningCodes(result.Warnings))
	}

	info := p.Info()
	if info.ProjectID != "P-0123" {
		t.Errorf("ProjectID = %q, want %q", info.ProjectID, "P-0123")
	}
	if info.Name != "Fixture House" {
		t.Errorf("Name = %q, want %q", info.Name, "Fixture House")
	}
	if info.ETSGeneration != "ETS5" || info.SchemaVersion != 20 {
		t.Errorf("generation = %s/%d, want ETS5/20", info.ETSGeneration, info.SchemaVersion)
	}
	if info.GroupAddressStyle != "ThreeLevel" {
		t.Errorf("GroupAddressStyle = %q, want %q", info.GroupAddressStyle, "ThreeLevel")
	}

	device, ok := p.Device("1.1.5")
	if !ok {
		t.Fatal("device 1.1.5 not found")
	}
	if device.Name != "Kitchen actuator" {
		t.Errorf("device Name = %q, want %q", device.Name, "Kitchen actuator")
	}
	if device.HardwareName != etstest.ProductText || device.OrderNumber != etstest.OrderNumber {
		t.Errorf("hardware = %q/%q, want %q/%q", device.HardwareName, device.OrderNumber, etstest.ProductText, etstest.OrderNumber)
	}
	if device.ManufacturerName != etstest.ManufacturerName {
		t.Errorf("ManufacturerName = %q, want %q", device.ManufacturerName, etstest.ManufacturerName)
	}
	if device.ApplicationID != etstest.Application {
		t.Errorf("ApplicationID = %q, want %q", device.ApplicationID, etstest.Application)
	}
	if want := []string{kitchenSwitch, kitchenStatus}; !slices.Equal(device.CommunicationObjectIDs, want) {
		t.Errorf("CommunicationObjectIDs = %v, want %v", device.CommunicationObjectIDs, want)
	}

	co, ok := p.CommunicationObject(kitchenSwitch)
	if !ok {
		t.Fatalf("object %s not found", kitchenSwitch)
	}
	if co.Number != 40 {
		t.Errorf("Number = %d, want 40", co.Number)
	}
	if co.Text != "Switch Channel A" {
		t.Errorf("Text = %q, want %q (ComObjectRef override)", co.Text, "Switch Channel A")
	}
	if co.Name != "Channel A" || co.FunctionText != "Channel A" {
		t.Errorf("Name/FunctionText = %q/%q, want Channel A/Channel A", co.Name, co.FunctionText)
	}
	if len(co.DPTs) != 1 || co.DPTs[0].String() != "1.001" {
		t.Errorf("DPTs = %v, want [1.001]", co.DPTs)
	}
	if !co.Flags.Write || !co.Flags.Communication || co.Flags.Read || co.Flags.Transmit {
		t.Errorf("Flags = %+v, want write+communication", co.Flags)
	}
	if !co.FromTemplate {
		t.Error("FromTemplate = false, want true")
	}
	if want := []string{"6/0/1"}; !slices.Equal(co.GroupAddressLinks, want) {
		t.Errorf("GroupAddressLinks = %v, want %v", co.GroupAddressLinks, want)
	}

	status, _ := p.CommunicationObject(kitchenStatus)
	if len(status.DPTs) != 1 || status.DPTs[0].String() != "1.011" {
		t.Errorf("status DPTs = %v, want [1.011]", status.DPTs)
	}
	if !status.Flags.Read || !status.Flags.Transmit || status.Flags.Write {
		t.Errorf("status Flags = %+v, want read+transmit", status.Flags)
	}

	ga, ok := p.GroupAddress("6/0/1")
	if !ok {
		t.Fatal("group address 6/0/1 not found")
	}
	if ga.RawAddress != 12289 {
		t.Errorf("RawAddress = %d, want 12289", ga.RawAddress)
	}
	if ga.Name != "Kitchen light" {
		t.Errorf("GA Name = %q, want %q", ga.Name, "Kitchen light")
	}
	if ga.DPT == nil || ga.DPT.String() != "1.001" {
		t.Errorf("GA DPT = %v, want 1.001", ga.DPT)
	}
	if want := []string{kitchenSwitch, hallSwitch}; !slices.Equal(ga.CommunicationObjectIDs, want) {
		t.Errorf("GA CommunicationObjectIDs = %v, want %v", ga.CommunicationObjectIDs, want)
	}
	if want := []string{"6/0"}; !slices.Equal(ga.GroupRangeIDs, want) {
		t.Errorf("GroupRangeIDs = %v, want %v", ga.GroupRangeIDs, want)
	}

	topology := p.Topology()
	line := topology["1"].Lines["1.1"]
	if want := []string{"1.1.1", "1.1.5", "1.1.6"}; !slices.Equal(line.Devices, want) {
		t.Errorf("line 1.1 Devices = %v, want %v", line.Devices, want)
	}

	ranges := p.GroupRanges()
	if want := []string{"6/0"}; !slices.Equal(ranges["6"].GroupRangeIDs, want) {
		t.Errorf("range 6 children = %v, want %v", ranges["6"].GroupRangeIDs, want)
	}
	if want := []string{"6/0/1", "6/0/2", "6/0/3"}; !slices.Equal(ranges["6/0"].GroupAddresses, want) {
		t.Errorf("range 6/0 addresses = %v, want %v", ranges["6/0"].GroupAddresses, want)
	}

	kitchen := p.Locations()["P-0123-0_BP-2"]
	if kitchen.ParentID != "P-0123-0_BP-1" {
		t.Errorf("kitchen ParentID = %q, want %q", kitchen.ParentID, "P-0123-0_BP-1")
	}
	if want := []string{"1.1.5"}; !slices.Equal(kitchen.Devices, want) {
		t.Errorf("kitchen Devices = %v, want %v", kitchen.Devices, want)
	}

	if result.ContentHash != etsimport.ContentHash(data) {
		t.Errorf("ContentHash = %q, want hash of archive bytes", result.ContentHash)
	}
}

func TestPowerSupplyHasNoObjects(t *testing.T) {
	p := parse(t, etstest.Standard(), etsimport.Options{}).Project

	d, ok := p.Device("1.1.1")
	if !ok {
		t.Fatal("device 1.1.1 not found")
	}
	if d.CommunicationObjectIDs == nil || len(d.CommunicationObjectIDs) != 0 {
		t.Errorf("CommunicationObjectIDs = %#v, want empty non-nil", d.CommunicationObjectIDs)
	}
}

func TestDeclaredAddressWithoutObjects(t *testing.T) {
	p := parse(t, etstest.Standard(), etsimport.Options{}).Project

	ga, ok := p.GroupAddress("6/0/3")
	if !ok {
		t.Fatal("group address 6/0/3 not found")
	}
	if len(ga.CommunicationObjectIDs) != 0 {
		t.Errorf("CommunicationObjectIDs = %v, want empty", ga.CommunicationObjectIDs)
	}
	if ga.Implicit {
		t.Error("Implicit = true for a range tree declaration")
	}
}

func TestSharedTemplateDoesNotCrossContaminate(t *testing.T) {
	f := etstest.Standard()
	f.Devices[2].Objects[0].Attrs = map[string]string{"Text": "Hall light"}
	f.Devices[2].Objects[0].Links = []string{"GA-3"}
	p := parse(t, f, etsimport.Options{}).Project

	kitchen, _ := p.CommunicationObject(kitchenSwitch)
	hall, _ := p.CommunicationObject(hallSwitch)

	if kitchen.Text != "Switch Channel A" {
		t.Errorf("kitchen Text = %q, want template text", kitchen.Text)
	}
	if hall.Text != "Hall light" {
		t.Errorf("hall Text = %q, want instance override", hall.Text)
	}
	if want := []string{"6/0/1"}; !slices.Equal(kitchen.GroupAddressLinks, want) {
		t.Errorf("kitchen links = %v, want %v", kitchen.GroupAddressLinks, want)
	}
	if want := []string{"6/0/3"}; !slices.Equal(hall.GroupAddressLinks, want) {
		t.Errorf("hall links = %v, want %v", hall.GroupAddressLinks, want)
	}

	ga, _ := p.GroupAddress("6/0/1")
	if want := []string{kitchenSwitch}; !slices.Equal(ga.CommunicationObjectIDs, want) {
		t.Errorf("6/0/1 objects = %v, want %v", ga.CommunicationObjectIDs, want)
	}
}

func TestObjectWithoutLinks(t *testing.T) {
	f := etstest.Standard()
	f.Devices[1].Objects[1].Links = nil
	p := parse(t, f, etsimport.Options{}).Project

	co, ok := p.CommunicationObject(kitchenStatus)
	if !ok {
		t.Fatalf("object %s not found", kitchenStatus)
	}
	if co.GroupAddressLinks == nil || len(co.GroupAddressLinks) != 0 {
		t.Errorf("GroupAddressLinks = %#v, want empty non-nil", co.GroupAddressLinks)
	}

	data, err := json.Marshal(co)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if !bytes.Contains(data, []byte(`"group_address_links":[]`)) {
		t.Errorf("JSON = %s, want empty link list", data)
	}
}

func TestLinkInvariantsHold(t *testing.T) {
	for _, version := range []int{14, 20, 21} {
		f := etstest.Standard()
		f.Version = version
		f.Unnested = version == 14
		p := parse(t, f, etsimport.Options{}).Project

		devices := p.Devices()
		objects := p.CommunicationObjects()
		addresses := p.GroupAddresses()
		if len(objects) != 3 {
			t.Errorf("v%d: %d objects, want 3", version, len(objects))
		}

		for id, co := range objects {
			owner, ok := devices[co.DeviceAddress]
			if !ok || !slices.Contains(owner.CommunicationObjectIDs, id) {
				t.Errorf("v%d: object %s not listed by owner %s", version, id, co.DeviceAddress)
			}
			for _, link := range co.GroupAddressLinks {
				ga, ok := addresses[link]
				if !ok || !slices.Contains(ga.CommunicationObjectIDs, id) {
					t.Errorf("v%d: group address %s does not list %s", version, link, id)
				}
			}
		}
		for address, ga := range addresses {
			for _, id := range ga.CommunicationObjectIDs {
				if !slices.Contains(objects[id].GroupAddressLinks, address) {
					t.Errorf("v%d: object %s does not link back to %s", version, id, address)
				}
			}
		}
	}
}

func TestParseIsDeterministic(t *testing.T) {
	f := etstest.Standard()
	f.Version = 21
	data := f.Build(t)
	parser := etsimport.NewParser()

	var encoded [][]byte
	for range 3 {
		result, err := parser.ParseBytes(context.Background(), data, etsimport.Options{})
		if err != nil {
			t.Fatalf("ParseBytes() error = %v", err)
		}
		out, err := json.Marshal(result)
		if err != nil {
			t.Fatalf("Marshal() error = %v", err)
		}
		encoded = append(encoded, out)
	}
	for i := 1; i < len(encoded); i++ {
		if !bytes.Equal(encoded[0], encoded[i]) {
			t.Fatalf("parse %d differs from parse 0", i)
		}
	}
}

func TestGenerations(t *testing.T) {
	tests := []struct {
		name       string
		version    int
		unnested   bool
		generation string
		locationID string
		functions  int
	}{
		{"ETS4", 14, true, "ETS4", "P-0123-0_BP-2", 0},
		{"ETS5", 20, false, "ETS5", "P-0123-0_BP-2", 0},
		{"ETS6", 21, false, "ETS6", "P-0123-0_BP-2", 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := etstest.Standard()
			f.Version = tt.version
			f.Unnested = tt.unnested
			p := parse(t, f, etsimport.Options{}).Project

			if got := p.Info().ETSGeneration; got != tt.generation {
				t.Errorf("ETSGeneration = %q, want %q", got, tt.generation)
			}
			co, ok := p.CommunicationObject(kitchenSwitch)
			if !ok {
				t.Fatalf("object %s not found", kitchenSwitch)
			}
			if want := []string{"6/0/1"}; !slices.Equal(co.GroupAddressLinks, want) {
				t.Errorf("GroupAddressLinks = %v, want %v", co.GroupAddressLinks, want)
			}
			if co.Number != 40 {
				t.Errorf("Number = %d, want 40", co.Number)
			}
			if _, ok := p.Locations()[tt.locationID]; !ok {
				t.Errorf("location %s not found", tt.locationID)
			}
			line := p.Topology()["1"].Lines["1.1"]
			if line.MediumType != "MT-0" {
				t.Errorf("MediumType = %q, want MT-0", line.MediumType)
			}
			if len(line.Devices) != 3 {
				t.Errorf("line devices = %v, want 3", line.Devices)
			}

			functions := p.Functions()
			if len(functions) != tt.functions {
				t.Fatalf("%d functions, want %d", len(functions), tt.functions)
			}
			if tt.functions > 0 {
				fn := functions["P-0123-0_F-1"]
				if fn.SpaceID != "P-0123-0_BP-2" {
					t.Errorf("function SpaceID = %q, want P-0123-0_BP-2", fn.SpaceID)
				}
				if len(fn.GroupAddresses) != 1 || fn.GroupAddresses[0].Address != "6/0/1" {
					t.Errorf("function addresses = %+v, want 6/0/1", fn.GroupAddresses)
				}
				if want := []string{"P-0123-0_F-1"}; !slices.Equal(p.Locations()["P-0123-0_BP-2"].FunctionIDs, want) {
					t.Errorf("space FunctionIDs = %v, want %v", p.Locations()["P-0123-0_BP-2"].FunctionIDs, want)
				}
			}
		})
	}
}

func TestUnsupportedVersion(t *testing.T) {
	for _, version := range []int{10, 30} {
		f := etstest.Standard()
		f.Version = version
		err := parseErr(t, f, etsimport.Options{})
		if !errors.Is(err, etsimport.ErrUnsupportedVersion) {
			t.Errorf("version %d: error = %v, want ErrUnsupportedVersion", version, err)
		}
	}
}

func TestPasswordProtectedProject(t *testing.T) {
	tests := []struct {
		name     string
		version  int
		password string
		wantErr  error
	}{
		{"ETS5 missing password", 20, "", etsimport.ErrPasswordRequired},
		{"ETS5 wrong password", 20, "guess", etsimport.ErrWrongPassword},
		{"ETS5 correct password", 20, "s3cret", nil},
		{"ETS6 correct password", 21, "s3cret", nil},
		{"ETS4 missing password", 14, "", etsimport.ErrPasswordRequired},
		{"ETS4 wrong password", 14, "guess", etsimport.ErrWrongPassword},
		{"ETS4 correct password", 14, "s3cret", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := etstest.Standard()
			f.Version = tt.version
			f.Password = "s3cret"
			data := f.Build(t)

			result, err := etsimport.NewParser().ParseBytes(context.Background(), data, etsimport.Options{Password: tt.password})
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseBytes() error = %v", err)
			}
			if _, ok := result.Project.CommunicationObject(kitchenSwitch); !ok {
				t.Errorf("object %s not found", kitchenSwitch)
			}
		})
	}
}

func TestPasswordErrorsAreDistinct(t *testing.T) {
	f := etstest.Standard()
	f.Password = "s3cret"
	data := f.Build(t)
	parser := etsimport.NewParser()

	_, missing := parser.ParseBytes(context.Background(), data, etsimport.Options{})
	_, wrong := parser.ParseBytes(context.Background(), data, etsimport.Options{Password: "nope"})

	if errors.Is(missing, etsimport.ErrWrongPassword) {
		t.Errorf("missing password reported as wrong: %v", missing)
	}
	if errors.Is(wrong, etsimport.ErrPasswordRequired) {
		t.Errorf("wrong password reported as missing: %v", wrong)
	}
	if errors.Is(wrong, etsimport.ErrUnsupportedArchive) {
		t.Errorf("wrong password reported as structural: %v", wrong)
	}
}

func TestCorruptArchive(t *testing.T) {
	valid := etstest.Standard().Build(t)

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", []byte{}},
		{"not a zip", []byte("not a zip file")},
		{"truncated", valid[:len(valid)/2]},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := etsimport.NewParser().ParseBytes(context.Background(), tt.data, etsimport.Options{})
			if !errors.Is(err, etsimport.ErrUnsupportedArchive) {
				t.Errorf("error = %v, want ErrUnsupportedArchive", err)
			}
		})
	}
}

func TestMissingRequiredDocuments(t *testing.T) {
	for _, name := range []string{"project.xml", "0.xml"} {
		f := etstest.Standard()
		f.ProjectFiles = map[string]string{name: ""}
		err := parseErr(t, f, etsimport.Options{})
		if !errors.Is(err, etsimport.ErrUnsupportedArchive) {
			t.Errorf("without %s: error = %v, want ErrUnsupportedArchive", name, err)
		}
	}
}

func TestMissingCatalog(t *testing.T) {
	f := etstest.Standard()
	f.OmitCatalog = true
	result := parse(t, f, etsimport.Options{})

	if !slices.Contains(warningCodes(result.Warnings), etsimport.WarnApplicationNotFound) {
		t.Errorf("Warnings = %v, want %s", warningCodes(result.Warnings), etsimport.WarnApplicationNotFound)
	}
	if n := len(result.Project.CommunicationObjects()); n != 0 {
		t.Errorf("%d objects without catalog, want 0", n)
	}
	if _, ok := result.Project.GroupAddress("6/0/1"); !ok {
		t.Error("group address 6/0/1 not found")
	}
}

func TestMalformedDocument(t *testing.T) {
	f := etstest.Standard()
	f.ProjectFiles = map[string]string{"0.xml": `<?xml version="1.0"?><KNX><Project><Installations>`}
	err := parseErr(t, f, etsimport.Options{})

	if !errors.Is(err, etsimport.ErrMalformedDocument) {
		t.Fatalf("error = %v, want ErrMalformedDocument", err)
	}
	var docErr *etsimport.DocumentError
	if !errors.As(err, &docErr) {
		t.Fatalf("error %T is not a *DocumentError", err)
	}
	if docErr.Document != "P-0123/0.xml" {
		t.Errorf("Document = %q, want %q", docErr.Document, "P-0123/0.xml")
	}
}

func TestTranslationOverlay(t *testing.T) {
	f := etstest.Standard()
	f.Devices[2].Objects[0].Attrs = map[string]string{"Text": "Hall light"}
	f.Translations = []etstest.Language{{
		Identifier: "de-DE",
		Entries: []etstest.Translation{
			{RefID: etstest.Application + "_" + etstest.SwitchRef, Attribute: "Text", Text: "Schalten Kanal A"},
			{RefID: etstest.Application + "_O-41", Attribute: "Text", Text: "Rückmeldung"},
			{RefID: etstest.Product, Attribute: "Text", Text: "Schaltaktor 16-fach"},
		},
	}}
	f.ProjectTranslations = []etstest.Language{{
		Identifier: "de-DE",
		Entries: []etstest.Translation{
			{RefID: "P-0123-0_GA-1", Attribute: "Name", Text: "Küche Licht"},
		},
	}}

	tests := []struct {
		locale string
	}{
		{"de-DE"},
		{"de"},
	}
	for _, tt := range tests {
		t.Run(tt.locale, func(t *testing.T) {
			result := parse(t, f, etsimport.Options{Language: tt.locale})
			p := result.Project

			if got := p.Info().LanguageCode; got != "de-DE" {
				t.Errorf("LanguageCode = %q, want de-DE", got)
			}
			kitchen, _ := p.CommunicationObject(kitchenSwitch)
			if kitchen.Text != "Schalten Kanal A" {
				t.Errorf("kitchen Text = %q, want ComObjectRef translation", kitchen.Text)
			}
			if kitchen.Identifier != kitchenSwitch {
				t.Errorf("Identifier changed to %q", kitchen.Identifier)
			}
			status, _ := p.CommunicationObject(kitchenStatus)
			if status.Text != "Rückmeldung" {
				t.Errorf("status Text = %q, want ComObject fallback translation", status.Text)
			}
			hall, _ := p.CommunicationObject(hallSwitch)
			if hall.Text != "Hall light" {
				t.Errorf("hall Text = %q, want instance text kept", hall.Text)
			}
			d, _ := p.Device("1.1.5")
			if d.HardwareName != "Schaltaktor 16-fach" {
				t.Errorf("HardwareName = %q, want product translation", d.HardwareName)
			}
			ga, _ := p.GroupAddress("6/0/1")
			if ga.Name != "Küche Licht" {
				t.Errorf("GA Name = %q, want translation", ga.Name)
			}
			if ga.Address != "6/0/1" || !slices.Equal(ga.CommunicationObjectIDs, []string{kitchenSwitch, hallSwitch}) {
				t.Errorf("GA links changed: %s %v", ga.Address, ga.CommunicationObjectIDs)
			}
		})
	}
}

func TestTranslationPrecedence(t *testing.T) {
	f := etstest.Standard()
	ref := etstest.Application + "_" + etstest.SwitchRef
	f.Translations = []etstest.Language{
		{Identifier: "de-DE", Entries: []etstest.Translation{{RefID: ref, Attribute: "Text", Text: "Deutschland"}}},
		{Identifier: "de-AT", Entries: []etstest.Translation{{RefID: ref, Attribute: "Text", Text: "Österreich"}}},
	}

	tests := []struct {
		locale   string
		wantText string
		wantCode string
	}{
		{"de-AT", "Österreich", "de-AT"},
		{"DE-de", "Deutschland", "de-DE"},
		{"de", "Deutschland", "de-DE"},
		{"de-CH", "Deutschland", "de-DE"},
	}
	for _, tt := range tests {
		t.Run(tt.locale, func(t *testing.T) {
			p := parse(t, f, etsimport.Options{Language: tt.locale}).Project
			co, _ := p.CommunicationObject(kitchenSwitch)
			if co.Text != tt.wantText {
				t.Errorf("Text = %q, want %q", co.Text, tt.wantText)
			}
			if got := p.Info().LanguageCode; got != tt.wantCode {
				t.Errorf("LanguageCode = %q, want %q", got, tt.wantCode)
			}
		})
	}
}

func TestAbsentLocaleLeavesTextUnchanged(t *testing.T) {
	f := etstest.Standard()
	f.Translations = []etstest.Language{{
		Identifier: "de-DE",
		Entries: []etstest.Translation{
			{RefID: etstest.Application + "_" + etstest.SwitchRef, Attribute: "Text", Text: "Schalten Kanal A"},
		},
	}}

	result := parse(t, f, etsimport.Options{Language: "fr-FR"})
	co, _ := result.Project.CommunicationObject(kitchenSwitch)
	if co.Text != "Switch Channel A" {
		t.Errorf("Text = %q, want base text", co.Text)
	}
	if got := result.Project.Info().LanguageCode; got != "" {
		t.Errorf("LanguageCode = %q, want empty", got)
	}
	if !slices.Contains(warningCodes(result.Warnings), etsimport.WarnLanguageNotFound) {
		t.Errorf("Warnings = %v, want %s", warningCodes(result.Warnings), etsimport.WarnLanguageNotFound)
	}
}

func TestDeviceWarnings(t *testing.T) {
	f := etstest.Standard()
	f.Devices = append(f.Devices,
		etstest.Device{Area: "1", Line: "1", Name: "Not commissioned"},
		etstest.Device{Area: "1", Line: "1", Number: "5", Name: "Duplicate"},
		etstest.Device{Area: "1", Line: "1", Number: "300", Name: "Out of range"},
		etstest.Device{Area: "1", Line: "1", Number: "9", Name: "Unknown program", HardwareProgram: "M-0083_H-9999_HP-0000",
			Objects: []etstest.Object{{RefID: etstest.SwitchRef, Links: []string{"GA-3"}}}},
		etstest.Device{Area: "1", Line: "1", Number: "7", Name: "Stale ids", Objects: []etstest.Object{
			{RefID: "O-99_R-9999", Links: []string{"GA-3", "GA-77"}},
		}},
	)
	result := parse(t, f, etsimport.Options{})
	p := result.Project
	codes := warningCodes(result.Warnings)

	for _, want := range []string{
		etsimport.WarnUnassignedDevice,
		etsimport.WarnDuplicateDevice,
		etsimport.WarnInvalidIndividualAddress,
		etsimport.WarnApplicationNotFound,
		etsimport.WarnTemplateNotFound,
		etsimport.WarnUnresolvedGroupAddress,
	} {
		if !slices.Contains(codes, want) {
			t.Errorf("Warnings = %v, missing %s", codes, want)
		}
	}

	if d, _ := p.Device("1.1.5"); d.Name != "Kitchen actuator" {
		t.Errorf("1.1.5 Name = %q, want first device kept", d.Name)
	}
	if n := len(p.Devices()); n != 5 {
		t.Errorf("%d devices, want 5", n)
	}

	unknown, ok := p.Device("1.1.9")
	if !ok {
		t.Fatal("device 1.1.9 not found")
	}
	if len(unknown.CommunicationObjectIDs) != 0 {
		t.Errorf("1.1.9 objects = %v, want none", unknown.CommunicationObjectIDs)
	}

	stale, ok := p.CommunicationObject("1.1.7/O-99_R-9999")
	if !ok {
		t.Fatal("object 1.1.7/O-99_R-9999 not found")
	}
	if stale.FromTemplate {
		t.Error("FromTemplate = true, want false")
	}
	if want := []string{"6/0/3"}; !slices.Equal(stale.GroupAddressLinks, want) {
		t.Errorf("GroupAddressLinks = %v, want %v", stale.GroupAddressLinks, want)
	}
	spare, _ := p.GroupAddress("6/0/3")
	if want := []string{"1.1.7/O-99_R-9999"}; !slices.Equal(spare.CommunicationObjectIDs, want) {
		t.Errorf("6/0/3 objects = %v, want %v", spare.CommunicationObjectIDs, want)
	}
}

func TestImplicitGroupAddress(t *testing.T) {
	f := etstest.Standard()
	f.LooseAddresses = []etstest.Address{
		{ID: "GA-9", Raw: 12300, Name: "Loose"},
		{ID: "GA-10", Raw: 12301, Name: "Unused loose"},
	}
	f.Devices[2].Objects[0].Links = []string{"GA-1", "GA-9"}
	p := parse(t, f, etsimport.Options{}).Project

	ga, ok := p.GroupAddress("6/0/12")
	if !ok {
		t.Fatal("implicit group address 6/0/12 not found")
	}
	if !ga.Implicit {
		t.Error("Implicit = false, want true")
	}
	if len(ga.GroupRangeIDs) != 0 {
		t.Errorf("GroupRangeIDs = %v, want none", ga.GroupRangeIDs)
	}
	if want := []string{hallSwitch}; !slices.Equal(ga.CommunicationObjectIDs, want) {
		t.Errorf("CommunicationObjectIDs = %v, want %v", ga.CommunicationObjectIDs, want)
	}
	if _, ok := p.GroupAddress("6/0/13"); ok {
		t.Error("unlinked loose address 6/0/13 present")
	}
}

func TestDuplicateGroupAddressAcrossRanges(t *testing.T) {
	f := etstest.Standard()
	f.Ranges[0].Ranges = append(f.Ranges[0].Ranges, etstest.Range{
		ID: "GR-3", Name: "First floor", Start: 12544, End: 12799,
		Addresses: []etstest.Address{{ID: "GA-20", Raw: 12289, Name: "Copy"}},
	})
	result := parse(t, f, etsimport.Options{})

	if !slices.Contains(warningCodes(result.Warnings), etsimport.WarnDuplicateGA) {
		t.Errorf("Warnings = %v, want %s", warningCodes(result.Warnings), etsimport.WarnDuplicateGA)
	}
	ga, _ := result.Project.GroupAddress("6/0/1")
	if ga.Name != "Kitchen light" {
		t.Errorf("Name = %q, want first declaration", ga.Name)
	}
	if want := []string{"6/0", "6/1"}; !slices.Equal(ga.GroupRangeIDs, want) {
		t.Errorf("GroupRangeIDs = %v, want %v", ga.GroupRangeIDs, want)
	}
}

func TestGroupAddressStyles(t *testing.T) {
	tests := []struct {
		style      string
		address    string
		mainRange  string
		innerRange string
	}{
		{"ThreeLevel", "6/0/1", "6", "6/0"},
		{"TwoLevel", "6/1", "6", "12288-12543"},
		{"Free", "12289", "12288-14335", "12288-12543"},
	}

	for _, tt := range tests {
		t.Run(tt.style, func(t *testing.T) {
			f := etstest.Standard()
			f.Style = tt.style
			p := parse(t, f, etsimport.Options{}).Project

			ga, ok := p.GroupAddress(tt.address)
			if !ok {
				t.Fatalf("group address %s not found", tt.address)
			}
			if ga.RawAddress != 12289 {
				t.Errorf("RawAddress = %d, want 12289", ga.RawAddress)
			}
			co, _ := p.CommunicationObject(kitchenSwitch)
			if want := []string{tt.address}; !slices.Equal(co.GroupAddressLinks, want) {
				t.Errorf("GroupAddressLinks = %v, want %v", co.GroupAddressLinks, want)
			}
			ranges := p.GroupRanges()
			if want := []string{tt.innerRange}; !slices.Equal(ranges[tt.mainRange].GroupRangeIDs, want) {
				t.Errorf("range %s children = %v, want %v", tt.mainRange, ranges[tt.mainRange].GroupRangeIDs, want)
			}
		})
	}
}

func TestDataSecureAddress(t *testing.T) {
	f := etstest.Standard()
	f.Ranges[0].Ranges[0].Addresses[0].Secure = true
	p := parse(t, f, etsimport.Options{}).Project

	secure, _ := p.GroupAddress("6/0/1")
	plain, _ := p.GroupAddress("6/0/2")
	if !secure.DataSecure {
		t.Error("6/0/1 DataSecure = false, want true")
	}
	if plain.DataSecure {
		t.Error("6/0/2 DataSecure = true, want false")
	}
}

func TestProjectJSONRoundTrip(t *testing.T) {
	f := etstest.Standard()
	f.Version = 21
	p := parse(t, f, etsimport.Options{}).Project

	first, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	var decoded etsimport.Project
	if err := json.Unmarshal(first, &decoded); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	second, err := json.Marshal(&decoded)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Error("round-tripped JSON differs")
	}
}

func TestUnmarshalRejectsInconsistentModel(t *testing.T) {
	p := parse(t, etstest.Standard(), etsimport.Options{}).Project
	data, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	var doc map[string]map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	var device map[string]any
	if err := json.Unmarshal(doc["devices"]["1.1.5"], &device); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	device["communication_object_ids"] = []string{kitchenSwitch}
	doc["devices"]["1.1.5"], _ = json.Marshal(device)
	tampered, _ := json.Marshal(doc)

	var decoded etsimport.Project
	err = json.Unmarshal(tampered, &decoded)
	if !errors.Is(err, etsimport.ErrConsistency) {
		t.Fatalf("error = %v, want ErrConsistency", err)
	}
	var consistency *etsimport.ConsistencyError
	if !errors.As(err, &consistency) {
		t.Fatalf("error %T is not a *ConsistencyError", err)
	}
	found := false
	for _, v := range consistency.Violations {
		if v.Invariant == etsimport.InvariantObjectOwner && v.Entity == kitchenStatus {
			found = true
		}
	}
	if !found {
		t.Errorf("Violations = %+v, want %s on %s", consistency.Violations, etsimport.InvariantObjectOwner, kitchenStatus)
	}
}

func TestAccessorsReturnCopies(t *testing.T) {
	p := parse(t, etstest.Standard(), etsimport.Options{}).Project

	d, _ := p.Device("1.1.5")
	d.CommunicationObjectIDs[0] = "mutated"
	ga, _ := p.GroupAddress("6/0/1")
	*ga.DPT.Sub = 99
	p.Topology()["1"].Lines["1.1"].Devices[0] = "mutated"

	if again, _ := p.Device("1.1.5"); again.CommunicationObjectIDs[0] != kitchenSwitch {
		t.Errorf("device objects mutated to %v", again.CommunicationObjectIDs)
	}
	if again, _ := p.GroupAddress("6/0/1"); again.DPT.String() != "1.001" {
		t.Errorf("DPT mutated to %s", again.DPT)
	}
	if again := p.Topology()["1"].Lines["1.1"].Devices[0]; again != "1.1.1" {
		t.Errorf("line devices mutated to %q", again)
	}
}

func TestParseFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "house.knxproj")
	if err := os.WriteFile(path, etstest.Standard().Build(t), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	result, err := etsimport.NewParser().ParseFile(context.Background(), path, etsimport.Options{})
	if err != nil {
		t.Fatalf("ParseFile() error = %v", err)
	}
	if _, ok := result.Project.Device("1.1.5"); !ok {
		t.Error("device 1.1.5 not found")
	}
}

func TestParseFileTooLarge(t *testing.T) {
	path := filepath.Join(t.TempDir(), "large.knxproj")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := f.Truncate(etsimport.MaxFileSize + 1); err != nil {
		t.Fatalf("Truncate() error = %v", err)
	}
	f.Close()

	_, err = etsimport.NewParser().ParseFile(context.Background(), path, etsimport.Options{})
	if !errors.Is(err, etsimport.ErrFileTooLarge) {
		t.Errorf("error = %v, want ErrFileTooLarge", err)
	}
}

func TestParseBytesTooLarge(t *testing.T) {
	data := make([]byte, etsimport.MaxFileSize+1)
	_, err := etsimport.NewParser().ParseBytes(context.Background(), data, etsimport.Options{})
	if !errors.Is(err, etsimport.ErrFileTooLarge) {
		t.Errorf("error = %v, want ErrFileTooLarge", err)
	}
}

func TestParseCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := etsimport.NewParser().ParseBytes(ctx, etstest.Standard().Build(t), etsimport.Options{})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}

func TestRefTextIsNotTranslatedFromComObject(t *testing.T) {
	f := etstest.Standard()
	f.Translations = []etstest.Language{{
		Identifier: "de-DE",
		Entries: []etstest.Translation{
			{RefID: etstest.Application + "_O-40", Attribute: "Text", Text: "Schalten"},
			{RefID: etstest.Application + "_O-40", Attribute: "FunctionText", Text: "Kanal A"},
		},
	}}

	p := parse(t, f, etsimport.Options{Language: "de-DE"}).Project
	co, _ := p.CommunicationObject(kitchenSwitch)
	if co.Text != "Switch Channel A" {
		t.Errorf("Text = %q, want the ComObjectRef text kept", co.Text)
	}
	if co.FunctionText != "Kanal A" {
		t.Errorf("FunctionText = %q, want ComObject translation", co.FunctionText)
	}
}

func TestChannels(t *testing.T) {
	tests := []struct {
		name        string
		channels    []etstest.DeviceChannel
		wantSwitch  string
		wantStatus  string
		wantNames   map[string]string
		wantMembers map[string][]string
	}{
		{
			name:        "catalog only",
			wantSwitch:  etstest.Channel,
			wantNames:   map[string]string{etstest.Channel: etstest.ChannelText},
			wantMembers: map[string][]string{etstest.Channel: {kitchenSwitch}},
		},
		{
			name:        "named on device",
			channels:    []etstest.DeviceChannel{{Key: etstest.Channel, Text: "Kitchen ceiling", Objects: []string{etstest.StatusRef}}},
			wantSwitch:  etstest.Channel,
			wantStatus:  etstest.Channel,
			wantNames:   map[string]string{etstest.Channel: "Kitchen ceiling"},
			wantMembers: map[string][]string{etstest.Channel: {kitchenSwitch, kitchenStatus}},
		},
		{
			name:       "device channel outside catalog",
			channels:   []etstest.DeviceChannel{{Key: "CH-7", Text: "Feedback", Objects: []string{etstest.StatusRef}}},
			wantSwitch: etstest.Channel,
			wantStatus: "CH-7",
			wantNames:  map[string]string{etstest.Channel: etstest.ChannelText, "CH-7": "Feedback"},
			wantMembers: map[string][]string{
				etstest.Channel: {kitchenSwitch},
				"CH-7":          {kitchenStatus},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := etstest.Standard()
			f.Devices[1].Channels = tt.channels
			p := parse(t, f, etsimport.Options{}).Project

			switchObj, _ := p.CommunicationObject(kitchenSwitch)
			if switchObj.Channel != tt.wantSwitch {
				t.Errorf("switch Channel = %q, want %q", switchObj.Channel, tt.wantSwitch)
			}
			statusObj, _ := p.CommunicationObject(kitchenStatus)
			if statusObj.Channel != tt.wantStatus {
				t.Errorf("status Channel = %q, want %q", statusObj.Channel, tt.wantStatus)
			}

			d, _ := p.Device("1.1.5")
			if len(d.Channels) != len(tt.wantNames) {
				t.Fatalf("Channels = %+v, want %d", d.Channels, len(tt.wantNames))
			}
			for key, name := range tt.wantNames {
				ch := d.Channels[key]
				if ch.Identifier != key || ch.Name != name {
					t.Errorf("channel %s = %q %q, want name %q", key, ch.Identifier, ch.Name, name)
				}
				if !slices.Equal(ch.CommunicationObjectIDs, tt.wantMembers[key]) {
					t.Errorf("channel %s objects = %v, want %v", key, ch.CommunicationObjectIDs, tt.wantMembers[key])
				}
			}
			if !slices.Equal(d.CommunicationObjectIDs, []string{kitchenSwitch, kitchenStatus}) {
				t.Errorf("device objects = %v, want both objects", d.CommunicationObjectIDs)
			}
		})
	}

	supply, _ := parse(t, etstest.Standard(), etsimport.Options{}).Project.Device("1.1.1")
	if supply.Channels == nil || len(supply.Channels) != 0 {
		t.Errorf("power supply Channels = %#v, want empty map", supply.Channels)
	}
}

func TestChannelNameTranslation(t *testing.T) {
	f := etstest.Standard()
	f.Devices[2].Channels = []etstest.DeviceChannel{{Key: etstest.Channel, Text: "Hall", Objects: []string{etstest.SwitchRef}}}
	f.Translations = []etstest.Language{{
		Identifier: "de-DE",
		Entries: []etstest.Translation{
			{RefID: etstest.Application + "_" + etstest.Channel, Attribute: "Text", Text: "Ausgang A"},
		},
	}}

	p := parse(t, f, etsimport.Options{Language: "de-DE"}).Project
	kitchen, _ := p.Device("1.1.5")
	if got := kitchen.Channels[etstest.Channel].Name; got != "Ausgang A" {
		t.Errorf("kitchen channel = %q, want catalog translation", got)
	}
	hall, _ := p.Device("1.1.6")
	if got := hall.Channels[etstest.Channel].Name; got != "Hall" {
		t.Errorf("hall channel = %q, want device text kept", got)
	}
}

func TestUnmarshalRejectsChannelMismatch(t *testing.T) {
	p := parse(t, etstest.Standard(), etsimport.Options{}).Project
	data, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	var doc map[string]map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	var object map[string]any
	if err := json.Unmarshal(doc["communication_objects"][kitchenStatus], &object); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	object["channel"] = etstest.Channel
	doc["communication_objects"][kitchenStatus], _ = json.Marshal(object)
	tampered, _ := json.Marshal(doc)

	var decoded etsimport.Project
	err = json.Unmarshal(tampered, &decoded)
	var consistency *etsimport.ConsistencyError
	if !errors.As(err, &consistency) {
		t.Fatalf("error = %v, want *ConsistencyError", err)
	}
	found := false
	for _, v := range consistency.Violations {
		if v.Invariant == etsimport.InvariantChannelRef && v.Entity == kitchenStatus {
			found = true
		}
	}
	if !found {
		t.Errorf("Violations = %+v, want %s on %s", consistency.Violations, etsimport.InvariantChannelRef, kitchenStatus)
	}
}

func TestFunctionWarningsAreOrdered(t *testing.T) {
	f := etstest.Standard()
	f.Version = 21
	var want []string
	kitchen := &f.Spaces[0].Spaces[0]
	for i, name := range []string{"fnA", "fnB", "fnC", "fnD", "fnE", "fnF", "fnG", "fnH"} {
		kitchen.Functions = append(kitchen.Functions, etstest.Function{
			ID:        fmt.Sprintf("P-0123-0_F-%d", i+2),
			Name:      name,
			Type:      "SwitchableLight",
			Addresses: []string{fmt.Sprintf("GA-9%d", i)},
		})
		want = append(want, name)
	}

	messages := func() []string {
		var out []string
		for _, w := range parse(t, f, etsimport.Options{}).Warnings {
			if w.Code == etsimport.WarnFunctionGANotFound {
				out = append(out, w.Message)
			}
		}
		return out
	}

	first := messages()
	if len(first) != len(want) {
		t.Fatalf("got %d %s warnings, want %d", len(first), etsimport.WarnFunctionGANotFound, len(want))
	}
	for i, name := range want {
		if !strings.Contains(first[i], `"`+name+`"`) {
			t.Errorf("warning %d = %q, want function %s", i, first[i], name)
		}
	}
	for range 10 {
		if again := messages(); !slices.Equal(again, first) {
			t.Fatalf("warning order changed: %v, want %v", again, first)
		}
	}
}

const annexInstallation = `<?xml version="1.0" encoding="utf-8"?>
<KNX xmlns="http://knx.org/xml/project/21">
<Project Id="P-0123"><Installations><Installation Name="Annex" InstallationId="1">
<Topology><Area Id="P-0123-1_A-2" Name="Annex" Address="2"><Line Id="P-0123-1_L-2-1" Name="Annex line" Address="1">
<Segment Id="P-0123-1_S-2-1" MediumTypeRefId="MT-0">
<DeviceInstance Id="P-0123-1_DI-1" Name="Annex actuator" Address="1" ProductRefId="` + etstest.Product + `" Hardware2ProgramRefId="` + etstest.HardwareProgram + `">
<ComObjectInstanceRefs><ComObjectInstanceRef RefId="` + etstest.SwitchRef + `" Links="GA-1"/></ComObjectInstanceRefs>
</DeviceInstance></Segment></Line></Area></Topology>
<GroupAddresses><GroupRanges><GroupRange Id="P-0123-1_GR-1" Name="Annex" RangeStart="14336" RangeEnd="16383">
<GroupAddress Id="P-0123-1_GA-1" Address="14337" Name="Annex light" DatapointType="DPST-1-1"/>
</GroupRange></GroupRanges></GroupAddresses>
</Installation></Installations></Project></KNX>`

func TestShortLinksBindWithinInstallation(t *testing.T) {
	f := etstest.Standard()
	f.Version = 21
	f.ProjectFiles = map[string]string{"1.xml": annexInstallation}
	p := parse(t, f, etsimport.Options{}).Project

	annex, ok := p.CommunicationObject("2.1.1/" + etstest.SwitchRef)
	if !ok {
		t.Fatal("annex switch object missing")
	}
	if !slices.Equal(annex.GroupAddressLinks, []string{"7/0/1"}) {
		t.Errorf("annex links = %v, want [7/0/1]", annex.GroupAddressLinks)
	}
	kitchen, _ := p.CommunicationObject(kitchenSwitch)
	if !slices.Equal(kitchen.GroupAddressLinks, []string{"6/0/1"}) {
		t.Errorf("kitchen links = %v, want [6/0/1]", kitchen.GroupAddressLinks)
	}
	ga, _ := p.GroupAddress("6/0/1")
	if !slices.Equal(ga.CommunicationObjectIDs, []string{kitchenSwitch, hallSwitch}) {
		t.Errorf("6/0/1 objects = %v, want only installation 0 objects", ga.CommunicationObjectIDs)
	}
}
