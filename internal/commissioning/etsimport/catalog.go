package etsimport

import (
	"context"
	"path"
	"runtime"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/gray-logic-knxproj/internal/knx"
)

// ApplicationKey identifies an application program in the catalog.
type ApplicationKey struct {
	ManufacturerID string
	ApplicationID  string
}

// Template is a catalog communication object: a ComObject merged with the
// overrides of one ComObjectRef.
type Template struct {
	// RefID is the short catalog reference id, e.g. "O-40_R-1433".
	RefID string

	// ComObjectRefID and ComObjectID are the full catalog ids, used to
	// look up translations.
	ComObjectRefID string
	ComObjectID    string

	Number       int
	Name         string
	Text         string
	FunctionText string
	Description  string
	DPTs         []knx.DPT
	ObjectSize   string
	Flags        Flags

	// Channel is the short id of the application channel whose
	// ComObjectRefRef names this reference, empty outside any channel.
	Channel string

	// refText lists the display attributes the ComObjectRef sets itself.
	// Their translations are keyed by the ref, never by the ComObject.
	refText map[string]bool
}

// ApplicationChannel is a Channel of the application's Dynamic section.
type ApplicationChannel struct {
	// ID is the full catalog id and Key its short form ("CH-1").
	ID     string
	Key    string
	Name   string
	Text   string
	Number string
}

// Application is an application program and its templates.
type Application struct {
	ID        string
	Name      string
	Version   string
	Templates map[string]*Template

	// Channels is keyed by short channel id.
	Channels map[string]ApplicationChannel
}

// Product is a hardware product from Hardware.xml.
type Product struct {
	ID          string
	Text        string
	OrderNumber string
}

// Catalog is reference data joined against device instances by the linker.
// It is never part of the final model.
type Catalog struct {
	Applications map[ApplicationKey]*Application

	// Products is keyed by product id.
	Products map[string]Product

	// HardwarePrograms maps a Hardware2Program id to its application id.
	HardwarePrograms map[string]string

	// Manufacturers maps manufacturer id to name.
	Manufacturers map[string]string
}

func newCatalog() *Catalog {
	return &Catalog{
		Applications:     make(map[ApplicationKey]*Application),
		Products:         make(map[string]Product),
		HardwarePrograms: make(map[string]string),
		Manufacturers:    make(map[string]string),
	}
}

// Application returns the application for a Hardware2Program id.
func (c *Catalog) Application(manufacturerID, hardwareProgramID string) *Application {
	appID, ok := c.HardwarePrograms[hardwareProgramID]
	if !ok {
		return nil
	}
	return c.Applications[ApplicationKey{ManufacturerID: manufacturerID, ApplicationID: appID}]
}

// ResolveCatalog parses application programs, hardware products and
// manufacturer names. Application documents are decoded concurrently.
func ResolveCatalog(ctx context.Context, a *Archive, schema Schema) (*Catalog, []ParseWarning, error) {
	catalog := newCatalog()

	var appDocs, hardwareDocs []string
	for _, name := range a.Match("M-", ".xml") {
		switch {
		case path.Base(name) == "Hardware.xml":
			hardwareDocs = append(hardwareDocs, name)
		case strings.Contains(path.Base(name), "_A-"):
			appDocs = append(appDocs, name)
		}
	}

	programs := make([][]*Application, len(appDocs))
	keys := make([][]ApplicationKey, len(appDocs))
	docWarnings := make([][]ParseWarning, len(appDocs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, name := range appDocs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			apps, ks, warnings, err := parseApplicationDocument(a, name, schema)
			if err != nil {
				return err
			}
			programs[i], keys[i], docWarnings[i] = apps, ks, warnings
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	// Merge in document order so the first declaration wins.
	var warnings []ParseWarning
	for i := range programs {
		warnings = append(warnings, docWarnings[i]...)
		for j, app := range programs[i] {
			if _, exists := catalog.Applications[keys[i][j]]; !exists {
				catalog.Applications[keys[i][j]] = app
			}
		}
	}

	for _, name := range hardwareDocs {
		if err := parseHardwareDocument(a, name, catalog); err != nil {
			return nil, nil, err
		}
	}

	if err := parseMasterData(a, catalog); err != nil {
		return nil, nil, err
	}

	return catalog, warnings, nil
}

func parseApplicationDocument(a *Archive, name string, schema Schema) ([]*Application, []ApplicationKey, []ParseWarning, error) {
	r, _ := a.Open(name)
	root, err := decodeDocument(name, r)
	if err != nil {
		return nil, nil, nil, err
	}

	var apps []*Application
	var keys []ApplicationKey
	var warnings []ParseWarning
	for _, m := range root.all("ManufacturerData", "Manufacturer") {
		manufacturerID := m.attr("RefId")
		for _, p := range m.all("ApplicationPrograms", "ApplicationProgram") {
			app, ws := parseApplicationProgram(p, schema)
			apps = append(apps, app)
			warnings = append(warnings, ws...)
			keys = append(keys, ApplicationKey{ManufacturerID: manufacturerID, ApplicationID: app.ID})
		}
	}
	return apps, keys, warnings, nil
}

func parseApplicationProgram(p *node, schema Schema) (*Application, []ParseWarning) {
	app := &Application{
		ID:        p.attr("Id"),
		Name:      p.attr("Name"),
		Version:   p.attr("ApplicationVersion"),
		Templates: make(map[string]*Template),
		Channels:  make(map[string]ApplicationChannel),
	}
	prefix := app.ID + "_"
	channelOf := parseChannels(app, p.child("Dynamic"), prefix)
	static := p.child("Static")

	objects := make(map[string]*node)
	for _, co := range static.all("ComObjectTable", "ComObject") {
		objects[co.attr("Id")] = co
	}

	var warnings []ParseWarning
	for _, ref := range static.all("ComObjectRefs", "ComObjectRef") {
		t := &Template{
			RefID:          strings.TrimPrefix(ref.attr("Id"), prefix),
			ComObjectRefID: ref.attr("Id"),
			ComObjectID:    ref.attr("RefId"),
		}
		// ComObject defaults first, then ComObjectRef overrides.
		if co, ok := objects[t.ComObjectID]; ok {
			t.Number, _ = strconv.Atoi(co.attr("Number"))
			applyObjectAttrs(t, co, schema)
		} else {
			warnings = append(warnings, ParseWarning{
				Code:    WarnCatalogObjectNotFound,
				Message: "ComObjectRef " + t.ComObjectRefID + " references unknown ComObject " + t.ComObjectID,
			})
		}
		applyObjectAttrs(t, ref, schema)
		t.refText = textAttrs(ref)
		t.Channel = channelOf[t.RefID]
		if _, exists := app.Templates[t.RefID]; !exists {
			app.Templates[t.RefID] = t
		}
	}
	return app, warnings
}

// parseChannels records every Channel below the Dynamic section and
// returns the channel of each ComObjectRef it names. A reference named by
// several channels belongs to the first.
func parseChannels(app *Application, dynamic *node, prefix string) map[string]string {
	channelOf := make(map[string]string)
	for _, ch := range dynamic.descendants("Channel") {
		id := ch.attr("Id")
		if id == "" {
			continue
		}
		key := strings.TrimPrefix(id, prefix)
		if _, exists := app.Channels[key]; exists {
			continue
		}
		app.Channels[key] = ApplicationChannel{
			ID:     id,
			Key:    key,
			Name:   ch.attr("Name"),
			Text:   ch.attr("Text"),
			Number: ch.attr("Number"),
		}
		for _, rr := range ch.descendants("ComObjectRefRef") {
			ref := strings.TrimPrefix(rr.attr("RefId"), prefix)
			if _, assigned := channelOf[ref]; !assigned && ref != "" {
				channelOf[ref] = key
			}
		}
	}
	return channelOf
}

// applyObjectAttrs copies every non-empty attribute present on n over t.
func applyObjectAttrs(t *Template, n *node, schema Schema) {
	set := func(dst *string, attr string) {
		if v := n.attr(attr); v != "" {
			*dst = v
		}
	}
	set(&t.Name, "Name")
	set(&t.Text, "Text")
	set(&t.FunctionText, "FunctionText")
	set(&t.Description, "Description")
	set(&t.ObjectSize, "ObjectSize")
	if v := n.attr("DatapointType"); v != "" {
		t.DPTs = knx.ParseDPTList(v)
	}
	applyFlags(&t.Flags, n, schema)
}

// applyFlags overrides the flags whose attributes are present on n.
func applyFlags(flags *Flags, n *node, schema Schema) {
	set := func(dst *bool, attr string) {
		if v, ok := n.lookupAttr(attr); ok {
			*dst = v == "Enabled"
		}
	}
	set(&flags.Read, "ReadFlag")
	set(&flags.Write, "WriteFlag")
	set(&flags.Communication, "CommunicationFlag")
	set(&flags.Transmit, "TransmitFlag")
	set(&flags.Update, "UpdateFlag")
	set(&flags.ReadOnInit, schema.name(fieldReadOnInit))
}

func parseHardwareDocument(a *Archive, name string, catalog *Catalog) error {
	r, _ := a.Open(name)
	root, err := decodeDocument(name, r)
	if err != nil {
		return err
	}

	for _, p := range root.descendants("Product") {
		id := p.attr("Id")
		if _, exists := catalog.Products[id]; exists || id == "" {
			continue
		}
		catalog.Products[id] = Product{ID: id, Text: p.attr("Text"), OrderNumber: p.attr("OrderNumber")}
	}
	for _, hp := range root.descendants("Hardware2Program") {
		id := hp.attr("Id")
		if _, exists := catalog.HardwarePrograms[id]; exists || id == "" {
			continue
		}
		if ref := hp.child("ApplicationProgramRef"); ref != nil {
			catalog.HardwarePrograms[id] = ref.attr("RefId")
		}
	}
	return nil
}

func parseMasterData(a *Archive, catalog *Catalog) error {
	r, ok := a.Open(masterDataName)
	if !ok {
		return nil
	}
	root, err := decodeDocument(masterDataName, r)
	if err != nil {
		return err
	}
	for _, m := range root.all("MasterData", "Manufacturers", "Manufacturer") {
		catalog.Manufacturers[m.attr("Id")] = m.attr("Name")
	}
	return nil
}

// manufacturerOf returns the "M-XXXX" prefix of a catalog id.
func manufacturerOf(id string) string {
	if i := strings.Index(id, "_"); i >= 0 {
		return id[:i]
	}
	return id
}
