package etsimport

import (
	"context"
	"strings"

	"golang.org/x/text/language"
)

var languagesMarker = []byte("<Languages")

// translationTable is one Language block of one document.
type translationTable struct {
	document   string
	identifier string
	tag        language.Tag
	tagOK      bool

	// entries maps a target RefId to attribute name to text.
	entries map[string]map[string]string
}

// Translations holds every translation table found in an archive, in
// sorted document order.
type Translations struct {
	tables []translationTable
}

// Languages returns the distinct language identifiers in first-seen order.
func (t *Translations) Languages() []string {
	var out []string
	seen := make(map[string]bool)
	for _, table := range t.tables {
		if !seen[table.identifier] {
			seen[table.identifier] = true
			out = append(out, table.identifier)
		}
	}
	return out
}

// CollectTranslations gathers the Languages/Language/TranslationUnit/
// TranslationElement/Translation blocks of every document. Documents
// without a Languages element are skipped without decoding.
func CollectTranslations(ctx context.Context, a *Archive) (*Translations, error) {
	t := &Translations{}
	for _, name := range a.Names() {
		if !strings.HasSuffix(name, ".xml") || !a.contains(name, languagesMarker) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		r, _ := a.Open(name)
		root, err := decodeDocument(name, r)
		if err != nil {
			return nil, err
		}
		for _, lang := range root.descendants("Language") {
			t.tables = append(t.tables, parseLanguage(name, lang))
		}
	}
	return t, nil
}

func parseLanguage(document string, lang *node) translationTable {
	id := lang.attr("Identifier")
	tag, err := language.Parse(id)
	table := translationTable{
		document:   document,
		identifier: id,
		tag:        tag,
		tagOK:      err == nil,
		entries:    make(map[string]map[string]string),
	}
	for _, elem := range lang.all("TranslationUnit", "TranslationElement") {
		ref := elem.attr("RefId")
		attrs, ok := table.entries[ref]
		if !ok {
			attrs = make(map[string]string)
			table.entries[ref] = attrs
		}
		for _, tr := range elem.children("Translation") {
			if _, exists := attrs[tr.attr("AttributeName")]; !exists {
				attrs[tr.attr("AttributeName")] = tr.attr("Text")
			}
		}
	}
	return table
}

// lookup merges the tables matching locale. Tables whose tag equals the
// requested tag win over tables matching only the base language; within
// one rank the first table in document order wins. The returned
// identifier is the first matching table's, empty when nothing matched.
func (t *Translations) lookup(locale string) (map[string]map[string]string, string) {
	requested, err := language.Parse(locale)
	parsed := err == nil
	requestedBase, _ := requested.Base()

	var exact, base []translationTable
	for _, table := range t.tables {
		switch {
		case strings.EqualFold(table.identifier, locale),
			parsed && table.tagOK && table.tag == requested:
			exact = append(exact, table)
		case parsed && table.tagOK && sameBase(table.tag, requestedBase):
			base = append(base, table)
		}
	}

	merged := make(map[string]map[string]string)
	identifier := ""
	for _, table := range append(exact, base...) {
		if identifier == "" {
			identifier = table.identifier
		}
		for ref, attrs := range table.entries {
			dst, ok := merged[ref]
			if !ok {
				dst = make(map[string]string, len(attrs))
				merged[ref] = dst
			}
			for name, text := range attrs {
				if _, exists := dst[name]; !exists {
					dst[name] = text
				}
			}
		}
	}
	return merged, identifier
}

func sameBase(tag language.Tag, base language.Base) bool {
	b, _ := tag.Base()
	return b == base
}

// Overlay replaces display text on objects, devices, channels and group
// addresses with the translations for locale. Identifiers and links are
// never touched. It returns the identifier of the language applied, empty when
// no table matched, in which case the base text is kept.
func Overlay(t *Translations, locale string, link *LinkResult) string {
	if t == nil || locale == "" {
		return ""
	}
	entries, identifier := t.lookup(locale)
	if identifier == "" {
		return ""
	}

	text := func(attr string, refs ...string) (string, bool) {
		for _, ref := range refs {
			if ref == "" {
				continue
			}
			if v, ok := entries[ref][attr]; ok && v != "" {
				return v, true
			}
		}
		return "", false
	}

	for id, co := range link.Objects {
		src := link.sources[id]
		for _, f := range []struct {
			attr string
			dst  *string
		}{
			{"Name", &co.Name},
			{"Text", &co.Text},
			{"FunctionText", &co.FunctionText},
			{"Description", &co.Description},
		} {
			if src.instanceText[f.attr] {
				continue
			}
			refs := []string{src.comObjectRefID, src.comObjectID}
			if src.refText[f.attr] {
				refs = refs[:1]
			}
			if v, ok := text(f.attr, refs...); ok {
				*f.dst = v
			}
		}
		link.Objects[id] = co
	}

	for ia, d := range link.Devices {
		d = d.clone()
		if v, ok := text("Text", d.ProductRefID); ok {
			d.HardwareName = v
		}
		for key, ch := range d.Channels {
			src, ok := link.channelSources[ia+"/"+key]
			if !ok {
				continue
			}
			if v, ok := text(src.attr, src.catalogID); ok {
				ch.Name = v
				d.Channels[key] = ch
			}
		}
		link.Devices[ia] = d
	}

	for addr, ga := range link.GroupAddresses {
		if v, ok := text("Name", ga.Identifier); ok {
			ga.Name = v
		}
		if v, ok := text("Description", ga.Identifier); ok {
			ga.Description = v
		}
		link.GroupAddresses[addr] = ga
	}

	return identifier
}
