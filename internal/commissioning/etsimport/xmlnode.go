package etsimport

import (
	"encoding/xml"
	"io"
)

// node is a generic XML element. ETS documents differ between schema
// generations only in element and attribute names, so builders walk a
// generic tree using names taken from the Schema rather than one set of
// typed structs per generation.
type node struct {
	XMLName xml.Name
	Attrs   []xml.Attr `xml:",any,attr"`
	Nodes   []node     `xml:",any"`
}

// decodeDocument decodes a whole document into a node tree. A decode
// failure is reported as a *DocumentError carrying the document name.
func decodeDocument(name string, r io.Reader) (*node, error) {
	var root node
	if err := xml.NewDecoder(r).Decode(&root); err != nil {
		return nil, &DocumentError{Document: name, Err: err}
	}
	return &root, nil
}

// attr returns the value of the attribute with the given local name.
func (n *node) attr(name string) string {
	v, _ := n.lookupAttr(name)
	return v
}

// lookupAttr reports whether the attribute is present at all.
func (n *node) lookupAttr(name string) (string, bool) {
	if n == nil || name == "" {
		return "", false
	}
	for _, a := range n.Attrs {
		if a.Name.Local == name {
			return a.Value, true
		}
	}
	return "", false
}

// child returns the first direct child with the given local name.
func (n *node) child(name string) *node {
	if n == nil {
		return nil
	}
	for i := range n.Nodes {
		if n.Nodes[i].XMLName.Local == name {
			return &n.Nodes[i]
		}
	}
	return nil
}

// children returns all direct children with the given local name in
// document order.
func (n *node) children(name string) []*node {
	if n == nil {
		return nil
	}
	var out []*node
	for i := range n.Nodes {
		if n.Nodes[i].XMLName.Local == name {
			out = append(out, &n.Nodes[i])
		}
	}
	return out
}

// all follows a path of element names, fanning out at every step, and
// returns every element at the end of the path in document order.
func (n *node) all(path ...string) []*node {
	if n == nil {
		return nil
	}
	current := []*node{n}
	for _, name := range path {
		var next []*node
		for _, c := range current {
			next = append(next, c.children(name)...)
		}
		current = next
	}
	return current
}

// descendants returns every element below n with the given local name,
// depth first in document order.
func (n *node) descendants(name string) []*node {
	if n == nil {
		return nil
	}
	var out []*node
	for i := range n.Nodes {
		c := &n.Nodes[i]
		if c.XMLName.Local == name {
			out = append(out, c)
		}
		out = append(out, c.descendants(name)...)
	}
	return out
}

// rootNamespace reads just far enough into a document to return the
// namespace of its root element.
func rootNamespace(name string, r io.Reader) (string, error) {
	dec := xml.NewDecoder(r)
	for {
		tok, err := dec.Token()
		if err != nil {
			return "", &DocumentError{Document: name, Err: err}
		}
		if start, ok := tok.(xml.StartElement); ok {
			return start.Name.Space, nil
		}
	}
}
