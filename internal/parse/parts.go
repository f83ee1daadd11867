// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package parse

// A Part represents a section of a parsed fragment, which forms the complete
// fragment when processed together with its surrounding parts, in their
// correct order.
type Part interface {
	// String returns the part's representation for debugging purposes.
	String() string

	part()
}

// BypassPart represents a section of the fragment that is passed to the
// database verbatim.
type BypassPart struct {
	Chunk string
}

// String returns a textual representation of the BypassPart meant for
// debugging purposes.
func (p *BypassPart) String() string {
	return "Bypass[" + p.Chunk + "]"
}

func (*BypassPart) part() {}

// MarkerPart represents an identifier marker such as <orders> or
// <orders.status>. If the marker directly follows one of the keywords FROM,
// TABLE, INTO, UPDATE or JOIN, the keyword (as written) is moved into the
// marker and the name is a table name. Otherwise the name is a column name.
type MarkerPart struct {
	Keyword string
	Name    string
	// start is the position of the opening angle bracket.
	start int
}

// String returns a textual representation of the MarkerPart meant for
// debugging purposes.
func (p *MarkerPart) String() string {
	if p.Keyword != "" {
		return "Marker[" + p.Keyword + " " + p.Name + "]"
	}
	return "Marker[" + p.Name + "]"
}

// IsTable reports whether the marker names a table.
func (p *MarkerPart) IsTable() bool {
	return p.Keyword != ""
}

func (*MarkerPart) part() {}
