package grid

import (
	"encoding/json"
	"fmt"
)

// BorderClasses are the discrete border style classes a cell edge may carry,
// matching the OOXML border styles (everything except "none").
var BorderClasses = []string{
	"thin", "medium", "dashed", "dotted", "thick", "double", "hair",
	"mediumDashed", "dashDot", "mediumDashDot", "dashDotDot",
	"mediumDashDotDot", "slantDashDot",
}

// BorderEdge describes one edge of a cell border.
type BorderEdge struct {
	Style string `json:"style"`
	Color string `json:"color,omitempty"`
}

// Borders holds the four edges of a cell border. Absent edges are nil.
type Borders struct {
	Top    *BorderEdge `json:"top,omitempty"`
	Bottom *BorderEdge `json:"bottom,omitempty"`
	Left   *BorderEdge `json:"left,omitempty"`
	Right  *BorderEdge `json:"right,omitempty"`
}

// IsZero reports whether no edge is set.
func (b *Borders) IsZero() bool {
	return b == nil || (b.Top == nil && b.Bottom == nil && b.Left == nil && b.Right == nil)
}

// StyleDescriptor is one canonical, fully-resolved visual style. Two
// descriptors are equal iff every field is equal; equality on the canonical
// JSON serialization is the deduplication key.
type StyleDescriptor struct {
	Bold      bool   `json:"bold,omitempty"`
	Italic    bool   `json:"italic,omitempty"`
	Underline bool   `json:"underline,omitempty"`
	Strike    bool   `json:"strike,omitempty"`

	FontFamily string  `json:"fontFamily,omitempty"`
	FontSize   float64 `json:"fontSize,omitempty"`

	// Color is the foreground (font) color, Background the fill color,
	// both as #RRGGBB strings.
	Color      string `json:"color,omitempty"`
	Background string `json:"background,omitempty"`

	HAlign   string `json:"hAlign,omitempty"`
	VAlign   string `json:"vAlign,omitempty"`
	Wrap     bool   `json:"wrap,omitempty"`
	Rotation int    `json:"rotation,omitempty"`

	Border       *Borders `json:"border,omitempty"`
	NumberFormat string   `json:"numberFormat,omitempty"`
}

// IsZero reports whether the descriptor carries no non-default attribute.
// Cells with a zero descriptor get no style reference at all.
func (sd *StyleDescriptor) IsZero() bool {
	if sd == nil {
		return true
	}
	c := *sd
	if c.Border.IsZero() {
		c.Border = nil
	}
	return c == StyleDescriptor{}
}

// canonical returns the canonical serialization used as the interning key.
// Field order is fixed by the struct definition, so structurally equal
// descriptors always serialize identically.
func (sd *StyleDescriptor) canonical() string {
	b, _ := json.Marshal(sd)
	return string(b)
}

// StyleTable maps synthetic style keys ("s0", "s1", …) to their descriptors.
// Scoped per output document, append-only during conversion.
type StyleTable map[string]*StyleDescriptor

// Interner deduplicates style descriptors: structurally equal descriptors
// always intern to the same key, so a 100k-row sheet with uniform borders
// collapses to a handful of style table entries.
//
// One Interner covers one conversion run. The pipeline is single-writer, so
// the Interner is not safe for concurrent use.
type Interner struct {
	keys  map[string]string
	table StyleTable
	seq   int
}

// NewInterner creates an empty Interner.
func NewInterner() *Interner {
	return &Interner{
		keys:  make(map[string]string),
		table: make(StyleTable),
	}
}

// Intern returns the style key for the descriptor, allocating the next
// sequential key only when no equal descriptor was seen before.
func (in *Interner) Intern(sd *StyleDescriptor) string {
	canon := sd.canonical()
	if key, ok := in.keys[canon]; ok {
		return key
	}
	key := fmt.Sprintf("s%d", in.seq)
	in.seq++
	in.keys[canon] = key
	in.table[key] = sd.clone()
	return key
}

// clone copies the descriptor including its border tree, so table entries
// never alias caller-owned memory.
func (sd *StyleDescriptor) clone() *StyleDescriptor {
	c := *sd
	if sd.Border != nil {
		b := *sd.Border
		b.Top = cloneEdge(sd.Border.Top)
		b.Bottom = cloneEdge(sd.Border.Bottom)
		b.Left = cloneEdge(sd.Border.Left)
		b.Right = cloneEdge(sd.Border.Right)
		c.Border = &b
	}
	return &c
}

func cloneEdge(e *BorderEdge) *BorderEdge {
	if e == nil {
		return nil
	}
	c := *e
	return &c
}

// Table returns the accumulated style table.
func (in *Interner) Table() StyleTable {
	return in.table
}

// Len returns the number of distinct styles interned so far.
func (in *Interner) Len() int {
	return in.seq
}
