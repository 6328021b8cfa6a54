package domain

// DefaultLayout is used when neither the interpreter nor the client picks a layout.
const DefaultLayout = "2x4"

// Layout is a named grid shape with a fixed cell capacity.
type Layout struct {
	Name string
	Rows int
	Cols int
}

// Capacity returns the number of cells in the grid.
func (l Layout) Capacity() int {
	return l.Rows * l.Cols
}

var layouts = map[string]Layout{
	"2x4": {Name: "2x4", Rows: 2, Cols: 4},
	"3x3": {Name: "3x3", Rows: 3, Cols: 3},
	"3x4": {Name: "3x4", Rows: 3, Cols: 4},
}

// LookupLayout returns the layout registered under name.
func LookupLayout(name string) (Layout, bool) {
	l, ok := layouts[name]
	return l, ok
}

// LayoutOrDefault returns the named layout, falling back to the default grid geometry.
func LayoutOrDefault(name string) Layout {
	if l, ok := layouts[name]; ok {
		return l
	}
	return layouts[DefaultLayout]
}

// Plan is the structured result of intent interpretation.
// Entity order determines row-major cell placement.
type Plan struct {
	Topic    string   `json:"topic,omitempty"`
	Entities []string `json:"entities"`
	Layout   string   `json:"layout"`
}

// Checks is the validator verdict for a plan.
type Checks struct {
	OK      bool     `json:"ok"`
	Missing []string `json:"missing"`
}

// Assets references the produced board artifacts.
type Assets struct {
	PNGURL string `json:"png_url"`
	PDFURL string `json:"pdf_url"`
}

// Timings reports phase durations in milliseconds.
type Timings struct {
	Images int64 `json:"images"`
	Render int64 `json:"render"`
}
