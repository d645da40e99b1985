package models

// FetchSpec narrows what a single entity fetch retrieves from an
// environment. Zero value means all fields, no filter, no limit.
type FetchSpec struct {
	Entity string   `json:"entity"`
	Fields []string `json:"fields,omitempty"`
	Filter string   `json:"filter,omitempty"`
	// Expand names lookup fields whose referenced records are fetched
	// inline, enabling two-segment field paths.
	Expand []string `json:"expand,omitempty"`
	Top    int      `json:"top,omitempty"`
}

// Declaration is the full data requirement of one mapping run: which
// entities to fetch from each side before any transform executes.
type Declaration struct {
	Source map[string]FetchSpec `json:"source"`
	Target map[string]FetchSpec `json:"target"`
}

// NewDeclaration returns an empty declaration ready to be filled.
func NewDeclaration() Declaration {
	return Declaration{
		Source: make(map[string]FetchSpec),
		Target: make(map[string]FetchSpec),
	}
}
