package graph

// SelectionState is the state of the single-selection machine.
type SelectionState int

const (
	NothingSelected SelectionState = iota
	ElementSelected
)

func (s SelectionState) String() string {
	if s == ElementSelected {
		return "element_selected"
	}
	return "nothing_selected"
}

// Selection tracks which single element, if any, is selected.
// The zero value is Nothing-Selected.
type Selection struct {
	id   string
	kind ElementKind
}

// State reports the machine state.
func (s Selection) State() SelectionState {
	if s.id == "" {
		return NothingSelected
	}
	return ElementSelected
}

// ID returns the selected element id, or "" when nothing is selected.
func (s Selection) ID() string { return s.id }

// Kind returns whether the selection is a node or an edge.
func (s Selection) Kind() ElementKind { return s.kind }

// Is reports whether the element with the given kind and id is the selection.
func (s Selection) Is(kind ElementKind, id string) bool {
	return s.id != "" && s.kind == kind && s.id == id
}

func (s *Selection) selectElement(kind ElementKind, id string) {
	s.id = id
	s.kind = kind
}

func (s *Selection) clear() {
	s.id = ""
	s.kind = ""
}
