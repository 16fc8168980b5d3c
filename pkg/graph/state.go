package graph

import (
	"maps"
	"slices"
)

// state is the value the store swaps atomically on every commit.
// Transitions run on a clone, so a failed transition leaves the live state untouched.
// Node data maps are shared between clones and must be replaced, never mutated.
type state struct {
	nodes []Node
	edges []Edge
	sel   Selection
}

func (st *state) clone() state {
	return state{
		nodes: slices.Clone(st.nodes),
		edges: slices.Clone(st.edges),
		sel:   st.sel,
	}
}

func (st *state) nodeIndex(id string) int {
	return slices.IndexFunc(st.nodes, func(n Node) bool { return n.ID == id })
}

func (st *state) edgeIndex(id string) int {
	return slices.IndexFunc(st.edges, func(e Edge) bool { return e.ID == id })
}

func (st *state) taken(id string) bool {
	return st.nodeIndex(id) >= 0 || st.edgeIndex(id) >= 0
}

func (st *state) addNode(n Node) error {
	if n.ID == "" {
		return &ValueError{Field: "id", Value: ""}
	}
	if !n.Type.Valid() {
		return &ValueError{Field: "type", Value: string(n.Type)}
	}
	if st.taken(n.ID) {
		return &DuplicateIDError{Kind: KindNode, ID: n.ID}
	}
	n = n.clone()
	n.Selected = false
	st.nodes = append(st.nodes, n)
	return nil
}

func (st *state) updateNode(id string, data map[string]any) error {
	idx := st.nodeIndex(id)
	if idx < 0 {
		return &ReferenceError{Kind: KindNode, ID: id}
	}
	merged := maps.Clone(st.nodes[idx].Data)
	if merged == nil {
		merged = make(map[string]any, len(data))
	}
	maps.Copy(merged, data)
	st.nodes[idx].Data = merged
	return nil
}

// insertEdge validates endpoints and ids and appends e.
func (st *state) insertEdge(e Edge) (Edge, error) {
	if st.nodeIndex(e.Source) < 0 {
		return Edge{}, &ReferenceError{Kind: KindNode, ID: e.Source}
	}
	if st.nodeIndex(e.Target) < 0 {
		return Edge{}, &ReferenceError{Kind: KindNode, ID: e.Target}
	}
	if e.ID == "" {
		e.ID = EdgeID(e.Source, e.Target)
	}
	if st.taken(e.ID) {
		return Edge{}, &DuplicateIDError{Kind: KindEdge, ID: e.ID}
	}
	e.Data = e.Data.withDefaults()
	if err := e.Data.validate(); err != nil {
		return Edge{}, err
	}
	e.Selected = false
	st.edges = append(st.edges, e)
	return e, nil
}

func (st *state) updateEdge(id string, patch EdgePatch) error {
	idx := st.edgeIndex(id)
	if idx < 0 {
		return &ReferenceError{Kind: KindEdge, ID: id}
	}
	data, err := patch.apply(st.edges[idx].Data)
	if err != nil {
		return err
	}
	st.edges[idx].Data = data
	return nil
}

func (st *state) removeEdges(ids []string) ([]string, error) {
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if st.edgeIndex(id) < 0 {
			return nil, &ReferenceError{Kind: KindEdge, ID: id}
		}
		drop[id] = struct{}{}
	}
	var removed []string
	st.edges = slices.DeleteFunc(st.edges, func(e Edge) bool {
		_, ok := drop[e.ID]
		if ok {
			removed = append(removed, e.ID)
		}
		return ok
	})
	st.fixSelection()
	return removed, nil
}

// deleteNodes removes the nodes and every edge touching them.
func (st *state) deleteNodes(ids []string) (Removal, error) {
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if st.nodeIndex(id) < 0 {
			return Removal{}, &ReferenceError{Kind: KindNode, ID: id}
		}
		drop[id] = struct{}{}
	}
	var r Removal
	st.nodes = slices.DeleteFunc(st.nodes, func(n Node) bool {
		_, ok := drop[n.ID]
		if ok {
			r.Nodes = append(r.Nodes, n.ID)
		}
		return ok
	})
	st.edges = slices.DeleteFunc(st.edges, func(e Edge) bool {
		_, src := drop[e.Source]
		_, dst := drop[e.Target]
		if src || dst {
			r.Edges = append(r.Edges, e.ID)
		}
		return src || dst
	})
	st.fixSelection()
	return r, nil
}

// fixSelection returns the machine to Nothing-Selected when the selected element is gone.
func (st *state) fixSelection() {
	switch st.sel.Kind() {
	case KindNode:
		if st.nodeIndex(st.sel.ID()) < 0 {
			st.sel.clear()
		}
	case KindEdge:
		if st.edgeIndex(st.sel.ID()) < 0 {
			st.sel.clear()
		}
	}
}

func (st *state) selectID(id string) error {
	switch {
	case id == "":
		st.sel.clear()
	case st.nodeIndex(id) >= 0:
		st.sel.selectElement(KindNode, id)
	case st.edgeIndex(id) >= 0:
		st.sel.selectElement(KindEdge, id)
	default:
		return &ReferenceError{Kind: KindElement, ID: id}
	}
	return nil
}

func (st *state) applyNodeChanges(changes []NodeChange) (Removal, error) {
	for _, c := range changes {
		switch c.Type {
		case ChangePosition, ChangeRemove, ChangeSelect:
		default:
			return Removal{}, &ValueError{Field: "change type", Value: string(c.Type)}
		}
	}

	var total Removal
	for _, c := range changes {
		idx := st.nodeIndex(c.ID)
		if idx < 0 {
			return Removal{}, &ReferenceError{Kind: KindNode, ID: c.ID}
		}
		switch c.Type {
		case ChangePosition:
			if c.Position != nil {
				st.nodes[idx].Position = *c.Position
			}
		case ChangeRemove:
			r, err := st.deleteNodes([]string{c.ID})
			if err != nil {
				return Removal{}, err
			}
			total.Nodes = append(total.Nodes, r.Nodes...)
			total.Edges = append(total.Edges, r.Edges...)
		case ChangeSelect:
			if c.Selected {
				st.sel.selectElement(KindNode, c.ID)
			} else if st.sel.Is(KindNode, c.ID) {
				st.sel.clear()
			}
		}
	}
	return total, nil
}

func (st *state) applyEdgeChanges(changes []EdgeChange) ([]string, error) {
	for _, c := range changes {
		if c.Type != ChangeRemove && c.Type != ChangeSelect {
			return nil, &ValueError{Field: "change type", Value: string(c.Type)}
		}
	}

	var removed []string
	for _, c := range changes {
		if st.edgeIndex(c.ID) < 0 {
			return nil, &ReferenceError{Kind: KindEdge, ID: c.ID}
		}
		switch c.Type {
		case ChangeRemove:
			r, err := st.removeEdges([]string{c.ID})
			if err != nil {
				return nil, err
			}
			removed = append(removed, r...)
		case ChangeSelect:
			if c.Selected {
				st.sel.selectElement(KindEdge, c.ID)
			} else if st.sel.Is(KindEdge, c.ID) {
				st.sel.clear()
			}
		}
	}
	return removed, nil
}

// loadState builds a fresh state from g, enforcing every invariant.
func loadState(g Graph) (state, error) {
	var st state
	for _, n := range g.Nodes {
		if err := st.addNode(n); err != nil {
			return state{}, err
		}
	}
	for _, e := range g.Edges {
		if _, err := st.insertEdge(e); err != nil {
			return state{}, err
		}
	}
	return st, nil
}

func (st *state) snapshot(version uint64) Snapshot {
	snap := Snapshot{
		Version:    version,
		Nodes:      make([]Node, len(st.nodes)),
		Edges:      make([]Edge, len(st.edges)),
		SelectedID: st.sel.ID(),
	}
	for i, n := range st.nodes {
		n = n.clone()
		n.Selected = st.sel.Is(KindNode, n.ID)
		snap.Nodes[i] = n
	}
	for i, e := range st.edges {
		e.Selected = st.sel.Is(KindEdge, e.ID)
		snap.Edges[i] = e
	}
	return snap
}
