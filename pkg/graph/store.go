package graph

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// CommitHook observes every committed change together with the snapshot it produced.
// Hooks run in registration order while the store lock is held, so they must not
// call back into the store.
type CommitHook func(change Change, snap Snapshot)

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the clock used to stamp changes.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Store is the single source of truth for nodes, edges and selection.
// All mutations are serialized; readers only ever see whole transitions.
type Store struct {
	mu      sync.Mutex
	st      state
	version uint64
	now     func() time.Time
	hooks   []CommitHook
	subs    map[*Subscription]struct{}
}

// NewStore creates an empty store at version 0.
func NewStore(opts ...Option) *Store {
	s := &Store{
		now:  time.Now,
		subs: make(map[*Subscription]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OnCommit registers a hook called after every committed change.
func (s *Store) OnCommit(h CommitHook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, h)
}

// Version returns the number of committed changes.
func (s *Store) Version() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

// Snapshot returns a copy of the current state with selected flags derived
// from the selection machine.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.snapshot(s.version)
}

// Node returns the node with the given id.
func (s *Store) Node(id string) (Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.st.nodeIndex(id)
	if idx < 0 {
		return Node{}, &ReferenceError{Kind: KindNode, ID: id}
	}
	n := s.st.nodes[idx].clone()
	n.Selected = s.st.sel.Is(KindNode, id)
	return n, nil
}

// Edge returns the edge with the given id.
func (s *Store) Edge(id string) (Edge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.st.edgeIndex(id)
	if idx < 0 {
		return Edge{}, &ReferenceError{Kind: KindEdge, ID: id}
	}
	e := s.st.edges[idx]
	e.Selected = s.st.sel.Is(KindEdge, id)
	return e, nil
}

// Selection returns the current state of the selection machine.
func (s *Store) Selection() Selection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.sel
}

// SelectedID returns the selected element id, or "" when nothing is selected.
func (s *Store) SelectedID() string {
	return s.Selection().ID()
}

// Load replaces the whole graph and clears the selection.
func (s *Store) Load(g Graph) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next, err := loadState(g)
	if err != nil {
		return err
	}
	loaded := next.snapshot(0).Graph()
	s.commit(next, Change{Op: OpLoad, Graph: &loaded})
	return nil
}

// AddNode appends a fully formed node. The incoming selected flag is ignored.
func (s *Store) AddNode(n Node) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.st.clone()
	if err := next.addNode(n); err != nil {
		return err
	}
	added := next.nodes[len(next.nodes)-1].clone()
	s.commit(next, Change{Op: OpAddNode, Node: &added, ID: added.ID})
	return nil
}

// UpdateNode shallow-merges data into the node's data. Keys not in data are preserved.
func (s *Store) UpdateNode(id string, data map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.st.clone()
	if err := next.updateNode(id, data); err != nil {
		return err
	}
	s.commit(next, Change{Op: OpUpdateNode, ID: id, Data: data})
	return nil
}

// Connect creates an animated default-typed edge between two existing nodes.
// The edge gets allow/tcp unless conn.Data overrides it and e-<source>-<target>
// as id unless conn.ID names one.
func (s *Store) Connect(conn Connection) (Edge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := Edge{
		ID:       conn.ID,
		Source:   conn.Source,
		Target:   conn.Target,
		Type:     EdgeTypeDefault,
		Animated: true,
		Data:     DefaultEdgeData(),
	}
	if conn.Data != nil {
		e.Data = *conn.Data
	}
	next := s.st.clone()
	created, err := next.insertEdge(e)
	if err != nil {
		return Edge{}, err
	}
	s.commit(next, Change{Op: OpConnect, Edge: &created, ID: created.ID})
	return created, nil
}

// UpdateEdge applies a partial update to the edge's policy data.
func (s *Store) UpdateEdge(id string, patch EdgePatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.st.clone()
	if err := next.updateEdge(id, patch); err != nil {
		return err
	}
	s.commit(next, Change{Op: OpUpdateEdge, ID: id, EdgePatch: &patch})
	return nil
}

// RemoveEdges removes the given edges. An unknown id fails the whole call.
func (s *Store) RemoveEdges(ids ...string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.st.clone()
	removed, err := next.removeEdges(ids)
	if err != nil {
		return nil, err
	}
	s.commit(next, Change{Op: OpRemoveEdges, IDs: ids, RemovedEdges: removed})
	return removed, nil
}

// DeleteNodes removes the nodes and every edge referencing them in one transition.
// An unknown id fails the whole call and nothing is removed.
func (s *Store) DeleteNodes(ids ...string) (Removal, error) {
	if len(ids) == 0 {
		return Removal{}, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.st.clone()
	r, err := next.deleteNodes(ids)
	if err != nil {
		return Removal{}, err
	}
	s.commit(next, Change{Op: OpDeleteNodes, IDs: ids, RemovedNodes: r.Nodes, RemovedEdges: r.Edges})
	return r, nil
}

// SetSelectedID selects the node or edge with the given id. An empty id clears
// the selection. Reselecting the current selection commits nothing.
func (s *Store) SetSelectedID(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id == s.st.sel.ID() {
		return nil
	}
	next := s.st.clone()
	if err := next.selectID(id); err != nil {
		return err
	}
	s.commit(next, Change{Op: OpSelect, ID: id})
	return nil
}

// ClearSelection moves the selection machine to Nothing-Selected.
func (s *Store) ClearSelection() {
	_ = s.SetSelectedID("")
}

// ApplyNodeChanges reduces a batch of change descriptors into the node set.
// The batch is applied in order and atomically: any invalid entry rejects it all.
func (s *Store) ApplyNodeChanges(changes []NodeChange) (Removal, error) {
	if len(changes) == 0 {
		return Removal{}, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.st.clone()
	r, err := next.applyNodeChanges(changes)
	if err != nil {
		return Removal{}, err
	}
	s.commit(next, Change{Op: OpNodeChanges, NodeChanges: changes, RemovedNodes: r.Nodes, RemovedEdges: r.Edges})
	return r, nil
}

// ApplyEdgeChanges reduces a batch of change descriptors into the edge set.
func (s *Store) ApplyEdgeChanges(changes []EdgeChange) ([]string, error) {
	if len(changes) == 0 {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.st.clone()
	removed, err := next.applyEdgeChanges(changes)
	if err != nil {
		return nil, err
	}
	s.commit(next, Change{Op: OpEdgeChanges, EdgeChanges: changes, RemovedEdges: removed})
	return removed, nil
}

// Restore installs a snapshot as the current state and version.
// Subscribers are notified; commit hooks are not, since nothing new happened.
func (s *Store) Restore(snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next, err := loadState(snap.Graph())
	if err != nil {
		return err
	}
	if err := next.selectID(snap.SelectedID); err != nil {
		return err
	}
	s.st = next
	s.version = snap.Version
	s.publish(s.st.snapshot(s.version))
	return nil
}

// Replay re-applies a recorded change. Changes at or below the current version
// are skipped, so replaying an overlapping log is harmless.
func (s *Store) Replay(c Change) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.Version != 0 && c.Version <= s.version {
		return nil
	}

	next := s.st.clone()
	var err error
	switch c.Op {
	case OpLoad:
		if c.Graph == nil {
			return missingPayload(c)
		}
		next, err = loadState(*c.Graph)
	case OpAddNode:
		if c.Node == nil {
			return missingPayload(c)
		}
		err = next.addNode(*c.Node)
	case OpUpdateNode:
		err = next.updateNode(c.ID, c.Data)
	case OpNodeChanges:
		_, err = next.applyNodeChanges(c.NodeChanges)
	case OpEdgeChanges:
		_, err = next.applyEdgeChanges(c.EdgeChanges)
	case OpConnect:
		if c.Edge == nil {
			return missingPayload(c)
		}
		_, err = next.insertEdge(*c.Edge)
	case OpUpdateEdge:
		if c.EdgePatch == nil {
			return missingPayload(c)
		}
		err = next.updateEdge(c.ID, *c.EdgePatch)
	case OpRemoveEdges:
		_, err = next.removeEdges(c.IDs)
	case OpDeleteNodes:
		_, err = next.deleteNodes(c.IDs)
	case OpSelect:
		err = next.selectID(c.ID)
	default:
		err = &ValueError{Field: "op", Value: string(c.Op)}
	}
	if err != nil {
		return fmt.Errorf("replay %s v%d: %w", c.Op, c.Version, err)
	}

	s.st = next
	if c.Version == 0 {
		s.version++
	} else {
		s.version = c.Version
	}
	c.Version = s.version
	if c.At.IsZero() {
		c.At = s.now()
	}
	s.notify(c)
	return nil
}

func missingPayload(c Change) error {
	return fmt.Errorf("replay %s v%d: %w", c.Op, c.Version, &ValueError{Field: "payload", Value: string(c.Op)})
}

// commit installs next as the live state. Caller holds s.mu.
func (s *Store) commit(next state, c Change) {
	s.st = next
	s.version++
	c.Version = s.version
	c.At = s.now()
	s.notify(c)
}

// notify runs hooks then publishes. Caller holds s.mu.
func (s *Store) notify(c Change) {
	snap := s.st.snapshot(s.version)
	for _, h := range s.hooks {
		h(c, snap)
	}
	s.publish(snap)
}

// publish hands snap to every subscriber without blocking. A slow subscriber
// loses intermediate snapshots but always ends up with the latest one.
func (s *Store) publish(snap Snapshot) {
	for sub := range s.subs {
		select {
		case sub.ch <- snap:
		default:
			select {
			case <-sub.ch:
			default:
			}
			select {
			case sub.ch <- snap:
			default:
			}
		}
	}
}

// Subscription delivers snapshots after every state change.
type Subscription struct {
	ch    chan Snapshot
	done  chan struct{}
	store *Store
	once  sync.Once
}

// Subscribe returns a subscription primed with the current snapshot.
// It is closed when ctx is done or Close is called.
func (s *Store) Subscribe(ctx context.Context) *Subscription {
	sub := &Subscription{
		ch:    make(chan Snapshot, 1),
		done:  make(chan struct{}),
		store: s,
	}

	s.mu.Lock()
	s.subs[sub] = struct{}{}
	sub.ch <- s.st.snapshot(s.version)
	s.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			sub.Close()
		case <-sub.done:
		}
	}()
	return sub
}

// C returns the snapshot channel. It is closed when the subscription ends.
func (sub *Subscription) C() <-chan Snapshot {
	return sub.ch
}

// Close ends the subscription. Safe to call more than once.
func (sub *Subscription) Close() {
	sub.once.Do(func() {
		sub.store.mu.Lock()
		delete(sub.store.subs, sub)
		close(sub.ch)
		sub.store.mu.Unlock()
		close(sub.done)
	})
}
