package client

import (
	"slices"

	"github.com/google/uuid"
)

type node struct {
	msg      *Message
	parent   uuid.UUID
	children []uuid.UUID
}

// Tree is the local, parent linked view of a channel. Roots and every
// children list are ordered by id with messages that have no id yet trailing
// in insertion order. A reply whose parent is not known yet waits in pending
// until the parent shows up.
//
// Tree is not safe for concurrent use; the engine serializes access.
type Tree struct {
	nodes   map[uuid.UUID]*node
	byID    map[int64]*Message
	roots   []uuid.UUID
	pending map[int64][]*Message
}

func NewTree() *Tree {
	return &Tree{
		nodes:   make(map[uuid.UUID]*node),
		byID:    make(map[int64]*Message),
		pending: make(map[int64][]*Message),
	}
}

// Has reports whether id is already held, placed or pending.
func (t *Tree) Has(id int64) bool {
	_, ok := t.byID[id]
	return ok
}

func (t *Tree) Find(id int64) *Message {
	msg, ok := t.byID[id]
	if !ok {
		return nil
	}
	if _, placed := t.nodes[msg.Key]; !placed {
		return nil
	}
	return msg
}

func (t *Tree) placed(m *Message) bool {
	_, ok := t.nodes[m.Key]
	return ok
}

func (t *Tree) Len() int {
	return len(t.nodes)
}

func (t *Tree) PendingLen() int {
	n := 0
	for _, orphans := range t.pending {
		n += len(orphans)
	}
	return n
}

func (t *Tree) before(a, b *Message) bool {
	if a.ID == 0 {
		return false
	}
	return b.ID == 0 || a.ID < b.ID
}

func (t *Tree) insertSorted(list []uuid.UUID, m *Message) []uuid.UUID {
	i := len(list)
	for j, key := range list {
		if t.before(m, t.nodes[key].msg) {
			i = j
			break
		}
	}
	return slices.Insert(list, i, m.Key)
}

// attach places m under parent, or at the root level when parent is the
// zero key.
func (t *Tree) attach(m *Message, parent uuid.UUID) {
	n := &node{msg: m, parent: parent}
	t.nodes[m.Key] = n

	if parent == uuid.Nil {
		t.roots = t.insertSorted(t.roots, m)
		return
	}
	p := t.nodes[parent]
	p.children = t.insertSorted(p.children, m)
}

func (t *Tree) detach(key uuid.UUID) {
	n := t.nodes[key]
	if n.parent == uuid.Nil {
		t.roots = slices.DeleteFunc(t.roots, func(k uuid.UUID) bool { return k == key })
		return
	}
	p := t.nodes[n.parent]
	p.children = slices.DeleteFunc(p.children, func(k uuid.UUID) bool { return k == key })
}

// Merge adds a server message. It returns false when the id is already
// known, whether placed or pending.
func (t *Tree) Merge(m *Message) bool {
	if m.ID != 0 && t.Has(m.ID) {
		return false
	}
	if m.ID != 0 {
		t.byID[m.ID] = m
	}

	if m.ReplyToID == 0 {
		t.attach(m, uuid.Nil)
		return true
	}

	if parent := t.Find(m.ReplyToID); parent != nil {
		t.attach(m, parent.Key)
		return true
	}

	t.pending[m.ReplyToID] = append(t.pending[m.ReplyToID], m)
	return true
}

// Sweep attaches pending replies whose parent has arrived, repeating until
// nothing changes so chains of replies resolve in one call.
func (t *Tree) Sweep() int {
	attached := 0
	for {
		changed := false
		for parentID, orphans := range t.pending {
			parent := t.Find(parentID)
			if parent == nil {
				continue
			}
			for _, orphan := range orphans {
				t.attach(orphan, parent.Key)
				attached++
			}
			delete(t.pending, parentID)
			changed = true
		}
		if !changed {
			return attached
		}
	}
}

// InsertLocal places an optimistic message that has no id yet.
func (t *Tree) InsertLocal(m *Message, parent *Message) {
	if parent == nil {
		t.attach(m, uuid.Nil)
		return
	}
	t.attach(m, parent.Key)
}

// Confirm records the id the server gave m. A copy of the same message that
// a poll delivered first is folded into m, keeping m's identity.
func (t *Tree) Confirm(m *Message) {
	if !t.placed(m) {
		return
	}
	if copied, ok := t.byID[m.ID]; ok && copied != m {
		if n, placed := t.nodes[copied.Key]; placed {
			for _, child := range n.children {
				cn := t.nodes[child]
				cn.parent = m.Key
				mn := t.nodes[m.Key]
				mn.children = t.insertSorted(mn.children, cn.msg)
			}
			n.children = nil
			t.detach(copied.Key)
			delete(t.nodes, copied.Key)
		} else {
			orphans := t.pending[copied.ReplyToID]
			orphans = slices.DeleteFunc(orphans, func(o *Message) bool { return o == copied })
			if len(orphans) == 0 {
				delete(t.pending, copied.ReplyToID)
			} else {
				t.pending[copied.ReplyToID] = orphans
			}
		}
	}
	t.byID[m.ID] = m

	// move it from the trailing unconfirmed block into id order
	n := t.nodes[m.Key]
	parent := n.parent
	children := n.children
	t.detach(m.Key)
	t.attach(m, parent)
	t.nodes[m.Key].children = children

	t.Sweep()
}

// Remove deletes m with every reply below it, and drops pending replies
// that were waiting on any of the removed ids.
func (t *Tree) Remove(m *Message) int {
	if !t.placed(m) {
		return 0
	}

	var removed []*Message
	var collect func(key uuid.UUID)
	collect = func(key uuid.UUID) {
		n := t.nodes[key]
		removed = append(removed, n.msg)
		for _, child := range n.children {
			collect(child)
		}
	}
	collect(m.Key)

	t.detach(m.Key)
	for _, msg := range removed {
		delete(t.nodes, msg.Key)
		if msg.ID != 0 && t.byID[msg.ID] == msg {
			delete(t.byID, msg.ID)
		}
	}

	for _, msg := range removed {
		if msg.ID != 0 {
			t.dropPending(msg.ID)
		}
	}
	return len(removed)
}

func (t *Tree) dropPending(parentID int64) {
	orphans, ok := t.pending[parentID]
	if !ok {
		return
	}
	delete(t.pending, parentID)
	for _, orphan := range orphans {
		if t.byID[orphan.ID] == orphan {
			delete(t.byID, orphan.ID)
		}
		t.dropPending(orphan.ID)
	}
}

// Depth is the number of ancestors of m; a root has depth 0.
func (t *Tree) Depth(m *Message) int {
	depth := 0
	n, ok := t.nodes[m.Key]
	for ok && n.parent != uuid.Nil {
		depth++
		n, ok = t.nodes[n.parent]
	}
	return depth
}

func (t *Tree) Roots() []*Message {
	result := make([]*Message, 0, len(t.roots))
	for _, key := range t.roots {
		result = append(result, t.nodes[key].msg)
	}
	return result
}

func (t *Tree) Children(m *Message) []*Message {
	n, ok := t.nodes[m.Key]
	if !ok {
		return nil
	}
	result := make([]*Message, 0, len(n.children))
	for _, key := range n.children {
		result = append(result, t.nodes[key].msg)
	}
	return result
}

// Parent returns nil for roots and messages not in the tree.
func (t *Tree) Parent(m *Message) *Message {
	n, ok := t.nodes[m.Key]
	if !ok || n.parent == uuid.Nil {
		return nil
	}
	return t.nodes[n.parent].msg
}
