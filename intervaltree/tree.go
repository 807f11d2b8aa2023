// Package intervaltree implements the red-black interval tree that
// backs shard/hash-range lookups: nodes are keyed by a start range and
// carry an augmented end-range-max used to prune subtrees during
// overlap search, following Cormen/Leiserson/Rivest's augmented
// red-black tree construction (sentinel node, insertNode/deleteNode,
// rotateLeft/rotateRight, deleteFixUp). Intervals are closed on both
// ends. The standard library has no ordered tree, and none of this
// module's dependencies ship an
// interval-tree library.
package intervaltree

import (
	"cmp"
	"math"
)

type color int8

const (
	red color = iota
	black
)

// Node is one interval in the tree: a closed range [Start, End] plus
// the payload it carries. EndMax is the maximum End over the node's
// own subtree, maintained under every rotation and deletion.
type Node[R cmp.Ordered, D comparable] struct {
	Start, End, EndMax R
	Data               D

	color  color
	left   *Node[R, D]
	right  *Node[R, D]
	parent *Node[R, D]
}

// Tree is a red-black interval tree keyed by Start, augmented with a
// subtree EndMax so overlap queries can prune whole subtrees.
type Tree[R cmp.Ordered, D comparable] struct {
	sentinel *Node[R, D]
	head     *Node[R, D]
	count    int
}

// New creates an empty interval tree.
func New[R cmp.Ordered, D comparable]() *Tree[R, D] {
	t := &Tree[R, D]{}
	s := &Node[R, D]{color: black}
	s.parent, s.left, s.right = s, s, s
	t.sentinel = s
	t.head = s
	return t
}

// Len returns the number of intervals currently in the tree.
func (t *Tree[R, D]) Len() int { return t.count }

// Empty reports whether the tree holds no intervals.
func (t *Tree[R, D]) Empty() bool { return t.head == t.sentinel }

// InsertNode inserts the closed interval [start, end] carrying data and
// rebalances the tree. start must be <= end.
func (t *Tree[R, D]) InsertNode(start, end R, data D) *Node[R, D] {
	z := &Node[R, D]{Start: start, End: end, EndMax: end, Data: data}
	z.parent, z.left, z.right = t.sentinel, t.sentinel, t.sentinel

	x := t.head
	y := t.sentinel
	for x != t.sentinel {
		y = x
		if x.EndMax < z.EndMax {
			x.EndMax = z.EndMax
		}
		if z.Start < x.Start {
			x = x.left
		} else {
			x = x.right
		}
	}
	z.parent = y
	if y == t.sentinel {
		t.head = z
	} else if z.Start < y.Start {
		y.left = z
	} else {
		y.right = z
	}

	z.color = red
	t.count++
	t.insertFixUp(z)
	return z
}

func (t *Tree[R, D]) insertFixUp(z *Node[R, D]) {
	for z != t.head && z.parent.color == red {
		if z.parent == z.parent.parent.left {
			y := z.parent.parent.right
			if y.color == red {
				z.parent.color = black
				y.color = black
				z.parent.parent.color = red
				z = z.parent.parent
			} else {
				if z == z.parent.right {
					z = z.parent
					t.rotateLeft(z)
				}
				z.parent.color = black
				z.parent.parent.color = red
				t.rotateRight(z.parent.parent)
			}
		} else {
			y := z.parent.parent.left
			if y.color == red {
				z.parent.color = black
				y.color = black
				z.parent.parent.color = red
				z = z.parent.parent
			} else {
				if z == z.parent.left {
					z = z.parent
					t.rotateRight(z)
				}
				z.parent.color = black
				z.parent.parent.color = red
				t.rotateLeft(z.parent.parent)
			}
		}
	}
	t.head.color = black
}

func (t *Tree[R, D]) rotateLeft(x *Node[R, D]) {
	y := x.right
	x.right = y.left
	if y.left != t.sentinel {
		y.left.parent = x
	}
	y.parent = x.parent
	if x.parent == t.sentinel {
		t.head = y
	} else if x == x.parent.left {
		x.parent.left = y
	} else {
		x.parent.right = y
	}
	y.left = x
	x.parent = y
	t.updateEndMax(x)
	t.updateEndMax(y)
}

func (t *Tree[R, D]) rotateRight(x *Node[R, D]) {
	y := x.left
	x.left = y.right
	if y.right != t.sentinel {
		y.right.parent = x
	}
	y.parent = x.parent
	if x.parent == t.sentinel {
		t.head = y
	} else if x == x.parent.right {
		x.parent.right = y
	} else {
		x.parent.left = y
	}
	y.right = x
	x.parent = y
	t.updateEndMax(x)
	t.updateEndMax(y)
}

func (t *Tree[R, D]) updateEndMax(n *Node[R, D]) {
	if n == t.sentinel {
		return
	}
	m := n.End
	if n.left != t.sentinel && n.left.EndMax > m {
		m = n.left.EndMax
	}
	if n.right != t.sentinel && n.right.EndMax > m {
		m = n.right.EndMax
	}
	n.EndMax = m
}

// DeleteNode removes n from the tree. n must have been returned by
// InsertNode/NodeSearch/IntervalSearch on this tree; reusing n after
// deletion is invalid.
func (t *Tree[R, D]) DeleteNode(z *Node[R, D]) {
	y := z
	var x *Node[R, D]
	yOriginalColor := y.color

	if z.left == t.sentinel {
		x = z.right
		t.transplant(z, z.right)
	} else if z.right == t.sentinel {
		x = z.left
		t.transplant(z, z.left)
	} else {
		y = t.minNode(z.right)
		yOriginalColor = y.color
		x = y.right
		if y.parent == z {
			x.parent = y
		} else {
			t.transplant(y, y.right)
			y.right = z.right
			y.right.parent = y
		}
		t.transplant(z, y)
		y.left = z.left
		y.left.parent = y
		y.color = z.color
		t.updateEndMax(y)
	}

	// x may be the sentinel, whose parent field the splice above has
	// just pointed at the lowest changed node.
	if x == t.sentinel {
		t.updateAncestorsEndMax(x.parent)
	} else {
		t.updateAncestorsEndMax(x)
	}
	t.count--
	if yOriginalColor == black {
		t.deleteFixUp(x)
	}
}

func (t *Tree[R, D]) transplant(u, v *Node[R, D]) {
	if u.parent == t.sentinel {
		t.head = v
	} else if u == u.parent.left {
		u.parent.left = v
	} else {
		u.parent.right = v
	}
	v.parent = u.parent
}

func (t *Tree[R, D]) updateAncestorsEndMax(n *Node[R, D]) {
	for n != t.sentinel {
		t.updateEndMax(n)
		n = n.parent
	}
}

func (t *Tree[R, D]) deleteFixUp(x *Node[R, D]) {
	for x != t.head && x.color == black {
		if x == x.parent.left {
			w := x.parent.right
			if w.color == red {
				w.color = black
				x.parent.color = red
				t.rotateLeft(x.parent)
				w = x.parent.right
			}
			if w.left.color == black && w.right.color == black {
				w.color = red
				x = x.parent
			} else {
				if w.right.color == black {
					w.left.color = black
					w.color = red
					t.rotateRight(w)
					w = x.parent.right
				}
				w.color = x.parent.color
				x.parent.color = black
				w.right.color = black
				t.rotateLeft(x.parent)
				x = t.head
			}
		} else {
			w := x.parent.left
			if w.color == red {
				w.color = black
				x.parent.color = red
				t.rotateRight(x.parent)
				w = x.parent.left
			}
			if w.right.color == black && w.left.color == black {
				w.color = red
				x = x.parent
			} else {
				if w.left.color == black {
					w.right.color = black
					w.color = red
					t.rotateLeft(w)
					w = x.parent.left
				}
				w.color = x.parent.color
				x.parent.color = black
				w.left.color = black
				t.rotateRight(x.parent)
				x = t.head
			}
		}
	}
	x.color = black
}

func (t *Tree[R, D]) minNode(n *Node[R, D]) *Node[R, D] {
	for n.left != t.sentinel {
		n = n.left
	}
	return n
}

func (t *Tree[R, D]) maxNode(n *Node[R, D]) *Node[R, D] {
	for n.right != t.sentinel {
		n = n.right
	}
	return n
}

// Min returns the node with the smallest Start, or nil if empty.
func (t *Tree[R, D]) Min() *Node[R, D] {
	if t.Empty() {
		return nil
	}
	return t.minNode(t.head)
}

// Max returns the node with the largest Start, or nil if empty.
func (t *Tree[R, D]) Max() *Node[R, D] {
	if t.Empty() {
		return nil
	}
	return t.maxNode(t.head)
}

// NodeSearch finds the node whose (Start, End, Data) exactly match, or
// nil if none does.
func (t *Tree[R, D]) NodeSearch(start, end R, data D) *Node[R, D] {
	x := t.head
	for x != t.sentinel {
		if x.Start == start && x.End == end && x.Data == data {
			return x
		}
		if start < x.Start {
			x = x.left
		} else {
			x = x.right
		}
	}
	// A rotation can leave a node in the left subtree of another node
	// with the same Start, off the path walked above.
	for _, n := range t.InOrder() {
		if n.Start == start && n.End == end && n.Data == data {
			return n
		}
	}
	return nil
}

// IntervalSearch returns one node whose closed interval overlaps
// [start, end], or nil if no node does. Among several overlapping
// candidates the result is whichever the endRangeMax-pruned descent
// finds first; use
// InOrder plus a manual filter for an exhaustive, priority-ordered
// result (see cacheddata.ShardSet.GetNotifyables).
func (t *Tree[R, D]) IntervalSearch(start, end R) *Node[R, D] {
	x := t.head
	for x != t.sentinel && (start > x.End || end < x.Start) {
		if x.left != t.sentinel && x.left.EndMax >= start {
			x = x.left
		} else {
			x = x.right
		}
	}
	if x != t.sentinel {
		return x
	}
	return nil
}

// InOrder returns every node in ascending Start order.
func (t *Tree[R, D]) InOrder() []*Node[R, D] {
	out := make([]*Node[R, D], 0, t.count)
	var walk func(n *Node[R, D])
	walk = func(n *Node[R, D]) {
		if n == t.sentinel {
			return
		}
		walk(n.left)
		out = append(out, n)
		walk(n.right)
	}
	walk(t.head)
	return out
}

// VerifyTree checks the red-black and augmented-endRangeMax
// invariants: red nodes have black children, BST order on Start,
// EndMax consistency, and a maximum depth of ceil(2*log2(n+1)).
func (t *Tree[R, D]) VerifyTree() bool {
	maxDepth := 0
	nodeCount := 0
	if !t.checkNode(t.head, 1, &maxDepth, &nodeCount) {
		return false
	}
	bound := int(math.Ceil(2.0 * math.Log2(float64(nodeCount+1))))
	return maxDepth <= bound
}

func (t *Tree[R, D]) checkNode(n *Node[R, D], depth int, maxDepth, nodeCount *int) bool {
	if n == t.sentinel {
		return n.color == black
	}
	*nodeCount++
	if depth > *maxDepth {
		*maxDepth = depth
	}
	if !t.checkNode(n.left, depth+1, maxDepth, nodeCount) {
		return false
	}
	if !t.checkNode(n.right, depth+1, maxDepth, nodeCount) {
		return false
	}
	if n.color == red && (n.left.color == red || n.right.color == red) {
		return false
	}
	if n.left != t.sentinel && n.Start < n.left.Start {
		return false
	}
	if n.right != t.sentinel && n.Start > n.right.Start {
		return false
	}
	if n.EndMax < n.End {
		return false
	}
	if n.left != t.sentinel && n.EndMax < n.left.EndMax {
		return false
	}
	if n.right != t.sentinel && n.EndMax < n.right.EndMax {
		return false
	}
	return true
}
