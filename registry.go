package nucleus

import (
	"strings"

	"golang.org/x/exp/slices"
)

// regNode is one name binding in a registry. obj stays nil from reserve
// until finish, marking an in-flight creation; refs counts open descriptors
// plus operations blocked inside the object.
type regNode struct {
	name     string
	obj      *queue
	refs     int
	unlinked bool
	done     synchro // creation watchers, woken on finish or rollback
}

// registry maps names to queues with two-phase creation. It has no lock of
// its own; every method runs under the instance lock.
type registry struct {
	nodes map[string]*regNode
}

func (r *registry) init() { r.nodes = make(map[string]*regNode) }

func (r *registry) lookup(name string) *regNode { return r.nodes[name] }

// reserve binds name to an empty node so the instance lock can be dropped
// while the object's backing is allocated. Concurrent opens of the same name
// sleep on the node until finish or rollback.
func (r *registry) reserve(name string) *regNode {
	node := &regNode{name: name}
	r.nodes[name] = node
	return node
}

// finish completes a reservation and wakes creation watchers.
func (r *registry) finish(node *regNode, obj *queue) {
	node.obj = obj
	node.done.wakeAll(wakeNormal)
}

// remove unbinds the node's name. The node itself stays valid for descriptor
// holders until the last reference drops.
func (r *registry) remove(node *regNode) {
	if r.nodes[node.name] == node {
		delete(r.nodes, node.name)
	}
}

// snapshot returns the registered nodes in name order.
func (r *registry) snapshot() []*regNode {
	nodes := make([]*regNode, 0, len(r.nodes))
	for _, node := range r.nodes {
		nodes = append(nodes, node)
	}
	slices.SortFunc(nodes, func(a, b *regNode) int { return strings.Compare(a.name, b.name) })
	return nodes
}

// forceRemove unbinds a node during teardown and fails any in-flight
// creation watchers.
func (r *registry) forceRemove(node *regNode) {
	r.remove(node)
	node.done.destroy()
}
