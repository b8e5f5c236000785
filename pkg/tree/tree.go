// Copyright (c) 2026 Agora. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package tree provides an adjacency-list forest keyed by id.

Nodes reference their parent by id rather than by pointer, so the structure
can be loaded from a table with a nullable parent column and mutated without
aliasing. Every write that changes a parent is checked for cycles.
*/
package tree

import (
	"errors"
	"fmt"
)

var (
	// ErrCycle is returned when a parent assignment would create a loop.
	ErrCycle = errors.New("tree: parent assignment creates a cycle")
	// ErrUnknownNode is returned when an id is not present in the forest.
	ErrUnknownNode = errors.New("tree: unknown node")
)

type node[V any] struct {
	parent string
	value  V
}

// Forest is an adjacency-list tree collection. The zero value is not usable;
// call [New].
type Forest[V any] struct {
	nodes map[string]*node[V]
}

// New creates an empty forest.
func New[V any]() *Forest[V] {
	return &Forest[V]{nodes: make(map[string]*node[V])}
}

// Add inserts a root node, or replaces the value of an existing node
// while keeping its parent.
func (forest *Forest[V]) Add(id string, value V) {
	if existing, ok := forest.nodes[id]; ok {
		existing.value = value
		return
	}
	forest.nodes[id] = &node[V]{value: value}
}

// SetParent attaches id under parent. An empty parent makes id a root.
// The assignment is refused when parent is id itself or one of its descendants.
func (forest *Forest[V]) SetParent(id, parent string) error {
	child, ok := forest.nodes[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownNode, id)
	}
	if parent == "" {
		child.parent = ""
		return nil
	}
	if _, ok := forest.nodes[parent]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownNode, parent)
	}

	// Walk up from the proposed parent; meeting id means id is its ancestor.
	for cursor := parent; cursor != ""; cursor = forest.nodes[cursor].parent {
		if cursor == id {
			return fmt.Errorf("%w: %s under %s", ErrCycle, id, parent)
		}
	}

	child.parent = parent
	return nil
}

// Get returns the value stored for id.
func (forest *Forest[V]) Get(id string) (V, bool) {
	n, ok := forest.nodes[id]
	if !ok {
		var zero V
		return zero, false
	}
	return n.value, true
}

// Parent returns the parent id of id, or "" for a root.
func (forest *Forest[V]) Parent(id string) string {
	if n, ok := forest.nodes[id]; ok {
		return n.parent
	}
	return ""
}

// Ancestors returns id followed by each ancestor up to its root.
func (forest *Forest[V]) Ancestors(id string) []string {
	var chain []string
	for cursor := id; cursor != ""; {
		n, ok := forest.nodes[cursor]
		if !ok {
			break
		}
		chain = append(chain, cursor)
		cursor = n.parent
	}
	return chain
}

// Children returns the direct children of id in no particular order.
func (forest *Forest[V]) Children(id string) []string {
	var children []string
	for childID, n := range forest.nodes {
		if n.parent == id {
			children = append(children, childID)
		}
	}
	return children
}

// Len returns the number of nodes.
func (forest *Forest[V]) Len() int {
	return len(forest.nodes)
}
