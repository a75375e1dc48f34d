// Package dag verifies that a pipeline's task dependency graph is actually a
// DAG. This lets the kernel refuse cyclic `depends_on` wiring at pipeline
// create/update time instead of discovering it mid-run.
package dag

import (
	"errors"
	"fmt"
)

type DAG map[string]*Node

type Node struct {
	ID    string
	Edges []string
}

var (
	// ErrEntityNotFound is returned when a certain entity could not be located.
	ErrEntityNotFound = errors.New("dag: entity not found")

	// ErrEntityExists is returned when a certain entity was located but not meant to be.
	ErrEntityExists = errors.New("dag: entity already exists")

	// ErrEdgeCreatesCycle is returned when the introduction of an edge would create a cycle.
	ErrEdgeCreatesCycle = errors.New("dag: edge would create a cycle")
)

func New() DAG {
	return map[string]*Node{}
}

func (d DAG) AddNode(id string) error {
	if _, exists := d[id]; exists {
		return ErrEntityExists
	}

	d[id] = &Node{ID: id}
	return nil
}

func (d DAG) Exists(id string) bool {
	_, exists := d[id]
	return exists
}

// AddEdge wires a dependency: to depends on from, i.e. from must complete
// before to is allowed to run. Returns ErrEdgeCreatesCycle if the edge would
// introduce a cycle.
func (d DAG) AddEdge(from, to string) error {
	if _, exists := d[from]; !exists {
		return fmt.Errorf("%q: %w", from, ErrEntityNotFound)
	}

	if _, exists := d[to]; !exists {
		return fmt.Errorf("%q: %w", to, ErrEntityNotFound)
	}

	if d.pathExists(to, from) {
		return ErrEdgeCreatesCycle
	}

	node := d[from]
	node.Edges = append(node.Edges, to)
	return nil
}

// pathExists reports whether there is a directed path from -> to.
func (d DAG) pathExists(from, to string) bool {
	if from == to {
		return true
	}

	visited := map[string]bool{}
	var visit func(id string) bool
	visit = func(id string) bool {
		if visited[id] {
			return false
		}
		visited[id] = true

		node, exists := d[id]
		if !exists {
			return false
		}

		for _, edge := range node.Edges {
			if edge == to {
				return true
			}
			if visit(edge) {
				return true
			}
		}

		return false
	}

	return visit(from)
}

// TopologicalSort returns the node ids in an order consistent with the
// dependency edges, or ErrEdgeCreatesCycle if the graph contains a cycle
// that escaped AddEdge (e.g. built directly via FromDependsOn).
func (d DAG) TopologicalSort() ([]string, error) {
	const (
		white = iota
		gray
		black
	)

	color := map[string]int{}
	for id := range d {
		color[id] = white
	}

	order := []string{}

	var visit func(id string) error
	visit = func(id string) error {
		color[id] = gray

		for _, edge := range d[id].Edges {
			switch color[edge] {
			case gray:
				return ErrEdgeCreatesCycle
			case white:
				if err := visit(edge); err != nil {
					return err
				}
			}
		}

		color[id] = black
		order = append([]string{id}, order...)
		return nil
	}

	for id := range d {
		if color[id] == white {
			if err := visit(id); err != nil {
				return nil, err
			}
		}
	}

	return order, nil
}

// FromDependsOn builds a DAG from a task-id -> depends_on-parent-ids map,
// the shape pipeline validation works with. The edge direction recorded is
// parent -> child so that TopologicalSort yields parents before children.
func FromDependsOn(dependsOn map[string][]string) (DAG, error) {
	d := New()

	for id := range dependsOn {
		_ = d.AddNode(id)
	}

	for id, parents := range dependsOn {
		for _, parent := range parents {
			if !d.Exists(parent) {
				return nil, fmt.Errorf("task %q depends on unknown task %q: %w", id, parent, ErrEntityNotFound)
			}

			if err := d.AddEdge(parent, id); err != nil {
				return nil, err
			}
		}
	}

	return d, nil
}
