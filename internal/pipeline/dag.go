package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnknownStage is returned for a stage name the graph does not define.
	ErrUnknownStage = errors.New("unknown stage")
	// ErrCycle is returned when the stage graph cannot be ordered.
	ErrCycle = errors.New("stage graph has a cycle")
)

// Stage is one node of the refresh graph.
type Stage struct {
	Name  string
	Table string
	After []string
	run   func(ctx context.Context, st *runState) (int, error)
}

// Layers orders stages into dependency layers. Every stage of a layer
// depends only on stages of earlier layers; within a layer stages keep
// their declaration order.
func Layers(stages []*Stage) ([][]*Stage, error) {
	byName := make(map[string]*Stage, len(stages))
	for _, s := range stages {
		if _, dup := byName[s.Name]; dup {
			return nil, fmt.Errorf("duplicate stage %q", s.Name)
		}
		byName[s.Name] = s
	}

	indegree := make(map[string]int, len(stages))
	dependents := make(map[string][]string, len(stages))
	for _, s := range stages {
		for _, dep := range s.After {
			if _, ok := byName[dep]; !ok {
				return nil, fmt.Errorf("stage %q depends on %q: %w", s.Name, dep, ErrUnknownStage)
			}
			indegree[s.Name]++
			dependents[dep] = append(dependents[dep], s.Name)
		}
	}

	var layers [][]*Stage
	placed := 0
	done := make(map[string]bool, len(stages))
	for placed < len(stages) {
		var layer []*Stage
		for _, s := range stages {
			if !done[s.Name] && indegree[s.Name] == 0 {
				layer = append(layer, s)
			}
		}
		if len(layer) == 0 {
			var stuck []string
			for _, s := range stages {
				if !done[s.Name] {
					stuck = append(stuck, s.Name)
				}
			}
			return nil, fmt.Errorf("%w: %s", ErrCycle, strings.Join(stuck, ", "))
		}
		for _, s := range layer {
			done[s.Name] = true
			for _, d := range dependents[s.Name] {
				indegree[d]--
			}
		}
		placed += len(layer)
		layers = append(layers, layer)
	}
	return layers, nil
}
