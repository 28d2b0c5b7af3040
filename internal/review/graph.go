package review

import (
	"context"
	"fmt"
	"sort"

	"github.com/fyrsmithlabs/truthd/internal/store"
)

// Node types.
const (
	NodePerson    = "person"
	NodeTruthItem = "truth_item"
	EdgePRChange  = "pr_change"
)

// Node is a vertex in either graph.
type Node struct {
	ID    int64  `json:"id"`
	Label string `json:"label"`
	Type  string `json:"type"`
}

// CommsEdge counts messages from source to target.
type CommsEdge struct {
	Source int64 `json:"source"`
	Target int64 `json:"target"`
	Weight int64 `json:"weight"`
}

// KnowledgeEdge links a PR to a truth item it changes.
type KnowledgeEdge struct {
	Source int64  `json:"source"`
	Target int64  `json:"target"`
	Type   string `json:"type"`
}

// CommsGraph is the people graph.
type CommsGraph struct {
	Nodes []Node      `json:"nodes"`
	Edges []CommsEdge `json:"edges"`
}

// KnowledgeGraph is the truth item graph.
type KnowledgeGraph struct {
	Nodes []Node          `json:"nodes"`
	Edges []KnowledgeEdge `json:"edges"`
}

// PersonLabel picks the display name, then the handle, then a synthetic label.
func PersonLabel(p store.Person) string {
	switch {
	case p.DisplayName != "":
		return p.DisplayName
	case p.Handle != "":
		return p.Handle
	default:
		return fmt.Sprintf("person-%d", p.ID)
	}
}

// Comms returns people and sender to recipient message counts.
func (s *Service) Comms(ctx context.Context) (CommsGraph, error) {
	out := CommsGraph{Nodes: []Node{}, Edges: []CommsEdge{}}
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		people, err := tx.ListPeople(ctx)
		if err != nil {
			return fmt.Errorf("list people: %w", err)
		}
		for _, p := range people {
			out.Nodes = append(out.Nodes, Node{ID: p.ID, Label: PersonLabel(p), Type: NodePerson})
		}
		edges, err := tx.MessageEdges(ctx)
		if err != nil {
			return fmt.Errorf("message edges: %w", err)
		}
		for _, e := range edges {
			out.Edges = append(out.Edges, CommsEdge{Source: e.SrcPersonID, Target: e.DstPersonID, Weight: e.Count})
		}
		return nil
	})
	if err != nil {
		return CommsGraph{}, err
	}
	sort.SliceStable(out.Edges, func(i, j int) bool {
		if out.Edges[i].Source != out.Edges[j].Source {
			return out.Edges[i].Source < out.Edges[j].Source
		}
		return out.Edges[i].Target < out.Edges[j].Target
	})
	return out, nil
}

// Knowledge returns truth items and one PR to item edge per change.
func (s *Service) Knowledge(ctx context.Context) (KnowledgeGraph, error) {
	out := KnowledgeGraph{Nodes: []Node{}, Edges: []KnowledgeEdge{}}
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		items, err := tx.ListTruthItems(ctx)
		if err != nil {
			return fmt.Errorf("list truth items: %w", err)
		}
		for _, it := range items {
			out.Nodes = append(out.Nodes, Node{ID: it.ID, Label: it.Title, Type: NodeTruthItem})
		}
		changes, err := tx.ListAllChanges(ctx)
		if err != nil {
			return fmt.Errorf("list changes: %w", err)
		}
		for _, c := range changes {
			out.Edges = append(out.Edges, KnowledgeEdge{Source: c.PRID, Target: c.TruthItemID, Type: EdgePRChange})
		}
		return nil
	})
	if err != nil {
		return KnowledgeGraph{}, err
	}
	return out, nil
}
