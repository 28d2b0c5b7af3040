// Package aggregate rebuilds the derived conversation tables from raw
// messages: one turn per message, and weighted sender to recipient edges.
package aggregate

import (
	"context"
	"fmt"

	"github.com/fyrsmithlabs/truthd/internal/logging"
	"github.com/fyrsmithlabs/truthd/internal/store"
	"go.uber.org/zap"
)

// Rebuilder runs the aggregation jobs.
type Rebuilder struct {
	store  store.Store
	logger *logging.Logger
}

// New returns a Rebuilder. A nil logger discards output.
func New(st store.Store, logger *logging.Logger) *Rebuilder {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Rebuilder{store: st, logger: logger}
}

// RebuildTurns replaces every turn with one turn per message, in timestamp
// order, linked back to its message.
func (r *Rebuilder) RebuildTurns(ctx context.Context) (int, error) {
	var n int
	err := r.store.WithTx(ctx, func(tx store.Tx) error {
		msgs, err := tx.ListMessages(ctx, 0)
		if err != nil {
			return fmt.Errorf("list messages: %w", err)
		}
		if err := tx.ClearTurns(ctx); err != nil {
			return err
		}
		for _, m := range msgs {
			turn := store.Turn{
				Platform:       m.Platform,
				ChannelID:      m.ChannelID,
				ThreadID:       m.ThreadID,
				SenderPersonID: m.SenderPersonID,
				StartTS:        m.TS,
				EndTS:          m.TS,
				Text:           m.Text,
			}
			if _, err := tx.InsertTurn(ctx, turn, []int64{m.ID}); err != nil {
				return fmt.Errorf("insert turn for message %d: %w", m.ID, err)
			}
			n++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	r.logger.Info(ctx, "turns rebuilt", zap.Int("turns", n))
	return n, nil
}

// RebuildCommEdges replaces the comm edge table with message counts per
// sender and recipient pair.
func (r *Rebuilder) RebuildCommEdges(ctx context.Context) (int, error) {
	var n int
	err := r.store.WithTx(ctx, func(tx store.Tx) error {
		counts, err := tx.MessageEdges(ctx)
		if err != nil {
			return fmt.Errorf("message edges: %w", err)
		}
		edges := make([]store.CommEdge, 0, len(counts))
		for _, c := range counts {
			edges = append(edges, store.CommEdge{
				SrcPersonID: c.SrcPersonID,
				DstPersonID: c.DstPersonID,
				Weight:      float64(c.Count),
				LastTS:      c.LastTS,
			})
		}
		n = len(edges)
		return tx.ReplaceCommEdges(ctx, edges)
	})
	if err != nil {
		return 0, err
	}
	r.logger.Info(ctx, "comm edges rebuilt", zap.Int("edges", n))
	return n, nil
}
