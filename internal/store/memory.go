package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Memory is an in-process Store. Units of work are serialized and operate
// on a copy of the data that replaces the live copy only on commit.
type Memory struct {
	mu   sync.Mutex
	data *memData
	now  func() time.Time
}

type memData struct {
	people     map[int64]Person
	messages   map[int64]Message
	turns      map[int64]Turn
	turnMsgs   map[int64][]int64
	items      map[int64]TruthItem
	embeddings map[int64][]float32
	versions   map[int64]TruthVersion
	prs        map[int64]KnowledgePR
	changes    map[int64]PRChange
	conflicts  map[int64]PRConflict
	stakes     map[int64]Stakeholder
	commEdges  []CommEdge
	seq        map[string]int64
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{data: newMemData(), now: time.Now}
}

func newMemData() *memData {
	return &memData{
		people:     map[int64]Person{},
		messages:   map[int64]Message{},
		turns:      map[int64]Turn{},
		turnMsgs:   map[int64][]int64{},
		items:      map[int64]TruthItem{},
		embeddings: map[int64][]float32{},
		versions:   map[int64]TruthVersion{},
		prs:        map[int64]KnowledgePR{},
		changes:    map[int64]PRChange{},
		conflicts:  map[int64]PRConflict{},
		stakes:     map[int64]Stakeholder{},
		seq:        map[string]int64{},
	}
}

func (d *memData) clone() *memData {
	c := newMemData()
	for k, v := range d.people {
		c.people[k] = v
	}
	for k, v := range d.messages {
		v.RecipientIDs = append([]int64(nil), v.RecipientIDs...)
		c.messages[k] = v
	}
	for k, v := range d.turns {
		c.turns[k] = v
	}
	for k, v := range d.turnMsgs {
		c.turnMsgs[k] = append([]int64(nil), v...)
	}
	for k, v := range d.items {
		c.items[k] = v
	}
	for k, v := range d.embeddings {
		c.embeddings[k] = append([]float32(nil), v...)
	}
	for k, v := range d.versions {
		c.versions[k] = v
	}
	for k, v := range d.prs {
		v.Extracted = append(json.RawMessage(nil), v.Extracted...)
		c.prs[k] = v
	}
	for k, v := range d.changes {
		c.changes[k] = v
	}
	for k, v := range d.conflicts {
		c.conflicts[k] = v
	}
	for k, v := range d.stakes {
		c.stakes[k] = v
	}
	c.commEdges = append([]CommEdge(nil), d.commEdges...)
	for k, v := range d.seq {
		c.seq[k] = v
	}
	return c
}

func (d *memData) next(table string) int64 {
	d.seq[table]++
	return d.seq[table]
}

// WithTx runs fn against a snapshot and commits it when fn returns nil.
func (m *Memory) WithTx(ctx context.Context, fn func(Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	work := m.data.clone()
	if err := fn(&memTx{d: work, now: m.now}); err != nil {
		return err
	}
	m.data = work
	return nil
}

func (m *Memory) Close() error { return nil }

// AddPerson seeds a person and returns its id.
func (m *Memory) AddPerson(p Person) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	p.ID = m.data.next("people")
	m.data.people[p.ID] = p
	return p.ID
}

// AddMessage seeds a message with its recipients and returns its id.
func (m *Memory) AddMessage(msg Message) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg.ID = m.data.next("messages")
	msg.RecipientIDs = append([]int64(nil), msg.RecipientIDs...)
	m.data.messages[msg.ID] = msg
	return msg.ID
}

// AddTurn seeds a turn and returns its id.
func (m *Memory) AddTurn(t Turn) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	t.ID = m.data.next("turns")
	m.data.turns[t.ID] = t
	return t.ID
}

// SetTurnText replaces a seeded turn's text.
func (m *Memory) SetTurnText(id int64, text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.data.turns[id]; ok {
		t.Text = text
		m.data.turns[id] = t
	}
}

type memTx struct {
	d   *memData
	now func() time.Time
}

func sortedKeys[V any](m map[int64]V) []int64 {
	keys := make([]int64, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

func (t *memTx) GetTurn(_ context.Context, id int64) (Turn, error) {
	turn, ok := t.d.turns[id]
	if !ok {
		return Turn{}, ErrTurnNotFound
	}
	return turn, nil
}

func (t *memTx) RecipientCounts(_ context.Context, senderID int64) (map[int64]float64, error) {
	out := map[int64]float64{}
	for _, msg := range t.d.messages {
		if msg.SenderPersonID == nil || *msg.SenderPersonID != senderID {
			continue
		}
		for _, r := range msg.RecipientIDs {
			out[r]++
		}
	}
	return out, nil
}

func (t *memTx) ListEmbeddings(_ context.Context) ([]ItemEmbedding, error) {
	var out []ItemEmbedding
	for _, id := range sortedKeys(t.d.embeddings) {
		item, ok := t.d.items[id]
		if !ok {
			continue
		}
		out = append(out, ItemEmbedding{
			TruthItemID:      id,
			CurrentVersionID: item.CurrentVersionID,
			Vector:           append([]float32(nil), t.d.embeddings[id]...),
		})
	}
	return out, nil
}

func (t *memTx) CreateTruthItem(_ context.Context, itemType, title string) (int64, error) {
	id := t.d.next("truth_items")
	t.d.items[id] = TruthItem{ID: id, Type: itemType, Title: title, CreatedAt: t.now()}
	return id, nil
}

func (t *memTx) StoreEmbedding(_ context.Context, itemID int64, vec []float32) error {
	if _, ok := t.d.items[itemID]; !ok {
		return fmt.Errorf("truth item %d: %w", itemID, ErrNotFound)
	}
	t.d.embeddings[itemID] = append([]float32(nil), vec...)
	return nil
}

func (t *memTx) GetTruthItem(_ context.Context, id int64) (TruthItem, error) {
	it, ok := t.d.items[id]
	if !ok {
		return TruthItem{}, fmt.Errorf("truth item %d: %w", id, ErrNotFound)
	}
	return it, nil
}

func (t *memTx) ListTruthItems(_ context.Context) ([]TruthItem, error) {
	var out []TruthItem
	for _, id := range sortedKeys(t.d.items) {
		out = append(out, t.d.items[id])
	}
	return out, nil
}

func (t *memTx) GetVersion(_ context.Context, id int64) (TruthVersion, error) {
	v, ok := t.d.versions[id]
	if !ok {
		return TruthVersion{}, fmt.Errorf("truth version %d: %w", id, ErrNotFound)
	}
	return v, nil
}

func (t *memTx) NextVersionNum(_ context.Context, itemID int64) (int, error) {
	highest := 0
	for _, v := range t.d.versions {
		if v.TruthItemID == itemID && v.VersionNum > highest {
			highest = v.VersionNum
		}
	}
	return highest + 1, nil
}

func (t *memTx) InsertVersion(_ context.Context, v TruthVersion) (int64, error) {
	if _, ok := t.d.items[v.TruthItemID]; !ok {
		return 0, fmt.Errorf("truth item %d: %w", v.TruthItemID, ErrNotFound)
	}
	for _, existing := range t.d.versions {
		if existing.TruthItemID == v.TruthItemID && existing.VersionNum == v.VersionNum {
			return 0, fmt.Errorf("version %d of item %d already exists", v.VersionNum, v.TruthItemID)
		}
	}
	v.ID = t.d.next("truth_versions")
	v.CreatedAt = t.now()
	t.d.versions[v.ID] = v
	return v.ID, nil
}

func (t *memTx) SetCurrentVersion(_ context.Context, itemID, versionID int64) error {
	it, ok := t.d.items[itemID]
	if !ok {
		return fmt.Errorf("truth item %d: %w", itemID, ErrNotFound)
	}
	it.CurrentVersionID = &versionID
	t.d.items[itemID] = it
	return nil
}

func (t *memTx) CountMergedVersions(_ context.Context, prID int64) (int, error) {
	n := 0
	for _, v := range t.d.versions {
		if v.MergedFromPRID != nil && *v.MergedFromPRID == prID {
			n++
		}
	}
	return n, nil
}

func (t *memTx) CreatePR(_ context.Context, pr KnowledgePR) (int64, error) {
	pr.ID = t.d.next("knowledge_prs")
	pr.CreatedAt = t.now()
	pr.Extracted = append(json.RawMessage(nil), pr.Extracted...)
	t.d.prs[pr.ID] = pr
	return pr.ID, nil
}

func (t *memTx) GetPR(_ context.Context, id int64) (KnowledgePR, error) {
	pr, ok := t.d.prs[id]
	if !ok {
		return KnowledgePR{}, ErrPRNotFound
	}
	return pr, nil
}

func (t *memTx) SetPRStatus(_ context.Context, id int64, status string) error {
	pr, ok := t.d.prs[id]
	if !ok {
		return ErrPRNotFound
	}
	pr.Status = status
	t.d.prs[id] = pr
	return nil
}

func (t *memTx) InsertChange(_ context.Context, c PRChange) (int64, error) {
	if _, ok := t.d.prs[c.PRID]; !ok {
		return 0, ErrPRNotFound
	}
	c.ID = t.d.next("pr_changes")
	t.d.changes[c.ID] = c
	return c.ID, nil
}

func (t *memTx) ListChanges(_ context.Context, prID int64) ([]PRChange, error) {
	var out []PRChange
	for _, id := range sortedKeys(t.d.changes) {
		if c := t.d.changes[id]; c.PRID == prID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (t *memTx) ListAllChanges(_ context.Context) ([]PRChange, error) {
	var out []PRChange
	for _, id := range sortedKeys(t.d.changes) {
		out = append(out, t.d.changes[id])
	}
	return out, nil
}

func (t *memTx) DeleteConflicts(_ context.Context, prID int64) error {
	for id, c := range t.d.conflicts {
		if c.PRID == prID {
			delete(t.d.conflicts, id)
		}
	}
	return nil
}

func (t *memTx) InsertConflict(_ context.Context, c PRConflict) (int64, error) {
	c.ID = t.d.next("pr_conflicts")
	t.d.conflicts[c.ID] = c
	return c.ID, nil
}

func (t *memTx) ListConflicts(_ context.Context, prID int64) ([]PRConflict, error) {
	var out []PRConflict
	for _, id := range sortedKeys(t.d.conflicts) {
		if c := t.d.conflicts[id]; c.PRID == prID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (t *memTx) DeleteStakeholders(_ context.Context, prID int64) error {
	for id, s := range t.d.stakes {
		if s.PRID == prID {
			delete(t.d.stakes, id)
		}
	}
	return nil
}

func (t *memTx) InsertStakeholder(_ context.Context, s Stakeholder) (int64, error) {
	s.ID = t.d.next("pr_stakeholders")
	t.d.stakes[s.ID] = s
	return s.ID, nil
}

func (t *memTx) ListStakeholders(_ context.Context, prID int64) ([]Stakeholder, error) {
	var out []Stakeholder
	for _, id := range sortedKeys(t.d.stakes) {
		if s := t.d.stakes[id]; s.PRID == prID {
			out = append(out, s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out, nil
}

func (t *memTx) ListPeople(_ context.Context) ([]Person, error) {
	var out []Person
	for _, id := range sortedKeys(t.d.people) {
		out = append(out, t.d.people[id])
	}
	return out, nil
}

func (t *memTx) ListMessages(_ context.Context, limit int) ([]Message, error) {
	var out []Message
	for _, id := range sortedKeys(t.d.messages) {
		out = append(out, t.d.messages[id])
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].TS.Before(out[j].TS) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (t *memTx) MessageEdges(_ context.Context) ([]MessageEdge, error) {
	type key struct{ src, dst int64 }
	agg := map[key]*MessageEdge{}
	for _, msg := range t.d.messages {
		if msg.SenderPersonID == nil {
			continue
		}
		for _, r := range msg.RecipientIDs {
			k := key{*msg.SenderPersonID, r}
			e, ok := agg[k]
			if !ok {
				e = &MessageEdge{SrcPersonID: k.src, DstPersonID: k.dst}
				agg[k] = e
			}
			e.Count++
			if msg.TS.After(e.LastTS) {
				e.LastTS = msg.TS
			}
		}
	}
	out := make([]MessageEdge, 0, len(agg))
	for _, e := range agg {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SrcPersonID != out[j].SrcPersonID {
			return out[i].SrcPersonID < out[j].SrcPersonID
		}
		return out[i].DstPersonID < out[j].DstPersonID
	})
	return out, nil
}

func (t *memTx) ReplaceCommEdges(_ context.Context, edges []CommEdge) error {
	t.d.commEdges = append([]CommEdge(nil), edges...)
	return nil
}

func (t *memTx) ListCommEdges(_ context.Context) ([]CommEdge, error) {
	return append([]CommEdge(nil), t.d.commEdges...), nil
}

func (t *memTx) ClearTurns(_ context.Context) error {
	t.d.turns = map[int64]Turn{}
	t.d.turnMsgs = map[int64][]int64{}
	return nil
}

func (t *memTx) InsertTurn(_ context.Context, turn Turn, messageIDs []int64) (int64, error) {
	turn.ID = t.d.next("turns")
	t.d.turns[turn.ID] = turn
	t.d.turnMsgs[turn.ID] = append([]int64(nil), messageIDs...)
	return turn.ID, nil
}

var (
	_ Store = (*Memory)(nil)
	_ Tx    = (*memTx)(nil)
)
