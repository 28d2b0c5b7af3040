// Package store persists the knowledge base, knowledge PRs and the
// conversational records they are derived from.
//
// All access goes through a unit of work: Store.WithTx runs a function
// against a Tx and commits only if the function returns nil. Every pipeline
// operation performs its reads and writes inside exactly one WithTx call, so
// partial writes are never observable.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Sentinel errors. ErrTurnNotFound and ErrPRNotFound match ErrNotFound.
var (
	ErrNotFound     = errors.New("not found")
	ErrTurnNotFound = fmt.Errorf("turn %w", ErrNotFound)
	ErrPRNotFound   = fmt.Errorf("pr %w", ErrNotFound)
)

// Knowledge PR statuses.
const (
	StatusNeedsReview   = "needs_review"
	StatusMergeConflict = "merge_conflict"
	StatusMerged        = "merged"
)

// Truth item types.
const (
	ItemDecision = "decision"
	ItemClaim    = "claim"
)

// Turn is a contiguous span of conversation attributed to one sender.
type Turn struct {
	ID             int64
	Platform       string
	ChannelID      string
	ThreadID       string
	SenderPersonID *int64
	StartTS        time.Time
	EndTS          time.Time
	Text           string
}

// Person is a participant in the conversational records.
type Person struct {
	ID          int64
	Handle      string
	DisplayName string
	Email       string
}

// Message is one ingested email or chat message.
type Message struct {
	ID             int64
	Platform       string
	ExternalID     string
	TS             time.Time
	SenderPersonID *int64
	ChannelID      string
	ThreadID       string
	Subject        string
	Text           string
	RecipientIDs   []int64
}

// TruthItem is a long-lived knowledge entity.
type TruthItem struct {
	ID               int64
	Type             string
	Title            string
	CreatedAt        time.Time
	CurrentVersionID *int64
}

// TruthVersion is an immutable snapshot of a truth item's content.
type TruthVersion struct {
	ID             int64
	TruthItemID    int64
	VersionNum     int
	CreatedAt      time.Time
	Summary        string
	Confidence     *float64
	MergedFromPRID *int64
}

// ItemEmbedding is a stored matching key joined with the item's current
// version pointer.
type ItemEmbedding struct {
	TruthItemID      int64
	CurrentVersionID *int64
	Vector           []float32
}

// KnowledgePR is a proposed batch of knowledge changes from one turn.
type KnowledgePR struct {
	ID           int64
	CreatedAt    time.Time
	SourceTurnID *int64
	Status       string
	Extracted    json.RawMessage
	Model        string
	Title        string
}

// PRChange is one proposed edit inside a PR.
type PRChange struct {
	ID                int64
	PRID              int64
	TruthItemID       int64
	PreviousVersionID *int64
	ProposedSummary   string
	DiffSummary       string
	Similarity        float64
	Confidence        float64
}

// PRConflict is a detected incompatibility for one change.
type PRConflict struct {
	ID             int64
	PRID           int64
	TruthItemID    int64
	ConflictType   string
	ExistingClaim  string
	NewClaim       string
	ResolutionHint string
}

// Stakeholder is a ranked routing recommendation for a PR.
type Stakeholder struct {
	ID       int64
	PRID     int64
	PersonID int64
	Score    float64
	Reason   string
	Mode     string
}

// MessageEdge aggregates messages from one sender to one recipient.
type MessageEdge struct {
	SrcPersonID int64
	DstPersonID int64
	Count       int64
	LastTS      time.Time
}

// CommEdge is a precomputed directed communication edge.
type CommEdge struct {
	SrcPersonID int64
	DstPersonID int64
	Weight      float64
	LastTS      time.Time
}

// Store opens units of work.
type Store interface {
	WithTx(ctx context.Context, fn func(Tx) error) error
	Close() error
}

// Tx is the set of operations available inside one unit of work.
type Tx interface {
	TurnReader
	KnowledgeTx
	PRTx
	GraphTx
}

// TurnReader exposes conversational records.
type TurnReader interface {
	GetTurn(ctx context.Context, id int64) (Turn, error)
	// RecipientCounts sums messages from sender to each recipient.
	RecipientCounts(ctx context.Context, senderID int64) (map[int64]float64, error)
}

// KnowledgeTx manages truth items, versions and embeddings.
type KnowledgeTx interface {
	// ListEmbeddings returns every stored embedding ordered by item id.
	// Rows whose stored vector cannot be decoded are skipped.
	ListEmbeddings(ctx context.Context) ([]ItemEmbedding, error)
	CreateTruthItem(ctx context.Context, itemType, title string) (int64, error)
	StoreEmbedding(ctx context.Context, itemID int64, vec []float32) error
	GetTruthItem(ctx context.Context, id int64) (TruthItem, error)
	ListTruthItems(ctx context.Context) ([]TruthItem, error)
	GetVersion(ctx context.Context, id int64) (TruthVersion, error)
	// NextVersionNum returns max(version_num)+1 for the item, starting at 1.
	NextVersionNum(ctx context.Context, itemID int64) (int, error)
	InsertVersion(ctx context.Context, v TruthVersion) (int64, error)
	SetCurrentVersion(ctx context.Context, itemID, versionID int64) error
	CountMergedVersions(ctx context.Context, prID int64) (int, error)
}

// PRTx manages knowledge PRs and their per-stage output.
type PRTx interface {
	CreatePR(ctx context.Context, pr KnowledgePR) (int64, error)
	GetPR(ctx context.Context, id int64) (KnowledgePR, error)
	SetPRStatus(ctx context.Context, id int64, status string) error
	InsertChange(ctx context.Context, c PRChange) (int64, error)
	// ListChanges returns the PR's changes ordered by id.
	ListChanges(ctx context.Context, prID int64) ([]PRChange, error)
	// ListAllChanges returns every change ordered by id.
	ListAllChanges(ctx context.Context) ([]PRChange, error)
	DeleteConflicts(ctx context.Context, prID int64) error
	InsertConflict(ctx context.Context, c PRConflict) (int64, error)
	ListConflicts(ctx context.Context, prID int64) ([]PRConflict, error)
	DeleteStakeholders(ctx context.Context, prID int64) error
	InsertStakeholder(ctx context.Context, s Stakeholder) (int64, error)
	// ListStakeholders returns the PR's stakeholders by score descending.
	ListStakeholders(ctx context.Context, prID int64) ([]Stakeholder, error)
}

// GraphTx covers people, messages and the derived turn and edge tables.
type GraphTx interface {
	ListPeople(ctx context.Context) ([]Person, error)
	// ListMessages returns messages ordered by timestamp; limit <= 0 means all.
	ListMessages(ctx context.Context, limit int) ([]Message, error)
	// MessageEdges aggregates sender to recipient message counts.
	MessageEdges(ctx context.Context) ([]MessageEdge, error)
	ReplaceCommEdges(ctx context.Context, edges []CommEdge) error
	ListCommEdges(ctx context.Context) ([]CommEdge, error)
	// ClearTurns removes all turns and their message links.
	ClearTurns(ctx context.Context) error
	InsertTurn(ctx context.Context, t Turn, messageIDs []int64) (int64, error)
}
