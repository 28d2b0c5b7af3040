package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// Postgres is the database/sql backed Store.
type Postgres struct {
	DB *sql.DB
}

// OpenPostgres connects to dsn and pings it.
func OpenPostgres(ctx context.Context, dsn string, maxOpenConns int) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if maxOpenConns > 0 {
		db.SetMaxOpenConns(maxOpenConns)
		db.SetMaxIdleConns(maxOpenConns)
	}
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Postgres{DB: db}, nil
}

// NewPostgres wraps an existing handle.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{DB: db}
}

// WithTx runs fn in a transaction, committing on nil error and rolling back
// otherwise, including on panic.
func (p *Postgres) WithTx(ctx context.Context, fn func(Tx) error) (err error) {
	tx, err := p.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback()
			panic(r)
		}
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (p *Postgres) Close() error {
	return p.DB.Close()
}

type pgTx struct {
	tx *sql.Tx
}

func nullInt(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func ptrInt(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}

func (t *pgTx) GetTurn(ctx context.Context, id int64) (Turn, error) {
	var (
		turn            Turn
		channel, thread sql.NullString
		sender          sql.NullInt64
	)
	err := t.tx.QueryRowContext(ctx, `
SELECT id, platform, channel_id, thread_id, sender_person_id, start_ts, end_ts, text
FROM turns WHERE id = $1`, id).Scan(
		&turn.ID, &turn.Platform, &channel, &thread, &sender, &turn.StartTS, &turn.EndTS, &turn.Text)
	if errors.Is(err, sql.ErrNoRows) {
		return Turn{}, ErrTurnNotFound
	}
	if err != nil {
		return Turn{}, fmt.Errorf("get turn %d: %w", id, err)
	}
	turn.ChannelID, turn.ThreadID = channel.String, thread.String
	turn.SenderPersonID = ptrInt(sender)
	return turn, nil
}

func (t *pgTx) RecipientCounts(ctx context.Context, senderID int64) (map[int64]float64, error) {
	rows, err := t.tx.QueryContext(ctx, `
SELECT mr.recipient_person_id, COUNT(*)
FROM messages m
JOIN message_recipients mr ON mr.message_id = m.id
WHERE m.sender_person_id = $1
GROUP BY mr.recipient_person_id`, senderID)
	if err != nil {
		return nil, fmt.Errorf("recipient counts: %w", err)
	}
	defer rows.Close()

	out := map[int64]float64{}
	for rows.Next() {
		var (
			id    int64
			count int64
		)
		if err := rows.Scan(&id, &count); err != nil {
			return nil, err
		}
		out[id] = float64(count)
	}
	return out, rows.Err()
}

func (t *pgTx) ListEmbeddings(ctx context.Context) ([]ItemEmbedding, error) {
	rows, err := t.tx.QueryContext(ctx, `
SELECT ti.id, ti.current_version_id, tie.embedding
FROM truth_items ti
JOIN truth_item_embeddings tie ON tie.truth_item_id = ti.id
ORDER BY ti.id`)
	if err != nil {
		return nil, fmt.Errorf("list embeddings: %w", err)
	}
	defer rows.Close()

	var out []ItemEmbedding
	for rows.Next() {
		var (
			e       ItemEmbedding
			current sql.NullInt64
			raw     []byte
		)
		if err := rows.Scan(&e.TruthItemID, &current, &raw); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(raw, &e.Vector); err != nil {
			continue
		}
		e.CurrentVersionID = ptrInt(current)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (t *pgTx) CreateTruthItem(ctx context.Context, itemType, title string) (int64, error) {
	var id int64
	err := t.tx.QueryRowContext(ctx,
		`INSERT INTO truth_items (type, title) VALUES ($1, $2) RETURNING id`,
		itemType, title).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create truth item: %w", err)
	}
	return id, nil
}

func (t *pgTx) StoreEmbedding(ctx context.Context, itemID int64, vec []float32) error {
	payload, err := json.Marshal(vec)
	if err != nil {
		return err
	}
	_, err = t.tx.ExecContext(ctx, `
INSERT INTO truth_item_embeddings (truth_item_id, embedding) VALUES ($1, $2)
ON CONFLICT (truth_item_id) DO UPDATE SET embedding = EXCLUDED.embedding`, itemID, payload)
	if err != nil {
		return fmt.Errorf("store embedding for item %d: %w", itemID, err)
	}
	return nil
}

func scanItem(scan func(...any) error) (TruthItem, error) {
	var (
		it      TruthItem
		current sql.NullInt64
	)
	if err := scan(&it.ID, &it.Type, &it.Title, &it.CreatedAt, &current); err != nil {
		return TruthItem{}, err
	}
	it.CurrentVersionID = ptrInt(current)
	return it, nil
}

func (t *pgTx) GetTruthItem(ctx context.Context, id int64) (TruthItem, error) {
	it, err := scanItem(t.tx.QueryRowContext(ctx,
		`SELECT id, type, title, created_at, current_version_id FROM truth_items WHERE id = $1`, id).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return TruthItem{}, fmt.Errorf("truth item %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return TruthItem{}, fmt.Errorf("get truth item %d: %w", id, err)
	}
	return it, nil
}

func (t *pgTx) ListTruthItems(ctx context.Context) ([]TruthItem, error) {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT id, type, title, created_at, current_version_id FROM truth_items ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list truth items: %w", err)
	}
	defer rows.Close()

	var out []TruthItem
	for rows.Next() {
		it, err := scanItem(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (t *pgTx) GetVersion(ctx context.Context, id int64) (TruthVersion, error) {
	var (
		v          TruthVersion
		confidence sql.NullFloat64
		mergedFrom sql.NullInt64
	)
	err := t.tx.QueryRowContext(ctx, `
SELECT id, truth_item_id, version_num, created_at, summary, confidence, merged_from_pr_id
FROM truth_versions WHERE id = $1`, id).Scan(
		&v.ID, &v.TruthItemID, &v.VersionNum, &v.CreatedAt, &v.Summary, &confidence, &mergedFrom)
	if errors.Is(err, sql.ErrNoRows) {
		return TruthVersion{}, fmt.Errorf("truth version %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return TruthVersion{}, fmt.Errorf("get truth version %d: %w", id, err)
	}
	if confidence.Valid {
		c := confidence.Float64
		v.Confidence = &c
	}
	v.MergedFromPRID = ptrInt(mergedFrom)
	return v, nil
}

func (t *pgTx) NextVersionNum(ctx context.Context, itemID int64) (int, error) {
	var n int
	err := t.tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version_num), 0) + 1 FROM truth_versions WHERE truth_item_id = $1`,
		itemID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("next version for item %d: %w", itemID, err)
	}
	return n, nil
}

func (t *pgTx) InsertVersion(ctx context.Context, v TruthVersion) (int64, error) {
	var confidence sql.NullFloat64
	if v.Confidence != nil {
		confidence = sql.NullFloat64{Float64: *v.Confidence, Valid: true}
	}
	var id int64
	err := t.tx.QueryRowContext(ctx, `
INSERT INTO truth_versions (truth_item_id, version_num, summary, confidence, merged_from_pr_id)
VALUES ($1, $2, $3, $4, $5)
RETURNING id`, v.TruthItemID, v.VersionNum, v.Summary, confidence, nullInt(v.MergedFromPRID)).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert version for item %d: %w", v.TruthItemID, err)
	}
	return id, nil
}

func (t *pgTx) SetCurrentVersion(ctx context.Context, itemID, versionID int64) error {
	_, err := t.tx.ExecContext(ctx,
		`UPDATE truth_items SET current_version_id = $1 WHERE id = $2`, versionID, itemID)
	if err != nil {
		return fmt.Errorf("set current version of item %d: %w", itemID, err)
	}
	return nil
}

func (t *pgTx) CountMergedVersions(ctx context.Context, prID int64) (int, error) {
	var n int
	err := t.tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM truth_versions WHERE merged_from_pr_id = $1`, prID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count merged versions: %w", err)
	}
	return n, nil
}

func (t *pgTx) CreatePR(ctx context.Context, pr KnowledgePR) (int64, error) {
	var extracted any
	if len(pr.Extracted) > 0 {
		extracted = []byte(pr.Extracted)
	}
	var id int64
	err := t.tx.QueryRowContext(ctx, `
INSERT INTO knowledge_prs (source_turn_id, status, extracted_json, model, title)
VALUES ($1, $2, $3, $4, $5)
RETURNING id`, nullInt(pr.SourceTurnID), pr.Status, extracted, pr.Model, pr.Title).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create pr: %w", err)
	}
	return id, nil
}

func (t *pgTx) GetPR(ctx context.Context, id int64) (KnowledgePR, error) {
	var (
		pr                   KnowledgePR
		turn                 sql.NullInt64
		status, model, title sql.NullString
		extracted            []byte
	)
	err := t.tx.QueryRowContext(ctx, `
SELECT id, created_at, source_turn_id, status, extracted_json, model, title
FROM knowledge_prs WHERE id = $1`, id).Scan(
		&pr.ID, &pr.CreatedAt, &turn, &status, &extracted, &model, &title)
	if errors.Is(err, sql.ErrNoRows) {
		return KnowledgePR{}, ErrPRNotFound
	}
	if err != nil {
		return KnowledgePR{}, fmt.Errorf("get pr %d: %w", id, err)
	}
	pr.SourceTurnID = ptrInt(turn)
	pr.Status, pr.Model, pr.Title = status.String, model.String, title.String
	if len(extracted) > 0 {
		pr.Extracted = json.RawMessage(extracted)
	}
	return pr, nil
}

func (t *pgTx) SetPRStatus(ctx context.Context, id int64, status string) error {
	res, err := t.tx.ExecContext(ctx, `UPDATE knowledge_prs SET status = $1 WHERE id = $2`, status, id)
	if err != nil {
		return fmt.Errorf("set pr %d status: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrPRNotFound
	}
	return nil
}

func (t *pgTx) InsertChange(ctx context.Context, c PRChange) (int64, error) {
	var id int64
	err := t.tx.QueryRowContext(ctx, `
INSERT INTO pr_changes (pr_id, truth_item_id, previous_version_id, proposed_summary, diff_summary, similarity, confidence)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING id`, c.PRID, c.TruthItemID, nullInt(c.PreviousVersionID), c.ProposedSummary, c.DiffSummary, c.Similarity, c.Confidence).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert change: %w", err)
	}
	return id, nil
}

const changeColumns = `id, pr_id, truth_item_id, previous_version_id, proposed_summary, diff_summary, similarity, confidence`

func (t *pgTx) queryChanges(ctx context.Context, query string, args ...any) ([]PRChange, error) {
	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list changes: %w", err)
	}
	defer rows.Close()

	var out []PRChange
	for rows.Next() {
		var (
			c          PRChange
			prev       sql.NullInt64
			diff       sql.NullString
			similarity sql.NullFloat64
		)
		if err := rows.Scan(&c.ID, &c.PRID, &c.TruthItemID, &prev, &c.ProposedSummary, &diff, &similarity, &c.Confidence); err != nil {
			return nil, err
		}
		c.PreviousVersionID = ptrInt(prev)
		c.DiffSummary = diff.String
		c.Similarity = similarity.Float64
		out = append(out, c)
	}
	return out, rows.Err()
}

func (t *pgTx) ListChanges(ctx context.Context, prID int64) ([]PRChange, error) {
	return t.queryChanges(ctx, `SELECT `+changeColumns+` FROM pr_changes WHERE pr_id = $1 ORDER BY id`, prID)
}

func (t *pgTx) ListAllChanges(ctx context.Context) ([]PRChange, error) {
	return t.queryChanges(ctx, `SELECT `+changeColumns+` FROM pr_changes ORDER BY id`)
}

func (t *pgTx) DeleteConflicts(ctx context.Context, prID int64) error {
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM pr_conflicts WHERE pr_id = $1`, prID); err != nil {
		return fmt.Errorf("delete conflicts: %w", err)
	}
	return nil
}

func (t *pgTx) InsertConflict(ctx context.Context, c PRConflict) (int64, error) {
	var id int64
	err := t.tx.QueryRowContext(ctx, `
INSERT INTO pr_conflicts (pr_id, truth_item_id, conflict_type, existing_claim, new_claim, resolution_hint)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING id`, c.PRID, c.TruthItemID, c.ConflictType, c.ExistingClaim, c.NewClaim, c.ResolutionHint).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert conflict: %w", err)
	}
	return id, nil
}

func (t *pgTx) ListConflicts(ctx context.Context, prID int64) ([]PRConflict, error) {
	rows, err := t.tx.QueryContext(ctx, `
SELECT id, pr_id, truth_item_id, conflict_type, existing_claim, new_claim, resolution_hint
FROM pr_conflicts WHERE pr_id = $1 ORDER BY id`, prID)
	if err != nil {
		return nil, fmt.Errorf("list conflicts: %w", err)
	}
	defer rows.Close()

	var out []PRConflict
	for rows.Next() {
		var (
			c                  PRConflict
			existing, nc, hint sql.NullString
		)
		if err := rows.Scan(&c.ID, &c.PRID, &c.TruthItemID, &c.ConflictType, &existing, &nc, &hint); err != nil {
			return nil, err
		}
		c.ExistingClaim, c.NewClaim, c.ResolutionHint = existing.String, nc.String, hint.String
		out = append(out, c)
	}
	return out, rows.Err()
}

func (t *pgTx) DeleteStakeholders(ctx context.Context, prID int64) error {
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM pr_stakeholders WHERE pr_id = $1`, prID); err != nil {
		return fmt.Errorf("delete stakeholders: %w", err)
	}
	return nil
}

func (t *pgTx) InsertStakeholder(ctx context.Context, s Stakeholder) (int64, error) {
	var id int64
	err := t.tx.QueryRowContext(ctx, `
INSERT INTO pr_stakeholders (pr_id, person_id, score, reason, mode)
VALUES ($1, $2, $3, $4, $5)
RETURNING id`, s.PRID, s.PersonID, s.Score, s.Reason, s.Mode).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert stakeholder: %w", err)
	}
	return id, nil
}

func (t *pgTx) ListStakeholders(ctx context.Context, prID int64) ([]Stakeholder, error) {
	rows, err := t.tx.QueryContext(ctx, `
SELECT id, pr_id, person_id, score, reason, mode
FROM pr_stakeholders WHERE pr_id = $1 ORDER BY score DESC, id`, prID)
	if err != nil {
		return nil, fmt.Errorf("list stakeholders: %w", err)
	}
	defer rows.Close()

	var out []Stakeholder
	for rows.Next() {
		var s Stakeholder
		if err := rows.Scan(&s.ID, &s.PRID, &s.PersonID, &s.Score, &s.Reason, &s.Mode); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (t *pgTx) ListPeople(ctx context.Context) ([]Person, error) {
	rows, err := t.tx.QueryContext(ctx, `SELECT id, handle, display_name, email FROM people ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list people: %w", err)
	}
	defer rows.Close()

	var out []Person
	for rows.Next() {
		var (
			p           Person
			name, email sql.NullString
		)
		if err := rows.Scan(&p.ID, &p.Handle, &name, &email); err != nil {
			return nil, err
		}
		p.DisplayName, p.Email = name.String, email.String
		out = append(out, p)
	}
	return out, rows.Err()
}

func (t *pgTx) ListMessages(ctx context.Context, limit int) ([]Message, error) {
	query := `
SELECT id, platform, external_id, ts, sender_person_id, channel_id, thread_id, subject, text
FROM messages ORDER BY ts, id`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}
	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var (
			m                                   Message
			ext, channel, thread, subject, text sql.NullString
			sender                              sql.NullInt64
		)
		if err := rows.Scan(&m.ID, &m.Platform, &ext, &m.TS, &sender, &channel, &thread, &subject, &text); err != nil {
			return nil, err
		}
		m.ExternalID, m.ChannelID, m.ThreadID = ext.String, channel.String, thread.String
		m.Subject, m.Text = subject.String, text.String
		m.SenderPersonID = ptrInt(sender)
		out = append(out, m)
	}
	return out, rows.Err()
}

func (t *pgTx) MessageEdges(ctx context.Context) ([]MessageEdge, error) {
	rows, err := t.tx.QueryContext(ctx, `
SELECT m.sender_person_id, mr.recipient_person_id, COUNT(*), MAX(m.ts)
FROM messages m
JOIN message_recipients mr ON mr.message_id = m.id
WHERE m.sender_person_id IS NOT NULL
GROUP BY m.sender_person_id, mr.recipient_person_id
ORDER BY m.sender_person_id, mr.recipient_person_id`)
	if err != nil {
		return nil, fmt.Errorf("message edges: %w", err)
	}
	defer rows.Close()

	var out []MessageEdge
	for rows.Next() {
		var e MessageEdge
		if err := rows.Scan(&e.SrcPersonID, &e.DstPersonID, &e.Count, &e.LastTS); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (t *pgTx) ReplaceCommEdges(ctx context.Context, edges []CommEdge) error {
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM comm_edges`); err != nil {
		return fmt.Errorf("clear comm edges: %w", err)
	}
	for _, e := range edges {
		_, err := t.tx.ExecContext(ctx, `
INSERT INTO comm_edges (src_person_id, dst_person_id, weight, last_ts) VALUES ($1, $2, $3, $4)`,
			e.SrcPersonID, e.DstPersonID, e.Weight, e.LastTS)
		if err != nil {
			return fmt.Errorf("insert comm edge %d->%d: %w", e.SrcPersonID, e.DstPersonID, err)
		}
	}
	return nil
}

func (t *pgTx) ListCommEdges(ctx context.Context) ([]CommEdge, error) {
	rows, err := t.tx.QueryContext(ctx, `
SELECT src_person_id, dst_person_id, weight, last_ts FROM comm_edges
ORDER BY src_person_id, dst_person_id`)
	if err != nil {
		return nil, fmt.Errorf("list comm edges: %w", err)
	}
	defer rows.Close()

	var out []CommEdge
	for rows.Next() {
		var e CommEdge
		if err := rows.Scan(&e.SrcPersonID, &e.DstPersonID, &e.Weight, &e.LastTS); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (t *pgTx) ClearTurns(ctx context.Context) error {
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM turn_messages`); err != nil {
		return fmt.Errorf("clear turn messages: %w", err)
	}
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM turns`); err != nil {
		return fmt.Errorf("clear turns: %w", err)
	}
	return nil
}

func (t *pgTx) InsertTurn(ctx context.Context, turn Turn, messageIDs []int64) (int64, error) {
	var id int64
	err := t.tx.QueryRowContext(ctx, `
INSERT INTO turns (platform, channel_id, thread_id, sender_person_id, start_ts, end_ts, text)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING id`, turn.Platform, turn.ChannelID, turn.ThreadID, nullInt(turn.SenderPersonID),
		turn.StartTS, turn.EndTS, turn.Text).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert turn: %w", err)
	}
	for _, mid := range messageIDs {
		if _, err := t.tx.ExecContext(ctx,
			`INSERT INTO turn_messages (turn_id, message_id) VALUES ($1, $2)`, id, mid); err != nil {
			return 0, fmt.Errorf("link turn %d to message %d: %w", id, mid, err)
		}
	}
	return id, nil
}

var (
	_ Store = (*Postgres)(nil)
	_ Tx    = (*pgTx)(nil)
)
