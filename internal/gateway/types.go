package gateway

import (
	"encoding/json"
	"sort"
)

// Extraction is the structured result of one extraction call.
type Extraction struct {
	Participants []string     `json:"participants"`
	Topics       []string     `json:"topics"`
	Decisions    []Decision   `json:"decisions"`
	ActionItems  []ActionItem `json:"action_items"`
	Claims       []Claim      `json:"claims"`
}

// Decision is something the participants agreed on.
type Decision struct {
	Title   string   `json:"title"`
	Details string   `json:"details"`
	Owners  []string `json:"owners,omitempty"`
	Due     *string  `json:"due,omitempty"`
}

// ActionItem is a task assigned in the turn.
type ActionItem struct {
	Task    string  `json:"task"`
	Owner   *string `json:"owner,omitempty"`
	DueDate *string `json:"due_date,omitempty"`
}

// Claim is an asserted fact with the model's confidence in [0,1].
type Claim struct {
	Statement  string  `json:"statement"`
	Type       string  `json:"type"`
	Confidence float64 `json:"confidence"`
}

// ConflictCheck is the verdict of comparing two summaries.
type ConflictCheck struct {
	Conflict       bool    `json:"conflict"`
	ConflictType   string  `json:"conflict_type"`
	ExistingSpan   *string `json:"existing_span,omitempty"`
	NewSpan        *string `json:"new_span,omitempty"`
	ResolutionHint *string `json:"resolution_hint,omitempty"`
}

// The wire forms use pointers so that absent required members can be told
// apart from zero values.
type wireExtraction struct {
	Participants *[]string         `json:"participants"`
	Topics       *[]string         `json:"topics"`
	Decisions    *[]wireDecision   `json:"decisions"`
	ActionItems  *[]wireActionItem `json:"action_items"`
	Claims       *[]wireClaim      `json:"claims"`
}

type wireDecision struct {
	Title   *string  `json:"title"`
	Details *string  `json:"details"`
	Owners  []string `json:"owners"`
	Due     *string  `json:"due"`
}

type wireActionItem struct {
	Task    *string `json:"task"`
	Owner   *string `json:"owner"`
	DueDate *string `json:"due_date"`
}

type wireClaim struct {
	Statement  *string  `json:"statement"`
	Type       *string  `json:"type"`
	Confidence *float64 `json:"confidence"`
}

type wireConflictCheck struct {
	Conflict       *bool   `json:"conflict"`
	ConflictType   *string `json:"conflict_type"`
	ExistingSpan   *string `json:"existing_span"`
	NewSpan        *string `json:"new_span"`
	ResolutionHint *string `json:"resolution_hint"`
}

// ParseExtraction decodes and validates an extraction payload. Every list
// must be present, decisions need a title and details, and claims need a
// statement, a type and a confidence in [0,1].
func ParseExtraction(data []byte) (Extraction, error) {
	var w wireExtraction
	if err := json.Unmarshal(data, &w); err != nil {
		return Extraction{}, schemaMismatch("extraction: %v", err)
	}
	if w.Participants == nil || w.Topics == nil || w.Decisions == nil || w.ActionItems == nil || w.Claims == nil {
		return Extraction{}, schemaMismatch("extraction: missing required list")
	}

	out := Extraction{
		Participants: *w.Participants,
		Topics:       *w.Topics,
		Decisions:    make([]Decision, 0, len(*w.Decisions)),
		ActionItems:  make([]ActionItem, 0, len(*w.ActionItems)),
		Claims:       make([]Claim, 0, len(*w.Claims)),
	}
	for i, d := range *w.Decisions {
		if d.Title == nil || d.Details == nil {
			return Extraction{}, schemaMismatch("decisions[%d]: title and details are required", i)
		}
		out.Decisions = append(out.Decisions, Decision{Title: *d.Title, Details: *d.Details, Owners: d.Owners, Due: d.Due})
	}
	for i, a := range *w.ActionItems {
		if a.Task == nil {
			return Extraction{}, schemaMismatch("action_items[%d]: task is required", i)
		}
		out.ActionItems = append(out.ActionItems, ActionItem{Task: *a.Task, Owner: a.Owner, DueDate: a.DueDate})
	}
	for i, c := range *w.Claims {
		if c.Statement == nil || c.Type == nil || c.Confidence == nil {
			return Extraction{}, schemaMismatch("claims[%d]: statement, type and confidence are required", i)
		}
		if *c.Confidence < 0 || *c.Confidence > 1 {
			return Extraction{}, schemaMismatch("claims[%d]: confidence %v outside [0,1]", i, *c.Confidence)
		}
		out.Claims = append(out.Claims, Claim{Statement: *c.Statement, Type: *c.Type, Confidence: *c.Confidence})
	}
	return out, nil
}

// ParseConflictCheck decodes and validates a conflict verdict.
func ParseConflictCheck(data []byte) (ConflictCheck, error) {
	var w wireConflictCheck
	if err := json.Unmarshal(data, &w); err != nil {
		return ConflictCheck{}, schemaMismatch("conflict check: %v", err)
	}
	if w.Conflict == nil || w.ConflictType == nil {
		return ConflictCheck{}, schemaMismatch("conflict check: conflict and conflict_type are required")
	}
	return ConflictCheck{
		Conflict:       *w.Conflict,
		ConflictType:   *w.ConflictType,
		ExistingSpan:   w.ExistingSpan,
		NewSpan:        w.NewSpan,
		ResolutionHint: w.ResolutionHint,
	}, nil
}

func nullable(t string) map[string]interface{} {
	return map[string]interface{}{"type": []string{t, "null"}}
}

func str() map[string]interface{} {
	return map[string]interface{}{"type": "string"}
}

func object(props map[string]interface{}) map[string]interface{} {
	required := make([]string, 0, len(props))
	for k := range props {
		required = append(required, k)
	}
	sort.Strings(required)
	return map[string]interface{}{
		"type":                 "object",
		"properties":           props,
		"required":             required,
		"additionalProperties": false,
	}
}

func array(items map[string]interface{}) map[string]interface{} {
	return map[string]interface{}{"type": "array", "items": items}
}

// Strict structured-output mode requires every property to be listed as
// required; optional members are expressed as nullable.
var (
	extractionSchema = object(map[string]interface{}{
		"participants": array(str()),
		"topics":       array(str()),
		"decisions": array(object(map[string]interface{}{
			"title":   str(),
			"details": str(),
			"owners":  map[string]interface{}{"type": []string{"array", "null"}, "items": str()},
			"due":     nullable("string"),
		})),
		"action_items": array(object(map[string]interface{}{
			"task":     str(),
			"owner":    nullable("string"),
			"due_date": nullable("string"),
		})),
		"claims": array(object(map[string]interface{}{
			"statement":  str(),
			"type":       str(),
			"confidence": map[string]interface{}{"type": "number"},
		})),
	})

	conflictSchema = object(map[string]interface{}{
		"conflict":        map[string]interface{}{"type": "boolean"},
		"conflict_type":   str(),
		"existing_span":   nullable("string"),
		"new_span":        nullable("string"),
		"resolution_hint": nullable("string"),
	})
)
