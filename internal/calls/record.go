package calls

import (
	"encoding/json"

	"ai-hotline/internal/identity"
	"ai-hotline/internal/store"
)

// ToRecord converts a call to its database row.
func ToRecord(c *Call) store.Call {
	rec := store.Call{
		ID:                   c.ID,
		TenantID:             c.TenantID,
		CallerNumber:         c.CallerNumber.String(),
		Direction:            string(c.Direction),
		Priority:             string(c.Priority),
		Status:               string(c.Status),
		Language:             c.Language,
		StartedAt:            c.StartedAt,
		EndedAt:              c.EndedAt,
		AudioFiles:           store.StringArray(c.AudioFiles),
		Transcript:           toJSONList(c.Transcript),
		LLMResponses:         toJSONList(c.LLMResponses),
		ContextData:          store.JSONB(c.ContextData),
		TriggeredAutomations: store.StringArray(c.TriggeredAutomations),
		SatisfactionScore:    c.SatisfactionScore,
		Resolved:             c.Resolved,
		ErrorMessages:        store.StringArray(c.ErrorMessages),
		CreatedAt:            c.CreatedAt,
		UpdatedAt:            c.UpdatedAt,
	}
	if c.SessionID != "" {
		rec.SessionID = &c.SessionID
	}
	if c.EndedAt != nil {
		d := c.DurationSeconds
		rec.DurationSeconds = &d
	}
	if c.ResolutionNotes != "" {
		rec.ResolutionNotes = &c.ResolutionNotes
	}
	if c.EndReason != "" {
		rec.EndReason = &c.EndReason
	}
	return rec
}

// FromRecord rebuilds a call from its database row.
func FromRecord(r store.Call) *Call {
	c := &Call{
		ID:                   r.ID,
		TenantID:             r.TenantID,
		CallerNumber:         identity.PhoneNumber(r.CallerNumber),
		Direction:            Direction(r.Direction),
		Priority:             Priority(r.Priority),
		Status:               Status(r.Status),
		Language:             r.Language,
		StartedAt:            r.StartedAt,
		EndedAt:              r.EndedAt,
		AudioFiles:           nonNil([]string(r.AudioFiles)),
		ContextData:          map[string]interface{}(r.ContextData),
		TriggeredAutomations: nonNil([]string(r.TriggeredAutomations)),
		SatisfactionScore:    r.SatisfactionScore,
		Resolved:             r.Resolved,
		ErrorMessages:        nonNil([]string(r.ErrorMessages)),
		CreatedAt:            r.CreatedAt,
		UpdatedAt:            r.UpdatedAt,
	}
	if c.ContextData == nil {
		c.ContextData = map[string]interface{}{}
	}
	if r.SessionID != nil {
		c.SessionID = *r.SessionID
	}
	if r.DurationSeconds != nil {
		c.DurationSeconds = *r.DurationSeconds
	}
	if r.ResolutionNotes != nil {
		c.ResolutionNotes = *r.ResolutionNotes
	}
	if r.EndReason != nil {
		c.EndReason = *r.EndReason
	}
	c.Transcript = []TranscriptSegment{}
	fromJSONList(r.Transcript, &c.Transcript)
	c.LLMResponses = []LLMResponse{}
	fromJSONList(r.LLMResponses, &c.LLMResponses)
	return c
}

func toJSONList(v interface{}) store.JSONList {
	data, err := json.Marshal(v)
	if err != nil {
		return store.JSONList{}
	}
	var out store.JSONList
	if err := json.Unmarshal(data, &out); err != nil || out == nil {
		return store.JSONList{}
	}
	return out
}

func fromJSONList(list store.JSONList, dst interface{}) {
	if len(list) == 0 {
		return
	}
	data, err := json.Marshal(list)
	if err != nil {
		return
	}
	_ = json.Unmarshal(data, dst)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
