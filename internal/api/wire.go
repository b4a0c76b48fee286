package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"draftcal/internal/models"
)

// ErrMalformedEnvelope is returned when a response body cannot be read as an envelope
// or lacks the payload the operation requires.
var ErrMalformedEnvelope = errors.New("malformed response envelope")

const defaultFailureMessage = "request was not successful"

// envelope is the raw response shape. Endpoints disagree on which payload
// field they use, so all known ones are captured.
type envelope struct {
	Success *bool           `json:"success,omitempty"`
	Error   string          `json:"error,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	Draft   json.RawMessage `json:"draft,omitempty"`
	Drafts  json.RawMessage `json:"drafts,omitempty"`
}

// failure returns the failure message and true if the envelope reports an error.
func (e envelope) failure() (string, bool) {
	if e.Error != "" {
		return e.Error, true
	}
	if e.Success != nil && !*e.Success {
		return defaultFailureMessage, true
	}
	return "", false
}

// recordPayload is the single-record payload: `draft`, falling back to `data`.
func (e envelope) recordPayload() json.RawMessage {
	if present(e.Draft) {
		return e.Draft
	}
	return e.Data
}

// listPayload is the user list payload: `drafts`, falling back to `data`.
func (e envelope) listPayload() json.RawMessage {
	if present(e.Drafts) {
		return e.Drafts
	}
	return e.Data
}

func present(raw json.RawMessage) bool {
	return len(raw) > 0 && !bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// wireDraft is a draft as the service sends it. Some endpoints name the
// identifier `id`, others `_id`.
type wireDraft struct {
	UnderscoreID string   `json:"_id"`
	ID           string   `json:"id"`
	User         string   `json:"user"`
	Title        string   `json:"title"`
	StartTime    string   `json:"startTime"`
	EndTime      string   `json:"endTime"`
	Location     string   `json:"location"`
	Attendees    []string `json:"attendees"`
	Tags         []string `json:"tags"`
	Status       string   `json:"status"`
}

// toDraft is the only place wire records become models.DraftEvent.
// `_id` wins over `id`; a record with neither is rejected.
func toDraft(w wireDraft) (models.DraftEvent, error) {
	id := w.UnderscoreID
	if id == "" {
		id = w.ID
	}
	if id == "" {
		return models.DraftEvent{}, fmt.Errorf("%w: draft without identifier", ErrMalformedEnvelope)
	}

	d := models.DraftEvent{
		ID:        id,
		User:      w.User,
		Title:     w.Title,
		StartTime: w.StartTime,
		EndTime:   w.EndTime,
		Location:  w.Location,
		Attendees: w.Attendees,
		Tags:      w.Tags,
		Status:    w.Status,
	}
	if d.Attendees == nil {
		d.Attendees = []string{}
	}
	if d.Tags == nil {
		d.Tags = []string{}
	}
	return d, nil
}

// UserDrafts is the payload of GetUserDrafts. Depending on the deployment the
// service lists identifiers only (IDs) or full records (Drafts).
type UserDrafts struct {
	IDs    []string
	Drafts []models.DraftEvent
}

// Identifiers reports whether the listing carries identifiers rather than records.
func (u UserDrafts) Identifiers() bool {
	return u.Drafts == nil
}

func decodeEnvelope(body []byte) (envelope, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return envelope{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	return env, nil
}

// decodeRecord reads a single-record reply. When required is false a success
// envelope without a record is an acknowledgement rather than an error.
func decodeRecord(env envelope, status int, required bool) (Result[models.DraftEvent], error) {
	if msg, failed := env.failure(); failed {
		return FailureWithStatus[models.DraftEvent](msg, status), nil
	}
	raw := env.recordPayload()
	if !present(raw) {
		if !required {
			return Acknowledged[models.DraftEvent](), nil
		}
		return Result[models.DraftEvent]{}, fmt.Errorf("%w: missing draft payload", ErrMalformedEnvelope)
	}
	var w wireDraft
	if err := json.Unmarshal(raw, &w); err != nil {
		return Result[models.DraftEvent]{}, fmt.Errorf("%w: draft payload: %v", ErrMalformedEnvelope, err)
	}
	d, err := toDraft(w)
	if err != nil {
		return Result[models.DraftEvent]{}, err
	}
	return Success(d), nil
}

// decodeList reads a user listing. Records without an identifier are left
// out; their count is returned so the caller can report them.
func decodeList(env envelope, status int) (Result[UserDrafts], int, error) {
	if msg, failed := env.failure(); failed {
		return FailureWithStatus[UserDrafts](msg, status), 0, nil
	}
	raw := env.listPayload()
	if !present(raw) {
		return Success(UserDrafts{IDs: []string{}}), 0, nil
	}

	var ids []string
	if err := json.Unmarshal(raw, &ids); err == nil {
		return Success(UserDrafts{IDs: ids}), 0, nil
	}

	var records []wireDraft
	if err := json.Unmarshal(raw, &records); err != nil {
		return Result[UserDrafts]{}, 0, fmt.Errorf("%w: drafts payload: %v", ErrMalformedEnvelope, err)
	}
	drafts := make([]models.DraftEvent, 0, len(records))
	skipped := 0
	for _, w := range records {
		d, err := toDraft(w)
		if err != nil {
			skipped++
			continue
		}
		drafts = append(drafts, d)
	}
	return Success(UserDrafts{Drafts: drafts}), skipped, nil
}

func decodeEmpty(env envelope, status int) Result[struct{}] {
	if msg, failed := env.failure(); failed {
		return FailureWithStatus[struct{}](msg, status)
	}
	return Success(struct{}{})
}
