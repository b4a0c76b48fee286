package models

import (
	"fmt"
	"time"
)

// Draft lifecycle states assigned by the drafts service.
const (
	StatusUnvalidated = "unvalidated"
	StatusValidated   = "validated"
)

// DraftEvent is a proposed calendar event awaiting confirmation.
// ID is empty until the service has created the record and never changes afterwards.
type DraftEvent struct {
	ID        string   `json:"_id,omitempty"` // Server-assigned identifier
	User      string   `json:"user"`          // Owning user id
	Title     string   `json:"title"`
	StartTime string   `json:"startTime"`
	EndTime   string   `json:"endTime"`
	Location  string   `json:"location"`
	Attendees []string `json:"attendees"` // Attendee user ids
	Tags      []string `json:"tags"`
	Status    string   `json:"status,omitempty"` // Set by the service, never by the client
}

// NewDraft is the input of a create call: a DraftEvent without ID and Status.
type NewDraft struct {
	User      string   `json:"user"`
	Title     string   `json:"title"`
	StartTime string   `json:"startTime"`
	EndTime   string   `json:"endTime"`
	Location  string   `json:"location"`
	Attendees []string `json:"attendees"`
	Tags      []string `json:"tags"`
}

// DraftPatch is a partial update. Nil fields are left untouched by the service.
type DraftPatch struct {
	Title     *string   `json:"title,omitempty"`
	StartTime *string   `json:"startTime,omitempty"`
	EndTime   *string   `json:"endTime,omitempty"`
	Location  *string   `json:"location,omitempty"`
	Attendees *[]string `json:"attendees,omitempty"`
	Tags      *[]string `json:"tags,omitempty"`
}

// Empty reports whether the patch carries no fields.
func (p DraftPatch) Empty() bool {
	return p.Title == nil && p.StartTime == nil && p.EndTime == nil &&
		p.Location == nil && p.Attendees == nil && p.Tags == nil
}

// IsValidated reports whether the service has confirmed the draft.
func (d DraftEvent) IsValidated() bool {
	return d.Status == StatusValidated
}

// Times parses the start and end times, which the service stores as RFC3339 text.
func (d DraftEvent) Times() (time.Time, time.Time, error) {
	start, err := time.Parse(time.RFC3339, d.StartTime)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("parse start time %q: %w", d.StartTime, err)
	}
	end, err := time.Parse(time.RFC3339, d.EndTime)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("parse end time %q: %w", d.EndTime, err)
	}
	return start, end, nil
}
