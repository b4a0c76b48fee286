// Package ics renders drafts as iCalendar data.
package ics

import (
	"fmt"
	"io"
	"strings"
	"time"

	"draftcal/internal/models"

	"github.com/emersion/go-ical"
)

const productID = "-//draftcal//EN"

// Skipped records a draft that could not be rendered.
type Skipped struct {
	ID  string
	Err error
}

// NewCalendar returns an empty VCALENDAR with the product headers set.
func NewCalendar() *ical.Calendar {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, productID)
	return cal
}

// Event converts a draft into a VEVENT. The draft id is the UID.
func Event(d models.DraftEvent, stamp time.Time) (*ical.Component, error) {
	start, end, err := d.Times()
	if err != nil {
		return nil, err
	}

	ve := ical.NewComponent(ical.CompEvent)
	ve.Props.SetText(ical.PropUID, d.ID)
	ve.Props.SetText(ical.PropSummary, d.Title)
	ve.Props.SetDateTime(ical.PropDateTimeStamp, stamp.UTC())
	ve.Props.SetDateTime(ical.PropDateTimeStart, start)
	ve.Props.SetDateTime(ical.PropDateTimeEnd, end)

	status := "TENTATIVE"
	if d.IsValidated() {
		status = "CONFIRMED"
	}
	ve.Props.SetText(ical.PropStatus, status)

	if d.Location != "" {
		ve.Props.SetText(ical.PropLocation, d.Location)
	}
	if len(d.Tags) > 0 {
		// CATEGORIES is a list; SetText would escape the separators.
		p := ical.NewProp(ical.PropCategories)
		p.Value = strings.Join(d.Tags, ",")
		ve.Props.Set(p)
	}
	for _, attendee := range d.Attendees {
		p := ical.NewProp(ical.PropAttendee)
		p.SetText(attendee)
		ve.Props.Add(p)
	}
	return ve, nil
}

// Calendar builds one VCALENDAR from drafts. Drafts whose times do not parse
// are left out and returned as skipped.
func Calendar(drafts []models.DraftEvent, stamp time.Time) (*ical.Calendar, []Skipped) {
	cal := NewCalendar()
	var skipped []Skipped
	for _, d := range drafts {
		ve, err := Event(d, stamp)
		if err != nil {
			skipped = append(skipped, Skipped{ID: d.ID, Err: err})
			continue
		}
		cal.Children = append(cal.Children, ve)
	}
	return cal, skipped
}

// Encode writes cal to w.
func Encode(w io.Writer, cal *ical.Calendar) error {
	if err := ical.NewEncoder(w).Encode(cal); err != nil {
		return fmt.Errorf("failed to encode calendar: %w", err)
	}
	return nil
}
