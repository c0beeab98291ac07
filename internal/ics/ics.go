package ics

import (
	"fmt"
	"io"
	"time"

	"eventsync/internal/models"

	"github.com/emersion/go-ical"
)

const productID = "-//eventsync//EN"

// NewCalendar returns an empty VCALENDAR with the mandatory properties set.
func NewCalendar() *ical.Calendar {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, productID)
	return cal
}

// Encode writes events as a single VCALENDAR.
func Encode(w io.Writer, events []models.Event, now time.Time) error {
	cal := NewCalendar()
	cal.Props.SetText("X-WR-CALNAME", "Events")
	for i := range events {
		cal.Children = append(cal.Children, ToVEvent(&events[i], now))
	}
	if len(cal.Children) == 0 {
		// go-ical refuses calendars without components.
		cal.Children = append(cal.Children, placeholderTimezone())
	}
	if err := ical.NewEncoder(w).Encode(cal); err != nil {
		return fmt.Errorf("failed to encode calendar: %w", err)
	}
	return nil
}

// EncodeEvent writes one event as its own VCALENDAR, the payload format of
// a CalDAV object resource.
func EncodeEvent(w io.Writer, e *models.Event, now time.Time) error {
	cal := NewCalendar()
	cal.Children = append(cal.Children, ToVEvent(e, now))
	if err := ical.NewEncoder(w).Encode(cal); err != nil {
		return fmt.Errorf("failed to encode event %s: %w", e.ID, err)
	}
	return nil
}

// ToVEvent converts an event into a VEVENT component.
func ToVEvent(e *models.Event, now time.Time) *ical.Component {
	ve := ical.NewComponent(ical.CompEvent)
	ve.Props.SetText(ical.PropUID, e.ID)
	ve.Props.SetText(ical.PropSummary, e.Title)
	ve.Props.SetDateTime(ical.PropDateTimeStamp, now.UTC())
	ve.Props.SetDateTime(ical.PropDateTimeStart, e.StartDate.UTC())
	ve.Props.SetDateTime(ical.PropDateTimeEnd, e.End().UTC())
	ve.Props.SetText(ical.PropStatus, icalStatus(e.Status))

	if e.Description != "" {
		ve.Props.SetText(ical.PropDescription, e.Description)
	}
	if loc := e.Location(); loc != "" {
		ve.Props.SetText(ical.PropLocation, loc)
	}
	if e.GoogleCalendarLink != "" {
		ve.Props.SetText(ical.PropURL, e.GoogleCalendarLink)
	}
	if e.OrganizerEmail != "" {
		p := ical.NewProp(ical.PropOrganizer)
		p.SetValueType(ical.ValueCalendarAddress)
		p.Value = "mailto:" + e.OrganizerEmail
		if e.OrganizerName != "" {
			p.Params.Set(ical.ParamCommonName, e.OrganizerName)
		}
		ve.Props.Add(p)
	}
	if !e.UpdatedAt.IsZero() {
		ve.Props.SetDateTime(ical.PropLastModified, e.UpdatedAt.UTC())
	}
	return ve
}

func icalStatus(s models.Status) string {
	switch s {
	case models.StatusPublished:
		return "CONFIRMED"
	case models.StatusCancelled:
		return "CANCELLED"
	default:
		return "TENTATIVE"
	}
}

func placeholderTimezone() *ical.Component {
	tz := ical.NewComponent(ical.CompTimezone)
	tz.Props.SetText(ical.PropTimezoneID, "UTC")
	std := ical.NewComponent(ical.CompTimezoneStandard)
	std.Props.SetDateTime(ical.PropDateTimeStart, time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC))
	std.Props.SetText(ical.PropTimezoneOffsetFrom, "+0000")
	std.Props.SetText(ical.PropTimezoneOffsetTo, "+0000")
	tz.Children = append(tz.Children, std)
	return tz
}
