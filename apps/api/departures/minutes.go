package departures

import (
	"math"
	"strconv"
	"strings"
	"time"
)

const (
	minutesPerDay  = 24 * 60
	halfDayMinutes = 12 * 60

	serviceDateLayout = "2006-01-02"
)

// minutesUntil returns how many whole minutes after now the departure leaves.
//
// Absolute timestamps are used when present. A clock string with a service
// date is placed on that date in loc, so hours past 24 land on the next day.
// Without a service date the clock string is compared with the wall clock in
// loc: hours past 24 fold back to the same day, and a departure more than
// half a day behind is taken to be tomorrow's.
func minutesUntil(d RawDeparture, now time.Time, loc *time.Location) (float64, bool) {
	if !d.At.IsZero() {
		return math.Floor(d.At.Sub(now).Minutes()), true
	}

	clock := d.DepartureTime
	if clock == "" {
		clock = d.ArrivalTime
	}
	depMinutes, ok := parseClock(clock)
	if !ok {
		return 0, false
	}

	local := now.In(loc)
	if day, err := time.ParseInLocation(serviceDateLayout, d.ServiceDate, loc); err == nil {
		dep := day.Add(time.Duration(depMinutes) * time.Minute)
		nowMinute := time.Date(local.Year(), local.Month(), local.Day(), local.Hour(), local.Minute(), 0, 0, loc)
		return math.Floor(dep.Sub(nowMinute).Minutes()), true
	}

	if depMinutes >= minutesPerDay {
		depMinutes -= minutesPerDay
	}
	nowMinutes := local.Hour()*60 + local.Minute()

	diff := depMinutes - nowMinutes
	if diff < -halfDayMinutes {
		diff += minutesPerDay
	}
	return float64(diff), true
}

// parseClock parses HH:MM or HH:MM:SS into minutes after midnight, seconds dropped
func parseClock(s string) (int, bool) {
	parts := strings.Split(s, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, false
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h >= 48 {
		return 0, false
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, false
	}
	if len(parts) == 3 {
		if sec, err := strconv.Atoi(parts[2]); err != nil || sec < 0 || sec > 59 {
			return 0, false
		}
	}
	return h*60 + m, true
}

// toDepartures converts upstream records relative to now and sorts them
// ascending. Records without a usable time are dropped.
func toDepartures(raw []RawDeparture, now time.Time, loc *time.Location) []Departure {
	out := make([]Departure, 0, len(raw))
	for _, r := range raw {
		minutes, ok := minutesUntil(r, now, loc)
		if !ok {
			continue
		}
		out = append(out, Departure{
			DepartureTime:        r.DepartureTime,
			ArrivalTime:          r.ArrivalTime,
			ServiceDate:          r.ServiceDate,
			TripID:               r.TripID,
			Headsign:             r.Headsign,
			Route:                r.Route.WithDefaults(),
			RouteID:              r.RouteID,
			RouteLongName:        r.RouteLongName,
			StopSequence:         r.StopSequence,
			MinutesFromNow:       minutes,
			Realtime:             r.Realtime,
			ScheduleRelationship: r.ScheduleRelationship,
		})
	}
	sortAscending(out)
	return out
}
