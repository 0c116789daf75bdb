// Package calendar turns the merged schedule payload into one ICS
// calendar per lesson type.
package calendar

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	ics "github.com/arran4/golang-ical"

	"schedcal/internal/config"
	appLog "schedcal/internal/log"
	"schedcal/internal/schedule"
)

// typeColors maps the portal's work_type_id to the calendar color.
// Unknown ids get no color.
var typeColors = map[int]string{
	1:  "#0091ff",
	2:  "#a50aff",
	3:  "#f7b500",
	4:  "#ee215b",
	5:  "#ee215b",
	6:  "#ee215b",
	7:  "#ee215b",
	8:  "#ee215b",
	9:  "#ee215b",
	10: "#1846c7",
	11: "#22b217",
	12: "#22b217",
}

// Generator builds calendar streams from a schedule payload. One
// Generator owns its streams for a single generation pass; downstream
// consumers get them read-only.
type Generator struct {
	loc       *time.Location
	prefix    string
	uidDomain string
	outDir    string

	calendars map[string]*ics.Calendar
	now       func() time.Time
}

// NewGenerator builds a Generator anchored in the configured timezone.
func NewGenerator(cfg *config.Config) (*Generator, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("calendar: load timezone %q: %w", cfg.Timezone, err)
	}
	return &Generator{
		loc:       loc,
		prefix:    cfg.CalendarPrefix,
		uidDomain: cfg.UIDDomain,
		outDir:    cfg.CalendarDir,
		calendars: make(map[string]*ics.Calendar),
		now:       time.Now,
	}, nil
}

// Generate walks every (date, lesson) pair, dates ascending and lessons
// in payload order, and returns the resulting calendars keyed by name.
// Lessons whose date does not parse are skipped with a log line.
func (g *Generator) Generate(payload schedule.Payload) map[string]*ics.Calendar {
	appLog.Info("calendar generator started", "dates", len(payload))

	for _, date := range payload.Dates() {
		for _, lesson := range payload[date] {
			if err := g.addEvent(date, lesson); err != nil {
				appLog.Error("skipping lesson", err, "date", date, "pair_id", lesson.PairID)
			}
		}
	}

	appLog.Info("calendar generator finished", "calendars", len(g.calendars))
	return g.calendars
}

func (g *Generator) addEvent(date string, lesson schedule.Lesson) error {
	day, err := time.ParseInLocation("2006-01-02", date, g.loc)
	if err != nil {
		return fmt.Errorf("calendar: bad date %q: %w", date, err)
	}

	start, end, err := g.interval(day, lesson)
	if err != nil {
		return err
	}

	name := g.prefix + " " + lesson.WorkType
	cal, ok := g.calendars[name]
	if !ok {
		cal = g.newCalendar(name, lesson.WorkTypeID)
		g.calendars[name] = cal
	}

	ev := cal.AddEvent(fmt.Sprintf("%d@%s", lesson.PairID, g.uidDomain))
	ev.SetDtStampTime(g.now())
	ev.SetSummary(lesson.Subject + " - " + lesson.WorkType)
	ev.SetDescription(describe(lesson))
	ev.SetStartAt(start)
	ev.SetEndAt(end)

	// Physical location wins; a zoom link then rides along as the URL
	// property. Online-only lessons carry the link as the location.
	var locationParts []string
	if lesson.Building != "" || lesson.Room != "" {
		if lesson.Building != "" {
			locationParts = append(locationParts, lesson.Building)
		}
		if lesson.Room != "" {
			locationParts = append(locationParts, "ауд. "+lesson.Room)
		}
		if lesson.ZoomURL != "" {
			ev.SetURL(lesson.ZoomURL)
		}
	} else if lesson.ZoomURL != "" {
		locationParts = append(locationParts, lesson.ZoomURL)
	}
	if len(locationParts) > 0 {
		ev.SetLocation(strings.Join(locationParts, ", "))
	}

	return nil
}

// interval computes the event's timezone-anchored span: the given HH:MM
// pair, or the whole local day ending one second before midnight so the
// event never bleeds into the next day.
func (g *Generator) interval(day time.Time, lesson schedule.Lesson) (time.Time, time.Time, error) {
	if !lesson.Timed() {
		start := day
		end := day.AddDate(0, 0, 1).Add(-time.Second)
		return start, end, nil
	}

	startClock, err := time.Parse("15:04", lesson.TimeStart)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("calendar: bad time_start %q: %w", lesson.TimeStart, err)
	}
	endClock, err := time.Parse("15:04", lesson.TimeEnd)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("calendar: bad time_end %q: %w", lesson.TimeEnd, err)
	}

	start := time.Date(day.Year(), day.Month(), day.Day(), startClock.Hour(), startClock.Minute(), 0, 0, g.loc)
	end := time.Date(day.Year(), day.Month(), day.Day(), endClock.Hour(), endClock.Minute(), 0, 0, g.loc)
	return start, end, nil
}

func (g *Generator) newCalendar(name string, workTypeID int) *ics.Calendar {
	cal := ics.NewCalendar()
	cal.SetMethod(ics.MethodPublish)
	cal.SetProductId("-//schedcal//Schedule//")
	cal.SetVersion("2.0")
	cal.SetName(name)
	cal.SetXWRCalName(name)
	cal.SetXWRTimezone(g.loc.String())
	if color, ok := typeColors[workTypeID]; ok {
		cal.SetColor(color)
	}
	return cal
}

// describe assembles the event description from the present optional
// fields, one per line, in fixed order.
func describe(lesson schedule.Lesson) string {
	var parts []string

	if lesson.TeacherName != "" {
		if lesson.TeacherID != nil {
			parts = append(parts, fmt.Sprintf("Преподаватель: %d %s", *lesson.TeacherID, lesson.TeacherName))
		} else {
			parts = append(parts, "Преподаватель: "+lesson.TeacherName)
		}
	}
	if lesson.Group != "" {
		parts = append(parts, "Группа: "+lesson.Group)
	}
	if lesson.Format != "" {
		parts = append(parts, "Формат: "+lesson.Format)
	}
	if lesson.ZoomPassword != "" {
		parts = append(parts, "Zoom Пароль: "+lesson.ZoomPassword)
	}
	if lesson.ZoomInfo != "" {
		parts = append(parts, "Zoom Информация: "+lesson.ZoomInfo)
	}
	if lesson.Note != "" {
		parts = append(parts, "Примечание: "+lesson.Note)
	}

	return strings.Join(parts, "\n")
}

// Save serializes every generated calendar into the output directory as
// "<name>.ics" and returns the calendar-name to file-path mapping.
func (g *Generator) Save() (map[string]string, error) {
	if err := os.MkdirAll(g.outDir, 0o755); err != nil {
		return nil, fmt.Errorf("calendar: create output dir: %w", err)
	}

	names := make([]string, 0, len(g.calendars))
	for name := range g.calendars {
		names = append(names, name)
	}
	sort.Strings(names)

	paths := make(map[string]string, len(names))
	for _, name := range names {
		path := filepath.Join(g.outDir, name+".ics")
		if err := os.WriteFile(path, []byte(g.calendars[name].Serialize()), 0o644); err != nil {
			return nil, fmt.Errorf("calendar: write %s: %w", path, err)
		}
		paths[name] = path
		appLog.Info("calendar written", "name", name, "path", path)
	}
	return paths, nil
}
