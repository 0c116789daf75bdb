package calendar

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	ics "github.com/arran4/golang-ical"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schedcal/internal/config"
	"schedcal/internal/schedule"
)

func testGenerator(t *testing.T) *Generator {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.CalendarDir = t.TempDir()

	g, err := NewGenerator(cfg)
	require.NoError(t, err)
	return g
}

func i64(v int64) *int64 { return &v }

func lecture(pairID int64, timeStart, timeEnd string) schedule.Lesson {
	return schedule.Lesson{
		Subject:    "Математический анализ",
		WorkType:   "Лекции",
		WorkTypeID: 1,
		PairID:     pairID,
		TimeStart:  timeStart,
		TimeEnd:    timeEnd,
	}
}

func eventUIDs(cal *ics.Calendar) []string {
	var uids []string
	for _, ev := range cal.Events() {
		if p := ev.GetProperty(ics.ComponentPropertyUniqueId); p != nil {
			uids = append(uids, p.Value)
		}
	}
	return uids
}

func TestGenerateGroupsByWorkType(t *testing.T) {
	payload := schedule.Payload{
		"2024-03-10": {lecture(100, "10:00", "11:30")},
		"2024-03-12": {
			lecture(101, "10:00", "11:30"),
			{Subject: "Физика", WorkType: "Практические занятия", WorkTypeID: 3, PairID: 102},
		},
	}

	calendars := testGenerator(t).Generate(payload)

	require.Len(t, calendars, 2)
	require.Contains(t, calendars, "ITMO Лекции")
	require.Contains(t, calendars, "ITMO Практические занятия")

	lectures := calendars["ITMO Лекции"]
	assert.Len(t, lectures.Events(), 2, "both lectures share one stream")
	assert.ElementsMatch(t, []string{"100@my.itmo.ru", "101@my.itmo.ru"}, eventUIDs(lectures))
}

func TestGenerateUIDStableAcrossRuns(t *testing.T) {
	payload := schedule.Payload{
		"2024-03-10": {lecture(7241, "10:00", "11:30")},
	}

	first := testGenerator(t).Generate(payload)
	second := testGenerator(t).Generate(payload)

	assert.Equal(t,
		eventUIDs(first["ITMO Лекции"]),
		eventUIDs(second["ITMO Лекции"]),
		"the same pair_id must always yield the same uid",
	)
}

func TestGenerateTimedInterval(t *testing.T) {
	g := testGenerator(t)
	calendars := g.Generate(schedule.Payload{
		"2024-03-10": {lecture(1, "10:00", "11:30")},
	})

	events := calendars["ITMO Лекции"].Events()
	require.Len(t, events, 1)

	start, err := events[0].GetStartAt()
	require.NoError(t, err)
	end, err := events[0].GetEndAt()
	require.NoError(t, err)

	assert.True(t, start.Equal(time.Date(2024, 3, 10, 10, 0, 0, 0, g.loc)))
	assert.True(t, end.Equal(time.Date(2024, 3, 10, 11, 30, 0, 0, g.loc)))
}

func TestGenerateAllDayInterval(t *testing.T) {
	g := testGenerator(t)
	calendars := g.Generate(schedule.Payload{
		"2024-03-10": {{Subject: "Сессия", WorkType: "Экзамены", WorkTypeID: 4, PairID: 9}},
	})

	events := calendars["ITMO Экзамены"].Events()
	require.Len(t, events, 1)

	start, err := events[0].GetStartAt()
	require.NoError(t, err)
	end, err := events[0].GetEndAt()
	require.NoError(t, err)

	// Midnight to one second before the next midnight, in the
	// institution's zone.
	assert.True(t, start.Equal(time.Date(2024, 3, 10, 0, 0, 0, 0, g.loc)))
	assert.True(t, end.Equal(time.Date(2024, 3, 10, 23, 59, 59, 0, g.loc)))
}

func TestGenerateSummaryAndDescription(t *testing.T) {
	lesson := schedule.Lesson{
		Subject:     "Физика",
		WorkType:    "Лекции",
		WorkTypeID:  1,
		PairID:      5,
		TimeStart:   "10:00",
		TimeEnd:     "11:30",
		TeacherName: "Иванов И.И.",
		TeacherID:   i64(482),
		Group:       "M3100",
	}

	calendars := testGenerator(t).Generate(schedule.Payload{"2024-03-10": {lesson}})
	events := calendars["ITMO Лекции"].Events()
	require.Len(t, events, 1)

	summary := events[0].GetProperty(ics.ComponentPropertySummary)
	require.NotNil(t, summary)
	assert.Equal(t, "Физика - Лекции", summary.Value)

	desc := events[0].GetProperty(ics.ComponentPropertyDescription)
	require.NotNil(t, desc)
	assert.Contains(t, desc.Value, "Преподаватель: 482 Иванов И.И.")
	assert.Contains(t, desc.Value, "Группа: M3100")
	// Absent optional fields do not appear at all.
	assert.NotContains(t, desc.Value, "Формат")
	assert.NotContains(t, desc.Value, "Zoom")
	assert.NotContains(t, desc.Value, "Примечание")
}

func TestGenerateLocationVariants(t *testing.T) {
	tests := []struct {
		name         string
		lesson       schedule.Lesson
		wantLocation []string
		wantURL      string
	}{
		{
			name: "physical location with zoom link",
			lesson: schedule.Lesson{
				Subject: "Физика", WorkType: "Лекции", WorkTypeID: 1, PairID: 1,
				Building: "Кронверкский пр., 49", Room: "1404",
				ZoomURL: "https://itmo.zoom.us/j/123",
			},
			wantLocation: []string{"Кронверкский пр.", "ауд. 1404"},
			wantURL:      "https://itmo.zoom.us/j/123",
		},
		{
			name: "online only lesson uses zoom url as location",
			lesson: schedule.Lesson{
				Subject: "Физика", WorkType: "Лекции", WorkTypeID: 1, PairID: 2,
				ZoomURL: "https://itmo.zoom.us/j/456",
			},
			wantLocation: []string{"https://itmo.zoom.us/j/456"},
		},
		{
			name: "room without building",
			lesson: schedule.Lesson{
				Subject: "Физика", WorkType: "Лекции", WorkTypeID: 1, PairID: 3,
				Room: "205",
			},
			wantLocation: []string{"ауд. 205"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			calendars := testGenerator(t).Generate(schedule.Payload{"2024-03-10": {tc.lesson}})
			events := calendars["ITMO Лекции"].Events()
			require.Len(t, events, 1)

			loc := events[0].GetProperty(ics.ComponentPropertyLocation)
			require.NotNil(t, loc)
			for _, want := range tc.wantLocation {
				assert.Contains(t, loc.Value, want)
			}

			url := events[0].GetProperty(ics.ComponentPropertyUrl)
			if tc.wantURL == "" {
				assert.Nil(t, url)
			} else {
				require.NotNil(t, url)
				assert.Equal(t, tc.wantURL, url.Value)
			}
		})
	}
}

func TestGenerateCalendarColor(t *testing.T) {
	calendars := testGenerator(t).Generate(schedule.Payload{
		"2024-03-10": {
			lecture(1, "10:00", "11:30"),
			{Subject: "X", WorkType: "Неизвестное", WorkTypeID: 99, PairID: 2},
		},
	})

	assert.Contains(t, calendars["ITMO Лекции"].Serialize(), "COLOR:#0091ff")
	assert.NotContains(t, calendars["ITMO Неизвестное"].Serialize(), "COLOR:")
}

func TestGenerateSkipsMalformedDates(t *testing.T) {
	calendars := testGenerator(t).Generate(schedule.Payload{
		"not-a-date": {lecture(1, "10:00", "11:30")},
		"2024-03-10": {lecture(2, "10:00", "11:30")},
	})

	require.Len(t, calendars["ITMO Лекции"].Events(), 1)
	assert.Equal(t, []string{"2@my.itmo.ru"}, eventUIDs(calendars["ITMO Лекции"]))
}

func TestSaveWritesOneFilePerCalendar(t *testing.T) {
	g := testGenerator(t)
	g.Generate(schedule.Payload{
		"2024-03-10": {
			lecture(1, "10:00", "11:30"),
			{Subject: "Физика", WorkType: "Лабораторные занятия", WorkTypeID: 3, PairID: 2},
		},
	})

	paths, err := g.Save()
	require.NoError(t, err)
	require.Len(t, paths, 2)

	for name, path := range paths {
		assert.Equal(t, name+".ics", filepath.Base(path))

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		content := string(data)
		assert.True(t, strings.HasPrefix(content, "BEGIN:VCALENDAR"))
		assert.Contains(t, content, "X-WR-CALNAME:"+name)
	}
}
