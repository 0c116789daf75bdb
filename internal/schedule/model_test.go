package schedule

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schedule.json")
	doc := `{
		"2024-03-10": [
			{"subject": "Математический анализ", "work_type": "Лекции", "work_type_id": 1,
			 "pair_id": 7241, "time_start": "10:00", "time_end": "11:30",
			 "teacher_name": "Иванов И.И.", "teacher_id": 482}
		],
		"2024-03-11": [
			{"subject": "Сессия", "work_type": "Экзамены", "work_type_id": 4, "pair_id": 7242}
		]
	}`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	p, err := Load(path)
	require.NoError(t, err)
	require.Len(t, p, 2)

	lessons := p["2024-03-10"]
	require.Len(t, lessons, 1)
	assert.Equal(t, "Математический анализ", lessons[0].Subject)
	assert.Equal(t, int64(7241), lessons[0].PairID)
	assert.True(t, lessons[0].Timed())
	require.NotNil(t, lessons[0].TeacherID)
	assert.Equal(t, int64(482), *lessons[0].TeacherID)

	exam := p["2024-03-11"][0]
	assert.False(t, exam.Timed())
	assert.Nil(t, exam.TeacherID)
}

func TestLoadMissingStore(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	require.Error(t, err)
}

func TestLoadCorruptStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schedule.json")
	require.NoError(t, os.WriteFile(path, []byte("{oops"), 0o600))

	_, err := Load(path)
	require.Error(t, err)
}

func TestDatesSorted(t *testing.T) {
	p := Payload{
		"2024-03-12": nil,
		"2024-01-05": nil,
		"2024-03-10": nil,
	}
	assert.Equal(t, []string{"2024-01-05", "2024-03-10", "2024-03-12"}, p.Dates())
}

func TestTimedRequiresBothEnds(t *testing.T) {
	assert.False(t, Lesson{TimeStart: "10:00"}.Timed())
	assert.False(t, Lesson{TimeEnd: "11:30"}.Timed())
	assert.True(t, Lesson{TimeStart: "10:00", TimeEnd: "11:30"}.Timed())
}
