package history

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suitesched/suitesched/lock"
	"github.com/suitesched/suitesched/model"
	"github.com/suitesched/suitesched/section"
)

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
}

func TestLoadRuns(t *testing.T) {
	dir := t.TempDir()
	older := filepath.Join(dir, "2026-10-17T08.00.00.000000000")
	newer := filepath.Join(dir, "2026-10-17T09.00.00.000000000")
	for _, name := range []string{"10.xml", "2.xml", "1.xml", "1.stdout.txt", "rebot.xml", "rebot.html"} {
		touch(t, filepath.Join(older, name))
	}
	require.NoError(t, os.MkdirAll(newer, 0o755))
	touch(t, filepath.Join(dir, "stray-file"))

	runs, err := LoadRuns(zerolog.Nop(), dir)
	require.NoError(t, err)
	require.Len(t, runs, 2)

	assert.Equal(t, filepath.Base(newer), runs[0].Timestamp)
	assert.Empty(t, runs[0].Outputs)
	assert.False(t, runs[0].Merged)

	assert.Equal(t, older, runs[1].Path)
	assert.Equal(t, []string{"1.xml", "2.xml", "10.xml"}, runs[1].Outputs)
	assert.True(t, runs[1].Merged)
	assert.Equal(t, int64(6), runs[1].Size)
}

func TestLoadReports(t *testing.T) {
	dir := t.TempDir()
	lockPath := filepath.Join(dir, ".lock")
	touch(t, lockPath)
	locker := lock.NewLocker(lockPath, nil)

	report := model.SuiteExecutionReport{
		SuiteID:  "web",
		Attempts: []model.AttemptReport{{Index: 1, Outcome: model.AttemptOutcomeAllTestsPassed}},
		Rebot:    &model.RebotOutcome{Error: "no data available for rebot"},
	}
	host := model.Host{Piggyback: "shop"}
	require.NoError(t, section.Write(filepath.Join(dir, "web.json"), host, locker, section.SuiteExecutionReport, report))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "garbage.json"), []byte("nope"), 0o644))

	reports, err := LoadReports(zerolog.Nop(), dir, locker)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, host, reports[0].Host)
	assert.Equal(t, "web", reports[0].Report.SuiteID)
	assert.False(t, reports[0].Report.Passed())
}
