package section

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suitesched/suitesched/lock"
	"github.com/suitesched/suitesched/model"
	"github.com/suitesched/suitesched/termination"
)

func newLocker(t *testing.T, dir string) lock.Locker {
	t.Helper()
	path := filepath.Join(dir, ".lock")
	require.NoError(t, os.WriteFile(path, nil, 0o644))
	return lock.NewLocker(path, termination.New())
}

func TestEncode_Piggyback(t *testing.T) {
	content, err := Encode(SuiteExecutionReport, model.Host{Piggyback: "shop-frontend"}, map[string]string{"suite_id": "web"})
	require.NoError(t, err)

	assert.Equal(t, strings.Join([]string{
		"<<<<shop-frontend>>>>",
		"<<<suitesched_suite_execution_report:sep(0)>>>",
		`{"version":1,"data":{"suite_id":"web"}}`,
		"<<<<>>>>",
		"",
	}, "\n"), string(content))
}

func TestWriteRead(t *testing.T) {
	dir := t.TempDir()
	locker := newLocker(t, dir)
	path := filepath.Join(dir, "web.json")

	report := model.SuiteExecutionReport{
		SuiteID:   "web",
		Timestamp: "2026-10-17T12.00.00.000000000",
		Attempts:  []model.AttemptReport{{Index: 1, Outcome: model.AttemptOutcomeAllTestsPassed, OutputFile: "1.xml"}},
		Rebot:     &model.RebotOutcome{Result: &model.RebotResult{XML: "<robot>\n</robot>", Passed: true}},
		Config:    model.AttemptsConfig{Interval: 300, Timeout: 60, NAttemptsMax: 2},
	}
	require.NoError(t, Write(path, model.Host{}, locker, SuiteExecutionReport, report))

	sec, err := Read(path, locker)
	require.NoError(t, err)
	assert.Equal(t, SuiteExecutionReport, sec.Name)
	assert.Equal(t, model.Host{}, sec.Host)

	var got model.SuiteExecutionReport
	require.NoError(t, sec.Decode(&got))
	assert.Equal(t, report, got)
	assert.True(t, got.Passed())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2, "temporary files must not be left behind")
}

func TestWrite_ReadersNeverSeePartialFiles(t *testing.T) {
	dir := t.TempDir()
	locker := newLocker(t, dir)
	path := filepath.Join(dir, "web.json")
	big := strings.Repeat("x", 1<<20)

	require.NoError(t, Write(path, model.Host{}, locker, SuiteExecutionReport, map[string]string{"blob": big}))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 10; i++ {
			assert.NoError(t, Write(path, model.Host{}, locker, SuiteExecutionReport, map[string]string{"blob": big}))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 10; i++ {
			sec, err := Read(path, locker)
			if assert.NoError(t, err) {
				var got map[string]string
				assert.NoError(t, sec.Decode(&got))
				assert.Len(t, got["blob"], len(big))
			}
		}
	}()
	wg.Wait()
}

func TestWrite_TerminatedLeavesNoFile(t *testing.T) {
	dir := t.TempDir()
	flag := termination.New()
	lockPath := filepath.Join(dir, ".lock")
	require.NoError(t, os.WriteFile(lockPath, nil, 0o644))
	flag.Raise()

	path := filepath.Join(dir, "web.json")
	err := Write(path, model.Host{}, lock.NewLocker(lockPath, flag), SuiteExecutionReport, struct{}{})
	require.ErrorIs(t, err, termination.ErrTerminated)
	assert.NoFileExists(t, path)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "empty", content: ""},
		{name: "missing payload", content: "<<<x:sep(0)>>>\n"},
		{name: "bad header", content: "<<x>>\n{}\n"},
		{name: "unterminated piggyback", content: "<<<<host>>>>\n<<<x:sep(0)>>>\n{\"version\":1,\"data\":{}}\n"},
		{name: "wrong version", content: "<<<x:sep(0)>>>\n{\"version\":7,\"data\":{}}\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.content))
			assert.Error(t, err)
		})
	}
}
