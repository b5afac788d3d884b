package attempt

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suitesched/suitesched/environment"
	"github.com/suitesched/suitesched/model"
	"github.com/suitesched/suitesched/session"
	"github.com/suitesched/suitesched/termination"
)

// fakeRobot writes an output file on every invocation and passes from the
// passAt-th invocation on. Rerun inputs are appended to <dir>/reruns.
const fakeRobot = `#!/bin/sh
out=""
while [ $# -gt 0 ]; do
	case "$1" in
		--output) out="$2"; shift 2 ;;
		--rerunfailed) echo "$2" >> %[1]s/reruns; shift 2 ;;
		*) shift ;;
	esac
done
n=$(cat %[1]s/count 2>/dev/null || echo 0)
n=$((n+1))
echo $n > %[1]s/count
%[3]s
if [ $n -lt %[2]d ]; then
	echo '<robot status="FAIL"/>' > "$out"
	exit 2
fi
echo '<robot status="PASS"/>' > "$out"
exit 0
`

// fakeRebot combines its inputs like rebot does: without --merge every
// input counts, so any failing attempt fails the result; with --merge the
// last input supersedes the earlier ones.
const fakeRebot = `#!/bin/sh
echo "$@" > %[1]s/rebot-args
out=""
log=""
merge=0
status=PASS
last=PASS
while [ $# -gt 0 ]; do
	case "$1" in
		--output) out="$2"; shift 2 ;;
		--log) log="$2"; shift 2 ;;
		--report) shift 2 ;;
		--merge) merge=1; shift ;;
		*)
			if grep -q FAIL "$1"; then status=FAIL; last=FAIL; else last=PASS; fi
			shift ;;
	esac
done
if [ $merge -eq 1 ]; then status=$last; fi
echo "<robot status=\"$status\"/>" > "$out"
echo '<html>merged</html>' > "$log"
[ "$status" = PASS ]
`

type fixture struct {
	dir       string
	outputDir string
	robot     Robot
}

func newFixture(t *testing.T, passAt, maxAttempts int, strategy RetryStrategy, robotPrelude string) fixture {
	t.Helper()
	dir := t.TempDir()
	outputDir := filepath.Join(dir, "output")
	require.NoError(t, os.MkdirAll(outputDir, 0o755))

	robotPath := filepath.Join(dir, "robot")
	rebotPath := filepath.Join(dir, "rebot")
	require.NoError(t, os.WriteFile(robotPath, []byte(fmt.Sprintf(fakeRobot, dir, passAt, robotPrelude)), 0o755))
	require.NoError(t, os.WriteFile(rebotPath, []byte(fmt.Sprintf(fakeRebot, dir)), 0o755))

	return fixture{
		dir:       dir,
		outputDir: outputDir,
		robot: Robot{
			Target:          "/suites/web/tasks.robot",
			NAttemptsMax:    maxAttempts,
			RetryStrategy:   strategy,
			RobotExecutable: robotPath,
			RebotExecutable: rebotPath,
		},
	}
}

func (f fixture) request(flag *termination.Flag, timeout time.Duration) Request {
	return Request{
		Robot:           f.robot,
		SuiteID:         "web",
		Environment:     environment.System{},
		Session:         session.Current(),
		Timeout:         timeout,
		Flag:            flag,
		OutputDirectory: f.outputDir,
	}
}

func outcomes(reports []model.AttemptReport) []model.AttemptOutcome {
	var out []model.AttemptOutcome
	for _, r := range reports {
		out = append(out, r.Outcome)
	}
	return out
}

func TestRunWithRebot_PassesOnThirdAttempt(t *testing.T) {
	f := newFixture(t, 3, 3, RetryIncremental, "")

	reports, rebot, err := RunWithRebot(zerolog.Nop(), f.request(termination.New(), 10*time.Second))
	require.NoError(t, err)

	assert.Equal(t, []model.AttemptOutcome{
		model.AttemptOutcomeTestFailures,
		model.AttemptOutcomeTestFailures,
		model.AttemptOutcomeAllTestsPassed,
	}, outcomes(reports))
	for i, r := range reports {
		assert.Equal(t, i+1, r.Index)
		assert.Equal(t, fmt.Sprintf("%d.xml", i+1), r.OutputFile)
		assert.FileExists(t, filepath.Join(f.outputDir, fmt.Sprintf("%d.stdout.txt", i+1)))
	}

	require.NotNil(t, rebot)
	require.NotNil(t, rebot.Result, "rebot error: %s", rebot.Error)
	assert.True(t, rebot.Result.Passed)
	assert.Contains(t, rebot.Result.XML, "PASS")
	assert.NotEmpty(t, rebot.Result.HTMLBase64)

	reruns, err := os.ReadFile(filepath.Join(f.dir, "reruns"))
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(f.outputDir, "1.xml"),
		filepath.Join(f.outputDir, "2.xml"),
	}, strings.Fields(string(reruns)))

	rebotArgs, err := os.ReadFile(filepath.Join(f.dir, "rebot-args"))
	require.NoError(t, err)
	assert.Contains(t, string(rebotArgs), "--merge")
}

func TestRunWithRebot_StopsAtFirstSuccess(t *testing.T) {
	f := newFixture(t, 1, 3, RetryComplete, "")

	reports, rebot, err := RunWithRebot(zerolog.Nop(), f.request(termination.New(), 10*time.Second))
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, model.AttemptOutcomeAllTestsPassed, reports[0].Outcome)
	assert.True(t, rebot.Result.Passed)
}

func TestRunWithRebot_ExhaustsAttempts(t *testing.T) {
	f := newFixture(t, 10, 2, RetryComplete, "")

	reports, rebot, err := RunWithRebot(zerolog.Nop(), f.request(termination.New(), 10*time.Second))
	require.NoError(t, err)
	assert.Len(t, reports, 2)
	require.NotNil(t, rebot.Result)
	assert.False(t, rebot.Result.Passed)

	_, err = os.Stat(filepath.Join(f.dir, "reruns"))
	assert.True(t, os.IsNotExist(err), "complete retries must not rerun failed tests only")
	rebotArgs, err := os.ReadFile(filepath.Join(f.dir, "rebot-args"))
	require.NoError(t, err)
	assert.Contains(t, string(rebotArgs), "--merge")
}

func TestRunWithRebot_CompleteRetryMergesToSuccess(t *testing.T) {
	f := newFixture(t, 3, 3, RetryComplete, "")

	reports, rebot, err := RunWithRebot(zerolog.Nop(), f.request(termination.New(), 10*time.Second))
	require.NoError(t, err)
	assert.Equal(t, []model.AttemptOutcome{
		model.AttemptOutcomeTestFailures,
		model.AttemptOutcomeTestFailures,
		model.AttemptOutcomeAllTestsPassed,
	}, outcomes(reports))

	require.NotNil(t, rebot.Result, "rebot error: %s", rebot.Error)
	assert.True(t, rebot.Result.Passed, "a passing final attempt must supersede earlier failures")

	rebotArgs, err := os.ReadFile(filepath.Join(f.dir, "rebot-args"))
	require.NoError(t, err)
	assert.Contains(t, string(rebotArgs), "--merge")
}

func TestRunWithRebot_SingleOutputIsNotMerged(t *testing.T) {
	f := newFixture(t, 1, 3, RetryIncremental, "")

	_, rebot, err := RunWithRebot(zerolog.Nop(), f.request(termination.New(), 10*time.Second))
	require.NoError(t, err)
	assert.True(t, rebot.Result.Passed)

	rebotArgs, err := os.ReadFile(filepath.Join(f.dir, "rebot-args"))
	require.NoError(t, err)
	assert.NotContains(t, string(rebotArgs), "--merge")
}

func TestRunWithRebot_WithoutFlag(t *testing.T) {
	f := newFixture(t, 1, 1, RetryComplete, "")

	reports, rebot, err := RunWithRebot(zerolog.Nop(), f.request(nil, 10*time.Second))
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.True(t, rebot.Result.Passed)
}

func TestRunWithRebot_EnvironmentFailure(t *testing.T) {
	f := newFixture(t, 1, 2, RetryComplete, "")
	rcc := filepath.Join(f.dir, "rcc")
	require.NoError(t, os.WriteFile(rcc, []byte("#!/bin/sh\nexit 1\n"), 0o755))

	req := f.request(termination.New(), 10*time.Second)
	req.Environment = environment.Rcc{Binary: rcc, RobotYAML: "robot.yaml", Controller: "suitesched", Space: "web"}

	reports, rebot, err := RunWithRebot(zerolog.Nop(), req)
	require.NoError(t, err)
	assert.Equal(t, []model.AttemptOutcome{
		model.AttemptOutcomeEnvironmentFailure,
		model.AttemptOutcomeEnvironmentFailure,
	}, outcomes(reports))
	assert.Equal(t, "no data available for rebot", rebot.Error)

	_, err = os.Stat(filepath.Join(f.dir, "count"))
	assert.True(t, os.IsNotExist(err), "robot must not run when the environment fails")
}

func TestRunWithRebot_TimedOut(t *testing.T) {
	f := newFixture(t, 1, 2, RetryComplete, "sleep 10")

	reports, rebot, err := RunWithRebot(zerolog.Nop(), f.request(termination.New(), 200*time.Millisecond))
	require.NoError(t, err)
	assert.Equal(t, []model.AttemptOutcome{
		model.AttemptOutcomeTimedOut,
		model.AttemptOutcomeTimedOut,
	}, outcomes(reports))
	assert.Nil(t, rebot.Result)
	assert.Equal(t, "no data available for rebot", rebot.Error)
}

func TestRunWithRebot_TerminatedBeforeFirstAttempt(t *testing.T) {
	f := newFixture(t, 1, 3, RetryComplete, "")
	flag := termination.New()
	flag.Raise()

	reports, rebot, err := RunWithRebot(zerolog.Nop(), f.request(flag, 10*time.Second))
	require.ErrorIs(t, err, termination.ErrTerminated)
	assert.Empty(t, reports)
	assert.Nil(t, rebot)

	_, err = os.Stat(filepath.Join(f.dir, "count"))
	assert.True(t, os.IsNotExist(err), "robot must not be started")
}

func TestRunWithRebot_TerminatedDuringAttempt(t *testing.T) {
	f := newFixture(t, 1, 3, RetryComplete, "sleep 10")
	flag := termination.New()
	time.AfterFunc(200*time.Millisecond, flag.Raise)

	_, _, err := RunWithRebot(zerolog.Nop(), f.request(flag, time.Minute))
	require.ErrorIs(t, err, termination.ErrTerminated)
}

func TestRunWithRebot_MissingRobot(t *testing.T) {
	f := newFixture(t, 1, 2, RetryComplete, "")
	f.robot.RobotExecutable = filepath.Join(f.dir, "does-not-exist")

	reports, rebot, err := RunWithRebot(zerolog.Nop(), f.request(termination.New(), time.Second))
	require.NoError(t, err)
	assert.Equal(t, []model.AttemptOutcome{
		model.AttemptOutcomeOtherError,
		model.AttemptOutcomeOtherError,
	}, outcomes(reports))
	assert.NotEmpty(t, reports[0].Error)
	assert.NotEmpty(t, rebot.Error)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		exitCode int
		produced bool
		want     model.AttemptOutcome
	}{
		{name: "passed", exitCode: 0, produced: true, want: model.AttemptOutcomeAllTestsPassed},
		{name: "failures", exitCode: 4, produced: true, want: model.AttemptOutcomeTestFailures},
		{name: "max failures", exitCode: 250, produced: true, want: model.AttemptOutcomeTestFailures},
		{name: "invalid data", exitCode: 252, produced: true, want: model.AttemptOutcomeRobotFailure},
		{name: "no output", exitCode: 0, produced: false, want: model.AttemptOutcomeRobotFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classify(tt.exitCode, tt.produced))
		})
	}
}
