//go:build windows

package procgroup

import (
	"context"
	"os"
	"testing"
	"unsafe"

	"github.com/tychoish/fun/assert"
	"github.com/tychoish/fun/assert/check"
	"github.com/tychoish/procgroup/testutil"
	"golang.org/x/sys/windows"
)

func TestWindowsJobObject(t *testing.T) {
	for name, testCase := range map[string]func(context.Context, *testing.T, *group, *jobObject){
		"JobIsConfiguredToKillOnClose": func(ctx context.Context, t *testing.T, g *group, job *jobObject) {
			var info windows.JOBOBJECT_EXTENDED_LIMIT_INFORMATION
			assert.NotError(t, windows.QueryInformationJobObject(
				job.handle.handle,
				windows.JobObjectExtendedLimitInformation,
				uintptr(unsafe.Pointer(&info)),
				uint32(unsafe.Sizeof(info)),
				nil,
			))
			check.True(t, info.BasicLimitInformation.LimitFlags&windows.JOB_OBJECT_LIMIT_KILL_ON_JOB_CLOSE != 0)
		},
		"AddProcessAssignsPID": func(ctx context.Context, t *testing.T, g *group, job *jobObject) {
			first := testutil.HelperCommand(testutil.HelperSleep)
			assert.NotError(t, Start(g, first))
			defer func() { _ = first.Process.Kill(); _ = first.Wait() }()
			second := testutil.HelperCommand(testutil.HelperSleep)
			assert.NotError(t, Start(g, second))
			defer func() { _ = second.Process.Kill(); _ = second.Wait() }()

			members, err := job.members()
			assert.NotError(t, err)
			check.Equal(t, len(members), 2)
			check.Contains(t, members, first.Process.Pid)
			check.Contains(t, members, second.Process.Pid)
			check.True(t, job.running())
		},
		"ReleaseClosesHandleOnce": func(ctx context.Context, t *testing.T, g *group, job *jobObject) {
			check.NotError(t, job.release())
			check.True(t, job.handle.closed)
			check.NotError(t, job.release())
		},
		"ProcessGroupModeIsUnavailable": func(ctx context.Context, t *testing.T, g *group, job *jobObject) {
			_, err := New(OptionMode(ModeProcessGroup))
			check.ErrorIs(t, err, ErrResourceCreation)
		},
		"AliveReportsRunningProcess": func(ctx context.Context, t *testing.T, g *group, job *jobObject) {
			check.True(t, Alive(os.Getpid()))
		},
	} {
		t.Run(name, func(t *testing.T) {
			if _, inJob := os.LookupEnv("PROCGROUP_SKIP_JOB_TESTS"); inJob {
				t.Skip("the test runner's own job object does not permit nested jobs")
			}
			ctx, cancel := context.WithTimeout(context.Background(), testutil.TestTimeout)
			defer cancel()

			out, err := New()
			assert.NotError(t, err)
			defer out.Close()
			g, ok := out.(*group)
			assert.True(t, ok)
			job, ok := g.backend.(*jobObject)
			assert.True(t, ok)

			testCase(ctx, t, g, job)
		})
	}
}
