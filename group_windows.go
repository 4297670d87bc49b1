//go:build windows

package procgroup

import (
	"errors"
	"fmt"
	"unsafe"

	"github.com/tychoish/fun/erc"
	"golang.org/x/sys/windows"
)

// processAccess is the least access needed to place a process in a job:
// PROCESS_SET_QUOTA and PROCESS_TERMINATE.
const processAccess = windows.PROCESS_SET_QUOTA | windows.PROCESS_TERMINATE

// maxListedProcesses bounds a single JobObjectBasicProcessIdList query.
const maxListedProcesses = 1024

type jobObjectBasicProcessIDList struct {
	NumberOfAssignedProcesses uint32
	NumberOfProcessIdsInList  uint32
	ProcessIdList             [maxListedProcesses]uintptr
}

type jobObjectBasicAccountingInformation struct {
	TotalUserTime             int64
	TotalKernelTime           int64
	ThisPeriodTotalUserTime   int64
	ThisPeriodTotalKernelTime int64
	TotalPageFaultCount       uint32
	TotalProcesses            uint32
	ActiveProcesses           uint32
	TotalTerminatedProcesses  uint32
}

// jobObject is an unnamed job object configured to kill its members when
// its last handle closes.
type jobObject struct {
	name   string
	handle *scopedHandle
}

func newBackend(conf *Options) (backend, error) {
	if conf.Mode == ModeProcessGroup {
		return nil, fmt.Errorf("%w: process groups are not available on windows", ErrResourceCreation)
	}

	return newJobObject(conf.Name)
}

func newJobObject(name string) (*jobObject, error) {
	h, err := windows.CreateJobObject(nil, nil)
	if err != nil {
		return nil, fmt.Errorf("create job object for group '%s': %w: %w", name, ErrResourceCreation, err)
	}
	handle := &scopedHandle{handle: h}

	info := windows.JOBOBJECT_EXTENDED_LIMIT_INFORMATION{
		BasicLimitInformation: windows.JOBOBJECT_BASIC_LIMIT_INFORMATION{
			LimitFlags: windows.JOB_OBJECT_LIMIT_KILL_ON_JOB_CLOSE,
		},
	}
	if _, err := windows.SetInformationJobObject(
		h,
		windows.JobObjectExtendedLimitInformation,
		uintptr(unsafe.Pointer(&info)),
		uint32(unsafe.Sizeof(info)),
	); err != nil {
		catcher := &erc.Collector{}
		catcher.Push(fmt.Errorf("configure kill-on-close for group '%s': %w: %w", name, ErrResourceCreation, err))
		catcher.Push(handle.Close())
		return nil, catcher.Resolve()
	}

	return &jobObject{name: name, handle: handle}, nil
}

func (j *jobObject) add(pid int) error {
	process, err := windows.OpenProcess(processAccess, false, uint32(pid))
	if err != nil {
		return fmt.Errorf("open process with pid %d: %w: %w", pid, ErrProcessLookup, err)
	}
	defer windows.CloseHandle(process)

	if err := windows.AssignProcessToJobObject(j.handle.handle, process); err != nil {
		return fmt.Errorf("assign process with pid %d to group '%s': %w: %w", pid, j.name, ErrAssignment, err)
	}
	return nil
}

func (j *jobObject) members() ([]int, error) {
	var info jobObjectBasicProcessIDList
	if err := windows.QueryInformationJobObject(
		j.handle.handle,
		windows.JobObjectBasicProcessIdList,
		uintptr(unsafe.Pointer(&info)),
		uint32(unsafe.Sizeof(info)),
		nil,
	); err != nil && !errors.Is(err, windows.ERROR_MORE_DATA) {
		return nil, fmt.Errorf("list members of group '%s': %w", j.name, err)
	}

	out := make([]int, 0, info.NumberOfProcessIdsInList)
	for _, pid := range info.ProcessIdList[:info.NumberOfProcessIdsInList] {
		out = append(out, int(pid))
	}
	return out, nil
}

func (j *jobObject) running() bool {
	var info jobObjectBasicAccountingInformation
	if err := windows.QueryInformationJobObject(
		j.handle.handle,
		windows.JobObjectBasicAccountingInformation,
		uintptr(unsafe.Pointer(&info)),
		uint32(unsafe.Sizeof(info)),
		nil,
	); err != nil {
		return false
	}
	return info.ActiveProcesses > 0
}

// release closes the only handle to the job; the kernel then terminates
// every process still in it.
func (j *jobObject) release() error { return j.handle.Close() }
