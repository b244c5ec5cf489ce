//go:build !linux

package memsampler

import (
	"fmt"
	"os"

	"github.com/shirou/gopsutil/v4/process"
)

// ProcInspector reads the process RSS through gopsutil where /proc is
// unavailable.
type ProcInspector struct {
	proc *process.Process
}

func NewProcInspector() (*ProcInspector, error) {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, fmt.Errorf("open process %d: %w", os.Getpid(), err)
	}
	return &ProcInspector{proc: p}, nil
}

func (i *ProcInspector) ResidentBytes() (int64, error) {
	info, err := i.proc.MemoryInfo()
	if err != nil {
		return 0, err
	}
	return int64(info.RSS), nil
}
