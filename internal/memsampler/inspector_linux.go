//go:build linux

package memsampler

import (
	"fmt"

	"github.com/prometheus/procfs"
)

// ProcInspector reads RSS from /proc/self/stat.
type ProcInspector struct {
	proc procfs.Proc
}

func NewProcInspector() (*ProcInspector, error) {
	p, err := procfs.Self()
	if err != nil {
		return nil, fmt.Errorf("open /proc/self: %w", err)
	}
	return &ProcInspector{proc: p}, nil
}

func (i *ProcInspector) ResidentBytes() (int64, error) {
	stat, err := i.proc.Stat()
	if err != nil {
		return 0, err
	}
	return int64(stat.ResidentMemory()), nil
}
