//go:build !windows

package audit

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// checkDiskSpace refuses to append when the journal's filesystem is nearly
// full. A failing statfs does not block the write.
func (j *Journal) checkDiskSpace() error {
	var stat unix.Statfs_t
	if err := unix.Statfs(j.path, &stat); err != nil {
		return nil
	}

	available := uint64(stat.Bavail) * uint64(stat.Bsize)
	if available < MinAuditDiskSpace {
		return fmt.Errorf("audit: insufficient disk space: only %d bytes available, need at least %d",
			available, MinAuditDiskSpace)
	}
	return nil
}
