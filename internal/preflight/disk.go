package preflight

import (
	"fmt"
	"syscall"

	"github.com/qter21/legal-codes-search-api/internal/ui"
)

// MinDiskSpaceBytes is the free space required under the data directory.
// A full corpus with 768-dim vectors needs a few hundred MB across the
// lexical index, the vector graph and its temporary save file.
const MinDiskSpaceBytes = 512 * 1024 * 1024

// CheckDiskSpace checks free space on the filesystem holding path.
func (c *Checker) CheckDiskSpace(path string) CheckResult {
	result := CheckResult{Name: "disk_space", Required: true}

	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("cannot stat %s: %v", path, err)
		return result
	}

	free := int64(stat.Bavail) * int64(stat.Bsize)
	result.Message = fmt.Sprintf("%s free (minimum %s)", ui.FormatBytes(free), ui.FormatBytes(MinDiskSpaceBytes))
	if free < MinDiskSpaceBytes {
		result.Status = StatusFail
		result.Details = "Point storage.data_dir at a larger volume"
		return result
	}
	result.Status = StatusPass
	return result
}
