package preflight

import (
	"fmt"
	"syscall"
)

// MinFileDescriptors is the open file limit below which the lexical index
// can run out of descriptors while merging segments under query load.
const MinFileDescriptors = 1024

// CheckFileDescriptors checks the soft RLIMIT_NOFILE.
func (c *Checker) CheckFileDescriptors() CheckResult {
	result := CheckResult{Name: "file_descriptors", Required: false}

	var rl syscall.Rlimit
	if err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &rl); err != nil {
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("cannot read limit: %v", err)
		return result
	}

	result.Message = fmt.Sprintf("%d (minimum %d)", rl.Cur, MinFileDescriptors)
	if rl.Cur < MinFileDescriptors {
		result.Status = StatusWarn
		result.Details = "Run 'ulimit -n 4096' before starting the server"
		return result
	}
	result.Status = StatusPass
	return result
}
