// Package pipename derives the default named-pipe path PowerShell's
// out-of-process transport expects for the current process, matching the
// .NET host's own naming algorithm so a PSRP client that doesn't pass
// --pipe-name can still find this server.
package pipename

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// ErrProcessIntrospectionUnavailable is returned when the current
// process's metadata (create time, executable name) cannot be obtained.
var ErrProcessIntrospectionUnavailable = errors.New("pipename: process introspection unavailable")

// filetimeEpochOffset is the number of 100ns FILETIME ticks between the
// FILETIME epoch (1601-01-01) and the Unix epoch (1970-01-01).
const filetimeEpochOffset = 116444736000000000

// Default returns the default pipe path for the current process, using
// the live pid, create time, and executable basename.
func Default() (string, error) {
	pid := int32(os.Getpid())

	proc, err := process.NewProcess(pid)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrProcessIntrospectionUnavailable, err)
	}

	name, err := proc.Name()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrProcessIntrospectionUnavailable, err)
	}

	createMs, err := proc.CreateTime()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrProcessIntrospectionUnavailable, err)
	}

	return Derive(int(pid), time.UnixMilli(createMs).UTC(), name), nil
}

// Derive computes the pipe path for a given pid, process create time, and
// executable basename. It is deterministic: identical inputs always
// produce identical output, which is what makes it useful as the default
// rendezvous point between a PSRP client and this server.
func Derive(pid int, createTime time.Time, processName string) string {
	utc := createTime.UTC()
	filetime := unixToFiletime(utc)

	if runtime.GOOS == "windows" {
		return fmt.Sprintf(`\\.\pipe\PSHost.%d.%d.DefaultAppDomain.%s`, filetime, pid, processName)
	}

	startTime := filetimeHexSuffix(filetime)
	tmpdir := os.Getenv("TMPDIR")
	if tmpdir == "" {
		tmpdir = "/tmp"
	}
	return fmt.Sprintf("%s/CoreFxPipe_PSHost.%s.%d.None.%s", strings.TrimRight(tmpdir, "/"), startTime, pid, processName)
}

// unixToFiletime converts a UTC time to Windows FILETIME 100ns ticks
// since 1601-01-01.
func unixToFiletime(t time.Time) int64 {
	micros := t.Unix()*1_000_000 + int64(t.Nanosecond())/1000
	return filetimeEpochOffset + micros*10
}

// filetimeHexSuffix replicates .NET's ToString("X8").Substring(1, 8):
// render the 64-bit FILETIME as big-endian hex, strip leading zeros, then
// take the 8 characters starting at index 1 of what's left.
func filetimeHexSuffix(filetime int64) string {
	raw := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		raw[i] = byte(filetime)
		filetime >>= 8
	}
	hexStr := strings.ToUpper(hex.EncodeToString(raw))
	hexStr = strings.TrimLeft(hexStr, "0")

	const start, end = 1, 9
	if start >= len(hexStr) {
		return ""
	}
	stop := end
	if stop > len(hexStr) {
		stop = len(hexStr)
	}
	return hexStr[start:stop]
}
