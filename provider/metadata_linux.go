//go:build linux

package provider

import (
	"time"

	"golang.org/x/sys/unix"
)

// birthTime asks statx for the inode birth time. Older kernels and some
// filesystems do not record it.
func birthTime(fullPath string) (time.Time, bool) {
	var stx unix.Statx_t
	if err := unix.Statx(unix.AT_FDCWD, fullPath, unix.AT_SYMLINK_NOFOLLOW, unix.STATX_BTIME, &stx); err != nil {
		return time.Time{}, false
	}
	if stx.Mask&unix.STATX_BTIME == 0 {
		return time.Time{}, false
	}
	return time.Unix(stx.Btime.Sec, int64(stx.Btime.Nsec)), true
}
