//go:build !linux

package provider

import "time"

func birthTime(string) (time.Time, bool) {
	return time.Time{}, false
}
