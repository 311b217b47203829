package provider

import (
	"os"
	"syscall"
)

var errNotEmpty = syscall.ENOTEMPTY

// fileSpec converts OS metadata into a FileSpec. Creation time comes from the
// platform when it reports one and falls back to the modification time.
func fileSpec(key, fullPath string, info os.FileInfo) FileSpec {
	modified := info.ModTime().UTC()
	created, ok := birthTime(fullPath)
	if !ok {
		created = modified
	}
	return FileSpec{
		Path:     key,
		Created:  created.UTC(),
		Modified: modified,
		Size:     info.Size(),
	}
}
