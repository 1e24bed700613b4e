//go:build windows

package probe

import "io/fs"

// Windows ACLs don't map to POSIX-style permission bits, so we skip
// the proactive permission check on this platform; eBPF is unavailable
// on Windows regardless and the fsnotify fallback takes over.
func checkArtifactReadable(_ string, _ fs.FileInfo) error {
	return nil
}
