package sftpshell

import (
	"os"
	"path"
	"path/filepath"
	"strings"
)

// ExpandPath expands ~ to home directory.
func ExpandPath(p string) string {
	if strings.HasPrefix(p, "~/") {
		homeDir, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(homeDir, p[2:])
		}
	}
	return p
}

// MirrorPath returns where a download of remotePath is saved locally:
// <cwd>/<host>/<remote directory structure>/<file name>.
// Parent references in remotePath cannot climb above <cwd>/<host>.
func MirrorPath(cwd, host, remotePath string) string {
	clean := path.Clean("/" + filepath.ToSlash(remotePath))
	return filepath.Join(cwd, host, filepath.FromSlash(clean))
}

// ResolveRemote joins a relative remote path onto dir using slash semantics.
// Absolute paths and an empty dir are returned cleaned but otherwise unchanged.
func ResolveRemote(dir, p string) string {
	if p == "" {
		p = "."
	}
	if path.IsAbs(p) || dir == "" {
		return path.Clean(p)
	}
	return path.Join(dir, p)
}
