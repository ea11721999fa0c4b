package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrNetworkFilesystem is returned for SQLite paths on NFS, SMB and similar
// mounts. WAL and the writer lock rely on local POSIX locking.
var ErrNetworkFilesystem = errors.New("sqlite database on a network filesystem")

var networkFilesystems = map[string]struct{}{
	"9p":     {},
	"afpfs":  {},
	"afs":    {},
	"ceph":   {},
	"cifs":   {},
	"nfs":    {},
	"smb2":   {},
	"smbfs":  {},
	"webdav": {},
}

// ValidateSQLiteFilesystem rejects database paths on network filesystems.
// The path need not exist yet; its nearest existing ancestor is inspected.
func ValidateSQLiteFilesystem(path string) error {
	return checkLocalFilesystem(path, detectFilesystemType)
}

func checkLocalFilesystem(path string, detect func(string) (string, error)) error {
	if strings.TrimSpace(path) == "" {
		return errors.New("sqlite path is empty")
	}

	existing, err := existingAncestor(path)
	if err != nil {
		return fmt.Errorf("resolve database path %q: %w", path, err)
	}

	fsType, err := detect(existing)
	if err != nil {
		return fmt.Errorf("detect filesystem for %q: %w", existing, err)
	}
	if !isNetworkFilesystem(fsType) {
		return nil
	}

	return fmt.Errorf("%w: %q is on %s. SQLite requires a local filesystem for reliable locking; "+
		"point DATABASE_URL at a local path (sqlite:////var/lib/courier/messages.db) or use a postgres:// URL",
		ErrNetworkFilesystem, path, fsType)
}

// existingAncestor walks up from path until it finds something that exists.
func existingAncestor(path string) (string, error) {
	dir, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	for {
		_, statErr := os.Stat(dir)
		switch {
		case statErr == nil:
			return dir, nil
		case !errors.Is(statErr, os.ErrNotExist):
			return "", statErr
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("no existing ancestor of %q", path)
		}
		dir = parent
	}
}

func isNetworkFilesystem(fsType string) bool {
	_, found := networkFilesystems[strings.ToLower(strings.TrimSpace(fsType))]
	return found
}
