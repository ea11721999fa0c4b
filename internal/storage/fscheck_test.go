package storage

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
)

func fixedDetector(fsType string, seen *string) func(string) (string, error) {
	return func(path string) (string, error) {
		if seen != nil {
			*seen = path
		}
		return fsType, nil
	}
}

func TestCheckLocalFilesystem(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	tests := []struct {
		name    string
		path    string
		fsType  string
		wantErr bool
		inspect string
	}{
		{name: "local apfs", path: filepath.Join(root, "messages.db"), fsType: "apfs", inspect: root},
		{name: "linux ext4 magic", path: filepath.Join(root, "messages.db"), fsType: "0xef53", inspect: root},
		{name: "missing parents", path: filepath.Join(root, "a", "b", "messages.db"), fsType: "apfs", inspect: root},
		{name: "smb share", path: filepath.Join(root, "messages.db"), fsType: "smbfs", wantErr: true},
		{name: "nfs uppercase", path: filepath.Join(root, "messages.db"), fsType: " NFS ", wantErr: true},
		{name: "empty path", path: "", fsType: "apfs", wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			var seen string
			err := checkLocalFilesystem(tc.path, fixedDetector(tc.fsType, &seen))
			if (err != nil) != tc.wantErr {
				t.Fatalf("checkLocalFilesystem(%q) err = %v, wantErr %v", tc.path, err, tc.wantErr)
			}
			if tc.inspect != "" && seen != tc.inspect {
				t.Fatalf("inspected %q, want nearest existing ancestor %q", seen, tc.inspect)
			}
		})
	}
}

func TestCheckLocalFilesystemErrorNamesTheFix(t *testing.T) {
	t.Parallel()

	err := checkLocalFilesystem(filepath.Join(t.TempDir(), "messages.db"), fixedDetector("cifs", nil))
	if !errors.Is(err, ErrNetworkFilesystem) {
		t.Fatalf("expected ErrNetworkFilesystem, got %v", err)
	}
	for _, want := range []string{"cifs", "DATABASE_URL", "postgres://"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected error to mention %q, got %q", want, err)
		}
	}
}

func TestDetectFilesystemTypeOnTempDir(t *testing.T) {
	t.Parallel()

	fsType, err := detectFilesystemType(t.TempDir())
	if err != nil {
		t.Fatalf("detectFilesystemType: %v", err)
	}
	if fsType == "" {
		t.Fatal("expected a filesystem type")
	}
	if err := ValidateSQLiteFilesystem(filepath.Join(t.TempDir(), "messages.db")); err != nil && !errors.Is(err, ErrNetworkFilesystem) {
		t.Fatalf("ValidateSQLiteFilesystem: %v", err)
	}
}
