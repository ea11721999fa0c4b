//go:build !darwin && !linux

package storage

// detectFilesystemType cannot tell local from network storage here, so the
// check passes and the operator owns the choice of path.
func detectFilesystemType(string) (string, error) {
	return "unknown", nil
}
