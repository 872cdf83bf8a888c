package storage

import "path/filepath"

// localStorageFullpath resolves key under baseDir. Keys are cleaned as if
// rooted so ".." segments cannot escape baseDir.
func localStorageFullpath(baseDir, key string) string {
	return filepath.Join(baseDir, filepath.Clean("/"+filepath.FromSlash(key)))
}
