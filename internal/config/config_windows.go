//go:build windows

package config

import (
	"os"
)

// openConfigFile opens the config file. Windows has no O_NOFOLLOW, and
// creating symlinks there requires special privileges.
func openConfigFile(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errNotFound
		}
		return nil, err
	}
	return f, nil
}

// checkFileOwnership is a no-op on Windows, which uses ACLs.
func checkFileOwnership(_ os.FileInfo) error {
	return nil
}

// checkFileMode is a no-op on Windows; Go reports only the read-only bit.
func checkFileMode(_ os.FileInfo) error {
	return nil
}
