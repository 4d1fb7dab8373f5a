package cliexec

import (
	"os"
	"path/filepath"
)

// clearOpencodeCache removes the opencode vendor cache directory under
// the user's cache home, implementing the opencode strategy's ClearCache
// hook (§3, §4.6 step f). Returns (cleared, error); cleared is true only
// when the directory existed and was removed. A missing directory yields
// (false, nil); failing to locate or remove it yields (false, err).
func clearOpencodeCache() (bool, error) {
	dir, err := opencodeCacheDir()
	if err != nil {
		return false, err
	}

	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return false, nil
	}

	if err := os.RemoveAll(dir); err != nil {
		return false, err
	}
	return true, nil
}

func opencodeCacheDir() (string, error) {
	base, err := os.UserCacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "opencode"), nil
}
