package store

import "os"

// truncateToOddLength forces a file to a length that is not a multiple of 8,
// simulating on-disk corruption for ErrCorruptSize tests.
func truncateToOddLength(path string) error {
	f, err := os.OpenFile(path, os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Truncate(5)
}
