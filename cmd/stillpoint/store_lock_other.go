//go:build !unix

package main

import (
	"errors"
	"fmt"
	"os"
)

var ErrStoreLocked = errors.New("store directory is locked by another process")

// Without flock the lock file is only created, not held exclusively.
func acquireFileLock(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	return f, nil
}

func releaseFileLock(f *os.File) error {
	if f == nil {
		return nil
	}
	return f.Close()
}
