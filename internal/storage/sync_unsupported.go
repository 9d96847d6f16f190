//go:build !linux && !darwin

package storage

import "os"

func datasync(f *os.File) error {
	return f.Sync()
}
