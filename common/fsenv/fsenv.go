package fsenv

import (
	"os"
	"path/filepath"
)

// Env is the distributed filesystem surface the master consumes. The real
// filesystem lives outside this repository; GC only lists and deletes.
type Env interface {
	GetChildren(dir string) ([]string, error)
	DeleteFile(path string) error
	DeleteDir(path string) error
	IsExist(path string) bool
}

type posixEnv struct{}

// NewPosixEnv returns an Env over the local filesystem.
func NewPosixEnv() Env {
	return &posixEnv{}
}

func (e *posixEnv) GetChildren(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	ret := make([]string, len(entries))
	for i := range entries {
		ret[i] = entries[i].Name()
	}
	return ret, nil
}

func (e *posixEnv) DeleteFile(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (e *posixEnv) DeleteDir(path string) error {
	if err := os.RemoveAll(filepath.Clean(path)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (e *posixEnv) IsExist(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
