package io

import (
	"errors"
	"os"
	"path/filepath"
)

// Pending is a file being written.
//
// Its content appears at its name only when committed. Until then, it is
// written in a temporary file next to the destination, so the rename is atomic.
type Pending struct {
	*os.File
	name string
	done bool
}

// create a pending file with its parent direcrtory, if missing.
//
// args:
//   - name: filepath to be created.
//   - fmod: os.FileMode for file.
//   - dmod: os.FileMode for directory.
//
// Note that `dmod` effects to only newly-created direcotries.
//
// When Commit or Discard is not called, the temporary file is left.
// Defer Discard right after creation; it does nothing after Commit.
func CreatePending(name string, fmod os.FileMode, dmod os.FileMode) (*Pending, error) {
	dirname := filepath.Dir(name)
	if err := os.MkdirAll(dirname, dmod); err != nil {
		return nil, err
	}

	f, err := os.CreateTemp(dirname, "."+filepath.Base(name)+".tmp-*")
	if err != nil {
		return nil, err
	}
	if err := f.Chmod(fmod); err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, err
	}
	return &Pending{File: f, name: name}, nil
}

// Name returns the destination, not the temporary file.
func (p *Pending) Name() string {
	return p.name
}

// Commit moves the written content to its destination.
func (p *Pending) Commit() error {
	if p.done {
		return os.ErrClosed
	}
	p.done = true

	if err := p.File.Sync(); err != nil {
		p.File.Close()
		os.Remove(p.File.Name())
		return err
	}
	if err := p.File.Close(); err != nil {
		os.Remove(p.File.Name())
		return err
	}
	if err := os.Rename(p.File.Name(), p.name); err != nil {
		os.Remove(p.File.Name())
		return err
	}
	return nil
}

// Discard removes the temporary file. The destination is left as it was.
func (p *Pending) Discard() error {
	if p.done {
		return nil
	}
	p.done = true
	err := p.File.Close()
	if rerr := os.Remove(p.File.Name()); rerr != nil && !errors.Is(rerr, os.ErrNotExist) {
		return rerr
	}
	if errors.Is(err, os.ErrClosed) {
		return nil
	}
	return err
}
