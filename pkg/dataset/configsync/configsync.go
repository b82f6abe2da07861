// Package configsync keeps the remote copy of a dataset configuration in
// sync with the local copy.
//
// The local file is the source of truth. The remote copy is a cache
// generated by Publish, and Check tells whether both are byte-for-byte
// identical before an import runs.
package configsync

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"

	"github.com/opst/importexec/pkg/dataset"
)

var (
	// ErrDrift is returned when the local and remote copies differ.
	ErrDrift = errors.New("configsync: local and remote copies have drifted")

	// ErrRemoteMissing is returned when the remote copy does not exist.
	ErrRemoteMissing = errors.New("configsync: remote copy is missing")
)

// Stamp identifies content of a copy.
type Stamp struct {
	Digest string
	Size   int
}

func StampOf(content []byte) Stamp {
	sum := sha256.Sum256(content)
	return Stamp{Digest: "sha256:" + hex.EncodeToString(sum[:]), Size: len(content)}
}

func (s Stamp) String() string {
	return fmt.Sprintf("%s (%d bytes)", s.Digest, s.Size)
}

// Remote is where the remote copy is stored.
type Remote interface {
	// Location of the remote copy, for humans.
	Location() string

	// Fetch returns content of the remote copy.
	//
	// It returns an error wrapping ErrRemoteMissing when the copy does not exist.
	Fetch(ctx context.Context) ([]byte, error)

	// Publish replaces the remote copy with content.
	Publish(ctx context.Context, content []byte, stamp Stamp) error
}

// Report is the result of a check.
type Report struct {
	Local  Stamp
	Remote Stamp

	// Location of the remote copy.
	Location string
}

func (r Report) InSync() bool {
	return r.Local == r.Remote
}

// Check compares the local content with the remote copy.
//
// # Returns
//
// - Report: stamps of both copies. Remote stamp is zero when the remote copy is missing.
//
// - error: ErrDrift when they differ, ErrRemoteMissing when the remote copy does not exist,
// or other errors on fetching the remote copy.
func Check(ctx context.Context, local []byte, remote Remote) (Report, error) {
	rep := Report{Local: StampOf(local), Location: remote.Location()}

	rcontent, err := remote.Fetch(ctx)
	if err != nil {
		return rep, err
	}
	rep.Remote = StampOf(rcontent)

	if !rep.InSync() {
		return rep, fmt.Errorf(
			"%w: local = %s, remote (%s) = %s",
			ErrDrift, rep.Local, rep.Location, rep.Remote,
		)
	}
	return rep, nil
}

// Publish overwrites the remote copy with the local content.
//
// The content is validated as a dataset configuration before publishing,
// so that an invalid record does not reach the remote.
func Publish(ctx context.Context, local []byte, remote Remote) (Stamp, error) {
	if _, err := dataset.Parse(local); err != nil {
		return Stamp{}, err
	}
	stamp := StampOf(local)
	if err := remote.Publish(ctx, local, stamp); err != nil {
		return Stamp{}, err
	}
	return stamp, nil
}

// Source is a pair of a local file and its remote copy.
type Source struct {
	LocalPath string
	Remote    Remote
}

// Load reads the local file, checks it against the remote copy,
// and returns the parsed record.
//
// When remote is nil, the check is skipped; the local file is the only copy.
func (s Source) Load(ctx context.Context) (dataset.Config, Report, error) {
	conf, raw, err := dataset.Load(s.LocalPath)
	if err != nil {
		return dataset.Config{}, Report{}, err
	}
	if s.Remote == nil {
		st := StampOf(raw)
		return conf, Report{Local: st, Remote: st, Location: s.LocalPath}, nil
	}
	rep, err := Check(ctx, raw, s.Remote)
	if err != nil {
		return dataset.Config{}, rep, err
	}
	return conf, rep, nil
}

// Publish publishes the local file to the remote copy.
func (s Source) Publish(ctx context.Context) (Stamp, error) {
	if s.Remote == nil {
		return Stamp{}, errors.New("configsync: no remote is configured")
	}
	raw, err := os.ReadFile(s.LocalPath)
	if err != nil {
		return Stamp{}, err
	}
	return Publish(ctx, raw, s.Remote)
}
