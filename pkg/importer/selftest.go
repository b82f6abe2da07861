package importer

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

type DiffKind string

const (
	// expected, but not produced
	Missing DiffKind = "missing"

	// produced, but not expected
	Unexpected DiffKind = "unexpected"

	// both exist, but contents differ
	Differs DiffKind = "differs"
)

type Difference struct {
	Name string
	Kind DiffKind

	// first differing line, 1-origin. 0 unless Kind is Differs.
	Line int
}

func (d Difference) String() string {
	if d.Kind == Differs {
		return fmt.Sprintf("%s: %s at line %d", d.Name, d.Kind, d.Line)
	}
	return fmt.Sprintf("%s: %s", d.Name, d.Kind)
}

// Compare regular files in the directories produced and expected.
//
// Differences are sorted by name. Both directories are read recursively, and
// hidden files (starting with ".") are ignored.
func Compare(produced, expected string) ([]Difference, error) {
	p, err := listFiles(produced)
	if err != nil {
		return nil, err
	}
	e, err := listFiles(expected)
	if err != nil {
		return nil, err
	}

	diffs := []Difference{}
	for name := range e {
		if _, ok := p[name]; !ok {
			diffs = append(diffs, Difference{Name: name, Kind: Missing})
			continue
		}
		got, err := os.ReadFile(filepath.Join(produced, name))
		if err != nil {
			return nil, err
		}
		want, err := os.ReadFile(filepath.Join(expected, name))
		if err != nil {
			return nil, err
		}
		if line := firstDifferentLine(got, want); line != 0 {
			diffs = append(diffs, Difference{Name: name, Kind: Differs, Line: line})
		}
	}
	for name := range p {
		if _, ok := e[name]; !ok {
			diffs = append(diffs, Difference{Name: name, Kind: Unexpected})
		}
	}

	sort.Slice(diffs, func(i, j int) bool { return diffs[i].Name < diffs[j].Name })
	return diffs, nil
}

func listFiles(root string) (map[string]struct{}, error) {
	files := map[string]struct{}{}
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path != root && len(d.Name()) != 0 && d.Name()[0] == '.' {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		files[filepath.ToSlash(rel)] = struct{}{}
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", root, err)
	}
	return files, err
}

// firstDifferentLine returns 0 when a and b are equal.
func firstDifferentLine(a, b []byte) int {
	if bytes.Equal(a, b) {
		return 0
	}
	la := bytes.SplitAfter(a, []byte("\n"))
	lb := bytes.SplitAfter(b, []byte("\n"))
	for i := 0; i < len(la) && i < len(lb); i++ {
		if !bytes.Equal(la[i], lb[i]) {
			return i + 1
		}
	}
	if len(la) < len(lb) {
		return len(la) + 1
	}
	return len(lb) + 1
}
