package importer_test

import (
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/opst/importexec/pkg/importer"
	"github.com/opst/importexec/pkg/utils/try"
)

func TestCompare(t *testing.T) {
	write := func(t *testing.T, dir string, files map[string]string) {
		t.Helper()
		for name, content := range files {
			p := filepath.Join(dir, name)
			if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
				t.Fatal(err)
			}
			if err := os.WriteFile(p, []byte(content), 0644); err != nil {
				t.Fatal(err)
			}
		}
	}

	type When struct {
		produced map[string]string
		expected map[string]string
	}
	type Then struct {
		diffs []importer.Difference
	}

	theory := func(when When, then Then) func(*testing.T) {
		return func(t *testing.T) {
			produced, expected := t.TempDir(), t.TempDir()
			write(t, produced, when.produced)
			write(t, expected, when.expected)

			got := try.To(importer.Compare(produced, expected)).OrFatal(t)
			if !slices.Equal(got, then.diffs) {
				t.Errorf("got %v, want %v", got, then.diffs)
			}
		}
	}

	t.Run("same files", theory(
		When{
			produced: map[string]string{"a.csv": "x\ny\n", "sub/b.tmcf": "z\n", ".tmp": "ignored"},
			expected: map[string]string{"a.csv": "x\ny\n", "sub/b.tmcf": "z\n"},
		},
		Then{diffs: []importer.Difference{}},
	))

	t.Run("missing, unexpected and different files", theory(
		When{
			produced: map[string]string{"a.csv": "x\nY\n", "c.csv": "new"},
			expected: map[string]string{"a.csv": "x\ny\n", "b.csv": "old"},
		},
		Then{diffs: []importer.Difference{
			{Name: "a.csv", Kind: importer.Differs, Line: 2},
			{Name: "b.csv", Kind: importer.Missing},
			{Name: "c.csv", Kind: importer.Unexpected},
		}},
	))

	t.Run("trailing line", theory(
		When{
			produced: map[string]string{"a.csv": "x\n"},
			expected: map[string]string{"a.csv": "x\ny\n"},
		},
		Then{diffs: []importer.Difference{{Name: "a.csv", Kind: importer.Differs, Line: 2}}},
	))
}

func TestStatVarName(t *testing.T) {
	for col, want := range map[string]string{
		"Data_Value":       "County_Data_Value",
		"Total Population": "County_Total_Population",
		"pct (%)":          "County_pct",
	} {
		if got := importer.StatVarName("County", col); got != want {
			t.Errorf("%q: got %s, want %s", col, got, want)
		}
	}
}
