package kubeutil_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/opst/importexec/pkg/kubeutil"
)

func TestKubeconfig(t *testing.T) {
	dir := t.TempDir()
	present := filepath.Join(dir, "config")
	if err := os.WriteFile(present, []byte("apiVersion: v1\nkind: Config\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Run("explicit file wins over KUBECONFIG", func(t *testing.T) {
		t.Setenv("KUBECONFIG", filepath.Join(dir, "other"))
		if got := kubeutil.Kubeconfig(present); got != present {
			t.Errorf("got %q", got)
		}
	})

	t.Run("KUBECONFIG is used when no explicit file", func(t *testing.T) {
		t.Setenv("KUBECONFIG", present)
		if got := kubeutil.Kubeconfig(""); got != present {
			t.Errorf("got %q", got)
		}
	})

	t.Run("missing file means in-cluster", func(t *testing.T) {
		t.Setenv("KUBECONFIG", "")
		if got := kubeutil.Kubeconfig(filepath.Join(dir, "missing")); got != "" {
			t.Errorf("got %q", got)
		}
	})

	t.Run("directory means in-cluster", func(t *testing.T) {
		if got := kubeutil.Kubeconfig(dir); got != "" {
			t.Errorf("got %q", got)
		}
	})
}
