package sync_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/opst/importexec/cmd/importctl/subcommands/internal/commandline"
	"github.com/opst/importexec/cmd/importctl/subcommands/logger"
	subsync "github.com/opst/importexec/cmd/importctl/subcommands/sync"
	"github.com/opst/importexec/cmd/importctl/subcommands/sync/check"
	"github.com/opst/importexec/cmd/importctl/subcommands/sync/publish"
	"github.com/opst/importexec/cmd/importctl/subcommands/sync/source"
	"github.com/youta-t/flarc"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/kubernetes/fake"
)

const executorYaml = `
outputDir: ./out
datasets:
  county:
    config: ./county.json
    remote:
      configMap:
        namespace: importer
        name: dataset-configs
        key: county.json
  local:
    config: ./local.json
`

const countyJson = `{"release_year": 2022, "parameter": [
  {"URL": "https://data.example.com/county.csv", "FILE_TYPE": "County", "FILE_NAME": "county_raw_data_2022.csv"}
]}`

const localJson = `{"release_year": 2023, "parameter": [
  {"URL": "https://data.example.com/city.csv", "FILE_TYPE": "City", "FILE_NAME": "city_raw_data_2023.csv"}
]}`

func setup(t *testing.T) (source.Flag, source.Connect, string) {
	t.Helper()
	dir := t.TempDir()
	for name, content := range map[string]string{
		"executor.yaml": executorYaml,
		"county.json":   countyJson,
		"local.json":    localJson,
	} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	client := fake.NewSimpleClientset()
	connect := func(string) (kubernetes.Interface, error) { return client, nil }
	return source.Flag{Config: filepath.Join(dir, "executor.yaml")}, connect, dir
}

func runCheck(t *testing.T, flag source.Flag, connect source.Connect, datasets ...string) (string, error) {
	t.Helper()
	stdout := new(strings.Builder)
	err := check.Task(connect)(
		context.Background(), logger.ForTest(t),
		commandline.MockCommandline[struct{}]{
			Fullname_: "importctl sync check",
			Stdout_:   stdout,
			Stderr_:   new(strings.Builder),
			Args_:     map[string][]string{check.ARG_DATASET: datasets},
		},
		[]any{flag},
	)
	return stdout.String(), err
}

func runPublish(t *testing.T, flag source.Flag, connect source.Connect, datasets ...string) (string, error) {
	t.Helper()
	stdout := new(strings.Builder)
	err := publish.Task(connect)(
		context.Background(), logger.ForTest(t),
		commandline.MockCommandline[struct{}]{
			Fullname_: "importctl sync publish",
			Stdout_:   stdout,
			Stderr_:   new(strings.Builder),
			Args_:     map[string][]string{publish.ARG_DATASET: datasets},
		},
		[]any{flag},
	)
	return stdout.String(), err
}

func TestSync(t *testing.T) {
	flag, connect, dir := setup(t)

	t.Run("missing remote copy is NG", func(t *testing.T) {
		stdout, err := runCheck(t, flag, connect)
		if !errors.Is(err, check.ErrNotInSync) {
			t.Errorf("unexpected error: %v", err)
		}
		lines := strings.Split(strings.TrimSpace(stdout), "\n")
		if len(lines) != 2 ||
			!strings.HasPrefix(lines[0], "county\tNG\t") ||
			!strings.HasPrefix(lines[1], "local\tlocal-only\t") {
			t.Errorf("stdout:\n%s", stdout)
		}
	})

	t.Run("published dataset is in sync", func(t *testing.T) {
		stdout, err := runPublish(t, flag, connect, "county")
		if err != nil {
			t.Fatal(err)
		}
		if !strings.HasPrefix(stdout, "county\tsha256:") {
			t.Errorf("publish stdout: %s", stdout)
		}

		stdout, err = runCheck(t, flag, connect)
		if err != nil {
			t.Errorf("unexpected error: %v\n%s", err, stdout)
		}
		if !strings.Contains(stdout, "county\tin-sync\t") {
			t.Errorf("check stdout: %s", stdout)
		}
	})

	t.Run("modified local copy is drift", func(t *testing.T) {
		modified := strings.Replace(countyJson, "county.csv", "county-v2.csv", 1)
		if err := os.WriteFile(filepath.Join(dir, "county.json"), []byte(modified), 0o644); err != nil {
			t.Fatal(err)
		}
		stdout, err := runCheck(t, flag, connect, "county")
		if !errors.Is(err, check.ErrNotInSync) {
			t.Errorf("unexpected error: %v", err)
		}
		if !strings.Contains(stdout, "drifted") {
			t.Errorf("stdout: %s", stdout)
		}
	})

	t.Run("dataset without remote can not be published", func(t *testing.T) {
		if _, err := runPublish(t, flag, connect, "local"); !errors.Is(err, flarc.ErrUsage) {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("unknown dataset is usage error", func(t *testing.T) {
		if _, err := runCheck(t, flag, connect, "unknown"); !errors.Is(err, flarc.ErrUsage) {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("config is required", func(t *testing.T) {
		if _, err := runCheck(t, source.Flag{}, connect); !errors.Is(err, flarc.ErrUsage) {
			t.Errorf("unexpected error: %v", err)
		}
	})
}

func TestNew(t *testing.T) {
	if _, err := subsync.New(nil); err != nil {
		t.Fatal(err)
	}
}
