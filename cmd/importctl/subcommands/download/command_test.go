package download_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/opst/importexec/cmd/importctl/subcommands/common"
	"github.com/opst/importexec/cmd/importctl/subcommands/download"
	"github.com/opst/importexec/cmd/importctl/subcommands/internal/commandline"
	"github.com/opst/importexec/cmd/importctl/subcommands/logger"
	"github.com/opst/importexec/pkg/utils/try"
)

var source = filepath.Join("..", "..", "..", "..", "pkg", "importer", "testdata", "source", "county_raw_data_2022.csv")

// names of files in the dataset config, in order.
var fileNames = []string{"county_raw_data_2022.csv", "county_extra_2022.csv"}

func writeConfig(t *testing.T, urls ...string) string {
	t.Helper()
	params := []string{}
	for nth, u := range urls {
		params = append(params, fmt.Sprintf(
			`{"URL": %q, "FILE_TYPE": "County", "FILE_NAME": %q}`, u, fileNames[nth],
		))
	}
	path := filepath.Join(t.TempDir(), "config.json")
	content := fmt.Sprintf(`{"release_year": 2022, "parameter": [%s]}`, strings.Join(params, ","))
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDownload(t *testing.T) {
	abs := try.To(filepath.Abs(source)).OrFatal(t)
	fileURL := "file://" + filepath.ToSlash(abs)

	t.Run("it saves files as they are", func(t *testing.T) {
		out := t.TempDir()
		stdout := new(strings.Builder)
		err := download.Task()(
			context.Background(), logger.ForTest(t),
			commandline.MockCommandline[download.Flag]{
				Fullname_: "importctl download",
				Stdout_:   stdout,
				Stderr_:   new(strings.Builder),
				Flags_:    download.Flag{Config: writeConfig(t, fileURL), Out: out},
			},
			[]any{},
		)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got := strings.TrimSpace(stdout.String()); got != "county_raw_data_2022.csv" {
			t.Errorf("stdout: %q", got)
		}

		want := try.To(os.ReadFile(source)).OrFatal(t)
		got := try.To(os.ReadFile(filepath.Join(out, "county_raw_data_2022.csv"))).OrFatal(t)
		if !bytes.Equal(got, want) {
			t.Error("downloaded file is not same as the source")
		}
	})

	t.Run("a failed file does not stop others", func(t *testing.T) {
		svr := httptest.NewServer(http.NotFoundHandler())
		defer svr.Close()

		out := t.TempDir()
		stdout := new(strings.Builder)
		err := download.Task()(
			context.Background(), logger.ForTest(t),
			commandline.MockCommandline[download.Flag]{
				Fullname_: "importctl download",
				Stdout_:   stdout,
				Stderr_:   new(strings.Builder),
				Flags_: download.Flag{
					Config: writeConfig(t, fileURL, svr.URL+"/missing.csv"),
					Out:    out,
				},
			},
			[]any{},
		)
		if !errors.Is(err, common.ErrImportFailed) {
			t.Errorf("unexpected error: %v", err)
		}
		if got := strings.TrimSpace(stdout.String()); got != "county_raw_data_2022.csv" {
			t.Errorf("stdout: %q", got)
		}
		if _, err := os.Stat(filepath.Join(out, "county_extra_2022.csv")); !errors.Is(err, os.ErrNotExist) {
			t.Errorf("failed file exists: %v", err)
		}
	})

	t.Run("missing config is an error", func(t *testing.T) {
		err := download.Task()(
			context.Background(), logger.ForTest(t),
			commandline.MockCommandline[download.Flag]{
				Stdout_: new(strings.Builder),
				Stderr_: new(strings.Builder),
				Flags_:  download.Flag{Config: filepath.Join(t.TempDir(), "missing.json"), Out: t.TempDir()},
			},
			[]any{},
		)
		if !errors.Is(err, os.ErrNotExist) {
			t.Errorf("unexpected error: %v", err)
		}
	})
}

func TestNew(t *testing.T) {
	if _, err := download.New(); err != nil {
		t.Fatal(err)
	}
}
