package common

import (
	"errors"
	"fmt"
	"io"
	"log"

	"github.com/opst/importexec/pkg/importer"
)

var ErrImportFailed = errors.New("import failed")

// Report writes artifact names to w, and logs failures.
//
// It returns ErrImportFailed if any parameter has failed.
func Report(logger *log.Logger, w io.Writer, result importer.Result) error {
	for _, name := range result.Artifacts() {
		fmt.Fprintln(w, name)
	}

	failures := result.Failures()
	for _, f := range failures {
		logger.Printf("FAILED: %s", f)
	}
	if len(failures) != 0 {
		return fmt.Errorf(
			"%w: %d of %d files", ErrImportFailed, len(failures), len(result.Outcomes),
		)
	}
	return nil
}
