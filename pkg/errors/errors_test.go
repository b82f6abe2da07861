package errors_test

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
	"testing"

	xe "github.com/opst/importexec/pkg/errors"
)

type MyErr struct{}

func (MyErr) Error() string {
	return "error type for test"
}

func createError(message string) error {
	return xe.New(message)
}

func TestNewError(t *testing.T) {
	t.Run("it knows location where it is created.", func(t *testing.T) {
		errMessage := createError("test error").Error()

		_, thisFile, _, _ := runtime.Caller(0)

		if !strings.Contains(errMessage, "createError") {
			t.Errorf("it does not know function name: %s", errMessage)
		}
		if !strings.Contains(errMessage, thisFile) {
			t.Errorf("it does not know file (%s): %s", thisFile, errMessage)
		}
	})

	t.Run("it supports errors protocol", func(t *testing.T) {
		rootError := MyErr{}
		err := xe.WrapWithNote("note", fmt.Errorf("%w", rootError))

		if !errors.Is(err, rootError) {
			t.Error("it does not support unwrapping.")
		}
		if !strings.Contains(err.Error(), "(note)") {
			t.Errorf("note is missing: %s", err)
		}
	})

	t.Run("it keeps nil as nil", func(t *testing.T) {
		if err := xe.Wrap(nil); err != nil {
			t.Errorf("Wrap(nil) = %v", err)
		}
	})
}
