package importer

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

var (
	ErrMalformedCSV    = errors.New("importer: malformed csv")
	ErrEmptyHeader     = fmt.Errorf("%w: header is empty", ErrMalformedCSV)
	ErrBlankColumn     = fmt.Errorf("%w: blank column name", ErrMalformedCSV)
	ErrDuplicateColumn = fmt.Errorf("%w: duplicated column name", ErrMalformedCSV)
	ErrFieldCount      = fmt.Errorf("%w: wrong number of fields", ErrMalformedCSV)
	ErrNoRows          = fmt.Errorf("%w: no data rows", ErrMalformedCSV)
)

const bom = "\ufeff"

// readTracker remembers an error of the underlying reader, to tell
// failures of transfer from malformed content.
type readTracker struct {
	r   io.Reader
	err error
}

func (t *readTracker) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if err != nil && !errors.Is(err, io.EOF) {
		t.err = err
	}
	return n, err
}

// cleanCSV reads CSV from src, validates it and writes the cleaned CSV to dst.
//
// Each cell is trimmed, blank rows are dropped and lines end with "\n".
//
// # Returns
//
// - []string: the cleaned header
//
// - Stage: the stage which failed, when error is not nil.
func cleanCSV(ctx context.Context, src io.Reader, dst io.Writer) ([]string, Stage, error) {
	tracker := &readTracker{r: src}
	r := csv.NewReader(bufio.NewReader(tracker))
	r.FieldsPerRecord = -1
	r.ReuseRecord = true

	readErr := func(err error) (Stage, error) {
		if tracker.err != nil {
			return StageDownload, tracker.err
		}
		return StageValidate, fmt.Errorf("%w: %w", ErrMalformedCSV, err)
	}

	rawHeader, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, StageValidate, ErrEmptyHeader
	}
	if err != nil {
		stage, err := readErr(err)
		return nil, stage, err
	}
	header, err := cleanHeader(rawHeader)
	if err != nil {
		return nil, StageValidate, err
	}

	w := csv.NewWriter(dst)
	w.UseCRLF = false
	if err := w.Write(header); err != nil {
		return nil, StageTransform, err
	}

	rows := 0
	row := make([]string, len(header))
	for {
		if err := ctx.Err(); err != nil {
			return nil, StageDownload, err
		}

		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			stage, err := readErr(err)
			return nil, stage, err
		}

		line, _ := r.FieldPos(0)
		if len(rec) != len(header) {
			return nil, StageValidate, fmt.Errorf(
				"%w: line %d has %d fields, header has %d",
				ErrFieldCount, line, len(rec), len(header),
			)
		}

		blank := true
		for i, cell := range rec {
			row[i] = strings.TrimSpace(cell)
			if row[i] != "" {
				blank = false
			}
		}
		if blank {
			continue
		}
		if err := w.Write(row); err != nil {
			return nil, StageTransform, err
		}
		rows += 1
	}

	if rows == 0 {
		return nil, StageValidate, ErrNoRows
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, StageTransform, err
	}
	return header, "", nil
}

func cleanHeader(raw []string) ([]string, error) {
	header := make([]string, len(raw))
	seen := map[string]struct{}{}
	for i, col := range raw {
		if i == 0 {
			col = strings.TrimPrefix(col, bom)
		}
		col = strings.TrimSpace(col)
		if col == "" {
			return nil, fmt.Errorf("%w: column #%d", ErrBlankColumn, i+1)
		}
		if _, ok := seen[col]; ok {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateColumn, col)
		}
		seen[col] = struct{}{}
		header[i] = col
	}
	if len(header) == 0 {
		return nil, ErrEmptyHeader
	}
	return header, nil
}
