// Package importer downloads source files of a dataset and cleans them into
// artifacts: a normalized CSV and its template mapping file (.tmcf).
//
// Running the same configuration on the same inputs produces byte-identical
// artifacts. An artifact is written in a temporary file and renamed, so a
// failure never leaves a partial file. A cleaned CSV is renamed before its
// template; when the CSV can not be placed, prior output is left as it was.
package importer

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/labstack/gommon/log"
	"github.com/opst/importexec/pkg/buildtime"
	"github.com/opst/importexec/pkg/dataset"
	xio "github.com/opst/importexec/pkg/io"
	"golang.org/x/sync/errgroup"
)

type Stage string

const (
	StageDownload  Stage = "download"
	StageValidate  Stage = "validate"
	StageTransform Stage = "transform"
)

// StageError tells which stage of which parameter has failed.
type StageError struct {
	Stage    Stage
	FileName string
	GeoLevel dataset.GeoLevel
	Err      error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s %s (%s): %v", e.Stage, e.FileName, e.GeoLevel, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

var (
	ErrInvalidRequest = errors.New("importer: invalid request")
	ErrHTTPStatus     = errors.New("importer: unexpected http status")
)

// Artifact is a file written in the output directory.
type Artifact struct {
	// file name, relative to the output directory
	Name string

	// "sha256:<hex>"
	Digest string
}

// Outcome is the result of a parameter.
type Outcome struct {
	Parameter dataset.Parameter

	// Artifacts are written files. Empty when Err != nil.
	Artifacts []Artifact

	// nil or *StageError
	Err error
}

// Result lists outcomes in the order of parameters in the configuration.
type Result struct {
	Outcomes []Outcome
}

// Failures returns errors of failed parameters.
func (r Result) Failures() []*StageError {
	failures := []*StageError{}
	for _, o := range r.Outcomes {
		var serr *StageError
		if errors.As(o.Err, &serr) {
			failures = append(failures, serr)
		}
	}
	return failures
}

// Artifacts returns names of all written artifacts.
func (r Result) Artifacts() []string {
	names := []string{}
	for _, o := range r.Outcomes {
		for _, a := range o.Artifacts {
			names = append(names, a.Name)
		}
	}
	return names
}

// Err joins errors of all failed parameters. It is nil when all succeeded.
func (r Result) Err() error {
	errs := []error{}
	for _, o := range r.Outcomes {
		if o.Err != nil {
			errs = append(errs, o.Err)
		}
	}
	return errors.Join(errs...)
}

// Request is a job for Runner.
type Request struct {
	Config    dataset.Config
	OutputDir string
}

type Runner struct {
	client      *http.Client
	logger      *log.Logger
	concurrency int
}

type Option func(*Runner) *Runner

// WithHTTPClient sets the client for downloading.
//
// The client should support the URL schemes a configuration uses.
func WithHTTPClient(c *http.Client) Option {
	return func(r *Runner) *Runner {
		r.client = c
		return r
	}
}

// WithConcurrency sets the number of parameters processed at once. Default: 4.
func WithConcurrency(n int) Option {
	return func(r *Runner) *Runner {
		if 0 < n {
			r.concurrency = n
		}
		return r
	}
}

func WithLogger(l *log.Logger) Option {
	return func(r *Runner) *Runner {
		r.logger = l
		return r
	}
}

// DefaultHTTPClient returns a client which can fetch http, https and file URLs.
func DefaultHTTPClient() *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.RegisterProtocol("file", http.NewFileTransport(http.Dir("/")))
	return &http.Client{Transport: transport}
}

func New(options ...Option) *Runner {
	r := &Runner{concurrency: 4}
	for _, opt := range options {
		r = opt(r)
	}
	if r.client == nil {
		r.client = DefaultHTTPClient()
	}
	if r.logger == nil {
		r.logger = log.New("importer")
	}
	return r
}

// Run downloads, validates and transforms each parameter of req.Config.
//
// # Returns
//
// - Result: outcome per parameter. A failure of a parameter does not stop others.
//
// - error: ErrInvalidRequest when the request itself is not runnable.
// Failures of parameters are not returned here; see Result.Err.
func (r *Runner) Run(ctx context.Context, req Request) (Result, error) {
	return r.each(ctx, req, r.clean)
}

// Download saves source files of req.Config as they are, without cleaning.
func (r *Runner) Download(ctx context.Context, req Request) (Result, error) {
	return r.each(ctx, req, r.save)
}

type step func(ctx context.Context, outdir string, year int, p dataset.Parameter) ([]Artifact, error)

func (r *Runner) each(ctx context.Context, req Request, do step) (Result, error) {
	if err := req.Config.Validate(); err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	if req.OutputDir == "" {
		return Result{}, fmt.Errorf("%w: output directory is not specified", ErrInvalidRequest)
	}
	if err := os.MkdirAll(req.OutputDir, os.FileMode(0755)); err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	outcomes := make([]Outcome, len(req.Config.Parameters))
	eg := new(errgroup.Group)
	eg.SetLimit(r.concurrency)
	for nth, p := range req.Config.Parameters {
		outcomes[nth].Parameter = p
		eg.Go(func() error {
			arts, err := do(ctx, req.OutputDir, req.Config.ReleaseYear, p)
			if err != nil {
				r.logger.Warnf("%s: %s", p.FileName, err)
				outcomes[nth].Err = err
				return nil
			}
			r.logger.Infof("%s: done (%d artifacts)", p.FileName, len(arts))
			outcomes[nth].Artifacts = arts
			return nil
		})
	}
	eg.Wait()

	return Result{Outcomes: outcomes}, nil
}

func stageError(stage Stage, p dataset.Parameter, err error) *StageError {
	return &StageError{Stage: stage, FileName: p.FileName, GeoLevel: p.FileType, Err: err}
}

// fetch opens the source of p. Caller should close it.
func (r *Runner) fetch(ctx context.Context, p dataset.Parameter) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, nil)
	if err != nil {
		return nil, stageError(StageDownload, p, err)
	}
	req.Header.Set("User-Agent", buildtime.UserAgent())
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, stageError(StageDownload, p, err)
	}
	if resp.StatusCode < 200 || 300 <= resp.StatusCode {
		resp.Body.Close()
		return nil, stageError(
			StageDownload, p, fmt.Errorf("%w: %s", ErrHTTPStatus, resp.Status),
		)
	}
	return resp.Body, nil
}

func digest(sum []byte) string {
	return "sha256:" + hex.EncodeToString(sum)
}

func (r *Runner) save(ctx context.Context, outdir string, _ int, p dataset.Parameter) ([]Artifact, error) {
	body, err := r.fetch(ctx, p)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	dest, err := xio.CreatePending(filepath.Join(outdir, p.FileName), 0644, 0755)
	if err != nil {
		return nil, stageError(StageDownload, p, err)
	}
	defer dest.Discard()

	w := xio.NewSHA256Writer(dest)
	if _, err := io.Copy(w, body); err != nil {
		return nil, stageError(StageDownload, p, err)
	}
	if err := dest.Commit(); err != nil {
		return nil, stageError(StageDownload, p, err)
	}
	return []Artifact{{Name: p.FileName, Digest: digest(w.Sum())}}, nil
}

func (r *Runner) clean(ctx context.Context, outdir string, year int, p dataset.Parameter) ([]Artifact, error) {
	body, err := r.fetch(ctx, p)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	csvDest, err := xio.CreatePending(filepath.Join(outdir, p.FileName), 0644, 0755)
	if err != nil {
		return nil, stageError(StageTransform, p, err)
	}
	defer csvDest.Discard()

	csvSum := xio.NewSHA256Writer(csvDest)
	header, stage, err := cleanCSV(ctx, body, csvSum)
	if err != nil {
		return nil, stageError(stage, p, err)
	}

	tmplName := p.TemplateName()
	tmplDest, err := xio.CreatePending(filepath.Join(outdir, tmplName), 0644, 0755)
	if err != nil {
		return nil, stageError(StageTransform, p, err)
	}
	defer tmplDest.Discard()

	tmplSum := xio.NewSHA256Writer(tmplDest)
	if err := writeTemplate(tmplSum, p, year, header); err != nil {
		return nil, stageError(StageTransform, p, err)
	}

	// The CSV goes first: the template is placed only after its CSV is.
	// When placing the template fails, the new CSV sits beside the prior
	// template and the parameter fails; the next run rewrites both.
	if err := csvDest.Commit(); err != nil {
		return nil, stageError(StageTransform, p, err)
	}
	if err := tmplDest.Commit(); err != nil {
		return nil, stageError(StageTransform, p, err)
	}

	return []Artifact{
		{Name: p.FileName, Digest: digest(csvSum.Sum())},
		{Name: tmplName, Digest: digest(tmplSum.Sum())},
	}, nil
}
