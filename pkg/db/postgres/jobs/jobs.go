// Package jobs is a PostgreSQL implementation of jobs.Store.
package jobs

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgtype"
	kpool "github.com/opst/importexec/pkg/conn/db/postgres/pool"
	"github.com/opst/importexec/pkg/conn/db/postgres/scanner"
	xe "github.com/opst/importexec/pkg/errors"
	"github.com/opst/importexec/pkg/jobs"
)

//go:embed schema.sql
var schema string

type pgJobStore struct {
	pool kpool.Pool
}

var _ jobs.Store = &pgJobStore{}

// New creates a jobs.Store on pool.
func New(pool kpool.Pool) jobs.Store {
	return &pgJobStore{pool: pool}
}

// Migrate creates tables for jobs, if missing.
func Migrate(ctx context.Context, pool kpool.Pool) error {
	return kpool.InTx(ctx, pool, func(tx kpool.Tx) error {
		_, err := tx.Exec(ctx, schema)
		return xe.Wrap(err)
	})
}

type jobRow struct {
	Id         string
	Dataset    string
	Status     string
	Error      string
	Failures   []byte
	Artifacts  []string
	CreatedAt  time.Time
	StartedAt  pgtype.Timestamptz
	FinishedAt pgtype.Timestamptz
}

func timestamptz(t *time.Time) pgtype.Timestamptz {
	if t == nil {
		return pgtype.Timestamptz{Status: pgtype.Null}
	}
	return pgtype.Timestamptz{Time: *t, Status: pgtype.Present}
}

func timeOf(ts pgtype.Timestamptz) *time.Time {
	if ts.Status != pgtype.Present {
		return nil
	}
	t := ts.Time
	return &t
}

func (r jobRow) job() (jobs.Job, error) {
	failures := []jobs.Failure{}
	if err := json.Unmarshal(r.Failures, &failures); err != nil {
		return jobs.Job{}, xe.WrapWithNote("job "+r.Id, err)
	}
	artifacts := r.Artifacts
	if artifacts == nil {
		artifacts = []string{}
	}
	return jobs.Job{
		Id:         r.Id,
		Dataset:    r.Dataset,
		Status:     jobs.Status(r.Status),
		Error:      r.Error,
		Failures:   failures,
		Artifacts:  artifacts,
		CreatedAt:  r.CreatedAt,
		StartedAt:  timeOf(r.StartedAt),
		FinishedAt: timeOf(r.FinishedAt),
	}, nil
}

func marshalFailures(f []jobs.Failure) ([]byte, error) {
	if f == nil {
		f = []jobs.Failure{}
	}
	return json.Marshal(f)
}

func artifactsOf(j jobs.Job) []string {
	if j.Artifacts == nil {
		return []string{}
	}
	return j.Artifacts
}

func (s *pgJobStore) Insert(ctx context.Context, job jobs.Job) error {
	failures, err := marshalFailures(job.Failures)
	if err != nil {
		return xe.Wrap(err)
	}

	_, err = s.pool.Exec(
		ctx,
		`
		insert into "import_job"
			("id", "dataset", "status", "error", "failures", "artifacts",
			 "created_at", "started_at", "finished_at")
		values ($1, $2, $3, $4, $5::jsonb, $6, $7, $8, $9)
		`,
		job.Id, job.Dataset, string(job.Status), job.Error, string(failures), artifactsOf(job),
		job.CreatedAt, timestamptz(job.StartedAt), timestamptz(job.FinishedAt),
	)
	if pgerr := new(pgconn.PgError); errors.As(err, &pgerr) && pgerr.Code == pgerrcode.UniqueViolation {
		return fmt.Errorf("%w: job %s", jobs.ErrConflict, job.Id)
	}
	return xe.Wrap(err)
}

func (s *pgJobStore) Update(ctx context.Context, job jobs.Job) error {
	failures, err := marshalFailures(job.Failures)
	if err != nil {
		return xe.Wrap(err)
	}

	tag, err := s.pool.Exec(
		ctx,
		`
		update "import_job"
		set
			"dataset" = $2, "status" = $3, "error" = $4, "failures" = $5::jsonb,
			"artifacts" = $6, "started_at" = $7, "finished_at" = $8
		where "id" = $1
		`,
		job.Id, job.Dataset, string(job.Status), job.Error, string(failures), artifactsOf(job),
		timestamptz(job.StartedAt), timestamptz(job.FinishedAt),
	)
	if err != nil {
		return xe.Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: job %s", jobs.ErrNotFound, job.Id)
	}
	return nil
}

const selectJob = `
	select
		"id"::text as "id", "dataset", "status", "error", "failures",
		"artifacts", "created_at", "started_at", "finished_at"
	from "import_job"
`

func (s *pgJobStore) Get(ctx context.Context, id string) (jobs.Job, error) {
	if _, err := uuid.Parse(id); err != nil {
		return jobs.Job{}, fmt.Errorf("%w: job %s", jobs.ErrNotFound, id)
	}
	row, ok, err := scanner.New[jobRow]().QueryOne(
		ctx, s.pool, selectJob+` where "id" = $1`, id,
	)
	if err != nil {
		return jobs.Job{}, xe.Wrap(err)
	}
	if !ok {
		return jobs.Job{}, fmt.Errorf("%w: job %s", jobs.ErrNotFound, id)
	}
	return row.job()
}

func (s *pgJobStore) List(ctx context.Context, dataset string, limit int) ([]jobs.Job, error) {
	var lim interface{}
	if 0 < limit {
		lim = limit
	}

	rows, err := scanner.New[jobRow]().QueryAll(
		ctx, s.pool,
		selectJob+`
		where $1 = '' or "dataset" = $1
		order by "created_at" desc, "id"
		limit $2
		`,
		dataset, lim,
	)
	if err != nil {
		return nil, xe.Wrap(err)
	}

	ret := make([]jobs.Job, 0, len(rows))
	for _, r := range rows {
		j, err := r.job()
		if err != nil {
			return nil, err
		}
		ret = append(ret, j)
	}
	return ret, nil
}
