package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	binderr "github.com/opst/importexec/pkg/api-types-binding/errors"
	bindimports "github.com/opst/importexec/pkg/api-types-binding/imports"
	apiimports "github.com/opst/importexec/pkg/api/types/imports"
	"github.com/opst/importexec/pkg/dataset/configsync"
	"github.com/opst/importexec/pkg/jobs"
	"github.com/opst/importexec/pkg/lifecycle"
)

// Datasets checks a dataset config before accepting its import.
//
// *configsync.Watcher implements this.
type Datasets interface {
	// Check returns the result of checking the dataset named name.
	//
	// When there are no such datasets, ok is false.
	Check(ctx context.Context, name string) (st configsync.Status, ok bool)
}

// Queue accepts import jobs. *jobs.Dispatcher implements this.
type Queue interface {
	Submit(ctx context.Context, dataset string) (jobs.Job, error)
	Wait(ctx context.Context, id string) (jobs.Job, error)
	Get(ctx context.Context, id string) (jobs.Job, error)
	List(ctx context.Context, dataset string, limit int) ([]jobs.Job, error)
}

// HealthHandler responds 200 only while the replica accepts new imports.
//
// Load balancers and readiness probes call it. It only reads the state.
func HealthHandler(lc *lifecycle.Lifecycle, bounce string) echo.HandlerFunc {
	return func(c echo.Context) error {
		return health(c, lc.State(), bounce)
	}
}

// StartupHandler is HealthHandler for the startup probe of the kubelet.
//
// Each call while Starting counts as a failed startup probe;
// see lifecycle.Lifecycle.Probe. Route nothing else to it.
func StartupHandler(lc *lifecycle.Lifecycle, bounce string) echo.HandlerFunc {
	return func(c echo.Context) error {
		return health(c, lc.Probe(), bounce)
	}
}

func health(c echo.Context, state lifecycle.State, bounce string) error {
	body := apiimports.Health{State: state.String(), Bounce: bounce}
	if state != lifecycle.Ready {
		return c.JSON(http.StatusServiceUnavailable, body)
	}
	return c.JSON(http.StatusOK, body)
}

// TriggerHandler queues an import of the dataset named in the path parameter.
//
// With query "wait=true", it waits for the job up to waitTimeout.
// When the job is still running after that, the response is 202 Accepted.
func TriggerHandler(lc *lifecycle.Lifecycle, ds Datasets, q Queue, waitTimeout time.Duration, param string) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		name := c.Param(param)

		wait := false
		if w := c.QueryParam("wait"); w != "" {
			b, err := strconv.ParseBool(w)
			if err != nil {
				return binderr.BadRequest(`query "wait" should be true or false`, err)
			}
			wait = b
		}

		if st := lc.State(); st != lifecycle.Ready {
			return binderr.ServiceUnavailable(
				"replica is "+st.String()+". retry later.", nil,
			)
		}

		st, ok := ds.Check(ctx, name)
		if !ok {
			return binderr.NotFound()
		}
		if err := st.Err; err != nil {
			advice := "fix the local dataset config"
			if errors.Is(err, configsync.ErrDrift) || errors.Is(err, configsync.ErrRemoteMissing) {
				advice = "publish the local dataset config to its remote copy"
			}
			return binderr.ConfigNotReady(
				"dataset config is not ready: "+err.Error(),
				binderr.WithAdvice(advice), binderr.WithError(err),
			)
		}

		job, err := q.Submit(ctx, name)
		if errors.Is(err, jobs.ErrQueueFull) || errors.Is(err, jobs.ErrClosed) {
			return binderr.ServiceUnavailable("retry later", err)
		} else if err != nil {
			return binderr.InternalServerError(err)
		}

		if !wait {
			return c.JSON(http.StatusAccepted, bindimports.ComposeDetail(job))
		}

		wctx, cancel := context.WithTimeout(ctx, waitTimeout)
		defer cancel()
		job, err = q.Wait(wctx, job.Id)
		if err != nil {
			return binderr.InternalServerError(err)
		}
		if err := ctx.Err(); err != nil {
			// the request itself has timed out. echoutil.Deadline responds.
			return err
		}

		detail := bindimports.ComposeDetail(job)
		switch job.Status {
		case jobs.Succeeded:
			return c.JSON(http.StatusOK, detail)
		case jobs.Failed:
			return c.JSON(http.StatusInternalServerError, detail)
		case jobs.Canceled:
			return c.JSON(http.StatusServiceUnavailable, detail)
		default:
			return c.JSON(http.StatusAccepted, detail)
		}
	}
}

// GetJobHandler responds the job whose id is in the path parameter.
//
// notFound configures the response for unknown job ids.
func GetJobHandler(q Queue, param string, notFound ...binderr.ErrorMessageOption) echo.HandlerFunc {
	return func(c echo.Context) error {
		job, err := q.Get(c.Request().Context(), c.Param(param))
		if errors.Is(err, jobs.ErrNotFound) {
			return binderr.NotFound(notFound...)
		} else if err != nil {
			return binderr.InternalServerError(err)
		}
		return c.JSON(http.StatusOK, bindimports.ComposeDetail(job))
	}
}

// ListJobsHandler lists jobs, newest first.
//
// Queries "dataset" and "limit" (default: 20) narrow the result.
func ListJobsHandler(q Queue) echo.HandlerFunc {
	return func(c echo.Context) error {
		limit := 20
		if l := c.QueryParam("limit"); l != "" {
			n, err := strconv.Atoi(l)
			if err != nil || n < 1 {
				return binderr.BadRequest(`query "limit" should be a positive integer`, err)
			}
			limit = n
		}

		found, err := q.List(c.Request().Context(), c.QueryParam("dataset"), limit)
		if err != nil {
			return binderr.InternalServerError(err)
		}
		details := make([]apiimports.Detail, 0, len(found))
		for _, j := range found {
			details = append(details, bindimports.ComposeDetail(j))
		}
		return c.JSON(http.StatusOK, details)
	}
}
