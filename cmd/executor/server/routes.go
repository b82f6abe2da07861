package server

import (
	"time"

	"github.com/labstack/echo/v4"
	binderr "github.com/opst/importexec/pkg/api-types-binding/errors"
	"github.com/opst/importexec/pkg/auth"
	"github.com/opst/importexec/pkg/echoutil"
	"github.com/opst/importexec/pkg/lifecycle"
)

// Routes are the components behind the executor's endpoints.
//
// Datasets and Queue can be set after New, but before Lifecycle becomes Ready.
// Until then, /imports responds 503.
type Routes struct {
	Lifecycle *lifecycle.Lifecycle
	Datasets  Datasets
	Queue     Queue

	// Bounce is echoed back on /healthz.
	Bounce string

	// JobsPerReplica is true when jobs are known only by the replica which
	// took them (in-memory job store). Then a job may not be found on other
	// replicas behind the same load balancer.
	JobsPerReplica bool

	// Verifier of scheduler tokens. When nil, /imports is not authenticated.
	Verifier *auth.Verifier

	RequestTimeout time.Duration
	WaitTimeout    time.Duration
}

// advice for unknown jobs when Routes.JobsPerReplica is true.
const AdviceJobsPerReplica = "jobs are kept by the replica which took them, and the job may be on another replica. " +
	`set "database" in the executor config to share jobs among replicas.`

// path parameter: dataset name for POST, job id for GET.
const param = "id"

// New creates echo with logging, error handling and routes.
//
//	GET  /healthz
//	GET  /startupz (startup probe only)
//	POST /imports/:dataset[?wait=true]
//	GET  /imports/:jobId
//	GET  /imports[?dataset=...&limit=...]
func New(r *Routes, loglevel string) *echo.Echo {
	e := echo.New()
	echoutil.SetLevel(e, loglevel)
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		e.DefaultHTTPErrorHandler(err, c)
		e.Logger.Error(err)
	}
	e.Use(echoutil.LogHandlerFunc)

	e.GET("/healthz", HealthHandler(r.Lifecycle, r.Bounce))
	e.GET("/startupz", StartupHandler(r.Lifecycle, r.Bounce))

	imports := e.Group(
		"/imports",
		echoutil.Deadline(r.RequestTimeout),
		auth.Middleware(r.Verifier),
		Gate(r.Lifecycle),
	)
	imports.GET("", func(c echo.Context) error {
		return ListJobsHandler(r.Queue)(c)
	})
	imports.POST("/:"+param, func(c echo.Context) error {
		return TriggerHandler(r.Lifecycle, r.Datasets, r.Queue, r.WaitTimeout, param)(c)
	})
	imports.GET("/:"+param, func(c echo.Context) error {
		if r.JobsPerReplica {
			return GetJobHandler(r.Queue, param, binderr.WithAdvice(AdviceJobsPerReplica))(c)
		}
		return GetJobHandler(r.Queue, param)(c)
	})

	return e
}

// Gate responds 503 while the replica has not been initialized.
func Gate(lc *lifecycle.Lifecycle) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			switch st := lc.State(); st {
			case lifecycle.Starting, lifecycle.Failed:
				return binderr.ServiceUnavailable("replica is "+st.String()+". retry later.", nil)
			}
			return next(c)
		}
	}
}
