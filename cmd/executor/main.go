package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	gommonlog "github.com/labstack/gommon/log"
	"github.com/opst/importexec/cmd/executor/server"
	"github.com/opst/importexec/pkg/admission"
	"github.com/opst/importexec/pkg/auth"
	"github.com/opst/importexec/pkg/buildtime"
	kexec "github.com/opst/importexec/pkg/configs/executor"
	kpool "github.com/opst/importexec/pkg/conn/db/postgres/pool"
	"github.com/opst/importexec/pkg/dataset/configsync"
	pgjobs "github.com/opst/importexec/pkg/db/postgres/jobs"
	"github.com/opst/importexec/pkg/echoutil"
	"github.com/opst/importexec/pkg/importer"
	"github.com/opst/importexec/pkg/jobs"
	"github.com/opst/importexec/pkg/kubeutil"
	"github.com/opst/importexec/pkg/lifecycle"
	"github.com/opst/importexec/pkg/utils/filewatch"
	"github.com/opst/importexec/pkg/utils/retry"
	"k8s.io/client-go/kubernetes"
)

// environment variable giving the default of -config
const EnvConfig = "EXECUTOR_CONFIG"

var errStopRequested = errors.New("stop requested")

func main() {
	configPath := flag.String("config", os.Getenv(EnvConfig), "path to executor config file (env: "+EnvConfig+")")
	loglevel := flag.String("loglevel", "", "log level. debug|info|warn|error|off (default: from config, or info)")
	version := flag.Bool("version", false, "show version")
	flag.Parse()

	if *version {
		fmt.Println(buildtime.VersionString())
		return
	}
	if *configPath == "" {
		log.Fatalf("config file is not specified. pass -config or set %s", EnvConfig)
	}

	sig, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	for {
		conf, err := kexec.Load(*configPath, os.LookupEnv)
		if err != nil {
			log.Fatalf("can not read configuration: %s", err)
		}
		level := *loglevel
		if level == "" {
			level = conf.Loglevel()
		}

		ctx, cancel, err := filewatch.UntilModifyContext(sig, *configPath)
		if err != nil {
			log.Fatalf("can not watch configuration: %s", err)
		}
		err = run(ctx, conf, level)
		modified := ctx.Err() != nil
		cancel()

		if sig.Err() != nil {
			log.Println("bye")
			return
		}
		if !modified {
			log.Fatalf("executor stops by error: %s", err)
		}
		log.Println("config file is updated. restarting executor.")
	}
}

// run the executor until ctx is done or the replica fails.
func run(ctx context.Context, conf *kexec.Config, loglevel string) error {
	logger := echoutil.NewLogger("executor", loglevel)
	logger.Infof(
		"starting executor %s on port %d (production: %v, bounce: %q)",
		buildtime.VersionString(), conf.Port(), conf.Production(), conf.Bounce(),
	)

	startup, liveness := conf.Startup(), conf.Liveness()
	logger.Infof(
		"probes: startup every %s (fails after %d), liveness every %s (fails after %d)",
		startup.Period(), startup.FailureThreshold(), liveness.Period(), liveness.FailureThreshold(),
	)

	lc := lifecycle.New(startup.FailureThreshold())
	verifier, err := verifierOf(conf.Scheduler())
	if err != nil {
		return err
	}
	if conf.Database() == "" {
		logger.Warn("jobs are kept in memory. GET /imports/:jobId finds only jobs taken by this replica.")
	}
	if verifier == nil {
		logger.Warn("scheduler token is not enforced. /imports accepts any caller.")
	}

	routes := &server.Routes{
		Lifecycle:      lc,
		Bounce:         conf.Bounce(),
		JobsPerReplica: conf.Database() == "",
		Verifier:       verifier,
		RequestTimeout: conf.RequestTimeout(),
		WaitTimeout:    conf.WaitTimeout(),
	}
	e := server.New(routes, loglevel)

	// the server lives longer than ctx, to serve in-flight requests while draining.
	serverCtx, stopServer := context.WithCancel(context.WithoutCancel(ctx))
	defer stopServer()
	grace := conf.DrainTimeout() / 10
	svr, err := server.Start(
		serverCtx, server.OnPort(int(conf.Port())), e,
		server.WithGracefulPeriod(grace),
	)
	if err != nil {
		lc.Fail(err)
		return err
	}

	initCtx, cancelInit := context.WithCancel(ctx)
	defer cancelInit()
	go lc.Watchdog(initCtx, startup.Period())
	go func() {
		select {
		case <-lc.Failed():
			cancelInit()
		case <-initCtx.Done():
		}
	}()

	dispatcher, watcher, closeStore, err := initialize(initCtx, conf, loglevel, logger)
	if err != nil {
		lc.Fail(err)
		stopServer()
		<-svr.ServerStop
		return err
	}
	defer closeStore()

	routes.Datasets = watcher
	routes.Queue = dispatcher
	if err := lc.MarkReady(); err != nil {
		// the watchdog has failed the replica during initialization.
		drain(dispatcher, logger, conf.DrainTimeout()-grace)
		stopServer()
		<-svr.ServerStop
		return lc.Err()
	}
	cancelInit()
	logger.Infof("executor is ready. serving %d datasets.", len(conf.DatasetNames()))

	go func() {
		if err := watcher.Run(ctx, conf.Sync().Interval()); err != nil && !errors.Is(err, context.Canceled) {
			logger.Errorf("config watcher stops: %s", err)
		}
	}()

	var cause, ret error
	select {
	case <-ctx.Done():
		cause = errStopRequested
		logger.Info("stop requested. draining.")
	case err := <-svr.ServerStop:
		cause = errors.New("server stops")
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			cause = fmt.Errorf("server stops: %w", err)
		}
		ret = cause
		logger.Error(cause)
	}

	lc.BeginDrain(cause)
	svr.RefuseKeepAlive()
	drain(dispatcher, logger, conf.DrainTimeout()-grace)
	stopServer()
	<-svr.ServerStop
	lc.Terminate()
	logger.Infof("executor is %s", lc.State())
	return ret
}

func drain(d *jobs.Dispatcher, logger *gommonlog.Logger, window time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), window)
	defer cancel()
	if err := d.Drain(ctx); err != nil && !errors.Is(err, jobs.ErrClosed) {
		logger.Warnf("jobs are canceled on draining: %s", err)
	}
}

// initialize components which are needed to accept imports.
func initialize(ctx context.Context, conf *kexec.Config, loglevel string, logger *gommonlog.Logger) (*jobs.Dispatcher, *configsync.Watcher, func(), error) {
	sources, err := configsync.FromConfig(conf, func() (kubernetes.Interface, error) {
		return kubeutil.ConnectToK8s(kubeutil.Kubeconfig(conf.Sync().Kubeconfig()))
	})
	if err != nil {
		return nil, nil, nil, err
	}
	watcher := configsync.NewWatcher(echoutil.NewLogger("configsync", loglevel), sources)
	if failed := watcher.CheckAll(ctx); 0 < failed {
		// not fatal: imports of these datasets are rejected until they are fixed.
		logger.Warnf("%d of %d dataset configs are not ready for import", failed, len(sources))
	}

	res := conf.Resources()
	admit, err := admission.New(res.Memory(), res.PerJob(), res.MaxJobs())
	if err != nil {
		return nil, nil, nil, err
	}

	store, closeStore, err := storeOf(ctx, conf.Database(), admit.Capacity())
	if err != nil {
		return nil, nil, nil, err
	}

	runner := importer.New(importer.WithLogger(echoutil.NewLogger("importer", loglevel)))
	task := func(ctx context.Context, job jobs.Job) (importer.Result, error) {
		src, ok := sources[job.Dataset]
		if !ok {
			return importer.Result{}, fmt.Errorf("%w: unknown dataset %s", importer.ErrInvalidRequest, job.Dataset)
		}
		// pre-flight: the record should be in sync at the time the job starts.
		dsconf, _, err := src.Load(ctx)
		if err != nil {
			return importer.Result{}, err
		}
		return runner.Run(ctx, importer.Request{
			Config:    dsconf,
			OutputDir: filepath.Join(conf.OutputDir(), job.Dataset),
		})
	}

	dispatcher := jobs.Start(
		store, task, admit,
		jobs.WithQueueSize(res.QueueSize()),
		jobs.WithTimeout(conf.RequestTimeout()),
		jobs.WithLogger(echoutil.NewLogger("jobs", loglevel)),
	)
	return dispatcher, watcher, closeStore, nil
}

// storeOf connects the job store. workers is the number of jobs running at once.
func storeOf(ctx context.Context, dburi string, workers int) (jobs.Store, func(), error) {
	if dburi == "" {
		return jobs.NewMemoryStore(), func() {}, nil
	}
	// the database may come up later than replicas. keep trying in the startup window.
	pool, err := retry.Blocking(
		ctx, retry.ExponentialBackoff(500*time.Millisecond, 2, 10*time.Second),
		func() (kpool.Pool, error) {
			// each worker records its job, and requests read jobs besides.
			p, err := kpool.Connect(ctx, dburi, kpool.WithMaxConns(int32(workers)+4))
			if err != nil {
				return nil, fmt.Errorf("%w: %w", retry.ErrRetry, err)
			}
			return p, nil
		},
	)
	if err != nil {
		return nil, nil, fmt.Errorf("can not connect to database: %w", err)
	}
	if err := pgjobs.Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("can not migrate database: %w", err)
	}
	return pgjobs.New(pool), pool.Close, nil
}

func verifierOf(s *kexec.SchedulerConfig) (*auth.Verifier, error) {
	if !s.Enforce() {
		return nil, nil
	}
	keys := []auth.Key{}
	for _, k := range s.Keys() {
		key, err := keyOf(k)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	options := []auth.Option{}
	if sa := s.CallerSA(); sa != "" {
		options = append(options, auth.WithCaller(sa))
	}
	if iss := s.Issuer(); iss != "" {
		options = append(options, auth.WithIssuer(iss))
	}
	return auth.NewVerifier(s.Audience(), keys, options...)
}

func keyOf(k kexec.KeyRef) (auth.Key, error) {
	switch k.Alg {
	case "HS256":
		secret, err := os.ReadFile(k.File)
		if err != nil {
			return auth.Key{}, err
		}
		return auth.HMACKey(k.Id, secret), nil
	default:
		return auth.LoadRSAKey(k.Id, k.File)
	}
}
