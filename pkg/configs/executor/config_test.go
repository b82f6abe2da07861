package executor_test

import (
	"errors"
	"maps"
	"path/filepath"
	"slices"
	"testing"
	"time"

	kexec "github.com/opst/importexec/pkg/configs/executor"
	"github.com/opst/importexec/pkg/utils/try"
	"k8s.io/apimachinery/pkg/api/resource"
)

func env(kv map[string]string) kexec.LookupEnv {
	return func(key string) (string, bool) {
		v, ok := kv[key]
		return v, ok
	}
}

const minimal = `
outputDir: /var/lib/importer
datasets:
  cdc_places:
    config: /etc/importer/cdc_places.json
`

func TestLoad(t *testing.T) {
	t.Run("it loads config from yaml", func(t *testing.T) {
		path := filepath.Join("testdata", "executor.yaml")
		result := try.To(kexec.Load(path, env(map[string]string{}))).OrFatal(t)
		base := try.To(filepath.Abs("testdata")).OrFatal(t)

		if result.Port() != 9090 {
			t.Errorf(".port: %d", result.Port())
		}
		if result.Loglevel() != "debug" {
			t.Errorf(".loglevel: %s", result.Loglevel())
		}
		if result.RequestTimeout() != 1800*time.Second ||
			result.WaitTimeout() != 25*time.Minute ||
			result.DrainTimeout() != 600*time.Second {
			t.Errorf(
				".timeouts: %s, %s, %s",
				result.RequestTimeout(), result.WaitTimeout(), result.DrainTimeout(),
			)
		}
		if result.Startup().Period() != 15*time.Second || result.Startup().FailureThreshold() != 30 {
			t.Errorf(".startup: %+v", result.Startup())
		}
		if result.Liveness().Period() != 60*time.Second || result.Liveness().FailureThreshold() != 3 {
			t.Errorf(".liveness: %+v", result.Liveness())
		}

		res := result.Resources()
		memory, perJob := res.Memory(), res.PerJob()
		if memory.Cmp(resource.MustParse("20G")) != 0 ||
			perJob.Cmp(resource.MustParse("5G")) != 0 ||
			res.MaxJobs() != 3 || res.QueueSize() != 8 {
			t.Errorf(".resources: %+v", res)
		}

		if result.OutputDir() != filepath.Join(base, "out") {
			t.Errorf(".outputDir: %s", result.OutputDir())
		}
		if result.Database() != "postgres://importer@localhost:5432/importer" {
			t.Errorf(".database: %s", result.Database())
		}

		if names := result.DatasetNames(); !slices.Equal(names, []string{"cdc_places", "cdc_svi"}) {
			t.Errorf(".datasets: %v", names)
		}
		places, ok := result.Dataset("cdc_places")
		if !ok {
			t.Fatal(".datasets.cdc_places is missing")
		}
		if places.Config() != filepath.Join(base, "datasets", "cdc_places.json") {
			t.Errorf(".datasets.cdc_places.config: %s", places.Config())
		}
		if cm := places.Remote().ConfigMap(); cm == nil || *cm != (kexec.ConfigMapRef{
			Namespace: "importer", Name: "dataset-configs", Key: "cdc_places.json",
		}) {
			t.Errorf(".datasets.cdc_places.remote.configMap: %+v", cm)
		}
		svi, _ := result.Dataset("cdc_svi")
		if svi.Config() != "/etc/importer/cdc_svi.json" ||
			svi.Remote().URL() != "https://storage.example.com/importer/cdc_svi.json" ||
			!maps.Equal(svi.Remote().Headers(), map[string]string{"Authorization": "Bearer token"}) {
			t.Errorf(".datasets.cdc_svi: %+v", svi.Remote())
		}

		if result.Sync().Interval() != 10*time.Minute || result.Sync().Kubeconfig() != "" {
			t.Errorf(".sync: %+v", result.Sync())
		}

		sch := result.Scheduler()
		if !sch.Enforce() ||
			sch.Audience() != "https://importer.example.com" ||
			sch.CallerSA() != "scheduler@project.iam.gserviceaccount.com" {
			t.Errorf(".scheduler: %+v", sch)
		}
		if keys := sch.Keys(); !slices.Equal(keys, []kexec.KeyRef{{
			Id: "scheduler-1", Alg: "RS256", File: filepath.Join(base, "keys", "scheduler.pem"),
		}}) {
			t.Errorf(".scheduler.keys: %+v", keys)
		}
	})

	t.Run("it fills defaults", func(t *testing.T) {
		result := try.To(kexec.Unmarshal([]byte(minimal), env(map[string]string{}))).OrFatal(t)

		if result.Production() || result.Port() != 8080 || result.Loglevel() != "info" {
			t.Errorf("unexpected: production=%v port=%d loglevel=%s",
				result.Production(), result.Port(), result.Loglevel())
		}
		if result.RequestTimeout() != 1800*time.Second || result.DrainTimeout() != 600*time.Second {
			t.Errorf("timeouts: %s, %s", result.RequestTimeout(), result.DrainTimeout())
		}
		if result.WaitTimeout() >= result.RequestTimeout() {
			t.Errorf("wait timeout is not shorter than request timeout: %s", result.WaitTimeout())
		}
		if result.Startup().FailureThreshold() != 30 || result.Startup().Period() != 15*time.Second {
			t.Errorf("startup: %+v", result.Startup())
		}
		if memory := result.Resources().Memory(); memory.Cmp(resource.MustParse("20G")) != 0 {
			t.Errorf("memory: %s", memory.String())
		}
		if result.Scheduler().Enforce() {
			t.Error("tokens are enforced outside production by default")
		}
		if result.Database() != "" {
			t.Errorf("database: %s", result.Database())
		}
	})
}

func TestEnvironment(t *testing.T) {
	type When struct {
		yaml string
		env  map[string]string
	}
	type Then struct {
		err        error
		production bool
		port       int32
		bounce     string
		enforce    bool
		audience   string
		callerSA   string
	}

	withKeys := minimal + `
scheduler:
  keys:
    - alg: HS256
      file: /etc/importer/secret
`

	theory := func(when When, then Then) func(*testing.T) {
		return func(t *testing.T) {
			result, err := kexec.Unmarshal([]byte(when.yaml), env(when.env))
			if !errors.Is(err, then.err) {
				t.Fatalf("error: got %v, want %v", err, then.err)
			}
			if err != nil {
				return
			}
			if result.Production() != then.production ||
				result.Port() != then.port ||
				result.Bounce() != then.bounce ||
				result.Scheduler().Enforce() != then.enforce ||
				result.Scheduler().Audience() != then.audience ||
				result.Scheduler().CallerSA() != then.callerSA {
				t.Errorf(
					"unexpected: production=%v port=%d bounce=%q enforce=%v audience=%q callerSA=%q",
					result.Production(), result.Port(), result.Bounce(),
					result.Scheduler().Enforce(), result.Scheduler().Audience(), result.Scheduler().CallerSA(),
				)
			}
		}
	}

	t.Run("environment overrides file", theory(
		When{
			yaml: withKeys,
			env: map[string]string{
				"EXECUTOR_PRODUCTION":                   "True",
				"PORT":                                  "8081",
				"BOUNCE":                                "2",
				"EXECUTOR_ENFORCE_AUTH":                 "TRUE",
				"CLOUD_SCHEDULER_CALLER_OAUTH_AUDIENCE": "https://importer.example.com",
				"CLOUD_SCHEDULER_CALLER_SA":             "scheduler@example.com",
			},
		},
		Then{
			production: true, port: 8081, bounce: "2", enforce: true,
			audience: "https://importer.example.com", callerSA: "scheduler@example.com",
		},
	))

	t.Run("production without enforcement toggle fails", theory(
		When{yaml: minimal, env: map[string]string{"EXECUTOR_PRODUCTION": "true"}},
		Then{err: kexec.ErrEnforceUnset},
	))

	t.Run("production with enforcement explicitly off", theory(
		When{yaml: minimal, env: map[string]string{
			"EXECUTOR_PRODUCTION": "True", "EXECUTOR_ENFORCE_AUTH": "False",
		}},
		Then{production: true, port: 8080, enforce: false},
	))

	t.Run("EXECUTOR_PRODUCTION should be True or False", theory(
		When{yaml: minimal, env: map[string]string{"EXECUTOR_PRODUCTION": "yes"}},
		Then{err: kexec.ErrInvalidConfig},
	))

	t.Run("enforcement without audience fails", theory(
		When{yaml: withKeys, env: map[string]string{"EXECUTOR_ENFORCE_AUTH": "true"}},
		Then{err: kexec.ErrInvalidConfig},
	))

	t.Run("enforcement without keys fails", theory(
		When{yaml: minimal, env: map[string]string{
			"EXECUTOR_ENFORCE_AUTH":                 "true",
			"CLOUD_SCHEDULER_CALLER_OAUTH_AUDIENCE": "https://importer.example.com",
		}},
		Then{err: kexec.ErrInvalidConfig},
	))

	t.Run("malformed PORT fails", theory(
		When{yaml: minimal, env: map[string]string{"PORT": "http"}},
		Then{err: kexec.ErrInvalidConfig},
	))
}

func TestInvalid(t *testing.T) {
	for name, yml := range map[string]string{
		"no outputDir": `
datasets:
  cdc_places: {config: /a.json}
`,
		"no datasets": `
outputDir: /out
`,
		"wait is not shorter than request": minimal + `
timeouts: {request: 10m, wait: 10m}
`,
		"per-job memory over ceiling": minimal + `
resources: {memory: 4G, perJob: 8G}
`,
		"malformed duration": minimal + `
timeouts: {drain: ten minutes}
`,
		"both remotes": `
outputDir: /out
datasets:
  cdc_places:
    config: /a.json
    remote: {url: "https://example.com/a.json", configMap: {namespace: a, name: b, key: c}}
`,
		"unsupported key algorithm": minimal + `
scheduler:
  keys: [{alg: none, file: /k}]
`,
		"dataset name is a path": `
outputDir: /out
datasets:
  "../x": {config: /a.json}
`,
	} {
		t.Run(name, func(t *testing.T) {
			if _, err := kexec.Unmarshal([]byte(yml), env(map[string]string{})); !errors.Is(err, kexec.ErrInvalidConfig) {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}
