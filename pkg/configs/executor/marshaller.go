package executor

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
	"k8s.io/apimachinery/pkg/api/resource"
)

var (
	ErrInvalidConfig = errors.New("config: invalid")

	// ErrEnforceUnset is returned when the executor runs in production
	// without telling whether scheduler tokens are enforced.
	ErrEnforceUnset = fmt.Errorf("%w: scheduler.enforce (or EXECUTOR_ENFORCE_AUTH) should be set in production", ErrInvalidConfig)
)

const (
	EnvProduction  = "EXECUTOR_PRODUCTION"
	EnvPort        = "PORT"
	EnvBounce      = "BOUNCE"
	EnvCallerSA    = "CLOUD_SCHEDULER_CALLER_SA"
	EnvAudience    = "CLOUD_SCHEDULER_CALLER_OAUTH_AUDIENCE"
	EnvEnforceAuth = "EXECUTOR_ENFORCE_AUTH"
)

// LookupEnv has same signature as os.LookupEnv.
type LookupEnv func(string) (string, bool)

type ConfigMarshall struct {
	Production *bool                             `yaml:"production,omitempty"`
	Port       int32                             `yaml:"port,omitempty"`
	Bounce     string                            `yaml:"bounce,omitempty"`
	Loglevel   string                            `yaml:"loglevel,omitempty"`
	Timeouts   *TimeoutsMarshall                 `yaml:"timeouts,omitempty"`
	Startup    *ProbeMarshall                    `yaml:"startup,omitempty"`
	Liveness   *ProbeMarshall                    `yaml:"liveness,omitempty"`
	Resources  *ResourcesMarshall                `yaml:"resources,omitempty"`
	OutputDir  string                            `yaml:"outputDir"`
	Database   string                            `yaml:"database,omitempty"`
	Datasets   map[string]*DatasetConfigMarshall `yaml:"datasets"`
	Sync       *SyncMarshall                     `yaml:"sync,omitempty"`
	Scheduler  *SchedulerMarshall                `yaml:"scheduler,omitempty"`
}

type TimeoutsMarshall struct {
	Request string `yaml:"request,omitempty"`
	Wait    string `yaml:"wait,omitempty"`
	Drain   string `yaml:"drain,omitempty"`
}

type ProbeMarshall struct {
	Period           string `yaml:"period,omitempty"`
	FailureThreshold int    `yaml:"failureThreshold,omitempty"`
}

type ResourcesMarshall struct {
	Memory    string `yaml:"memory,omitempty"`
	PerJob    string `yaml:"perJob,omitempty"`
	MaxJobs   int    `yaml:"maxJobs,omitempty"`
	QueueSize int    `yaml:"queueSize,omitempty"`
}

type DatasetConfigMarshall struct {
	Config string          `yaml:"config"`
	Remote *RemoteMarshall `yaml:"remote,omitempty"`
}

type RemoteMarshall struct {
	ConfigMap *ConfigMapMarshall `yaml:"configMap,omitempty"`
	URL       string             `yaml:"url,omitempty"`
	Headers   map[string]string  `yaml:"headers,omitempty"`
}

type ConfigMapMarshall struct {
	Namespace string `yaml:"namespace"`
	Name      string `yaml:"name"`
	Key       string `yaml:"key"`
}

type SyncMarshall struct {
	Interval   string `yaml:"interval,omitempty"`
	Kubeconfig string `yaml:"kubeconfig,omitempty"`
}

type SchedulerMarshall struct {
	Enforce  *bool         `yaml:"enforce,omitempty"`
	Audience string        `yaml:"audience,omitempty"`
	CallerSA string        `yaml:"callerSA,omitempty"`
	Issuer   string        `yaml:"issuer,omitempty"`
	Keys     []KeyMarshall `yaml:"keys,omitempty"`
}

type KeyMarshall struct {
	Id   string `yaml:"kid,omitempty"`
	Alg  string `yaml:"alg"`
	File string `yaml:"file"`
}

// Load executor config from a file, and overlay environment variables.
//
// Relative paths in the file are resolved from the directory of the file.
func Load(filepath string, env LookupEnv) (*Config, error) {
	content, err := os.ReadFile(filepath)
	if err != nil {
		return nil, err
	}
	return unmarshal(content, dirOf(filepath), env)
}

func dirOf(p string) string {
	abs, err := filepath.Abs(p)
	if err != nil {
		return filepath.Dir(p)
	}
	return filepath.Dir(abs)
}

// Unmarshal executor config, and overlay environment variables.
//
// Relative paths in conf are resolved from the working directory.
func Unmarshal(conf []byte, env LookupEnv) (*Config, error) {
	return unmarshal(conf, "", env)
}

func unmarshal(conf []byte, base string, env LookupEnv) (*Config, error) {
	var m *ConfigMarshall
	if err := yaml.Unmarshal(conf, &m); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if m == nil {
		m = &ConfigMarshall{}
	}
	if env == nil {
		env = os.LookupEnv
	}
	return m.seal(base, env)
}

func invalid(path string, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", ErrInvalidConfig, path, fmt.Sprintf(format, args...))
}

func duration(value string, def time.Duration, path string) (time.Duration, error) {
	if value == "" {
		return def, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, invalid(path, "%s", err)
	}
	if d < 0 {
		return 0, invalid(path, "should not be negative: %s", value)
	}
	return d, nil
}

func quantity(value string, def string, path string) (resource.Quantity, error) {
	if value == "" {
		value = def
	}
	q, err := resource.ParseQuantity(value)
	if err != nil {
		return resource.Quantity{}, invalid(path, "%s", err)
	}
	if q.Sign() <= 0 {
		return resource.Quantity{}, invalid(path, "should be positive: %s", value)
	}
	return q, nil
}

// ParseBool accepts "true" or "false" case-insensitively.
func ParseBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true":
		return true, nil
	case "false":
		return false, nil
	default:
		return false, fmt.Errorf(`"%s" is neither "True" nor "False"`, s)
	}
}

func resolve(base, p string) string {
	if p == "" || base == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}

func (m *ConfigMarshall) seal(base string, env LookupEnv) (*Config, error) {
	c := &Config{
		port:     8080,
		bounce:   m.Bounce,
		loglevel: m.Loglevel,
		database: m.Database,
	}
	if m.Production != nil {
		c.production = *m.Production
	}
	if m.Port != 0 {
		c.port = m.Port
	}
	if c.loglevel == "" {
		c.loglevel = "info"
	}

	if v, ok := env(EnvProduction); ok {
		p, err := ParseBool(v)
		if err != nil {
			return nil, invalid(EnvProduction, "%s", err)
		}
		c.production = p
	}
	if v, ok := env(EnvPort); ok && v != "" {
		p, err := strconv.ParseInt(v, 10, 32)
		if err != nil {
			return nil, invalid(EnvPort, "%s", err)
		}
		c.port = int32(p)
	}
	if v, ok := env(EnvBounce); ok {
		c.bounce = v
	}
	if c.port <= 0 || 65535 < c.port {
		return nil, invalid("(root).port", "out of range: %d", c.port)
	}

	timeouts := m.Timeouts
	if timeouts == nil {
		timeouts = &TimeoutsMarshall{}
	}
	var err error
	if c.requestTimeout, err = duration(timeouts.Request, 1800*time.Second, "(root).timeouts.request"); err != nil {
		return nil, err
	}
	if c.requestTimeout == 0 {
		return nil, invalid("(root).timeouts.request", "should be positive")
	}
	if c.drainTimeout, err = duration(timeouts.Drain, 600*time.Second, "(root).timeouts.drain"); err != nil {
		return nil, err
	}
	if c.drainTimeout == 0 {
		return nil, invalid("(root).timeouts.drain", "should be positive")
	}
	defaultWait := c.requestTimeout - c.requestTimeout/10
	if c.waitTimeout, err = duration(timeouts.Wait, defaultWait, "(root).timeouts.wait"); err != nil {
		return nil, err
	}
	if c.requestTimeout <= c.waitTimeout {
		return nil, invalid(
			"(root).timeouts.wait", "should be shorter than request timeout (%s): %s",
			c.requestTimeout, c.waitTimeout,
		)
	}

	if c.startup, err = m.Startup.seal("(root).startup", 15*time.Second, 30); err != nil {
		return nil, err
	}
	if c.liveness, err = m.Liveness.seal("(root).liveness", 60*time.Second, 3); err != nil {
		return nil, err
	}
	if c.resources, err = m.Resources.seal("(root).resources"); err != nil {
		return nil, err
	}

	if m.OutputDir == "" {
		return nil, invalid("(root).outputDir", "required")
	}
	c.outputDir = resolve(base, m.OutputDir)

	if len(m.Datasets) == 0 {
		return nil, invalid("(root).datasets", "at least one dataset is required")
	}
	c.datasets = map[string]*DatasetConfig{}
	for name, d := range m.Datasets {
		path := "(root).datasets." + name
		if strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
			return nil, invalid(path, "name should not be a path")
		}
		ds, err := d.seal(path, name, base)
		if err != nil {
			return nil, err
		}
		c.datasets[name] = ds
	}

	if c.sync, err = m.Sync.seal("(root).sync", base); err != nil {
		return nil, err
	}
	if c.scheduler, err = m.Scheduler.seal("(root).scheduler", base, c.production, env); err != nil {
		return nil, err
	}
	return c, nil
}

func (p *ProbeMarshall) seal(path string, period time.Duration, threshold int) (*ProbeConfig, error) {
	if p == nil {
		p = &ProbeMarshall{}
	}
	d, err := duration(p.Period, period, path+".period")
	if err != nil {
		return nil, err
	}
	if d == 0 {
		return nil, invalid(path+".period", "should be positive")
	}
	if p.FailureThreshold < 0 {
		return nil, invalid(path+".failureThreshold", "should be positive: %d", p.FailureThreshold)
	}
	if p.FailureThreshold != 0 {
		threshold = p.FailureThreshold
	}
	return &ProbeConfig{period: d, failureThreshold: threshold}, nil
}

func (r *ResourcesMarshall) seal(path string) (*ResourcesConfig, error) {
	if r == nil {
		r = &ResourcesMarshall{}
	}
	memory, err := quantity(r.Memory, "20G", path+".memory")
	if err != nil {
		return nil, err
	}
	perJob, err := quantity(r.PerJob, "4G", path+".perJob")
	if err != nil {
		return nil, err
	}
	if memory.Cmp(perJob) < 0 {
		return nil, invalid(path+".perJob", "exceeds memory (%s): %s", memory.String(), perJob.String())
	}
	if r.MaxJobs < 0 {
		return nil, invalid(path+".maxJobs", "should not be negative: %d", r.MaxJobs)
	}
	if r.QueueSize < 0 {
		return nil, invalid(path+".queueSize", "should not be negative: %d", r.QueueSize)
	}
	queue := r.QueueSize
	if queue == 0 {
		queue = 16
	}
	return &ResourcesConfig{memory: memory, perJob: perJob, maxJobs: r.MaxJobs, queueSize: queue}, nil
}

func (d *DatasetConfigMarshall) seal(path string, name string, base string) (*DatasetConfig, error) {
	if d == nil || d.Config == "" {
		return nil, invalid(path+".config", "required")
	}
	ds := &DatasetConfig{name: name, config: resolve(base, d.Config)}
	if d.Remote == nil {
		return ds, nil
	}

	r := d.Remote
	switch {
	case r.ConfigMap != nil && r.URL != "":
		return nil, invalid(path+".remote", "either configMap or url should be set, not both")
	case r.ConfigMap != nil:
		cm := r.ConfigMap
		if cm.Namespace == "" || cm.Name == "" || cm.Key == "" {
			return nil, invalid(path+".remote.configMap", "namespace, name and key are required")
		}
		ds.remote = &RemoteConfig{configMap: &ConfigMapRef{
			Namespace: cm.Namespace, Name: cm.Name, Key: cm.Key,
		}}
	case r.URL != "":
		ds.remote = &RemoteConfig{url: r.URL, headers: r.Headers}
	default:
		return nil, invalid(path+".remote", "configMap or url is required")
	}
	return ds, nil
}

func (s *SyncMarshall) seal(path string, base string) (*SyncConfig, error) {
	if s == nil {
		s = &SyncMarshall{}
	}
	interval, err := duration(s.Interval, 5*time.Minute, path+".interval")
	if err != nil {
		return nil, err
	}
	return &SyncConfig{interval: interval, kubeconfig: resolve(base, s.Kubeconfig)}, nil
}

func (s *SchedulerMarshall) seal(path string, base string, production bool, env LookupEnv) (*SchedulerConfig, error) {
	if s == nil {
		s = &SchedulerMarshall{}
	}
	sc := &SchedulerConfig{
		audience: s.Audience,
		callerSA: s.CallerSA,
		issuer:   s.Issuer,
	}
	if v, ok := env(EnvAudience); ok && v != "" {
		sc.audience = v
	}
	if v, ok := env(EnvCallerSA); ok && v != "" {
		sc.callerSA = v
	}

	enforce := s.Enforce
	if v, ok := env(EnvEnforceAuth); ok && v != "" {
		e, err := ParseBool(v)
		if err != nil {
			return nil, invalid(EnvEnforceAuth, "%s", err)
		}
		enforce = &e
	}
	switch {
	case enforce != nil:
		sc.enforce = *enforce
	case production:
		return nil, ErrEnforceUnset
	default:
		sc.enforce = false
	}

	for nth, k := range s.Keys {
		kpath := fmt.Sprintf("%s.keys[%d]", path, nth)
		switch k.Alg {
		case "RS256", "HS256":
		default:
			return nil, invalid(kpath+".alg", "unsupported algorithm: %q", k.Alg)
		}
		if k.File == "" {
			return nil, invalid(kpath+".file", "required")
		}
		sc.keys = append(sc.keys, KeyRef{Id: k.Id, Alg: k.Alg, File: resolve(base, k.File)})
	}

	if sc.enforce {
		if sc.audience == "" {
			return nil, invalid(path+".audience", "required when tokens are enforced (or set %s)", EnvAudience)
		}
		if len(sc.keys) == 0 {
			return nil, invalid(path+".keys", "required when tokens are enforced")
		}
	}
	return sc, nil
}
