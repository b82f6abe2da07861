package executor

import (
	"sort"
	"time"

	"k8s.io/apimachinery/pkg/api/resource"
)

// Configuration of the executor service.
//
// To get a Config, use Load or Unmarshal.
type Config struct {
	production bool
	port       int32
	bounce     string
	loglevel   string

	requestTimeout time.Duration
	waitTimeout    time.Duration
	drainTimeout   time.Duration

	startup  *ProbeConfig
	liveness *ProbeConfig

	resources *ResourcesConfig
	outputDir string
	database  string

	datasets map[string]*DatasetConfig
	sync     *SyncConfig

	scheduler *SchedulerConfig
}

// Production reports whether the executor runs in production.
func (c *Config) Production() bool {
	return c.production
}

// Port to listen. default = 8080
func (c *Config) Port() int32 {
	return c.port
}

// Bounce is a flag to force rotation of replicas. It has no effect but is logged.
func (c *Config) Bounce() string {
	return c.bounce
}

func (c *Config) Loglevel() string {
	return c.loglevel
}

// RequestTimeout bounds each request and each job. default = 1800s
func (c *Config) RequestTimeout() time.Duration {
	return c.requestTimeout
}

// WaitTimeout bounds how long a trigger with ?wait=true waits for its job.
// It is shorter than RequestTimeout.
func (c *Config) WaitTimeout() time.Duration {
	return c.waitTimeout
}

// DrainTimeout is the draining window on shutdown. default = 600s
func (c *Config) DrainTimeout() time.Duration {
	return c.drainTimeout
}

func (c *Config) Startup() *ProbeConfig {
	return c.startup
}

func (c *Config) Liveness() *ProbeConfig {
	return c.liveness
}

func (c *Config) Resources() *ResourcesConfig {
	return c.resources
}

// OutputDir is where artifacts are written. Each dataset has a subdirectory.
func (c *Config) OutputDir() string {
	return c.outputDir
}

// Database is a connection string of PostgreSQL to store jobs.
//
// Empty means jobs are kept in memory of each replica. With more than one
// replica behind a load balancer, a job is then found only when a request
// reaches the replica which took it. Set it for such deployments.
func (c *Config) Database() string {
	return c.database
}

// DatasetNames returns names of datasets, sorted.
func (c *Config) DatasetNames() []string {
	names := make([]string, 0, len(c.datasets))
	for n := range c.datasets {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (c *Config) Dataset(name string) (*DatasetConfig, bool) {
	d, ok := c.datasets[name]
	return d, ok
}

func (c *Config) Sync() *SyncConfig {
	return c.sync
}

func (c *Config) Scheduler() *SchedulerConfig {
	return c.scheduler
}

type ProbeConfig struct {
	period           time.Duration
	failureThreshold int
}

func (p *ProbeConfig) Period() time.Duration {
	return p.period
}

func (p *ProbeConfig) FailureThreshold() int {
	return p.failureThreshold
}

type ResourcesConfig struct {
	memory    resource.Quantity
	perJob    resource.Quantity
	maxJobs   int
	queueSize int
}

// Memory is the hard ceiling of the replica. default = 20G
func (r *ResourcesConfig) Memory() resource.Quantity {
	return r.memory
}

// PerJob is the memory reserved for each job.
func (r *ResourcesConfig) PerJob() resource.Quantity {
	return r.perJob
}

// MaxJobs caps jobs at once. 0 means bounded only by memory.
func (r *ResourcesConfig) MaxJobs() int {
	return r.maxJobs
}

func (r *ResourcesConfig) QueueSize() int {
	return r.queueSize
}

type DatasetConfig struct {
	name   string
	config string
	remote *RemoteConfig
}

func (d *DatasetConfig) Name() string {
	return d.name
}

// Config is the path of the local dataset configuration record.
func (d *DatasetConfig) Config() string {
	return d.config
}

// Remote is the remote copy of the record. nil if there are no remote copy.
func (d *DatasetConfig) Remote() *RemoteConfig {
	return d.remote
}

// Either ConfigMap or URL is set.
type RemoteConfig struct {
	configMap *ConfigMapRef
	url       string
	headers   map[string]string
}

func (r *RemoteConfig) ConfigMap() *ConfigMapRef {
	return r.configMap
}

func (r *RemoteConfig) URL() string {
	return r.url
}

func (r *RemoteConfig) Headers() map[string]string {
	return r.headers
}

type ConfigMapRef struct {
	Namespace string
	Name      string
	Key       string
}

type SyncConfig struct {
	interval   time.Duration
	kubeconfig string
}

// Interval of background drift checks. 0 disables periodic checks.
func (s *SyncConfig) Interval() time.Duration {
	return s.interval
}

// Kubeconfig is the path to kubeconfig. Empty means in-cluster config.
func (s *SyncConfig) Kubeconfig() string {
	return s.kubeconfig
}

type SchedulerConfig struct {
	enforce  bool
	audience string
	callerSA string
	issuer   string
	keys     []KeyRef
}

// Enforce reports whether triggers should carry a valid scheduler token.
func (s *SchedulerConfig) Enforce() bool {
	return s.enforce
}

func (s *SchedulerConfig) Audience() string {
	return s.audience
}

// CallerSA is the email of the scheduler's service account. Empty means any.
func (s *SchedulerConfig) CallerSA() string {
	return s.callerSA
}

func (s *SchedulerConfig) Issuer() string {
	return s.issuer
}

func (s *SchedulerConfig) Keys() []KeyRef {
	return s.keys
}

// KeyRef points a key file to verify scheduler tokens.
//
// For RS256, File is a PEM encoded public key. For HS256, File contains the secret.
type KeyRef struct {
	Id   string
	Alg  string
	File string
}
