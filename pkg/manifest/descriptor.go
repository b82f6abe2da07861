// Package manifest renders Kubernetes objects which deploy the executor.
//
// A Descriptor declares the deployment contract of an importer: replicas,
// memory ceiling, timeouts, probes and ingress. Build checks the contract
// and turns it into Namespace, Service, Deployment, Ingress and BackendConfig.
package manifest

import (
	"errors"
	"fmt"
	"os"
	"time"

	gcrname "github.com/google/go-containerregistry/pkg/name"
	"gopkg.in/yaml.v3"
	"k8s.io/apimachinery/pkg/api/resource"
)

var ErrInvalidDescriptor = errors.New("manifest: invalid descriptor")

// Duration is time.Duration written as "1800s" in YAML.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

func (d Duration) seconds() int64 {
	return int64(time.Duration(d) / time.Second)
}

type Descriptor struct {
	Name      string `yaml:"name"`
	Namespace string `yaml:"namespace"`
	Image     string `yaml:"image"`
	Replicas  int32  `yaml:"replicas"`
	Port      int32  `yaml:"port"`

	// path of the health endpoint. default: /healthz
	HealthPath string `yaml:"healthPath,omitempty"`

	// path of the startup probe. default: /startupz
	//
	// Requests to this path count as failed startup probes, so only the
	// kubelet should call it.
	StartupPath string `yaml:"startupPath,omitempty"`

	// memory of a container. Its request equals its limit.
	Memory string `yaml:"memory"`

	Timeouts Timeouts `yaml:"timeouts"`
	Probes   Probes   `yaml:"probes"`
	Ingress  Ingress  `yaml:"ingress"`

	// name of the ConfigMap injecting environment variables
	EnvConfigMap string `yaml:"envConfigMap"`
}

type Timeouts struct {
	// request timeout of the load balancer. It should exceed SlowestJob.
	Request Duration `yaml:"request"`

	// duration of the slowest job expected
	SlowestJob Duration `yaml:"slowestJob"`

	// connection draining window
	Drain Duration `yaml:"drain"`
}

type Probes struct {
	Interval                Duration `yaml:"interval"`
	StartupFailureThreshold int32    `yaml:"startupFailureThreshold"`
	LivenessPeriod          Duration `yaml:"livenessPeriod"`

	// keep it equal to liveness.failureThreshold of the executor config.
	LivenessFailureThreshold int32 `yaml:"livenessFailureThreshold"`
}

type Ingress struct {
	StaticIPName string `yaml:"staticIPName"`
	Certificate  string `yaml:"certificate"`
	IAP          bool   `yaml:"iap"`
}

// Defaults returns a descriptor with the values of the reference deployment.
func Defaults() Descriptor {
	return Descriptor{
		Replicas:    3,
		Port:        8080,
		HealthPath:  "/healthz",
		StartupPath: "/startupz",
		Memory:      "20G",
		Timeouts: Timeouts{
			Request:    Duration(1800 * time.Second),
			SlowestJob: Duration(25 * time.Minute),
			Drain:      Duration(600 * time.Second),
		},
		Probes: Probes{
			Interval:                 Duration(15 * time.Second),
			StartupFailureThreshold:  30,
			LivenessPeriod:           Duration(60 * time.Second),
			LivenessFailureThreshold: 3,
		},
	}
}

// Load a descriptor from a YAML file. Missing fields are filled with Defaults.
func Load(path string) (Descriptor, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Descriptor{}, err
	}
	return Parse(b)
}

func Parse(b []byte) (Descriptor, error) {
	d := Defaults()
	if err := yaml.Unmarshal(b, &d); err != nil {
		return Descriptor{}, fmt.Errorf("%w: %w", ErrInvalidDescriptor, err)
	}
	if err := d.Validate(); err != nil {
		return Descriptor{}, err
	}
	return d, nil
}

func invalid(field string, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", ErrInvalidDescriptor, field, fmt.Sprintf(format, args...))
}

// Validate checks the deployment contract.
func (d Descriptor) Validate() error {
	if d.Name == "" {
		return invalid("name", "required")
	}
	if d.Namespace == "" {
		return invalid("namespace", "required")
	}
	if _, err := gcrname.ParseReference(d.Image); err != nil {
		return invalid("image", "%s", err)
	}
	if d.Replicas < 1 {
		return invalid("replicas", "should be 1 or more: %d", d.Replicas)
	}
	if d.Port <= 0 || 65535 < d.Port {
		return invalid("port", "out of range: %d", d.Port)
	}
	if d.HealthPath == "" || d.HealthPath[0] != '/' {
		return invalid("healthPath", "should be an absolute path: %q", d.HealthPath)
	}
	if d.StartupPath == "" || d.StartupPath[0] != '/' {
		return invalid("startupPath", "should be an absolute path: %q", d.StartupPath)
	}
	if d.StartupPath == d.HealthPath {
		return invalid("startupPath", "should differ from healthPath: %q", d.StartupPath)
	}

	mem, err := resource.ParseQuantity(d.Memory)
	if err != nil {
		return invalid("memory", "%s", err)
	}
	if mem.Sign() <= 0 {
		return invalid("memory", "should be positive: %s", d.Memory)
	}

	if d.Timeouts.SlowestJob <= 0 {
		return invalid("timeouts.slowestJob", "should be positive")
	}
	if d.Timeouts.Request <= d.Timeouts.SlowestJob {
		return invalid(
			"timeouts.request", "should exceed slowestJob (%s): %s",
			time.Duration(d.Timeouts.SlowestJob), time.Duration(d.Timeouts.Request),
		)
	}
	if d.Timeouts.Drain <= 0 {
		return invalid("timeouts.drain", "should be positive")
	}

	if d.Probes.Interval <= 0 {
		return invalid("probes.interval", "should be positive")
	}
	if d.Probes.LivenessPeriod <= 0 {
		return invalid("probes.livenessPeriod", "should be positive")
	}
	if d.Probes.LivenessFailureThreshold < 1 {
		return invalid("probes.livenessFailureThreshold", "should be 1 or more: %d", d.Probes.LivenessFailureThreshold)
	}
	if d.Probes.StartupFailureThreshold < 1 {
		return invalid("probes.startupFailureThreshold", "should be 1 or more: %d", d.Probes.StartupFailureThreshold)
	}

	if d.Ingress.StaticIPName == "" {
		return invalid("ingress.staticIPName", "required")
	}
	if d.Ingress.Certificate == "" {
		return invalid("ingress.certificate", "required")
	}
	if d.EnvConfigMap == "" {
		return invalid("envConfigMap", "required")
	}
	return nil
}
