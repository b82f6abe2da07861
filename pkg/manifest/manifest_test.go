package manifest_test

import (
	"bytes"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/opst/importexec/pkg/manifest"
	"github.com/opst/importexec/pkg/utils/try"
	kubecore "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"sigs.k8s.io/yaml"
)

func TestBuild(t *testing.T) {
	desc := try.To(manifest.Load(filepath.Join("testdata", "descriptor.yaml"))).OrFatal(t)
	objs := try.To(manifest.Build(desc)).OrFatal(t)

	t.Run("Deployment", func(t *testing.T) {
		deploy := objs.Deployment
		if *deploy.Spec.Replicas != 3 {
			t.Errorf("replicas: %d", *deploy.Spec.Replicas)
		}
		pod := deploy.Spec.Template.Spec
		if *pod.TerminationGracePeriodSeconds != 600 {
			t.Errorf("terminationGracePeriodSeconds: %d", *pod.TerminationGracePeriodSeconds)
		}

		c := pod.Containers[0]
		req := c.Resources.Requests[kubecore.ResourceMemory]
		lim := c.Resources.Limits[kubecore.ResourceMemory]
		if req.Cmp(resource.MustParse("20G")) != 0 || req.Cmp(lim) != 0 {
			t.Errorf("memory: request=%s, limit=%s", req.String(), lim.String())
		}

		if p := c.StartupProbe; p.FailureThreshold != 30 || p.PeriodSeconds != 15 || p.HTTPGet.Path != "/startupz" {
			t.Errorf("startupProbe: %+v", p)
		}
		if p := c.ReadinessProbe; p.PeriodSeconds != 15 || p.HTTPGet.Path != "/healthz" {
			t.Errorf("readinessProbe: %+v", p)
		}
		if p := c.LivenessProbe; p.PeriodSeconds != 60 || p.FailureThreshold != 4 || p.HTTPGet.Path != "/healthz" {
			t.Errorf("livenessProbe: %+v", p)
		}
		if len(c.EnvFrom) != 1 || c.EnvFrom[0].ConfigMapRef.Name != "importer-env" {
			t.Errorf("envFrom: %+v", c.EnvFrom)
		}
		if c.Image != "us-docker.pkg.dev/example/importer/executor:2024.05" {
			t.Errorf("image: %s", c.Image)
		}
	})

	t.Run("Ingress", func(t *testing.T) {
		ing := objs.Ingress
		if ing.Annotations[manifest.AnnotationStaticIP] != "importer-ip" ||
			ing.Annotations[manifest.AnnotationPreSharedCert] != "importer-cert" {
			t.Errorf("annotations: %v", ing.Annotations)
		}
		path := ing.Spec.Rules[0].HTTP.Paths[0]
		if path.Path != "/*" || path.Backend.Service.Name != "importer-executor" ||
			path.Backend.Service.Port.Number != 8080 {
			t.Errorf("path: %+v", path)
		}
	})

	t.Run("Service refers BackendConfig", func(t *testing.T) {
		if got := objs.Service.Annotations[manifest.AnnotationBackendConfig]; got != `{"default":"importer-executor"}` {
			t.Errorf("annotation: %s", got)
		}
	})

	t.Run("BackendConfig", func(t *testing.T) {
		bc := objs.BackendConfig
		timeout, _, _ := unstructured.NestedInt64(bc.Object, "spec", "timeoutSec")
		drain, _, _ := unstructured.NestedInt64(bc.Object, "spec", "connectionDraining", "drainingTimeoutSec")
		interval, _, _ := unstructured.NestedInt64(bc.Object, "spec", "healthCheck", "checkIntervalSec")
		path, _, _ := unstructured.NestedString(bc.Object, "spec", "healthCheck", "requestPath")
		iap, _, _ := unstructured.NestedBool(bc.Object, "spec", "iap", "enabled")

		if timeout != 1800 || drain != 600 || interval != 15 || path != "/healthz" || iap {
			t.Errorf(
				"timeoutSec=%d drainingTimeoutSec=%d checkIntervalSec=%d requestPath=%s iap=%v",
				timeout, drain, interval, path, iap,
			)
		}
	})

	t.Run("Render", func(t *testing.T) {
		out := try.To(manifest.Render(objs)).OrFatal(t)
		docs := bytes.Split(out, []byte("---\n"))
		kinds := []string{}
		for _, doc := range docs {
			var head struct {
				Kind string `json:"kind"`
			}
			if err := yaml.Unmarshal(doc, &head); err != nil {
				t.Fatal(err)
			}
			kinds = append(kinds, head.Kind)
		}
		if got := strings.Join(kinds, ","); got != "Namespace,BackendConfig,Service,Deployment,Ingress" {
			t.Errorf("kinds: %s", got)
		}
	})
}

func TestValidate(t *testing.T) {
	valid := func() manifest.Descriptor {
		d := manifest.Defaults()
		d.Name = "importer-executor"
		d.Namespace = "importer"
		d.Image = "repo.invalid/importer/executor:v1"
		d.Ingress = manifest.Ingress{StaticIPName: "ip", Certificate: "cert"}
		d.EnvConfigMap = "importer-env"
		return d
	}

	if err := valid().Validate(); err != nil {
		t.Fatalf("defaults are not valid: %v", err)
	}

	for name, modify := range map[string]func(*manifest.Descriptor){
		"request timeout not exceeding the slowest job": func(d *manifest.Descriptor) {
			d.Timeouts.Request = manifest.Duration(25 * time.Minute)
		},
		"no replicas":       func(d *manifest.Descriptor) { d.Replicas = 0 },
		"malformed image":   func(d *manifest.Descriptor) { d.Image = "Invalid Image::" },
		"malformed memory":  func(d *manifest.Descriptor) { d.Memory = "lots" },
		"zero memory":       func(d *manifest.Descriptor) { d.Memory = "0" },
		"no drain window":   func(d *manifest.Descriptor) { d.Timeouts.Drain = 0 },
		"no startup grace":  func(d *manifest.Descriptor) { d.Probes.StartupFailureThreshold = 0 },
		"no certificate":    func(d *manifest.Descriptor) { d.Ingress.Certificate = "" },
		"relative health":   func(d *manifest.Descriptor) { d.HealthPath = "healthz" },
		"relative startup":  func(d *manifest.Descriptor) { d.StartupPath = "startupz" },
		"startup on health": func(d *manifest.Descriptor) { d.StartupPath = d.HealthPath },
		"no liveness grace": func(d *manifest.Descriptor) { d.Probes.LivenessFailureThreshold = 0 },
		"no env config map": func(d *manifest.Descriptor) { d.EnvConfigMap = "" },
	} {
		t.Run(name, func(t *testing.T) {
			d := valid()
			modify(&d)
			if err := d.Validate(); !errors.Is(err, manifest.ErrInvalidDescriptor) {
				t.Errorf("unexpected error: %v", err)
			}
			if _, err := manifest.Build(d); !errors.Is(err, manifest.ErrInvalidDescriptor) {
				t.Errorf("Build: unexpected error: %v", err)
			}
		})
	}
}
