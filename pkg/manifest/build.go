package manifest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	kubeapps "k8s.io/api/apps/v1"
	kubecore "k8s.io/api/core/v1"
	kubenet "k8s.io/api/networking/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	kubeapimeta "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/util/intstr"
	"sigs.k8s.io/yaml"
)

const (
	AnnotationBackendConfig = "cloud.google.com/backend-config"
	AnnotationNEG           = "cloud.google.com/neg"
	AnnotationStaticIP      = "kubernetes.io/ingress.global-static-ip-name"
	AnnotationPreSharedCert = "ingress.gcp.kubernetes.io/pre-shared-cert"
	AnnotationAllowHTTP     = "kubernetes.io/ingress.allow-http"
)

// Objects are Kubernetes objects deploying the executor.
type Objects struct {
	Namespace     *kubecore.Namespace
	Service       *kubecore.Service
	Deployment    *kubeapps.Deployment
	Ingress       *kubenet.Ingress
	BackendConfig *unstructured.Unstructured
}

// List returns objects in the order to be applied.
func (o Objects) List() []runtime.Object {
	return []runtime.Object{o.Namespace, o.BackendConfig, o.Service, o.Deployment, o.Ingress}
}

func ptr[T any](v T) *T {
	return &v
}

// Build validates d and creates objects.
func Build(d Descriptor) (Objects, error) {
	if err := d.Validate(); err != nil {
		return Objects{}, err
	}
	mem, err := resource.ParseQuantity(d.Memory)
	if err != nil {
		return Objects{}, err
	}

	labels := map[string]string{"app": d.Name}
	meta := func() kubeapimeta.ObjectMeta {
		return kubeapimeta.ObjectMeta{Name: d.Name, Namespace: d.Namespace, Labels: labels}
	}

	backendConfig, err := json.Marshal(map[string]string{"default": d.Name})
	if err != nil {
		return Objects{}, err
	}

	ns := &kubecore.Namespace{
		TypeMeta:   kubeapimeta.TypeMeta{APIVersion: "v1", Kind: "Namespace"},
		ObjectMeta: kubeapimeta.ObjectMeta{Name: d.Namespace},
	}

	svc := &kubecore.Service{
		TypeMeta:   kubeapimeta.TypeMeta{APIVersion: "v1", Kind: "Service"},
		ObjectMeta: meta(),
		Spec: kubecore.ServiceSpec{
			Type:     kubecore.ServiceTypeNodePort,
			Selector: labels,
			Ports: []kubecore.ServicePort{{
				Name:       "http",
				Protocol:   kubecore.ProtocolTCP,
				Port:       d.Port,
				TargetPort: intstr.FromInt32(d.Port),
			}},
		},
	}
	svc.Annotations = map[string]string{
		AnnotationBackendConfig: string(backendConfig),
		AnnotationNEG:           `{"ingress": true}`,
	}

	probe := func(path string, period Duration, failureThreshold int32) *kubecore.Probe {
		return &kubecore.Probe{
			ProbeHandler: kubecore.ProbeHandler{
				HTTPGet: &kubecore.HTTPGetAction{
					Path: path,
					Port: intstr.FromInt32(d.Port),
				},
			},
			PeriodSeconds:    int32(period.seconds()),
			FailureThreshold: failureThreshold,
		}
	}

	memory := kubecore.ResourceList{kubecore.ResourceMemory: mem}
	deploy := &kubeapps.Deployment{
		TypeMeta:   kubeapimeta.TypeMeta{APIVersion: "apps/v1", Kind: "Deployment"},
		ObjectMeta: meta(),
		Spec: kubeapps.DeploymentSpec{
			Replicas: ptr(d.Replicas),
			Selector: &kubeapimeta.LabelSelector{MatchLabels: labels},
			Template: kubecore.PodTemplateSpec{
				ObjectMeta: kubeapimeta.ObjectMeta{Labels: labels},
				Spec: kubecore.PodSpec{
					TerminationGracePeriodSeconds: ptr(d.Timeouts.Drain.seconds()),
					Containers: []kubecore.Container{{
						Name:  "executor",
						Image: d.Image,
						Ports: []kubecore.ContainerPort{{
							Name: "http", ContainerPort: d.Port, Protocol: kubecore.ProtocolTCP,
						}},
						Env: []kubecore.EnvVar{
							{Name: "PORT", Value: strconv.Itoa(int(d.Port))},
						},
						EnvFrom: []kubecore.EnvFromSource{{
							ConfigMapRef: &kubecore.ConfigMapEnvSource{
								LocalObjectReference: kubecore.LocalObjectReference{Name: d.EnvConfigMap},
							},
						}},
						Resources: kubecore.ResourceRequirements{
							Requests: memory,
							Limits:   memory.DeepCopy(),
						},
						StartupProbe:   probe(d.StartupPath, d.Probes.Interval, d.Probes.StartupFailureThreshold),
						ReadinessProbe: probe(d.HealthPath, d.Probes.Interval, 1),
						LivenessProbe:  probe(d.HealthPath, d.Probes.LivenessPeriod, d.Probes.LivenessFailureThreshold),
					}},
				},
			},
		},
	}

	ing := &kubenet.Ingress{
		TypeMeta:   kubeapimeta.TypeMeta{APIVersion: "networking.k8s.io/v1", Kind: "Ingress"},
		ObjectMeta: meta(),
		Spec: kubenet.IngressSpec{
			Rules: []kubenet.IngressRule{{
				IngressRuleValue: kubenet.IngressRuleValue{
					HTTP: &kubenet.HTTPIngressRuleValue{
						Paths: []kubenet.HTTPIngressPath{{
							Path:     "/*",
							PathType: ptr(kubenet.PathTypeImplementationSpecific),
							Backend: kubenet.IngressBackend{
								Service: &kubenet.IngressServiceBackend{
									Name: d.Name,
									Port: kubenet.ServiceBackendPort{Number: d.Port},
								},
							},
						}},
					},
				},
			}},
		},
	}
	ing.Annotations = map[string]string{
		AnnotationStaticIP:      d.Ingress.StaticIPName,
		AnnotationPreSharedCert: d.Ingress.Certificate,
		AnnotationAllowHTTP:     "false",
	}

	bc := &unstructured.Unstructured{Object: map[string]interface{}{
		"apiVersion": "cloud.google.com/v1",
		"kind":       "BackendConfig",
		"metadata": map[string]interface{}{
			"name":      d.Name,
			"namespace": d.Namespace,
			"labels":    map[string]interface{}{"app": d.Name},
		},
		"spec": map[string]interface{}{
			"timeoutSec": d.Timeouts.Request.seconds(),
			"connectionDraining": map[string]interface{}{
				"drainingTimeoutSec": d.Timeouts.Drain.seconds(),
			},
			"healthCheck": map[string]interface{}{
				"type":             "HTTP",
				"requestPath":      d.HealthPath,
				"port":             int64(d.Port),
				"checkIntervalSec": d.Probes.Interval.seconds(),
			},
			"iap": map[string]interface{}{
				"enabled": d.Ingress.IAP,
			},
		},
	}}

	return Objects{
		Namespace:     ns,
		Service:       svc,
		Deployment:    deploy,
		Ingress:       ing,
		BackendConfig: bc,
	}, nil
}

// Render objects as a multi-document YAML.
func Render(o Objects) ([]byte, error) {
	buf := new(bytes.Buffer)
	for nth, obj := range o.List() {
		b, err := yaml.Marshal(obj)
		if err != nil {
			return nil, fmt.Errorf("object #%d: %w", nth, err)
		}
		if nth != 0 {
			buf.WriteString("---\n")
		}
		buf.Write(b)
	}
	return buf.Bytes(), nil
}
