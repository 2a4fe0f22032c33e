package scheduler

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gitlab.uncharted.software/WM/analysis-gateway/config"
	v1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	corev1 "k8s.io/client-go/kubernetes/typed/core/v1"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

const (
	kubeConfig = ".kube/config"

	// job names are the operation prefix followed by this many hex characters
	jobSuffixLength = 16

	parametersEnv = "THOTH_JOB_PARAMETERS"
	outputEnv     = "THOTH_JOB_OUTPUT"
	debugEnv      = "THOTH_DEBUG"

	appLabel       = "app"
	appName        = "thoth"
	operationLabel = "thoth-station.ninja/operation"
)

// NewCore builds a Kubernetes core client. An empty kubeConfigDir selects the in-cluster configuration.
func NewCore(kubeConfigDir string) (corev1.CoreV1Interface, error) {
	var (
		restConfig *rest.Config
		err        error
	)
	if kubeConfigDir == "" {
		restConfig, err = rest.InClusterConfig()
	} else {
		restConfig, err = clientcmd.BuildConfigFromFlags("", filepath.Join(kubeConfigDir, kubeConfig))
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to load kubernetes configuration")
	}

	cli, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create kubernetes client")
	}
	return cli.CoreV1(), nil
}

// Kubernetes runs each job as a single pod.
type Kubernetes struct {
	config.Config
	core corev1.CoreV1Interface
}

// NewKubernetes creates a scheduler on top of the given core client.
func NewKubernetes(cfg *config.Config, core corev1.CoreV1Interface) *Kubernetes {
	return &Kubernetes{
		Config: cfg.Named("scheduler"),
		core:   core,
	}
}

func jobName(prefix string) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")
	return prefix + suffix[:jobSuffixLength]
}

// Schedule creates the pod for a job and returns its name as the job handle.
func (k *Kubernetes) Schedule(ctx context.Context, req JobRequest) (string, error) {
	parameters, err := json.Marshal(req.Parameters)
	if err != nil {
		return "", &DispatchError{Operation: req.Operation.Name, Err: errors.Wrap(err, "failed to serialize job parameters")}
	}

	env := []v1.EnvVar{
		{Name: parametersEnv, Value: string(parameters)},
		{Name: outputEnv, Value: req.Operation.Output},
	}
	if req.Debug {
		env = append(env, v1.EnvVar{Name: debugEnv, Value: "1"})
	}
	names := make([]string, 0, len(req.Secrets))
	for name := range req.Secrets {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		env = append(env, v1.EnvVar{Name: name, Value: req.Secrets[name]})
	}

	spec := &v1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:      jobName(req.Operation.Prefix),
			Namespace: req.Operation.Namespace,
			Labels: map[string]string{
				appLabel:       appName,
				operationLabel: req.Operation.Name,
			},
		},
		Spec: v1.PodSpec{
			Containers: []v1.Container{
				{
					Name:            req.Operation.Name,
					Image:           req.Operation.Image,
					Env:             env,
					ImagePullPolicy: v1.PullIfNotPresent,
				},
			},
			RestartPolicy: v1.RestartPolicyNever,
		},
	}

	pod, err := k.core.Pods(req.Operation.Namespace).Create(ctx, spec, metav1.CreateOptions{})
	if err != nil {
		return "", &DispatchError{Operation: req.Operation.Name, Err: err}
	}
	k.Logger.Infof("Scheduled %s job %s in %s", req.Operation.Name, pod.Name, pod.Namespace)
	return pod.Name, nil
}

// StatusReport returns the state of the job's container.
func (k *Kubernetes) StatusReport(ctx context.Context, id string, namespace string) (*StatusReport, error) {
	pod, err := k.core.Pods(namespace).Get(ctx, id, metav1.GetOptions{})
	if err != nil {
		return nil, mapNotFound(err, id, namespace)
	}
	return podStatusReport(pod), nil
}

// Log returns the log of the job's container.
func (k *Kubernetes) Log(ctx context.Context, id string, namespace string) (string, error) {
	pods := k.core.Pods(namespace)
	if _, err := pods.Get(ctx, id, metav1.GetOptions{}); err != nil {
		return "", mapNotFound(err, id, namespace)
	}

	log, err := pods.GetLogs(id, &v1.PodLogOptions{}).DoRaw(ctx)
	if err != nil {
		return "", mapNotFound(err, id, namespace)
	}
	return string(log), nil
}

func mapNotFound(err error, id string, namespace string) error {
	if apierrors.IsNotFound(err) {
		return ErrJobNotFound
	}
	return errors.Wrapf(err, "failed to query job %s in %s", id, namespace)
}

func podStatusReport(pod *v1.Pod) *StatusReport {
	status := pod.Status
	if status.Phase == v1.PodUnknown {
		return &StatusReport{State: string(v1.PodUnknown), Reason: status.Reason, Message: status.Message}
	}

	if len(status.ContainerStatuses) == 0 {
		switch status.Phase {
		case "":
			return &StatusReport{State: StateRegistered}
		case v1.PodPending:
			return &StatusReport{State: StateScheduling, Reason: status.Reason, Message: status.Message}
		case v1.PodRunning:
			return &StatusReport{State: StateRunning}
		case v1.PodSucceeded:
			return &StatusReport{State: StateTerminated, ExitCode: exitCode(0)}
		case v1.PodFailed:
			return &StatusReport{State: StateTerminated, ExitCode: exitCode(1), Reason: status.Reason, Message: status.Message}
		}
		return &StatusReport{State: strings.ToLower(string(status.Phase))}
	}

	container := status.ContainerStatuses[0]
	state := container.State
	switch {
	case state.Terminated != nil:
		return &StatusReport{
			State:      StateTerminated,
			ExitCode:   exitCode(state.Terminated.ExitCode),
			Reason:     state.Terminated.Reason,
			Message:    state.Terminated.Message,
			Container:  container.ContainerID,
			StartedAt:  timeOf(state.Terminated.StartedAt),
			FinishedAt: timeOf(state.Terminated.FinishedAt),
		}
	case state.Running != nil:
		return &StatusReport{
			State:     StateRunning,
			Container: container.ContainerID,
			StartedAt: timeOf(state.Running.StartedAt),
		}
	case state.Waiting != nil:
		return &StatusReport{
			State:   StateWaiting,
			Reason:  state.Waiting.Reason,
			Message: state.Waiting.Message,
		}
	}
	return &StatusReport{State: StateRegistered}
}

func exitCode(code int32) *int32 {
	return &code
}

func timeOf(t metav1.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	utc := t.UTC()
	return &utc
}
