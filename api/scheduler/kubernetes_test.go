package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"gitlab.uncharted.software/WM/analysis-gateway/config"
	"go.uber.org/zap"
	v1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/kubernetes/fake"
	k8stesting "k8s.io/client-go/testing"
)

const testNamespace = "thoth-backend"

type KubernetesTestSuite struct {
	suite.Suite
	clientset *fake.Clientset
	scheduler *Kubernetes
	operation Operation
}

func (s *KubernetesTestSuite) SetupTest() {
	env := &config.Environment{
		BackendNamespace: testNamespace,
		AdviserImage:     "quay.io/thoth-station/adviser:v1",
		AdviserOutput:    "http://result-api/api/v1/adviser-result",
	}
	cfg := &config.Config{Logger: zap.NewNop().Sugar(), Environment: env}
	s.clientset = fake.NewSimpleClientset()
	s.scheduler = NewKubernetes(cfg, s.clientset.CoreV1())
	s.operation = Adviser(env)
}

func (s *KubernetesTestSuite) createPod(name string, status v1.PodStatus) {
	pod := &v1.Pod{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: testNamespace},
		Status:     status,
	}
	_, err := s.clientset.CoreV1().Pods(testNamespace).Create(context.Background(), pod, metav1.CreateOptions{})
	require.NoError(s.T(), err)
}

func (s *KubernetesTestSuite) TestSchedule() {
	ctx := context.Background()
	id, err := s.scheduler.Schedule(ctx, JobRequest{
		Operation:  s.operation,
		Parameters: map[string]interface{}{"recommendation_type": "stable"},
		Secrets:    map[string]string{"THOTH_REGISTRY_CREDENTIALS": "user:pass"},
		Debug:      true,
	})
	require.NoError(s.T(), err)
	assert.Regexp(s.T(), regexp.MustCompile(`^adviser-[0-9a-f]{16}$`), id)

	pod, err := s.clientset.CoreV1().Pods(testNamespace).Get(ctx, id, metav1.GetOptions{})
	require.NoError(s.T(), err)
	assert.Equal(s.T(), v1.RestartPolicyNever, pod.Spec.RestartPolicy)
	assert.Equal(s.T(), "adviser", pod.Labels[operationLabel])

	container := pod.Spec.Containers[0]
	assert.Equal(s.T(), "quay.io/thoth-station/adviser:v1", container.Image)

	env := map[string]string{}
	for _, e := range container.Env {
		env[e.Name] = e.Value
	}
	var parameters map[string]interface{}
	require.NoError(s.T(), json.Unmarshal([]byte(env[parametersEnv]), &parameters))
	assert.Equal(s.T(), "stable", parameters["recommendation_type"])
	assert.Equal(s.T(), "http://result-api/api/v1/adviser-result", env[outputEnv])
	assert.Equal(s.T(), "1", env[debugEnv])
	assert.Equal(s.T(), "user:pass", env["THOTH_REGISTRY_CREDENTIALS"])
}

func (s *KubernetesTestSuite) TestScheduleUniqueHandles() {
	first, err := s.scheduler.Schedule(context.Background(), JobRequest{Operation: s.operation})
	require.NoError(s.T(), err)
	second, err := s.scheduler.Schedule(context.Background(), JobRequest{Operation: s.operation})
	require.NoError(s.T(), err)
	assert.NotEqual(s.T(), first, second)
}

func (s *KubernetesTestSuite) TestScheduleRejected() {
	s.clientset.PrependReactor("create", "pods", func(action k8stesting.Action) (bool, runtime.Object, error) {
		return true, nil, fmt.Errorf("exceeded quota")
	})

	_, err := s.scheduler.Schedule(context.Background(), JobRequest{Operation: s.operation})
	var dispatchErr *DispatchError
	require.ErrorAs(s.T(), err, &dispatchErr)
	assert.Equal(s.T(), "adviser", dispatchErr.Operation)
	assert.Contains(s.T(), err.Error(), "exceeded quota")
}

func (s *KubernetesTestSuite) TestStatusReportNotFound() {
	_, err := s.scheduler.StatusReport(context.Background(), "adviser-missing", testNamespace)
	assert.ErrorIs(s.T(), err, ErrJobNotFound)
}

func (s *KubernetesTestSuite) TestStatusReportStates() {
	cases := []struct {
		name     string
		status   v1.PodStatus
		state    string
		exitCode *int32
	}{
		{name: "adviser-registered", status: v1.PodStatus{}, state: StateRegistered},
		{name: "adviser-scheduling", status: v1.PodStatus{Phase: v1.PodPending}, state: StateScheduling},
		{
			name: "adviser-waiting",
			status: v1.PodStatus{Phase: v1.PodPending, ContainerStatuses: []v1.ContainerStatus{
				{State: v1.ContainerState{Waiting: &v1.ContainerStateWaiting{Reason: "ContainerCreating"}}},
			}},
			state: StateWaiting,
		},
		{
			name: "adviser-running",
			status: v1.PodStatus{Phase: v1.PodRunning, ContainerStatuses: []v1.ContainerStatus{
				{State: v1.ContainerState{Running: &v1.ContainerStateRunning{}}},
			}},
			state: StateRunning,
		},
		{
			name: "adviser-failed",
			status: v1.PodStatus{Phase: v1.PodFailed, ContainerStatuses: []v1.ContainerStatus{
				{State: v1.ContainerState{Terminated: &v1.ContainerStateTerminated{ExitCode: 7, Reason: "Error"}}},
			}},
			state:    StateTerminated,
			exitCode: exitCode(7),
		},
		{name: "adviser-unknown", status: v1.PodStatus{Phase: v1.PodUnknown}, state: "Unknown"},
	}

	for _, c := range cases {
		s.createPod(c.name, c.status)
		report, err := s.scheduler.StatusReport(context.Background(), c.name, testNamespace)
		require.NoError(s.T(), err, c.name)
		assert.Equal(s.T(), c.state, report.State, c.name)
		assert.Equal(s.T(), c.exitCode, report.ExitCode, c.name)
	}
}

func (s *KubernetesTestSuite) TestLog() {
	s.createPod("adviser-logged", v1.PodStatus{Phase: v1.PodRunning})

	log, err := s.scheduler.Log(context.Background(), "adviser-logged", testNamespace)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), "fake logs", log)
}

func (s *KubernetesTestSuite) TestLogNotFound() {
	_, err := s.scheduler.Log(context.Background(), "adviser-missing", testNamespace)
	assert.ErrorIs(s.T(), err, ErrJobNotFound)
}

func TestKubernetesTestSuite(t *testing.T) {
	suite.Run(t, new(KubernetesTestSuite))
}
