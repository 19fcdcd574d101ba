package infra

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/interceptor"
)

func TestIsReady(t *testing.T) {
	tests := []struct {
		name   string
		status map[string]any
		want   bool
	}{
		{name: "no status"},
		{name: "field absent", status: map[string]any{"replicas": int64(1)}},
		{name: "null", status: map[string]any{"readyReplicas": nil}},
		{name: "zero", status: map[string]any{"readyReplicas": int64(0)}},
		{name: "one", status: map[string]any{"readyReplicas": int64(1)}, want: true},
		{name: "several", status: map[string]any{"readyReplicas": int64(3)}, want: true},
		{name: "float from json", status: map[string]any{"readyReplicas": float64(2)}, want: true},
		{name: "not a number", status: map[string]any{"readyReplicas": "1"}},
	}
	for _, k := range []Kind{KindDeployment, KindStatefulSet} {
		for _, tt := range tests {
			t.Run(string(k)+"/"+tt.name, func(t *testing.T) {
				obj := newObject(k, testNamespace, "w")
				if tt.status != nil {
					obj.Object["status"] = tt.status
				}
				assert.Equal(t, tt.want, IsReady(obj))
			})
		}
	}
}

func TestComputeReadiness(t *testing.T) {
	ctx := context.Background()
	cl := newFakeClient(t,
		workload(KindDeployment, "admin", "u1", 1, 1),
		workload(KindDeployment, "agent", "u1", 1, 0),
		workload(KindStatefulSet, "broker", "u1", 1, 1),
		workload(KindStatefulSet, "other-broker", "u2", 1, 0),
	)
	e := NewEvaluator(NewGateway(cl, testNamespace))

	report, err := e.ComputeReadiness(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []WorkloadRef{{KindDeployment, "admin"}, {KindStatefulSet, "broker"}}, report.Ready)
	assert.Equal(t, []WorkloadRef{{KindDeployment, "agent"}}, report.NotReady)
	assert.False(t, report.AllReady())
	assert.Equal(t, 3, report.Total())
	assert.Equal(t, []string{"Deployment/agent"}, report.NotReadyNames())

	report, err = e.ComputeReadiness(ctx, "u3")
	require.NoError(t, err)
	assert.False(t, report.AllReady(), "no workloads is not ready")
	assert.Zero(t, report.Total())
}

func TestComputeReadinessListFailure(t *testing.T) {
	cl := newInterceptedClient(t, interceptor.Funcs{
		List: func(ctx context.Context, c client.WithWatch, list client.ObjectList, opts ...client.ListOption) error {
			if u, ok := list.(*unstructured.UnstructuredList); ok && u.GetKind() == "StatefulSetList" {
				return errors.New("connection refused")
			}
			return c.List(ctx, list, opts...)
		},
	})
	_, err := NewEvaluator(NewGateway(cl, testNamespace)).ComputeReadiness(context.Background(), "u1")
	var perr *PlatformError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, KindStatefulSet, perr.Kind)
}
