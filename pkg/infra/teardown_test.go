package infra

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/interceptor"
)

func tenantObjects(infraUUID string, deployment *unstructured.Unstructured) []client.Object {
	return []client.Object{
		workload(KindStatefulSet, "broker", infraUUID, 1, 1),
		workload(KindStatefulSet, "router", infraUUID, 1, 1),
		resource(KindSecret, "creds", infraUUID),
		resource(KindConfigMap, "config", infraUUID),
		deployment,
		resource(KindService, AnchorServiceName(infraUUID), infraUUID),
		resource(KindNetworkPolicy, "isolate", infraUUID),
		resource(KindPersistentVolumeClaim, "data", infraUUID),
	}
}

// deleteRecorder records the kind of every delete request in order.
type deleteRecorder struct {
	mu    sync.Mutex
	kinds []string
}

func (r *deleteRecorder) delete(ctx context.Context, c client.WithWatch, obj client.Object, opts ...client.DeleteOption) error {
	r.mu.Lock()
	r.kinds = append(r.kinds, obj.GetObjectKind().GroupVersionKind().Kind)
	r.mu.Unlock()
	return c.Delete(ctx, obj, opts...)
}

func remaining(t *testing.T, g *Gateway, infraUUID string) []string {
	t.Helper()
	var out []string
	for _, k := range Kinds() {
		items, err := g.ListByOwnership(context.Background(), infraUUID, k)
		require.NoError(t, err)
		for _, item := range items {
			out = append(out, string(k)+"/"+item.GetName())
		}
	}
	return out
}

func TestTeardownDeletesInOrder(t *testing.T) {
	ctx := context.Background()
	recorder := &deleteRecorder{}
	var gets int
	objs := append(tenantObjects("u1", workload(KindDeployment, "admin", "u1", 1, 1)),
		resource(KindConfigMap, "config", "u2"))

	cl := newInterceptedClient(t, interceptor.Funcs{
		Delete: recorder.delete,
		Get: func(ctx context.Context, c client.WithWatch, key client.ObjectKey, obj client.Object, opts ...client.GetOption) error {
			if err := c.Get(ctx, key, obj, opts...); err != nil {
				return err
			}
			u, ok := obj.(*unstructured.Unstructured)
			if ok && u.GetKind() == "Deployment" {
				gets++
				// The first check still sees the old pod; the second sees it drained.
				replicas := int64(1)
				if gets > 1 {
					replicas = 0
				}
				_ = unstructured.SetNestedField(u.Object, replicas, "status", "replicas")
				_ = unstructured.SetNestedField(u.Object, replicas, "status", "readyReplicas")
			}
			return nil
		},
	}, objs...)
	g := NewGateway(cl, testNamespace)

	result, err := NewSequencer(g, 5*time.Second, 10*time.Millisecond).Teardown(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, result.Completed)
	assert.Empty(t, result.StuckResources)
	assert.NoError(t, result.Err())
	assert.GreaterOrEqual(t, gets, 2)

	assert.Equal(t, []string{
		"StatefulSet", "StatefulSet", "Secret", "ConfigMap",
		"Deployment",
		"Service", "NetworkPolicy", "PersistentVolumeClaim",
	}, recorder.kinds)
	assert.Empty(t, remaining(t, g, "u1"))
	assert.Equal(t, []string{"ConfigMap/config"}, remaining(t, g, "u2"))
}

func TestTeardownScalesDeploymentsToZero(t *testing.T) {
	ctx := context.Background()
	var patched []string
	cl := newInterceptedClient(t, interceptor.Funcs{
		Patch: func(ctx context.Context, c client.WithWatch, obj client.Object, patch client.Patch, opts ...client.PatchOption) error {
			data, err := patch.Data(obj)
			require.NoError(t, err)
			patched = append(patched, obj.GetName()+" "+string(data))
			return c.Patch(ctx, obj, patch, opts...)
		},
	}, workload(KindDeployment, "admin", "u1", 0, 0))
	g := NewGateway(cl, testNamespace)

	result, err := NewSequencer(g, time.Second, 10*time.Millisecond).Teardown(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, result.Completed)
	assert.Equal(t, []string{`admin {"spec":{"replicas":0}}`}, patched)
}

func TestTeardownNothingToDelete(t *testing.T) {
	g := NewGateway(newFakeClient(t, resource(KindConfigMap, "config", "u2")), testNamespace)

	start := time.Now()
	result, err := NewSequencer(g, time.Minute, time.Minute).Teardown(context.Background(), "u1")
	require.NoError(t, err)
	assert.True(t, result.Completed)
	assert.Empty(t, result.StuckResources)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestTeardownLeavesStuckDeployment(t *testing.T) {
	ctx := context.Background()
	recorder := &deleteRecorder{}
	cl := newInterceptedClient(t, interceptor.Funcs{Delete: recorder.delete},
		tenantObjects("u1", workload(KindDeployment, "admin", "u1", 2, 2))...)
	g := NewGateway(cl, testNamespace)

	result, err := NewSequencer(g, 50*time.Millisecond, 10*time.Millisecond).Teardown(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, result.Completed)
	assert.Equal(t, []string{"admin"}, result.StuckResources)
	assert.ErrorIs(t, result.Err(), ErrTimeoutExceeded)

	assert.NotContains(t, recorder.kinds, "Deployment")
	assert.Equal(t, []string{"Deployment/admin"}, remaining(t, g, "u1"))
}

func TestTeardownDeploymentAlreadyGone(t *testing.T) {
	cl := newInterceptedClient(t, interceptor.Funcs{
		Get: func(ctx context.Context, c client.WithWatch, key client.ObjectKey, obj client.Object, opts ...client.GetOption) error {
			if obj.GetObjectKind().GroupVersionKind().Kind == "Deployment" {
				return apierrors.NewNotFound(KindDeployment.GroupResource(), key.Name)
			}
			return c.Get(ctx, key, obj, opts...)
		},
	}, workload(KindDeployment, "admin", "u1", 3, 3))
	g := NewGateway(cl, testNamespace)

	result, err := NewSequencer(g, time.Second, 10*time.Millisecond).Teardown(context.Background(), "u1")
	require.NoError(t, err)
	assert.True(t, result.Completed)
}

func TestTeardownSurfacesEarlyDeleteFailure(t *testing.T) {
	denied := errors.New("denied")
	cl := newInterceptedClient(t, interceptor.Funcs{
		Delete: func(ctx context.Context, c client.WithWatch, obj client.Object, opts ...client.DeleteOption) error {
			if obj.GetObjectKind().GroupVersionKind().Kind == "Secret" {
				return denied
			}
			return c.Delete(ctx, obj, opts...)
		},
	}, tenantObjects("u1", workload(KindDeployment, "admin", "u1", 0, 0))...)
	g := NewGateway(cl, testNamespace)

	_, err := NewSequencer(g, time.Second, 10*time.Millisecond).Teardown(context.Background(), "u1")
	require.ErrorIs(t, err, denied)

	_, found, err := g.Get(context.Background(), KindService, AnchorServiceName("u1"))
	require.NoError(t, err)
	assert.True(t, found, "later steps must not run")
}

func TestTeardownCancelled(t *testing.T) {
	g := NewGateway(newFakeClient(t, workload(KindDeployment, "admin", "u1", 1, 1)), testNamespace)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(30*time.Millisecond, cancel)

	start := time.Now()
	result, err := NewSequencer(g, time.Minute, 10*time.Millisecond).Teardown(ctx, "u1")
	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, result.Completed)
	assert.Equal(t, []string{"admin"}, result.StuckResources)
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestTeardownContinuesWhenScaleFails(t *testing.T) {
	ctx := context.Background()
	recorder := &deleteRecorder{}
	cl := newInterceptedClient(t, interceptor.Funcs{
		Delete: recorder.delete,
		Patch: func(ctx context.Context, c client.WithWatch, obj client.Object, patch client.Patch, opts ...client.PatchOption) error {
			return apierrors.NewServiceUnavailable("apiserver restarting")
		},
	}, tenantObjects("u1", workload(KindDeployment, "admin", "u1", 1, 1))...)
	g := NewGateway(cl, testNamespace)

	result, err := NewSequencer(g, 50*time.Millisecond, 10*time.Millisecond).Teardown(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, result.Completed)
	assert.Equal(t, []string{"admin"}, result.StuckResources)
	assert.ErrorIs(t, result.Err(), ErrTimeoutExceeded)

	assert.Equal(t, []string{
		"StatefulSet", "StatefulSet", "Secret", "ConfigMap",
		"Service", "NetworkPolicy", "PersistentVolumeClaim",
	}, recorder.kinds)
	assert.Equal(t, []string{"Deployment/admin"}, remaining(t, g, "u1"))
}

func TestTeardownDeletesRoutesWhenSupported(t *testing.T) {
	ctx := context.Background()
	recorder := &deleteRecorder{}
	objs := append(tenantObjects("u1", workload(KindDeployment, "admin", "u1", 0, 0)),
		resource(KindRoute, "console", "u1"),
		resource(KindRoute, "console-other", "u2"),
	)
	cl := newInterceptedClient(t, interceptor.Funcs{Delete: recorder.delete}, objs...)
	g := NewGateway(cl, testNamespace, WithRoutes(true))

	result, err := NewSequencer(g, time.Second, 10*time.Millisecond).Teardown(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, result.Completed)

	require.NotEmpty(t, recorder.kinds)
	assert.Equal(t, "Route", recorder.kinds[len(recorder.kinds)-1])
	assert.Empty(t, remaining(t, g, "u1"))
	assert.Equal(t, []string{"Route/console-other"}, remaining(t, g, "u2"))
}

func TestTeardownKeepsStuckListWhenLateDeleteFails(t *testing.T) {
	denied := errors.New("denied")
	cl := newInterceptedClient(t, interceptor.Funcs{
		Delete: func(ctx context.Context, c client.WithWatch, obj client.Object, opts ...client.DeleteOption) error {
			if obj.GetObjectKind().GroupVersionKind().Kind == "Service" {
				return denied
			}
			return c.Delete(ctx, obj, opts...)
		},
	}, tenantObjects("u1", workload(KindDeployment, "admin", "u1", 2, 2))...)
	g := NewGateway(cl, testNamespace)

	result, err := NewSequencer(g, 50*time.Millisecond, 10*time.Millisecond).Teardown(context.Background(), "u1")
	require.ErrorIs(t, err, denied)
	assert.False(t, result.Completed)
	assert.Equal(t, []string{"admin"}, result.StuckResources)
}
