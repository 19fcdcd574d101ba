package infra

import (
	"testing"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	networkingv1 "k8s.io/api/networking/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"
	"sigs.k8s.io/controller-runtime/pkg/client/interceptor"
)

const testNamespace = "messaging"

func newTestScheme() *runtime.Scheme {
	s := runtime.NewScheme()
	_ = corev1.AddToScheme(s)
	_ = appsv1.AddToScheme(s)
	_ = networkingv1.AddToScheme(s)
	routeGVK := KindRoute.GroupVersionKind()
	s.AddKnownTypeWithName(routeGVK, &unstructured.Unstructured{})
	s.AddKnownTypeWithName(routeGVK.GroupVersion().WithKind("RouteList"), &unstructured.UnstructuredList{})
	return s
}

func newClientBuilder(objs ...client.Object) *fake.ClientBuilder {
	return fake.NewClientBuilder().
		WithScheme(newTestScheme()).
		WithStatusSubresource(&appsv1.Deployment{}, &appsv1.StatefulSet{}).
		WithObjects(objs...)
}

func newFakeClient(t *testing.T, objs ...client.Object) client.WithWatch {
	t.Helper()
	return newClientBuilder(objs...).Build()
}

func newInterceptedClient(t *testing.T, funcs interceptor.Funcs, objs ...client.Object) client.WithWatch {
	t.Helper()
	return newClientBuilder(objs...).WithInterceptorFuncs(funcs).Build()
}

// resource builds a minimal object of kind k owned by infraUUID. An empty
// infraUUID leaves the object unlabelled.
func resource(k Kind, name, infraUUID string) *unstructured.Unstructured {
	obj := newObject(k, testNamespace, name)
	if infraUUID != "" {
		obj.SetLabels(map[string]string{LabelInfraUUID: infraUUID})
	}
	switch k {
	case KindConfigMap:
		obj.Object["data"] = map[string]any{"key": "value"}
	case KindDeployment, KindStatefulSet:
		obj.Object["spec"] = map[string]any{"replicas": int64(1)}
	case KindRoute:
		obj.Object["spec"] = map[string]any{"host": name + ".example.com"}
	}
	return obj
}

// workload builds a Deployment or StatefulSet with the given status counts.
func workload(k Kind, name, infraUUID string, replicas, ready int64) *unstructured.Unstructured {
	obj := resource(k, name, infraUUID)
	obj.Object["status"] = map[string]any{
		"replicas":      replicas,
		"readyReplicas": ready,
	}
	return obj
}

// staticRenderer returns a fixed resource set and counts renders.
type staticRenderer struct {
	set    ResourceSet
	err    error
	calls  int
	params map[string]string
}

func (r *staticRenderer) Render(_ string, params map[string]string) (ResourceSet, error) {
	r.calls++
	r.params = params
	if r.err != nil {
		return nil, r.err
	}
	return r.set.DeepCopy(), nil
}
