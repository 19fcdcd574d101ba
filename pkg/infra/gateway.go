/*
Copyright 2025 Keith McClellan

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package infra

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/log"
)

// Apply actions recorded in an ApplyResult.
const (
	ActionCreated  = "created"
	ActionReplaced = "replaced"
	ActionPatched  = "patched"
	ActionSkipped  = "skipped"
)

// Gateway performs resource operations against the cluster for a single namespace.
type Gateway struct {
	client    client.Client
	namespace string
	routes    bool
}

// GatewayOption configures a Gateway.
type GatewayOption func(*Gateway)

// WithRoutes enables Route handling for platforms that serve route.openshift.io.
func WithRoutes(enabled bool) GatewayOption {
	return func(g *Gateway) { g.routes = enabled }
}

// NewGateway returns a Gateway bound to namespace.
func NewGateway(c client.Client, namespace string, opts ...GatewayOption) *Gateway {
	g := &Gateway{client: c, namespace: namespace}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// InNamespace returns a copy of the gateway bound to namespace.
func (g *Gateway) InNamespace(namespace string) *Gateway {
	c := *g
	c.namespace = namespace
	return &c
}

// Namespace returns the namespace the gateway operates in.
func (g *Gateway) Namespace() string { return g.namespace }

// SupportsRoutes reports whether Route operations are issued.
func (g *Gateway) SupportsRoutes() bool { return g.routes }

func (g *Gateway) supports(k Kind) bool {
	if k == KindRoute {
		return g.routes
	}
	return k.Supported()
}

// prepare copies obj into the gateway namespace and resolves its kind.
func (g *Gateway) prepare(obj *unstructured.Unstructured) (*unstructured.Unstructured, Kind, error) {
	k, err := KindOf(obj)
	if err != nil {
		return nil, "", err
	}
	if !g.supports(k) {
		return nil, "", fmt.Errorf("kind %s is not available on this platform", k)
	}
	out := obj.DeepCopy()
	out.SetNamespace(g.namespace)
	out.SetResourceVersion("")
	return out, k, nil
}

// Create creates every member of set. It fails without creating anything
// when any member already exists.
func (g *Gateway) Create(ctx context.Context, set ResourceSet) error {
	logger := log.FromContext(ctx)

	objs := make([]*unstructured.Unstructured, 0, len(set))
	kinds := make([]Kind, 0, len(set))
	for _, res := range set {
		obj, k, err := g.prepare(res)
		if err != nil {
			return &PlatformError{Op: "create", Kind: Kind(res.GetKind()), Name: res.GetName(), Err: err}
		}
		_, found, err := g.Get(ctx, k, obj.GetName())
		if err != nil {
			return err
		}
		if found {
			return &PlatformError{Op: "create", Kind: k, Name: obj.GetName(),
				Err: apierrors.NewAlreadyExists(k.GroupResource(), obj.GetName())}
		}
		objs = append(objs, obj)
		kinds = append(kinds, k)
	}

	for i, obj := range objs {
		if err := g.client.Create(ctx, obj); err != nil {
			recordApplyError(kinds[i])
			return &PlatformError{Op: "create", Kind: kinds[i], Name: obj.GetName(), Err: err}
		}
		logger.V(1).Info("Created resource", "kind", kinds[i], "name", obj.GetName(), "namespace", g.namespace)
	}
	return nil
}

// AppliedResource records the outcome of applying one resource.
type AppliedResource struct {
	Kind   Kind
	Name   string
	Action string
	Err    error
}

// ApplyResult collects per-resource outcomes of Apply.
type ApplyResult struct {
	Resources []AppliedResource
}

// Err joins every per-resource error, nil when all resources were applied.
func (r ApplyResult) Err() error {
	var errs []error
	for _, res := range r.Resources {
		if res.Err != nil {
			errs = append(errs, res.Err)
		}
	}
	return errors.Join(errs...)
}

// Failed returns the resources that could not be applied.
func (r ApplyResult) Failed() []AppliedResource {
	var out []AppliedResource
	for _, res := range r.Resources {
		if res.Err != nil {
			out = append(out, res)
		}
	}
	return out
}

// Apply brings every member of set to its desired state using the kind's
// strategy. Resources missing on the cluster are created. A failure on one
// resource is recorded and the remaining resources are still applied.
func (g *Gateway) Apply(ctx context.Context, set ResourceSet, patchVolumeClaims bool) ApplyResult {
	logger := log.FromContext(ctx)
	result := ApplyResult{Resources: make([]AppliedResource, 0, len(set))}

	for _, res := range set {
		obj, k, err := g.prepare(res)
		if err != nil {
			result.Resources = append(result.Resources, AppliedResource{
				Kind: Kind(res.GetKind()), Name: res.GetName(),
				Err: &PlatformError{Op: "apply", Kind: Kind(res.GetKind()), Name: res.GetName(), Err: err},
			})
			continue
		}

		action, err := g.applyOne(ctx, k, obj, patchVolumeClaims)
		if err != nil {
			logger.Error(err, "Failed to apply resource", "kind", k, "name", obj.GetName(), "namespace", g.namespace)
			recordApplyError(k)
			err = &PlatformError{Op: "apply", Kind: k, Name: obj.GetName(), Err: err}
		} else {
			logger.V(1).Info("Applied resource", "kind", k, "name", obj.GetName(), "action", action)
		}
		result.Resources = append(result.Resources, AppliedResource{Kind: k, Name: obj.GetName(), Action: action, Err: err})
	}
	return result
}

func (g *Gateway) applyOne(ctx context.Context, k Kind, obj *unstructured.Unstructured, patchVolumeClaims bool) (string, error) {
	var (
		action string
		err    error
	)
	switch k.Strategy() {
	case StrategyReplace:
		action, err = g.replace(ctx, k, obj)
	case StrategyPatch:
		action, err = ActionPatched, g.client.Patch(ctx, obj.DeepCopy(), client.Merge)
	case StrategyConditionalReplace:
		if patchVolumeClaims {
			action, err = g.replace(ctx, k, obj)
		} else {
			action, err = g.keepExisting(ctx, k, obj)
		}
	default:
		return "", fmt.Errorf("no apply strategy for kind %s", k)
	}
	if apierrors.IsNotFound(err) {
		return ActionCreated, g.client.Create(ctx, obj)
	}
	return action, err
}

func (g *Gateway) replace(ctx context.Context, k Kind, obj *unstructured.Unstructured) (string, error) {
	live, found, err := g.Get(ctx, k, obj.GetName())
	if err != nil {
		return "", err
	}
	if !found {
		return "", apierrors.NewNotFound(k.GroupResource(), obj.GetName())
	}
	desired := obj.DeepCopy()
	desired.SetResourceVersion(live.GetResourceVersion())
	return ActionReplaced, g.client.Update(ctx, desired)
}

func (g *Gateway) keepExisting(ctx context.Context, k Kind, obj *unstructured.Unstructured) (string, error) {
	_, found, err := g.Get(ctx, k, obj.GetName())
	if err != nil {
		return "", err
	}
	if !found {
		return "", apierrors.NewNotFound(k.GroupResource(), obj.GetName())
	}
	return ActionSkipped, nil
}

// Get fetches one resource. The boolean is false when it does not exist.
func (g *Gateway) Get(ctx context.Context, k Kind, name string) (*unstructured.Unstructured, bool, error) {
	obj := newObject(k, g.namespace, name)
	if err := g.client.Get(ctx, client.ObjectKeyFromObject(obj), obj); err != nil {
		if apierrors.IsNotFound(err) {
			return nil, false, nil
		}
		return nil, false, &PlatformError{Op: "get", Kind: k, Name: name, Err: err}
	}
	return obj, true, nil
}

// GetSecret fetches a typed Secret. The boolean is false when it does not exist.
func (g *Gateway) GetSecret(ctx context.Context, name string) (*corev1.Secret, bool, error) {
	secret := &corev1.Secret{}
	if err := g.client.Get(ctx, client.ObjectKey{Namespace: g.namespace, Name: name}, secret); err != nil {
		if apierrors.IsNotFound(err) {
			return nil, false, nil
		}
		return nil, false, &PlatformError{Op: "get", Kind: KindSecret, Name: name, Err: err}
	}
	return secret, true, nil
}

// ListByOwnership returns every resource of kind labelled with infraUUID.
func (g *Gateway) ListByOwnership(ctx context.Context, infraUUID string, k Kind) ([]unstructured.Unstructured, error) {
	if !g.supports(k) {
		return nil, nil
	}
	list := newList(k)
	err := g.client.List(ctx, list,
		client.InNamespace(g.namespace),
		client.MatchingLabels{LabelInfraUUID: infraUUID},
	)
	if err != nil {
		return nil, &PlatformError{Op: "list", Kind: k, Err: err}
	}
	return list.Items, nil
}

// DeleteByOwnership deletes every resource of kind labelled with infraUUID
// using the kind's propagation policy. Resources that vanish concurrently
// count as deleted.
func (g *Gateway) DeleteByOwnership(ctx context.Context, infraUUID string, k Kind) error {
	items, err := g.ListByOwnership(ctx, infraUUID, k)
	if err != nil {
		return err
	}
	var errs []error
	for i := range items {
		items[i].SetGroupVersionKind(k.GroupVersionKind())
		if err := g.delete(ctx, k, &items[i]); err != nil {
			errs = append(errs, err)
		}
	}
	if len(items) > 0 {
		log.FromContext(ctx).V(1).Info("Deleted resources by ownership",
			"kind", k, "infraUUID", infraUUID, "count", len(items)-len(errs))
	}
	return errors.Join(errs...)
}

// Delete removes one resource. Absence is not an error.
func (g *Gateway) Delete(ctx context.Context, k Kind, name string) error {
	return g.delete(ctx, k, newObject(k, g.namespace, name))
}

func (g *Gateway) delete(ctx context.Context, k Kind, obj *unstructured.Unstructured) error {
	var opts []client.DeleteOption
	if p := k.Propagation(); p != nil {
		opts = append(opts, client.PropagationPolicy(*p))
	}
	if err := g.client.Delete(ctx, obj, opts...); err != nil && !apierrors.IsNotFound(err) {
		return &PlatformError{Op: "delete", Kind: k, Name: obj.GetName(), Err: err}
	}
	return nil
}

// Scale requests a new replica count for a Deployment without waiting.
func (g *Gateway) Scale(ctx context.Context, name string, replicas int32) error {
	obj := newObject(KindDeployment, g.namespace, name)
	patch := []byte(fmt.Sprintf(`{"spec":{"replicas":%d}}`, replicas))
	if err := g.client.Patch(ctx, obj, client.RawPatch(types.MergePatchType, patch)); err != nil {
		return &PlatformError{Op: "scale", Kind: KindDeployment, Name: name, Err: err}
	}
	return nil
}

// Annotate merges annotations into an existing resource.
func (g *Gateway) Annotate(ctx context.Context, k Kind, name string, annotations map[string]string) error {
	patch, err := json.Marshal(map[string]any{
		"metadata": map[string]any{"annotations": annotations},
	})
	if err != nil {
		return fmt.Errorf("encode annotations for %s/%s: %w", k, name, err)
	}
	obj := newObject(k, g.namespace, name)
	if err := g.client.Patch(ctx, obj, client.RawPatch(types.MergePatchType, patch)); err != nil {
		return &PlatformError{Op: "annotate", Kind: k, Name: name, Err: err}
	}
	return nil
}
