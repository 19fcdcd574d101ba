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
	"fmt"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
)

const (
	// LabelInfraUUID marks every resource belonging to one tenant's infrastructure.
	LabelInfraUUID = "enmasse.io/infra-uuid"

	// AnnotationInfraUUID carries the infra UUID on the tenant resource.
	AnnotationInfraUUID = "enmasse.io/infra-uuid"

	// AnnotationAppliedConfig holds the last applied configuration snapshot.
	AnnotationAppliedConfig = "enmasse.io/applied-configuration"

	// AnnotationAppliedInfraConfig holds the last applied infrastructure config.
	AnnotationAppliedInfraConfig = "enmasse.io/applied-infra-config"
)

// Kind is one of the resource kinds the gateway knows how to manage.
type Kind string

const (
	KindConfigMap             Kind = "ConfigMap"
	KindSecret                Kind = "Secret"
	KindDeployment            Kind = "Deployment"
	KindStatefulSet           Kind = "StatefulSet"
	KindService               Kind = "Service"
	KindNetworkPolicy         Kind = "NetworkPolicy"
	KindPersistentVolumeClaim Kind = "PersistentVolumeClaim"
	KindRoute                 Kind = "Route"
)

// ApplyStrategy decides how an existing resource is brought to the desired state.
type ApplyStrategy int

const (
	// StrategyReplace overwrites the live object with the desired one.
	StrategyReplace ApplyStrategy = iota
	// StrategyPatch merges the desired object into the live one without
	// touching dependents.
	StrategyPatch
	// StrategyConditionalReplace replaces only when the caller allows it,
	// otherwise an existing object is left alone.
	StrategyConditionalReplace
)

func (s ApplyStrategy) String() string {
	switch s {
	case StrategyReplace:
		return "replace"
	case StrategyPatch:
		return "patch"
	case StrategyConditionalReplace:
		return "conditionalReplace"
	}
	return fmt.Sprintf("ApplyStrategy(%d)", int(s))
}

type kindInfo struct {
	gvk         schema.GroupVersionKind
	resource    string
	strategy    ApplyStrategy
	propagation *metav1.DeletionPropagation
}

var background = metav1.DeletePropagationBackground

// kindOrder is the order kinds are reported in; it is not the teardown order.
var kindOrder = []Kind{
	KindConfigMap,
	KindSecret,
	KindService,
	KindNetworkPolicy,
	KindPersistentVolumeClaim,
	KindDeployment,
	KindStatefulSet,
	KindRoute,
}

var kindTable = map[Kind]kindInfo{
	KindConfigMap: {
		gvk:         schema.GroupVersionKind{Version: "v1", Kind: "ConfigMap"},
		resource:    "configmaps",
		strategy:    StrategyReplace,
		propagation: &background,
	},
	KindSecret: {
		gvk:         schema.GroupVersionKind{Version: "v1", Kind: "Secret"},
		resource:    "secrets",
		strategy:    StrategyReplace,
		propagation: &background,
	},
	KindService: {
		gvk:         schema.GroupVersionKind{Version: "v1", Kind: "Service"},
		resource:    "services",
		strategy:    StrategyReplace,
		propagation: &background,
	},
	KindNetworkPolicy: {
		gvk:         schema.GroupVersionKind{Group: "networking.k8s.io", Version: "v1", Kind: "NetworkPolicy"},
		resource:    "networkpolicies",
		strategy:    StrategyReplace,
		propagation: &background,
	},
	KindPersistentVolumeClaim: {
		gvk:      schema.GroupVersionKind{Version: "v1", Kind: "PersistentVolumeClaim"},
		resource: "persistentvolumeclaims",
		strategy: StrategyConditionalReplace,
	},
	KindDeployment: {
		gvk:         schema.GroupVersionKind{Group: "apps", Version: "v1", Kind: "Deployment"},
		resource:    "deployments",
		strategy:    StrategyPatch,
		propagation: &background,
	},
	KindStatefulSet: {
		gvk:         schema.GroupVersionKind{Group: "apps", Version: "v1", Kind: "StatefulSet"},
		resource:    "statefulsets",
		strategy:    StrategyPatch,
		propagation: &background,
	},
	KindRoute: {
		gvk:         schema.GroupVersionKind{Group: "route.openshift.io", Version: "v1", Kind: "Route"},
		resource:    "routes",
		strategy:    StrategyReplace,
		propagation: &background,
	},
}

// Kinds returns every supported kind.
func Kinds() []Kind {
	out := make([]Kind, len(kindOrder))
	copy(out, kindOrder)
	return out
}

// GroupVersionKind returns the API type backing the kind.
func (k Kind) GroupVersionKind() schema.GroupVersionKind {
	return kindTable[k].gvk
}

// GroupResource returns the API resource backing the kind.
func (k Kind) GroupResource() schema.GroupResource {
	info := kindTable[k]
	return schema.GroupResource{Group: info.gvk.Group, Resource: info.resource}
}

// Strategy returns the apply strategy for the kind.
func (k Kind) Strategy() ApplyStrategy {
	return kindTable[k].strategy
}

// Propagation returns the delete propagation policy, nil meaning the platform default.
func (k Kind) Propagation() *metav1.DeletionPropagation {
	return kindTable[k].propagation
}

// Supported reports whether k is in the closed set of managed kinds.
func (k Kind) Supported() bool {
	_, ok := kindTable[k]
	return ok
}

// Workload reports whether the kind runs pods and carries replica status.
func (k Kind) Workload() bool {
	return k == KindDeployment || k == KindStatefulSet
}

// KindOf maps an object to its managed kind by API group and kind.
func KindOf(obj *unstructured.Unstructured) (Kind, error) {
	gvk := obj.GroupVersionKind()
	k := Kind(gvk.Kind)
	info, ok := kindTable[k]
	if !ok || info.gvk.Group != gvk.Group {
		return "", fmt.Errorf("unsupported resource kind %q", gvk.GroupKind().String())
	}
	return k, nil
}

// AnchorServiceName is the service whose annotations back the applied
// configuration when the tenant resource carries none.
func AnchorServiceName(infraUUID string) string {
	return "messaging-" + infraUUID
}

func newObject(k Kind, namespace, name string) *unstructured.Unstructured {
	obj := &unstructured.Unstructured{}
	obj.SetGroupVersionKind(k.GroupVersionKind())
	obj.SetNamespace(namespace)
	obj.SetName(name)
	return obj
}

func newList(k Kind) *unstructured.UnstructuredList {
	list := &unstructured.UnstructuredList{}
	gvk := k.GroupVersionKind()
	list.SetGroupVersionKind(gvk.GroupVersion().WithKind(gvk.Kind + "List"))
	return list
}
