package infra

import (
	"errors"
	"fmt"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
)

// ResourceSet is the ordered list of resources making up one tenant's
// infrastructure.
type ResourceSet []*unstructured.Unstructured

// Stamp labels every member with the infra UUID.
func (s ResourceSet) Stamp(infraUUID string) {
	for _, obj := range s {
		labels := obj.GetLabels()
		if labels == nil {
			labels = map[string]string{}
		}
		labels[LabelInfraUUID] = infraUUID
		obj.SetLabels(labels)
	}
}

// Validate checks that every member is a supported kind and carries the
// ownership label for infraUUID.
func (s ResourceSet) Validate(infraUUID string) error {
	var errs []error
	for i, obj := range s {
		if _, err := KindOf(obj); err != nil {
			errs = append(errs, fmt.Errorf("resource %d (%s): %w", i, obj.GetName(), err))
			continue
		}
		if obj.GetName() == "" {
			errs = append(errs, fmt.Errorf("resource %d (%s): missing name", i, obj.GetKind()))
		}
		if got := obj.GetLabels()[LabelInfraUUID]; got != infraUUID {
			errs = append(errs, fmt.Errorf("resource %s/%s: label %s is %q, want %q",
				obj.GetKind(), obj.GetName(), LabelInfraUUID, got, infraUUID))
		}
	}
	return errors.Join(errs...)
}

// Kinds returns the distinct kinds present, in set order.
func (s ResourceSet) Kinds() []Kind {
	seen := map[Kind]bool{}
	var out []Kind
	for _, obj := range s {
		k, err := KindOf(obj)
		if err != nil || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, k)
	}
	return out
}

// Find returns the member with the given kind and name, or nil.
func (s ResourceSet) Find(kind Kind, name string) *unstructured.Unstructured {
	for _, obj := range s {
		if k, err := KindOf(obj); err == nil && k == kind && obj.GetName() == name {
			return obj
		}
	}
	return nil
}

// DeepCopy returns a set whose members can be mutated independently.
func (s ResourceSet) DeepCopy() ResourceSet {
	out := make(ResourceSet, len(s))
	for i, obj := range s {
		out[i] = obj.DeepCopy()
	}
	return out
}
