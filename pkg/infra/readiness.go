package infra

import (
	"context"
	"sort"

	"golang.org/x/sync/errgroup"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
)

// WorkloadRef names one workload.
type WorkloadRef struct {
	Kind Kind
	Name string
}

func (w WorkloadRef) String() string { return string(w.Kind) + "/" + w.Name }

// ReadinessReport partitions a tenant's workloads by readiness.
type ReadinessReport struct {
	Ready    []WorkloadRef
	NotReady []WorkloadRef
}

// AllReady reports whether workloads exist and every one of them is ready.
func (r ReadinessReport) AllReady() bool {
	return len(r.NotReady) == 0 && len(r.Ready) > 0
}

// Total is the number of workloads inspected.
func (r ReadinessReport) Total() int { return len(r.Ready) + len(r.NotReady) }

// ReadyNames returns the ready workloads as kind/name strings.
func (r ReadinessReport) ReadyNames() []string { return refNames(r.Ready) }

// NotReadyNames returns the unready workloads as kind/name strings.
func (r ReadinessReport) NotReadyNames() []string { return refNames(r.NotReady) }

func refNames(refs []WorkloadRef) []string {
	if len(refs) == 0 {
		return nil
	}
	out := make([]string, len(refs))
	for i, ref := range refs {
		out[i] = ref.String()
	}
	return out
}

// IsReady reports whether a workload has at least one ready replica.
// A missing or null status.readyReplicas counts as not ready.
func IsReady(obj *unstructured.Unstructured) bool {
	n, ok := replicaCount(obj, "readyReplicas")
	return ok && n >= 1
}

// replicaCount reads an integer field from status. The boolean is false when
// the field is absent, null or not a number.
func replicaCount(obj *unstructured.Unstructured, field string) (int64, bool) {
	v, found, err := unstructured.NestedFieldNoCopy(obj.Object, "status", field)
	if err != nil || !found || v == nil {
		return 0, false
	}
	switch n := v.(type) {
	case int64:
		return n, true
	case int32:
		return int64(n), true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	}
	return 0, false
}

// Evaluator computes the readiness of a tenant's workloads.
type Evaluator struct {
	gateway *Gateway
}

// NewEvaluator returns an Evaluator reading through g.
func NewEvaluator(g *Gateway) *Evaluator {
	return &Evaluator{gateway: g}
}

// ComputeReadiness lists Deployments and StatefulSets owned by infraUUID and
// classifies each one.
func (e *Evaluator) ComputeReadiness(ctx context.Context, infraUUID string) (ReadinessReport, error) {
	var deployments, statefulSets []unstructured.Unstructured

	eg, egctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		var err error
		deployments, err = e.gateway.ListByOwnership(egctx, infraUUID, KindDeployment)
		return err
	})
	eg.Go(func() error {
		var err error
		statefulSets, err = e.gateway.ListByOwnership(egctx, infraUUID, KindStatefulSet)
		return err
	})
	if err := eg.Wait(); err != nil {
		return ReadinessReport{}, err
	}

	var report ReadinessReport
	classify := func(k Kind, items []unstructured.Unstructured) {
		sort.Slice(items, func(i, j int) bool { return items[i].GetName() < items[j].GetName() })
		for i := range items {
			ref := WorkloadRef{Kind: k, Name: items[i].GetName()}
			if IsReady(&items[i]) {
				report.Ready = append(report.Ready, ref)
			} else {
				report.NotReady = append(report.NotReady, ref)
			}
		}
	}
	classify(KindDeployment, deployments)
	classify(KindStatefulSet, statefulSets)
	return report, nil
}
