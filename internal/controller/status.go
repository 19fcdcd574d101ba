package controller

import (
	"context"

	"github.com/go-logr/logr"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/meta"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/controller-runtime/pkg/client"

	enmassev1 "github.com/aykay76/msginfra/api/v1"
	"github.com/aykay76/msginfra/pkg/infra"
)

// ConditionReady reports whether every workload of the address space is ready.
const ConditionReady = "Ready"

// setInfraStatus copies a reconcile outcome into the address space status.
func setInfraStatus(as *enmassev1.AddressSpace, result infra.ReconcileResult) {
	as.Status.Phase = string(result.State)
	as.Status.ObservedGeneration = as.Generation
	as.Status.LastUpdated = metav1.Now()
	if !result.Applied && result.Err == nil {
		as.Status.ReadyWorkloads = result.Readiness.ReadyNames()
		as.Status.NotReadyWorkloads = result.Readiness.NotReadyNames()
	}

	cond := metav1.Condition{
		Type:               ConditionReady,
		Status:             metav1.ConditionFalse,
		Reason:             string(result.State),
		ObservedGeneration: as.Generation,
	}
	switch {
	case result.Err != nil:
		cond.Reason = "ReconcileFailed"
		cond.Message = result.Err.Error()
	case result.State == infra.StateReady:
		cond.Status = metav1.ConditionTrue
		cond.Message = "All workloads are ready"
	case result.Applied:
		cond.Message = "Infrastructure applied, waiting for workloads"
	default:
		cond.Message = "Waiting for workloads to become ready"
	}
	meta.SetStatusCondition(&as.Status.Conditions, cond)
}

// UpdateStatusWithFallback tries to update the status subresource, and if the
// underlying client doesn't support the status subresource (fake client may
// return NotFound), falls back to a full Update.
func UpdateStatusWithFallback(ctx context.Context, c client.Client, obj client.Object, logger logr.Logger) error {
	if err := c.Status().Update(ctx, obj); err != nil {
		if apierrors.IsNotFound(err) {
			logger.V(1).Info("Status subresource unavailable, falling back to Update")
			if uerr := c.Update(ctx, obj); uerr != nil {
				logger.Error(uerr, "Fallback Update after Status().Update failed")
				return uerr
			}
			return nil
		}
		logger.Error(err, "Failed to update AddressSpace status")
		return err
	}
	return nil
}
