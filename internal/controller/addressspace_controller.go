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

package controller

import (
	"context"
	"strings"
	"time"

	"k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/tools/record"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/controller/controllerutil"
	"sigs.k8s.io/controller-runtime/pkg/log"

	enmassev1 "github.com/aykay76/msginfra/api/v1"
	"github.com/aykay76/msginfra/pkg/infra"
)

const (
	addressSpaceFinalizerName = "enmasse.io/infra-cleanup"
	defaultRequeueInterval    = 10 * time.Second
)

// AddressSpaceReconciler reconciles an AddressSpace object
type AddressSpaceReconciler struct {
	client.Client
	Scheme   *runtime.Scheme
	Recorder record.EventRecorder
	Engine   *infra.Engine

	// RequeueInterval is how soon an address space that is not yet ready is
	// checked again.
	RequeueInterval time.Duration
}

// +kubebuilder:rbac:groups=enmasse.io,resources=addressspaces,verbs=get;list;watch;create;update;patch;delete
// +kubebuilder:rbac:groups=enmasse.io,resources=addressspaces/status,verbs=get;update;patch
// +kubebuilder:rbac:groups=enmasse.io,resources=addressspaces/finalizers,verbs=update
// +kubebuilder:rbac:groups="",resources=configmaps;secrets;services;persistentvolumeclaims,verbs=get;list;watch;create;update;patch;delete
// +kubebuilder:rbac:groups=apps,resources=deployments;statefulsets,verbs=get;list;watch;create;update;patch;delete
// +kubebuilder:rbac:groups=networking.k8s.io,resources=networkpolicies,verbs=get;list;watch;create;update;patch;delete
// +kubebuilder:rbac:groups=route.openshift.io,resources=routes,verbs=get;list;watch;create;update;patch;delete
// +kubebuilder:rbac:groups="",resources=events,verbs=create;patch

// Reconcile is part of the main kubernetes reconciliation loop
func (r *AddressSpaceReconciler) Reconcile(ctx context.Context, req ctrl.Request) (ctrl.Result, error) {
	log := log.FromContext(ctx)

	as := &enmassev1.AddressSpace{}
	if err := r.Get(ctx, req.NamespacedName, as); err != nil {
		if errors.IsNotFound(err) {
			log.Info("AddressSpace resource not found. Ignoring since object must be deleted")
			return ctrl.Result{}, nil
		}
		log.Error(err, "Failed to get AddressSpace")
		return ctrl.Result{}, err
	}

	// Handle deletion
	if !as.DeletionTimestamp.IsZero() {
		return r.handleDeletion(ctx, as)
	}

	// The finalizer and infra UUID must be persisted before anything is applied
	if !controllerutil.ContainsFinalizer(as, addressSpaceFinalizerName) || ensureInfraUUID(as) {
		controllerutil.AddFinalizer(as, addressSpaceFinalizerName)
		log.Info("Initializing AddressSpace", "name", as.Name, "infraUUID", infraUUIDOf(as))
		if err := r.Update(ctx, as); err != nil {
			log.Error(err, "Failed to add finalizer and infra UUID")
			return ctrl.Result{}, err
		}
		return ctrl.Result{Requeue: true}, nil
	}

	tenant := tenantFromAddressSpace(as)
	ctx = ctrl.LoggerInto(ctx, log.WithValues("infraUUID", tenant.InfraUUID))
	result := r.Engine.Reconcile(ctx, tenant)

	if result.Applied {
		as.Annotations = result.Annotations
		if err := r.Update(ctx, as); err != nil {
			log.Error(err, "Failed to record applied configuration")
			return ctrl.Result{}, err
		}
		r.eventf(as, "Normal", "Applied", "Applied infrastructure template %s", tenant.Template)
	}

	setInfraStatus(as, result)
	if err := UpdateStatusWithFallback(ctx, r.Client, as, log); err != nil {
		return ctrl.Result{}, err
	}

	if result.Err != nil {
		r.eventf(as, "Warning", "ReconcileFailed", "%v", result.Err)
		return ctrl.Result{}, result.Err
	}

	if result.State != infra.StateReady {
		log.V(1).Info("AddressSpace not ready", "state", result.State,
			"notReady", strings.Join(result.Readiness.NotReadyNames(), ","))
		return ctrl.Result{RequeueAfter: r.requeueInterval()}, nil
	}

	log.Info("AddressSpace reconciliation complete", "name", as.Name, "state", result.State)
	return ctrl.Result{}, nil
}

func (r *AddressSpaceReconciler) handleDeletion(ctx context.Context, as *enmassev1.AddressSpace) (ctrl.Result, error) {
	log := log.FromContext(ctx)

	if !controllerutil.ContainsFinalizer(as, addressSpaceFinalizerName) {
		return ctrl.Result{}, nil
	}

	log.Info("Handling AddressSpace deletion", "name", as.Name)

	if uuid := infraUUIDOf(as); uuid != "" {
		if as.Status.Phase != enmassev1.PhaseDeleting {
			as.Status.Phase = enmassev1.PhaseDeleting
			if err := UpdateStatusWithFallback(ctx, r.Client, as, log); err != nil {
				return ctrl.Result{}, err
			}
		}

		result, err := r.Engine.InNamespace(as.Namespace).Teardown(ctx, uuid)
		if err != nil {
			log.Error(err, "Failed to tear down infrastructure", "infraUUID", uuid)
			r.eventf(as, "Warning", "TeardownFailed", "%v", err)
			return ctrl.Result{}, err
		}
		if !result.Completed {
			r.eventf(as, "Warning", "TeardownIncomplete",
				"Deployments left in place: %s", strings.Join(result.StuckResources, ", "))
		}
	}

	// Remove finalizer
	controllerutil.RemoveFinalizer(as, addressSpaceFinalizerName)
	if err := r.Update(ctx, as); err != nil {
		log.Error(err, "Failed to remove finalizer")
		return ctrl.Result{}, err
	}

	return ctrl.Result{}, nil
}

func (r *AddressSpaceReconciler) eventf(obj runtime.Object, eventType, reason, format string, args ...interface{}) {
	if r.Recorder != nil {
		r.Recorder.Eventf(obj, eventType, reason, format, args...)
	}
}

func (r *AddressSpaceReconciler) requeueInterval() time.Duration {
	if r.RequeueInterval > 0 {
		return r.RequeueInterval
	}
	return defaultRequeueInterval
}

// SetupWithManager sets up the controller with the Manager.
func (r *AddressSpaceReconciler) SetupWithManager(mgr ctrl.Manager) error {
	return ctrl.NewControllerManagedBy(mgr).
		For(&enmassev1.AddressSpace{}).
		Complete(r)
}
