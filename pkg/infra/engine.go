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
	"errors"
	"fmt"
	"maps"
	"time"

	"k8s.io/apimachinery/pkg/util/wait"
	"sigs.k8s.io/controller-runtime/pkg/log"
)

// State is the lifecycle state of a tenant's infrastructure.
type State string

const (
	StateAbsent   State = "Absent"
	StateApplying State = "Applying"
	StateReady    State = "Ready"
	StateDegraded State = "Degraded"
	StateDeleting State = "Deleting"
)

// Template parameters always supplied by the engine. They take precedence
// over tenant parameters of the same name.
const (
	ParamInfraUUID    = "InfraUUID"
	ParamNamespace    = "Namespace"
	ParamAddressSpace = "AddressSpace"
	ParamPlan         = "Plan"
	ParamInfraVersion = "InfraVersion"
)

// TenantInfra is the engine's view of one tenant.
type TenantInfra struct {
	Name          string
	Namespace     string
	InfraUUID     string
	Template      string
	Plan          string
	DesiredConfig InfraConfig
	// Annotations are the tenant resource's own annotations.
	Annotations map[string]string
	// LastState is the state the caller last observed.
	LastState State
}

// Desired returns the snapshot the tenant should have applied.
func (t TenantInfra) Desired() AppliedConfig {
	return AppliedConfig{Template: t.Template, Plan: t.Plan, InfraConfig: t.DesiredConfig}
}

// Renderer produces the resource set for a named template.
type Renderer interface {
	Render(template string, params map[string]string) (ResourceSet, error)
}

// ReconcileResult is the outcome of one reconciliation pass.
type ReconcileResult struct {
	State     State
	Readiness ReadinessReport
	// Applied is true when resources were pushed and Annotations should be
	// persisted on the tenant resource.
	Applied     bool
	Annotations map[string]string
	Err         error
}

// Engine drives a tenant's infrastructure toward its desired configuration.
type Engine struct {
	gateway           *Gateway
	renderer          Renderer
	patchVolumeClaims bool
	teardownTimeout   time.Duration
	teardownInterval  time.Duration
}

// Option configures an Engine.
type Option func(*Engine)

// WithPatchVolumeClaims allows existing volume claims to be replaced.
func WithPatchVolumeClaims(enabled bool) Option {
	return func(e *Engine) { e.patchVolumeClaims = enabled }
}

// WithTeardownTimeout bounds the wait for deployments to drain.
func WithTeardownTimeout(d time.Duration) Option {
	return func(e *Engine) { e.teardownTimeout = d }
}

// WithTeardownInterval sets the delay between drain checks.
func WithTeardownInterval(d time.Duration) Option {
	return func(e *Engine) { e.teardownInterval = d }
}

// NewEngine returns an Engine using g for cluster access and r for rendering.
func NewEngine(g *Gateway, r Renderer, opts ...Option) *Engine {
	e := &Engine{
		gateway:          g,
		renderer:         r,
		teardownTimeout:  DefaultTeardownTimeout,
		teardownInterval: DefaultTeardownInterval,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// InNamespace returns a copy of the engine operating in namespace.
func (e *Engine) InNamespace(namespace string) *Engine {
	if namespace == "" || namespace == e.gateway.Namespace() {
		return e
	}
	c := *e
	c.gateway = e.gateway.InNamespace(namespace)
	return &c
}

// Gateway returns the engine's cluster gateway.
func (e *Engine) Gateway() *Gateway { return e.gateway }

// Reconcile compares the tenant's applied configuration with its desired
// configuration. On drift it renders and applies the infrastructure and
// returns the annotations to persist; otherwise it reports readiness.
func (e *Engine) Reconcile(ctx context.Context, tenant TenantInfra) ReconcileResult {
	e = e.InNamespace(tenant.Namespace)
	logger := log.FromContext(ctx).WithValues("addressSpace", tenant.Name, "infraUUID", tenant.InfraUUID)
	ctx = log.IntoContext(ctx, logger)

	result := e.reconcile(ctx, tenant)
	outcome := "success"
	if result.Err != nil {
		outcome = "error"
		logger.Error(result.Err, "Reconcile failed", "state", result.State)
	}
	recordReconcile(result.State, outcome)
	return result
}

func (e *Engine) reconcile(ctx context.Context, tenant TenantInfra) ReconcileResult {
	fail := func(err error) ReconcileResult {
		state := tenant.LastState
		if state == "" {
			state = StateAbsent
		}
		return ReconcileResult{State: state, Err: err}
	}

	if tenant.InfraUUID == "" {
		return fail(fmt.Errorf("address space %s has no infra UUID", tenant.Name))
	}

	drift, err := e.detectDrift(ctx, tenant)
	if err != nil {
		return fail(err)
	}
	if drift {
		return e.apply(ctx, tenant)
	}

	report, err := NewEvaluator(e.gateway).ComputeReadiness(ctx, tenant.InfraUUID)
	if err != nil {
		return fail(err)
	}
	if report.Total() == 0 {
		exists, err := NewTracker(e.gateway).AnchorExists(ctx, tenant)
		if err != nil {
			return fail(err)
		}
		if !exists {
			log.FromContext(ctx).Info("Infrastructure missing, reapplying")
			return e.apply(ctx, tenant)
		}
	}

	return ReconcileResult{State: nextState(report, tenant.LastState), Readiness: report}
}

func nextState(report ReadinessReport, last State) State {
	switch {
	case report.AllReady():
		return StateReady
	case last == StateReady || last == StateDegraded:
		return StateDegraded
	default:
		return StateApplying
	}
}

// detectDrift reports whether the applied snapshots are missing or differ
// from the desired configuration.
func (e *Engine) detectDrift(ctx context.Context, tenant TenantInfra) (bool, error) {
	logger := log.FromContext(ctx)
	tracker := NewTracker(e.gateway)
	desired := tenant.Desired()

	applied, err := tracker.AppliedConfig(ctx, tenant)
	if err != nil {
		return false, err
	}
	infra, err := tracker.AppliedInfraConfig(ctx, tenant)
	if err != nil {
		return false, err
	}

	switch {
	case applied == nil || infra == nil:
		logger.Info("No applied configuration found")
		return true, nil
	case !applied.Equal(desired):
		logger.Info("Configuration changed", "applied", applied, "desired", desired)
		return true, nil
	case !infra.Equal(desired.InfraConfig):
		logger.Info("Infra config changed", "applied", infra, "desired", desired.InfraConfig)
		return true, nil
	}
	return false, nil
}

func (e *Engine) apply(ctx context.Context, tenant TenantInfra) ReconcileResult {
	logger := log.FromContext(ctx)
	fail := func(err error) ReconcileResult {
		return ReconcileResult{State: StateApplying, Err: err}
	}

	set, err := e.Render(tenant)
	if err != nil {
		return fail(err)
	}

	logger.Info("Applying infrastructure", "template", tenant.Template, "resources", len(set))
	if err := e.gateway.Apply(ctx, set, e.patchVolumeClaims).Err(); err != nil {
		return fail(err)
	}
	if err := e.recordSnapshot(ctx, tenant, set); err != nil {
		return fail(err)
	}

	stamp, err := SnapshotAnnotations(tenant.Desired())
	if err != nil {
		return fail(err)
	}
	annotations := make(map[string]string, len(tenant.Annotations)+len(stamp))
	maps.Copy(annotations, tenant.Annotations)
	maps.Copy(annotations, stamp)

	return ReconcileResult{State: StateApplying, Applied: true, Annotations: annotations}
}

// Render produces the tenant's labelled resource set without touching the
// cluster. Applied snapshots are not part of the set; they are recorded on the
// anchor service only after the set was applied.
func (e *Engine) Render(tenant TenantInfra) (ResourceSet, error) {
	e = e.InNamespace(tenant.Namespace)
	set, err := e.renderer.Render(tenant.Template, e.parameters(tenant))
	if err != nil {
		var terr *TemplateError
		if !errors.As(err, &terr) {
			err = &TemplateError{Template: tenant.Template, Err: err}
		}
		return nil, err
	}
	set = set.DeepCopy()
	set.Stamp(tenant.InfraUUID)
	if err := set.Validate(tenant.InfraUUID); err != nil {
		return nil, &TemplateError{Template: tenant.Template, Err: err}
	}
	return set, nil
}

// recordSnapshot stamps the applied snapshots on the anchor service when the
// set contains one.
func (e *Engine) recordSnapshot(ctx context.Context, tenant TenantInfra, set ResourceSet) error {
	if set.Find(KindService, AnchorServiceName(tenant.InfraUUID)) == nil {
		log.FromContext(ctx).V(1).Info("Template has no anchor service", "service", AnchorServiceName(tenant.InfraUUID))
		return nil
	}
	return NewTracker(e.gateway).RecordSnapshot(ctx, tenant)
}

func (e *Engine) parameters(tenant TenantInfra) map[string]string {
	params := make(map[string]string, len(tenant.DesiredConfig.Parameters)+5)
	maps.Copy(params, tenant.DesiredConfig.Parameters)
	params[ParamInfraUUID] = tenant.InfraUUID
	params[ParamNamespace] = e.gateway.Namespace()
	params[ParamAddressSpace] = tenant.Name
	params[ParamPlan] = tenant.Plan
	params[ParamInfraVersion] = tenant.DesiredConfig.Version
	return params
}

// Create renders the tenant's infrastructure and creates it, failing if any
// resource already exists. Unlike Reconcile it never updates live resources.
func (e *Engine) Create(ctx context.Context, tenant TenantInfra) (map[string]string, error) {
	e = e.InNamespace(tenant.Namespace)
	set, err := e.Render(tenant)
	if err != nil {
		return nil, err
	}
	if err := e.gateway.Create(ctx, set); err != nil {
		return nil, err
	}
	if err := e.recordSnapshot(ctx, tenant, set); err != nil {
		return nil, err
	}
	return SnapshotAnnotations(tenant.Desired())
}

// Readiness reports the current workload readiness of infraUUID.
func (e *Engine) Readiness(ctx context.Context, infraUUID string) (ReadinessReport, error) {
	return NewEvaluator(e.gateway).ComputeReadiness(ctx, infraUUID)
}

// Teardown deletes everything owned by infraUUID.
func (e *Engine) Teardown(ctx context.Context, infraUUID string) (TeardownResult, error) {
	ctx = log.IntoContext(ctx, log.FromContext(ctx).WithValues("infraUUID", infraUUID))
	return NewSequencer(e.gateway, e.teardownTimeout, e.teardownInterval).Teardown(ctx, infraUUID)
}

// WaitForReady polls readiness until every workload of the tenant is ready.
// On timeout it returns the last report with a TimeoutExceededError.
func (e *Engine) WaitForReady(ctx context.Context, tenant TenantInfra, timeout, interval time.Duration) (ReadinessReport, error) {
	e = e.InNamespace(tenant.Namespace)
	evaluator := NewEvaluator(e.gateway)
	logger := log.FromContext(ctx).WithValues("infraUUID", tenant.InfraUUID)

	var last ReadinessReport
	err := wait.PollUntilContextTimeout(ctx, interval, timeout, true, func(ctx context.Context) (bool, error) {
		report, err := evaluator.ComputeReadiness(ctx, tenant.InfraUUID)
		if err != nil {
			logger.Error(err, "Failed to compute readiness")
			return false, nil
		}
		last = report
		return report.AllReady(), nil
	})
	if ctx.Err() != nil {
		return last, ctx.Err()
	}
	if err != nil {
		return last, &TimeoutExceededError{Operation: "wait for ready", Timeout: timeout, Pending: last.NotReadyNames()}
	}
	return last, nil
}
