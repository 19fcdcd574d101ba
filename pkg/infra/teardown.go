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
	"sort"
	"time"

	"k8s.io/apimachinery/pkg/util/wait"
	"sigs.k8s.io/controller-runtime/pkg/log"
)

const (
	// DefaultTeardownTimeout bounds how long teardown waits for deployments to scale down.
	DefaultTeardownTimeout = 60 * time.Second
	// DefaultTeardownInterval is the delay between scale-down checks.
	DefaultTeardownInterval = 5 * time.Second
)

// TeardownResult describes how far teardown got.
type TeardownResult struct {
	Completed      bool
	StuckResources []string
	timeout        time.Duration
}

// Err returns a TimeoutExceededError naming stuck resources, nil when teardown completed.
func (r TeardownResult) Err() error {
	if r.Completed {
		return nil
	}
	return &TimeoutExceededError{Operation: "teardown", Timeout: r.timeout, Pending: r.StuckResources}
}

// Sequencer deletes a tenant's infrastructure in dependency order.
type Sequencer struct {
	gateway  *Gateway
	timeout  time.Duration
	interval time.Duration
}

// NewSequencer returns a Sequencer; zero durations select the defaults.
func NewSequencer(g *Gateway, timeout, interval time.Duration) *Sequencer {
	if timeout <= 0 {
		timeout = DefaultTeardownTimeout
	}
	if interval <= 0 {
		interval = DefaultTeardownInterval
	}
	return &Sequencer{gateway: g, timeout: timeout, interval: interval}
}

// Teardown removes everything owned by infraUUID. StatefulSets, Secrets and
// ConfigMaps go first and any failure there is returned. Deployments are then
// scaled to zero and deleted once drained; deployments that do not drain in
// time are reported as stuck and left in place. Services, network policies,
// volume claims and routes go last.
func (s *Sequencer) Teardown(ctx context.Context, infraUUID string) (TeardownResult, error) {
	logger := log.FromContext(ctx).WithValues("infraUUID", infraUUID)
	start := time.Now()
	result := TeardownResult{timeout: s.timeout}

	for _, k := range []Kind{KindStatefulSet, KindSecret, KindConfigMap} {
		if err := s.gateway.DeleteByOwnership(ctx, infraUUID, k); err != nil {
			observeTeardown("error", start)
			return result, err
		}
	}

	pending, verified := s.scaleDownDeployments(ctx, infraUUID)
	stuck, err := s.awaitScaleDown(ctx, pending)
	if err != nil {
		result.StuckResources = stuck
		observeTeardown("cancelled", start)
		return result, err
	}
	if len(stuck) > 0 {
		logger.Info("warning: deployments did not scale down in time and were not deleted",
			"deployments", stuck, "timeout", s.timeout)
		recordStuck(len(stuck))
	}
	result.StuckResources = stuck

	for _, k := range []Kind{KindService, KindNetworkPolicy, KindPersistentVolumeClaim, KindRoute} {
		if err := s.gateway.DeleteByOwnership(ctx, infraUUID, k); err != nil {
			observeTeardown("error", start)
			return result, err
		}
	}

	result.Completed = verified && len(stuck) == 0
	if result.Completed {
		observeTeardown("completed", start)
		logger.Info("Infrastructure deleted")
	} else {
		observeTeardown("incomplete", start)
	}
	return result, nil
}

// scaleDownDeployments requests zero replicas for every owned deployment and
// returns their names. The boolean is false when the deployments could not
// be listed.
func (s *Sequencer) scaleDownDeployments(ctx context.Context, infraUUID string) ([]string, bool) {
	logger := log.FromContext(ctx).WithValues("infraUUID", infraUUID)

	items, err := s.gateway.ListByOwnership(ctx, infraUUID, KindDeployment)
	if err != nil {
		logger.Error(err, "Failed to list deployments for scale down")
		return nil, false
	}
	names := make([]string, 0, len(items))
	for i := range items {
		name := items[i].GetName()
		if err := s.gateway.Scale(ctx, name, 0); err != nil {
			logger.Error(err, "Failed to scale down deployment", "name", name)
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, true
}

// awaitScaleDown deletes each deployment once it reports no replicas. It
// returns the deployments still pending at the deadline. A cancelled ctx
// abandons the wait and returns ctx's error.
func (s *Sequencer) awaitScaleDown(ctx context.Context, names []string) ([]string, error) {
	if len(names) == 0 {
		return nil, nil
	}
	logger := log.FromContext(ctx)

	pending := make(map[string]struct{}, len(names))
	for _, name := range names {
		pending[name] = struct{}{}
	}

	err := wait.PollUntilContextTimeout(ctx, s.interval, s.timeout, true, func(ctx context.Context) (bool, error) {
		for _, name := range sortedKeys(pending) {
			obj, found, err := s.gateway.Get(ctx, KindDeployment, name)
			if err != nil {
				logger.Error(err, "Failed to check deployment", "name", name)
				continue
			}
			if found {
				if n, ok := replicaCount(obj, "replicas"); ok && n > 0 {
					continue
				}
				if err := s.gateway.Delete(ctx, KindDeployment, name); err != nil {
					logger.Error(err, "Failed to delete deployment", "name", name)
					continue
				}
			}
			delete(pending, name)
		}
		return len(pending) == 0, nil
	})
	if ctx.Err() != nil {
		return sortedKeys(pending), ctx.Err()
	}
	if err != nil {
		return sortedKeys(pending), nil
	}
	return nil, nil
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
