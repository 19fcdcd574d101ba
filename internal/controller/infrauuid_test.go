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
	"testing"

	"github.com/google/uuid"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	enmassev1 "github.com/aykay76/msginfra/api/v1"
	"github.com/aykay76/msginfra/pkg/infra"
)

func TestEnsureInfraUUID_Generates(t *testing.T) {
	as := &enmassev1.AddressSpace{ObjectMeta: metav1.ObjectMeta{Namespace: "dev", Name: "space1"}}

	if !ensureInfraUUID(as) {
		t.Fatalf("expected address space to change")
	}
	id := infraUUIDOf(as)
	if _, err := uuid.Parse(id); err != nil {
		t.Fatalf("expected a UUID, got %q: %v", id, err)
	}
	if as.Labels[infra.LabelInfraUUID] != id {
		t.Fatalf("expected label %s, got %v", id, as.Labels)
	}
	if ensureInfraUUID(as) {
		t.Fatalf("second call must be a no-op")
	}
}

func TestEnsureInfraUUID_RepairsLabel(t *testing.T) {
	as := &enmassev1.AddressSpace{ObjectMeta: metav1.ObjectMeta{
		Name:        "space1",
		Annotations: map[string]string{infra.AnnotationInfraUUID: "u1"},
		Labels:      map[string]string{infra.LabelInfraUUID: "stale"},
	}}

	if !ensureInfraUUID(as) {
		t.Fatalf("expected label repair")
	}
	if got := as.Labels[infra.LabelInfraUUID]; got != "u1" {
		t.Fatalf("expected label u1 got %s", got)
	}
	if got := infraUUIDOf(as); got != "u1" {
		t.Fatalf("existing UUID must be kept, got %s", got)
	}
}

func TestTenantFromAddressSpace_DeletingPhase(t *testing.T) {
	as := &enmassev1.AddressSpace{}
	as.Status.Phase = enmassev1.PhaseDeleting
	if got := tenantFromAddressSpace(as).LastState; got != "" {
		t.Fatalf("expected empty last state, got %s", got)
	}
}
