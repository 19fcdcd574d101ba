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

package v1

import (
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

const (
	// PhaseAbsent means no infrastructure exists for the address space
	PhaseAbsent = "Absent"
	// PhaseApplying means infrastructure has been applied and is not yet ready
	PhaseApplying = "Applying"
	// PhaseReady means every workload reports at least one ready replica
	PhaseReady = "Ready"
	// PhaseDegraded means a previously ready address space lost workload readiness
	PhaseDegraded = "Degraded"
	// PhaseDeleting means infrastructure teardown is in progress
	PhaseDeleting = "Deleting"
)

// AddressSpaceSpec defines the desired state of AddressSpace
type AddressSpaceSpec struct {
	// Type selects the infrastructure flavour, e.g. standard or brokered
	// +kubebuilder:validation:Enum=standard;brokered
	Type string `json:"type"`

	// Plan is the address space plan name
	// +kubebuilder:validation:MinLength=1
	Plan string `json:"plan"`

	// Template overrides the infrastructure template derived from Type
	// +optional
	Template string `json:"template,omitempty"`

	// InfraConfig is the desired infrastructure configuration
	InfraConfig InfraConfigSpec `json:"infraConfig"`
}

// InfraConfigSpec is a versioned set of infrastructure parameters
type InfraConfigSpec struct {
	// Version of the infrastructure to deploy
	// +kubebuilder:validation:MinLength=1
	Version string `json:"version"`

	// Parameters are passed to the infrastructure template
	// +optional
	Parameters map[string]string `json:"parameters,omitempty"`
}

// TemplateName returns the infrastructure template used for this address space.
func (s AddressSpaceSpec) TemplateName() string {
	if s.Template != "" {
		return s.Template
	}
	return s.Type + "-space-infra"
}

// AddressSpaceStatus defines the observed state of AddressSpace
type AddressSpaceStatus struct {
	// Phase represents the current lifecycle phase
	// +kubebuilder:validation:Enum=Absent;Applying;Ready;Degraded;Deleting
	// +optional
	Phase string `json:"phase,omitempty"`

	// Conditions represent the latest available observations
	// +optional
	Conditions []metav1.Condition `json:"conditions,omitempty"`

	// ReadyWorkloads lists workloads with at least one ready replica
	// +optional
	ReadyWorkloads []string `json:"readyWorkloads,omitempty"`

	// NotReadyWorkloads lists workloads without a ready replica
	// +optional
	NotReadyWorkloads []string `json:"notReadyWorkloads,omitempty"`

	// ObservedGeneration is the generation last acted on
	// +optional
	ObservedGeneration int64 `json:"observedGeneration,omitempty"`

	// LastUpdated is the last time the status was updated
	// +optional
	LastUpdated metav1.Time `json:"lastUpdated,omitempty"`
}

// +kubebuilder:object:root=true
// +kubebuilder:subresource:status
// +kubebuilder:printcolumn:name="Type",type=string,JSONPath=`.spec.type`
// +kubebuilder:printcolumn:name="Plan",type=string,JSONPath=`.spec.plan`
// +kubebuilder:printcolumn:name="Phase",type=string,JSONPath=`.status.phase`
// +kubebuilder:printcolumn:name="Age",type=date,JSONPath=`.metadata.creationTimestamp`

// AddressSpace is the Schema for the addressspaces API
type AddressSpace struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec   AddressSpaceSpec   `json:"spec,omitempty"`
	Status AddressSpaceStatus `json:"status,omitempty"`
}

// +kubebuilder:object:root=true

// AddressSpaceList contains a list of AddressSpace
type AddressSpaceList struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ListMeta `json:"metadata,omitempty"`
	Items           []AddressSpace `json:"items"`
}

func init() {
	SchemeBuilder.Register(&AddressSpace{}, &AddressSpaceList{})
}
