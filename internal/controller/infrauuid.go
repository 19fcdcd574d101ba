package controller

import (
	"github.com/google/uuid"

	enmassev1 "github.com/aykay76/msginfra/api/v1"
	"github.com/aykay76/msginfra/pkg/infra"
)

func infraUUIDOf(as *enmassev1.AddressSpace) string {
	return as.Annotations[infra.AnnotationInfraUUID]
}

// ensureInfraUUID assigns a fresh infra UUID when the address space has none
// and mirrors it into the ownership label. It reports whether the object
// changed and needs to be written back.
func ensureInfraUUID(as *enmassev1.AddressSpace) bool {
	changed := false
	id := infraUUIDOf(as)
	if id == "" {
		id = uuid.NewString()
		if as.Annotations == nil {
			as.Annotations = map[string]string{}
		}
		as.Annotations[infra.AnnotationInfraUUID] = id
		changed = true
	}
	if as.Labels[infra.LabelInfraUUID] != id {
		if as.Labels == nil {
			as.Labels = map[string]string{}
		}
		as.Labels[infra.LabelInfraUUID] = id
		changed = true
	}
	return changed
}

// tenantFromAddressSpace maps the custom resource onto the engine's view.
func tenantFromAddressSpace(as *enmassev1.AddressSpace) infra.TenantInfra {
	phase := as.Status.Phase
	if phase == enmassev1.PhaseDeleting {
		phase = ""
	}
	return infra.TenantInfra{
		Name:      as.Name,
		Namespace: as.Namespace,
		InfraUUID: infraUUIDOf(as),
		Template:  as.Spec.TemplateName(),
		Plan:      as.Spec.Plan,
		DesiredConfig: infra.InfraConfig{
			Version:    as.Spec.InfraConfig.Version,
			Parameters: as.Spec.InfraConfig.Parameters,
		},
		Annotations: as.Annotations,
		LastState:   infra.State(phase),
	}
}
