package cli

import (
	"errors"

	"github.com/google/uuid"
	"github.com/spf13/pflag"

	enmassev1 "github.com/aykay76/msginfra/api/v1"
	"github.com/aykay76/msginfra/pkg/infra"
)

// tenantFlags describe one address space on the command line.
type tenantFlags struct {
	name      string
	infraUUID string
	spaceType string
	template  string
	plan      string
	version   string
	params    map[string]string
}

func (f *tenantFlags) bind(fs *pflag.FlagSet) {
	fs.StringVar(&f.name, "address-space", "", "Address space name")
	fs.StringVar(&f.infraUUID, "infra-uuid", "", "Infra UUID owning the resources")
	fs.StringVar(&f.spaceType, "type", "standard", "Address space type, selects <type>-space-infra when --template is unset")
	fs.StringVar(&f.template, "template", "", "Template name")
	fs.StringVar(&f.plan, "plan", "", "Address space plan")
	fs.StringVar(&f.version, "infra-version", "", "Infra config version")
	fs.StringToStringVar(&f.params, "set", nil, "Template parameters as key=value")
}

// tenant builds the engine view. When generate is set a missing infra UUID
// is replaced by a fresh one.
func (f *tenantFlags) tenant(namespace string, generate bool) (infra.TenantInfra, error) {
	id := f.infraUUID
	if id == "" {
		if !generate {
			return infra.TenantInfra{}, errors.New("--infra-uuid is required")
		}
		id = uuid.NewString()
	}
	spec := enmassev1.AddressSpaceSpec{Type: f.spaceType, Template: f.template}
	return infra.TenantInfra{
		Name:      f.name,
		Namespace: namespace,
		InfraUUID: id,
		Template:  spec.TemplateName(),
		Plan:      f.plan,
		DesiredConfig: infra.InfraConfig{
			Version:    f.version,
			Parameters: f.params,
		},
	}, nil
}
