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
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"strings"
)

// InfraConfig is the versioned infrastructure configuration of a tenant.
type InfraConfig struct {
	Version    string            `json:"version"`
	Parameters map[string]string `json:"parameters,omitempty"`
}

// Equal compares version and parameters; nil and empty parameters are equal.
func (c InfraConfig) Equal(o InfraConfig) bool {
	return c.Version == o.Version && maps.Equal(c.Parameters, o.Parameters)
}

// AppliedConfig is the snapshot of the tenant configuration last pushed to
// the cluster.
type AppliedConfig struct {
	Template    string      `json:"template"`
	Plan        string      `json:"plan,omitempty"`
	InfraConfig InfraConfig `json:"infraConfig"`
}

// Equal compares two snapshots field by field.
func (c AppliedConfig) Equal(o AppliedConfig) bool {
	return c.Template == o.Template && c.Plan == o.Plan && c.InfraConfig.Equal(o.InfraConfig)
}

// ParseAppliedConfig decodes an applied-configuration annotation value.
// An empty value yields nil without error.
func ParseAppliedConfig(raw string) (*AppliedConfig, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	cfg := &AppliedConfig{}
	if err := decodeStrict(raw, cfg); err != nil {
		return nil, &MalformedConfigError{Annotation: AnnotationAppliedConfig, Err: err}
	}
	return cfg, nil
}

// ParseInfraConfig decodes an applied infra-config annotation value.
// An empty value yields nil without error.
func ParseInfraConfig(raw string) (*InfraConfig, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	cfg := &InfraConfig{}
	if err := decodeStrict(raw, cfg); err != nil {
		return nil, &MalformedConfigError{Annotation: AnnotationAppliedInfraConfig, Err: err}
	}
	return cfg, nil
}

func decodeStrict(raw string, v any) error {
	if strings.TrimSpace(raw) == "null" {
		return errors.New("configuration is null")
	}
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("trailing data after configuration")
	}
	return nil
}

// EncodeAppliedConfig serializes a snapshot for storage in an annotation.
func EncodeAppliedConfig(c AppliedConfig) (string, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("encode applied configuration: %w", err)
	}
	return string(b), nil
}

// EncodeInfraConfig serializes an infra config for storage in an annotation.
func EncodeInfraConfig(c InfraConfig) (string, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("encode infra config: %w", err)
	}
	return string(b), nil
}

// SnapshotAnnotations returns both applied-configuration annotations for c.
func SnapshotAnnotations(c AppliedConfig) (map[string]string, error) {
	applied, err := EncodeAppliedConfig(c)
	if err != nil {
		return nil, err
	}
	infra, err := EncodeInfraConfig(c.InfraConfig)
	if err != nil {
		return nil, err
	}
	return map[string]string{
		AnnotationAppliedConfig:      applied,
		AnnotationAppliedInfraConfig: infra,
	}, nil
}

// Tracker reads the applied configuration of a tenant, first from the
// tenant's own annotations and then from its anchor service.
type Tracker struct {
	gateway *Gateway
}

// NewTracker returns a Tracker reading through g.
func NewTracker(g *Gateway) *Tracker {
	return &Tracker{gateway: g}
}

// AppliedConfig returns the last applied snapshot, nil when none was recorded.
func (t *Tracker) AppliedConfig(ctx context.Context, tenant TenantInfra) (*AppliedConfig, error) {
	if raw, ok := tenant.Annotations[AnnotationAppliedConfig]; ok && raw != "" {
		cfg, err := ParseAppliedConfig(raw)
		return cfg, withSource(err, "address space "+tenant.Name)
	}
	raw, source, err := t.anchorAnnotation(ctx, tenant, AnnotationAppliedConfig)
	if err != nil || raw == "" {
		return nil, err
	}
	cfg, err := ParseAppliedConfig(raw)
	return cfg, withSource(err, source)
}

// AppliedInfraConfig returns the last applied infra config, nil when none
// was recorded. A tenant annotation without a version is ignored in favour
// of the anchor service.
func (t *Tracker) AppliedInfraConfig(ctx context.Context, tenant TenantInfra) (*InfraConfig, error) {
	if raw, ok := tenant.Annotations[AnnotationAppliedInfraConfig]; ok && raw != "" {
		cfg, err := ParseInfraConfig(raw)
		if err != nil {
			return nil, withSource(err, "address space "+tenant.Name)
		}
		if cfg.Version != "" {
			return cfg, nil
		}
	}
	raw, source, err := t.anchorAnnotation(ctx, tenant, AnnotationAppliedInfraConfig)
	if err != nil || raw == "" {
		return nil, err
	}
	cfg, err := ParseInfraConfig(raw)
	return cfg, withSource(err, source)
}

// RecordSnapshot writes the tenant's desired snapshots onto its anchor
// service. Callers invoke it only once the whole resource set was applied.
func (t *Tracker) RecordSnapshot(ctx context.Context, tenant TenantInfra) error {
	stamp, err := SnapshotAnnotations(tenant.Desired())
	if err != nil {
		return err
	}
	return t.gateway.Annotate(ctx, KindService, AnchorServiceName(tenant.InfraUUID), stamp)
}

// AnchorExists reports whether the tenant's anchor service is present.
func (t *Tracker) AnchorExists(ctx context.Context, tenant TenantInfra) (bool, error) {
	_, found, err := t.gateway.Get(ctx, KindService, AnchorServiceName(tenant.InfraUUID))
	return found, err
}

func (t *Tracker) anchorAnnotation(ctx context.Context, tenant TenantInfra, key string) (string, string, error) {
	name := AnchorServiceName(tenant.InfraUUID)
	anchor, found, err := t.gateway.Get(ctx, KindService, name)
	if err != nil || !found {
		return "", "", err
	}
	return anchor.GetAnnotations()[key], "service " + name, nil
}

func withSource(err error, source string) error {
	var malformed *MalformedConfigError
	if errors.As(err, &malformed) {
		malformed.Source = source
	}
	return err
}
