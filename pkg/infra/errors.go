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
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrTimeoutExceeded matches any TimeoutExceededError via errors.Is.
var ErrTimeoutExceeded = errors.New("timeout exceeded")

// PlatformError is a failure reported by the cluster for one resource.
type PlatformError struct {
	Op   string
	Kind Kind
	Name string
	Err  error
}

func (e *PlatformError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s %s/%s: %v", e.Op, e.Kind, e.Name, e.Err)
}

func (e *PlatformError) Unwrap() error { return e.Err }

// MalformedConfigError reports an applied-configuration annotation that
// exists but cannot be decoded.
type MalformedConfigError struct {
	Annotation string
	Source     string
	Err        error
}

func (e *MalformedConfigError) Error() string {
	return fmt.Sprintf("malformed annotation %s on %s: %v", e.Annotation, e.Source, e.Err)
}

func (e *MalformedConfigError) Unwrap() error { return e.Err }

// TemplateError reports that a resource set could not be produced.
type TemplateError struct {
	Template string
	Err      error
}

func (e *TemplateError) Error() string {
	return fmt.Sprintf("template %q: %v", e.Template, e.Err)
}

func (e *TemplateError) Unwrap() error { return e.Err }

// TimeoutExceededError reports an operation that gave up waiting.
type TimeoutExceededError struct {
	Operation string
	Timeout   time.Duration
	Pending   []string
}

func (e *TimeoutExceededError) Error() string {
	msg := fmt.Sprintf("%s did not finish within %s", e.Operation, e.Timeout)
	if len(e.Pending) > 0 {
		msg += ": pending " + strings.Join(e.Pending, ", ")
	}
	return msg
}

func (e *TimeoutExceededError) Is(target error) bool {
	return target == ErrTimeoutExceeded
}
