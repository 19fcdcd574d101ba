// Package infra reconciles the cluster resources backing a messaging
// address space.
//
// Every resource belonging to one address space carries the
// enmasse.io/infra-uuid label, and the label is the only ownership key used
// for listing and deletion. The configuration last applied is recorded as
// annotations on the address space resource and, as a fallback, on the
// messaging-<uuid> anchor service.
package infra
