// Package domain provides core domain types and entities for Otto.
package domain

import "time"

// ProvisionedResourceSet tracks the cloud resources created for a project's builds.
// An empty field means the resource was never created.
type ProvisionedResourceSet struct {
	ProjectID           string
	UserID              string
	RegistryRepoName    string
	RegistryURI         string
	BuildProjectName    string
	BuildProjectARN     string
	LogDestinationName  string
	EventSubscriptionID string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// IsEmpty reports whether nothing was provisioned
func (s *ProvisionedResourceSet) IsEmpty() bool {
	return s.RegistryRepoName == "" &&
		s.BuildProjectName == "" &&
		s.LogDestinationName == "" &&
		s.EventSubscriptionID == ""
}
