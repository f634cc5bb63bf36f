package domain

import "time"

type RegisteredModel struct {
	Name           string          `json:"name"`
	Description    string          `json:"description"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
	LatestVersions []*ModelVersion `json:"latest_versions,omitempty"`
}
