package model

import "time"

// ResourceSelection names one app in a bulk request.
type ResourceSelection struct {
	ID   string  `json:"id" validate:"required,uuid"`
	Name string  `json:"name,omitempty" validate:"omitempty,max=200"`
	Type AppType `json:"type" validate:"required,oneof=iosVppApp iosLobApp iosStoreApp macOSVppApp macOSLobApp win32LobApp winGetApp androidManagedStoreApp webApp"`
}

// GroupSelection names one target group in a bulk request. The built-in
// all-users and all-devices pseudo groups are selected by their
// well-known IDs like any other group.
type GroupSelection struct {
	ID   string `json:"id" validate:"required,uuid"`
	Name string `json:"name,omitempty" validate:"omitempty,max=200"`
}

// FilterSelection attaches an assignment filter to expanded jobs.
type FilterSelection struct {
	ID   string     `json:"id" validate:"omitempty,uuid"`
	Mode FilterMode `json:"mode,omitempty" validate:"omitempty,oneof=include exclude"`
}

// GroupOverride adjusts the jobs expanded for one group: a different
// intent, exclusion instead of inclusion, a settings payload replacing
// the default, or a filter.
type GroupOverride struct {
	GroupID  string           `json:"groupId" validate:"required,uuid"`
	Intent   Intent           `json:"intent,omitempty" validate:"omitempty,oneof=available required uninstall availableWithoutEnrollment"`
	Mode     string           `json:"mode,omitempty" validate:"omitempty,oneof=include exclude"`
	Settings map[string]any   `json:"settings,omitempty"`
	Filter   *FilterSelection `json:"filter,omitempty"`
}

// BulkAssignRequest is the body of POST /api/assignments/bulk. Settings
// is the global default payload; overrides win per group.
type BulkAssignRequest struct {
	Resources []ResourceSelection `json:"resources" validate:"required,min=1,max=100,dive"`
	Groups    []GroupSelection    `json:"groups" validate:"required,min=1,max=100,dive"`
	Intent    Intent              `json:"intent" validate:"required,oneof=available required uninstall availableWithoutEnrollment"`
	Settings  map[string]any      `json:"settings,omitempty"`
	Priority  Priority            `json:"priority,omitempty" validate:"omitempty,oneof=low normal high critical"`
	Filter    *FilterSelection    `json:"filter,omitempty"`
	Overrides []GroupOverride     `json:"overrides,omitempty" validate:"omitempty,dive"`
	Notes     string              `json:"notes,omitempty" validate:"omitempty,max=500"`
}

// BulkAssignResponse acknowledges an accepted bulk request.
type BulkAssignResponse struct {
	BatchID   string    `json:"batchId"`
	JobCount  int       `json:"jobCount"`
	Priority  Priority  `json:"priority"`
	CreatedAt time.Time `json:"createdAt"`
}

// CancelResponse reports how many jobs a cancellation reached.
type CancelResponse struct {
	BatchID   string `json:"batchId"`
	Cancelled int    `json:"cancelled"`
	Skipped   int    `json:"skipped"`
}

// JobListResponse pages through a batch's jobs.
type JobListResponse struct {
	BatchID string          `json:"batchId"`
	Total   int             `json:"total"`
	Jobs    []AssignmentJob `json:"jobs"`
}

// BatchDetailResponse pairs a batch record with its live rollup.
type BatchDetailResponse struct {
	Batch   Batch        `json:"batch"`
	Summary BatchSummary `json:"summary"`
}

// ReportResponse points at an archived batch report.
type ReportResponse struct {
	BatchID   string    `json:"batchId"`
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expiresAt"`
}
