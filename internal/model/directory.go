package model

// Well-known IDs of the built-in pseudo groups. Selecting one of these
// as a target group expands to the matching pseudo target type instead
// of a group target.
const (
	AllUsersGroupID   = "acacacac-9df4-4c7d-9d50-4ef0226f57a9"
	AllDevicesGroupID = "adadadad-808e-44e2-905a-0b7873a8a531"
)

// Application is a managed app as listed by the directory endpoints.
type Application struct {
	ID            string  `json:"id"`
	DisplayName   string  `json:"displayName"`
	Type          AppType `json:"type"`
	Publisher     string  `json:"publisher,omitempty"`
	IsAssigned    bool    `json:"isAssigned"`
	AssignedCount int     `json:"assignedCount,omitempty"`
}

// DirectoryGroup is a security group usable as an assignment target.
type DirectoryGroup struct {
	ID              string `json:"id"`
	DisplayName     string `json:"displayName"`
	Description     string `json:"description,omitempty"`
	MemberCount     int    `json:"memberCount,omitempty"`
	SecurityEnabled bool   `json:"securityEnabled"`
}

// AssignmentFilter is a device filter usable on assignment targets.
type AssignmentFilter struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Platform    string `json:"platform"`
	Rule        string `json:"rule,omitempty"`
}
