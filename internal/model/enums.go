package model

// Assignment intents
type Intent string

const (
	IntentAvailable                  Intent = "available"
	IntentRequired                   Intent = "required"
	IntentUninstall                  Intent = "uninstall"
	IntentAvailableWithoutEnrollment Intent = "availableWithoutEnrollment"
)

var ValidIntents = []Intent{
	IntentAvailable, IntentRequired, IntentUninstall,
	IntentAvailableWithoutEnrollment,
}

// Target types
type TargetType string

const (
	TargetTypeGroup              TargetType = "group"
	TargetTypeExclusionGroup     TargetType = "exclusionGroup"
	TargetTypeAllUsers           TargetType = "allUsers"
	TargetTypeAllDevices         TargetType = "allDevices"
	TargetTypeAllLicensedUsers   TargetType = "allLicensedUsers"
	TargetTypeExternalCollection TargetType = "externalCollection"
)

var ValidTargetTypes = []TargetType{
	TargetTypeGroup, TargetTypeExclusionGroup, TargetTypeAllUsers,
	TargetTypeAllDevices, TargetTypeAllLicensedUsers, TargetTypeExternalCollection,
}

// ODataType returns the wire type of the assignment target. All-users
// selections resolve to the licensed-users target; the service has no
// distinct all-users variant.
func (t TargetType) ODataType() string {
	switch t {
	case TargetTypeExclusionGroup:
		return "#microsoft.graph.exclusionGroupAssignmentTarget"
	case TargetTypeAllUsers, TargetTypeAllLicensedUsers:
		return "#microsoft.graph.allLicensedUsersAssignmentTarget"
	case TargetTypeAllDevices:
		return "#microsoft.graph.allDevicesAssignmentTarget"
	case TargetTypeExternalCollection:
		return "#microsoft.graph.configurationManagerCollectionAssignmentTarget"
	default:
		return "#microsoft.graph.groupAssignmentTarget"
	}
}

// Job status
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusScheduled  JobStatus = "scheduled"
	JobStatusInProgress JobStatus = "inProgress"
	JobStatusRetrying   JobStatus = "retrying"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// IsTerminal reports whether a job in this status will never change again.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// Batch priorities
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityNormal   Priority = "normal"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

var ValidPriorities = []Priority{
	PriorityLow, PriorityNormal, PriorityHigh, PriorityCritical,
}

// Rank orders priorities for dispatch; higher goes first.
func (p Priority) Rank() int {
	switch p {
	case PriorityCritical:
		return 3
	case PriorityHigh:
		return 2
	case PriorityNormal:
		return 1
	default:
		return 0
	}
}

// Assignment filter modes
type FilterMode string

const (
	FilterModeInclude FilterMode = "include"
	FilterModeExclude FilterMode = "exclude"
)

// Application types
type AppType string

const (
	AppTypeIOSVpp              AppType = "iosVppApp"
	AppTypeIOSLob              AppType = "iosLobApp"
	AppTypeIOSStore            AppType = "iosStoreApp"
	AppTypeMacOSVpp            AppType = "macOSVppApp"
	AppTypeMacOSLob            AppType = "macOSLobApp"
	AppTypeWin32Lob            AppType = "win32LobApp"
	AppTypeWinGet              AppType = "winGetApp"
	AppTypeAndroidManagedStore AppType = "androidManagedStoreApp"
	AppTypeWebLink             AppType = "webApp"
)

var ValidAppTypes = []AppType{
	AppTypeIOSVpp, AppTypeIOSLob, AppTypeIOSStore, AppTypeMacOSVpp,
	AppTypeMacOSLob, AppTypeWin32Lob, AppTypeWinGet,
	AppTypeAndroidManagedStore, AppTypeWebLink,
}
