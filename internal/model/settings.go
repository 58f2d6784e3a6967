package model

import (
	"encoding/json"
	"fmt"
)

// AppSettings is one of the per-type assignment settings payloads. Each
// implementation reports its wire type so the marshalled blob can carry
// the discriminator the service expects.
type AppSettings interface {
	ODataType() string
}

// IOSVppAppSettings configures VPP app assignments (iOS).
type IOSVppAppSettings struct {
	UseDeviceLicensing       bool    `json:"useDeviceLicensing"`
	VPNConfigurationID       *string `json:"vpnConfigurationId,omitempty"`
	UninstallOnDeviceRemoval bool    `json:"uninstallOnDeviceRemoval"`
	IsRemovable              bool    `json:"isRemovable"`
	PreventManagedAppBackup  bool    `json:"preventManagedAppBackup"`
}

func (IOSVppAppSettings) ODataType() string {
	return "#microsoft.graph.iosVppAppAssignmentSettings"
}

// IOSLobAppSettings configures line-of-business app assignments (iOS).
type IOSLobAppSettings struct {
	VPNConfigurationID       *string `json:"vpnConfigurationId,omitempty"`
	UninstallOnDeviceRemoval bool    `json:"uninstallOnDeviceRemoval"`
	IsRemovable              bool    `json:"isRemovable"`
	PreventManagedAppBackup  bool    `json:"preventManagedAppBackup"`
}

func (IOSLobAppSettings) ODataType() string {
	return "#microsoft.graph.iosLobAppAssignmentSettings"
}

// IOSStoreAppSettings configures store app assignments (iOS).
type IOSStoreAppSettings struct {
	VPNConfigurationID       *string `json:"vpnConfigurationId,omitempty"`
	UninstallOnDeviceRemoval bool    `json:"uninstallOnDeviceRemoval"`
	IsRemovable              bool    `json:"isRemovable"`
}

func (IOSStoreAppSettings) ODataType() string {
	return "#microsoft.graph.iosStoreAppAssignmentSettings"
}

// MacOSVppAppSettings configures VPP app assignments (macOS).
type MacOSVppAppSettings struct {
	UseDeviceLicensing       bool `json:"useDeviceLicensing"`
	UninstallOnDeviceRemoval bool `json:"uninstallOnDeviceRemoval"`
	PreventAutoAppUpdate     bool `json:"preventAutoAppUpdate"`
	PreventManagedAppBackup  bool `json:"preventManagedAppBackup"`
}

func (MacOSVppAppSettings) ODataType() string {
	return "#microsoft.graph.macOsVppAppAssignmentSettings"
}

// MacOSLobAppSettings configures line-of-business app assignments (macOS).
type MacOSLobAppSettings struct {
	UninstallOnDeviceRemoval bool `json:"uninstallOnDeviceRemoval"`
}

func (MacOSLobAppSettings) ODataType() string {
	return "#microsoft.graph.macOsLobAppAssignmentSettings"
}

// Win32LobAppSettings configures Win32 app assignments.
type Win32LobAppSettings struct {
	Notifications        string                 `json:"notifications"`
	DeliveryOptimization string                 `json:"deliveryOptimizationPriority"`
	InstallTimeSettings  *MobileAppInstallTime  `json:"installTimeSettings,omitempty"`
	RestartSettings      *Win32LobAppRestart    `json:"restartSettings,omitempty"`
	AutoUpdateSettings   *Win32LobAppAutoUpdate `json:"autoUpdateSettings,omitempty"`
}

func (Win32LobAppSettings) ODataType() string {
	return "#microsoft.graph.win32LobAppAssignmentSettings"
}

// MobileAppInstallTime sets deadline/start windows for an install.
type MobileAppInstallTime struct {
	UseLocalTime     bool    `json:"useLocalTime"`
	StartDateTime    *string `json:"startDateTime,omitempty"`
	DeadlineDateTime *string `json:"deadlineDateTime,omitempty"`
}

// Win32LobAppRestart controls post-install restart grace periods.
type Win32LobAppRestart struct {
	GracePeriodInMinutes              int `json:"gracePeriodInMinutes"`
	CountdownDisplayBeforeRestart     int `json:"countdownDisplayBeforeRestartInMinutes"`
	RestartNotificationSnoozeDuration int `json:"restartNotificationSnoozeDurationInMinutes"`
}

// Win32LobAppAutoUpdate opts an assignment into supersedence auto update.
type Win32LobAppAutoUpdate struct {
	AutoUpdateSupersededApps string `json:"autoUpdateSupersededApps"`
}

// WinGetAppSettings configures WinGet app assignments.
type WinGetAppSettings struct {
	Notifications       string                `json:"notifications"`
	InstallTimeSettings *MobileAppInstallTime `json:"installTimeSettings,omitempty"`
}

func (WinGetAppSettings) ODataType() string {
	return "#microsoft.graph.winGetAppAssignmentSettings"
}

// AndroidManagedStoreAppSettings configures managed Google Play assignments.
type AndroidManagedStoreAppSettings struct {
	AndroidManagedStoreAppTrackIDs []string `json:"androidManagedStoreAppTrackIds"`
	AutoUpdateMode                 string   `json:"autoUpdateMode"`
}

func (AndroidManagedStoreAppSettings) ODataType() string {
	return "#microsoft.graph.androidManagedStoreAppAssignmentSettings"
}

// DefaultSettingsForAppType returns the settings payload used when a
// request supplies none. Types with no settings surface return nil.
func DefaultSettingsForAppType(t AppType) AppSettings {
	switch t {
	case AppTypeIOSVpp:
		return &IOSVppAppSettings{UseDeviceLicensing: true, IsRemovable: true}
	case AppTypeIOSLob:
		return &IOSLobAppSettings{IsRemovable: true}
	case AppTypeIOSStore:
		return &IOSStoreAppSettings{IsRemovable: true}
	case AppTypeMacOSVpp:
		return &MacOSVppAppSettings{UseDeviceLicensing: true}
	case AppTypeMacOSLob:
		return &MacOSLobAppSettings{}
	case AppTypeWin32Lob:
		return &Win32LobAppSettings{
			Notifications:        "showAll",
			DeliveryOptimization: "foreground",
		}
	case AppTypeWinGet:
		return &WinGetAppSettings{Notifications: "showAll"}
	case AppTypeAndroidManagedStore:
		return &AndroidManagedStoreAppSettings{AutoUpdateMode: "default"}
	default:
		return nil
	}
}

// MarshalSettings renders a settings payload to the opaque blob stored on
// a job, injecting the wire type discriminator. A nil payload renders nil.
func MarshalSettings(s AppSettings) (json.RawMessage, error) {
	if s == nil {
		return nil, nil
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal settings: %w", err)
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("reshape settings: %w", err)
	}
	fields["@odata.type"] = s.ODataType()
	out, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("marshal settings: %w", err)
	}
	return out, nil
}

// MarshalSettingsMap renders a caller-supplied settings object, adding
// the type discriminator for the resource's type when the caller did not
// set one. Empty maps render nil rather than an empty object; the remote
// API reads a present-but-empty object as an explicit override.
func MarshalSettingsMap(m map[string]any, t AppType) (json.RawMessage, error) {
	if len(m) == 0 {
		return nil, nil
	}
	if _, ok := m["@odata.type"]; !ok {
		if d := DefaultSettingsForAppType(t); d != nil {
			withType := make(map[string]any, len(m)+1)
			for k, v := range m {
				withType[k] = v
			}
			withType["@odata.type"] = d.ODataType()
			m = withType
		}
	}
	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal settings: %w", err)
	}
	return out, nil
}
