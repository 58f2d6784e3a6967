package model

import (
	"encoding/json"
	"testing"
	"time"
)

func TestJobStatusIsTerminal(t *testing.T) {
	t.Parallel()
	tests := []struct {
		status   JobStatus
		terminal bool
	}{
		{JobStatusPending, false},
		{JobStatusScheduled, false},
		{JobStatusInProgress, false},
		{JobStatusRetrying, false},
		{JobStatusCompleted, true},
		{JobStatusFailed, true},
		{JobStatusCancelled, true},
	}
	for _, tt := range tests {
		if got := tt.status.IsTerminal(); got != tt.terminal {
			t.Errorf("JobStatus(%q).IsTerminal() = %v, want %v", tt.status, got, tt.terminal)
		}
	}
}

func TestPriorityRank(t *testing.T) {
	t.Parallel()
	order := []Priority{PriorityLow, PriorityNormal, PriorityHigh, PriorityCritical}
	for i := 1; i < len(order); i++ {
		if order[i].Rank() <= order[i-1].Rank() {
			t.Errorf("Rank(%q) = %d, want > Rank(%q) = %d",
				order[i], order[i].Rank(), order[i-1], order[i-1].Rank())
		}
	}
}

func TestTargetTypeODataType(t *testing.T) {
	t.Parallel()
	tests := []struct {
		target TargetType
		want   string
	}{
		{TargetTypeGroup, "#microsoft.graph.groupAssignmentTarget"},
		{TargetTypeExclusionGroup, "#microsoft.graph.exclusionGroupAssignmentTarget"},
		{TargetTypeAllUsers, "#microsoft.graph.allLicensedUsersAssignmentTarget"},
		{TargetTypeAllLicensedUsers, "#microsoft.graph.allLicensedUsersAssignmentTarget"},
		{TargetTypeAllDevices, "#microsoft.graph.allDevicesAssignmentTarget"},
	}
	for _, tt := range tests {
		if got := tt.target.ODataType(); got != tt.want {
			t.Errorf("TargetType(%q).ODataType() = %q, want %q", tt.target, got, tt.want)
		}
	}
}

func TestMarshalSettings_InjectsType(t *testing.T) {
	t.Parallel()
	raw, err := MarshalSettings(&IOSVppAppSettings{UseDeviceLicensing: true, IsRemovable: true})
	if err != nil {
		t.Fatalf("MarshalSettings() error: %v", err)
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		t.Fatalf("unmarshal rendered settings: %v", err)
	}
	if fields["@odata.type"] != "#microsoft.graph.iosVppAppAssignmentSettings" {
		t.Errorf("@odata.type = %v, want iosVppAppAssignmentSettings", fields["@odata.type"])
	}
	if fields["useDeviceLicensing"] != true {
		t.Errorf("useDeviceLicensing = %v, want true", fields["useDeviceLicensing"])
	}
}

func TestMarshalSettings_Nil(t *testing.T) {
	t.Parallel()
	raw, err := MarshalSettings(nil)
	if err != nil {
		t.Fatalf("MarshalSettings(nil) error: %v", err)
	}
	if raw != nil {
		t.Errorf("MarshalSettings(nil) = %s, want nil", raw)
	}
}

func TestDefaultSettingsForAppType(t *testing.T) {
	t.Parallel()
	for _, at := range ValidAppTypes {
		s := DefaultSettingsForAppType(at)
		if at == AppTypeWebLink {
			if s != nil {
				t.Errorf("DefaultSettingsForAppType(%q) = %T, want nil", at, s)
			}
			continue
		}
		if s == nil {
			t.Errorf("DefaultSettingsForAppType(%q) = nil, want settings", at)
			continue
		}
		if s.ODataType() == "" {
			t.Errorf("DefaultSettingsForAppType(%q).ODataType() is empty", at)
		}
	}
}

func TestBatchSummaryDeriveStatus(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		counts map[JobStatus]int
		total  int
		want   string
	}{
		{"still running", map[JobStatus]int{JobStatusCompleted: 3, JobStatusPending: 2}, 5, BatchStatusRunning},
		{"all completed", map[JobStatus]int{JobStatusCompleted: 5}, 5, BatchStatusCompleted},
		{"some failed", map[JobStatus]int{JobStatusCompleted: 3, JobStatusFailed: 2}, 5, BatchStatusPartial},
		{"all cancelled", map[JobStatus]int{JobStatusCancelled: 5}, 5, BatchStatusCancelled},
		{"mixed cancelled", map[JobStatus]int{JobStatusCompleted: 2, JobStatusCancelled: 3}, 5, BatchStatusPartial},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := &BatchSummary{BatchID: "b", Total: tt.total, Counts: tt.counts, CreatedAt: time.Now()}
			if got := s.DeriveStatus(); got != tt.want {
				t.Errorf("DeriveStatus() = %q, want %q", got, tt.want)
			}
		})
	}
}
