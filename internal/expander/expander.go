package expander

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/deploydeck/api/internal/model"
)

// ErrInvalidSelection reports a bulk request whose resource or group
// selection cannot expand into any job.
var ErrInvalidSelection = errors.New("invalid selection")

// Expand materializes a bulk request into one job per (resource, group)
// pair. The transformation is purely combinatorial: identical inputs
// produce structurally identical jobs modulo generated ids. Jobs come
// back in resource-major order, all pending.
func Expand(req *model.BulkAssignRequest, batchID string, now time.Time) ([]model.AssignmentJob, error) {
	if len(req.Resources) == 0 {
		return nil, fmt.Errorf("%w: no resources selected", ErrInvalidSelection)
	}
	if len(req.Groups) == 0 {
		return nil, fmt.Errorf("%w: no groups selected", ErrInvalidSelection)
	}

	resources := dedupeResources(req.Resources)
	groups := dedupeGroups(req.Groups)

	// Last override for a group wins.
	overrides := make(map[string]model.GroupOverride, len(req.Overrides))
	for _, ov := range req.Overrides {
		overrides[ov.GroupID] = ov
	}

	priority := req.Priority
	if priority == "" {
		priority = model.PriorityNormal
	}

	jobs := make([]model.AssignmentJob, 0, len(resources)*len(groups))
	for _, res := range resources {
		for _, grp := range groups {
			ov, hasOverride := overrides[grp.ID]

			intent := req.Intent
			if hasOverride && ov.Intent != "" {
				intent = ov.Intent
			}

			targetType, err := resolveTargetType(grp.ID, hasOverride && ov.Mode == string(model.FilterModeExclude))
			if err != nil {
				return nil, err
			}

			settings, err := resolveSettings(intent, res.Type, req.Settings, ov, hasOverride)
			if err != nil {
				return nil, fmt.Errorf("resource %s: %w", res.ID, err)
			}

			job := model.AssignmentJob{
				ID:           uuid.New().String(),
				BatchID:      batchID,
				ResourceID:   res.ID,
				ResourceName: res.Name,
				ResourceType: res.Type,
				GroupID:      grp.ID,
				GroupName:    grp.Name,
				TargetType:   targetType,
				Intent:       intent,
				Settings:     settings,
				Filter:       resolveFilter(ov.Filter, req.Filter),
				Status:       model.JobStatusPending,
				Priority:     priority,
				CreatedAt:    now,
				ModifiedAt:   now,
			}
			jobs = append(jobs, job)
		}
	}
	return jobs, nil
}

// resolveTargetType maps a group to its target type. The built-in
// pseudo groups expand to pseudo targets and cannot be excluded.
func resolveTargetType(groupID string, exclude bool) (model.TargetType, error) {
	switch groupID {
	case model.AllUsersGroupID:
		if exclude {
			return "", fmt.Errorf("%w: built-in group %s cannot be excluded", ErrInvalidSelection, groupID)
		}
		return model.TargetTypeAllUsers, nil
	case model.AllDevicesGroupID:
		if exclude {
			return "", fmt.Errorf("%w: built-in group %s cannot be excluded", ErrInvalidSelection, groupID)
		}
		return model.TargetTypeAllDevices, nil
	default:
		if exclude {
			return model.TargetTypeExclusionGroup, nil
		}
		return model.TargetTypeGroup, nil
	}
}

// resolveSettings renders the settings blob for one job. Uninstall never
// carries settings, whatever the overrides say; the remote API reads any
// present settings object on an uninstall as an explicit override and
// rejects it. Otherwise the override payload wins over the request
// default, which wins over the type-appropriate default.
func resolveSettings(intent model.Intent, appType model.AppType, global map[string]any, ov model.GroupOverride, hasOverride bool) (json.RawMessage, error) {
	if intent == model.IntentUninstall {
		return nil, nil
	}
	if hasOverride && ov.Settings != nil {
		return model.MarshalSettingsMap(ov.Settings, appType)
	}
	if global != nil {
		return model.MarshalSettingsMap(global, appType)
	}
	return model.MarshalSettings(model.DefaultSettingsForAppType(appType))
}

// resolveFilter picks the override filter when it names one, falling
// back to the request-level filter. Filters without an id are dropped.
func resolveFilter(override, fallback *model.FilterSelection) *model.FilterRef {
	sel := override
	if sel == nil || sel.ID == "" {
		sel = fallback
	}
	if sel == nil || sel.ID == "" {
		return nil
	}
	mode := sel.Mode
	if mode == "" {
		mode = model.FilterModeInclude
	}
	return &model.FilterRef{ID: sel.ID, Mode: mode}
}

func dedupeResources(in []model.ResourceSelection) []model.ResourceSelection {
	seen := make(map[string]bool, len(in))
	out := make([]model.ResourceSelection, 0, len(in))
	for _, r := range in {
		if seen[r.ID] {
			continue
		}
		seen[r.ID] = true
		out = append(out, r)
	}
	return out
}

func dedupeGroups(in []model.GroupSelection) []model.GroupSelection {
	seen := make(map[string]bool, len(in))
	out := make([]model.GroupSelection, 0, len(in))
	for _, g := range in {
		if seen[g.ID] {
			continue
		}
		seen[g.ID] = true
		out = append(out, g)
	}
	return out
}
