package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/deploydeck/api/internal/client"
	"github.com/deploydeck/api/internal/model"
)

const odataTypePrefix = "#microsoft.graph."

// DirectoryService lists the assignable inventory: managed apps,
// security groups, and assignment filters. With no API client
// configured it serves a small sample set so the UI stays usable in
// local setups.
type DirectoryService struct {
	graph client.GraphAPI
}

// NewDirectoryService creates the directory service. graph may be nil.
func NewDirectoryService(graph client.GraphAPI) *DirectoryService {
	return &DirectoryService{graph: graph}
}

type graphApp struct {
	ODataType   string `json:"@odata.type"`
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Publisher   string `json:"publisher"`
	IsAssigned  bool   `json:"isAssigned"`
}

type graphGroup struct {
	ID              string `json:"id"`
	DisplayName     string `json:"displayName"`
	Description     string `json:"description"`
	SecurityEnabled bool   `json:"securityEnabled"`
}

type graphFilter struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Platform    string `json:"platform"`
	Rule        string `json:"rule"`
}

// ListApplications returns all managed apps of a supported type.
func (s *DirectoryService) ListApplications(ctx context.Context) ([]model.Application, error) {
	if s.graph == nil {
		return s.listApplicationsMock(), nil
	}

	items, err := s.graph.GetPaged(ctx, "/deviceAppManagement/mobileApps?$orderby=displayName")
	if err != nil {
		return nil, fmt.Errorf("failed to list applications: %w", err)
	}

	apps := make([]model.Application, 0, len(items))
	skipped := 0
	for _, item := range items {
		var raw graphApp
		if err := json.Unmarshal(item, &raw); err != nil {
			skipped++
			continue
		}
		appType, ok := appTypeFromOData(raw.ODataType)
		if !ok {
			skipped++
			continue
		}
		apps = append(apps, model.Application{
			ID:          raw.ID,
			DisplayName: raw.DisplayName,
			Type:        appType,
			Publisher:   raw.Publisher,
			IsAssigned:  raw.IsAssigned,
		})
	}
	if skipped > 0 {
		log.Printf("[Directory] Skipped %d apps of unsupported type", skipped)
	}
	return apps, nil
}

// ListGroups returns the security groups plus the two built-in pseudo
// groups, which are always listed first.
func (s *DirectoryService) ListGroups(ctx context.Context) ([]model.DirectoryGroup, error) {
	groups := pseudoGroups()
	if s.graph == nil {
		return append(groups, s.listGroupsMock()...), nil
	}

	items, err := s.graph.GetPaged(ctx, "/groups?$select=id,displayName,description,securityEnabled&$orderby=displayName")
	if err != nil {
		return nil, fmt.Errorf("failed to list groups: %w", err)
	}
	for _, item := range items {
		var raw graphGroup
		if err := json.Unmarshal(item, &raw); err != nil {
			continue
		}
		if !raw.SecurityEnabled {
			continue
		}
		groups = append(groups, model.DirectoryGroup{
			ID:              raw.ID,
			DisplayName:     raw.DisplayName,
			Description:     raw.Description,
			SecurityEnabled: true,
		})
	}
	return groups, nil
}

// ListFilters returns the assignment filters.
func (s *DirectoryService) ListFilters(ctx context.Context) ([]model.AssignmentFilter, error) {
	if s.graph == nil {
		return s.listFiltersMock(), nil
	}

	items, err := s.graph.GetPaged(ctx, "/deviceManagement/assignmentFilters")
	if err != nil {
		return nil, fmt.Errorf("failed to list assignment filters: %w", err)
	}
	filters := make([]model.AssignmentFilter, 0, len(items))
	for _, item := range items {
		var raw graphFilter
		if err := json.Unmarshal(item, &raw); err != nil {
			continue
		}
		filters = append(filters, model.AssignmentFilter{
			ID:          raw.ID,
			DisplayName: raw.DisplayName,
			Platform:    raw.Platform,
			Rule:        raw.Rule,
		})
	}
	return filters, nil
}

func appTypeFromOData(odataType string) (model.AppType, bool) {
	name := strings.TrimPrefix(odataType, odataTypePrefix)
	for _, t := range model.ValidAppTypes {
		if string(t) == name {
			return t, true
		}
	}
	return "", false
}

func pseudoGroups() []model.DirectoryGroup {
	return []model.DirectoryGroup{
		{
			ID:              model.AllUsersGroupID,
			DisplayName:     "All Users",
			Description:     "Built-in: every licensed user",
			SecurityEnabled: true,
		},
		{
			ID:              model.AllDevicesGroupID,
			DisplayName:     "All Devices",
			Description:     "Built-in: every managed device",
			SecurityEnabled: true,
		},
	}
}

// Mock data for local setups without API credentials.

func (s *DirectoryService) listApplicationsMock() []model.Application {
	log.Println("[Directory] Mock mode: serving sample applications")
	return []model.Application{
		{ID: "0e1b0d9b-2ad2-4d14-a2b5-0001aaaa0001", DisplayName: "Company Portal", Type: model.AppTypeIOSStore, Publisher: "Contoso IT", IsAssigned: true},
		{ID: "0e1b0d9b-2ad2-4d14-a2b5-0001aaaa0002", DisplayName: "Field Service", Type: model.AppTypeWin32Lob, Publisher: "Contoso IT"},
		{ID: "0e1b0d9b-2ad2-4d14-a2b5-0001aaaa0003", DisplayName: "Expense Tracker", Type: model.AppTypeIOSVpp, Publisher: "Fabrikam"},
	}
}

func (s *DirectoryService) listGroupsMock() []model.DirectoryGroup {
	log.Println("[Directory] Mock mode: serving sample groups")
	return []model.DirectoryGroup{
		{ID: "7d3f1b20-0c4e-4f11-9e28-0002bbbb0001", DisplayName: "Sales - Laptops", SecurityEnabled: true},
		{ID: "7d3f1b20-0c4e-4f11-9e28-0002bbbb0002", DisplayName: "Engineering - Mobile", SecurityEnabled: true},
	}
}

func (s *DirectoryService) listFiltersMock() []model.AssignmentFilter {
	log.Println("[Directory] Mock mode: serving sample filters")
	return []model.AssignmentFilter{
		{ID: "f1e2d3c4-0a0b-4c0d-8e0f-0003cccc0001", DisplayName: "Corporate Windows 11", Platform: "windows10AndLater"},
		{ID: "f1e2d3c4-0a0b-4c0d-8e0f-0003cccc0002", DisplayName: "Personal iOS", Platform: "iOS"},
	}
}
