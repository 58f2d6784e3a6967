package e2e

import (
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/deploydeck/api/internal/model"
)

func validBulkBody() string {
	appID := uuid.New().String()
	groupID := uuid.New().String()
	return fmt.Sprintf(`{
		"resources": [
			{"id": "%s", "name": "Field Service", "type": "win32LobApp"}
		],
		"groups": [
			{"id": "%s", "name": "Sales - Laptops"}
		],
		"intent": "required"
	}`, appID, groupID)
}

// fourJobBulkBody selects 2 apps × 2 groups, expanding into 4 jobs.
func fourJobBulkBody() string {
	return fmt.Sprintf(`{
		"resources": [
			{"id": "%s", "name": "Field Service", "type": "win32LobApp"},
			{"id": "%s", "name": "Expense Tracker", "type": "iosVppApp"}
		],
		"groups": [
			{"id": "%s", "name": "Sales - Laptops"},
			{"id": "%s", "name": "Engineering - Mobile"}
		],
		"intent": "available",
		"priority": "high"
	}`, uuid.New().String(), uuid.New().String(), uuid.New().String(), uuid.New().String())
}

func TestBulkAssign_Success(t *testing.T) {
	ta := setupApp(t)

	resp, err := doAuthRequest(t, ta.app, http.MethodPost, "/api/assignments/bulk", validBulkBody())
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	assertStatus(t, resp, http.StatusAccepted)

	result := parseJSON(t, resp)
	if result["batchId"] == nil || result["batchId"] == "" {
		t.Error("expected 'batchId' in response")
	}
	if result["jobCount"] != float64(1) {
		t.Errorf("expected jobCount 1, got %v", result["jobCount"])
	}
	if result["priority"] != "normal" {
		t.Errorf("expected default priority 'normal', got %v", result["priority"])
	}
}

func TestBulkAssign_NoAuth(t *testing.T) {
	ta := setupApp(t)

	resp, err := doRequest(ta.app, http.MethodPost, "/api/assignments/bulk", validBulkBody(), nil)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	assertStatus(t, resp, http.StatusUnauthorized)
}

func TestBulkAssign_InvalidBody(t *testing.T) {
	ta := setupApp(t)

	// Missing groups and intent
	body := fmt.Sprintf(`{"resources": [{"id": "%s", "type": "win32LobApp"}]}`, uuid.New().String())

	resp, err := doAuthRequest(t, ta.app, http.MethodPost, "/api/assignments/bulk", body)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	assertStatus(t, resp, http.StatusBadRequest)

	result := parseJSON(t, resp)
	errObj := result["error"].(map[string]interface{})
	if errObj["code"] != "VALIDATION_ERROR" {
		t.Errorf("expected error code VALIDATION_ERROR, got %v", errObj["code"])
	}
}

func TestBulkAssign_ExcludedBuiltinGroup(t *testing.T) {
	ta := setupApp(t)

	// "All Users" cannot be an exclusion target
	body := fmt.Sprintf(`{
		"resources": [{"id": "%s", "type": "win32LobApp"}],
		"groups": [{"id": "%s", "name": "All Users"}],
		"intent": "required",
		"overrides": [{"groupId": "%s", "mode": "exclude"}]
	}`, uuid.New().String(), model.AllUsersGroupID, model.AllUsersGroupID)

	resp, err := doAuthRequest(t, ta.app, http.MethodPost, "/api/assignments/bulk", body)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	assertStatus(t, resp, http.StatusBadRequest)

	result := parseJSON(t, resp)
	errObj := result["error"].(map[string]interface{})
	if errObj["code"] != "VALIDATION_ERROR" {
		t.Errorf("expected error code VALIDATION_ERROR, got %v", errObj["code"])
	}
}

func TestBatchDetail_Success(t *testing.T) {
	ta := setupApp(t)

	resp, err := doAuthRequest(t, ta.app, http.MethodPost, "/api/assignments/bulk", fourJobBulkBody())
	if err != nil {
		t.Fatalf("submit request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusAccepted)
	batchID := parseJSON(t, resp)["batchId"].(string)

	resp, err = doAuthRequest(t, ta.app, http.MethodGet, "/api/assignments/"+batchID, "")
	if err != nil {
		t.Fatalf("detail request failed: %v", err)
	}

	assertStatus(t, resp, http.StatusOK)

	result := parseJSON(t, resp)
	batch := result["batch"].(map[string]interface{})
	if batch["id"] != batchID {
		t.Errorf("expected batch id %s, got %v", batchID, batch["id"])
	}
	if batch["jobCount"] != float64(4) {
		t.Errorf("expected jobCount 4, got %v", batch["jobCount"])
	}
	if batch["priority"] != "high" {
		t.Errorf("expected priority 'high', got %v", batch["priority"])
	}

	summary := result["summary"].(map[string]interface{})
	if summary["status"] != "running" {
		t.Errorf("expected status 'running', got %v", summary["status"])
	}
	if summary["total"] != float64(4) {
		t.Errorf("expected total 4, got %v", summary["total"])
	}
}

func TestBatchSummary_CountsScheduledJobs(t *testing.T) {
	ta := setupApp(t)

	resp, err := doAuthRequest(t, ta.app, http.MethodPost, "/api/assignments/bulk", fourJobBulkBody())
	if err != nil {
		t.Fatalf("submit request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusAccepted)
	batchID := parseJSON(t, resp)["batchId"].(string)

	resp, err = doAuthRequest(t, ta.app, http.MethodGet, "/api/assignments/"+batchID+"/summary", "")
	if err != nil {
		t.Fatalf("summary request failed: %v", err)
	}

	assertStatus(t, resp, http.StatusOK)

	summary := parseJSON(t, resp)
	if summary["batchId"] != batchID {
		t.Errorf("expected batchId %s, got %v", batchID, summary["batchId"])
	}
	// No worker server runs in these tests, so all jobs sit in scheduled
	counts := summary["counts"].(map[string]interface{})
	if counts["scheduled"] != float64(4) {
		t.Errorf("expected 4 scheduled jobs, got %v", counts["scheduled"])
	}
}

func TestBatchStatus_NotFound(t *testing.T) {
	ta := setupApp(t)

	fakeBatchID := uuid.New().String()
	resp, err := doAuthRequest(t, ta.app, http.MethodGet, "/api/assignments/"+fakeBatchID, "")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	assertStatus(t, resp, http.StatusNotFound)

	result := parseJSON(t, resp)
	errObj := result["error"].(map[string]interface{})
	if errObj["code"] != "NOT_FOUND" {
		t.Errorf("expected error code NOT_FOUND, got %v", errObj["code"])
	}
}

func TestBatchJobs_ListAndFilter(t *testing.T) {
	ta := setupApp(t)

	resp, err := doAuthRequest(t, ta.app, http.MethodPost, "/api/assignments/bulk", fourJobBulkBody())
	if err != nil {
		t.Fatalf("submit request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusAccepted)
	batchID := parseJSON(t, resp)["batchId"].(string)

	// Full listing
	resp, err = doAuthRequest(t, ta.app, http.MethodGet, "/api/assignments/"+batchID+"/jobs", "")
	if err != nil {
		t.Fatalf("jobs request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusOK)

	result := parseJSON(t, resp)
	if result["total"] != float64(4) {
		t.Errorf("expected total 4, got %v", result["total"])
	}
	jobs := result["jobs"].([]interface{})
	if len(jobs) != 4 {
		t.Fatalf("expected 4 jobs, got %d", len(jobs))
	}
	first := jobs[0].(map[string]interface{})
	if first["status"] != "scheduled" {
		t.Errorf("expected job status 'scheduled', got %v", first["status"])
	}

	// Status filter that matches nothing
	resp, err = doAuthRequest(t, ta.app, http.MethodGet, "/api/assignments/"+batchID+"/jobs?status=completed", "")
	if err != nil {
		t.Fatalf("filtered jobs request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusOK)
	result = parseJSON(t, resp)
	if result["total"] != float64(0) {
		t.Errorf("expected total 0 for completed filter, got %v", result["total"])
	}

	// Pagination keeps the full total
	resp, err = doAuthRequest(t, ta.app, http.MethodGet, "/api/assignments/"+batchID+"/jobs?limit=2", "")
	if err != nil {
		t.Fatalf("paged jobs request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusOK)
	result = parseJSON(t, resp)
	if result["total"] != float64(4) {
		t.Errorf("expected total 4 on paged listing, got %v", result["total"])
	}
	if len(result["jobs"].([]interface{})) != 2 {
		t.Errorf("expected 2 jobs on page, got %d", len(result["jobs"].([]interface{})))
	}
}

func TestBatchCancel_Success(t *testing.T) {
	ta := setupApp(t)

	resp, err := doAuthRequest(t, ta.app, http.MethodPost, "/api/assignments/bulk", fourJobBulkBody())
	if err != nil {
		t.Fatalf("submit request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusAccepted)
	batchID := parseJSON(t, resp)["batchId"].(string)

	resp, err = doAuthRequest(t, ta.app, http.MethodPost, "/api/assignments/"+batchID+"/cancel", "")
	if err != nil {
		t.Fatalf("cancel request failed: %v", err)
	}

	assertStatus(t, resp, http.StatusOK)

	result := parseJSON(t, resp)
	if result["cancelled"] != float64(4) {
		t.Errorf("expected 4 cancelled jobs, got %v", result["cancelled"])
	}
	if result["skipped"] != float64(0) {
		t.Errorf("expected 0 skipped jobs, got %v", result["skipped"])
	}

	// The batch is now terminal
	resp, err = doAuthRequest(t, ta.app, http.MethodGet, "/api/assignments/"+batchID+"/summary", "")
	if err != nil {
		t.Fatalf("summary request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusOK)
	summary := parseJSON(t, resp)
	if summary["status"] != "cancelled" {
		t.Errorf("expected status 'cancelled', got %v", summary["status"])
	}
	if summary["doneAt"] == nil {
		t.Error("expected doneAt to be set on a cancelled batch")
	}
}

func TestBatchCancel_NotFound(t *testing.T) {
	ta := setupApp(t)

	resp, err := doAuthRequest(t, ta.app, http.MethodPost, "/api/assignments/"+uuid.New().String()+"/cancel", "")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	assertStatus(t, resp, http.StatusNotFound)
}

func TestBatchReport_NotReady(t *testing.T) {
	ta := setupApp(t)

	resp, err := doAuthRequest(t, ta.app, http.MethodPost, "/api/assignments/bulk", validBulkBody())
	if err != nil {
		t.Fatalf("submit request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusAccepted)
	batchID := parseJSON(t, resp)["batchId"].(string)

	// Jobs are still scheduled, so the report is not available yet
	resp, err = doAuthRequest(t, ta.app, http.MethodGet, "/api/assignments/"+batchID+"/report", "")
	if err != nil {
		t.Fatalf("report request failed: %v", err)
	}

	assertStatus(t, resp, http.StatusConflict)

	result := parseJSON(t, resp)
	errObj := result["error"].(map[string]interface{})
	if errObj["code"] != "CONFLICT" {
		t.Errorf("expected error code CONFLICT, got %v", errObj["code"])
	}
}

func TestBatchReport_AfterCancel(t *testing.T) {
	ta := setupApp(t)

	resp, err := doAuthRequest(t, ta.app, http.MethodPost, "/api/assignments/bulk", validBulkBody())
	if err != nil {
		t.Fatalf("submit request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusAccepted)
	batchID := parseJSON(t, resp)["batchId"].(string)

	resp, err = doAuthRequest(t, ta.app, http.MethodPost, "/api/assignments/"+batchID+"/cancel", "")
	if err != nil {
		t.Fatalf("cancel request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusOK)

	// Cancellation is terminal, so the report can be generated (mock link
	// since no storage client is configured)
	resp, err = doAuthRequest(t, ta.app, http.MethodGet, "/api/assignments/"+batchID+"/report", "")
	if err != nil {
		t.Fatalf("report request failed: %v", err)
	}

	assertStatus(t, resp, http.StatusOK)

	result := parseJSON(t, resp)
	if result["batchId"] != batchID {
		t.Errorf("expected batchId %s, got %v", batchID, result["batchId"])
	}
	url, _ := result["url"].(string)
	if url == "" {
		t.Fatal("expected 'url' in report response")
	}
	if want := "reports/" + batchID; !strings.Contains(url, want) {
		t.Errorf("expected report url to contain %q, got %s", want, url)
	}
	if result["expiresAt"] == nil {
		t.Error("expected 'expiresAt' in report response")
	}
}

func TestBatchList_IncludesSubmitted(t *testing.T) {
	ta := setupApp(t)

	resp, err := doAuthRequest(t, ta.app, http.MethodPost, "/api/assignments/bulk", validBulkBody())
	if err != nil {
		t.Fatalf("submit request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusAccepted)
	batchID := parseJSON(t, resp)["batchId"].(string)

	resp, err = doAuthRequest(t, ta.app, http.MethodGet, "/api/assignments/", "")
	if err != nil {
		t.Fatalf("list request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusOK)

	batches := parseJSONList(t, resp)
	found := false
	for _, b := range batches {
		if b.(map[string]interface{})["id"] == batchID {
			found = true
			break
		}
	}
	if !found {
		t.Errorf("expected batch %s in listing of %d batches", batchID, len(batches))
	}
}
