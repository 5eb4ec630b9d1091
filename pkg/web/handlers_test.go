package web_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dukex/flowpoint/pkg/dedup"
	"github.com/dukex/flowpoint/pkg/dispatcher"
	"github.com/dukex/flowpoint/pkg/engine"
	"github.com/dukex/flowpoint/pkg/graph"
	"github.com/dukex/flowpoint/pkg/matcher"
	"github.com/dukex/flowpoint/pkg/models"
	"github.com/dukex/flowpoint/pkg/persistence/file"
	"github.com/dukex/flowpoint/pkg/registry"
	"github.com/dukex/flowpoint/pkg/services"
	"github.com/dukex/flowpoint/pkg/web"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestApp(t *testing.T) (*fiber.App, *dispatcher.Dispatcher) {
	t.Helper()

	p := file.NewPersistence(t.TempDir())

	reg := registry.NewRegistry(slog.Default())
	reg.RegisterDefaultNodes(registry.Dependencies{})

	m := matcher.New(p.GraphStore(), reg, slog.Default())
	exec := engine.New(reg, p.ExecutionLog(), engine.Config{MaxAttempts: 1}, slog.Default())

	d := dispatcher.New(p.GraphStore(), m, p.ExecutionLog(), dedup.NewMemoryStore(), exec, dispatcher.Config{}, slog.Default())
	d.Start(t.Context())

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		_ = d.Shutdown(ctx)
	})

	handlers := web.NewAPIHandlers(
		services.NewWorkflow(p, reg, d, slog.Default()),
		services.NewExecution(p.ExecutionLog(), m, d, slog.Default()),
		validator.New(validator.WithRequiredStructEnabled()),
		reg,
	)

	app := fiber.New()
	handlers.Register(app)

	return app, d
}

func doRequest(t *testing.T, app *fiber.App, method, path string, body any) (*http.Response, []byte) {
	t.Helper()

	var reader io.Reader

	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)

		reader = bytes.NewBuffer(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp, raw
}

func rawNode(id string, kind models.NodeKind, config string) models.Node {
	return models.Node{ID: id, Kind: kind, Config: json.RawMessage(config)}
}

func attendanceRequest() web.SaveWorkflowRequest {
	return web.SaveWorkflowRequest{
		Name:        "Attendance follow-up",
		TriggerType: models.TriggerTypeEvent,
		Mode:        models.WorkflowModeAdvanced,
		Nodes: []models.Node{
			rawNode("t", models.NodeKindTrigger, `{"type":"domain_event","event_name":"attendance.recorded"}`),
			rawNode("a", models.NodeKindAction, `{"type":"log","message":"recorded {{.payload.student}}"}`),
		},
		Edges: []models.Edge{{ID: "e1", From: "t", To: "a"}},
	}
}

func createWorkflow(t *testing.T, app *fiber.App, tenant string, req web.SaveWorkflowRequest) models.WorkflowDefinition {
	t.Helper()

	resp, body := doRequest(t, app, http.MethodPost, "/tenants/"+tenant+"/workflows", req)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	var def models.WorkflowDefinition
	require.NoError(t, json.Unmarshal(body, &def))

	return def
}

func TestAPIHandlers_CreateWorkflow(t *testing.T) {
	t.Parallel()

	invalidGraph := attendanceRequest()
	invalidGraph.Edges = append(invalidGraph.Edges, models.Edge{ID: "e2", From: "a", To: "t"})

	unknownType := attendanceRequest()
	unknownType.Nodes[1] = rawNode("a", models.NodeKindAction, `{"type":"teleport"}`)

	missingName := attendanceRequest()
	missingName.Name = ""

	tests := []struct {
		name           string
		requestBody    any
		expectedStatus int
		validateResult func(t *testing.T, body []byte)
	}{
		{
			name:           "successful creation",
			requestBody:    attendanceRequest(),
			expectedStatus: http.StatusCreated,
			validateResult: func(t *testing.T, body []byte) {
				t.Helper()

				var def models.WorkflowDefinition
				require.NoError(t, json.Unmarshal(body, &def))
				assert.NotEmpty(t, def.ID)
				assert.Equal(t, "acme", def.TenantID)
				assert.Equal(t, models.WorkflowStatusDraft, def.Status)
				assert.Equal(t, 1, def.Version)
				assert.JSONEq(t, `{"type":"domain_event","event_name":"attendance.recorded"}`, string(def.Nodes[0].Config))
			},
		},
		{
			name:           "cycle is unprocessable",
			requestBody:    invalidGraph,
			expectedStatus: http.StatusUnprocessableEntity,
			validateResult: func(t *testing.T, body []byte) {
				t.Helper()

				var problem struct {
					Type   string        `json:"type"`
					Issues []graph.Issue `json:"issues"`
				}
				require.NoError(t, json.Unmarshal(body, &problem))
				assert.Equal(t, "invalid_workflow", problem.Type)
				codes := make([]graph.IssueCode, 0, len(problem.Issues))
				for _, issue := range problem.Issues {
					codes = append(codes, issue.Code)
				}
				assert.Contains(t, codes, graph.IssueCycle)
			},
		},
		{
			name:           "unknown node type is unprocessable",
			requestBody:    unknownType,
			expectedStatus: http.StatusUnprocessableEntity,
			validateResult: func(t *testing.T, body []byte) {
				t.Helper()
				assert.Contains(t, string(body), string(graph.IssueUnknownType))
			},
		},
		{
			name:           "missing name",
			requestBody:    missingName,
			expectedStatus: http.StatusBadRequest,
			validateResult: func(t *testing.T, body []byte) {
				t.Helper()
				assert.Contains(t, string(body), "Name")
			},
		},
		{
			name:           "invalid JSON",
			requestBody:    "invalid-json",
			expectedStatus: http.StatusBadRequest,
			validateResult: func(t *testing.T, body []byte) {
				t.Helper()
				assert.Contains(t, string(body), "Invalid JSON format")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			app, _ := setupTestApp(t)

			resp, body := doRequest(t, app, http.MethodPost, "/tenants/acme/workflows", tt.requestBody)
			assert.Equal(t, tt.expectedStatus, resp.StatusCode, string(body))

			if tt.validateResult != nil {
				tt.validateResult(t, body)
			}
		})
	}
}

func TestAPIHandlers_WorkflowLifecycle(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)
	def := createWorkflow(t, app, "acme", attendanceRequest())
	path := "/tenants/acme/workflows/" + def.ID

	resp, body := doRequest(t, app, http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "Attendance follow-up")

	update := attendanceRequest()
	update.Name = "Renamed"

	resp, body = doRequest(t, app, http.MethodPut, path, update)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var updated models.WorkflowDefinition
	require.NoError(t, json.Unmarshal(body, &updated))
	assert.Equal(t, "Renamed", updated.Name)
	assert.Equal(t, 2, updated.Version)

	resp, body = doRequest(t, app, http.MethodPost, path+"/activate", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"status":"active"`)

	resp, body = doRequest(t, app, http.MethodPost, path+"/pause", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"status":"paused"`)

	resp, body = doRequest(t, app, http.MethodGet, "/tenants/acme/workflows", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"total_count":1`)

	resp, _ = doRequest(t, app, http.MethodDelete, path, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, body = doRequest(t, app, http.MethodGet, path, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, string(body), "workflow_not_found")
}

func TestAPIHandlers_TenantIsolation(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)
	def := createWorkflow(t, app, "acme", attendanceRequest())

	resp, _ := doRequest(t, app, http.MethodGet, "/tenants/globex/workflows/"+def.ID, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = doRequest(t, app, http.MethodDelete, "/tenants/globex/workflows/"+def.ID, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body := doRequest(t, app, http.MethodGet, "/tenants/globex/workflows", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"total_count":0`)
}

func TestAPIHandlers_ValidateWorkflow(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)

	resp, body := doRequest(t, app, http.MethodPost, "/tenants/acme/workflows/validate", attendanceRequest())
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result web.ValidationResponse
	require.NoError(t, json.Unmarshal(body, &result))
	assert.True(t, result.Valid)
	assert.Empty(t, result.Issues)

	orphan := attendanceRequest()
	orphan.Nodes = append(orphan.Nodes, rawNode("x", models.NodeKindAction, `{"type":"log","message":"alone"}`))

	resp, body = doRequest(t, app, http.MethodPost, "/tenants/acme/workflows/validate", orphan)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, json.Unmarshal(body, &result))
	assert.False(t, result.Valid)
	require.Len(t, result.Issues, 1)
	assert.Equal(t, graph.IssueOrphanedNode, result.Issues[0].Code)
	assert.Equal(t, "x", result.Issues[0].NodeID)

	resp, body = doRequest(t, app, http.MethodGet, "/tenants/acme/workflows", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"total_count":0`, "validation does not save")
}

func TestAPIHandlers_EventsAndExecutions(t *testing.T) {
	t.Parallel()

	app, d := setupTestApp(t)

	active := attendanceRequest()
	active.Status = models.WorkflowStatusActive
	def := createWorkflow(t, app, "acme", active)

	event := web.AcceptEventRequest{
		TriggerType: models.TriggerTypeEvent,
		DedupKey:    "att-42",
		Payload:     map[string]any{"event_name": "attendance.recorded", "student": "Ada"},
	}

	resp, body := doRequest(t, app, http.MethodPost, "/tenants/acme/events", event)
	require.Equal(t, http.StatusAccepted, resp.StatusCode, string(body))

	var accepted web.AcceptEventResponse
	require.NoError(t, json.Unmarshal(body, &accepted))
	require.Len(t, accepted.ExecutionIDs, 1)

	id := accepted.ExecutionIDs[0]

	record, err := d.Wait(t.Context(), id)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusSucceeded, record.Status)

	// replaying the event returns the same execution
	resp, body = doRequest(t, app, http.MethodPost, "/tenants/acme/events", event)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &accepted))
	assert.Equal(t, []string{id}, accepted.ExecutionIDs)

	resp, body = doRequest(t, app, http.MethodGet, "/tenants/acme/executions/"+id, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var fetched models.ExecutionRecord
	require.NoError(t, json.Unmarshal(body, &fetched))
	assert.Equal(t, def.ID, fetched.WorkflowID)
	assert.True(t, fetched.HasStep("a"))

	resp, _ = doRequest(t, app, http.MethodGet, "/tenants/globex/executions/"+id, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body = doRequest(t, app, http.MethodGet, "/tenants/acme/executions?status=succeeded&node_id=a&limit=5", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var page struct {
		Executions  []models.ExecutionRecord `json:"executions"`
		TotalCount  int64                    `json:"total_count"`
		HasNextPage bool                     `json:"has_next_page"`
		Pagination  map[string]int           `json:"pagination"`
	}
	require.NoError(t, json.Unmarshal(body, &page))
	assert.Len(t, page.Executions, 1)
	assert.EqualValues(t, 1, page.TotalCount)
	assert.False(t, page.HasNextPage)
	assert.Equal(t, 5, page.Pagination["limit"])

	resp, _ = doRequest(t, app, http.MethodGet, "/tenants/acme/executions?status=exploded", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = doRequest(t, app, http.MethodPost, "/tenants/acme/executions/"+id+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode, "finished runs cannot be cancelled")
	assert.Contains(t, string(body), "execution already succeeded")
}

func TestAPIHandlers_AcceptEventValidation(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)

	resp, _ := doRequest(t, app, http.MethodPost, "/tenants/acme/events", web.AcceptEventRequest{TriggerType: models.TriggerTypeEvent})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = doRequest(t, app, http.MethodPost, "/tenants/acme/events", web.AcceptEventRequest{TriggerType: "fax", DedupKey: "k"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPIHandlers_TestWorkflow(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)
	def := createWorkflow(t, app, "acme", attendanceRequest())

	resp, body := doRequest(t, app, http.MethodPost, "/tenants/acme/workflows/"+def.ID+"/test", web.TestWorkflowRequest{
		Payload: map[string]any{"student": "Grace"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var record models.ExecutionRecord
	require.NoError(t, json.Unmarshal(body, &record))
	assert.True(t, record.TestMode)
	assert.Equal(t, models.ExecutionStatusSucceeded, record.Status)

	step, ok := record.Step("a")
	require.True(t, ok)
	assert.True(t, step.Simulated)

	resp, _ = doRequest(t, app, http.MethodPost, "/tenants/acme/workflows/missing/test", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPIHandlers_ListNodeTypes(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)

	resp, body := doRequest(t, app, http.MethodGet, "/node-types", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result struct {
		NodeTypes []web.NodeTypeResponse `json:"node_types"`
	}
	require.NoError(t, json.Unmarshal(body, &result))
	require.NotEmpty(t, result.NodeTypes)

	types := map[string]bool{}
	for _, nt := range result.NodeTypes {
		types[string(nt.Kind)+"/"+nt.Type] = true
		assert.NotEmpty(t, nt.Name)
		assert.NotNil(t, nt.Schema)
	}

	assert.True(t, types["trigger/cron"])
	assert.True(t, types["condition/metric_threshold"])
	assert.True(t, types["action/notify"])
}

func TestAPIHandlers_HealthCheck(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)

	resp, body := doRequest(t, app, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"status":"healthy"`)
}

func TestTransformNodeType(t *testing.T) {
	reg := registry.NewRegistry(slog.Default())
	reg.RegisterDefaultNodes(registry.Dependencies{})

	for _, f := range reg.Factories() {
		nt := web.TransformNodeType(f)
		assert.Equal(t, f.ID(), nt.Type)
		assert.Equal(t, f.Kind(), nt.Kind)
	}
}
