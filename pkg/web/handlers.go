// Package web provides HTTP handlers and REST API endpoints for workflow management.
package web

import (
	"net/http"
	"time"

	"github.com/dukex/flowpoint/pkg/graph"
	"github.com/dukex/flowpoint/pkg/models"
	"github.com/dukex/flowpoint/pkg/persistence"
	"github.com/dukex/flowpoint/pkg/registry"
	"github.com/dukex/flowpoint/pkg/services"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

type APIHandlers struct {
	workflowService  *services.Workflow
	executionService *services.Execution
	validator        *validator.Validate
	registry         *registry.Registry
}

func NewAPIHandlers(
	workflowService *services.Workflow,
	executionService *services.Execution,
	validator *validator.Validate,
	registry *registry.Registry,
) *APIHandlers {
	return &APIHandlers{
		workflowService:  workflowService,
		executionService: executionService,
		validator:        validator,
		registry:         registry,
	}
}

// Register mounts every endpoint on router.
func (h *APIHandlers) Register(router fiber.Router) {
	router.Get("/health", h.HealthCheck)
	router.Get("/node-types", h.ListNodeTypes)

	t := router.Group("/tenants/:tenant")

	w := t.Group("/workflows")
	w.Get("/", h.ListWorkflows)
	w.Post("/", h.CreateWorkflow)
	w.Post("/validate", h.ValidateWorkflow)
	w.Get("/:id", h.GetWorkflow)
	w.Put("/:id", h.UpdateWorkflow)
	w.Delete("/:id", h.DeleteWorkflow)
	w.Post("/:id/activate", h.ActivateWorkflow)
	w.Post("/:id/pause", h.PauseWorkflow)
	w.Post("/:id/test", h.TestWorkflow)

	t.Post("/events", h.AcceptEvent)

	e := t.Group("/executions")
	e.Get("/", h.ListExecutions)
	e.Get("/:id", h.GetExecution)
	e.Post("/:id/cancel", h.CancelExecution)
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	registryCheck, regOk := h.registry.HealthCheck()
	repositoryCheck, repOk := h.workflowService.HealthCheck(c.Context())

	status := "unhealthy"
	message := "Flowpoint API is unhealthy"
	httpStatus := http.StatusInternalServerError

	if regOk && repOk {
		status = "healthy"
		message = "Flowpoint API is healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"registry":   registryCheck,
			"repository": repositoryCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}

func (h *APIHandlers) ListNodeTypes(c fiber.Ctx) error {
	factories := h.registry.Factories()

	types := make([]NodeTypeResponse, 0, len(factories))
	for _, f := range factories {
		types = append(types, TransformNodeType(f))
	}

	return c.JSON(fiber.Map{"node_types": types})
}

func (h *APIHandlers) ListWorkflows(c fiber.Ctx) error {
	defs, err := h.workflowService.List(c.Context(), c.Params("tenant"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{
		"workflows":   defs,
		"total_count": len(defs),
	})
}

// bindWorkflow decodes and validates the request body. On failure the problem
// response is already written and the returned error is the result of sending it.
func (h *APIHandlers) bindWorkflow(c fiber.Ctx) (*models.WorkflowDefinition, error) {
	var req SaveWorkflowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return nil, badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return nil, badRequest(c, err.Error())
	}

	return req.Definition(c.Params("tenant")), nil
}

func (h *APIHandlers) CreateWorkflow(c fiber.Ctx) error {
	def, sent := h.bindWorkflow(c)
	if def == nil {
		return sent
	}

	created, err := h.workflowService.Create(c.Context(), c.Params("tenant"), def)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(created)
}

// ValidateWorkflow checks a definition without saving it.
func (h *APIHandlers) ValidateWorkflow(c fiber.Ctx) error {
	def, sent := h.bindWorkflow(c)
	if def == nil {
		return sent
	}

	if def.Status == "" {
		def.Status = models.WorkflowStatusDraft
	}

	err := h.workflowService.Validate(def)
	if err == nil {
		return c.JSON(ValidationResponse{Valid: true, Issues: []graph.Issue{}})
	}

	if verr, ok := services.IsGraphValidationError(err); ok {
		return c.JSON(ValidationResponse{Valid: false, Issues: verr.Issues})
	}

	return handleServiceError(c, err)
}

func (h *APIHandlers) GetWorkflow(c fiber.Ctx) error {
	def, err := h.workflowService.Get(c.Context(), c.Params("tenant"), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(def)
}

func (h *APIHandlers) UpdateWorkflow(c fiber.Ctx) error {
	def, sent := h.bindWorkflow(c)
	if def == nil {
		return sent
	}

	updated, err := h.workflowService.Update(c.Context(), c.Params("tenant"), c.Params("id"), def)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(updated)
}

func (h *APIHandlers) DeleteWorkflow(c fiber.Ctx) error {
	err := h.workflowService.Delete(c.Context(), c.Params("tenant"), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) ActivateWorkflow(c fiber.Ctx) error {
	def, err := h.workflowService.Activate(c.Context(), c.Params("tenant"), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(def)
}

func (h *APIHandlers) PauseWorkflow(c fiber.Ctx) error {
	def, err := h.workflowService.Pause(c.Context(), c.Params("tenant"), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(def)
}

// TestWorkflow runs the workflow in test mode and returns the finished record.
func (h *APIHandlers) TestWorkflow(c fiber.Ctx) error {
	var req TestWorkflowRequest

	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, "Invalid JSON format")
		}
	}

	record, err := h.executionService.RunTest(c.Context(), c.Params("tenant"), c.Params("id"), services.TestRequest{
		Payload:  req.Payload,
		DedupKey: req.DedupKey,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(record)
}

// AcceptEvent starts the runs of every active workflow matching the event.
func (h *APIHandlers) AcceptEvent(c fiber.Ctx) error {
	var req AcceptEventRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	result, err := h.executionService.AcceptEvent(c.Context(), models.IncomingEvent{
		TenantID:    c.Params("tenant"),
		TriggerType: req.TriggerType,
		DedupKey:    req.DedupKey,
		Payload:     req.Payload,
		WorkflowID:  req.WorkflowID,
	})
	if result == nil || (err != nil && len(result.ExecutionIDs) == 0) {
		return handleServiceError(c, err)
	}

	response := AcceptEventResponse{ExecutionIDs: result.ExecutionIDs}

	if err != nil {
		for _, e := range unjoin(err) {
			response.Errors = append(response.Errors, e.Error())
		}
	}

	return c.Status(fiber.StatusAccepted).JSON(response)
}

func unjoin(err error) []error {
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		return joined.Unwrap()
	}

	return []error{err}
}

func (h *APIHandlers) ListExecutions(c fiber.Ctx) error {
	var query persistence.ExecutionQuery
	if err := c.Bind().Query(&query); err != nil {
		return badRequest(c, "Invalid query parameters: "+err.Error())
	}

	query.TenantID = c.Params("tenant")

	page, err := h.executionService.List(c.Context(), query)
	if err != nil {
		return handleServiceError(c, err)
	}

	query = query.Normalize()

	return c.JSON(fiber.Map{
		"executions":    page.Records,
		"total_count":   page.TotalCount,
		"has_next_page": page.HasNextPage,
		"pagination": fiber.Map{
			"limit":  query.Limit,
			"offset": query.Offset,
		},
	})
}

func (h *APIHandlers) GetExecution(c fiber.Ctx) error {
	record, err := h.executionService.Get(c.Context(), c.Params("tenant"), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(record)
}

func (h *APIHandlers) CancelExecution(c fiber.Ctx) error {
	err := h.executionService.Cancel(c.Context(), c.Params("tenant"), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"execution_id": c.Params("id"), "status": "cancelling"})
}
