package web

import (
	"github.com/dukex/flowpoint/pkg/graph"
	"github.com/dukex/flowpoint/pkg/persistence"
	"github.com/dukex/flowpoint/pkg/services"
	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"
)

// issuesProblem is a problem document extended with the validation issues.
type issuesProblem struct {
	*problems.Problem

	Issues []graph.Issue `json:"issues"`
}

func badRequest(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(fiber.StatusBadRequest).
		WithInstance(c.Path()).
		WithType("validation_error").
		WithDetail(detail)

	return c.Status(fiber.StatusBadRequest).JSON(problem)
}

func statusProblem(c fiber.Ctx, status int, problemType, detail string) error {
	problem := problems.NewStatusProblem(status).
		WithInstance(c.Path()).
		WithType(problemType).
		WithDetail(detail)

	return c.Status(status).JSON(problem)
}

func invalidGraph(c fiber.Ctx, verr *graph.ValidationError) error {
	problem := issuesProblem{
		Problem: problems.NewStatusProblem(fiber.StatusUnprocessableEntity).
			WithInstance(c.Path()).
			WithType("invalid_workflow").
			WithDetail(verr.Error()),
		Issues: verr.Issues,
	}

	return c.Status(fiber.StatusUnprocessableEntity).JSON(problem)
}

func internalError(c fiber.Ctx, err error) error {
	problem := problems.NewStatusProblem(fiber.StatusInternalServerError).
		WithInstance(c.Path()).
		WithType("internal_error").
		WithError(err)

	return c.Status(fiber.StatusInternalServerError).JSON(problem)
}

// handleServiceError maps service layer errors to problem responses.
func handleServiceError(c fiber.Ctx, err error) error {
	if verr, ok := services.IsGraphValidationError(err); ok {
		return invalidGraph(c, verr)
	}

	switch {
	case services.IsValidationError(err):
		return badRequest(c, err.Error())

	case persistence.IsWorkflowNotFound(err):
		return statusProblem(c, fiber.StatusNotFound, "workflow_not_found", "workflow not found")

	case persistence.IsExecutionNotFound(err):
		return statusProblem(c, fiber.StatusNotFound, "execution_not_found", "execution not found")

	case services.IsConflictError(err):
		return statusProblem(c, fiber.StatusConflict, "conflict", err.Error())

	case services.IsUnavailableError(err):
		c.Set(fiber.HeaderRetryAfter, "1")

		return statusProblem(c, fiber.StatusServiceUnavailable, "unavailable", err.Error())

	default:
		return internalError(c, err)
	}
}
