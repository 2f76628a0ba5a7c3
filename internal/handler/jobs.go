package handler

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/clipstack/transcoder/internal/model"
	"github.com/clipstack/transcoder/internal/service"
	"github.com/clipstack/transcoder/pkg/response"
)

type JobHandler struct {
	service   *service.JobService
	validator *validator.Validate
}

func NewJobHandler(svc *service.JobService, v *validator.Validate) *JobHandler {
	return &JobHandler{
		service:   svc,
		validator: v,
	}
}

// Submit handles POST /jobs. The job is accepted and processed
// asynchronously; callers poll GET /jobs/:id or subscribe via webhook.
func (h *JobHandler) Submit(c *fiber.Ctx) error {
	var req model.SubmitRequest
	if err := c.BodyParser(&req); err != nil {
		return response.InvalidInput(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.InvalidInput(c, "Validation failed", formatValidationErrors(err))
	}

	job, err := h.service.Submit(c.Context(), &req)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidInput):
			return response.InvalidInput(c, err.Error(), nil)
		case errors.Is(err, service.ErrSourceNotFound):
			return response.SourceNotFound(c, err.Error())
		case errors.Is(err, service.ErrSourceUnsupported):
			return response.SourceUnsupported(c, err.Error())
		case errors.Is(err, service.ErrUnavailable):
			return response.Unavailable(c, err.Error())
		default:
			return response.ServiceError(c, err.Error())
		}
	}

	return response.Accepted(c, job)
}

// Get handles GET /jobs/:id
func (h *JobHandler) Get(c *fiber.Ctx) error {
	jobID := c.Params("id")
	if jobID == "" {
		return response.InvalidInput(c, "Job ID is required", nil)
	}

	job, err := h.service.Get(c.Context(), jobID)
	if err != nil {
		if errors.Is(err, service.ErrJobNotFound) {
			return response.NotFound(c, "Job not found")
		}
		return response.ServiceError(c, err.Error())
	}

	return response.OK(c, job)
}

func formatValidationErrors(err error) []fiber.Map {
	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return nil
	}

	details := make([]fiber.Map, 0, len(validationErrs))
	for _, fe := range validationErrs {
		details = append(details, fiber.Map{
			"field": fe.Field(),
			"rule":  fe.Tag(),
		})
	}
	return details
}
