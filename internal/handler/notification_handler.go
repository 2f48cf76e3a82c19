package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/claimdesk/notify-engine/internal/domain"
	"github.com/claimdesk/notify-engine/internal/repository"
	"github.com/claimdesk/notify-engine/internal/service"
)

const (
	defaultPage     = 1
	defaultPageSize = 50
	maxPageSize     = 100
)

type NotificationService interface {
	Enqueue(ctx context.Context, req service.EnqueueRequest) (int64, error)
	GetJob(ctx context.Context, id string) (*domain.NotificationJob, error)
	ListJobs(ctx context.Context, params repository.ListParams) ([]domain.NotificationJob, int64, error)
	GetJobLogs(ctx context.Context, jobID string) ([]domain.NotificationLog, error)
	UpsertMapping(ctx context.Context, req service.UpsertMappingRequest) (*domain.TemplateMapping, error)
}

type Drainer interface {
	Drain(ctx context.Context, limit int) (*service.DrainResult, error)
}

type NotificationHandler struct {
	service NotificationService
	drainer Drainer
}

func NewNotificationHandler(service NotificationService, drainer Drainer) (*NotificationHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("notification service is required")
	}
	if drainer == nil {
		return nil, fmt.Errorf("drainer is required")
	}
	return &NotificationHandler{service: service, drainer: drainer}, nil
}

func RegisterNotificationRoutes(router fiber.Router, service NotificationService, drainer Drainer) error {
	h, err := NewNotificationHandler(service, drainer)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/notifications", h.EnqueueNotifications)
	v1.Post("/drain", h.Drain)
	v1.Get("/jobs/:id", h.GetJob)
	v1.Get("/jobs/:id/logs", h.GetJobLogs)
	v1.Get("/jobs", h.ListJobs)
	v1.Put("/mappings", h.UpsertMapping)

	return nil
}

type recipientItem struct {
	ID    string   `json:"id"`
	Email string   `json:"email"`
	Cc    []string `json:"cc,omitempty"`
}

type enqueueRequest struct {
	EventCode   string          `json:"eventCode"`
	EntityID    *string         `json:"entityId,omitempty"`
	ActorID     string          `json:"actorId"`
	Recipients  []recipientItem `json:"recipients"`
	Payload     json.RawMessage `json:"payload"`
	MaxAttempts int             `json:"maxAttempts,omitempty"`
}

type enqueueResponse struct {
	JobsCreated int64 `json:"jobsCreated"`
}

type drainRequest struct {
	Limit int `json:"limit,omitempty"`
}

type drainResponse struct {
	Claimed int `json:"claimed"`
	Sent    int `json:"sent"`
	Failed  int `json:"failed"`
}

type jobResponse struct {
	ID                  string          `json:"id"`
	EventCode           string          `json:"eventCode"`
	Channel             string          `json:"channel"`
	TemplateKey         string          `json:"templateKey"`
	EntityID            *string         `json:"entityId,omitempty"`
	ActorID             string          `json:"actorId,omitempty"`
	RecipientID         string          `json:"recipientId"`
	RecipientEmail      string          `json:"recipientEmail"`
	CcEmails            []string        `json:"ccEmails,omitempty"`
	Payload             json.RawMessage `json:"payload,omitempty"`
	Status              string          `json:"status"`
	Attempts            int             `json:"attempts"`
	MaxAttempts         int             `json:"maxAttempts"`
	ScheduledAt         time.Time       `json:"scheduledAt"`
	ProcessingStartedAt *time.Time      `json:"processingStartedAt,omitempty"`
	SentAt              *time.Time      `json:"sentAt,omitempty"`
	FailedAt            *time.Time      `json:"failedAt,omitempty"`
	LastError           *string         `json:"lastError,omitempty"`
	CreatedAt           time.Time       `json:"createdAt"`
	UpdatedAt           time.Time       `json:"updatedAt"`
}

type logResponse struct {
	ID             string    `json:"id"`
	JobID          string    `json:"jobId"`
	EventCode      string    `json:"eventCode"`
	Channel        string    `json:"channel"`
	RecipientEmail string    `json:"recipientEmail"`
	Outcome        string    `json:"outcome"`
	Attempt        int       `json:"attempt"`
	Detail         *string   `json:"detail,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

type mappingRequest struct {
	EventCode   string `json:"eventCode"`
	Channel     string `json:"channel,omitempty"`
	TemplateKey string `json:"templateKey"`
	IsActive    bool   `json:"isActive"`
}

type mappingResponse struct {
	ID          string `json:"id"`
	EventCode   string `json:"eventCode"`
	Channel     string `json:"channel"`
	TemplateKey string `json:"templateKey"`
	IsActive    bool   `json:"isActive"`
}

type listJobsResponse struct {
	Data []jobResponse `json:"data"`
	Meta listMeta      `json:"meta"`
}

type listMeta struct {
	Page     int   `json:"page"`
	PageSize int   `json:"pageSize"`
	Total    int64 `json:"total"`
}

func (h *NotificationHandler) EnqueueNotifications(c *fiber.Ctx) error {
	var req enqueueRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	recipients := make([]service.Recipient, 0, len(req.Recipients))
	for _, r := range req.Recipients {
		recipients = append(recipients, service.Recipient{
			ID:    r.ID,
			Email: r.Email,
			Cc:    r.Cc,
		})
	}

	created, err := h.service.Enqueue(c.UserContext(), service.EnqueueRequest{
		EventCode:   req.EventCode,
		EntityID:    req.EntityID,
		ActorID:     strings.TrimSpace(req.ActorID),
		Recipients:  recipients,
		Payload:     req.Payload,
		MaxAttempts: req.MaxAttempts,
	})
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusAccepted).JSON(enqueueResponse{JobsCreated: created})
}

func (h *NotificationHandler) Drain(c *fiber.Ctx) error {
	var req drainRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}
	}

	result, err := h.drainer.Drain(c.UserContext(), req.Limit)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(drainResponse{
		Claimed: result.Claimed,
		Sent:    result.Sent,
		Failed:  result.Failed,
	})
}

func (h *NotificationHandler) GetJob(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	job, err := h.service.GetJob(c.UserContext(), id)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toJobResponse(job))
}

func (h *NotificationHandler) GetJobLogs(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	logs, err := h.service.GetJobLogs(c.UserContext(), id)
	if err != nil {
		return toHTTPError(err)
	}

	items := make([]logResponse, 0, len(logs))
	for i := range logs {
		items = append(items, toLogResponse(&logs[i]))
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{"data": items})
}

func (h *NotificationHandler) ListJobs(c *fiber.Ctx) error {
	params, err := parseListParams(c)
	if err != nil {
		return toHTTPError(err)
	}

	jobs, total, err := h.service.ListJobs(c.UserContext(), params)
	if err != nil {
		return toHTTPError(err)
	}

	data := make([]jobResponse, 0, len(jobs))
	for i := range jobs {
		data = append(data, toJobResponse(&jobs[i]))
	}

	return c.Status(fiber.StatusOK).JSON(listJobsResponse{
		Data: data,
		Meta: listMeta{
			Page:     params.Page,
			PageSize: params.PageSize,
			Total:    total,
		},
	})
}

func (h *NotificationHandler) UpsertMapping(c *fiber.Ctx) error {
	var req mappingRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	mapping, err := h.service.UpsertMapping(c.UserContext(), service.UpsertMappingRequest{
		EventCode:   req.EventCode,
		Channel:     req.Channel,
		TemplateKey: req.TemplateKey,
		IsActive:    req.IsActive,
	})
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(mappingResponse{
		ID:          mapping.ID,
		EventCode:   mapping.EventCode,
		Channel:     mapping.Channel.String(),
		TemplateKey: mapping.TemplateKey,
		IsActive:    mapping.IsActive,
	})
}

func parseListParams(c *fiber.Ctx) (repository.ListParams, error) {
	params := repository.ListParams{
		Page:     c.QueryInt("page", defaultPage),
		PageSize: c.QueryInt("pageSize", defaultPageSize),
	}

	if params.Page < 1 {
		return repository.ListParams{}, fmt.Errorf("%w: page must be >= 1", domain.ErrValidation)
	}
	if params.PageSize < 1 || params.PageSize > maxPageSize {
		return repository.ListParams{}, fmt.Errorf("%w: pageSize must be between 1 and %d", domain.ErrValidation, maxPageSize)
	}

	if rawStatus := strings.TrimSpace(c.Query("status")); rawStatus != "" {
		status, err := domain.ParseStatusFromString(rawStatus)
		if err != nil {
			return repository.ListParams{}, err
		}
		params.Status = &status
	}

	if rawChannel := strings.TrimSpace(c.Query("channel")); rawChannel != "" {
		channel, err := domain.ParseChannelFromString(rawChannel)
		if err != nil {
			return repository.ListParams{}, err
		}
		params.Channel = &channel
	}

	from, err := parseRFC3339Query(c.Query("from"), "from")
	if err != nil {
		return repository.ListParams{}, err
	}
	to, err := parseRFC3339Query(c.Query("to"), "to")
	if err != nil {
		return repository.ListParams{}, err
	}
	params.From = from
	params.To = to

	return params, nil
}

func parseRFC3339Query(value string, field string) (*time.Time, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}

	t, err := time.Parse(time.RFC3339, trimmed)
	if err != nil {
		return nil, fmt.Errorf("%w: %s must be RFC3339", domain.ErrValidation, field)
	}
	return &t, nil
}

func toJobResponse(job *domain.NotificationJob) jobResponse {
	return jobResponse{
		ID:                  job.ID,
		EventCode:           job.EventCode,
		Channel:             job.Channel.String(),
		TemplateKey:         job.TemplateKey,
		EntityID:            job.EntityID,
		ActorID:             job.ActorID,
		RecipientID:         job.RecipientID,
		RecipientEmail:      job.RecipientEmail,
		CcEmails:            job.CcEmails,
		Payload:             job.Payload,
		Status:              job.Status.String(),
		Attempts:            job.Attempts,
		MaxAttempts:         job.MaxAttempts,
		ScheduledAt:         job.ScheduledAt,
		ProcessingStartedAt: job.ProcessingStartedAt,
		SentAt:              job.SentAt,
		FailedAt:            job.FailedAt,
		LastError:           job.LastError,
		CreatedAt:           job.CreatedAt,
		UpdatedAt:           job.UpdatedAt,
	}
}

func toLogResponse(l *domain.NotificationLog) logResponse {
	return logResponse{
		ID:             l.ID,
		JobID:          l.JobID,
		EventCode:      l.EventCode,
		Channel:        l.Channel.String(),
		RecipientEmail: l.RecipientEmail,
		Outcome:        l.Outcome.String(),
		Attempt:        l.Attempt,
		Detail:         l.Detail,
		CreatedAt:      l.CreatedAt,
	}
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrConflict):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	default:
		return err
	}
}
