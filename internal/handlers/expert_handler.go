package handlers

import (
	"context"
	"io"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/Uriel-Ondo/agro/internal/models"
	"github.com/Uriel-Ondo/agro/internal/services"
)

const uploadField = "file"

type relayService interface {
	CreatePublicRequest(ctx context.Context, actorID int64, role string, input services.MessageInput) (*models.PublicRequest, error)
	ListPublicRequests(ctx context.Context, actorID int64, role string) ([]models.PublicRequest, error)
	RespondToRequest(ctx context.Context, actorID int64, role string, requestID int64, input services.MessageInput) (*services.RespondResult, error)
	SendMessage(ctx context.Context, actorID int64, farmerUsername, expertUsername string, input services.MessageInput) (*services.SendResult, error)
	GetMessages(ctx context.Context, actorID int64, farmerUsername, expertUsername string, requestID *int64, limit, offset int) (*services.MessagePage, error)
	SessionMessages(ctx context.Context, actorID int64, sessionID int64, limit, offset int) (*services.MessagePage, error)
	MarkMessageRead(ctx context.Context, actorID, messageID int64) (*models.Message, error)
	UpdateCallStatus(ctx context.Context, actorID, sessionID int64, callType, status string) (*models.Message, error)
	EndSession(ctx context.Context, actorID, sessionID int64) (*models.Session, error)
	DeleteSession(ctx context.Context, actorID, sessionID int64) error
	DeleteMessage(ctx context.Context, actorID, messageID int64) error
	ListSessions(ctx context.Context, actorID int64) ([]models.SessionSummary, error)
	Presence(ctx context.Context, userID int64) (*models.Presence, error)
}

type ExpertHandler struct {
	service        relayService
	maxUploadBytes int64
}

type messageRequest struct {
	Type      string `json:"message_type" form:"message_type"`
	Content   string `json:"content" form:"content"`
	RequestID int64  `json:"request_id" form:"request_id"`
}

type callStatusRequest struct {
	CallType string `json:"call_type"`
	Status   string `json:"status"`
}

func NewExpertHandler(service relayService, maxUploadBytes int) *ExpertHandler {
	return &ExpertHandler{
		service:        service,
		maxUploadBytes: int64(maxUploadBytes),
	}
}

func (h *ExpertHandler) CreateRequest(c *fiber.Ctx) error {
	userID, role, err := actor(c)
	if err != nil {
		return rejectActor(c, err)
	}

	input, validationErr := h.parseMessageInput(c)
	if validationErr != "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": validationErr})
	}

	request, err := h.service.CreatePublicRequest(c.Context(), userID, role, input)
	if err != nil {
		return mapRelayError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"request": request})
}

func (h *ExpertHandler) ListRequests(c *fiber.Ctx) error {
	userID, role, err := actor(c)
	if err != nil {
		return rejectActor(c, err)
	}

	requests, err := h.service.ListPublicRequests(c.Context(), userID, role)
	if err != nil {
		return mapRelayError(c, err)
	}
	return c.JSON(fiber.Map{"requests": requests})
}

func (h *ExpertHandler) RespondToRequest(c *fiber.Ctx) error {
	userID, role, err := actor(c)
	if err != nil {
		return rejectActor(c, err)
	}

	requestID, ok := parseIDParam(c, "id")
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request id"})
	}

	input, validationErr := h.parseMessageInput(c)
	if validationErr != "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": validationErr})
	}

	result, err := h.service.RespondToRequest(c.Context(), userID, role, requestID, input)
	if err != nil {
		return mapRelayError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(result)
}

func (h *ExpertHandler) SendMessage(c *fiber.Ctx) error {
	userID, _, err := actor(c)
	if err != nil {
		return rejectActor(c, err)
	}

	input, validationErr := h.parseMessageInput(c)
	if validationErr != "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": validationErr})
	}

	result, err := h.service.SendMessage(c.Context(), userID, c.Params("farmer"), c.Params("expert"), input)
	if err != nil {
		return mapRelayError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(result)
}

func (h *ExpertHandler) GetMessages(c *fiber.Ctx) error {
	userID, _, err := actor(c)
	if err != nil {
		return rejectActor(c, err)
	}

	requestID, ok := parseOptionalID(c.Query("request_id"))
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request id"})
	}
	page, limit, offset := pageWindow(c.Query("page"), c.Query("limit"))

	result, err := h.service.GetMessages(c.Context(), userID, c.Params("farmer"), c.Params("expert"), requestID, limit, offset)
	if err != nil {
		return mapRelayError(c, err)
	}
	return writeMessagePage(c, result, page, limit)
}

func (h *ExpertHandler) GetSessionMessages(c *fiber.Ctx) error {
	userID, _, err := actor(c)
	if err != nil {
		return rejectActor(c, err)
	}

	sessionID, ok := parseIDParam(c, "id")
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid session id"})
	}
	page, limit, offset := pageWindow(c.Query("page"), c.Query("limit"))

	result, err := h.service.SessionMessages(c.Context(), userID, sessionID, limit, offset)
	if err != nil {
		return mapRelayError(c, err)
	}
	return writeMessagePage(c, result, page, limit)
}

func (h *ExpertHandler) ListSessions(c *fiber.Ctx) error {
	userID, _, err := actor(c)
	if err != nil {
		return rejectActor(c, err)
	}

	sessions, err := h.service.ListSessions(c.Context(), userID)
	if err != nil {
		return mapRelayError(c, err)
	}
	return c.JSON(fiber.Map{"sessions": sessions})
}

func (h *ExpertHandler) EndSession(c *fiber.Ctx) error {
	userID, _, err := actor(c)
	if err != nil {
		return rejectActor(c, err)
	}

	sessionID, ok := parseIDParam(c, "id")
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid session id"})
	}

	session, err := h.service.EndSession(c.Context(), userID, sessionID)
	if err != nil {
		return mapRelayError(c, err)
	}
	return c.JSON(fiber.Map{"session": session})
}

func (h *ExpertHandler) DeleteSession(c *fiber.Ctx) error {
	userID, _, err := actor(c)
	if err != nil {
		return rejectActor(c, err)
	}

	sessionID, ok := parseIDParam(c, "id")
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid session id"})
	}

	if err := h.service.DeleteSession(c.Context(), userID, sessionID); err != nil {
		return mapRelayError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *ExpertHandler) UpdateCallStatus(c *fiber.Ctx) error {
	userID, _, err := actor(c)
	if err != nil {
		return rejectActor(c, err)
	}

	sessionID, ok := parseIDParam(c, "id")
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid session id"})
	}

	var req callStatusRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}

	message, err := h.service.UpdateCallStatus(c.Context(), userID, sessionID, req.CallType, req.Status)
	if err != nil {
		return mapRelayError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"message": message})
}

func (h *ExpertHandler) MarkMessageRead(c *fiber.Ctx) error {
	userID, _, err := actor(c)
	if err != nil {
		return rejectActor(c, err)
	}

	messageID, ok := parseIDParam(c, "id")
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid message id"})
	}

	message, err := h.service.MarkMessageRead(c.Context(), userID, messageID)
	if err != nil {
		return mapRelayError(c, err)
	}
	return c.JSON(fiber.Map{"message": message})
}

func (h *ExpertHandler) DeleteMessage(c *fiber.Ctx) error {
	userID, _, err := actor(c)
	if err != nil {
		return rejectActor(c, err)
	}

	messageID, ok := parseIDParam(c, "id")
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid message id"})
	}

	if err := h.service.DeleteMessage(c.Context(), userID, messageID); err != nil {
		return mapRelayError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *ExpertHandler) Presence(c *fiber.Ctx) error {
	if _, _, err := actor(c); err != nil {
		return rejectActor(c, err)
	}

	userID, ok := parseIDParam(c, "id")
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid user id"})
	}

	presence, err := h.service.Presence(c.Context(), userID)
	if err != nil {
		return mapRelayError(c, err)
	}
	return c.JSON(presence)
}

// parseMessageInput accepts JSON or multipart bodies. A multipart "file"
// part becomes the upload; its extension decides the message type later.
func (h *ExpertHandler) parseMessageInput(c *fiber.Ctx) (services.MessageInput, string) {
	var req messageRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return services.MessageInput{}, "Invalid request body"
		}
	}

	input := services.MessageInput{
		Type:    strings.TrimSpace(req.Type),
		Content: req.Content,
	}
	if req.RequestID > 0 {
		requestID := req.RequestID
		input.RequestID = &requestID
	}

	fileHeader, err := c.FormFile(uploadField)
	if err != nil {
		return input, ""
	}
	if fileHeader.Size <= 0 {
		return services.MessageInput{}, "file is empty"
	}
	if h.maxUploadBytes > 0 && fileHeader.Size > h.maxUploadBytes {
		return services.MessageInput{}, "file exceeds upload limit"
	}
	if _, ok := services.MediaKind(extension(fileHeader.Filename)); !ok {
		return services.MessageInput{}, "file must be a jpg, jpeg, png, mp4, wav, or mp3 file"
	}

	file, err := fileHeader.Open()
	if err != nil {
		return services.MessageInput{}, "Failed to open file"
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return services.MessageInput{}, "Failed to read file"
	}
	input.Upload = &services.Upload{Filename: fileHeader.Filename, Data: data}
	return input, ""
}

func extension(filename string) string {
	upload := services.Upload{Filename: filename}
	return upload.Extension()
}

func writeMessagePage(c *fiber.Ctx, result *services.MessagePage, page, limit int) error {
	return c.JSON(fiber.Map{
		"session":    result.Session,
		"messages":   result.Messages,
		"pagination": buildPaginationMeta(page, limit, result.Total),
	})
}
