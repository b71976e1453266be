package handlers

import (
	"errors"
	"net/url"
	"strings"

	"github.com/dermashare/backend/internal/imaging"
	"github.com/dermashare/backend/internal/middleware"
	"github.com/dermashare/backend/internal/models"
	"github.com/dermashare/backend/internal/services"
	"github.com/dermashare/backend/pkg/logger"
	"github.com/dermashare/backend/pkg/utils"
	"github.com/gofiber/fiber/v2"
)

type ConnectionsHandler struct {
	Connections *services.ConnectionService
	Audit       *services.AuditService
}

func NewConnectionsHandler(connections *services.ConnectionService, audit *services.AuditService) *ConnectionsHandler {
	return &ConnectionsHandler{Connections: connections, Audit: audit}
}

func (h *ConnectionsHandler) List(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	users, err := h.Connections.ListConnections(c.Context(), user)
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed listing connections")
	}
	return utils.Success(c, fiber.StatusOK, users)
}

type addConnectionRequest struct {
	Email string          `json:"email"`
	Role  models.UserRole `json:"role"`
}

func (h *ConnectionsHandler) Add(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	var req addConnectionRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))

	if !models.IsValidUserRole(string(req.Role)) {
		return utils.Error(c, fiber.StatusBadRequest, "role must be patient, doctor or nurse")
	}

	target, err := h.Connections.AddConnection(c.Context(), user, req.Role, req.Email)
	if err != nil {
		var partial *imaging.PartialError
		if errors.As(err, &partial) && target != nil {
			// The caller's side was recorded; report the missing reverse
			// edge instead of failing the add.
			return utils.Success(c, fiber.StatusMultiStatus, fiber.Map{
				"connection": target,
				"warning":    partial.Error(),
			})
		}
		return utils.Error(c, statusForError(err), err.Error())
	}

	logger.InfoWithUser(user.ID.String(), "connection_added", map[string]interface{}{
		"target": target.Email,
		"role":   string(target.Role),
	})

	h.Audit.LogAsync(services.AuditEntry{
		UserID:       &user.ID,
		Action:       "connection.add",
		ResourceType: "connection",
		ResourceKey:  target.Email,
		IPAddress:    c.IP(),
		RequestID:    getRequestID(c),
	})

	return utils.Success(c, fiber.StatusCreated, target)
}

func (h *ConnectionsHandler) Remove(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	raw, err := url.PathUnescape(c.Params("email"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid email parameter")
	}

	email := strings.ToLower(strings.TrimSpace(raw))
	if err := h.Connections.RemoveConnection(c.Context(), user, email); err != nil {
		return utils.Error(c, statusForError(err), err.Error())
	}

	h.Audit.LogAsync(services.AuditEntry{
		UserID:       &user.ID,
		Action:       "connection.remove",
		ResourceType: "connection",
		ResourceKey:  email,
		IPAddress:    c.IP(),
		RequestID:    getRequestID(c),
	})

	return utils.Success(c, fiber.StatusOK, fiber.Map{"removed": email})
}
