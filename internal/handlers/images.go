package handlers

import (
	"errors"
	"strings"

	"github.com/dermashare/backend/internal/imaging"
	"github.com/dermashare/backend/internal/middleware"
	"github.com/dermashare/backend/internal/models"
	"github.com/dermashare/backend/internal/services"
	"github.com/dermashare/backend/pkg/logger"
	"github.com/dermashare/backend/pkg/utils"
	"github.com/gofiber/fiber/v2"
)

// ImagesHandler exposes the imaging workflows: browsing the folder index,
// uploading, note threads, sharing and segmentation. Every route resolves a
// storage namespace from the authenticated user plus an optional connection
// they are viewing.
type ImagesHandler struct {
	Browser   *imaging.Browser
	Uploader  *imaging.Uploader
	Notes     *imaging.NoteManager
	Sharer    *imaging.Sharer
	Segmenter *imaging.Segmenter
	Audit     *services.AuditService
}

func NewImagesHandler(
	browser *imaging.Browser,
	uploader *imaging.Uploader,
	notes *imaging.NoteManager,
	sharer *imaging.Sharer,
	segmenter *imaging.Segmenter,
	audit *services.AuditService,
) *ImagesHandler {
	return &ImagesHandler{
		Browser:   browser,
		Uploader:  uploader,
		Notes:     notes,
		Sharer:    sharer,
		Segmenter: segmenter,
		Audit:     audit,
	}
}

// resolveNamespace maps (user, connection) onto a storage namespace. An
// empty connection means the user's own area; otherwise the connection must
// already exist in the user's connection set.
func resolveNamespace(c *fiber.Ctx, user *models.User, connection string) (imaging.Namespace, bool) {
	connection = strings.ToLower(strings.TrimSpace(connection))
	if connection == "" {
		return imaging.OwnNamespace(user.Email), true
	}
	if !user.HasConnection(connection) {
		logger.WarnWithUser(user.ID.String(), "namespace_access_denied", map[string]interface{}{
			"connection": connection,
			"ip":         c.IP(),
		})
		return imaging.Namespace{}, false
	}
	return imaging.SharedNamespace(user.Email, connection), true
}

func (h *ImagesHandler) List(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	ns, ok := resolveNamespace(c, user, c.Query("connection"))
	if !ok {
		return utils.Error(c, fiber.StatusForbidden, "not connected to this user")
	}

	index, err := h.Browser.BuildIndex(c.Context(), ns)
	if err != nil {
		logger.ErrorWithUser(user.ID.String(), "folder_index_failed", err, map[string]interface{}{
			"namespace": ns.Prefix(),
		})
		return utils.Error(c, fiber.StatusInternalServerError, "failed building folder index")
	}

	return utils.Success(c, fiber.StatusOK, index)
}

func (h *ImagesHandler) Upload(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	ns, ok := resolveNamespace(c, user, c.FormValue("connection"))
	if !ok {
		return utils.Error(c, fiber.StatusForbidden, "not connected to this user")
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "file is required")
	}

	src, err := fileHeader.Open()
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "failed reading uploaded file")
	}
	defer src.Close()

	folder := c.FormValue("folder")
	contentType := fileHeader.Header.Get("Content-Type")

	key, err := h.Uploader.Upload(c.Context(), ns, folder, fileHeader.Filename, src, fileHeader.Size, contentType)
	if err != nil {
		var partial *imaging.PartialError
		if errors.As(err, &partial) && !partial.AllFailed() {
			// The primary copy landed; report the missing mirror instead of
			// failing the upload.
			return utils.Success(c, fiber.StatusMultiStatus, fiber.Map{
				"key":     key,
				"warning": partial.Error(),
			})
		}
		return utils.Error(c, statusForError(err), err.Error())
	}

	h.Audit.LogAsync(services.AuditEntry{
		UserID:       &user.ID,
		Action:       "image.upload",
		ResourceType: "image",
		ResourceKey:  key,
		Details: map[string]interface{}{
			"size": fileHeader.Size,
		},
		IPAddress: c.IP(),
		RequestID: getRequestID(c),
	})

	return utils.Success(c, fiber.StatusCreated, fiber.Map{"key": key})
}

type consentRequest struct {
	Name string `json:"name"`
}

func (h *ImagesHandler) SaveConsent(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	var req consentRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	record, err := h.Uploader.WriteConsent(c.Context(), user.Email, req.Name)
	if err != nil {
		return utils.Error(c, statusForError(err), err.Error())
	}

	h.Audit.LogAsync(services.AuditEntry{
		UserID:       &user.ID,
		Action:       "consent.sign",
		ResourceType: "consent",
		ResourceKey:  imaging.ConsentKey(user.Email),
		IPAddress:    c.IP(),
		RequestID:    getRequestID(c),
	})

	return utils.Success(c, fiber.StatusCreated, record)
}

func (h *ImagesHandler) GetConsent(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	ns, ok := resolveNamespace(c, user, c.Query("connection"))
	if !ok {
		return utils.Error(c, fiber.StatusForbidden, "not connected to this user")
	}

	exists := h.Browser.ConsentExists(c.Context(), ns.ConsentOwner())
	return utils.Success(c, fiber.StatusOK, fiber.Map{"exists": exists})
}

func (h *ImagesHandler) ListNotes(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	key := c.Query("key")
	if !imaging.IsImageKey(key) {
		return utils.Error(c, fiber.StatusBadRequest, "key must reference an image")
	}

	notes, err := h.Notes.FetchThread(c.Context(), key)
	if err != nil {
		return utils.Error(c, statusForError(err), err.Error())
	}
	return utils.Success(c, fiber.StatusOK, notes)
}

type addNoteRequest struct {
	Key  string `json:"key"`
	Note string `json:"note"`
}

func (h *ImagesHandler) AddNote(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	var req addNoteRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	note, err := h.Notes.AppendNote(c.Context(), req.Key, user.Email, req.Note)
	if err != nil {
		var partial *imaging.PartialError
		if errors.As(err, &partial) && note != nil {
			return utils.Success(c, fiber.StatusMultiStatus, fiber.Map{
				"note":    note,
				"warning": partial.Error(),
			})
		}
		return utils.Error(c, statusForError(err), err.Error())
	}

	h.Audit.LogAsync(services.AuditEntry{
		UserID:       &user.ID,
		Action:       "note.append",
		ResourceType: "note",
		ResourceKey:  req.Key,
		IPAddress:    c.IP(),
		RequestID:    getRequestID(c),
	})

	return utils.Success(c, fiber.StatusCreated, note)
}

type shareRequest struct {
	To     string   `json:"to"`
	Folder string   `json:"folder"`
	Keys   []string `json:"keys"`
}

func (h *ImagesHandler) Share(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	var req shareRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}
	req.To = strings.ToLower(strings.TrimSpace(req.To))

	if !user.HasConnection(req.To) {
		return utils.Error(c, fiber.StatusForbidden, "not connected to this user")
	}

	// Sharing is gated on the signed consent of every image's subject: the
	// consent owner of the namespace each key lives in. Keys that do not
	// parse are left for the sharer to reject per key.
	for _, key := range req.Keys {
		ref, err := imaging.ParseImageKey(key)
		if err != nil {
			continue
		}
		if !h.Browser.ConsentExists(c.Context(), ref.Namespace.ConsentOwner()) {
			return utils.Error(c, fiber.StatusForbidden, "consent form not on file")
		}
	}

	err := h.Sharer.Share(c.Context(), user.Email, req.To, req.Keys, req.Folder)
	if err != nil {
		var partial *imaging.PartialError
		if errors.As(err, &partial) && !partial.AllFailed() {
			return utils.Success(c, fiber.StatusMultiStatus, fiber.Map{
				"warning":  partial.Error(),
				"failures": len(partial.Failures),
				"total":    partial.Total,
			})
		}
		return utils.Error(c, statusForError(err), err.Error())
	}

	h.Audit.LogAsync(services.AuditEntry{
		UserID:       &user.ID,
		Action:       "image.share",
		ResourceType: "image",
		ResourceKey:  req.To + "/" + user.Email + "/" + req.Folder,
		Details: map[string]interface{}{
			"images": len(req.Keys),
		},
		IPAddress: c.IP(),
		RequestID: getRequestID(c),
	})

	return utils.Success(c, fiber.StatusOK, fiber.Map{"shared": len(req.Keys)})
}

type segmentRequest struct {
	Connection string   `json:"connection"`
	Keys       []string `json:"keys"`
}

func (h *ImagesHandler) Segment(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	var req segmentRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	ns, ok := resolveNamespace(c, user, req.Connection)
	if !ok {
		return utils.Error(c, fiber.StatusForbidden, "not connected to this user")
	}

	// Segmenting a patient's shared area requires their consent on file,
	// same as sharing.
	if ns.IsShared() && !h.Browser.ConsentExists(c.Context(), ns.ConsentOwner()) {
		return utils.Error(c, fiber.StatusForbidden, "consent form not on file")
	}

	results, err := h.Segmenter.Run(c.Context(), ns, req.Keys)
	if err != nil {
		var partial *imaging.PartialError
		if errors.As(err, &partial) {
			return utils.Success(c, fiber.StatusMultiStatus, fiber.Map{
				"results": results,
				"warning": partial.Error(),
			})
		}
		return utils.Error(c, statusForError(err), err.Error())
	}

	h.Audit.LogAsync(services.AuditEntry{
		UserID:       &user.ID,
		Action:       "image.segment",
		ResourceType: "image",
		ResourceKey:  ns.Prefix(),
		Details: map[string]interface{}{
			"images": len(req.Keys),
		},
		IPAddress: c.IP(),
		RequestID: getRequestID(c),
	})

	return utils.Success(c, fiber.StatusOK, fiber.Map{"results": results})
}
