// Package api 暴露照片、日记、表情回应与统计的 REST 接口，底层由 journal.Backend 提供存储。
package api

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/donnelly-adventures/adventures/internal/journal"
	"github.com/donnelly-adventures/adventures/internal/logging"
	"github.com/donnelly-adventures/adventures/internal/server"
)

// DefaultMaxUploadSize 对应单个视频文件的上限。
const DefaultMaxUploadSize int64 = 100 << 20

// allowedMimeTypes 是允许上传的图片与视频类型。
var allowedMimeTypes = map[string]struct{}{
	"image/jpeg":      {},
	"image/png":       {},
	"image/gif":       {},
	"image/webp":      {},
	"video/mp4":       {},
	"video/quicktime": {},
	"video/webm":      {},
}

// Options 配置 REST 处理器。
type Options struct {
	Backend       journal.Backend
	Logger        *logrus.Logger
	MaxUploadSize int64
	MediaProvider string
	MediaAuthMode string
}

// Handler 持有后端，Register 把路由挂到 Fiber 上。
// 请求体经 c.Bind() 解析，校验交给应用注册的 StructValidator。
type Handler struct {
	backend   journal.Backend
	logger    *logrus.Logger
	maxUpload int64
	fields    logrus.Fields
}

// NewHandler constructs the REST handler.
func NewHandler(opts Options) (*Handler, error) {
	if opts.Backend == nil {
		return nil, errors.New("journal backend is required")
	}
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.MaxUploadSize <= 0 {
		opts.MaxUploadSize = DefaultMaxUploadSize
	}
	return &Handler{
		backend:   opts.Backend,
		logger:    opts.Logger,
		maxUpload: opts.MaxUploadSize,
		fields:    logging.BackendFields(opts.Backend.Capabilities().Variant, opts.MediaProvider, opts.MediaAuthMode),
	}, nil
}

// Register 挂载 /api 路由。
func (h *Handler) Register(app fiber.Router) {
	group := app.Group("/api")

	group.Get("/capabilities", h.capabilities)

	group.Post("/photos", h.uploadPhoto)
	group.Get("/photos", h.listPhotos)
	group.Patch("/photos/:id", h.updateCaption)
	group.Delete("/photos/:id", h.deletePhoto)

	group.Post("/journal", h.addJournal)
	group.Get("/journal", h.listJournal)
	group.Delete("/journal/:id", h.deleteJournal)

	group.Post("/reactions", h.addReaction)
	group.Get("/reactions/:type/:id", h.listReactions)

	group.Get("/stats", h.stats)
}

func (h *Handler) capabilities(c fiber.Ctx) error {
	return c.JSON(h.backend.Capabilities())
}

func (h *Handler) uploadPhoto(c fiber.Ctx) error {
	var form uploadForm
	if err := c.Bind().Form(&form); err != nil || form.File == nil {
		return h.reject(c, fiber.StatusBadRequest, "No file uploaded", "missing_file")
	}
	file := form.File
	contentType := strings.ToLower(strings.TrimSpace(file.Header.Get(fiber.HeaderContentType)))
	if _, ok := allowedMimeTypes[contentType]; !ok {
		return h.reject(c, fiber.StatusBadRequest, "No file uploaded", "mime_rejected:"+contentType)
	}
	if file.Size > h.maxUpload {
		return h.reject(c, fiber.StatusRequestEntityTooLarge, "File too large", "size_exceeded")
	}

	body, err := file.Open()
	if err != nil {
		return h.fail(c, "upload_photo", "upload_failed", err)
	}
	defer body.Close()

	photo, err := h.backend.AddPhoto(c.Context(), journal.Upload{
		Filename:    file.Filename,
		ContentType: contentType,
		Size:        file.Size,
		Body:        body,
		Caption:     form.Caption,
		UploadedBy:  form.UploadedBy,
		DayNumber:   form.DayNumber.Int(),
	})
	if err != nil {
		return h.respondError(c, "upload_photo", "upload_failed", "", err)
	}
	return c.JSON(photo)
}

func (h *Handler) listPhotos(c fiber.Ctx) error {
	photos, err := h.backend.ListPhotos(c.Context(), journal.ParseFilter(c.Query("day")))
	if err != nil {
		return h.respondError(c, "list_photos", "list_failed", "", err)
	}
	if photos == nil {
		photos = []journal.Photo{}
	}
	return c.JSON(photos)
}

func (h *Handler) updateCaption(c fiber.Ctx) error {
	var req captionRequest
	if err := c.Bind().Body(&req); err != nil {
		return h.reject(c, fiber.StatusBadRequest, "Caption required", err.Error())
	}
	photo, err := h.backend.UpdateCaption(c.Context(), c.Params("id"), *req.Caption)
	if err != nil {
		return h.respondError(c, "update_caption", "update_failed", "Photo not found", err)
	}
	return c.JSON(photo)
}

func (h *Handler) deletePhoto(c fiber.Ctx) error {
	if err := h.backend.DeletePhoto(c.Context(), c.Params("id")); err != nil {
		return h.respondError(c, "delete_photo", "delete_failed", "Photo not found", err)
	}
	return c.JSON(fiber.Map{"success": true})
}

func (h *Handler) addJournal(c fiber.Ctx) error {
	var req journalRequest
	if err := c.Bind().Body(&req); err != nil {
		return h.reject(c, fiber.StatusBadRequest, "Author and content required", err.Error())
	}
	entry, err := h.backend.AddJournal(c.Context(), journal.JournalInput{
		Author:    req.Author,
		Content:   req.Content,
		DayNumber: req.DayNumber.Int(),
	})
	if err != nil {
		return h.respondError(c, "add_journal", "journal_failed", "", err)
	}
	if h.backend.Capabilities().JournalAckOnly {
		return c.JSON(fiber.Map{"success": true})
	}
	return c.JSON(entry)
}

func (h *Handler) listJournal(c fiber.Ctx) error {
	entries, err := h.backend.ListJournal(c.Context(), journal.ParseFilter(c.Query("day")))
	if err != nil {
		return h.respondError(c, "list_journal", "list_failed", "", err)
	}
	if entries == nil {
		entries = []journal.JournalEntry{}
	}
	return c.JSON(entries)
}

func (h *Handler) deleteJournal(c fiber.Ctx) error {
	if err := h.backend.DeleteJournal(c.Context(), c.Params("id")); err != nil {
		return h.respondError(c, "delete_journal", "delete_failed", "Entry not found", err)
	}
	return c.JSON(fiber.Map{"success": true})
}

func (h *Handler) addReaction(c fiber.Ctx) error {
	var req reactionRequest
	if err := c.Bind().Body(&req); err != nil {
		return h.reject(c, fiber.StatusBadRequest, "target_type, target_id and emoji required", err.Error())
	}
	reaction, err := h.backend.AddReaction(c.Context(), journal.ReactionInput{
		TargetType: req.TargetType,
		TargetID:   req.TargetID,
		Emoji:      req.Emoji,
		Author:     req.Author,
	})
	if err != nil {
		return h.respondError(c, "add_reaction", "reaction_failed", "", err)
	}
	return c.JSON(reaction)
}

func (h *Handler) listReactions(c fiber.Ctx) error {
	counts, err := h.backend.Reactions(c.Context(), c.Params("type"), c.Params("id"))
	if err != nil {
		return h.respondError(c, "list_reactions", "list_failed", "", err)
	}
	return c.JSON(counts)
}

func (h *Handler) stats(c fiber.Ctx) error {
	stats, err := h.backend.Stats(c.Context())
	if err != nil {
		return h.respondError(c, "stats", "stats_failed", "", err)
	}
	return c.JSON(stats)
}

// respondError 把 journal 的哨兵错误映射为 HTTP 状态；媒体与存储失败统一返回 failureCode。
func (h *Handler) respondError(c fiber.Ctx, op, failureCode, notFoundMessage string, err error) error {
	switch {
	case errors.Is(err, journal.ErrInvalidInput):
		message := strings.TrimPrefix(err.Error(), journal.ErrInvalidInput.Error()+": ")
		return h.reject(c, fiber.StatusBadRequest, message, op)
	case errors.Is(err, journal.ErrUnsupported):
		return h.reject(c, fiber.StatusNotFound, "Not Found", op+":unsupported")
	case errors.Is(err, journal.ErrNotFound):
		if notFoundMessage == "" {
			notFoundMessage = "Not Found"
		}
		return h.reject(c, fiber.StatusNotFound, notFoundMessage, op)
	default:
		return h.fail(c, op, failureCode, err)
	}
}

func (h *Handler) reject(c fiber.Ctx, status int, message, reason string) error {
	fields := h.requestFields(c)
	fields["status"] = status
	fields["reason"] = reason
	h.logger.WithFields(fields).Warn("api_rejected")
	return c.Status(status).JSON(fiber.Map{"error": message})
}

func (h *Handler) fail(c fiber.Ctx, op, code string, err error) error {
	fields := h.requestFields(c)
	fields["operation"] = op
	fields["error"] = err.Error()
	h.logger.WithFields(fields).Error("api_failed")
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": code})
}

func (h *Handler) requestFields(c fiber.Ctx) logrus.Fields {
	fields := make(logrus.Fields, len(h.fields)+4)
	for k, v := range h.fields {
		fields[k] = v
	}
	fields["action"] = "api"
	fields["method"] = c.Method()
	fields["path"] = c.Path()
	if reqID := server.RequestID(c); reqID != "" {
		fields["request_id"] = reqID
	}
	return fields
}
