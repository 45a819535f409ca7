package campaign

import (
	"context"
	"mime"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	pkgCampaign "github.com/gdbrns/go-whatsapp-campaign-engine/pkg/campaign"
	"github.com/gdbrns/go-whatsapp-campaign-engine/pkg/router"
	pkgValidation "github.com/gdbrns/go-whatsapp-campaign-engine/pkg/validation"
	pkgWhatsApp "github.com/gdbrns/go-whatsapp-campaign-engine/pkg/whatsapp"
)

// Handler serves the campaign control endpoints.
type Handler struct {
	svc      *pkgCampaign.Service
	mediaDir string
}

func New(svc *pkgCampaign.Service, mediaDir string) *Handler {
	return &Handler{svc: svc, mediaDir: mediaDir}
}

func userContext(c *fiber.Ctx) context.Context {
	ctx := c.UserContext()
	if ctx == nil {
		ctx = context.Background()
	}
	return ctx
}

// Create
// @Summary     Create Campaign
// @Description Create a draft campaign. Accepts JSON or multipart with an optional media file
// @Tags        Campaigns
// @Accept      json,multipart/form-data
// @Produce     json
// @Param       media formData file false "Media attachment"
// @Success     201
// @Failure     400
// @Failure     404
// @Router      /campaigns [post]
// @Router      /campaigns/create [post]
func (h *Handler) Create(c *fiber.Ctx) error {
	var req pkgCampaign.CreateRequest

	if strings.HasPrefix(c.Get(fiber.HeaderContentType), fiber.MIMEMultipartForm) {
		var err error
		if req, err = h.parseMultipart(c); err != nil {
			return router.ResponseError(c, err)
		}
	} else if err := c.BodyParser(&req); err != nil {
		return router.ResponseBadRequest(c, "Invalid request body: "+err.Error())
	}

	if raw := strings.TrimSpace(req.MediaURL); raw != "" {
		if err := pkgValidation.ValidateURL(raw); err != nil {
			return router.ResponseError(c, &pkgCampaign.ValidationError{Err: validation.Errors{"mediaUrl": err}})
		}
	}

	created, err := h.svc.Create(userContext(c), req)
	if err != nil {
		return router.ResponseError(c, err)
	}
	return router.ResponseCreatedWith(c, fiber.Map{"campaign": created})
}

// parseMultipart reads the form fields and stores the uploaded media file,
// pointing MediaURL at it.
func (h *Handler) parseMultipart(c *fiber.Ctx) (pkgCampaign.CreateRequest, error) {
	req := pkgCampaign.CreateRequest{
		Name:            c.FormValue("name"),
		Message:         c.FormValue("message"),
		TargetType:      pkgCampaign.TargetType(c.FormValue("targetType")),
		ContactGroupID:  c.FormValue("contactGroupId"),
		WhatsAppGroupID: c.FormValue("whatsappGroupId"),
		MediaURL:        c.FormValue("mediaUrl"),
		MediaType:       pkgCampaign.MediaType(c.FormValue("mediaType")),
		ScheduleType:    pkgCampaign.ScheduleType(c.FormValue("scheduleType")),
	}

	var err error
	if req.MinInterval, err = formInt(c, "minInterval"); err != nil {
		return req, err
	}
	if req.MaxInterval, err = formInt(c, "maxInterval"); err != nil {
		return req, err
	}
	if raw := strings.TrimSpace(c.FormValue("timePost")); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return req, fiber.NewError(fiber.StatusBadRequest, "timePost must be an RFC 3339 timestamp")
		}
		req.TimePost = &t
	}
	if raw := strings.TrimSpace(c.FormValue("scheduleHours")); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			hour, err := strconv.Atoi(strings.TrimSpace(part))
			if err != nil {
				return req, fiber.NewError(fiber.StatusBadRequest, "scheduleHours must be a comma separated list of hours")
			}
			req.ScheduleHours = append(req.ScheduleHours, hour)
		}
	}

	file, err := c.FormFile("media")
	if err != nil {
		// No file part.
		return req, nil
	}
	if h.mediaDir == "" {
		return req, fiber.NewError(fiber.StatusBadRequest, "media uploads are not configured")
	}
	if err := os.MkdirAll(h.mediaDir, 0o755); err != nil {
		return req, err
	}

	name := uuid.NewString() + strings.ToLower(filepath.Ext(file.Filename))
	if err := c.SaveFile(file, filepath.Join(h.mediaDir, name)); err != nil {
		return req, err
	}
	req.MediaURL = pkgWhatsApp.MediaPathPrefix + name
	if req.MediaType == "" {
		req.MediaType = mediaTypeOf(file.Header.Get(fiber.HeaderContentType), name)
	}
	return req, nil
}

func formInt(c *fiber.Ctx, key string) (int, error) {
	raw := strings.TrimSpace(c.FormValue(key))
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fiber.NewError(fiber.StatusBadRequest, key+" must be a number")
	}
	return n, nil
}

func mediaTypeOf(contentType, name string) pkgCampaign.MediaType {
	mimetype, _, _ := mime.ParseMediaType(contentType)
	if mimetype == "" || mimetype == fiber.MIMEOctetStream {
		mimetype = mime.TypeByExtension(filepath.Ext(name))
	}
	switch {
	case strings.HasPrefix(mimetype, "image/"):
		return pkgCampaign.MediaImage
	case strings.HasPrefix(mimetype, "video/"):
		return pkgCampaign.MediaVideo
	case strings.HasPrefix(mimetype, "audio/"):
		return pkgCampaign.MediaAudio
	default:
		return pkgCampaign.MediaDocument
	}
}

// List
// @Summary     List Campaigns
// @Tags        Campaigns
// @Produce     json
// @Success     200
// @Router      /campaigns [get]
func (h *Handler) List(c *fiber.Ctx) error {
	list, err := h.svc.List(userContext(c))
	if err != nil {
		return router.ResponseError(c, err)
	}
	if list == nil {
		list = []*pkgCampaign.Campaign{}
	}
	return router.ResponseSuccessWith(c, fiber.Map{"campaigns": list})
}

// Get
// @Summary     Get Campaign
// @Tags        Campaigns
// @Produce     json
// @Param       id path string true "Campaign ID"
// @Success     200
// @Failure     404
// @Router      /campaigns/{id} [get]
func (h *Handler) Get(c *fiber.Ctx) error {
	found, err := h.svc.Get(userContext(c), c.Params("id"))
	if err != nil {
		return router.ResponseError(c, err)
	}
	return router.ResponseSuccessWith(c, fiber.Map{"campaign": found})
}

// Execute
// @Summary     Execute Campaign
// @Description Resolve the audience of a draft campaign and start sending
// @Tags        Campaigns
// @Produce     json
// @Param       id path string true "Campaign ID"
// @Success     200
// @Failure     404
// @Failure     409
// @Failure     502
// @Router      /campaigns/{id}/execute [post]
func (h *Handler) Execute(c *fiber.Ctx) error {
	res, err := h.svc.Execute(userContext(c), c.Params("id"))
	if err != nil {
		return router.ResponseError(c, err)
	}
	return router.ResponseSuccessWith(c, fiber.Map{
		"totalTargets":      res.TotalTargets,
		"estimatedDuration": res.EstimatedDuration,
		"estimatedSeconds":  res.EstimatedSeconds,
		"startsAt":          res.StartsAt,
		"campaign":          res.Campaign,
	})
}

// Pause
// @Summary     Pause Campaign
// @Tags        Campaigns
// @Produce     json
// @Param       id path string true "Campaign ID"
// @Success     200
// @Failure     404
// @Router      /campaigns/{id}/pause [post]
func (h *Handler) Pause(c *fiber.Ctx) error {
	return h.transition(c, h.svc.Pause)
}

// Resume
// @Summary     Resume Campaign
// @Tags        Campaigns
// @Produce     json
// @Param       id path string true "Campaign ID"
// @Success     200
// @Failure     404
// @Router      /campaigns/{id}/resume [post]
func (h *Handler) Resume(c *fiber.Ctx) error {
	return h.transition(c, h.svc.Resume)
}

// Restart
// @Summary     Restart Campaign
// @Description Reset counters and return the campaign to draft
// @Tags        Campaigns
// @Produce     json
// @Param       id path string true "Campaign ID"
// @Success     200
// @Failure     404
// @Router      /campaigns/{id}/restart [post]
func (h *Handler) Restart(c *fiber.Ctx) error {
	return h.transition(c, h.svc.Restart)
}

func (h *Handler) transition(c *fiber.Ctx, op func(context.Context, string) (*pkgCampaign.Campaign, error)) error {
	updated, err := op(userContext(c), c.Params("id"))
	if err != nil {
		return router.ResponseError(c, err)
	}
	return router.ResponseSuccessWith(c, fiber.Map{"campaign": updated})
}

// Delete
// @Summary     Delete Campaign
// @Tags        Campaigns
// @Produce     json
// @Param       id path string true "Campaign ID"
// @Success     200
// @Failure     404
// @Router      /campaigns/{id} [delete]
func (h *Handler) Delete(c *fiber.Ctx) error {
	if err := h.svc.Delete(userContext(c), c.Params("id")); err != nil {
		return router.ResponseError(c, err)
	}
	return router.ResponseSuccessWith(c, fiber.Map{})
}
