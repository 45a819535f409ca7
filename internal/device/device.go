package device

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/gdbrns/go-whatsapp-campaign-engine/pkg/router"
	pkgWhatsApp "github.com/gdbrns/go-whatsapp-campaign-engine/pkg/whatsapp"
)

// Session is the part of the WhatsApp channel the session endpoints drive.
type Session interface {
	Status() pkgWhatsApp.Status
	Login(ctx context.Context) (*pkgWhatsApp.LoginResult, error)
	Logout(ctx context.Context) error
	JoinedGroups(ctx context.Context) ([]pkgWhatsApp.GroupSummary, error)
	Versions() pkgWhatsApp.VersionStatus
	RefreshVersion(ctx context.Context, force bool) (pkgWhatsApp.VersionStatus, error)
}

type Handler struct {
	session Session
}

func New(session Session) *Handler {
	return &Handler{session: session}
}

// GetStatus
// @Summary     Show WhatsApp Session Status
// @Description Connection and pairing state of the sending session. While pairing, the latest QR code is included
// @Tags        WhatsApp
// @Produce     json
// @Success     200
// @Router      /whatsapp/status [get]
func (h *Handler) GetStatus(c *fiber.Ctx) error {
	return router.ResponseSuccessWithData(c, "Success get WhatsApp status", h.session.Status())
}

// Login
// @Summary     Generate QR Code for WhatsApp Multi-Device Login
// @Description Reconnects a paired session or starts QR pairing
// @Tags        WhatsApp
// @Accept      multipart/form-data
// @Produce     json
// @Produce     html
// @Param       output formData string false "Change Output Format in HTML or JSON" Enums(html, json) default(json)
// @Success     200
// @Router      /whatsapp/login [post]
func (h *Handler) Login(c *fiber.Ctx) error {
	output := strings.TrimSpace(c.FormValue("output"))
	if output == "" {
		output = strings.TrimSpace(c.Query("output"))
	}

	res, err := h.session.Login(c.UserContext())
	if err != nil {
		if errors.Is(err, pkgWhatsApp.ErrVersionOutdated) {
			return router.ResponseServiceUnavailable(c, err.Error())
		}
		return router.ResponseInternalError(c, err.Error())
	}
	if res.QRCode == "" {
		return router.ResponseSuccess(c, res.Message)
	}

	if output == "html" {
		htmlContent := `
		<html>
			<head>
				<title>WhatsApp Campaign Engine Login</title>
				<meta name="viewport" content="width=device-width, initial-scale=1, shrink-to-fit=no" />
			</head>
			<body>
				<img src="` + res.QRCode + `" />
				<p>
					<b>QR Code Scan</b>
					<br/>
					Timeout in ` + strconv.Itoa(res.Timeout) + ` Second(s)
				</p>
			</body>
		</html>
		`

		c.Set(fiber.HeaderContentType, fiber.MIMETextHTMLCharsetUTF8)
		return c.SendString(htmlContent)
	}

	return router.ResponseSuccessWithData(c, "Success Generate QR Code", res)
}

// Logout
// @Summary     Logout WhatsApp Session
// @Description Unlinks the device. A new QR login is needed before campaigns can send again
// @Tags        WhatsApp
// @Produce     json
// @Success     200
// @Failure     409
// @Router      /whatsapp/session [delete]
func (h *Handler) Logout(c *fiber.Ctx) error {
	if err := h.session.Logout(c.UserContext()); err != nil {
		if errors.Is(err, pkgWhatsApp.ErrNotPaired) {
			return router.ResponseConflict(c, err.Error())
		}
		return router.ResponseInternalError(c, err.Error())
	}
	return router.ResponseSuccess(c, "Success Logout WhatsApp Client")
}

// GetGroups
// @Summary     List Joined WhatsApp Groups
// @Description Groups usable as a whatsapp_group campaign target
// @Tags        WhatsApp
// @Produce     json
// @Success     200
// @Failure     503
// @Router      /whatsapp/groups [get]
func (h *Handler) GetGroups(c *fiber.Ctx) error {
	groups, err := h.session.JoinedGroups(c.UserContext())
	if err != nil {
		return router.ResponseError(c, err)
	}
	return router.ResponseSuccessWithData(c, "Success get joined groups", groups)
}

// GetVersion
// @Summary     Show WhatsApp Web Version
// @Tags        WhatsApp
// @Produce     json
// @Success     200
// @Router      /whatsapp/version [get]
func (h *Handler) GetVersion(c *fiber.Ctx) error {
	return router.ResponseSuccessWithData(c, "Success get WhatsApp Web version", h.session.Versions())
}

// RefreshVersion
// @Summary     Refresh WhatsApp Web Version
// @Description Fetch the latest WhatsApp Web version used for QR pairing
// @Tags        WhatsApp
// @Produce     json
// @Param       force query bool false "Ignore the refresh throttle"
// @Success     200
// @Failure     502
// @Router      /whatsapp/version/refresh [post]
func (h *Handler) RefreshVersion(c *fiber.Ctx) error {
	force := c.QueryBool("force", false)
	status, err := h.session.RefreshVersion(c.UserContext(), force)
	if err != nil {
		return router.ResponseBadGateway(c, err.Error())
	}
	return router.ResponseSuccessWithData(c, "Success refresh WhatsApp Web version", status)
}
