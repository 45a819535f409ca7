package contactgroup

import (
	"context"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/gofiber/fiber/v2"

	"github.com/gdbrns/go-whatsapp-campaign-engine/pkg/campaign"
	"github.com/gdbrns/go-whatsapp-campaign-engine/pkg/router"
	pkgValidation "github.com/gdbrns/go-whatsapp-campaign-engine/pkg/validation"
)

// Store is implemented by both the memory and the Postgres stores.
type Store interface {
	campaign.ContactGroupStore
	CreateGroup(ctx context.Context, name string) (*campaign.ContactGroup, error)
	ListGroups(ctx context.Context) ([]campaign.ContactGroup, error)
	AddMembers(ctx context.Context, groupID string, members []campaign.Member) error
}

type RequestCreateGroup struct {
	Name string `json:"name" form:"name"`
}

func (r RequestCreateGroup) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Name, validation.Required, validation.Length(1, campaign.MaxNameLength)),
	)
}

type RequestAddMembers struct {
	Members []pkgValidation.MemberInput `json:"members"`
}

func (r RequestAddMembers) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Members, validation.Required),
	)
}

type Handler struct {
	store Store
}

func New(store Store) *Handler {
	return &Handler{store: store}
}

// List
// @Summary     List Contact Groups
// @Tags        Contact Groups
// @Produce     json
// @Success     200
// @Router      /contact-groups [get]
func (h *Handler) List(c *fiber.Ctx) error {
	groups, err := h.store.ListGroups(c.UserContext())
	if err != nil {
		return router.ResponseError(c, err)
	}
	if groups == nil {
		groups = []campaign.ContactGroup{}
	}
	return router.ResponseSuccessWith(c, fiber.Map{"groups": groups})
}

// Create
// @Summary     Create Contact Group
// @Tags        Contact Groups
// @Accept      json
// @Produce     json
// @Success     201
// @Failure     400
// @Router      /contact-groups [post]
func (h *Handler) Create(c *fiber.Ctx) error {
	var req RequestCreateGroup
	if err := c.BodyParser(&req); err != nil {
		return router.ResponseBadRequest(c, "Invalid request body: "+err.Error())
	}
	req.Name = strings.TrimSpace(req.Name)
	if err := req.Validate(); err != nil {
		return router.ResponseError(c, &campaign.ValidationError{Err: err})
	}

	group, err := h.store.CreateGroup(c.UserContext(), req.Name)
	if err != nil {
		return router.ResponseError(c, err)
	}
	return router.ResponseCreatedWith(c, fiber.Map{"group": group})
}

// GetMembers
// @Summary     List Contact Group Members
// @Tags        Contact Groups
// @Produce     json
// @Param       id path string true "Contact Group ID"
// @Success     200
// @Failure     404
// @Router      /contact-groups/{id}/members [get]
func (h *Handler) GetMembers(c *fiber.Ctx) error {
	group, err := h.group(c)
	if err != nil {
		return router.ResponseError(c, err)
	}
	members, err := h.store.GetMembers(c.UserContext(), group.ID)
	if err != nil {
		return router.ResponseError(c, err)
	}
	if members == nil {
		members = []campaign.Member{}
	}
	return router.ResponseSuccessWith(c, fiber.Map{"group": group, "members": members})
}

// AddMembers
// @Summary     Add Contact Group Members
// @Description Every number is stored and labelled valid, invalid or duplicate. Only valid members receive campaigns
// @Tags        Contact Groups
// @Accept      json
// @Produce     json
// @Param       id path string true "Contact Group ID"
// @Success     200
// @Failure     400
// @Failure     404
// @Router      /contact-groups/{id}/members [post]
func (h *Handler) AddMembers(c *fiber.Ctx) error {
	var req RequestAddMembers
	if err := c.BodyParser(&req); err != nil {
		return router.ResponseBadRequest(c, "Invalid request body: "+err.Error())
	}
	if err := req.Validate(); err != nil {
		return router.ResponseError(c, &campaign.ValidationError{Err: err})
	}

	group, err := h.group(c)
	if err != nil {
		return router.ResponseError(c, err)
	}

	ctx := c.UserContext()
	existing, err := h.store.GetMembers(ctx, group.ID)
	if err != nil {
		return router.ResponseError(c, err)
	}
	members, summary := pkgValidation.ClassifyMembers(existing, req.Members)
	if err := h.store.AddMembers(ctx, group.ID, members); err != nil {
		return router.ResponseError(c, err)
	}
	return router.ResponseSuccessWith(c, fiber.Map{"members": members, "summary": summary})
}

func (h *Handler) group(c *fiber.Ctx) (*campaign.ContactGroup, error) {
	id := c.Params("id")
	group, err := h.store.GetGroup(c.UserContext(), id)
	if err != nil {
		return nil, err
	}
	if group == nil {
		return nil, &campaign.NotFoundError{Resource: "contact group", ID: id}
	}
	return group, nil
}
