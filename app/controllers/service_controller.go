package controllers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/prolocal/prolocal/app/models"
	"github.com/prolocal/prolocal/app/repository"
	"github.com/prolocal/prolocal/internal/pkg/apperr"
	"github.com/prolocal/prolocal/internal/pkg/entitlements"
	"github.com/prolocal/prolocal/internal/pkg/usercontext"
)

// ServiceController manages a provider's service listings. All mutations go
// through the quota enforcer so plan limits hold under concurrent requests.
type ServiceController struct {
	enforcer *entitlements.Enforcer
	repos    *repository.Repositories
}

func NewServiceController(enforcer *entitlements.Enforcer, repos *repository.Repositories) *ServiceController {
	return &ServiceController{
		enforcer: enforcer,
		repos:    repos,
	}
}

type createServiceRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	PriceCents  int64  `json:"price_cents"`
	ChargeType  string `json:"charge_type"`
}

// HandleCreateService creates a new listing, counting every owned service
// against the plan's creation cap. New listings start inactive.
func (sc *ServiceController) HandleCreateService(c *fiber.Ctx) error {
	userID := usercontext.GetUserID(c)

	var req createServiceRequest
	if err := c.BodyParser(&req); err != nil {
		return renderError(c, apperr.InvalidRequest("invalid request body"))
	}
	if req.ChargeType == "" {
		req.ChargeType = "hour"
	}

	service := &models.Service{
		Title:       req.Title,
		Description: req.Description,
		PriceCents:  req.PriceCents,
		ChargeType:  req.ChargeType,
	}
	if err := sc.enforcer.CreateService(userID, service); err != nil {
		return renderError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(service)
}

// HandleListMyServices returns every listing the caller owns.
func (sc *ServiceController) HandleListMyServices(c *fiber.Ctx) error {
	userID := usercontext.GetUserID(c)

	services, err := sc.repos.Service.GetByUserID(userID)
	if err != nil {
		return renderError(c, err)
	}
	return c.JSON(fiber.Map{"services": services})
}

// HandleGetService returns a single owned listing.
func (sc *ServiceController) HandleGetService(c *fiber.Ctx) error {
	userID := usercontext.GetUserID(c)

	service, err := sc.ownedService(userID, c.Params("uuid"))
	if err != nil {
		return renderError(c, err)
	}
	return c.JSON(service)
}

// HandleUpdateService edits title, description or pricing. Activation state
// and highlights are managed through their own endpoints.
func (sc *ServiceController) HandleUpdateService(c *fiber.Ctx) error {
	userID := usercontext.GetUserID(c)

	service, err := sc.ownedService(userID, c.Params("uuid"))
	if err != nil {
		return renderError(c, err)
	}

	var req createServiceRequest
	if err := c.BodyParser(&req); err != nil {
		return renderError(c, apperr.InvalidRequest("invalid request body"))
	}
	if req.Title != "" {
		service.Title = req.Title
	}
	if req.Description != "" {
		service.Description = req.Description
	}
	if req.PriceCents > 0 {
		service.PriceCents = req.PriceCents
	}
	if req.ChargeType != "" {
		service.ChargeType = req.ChargeType
	}
	if err := service.Validate(); err != nil {
		return renderError(c, apperr.InvalidRequest(err.Error()))
	}
	if err := sc.repos.Service.Update(service); err != nil {
		return renderError(c, err)
	}
	return c.JSON(service)
}

// HandleDeleteService removes a listing. Deletion frees creation quota.
func (sc *ServiceController) HandleDeleteService(c *fiber.Ctx) error {
	userID := usercontext.GetUserID(c)

	service, err := sc.ownedService(userID, c.Params("uuid"))
	if err != nil {
		return renderError(c, err)
	}
	if err := sc.repos.Service.Delete(service.ID); err != nil {
		return renderError(c, err)
	}
	return c.JSON(fiber.Map{"message": "Service deleted"})
}

// HandleActivateService makes a listing publicly visible, gated by the
// plan's active-service cap.
func (sc *ServiceController) HandleActivateService(c *fiber.Ctx) error {
	userID := usercontext.GetUserID(c)

	service, err := sc.enforcer.ActivateService(userID, c.Params("uuid"))
	if err != nil {
		return renderError(c, err)
	}
	return c.JSON(service)
}

// HandleDeactivateService hides a listing. Never quota-gated.
func (sc *ServiceController) HandleDeactivateService(c *fiber.Ctx) error {
	userID := usercontext.GetUserID(c)

	service, err := sc.enforcer.DeactivateService(userID, c.Params("uuid"))
	if err != nil {
		return renderError(c, err)
	}
	return c.JSON(service)
}

// HandleHighlightService grants a highlight, gated by the plan's highlight
// cap. Re-enabling an already highlighted service succeeds.
func (sc *ServiceController) HandleHighlightService(c *fiber.Ctx) error {
	userID := usercontext.GetUserID(c)

	service, err := sc.enforcer.SetHighlight(userID, c.Params("uuid"), true)
	if err != nil {
		return renderError(c, err)
	}
	return c.JSON(service)
}

// HandleUnhighlightService clears a highlight unconditionally.
func (sc *ServiceController) HandleUnhighlightService(c *fiber.Ctx) error {
	userID := usercontext.GetUserID(c)

	service, err := sc.enforcer.SetHighlight(userID, c.Params("uuid"), false)
	if err != nil {
		return renderError(c, err)
	}
	return c.JSON(service)
}

func (sc *ServiceController) ownedService(userID uint, serviceUUID string) (*models.Service, error) {
	service, err := sc.repos.Service.GetByUUID(serviceUUID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("service")
		}
		return nil, err
	}
	if service.UserID != userID {
		return nil, apperr.NotFound("service")
	}
	return service, nil
}
