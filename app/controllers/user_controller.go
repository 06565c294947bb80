package controllers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/prolocal/prolocal/app/models"
	"github.com/prolocal/prolocal/app/repository"
	"github.com/prolocal/prolocal/internal/pkg/apperr"
	"github.com/prolocal/prolocal/internal/pkg/usercontext"
)

// UserController handles account registration and API key management.
type UserController struct {
	repos *repository.Repositories
}

func NewUserController(repos *repository.Repositories) *UserController {
	return &UserController{repos: repos}
}

type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// HandleRegister creates an account and returns a fresh API key. The raw key
// is shown exactly once; only its hash is stored.
func (uc *UserController) HandleRegister(c *fiber.Ctx) error {
	var req registerRequest
	if err := c.BodyParser(&req); err != nil {
		return renderError(c, apperr.InvalidRequest("invalid request body"))
	}

	if _, err := uc.repos.User.GetByEmail(req.Email); err == nil {
		return renderError(c, apperr.Conflict("an account with this email already exists"))
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return renderError(c, err)
	}

	user, err := models.CreateUser(req.Name, req.Email, req.Password)
	if err != nil {
		return renderError(c, apperr.InvalidRequest(err.Error()))
	}
	apiKey, err := user.IssueAPIKey()
	if err != nil {
		return renderError(c, err)
	}
	if err := uc.repos.User.Create(user); err != nil {
		return renderError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"user":    user,
		"api_key": apiKey,
	})
}

// HandleGetProfile returns the authenticated user's account.
func (uc *UserController) HandleGetProfile(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)

	user, err := uc.repos.User.GetByID(userCtx.UserID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return renderError(c, apperr.NotFound("user"))
		}
		return renderError(c, err)
	}
	return c.JSON(user)
}

type rotateKeyRequest struct {
	Password string `json:"password"`
}

// HandleRotateAPIKey replaces the caller's API key after re-verifying the
// account password. The old key stops working immediately.
func (uc *UserController) HandleRotateAPIKey(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)

	var req rotateKeyRequest
	if err := c.BodyParser(&req); err != nil {
		return renderError(c, apperr.InvalidRequest("invalid request body"))
	}

	user, err := uc.repos.User.GetByID(userCtx.UserID)
	if err != nil {
		return renderError(c, err)
	}
	if !user.CheckPassword(req.Password) {
		return renderError(c, apperr.Forbidden("password verification failed"))
	}

	apiKey, err := user.IssueAPIKey()
	if err != nil {
		return renderError(c, err)
	}
	if err := uc.repos.User.Update(user); err != nil {
		return renderError(c, err)
	}
	return c.JSON(fiber.Map{"api_key": apiKey})
}
