package handlers

import (
	"net/http"

	"evalhub/internal/models"
	"evalhub/internal/repository"
	"evalhub/internal/utils"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type UserHandler struct {
	log *zap.Logger
}

func NewUserHandler(log *zap.Logger) *UserHandler {
	return &UserHandler{log: log}
}

// CreateUser registers a new evaluee directory record.
func (h *UserHandler) CreateUser(c *gin.Context) {
	email := c.PostForm("email")
	password := c.PostForm("password")
	firstName := c.PostForm("first_name")
	lastName := c.PostForm("last_name")

	if !utils.IsValidEmail(email) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid email"})
		return
	}
	if !utils.IsComplexPassword(password) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "password does not meet complexity requirements"})
		return
	}

	user, err := repository.CreateUser(email, password, firstName, lastName)
	if err != nil {
		h.log.Error("Failed to create user", zap.Error(err), zap.String("email", email))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create user"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": user.ID, "email": user.Email})
}

func (h *UserHandler) UpdateInfo(c *gin.Context) {
	user := c.MustGet("user").(*models.User)
	firstName := c.PostForm("first_name")
	lastName := c.PostForm("last_name")

	if err := repository.UpdateUser(c.Request.Context(), user.ID, firstName, lastName); err != nil {
		h.log.Error("Failed to update user info", zap.Error(err), zap.Uint("userID", user.ID))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update profile"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *UserHandler) UpdatePassword(c *gin.Context) {
	user := c.MustGet("user").(*models.User)
	currentPassword := c.PostForm("current_password")
	newPassword := c.PostForm("new_password")

	if !user.CheckPassword(currentPassword) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "incorrect current password"})
		return
	}
	if !utils.IsComplexPassword(newPassword) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "password does not meet complexity requirements"})
		return
	}
	if err := repository.UpdateUserPassword(c.Request.Context(), user.ID, newPassword); err != nil {
		h.log.Error("Failed to update password", zap.Error(err), zap.Uint("userID", user.ID))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update password"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *UserHandler) DeleteUser(c *gin.Context) {
	target := c.MustGet("user").(*models.User)
	if err := repository.DeleteUser(c.Request.Context(), target.ID); err != nil {
		h.log.Error("Failed to delete user", zap.Error(err), zap.Uint("userID", target.ID))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete account"})
		return
	}

	c.Status(http.StatusNoContent)
}
