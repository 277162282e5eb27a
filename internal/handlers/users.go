package handlers

import (
	"context"

	"github.com/gin-gonic/gin"

	"telecare-server/internal/models"
	"telecare-server/internal/utils"
)

// Directory lists and creates accounts.
type Directory interface {
	Create(ctx context.Context, user *models.User) error
	ListByRole(ctx context.Context, role models.Role) ([]models.User, error)
}

// UserHandler handles user-related requests.
type UserHandler struct {
	Users Directory
}

// NewUserHandler creates a new UserHandler.
func NewUserHandler(users Directory) *UserHandler {
	return &UserHandler{Users: users}
}

// CreateUserRequest represents the request body for creating a user by an admin.
type CreateUserRequest struct {
	FirstName string `json:"firstName" binding:"required,max=100"`
	LastName  string `json:"lastName" binding:"required,max=100"`
	Email     string `json:"email" binding:"required,email"`
	Password  string `json:"password" binding:"required,min=8"`
	Role      string `json:"role" binding:"required,oneof=patient doctor admin PATIENT DOCTOR ADMIN"`
	Specialty string `json:"specialty" binding:"max=100"`
}

// CreateUser handles creating a new user (admin).
func (h *UserHandler) CreateUser(c *gin.Context) {
	var req CreateUserRequest
	if !utils.BindAndValidate(c, &req) {
		return
	}

	role, _ := models.ParseRole(req.Role)
	user, err := newUser(req.FirstName, req.LastName, req.Email, req.Password, role, req.Specialty)
	if err != nil {
		utils.InternalServerError(c, "Failed to hash password")
		return
	}
	if err := h.Users.Create(c.Request.Context(), user); err != nil {
		utils.RespondError(c, err)
		return
	}

	utils.Created(c, "User created successfully", user.Sanitize())
}

// GetDoctors handles fetching all users with the doctor role.
// This endpoint is open to every authenticated user so patients can pick a doctor to book.
func (h *UserHandler) GetDoctors(c *gin.Context) {
	doctors, err := h.Users.ListByRole(c.Request.Context(), models.RoleDoctor)
	if err != nil {
		utils.RespondError(c, err)
		return
	}

	sanitizedDoctors := make([]models.UserSanitized, len(doctors))
	for i, doctor := range doctors {
		sanitizedDoctors[i] = doctor.Sanitize()
	}

	utils.Success(c, "Doctors fetched successfully", sanitizedDoctors)
}
