package server

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"golang.org/x/crypto/bcrypt"

	"github.com/HarbingerOfTheEnd/PricePulse/internal/domain"
)

type signupRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

type signinRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) handleSignup(c echo.Context) error {
	var req signupRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"message": "Invalid request body"})
	}
	if req.Email == "" || req.Password == "" || req.Name == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"message": "email, password and name are required"})
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"message": "Failed to create user"})
	}

	user := &domain.User{Email: req.Email, PasswordHash: string(hash), Name: req.Name}
	id, err := s.users.Insert(c.Request().Context(), user)
	if errors.Is(err, domain.ErrEmailTaken) {
		return c.JSON(http.StatusConflict, echo.Map{"message": "Email already registered"})
	}
	if err != nil {
		slog.Error("Failed to insert user", "error", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"message": "Failed to create user"})
	}

	return c.JSON(http.StatusCreated, echo.Map{
		"message": "User created successfully",
		"user_id": id,
	})
}

func (s *Server) handleSignin(c echo.Context) error {
	var req signinRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"message": "Invalid request body"})
	}

	user, err := s.users.GetByEmail(c.Request().Context(), req.Email)
	if errors.Is(err, domain.ErrUserNotFound) {
		return c.JSON(http.StatusUnauthorized, echo.Map{"message": "Invalid credentials"})
	}
	if err != nil {
		slog.Error("Failed to look up user", "error", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"message": "Login failed"})
	}

	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)) != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"message": "Invalid credentials"})
	}

	token, err := s.sessions.Create(c.Request().Context(), user.ID)
	if err != nil {
		slog.Error("Failed to create session", "user_id", user.ID, "error", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"message": "Login failed"})
	}

	return c.JSON(http.StatusOK, echo.Map{
		"message": "Login successful",
		"user_id": user.ID,
		"token":   token,
	})
}

func (s *Server) handleLogout(c echo.Context) error {
	token := bearerToken(c)
	if token != "" {
		if err := s.sessions.Destroy(c.Request().Context(), token); err != nil {
			slog.Warn("Failed to destroy session", "error", err)
		}
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "Logged out"})
}
