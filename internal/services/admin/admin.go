package admin

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/JonasLeetTheWay/encore/internal/auth"
	"github.com/JonasLeetTheWay/encore/internal/config"
	"github.com/JonasLeetTheWay/encore/internal/lib/logger/sl"
	"github.com/JonasLeetTheWay/encore/internal/models"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

var ErrUserNotFound = errors.New("user not found")

type Users interface {
	FindByEmail(ctx context.Context, email string) (*models.User, error)
}

type GormUsers struct {
	db *gorm.DB
}

func NewGormUsers(db *gorm.DB) *GormUsers {
	return &GormUsers{db: db}
}

func (u *GormUsers) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	if err := u.db.WithContext(ctx).Where("email = ?", email).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

// Check reports the health of one dependency.
type Check func(ctx context.Context) error

type Service struct {
	config *config.Config
	users  Users
	log    *slog.Logger
	checks map[string]Check
}

func NewService(cfg *config.Config, users Users, log *slog.Logger, checks map[string]Check) *Service {
	return &Service{
		config: cfg,
		users:  users,
		log:    log.With(slog.String("component", "admin")),
		checks: checks,
	}
}

func (s *Service) SetupRoutes(r gin.IRouter) {
	r.POST("/auth/login", s.Login)
	r.GET("/health", s.HealthCheck)
}

func (s *Service) Login(c *gin.Context) {
	var req struct {
		Email    string `json:"email" binding:"required,email"`
		Password string `json:"password" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request data",
			"details": err.Error(),
		})
		return
	}

	user, err := s.users.FindByEmail(c.Request.Context(), strings.ToLower(strings.TrimSpace(req.Email)))
	if err != nil {
		if !errors.Is(err, ErrUserNotFound) {
			s.log.Error("failed to look up user", sl.Err(err))
		}
		c.JSON(http.StatusUnauthorized, gin.H{
			"error": "Invalid credentials",
		})
		return
	}

	if !auth.CheckPassword(user.Password, req.Password) {
		s.log.Warn("failed login", slog.String("email", user.Email))
		c.JSON(http.StatusUnauthorized, gin.H{
			"error": "Invalid credentials",
		})
		return
	}

	token, err := auth.GenerateToken(s.config, user.ID, user.Email, user.Role)
	if err != nil {
		s.log.Error("failed to sign token", sl.Err(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to generate token",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token": token,
		"user": gin.H{
			"id":    user.ID,
			"email": user.Email,
			"name":  user.Name,
			"role":  user.Role,
		},
	})
}

// AuthMiddleware resolves the bearer token into a principal and rejects
// anyone without the admin role.
func (s *Service) AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		p, err := auth.PrincipalFromHeader(s.config, c.GetHeader("Authorization"))
		if err != nil {
			msg := "Invalid token"
			if errors.Is(err, auth.ErrMissingToken) {
				msg = "Authorization header required"
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": msg,
			})
			return
		}

		if err := auth.RequireAdmin(p); err != nil {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "Admin access required",
			})
			return
		}

		c.Request = c.Request.WithContext(auth.WithPrincipal(c.Request.Context(), p))
		c.Set("userID", p.UserID)
		c.Set("userEmail", p.Email)
		c.Next()
	}
}

func (s *Service) HealthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	deps := gin.H{}
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			s.log.Warn("health check failed", slog.String("dependency", name), sl.Err(err))
			deps[name] = "down"
			status = http.StatusServiceUnavailable
			continue
		}
		deps[name] = "up"
	}

	state := "healthy"
	if status != http.StatusOK {
		state = "degraded"
	}
	c.JSON(status, gin.H{
		"status":       state,
		"dependencies": deps,
		"timestamp":    time.Now(),
	})
}
