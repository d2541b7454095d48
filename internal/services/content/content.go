package content

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/JonasLeetTheWay/encore/internal/lib/logger/sl"
	"github.com/JonasLeetTheWay/encore/internal/models"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

const (
	defaultLimit = 20
	maxLimit     = 100
)

// Service serves the read-only public catalogue: posts, videos, music and
// merch. Only published rows are visible.
type Service struct {
	db  *gorm.DB
	log *slog.Logger
}

func NewService(db *gorm.DB, log *slog.Logger) *Service {
	return &Service{db: db, log: log.With(slog.String("component", "content"))}
}

func (s *Service) SetupRoutes(r gin.IRouter) {
	r.GET("/posts", s.ListPosts)
	r.GET("/posts/:slug", s.GetPost)
	r.GET("/videos", s.ListVideos)
	r.GET("/music", s.ListMusic)
	r.GET("/products", s.ListProducts)
}

type page struct {
	Limit  int
	Offset int
}

func parsePage(c *gin.Context) page {
	p := page{Limit: defaultLimit}
	if n, err := strconv.Atoi(c.Query("limit")); err == nil && n > 0 {
		p.Limit = min(n, maxLimit)
	}
	if n, err := strconv.Atoi(c.Query("offset")); err == nil && n > 0 {
		p.Offset = n
	}
	return p
}

func (s *Service) published(c *gin.Context, p page, order string) *gorm.DB {
	return s.db.WithContext(c.Request.Context()).
		Where("published = ?", true).
		Order("sort_order ASC").
		Order(order).
		Limit(p.Limit).
		Offset(p.Offset)
}

func list[T any](s *Service, c *gin.Context, key, order string) {
	p := parsePage(c)

	var items []T
	if err := s.published(c, p, order).Find(&items).Error; err != nil {
		s.log.Error("failed to list content", slog.String("kind", key), sl.Err(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to fetch " + key,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		key:      items,
		"limit":  p.Limit,
		"offset": p.Offset,
	})
}

func (s *Service) ListPosts(c *gin.Context) {
	list[models.Post](s, c, "posts", "published_at DESC NULLS LAST")
}

func (s *Service) GetPost(c *gin.Context) {
	var post models.Post
	err := s.db.WithContext(c.Request.Context()).
		Where("slug = ? AND published = ?", c.Param("slug"), true).
		First(&post).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Post not found",
			})
			return
		}
		s.log.Error("failed to fetch post", sl.Err(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to fetch post",
		})
		return
	}

	c.JSON(http.StatusOK, post)
}

func (s *Service) ListVideos(c *gin.Context) {
	list[models.Video](s, c, "videos", "created_at DESC")
}

func (s *Service) ListMusic(c *gin.Context) {
	list[models.Music](s, c, "music", "released_at DESC NULLS LAST")
}

func (s *Service) ListProducts(c *gin.Context) {
	list[models.Product](s, c, "products", "created_at DESC")
}
