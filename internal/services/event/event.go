package event

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/JonasLeetTheWay/encore/internal/lib/logger/sl"
	"github.com/JonasLeetTheWay/encore/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

type Service struct {
	db  *gorm.DB
	log *slog.Logger
}

func NewService(db *gorm.DB, log *slog.Logger) *Service {
	return &Service{db: db, log: log.With(slog.String("component", "event"))}
}

func (s *Service) SetupRoutes(r gin.IRouter, admin gin.IRouter) {
	r.GET("/events", s.ListEvents)
	r.GET("/events/:idOrSlug", s.GetEvent)

	admin.GET("/events", s.ListAllEvents)
	admin.POST("/events", s.CreateEvent)
	admin.PUT("/events/:id", s.UpdateEvent)
	admin.DELETE("/events/:id", s.DeleteEvent)
}

type eventResponse struct {
	ID                 uint                      `json:"id"`
	Title              string                    `json:"title"`
	Slug               string                    `json:"slug"`
	Description        string                    `json:"description"`
	StartsAt           time.Time                 `json:"startsAt"`
	EndsAt             *time.Time                `json:"endsAt,omitempty"`
	Venue              string                    `json:"venue"`
	Location           string                    `json:"location"`
	MaxAttendees       *int                      `json:"maxAttendees"`
	IsFree             bool                      `json:"isFree"`
	Price              *models.Money             `json:"price"`
	Currency           string                    `json:"currency"`
	RegistrationMethod models.RegistrationMethod `json:"registrationMethod"`
	ExternalURL        string                    `json:"externalUrl,omitempty"`
	ImageURL           string                    `json:"imageUrl,omitempty"`
	Published          bool                      `json:"published"`
	models.EventStats
}

func toResponse(e *models.Event, stats models.EventStats) eventResponse {
	return eventResponse{
		ID:                 e.ID,
		Title:              e.Title,
		Slug:               e.Slug,
		Description:        e.Description,
		StartsAt:           e.StartsAt,
		EndsAt:             e.EndsAt,
		Venue:              e.Venue,
		Location:           e.Location,
		MaxAttendees:       e.MaxAttendees,
		IsFree:             e.IsFree,
		Price:              e.Price,
		Currency:           e.Currency,
		RegistrationMethod: e.RegistrationMethod,
		ExternalURL:        e.ExternalURL,
		ImageURL:           e.ImageURL,
		Published:          e.Published,
		EventStats:         stats,
	}
}

// ListEvents returns published events, soonest first. ?upcoming=false
// includes past events.
func (s *Service) ListEvents(c *gin.Context) {
	q := s.db.WithContext(c.Request.Context()).Where("published = ?", true)
	if c.DefaultQuery("upcoming", "true") != "false" {
		q = q.Where("starts_at >= ?", time.Now().Add(-12*time.Hour))
	}

	var events []models.Event
	if err := q.Order("starts_at ASC").Find(&events).Error; err != nil {
		s.log.Error("failed to list events", sl.Err(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to fetch events",
		})
		return
	}

	s.respondList(c, events)
}

func (s *Service) ListAllEvents(c *gin.Context) {
	var events []models.Event
	if err := s.db.WithContext(c.Request.Context()).Order("starts_at DESC").Find(&events).Error; err != nil {
		s.log.Error("failed to list events", sl.Err(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to fetch events",
		})
		return
	}

	s.respondList(c, events)
}

func (s *Service) respondList(c *gin.Context, events []models.Event) {
	ids := make([]uint, 0, len(events))
	for _, e := range events {
		ids = append(ids, e.ID)
	}

	counts, err := models.CountActiveByEvent(s.db.WithContext(c.Request.Context()), ids)
	if err != nil {
		s.log.Error("failed to count registrations", sl.Err(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to fetch events",
		})
		return
	}

	out := make([]eventResponse, 0, len(events))
	for i := range events {
		out = append(out, toResponse(&events[i], models.ComputeStats(events[i].MaxAttendees, counts[events[i].ID])))
	}
	c.JSON(http.StatusOK, gin.H{"events": out})
}

func (s *Service) GetEvent(c *gin.Context) {
	key := c.Param("idOrSlug")

	q := s.db.WithContext(c.Request.Context()).Where("published = ?", true)
	if id, err := strconv.ParseUint(key, 10, 32); err == nil {
		q = q.Where("id = ?", uint(id))
	} else {
		q = q.Where("slug = ?", key)
	}

	var event models.Event
	if err := q.First(&event).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Event not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to fetch event",
		})
		return
	}

	stats, err := s.GetEventStats(c.Request.Context(), &event)
	if err != nil {
		s.log.Error("failed to count registrations", sl.Err(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to fetch event",
		})
		return
	}

	c.JSON(http.StatusOK, toResponse(&event, stats))
}

type eventRequest struct {
	Title              string                    `json:"title" binding:"required,max=200"`
	Slug               string                    `json:"slug" binding:"omitempty,max=200"`
	Description        string                    `json:"description"`
	StartsAt           time.Time                 `json:"startsAt" binding:"required"`
	EndsAt             *time.Time                `json:"endsAt"`
	Venue              string                    `json:"venue"`
	Location           string                    `json:"location"`
	MaxAttendees       *int                      `json:"maxAttendees" binding:"omitempty,gte=0"`
	IsFree             bool                      `json:"isFree"`
	Price              *models.Money             `json:"price" binding:"omitempty,gt=0"`
	Currency           string                    `json:"currency" binding:"omitempty,len=3"`
	RegistrationMethod models.RegistrationMethod `json:"registrationMethod" binding:"omitempty,oneof=native external email none"`
	ExternalURL        string                    `json:"externalUrl" binding:"omitempty,url"`
	ImageURL           string                    `json:"imageUrl"`
	Published          bool                      `json:"published"`
}

var errPriceRequired = errors.New("price in minor units is required for paid events")

// toModel checks the cross-field rules binding tags cannot express.
func (r *eventRequest) toModel() (*models.Event, error) {
	if !r.IsFree && r.Price == nil {
		return nil, errPriceRequired
	}
	if r.EndsAt != nil && r.EndsAt.Before(r.StartsAt) {
		return nil, errors.New("endsAt must not be before startsAt")
	}
	if r.RegistrationMethod == models.RegistrationExternal && r.ExternalURL == "" {
		return nil, errors.New("externalUrl is required for external registration")
	}

	e := &models.Event{
		Title:              strings.TrimSpace(r.Title),
		Slug:               r.Slug,
		Description:        r.Description,
		StartsAt:           r.StartsAt,
		EndsAt:             r.EndsAt,
		Venue:              r.Venue,
		Location:           r.Location,
		MaxAttendees:       r.MaxAttendees,
		IsFree:             r.IsFree,
		Price:              r.Price,
		Currency:           strings.ToLower(r.Currency),
		RegistrationMethod: r.RegistrationMethod,
		ExternalURL:        r.ExternalURL,
		ImageURL:           r.ImageURL,
		Published:          r.Published,
	}
	if e.IsFree {
		e.Price = nil
	}
	if e.Slug == "" {
		e.Slug = Slugify(e.Title)
	}
	if e.Currency == "" {
		e.Currency = "usd"
	}
	if e.RegistrationMethod == "" {
		e.RegistrationMethod = models.RegistrationNative
	}
	return e, nil
}

func (s *Service) CreateEvent(c *gin.Context) {
	var req eventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid event data",
			"details": err.Error(),
		})
		return
	}

	event, err := req.toModel()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid event data",
			"details": err.Error(),
		})
		return
	}

	if err := s.db.WithContext(c.Request.Context()).Create(event).Error; err != nil {
		s.writeError(c, err, "Failed to create event")
		return
	}

	s.log.Info("event created", slog.Uint64("event_id", uint64(event.ID)), slog.String("slug", event.Slug))
	c.JSON(http.StatusCreated, toResponse(event, models.ComputeStats(event.MaxAttendees, 0)))
}

func (s *Service) UpdateEvent(c *gin.Context) {
	eventID, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid event ID",
		})
		return
	}

	var event models.Event
	if err := s.db.WithContext(c.Request.Context()).First(&event, uint(eventID)).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Event not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to fetch event",
		})
		return
	}

	var req eventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid event data",
			"details": err.Error(),
		})
		return
	}

	updated, err := req.toModel()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid event data",
			"details": err.Error(),
		})
		return
	}

	// Select so that false, nil and zero overwrite the stored values.
	err = s.db.WithContext(c.Request.Context()).Model(&event).
		Select("Title", "Slug", "Description", "StartsAt", "EndsAt", "Venue", "Location",
			"MaxAttendees", "IsFree", "Price", "Currency", "RegistrationMethod",
			"ExternalURL", "ImageURL", "Published").
		Updates(updated).Error
	if err != nil {
		s.writeError(c, err, "Failed to update event")
		return
	}

	if err := s.db.WithContext(c.Request.Context()).First(&event, event.ID).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to fetch event",
		})
		return
	}

	stats, err := s.GetEventStats(c.Request.Context(), &event)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to fetch event",
		})
		return
	}

	c.JSON(http.StatusOK, toResponse(&event, stats))
}

func (s *Service) DeleteEvent(c *gin.Context) {
	eventID, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid event ID",
		})
		return
	}

	res := s.db.WithContext(c.Request.Context()).Delete(&models.Event{}, uint(eventID))
	if res.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to delete event",
		})
		return
	}
	if res.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "Event not found",
		})
		return
	}

	// Registrations stay; the event is only soft-deleted.
	c.JSON(http.StatusOK, gin.H{
		"message": "Event deleted successfully",
	})
}

// GetEventStats derives the display counters from the shared active predicate.
func (s *Service) GetEventStats(ctx context.Context, event *models.Event) (models.EventStats, error) {
	n, err := models.CountActive(s.db.WithContext(ctx), event.ID)
	if err != nil {
		return models.EventStats{}, err
	}
	return models.ComputeStats(event.MaxAttendees, n), nil
}

func (s *Service) writeError(c *gin.Context, err error, msg string) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		c.JSON(http.StatusConflict, gin.H{
			"error": "An event with this slug already exists",
		})
		return
	}
	s.log.Error(msg, sl.Err(err))
	c.JSON(http.StatusInternalServerError, gin.H{
		"error": msg,
	})
}

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

func Slugify(title string) string {
	return strings.Trim(nonSlug.ReplaceAllString(strings.ToLower(title), "-"), "-")
}
