package event

import (
	"testing"
	"time"

	"github.com/JonasLeetTheWay/encore/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlugify(t *testing.T) {
	assert.Equal(t, "album-release-show", Slugify("Album Release Show"))
	assert.Equal(t, "live-at-the-roundhouse-2026", Slugify("  Live @ the Roundhouse, 2026! "))
	assert.Equal(t, "", Slugify("!!!"))
}

func TestEventRequestToModel(t *testing.T) {
	start := time.Date(2026, 12, 5, 21, 0, 0, 0, time.UTC)
	price := models.Money(2500)

	t.Run("paid event", func(t *testing.T) {
		req := eventRequest{Title: "Album Release Show", StartsAt: start, Price: &price, Currency: "EUR"}
		e, err := req.toModel()
		require.NoError(t, err)
		assert.Equal(t, "album-release-show", e.Slug)
		assert.Equal(t, "eur", e.Currency)
		assert.Equal(t, models.RegistrationNative, e.RegistrationMethod)
		require.NotNil(t, e.Price)
		assert.Equal(t, models.Money(2500), *e.Price)
	})

	t.Run("paid event without price", func(t *testing.T) {
		req := eventRequest{Title: "Show", StartsAt: start}
		_, err := req.toModel()
		assert.ErrorIs(t, err, errPriceRequired)
	})

	t.Run("free event drops price", func(t *testing.T) {
		req := eventRequest{Title: "Show", StartsAt: start, IsFree: true, Price: &price}
		e, err := req.toModel()
		require.NoError(t, err)
		assert.Nil(t, e.Price)
		assert.Equal(t, "usd", e.Currency)
	})

	t.Run("end before start", func(t *testing.T) {
		end := start.Add(-time.Hour)
		req := eventRequest{Title: "Show", StartsAt: start, EndsAt: &end, IsFree: true}
		_, err := req.toModel()
		assert.Error(t, err)
	})

	t.Run("external needs url", func(t *testing.T) {
		req := eventRequest{Title: "Show", StartsAt: start, IsFree: true, RegistrationMethod: models.RegistrationExternal}
		_, err := req.toModel()
		assert.Error(t, err)
	})
}

func TestToResponseCarriesStats(t *testing.T) {
	limit := 100
	e := &models.Event{Title: "Show", MaxAttendees: &limit}
	resp := toResponse(e, models.ComputeStats(e.MaxAttendees, 40))

	require.NotNil(t, resp.SpotsLeft)
	assert.Equal(t, int64(60), *resp.SpotsLeft)
	assert.Equal(t, int64(40), resp.RegistrationCount)
	assert.False(t, resp.IsSoldOut)
}
