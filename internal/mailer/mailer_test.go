package mailer

import (
	"context"
	"testing"
	"time"

	"github.com/JonasLeetTheWay/encore/internal/config"
	"github.com/JonasLeetTheWay/encore/internal/lib/logger/handlers/slogdiscard"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ticket() TicketData {
	return TicketData{
		Name:       "Ada",
		EventTitle: "Listening Party",
		StartsAt:   time.Date(2026, 11, 20, 20, 0, 0, 0, time.UTC),
		Venue:      "The Lexington",
		Location:   "London",
		TicketCode: "ABCD2345",
		Amount:     2500,
		Currency:   "usd",
	}
}

func TestRenderRegistrationConfirmed(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)

	subject, body, err := r.Render(TemplateRegistrationConfirmed, ticket())
	require.NoError(t, err)

	assert.Equal(t, "You're on the list: Listening Party", subject)
	assert.Contains(t, body, "Hi Ada")
	assert.Contains(t, body, "ABCD2345")
	assert.Contains(t, body, "Friday, 20 November 2026 at 20:00")
}

func TestRenderPaymentConfirmed(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)

	_, body, err := r.Render(TemplatePaymentConfirmed, ticket())
	require.NoError(t, err)
	assert.Contains(t, body, "25.00 usd")
}

func TestRenderEscapesInput(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)

	data := ticket()
	data.Name = "<script>x</script>"
	_, body, err := r.Render(TemplateRegistrationConfirmed, data)
	require.NoError(t, err)
	assert.NotContains(t, body, "<script>")
}

func TestRenderUnknownTemplate(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)

	_, _, err = r.Render("nope", ticket())
	assert.Error(t, err)
}

func TestNewWithoutSMTPLogs(t *testing.T) {
	d, err := New(&config.Config{}, slogdiscard.NewDiscardLogger())
	require.NoError(t, err)
	require.IsType(t, &LogMailer{}, d)

	err = d.Send(context.Background(), Message{To: "ada@x.com", Template: TemplateRegistrationConfirmed, Data: ticket()})
	assert.NoError(t, err)
}

func TestNewWithSMTP(t *testing.T) {
	d, err := New(&config.Config{SMTPHost: "smtp.example.com", SMTPPort: 587, MailFrom: "t@example.com"}, slogdiscard.NewDiscardLogger())
	require.NoError(t, err)
	assert.IsType(t, &SMTPMailer{}, d)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, d.Send(ctx, Message{To: "ada@x.com", Template: TemplateRegistrationConfirmed, Data: ticket()}), context.Canceled)
}
