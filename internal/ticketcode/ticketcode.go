// Package ticketcode issues short ticket codes that are safe to read aloud
// or copy from a printed ticket.
package ticketcode

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
)

// Alphabet omits 0, O, 1 and I.
const Alphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const (
	DefaultLength      = 8
	DefaultMaxAttempts = 10
)

var ErrExhausted = errors.New("ticket code generation exhausted")

// ExistsFunc reports whether code is already assigned.
type ExistsFunc func(ctx context.Context, code string) (bool, error)

type Generator struct {
	length      int
	maxAttempts int
	rand        io.Reader
}

type Option func(*Generator)

func WithLength(n int) Option {
	return func(g *Generator) { g.length = n }
}

func WithMaxAttempts(n int) Option {
	return func(g *Generator) { g.maxAttempts = n }
}

// WithRandom replaces crypto/rand, for tests.
func WithRandom(r io.Reader) Option {
	return func(g *Generator) { g.rand = r }
}

func New(opts ...Option) *Generator {
	g := &Generator{
		length:      DefaultLength,
		maxAttempts: DefaultMaxAttempts,
		rand:        rand.Reader,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Candidate returns one random code without checking uniqueness.
func (g *Generator) Candidate() (string, error) {
	buf := make([]byte, g.length)
	if _, err := io.ReadFull(g.rand, buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	// len(Alphabet) divides 256, so the modulo is unbiased.
	for i, b := range buf {
		buf[i] = Alphabet[int(b)%len(Alphabet)]
	}
	return string(buf), nil
}

// Generate draws candidates until exists reports one as free.
func (g *Generator) Generate(ctx context.Context, exists ExistsFunc) (string, error) {
	for attempt := 0; attempt < g.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		code, err := g.Candidate()
		if err != nil {
			return "", err
		}

		taken, err := exists(ctx, code)
		if err != nil {
			return "", fmt.Errorf("failed to check ticket code: %w", err)
		}
		if !taken {
			return code, nil
		}
	}
	return "", fmt.Errorf("%w after %d attempts", ErrExhausted, g.maxAttempts)
}

func Valid(code string) bool {
	if len(code) != DefaultLength {
		return false
	}
	for i := 0; i < len(code); i++ {
		found := false
		for j := 0; j < len(Alphabet); j++ {
			if code[i] == Alphabet[j] {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
