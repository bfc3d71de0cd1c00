package internal

import (
	"io"

	"github.com/starford/othala/internal/processor"
)

// Option is a functional option for configuring the application.
type Option func(*application)

type application struct {
	config        *Config
	confirmer     processor.Confirmer
	summaryWriter io.Writer
}

// WithConfig sets the application configuration.
func WithConfig(cfg *Config) Option {
	return func(a *application) {
		a.config = cfg
	}
}

// WithConfirmer overrides the confirmation gate (stdin by default).
func WithConfirmer(c processor.Confirmer) Option {
	return func(a *application) {
		a.confirmer = c
	}
}

// WithSummaryWriter overrides where change summaries are written (stdout by default).
func WithSummaryWriter(w io.Writer) Option {
	return func(a *application) {
		a.summaryWriter = w
	}
}
