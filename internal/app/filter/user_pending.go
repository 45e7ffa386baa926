package filter

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"

	"github.com/osa030/chanson/internal/domain/track"
)

// UserPendingConfig represents the configuration for UserPendingFilter.
type UserPendingConfig struct {
	MaxPending int `yaml:"max_pending" mapstructure:"max_pending" default:"1" validate:"gte=1"`
}

// UserPendingFilter limits how many manual entries a requester may have queued.
type UserPendingFilter struct {
	queue  QueueReader
	config UserPendingConfig
}

// NewUserPendingFilter creates a user pending filter.
func NewUserPendingFilter(queue QueueReader) *UserPendingFilter {
	return &UserPendingFilter{queue: queue, config: UserPendingConfig{MaxPending: 1}}
}

func (f *UserPendingFilter) Name() string {
	return "user_pending_filter"
}

func (f *UserPendingFilter) Description() string {
	return "Checks if the requester already has tracks waiting to be played"
}

func (f *UserPendingFilter) ReturnCodes() []string {
	return []string{CodeUserPending}
}

func (f *UserPendingFilter) ValidateConfig(settings map[string]any) error {
	var config UserPendingConfig
	if err := mapstructure.Decode(settings, &config); err != nil {
		return errors.Wrap(err, "failed to decode settings")
	}
	if err := defaults.Set(&config); err != nil {
		return errors.Wrap(err, "failed to set defaults")
	}
	if err := validator.New().Struct(config); err != nil {
		return errors.Wrap(err, "validation failed")
	}
	f.config = config
	return nil
}

func (f *UserPendingFilter) AppliesTo(origin track.Origin) bool {
	// Pending limits only apply to listener requests, not refill
	return origin == track.OriginManual
}

func (f *UserPendingFilter) Check(ctx context.Context, req Request, t track.Track) Result {
	id := req.RequesterID()
	if id == "" || f.queue == nil {
		return Accept()
	}
	if f.queue.CountByRequester(id) >= f.config.MaxPending {
		return Reject(CodeUserPending)
	}
	return Accept()
}

func init() {
	Register("user_pending_filter", func(deps Deps) Filter {
		return NewUserPendingFilter(deps.Queue)
	})
}
