package deliberation

import (
	"context"

	"github.com/octoreflex/govcircuit/internal/config"
	"github.com/octoreflex/govcircuit/internal/detection"
	"github.com/octoreflex/govcircuit/internal/simulation"
)

// VoteProvider elicits one stakeholder's vote. Implementations may be
// automated evaluators bundled with the system or an externally registered
// human vote source; both are modeled as the same small interface, per the
// tagged-variant-over-inheritance design note. template carries the active
// deliberation template so a provider can weigh its dimensions.
type VoteProvider interface {
	StakeholderID() string
	StakeholderType() StakeholderType
	Vote(ctx context.Context, event detection.ThresholdEvent, prediction simulation.Prediction, template config.TemplateConfig) (StakeholderVote, error)
}
