package services

import (
	"context"
	"log/slog"

	"golang.org/x/time/rate"
)

// TokenGovernor paces embedding traffic against the provider's per-minute
// token budget. The budget refills continuously; a caller that would
// overdraw it blocks until enough budget has accrued.
type TokenGovernor struct {
	logger  *slog.Logger
	limiter *rate.Limiter
	budget  int
}

// NewTokenGovernor creates a governor for the given tokens-per-minute budget.
// budget<=0 disables pacing.
func NewTokenGovernor(logger *slog.Logger, tokensPerMinute int) *TokenGovernor {
	g := &TokenGovernor{logger: logger, budget: tokensPerMinute}
	if tokensPerMinute > 0 {
		// Burst of a full minute's budget so cold starts are not throttled.
		g.limiter = rate.NewLimiter(rate.Limit(float64(tokensPerMinute)/60.0), tokensPerMinute)
	}
	return g
}

// Wait blocks until the budget covers the given text, or ctx is cancelled.
func (g *TokenGovernor) Wait(ctx context.Context, text string) error {
	if g.limiter == nil {
		return nil
	}

	tokens := EstimateTokens(text)
	if tokens > g.budget {
		// A single oversized text can never fit in one refill window;
		// charge the full budget instead of erroring out.
		g.logger.Warn("text exceeds full token budget, charging whole budget", "tokens", tokens, "budget", g.budget)
		tokens = g.budget
	}

	return g.limiter.WaitN(ctx, tokens)
}

// EstimateTokens approximates the provider's token count for a text.
// Roughly four bytes per token holds for English prose.
func EstimateTokens(s string) int {
	return len(s)/4 + 1
}
