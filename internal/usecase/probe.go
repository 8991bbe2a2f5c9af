package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/grpc-ecosystem/go-grpc-middleware/logging/zap/ctxzap"
	"go.uber.org/zap"
)

// ModelProbe picks the first model from an ordered candidate list that
// answers a trivial prompt without failing.
type ModelProbe struct {
	completer  Completer
	candidates []string
	delay      time.Duration
}

func NewModelProbe(c Completer, candidates []string, delay time.Duration) (*ModelProbe, error) {
	if c == nil {
		return nil, errors.New("usecase: completer must not be nil")
	}
	models := make([]string, 0, len(candidates))
	for _, m := range candidates {
		if m = strings.TrimSpace(m); m != "" {
			models = append(models, m)
		}
	}
	if len(models) == 0 {
		return nil, errors.New("usecase: probe needs at least one candidate model")
	}
	if delay < 0 {
		delay = 0
	}
	return &ModelProbe{completer: c, candidates: models, delay: delay}, nil
}

// Candidates returns a copy of the candidate list in probe order.
func (p *ModelProbe) Candidates() []string {
	out := make([]string, len(p.candidates))
	copy(out, p.candidates)
	return out
}

// Select tries each candidate once, in order. It fails with
// ErrorNoUsableModel when every candidate fails.
func (p *ModelProbe) Select(ctx context.Context) (string, error) {
	var selected string
	next := 0

	err := retry.Do(
		func() error {
			model := p.candidates[next]
			next++
			resp, err := p.completer.Submit(ctx, probePrompt, "", model)
			if err != nil {
				return fmt.Errorf("model %q: %w", model, err)
			}
			// a 2xx reply without content is not a working model
			if _, err := extractContent(resp); err != nil {
				return fmt.Errorf("model %q: %w", model, err)
			}
			selected = model
			return nil
		},
		retry.Attempts(uint(len(p.candidates))),
		retry.Delay(p.delay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(false),
		retry.Context(ctx),
		retry.RetryIf(func(error) bool { return ctx.Err() == nil }),
		retry.OnRetry(func(n uint, err error) {
			ctxzap.Warn(ctx, "probe candidate failed", zap.Uint("attempt", n+1), zap.Error(err))
		}),
	)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", newError(ErrorCancelled, "probe_cancelled", errors.Join(ctxErr, err))
		}
		return "", newError(ErrorNoUsableModel, "probe_exhausted", err)
	}

	ctxzap.Info(ctx, "probe selected model", zap.String("model", selected), zap.Int("attempts", next))
	return selected, nil
}
