package engine

import (
	"fmt"

	"github.com/a-essam23/go-signal/pkg/pipeline"
)

// rateLimitModifier drops messages once the session's token bucket is empty.
// Sessions without a limiter are never throttled.
func rateLimitModifier(pctx *pipeline.Cargo) error {
	limiter := pctx.Session.Limiter
	if limiter == nil {
		return nil
	}
	if !limiter.Allow() {
		return fmt.Errorf("%w for action '%s'", ErrRateLimited, pctx.Action)
	}
	return nil
}
