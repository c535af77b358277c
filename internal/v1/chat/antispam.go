package chat

import (
	"context"
	"unicode/utf8"

	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	"go.uber.org/zap"

	"github.com/driftchat/driftchat/internal/v1/logging"
)

// SpamPolicy vets inbound frames before dispatch. The key is stable per
// connection so rate limits apply per socket.
type SpamPolicy interface {
	Check(ctx context.Context, key string, payload []byte) error
}

// NewSpamPolicy builds the default policy: a symbol-count cap, plus a per
// connection rate limit when rate is a non-empty limiter format like "20-S".
func NewSpamPolicy(maxSymbols int, rate string) (SpamPolicy, error) {
	chain := policyChain{sizePolicy{max: maxSymbols}}
	if rate != "" {
		r, err := limiter.NewRateFromFormatted(rate)
		if err != nil {
			return nil, err
		}
		chain = append(chain, ratePolicy{limiter: limiter.New(memory.NewStore(), r)})
	}
	return chain, nil
}

type policyChain []SpamPolicy

func (ps policyChain) Check(ctx context.Context, key string, payload []byte) error {
	for _, p := range ps {
		if err := p.Check(ctx, key, payload); err != nil {
			return err
		}
	}
	return nil
}

// sizePolicy rejects frames longer than the configured symbol count. Symbols
// are unicode code points, not bytes.
type sizePolicy struct {
	max int
}

func (p sizePolicy) Check(_ context.Context, _ string, payload []byte) error {
	if utf8.RuneCount(payload) > p.max {
		return validationf("Message can't exceed %d symbols", p.max)
	}
	return nil
}

// ratePolicy counts frames per connection. Limiter backend failures are
// logged and the frame is let through.
type ratePolicy struct {
	limiter *limiter.Limiter
}

func (p ratePolicy) Check(ctx context.Context, key string, _ []byte) error {
	lctx, err := p.limiter.Get(ctx, key)
	if err != nil {
		logging.Warn(ctx, "rate limiter check failed", zap.Error(err))
		return nil
	}
	if lctx.Reached {
		return validationf("You're chatting too much, calm down a bit!")
	}
	return nil
}
