package proxy

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/vnmchuo/vtplus-gateway/internal/provider"
)

var ErrNoProvider = errors.New("all providers unavailable")

// MissingKeyError is returned by Route when the only providers able to serve
// a request have no server key and the caller brought none.
type MissingKeyError struct {
	Provider provider.ID
}

func (e *MissingKeyError) Error() string {
	return fmt.Sprintf("no API key configured for provider %s", e.Provider)
}

type Router struct {
	providers []provider.Provider
	breakers  map[string]*gobreaker.CircuitBreaker
}

func NewRouter(providers []provider.Provider) *Router {
	breakers := make(map[string]*gobreaker.CircuitBreaker)
	for _, p := range providers {
		settings := gobreaker.Settings{
			Name:        p.Name(),
			MaxRequests: 3,
			Interval:    5 * time.Second,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
			// A caller's bad BYOK key must not open the breaker for everyone.
			IsSuccessful: func(err error) bool {
				var apiErr *provider.APIError
				if errors.As(err, &apiErr) {
					return apiErr.StatusCode < 500 && apiErr.StatusCode != 429
				}
				return err == nil || errors.Is(err, context.Canceled)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.WithFields(log.Fields{
					"provider": name,
					"from":     from.String(),
					"to":       to.String(),
				}).Warn("circuit breaker state changed")
			},
		}
		breakers[p.Name()] = gobreaker.NewCircuitBreaker(settings)
	}
	return &Router{
		providers: providers,
		breakers:  breakers,
	}
}

// Route picks a healthy provider for req. A non-empty pin restricts the
// choice to that provider. With a model the first provider serving it wins,
// otherwise the cheapest one does. Requests without a caller key only go to
// providers holding a server key.
func (r *Router) Route(ctx context.Context, req *provider.Request, pin provider.ID) (provider.Provider, error) {
	var candidates []provider.Provider
	var keyless provider.ID
	for _, p := range r.providers {
		if pin != "" && provider.ID(p.Name()) != pin {
			continue
		}
		if req.Model != "" && !supports(p, req.Model) {
			continue
		}
		if req.APIKey == "" && !p.HasServerKey() {
			if keyless == "" {
				keyless = provider.ID(p.Name())
			}
			continue
		}

		cb := r.breakers[p.Name()]
		if cb.State() == gobreaker.StateOpen {
			continue
		}
		candidates = append(candidates, p)
	}

	if len(candidates) == 0 {
		if keyless != "" {
			return nil, &MissingKeyError{Provider: keyless}
		}
		return nil, ErrNoProvider
	}

	if req.Model != "" {
		return candidates[0], nil
	}

	best := candidates[0]
	for _, p := range candidates[1:] {
		if p.CostPerInputToken() < best.CostPerInputToken() {
			best = p
		}
	}
	return best, nil
}

func supports(p provider.Provider, model string) bool {
	for _, m := range p.SupportedModels() {
		if m == model {
			return true
		}
	}
	return false
}

func (r *Router) Execute(ctx context.Context, req *provider.Request, p provider.Provider) (*provider.Response, error) {
	cb := r.breakers[p.Name()]
	result, err := cb.Execute(func() (interface{}, error) {
		return p.Complete(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	return result.(*provider.Response), nil
}

func (r *Router) ExecuteStream(ctx context.Context, req *provider.Request, p provider.Provider) (<-chan *provider.Chunk, error) {
	cb := r.breakers[p.Name()]
	if cb.State() == gobreaker.StateOpen {
		return nil, fmt.Errorf("circuit breaker is open for provider: %s", p.Name())
	}

	origCh, err := p.CompleteStream(ctx, req)
	if err != nil {
		_, _ = cb.Execute(func() (interface{}, error) {
			return nil, err
		})
		return nil, err
	}

	wrappedCh := make(chan *provider.Chunk)
	go func() {
		defer close(wrappedCh)
		for chunk := range origCh {
			if chunk.Err != nil {
				_, _ = cb.Execute(func() (interface{}, error) {
					return nil, chunk.Err
				})
			}
			select {
			case wrappedCh <- chunk:
			case <-ctx.Done():
				return
			}
		}
	}()

	return wrappedCh, nil
}
