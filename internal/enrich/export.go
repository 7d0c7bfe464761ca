package enrich

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"

	"github.com/signalpath/enrich-cli/internal/resilience"
)

// ExportFetcher retrieves bulk-export payloads referenced by tool results.
// The profile service sometimes answers a fetch with an export URL instead of
// inline data; the reconciler follows those through this interface.
type ExportFetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// HTTPExportFetcher follows export URLs over plain HTTP with retry. A
// circuit breaker guards the export host so a dead endpoint fails fast
// instead of running the full retry schedule on every link.
type HTTPExportFetcher struct {
	client  *http.Client
	retry   resilience.RetryConfig
	breaker *resilience.CircuitBreaker
}

// NewHTTPExportFetcher creates a fetcher with sane defaults.
func NewHTTPExportFetcher() *HTTPExportFetcher {
	cb := resilience.DefaultCircuitBreakerConfig()
	cb.ShouldTrip = resilience.IsTransient
	return &HTTPExportFetcher{
		client:  &http.Client{Timeout: 60 * time.Second},
		retry:   resilience.DefaultRetryConfig(),
		breaker: resilience.NewCircuitBreaker(cb),
	}
}

// Fetch downloads the export body as a string. Transient HTTP statuses are
// retried with backoff; anything else fails fast.
func (f *HTTPExportFetcher) Fetch(ctx context.Context, url string) (string, error) {
	return resilience.ExecuteVal(ctx, f.breaker, func(ctx context.Context) (string, error) {
		return f.fetch(ctx, url)
	})
}

func (f *HTTPExportFetcher) fetch(ctx context.Context, url string) (string, error) {
	return resilience.DoVal(ctx, f.retry, func(ctx context.Context) (string, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return "", eris.Wrap(err, "enrich: create export request")
		}

		resp, err := f.client.Do(req)
		if err != nil {
			return "", resilience.NewTransientError(eris.Wrap(err, "enrich: fetch export"), 0)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return "", resilience.NewTransientError(eris.Wrap(err, "enrich: read export body"), 0)
		}

		if resp.StatusCode != http.StatusOK {
			err := eris.Errorf("enrich: export fetch returned %d", resp.StatusCode)
			if resilience.IsTransientHTTPStatus(resp.StatusCode) {
				return "", resilience.NewTransientError(err, resp.StatusCode)
			}
			return "", err
		}
		return string(body), nil
	})
}

var _ ExportFetcher = (*HTTPExportFetcher)(nil)
