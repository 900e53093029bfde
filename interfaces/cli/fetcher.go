package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/apexsports/apexfeed/domain/provider"
	"github.com/apexsports/apexfeed/domain/sports"
)

// httpFetcher issues generic JSON GETs against each provider's configured
// endpoint. Provider-specific clients plug into the access layer the same
// way, through provider.FetchFunc.
type httpFetcher struct {
	endpoints map[provider.ID]string
	client    *http.Client
}

func newHTTPFetcher(endpoints map[provider.ID]string) *httpFetcher {
	return &httpFetcher{
		endpoints: endpoints,
		client:    &http.Client{Timeout: 30 * time.Second},
	}
}

// fetchFunc builds the fetch function for one sport and data type. The
// provider argument selects the endpoint, so the access layer can reuse the
// same function for fallback providers.
func (f *httpFetcher) fetchFunc(s sports.Sport, dt sports.DataType) provider.FetchFunc {
	return func(ctx context.Context, p provider.ID) ([]byte, error) {
		endpoint, ok := f.endpoints[p]
		if !ok || endpoint == "" {
			return nil, provider.NewValidationError(p, errors.New("no endpoint configured"))
		}

		url := fmt.Sprintf("%s/%s/%s", endpoint, s, dt)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, provider.NewValidationError(p, err)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := f.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, provider.NewNetworkError(p, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			err := fmt.Errorf("GET %s: %s", url, resp.Status)
			if resp.StatusCode == http.StatusTooManyRequests {
				return nil, provider.NewRateLimitError(p, retryAfter(resp), err)
			}
			return nil, provider.NewStatusError(p, resp.StatusCode, err)
		}

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, provider.NewNetworkError(p, err)
		}
		return body, nil
	}
}

// retryAfter parses a seconds-valued Retry-After header, zero when absent.
func retryAfter(resp *http.Response) time.Duration {
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
