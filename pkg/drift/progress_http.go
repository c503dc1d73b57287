package drift

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/stakebound/core/pkg/contracts"
)

// HTTPProgressSource fetches goal progress snapshots from the goal
// service.
type HTTPProgressSource struct {
	baseURL string
	client  *http.Client
}

// NewHTTPProgressSource creates a client against baseURL. A zero
// timeout defaults to 10 seconds.
func NewHTTPProgressSource(baseURL string, timeout time.Duration) *HTTPProgressSource {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPProgressSource{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

func (s *HTTPProgressSource) Progress(ctx context.Context, goalID string) (*contracts.GoalProgress, error) {
	u := s.baseURL + "/v1/goals/" + url.PathEscape(goalID) + "/progress"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("goal progress: create request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("goal progress: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("goal progress: %s returned %s", s.baseURL, resp.Status)
	}

	var p contracts.GoalProgress
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&p); err != nil {
		return nil, fmt.Errorf("goal progress: decode response: %w", err)
	}
	if p.GoalID == "" {
		p.GoalID = goalID
	}
	return &p, nil
}
