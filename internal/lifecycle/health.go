// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package lifecycle

import (
	"context"
	"net/http"
	"time"

	"github.com/tombee/fdtd/pkg/errors"
)

// ErrHealthCheckTimeout is returned when the daemon never became healthy.
var ErrHealthCheckTimeout = errors.New("health check timeout")

// HealthChecker polls the daemon /health endpoint with exponential backoff.
type HealthChecker struct {
	endpoint        string
	client          *http.Client
	initialInterval time.Duration
	maxInterval     time.Duration
	multiplier      float64
}

// NewHealthChecker returns a checker for endpoint, backing off from 50ms
// to 1s.
func NewHealthChecker(endpoint string) *HealthChecker {
	return &HealthChecker{
		endpoint:        endpoint,
		client:          &http.Client{Timeout: 5 * time.Second},
		initialInterval: 50 * time.Millisecond,
		maxInterval:     time.Second,
		multiplier:      2.0,
	}
}

// WithBackoff overrides the backoff parameters.
func (h *HealthChecker) WithBackoff(initial, max time.Duration, multiplier float64) *HealthChecker {
	h.initialInterval = initial
	h.maxInterval = max
	h.multiplier = multiplier
	return h
}

// Check performs one request and returns nil on a 2xx answer.
func (h *HealthChecker) Check(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.endpoint, nil)
	if err != nil {
		return errors.Wrap(err, "building health request")
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "health request failed")
	}
	resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errors.New("health endpoint returned " + resp.Status)
	}
	return nil
}

// WaitUntilHealthy polls until Check succeeds or timeout elapses. It
// returns the number of attempts made.
func (h *HealthChecker) WaitUntilHealthy(ctx context.Context, timeout time.Duration) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	interval := h.initialInterval
	for attempts := 1; ; attempts++ {
		err := h.Check(ctx)
		if err == nil {
			return attempts, nil
		}

		select {
		case <-ctx.Done():
			return attempts, errors.Wrapf(ErrHealthCheckTimeout, "after %d attempts: %v", attempts, err)
		case <-time.After(interval):
		}

		interval = time.Duration(float64(interval) * h.multiplier)
		if interval > h.maxInterval {
			interval = h.maxInterval
		}
	}
}
