package headers

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"gatekeeper/internal/ratelimit/models"
)

type HeadersSuite struct {
	suite.Suite
}

func TestHeadersSuite(t *testing.T) {
	suite.Run(t, new(HeadersSuite))
}

func (s *HeadersSuite) TestFromResult() {
	resetAt := time.Date(2024, 6, 15, 12, 1, 0, 0, time.UTC)

	s.Run("allowed result omits Retry-After", func() {
		h := FromResult(&models.RateLimitResult{
			Allowed:   true,
			Limit:     100,
			Remaining: 42,
			ResetAt:   resetAt,
			Policy:    "Per-IP limit;sliding_window",
		})

		s.Equal("100", h[HeaderLimit])
		s.Equal("42", h[HeaderRemaining])
		s.Equal("1718452860", h[HeaderReset])
		s.Equal("Per-IP limit;sliding_window", h[HeaderPolicy])
		s.NotContains(h, HeaderRetryAfter)
	})

	s.Run("denied result carries Retry-After", func() {
		h := FromResult(&models.RateLimitResult{
			Allowed:    false,
			Limit:      10,
			Remaining:  0,
			ResetAt:    resetAt,
			RetryAfter: 30,
		})

		s.Equal("30", h[HeaderRetryAfter])
		s.Equal("0", h[HeaderRemaining])
	})

	s.Run("remaining never goes negative", func() {
		h := FromResult(&models.RateLimitResult{Allowed: false, Limit: 5, Remaining: -3, ResetAt: resetAt})
		s.Equal("0", h[HeaderRemaining])
	})

	s.Run("nil result yields no headers", func() {
		s.Empty(FromResult(nil))
	})
}

func (s *HeadersSuite) TestApply() {
	h := http.Header{}
	Apply(h, &models.RateLimitResult{
		Allowed:   true,
		Limit:     60,
		Remaining: 59,
		ResetAt:   time.Date(2024, 6, 15, 12, 1, 0, 0, time.UTC),
	})

	s.Equal("60", h.Get(HeaderLimit))
	s.Equal("59", h.Get(HeaderRemaining))
	s.Empty(h.Get(HeaderRetryAfter))
}
