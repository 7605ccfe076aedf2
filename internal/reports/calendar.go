package reports

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"analytica/internal/domain/rewrite"
)

// CalendarService expands period sentinels against the wall clock. It is the
// default rewrite.PeriodService of the built-in reports; hosts with a real
// fiscal-period table substitute their own.
type CalendarService struct {
	// Now is injectable for tests; defaults to time.Now.
	Now func() time.Time
}

// NewCalendarService creates a calendar over the system clock.
func NewCalendarService() *CalendarService {
	return &CalendarService{Now: time.Now}
}

// Expand resolves a sentinel to concrete period keys.
func (c *CalendarService) Expand(_ context.Context, sentinel string) ([]any, error) {
	now := c.Now()
	switch sentinel {
	case "current_year":
		return []any{strconv.Itoa(now.Year())}, nil
	case "previous_year":
		return []any{strconv.Itoa(now.Year() - 1)}, nil
	case "current_month":
		return []any{now.Format("2006-01")}, nil
	}
	return nil, fmt.Errorf("unknown period sentinel %q", sentinel)
}

// Ensure interface compliance
var _ rewrite.PeriodService = (*CalendarService)(nil)
