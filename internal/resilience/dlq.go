package resilience

import (
	"math"
	"time"

	"github.com/sells-group/annotate-cli/internal/model"
)

// Error classes recorded on DLQ entries.
const (
	ErrorTypeTransient = "transient"
	ErrorTypePermanent = "permanent"
)

// DLQEntry is a document whose extraction failed and can be retried later.
type DLQEntry struct {
	ID           string         `json:"id"`
	Document     model.Document `json:"document"`
	Error        string         `json:"error"`
	ErrorType    string         `json:"error_type"`
	FailedState  model.State    `json:"failed_state,omitempty"`
	RetryCount   int            `json:"retry_count"`
	MaxRetries   int            `json:"max_retries"`
	NextRetryAt  time.Time      `json:"next_retry_at"`
	CreatedAt    time.Time      `json:"created_at"`
	LastFailedAt time.Time      `json:"last_failed_at"`
}

// DLQFilter specifies criteria for querying the dead letter queue.
type DLQFilter struct {
	ErrorType string `json:"error_type,omitempty"`
	Limit     int    `json:"limit,omitempty"`
}

// CanRetry reports whether the entry is still under its retry limit.
// Permanent failures are never retried.
func (e *DLQEntry) CanRetry() bool {
	return e.ErrorType != ErrorTypePermanent && e.RetryCount < e.MaxRetries
}

// NewDLQEntry builds an entry for a failed document. The first retry is
// scheduled base after now.
func NewDLQEntry(id string, doc model.Document, err error, state model.State, maxRetries int, base time.Duration, now time.Time) DLQEntry {
	return DLQEntry{
		ID:           id,
		Document:     doc,
		Error:        err.Error(),
		ErrorType:    ClassifyError(err),
		FailedState:  state,
		MaxRetries:   maxRetries,
		NextRetryAt:  now.Add(base),
		CreatedAt:    now,
		LastFailedAt: now,
	}
}

// NextRetryDelay returns the exponential delay before retry number
// retryCount+1, capped at one day.
func NextRetryDelay(base time.Duration, retryCount int) time.Duration {
	d := float64(base) * math.Pow(2, float64(retryCount))
	return time.Duration(math.Min(d, float64(24*time.Hour)))
}

// ClassifyError categorizes an error as transient or permanent.
func ClassifyError(err error) string {
	if IsTransient(err) {
		return ErrorTypeTransient
	}
	return ErrorTypePermanent
}
