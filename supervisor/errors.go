package supervisor

import (
	"errors"
	"fmt"
	"net/url"
	"time"
)

var (
	// ErrSupervisorClosed is returned for requests against a closed supervisor.
	ErrSupervisorClosed = errors.New("supervisor: supervisor is closed")

	// ErrWorkerExists is returned when a worker name is already registered.
	ErrWorkerExists = errors.New("supervisor: worker name already in use")

	// ErrRequestTimeout is returned when the supervisor does not answer a
	// request within its deadline.
	ErrRequestTimeout = errors.New("supervisor: request timed out")

	// ErrNilFactory is returned when CreateWorker is given a nil factory.
	ErrNilFactory = errors.New("supervisor: nil worker factory")
)

// SupervisorError carries context about a failed supervisor operation.
type SupervisorError struct {
	Op        string    // Operation that failed
	URL       string    // Broker URL (sanitized)
	Err       error     // Underlying error
	Timestamp time.Time // When the error occurred
}

func (e *SupervisorError) Error() string {
	return fmt.Sprintf("supervisor error: %s failed: %v", e.Op, e.Err)
}

func (e *SupervisorError) Unwrap() error {
	return e.Err
}

// sanitizeURL masks the password component for logging.
func sanitizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "amqp://***"
	}
	if u.User != nil {
		if _, has := u.User.Password(); has {
			u.User = url.UserPassword(u.User.Username(), "xxxxx")
		}
	}
	return u.String()
}
