// Package health provides a health checker for a supervised broker connection.
package health

import (
	"context"
	"log/slog"
	"time"

	"github.com/harbormq/harbor-go/supervisor"
)

// Status represents the health state of a component.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// CheckResult is the outcome of a single health check.
type CheckResult struct {
	Name      string        `json:"name"`
	Status    Status        `json:"status"`
	Message   string        `json:"message,omitempty"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration"`
	Timestamp time.Time     `json:"timestamp"`
}

// SupervisorChecker probes a supervisor: disconnected is degraded (the
// supervisor is reconnecting on its own), a failure to mint a channel while
// connected is unhealthy.
type SupervisorChecker struct {
	sup     *supervisor.Supervisor
	timeout time.Duration
	logger  *slog.Logger
}

// NewSupervisorChecker creates a checker around the given supervisor.
func NewSupervisorChecker(sup *supervisor.Supervisor, logger *slog.Logger) *SupervisorChecker {
	if logger == nil {
		logger = slog.Default()
	}
	return &SupervisorChecker{
		sup:     sup,
		timeout: 2 * time.Second,
		logger:  logger,
	}
}

func (c *SupervisorChecker) Name() string {
	return "broker-connection"
}

// Check runs one probe.
func (c *SupervisorChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		Name:      c.Name(),
		Timestamp: start,
	}

	if !c.sup.Connected() {
		result.Status = StatusDegraded
		result.Message = "disconnected from broker, reconnect pending"
		result.Duration = time.Since(start)
		return result
	}

	probeCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	ch, err := c.sup.RequestChannel(probeCtx)
	if err != nil {
		result.Status = StatusUnhealthy
		result.Message = "channel probe failed"
		result.Error = err.Error()
		result.Duration = time.Since(start)
		return result
	}
	if ch == nil {
		// Lost the connection between the Connected check and the probe.
		result.Status = StatusDegraded
		result.Message = "disconnected from broker, reconnect pending"
		result.Duration = time.Since(start)
		return result
	}
	if err := ch.Close(); err != nil {
		c.logger.Warn("closing probe channel", "error", err)
	}

	result.Status = StatusHealthy
	result.Message = "connected"
	result.Duration = time.Since(start)
	return result
}
