// Package health implements runtime health checks for a running device
// process, adapted from the teacher's per-component Check/Checker/Report
// shape. See SPEC_FULL.md §12 (runtime health summary).
package health

import (
	"context"
	"fmt"
	"time"

	"github.com/rts2go/rts2drv/pkg/conn"
	"github.com/rts2go/rts2drv/pkg/device"
)

// Status is the severity of a single check's result.
type Status string

const (
	StatusOK       Status = "ok"
	StatusWarning  Status = "warning"
	StatusCritical Status = "critical"
	StatusUnknown  Status = "unknown"
)

// Result is the outcome of one Check.
type Result struct {
	Check     string        `json:"check"`
	Status    Status        `json:"status"`
	Message   string        `json:"message"`
	Details   interface{}   `json:"details,omitempty"`
	Duration  time.Duration `json:"duration"`
	Timestamp time.Time     `json:"timestamp"`
}

// Report aggregates every check run against one device process.
type Report struct {
	Device    string    `json:"device"`
	Timestamp time.Time `json:"timestamp"`
	Overall   Status    `json:"overall"`
	Results   []Result  `json:"results"`
	Duration  time.Duration `json:"duration"`
}

// Runtime is the seam a Check inspects — the subset of NetworkManager
// and Device state relevant to self-diagnosis, kept narrow so checks
// are unit-testable against a fake.
type Runtime interface {
	DeviceName() string
	Manager() *conn.Manager
	Device() *device.Device
	PendingInterests() []string
}

// Check is one named health probe.
type Check interface {
	Name() string
	Run(ctx context.Context, rt Runtime) Result
}

// Checker runs an ordered set of Checks and folds them into a Report.
type Checker struct {
	checks []Check
}

// NewChecker returns a Checker with the default RTS2 runtime checks.
func NewChecker() *Checker {
	return &Checker{checks: []Check{
		&CentraldCheck{},
		&InterestCheck{},
		&DeviceStateCheck{},
	}}
}

// Run executes every check and returns the aggregate report.
func (c *Checker) Run(ctx context.Context, rt Runtime) *Report {
	start := time.Now()
	report := &Report{
		Device:    rt.DeviceName(),
		Timestamp: start,
		Overall:   StatusOK,
		Results:   make([]Result, 0, len(c.checks)),
	}

	for _, check := range c.checks {
		result := check.Run(ctx, rt)
		report.Results = append(report.Results, result)
		switch {
		case result.Status == StatusCritical:
			report.Overall = StatusCritical
		case result.Status == StatusWarning && report.Overall != StatusCritical:
			report.Overall = StatusWarning
		case result.Status == StatusUnknown && report.Overall == StatusOK:
			report.Overall = StatusUnknown
		}
	}
	report.Duration = time.Since(start)
	return report
}

// RunCheck runs a single named check.
func (c *Checker) RunCheck(ctx context.Context, rt Runtime, name string) (*Result, error) {
	for _, check := range c.checks {
		if check.Name() == name {
			result := check.Run(ctx, rt)
			return &result, nil
		}
	}
	return nil, fmt.Errorf("health check %q not found", name)
}

// CentraldCheck reports whether the outbound centrald session is
// authenticated.
type CentraldCheck struct{}

func (c *CentraldCheck) Name() string { return "centrald" }

func (c *CentraldCheck) Run(ctx context.Context, rt Runtime) Result {
	start := time.Now()
	result := Result{Check: c.Name(), Timestamp: start}

	if _, ok := rt.Manager().CentraldConnection(); ok {
		result.Status = StatusOK
		result.Message = "centrald connection authenticated"
	} else {
		result.Status = StatusCritical
		result.Message = "no authenticated centrald connection"
	}
	result.Duration = time.Since(start)
	return result
}

// InterestCheck reports how many of the device's subscribed peers
// currently have a live (AUTH_OK or AUTH_PENDING) connection.
type InterestCheck struct{}

func (c *InterestCheck) Name() string { return "interests" }

func (c *InterestCheck) Run(ctx context.Context, rt Runtime) Result {
	start := time.Now()
	result := Result{Check: c.Name(), Timestamp: start}

	names := rt.PendingInterests()
	if len(names) == 0 {
		result.Status = StatusOK
		result.Message = "no interest subscriptions configured"
		result.Duration = time.Since(start)
		return result
	}

	unresolved := 0
	for _, name := range names {
		resolved := false
		for _, pc := range rt.Manager().ByRemoteName(name) {
			if pc.State() == conn.AuthOK || pc.State() == conn.AuthPending {
				resolved = true
				break
			}
		}
		if !resolved {
			unresolved++
		}
	}

	result.Details = map[string]int{"total": len(names), "unresolved": unresolved}
	if unresolved == 0 {
		result.Status = StatusOK
		result.Message = fmt.Sprintf("all %d interest peers connected", len(names))
	} else if unresolved < len(names) {
		result.Status = StatusWarning
		result.Message = fmt.Sprintf("%d of %d interest peers unresolved", unresolved, len(names))
	} else {
		result.Status = StatusCritical
		result.Message = fmt.Sprintf("%d of %d interest peers unresolved", unresolved, len(names))
	}
	result.Duration = time.Since(start)
	return result
}

// DeviceStateCheck reports whether the device's own state word carries
// any error bits or NOT_READY.
type DeviceStateCheck struct{}

func (c *DeviceStateCheck) Name() string { return "device_state" }

func (c *DeviceStateCheck) Run(ctx context.Context, rt Runtime) Result {
	start := time.Now()
	result := Result{Check: c.Name(), Timestamp: start}

	d := rt.Device()
	if d == nil {
		result.Status = StatusUnknown
		result.Message = "no device bound"
		result.Duration = time.Since(start)
		return result
	}

	state := d.State()
	switch {
	case state&device.ErrorKill != 0:
		result.Status = StatusCritical
		result.Message = "device reports ERROR_KILL"
	case state&device.ErrorHW != 0:
		result.Status = StatusCritical
		result.Message = "device reports ERROR_HW"
	case state&device.NotReady != 0:
		result.Status = StatusWarning
		result.Message = "device is NOT_READY"
	default:
		result.Status = StatusOK
		result.Message = "device state nominal"
	}
	result.Details = map[string]uint32{"state": state}
	result.Duration = time.Since(start)
	return result
}
