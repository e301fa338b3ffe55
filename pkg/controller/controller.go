// Package controller aggregates a set of drive workers into whole-
// manipulator operations: home all axes, switch all on, acknowledge
// errors fleet-wide, command a coordinated move, and run the closed-loop
// feedback loop against a path follower. Every aggregate operation submits
// one task per drive and joins their completion handles; no cross-drive
// ordering is guaranteed or required.
package controller

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/oskarau/manipulatorctl/pkg/codec"
	"github.com/oskarau/manipulatorctl/pkg/drive"
	"github.com/oskarau/manipulatorctl/pkg/follower"
	"github.com/oskarau/manipulatorctl/pkg/telemetry"
)

// Axis names one drive's position in the ordered drive list. Aggregate
// vector operations (GoToPos, MoveAllWithConstantVelocity) index their
// per-axis arguments in this same order.
type Axis struct {
	Name  string
	Drive *drive.Worker
}

// Controller owns the manipulator's fleet of drive workers and exposes
// whole-manipulator operations over them.
type Controller struct {
	axes   []Axis
	logger *log.Entry
}

// New builds a Controller over the given axes, in the order their vector
// arguments will be indexed.
func New(axes []Axis, logger *log.Entry) *Controller {
	if logger == nil {
		logger = log.NewEntry(log.New())
	}
	return &Controller{axes: axes, logger: logger}
}

// Len returns the number of axes under management.
func (c *Controller) Len() int { return len(c.axes) }

// fanOut runs fn once per axis concurrently and collects one result per
// axis. Deliberately does not use errgroup's default cancel-group-on-
// first-error behavior: a failing drive must not abort the others, since
// the controller's job is to report per-drive outcomes, not fail fast.
func fanOut[T any](axes []Axis, fn func(a Axis) (T, error)) ([]T, []error) {
	results := make([]T, len(axes))
	errs := make([]error, len(axes))
	var g errgroup.Group
	for i, a := range axes {
		i, a := i, a
		g.Go(func() error {
			results[i], errs[i] = fn(a)
			return nil
		})
	}
	_ = g.Wait()
	return results, errs
}

// firstError returns the first non-nil error in errs, or nil.
func firstError(errs []error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// Home homes every axis concurrently, waiting for all to finish.
func (c *Controller) Home(ctx context.Context, timeout time.Duration, overwrite bool) error {
	_, errs := fanOut(c.axes, func(a Axis) (bool, error) {
		return a.Drive.Home(ctx, timeout, overwrite).Wait(ctx)
	})
	return firstError(errs)
}

// SwitchOn switches every axis to Operation-enabled concurrently.
func (c *Controller) SwitchOn(ctx context.Context, timeout time.Duration) error {
	_, errs := fanOut(c.axes, func(a Axis) (bool, error) {
		return a.Drive.SwitchOn(ctx, timeout).Wait(ctx)
	})
	return firstError(errs)
}

// AcknowledgeError acknowledges any latched error on every axis.
func (c *Controller) AcknowledgeError(ctx context.Context) error {
	_, errs := fanOut(c.axes, func(a Axis) (bool, error) {
		return a.Drive.AcknowledgeError().Wait(ctx)
	})
	return firstError(errs)
}

// HomeSequence is a convenience wrapper performing the common startup
// order: switch on, then home, then acknowledge any error left latched by
// either step.
func (c *Controller) HomeSequence(ctx context.Context, timeout time.Duration, overwrite bool) error {
	if err := c.SwitchOn(ctx, timeout); err != nil {
		return fmt.Errorf("switch-on: %w", err)
	}
	if err := c.Home(ctx, timeout, overwrite); err != nil {
		return fmt.Errorf("home: %w", err)
	}
	return c.AcknowledgeError(ctx)
}

// GoToPos commands every axis to a point-to-point move. pos, maxVel, accel
// and decel must each have length Len(), indexed in axis order.
func (c *Controller) GoToPos(ctx context.Context, pos, maxVel, accel, decel []float64) ([]codec.TranslatedResponse, error) {
	results, errs := fanOut(c.axes, func(a Axis) (codec.TranslatedResponse, error) {
		i := axisIndex(c.axes, a)
		return a.Drive.GoToPos(pos[i], maxVel[i], accel[i], decel[i]).Wait(ctx)
	})
	return results, firstError(errs)
}

// MoveAllWithConstantVelocity commands every axis to an infinite-duration
// move, per the sign table: v>0 → infinite-positive(v, |a|); v<0 →
// infinite-negative(|v|, |a|); v==0 → a full stop regardless of a's sign.
func (c *Controller) MoveAllWithConstantVelocity(ctx context.Context, vel, accel []float64) ([]codec.TranslatedResponse, error) {
	results, errs := fanOut(c.axes, func(a Axis) (codec.TranslatedResponse, error) {
		i := axisIndex(c.axes, a)
		v, acc := vel[i], absFloat(accel[i])
		var resp codec.TranslatedResponse
		var err error
		if v == 0 {
			mc := codec.NewVAIStop(acc)
			resp, err = a.Drive.Send(codec.Request{MotionCommand: &mc, Response: responseFlagsForVelocityMove}).Wait(ctx)
		} else {
			resp, err = a.Drive.MoveWithConstantVelocity(v, acc).Wait(ctx)
		}
		if err != nil {
			return resp, err
		}
		if _, err := measuredVelocity(resp); err != nil {
			return resp, err
		}
		return resp, nil
	})
	return results, firstError(errs)
}

// velocityMonitorKey is the monitoring-channel parameter name the
// controller expects measured velocity under; internal/config is
// responsible for wiring a drive's monitor slot Description to match.
var velocityMonitorKey = codec.ParamVelocity.Description

// responseFlagsForVelocityMove mirrors drive's responseFlagsForMotion for
// the full-stop branch of MoveAllWithConstantVelocity, which calls
// Send directly instead of going through MoveWithConstantVelocity.
const responseFlagsForVelocityMove = codec.FieldStatusWord | codec.FieldStateVar | codec.FieldActualPos | codec.FieldMonitoringChannel

// measuredVelocity reads the measured velocity out of a motion response's
// monitoring channel, failing if the expected parameter isn't configured.
func measuredVelocity(r codec.TranslatedResponse) (float64, error) {
	v, ok := r.MonitoringChannel[velocityMonitorKey]
	if !ok {
		return 0, &codec.MonitoringChannelMissingParameterError{Parameter: velocityMonitorKey}
	}
	return v, nil
}

func axisIndex(axes []Axis, target Axis) int {
	for i, a := range axes {
		if a.Drive == target.Drive {
			return i
		}
	}
	return 0
}

// StartStream initializes cyclic streaming of the given type on every
// axis, returning once all drives are ready to receive Stream values.
func (c *Controller) StartStream(ctx context.Context, t drive.StreamType) error {
	_, errs := fanOut(c.axes, func(a Axis) (struct{}, error) {
		return a.Drive.InitializeStream(t).Wait(ctx)
	})
	return firstError(errs)
}

// StopStream ends cyclic streaming on every axis.
func (c *Controller) StopStream(ctx context.Context) error {
	_, errs := fanOut(c.axes, func(a Axis) (codec.TranslatedResponse, error) {
		return a.Drive.StopStream().Wait(ctx)
	})
	return firstError(errs)
}

// axisLimitTarget picks the axis-limit position corresponding to the sign
// of the last commanded velocity: the max bound for a non-negative
// velocity, the min bound for a negative one, matching feedback_loop's
// "issue go_to_pos toward an axis limit to read back position and
// velocity in one request" data-flow step.
func axisLimitTarget(lastVel, minPos, maxPos float64) float64 {
	if lastVel < 0 {
		return minPos
	}
	return maxPos
}

// FeedbackLoop drives the manipulator along stepper's path: each cycle it
// reads measured position and velocity from every axis (by commanding a
// go_to_pos toward that axis's limit with the previous cycle's velocity
// and acceleration, which the drive reports actual_pos for and the
// monitoring channel reports a real measured velocity for, not merely
// the previous command echoed back), feeds the assembled vectors to
// stepper, and issues the next cycle's go_to_pos with the returned
// velocity/acceleration. Stops after maxCycles or when stepper reports
// done. On any per-axis error, makes a best-effort stop of every axis
// before returning the error.
func (c *Controller) FeedbackLoop(ctx context.Context, stepper *follower.Stepper, minPos, maxPos []float64, period time.Duration, maxCycles int, sink *telemetry.Sink) error {
	n := c.Len()
	vel := make([]float64, n)
	accel := make([]float64, n)
	for i := range accel {
		accel[i] = 0.1
	}

	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for cycle := 0; maxCycles <= 0 || cycle < maxCycles; cycle++ {
		select {
		case <-ctx.Done():
			c.bestEffortStop(context.Background())
			return ctx.Err()
		case <-ticker.C:
		}

		pos := make([]float64, n)
		measuredVel := make([]float64, n)

		results, errs := fanOut(c.axes, func(a Axis) (codec.TranslatedResponse, error) {
			i := axisIndex(c.axes, a)
			target := axisLimitTarget(vel[i], minPos[i], maxPos[i])
			return a.Drive.GoToPos(target, absFloat(vel[i]), accel[i], accel[i]).Wait(ctx)
		})
		if err := firstError(errs); err != nil {
			c.bestEffortStop(context.Background())
			return fmt.Errorf("feedback loop cycle %d: %w", cycle, err)
		}
		for i, r := range results {
			pos[i] = r.ActualPos
			v, err := measuredVelocity(r)
			if err != nil {
				c.bestEffortStop(context.Background())
				return fmt.Errorf("feedback loop cycle %d: %w", cycle, err)
			}
			measuredVel[i] = v
		}

		posVec := follower.Vec(pos)
		velVec := follower.Vec(measuredVel)
		newVel, newAccel, done := stepper.Step(posVec, velVec)

		if sink != nil {
			samples := map[string]any{
				"position":    []float64(posVec),
				"velocity":    []float64(velVec),
				"commanded_v": []float64(newVel),
				"commanded_a": []float64(newAccel),
			}
			sink.Record(cycle, samples)
		}

		if done {
			c.bestEffortStop(context.Background())
			return nil
		}

		for i := range vel {
			vel[i] = newVel[i]
			accel[i] = absFloat(newAccel[i])
		}
	}
	c.bestEffortStop(context.Background())
	return nil
}

func (c *Controller) bestEffortStop(ctx context.Context) {
	_, errs := fanOut(c.axes, func(a Axis) (codec.TranslatedResponse, error) {
		mc := codec.NewVAIStop(0.5)
		return a.Drive.Send(codec.Request{MotionCommand: &mc, Response: codec.FieldStatusWord}).Wait(ctx)
	})
	if err := firstError(errs); err != nil {
		c.logger.WithError(err).Warn("best-effort stop encountered an error")
	}
}

func absFloat(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
