package drive

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oskarau/manipulatorctl/pkg/codec"
)

const switchOnPollInterval = 200 * time.Millisecond
const homePollInterval = time.Second

// guarded wraps fn so it resolves to the zero value without running when
// the worker is awaiting an error acknowledgement, checked at the top of
// the task closure as it executes on the worker goroutine.
func guarded[T any](w *Worker, fn func() (T, error)) *Future[T] {
	return submit(w, func() (T, error) {
		var zero T
		if w.awaitingErrorAck {
			return zero, nil
		}
		return fn()
	})
}

// Send is the generic escape hatch: submit an arbitrary Request and get
// back its TranslatedResponse. Never guarded, since AcknowledgeError and
// the read-only GetX ops need to keep working while awaitingErrorAck is
// set.
func (w *Worker) Send(req codec.Request) *Future[codec.TranslatedResponse] {
	return submit(w, func() (codec.TranslatedResponse, error) {
		return w.sendUnguarded(req)
	})
}

// GetStatusWord reads the drive's status_word field.
func (w *Worker) GetStatusWord() *Future[uint16] {
	return submit(w, func() (uint16, error) {
		resp, err := w.sendUnguarded(codec.Request{Response: codec.FieldStatusWord})
		return resp.StatusWord, err
	})
}

// GetMainState reads the drive's current main_state.
func (w *Worker) GetMainState() *Future[uint8] {
	return submit(w, func() (uint8, error) {
		resp, err := w.sendUnguarded(codec.Request{Response: codec.FieldStateVar})
		return resp.StateVar.MainState, err
	})
}

// paramDriverTime describes the drive's free-running internal timer.
// Unlike the fixed response fields, the timer is read through the
// general UPID mechanism; which UPID addresses it is a per-installation
// detail normally supplied by internal/config, defaulted here to the
// common mapping used across this fleet's drives.
var paramDriverTime = codec.CommandParameter{Description: "DriverTime", Unit: "s", ConversionFactor: 1e6, Type: codec.Uint32}

const defaultDriverTimeUPID = 0x1000

// GetDriverTime reads the drive's free-running internal timer, in seconds.
func (w *Worker) GetDriverTime() *Future[float64] {
	return submit(w, func() (float64, error) {
		rt := codec.NewReadRAMByUPID(defaultDriverTimeUPID, paramDriverTime.Type, paramDriverTime.Unit, paramDriverTime.ConversionFactor)
		resp, err := w.sendUnguarded(codec.Request{RealtimeConfig: &rt})
		if err != nil {
			return 0, err
		}
		if resp.RealtimeConfig == nil || len(resp.RealtimeConfig.Values) == 0 {
			return 0, nil
		}
		return resp.RealtimeConfig.Values[0], nil
	})
}

// AcknowledgeError clears a latched drive error, if one is present. It is
// never guarded: it is the only operation that can clear the guard.
func (w *Worker) AcknowledgeError() *Future[bool] {
	return submit(w, func() (bool, error) {
		code, err := w.readErrorCode()
		if err != nil {
			return false, err
		}
		if code == 0 {
			w.logger.Info("No errors to acknowledge")
			return true, nil
		}
		for code != 0 {
			ack := codec.ErrorAcknowledge
			if _, err := w.sendUnguarded(codec.Request{ControlWord: &ack}); err != nil {
				return false, err
			}

			var zero codec.ControlWord
			newCode, err := w.readErrorCodeWithControlWord(&zero)
			if err != nil {
				return false, err
			}
			if newCode == code {
				err := &DriveError{Code: DriveErrorCode(newCode), Drive: w.Name}
				w.logger.WithError(err).Error("error code unchanged after acknowledgement")
				return false, err
			}
			code = newCode
		}
		w.awaitingErrorAck = false
		return true, nil
	})
}

// readErrorCode reads error_code, tolerating a DriveError by extracting
// its code instead of propagating it as a failure: a nonzero error_code
// is exactly what this read is checking for.
func (w *Worker) readErrorCode() (uint16, error) {
	return w.readErrorCodeWithControlWord(nil)
}

func (w *Worker) readErrorCodeWithControlWord(cw *codec.ControlWord) (uint16, error) {
	resp, err := w.sendUnguarded(codec.Request{ControlWord: cw, Response: codec.FieldErrorCode})
	var driveErr *DriveError
	if errors.As(err, &driveErr) {
		return uint16(driveErr.Code), nil
	}
	if err != nil {
		return 0, err
	}
	return resp.ErrorCode, nil
}

// responseFlagsForMotion are the fields every motion-affecting op reports
// back, matching the worked examples: enough to confirm the move took,
// to observe where the drive currently is, and to read back a measured
// velocity through the monitoring channel for closed-loop feedback.
const responseFlagsForMotion = codec.FieldStatusWord | codec.FieldStateVar | codec.FieldActualPos | codec.FieldMonitoringChannel

// GoToPos commands a point-to-point move to position with the given max
// velocity, acceleration, and deceleration.
func (w *Worker) GoToPos(position, maxVel, accel, decel float64) *Future[codec.TranslatedResponse] {
	return guarded(w, func() (codec.TranslatedResponse, error) {
		mc := codec.NewVAIGoToPos(position, maxVel, accel, decel)
		return w.sendUnguarded(codec.Request{MotionCommand: &mc, Response: responseFlagsForMotion})
	})
}

// MoveWithConstantVelocity commands an infinite-duration move at vel
// (its sign selects direction) with the given acceleration magnitude.
func (w *Worker) MoveWithConstantVelocity(vel, accel float64) *Future[codec.TranslatedResponse] {
	return guarded(w, func() (codec.TranslatedResponse, error) {
		var mc codec.MotionCommand
		if vel < 0 {
			mc = codec.NewAccVAIInfiniteNegative(-vel, accel)
		} else {
			mc = codec.NewAccVAIInfinitePositive(vel, accel)
		}
		return w.sendUnguarded(codec.Request{MotionCommand: &mc, Response: responseFlagsForMotion})
	})
}

// StreamType selects which reusable motion command InitializeStream
// caches for subsequent Stream calls.
type StreamType uint8

const (
	StreamP StreamType = iota
	StreamPV
	StreamPVA
)

// InitializeStream caches a reusable motion command for the given
// stream type; Stream mutates its values in place on every call instead
// of reallocating, matching the protocol's cyclic setpoint contract.
func (w *Worker) InitializeStream(t StreamType) *Future[struct{}] {
	return guarded(w, func() (struct{}, error) {
		switch t {
		case StreamP:
			mc := codec.NewPStream(0)
			w.streamMC = &mc
		case StreamPV:
			mc := codec.NewPVStream(0, 0)
			w.streamMC = &mc
		case StreamPVA:
			mc := codec.NewPVAStream(0, 0, 0)
			w.streamMC = &mc
		}
		return struct{}{}, nil
	})
}

// Stream sends one cyclic setpoint using the cached stream command,
// overwriting its values in place. values must match the arity of the
// stream type passed to InitializeStream (1 for P, 2 for PV, 3 for PVA).
func (w *Worker) Stream(values ...float64) *Future[codec.TranslatedResponse] {
	return guarded(w, func() (codec.TranslatedResponse, error) {
		if w.streamMC == nil {
			return codec.TranslatedResponse{}, &errStreamNotInitialized{Drive: w.Name}
		}
		w.streamMC.SetValues(values...)
		req := codec.Request{MotionCommand: w.streamMC, Response: codec.FieldStatusWord | codec.FieldActualPos, LogLevel: codec.LogDebug}
		return w.sendUnguarded(req)
	})
}

// StopStream ends cyclic streaming and clears the cached stream command.
func (w *Worker) StopStream() *Future[codec.TranslatedResponse] {
	return guarded(w, func() (codec.TranslatedResponse, error) {
		mc := codec.NewStopStreaming()
		w.streamMC = nil
		return w.sendUnguarded(codec.Request{MotionCommand: &mc, Response: codec.FieldStatusWord})
	})
}

// Home homes the drive: if already homed and overwrite is false, returns
// success immediately; otherwise requires main_state 8, commands
// switch_on+home, polls homing_finished at 1 Hz, then finalizes with a
// plain switch_on control word.
func (w *Worker) Home(ctx context.Context, timeout time.Duration, overwrite bool) *Future[bool] {
	return guarded(w, func() (bool, error) {
		resp, err := w.sendUnguarded(codec.Request{Response: codec.FieldStateVar})
		if err != nil {
			return false, err
		}
		if resp.StateVar.Homed && !overwrite {
			return true, nil
		}
		if resp.StateVar.MainState != mainStateOperationEnabled {
			return false, fmt.Errorf("drive %s: cannot home from main_state %d (%s)",
				w.Name, resp.StateVar.MainState, mainStateName(resp.StateVar.MainState))
		}

		cw := codec.SwitchOn | codec.Home
		if _, err := w.sendUnguarded(codec.Request{ControlWord: &cw, Response: codec.FieldStateVar}); err != nil {
			return false, err
		}

		deadline := time.Now().Add(timeout)
		ticker := time.NewTicker(homePollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return false, ctx.Err()
			case <-ticker.C:
				resp, err := w.sendUnguarded(codec.Request{Response: codec.FieldStateVar})
				if err != nil {
					return false, err
				}
				if resp.StateVar.HomingFinished {
					finalize := codec.SwitchOn
					if _, err := w.sendUnguarded(codec.Request{ControlWord: &finalize, Response: codec.FieldStateVar}); err != nil {
						return false, err
					}
					return true, nil
				}
				if time.Now().After(deadline) {
					return false, fmt.Errorf("drive %s: home timed out after %s", w.Name, timeout)
				}
			}
		}
	})
}

// SwitchOn drives the drive's main state to Operation-enabled (8), from
// any of {Not-ready-to-switch-on (0), Ready-to-switch-on (2), 8}, polling
// each transition at 5 Hz.
func (w *Worker) SwitchOn(ctx context.Context, timeout time.Duration) *Future[bool] {
	return guarded(w, func() (bool, error) {
		resp, err := w.sendUnguarded(codec.Request{Response: codec.FieldStateVar})
		if err != nil {
			return false, err
		}
		state := resp.StateVar.MainState
		if state == mainStateOperationEnabled {
			return true, nil
		}
		if state != mainStateReadyToSwitchOn {
			var zero codec.ControlWord
			if err := w.pollToMainState(ctx, &zero, mainStateReadyToSwitchOn, timeout); err != nil {
				return false, err
			}
		}
		on := codec.SwitchOn
		if err := w.pollToMainState(ctx, &on, mainStateOperationEnabled, timeout); err != nil {
			return false, err
		}
		return true, nil
	})
}

func (w *Worker) pollToMainState(ctx context.Context, cw *codec.ControlWord, target uint8, timeout time.Duration) error {
	if _, err := w.sendUnguarded(codec.Request{ControlWord: cw, Response: codec.FieldStateVar}); err != nil {
		return err
	}
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(switchOnPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			resp, err := w.sendUnguarded(codec.Request{Response: codec.FieldStateVar})
			if err != nil {
				return err
			}
			if resp.StateVar.MainState == target {
				return nil
			}
			if time.Now().After(deadline) {
				return fmt.Errorf("drive %s: switch_on timed out reaching main_state %d (%s)",
					w.Name, target, mainStateName(target))
			}
		}
	}
}
