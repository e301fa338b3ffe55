// Package drive implements the per-drive worker: request/response
// correlation over a shared transport.Endpoint, the rolling motion-command
// and realtime-config counters, warning-set and error-acknowledgement
// bookkeeping, and a FIFO task queue drained by a single goroutine so no
// locking is needed around a drive's mutable state.
package drive

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/oskarau/manipulatorctl/internal/metrics"
	"github.com/oskarau/manipulatorctl/pkg/codec"
	"github.com/oskarau/manipulatorctl/pkg/transport"
)

const (
	defaultTaskQueueDepth = 16
	defaultResponseTimeout = 2 * time.Second
	defaultMaxSendAttempts = 5
)

// Worker owns everything needed to talk to one drive. Only the goroutine
// started by Start ever touches mcCount, rtCount, awaitingErrorAck, or
// warnings; every other method only ever enqueues a task and returns a
// Future, mirroring the teacher's single-goroutine-owns-state design for
// per-node CANopen processing.
type Worker struct {
	Name string

	peer    *net.UDPAddr
	ep      *transport.Endpoint
	logger  *log.Entry
	metrics *metrics.Registry

	responseTimeout time.Duration
	maxSendAttempts int

	tasks chan func()

	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Touched only from inside the worker goroutine.
	mcCount          uint8
	rtCount          uint8
	bootstrapped     bool
	awaitingErrorAck bool
	warnings         map[uint8]codec.Warning
	monitoring       codec.MonitoringSlots
	streamMC         *codec.MotionCommand
}

// Config bundles the construction parameters for a Worker that a caller
// is unlikely to want defaults for.
type Config struct {
	Name            string
	Peer            *net.UDPAddr
	Monitoring      codec.MonitoringSlots
	ResponseTimeout time.Duration
	MaxSendAttempts int
	QueueDepth      int
	Metrics         *metrics.Registry
}

// NewWorker constructs a Worker bound to one drive. Call Start to begin
// processing; the worker does nothing until then.
func NewWorker(cfg Config, ep *transport.Endpoint, logger *log.Entry) *Worker {
	if cfg.ResponseTimeout == 0 {
		cfg.ResponseTimeout = defaultResponseTimeout
	}
	if cfg.MaxSendAttempts == 0 {
		cfg.MaxSendAttempts = defaultMaxSendAttempts
	}
	if cfg.QueueDepth == 0 {
		cfg.QueueDepth = defaultTaskQueueDepth
	}
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	ep.RegisterPeer(cfg.Peer)
	return &Worker{
		Name:            cfg.Name,
		peer:            cfg.Peer,
		ep:              ep,
		logger:          logger.WithField("drive", cfg.Name),
		metrics:         cfg.Metrics,
		responseTimeout: cfg.ResponseTimeout,
		maxSendAttempts: cfg.MaxSendAttempts,
		tasks:           make(chan func(), cfg.QueueDepth),
		warnings:        make(map[uint8]codec.Warning),
		monitoring:      cfg.Monitoring,
	}
}

// Start runs the worker's task loop in a background goroutine until ctx
// is done or Stop is called.
func (w *Worker) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.run(ctx)
	}()
}

// Stop signals the task loop to drain and exit. Call Wait to block until
// it has.
func (w *Worker) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
}

// Wait blocks until the worker's task loop has fully exited.
func (w *Worker) Wait() {
	w.wg.Wait()
}

func (w *Worker) run(ctx context.Context) {
	w.logger.Info("drive worker starting")
	for {
		select {
		case <-ctx.Done():
			w.drain()
			w.logger.Info("drive worker stopped")
			return
		case t := <-w.tasks:
			t()
		}
	}
}

// drain executes any tasks already queued without blocking, so a caller
// who submitted work right before shutdown still gets a result.
func (w *Worker) drain() {
	for {
		select {
		case t := <-w.tasks:
			t()
		default:
			return
		}
	}
}

// submit enqueues fn and returns a Future resolved with its result. It
// never blocks the caller on the network; it only blocks briefly if the
// task queue itself is full.
func submit[T any](w *Worker, fn func() (T, error)) *Future[T] {
	future, resolve := newFuture[T]()
	w.tasks <- func() {
		v, err := fn()
		resolve(v, err)
	}
	return future
}

// sendUnguarded performs one full send/retry/decode cycle and always
// runs the warning and error handlers, regardless of awaitingErrorAck.
func (w *Worker) sendUnguarded(req codec.Request) (codec.TranslatedResponse, error) {
	if !w.bootstrapped {
		if err := w.bootstrap(); err != nil {
			w.logger.WithError(err).Warn("counter bootstrap failed, starting from zero")
			w.bootstrapped = true
		}
	}

	var mc, rt uint8
	if req.MotionCommand != nil {
		w.mcCount = (w.mcCount + 1) & 0x0F
		mc = w.mcCount
	}
	if req.RealtimeConfig != nil {
		w.rtCount = (w.rtCount + 1) & 0x0F
		rt = w.rtCount
	}

	buf := codec.EncodeRequest(req, mc, rt)

	level := log.DebugLevel
	if req.LogLevel == codec.LogInfo {
		level = log.InfoLevel
	}
	w.logger.Logf(level, "sending request (%d bytes)", len(buf))

	var lastErr error
	for attempt := 1; attempt <= w.maxSendAttempts; attempt++ {
		if attempt > 1 && w.metrics != nil {
			w.metrics.IncRetries(w.Name)
		}
		start := time.Now()
		if err := w.ep.Send(w.peer, buf); err != nil {
			lastErr = err
			continue
		}
		raw, err := w.ep.Receive(w.peer.IP, w.responseTimeout)
		if err != nil {
			lastErr = err
			continue
		}
		w.logger.Logf(level, "received response (%d bytes)", len(raw))
		resp, err := codec.DecodeResponse(raw, req.Response, req.RealtimeConfig, w.monitoring)
		var invalidStatus *codec.InvalidStatusError
		if errors.As(err, &invalidStatus) {
			w.logger.WithError(err).Warn("unrecognized realtime-config status, using response anyway")
		} else if err != nil {
			lastErr = err
			continue
		}
		if w.metrics != nil {
			w.metrics.ObserveRoundTrip(w.Name, time.Since(start).Seconds())
		}
		w.handleWarnings(resp)
		w.handleMainState(resp)
		driveErr := w.handleErrorCode(resp)
		return resp, driveErr
	}
	w.logger.WithError(lastErr).Error("exhausted send attempts")
	if w.metrics != nil {
		w.metrics.IncTimeouts(w.Name)
	}
	return codec.TranslatedResponse{}, &TimeoutError{Drive: w.Name, Attempts: w.maxSendAttempts}
}

// sendGuarded is sendUnguarded, but resolves to the neutral zero value
// without transmitting while awaitingErrorAck is set.
func (w *Worker) sendGuarded(req codec.Request) (codec.TranslatedResponse, error) {
	if w.awaitingErrorAck {
		return codec.TranslatedResponse{}, nil
	}
	return w.sendUnguarded(req)
}

// bootstrap re-synchronizes the local MC_count with the drive's last
// echoed count, so a host restart while the drive keeps running doesn't
// desync the rolling counter.
func (w *Worker) bootstrap() error {
	req := codec.Request{Response: codec.FieldStateVar}
	buf := codec.EncodeRequest(req, 0, 0)
	if err := w.ep.Send(w.peer, buf); err != nil {
		return err
	}
	raw, err := w.ep.Receive(w.peer.IP, w.responseTimeout)
	if err != nil {
		return err
	}
	resp, err := codec.DecodeResponse(raw, req.Response, nil, w.monitoring)
	if err != nil {
		return err
	}
	w.mcCount = resp.StateVar.MCCountEcho
	w.bootstrapped = true
	return nil
}

func (w *Worker) handleMainState(resp codec.TranslatedResponse) {
	if !resp.HasStateVar() || w.metrics == nil {
		return
	}
	w.metrics.SetMainState(w.Name, resp.StateVar.MainState)
}

func (w *Worker) handleWarnings(resp codec.TranslatedResponse) {
	if !resp.HasWarnWord() {
		return
	}
	if w.metrics != nil {
		w.metrics.SetWarning(w.Name, len(resp.Warnings) > 0)
	}
	current := make(map[uint8]codec.Warning, len(resp.Warnings))
	for _, wn := range resp.Warnings {
		current[wn.Bit] = wn
	}
	for bit, wn := range current {
		if _, existed := w.warnings[bit]; !existed {
			w.logger.WithField("warning", wn.Name).Warn(wn.Meaning)
		}
	}
	for bit, wn := range w.warnings {
		if _, stillActive := current[bit]; !stillActive {
			w.logger.WithField("warning", wn.Name).Info("warning cleared")
		}
	}
	w.warnings = current
}

func (w *Worker) handleErrorCode(resp codec.TranslatedResponse) error {
	if !resp.HasErrorCode() || resp.ErrorCode == 0 {
		return nil
	}
	w.awaitingErrorAck = true
	driveErr := &DriveError{Code: DriveErrorCode(resp.ErrorCode), Drive: w.Name}
	w.logger.WithError(driveErr).Error("drive reported error")
	return driveErr
}
