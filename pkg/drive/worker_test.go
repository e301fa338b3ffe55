package drive

import (
	"context"
	"encoding/binary"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/oskarau/manipulatorctl/pkg/codec"
	"github.com/oskarau/manipulatorctl/pkg/transport"
)

// fakeDrive is a minimal UDP responder standing in for physical hardware:
// it decodes just enough of an inbound request to correlate it, and
// hands the raw bytes plus decoded header to a test-supplied handler that
// produces the (possibly nil) reply.
type fakeDrive struct {
	conn  *net.UDPConn
	calls int32
}

func newFakeDrive(t *testing.T, handler func(hdr codec.RequestHeader, raw []byte) []byte) *fakeDrive {
	t.Helper()
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	require.NoError(t, err)
	fd := &fakeDrive{conn: conn}
	go func() {
		buf := make([]byte, 2048)
		for {
			n, addr, err := conn.ReadFromUDP(buf)
			if err != nil {
				return
			}
			atomic.AddInt32(&fd.calls, 1)
			hdr, _ := codec.DecodeRequestHeader(buf[:n])
			if resp := handler(hdr, buf[:n]); resp != nil {
				_, _ = conn.WriteToUDP(resp, addr)
			}
		}
	}()
	t.Cleanup(func() { _ = conn.Close() })
	return fd
}

func (f *fakeDrive) addr() *net.UDPAddr {
	return f.conn.LocalAddr().(*net.UDPAddr)
}

func (f *fakeDrive) callCount() int32 {
	return atomic.LoadInt32(&f.calls)
}

func newTestWorker(t *testing.T, peer *net.UDPAddr, cfg Config) (*Worker, context.CancelFunc) {
	t.Helper()
	ep, err := transport.NewEndpoint(0, nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ep.Close() })

	cfg.Peer = peer
	w := NewWorker(cfg, ep, log.NewEntry(log.New()))
	ctx, cancel := context.WithCancel(context.Background())
	w.Start(ctx)
	return w, cancel
}

func statusWordResponse(status uint16) []byte {
	buf := make([]byte, 10)
	binary.LittleEndian.PutUint16(buf[8:], status)
	return buf
}

// statusAndActualPosResponse matches a descriptor of
// FieldStatusWord|FieldActualPos: 8 echoed bytes, 2-byte status_word,
// 4-byte actual_pos (raw int32 at the 1e7 response conversion).
func statusAndActualPosResponse(status uint16, actualPosRaw int32) []byte {
	buf := make([]byte, 14)
	binary.LittleEndian.PutUint16(buf[8:10], status)
	binary.LittleEndian.PutUint32(buf[10:14], uint32(actualPosRaw))
	return buf
}

func TestGetStatusWordRoundTrip(t *testing.T) {
	fd := newFakeDrive(t, func(hdr codec.RequestHeader, raw []byte) []byte {
		return statusWordResponse(0xBEEF)
	})
	w, cancel := newTestWorker(t, fd.addr(), Config{Name: "axis-x", ResponseTimeout: time.Second})
	defer func() { cancel(); w.Wait() }()

	got, err := w.GetStatusWord().Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint16(0xBEEF), got)
}

func TestSendRetriesThenTimesOut(t *testing.T) {
	// Fake drive never replies; the worker must exhaust its retry budget
	// and surface a TimeoutError rather than hang.
	fd := newFakeDrive(t, func(hdr codec.RequestHeader, raw []byte) []byte { return nil })
	w, cancel := newTestWorker(t, fd.addr(), Config{
		Name:            "axis-y",
		ResponseTimeout: 30 * time.Millisecond,
		MaxSendAttempts: 3,
	})
	defer func() { cancel(); w.Wait() }()

	_, err := w.GetStatusWord().Wait(context.Background())
	require.Error(t, err)
	var timeoutErr *TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	require.Equal(t, 3, timeoutErr.Attempts)
	require.GreaterOrEqual(t, fd.callCount(), int32(3))
}

func TestGuardedOpSkippedWhileAwaitingErrorAck(t *testing.T) {
	fd := newFakeDrive(t, func(hdr codec.RequestHeader, raw []byte) []byte {
		return statusWordResponse(0)
	})
	ep, err := transport.NewEndpoint(0, nil, nil)
	require.NoError(t, err)
	defer ep.Close()

	w := NewWorker(Config{Name: "axis-z", Peer: fd.addr(), ResponseTimeout: time.Second}, ep, log.NewEntry(log.New()))
	w.awaitingErrorAck = true // set before Start: no concurrent access yet

	ctx, cancel := context.WithCancel(context.Background())
	w.Start(ctx)
	defer func() { cancel(); w.Wait() }()

	resp, err := w.GoToPos(0.1, 0.1, 1, 1).Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, codec.TranslatedResponse{}, resp)
	require.Zero(t, fd.callCount(), "guarded op must not transmit while awaiting error acknowledgement")
}

func TestAcknowledgeErrorWithNoActiveError(t *testing.T) {
	fd := newFakeDrive(t, func(hdr codec.RequestHeader, raw []byte) []byte {
		buf := make([]byte, 10)
		binary.LittleEndian.PutUint16(buf[8:], 0) // error_code = 0
		return buf
	})
	w, cancel := newTestWorker(t, fd.addr(), Config{Name: "axis-x", ResponseTimeout: time.Second})
	defer func() { cancel(); w.Wait() }()

	ok, err := w.AcknowledgeError().Wait(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
}

func TestHandleWarningsDiff(t *testing.T) {
	w := &Worker{Name: "axis-x", logger: log.NewEntry(log.New()), warnings: map[uint8]codec.Warning{}}

	w.handleWarnings(codec.TranslatedResponse{
		Descriptor: codec.FieldWarnWord,
		Warnings:   codec.DecodeWarnings(0x0081), // bits 0 and 7
	})
	require.Len(t, w.warnings, 2)

	w.handleWarnings(codec.TranslatedResponse{
		Descriptor: codec.FieldWarnWord,
		Warnings:   codec.DecodeWarnings(0x0001), // only bit 0 remains
	})
	require.Len(t, w.warnings, 1)
	_, stillBit0 := w.warnings[0]
	require.True(t, stillBit0)
	_, stillBit7 := w.warnings[7]
	require.False(t, stillBit7)
}

func TestHandleErrorCodeSetsAwaitingAck(t *testing.T) {
	w := &Worker{Name: "axis-x", logger: log.NewEntry(log.New())}
	err := w.handleErrorCode(codec.TranslatedResponse{
		Descriptor: codec.FieldErrorCode,
		ErrorCode:  0x0042,
	})
	require.Error(t, err)
	var driveErr *DriveError
	require.ErrorAs(t, err, &driveErr)
	require.Equal(t, DriveErrorCode(0x0042), driveErr.Code)
	require.True(t, w.awaitingErrorAck)
}

func TestStreamRequiresInitialize(t *testing.T) {
	fd := newFakeDrive(t, func(hdr codec.RequestHeader, raw []byte) []byte {
		return statusWordResponse(0)
	})
	w, cancel := newTestWorker(t, fd.addr(), Config{Name: "axis-x", ResponseTimeout: time.Second})
	defer func() { cancel(); w.Wait() }()

	_, err := w.Stream(0.1).Wait(context.Background())
	require.Error(t, err)
}

func TestInitializeThenStream(t *testing.T) {
	fd := newFakeDrive(t, func(hdr codec.RequestHeader, raw []byte) []byte {
		return statusAndActualPosResponse(0, 0)
	})
	w, cancel := newTestWorker(t, fd.addr(), Config{Name: "axis-x", ResponseTimeout: time.Second})
	defer func() { cancel(); w.Wait() }()

	_, err := w.InitializeStream(StreamP).Wait(context.Background())
	require.NoError(t, err)

	resp, err := w.Stream(0.25).Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint16(0), resp.StatusWord)
}

// motionResponse matches responseFlagsForMotion's descriptor: 8 echoed
// bytes, 2-byte status_word, 2-byte state_var, 4-byte actual_pos, and a
// zero-filled 16-byte monitoring_channel (no slots configured in these
// tests; only the MC_count in the request header is under test here).
func motionResponse(status uint16, sub, main uint8, actualPosRaw int32) []byte {
	buf := make([]byte, 32)
	binary.LittleEndian.PutUint16(buf[8:10], status)
	buf[10] = sub
	buf[11] = main
	binary.LittleEndian.PutUint32(buf[12:16], uint32(actualPosRaw))
	return buf
}

// TestMCCountAdvancesOncePerMotionCommand exercises MC_count's rolling
// advance: each distinct motion command must move to the next value,
// wrapping within the 4-bit field.
func TestMCCountAdvancesOncePerMotionCommand(t *testing.T) {
	var mu sync.Mutex
	var seen []uint8
	fd := newFakeDrive(t, func(hdr codec.RequestHeader, raw []byte) []byte {
		if !hdr.HasMotionCommand {
			return motionResponse(0, 0, 8, 0) // counter bootstrap query
		}
		mu.Lock()
		seen = append(seen, hdr.MCCount)
		mu.Unlock()
		return motionResponse(0, 0, 8, 0)
	})
	w, cancel := newTestWorker(t, fd.addr(), Config{Name: "axis-x", ResponseTimeout: time.Second})
	defer func() { cancel(); w.Wait() }()

	_, err := w.MoveWithConstantVelocity(0.1, 1).Wait(context.Background())
	require.NoError(t, err)
	_, err = w.MoveWithConstantVelocity(0.1, 1).Wait(context.Background())
	require.NoError(t, err)
	_, err = w.MoveWithConstantVelocity(0.1, 1).Wait(context.Background())
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 3)
	for i := 1; i < len(seen); i++ {
		require.Equal(t, (seen[i-1]+1)&0x0F, seen[i], "MC_count must advance by exactly one per command, mod 16")
	}
}

// TestMCCountStableAcrossRetries exercises the other half of the same
// property: a single motion command retried after dropped responses must
// keep transmitting the same MC_count, not advance it on every attempt.
func TestMCCountStableAcrossRetries(t *testing.T) {
	var mu sync.Mutex
	var seen []uint8
	fd := newFakeDrive(t, func(hdr codec.RequestHeader, raw []byte) []byte {
		mu.Lock()
		seen = append(seen, hdr.MCCount)
		attempt := len(seen)
		mu.Unlock()
		if attempt < 3 {
			return nil // drop the reply, forcing a retry
		}
		return motionResponse(0, 0, 8, 0)
	})
	w, cancel := newTestWorker(t, fd.addr(), Config{
		Name:            "axis-x",
		ResponseTimeout: 30 * time.Millisecond,
		MaxSendAttempts: 5,
	})
	defer func() { cancel(); w.Wait() }()

	_, err := w.MoveWithConstantVelocity(0.1, 1).Wait(context.Background())
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.GreaterOrEqual(t, len(seen), 3)
	for _, mc := range seen {
		require.Equal(t, seen[0], mc, "MC_count must not advance across retries of the same motion command")
	}
}
