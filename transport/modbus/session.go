// Package modbus provides the session manager that owns a Modbus RTU or
// TCP client's lifecycle: single-context binding, half-duplex
// serialization, force-close-and-recreate on error, and retry with
// backoff. It translates the REDESIGN FLAGS note on cross-event-loop
// client migration into an explicit context handle comparison instead
// of inspecting a runtime's current event loop identity.
package modbus

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	gomodbus "github.com/goburrow/modbus"

	"github.com/devskill-org/solar-device-core/config"
	"github.com/devskill-org/solar-device-core/errkind"
)

// ExecutorContext is an opaque handle identifying the execution context
// (polling loop, API-server goroutine, ...) that owns a session. Two
// handles are the same context iff they are the same pointer; compare
// with ==.
type ExecutorContext struct {
	id uint64
}

var execCtxSeq atomic.Uint64

// NewExecutorContext allocates a fresh, uniquely-identified context
// handle.
func NewExecutorContext() *ExecutorContext {
	return &ExecutorContext{id: execCtxSeq.Add(1)}
}

type handler interface {
	Connect() error
	Close() error
}

// SessionManager owns one Modbus client and enforces the preconditions
// of spec section 4.3 on every public operation.
type SessionManager struct {
	cfg config.ModbusConfig

	stateMu   sync.Mutex
	execCtx   *ExecutorContext
	connected bool

	handler handler
	client  gomodbus.Client

	wireLock      sync.Mutex // half-duplex lock; rebuilt on context migration
	recreateGuard sync.Mutex
}

// NewSessionManager constructs an unconnected manager for the given
// config. Call EnsureConnected before issuing reads/writes.
func NewSessionManager(cfg config.ModbusConfig) *SessionManager {
	return &SessionManager{cfg: cfg}
}

func (sm *SessionManager) portExists() bool {
	if sm.cfg.Transport == "tcp" {
		return true // no filesystem path to probe for a TCP gateway
	}
	_, err := os.Stat(sm.cfg.Port)
	return err == nil
}

// EnsureConnected is idempotent and cheap on the happy path: if the
// caller's context already owns a connected client and the underlying
// port still exists, it returns immediately without acquiring the
// recreate guard.
func (sm *SessionManager) EnsureConnected(execCtx *ExecutorContext) error {
	if sm.fastPathOK(execCtx) {
		return nil
	}

	sm.recreateGuard.Lock()
	defer sm.recreateGuard.Unlock()

	if sm.fastPathOK(execCtx) {
		return nil
	}

	sm.stateMu.Lock()
	migrated := sm.execCtx != nil && sm.execCtx != execCtx
	wasConnected := sm.connected
	sm.stateMu.Unlock()

	if migrated && wasConnected && sm.portExists() {
		// Migrated to a new context but the underlying connection is
		// still alive: rebind without a disruptive reconnect.
		sm.stateMu.Lock()
		sm.execCtx = execCtx
		sm.stateMu.Unlock()
		sm.wireLock = sync.Mutex{}
		return nil
	}

	sm.forceClose()
	if err := sm.reconnectWithBackoff(); err != nil {
		return err
	}

	sm.stateMu.Lock()
	sm.execCtx = execCtx
	sm.connected = true
	sm.stateMu.Unlock()
	if migrated {
		sm.wireLock = sync.Mutex{}
	}
	return nil
}

func (sm *SessionManager) fastPathOK(execCtx *ExecutorContext) bool {
	sm.stateMu.Lock()
	ok := sm.execCtx == execCtx && sm.connected
	sm.stateMu.Unlock()
	return ok && sm.portExists()
}

// forceClose closes the underlying transport, clears references, and
// waits for the OS to release the port. The teacher's Python original
// swaps the transport's write target for a dummy object to silence
// racing callbacks; per the REDESIGN FLAGS note this is superseded here
// by simply dropping all references to the handler before closing, so
// no pending callback can observe a half-torn-down client.
func (sm *SessionManager) forceClose() {
	sm.stateMu.Lock()
	h := sm.handler
	sm.handler = nil
	sm.client = nil
	sm.connected = false
	sm.stateMu.Unlock()

	if h != nil {
		_ = h.Close()
	}
	time.Sleep(300 * time.Millisecond)
	time.Sleep(200 * time.Millisecond)
}

func (sm *SessionManager) reconnectWithBackoff() error {
	var lastErr error
	policy := backoff.WithMaxRetries(
		&backoff.ExponentialBackOff{
			InitialInterval:     500 * time.Millisecond,
			RandomizationFactor: 0,
			Multiplier:          2,
			MaxInterval:         2 * time.Second,
			MaxElapsedTime:      0,
			Clock:               backoff.SystemClock,
		},
		2, // 3 total attempts
	)

	op := func() error {
		h, c, err := sm.newHandlerAndClient()
		if err != nil {
			lastErr = err
			if isFastFailPortError(err) {
				return backoff.Permanent(err)
			}
			if isPortLockedError(err) {
				time.Sleep(500 * time.Millisecond)
			}
			return err
		}
		sm.stateMu.Lock()
		sm.handler = h
		sm.client = c
		sm.stateMu.Unlock()
		return nil
	}

	if err := backoff.Retry(op, policy); err != nil {
		return errkind.Wrap(errkind.TransportUnavailable, lastErr, "connecting to %s", sm.cfg.Port)
	}
	return nil
}

func isFastFailPortError(err error) bool {
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "no such file") || strings.Contains(s, "no such device")
}

func isPortLockedError(err error) bool {
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "resource temporarily unavailable") || strings.Contains(s, "could not exclusively lock")
}

func (sm *SessionManager) newHandlerAndClient() (handler, gomodbus.Client, error) {
	switch sm.cfg.Transport {
	case "tcp":
		h := gomodbus.NewTCPClientHandler(sm.cfg.Port)
		h.SlaveId = sm.cfg.SlaveID
		if sm.cfg.Timeout > 0 {
			h.Timeout = sm.cfg.Timeout
		}
		if err := h.Connect(); err != nil {
			return nil, nil, err
		}
		return h, gomodbus.NewClient(h), nil
	default:
		h := gomodbus.NewRTUClientHandler(sm.cfg.Port)
		h.BaudRate = sm.cfg.BaudRate
		h.DataBits = sm.cfg.DataBits
		h.Parity = sm.cfg.Parity
		h.StopBits = sm.cfg.StopBits
		h.SlaveId = sm.cfg.SlaveID
		if sm.cfg.Timeout > 0 {
			h.Timeout = sm.cfg.Timeout
		}
		if err := h.Connect(); err != nil {
			return nil, nil, err
		}
		return h, gomodbus.NewClient(h), nil
	}
}

// Close force-closes the underlying client unconditionally.
func (sm *SessionManager) Close() error {
	sm.forceClose()
	return nil
}

// do runs fn while holding the per-client half-duplex lock, after
// ensuring the client is connected in execCtx. A transport-level error
// (bad file descriptor, broken pipe, connection reset, closed port)
// force-closes the client and triggers one reconnect-and-retry.
func (sm *SessionManager) do(ctx context.Context, execCtx *ExecutorContext, fn func(c gomodbus.Client) ([]byte, error)) ([]byte, error) {
	if err := sm.EnsureConnected(execCtx); err != nil {
		return nil, err
	}

	sm.wireLock.Lock()
	defer sm.wireLock.Unlock()

	sm.stateMu.Lock()
	client := sm.client
	sm.stateMu.Unlock()
	if client == nil {
		return nil, errkind.Wrap(errkind.TransportUnavailable, nil, "client not connected")
	}

	b, err := fn(client)
	if err != nil {
		if isTransportError(err) {
			sm.forceClose()
			if rErr := sm.EnsureConnected(execCtx); rErr == nil {
				sm.stateMu.Lock()
				client = sm.client
				sm.stateMu.Unlock()
				return fn(client)
			}
		}
		return nil, errkind.Wrap(errkind.ProtocolError, err, "modbus operation")
	}
	return b, nil
}

func isTransportError(err error) bool {
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "bad file descriptor") || strings.Contains(s, "broken pipe") ||
		strings.Contains(s, "connection reset") || errors.Is(err, os.ErrClosed)
}

// ReadHoldingRegisters reads count words starting at addr via function
// code 3.
func (sm *SessionManager) ReadHoldingRegisters(ctx context.Context, execCtx *ExecutorContext, addr uint16, count uint16) ([]uint16, error) {
	b, err := sm.do(ctx, execCtx, func(c gomodbus.Client) ([]byte, error) {
		return c.ReadHoldingRegisters(addr, count)
	})
	if err != nil {
		return nil, err
	}
	return bytesToWords(b), nil
}

// ReadInputRegisters reads count words starting at addr via function
// code 4.
func (sm *SessionManager) ReadInputRegisters(ctx context.Context, execCtx *ExecutorContext, addr uint16, count uint16) ([]uint16, error) {
	b, err := sm.do(ctx, execCtx, func(c gomodbus.Client) ([]byte, error) {
		return c.ReadInputRegisters(addr, count)
	})
	if err != nil {
		return nil, err
	}
	return bytesToWords(b), nil
}

// WriteRegisters writes words to holding registers starting at addr.
// Per spec section 6, single writes to addresses below 60 use function
// code 6 (write single); addresses at or above 60 use function code 16
// (write multiple) even for a single word, to satisfy one vendor's
// firmware quirk.
func (sm *SessionManager) WriteRegisters(ctx context.Context, execCtx *ExecutorContext, addr uint16, words []uint16) error {
	_, err := sm.do(ctx, execCtx, func(c gomodbus.Client) ([]byte, error) {
		if len(words) == 1 && addr < 60 {
			return c.WriteSingleRegister(addr, words[0])
		}
		return c.WriteMultipleRegisters(addr, uint16(len(words)), wordsToBytes(words))
	})
	return err
}

func bytesToWords(b []byte) []uint16 {
	words := make([]uint16, len(b)/2)
	for i := range words {
		words[i] = uint16(b[2*i])<<8 | uint16(b[2*i+1])
	}
	return words
}

func wordsToBytes(words []uint16) []byte {
	b := make([]byte, len(words)*2)
	for i, w := range words {
		b[2*i] = byte(w >> 8)
		b[2*i+1] = byte(w)
	}
	return b
}
