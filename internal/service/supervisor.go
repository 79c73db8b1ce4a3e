// Package service contains the core proxy engine: the restart controller,
// the client-ingress loop, and the child-stdout pump.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"syscall"
	"time"

	"github.com/neilopet/mcpmon/internal/domain/buffer"
	"github.com/neilopet/mcpmon/internal/domain/hook"
	"github.com/neilopet/mcpmon/internal/domain/session"
	"github.com/neilopet/mcpmon/internal/port/outbound"
	"github.com/neilopet/mcpmon/pkg/mcp"
)

// ErrSpawnRetriesExhausted is returned when every spawn attempt failed.
var ErrSpawnRetriesExhausted = errors.New("spawn retries exhausted")

// Options configures the supervisor. Zero values fall back to defaults so
// tests can compress the timers.
type Options struct {
	// Command and Args identify the MCP server to supervise.
	Command string
	Args    []string

	// Env is the child environment (nil inherits). Dir is the child
	// working directory (empty inherits).
	Env []string
	Dir string

	// Debounce is the quiet period coalescing change events. Default 300ms.
	Debounce time.Duration

	// KillGrace is how long a SIGTERM'd child gets before SIGKILL. Default 5s.
	KillGrace time.Duration

	// KillProbe is the extra wait after SIGKILL before the out-of-band
	// liveness probe declares the kill failed. Default 1s.
	KillProbe time.Duration

	// SpawnRetries is the total number of spawn attempts. Default 3.
	SpawnRetries int

	// SpawnBackoff is the base backoff between spawn attempts, doubled
	// each retry. Default 250ms.
	SpawnBackoff time.Duration

	// RequestTimeout bounds waits for proxy-synthesized requests. Default 5s.
	RequestTimeout time.Duration

	// BufferCapacity bounds the restart message buffer. Default 1000.
	BufferCapacity int
}

func (o *Options) withDefaults() {
	if o.Debounce <= 0 {
		o.Debounce = 300 * time.Millisecond
	}
	if o.KillGrace <= 0 {
		o.KillGrace = 5 * time.Second
	}
	if o.KillProbe <= 0 {
		o.KillProbe = time.Second
	}
	if o.SpawnRetries <= 0 {
		o.SpawnRetries = 3
	}
	if o.SpawnBackoff <= 0 {
		o.SpawnBackoff = 250 * time.Millisecond
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = 5 * time.Second
	}
	if o.BufferCapacity <= 0 {
		o.BufferCapacity = buffer.DefaultCapacity
	}
}

// controller queue events, posted by the ingress loop, the change-source
// forwarder, and per-child exit watchers.
type event interface{ isEvent() }

type evClientMessage struct{ msg *mcp.Message }
type evClientEOF struct{}
type evChange struct{ change outbound.ChangeEvent }
type evChildExit struct{ child outbound.ChildHandle }

func (evClientMessage) isEvent() {}
func (evClientEOF) isEvent()     {}
func (evChange) isEvent()        {}
func (evChildExit) isEvent()     {}

// Supervisor orchestrates the proxy: it owns the restart state machine and
// is the single mutator of the session snapshot, the current child handle,
// and the message buffer. All other loops post to its event queue.
type Supervisor struct {
	opts    Options
	procs   outbound.ProcessManager
	changes outbound.ChangeSource
	hooks   *hook.Bus
	sess    *session.Session
	buf     *buffer.MessageBuffer
	logger  *slog.Logger

	clientIn io.Reader
	out      *frameWriter
	errOut   io.Writer

	events chan event
	closed chan struct{}

	tools *toolListTracker

	// Controller-owned state. Only touched on the controller goroutine.
	state         State
	child         outbound.ChildHandle
	childDied     bool
	pendingChange bool
	clientGone    bool
	lastStatus    outbound.ExitStatus

	baseCtx  context.Context
	exitCode int
}

// NewSupervisor creates a supervisor proxying between clientIn/clientOut and
// the child spawned via procs. Child stderr and operator logs go to errOut.
func NewSupervisor(
	clientIn io.Reader,
	clientOut io.Writer,
	errOut io.Writer,
	procs outbound.ProcessManager,
	changes outbound.ChangeSource,
	hooks *hook.Bus,
	sess *session.Session,
	logger *slog.Logger,
	opts Options,
) *Supervisor {
	opts.withDefaults()
	return &Supervisor{
		opts:     opts,
		procs:    procs,
		changes:  changes,
		hooks:    hooks,
		sess:     sess,
		buf:      buffer.New(opts.BufferCapacity, logger),
		logger:   logger,
		clientIn: clientIn,
		out:      newFrameWriter(clientOut),
		errOut:   errOut,
		events:   make(chan event, 256),
		closed:   make(chan struct{}),
		tools:    newToolListTracker(),
	}
}

// ExitCode returns the code the proxy process should exit with. Valid after
// Start has returned.
func (s *Supervisor) ExitCode() int {
	return s.exitCode
}

// Start spawns the child and runs the controller loop. It blocks until the
// client disconnects, the context is cancelled, or a fatal error occurs.
func (s *Supervisor) Start(ctx context.Context) error {
	s.baseCtx = ctx
	s.logger.Info("starting supervised server",
		"command", s.opts.Command,
		"args", s.opts.Args,
		"session_id", s.sess.ID,
	)

	s.setState(StateSpawning)
	if err := s.spawnWithRetry(ctx); err != nil {
		return s.fatal(ctx, err)
	}
	s.hooks.DispatchLifecycle(ctx, hook.AfterServerStart)
	s.setState(StateIdle)

	go s.readClient()
	if s.changes != nil {
		go s.forwardChanges()
	}

	var debounce *time.Timer
	var debounceC <-chan time.Time
	stopDebounce := func() {
		if debounce != nil {
			debounce.Stop()
			debounce, debounceC = nil, nil
		}
	}

	for {
		if s.clientGone {
			stopDebounce()
			return s.shutdown(ctx)
		}

		select {
		case <-ctx.Done():
			stopDebounce()
			return s.shutdown(context.WithoutCancel(ctx))

		case <-debounceC:
			debounce, debounceC = nil, nil
			if err := s.beginRestart(ctx); err != nil {
				if ctx.Err() != nil {
					continue
				}
				return s.fatal(ctx, err)
			}

		case e := <-s.events:
			switch ev := e.(type) {
			case evClientMessage:
				s.handleClientMessage(ctx, ev.msg)
				if s.childDied && (s.state == StateIdle || s.state == StateDebouncing) {
					stopDebounce()
					if err := s.restartCycle(ctx, true); err != nil {
						if ctx.Err() != nil {
							continue
						}
						return s.fatal(ctx, err)
					}
				}

			case evClientEOF:
				s.clientGone = true

			case evChange:
				s.logger.Debug("change detected",
					"path", ev.change.Path,
					"type", ev.change.Type.String(),
				)
				switch s.state {
				case StateIdle:
					s.setState(StateDebouncing)
					debounce = time.NewTimer(s.opts.Debounce)
					debounceC = debounce.C
				case StateDebouncing:
					if !debounce.Stop() {
						select {
						case <-debounce.C:
						default:
						}
					}
					debounce.Reset(s.opts.Debounce)
				}

			case evChildExit:
				if ev.child != s.child {
					continue
				}
				s.lastStatus = ev.child.Status()
				s.logger.Warn("server exited unexpectedly",
					"code", s.lastStatus.Code,
					"signal", s.lastStatus.Signal,
				)
				stopDebounce()
				if err := s.restartCycle(ctx, false); err != nil {
					if ctx.Err() != nil {
						continue
					}
					return s.fatal(ctx, err)
				}
			}
		}

		// A change that arrived mid-restart starts a fresh debounce window.
		if s.pendingChange && s.state == StateIdle {
			s.pendingChange = false
			s.setState(StateDebouncing)
			debounce = time.NewTimer(s.opts.Debounce)
			debounceC = debounce.C
		}
	}
}

// Close releases the change source. Intended for callers that never reach
// Start's own shutdown path.
func (s *Supervisor) Close() error {
	if s.changes != nil {
		return s.changes.Close()
	}
	return nil
}

func (s *Supervisor) setState(st State) {
	if s.state == st {
		return
	}
	s.logger.Debug("state transition", "from", s.state.String(), "to", st.String())
	s.state = st
}

// handleClientMessage routes one client message: snapshot the initialize
// handshake, run hooks, then forward or buffer depending on state. A failed
// write marks the child dead and requeues the message at the buffer head.
func (s *Supervisor) handleClientMessage(ctx context.Context, msg *mcp.Message) {
	// Snapshot before hook dispatch so the latest init survives restart
	// even if a hook suppresses the message.
	if msg.IsInitialize() {
		s.sess.SetInitializeParams(msg.Params())
	}

	out, suppressed := s.hooks.DispatchMessage(ctx, hook.BeforeStdinForward, msg)
	if suppressed {
		s.logger.Debug("client message suppressed by hook", "method", msg.Method())
		return
	}

	// Forward only in steady state. Everything else buffers: during the
	// restart phases the buffer drains right before returning to Idle, so
	// forwarding from Announcing would reorder live messages ahead of
	// still-buffered ones.
	forwarding := s.state == StateIdle || s.state == StateDebouncing
	if !forwarding || s.childDied {
		s.buf.Push(out)
		return
	}

	s.trackToolsList(out)
	if err := s.writeToChild(out.Raw); err != nil {
		s.logger.Warn("write to server failed, scheduling restart", "error", err)
		s.buf.PushFront(out)
		s.childDied = true
		return
	}

	s.logger.Debug("forwarded message",
		"direction", mcp.ClientToServer.String(),
		"method", out.Method(),
		"latency_us", time.Since(msg.Timestamp).Microseconds(),
	)
}

// handleRestartEvent processes queue events that arrive while a restart
// phase is waiting on a timer, a child exit, or a synthesized response.
func (s *Supervisor) handleRestartEvent(ctx context.Context, e event) {
	switch ev := e.(type) {
	case evClientMessage:
		s.handleClientMessage(ctx, ev.msg)
	case evClientEOF:
		s.clientGone = true
	case evChange:
		s.pendingChange = true
	case evChildExit:
		if ev.child == s.child {
			s.childDied = true
			s.lastStatus = ev.child.Status()
		}
	}
}

// beginRestart runs the change-triggered restart path: Draining, then the
// kill/spawn/replay/announce cycle.
func (s *Supervisor) beginRestart(ctx context.Context) error {
	s.setState(StateDraining)
	s.logger.Info("restarting server after change")
	s.hooks.DispatchLifecycle(ctx, hook.BeforeRestart)
	return s.restartCycle(ctx, true)
}

// restartCycle drives Killing -> Spawning -> Replaying -> Announcing until a
// cycle completes with the child still alive. withKill is false when the
// child is already gone (unexpected exit).
func (s *Supervisor) restartCycle(ctx context.Context, withKill bool) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if withKill {
			s.setState(StateKilling)
			s.killChild(ctx)
		}

		s.setState(StateSpawning)
		if err := s.spawnWithRetry(ctx); err != nil {
			return err
		}
		s.hooks.DispatchLifecycle(ctx, hook.AfterServerStart)

		s.setState(StateReplaying)
		if !s.replay(ctx) {
			withKill = true
			continue
		}

		s.setState(StateAnnouncing)
		if !s.announce(ctx) {
			withKill = true
			continue
		}

		// Drain after the notification so the client always sees the
		// reload announcement before responses to buffered requests.
		if !s.drainBuffer(ctx) {
			withKill = true
			continue
		}

		s.setState(StateIdle)
		return nil
	}
}

// spawnWithRetry attempts to start the child, backing off exponentially
// between attempts. The new child's pumps and exit watcher start on success.
func (s *Supervisor) spawnWithRetry(ctx context.Context) error {
	var lastErr error
	for attempt := 0; attempt < s.opts.SpawnRetries; attempt++ {
		if attempt > 0 {
			backoff := s.opts.SpawnBackoff << (attempt - 1)
			s.logger.Warn("spawn failed, retrying",
				"attempt", attempt,
				"backoff", backoff,
				"error", lastErr,
			)
			s.sleepBuffering(ctx, backoff)
			if ctx.Err() != nil {
				return ctx.Err()
			}
		}

		child, err := s.procs.Spawn(ctx, s.opts.Command, s.opts.Args, outbound.SpawnOptions{
			Env: s.opts.Env,
			Dir: s.opts.Dir,
		})
		if err != nil {
			lastErr = err
			continue
		}
		s.adopt(child)
		return nil
	}
	return fmt.Errorf("%w after %d attempts: %v", ErrSpawnRetriesExhausted, s.opts.SpawnRetries, lastErr)
}

// adopt makes child current and wires its pumps and exit watcher.
func (s *Supervisor) adopt(child outbound.ChildHandle) {
	s.child = child
	s.childDied = false
	s.logger.Info("server started", "pid", child.PID())

	go s.pumpStdout(child)
	go s.pumpStderr(child)
	go func() {
		<-child.Done()
		s.post(evChildExit{child: child})
	}()
}

// killChild terminates the current child: SIGTERM, grace window, SIGKILL,
// then an out-of-band liveness probe. It always waits for the exit status
// to resolve when it can, so no zombie is left behind.
func (s *Supervisor) killChild(ctx context.Context) {
	child := s.child
	if child == nil {
		return
	}

	select {
	case <-child.Done():
		s.lastStatus = child.Status()
		return
	default:
	}

	s.logger.Debug("stopping server", "pid", child.PID(), "signal", "SIGTERM")
	child.Kill(syscall.SIGTERM)
	if s.waitChildExit(ctx, child, s.opts.KillGrace) {
		s.lastStatus = child.Status()
		return
	}

	s.logger.Warn("server ignored SIGTERM, escalating", "pid", child.PID(), "signal", "SIGKILL")
	child.Kill(syscall.SIGKILL)
	if s.waitChildExit(ctx, child, s.opts.KillProbe) {
		s.lastStatus = child.Status()
		return
	}

	if child.Alive() {
		// ProcessKillFailed: proceed anyway and let the OS reap it.
		s.logger.Error("failed to kill server process", "pid", child.PID())
	}
}

// waitChildExit waits for child to exit, pumping queue events into the
// buffer meanwhile. Returns false on timeout.
func (s *Supervisor) waitChildExit(ctx context.Context, child outbound.ChildHandle, timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case <-child.Done():
			return true
		case <-timer.C:
			return false
		case e := <-s.events:
			s.handleRestartEvent(ctx, e)
		}
	}
}

// sleepBuffering sleeps for d, pumping queue events meanwhile.
func (s *Supervisor) sleepBuffering(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	for {
		select {
		case <-timer.C:
			return
		case <-ctx.Done():
			return
		case e := <-s.events:
			s.handleRestartEvent(ctx, e)
		}
	}
}

// replay restores the handshake on the new child by synthesizing an
// initialize from the session snapshot. Returns false when the child died
// mid-replay.
func (s *Supervisor) replay(ctx context.Context) bool {
	if params := s.sess.InitializeParams(); params != nil {
		id := s.sess.AllocateRequestID()
		respCh := s.sess.RegisterPending(id)

		req, err := json.Marshal(struct {
			JSONRPC string          `json:"jsonrpc"`
			ID      string          `json:"id"`
			Method  string          `json:"method"`
			Params  json.RawMessage `json:"params"`
		}{JSONRPC: "2.0", ID: id, Method: "initialize", Params: params})
		if err != nil {
			s.logger.Error("failed to build initialize replay", "error", err)
			s.sess.Cancel(id)
		} else if werr := s.writeToChild(req); werr != nil {
			s.logger.Warn("initialize replay write failed", "error", werr)
			s.sess.Cancel(id)
			s.childDied = true
		} else if _, ok := s.awaitResponse(ctx, id, respCh); !ok {
			// ProtocolTimeout: log but continue; the child may still work.
			s.logger.Warn("initialize replay got no response", "id", id)
		}
	}
	return !s.childDied
}

// drainBuffer writes the buffered client messages to the new child in FIFO
// order. The synthesized initialize has already been replayed, so any
// initialize the client sent during the restart window is dropped rather
// than duplicated. Returns false when the child died mid-drain.
func (s *Supervisor) drainBuffer(ctx context.Context) bool {
	if n := s.buf.DropInitialize(); n > 0 {
		s.logger.Debug("dropped buffered initialize, snapshot replay takes precedence", "count", n)
	}

	msgs := s.buf.Drain()
	if len(msgs) > 0 {
		s.logger.Info("replaying buffered messages", "count", len(msgs))
	}
	for i, m := range msgs {
		s.trackToolsList(m)
		if err := s.writeToChild(m.Raw); err != nil {
			s.logger.Warn("replay write failed, requeueing", "error", err)
			for j := len(msgs) - 1; j >= i; j-- {
				s.buf.PushFront(msgs[j])
			}
			s.childDied = true
			return false
		}
	}
	return !s.childDied
}

// announce fetches the fresh tool list from the new child and emits the
// tools/list_changed notification to the client. The notification is sent
// even when the tools/list call fails, with an empty tools array, so the
// client always learns a reload occurred. Returns false when the child died
// and the cycle must repeat.
func (s *Supervisor) announce(ctx context.Context) bool {
	toolsJSON := json.RawMessage("[]")

	id := s.sess.AllocateRequestID()
	respCh := s.sess.RegisterPending(id)
	req := fmt.Sprintf(`{"jsonrpc":"2.0","id":%q,"method":"tools/list"}`, id)

	if err := s.writeToChild([]byte(req)); err != nil {
		s.logger.Warn("tools/list write failed", "error", err)
		s.sess.Cancel(id)
		s.childDied = true
		return false
	}

	resp, ok := s.awaitResponse(ctx, id, respCh)
	if s.childDied {
		return false
	}
	if ok && resp.Error == nil && resp.Result != nil {
		var result struct {
			Tools json.RawMessage `json:"tools"`
		}
		if err := json.Unmarshal(resp.Result, &result); err == nil && result.Tools != nil {
			toolsJSON = result.Tools
		}
	} else {
		s.logger.Warn("tools/list after restart failed, announcing empty tool list", "id", id)
	}

	toolsJSON = s.mergeSyntheticTools(toolsJSON)

	notif := fmt.Sprintf(`{"jsonrpc":"2.0","method":"notifications/tools/list_changed","params":{"tools":%s}}`, toolsJSON)
	if err := s.out.WriteLine([]byte(notif)); err != nil {
		s.logger.Error("failed to send tools/list_changed notification", "error", err)
	}
	return true
}

// awaitResponse waits up to RequestTimeout for a proxy-synthesized request's
// response, pumping queue events meanwhile. The pending waiter is cancelled
// on timeout or child death.
func (s *Supervisor) awaitResponse(ctx context.Context, id string, respCh <-chan session.Response) (session.Response, bool) {
	timer := time.NewTimer(s.opts.RequestTimeout)
	defer timer.Stop()
	for {
		select {
		case resp := <-respCh:
			return resp, true
		case <-timer.C:
			s.sess.Cancel(id)
			return session.Response{}, false
		case <-ctx.Done():
			s.sess.Cancel(id)
			return session.Response{}, false
		case e := <-s.events:
			s.handleRestartEvent(ctx, e)
			if s.childDied {
				s.sess.Cancel(id)
				return session.Response{}, false
			}
		}
	}
}

// writeToChild writes one frame to the current child's stdin.
func (s *Supervisor) writeToChild(frame []byte) error {
	if s.child == nil {
		return errors.New("no child process")
	}
	stdin := s.child.Stdin()
	if _, err := stdin.Write(frame); err != nil {
		return err
	}
	_, err := stdin.Write([]byte("\n"))
	return err
}

// shutdown tears the proxy down: lifecycle hooks, child termination, buffer
// drain warnings. The exit code propagates the child's last status.
func (s *Supervisor) shutdown(ctx context.Context) error {
	s.setState(StateShuttingDown)
	s.logger.Info("shutting down")
	s.hooks.DispatchLifecycle(ctx, hook.OnShutdown)

	if s.changes != nil {
		_ = s.changes.Close()
	}

	s.killChild(ctx)

	for _, m := range s.buf.Drain() {
		s.logger.Warn("dropping undelivered client message at shutdown", "method", m.Method())
	}

	close(s.closed)

	if s.lastStatus.Code >= 0 {
		s.exitCode = s.lastStatus.Code
	} else {
		// Terminated by our own signal during shutdown: clean exit.
		s.exitCode = 0
	}
	return nil
}

// fatal is the unrecoverable-error path: shut down and exit nonzero.
func (s *Supervisor) fatal(ctx context.Context, err error) error {
	s.logger.Error("fatal proxy error", "error", err)
	_ = s.shutdown(context.WithoutCancel(ctx))
	s.exitCode = 1
	return err
}

// post enqueues an event for the controller, giving up once the supervisor
// has shut down.
func (s *Supervisor) post(e event) {
	select {
	case s.events <- e:
	case <-s.closed:
	}
}

// forwardChanges bridges the change source onto the controller queue.
func (s *Supervisor) forwardChanges() {
	for change := range s.changes.Events() {
		s.post(evChange{change: change})
	}
}
