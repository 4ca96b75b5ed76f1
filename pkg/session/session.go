// Package session implements the reliable datagram session layer: the
// connection state machine, the fragmentation/stop-and-wait ARQ engine,
// and the heartbeat supervisor. A Session value owns all per-connection
// state and a single stop signal shared by its goroutines.
package session

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/librescoot/reliable-udp/internal/applog"
	"github.com/librescoot/reliable-udp/pkg/checkpoint"
	"github.com/librescoot/reliable-udp/pkg/config"
	"github.com/librescoot/reliable-udp/pkg/eventbus"
	"github.com/librescoot/reliable-udp/pkg/metrics"
	"github.com/librescoot/reliable-udp/pkg/sink"
	"github.com/librescoot/reliable-udp/pkg/wire"
)

// Phase is the connection's lifecycle state.
type Phase int32

const (
	PhaseOpening Phase = iota
	PhaseEstablished
	PhaseClosing
	PhaseClosed
)

func (p Phase) String() string {
	switch p {
	case PhaseOpening:
		return "opening"
	case PhaseEstablished:
		return "established"
	case PhaseClosing:
		return "closing"
	case PhaseClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Role is the deterministic, port-comparison-assigned heartbeat role.
type Role int

const (
	RoleResponder Role = 0
	RoleInitiator Role = 1
)

func (r Role) String() string {
	if r == RoleInitiator {
		return "initiator"
	}
	return "responder"
}

const (
	// finAckRetryInterval governs both sides of the close handshake's
	// retransmission cadence.
	finAckRetryInterval = 1 * time.Second
	// maxFinAckRetries bounds how long the FIN responder waits for the
	// closing ACK before giving up and closing anyway.
	maxFinAckRetries = 5
	// recvPollInterval is how often the sole-reader receive loop wakes
	// up to check the end-connection flag and close-handshake timers
	// even with nothing arriving on the wire.
	recvPollInterval = 200 * time.Millisecond
)

// Session holds all per-connection state: local/remote endpoint, role,
// phase, counters, flags, and inboxes. Which goroutine is allowed to
// touch which field is documented on each field below.
type Session struct {
	conn   *net.UDPConn
	remote *net.UDPAddr
	cfg    config.Config
	role   Role

	phase atomic.Int32 // any goroutine reads; only terminal()/onOpened()/handleFIN()/Close* write

	// send/command-loop owned; a single goroutine (the REPL consumer)
	// touches these, so no synchronization is needed even though the
	// flag's producer (/error) and consumer (fragment encode) are
	// logically distinct steps - both run in that one goroutine.
	nextMsgID       uint8
	maxFragmentSize int
	injectError     bool

	// receive-loop owned exclusively.
	lastAcceptedMsgID int // -1 means "none accepted yet"
	textFrags         map[uint16][]byte
	fileFrags         map[uint16][]byte
	pendingFileName   string
	finAckActive      bool
	finAckSentAt      time.Time
	finAckRetries     int

	endConnection atomic.Bool

	heartbeatInbox chan struct{}
	ackInbox       chan wire.MsgType
	closeInbox     chan wire.MsgType

	sink    sink.Sink
	metrics *metrics.Recorder
	bus     *eventbus.Publisher

	checkpointPath string

	done     chan struct{}
	doneOnce sync.Once
	doneErr  error

	missedHeartbeats int // heartbeat-loop owned

	logHandshake func(string, ...interface{})
	logRecv      func(string, ...interface{})
	logSend      func(string, ...interface{})
	logHeartbeat func(string, ...interface{})
	logClose     func(string, ...interface{})

	wg sync.WaitGroup
}

// New resolves the configured endpoints, binds the local UDP socket,
// and returns an unopened Session. Call Open to perform the handshake
// and Run to start the receive and heartbeat goroutines.
func New(cfg config.Config, s sink.Sink, rec *metrics.Recorder, bus *eventbus.Publisher) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	local, err := cfg.LocalAddr()
	if err != nil {
		return nil, fmt.Errorf("session: invalid local address: %w", err)
	}
	remote, err := cfg.RemoteAddr()
	if err != nil {
		return nil, fmt.Errorf("session: invalid remote address: %w", err)
	}

	conn, err := net.ListenUDP("udp4", local)
	if err != nil {
		return nil, fmt.Errorf("session: failed to bind %s: %w", local, err)
	}

	role := RoleResponder
	if cfg.SrcPort > cfg.DestPort {
		role = RoleInitiator
	}

	sess := &Session{
		conn:              conn,
		remote:            remote,
		cfg:               cfg,
		role:              role,
		maxFragmentSize:   cfg.MaxFragmentSize,
		lastAcceptedMsgID: -1,
		textFrags:         make(map[uint16][]byte),
		fileFrags:         make(map[uint16][]byte),
		heartbeatInbox:    make(chan struct{}, 4),
		ackInbox:          make(chan wire.MsgType, 4),
		closeInbox:        make(chan wire.MsgType, 4),
		sink:              s,
		metrics:           rec,
		bus:               bus,
		checkpointPath:    checkpoint.PathFor(cfg.SaveDir),
		done:              make(chan struct{}),
		logHandshake:      applog.Tagged("handshake"),
		logRecv:           applog.Tagged("recv"),
		logSend:           applog.Tagged("send"),
		logHeartbeat:      applog.Tagged("heartbeat"),
		logClose:          applog.Tagged("close"),
	}
	sess.phase.Store(int32(PhaseOpening))
	return sess, nil
}

// Role reports the deterministic heartbeat role assigned at New.
func (s *Session) Role() Role { return s.role }

// Phase reports the current connection phase.
func (s *Session) Phase() Phase { return Phase(s.phase.Load()) }

// MaxFragmentSize reports the current negotiated maximum fragment size.
func (s *Session) MaxFragmentSize() int { return s.maxFragmentSize }

// SetMaxFragmentSize implements /max n, validating n is strictly less
// than wire.DefaultMaxFragmentSize.
func (s *Session) SetMaxFragmentSize(n int) error {
	if n <= 0 || n >= wire.DefaultMaxFragmentSize {
		return fmt.Errorf("session: max fragment size %d must be > 0 and < %d", n, wire.DefaultMaxFragmentSize)
	}
	s.maxFragmentSize = n
	return nil
}

// SetInjectError arms the fault injector for the next outbound
// fragment, implementing /error.
func (s *Session) SetInjectError() { s.injectError = true }

// SetSaveDir implements /save <dir>, delegating to the sink if it
// supports changing its directory.
func (s *Session) SetSaveDir(dir string) error {
	setter, ok := s.sink.(interface{ SetSaveDir(string) })
	if !ok {
		return fmt.Errorf("session: configured sink does not support changing save directory")
	}
	setter.SetSaveDir(dir)
	s.checkpointPath = checkpoint.PathFor(dir)
	return nil
}

// Done returns a channel closed when the session reaches a terminal
// state (clean close, abrupt close, or heartbeat loss).
func (s *Session) Done() <-chan struct{} { return s.done }

// Err returns the terminal error, if any, once Done is closed.
func (s *Session) Err() error { return s.doneErr }

// Wait blocks until the receive and heartbeat goroutines started by Run
// have exited.
func (s *Session) Wait() { s.wg.Wait() }

// Close releases the underlying UDP socket. Safe to call after Wait.
func (s *Session) Close() error { return s.conn.Close() }

// Run starts the receive loop and heartbeat supervisor as independent
// goroutines. The caller is expected to drive the send/command loop
// itself (typically from pkg/repl).
func (s *Session) Run(ctx context.Context) {
	s.wg.Add(2)
	go s.recvLoop(ctx)
	go s.heartbeatLoop(ctx)
}

func isTimeout(err error) bool {
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}

// sendControl transmits a single-fragment control frame (empty
// payload, msg_id 0) to the remote peer. Control-frame msg_id values
// are never inspected by either peer - duplicate suppression only
// tracks data-carrying frame types - so reusing 0 here is safe.
func (s *Session) sendControl(msgType wire.MsgType) error {
	frame, err := wire.Encode(msgType, 0, 1, 1, 0, nil, false)
	if err != nil {
		return err
	}
	if _, err := s.conn.WriteToUDP(frame, s.remote); err != nil {
		return err
	}
	s.metrics.ObserveSent(msgType.String())
	return nil
}

// terminal transitions the session to PhaseClosed exactly once,
// persists a checkpoint, publishes a lifecycle event if a bus is
// configured, and unblocks any goroutine waiting on Done.
func (s *Session) terminal(err error, reason string) {
	s.doneOnce.Do(func() {
		s.endConnection.Store(true)
		s.phase.Store(int32(PhaseClosed))
		s.metrics.SetState(int(PhaseClosed))

		snap := checkpoint.Snapshot{
			LocalAddr:         s.conn.LocalAddr().String(),
			RemoteAddr:        s.remote.String(),
			Role:              int(s.role),
			NextMsgID:         s.nextMsgID,
			LastAcceptedMsgID: s.lastAcceptedMsgID,
			MissedHeartbeats:  s.missedHeartbeats,
			Reason:            reason,
			ClosedAt:          time.Now(),
		}
		if werr := checkpoint.Write(s.checkpointPath, snap); werr != nil {
			s.logClose("failed to write checkpoint: %v", werr)
		}

		if s.bus != nil {
			event := "closed"
			if err == wire.ErrHeartbeatLost {
				event = "heartbeat-missed"
			}
			if perr := s.bus.PublishLifecycle(event); perr != nil {
				s.logClose("failed to publish lifecycle event: %v", perr)
			}
		}

		s.doneErr = err
		close(s.done)
	})
}
