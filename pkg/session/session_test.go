package session

import (
	"bytes"
	"context"
	"net"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/librescoot/reliable-udp/pkg/config"
	"github.com/librescoot/reliable-udp/pkg/metrics"
	"github.com/librescoot/reliable-udp/pkg/wire"
)

// capturingSink records delivered text messages and files in memory,
// standing in for sink.Console in tests that need to assert on
// delivered content rather than formatted console output.
type capturingSink struct {
	mu       sync.Mutex
	messages []string
	files    map[string][]byte
	saveDir  string
}

func newCapturingSink() *capturingSink {
	return &capturingSink{files: make(map[string][]byte)}
}

func (c *capturingSink) DeliverText(message string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, message)
	return nil
}

func (c *capturingSink) SaveFile(name string, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.files[name] = append([]byte(nil), data...)
	return nil
}

func (c *capturingSink) SetSaveDir(dir string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.saveDir = dir
}

func (c *capturingSink) Messages() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.messages...)
}

func (c *capturingSink) File(name string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, ok := c.files[name]
	return data, ok
}

func testConfig(srcPort, destPort int) config.Config {
	cfg := config.Default()
	cfg.SourceIP = "127.0.0.1"
	cfg.DestIP = "127.0.0.1"
	cfg.SrcPort = srcPort
	cfg.DestPort = destPort
	cfg.HandshakeTimeout = 50 * time.Millisecond
	cfg.AckTimeout = 50 * time.Millisecond
	cfg.HeartbeatInterval = 30 * time.Millisecond
	cfg.HeartbeatPollWindow = 30 * time.Millisecond
	cfg.ResponderSleep = 30 * time.Millisecond
	return cfg
}

func newPairedSessions(t *testing.T, portA, portB int) (*Session, *capturingSink, *Session, *capturingSink) {
	t.Helper()

	sinkA := newCapturingSink()
	sinkB := newCapturingSink()
	recA := metrics.New(prometheus.NewRegistry())
	recB := metrics.New(prometheus.NewRegistry())

	sessA, err := New(testConfig(portA, portB), sinkA, recA, nil)
	require.NoError(t, err)
	sessB, err := New(testConfig(portB, portA), sinkB, recB, nil)
	require.NoError(t, err)

	return sessA, sinkA, sessB, sinkB
}

func openBoth(t *testing.T, a, b *Session) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	var errA, errB error
	wg.Add(2)
	go func() { defer wg.Done(); errA = a.Open(ctx) }()
	go func() { defer wg.Done(); errB = b.Open(ctx) }()
	wg.Wait()

	require.NoError(t, errA)
	require.NoError(t, errB)
	assert.Equal(t, PhaseEstablished, a.Phase())
	assert.Equal(t, PhaseEstablished, b.Phase())
}

func TestHandshakeAssignsComplementaryRoles(t *testing.T) {
	a, _, b, _ := newPairedSessions(t, 32101, 32100)
	defer a.Close()
	defer b.Close()

	openBoth(t, a, b)

	assert.Equal(t, RoleInitiator, a.Role())
	assert.Equal(t, RoleResponder, b.Role())
}

func TestTextRoundTrip(t *testing.T) {
	a, _, b, sinkB := newPairedSessions(t, 32111, 32110)
	defer a.Close()
	defer b.Close()

	openBoth(t, a, b)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a.Run(ctx)
	b.Run(ctx)

	require.NoError(t, a.SendText("hello, peer"))

	require.Eventually(t, func() bool {
		return len(sinkB.Messages()) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"hello, peer"}, sinkB.Messages())
}

func TestFragmentedTextTransfer(t *testing.T) {
	a, _, b, sinkB := newPairedSessions(t, 32121, 32120)
	defer a.Close()
	defer b.Close()

	openBoth(t, a, b)
	require.NoError(t, a.SetMaxFragmentSize(8))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a.Run(ctx)
	b.Run(ctx)

	message := "this message is much longer than eight bytes per fragment"
	require.NoError(t, a.SendText(message))

	require.Eventually(t, func() bool {
		return len(sinkB.Messages()) == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, message, sinkB.Messages()[0])
}

func TestFileTransfer(t *testing.T) {
	a, _, b, sinkB := newPairedSessions(t, 32131, 32130)
	defer a.Close()
	defer b.Close()

	openBoth(t, a, b)
	require.NoError(t, a.SetMaxFragmentSize(16))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a.Run(ctx)
	b.Run(ctx)

	tmp := t.TempDir() + "/payload.bin"
	content := bytes.Repeat([]byte("0123456789abcdef"), 5)
	require.NoError(t, os.WriteFile(tmp, content, 0o644))

	require.NoError(t, a.SendFile(tmp))

	require.Eventually(t, func() bool {
		_, ok := sinkB.File("payload.bin")
		return ok
	}, 2*time.Second, 5*time.Millisecond)
	data, _ := sinkB.File("payload.bin")
	assert.Equal(t, content, data)
}

func TestInjectErrorStillDeliversMessage(t *testing.T) {
	a, _, b, sinkB := newPairedSessions(t, 32141, 32140)
	defer a.Close()
	defer b.Close()

	openBoth(t, a, b)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a.Run(ctx)
	b.Run(ctx)

	a.SetInjectError()
	require.NoError(t, a.SendText("still gets there"))

	require.Eventually(t, func() bool {
		return len(sinkB.Messages()) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, "still gets there", sinkB.Messages()[0])
	assert.False(t, a.injectError, "inject-error flag should be cleared after the NACK it caused")
}

// TestDuplicateFragmentIsSuppressed sends a hand-built frame twice
// directly at B's socket, bypassing A's session entirely, to verify
// the receive path's duplicate-msg_id suppression independent of the
// sender's own retry logic.
func TestDuplicateFragmentIsSuppressed(t *testing.T) {
	a, _, b, sinkB := newPairedSessions(t, 32151, 32150)
	defer a.Close()
	defer b.Close()

	b.phase.Store(int32(PhaseEstablished))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b.Run(ctx)

	rawLocal, err := net.ResolveUDPAddr("udp4", "127.0.0.1:0")
	require.NoError(t, err)
	raw, err := net.ListenUDP("udp4", rawLocal)
	require.NoError(t, err)
	defer raw.Close()

	bAddr := b.conn.LocalAddr().(*net.UDPAddr)

	frame, err := wire.Encode(wire.MsgTextFragment, 0, 1, 1, 7, []byte("first"), false)
	require.NoError(t, err)

	_, err = raw.WriteToUDP(frame, bAddr)
	require.NoError(t, err)
	_, err = raw.WriteToUDP(frame, bAddr)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(sinkB.Messages()) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"first"}, sinkB.Messages())
}

func TestHeartbeatLossClosesSession(t *testing.T) {
	rec := metrics.New(prometheus.NewRegistry())
	s := newCapturingSink()

	cfg := testConfig(32161, 32160)
	cfg.HeartbeatInterval = 10 * time.Millisecond
	cfg.HeartbeatPollWindow = 10 * time.Millisecond
	cfg.MissThreshold = 2

	sess, err := New(cfg, s, rec, nil)
	require.NoError(t, err)
	defer sess.Close()

	sess.phase.Store(int32(PhaseEstablished))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sess.Run(ctx)

	select {
	case <-sess.Done():
		assert.ErrorIs(t, sess.Err(), wire.ErrHeartbeatLost)
	case <-time.After(2 * time.Second):
		t.Fatal("session did not close after missed heartbeats")
	}
	sess.Wait()
}

func TestCleanCloseHandshake(t *testing.T) {
	a, _, b, _ := newPairedSessions(t, 32171, 32170)
	defer a.Close()
	defer b.Close()

	openBoth(t, a, b)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a.Run(ctx)
	b.Run(ctx)

	closeErrCh := make(chan error, 1)
	go func() { closeErrCh <- a.CloseGraceful() }()

	select {
	case err := <-closeErrCh:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("CloseGraceful did not complete")
	}

	require.Eventually(t, func() bool {
		return b.Phase() == PhaseClosed
	}, 2*time.Second, 5*time.Millisecond)

	a.Wait()
	b.Wait()
}
