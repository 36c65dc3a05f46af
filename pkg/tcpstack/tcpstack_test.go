package tcpstack_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/chemi123/toytcp/pkg/rawip"
	"github.com/chemi123/toytcp/pkg/segment"
	"github.com/chemi123/toytcp/pkg/tcpstack"
)

var (
	clientAddr = [4]byte{10, 0, 0, 1}
	serverAddr = [4]byte{10, 0, 0, 2}
)

func testConfig() tcpstack.Config {
	cfg := tcpstack.DefaultConfig()
	cfg.TimerInterval = 10 * time.Millisecond
	cfg.RetransmitTimeout = 50 * time.Millisecond
	cfg.MaxRetransmits = 3
	cfg.RecvBufferSize = 4096
	return cfg
}

func newPair(t *testing.T) (client, server *tcpstack.Stack, stop func()) {
	t.Helper()
	clientTransport, serverTransport := rawip.NewFakePair(clientAddr, serverAddr)
	client = tcpstack.NewStack(clientAddr, clientTransport, testConfig())
	server = tcpstack.NewStack(serverAddr, serverTransport, testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	client.Run(ctx)
	server.Run(ctx)

	return client, server, func() {
		cancel()
		_ = client.Close()
		_ = server.Close()
	}
}

func TestHandshakeAndSmallTransfer(t *testing.T) {
	client, server, stop := newPair(t)
	defer stop()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	listenID, err := server.Listen(ctx, 80)
	require.NoError(t, err)

	type acceptResult struct {
		id  tcpstack.SockID
		err error
	}
	acceptedCh := make(chan acceptResult, 1)
	go func() {
		id, err := server.Accept(ctx, listenID)
		acceptedCh <- acceptResult{id, err}
	}()

	clientID, err := client.Connect(ctx, serverAddr, 80)
	require.NoError(t, err)

	var accepted acceptResult
	select {
	case accepted = <-acceptedCh:
	case <-time.After(2 * time.Second):
		t.Fatal("accept did not complete")
	}
	require.NoError(t, accepted.err)

	payload := []byte("hello, server")
	require.NoError(t, client.Send(ctx, clientID, payload))

	out := make([]byte, len(payload))
	n, err := server.Recv(ctx, accepted.id, out)
	require.NoError(t, err)
	require.Equal(t, len(payload), n)
	require.Equal(t, payload, out)
}

func TestPassiveClose(t *testing.T) {
	client, server, stop := newPair(t)
	defer stop()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	listenID, err := server.Listen(ctx, 81)
	require.NoError(t, err)

	acceptedCh := make(chan tcpstack.SockID, 1)
	go func() {
		id, err := server.Accept(ctx, listenID)
		require.NoError(t, err)
		acceptedCh <- id
	}()

	clientID, err := client.Connect(ctx, serverAddr, 81)
	require.NoError(t, err)

	var serverID tcpstack.SockID
	select {
	case serverID = <-acceptedCh:
	case <-time.After(2 * time.Second):
		t.Fatal("accept did not complete")
	}

	// The client's Close blocks until the server's own FIN arrives, so it
	// runs concurrently with the server side of the teardown.
	clientClosed := make(chan error, 1)
	go func() {
		clientClosed <- client.Close(ctx, clientID)
	}()

	out := make([]byte, 16)
	n, err := server.Recv(ctx, serverID, out)
	require.NoError(t, err)
	require.Equal(t, 0, n)

	require.NoError(t, server.Close(ctx, serverID))

	select {
	case err := <-clientClosed:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("client close did not complete")
	}
}

func TestSendLargerThanMSSSplitsSegments(t *testing.T) {
	client, server, stop := newPair(t)
	defer stop()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	listenID, err := server.Listen(ctx, 82)
	require.NoError(t, err)

	acceptedCh := make(chan tcpstack.SockID, 1)
	go func() {
		id, err := server.Accept(ctx, listenID)
		require.NoError(t, err)
		acceptedCh <- id
	}()

	clientID, err := client.Connect(ctx, serverAddr, 82)
	require.NoError(t, err)

	var serverID tcpstack.SockID
	select {
	case serverID = <-acceptedCh:
	case <-time.After(2 * time.Second):
		t.Fatal("accept did not complete")
	}

	payload := make([]byte, 3000)
	for i := range payload {
		payload[i] = byte(i)
	}
	require.NoError(t, client.Send(ctx, clientID, payload))

	received := make([]byte, 0, len(payload))
	buf := make([]byte, 1500)
	for len(received) < len(payload) {
		n, err := server.Recv(ctx, serverID, buf)
		require.NoError(t, err)
		received = append(received, buf[:n]...)
	}
	require.Equal(t, payload, received)
}

// TestWindowStallRecovers drives a server with a receive buffer far smaller
// than the payload, so the client fills the advertised window and blocks on
// Send before the server has drained anything. It only passes if Recv's
// window-update ACK actually reaches the client.
func TestWindowStallRecovers(t *testing.T) {
	clientTransport, serverTransport := rawip.NewFakePair(clientAddr, serverAddr)

	clientCfg := testConfig()
	serverCfg := testConfig()
	serverCfg.RecvBufferSize = 32

	client := tcpstack.NewStack(clientAddr, clientTransport, clientCfg)
	server := tcpstack.NewStack(serverAddr, serverTransport, serverCfg)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	client.Run(ctx)
	server.Run(ctx)
	defer func() {
		cancel()
		_ = client.Close()
		_ = server.Close()
	}()

	listenID, err := server.Listen(ctx, 83)
	require.NoError(t, err)

	acceptedCh := make(chan tcpstack.SockID, 1)
	go func() {
		id, err := server.Accept(ctx, listenID)
		require.NoError(t, err)
		acceptedCh <- id
	}()

	clientID, err := client.Connect(ctx, serverAddr, 83)
	require.NoError(t, err)

	var serverID tcpstack.SockID
	select {
	case serverID = <-acceptedCh:
	case <-time.After(2 * time.Second):
		t.Fatal("accept did not complete")
	}

	payload := make([]byte, 200)
	for i := range payload {
		payload[i] = byte(i)
	}

	sendDone := make(chan error, 1)
	go func() {
		sendDone <- client.Send(ctx, clientID, payload)
	}()

	received := make([]byte, 0, len(payload))
	buf := make([]byte, 16)
	for len(received) < len(payload) {
		n, err := server.Recv(ctx, serverID, buf)
		require.NoError(t, err)
		received = append(received, buf[:n]...)
	}
	require.Equal(t, payload, received)

	select {
	case err := <-sendDone:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("send never unblocked once the receiver drained its buffer")
	}
}

// droppingTransport wraps a Transport and silently discards outgoing segments
// matched by shouldDrop, simulating a permanently lossy link in one
// direction.
type droppingTransport struct {
	rawip.Transport
	shouldDrop func(payload []byte) bool
}

func (d *droppingTransport) WriteTo(dst [4]byte, payload []byte) error {
	if d.shouldDrop(payload) {
		return nil
	}
	return d.Transport.WriteTo(dst, payload)
}

// TestRetransmitGivesUpAfterMaxAttempts simulates a FIN that never reaches
// its peer. Close must still return once the retransmission queue exhausts
// its retry budget, rather than blocking forever.
func TestRetransmitGivesUpAfterMaxAttempts(t *testing.T) {
	clientRaw, serverTransport := rawip.NewFakePair(clientAddr, serverAddr)

	dropFIN := func(payload []byte) bool {
		hdr, _, err := segment.Decode(payload)
		if err != nil {
			return false
		}
		return hdr.Flags&segment.FlagFIN != 0
	}
	clientTransport := &droppingTransport{Transport: clientRaw, shouldDrop: dropFIN}

	cfg := testConfig()
	cfg.RetransmitTimeout = 20 * time.Millisecond
	cfg.MaxRetransmits = 2

	client := tcpstack.NewStack(clientAddr, clientTransport, cfg)
	server := tcpstack.NewStack(serverAddr, serverTransport, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	client.Run(ctx)
	server.Run(ctx)
	defer func() {
		cancel()
		_ = client.Close()
		_ = server.Close()
	}()

	listenID, err := server.Listen(ctx, 84)
	require.NoError(t, err)

	go func() {
		_, _ = server.Accept(ctx, listenID)
	}()

	clientID, err := client.Connect(ctx, serverAddr, 84)
	require.NoError(t, err)

	closeDone := make(chan error, 1)
	go func() {
		closeDone <- client.Close(ctx, clientID)
	}()

	select {
	case err := <-closeDone:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("close never gave up on an unacknowledged FIN")
	}
}
