package signaling

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"testing/iotest"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1ureka/loramesh/internal/transport"
)

func TestGeneratePIN(t *testing.T) {
	pin, err := GeneratePIN(6)
	require.NoError(t, err)
	require.Len(t, pin, 6)
	for _, c := range pin {
		assert.True(t, c >= '0' && c <= '9')
	}
}

func TestGeneratePIN_EntropyFailure(t *testing.T) {
	failing := iotest.ErrReader(errors.New("no entropy"))
	pin, err := generatePIN(failing, 6)
	require.Error(t, err)
	assert.Empty(t, pin)
}

func TestBridgeURL(t *testing.T) {
	testCases := []struct {
		in, want string
	}{
		{"ws://10.0.0.2:4000/ws?pin=123456", "ws://10.0.0.2:4000/ws?pin=123456"},
		{"10.0.0.2:4000?pin=123456", "ws://10.0.0.2:4000/ws?pin=123456"},
		{" https://relay.example/anything?pin=42 ", "wss://relay.example/ws?pin=42"},
	}
	for _, tc := range testCases {
		got, err := BridgeURL(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got)
	}

	_, err := BridgeURL("ws://10.0.0.2:4000/ws")
	assert.ErrorIs(t, err, ErrMissingPIN)
	_, err = BridgeURL("ftp://10.0.0.2?pin=1")
	assert.Error(t, err)
}

func TestMessage_Helpers(t *testing.T) {
	answer := descriptionMessage(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0"})
	assert.Equal(t, MsgTypeAnswer, answer.Type)
	assert.Equal(t, webrtc.SDPTypeAnswer, answer.description().Type)
	assert.Equal(t, "v=0", answer.description().SDP)

	mid := "0"
	msg, err := candidateMessage(webrtc.ICECandidateInit{Candidate: "candidate:1 1 udp 1 10.0.0.2 5000 typ host", SDPMid: &mid})
	require.NoError(t, err)
	init, err := msg.candidate()
	require.NoError(t, err)
	assert.Equal(t, "candidate:1 1 udp 1 10.0.0.2 5000 typ host", init.Candidate)
	require.NotNil(t, init.SDPMid)
	assert.Equal(t, "0", *init.SDPMid)

	_, err = Message{Type: MsgTypeCandidate, Candidate: "{"}.candidate()
	assert.Error(t, err)
}

func TestServer_RejectsWrongPIN(t *testing.T) {
	srv := NewServer("1234")
	port, err := srv.Start("127.0.0.1:0")
	require.NoError(t, err)
	defer srv.Close()

	resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/ws?pin=0000", port))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestServer_AcceptsFirstClientOnly(t *testing.T) {
	srv := NewServer("1234")
	port, err := srv.Start("127.0.0.1:0")
	require.NoError(t, err)
	defer srv.Close()

	url := fmt.Sprintf("ws://127.0.0.1:%d/ws?pin=1234", port)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	first, err := Connect(ctx, url)
	require.NoError(t, err)
	defer first.Close()

	conn, err := srv.WaitForClient(ctx)
	require.NoError(t, err)
	defer conn.Close()

	second, err := Connect(ctx, url)
	require.NoError(t, err)
	defer second.Close()

	_, _, err = second.ReadMessage()
	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, websocket.ClosePolicyViolation, closeErr.Code)
}

func TestEstablish_LoopbackBridge(t *testing.T) {
	if testing.Short() {
		t.Skip("opens a real WebRTC connection")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	opts := transport.Options{ReadyTimeout: time.Second}
	clientCh := make(chan *transport.Transport, 1)
	errCh := make(chan error, 1)

	host, err := EstablishAsHost(ctx, HostConfig{
		Listen:    "127.0.0.1:0",
		PIN:       "4242",
		Transport: opts,
		OnListen: func(port int, pin string) {
			go func() {
				url := fmt.Sprintf("ws://127.0.0.1:%d/ws?pin=%s", port, pin)
				tr, err := EstablishAsClient(ctx, url, opts)
				if err != nil {
					errCh <- err
					return
				}
				clientCh <- tr
			}()
		},
	})
	require.NoError(t, err)
	defer host.Close()

	var client *transport.Transport
	select {
	case client = <-clientCh:
	case err := <-errCh:
		t.Fatalf("client: %v", err)
	case <-ctx.Done():
		t.Fatal("client did not connect")
	}
	defer client.Close()
	<-client.Ready()

	require.NoError(t, host.SendRaw([]byte("frame from host")))
	f, err := client.ReceiveRaw(5 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, []byte("frame from host"), f)

	require.NoError(t, client.SendRaw([]byte("frame from client")))
	f, err = host.ReceiveRaw(5 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, []byte("frame from client"), f)
}
