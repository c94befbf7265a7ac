package link

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(q *Queue, max int) []Event {
	var out []Event
	q.Drain(max, func(ev Event) { out = append(out, ev) })
	return out
}

func TestQueue_LifecycleBeforeMessages(t *testing.T) {
	q := NewQueue(4)
	gen := q.Connected("brain")
	q.Message(gen, []byte("a"))
	q.Message(gen, []byte("b"))

	evs := collect(q, 0)
	require.Len(t, evs, 3)
	assert.Equal(t, EventConnected, evs[0].Kind)
	assert.Equal(t, "a", string(evs[1].Data))
	assert.Equal(t, gen, evs[2].Gen)
}

func TestQueue_DropsWhenFull(t *testing.T) {
	q := NewQueue(2)
	gen := q.Connected("brain")
	assert.True(t, q.Message(gen, []byte("1")))
	assert.True(t, q.Message(gen, []byte("2")))
	assert.False(t, q.Message(gen, []byte("3")))
	assert.Equal(t, uint64(1), q.Dropped())

	// a full message channel never blocks a disconnect
	q.Disconnected(gen, "brain")
	evs := collect(q, 0)
	require.Len(t, evs, 4)
	assert.Equal(t, EventDisconnected, evs[1].Kind)
}

func TestQueue_DrainLimit(t *testing.T) {
	q := NewQueue(8)
	gen := q.Connected("brain")
	for i := 0; i < 5; i++ {
		q.Message(gen, []byte{byte(i)})
	}
	assert.Len(t, collect(q, 2), 3) // connect + 2
	assert.Equal(t, 3, q.Len())
}

func TestQueue_GenerationsIncrease(t *testing.T) {
	q := NewQueue(4)
	g1 := q.Connected("a")
	q.Disconnected(g1, "a")
	g2 := q.Connected("b")
	assert.Greater(t, g2, g1)
}

func TestPipe_RoundTrip(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := NewPipe(Config{SendBuffer: 2})
	q := NewQueue(8)
	require.NoError(t, p.Start(ctx, q))

	assert.ErrorIs(t, p.Send([]byte("x")), ErrNotConnected)

	peer, err := p.Connect("brain")
	require.NoError(t, err)
	_, err = p.Connect("other")
	assert.ErrorIs(t, err, ErrBusy)

	require.True(t, peer.Write([]byte(`{"type":"stop"}`)))
	evs := collect(q, 0)
	require.Len(t, evs, 2)
	assert.Equal(t, peer.gen, evs[1].Gen)

	require.NoError(t, p.Send([]byte("one")))
	require.NoError(t, p.Send([]byte("two")))
	assert.ErrorIs(t, p.Send([]byte("three")), ErrSaturated)
	got := peer.RecvAll()
	require.Len(t, got, 2)
	assert.Equal(t, "one", string(got[0]))

	peer.Disconnect()
	peer.Disconnect()
	evs = collect(q, 0)
	require.Len(t, evs, 1)
	assert.Equal(t, EventDisconnected, evs[0].Kind)
	assert.ErrorIs(t, p.Send([]byte("x")), ErrNotConnected)
}

func TestPipe_SendCopiesBuffer(t *testing.T) {
	p := NewPipe(Config{})
	q := NewQueue(4)
	require.NoError(t, p.Start(context.Background(), q))
	peer, err := p.Connect("brain")
	require.NoError(t, err)

	buf := []byte("abc")
	require.NoError(t, p.Send(buf))
	buf[0] = 'z'
	data, ok := peer.Recv()
	require.True(t, ok)
	assert.Equal(t, "abc", string(data))
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestWebSocket_SinglePeer(t *testing.T) {
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	ws := MountWebSocket(app, Config{SendBuffer: 4, MaxPayload: 512}, nil)
	q := NewQueue(8)
	require.NoError(t, ws.Start(context.Background(), q))

	const port = 18765
	go app.Listen(fmt.Sprintf(":%d", port))
	defer app.Shutdown()
	time.Sleep(100 * time.Millisecond)

	url := fmt.Sprintf("ws://localhost:%d%s", port, BrainPath)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	waitFor(t, ws.Connected)

	// second brain is refused
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	assert.Error(t, err)
	if resp != nil {
		assert.Equal(t, fiber.StatusConflict, resp.StatusCode)
	}

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"heartbeat"}`)))
	var evs []Event
	waitFor(t, func() bool {
		evs = append(evs, collect(q, 0)...)
		return len(evs) >= 2
	})
	assert.Equal(t, EventConnected, evs[0].Kind)
	assert.Equal(t, `{"type":"heartbeat"}`, string(evs[1].Data))

	require.NoError(t, ws.Send([]byte(`{"status":"ok","command_id":"1"}`)))
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"status":"ok"`)

	conn.Close()
	waitFor(t, func() bool { return !ws.Connected() })
	waitFor(t, func() bool {
		for _, ev := range collect(q, 0) {
			if ev.Kind == EventDisconnected {
				return true
			}
		}
		return false
	})
}
