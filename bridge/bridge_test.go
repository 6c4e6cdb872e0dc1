package bridge

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hazyhaar/treewatch/wire"
)

// collect returns a handler appending to a guarded slice and a getter.
func collect() (Handler, func() []wire.Message) {
	var mu sync.Mutex
	var got []wire.Message
	h := func(_ context.Context, msg wire.Message) {
		mu.Lock()
		got = append(got, msg)
		mu.Unlock()
	}
	return h, func() []wire.Message {
		mu.Lock()
		defer mu.Unlock()
		return append([]wire.Message(nil), got...)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestPipe_PreservesOrder(t *testing.T) {
	a, b := NewPipe()
	t.Cleanup(func() { a.Close() })

	h, got := collect()
	b.Listen(h)

	ctx := context.Background()
	for i := 1; i <= 50; i++ {
		if err := a.Send(ctx, wire.Message{Event: wire.EventOperation, Payload: wire.Update(wire.ID(i))}); err != nil {
			t.Fatal(err)
		}
	}
	waitFor(t, func() bool { return len(got()) == 50 })
	for i, m := range got() {
		if op := m.Payload.(wire.Operation); op.ID != wire.ID(i+1) {
			t.Fatalf("message %d: got id %d, want %d", i, op.ID, i+1)
		}
	}
}

func TestPipe_SendAfterClose(t *testing.T) {
	a, b := NewPipe()
	b.Close()
	if err := a.Send(context.Background(), wire.Message{Event: wire.EventEndOfTree}); !errors.Is(err, ErrClosed) {
		t.Fatalf("send after close: got %v, want ErrClosed", err)
	}
}

func TestListen_Unsubscribe(t *testing.T) {
	r := &Recorder{}
	h, got := collect()
	unsub := r.Listen(h)
	r.Inject(context.Background(), wire.Message{Event: wire.EventRequestTree})
	unsub()
	unsub()
	r.Inject(context.Background(), wire.Message{Event: wire.EventRequestTree})
	if n := len(got()); n != 1 {
		t.Fatalf("deliveries: got %d, want 1", n)
	}
}

func TestStream_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	out := NewStream(nil, &buf, nil)
	ctx := context.Background()
	out.Send(ctx, wire.Message{Event: wire.EventOperation, Payload: wire.Delete(4)})
	out.Send(ctx, wire.Message{Event: wire.EventEndSynchronization, Payload: "tok"})

	if lines := strings.Count(buf.String(), "\n"); lines != 2 {
		t.Fatalf("lines: got %d, want 2", lines)
	}

	in := NewStream(strings.NewReader(buf.String()+"garbage\n"), io.Discard, nil)
	h, got := collect()
	in.Listen(h)
	if err := in.Run(ctx); err != nil {
		t.Fatal(err)
	}
	msgs := got()
	if len(msgs) != 2 {
		t.Fatalf("messages: got %d, want 2", len(msgs))
	}
	if msgs[1].Payload != "tok" {
		t.Fatalf("token: got %v", msgs[1].Payload)
	}
}

func TestStream_SendAfterClose(t *testing.T) {
	s := NewStream(nil, io.Discard, nil)
	s.Close()
	if err := s.Send(context.Background(), wire.Message{Event: wire.EventEndOfTree}); !errors.Is(err, ErrClosed) {
		t.Fatalf("got %v, want ErrClosed", err)
	}
}

func TestWebSocket_BothDirections(t *testing.T) {
	for _, codec := range []wire.Codec{wire.JSON, wire.CBOR} {
		t.Run(codec.Name(), func(t *testing.T) {
			serverSide := make(chan *WebSocket, 1)
			upgrader := websocket.Upgrader{}
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				conn, err := upgrader.Upgrade(w, r, nil)
				if err != nil {
					t.Error(err)
					return
				}
				serverSide <- NewWebSocket(conn, WebSocketConfig{Codec: codec})
			}))
			t.Cleanup(srv.Close)

			url := "ws" + strings.TrimPrefix(srv.URL, "http")
			client, err := Dial(context.Background(), url, WebSocketConfig{Codec: codec})
			if err != nil {
				t.Fatal(err)
			}
			t.Cleanup(func() { client.Close() })
			server := <-serverSide
			t.Cleanup(func() { server.Close() })

			fromServer, gotClient := collect()
			client.Listen(fromServer)
			fromClient, gotServer := collect()
			server.Listen(fromClient)

			ctx := context.Background()
			server.Send(ctx, wire.Message{Event: wire.EventOperation, Payload: wire.Create(wire.Node{ID: 1, Name: "Root", Kind: wire.KindContainer})})
			client.Send(ctx, wire.Message{Event: wire.EventDevtoolsInitialized})

			waitFor(t, func() bool { return len(gotClient()) == 1 && len(gotServer()) == 1 })
			if op := gotClient()[0].Payload.(wire.Operation); op.Name != "Root" {
				t.Fatalf("operation: got %+v", op)
			}
			if ev := gotServer()[0].Event; ev != wire.EventDevtoolsInitialized {
				t.Fatalf("event: got %s", ev)
			}
		})
	}
}

func TestWebSocket_CloseSendsCloseFrame(t *testing.T) {
	readErr := make(chan error, 1)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Error(err)
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				readErr <- err
				return
			}
		}
	}))
	t.Cleanup(srv.Close)

	client, err := Dial(context.Background(), "ws"+strings.TrimPrefix(srv.URL, "http"), WebSocketConfig{})
	if err != nil {
		t.Fatal(err)
	}
	client.Close()

	select {
	case err := <-readErr:
		if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
			t.Fatalf("server read: got %v, want a normal close frame", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server never saw the connection end")
	}
}

func TestRouter_FanOutAndMerge(t *testing.T) {
	a, b := &Recorder{}, &Recorder{}
	r := NewRouter(nil, a, b)
	h, got := collect()
	r.Listen(h)

	ctx := context.Background()
	r.Send(ctx, wire.Message{Event: wire.EventEndOfTree})
	if len(a.Sent()) != 1 || len(b.Sent()) != 1 {
		t.Fatalf("fan-out: got %d/%d, want 1/1", len(a.Sent()), len(b.Sent()))
	}

	b.Inject(ctx, wire.Message{Event: wire.EventRequestTree})
	if len(got()) != 1 {
		t.Fatalf("merge: got %d, want 1", len(got()))
	}

	r.Remove(b)
	b.Inject(ctx, wire.Message{Event: wire.EventRequestTree})
	r.Send(ctx, wire.Message{Event: wire.EventEndOfTree})
	if len(got()) != 1 || len(b.Sent()) != 1 || r.Len() != 1 {
		t.Fatalf("after remove: inbound %d, b sent %d, members %d", len(got()), len(b.Sent()), r.Len())
	}
}

func TestRouter_ErrorDoesNotBlockOthers(t *testing.T) {
	closed := &Recorder{}
	closed.Close()
	ok := &Recorder{}
	r := NewRouter(nil, closed, ok)
	err := r.Send(context.Background(), wire.Message{Event: wire.EventEndOfTree})
	if !errors.Is(err, ErrClosed) {
		t.Fatalf("got %v, want ErrClosed", err)
	}
	if len(ok.Sent()) != 1 {
		t.Fatal("healthy member did not receive the message")
	}
}
