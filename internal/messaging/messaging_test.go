package messaging

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

const statusEvent = "payment:status-changed"

type payloadSink struct {
	mu       sync.Mutex
	payloads []string
	got      chan struct{}
}

func newPayloadSink() *payloadSink {
	return &payloadSink{got: make(chan struct{}, 16)}
}

func (p *payloadSink) handle(payload []byte) {
	p.mu.Lock()
	p.payloads = append(p.payloads, string(payload))
	p.mu.Unlock()
	p.got <- struct{}{}
}

func (p *payloadSink) snapshot() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.payloads...)
}

func TestNATSSubject(t *testing.T) {
	tests := []struct {
		channel string
		want    string
	}{
		{"viva.kiosk.requests.sess-1", "viva.kiosk.requests.sess-1.payment:status-changed"},
		{"nets.requests.req-1.", "nets.requests.req-1.payment:status-changed"},
	}
	for _, tt := range tests {
		if got := natsSubject(tt.channel, statusEvent); got != tt.want {
			t.Errorf("natsSubject(%q) = %q, want %q", tt.channel, got, tt.want)
		}
	}
}

func TestRedisSubscriber_Deliver(t *testing.T) {
	t.Run("Given an envelope for the event Then the data is handed on", func(t *testing.T) {
		s := NewRedisSubscriber(nil, nil)
		sink := newPayloadSink()

		s.deliver("ch", statusEvent, []byte(`{"event":"payment:status-changed","data":{"status":"Success"}}`), sink.handle)

		got := sink.snapshot()
		if len(got) != 1 || got[0] != `{"status":"Success"}` {
			t.Errorf("unexpected payloads %v", got)
		}
	})

	t.Run("Given another event Then nothing is delivered", func(t *testing.T) {
		s := NewRedisSubscriber(nil, nil)
		sink := newPayloadSink()

		s.deliver("ch", statusEvent, []byte(`{"event":"payment:receipt","data":{}}`), sink.handle)

		if len(sink.snapshot()) != 0 {
			t.Errorf("expected nothing delivered, got %v", sink.snapshot())
		}
	})

	t.Run("Given malformed input Then it is dropped and logged", func(t *testing.T) {
		core, logs := observer.New(zapcore.WarnLevel)
		s := NewRedisSubscriber(nil, zap.New(core))
		sink := newPayloadSink()

		s.deliver("ch", statusEvent, []byte(`not json`), sink.handle)
		s.deliver("ch", statusEvent, []byte(`{"data":{}}`), sink.handle)

		if len(sink.snapshot()) != 0 {
			t.Errorf("expected nothing delivered, got %v", sink.snapshot())
		}
		if logs.FilterMessage("Dropping malformed notification").Len() != 2 {
			t.Errorf("expected 2 warnings, got %d", logs.Len())
		}
	})
}

// pushGateway is a minimal push gateway that replays frames after a subscribe.
type pushGateway struct {
	t          *testing.T
	frames     []string
	mu         sync.Mutex
	subscribed []subscribeMessage
	closed     chan struct{}
}

func (g *pushGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.t.Errorf("upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	var msg subscribeMessage
	if err := conn.ReadJSON(&msg); err != nil {
		g.t.Errorf("read subscribe failed: %v", err)
		return
	}
	g.mu.Lock()
	g.subscribed = append(g.subscribed, msg)
	g.mu.Unlock()

	for _, f := range g.frames {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
			return
		}
	}
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			close(g.closed)
			return
		}
	}
}

func TestWebSocketSubscriber(t *testing.T) {
	// Given
	gateway := &pushGateway{
		t: t,
		frames: []string{
			`{"channel":"viva.kiosk.requests.sess-1","event":"payment:status-changed","data":{"status":"Pending"}}`,
			`garbage`,
			`{"channel":"viva.kiosk.requests.other","event":"payment:status-changed","data":{"status":"Failed"}}`,
			`{"channel":"viva.kiosk.requests.sess-1","event":"payment:status-changed","data":{"status":"Success"}}`,
		},
		closed: make(chan struct{}),
	}
	srv := httptest.NewServer(gateway)
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	sub := NewWebSocketSubscriber(url, "", nil)
	sink := newPayloadSink()

	// When
	unsubscribe, err := sub.Subscribe("viva.kiosk.requests.sess-1", statusEvent, sink.handle)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	for i := 0; i < 2; i++ {
		select {
		case <-sink.got:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for notification %d", i+1)
		}
	}
	unsubscribe()
	unsubscribe()

	// Then
	got := sink.snapshot()
	if len(got) != 2 || got[0] != `{"status":"Pending"}` || got[1] != `{"status":"Success"}` {
		t.Errorf("unexpected payloads %v", got)
	}
	gateway.mu.Lock()
	subscribed := gateway.subscribed
	gateway.mu.Unlock()
	if len(subscribed) != 1 || subscribed[0].Channel != "viva.kiosk.requests.sess-1" || subscribed[0].Event != statusEvent {
		t.Errorf("unexpected subscribe messages %+v", subscribed)
	}
	select {
	case <-gateway.closed:
	case <-time.After(2 * time.Second):
		t.Error("gateway connection was not closed on unsubscribe")
	}
}

func TestWebSocketSubscriber_DialFailure(t *testing.T) {
	sub := NewWebSocketSubscriber("ws://127.0.0.1:1/none", "", nil)

	if _, err := sub.Subscribe("ch", statusEvent, func([]byte) {}); err == nil {
		t.Error("expected dial error")
	}
}
