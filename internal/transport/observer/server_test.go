package observer

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"colonysim.ai/internal/observerproto"
	"colonysim.ai/internal/sim/colony"
)

type stubColony struct {
	join  chan colony.ObserverJoinRequest
	sub   chan colony.ObserverSubscribeRequest
	leave chan string
}

func newStubColony() *stubColony {
	return &stubColony{
		join:  make(chan colony.ObserverJoinRequest, 4),
		sub:   make(chan colony.ObserverSubscribeRequest, 4),
		leave: make(chan string, 4),
	}
}

func (c *stubColony) Bootstrap() observerproto.BootstrapResponse {
	return observerproto.BootstrapResponse{
		ProtocolVersion: observerproto.Version,
		ColonyID:        "colony_1",
		Airlocks:        []observerproto.AirlockInfo{{ID: "hab-L1", HostID: "hab", Capacity: 4}},
	}
}
func (c *stubColony) ObserverJoin() chan<- colony.ObserverJoinRequest           { return c.join }
func (c *stubColony) ObserverSubscribe() chan<- colony.ObserverSubscribeRequest { return c.sub }
func (c *stubColony) ObserverLeave() chan<- string                              { return c.leave }

func TestBootstrapHandler(t *testing.T) {
	s := NewServer(newStubColony(), nil)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/admin/v1/observer/bootstrap", nil)
	req.RemoteAddr = "127.0.0.1:5000"
	s.BootstrapHandler()(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d", rec.Code)
	}
	var resp observerproto.BootstrapResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.ColonyID != "colony_1" || len(resp.Airlocks) != 1 {
		t.Fatalf("resp=%+v", resp)
	}

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/admin/v1/observer/bootstrap", nil)
	req.RemoteAddr = "10.1.2.3:5000"
	s.BootstrapHandler()(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("non-loopback status=%d", rec.Code)
	}
}

func TestWSHandler_SubscribeStreamAndLeave(t *testing.T) {
	c := newStubColony()
	srv := httptest.NewServer(NewServer(c, nil).WSHandler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	sub := observerproto.SubscribeMsg{
		Type:            "SUBSCRIBE",
		ProtocolVersion: observerproto.Version,
		AirlockIDs:      []string{" hab-L1 ", ""},
		Events:          true,
		EveryTicks:      9999,
	}
	if err := conn.WriteJSON(sub); err != nil {
		t.Fatalf("write subscribe: %v", err)
	}

	var join colony.ObserverJoinRequest
	select {
	case join = <-c.join:
	case <-time.After(2 * time.Second):
		t.Fatalf("no join request")
	}
	if len(join.AirlockIDs) != 1 || join.AirlockIDs[0] != "hab-L1" || !join.Events || join.EveryTicks != 600 {
		t.Fatalf("join=%+v", join)
	}

	join.TickOut <- []byte(`{"type":"TICK","tick":7}`)
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read tick: %v", err)
	}
	if !strings.Contains(string(msg), `"tick":7`) {
		t.Fatalf("msg=%s", msg)
	}

	sub.AirlockIDs = nil
	sub.EveryTicks = 5
	if err := conn.WriteJSON(sub); err != nil {
		t.Fatalf("write resubscribe: %v", err)
	}
	select {
	case upd := <-c.sub:
		if upd.SessionID != join.SessionID || upd.EveryTicks != 5 || len(upd.AirlockIDs) != 0 {
			t.Fatalf("update=%+v", upd)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no subscribe update")
	}

	_ = conn.Close()
	select {
	case id := <-c.leave:
		if id != join.SessionID {
			t.Fatalf("leave id=%q want %q", id, join.SessionID)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no leave")
	}
}

func TestWSHandler_RejectsWrongVersion(t *testing.T) {
	c := newStubColony()
	srv := httptest.NewServer(NewServer(c, nil).WSHandler())
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.WriteJSON(observerproto.SubscribeMsg{Type: "SUBSCRIBE", ProtocolVersion: "9.9"})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Fatalf("expected policy violation close, got %v", err)
	}
	if len(c.join) != 0 {
		t.Fatalf("join should not be sent")
	}
}
