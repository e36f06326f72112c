package httpserver

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/gatewatch/gatewatch/internal/device"
	"github.com/gatewatch/gatewatch/internal/model"
)

func dialWS(t *testing.T, router *device.Router, deviceID string) *websocket.Conn {
	t.Helper()
	r := newTestEngine(t, router, nil)
	ts := httptest.NewServer(r)
	t.Cleanup(ts.Close)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?device=" + deviceID
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", wsURL, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) model.Event {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read websocket message: %v", err)
	}
	var ev model.Event
	if err := json.Unmarshal(msg, &ev); err != nil {
		t.Fatalf("unmarshal event: %v", err)
	}
	return ev
}

func TestWebsocket_InitThenLive(t *testing.T) {
	router := newTestRouter(t, nil)

	sendLine(t, router, "fw-hq", "type=traffic subtype=forward srcip=10.0.0.1 action=accept")
	waitTotal(t, router, "fw-hq", 1)

	conn := dialWS(t, router, "fw-hq")

	init := readEvent(t, conn)
	if init.Type != model.EventInit {
		t.Fatalf("first event type = %q, want %q", init.Type, model.EventInit)
	}
	if init.Snapshot == nil || init.Snapshot.Stats.TotalCount != 1 {
		t.Fatalf("init snapshot missing the pre-subscription record: %+v", init.Snapshot)
	}

	sendLine(t, router, "fw-hq", "type=utm subtype=webfilter srcip=10.0.0.2 action=blocked hostname=example.com catdesc=Gambling")
	live := readEvent(t, conn)
	if live.Type != model.EventRecord {
		t.Fatalf("live event type = %q, want %q", live.Type, model.EventRecord)
	}
	if live.Record == nil || live.Record.SrcIP != "10.0.0.2" {
		t.Errorf("live record = %+v, want srcip 10.0.0.2", live.Record)
	}
	if live.Record.Category != "security_web" {
		t.Errorf("live record category = %q, want security_web", live.Record.Category)
	}
}

func TestWebsocket_UnknownDevice(t *testing.T) {
	router := newTestRouter(t, nil)
	r := newTestEngine(t, router, nil)
	ts := httptest.NewServer(r)
	t.Cleanup(ts.Close)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?device=nope"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatal("expected dial to fail for unknown device")
	}
	if resp == nil || resp.StatusCode != 404 {
		t.Errorf("upgrade response = %v, want 404", resp)
	}
}

func TestWebsocket_PauseSuppressesLive(t *testing.T) {
	router := newTestRouter(t, nil)
	conn := dialWS(t, router, "fw-hq")

	if ev := readEvent(t, conn); ev.Type != model.EventInit {
		t.Fatalf("first event type = %q, want init", ev.Type)
	}

	if err := conn.WriteJSON(map[string]any{"type": "pause", "paused": true}); err != nil {
		t.Fatalf("send pause: %v", err)
	}
	// Give the read pump time to apply the pause.
	time.Sleep(100 * time.Millisecond)

	sendLine(t, router, "fw-hq", "type=traffic subtype=forward srcip=10.0.0.9 action=accept")
	waitTotal(t, router, "fw-hq", 1)

	conn.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	if _, msg, err := conn.ReadMessage(); err == nil {
		t.Fatalf("received event while paused: %s", msg)
	}

	// The aggregator keeps counting while this viewer is paused.
	dev, err := router.Get("fw-hq")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got := dev.Stats().TotalCount; got != 1 {
		t.Errorf("paused viewer affected aggregation: total = %d, want 1", got)
	}
}

func TestWebsocket_PingPong(t *testing.T) {
	router := newTestRouter(t, nil)
	conn := dialWS(t, router, "fw-hq")

	if ev := readEvent(t, conn); ev.Type != model.EventInit {
		t.Fatalf("first event type = %q, want init", ev.Type)
	}

	if err := conn.WriteJSON(map[string]string{"type": "ping"}); err != nil {
		t.Fatalf("send ping: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read pong: %v", err)
	}
	var reply struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(msg, &reply); err != nil {
		t.Fatalf("unmarshal pong: %v", err)
	}
	if reply.Type != "pong" {
		t.Errorf("reply type = %q, want pong", reply.Type)
	}
}

func TestWebsocket_DisconnectDetaches(t *testing.T) {
	router := newTestRouter(t, nil)
	conn := dialWS(t, router, "fw-hq")

	if ev := readEvent(t, conn); ev.Type != model.EventInit {
		t.Fatalf("first event type = %q, want init", ev.Type)
	}

	dev, err := router.Get("fw-hq")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if n := dev.SubscriberCount(); n != 1 {
		t.Fatalf("SubscriberCount = %d, want 1", n)
	}

	conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if dev.SubscriberCount() == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("subscriber still attached after close: %d", dev.SubscriberCount())
}

func TestWebsocket_MultipleViewers(t *testing.T) {
	router := newTestRouter(t, nil)

	a := dialWS(t, router, "fw-hq")
	b := dialWS(t, router, "fw-hq")

	for _, conn := range []*websocket.Conn{a, b} {
		if ev := readEvent(t, conn); ev.Type != model.EventInit {
			t.Fatalf("first event type = %q, want init", ev.Type)
		}
	}

	sendLine(t, router, "fw-hq", "type=traffic subtype=forward srcip=10.0.0.3 action=accept")

	for i, conn := range []*websocket.Conn{a, b} {
		ev := readEvent(t, conn)
		if ev.Type != model.EventRecord {
			t.Fatalf("viewer %d event type = %q, want %q", i, ev.Type, model.EventRecord)
		}
		if ev.Record == nil || ev.Record.SrcIP != "10.0.0.3" {
			t.Errorf("viewer %d record = %+v", i, ev.Record)
		}
	}
}

func TestWebsocket_StatsDelta(t *testing.T) {
	infos := []model.DeviceInfo{{ID: "fw-hq", Name: "HQ", Port: freeUDPPort(t)}}
	router, err := device.NewRouter(infos, device.Options{
		Host:          "127.0.0.1",
		StatsInterval: 50 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}
	router.Start()
	t.Cleanup(router.Stop)

	conn := dialWS(t, router, "fw-hq")
	if ev := readEvent(t, conn); ev.Type != model.EventInit {
		t.Fatalf("first event type = %q, want init", ev.Type)
	}

	sendLine(t, router, "fw-hq", "type=traffic subtype=forward srcip=10.0.0.1 action=accept")

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		ev := readEvent(t, conn)
		if ev.Type == model.EventStats {
			if ev.Stats == nil || ev.Stats.TotalCount != 1 {
				t.Fatalf("stats event = %+v, want total 1", ev.Stats)
			}
			return
		}
	}
	t.Fatal("never received a stats_update event")
}
