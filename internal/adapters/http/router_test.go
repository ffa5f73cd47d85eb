package http_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	router "github.com/carelink/signaling/internal/adapters/http"
	"github.com/carelink/signaling/internal/app"
	"github.com/carelink/signaling/internal/config"
	"github.com/carelink/signaling/internal/protocol"
)

func testConfig() *config.Config {
	return &config.Config{
		Mode:       "release",
		CORSOrigin: "*",
		ReadLimit:  65536,
		PingPeriod: 54 * time.Second,
		SendBuffer: 32,
	}
}

func newTestServer(t *testing.T) (*httptest.Server, *app.Coordinator) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	ctx, cancel := context.WithCancel(context.Background())
	coord := app.NewCoordinator(app.NewConnectionRegistry(), app.NewRoomRegistry())
	go coord.Run(ctx)

	srv := httptest.NewServer(router.SetupRouter(ctx, testConfig(), coord))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return srv, coord
}

func dialWS(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/signal"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendMsg(t *testing.T, conn *websocket.Conn, typ protocol.Type, payload any) {
	t.Helper()
	data, err := protocol.Encode(typ, payload)
	if err != nil {
		t.Fatalf("encode %s: %v", typ, err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("write %s: %v", typ, err)
	}
}

func readMsg(t *testing.T, conn *websocket.Conn, want protocol.Type, dst any) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read (want %s): %v", want, err)
	}
	env, err := protocol.Decode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Type != want {
		t.Fatalf("got %q frame, want %q", env.Type, want)
	}
	if dst != nil {
		if err := json.Unmarshal(env.Payload, dst); err != nil {
			t.Fatalf("payload of %s: %v", want, err)
		}
	}
}

func getHealth(t *testing.T, srv *httptest.Server) map[string]any {
	t.Helper()
	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health status = %d", resp.StatusCode)
	}
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode health body: %v", err)
	}
	return body
}

func TestHealthEndpointEmpty(t *testing.T) {
	srv, _ := newTestServer(t)

	body := getHealth(t, srv)
	if body["status"] != "healthy" {
		t.Errorf("status = %v", body["status"])
	}
	for _, k := range []string{"connections", "rooms", "users"} {
		if body[k] != float64(0) {
			t.Errorf("%s = %v, want 0", k, body[k])
		}
	}
}

func TestCallRoundTripOverWebSocket(t *testing.T) {
	srv, _ := newTestServer(t)

	alice := dialWS(t, srv)
	bob := dialWS(t, srv)

	sendMsg(t, alice, protocol.TypeRegister, protocol.Register{UserID: "alice"})
	readMsg(t, alice, protocol.TypeRegistered, nil)
	sendMsg(t, bob, protocol.TypeRegister, protocol.Register{UserID: "bob"})
	readMsg(t, bob, protocol.TypeRegistered, nil)

	offer := json.RawMessage(`{"type":"offer","sdp":"v=0 alice"}`)
	sendMsg(t, alice, protocol.TypeCallRequest, protocol.CallRequest{
		TargetUserID: "bob", Offer: offer, CallerID: "alice",
	})

	var incoming protocol.IncomingCall
	readMsg(t, bob, protocol.TypeIncomingCall, &incoming)
	if incoming.CallerID != "alice" || incoming.RoomID != "alice-bob" {
		t.Fatalf("incoming-call = %+v", incoming)
	}
	if string(incoming.Offer) != string(offer) {
		t.Fatalf("offer altered in transit: %s", incoming.Offer)
	}

	sendMsg(t, bob, protocol.TypeAnswer, protocol.Answer{
		CallerID: "alice", Answer: json.RawMessage(`{"type":"answer"}`), RoomID: incoming.RoomID,
	})
	var answered protocol.CallAnswered
	readMsg(t, alice, protocol.TypeCallAnswered, &answered)
	if answered.RoomID != "alice-bob" {
		t.Fatalf("call-answered = %+v", answered)
	}

	sendMsg(t, bob, protocol.TypeICECandidate, protocol.Candidate{
		RoomID: incoming.RoomID, Candidate: json.RawMessage(`{"candidate":"candidate:1"}`),
	})
	readMsg(t, alice, protocol.TypeICECandidate, nil)

	sendMsg(t, alice, protocol.TypeEndCall, protocol.EndCall{RoomID: incoming.RoomID})
	var endedA, endedB protocol.CallEnded
	readMsg(t, alice, protocol.TypeCallEnded, &endedA)
	readMsg(t, bob, protocol.TypeCallEnded, &endedB)
	if endedA.Duration < 0 || endedA.RoomID != "alice-bob" {
		t.Fatalf("call-ended = %+v", endedA)
	}

	// Teardown settles asynchronously; poll the snapshot briefly.
	deadline := time.Now().Add(2 * time.Second)
	for {
		body := getHealth(t, srv)
		if body["rooms"] == float64(0) && body["users"] == float64(2) && body["connections"] == float64(2) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("health never settled: %v", body)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestOfflineTargetOverWebSocket(t *testing.T) {
	srv, _ := newTestServer(t)

	alice := dialWS(t, srv)
	sendMsg(t, alice, protocol.TypeRegister, protocol.Register{UserID: "alice"})
	readMsg(t, alice, protocol.TypeRegistered, nil)

	sendMsg(t, alice, protocol.TypeCallRequest, protocol.CallRequest{
		TargetUserID: "bob", Offer: json.RawMessage(`{}`), CallerID: "alice",
	})

	var failed protocol.CallFailed
	readMsg(t, alice, protocol.TypeCallFailed, &failed)
	if failed.TargetUserID != "bob" || failed.Reason != app.ReasonOffline {
		t.Fatalf("call-failed = %+v", failed)
	}
}

func TestPeerDisconnectOverWebSocket(t *testing.T) {
	srv, _ := newTestServer(t)

	alice := dialWS(t, srv)
	bob := dialWS(t, srv)

	sendMsg(t, alice, protocol.TypeRegister, protocol.Register{UserID: "alice"})
	readMsg(t, alice, protocol.TypeRegistered, nil)
	sendMsg(t, bob, protocol.TypeRegister, protocol.Register{UserID: "bob"})
	readMsg(t, bob, protocol.TypeRegistered, nil)

	sendMsg(t, alice, protocol.TypeCallRequest, protocol.CallRequest{
		TargetUserID: "bob", Offer: json.RawMessage(`{}`), CallerID: "alice",
	})
	var incoming protocol.IncomingCall
	readMsg(t, bob, protocol.TypeIncomingCall, &incoming)
	sendMsg(t, bob, protocol.TypeAnswer, protocol.Answer{
		CallerID: "alice", Answer: json.RawMessage(`{}`), RoomID: incoming.RoomID,
	})
	readMsg(t, alice, protocol.TypeCallAnswered, nil)

	alice.Close()

	var gone protocol.ParticipantDisconnected
	readMsg(t, bob, protocol.TypeParticipantDisconnected, &gone)
	if gone.UserID != "alice" {
		t.Fatalf("participant-disconnected = %+v", gone)
	}
}
