package internal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/websocket"
	"golang.org/x/crypto/bcrypt"

	"flashchat/internal/auth"
	"flashchat/internal/profile"
	"flashchat/internal/rooms"
	"flashchat/internal/snaps"
	"flashchat/internal/storage"
)

type testServer struct {
	server *Server
	http   *httptest.Server
	clock  *clock.Mock
	engine *snaps.Engine
}

func TestGuestSignInCreatesProfile(t *testing.T) {
	ts := newTestServer(t)

	grant := ts.guest(t)
	if grant.Token == "" || !grant.Identity.Guest || grant.Identity.ID == "" {
		t.Fatalf("unexpected guest grant %+v", grant)
	}
	var p profile.Profile
	ts.call(t, http.MethodGet, "/profile", grant.Token, nil, http.StatusOK, &p)
	if p.ID != grant.Identity.ID || p.DisplayName != profile.DefaultDisplayName(grant.Identity.ID) || p.Bio != profile.DefaultBio {
		t.Fatalf("unexpected default profile %+v", p)
	}
}

func TestSignupLoginLogout(t *testing.T) {
	ts := newTestServer(t)
	creds := credentialsRequest{Email: "Asha@Example.com", Password: "secret1"}

	var signup auth.Grant
	ts.call(t, http.MethodPost, "/auth/signup", "", creds, http.StatusCreated, &signup)
	if signup.Identity.Email != "asha@example.com" || signup.Identity.Guest {
		t.Fatalf("unexpected signup identity %+v", signup.Identity)
	}
	ts.callError(t, http.MethodPost, "/auth/signup", "", creds, http.StatusConflict, "account_exists")
	ts.callError(t, http.MethodPost, "/auth/signup", "", credentialsRequest{Email: "nope", Password: "secret1"}, http.StatusBadRequest, "invalid_email")
	ts.callError(t, http.MethodPost, "/auth/login", "", credentialsRequest{Email: creds.Email, Password: "wrong-pw"}, http.StatusUnauthorized, "invalid_credentials")

	var login auth.Grant
	ts.call(t, http.MethodPost, "/auth/login", "", creds, http.StatusOK, &login)
	if login.Identity.ID != signup.Identity.ID {
		t.Fatalf("login identity %s differs from signup %s", login.Identity.ID, signup.Identity.ID)
	}

	ts.call(t, http.MethodPost, "/auth/logout", login.Token, nil, http.StatusNoContent, nil)
	ts.callError(t, http.MethodGet, "/profile", login.Token, nil, http.StatusUnauthorized, "unauthorized")
	ts.call(t, http.MethodGet, "/profile", signup.Token, nil, http.StatusOK, nil)
}

func TestRequestsWithoutToken(t *testing.T) {
	ts := newTestServer(t)

	ts.callError(t, http.MethodGet, "/rooms", "", nil, http.StatusUnauthorized, "unauthorized")
	ts.callError(t, http.MethodGet, "/rooms", "not-a-token", nil, http.StatusUnauthorized, "unauthorized")
	resp := ts.do(t, http.MethodGet, "/auth/guest", "", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed || resp.Header.Get("Allow") != http.MethodPost {
		t.Fatalf("expected 405 with Allow POST, got %d %q", resp.StatusCode, resp.Header.Get("Allow"))
	}
}

func TestSnapLifecycleOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	sender := ts.guest(t)
	viewer := ts.guest(t)
	messages := "/rooms/" + rooms.PublicRoomID + "/messages"

	ts.callError(t, http.MethodPost, messages, sender.Token, sendRequest{Text: "hi"}, http.StatusForbidden, "profile_incomplete")
	ts.rename(t, sender.Token, "Asha")
	ts.callError(t, http.MethodPost, messages, sender.Token, sendRequest{Text: "   "}, http.StatusBadRequest, "empty_text")

	var sent map[string]string
	ts.call(t, http.MethodPost, messages, sender.Token, sendRequest{Text: "hi"}, http.StatusCreated, &sent)
	id := sent["id"]
	if id == "" {
		t.Fatalf("expected snap id, got %v", sent)
	}

	resp := ts.do(t, http.MethodGet, messages, viewer.Token, nil)
	raw, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if bytes.Contains(raw, []byte(`"text"`)) {
		t.Fatalf("listing leaked snap text: %s", raw)
	}
	var listed snapsResponse
	if err := json.Unmarshal(raw, &listed); err != nil {
		t.Fatalf("decode listing: %v", err)
	}
	if !listed.Room.Public || len(listed.Snaps) != 1 || listed.Snaps[0].Status != snaps.StatusNew || listed.Snaps[0].Prompt != snaps.PromptReveal {
		t.Fatalf("unexpected viewer listing %+v", listed)
	}

	act := messages + "/" + id + "/act"
	var out snaps.Outcome
	ts.call(t, http.MethodPost, act, viewer.Token, nil, http.StatusOK, &out)
	if out.Effect != snaps.EffectViewing || out.Message == nil || out.Message.Text != "hi" {
		t.Fatalf("expected viewing outcome with text, got %+v", out)
	}
	var again snaps.Outcome
	ts.call(t, http.MethodPost, act, viewer.Token, nil, http.StatusOK, &again)
	if again.Effect != snaps.EffectAlreadyViewed || again.Message != nil {
		t.Fatalf("expected already viewed without content, got %+v", again)
	}

	ts.call(t, http.MethodGet, messages, sender.Token, nil, http.StatusOK, &listed)
	if len(listed.Snaps) != 1 || listed.Snaps[0].Status != snaps.StatusSent || !listed.Snaps[0].Mine {
		t.Fatalf("unexpected sender listing %+v", listed.Snaps)
	}

	ts.clock.Add(snaps.DefaultViewWindow)
	waitFor(t, func() bool {
		var after snapsResponse
		ts.call(t, http.MethodGet, messages, viewer.Token, nil, http.StatusOK, &after)
		return len(after.Snaps) == 0
	})

	var counters map[string]float64
	ts.call(t, http.MethodGet, "/metrics", "", nil, http.StatusOK, &counters)
	if counters["snaps_sent_total"] != 1 || counters["snaps_viewed_total"] != 1 || counters["already_viewed_total"] != 1 {
		t.Fatalf("unexpected metrics %v", counters)
	}
}

func TestDeleteSnapRequiresSender(t *testing.T) {
	ts := newTestServer(t)
	sender := ts.guest(t)
	viewer := ts.guest(t)
	ts.rename(t, sender.Token, "Asha")
	messages := "/rooms/" + rooms.PublicRoomID + "/messages"

	var sent map[string]string
	ts.call(t, http.MethodPost, messages, sender.Token, sendRequest{Text: "gone soon"}, http.StatusCreated, &sent)
	snapPath := messages + "/" + sent["id"]

	ts.callError(t, http.MethodDelete, snapPath, viewer.Token, nil, http.StatusForbidden, "not_sender")
	ts.call(t, http.MethodDelete, snapPath, sender.Token, nil, http.StatusNoContent, nil)
	ts.call(t, http.MethodDelete, snapPath, sender.Token, nil, http.StatusNoContent, nil)
	ts.callError(t, http.MethodPost, snapPath+"/act", viewer.Token, nil, http.StatusNotFound, "snap_not_found")
}

func TestPrivateRoomsOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	owner := ts.guest(t)
	guest := ts.guest(t)
	ts.rename(t, owner.Token, "Asha")

	ts.callError(t, http.MethodPost, "/rooms", owner.Token, createRoomRequest{Name: "Study"}, http.StatusForbidden, "premium_required")
	var p profile.Profile
	ts.call(t, http.MethodPost, "/profile/premium", owner.Token, nil, http.StatusOK, &p)
	if !p.IsPremium {
		t.Fatalf("expected premium after toggle, got %+v", p)
	}
	ts.callError(t, http.MethodPost, "/rooms", owner.Token, createRoomRequest{Name: " ab "}, http.StatusBadRequest, "invalid_room_name")

	var room roomDTO
	ts.call(t, http.MethodPost, "/rooms", owner.Token, createRoomRequest{Name: "Study"}, http.StatusCreated, &room)
	if room.ID == "" || room.Name != "Study" || room.CreatorName != "Asha" || room.Members != 1 || room.Public {
		t.Fatalf("unexpected room %+v", room)
	}

	messages := "/rooms/" + room.ID + "/messages"
	ts.callError(t, http.MethodGet, messages, guest.Token, nil, http.StatusForbidden, "not_member")
	ts.callError(t, http.MethodPost, "/rooms/missing-room/join", guest.Token, nil, http.StatusNotFound, "room_not_found")

	var summary rooms.Summary
	ts.call(t, http.MethodPost, "/rooms/"+room.ID+"/join", guest.Token, nil, http.StatusOK, &summary)
	if summary.ID != room.ID || summary.Name != "Study" {
		t.Fatalf("unexpected join summary %+v", summary)
	}
	ts.call(t, http.MethodGet, messages, guest.Token, nil, http.StatusOK, nil)

	var list roomsResponse
	ts.call(t, http.MethodGet, "/rooms", guest.Token, nil, http.StatusOK, &list)
	if len(list.Rooms) != 2 || !list.Rooms[0].Public || list.Rooms[1].ID != room.ID || list.Rooms[1].Members != 2 {
		t.Fatalf("unexpected room list %+v", list.Rooms)
	}

	enabled := false
	ts.call(t, http.MethodPost, "/profile/premium", owner.Token, premiumRequest{Enabled: &enabled}, http.StatusOK, &p)
	if p.IsPremium {
		t.Fatalf("expected explicit premium=false, got %+v", p)
	}
}

func TestSearchUsersMarksOnline(t *testing.T) {
	ts := newTestServer(t)
	asha := ts.guest(t)
	ashok := ts.guest(t)
	searcher := ts.guest(t)
	ts.rename(t, asha.Token, "Asha")
	ts.rename(t, ashok.Token, "Ashok")
	ts.rename(t, searcher.Token, "Ashley")

	search := func() []userDTO {
		var resp map[string][]userDTO
		ts.call(t, http.MethodGet, "/users?prefix=Ash", searcher.Token, nil, http.StatusOK, &resp)
		return resp["users"]
	}
	users := search()
	if len(users) != 2 || users[0].DisplayName != "Asha" || users[1].DisplayName != "Ashok" {
		t.Fatalf("expected Asha and Ashok without the searcher, got %+v", users)
	}
	if users[0].Online || users[1].Online {
		t.Fatalf("nobody is connected yet: %+v", users)
	}

	ts.dial(t, asha.Token, "")
	waitFor(t, func() bool {
		users := search()
		return len(users) == 2 && users[0].Online && !users[1].Online
	})
}

func TestStreamDeliversSnapshotsAndCommands(t *testing.T) {
	ts := newTestServer(t)
	sender := ts.guest(t)
	viewer := ts.guest(t)

	senderConn := ts.dial(t, sender.Token, "")
	readFrame(t, senderConn, func(f StreamFrame) bool {
		return f.Type == frameSnapshot && f.Room != nil && f.Room.ID == rooms.PublicRoomID && len(f.Snaps) == 0
	})

	writeCommand(t, senderConn, StreamCommand{Type: commandSend, Text: "too early"})
	errFrame := readFrame(t, senderConn, func(f StreamFrame) bool { return f.Type == frameError })
	if errFrame.Code != "profile_incomplete" {
		t.Fatalf("expected profile_incomplete, got %+v", errFrame)
	}

	writeCommand(t, senderConn, StreamCommand{Type: commandProfile, Name: "Asha", Bio: "hello"})
	readFrame(t, senderConn, func(f StreamFrame) bool {
		return f.Type == frameProfile && f.Profile != nil && f.Profile.DisplayName == "Asha"
	})

	writeCommand(t, senderConn, StreamCommand{Type: commandSend, Text: "peek"})
	got := readFrames(t, senderConn,
		func(f StreamFrame) bool { return f.Type == frameSent && f.ID != "" },
		func(f StreamFrame) bool { return f.Type == frameSnapshot && len(f.Snaps) == 1 && f.Snaps[0].Mine },
	)
	id := got[0].ID
	if got[1].Snaps[0].ID != id || got[1].Snaps[0].Status != snaps.StatusSent {
		t.Fatalf("sender snapshot does not show the sent snap: %+v", got[1].Snaps)
	}

	viewerConn := ts.dial(t, viewer.Token, rooms.PublicRoomID)
	readFrame(t, viewerConn, func(f StreamFrame) bool {
		return f.Type == frameSnapshot && len(f.Snaps) == 1 && f.Snaps[0].Status == snaps.StatusNew
	})
	writeCommand(t, viewerConn, StreamCommand{Type: commandAct, ID: id})
	got = readFrames(t, viewerConn,
		func(f StreamFrame) bool { return f.Type == frameOutcome },
		func(f StreamFrame) bool {
			return f.Type == frameSnapshot && len(f.Snaps) == 1 && f.Snaps[0].Status == snaps.StatusViewed && !f.Snaps[0].Actionable
		},
	)
	outcome := got[0].Outcome
	if outcome == nil || outcome.Effect != snaps.EffectViewing || outcome.Message == nil || outcome.Message.Text != "peek" {
		t.Fatalf("expected viewing outcome with text, got %+v", outcome)
	}

	ts.clock.Add(snaps.DefaultViewWindow)
	readFrame(t, senderConn, func(f StreamFrame) bool {
		return f.Type == frameSnapshot && len(f.Snaps) == 0
	})

	writeCommand(t, viewerConn, StreamCommand{Type: "shout"})
	errFrame = readFrame(t, viewerConn, func(f StreamFrame) bool { return f.Type == frameError })
	if errFrame.Code != "bad_request" {
		t.Fatalf("expected bad_request for unknown command, got %+v", errFrame)
	}
}

func TestStreamRoomCommands(t *testing.T) {
	ts := newTestServer(t)
	owner := ts.guest(t)
	joiner := ts.guest(t)
	ts.rename(t, owner.Token, "Asha")

	ownerConn := ts.dial(t, owner.Token, "")
	writeCommand(t, ownerConn, StreamCommand{Type: commandPremium})
	readFrame(t, ownerConn, func(f StreamFrame) bool {
		return f.Type == frameProfile && f.Profile != nil && f.Profile.IsPremium
	})
	writeCommand(t, ownerConn, StreamCommand{Type: commandCreate, Name: "Night Owls"})
	created := readFrame(t, ownerConn, func(f StreamFrame) bool { return f.Type == frameRoom })
	if created.Room == nil || created.Room.Name != "Night Owls" || !strings.Contains(created.Text, created.Room.ID) {
		t.Fatalf("expected room frame announcing the id, got %+v", created)
	}
	roomID := created.Room.ID

	joinerConn := ts.dial(t, joiner.Token, "")
	writeCommand(t, joinerConn, StreamCommand{Type: commandSwitch, Room: roomID})
	errFrame := readFrame(t, joinerConn, func(f StreamFrame) bool { return f.Type == frameError })
	if errFrame.Code != "not_member" {
		t.Fatalf("expected not_member, got %+v", errFrame)
	}
	writeCommand(t, joinerConn, StreamCommand{Type: commandJoin, Room: roomID})
	readFrame(t, joinerConn, func(f StreamFrame) bool {
		return f.Type == frameSnapshot && f.Room != nil && f.Room.ID == roomID
	})
	writeCommand(t, joinerConn, StreamCommand{Type: commandLeave})
	readFrame(t, joinerConn, func(f StreamFrame) bool {
		return f.Type == frameRoom && f.Room != nil && f.Room.ID == rooms.PublicRoomID
	})

	rejoined := ts.dial(t, joiner.Token, roomID)
	readFrame(t, rejoined, func(f StreamFrame) bool {
		return f.Type == frameSnapshot && f.Room != nil && f.Room.ID == roomID
	})
}

func TestLogoutClosesStreams(t *testing.T) {
	ts := newTestServer(t)
	grant := ts.guest(t)
	conn := ts.dial(t, grant.Token, "")
	readFrame(t, conn, func(f StreamFrame) bool { return f.Type == frameSnapshot })

	ts.call(t, http.MethodPost, "/auth/logout", grant.Token, nil, http.StatusNoContent, nil)
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		_, _, err := conn.ReadMessage()
		if err == nil {
			continue
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			t.Fatalf("stream stayed open after logout")
		}
		break
	}
	waitFor(t, func() bool { return ts.server.streams.Count() == 0 })

	resp := ts.do(t, http.MethodGet, "/join?token="+grant.Token, "", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for revoked token on stream, got %d", resp.StatusCode)
	}
}

func TestAuthEndpointsAreRateLimited(t *testing.T) {
	ts := newTestServer(t)
	for i := 0; i < authRateLimit; i++ {
		ts.guest(t)
	}
	ts.callError(t, http.MethodPost, "/auth/guest", "", nil, http.StatusTooManyRequests, "rate_limited")
	ts.clock.Add(authRateWindow)
	ts.guest(t)
}

func TestAuthRateLimitIgnoresForwardedFor(t *testing.T) {
	ts := newTestServer(t)
	for i := 0; i <= authRateLimit; i++ {
		req, err := http.NewRequest(http.MethodPost, ts.http.URL+"/auth/guest", nil)
		if err != nil {
			t.Fatalf("new request: %v", err)
		}
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("203.0.113.%d", i))
		resp, err := ts.http.Client().Do(req)
		if err != nil {
			t.Fatalf("guest sign-in: %v", err)
		}
		resp.Body.Close()
		want := http.StatusCreated
		if i == authRateLimit {
			want = http.StatusTooManyRequests
		}
		if resp.StatusCode != want {
			t.Fatalf("request %d: expected %d, got %d", i, want, resp.StatusCode)
		}
	}
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{fmt.Errorf("send: %w", snaps.ErrNotMember), http.StatusForbidden, "not_member"},
		{profile.ErrProfileIncomplete, http.StatusForbidden, "profile_incomplete"},
		{fmt.Errorf("join: %w", rooms.ErrRoomNotFound), http.StatusNotFound, "room_not_found"},
		{auth.ErrAccountExists, http.StatusConflict, "account_exists"},
		{profile.ErrReservedName, http.StatusBadRequest, "reserved_name"},
		{errRateLimited, http.StatusTooManyRequests, "rate_limited"},
		{errors.New("disk on fire"), http.StatusInternalServerError, "internal"},
	}
	for _, tc := range cases {
		status, code := statusFor(tc.err)
		if status != tc.status || code != tc.code {
			t.Fatalf("statusFor(%v) = %d %s, want %d %s", tc.err, status, code, tc.status, tc.code)
		}
	}

	rec := httptest.NewRecorder()
	writeError(rec, errors.New("secret detail"))
	if rec.Code != http.StatusInternalServerError || strings.Contains(rec.Body.String(), "secret detail") {
		t.Fatalf("internal errors must be masked, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestBearerToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/rooms", nil)
	req.Header.Set("Authorization", "Bearer  abc ")
	if got := bearerToken(req); got != "abc" {
		t.Fatalf("expected header token, got %q", got)
	}
	req = httptest.NewRequest(http.MethodGet, "/join?token=xyz", nil)
	if got := bearerToken(req); got != "xyz" {
		t.Fatalf("expected query token, got %q", got)
	}
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store := storage.NewMemoryStore()
	clk := clock.NewMock()
	clk.Set(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	registry := rooms.NewRegistry(store, clk)
	gate := profile.NewGate(store, clk)
	engine := snaps.NewEngine(store, registry, snaps.Options{Clock: clk, Logger: logger})
	directory := auth.NewDirectory(store, auth.Options{Clock: clk, BcryptCost: bcrypt.MinCost})
	server := NewServer(ServerDeps{
		Engine:    engine,
		Registry:  registry,
		Gate:      gate,
		Directory: directory,
		Logger:    logger,
		Clock:     clk,
	})
	httpServer := httptest.NewServer(server.Handler("/join"))
	t.Cleanup(func() {
		server.Shutdown()
		httpServer.Close()
		engine.Close()
		_ = store.Close()
	})
	return &testServer{server: server, http: httpServer, clock: clk, engine: engine}
}

func (ts *testServer) do(t *testing.T, method, path, token string, body interface{}) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("encode body: %v", err)
		}
		reader = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(context.Background(), method, ts.http.URL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := ts.http.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

// call asserts the status of a request and decodes its body into out when set.
func (ts *testServer) call(t *testing.T, method, path, token string, body interface{}, wantStatus int, out interface{}) {
	t.Helper()
	resp := ts.do(t, method, path, token, body)
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != wantStatus {
		t.Fatalf("%s %s: expected %d, got %d: %s", method, path, wantStatus, resp.StatusCode, raw)
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			t.Fatalf("%s %s: decode %s: %v", method, path, raw, err)
		}
	}
}

func (ts *testServer) callError(t *testing.T, method, path, token string, body interface{}, wantStatus int, wantCode string) {
	t.Helper()
	var resp errorResponse
	ts.call(t, method, path, token, body, wantStatus, &resp)
	if resp.Code != wantCode {
		t.Fatalf("%s %s: expected code %s, got %+v", method, path, wantCode, resp)
	}
}

func (ts *testServer) guest(t *testing.T) auth.Grant {
	t.Helper()
	var grant auth.Grant
	ts.call(t, http.MethodPost, "/auth/guest", "", nil, http.StatusCreated, &grant)
	return grant
}

func (ts *testServer) rename(t *testing.T, token, name string) {
	t.Helper()
	ts.call(t, http.MethodPut, "/profile", token, profileRequest{DisplayName: name}, http.StatusOK, nil)
}

func (ts *testServer) dial(t *testing.T, token, room string) *websocket.Conn {
	t.Helper()
	base := "ws" + strings.TrimPrefix(ts.http.URL, "http") + "/join"
	joinURL, err := buildJoinURL(base, room, token)
	if err != nil {
		t.Fatalf("build join url: %v", err)
	}
	conn, _, err := websocket.DefaultDialer.Dial(joinURL, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", joinURL, err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func writeCommand(t *testing.T, conn *websocket.Conn, command StreamCommand) {
	t.Helper()
	if err := conn.WriteJSON(command); err != nil {
		t.Fatalf("write %s: %v", command.Type, err)
	}
}

// readFrame skips frames until match accepts one.
func readFrame(t *testing.T, conn *websocket.Conn, match func(StreamFrame) bool) StreamFrame {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		_ = conn.SetReadDeadline(deadline)
		var frame StreamFrame
		if err := conn.ReadJSON(&frame); err != nil {
			t.Fatalf("read frame: %v", err)
		}
		if match(frame) {
			return frame
		}
	}
}

// readFrames reads until every matcher has accepted a frame, in any order,
// and returns the accepted frames in matcher order.
func readFrames(t *testing.T, conn *websocket.Conn, matchers ...func(StreamFrame) bool) []StreamFrame {
	t.Helper()
	found := make([]StreamFrame, len(matchers))
	done := make([]bool, len(matchers))
	remaining := len(matchers)
	deadline := time.Now().Add(3 * time.Second)
	for remaining > 0 {
		_ = conn.SetReadDeadline(deadline)
		var frame StreamFrame
		if err := conn.ReadJSON(&frame); err != nil {
			t.Fatalf("read frame: %v", err)
		}
		for i, match := range matchers {
			if !done[i] && match(frame) {
				found[i], done[i] = frame, true
				remaining--
				break
			}
		}
	}
	return found
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met before deadline")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
