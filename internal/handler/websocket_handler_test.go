package handler_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Baaaki/teamchat/internal/feed"
	"github.com/Baaaki/teamchat/internal/models"
	"github.com/Baaaki/teamchat/internal/realtime"
	"github.com/Baaaki/teamchat/internal/service"
	"github.com/Baaaki/teamchat/internal/testutil"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func wsURL(srv *httptest.Server, token string) string {
	u := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws"
	if token != "" {
		u += "?token=" + token
	}
	return u
}

func dialWS(t *testing.T, srv *httptest.Server, token string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, token), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func sendWS(t *testing.T, conn *websocket.Conn, typ realtime.RequestType, requestID, stream string, data any) {
	t.Helper()
	req := realtime.Request{Type: typ, RequestID: requestID, Stream: stream}
	if data != nil {
		raw, err := json.Marshal(data)
		require.NoError(t, err)
		req.Data = raw
	}
	require.NoError(t, conn.WriteJSON(req))
}

// readUntil returns the first frame matching match, failing after 3s.
func readUntil(t *testing.T, conn *websocket.Conn, match func(realtime.Response) bool) realtime.Response {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		var resp realtime.Response
		require.NoError(t, conn.ReadJSON(&resp))
		if match(resp) {
			return resp
		}
	}
}

func ackFor(requestID string) func(realtime.Response) bool {
	return func(r realtime.Response) bool {
		return r.Type == realtime.ResponseAck && r.RequestID == requestID
	}
}

func isEvent(r realtime.Response) bool { return r.Type == realtime.ResponseEvent }

type subscribeAck struct {
	Stream  string `json:"stream"`
	Created bool   `json:"created"`
}

func TestWebSocket_RequiresToken(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.router)
	defer srv.Close()

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, ""), nil)

	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestWebSocket_ChannelMessagesReachSubscribers(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.router)
	defer srv.Close()

	alice := testutil.CreateTestUser(t, s.db, "alice", models.RoleEmployee)
	bob := testutil.CreateTestUser(t, s.db, "bob", models.RoleEmployee)
	channel := testutil.CreateTestChannel(t, s.db, "general", models.ChannelPublic, alice)
	testutil.AddTestMember(t, s.db, channel, bob, models.MemberMember)
	key := string(feed.ChannelKey(channel.ID))

	bobConn := dialWS(t, srv, s.tokenFor(t, bob))
	sendWS(t, bobConn, realtime.RequestSubscribe, "s1", key, nil)
	ack := readUntil(t, bobConn, ackFor("s1"))
	require.Equal(t, realtime.StatusConfirmed, ack.Status)
	var sub subscribeAck
	require.NoError(t, json.Unmarshal(ack.Data, &sub))
	assert.Equal(t, key, sub.Stream)
	assert.True(t, sub.Created)

	// Connecting marked bob online
	st, err := s.presence.GetUserStatus(context.Background(), bob.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusOnline, st.Status)

	// A second subscribe keeps the first and warns
	sendWS(t, bobConn, realtime.RequestSubscribe, "s2", key, nil)
	warning := readUntil(t, bobConn, func(r realtime.Response) bool { return r.Type == realtime.ResponseWarning })
	assert.Equal(t, "s2", warning.RequestID)
	ack = readUntil(t, bobConn, ackFor("s2"))
	require.NoError(t, json.Unmarshal(ack.Data, &sub))
	assert.False(t, sub.Created)
	assert.True(t, s.hub.IsViewing(bob.ID, feed.ChannelKey(channel.ID)))

	aliceConn := dialWS(t, srv, s.tokenFor(t, alice))
	sendWS(t, aliceConn, realtime.RequestSendMessage, "m1", "", map[string]any{
		"channel_id": channel.ID,
		"content":    "hello bob",
	})
	ack = readUntil(t, aliceConn, ackFor("m1"))
	require.Equal(t, realtime.StatusConfirmed, ack.Status, ack.Error)
	var sent models.Message
	require.NoError(t, json.Unmarshal(ack.Data, &sent))
	assert.Equal(t, "hello bob", sent.Content)

	frame := readUntil(t, bobConn, isEvent)
	assert.Equal(t, feed.ChannelKey(channel.ID), frame.Stream)
	require.NotNil(t, frame.Event)
	change, err := feed.Decode[models.Message](*frame.Event)
	require.NoError(t, err)
	assert.Equal(t, feed.Insert, change.Kind)
	assert.Equal(t, sent.ID, change.New.ID)

	// After unsubscribing nothing more arrives for the stream
	sendWS(t, bobConn, realtime.RequestUnsubscribe, "u1", key, nil)
	readUntil(t, bobConn, ackFor("u1"))
	assert.False(t, s.hub.IsViewing(bob.ID, feed.ChannelKey(channel.ID)))

	sendWS(t, aliceConn, realtime.RequestSendMessage, "m2", "", map[string]any{
		"channel_id": channel.ID,
		"content":    "still there?",
	})
	readUntil(t, aliceConn, ackFor("m2"))

	sendWS(t, bobConn, realtime.RequestHeartbeat, "h1", "", nil)
	readUntil(t, bobConn, func(r realtime.Response) bool {
		require.NotEqual(t, realtime.ResponseEvent, r.Type)
		return r.Type == realtime.ResponseAck && r.RequestID == "h1"
	})
}

func TestWebSocket_FailedAcks(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.router)
	defer srv.Close()

	alice := testutil.CreateTestUser(t, s.db, "alice", models.RoleEmployee)
	bob := testutil.CreateTestUser(t, s.db, "bob", models.RoleEmployee)
	carol := testutil.CreateTestUser(t, s.db, "carol", models.RoleEmployee)
	secret := testutil.CreateTestChannel(t, s.db, "secret", models.ChannelPrivate, alice)

	conn := dialWS(t, srv, s.tokenFor(t, bob))

	cases := []struct {
		requestID string
		typ       realtime.RequestType
		stream    string
		code      string
	}{
		{"private", realtime.RequestSubscribe, string(feed.ChannelKey(secret.ID)), "forbidden"},
		{"others-dm", realtime.RequestSubscribe, string(feed.DirectKey(alice.ID, carol.ID)), "forbidden"},
		{"others-notifications", realtime.RequestSubscribe, string(feed.NotificationKey(alice.ID)), "forbidden"},
		{"bad-key", realtime.RequestSubscribe, "messages:nope", "validation"},
		{"unknown", realtime.RequestType("dance"), "", "validation"},
		{"no-data", realtime.RequestSendMessage, "", "validation"},
	}
	for _, tc := range cases {
		sendWS(t, conn, tc.typ, tc.requestID, tc.stream, nil)
		ack := readUntil(t, conn, ackFor(tc.requestID))
		assert.Equal(t, realtime.StatusFailed, ack.Status, tc.requestID)
		assert.Equal(t, tc.code, ack.Code, tc.requestID)
		assert.NotEmpty(t, ack.Error, tc.requestID)
		assert.NotEmpty(t, ack.ErrorAr, tc.requestID)
	}

	// A malformed frame is answered without closing the session
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	ack := readUntil(t, conn, func(r realtime.Response) bool { return r.Type == realtime.ResponseAck })
	assert.Equal(t, realtime.StatusFailed, ack.Status)
	assert.Empty(t, ack.RequestID)

	sendWS(t, conn, realtime.RequestSubscribe, "presence", string(feed.PresenceKey), nil)
	assert.Equal(t, realtime.StatusConfirmed, readUntil(t, conn, ackFor("presence")).Status)
}

func TestWebSocket_NotificationsAlias(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.router)
	defer srv.Close()

	bob := testutil.CreateTestUser(t, s.db, "bob", models.RoleEmployee)
	conn := dialWS(t, srv, s.tokenFor(t, bob))

	sendWS(t, conn, realtime.RequestSubscribe, "n", feed.NotificationsAlias, nil)
	ack := readUntil(t, conn, ackFor("n"))
	var sub subscribeAck
	require.NoError(t, json.Unmarshal(ack.Data, &sub))
	assert.Equal(t, string(feed.NotificationKey(bob.ID)), sub.Stream)

	created, err := s.notifications.Create(context.Background(), service.CreateNotificationInput{
		UserID: bob.ID,
		Type:   models.NotificationSystem,
		Title:  "Ping",
	})
	require.NoError(t, err)

	frame := readUntil(t, conn, isEvent)
	change, err := feed.Decode[models.Notification](*frame.Event)
	require.NoError(t, err)
	assert.Equal(t, created.ID, change.New.ID)

	sendWS(t, conn, realtime.RequestMarkRead, "r1", "", map[string]any{"id": created.ID})
	ack = readUntil(t, conn, ackFor("r1"))
	require.Equal(t, realtime.StatusConfirmed, ack.Status)
	assert.JSONEq(t, `{"changed":true}`, string(ack.Data))

	frame = readUntil(t, conn, isEvent)
	assert.Equal(t, feed.Update, frame.Event.Kind)

	sendWS(t, conn, realtime.RequestMarkAllRead, "r2", "", nil)
	ack = readUntil(t, conn, ackFor("r2"))
	assert.JSONEq(t, `{"updated":0}`, string(ack.Data))
}

func TestWebSocket_DirectMessages(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.router)
	defer srv.Close()

	alice := testutil.CreateTestUser(t, s.db, "alice", models.RoleEmployee)
	bob := testutil.CreateTestUser(t, s.db, "bob", models.RoleEmployee)
	key := feed.DirectKey(bob.ID, alice.ID)

	bobConn := dialWS(t, srv, s.tokenFor(t, bob))
	sendWS(t, bobConn, realtime.RequestSubscribe, "s", string(key), nil)
	require.Equal(t, realtime.StatusConfirmed, readUntil(t, bobConn, ackFor("s")).Status)

	aliceConn := dialWS(t, srv, s.tokenFor(t, alice))
	sendWS(t, aliceConn, realtime.RequestSendDirect, "d1", "", map[string]any{
		"to_user_id": bob.ID,
		"content":    "psst",
	})
	ack := readUntil(t, aliceConn, ackFor("d1"))
	require.Equal(t, realtime.StatusConfirmed, ack.Status, ack.Error)
	var dm models.DirectMessage
	require.NoError(t, json.Unmarshal(ack.Data, &dm))

	frame := readUntil(t, bobConn, isEvent)
	assert.Equal(t, key, frame.Stream)

	sendWS(t, bobConn, realtime.RequestMarkDirectRead, "r", "", map[string]any{"id": dm.ID})
	require.Equal(t, realtime.StatusConfirmed, readUntil(t, bobConn, ackFor("r")).Status)

	frame = readUntil(t, bobConn, isEvent)
	change, err := feed.Decode[models.DirectMessage](*frame.Event)
	require.NoError(t, err)
	assert.Equal(t, feed.Update, change.Kind)
	assert.True(t, change.New.IsRead)

	// Only the sender deletes
	sendWS(t, bobConn, realtime.RequestDeleteDirect, "x", "", map[string]any{"id": dm.ID})
	assert.Equal(t, realtime.StatusFailed, readUntil(t, bobConn, ackFor("x")).Status)

	sendWS(t, aliceConn, realtime.RequestDeleteDirect, "x", "", map[string]any{"id": dm.ID})
	assert.Equal(t, realtime.StatusConfirmed, readUntil(t, aliceConn, ackFor("x")).Status)

	frame = readUntil(t, bobConn, isEvent)
	assert.Equal(t, feed.Delete, frame.Event.Kind)
}

func TestWebSocket_SessionExpires(t *testing.T) {
	s := newTestServerWith(t, 200*time.Millisecond)
	srv := httptest.NewServer(s.router)
	defer srv.Close()

	bob := testutil.CreateTestUser(t, s.db, "bob", models.RoleEmployee)
	conn := dialWS(t, srv, s.tokenFor(t, bob))

	frame := readUntil(t, conn, func(r realtime.Response) bool { return r.Type == realtime.ResponseSessionExpired })
	assert.NotEmpty(t, frame.Message)

	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)

	require.True(t, testutil.Eventually(t, 2*time.Second, func() bool { return s.hub.Sessions(bob.ID) == 0 }))
}

func TestWebSocket_LastSessionClosingMarksOffline(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.router)
	defer srv.Close()

	bob := testutil.CreateTestUser(t, s.db, "bob", models.RoleEmployee)
	conn := dialWS(t, srv, s.tokenFor(t, bob))
	sendWS(t, conn, realtime.RequestHeartbeat, "h", "", nil)
	readUntil(t, conn, ackFor("h"))
	require.Equal(t, 1, s.hub.Sessions(bob.ID))

	require.NoError(t, conn.Close())

	require.True(t, testutil.Eventually(t, 2*time.Second, func() bool {
		st, err := s.presence.GetUserStatus(context.Background(), bob.ID)
		return err == nil && s.hub.Sessions(bob.ID) == 0 && st.Status == models.StatusOffline
	}))
}

func TestWebSocket_RemovedMemberStopsReceiving(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.router)
	defer srv.Close()

	alice := testutil.CreateTestUser(t, s.db, "alice", models.RoleEmployee)
	bob := testutil.CreateTestUser(t, s.db, "bob", models.RoleEmployee)
	secret := testutil.CreateTestChannel(t, s.db, "secret", models.ChannelPrivate, alice)
	testutil.AddTestMember(t, s.db, secret, bob, models.MemberMember)
	key := feed.ChannelKey(secret.ID)
	viewKey := "viewing:" + bob.ID.String() + ":" + string(key)

	bobConn := dialWS(t, srv, s.tokenFor(t, bob))
	sendWS(t, bobConn, realtime.RequestSubscribe, "s", string(key), nil)
	require.Equal(t, realtime.StatusConfirmed, readUntil(t, bobConn, ackFor("s")).Status)
	assert.True(t, s.redis.Server.Exists(viewKey), "view shared through redis")

	require.NoError(t, s.channels.RemoveMember(context.Background(), alice.ID, secret.ID, bob.ID))

	warning := readUntil(t, bobConn, func(r realtime.Response) bool { return r.Type == realtime.ResponseWarning })
	assert.Equal(t, key, warning.Stream)
	require.True(t, testutil.Eventually(t, time.Second, func() bool { return !s.hub.IsViewing(bob.ID, key) }))
	assert.False(t, s.redis.Server.Exists(viewKey))

	_, err := s.messages.Send(context.Background(), service.SendMessageInput{
		ChannelID: secret.ID,
		AuthorID:  alice.ID,
		Content:   "members only",
	})
	require.NoError(t, err)

	sendWS(t, bobConn, realtime.RequestHeartbeat, "h", "", nil)
	readUntil(t, bobConn, func(r realtime.Response) bool {
		require.NotEqual(t, realtime.ResponseEvent, r.Type)
		return r.Type == realtime.ResponseAck && r.RequestID == "h"
	})

	// Resubscribing is refused once access is gone.
	sendWS(t, bobConn, realtime.RequestSubscribe, "again", string(key), nil)
	assert.Equal(t, realtime.StatusFailed, readUntil(t, bobConn, ackFor("again")).Status)
}
