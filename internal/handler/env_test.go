package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Baaaki/teamchat/internal/broker"
	"github.com/Baaaki/teamchat/internal/handler"
	"github.com/Baaaki/teamchat/internal/middleware"
	"github.com/Baaaki/teamchat/internal/models"
	"github.com/Baaaki/teamchat/internal/realtime"
	"github.com/Baaaki/teamchat/internal/repository"
	"github.com/Baaaki/teamchat/internal/service"
	"github.com/Baaaki/teamchat/internal/storage"
	"github.com/Baaaki/teamchat/internal/testutil"
	"github.com/Baaaki/teamchat/internal/utils"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const testSecret = "test-secret-key"

// testServer wires the full router against sqlite, miniredis and an
// in-process broker.
type testServer struct {
	db     *gorm.DB
	redis  *testutil.TestRedis
	broker *broker.MemoryBroker
	hub    *realtime.Hub
	router *gin.Engine

	channels      *service.ChannelService
	messages      *service.MessageService
	notifications *service.NotificationService
	presence      *service.PresenceService
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	return newTestServerWith(t, time.Minute)
}

// newTestServerWith sets the websocket session lifetime.
func newTestServerWith(t *testing.T, maxSession time.Duration) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	testDB := testutil.SetupTestDatabase(t)
	testRedis := testutil.SetupTestRedis(t)
	b := broker.NewMemoryBroker()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		_ = b.Close()
		testRedis.Teardown(t)
		testDB.Teardown(t)
	})

	store, err := storage.NewLocalStore(t.TempDir(), "http://files.test")
	require.NoError(t, err)

	db := testDB.DB
	publisher := service.NewPublisher(b, nil)
	userRepo := repository.NewUserRepository(db)
	fileRepo := repository.NewFileRepository(db)

	channels := service.NewChannelService(repository.NewChannelRepository(db), repository.NewMemberRepository(db), userRepo).WithPublisher(publisher)
	messages := service.NewMessageService(repository.NewMessageRepository(db), fileRepo, channels, publisher)
	dms := service.NewDirectMessageService(repository.NewDirectMessageRepository(db), userRepo, fileRepo, publisher)
	presence := service.NewPresenceService(repository.NewPresenceRepository(db), userRepo, testRedis.Client, publisher, 0, 0)
	notifications := service.NewNotificationService(repository.NewNotificationRepository(db), userRepo, publisher, nil)
	files := service.NewFileService(fileRepo, userRepo, store)
	users := service.NewUserService(userRepo, presence)
	auth := service.NewAuthService(userRepo, channels, testSecret, time.Hour, "test").
		WithHashParams(utils.Argon2Params{Memory: 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32})

	views := service.NewViewRegistry(testRedis.Client, 0)
	hub := realtime.NewHub(b, service.NewStreamAccess(channels), presence).WithViews(views)
	views.WithLocal(hub)
	go func() { _ = hub.Run(ctx) }()
	require.True(t, testutil.Eventually(t, time.Second, func() bool { return b.Subscribers() > 0 }))

	limiter := middleware.NewRateLimiter(testRedis.Client, middleware.RateLimiterConfig{MaxRequests: 1000, Window: time.Minute})
	router := handler.NewRouter(handler.Handlers{
		Auth:          handler.NewAuthHandler(auth),
		Channels:      handler.NewChannelHandler(channels),
		Messages:      handler.NewMessageHandler(messages),
		Directs:       handler.NewDirectMessageHandler(dms),
		Presence:      handler.NewPresenceHandler(presence),
		Notifications: handler.NewNotificationHandler(notifications),
		Files:         handler.NewFileHandler(files),
		Users:         handler.NewUserHandler(users),
		Admin:         handler.NewAdminHandler(users, limiter),
		WebSocket: handler.NewWebSocketHandler(hub, handler.WebSocketServices{
			Messages:      messages,
			Directs:       dms,
			Presence:      presence,
			Notifications: notifications,
		}, maxSession, nil),
	}, handler.RouterConfig{
		JWTSecret: testSecret,
		Limiter:   limiter,
	})

	return &testServer{
		db:            db,
		redis:         testRedis,
		broker:        b,
		hub:           hub,
		router:        router,
		channels:      channels,
		messages:      messages,
		notifications: notifications,
		presence:      presence,
	}
}

func (s *testServer) tokenFor(t *testing.T, user *models.User) string {
	t.Helper()
	token, err := utils.GenerateToken(user, testSecret, time.Hour)
	require.NoError(t, err)
	return token
}

// do sends a JSON request, authenticated when token is not empty.
func (s *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

type errorBody struct {
	Error   string `json:"error"`
	ErrorAr string `json:"error_ar"`
	Code    string `json:"code"`
}

func requireError(t *testing.T, w *httptest.ResponseRecorder, status int, code string) errorBody {
	t.Helper()
	require.Equal(t, status, w.Code, w.Body.String())
	body := decodeBody[errorBody](t, w)
	require.Equal(t, code, body.Code)
	require.NotEmpty(t, body.Error)
	require.NotEmpty(t, body.ErrorAr)
	return body
}
