package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Baaaki/teamchat/internal/broker"
	"github.com/Baaaki/teamchat/internal/feed"
	"github.com/Baaaki/teamchat/internal/push"
	"github.com/Baaaki/teamchat/internal/repository"
	"github.com/Baaaki/teamchat/internal/service"
	"github.com/Baaaki/teamchat/internal/storage"
	"github.com/Baaaki/teamchat/internal/testutil"
	"github.com/Baaaki/teamchat/internal/utils"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

var errBrokerDown = errors.New("broker down")

// recordingBroker keeps every published event and forwards it in process.
type recordingBroker struct {
	*broker.MemoryBroker

	mu      sync.Mutex
	events  []feed.Event
	failing bool
}

func newRecordingBroker() *recordingBroker {
	return &recordingBroker{MemoryBroker: broker.NewMemoryBroker()}
}

func (b *recordingBroker) Publish(ctx context.Context, ev feed.Event) error {
	b.mu.Lock()
	if b.failing {
		b.mu.Unlock()
		return errBrokerDown
	}
	b.events = append(b.events, ev)
	b.mu.Unlock()
	return b.MemoryBroker.Publish(ctx, ev)
}

func (b *recordingBroker) SetFailing(failing bool) {
	b.mu.Lock()
	b.failing = failing
	b.mu.Unlock()
}

// Events returns the events published on key, oldest first.
func (b *recordingBroker) Events(key feed.StreamKey) []feed.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []feed.Event
	for _, ev := range b.events {
		if ev.Stream == key {
			out = append(out, ev)
		}
	}
	return out
}

func (b *recordingBroker) Reset() {
	b.mu.Lock()
	b.events = nil
	b.mu.Unlock()
}

type recordingPusher struct {
	mu   sync.Mutex
	sent []push.Message
	err  error
}

func (p *recordingPusher) Push(ctx context.Context, msg push.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, msg)
	return p.err
}

func (p *recordingPusher) Sent() []push.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]push.Message(nil), p.sent...)
}

// viewers is a fixed ViewTracker.
type viewers map[uuid.UUID]map[feed.StreamKey]bool

func (v viewers) IsViewing(_ context.Context, userID uuid.UUID, key feed.StreamKey) bool {
	return v[userID][key]
}

func (v viewers) Set(userID uuid.UUID, key feed.StreamKey) {
	if v[userID] == nil {
		v[userID] = map[feed.StreamKey]bool{}
	}
	v[userID][key] = true
}

// env wires every service against sqlite, miniredis and an in-process broker.
type env struct {
	db        *gorm.DB
	redis     *testutil.TestRedis
	broker    *recordingBroker
	publisher *service.Publisher
	pusher    *recordingPusher
	store     *storage.LocalStore
	viewers   viewers

	channelRepo *repository.ChannelRepository
	memberRepo  *repository.MemberRepository
	userRepo    *repository.UserRepository

	channels      *service.ChannelService
	messages      *service.MessageService
	dms           *service.DirectMessageService
	presence      *service.PresenceService
	notifications *service.NotificationService
	fanout        *service.Fanout
	files         *service.FileService
	users         *service.UserService
	auth          *service.AuthService
}

func newEnv(t *testing.T) *env {
	t.Helper()

	testDB := testutil.SetupTestDatabase(t)
	testRedis := testutil.SetupTestRedis(t)
	t.Cleanup(func() {
		testRedis.Teardown(t)
		testDB.Teardown(t)
	})

	store, err := storage.NewLocalStore(t.TempDir(), "http://files.test")
	if err != nil {
		t.Fatalf("local store: %v", err)
	}

	e := &env{
		db:      testDB.DB,
		redis:   testRedis,
		broker:  newRecordingBroker(),
		pusher:  &recordingPusher{},
		store:   store,
		viewers: viewers{},
	}
	t.Cleanup(func() { _ = e.broker.Close() })
	e.publisher = service.NewPublisher(e.broker, nil)

	db := testDB.DB
	e.userRepo = repository.NewUserRepository(db)
	e.channelRepo = repository.NewChannelRepository(db)
	e.memberRepo = repository.NewMemberRepository(db)
	fileRepo := repository.NewFileRepository(db)

	e.channels = service.NewChannelService(e.channelRepo, e.memberRepo, e.userRepo).WithPublisher(e.publisher)
	e.messages = service.NewMessageService(repository.NewMessageRepository(db), fileRepo, e.channels, e.publisher)
	e.dms = service.NewDirectMessageService(repository.NewDirectMessageRepository(db), e.userRepo, fileRepo, e.publisher)
	e.presence = service.NewPresenceService(repository.NewPresenceRepository(db), e.userRepo, testRedis.Client, e.publisher, 0, 0)
	e.notifications = service.NewNotificationService(repository.NewNotificationRepository(db), e.userRepo, e.publisher, e.pusher)
	e.fanout = service.NewFanout(e.broker, e.notifications, e.channelRepo, e.memberRepo, e.userRepo, testRedis.Client, e.viewers)
	e.files = service.NewFileService(fileRepo, e.userRepo, store)
	e.users = service.NewUserService(e.userRepo, e.presence)
	e.auth = service.NewAuthService(e.userRepo, e.channels, "test-secret", time.Hour, "test").
		WithHashParams(utils.Argon2Params{Memory: 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32})
	return e
}
