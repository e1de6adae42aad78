package service_test

import (
	"context"
	"testing"

	"github.com/Baaaki/teamchat/internal/feed"
	"github.com/Baaaki/teamchat/internal/models"
	"github.com/Baaaki/teamchat/internal/service"
	"github.com/Baaaki/teamchat/internal/testutil"
	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
)

type NotificationServiceTestSuite struct {
	suite.Suite
	env   *env
	ctx   context.Context
	alice *models.User
	bob   *models.User
}

func (s *NotificationServiceTestSuite) SetupTest() {
	s.env = newEnv(s.T())
	s.ctx = context.Background()
	s.alice = testutil.CreateTestUser(s.T(), s.env.db, "alice", models.RoleEmployee)
	s.bob = testutil.CreateTestUser(s.T(), s.env.db, "bob", models.RoleEmployee)
}

func (s *NotificationServiceTestSuite) create(user *models.User, title string) *models.Notification {
	n, err := s.env.notifications.Create(s.ctx, service.CreateNotificationInput{
		UserID:  user.ID,
		Type:    models.NotificationSystem,
		Title:   title,
		TitleAr: title + " (ar)",
	})
	s.Require().NoError(err)
	return n
}

func (s *NotificationServiceTestSuite) TestCreatePublishesToOwner() {
	n := s.create(s.alice, "Welcome")

	events := s.env.broker.Events(feed.NotificationKey(s.alice.ID))
	s.Require().Len(events, 1)
	s.Equal(feed.Insert, events[0].Kind)
	change, err := feed.Decode[models.Notification](events[0])
	s.Require().NoError(err)
	s.Equal(n.ID, change.New.ID)
	s.Empty(s.env.broker.Events(feed.NotificationKey(s.bob.ID)))
}

func (s *NotificationServiceTestSuite) TestCreateRejectsInactiveOrUnknownUser() {
	s.env.db.Model(s.bob).Update("is_active", false)

	_, err := s.env.notifications.Create(s.ctx, service.CreateNotificationInput{
		UserID: s.bob.ID, Type: models.NotificationSystem, Title: "x",
	})
	s.ErrorIs(err, service.ErrUserNotFound)

	_, err = s.env.notifications.Create(s.ctx, service.CreateNotificationInput{
		UserID: uuid.New(), Type: models.NotificationSystem, Title: "x",
	})
	s.ErrorIs(err, service.ErrNotFound)
}

func (s *NotificationServiceTestSuite) TestCreateValidation() {
	_, err := s.env.notifications.Create(s.ctx, service.CreateNotificationInput{
		UserID: s.alice.ID, Type: "weird", Title: "x",
	})
	s.ErrorIs(err, service.ErrValidation)

	_, err = s.env.notifications.Create(s.ctx, service.CreateNotificationInput{
		UserID: s.alice.ID, Type: models.NotificationSystem, Title: "   ",
	})
	s.ErrorIs(err, service.ErrValidation)
}

func (s *NotificationServiceTestSuite) TestPushUsesLocaleAndToken() {
	s.create(s.alice, "No token")
	s.Empty(s.env.pusher.Sent())

	s.env.db.Model(s.alice).Updates(map[string]any{"push_token": "device-1", "locale": string(models.LocaleArabic)})
	s.create(s.alice, "Hello")

	sent := s.env.pusher.Sent()
	s.Require().Len(sent, 1)
	s.Equal("device-1", sent[0].Token)
	s.Equal("Hello (ar)", sent[0].Title)
}

func (s *NotificationServiceTestSuite) TestMarkReadTransitionsOnce() {
	n := s.create(s.alice, "One")
	s.env.broker.Reset()

	changed, err := s.env.notifications.MarkRead(s.ctx, s.alice.ID, n.ID)
	s.Require().NoError(err)
	s.True(changed)

	changed, err = s.env.notifications.MarkRead(s.ctx, s.alice.ID, n.ID)
	s.Require().NoError(err)
	s.False(changed)

	events := s.env.broker.Events(feed.NotificationKey(s.alice.ID))
	s.Require().Len(events, 1)
	change, err := feed.Decode[models.Notification](events[0])
	s.Require().NoError(err)
	s.False(change.Old.IsRead)
	s.True(change.New.IsRead)
}

func (s *NotificationServiceTestSuite) TestOtherUsersNotificationIsHidden() {
	n := s.create(s.alice, "Private")

	_, err := s.env.notifications.MarkRead(s.ctx, s.bob.ID, n.ID)
	s.ErrorIs(err, service.ErrNotificationNotFound)
	s.ErrorIs(s.env.notifications.Delete(s.ctx, s.bob.ID, n.ID), service.ErrNotificationNotFound)
}

func (s *NotificationServiceTestSuite) TestMarkAllRead() {
	first := s.create(s.alice, "One")
	s.create(s.alice, "Two")
	s.create(s.alice, "Three")
	s.create(s.bob, "Bob's")
	_, err := s.env.notifications.MarkRead(s.ctx, s.alice.ID, first.ID)
	s.Require().NoError(err)
	s.env.broker.Reset()

	count, err := s.env.notifications.MarkAllRead(s.ctx, s.alice.ID)
	s.Require().NoError(err)
	s.Equal(2, count)
	s.Len(s.env.broker.Events(feed.NotificationKey(s.alice.ID)), 2)

	unread, err := s.env.notifications.UnreadCount(s.ctx, s.alice.ID)
	s.Require().NoError(err)
	s.Zero(unread)

	list, err := s.env.notifications.List(s.ctx, s.alice.ID, 0)
	s.Require().NoError(err)
	s.Len(list, 3)
	for _, n := range list {
		s.True(n.IsRead)
		s.NotNil(n.ReadAt)
	}

	unread, err = s.env.notifications.UnreadCount(s.ctx, s.bob.ID)
	s.Require().NoError(err)
	s.Equal(int64(1), unread)
}

func (s *NotificationServiceTestSuite) TestDeletePublishesOldRow() {
	n := s.create(s.alice, "Gone")
	s.env.broker.Reset()

	s.Require().NoError(s.env.notifications.Delete(s.ctx, s.alice.ID, n.ID))

	events := s.env.broker.Events(feed.NotificationKey(s.alice.ID))
	s.Require().Len(events, 1)
	s.Equal(feed.Delete, events[0].Kind)
	change, err := feed.Decode[models.Notification](events[0])
	s.Require().NoError(err)
	s.Require().NotNil(change.Old)
	s.Equal(n.ID, change.Old.ID)

	list, err := s.env.notifications.List(s.ctx, s.alice.ID, 0)
	s.Require().NoError(err)
	s.Empty(list)
}

func (s *NotificationServiceTestSuite) TestBroadcastReachesActiveUsers() {
	admin := testutil.DefaultAdminUser(s.T(), s.env.db)
	gone := testutil.CreateTestUser(s.T(), s.env.db, "gone", models.RoleEmployee)
	s.env.db.Model(gone).Update("is_active", false)

	count, err := s.env.notifications.Broadcast(s.ctx, admin.ID, service.BroadcastInput{
		Title:   "Office closed Friday",
		TitleAr: "المكتب مغلق يوم الجمعة",
	})
	s.Require().NoError(err)
	s.Equal(3, count)

	list, err := s.env.notifications.List(s.ctx, s.bob.ID, 0)
	s.Require().NoError(err)
	s.Require().Len(list, 1)
	s.Equal(models.NotificationAnnouncement, list[0].Type)
	s.Equal(admin.ID.String(), list[0].Metadata["sender_id"])

	list, err = s.env.notifications.List(s.ctx, gone.ID, 0)
	s.Require().NoError(err)
	s.Empty(list)
	s.Len(s.env.broker.Events(feed.NotificationKey(s.alice.ID)), 1)
}

func TestNotificationServiceTestSuite(t *testing.T) {
	suite.Run(t, new(NotificationServiceTestSuite))
}
