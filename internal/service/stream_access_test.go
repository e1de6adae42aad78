package service_test

import (
	"context"
	"testing"

	"github.com/Baaaki/teamchat/internal/feed"
	"github.com/Baaaki/teamchat/internal/models"
	"github.com/Baaaki/teamchat/internal/service"
	"github.com/Baaaki/teamchat/internal/testutil"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamAccess(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	access := service.NewStreamAccess(e.channels)

	owner := testutil.CreateTestUser(t, e.db, "owner", models.RoleEmployee)
	outsider := testutil.CreateTestUser(t, e.db, "outsider", models.RoleEmployee)
	public := testutil.CreateTestChannel(t, e.db, "lobby", models.ChannelPublic, owner)
	private := testutil.CreateTestChannel(t, e.db, "secret", models.ChannelPrivate, owner)

	parse := func(key feed.StreamKey) feed.Stream {
		st, err := feed.Parse(string(key))
		require.NoError(t, err)
		return st
	}

	assert.NoError(t, access.AuthorizeStream(ctx, outsider.ID, parse(feed.ChannelKey(public.ID))))
	assert.ErrorIs(t, access.AuthorizeStream(ctx, outsider.ID, parse(feed.ChannelKey(private.ID))), service.ErrNotMember)
	assert.NoError(t, access.AuthorizeStream(ctx, owner.ID, parse(feed.ChannelKey(private.ID))))
	assert.ErrorIs(t, access.AuthorizeStream(ctx, owner.ID, parse(feed.ChannelKey(uuid.New()))), service.ErrNotFound)

	dm := parse(feed.DirectKey(owner.ID, outsider.ID))
	assert.NoError(t, access.AuthorizeStream(ctx, owner.ID, dm))
	assert.NoError(t, access.AuthorizeStream(ctx, outsider.ID, dm))
	assert.ErrorIs(t, access.AuthorizeStream(ctx, uuid.New(), dm), service.ErrForbidden)

	assert.NoError(t, access.AuthorizeStream(ctx, owner.ID, parse(feed.NotificationKey(owner.ID))))
	assert.ErrorIs(t, access.AuthorizeStream(ctx, owner.ID, parse(feed.NotificationKey(outsider.ID))), service.ErrForbidden)
	assert.NoError(t, access.AuthorizeStream(ctx, outsider.ID, parse(feed.PresenceKey)))
}
