package service

import (
	"context"

	"github.com/Baaaki/teamchat/internal/feed"
	"github.com/google/uuid"
)

// StreamAccess decides which change streams a user may subscribe to.
type StreamAccess struct {
	channels *ChannelService
}

func NewStreamAccess(channels *ChannelService) *StreamAccess {
	return &StreamAccess{channels: channels}
}

// AuthorizeStream allows channel streams the user can read, direct streams the
// user takes part in, the user's own notification stream and presence.
func (a *StreamAccess) AuthorizeStream(ctx context.Context, userID uuid.UUID, st feed.Stream) error {
	switch st.Type {
	case feed.StreamMessages:
		return a.channels.CanRead(ctx, userID, st.ChannelID)
	case feed.StreamDirect:
		if !st.Involves(userID) {
			return ErrAccessDenied
		}
		return nil
	case feed.StreamNotifications:
		if st.UserID != userID {
			return ErrAccessDenied
		}
		return nil
	case feed.StreamPresence:
		return nil
	}
	return ErrAccessDenied
}
