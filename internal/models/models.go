package models

// All lists every persisted model in migration order.
func All() []any {
	return []any{
		&User{},
		&Channel{},
		&ChannelMember{},
		&Message{},
		&DirectMessage{},
		&FileUpload{},
		&UserPresence{},
		&Notification{},
	}
}
