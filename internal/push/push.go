// Package push delivers cosmetic device notifications. Delivery never affects
// the stored read state of a notification.
package push

import (
	"context"
	"errors"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
)

var ErrNoToken = errors.New("device token is empty")

type Message struct {
	Token string
	Title string
	Body  string
	Data  map[string]string
}

type Pusher interface {
	Push(ctx context.Context, msg Message) error
}

// Noop drops every message.
type Noop struct{}

func (Noop) Push(ctx context.Context, msg Message) error { return nil }

// FCMPusher sends through Firebase Cloud Messaging.
type FCMPusher struct {
	client *messaging.Client
}

func NewFCMPusher(ctx context.Context, app *firebase.App) (*FCMPusher, error) {
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("error initializing FCM client: %w", err)
	}
	return &FCMPusher{client: client}, nil
}

func (p *FCMPusher) Push(ctx context.Context, msg Message) error {
	if msg.Token == "" {
		return ErrNoToken
	}
	_, err := p.client.Send(ctx, &messaging.Message{
		Notification: &messaging.Notification{
			Title: msg.Title,
			Body:  msg.Body,
		},
		Data:  msg.Data,
		Token: msg.Token,
	})
	return err
}
