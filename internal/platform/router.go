// Package platform routes a push token to the transport that issued it.
package platform

import (
	"context"
	"fmt"

	"github.com/tinywideclouds/go-push-broadcast-service/internal/platform/expo"
	"github.com/tinywideclouds/go-push-broadcast-service/internal/platform/web"
	"github.com/tinywideclouds/go-push-broadcast-service/pkg/dispatch"
	"github.com/tinywideclouds/go-push-broadcast-service/pkg/recipient"
)

// Router picks a Sender from the token's shape: Expo tokens go to Expo, serialized
// PushSubscriptions go to Web Push, anything else is a native token for the configured provider.
// A nil route means that transport is not configured.
type Router struct {
	Expo   dispatch.Sender
	Web    dispatch.Sender
	Native dispatch.Sender
}

var _ dispatch.Sender = (*Router)(nil)

func (r *Router) Send(ctx context.Context, token string, n recipient.Notification) (string, error) {
	name, sender := r.route(token)
	if sender == nil {
		return "", fmt.Errorf("no %s transport configured", name)
	}
	return sender.Send(ctx, token, n)
}

func (r *Router) route(token string) (string, dispatch.Sender) {
	switch {
	case expo.IsExpoToken(token):
		return "expo", r.Expo
	case web.IsSubscription(token):
		return "web push", r.Web
	default:
		return "native", r.Native
	}
}
