package twitchapi

import (
	"context"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// NewAppTokenSource builds a cached app access (client credentials) token
// source for Helix calls that do not act on behalf of a user, such as login
// to user-id resolution. authBase is overridable for tests; empty means
// production Twitch.
//
// NOTE: app tokens cannot perform moderation actions; those always use the
// channel's user token supplied by the lifecycle manager.
func NewAppTokenSource(ctx context.Context, clientID, clientSecret, authBase string) oauth2.TokenSource {
	if authBase == "" {
		authBase = DefaultAuthBase
	}
	cfg := &clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     authBase + "/oauth2/token",
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	return cfg.TokenSource(ctx)
}
