// Copyright © 2017 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package auth

import (
	"github.com/TheThingsNetwork/alarm-mqtt-bridge/backend"
	"github.com/apex/log"
)

// Source of a refresh token
type Source struct {
	Name  string
	Token string
}

// Candidates returns the tokens to try, in order: the saved token, then the configured token
func Candidates(ctx log.Interface, saved Store, configured string) (candidates []Source) {
	if saved != nil {
		token, err := saved.Get()
		switch {
		case err == nil:
			candidates = append(candidates, Source{Name: "saved", Token: token})
		case err != ErrNoToken:
			ctx.WithError(err).Warn("Could not read saved refresh token")
		}
	}
	if configured != "" {
		if len(candidates) == 0 || candidates[0].Token != configured {
			candidates = append(candidates, Source{Name: "configured", Token: configured})
		}
	}
	return
}

// Dialer connects to the cloud with a refresh token
type Dialer func(token string) (backend.Cloud, error)

// Connect tries the candidates in order and returns the first cloud that could be connected.
// It returns ErrTokensExhausted when none of the candidates could be used.
func Connect(ctx log.Interface, candidates []Source, dial Dialer) (backend.Cloud, *Source, error) {
	for i, candidate := range candidates {
		ctx := ctx.WithField("TokenSource", candidate.Name)
		ctx.Info("Connecting to cloud")
		cloud, err := dial(candidate.Token)
		if err != nil {
			ctx.WithError(err).Warn("Could not connect to cloud")
			continue
		}
		return cloud, &candidates[i], nil
	}
	return nil, nil, ErrTokensExhausted
}

// Persist stores the refresh token. Tokens that the cloud rotates to are stored in the
// background until the token subscription is closed.
func Persist(ctx log.Interface, store Store, token string, notifier backend.TokenNotifier) error {
	if err := store.Set(token); err != nil {
		return err
	}
	if notifier == nil {
		return nil
	}
	tokens, err := notifier.SubscribeToken()
	if err != nil {
		return err
	}
	go func() {
		for token := range tokens {
			if err := store.Set(token); err != nil {
				ctx.WithError(err).Warn("Could not save refresh token")
				continue
			}
			ctx.Info("Saved updated refresh token")
		}
	}()
	return nil
}
