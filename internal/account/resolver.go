// Package account derives the remote-playback capability of the signed-in account.
package account

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"
	"sync"

	"github.com/zmb3/spotify/v2"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"tunechat/internal/core"
)

const (
	// ProductPremium is the only product tier allowed to drive a playback device
	ProductPremium = "premium"

	ReasonNoCredential  = "no credential"
	ReasonNotRegistered = "not registered with provider"
	ReasonFetchFailed   = "profile fetch failed"
)

// ProfileFetcher returns the profile of the account the credential belongs to.
type ProfileFetcher interface {
	CurrentUser(ctx context.Context) (*spotify.PrivateUser, error)
}

// ClientFactory builds a profile fetcher bound to a credential.
type ClientFactory func(ctx context.Context, credential string) ProfileFetcher

// forbiddenBodyLimit bounds how much of a 403 body is kept as the message
const forbiddenBodyLimit = 512

// ForbiddenError reports a 403 from the Web API whatever the shape of its body.
type ForbiddenError struct {
	Message string
}

func (e *ForbiddenError) Error() string {
	if e.Message == "" {
		return "provider returned 403 Forbidden"
	}
	return "provider returned 403 Forbidden: " + e.Message
}

// forbiddenTransport turns 403 responses into *ForbiddenError before the body is decoded.
type forbiddenTransport struct {
	base http.RoundTripper
}

func (t forbiddenTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if err != nil || resp.StatusCode != http.StatusForbidden {
		return resp, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, forbiddenBodyLimit))
	return nil, &ForbiddenError{Message: strings.TrimSpace(string(body))}
}

// NewSpotifyClientFactory returns a factory for Web API clients rooted at apiBaseURL.
func NewSpotifyClientFactory(apiBaseURL string) ClientFactory {
	return func(ctx context.Context, credential string) ProfileFetcher {
		httpClient := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{
			AccessToken: credential,
			TokenType:   "Bearer",
		}))
		httpClient.Transport = forbiddenTransport{base: httpClient.Transport}

		var opts []spotify.ClientOption
		if apiBaseURL != "" {
			opts = append(opts, spotify.WithBaseURL(apiBaseURL))
		}
		return spotify.New(httpClient, opts...)
	}
}

// Resolver keeps the capability derived from the latest credential.
type Resolver struct {
	clients ClientFactory
	errors  core.ErrorSink
	logger  *zap.Logger

	mutex      sync.Mutex
	capability core.Capability
	seq        uint64
	listeners  []func(core.Capability)
}

// NewResolver creates a resolver whose capability starts ineligible.
func NewResolver(clients ClientFactory, errorSink core.ErrorSink, logger *zap.Logger) *Resolver {
	return &Resolver{
		clients:    clients,
		errors:     errorSink,
		logger:     logger,
		capability: core.Capability{Reason: ReasonNoCredential},
	}
}

// Subscribe registers fn to be called on every capability change.
func (r *Resolver) Subscribe(fn func(core.Capability)) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.listeners = append(r.listeners, fn)
}

// Capability returns the current capability.
func (r *Resolver) Capability() core.Capability {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.capability
}

// Resolve recomputes the capability for credential. Results of a resolve overtaken by a
// newer one are discarded.
func (r *Resolver) Resolve(ctx context.Context, credential string) core.Capability {
	r.mutex.Lock()
	r.seq++
	seq := r.seq
	r.mutex.Unlock()

	if credential == "" {
		capability := core.Capability{Reason: ReasonNoCredential}
		r.apply(seq, capability)
		return capability
	}

	capability, surfaced := r.fetch(ctx, credential)
	if r.apply(seq, capability) && surfaced != nil {
		r.errors.Report(surfaced)
	}
	return capability
}

// ForceIneligible marks the account ineligible, e.g. after the device reports an account error.
func (r *Resolver) ForceIneligible(reason string) {
	r.mutex.Lock()
	r.seq++
	seq := r.seq
	r.mutex.Unlock()

	r.apply(seq, core.Capability{Reason: reason})
}

func (r *Resolver) fetch(ctx context.Context, credential string) (core.Capability, *core.Error) {
	user, err := r.clients(ctx, credential).CurrentUser(ctx)
	if err != nil {
		if isForbidden(err) {
			r.logger.Warn("Account is not registered with the provider", zap.Error(err))
			return core.Capability{Reason: ReasonNotRegistered},
				core.WrapError(core.ErrAccountIneligible, ReasonNotRegistered, err)
		}

		r.logger.Warn("Failed to fetch account profile", zap.Error(err))
		return core.Capability{Reason: ReasonFetchFailed}, nil
	}

	if user.Product != ProductPremium {
		r.logger.Info("Account tier cannot use remote playback", zap.String("product", user.Product))
		return core.Capability{Reason: fmt.Sprintf("product %s is not premium", user.Product)}, nil
	}

	r.logger.Info("Account eligible for remote playback", zap.String("user", user.DisplayName))
	return core.Capability{Eligible: true}, nil
}

func isForbidden(err error) bool {
	var forbidden *ForbiddenError
	if errors.As(err, &forbidden) {
		return true
	}
	var apiErr spotify.Error
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusForbidden
}

// apply stores capability if seq is still the latest resolve and notifies on change.
func (r *Resolver) apply(seq uint64, capability core.Capability) bool {
	r.mutex.Lock()
	if seq != r.seq {
		r.mutex.Unlock()
		r.logger.Debug("Discarding stale capability result", zap.Uint64("seq", seq))
		return false
	}
	changed := capability != r.capability
	r.capability = capability
	listeners := slices.Clone(r.listeners)
	r.mutex.Unlock()

	if changed {
		for _, listener := range listeners {
			listener(capability)
		}
	}
	return true
}
