// Package handshake drives the OAuth2 authorization-code handshake:
// initiate, validate the callback, exchange the code, fetch the profile and
// map it to an identity.
//
// Attempts are independent. The Orchestrator holds only read-only
// configuration and collaborators, so one instance serves concurrent
// attempts.
package handshake

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/dgellow/oauth-signin/internal/autherr"
	"github.com/dgellow/oauth-signin/internal/idp"
	"github.com/dgellow/oauth-signin/internal/log"
	"github.com/dgellow/oauth-signin/internal/profile"
	"github.com/dgellow/oauth-signin/internal/state"
	"github.com/dgellow/oauth-signin/internal/storage"
	"github.com/google/uuid"
)

// Defaults for Config.
const (
	DefaultMaxRetries           = 2
	DefaultRetryInitialInterval = 200 * time.Millisecond
	DefaultCallTimeout          = 10 * time.Second

	maxRetryInterval = 2 * time.Second
)

// Backchannel call names used in logs and metrics.
const (
	callExchange = "exchange"
	callProfile  = "profile"
)

// Provider is the identity provider as seen by the orchestrator.
// *idp.Client implements it.
type Provider interface {
	Type() string
	AuthorizationRequest(redirectURI, state string) idp.AuthorizationRequest
	ExchangeCode(ctx context.Context, code, redirectURI string) (*idp.TokenResponse, error)
	FetchProfile(ctx context.Context, accessToken string) ([]byte, error)
}

// Recorder receives handshake metrics. *metrics.Metrics implements it.
type Recorder interface {
	RecordAttempt(provider, outcome string, duration time.Duration)
	RecordBackchannel(provider, call, result string, duration time.Duration)
	RecordRetry(provider, call string)
}

type nopRecorder struct{}

func (nopRecorder) RecordAttempt(string, string, time.Duration)             {}
func (nopRecorder) RecordBackchannel(string, string, string, time.Duration) {}
func (nopRecorder) RecordRetry(string, string)                              {}

// Config wires an Orchestrator.
type Config struct {
	Provider Provider
	Codec    *state.Codec
	Mapper   *profile.Mapper

	// ReplayGuard, when set, rejects a second callback carrying the same
	// state nonce.
	ReplayGuard storage.ReplayGuard
	Recorder    Recorder

	// MaxRetries bounds retries of a backchannel call after NetworkFailure.
	// Nil selects DefaultMaxRetries.
	MaxRetries           *int
	RetryInitialInterval time.Duration
	// CallTimeout bounds each backchannel try.
	CallTimeout time.Duration

	AllowedReturnHosts []string

	// OnTransition observes every phase change.
	OnTransition TransitionFunc
}

// Orchestrator runs handshakes.
type Orchestrator struct {
	provider     Provider
	codec        *state.Codec
	validator    *Validator
	mapper       *profile.Mapper
	replay       storage.ReplayGuard
	recorder     Recorder
	maxRetries   int
	retryInitial time.Duration
	callTimeout  time.Duration
	returnHosts  []string
	onTransition TransitionFunc
}

// New validates cfg and creates an Orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Provider == nil {
		return nil, autherr.New(autherr.KindConfiguration, "handshake requires a provider")
	}
	if cfg.Codec == nil {
		return nil, autherr.New(autherr.KindConfiguration, "handshake requires a state codec")
	}
	if cfg.Mapper == nil {
		return nil, autherr.New(autherr.KindConfiguration, "handshake requires a profile mapper")
	}

	o := &Orchestrator{
		provider:     cfg.Provider,
		codec:        cfg.Codec,
		validator:    NewValidator(cfg.Codec),
		mapper:       cfg.Mapper,
		replay:       cfg.ReplayGuard,
		recorder:     cfg.Recorder,
		maxRetries:   DefaultMaxRetries,
		retryInitial: cfg.RetryInitialInterval,
		callTimeout:  cfg.CallTimeout,
		returnHosts:  cfg.AllowedReturnHosts,
		onTransition: cfg.OnTransition,
	}
	if cfg.MaxRetries != nil {
		if *cfg.MaxRetries < 0 {
			return nil, autherr.New(autherr.KindConfiguration, "max retries cannot be negative")
		}
		o.maxRetries = *cfg.MaxRetries
	}
	if o.replay == nil {
		o.replay = storage.NopReplayGuard{}
	}
	if o.recorder == nil {
		o.recorder = nopRecorder{}
	}
	if o.retryInitial <= 0 {
		o.retryInitial = DefaultRetryInitialInterval
	}
	if o.callTimeout <= 0 {
		o.callTimeout = DefaultCallTimeout
	}
	return o, nil
}

// Initiation is the outbound leg of an attempt.
type Initiation struct {
	AttemptID   string
	RedirectURL string
	State       state.State
}

// Initiate starts an attempt: it issues a fresh state carrying returnURL and
// builds the redirect to the provider. It does not wait for the callback.
// A return URL that is not allowed is replaced by DefaultReturnURL.
func (o *Orchestrator) Initiate(returnURL, redirectURI string) (*Initiation, error) {
	a := o.newAttempt()

	token, s, err := o.codec.Encode(SanitizeReturnURL(returnURL, o.returnHosts))
	if err != nil {
		return nil, autherr.Wrap(autherr.KindInternal, err, "cannot issue state")
	}

	req := o.provider.AuthorizationRequest(redirectURI, token)
	a.transition(PhaseAwaitingCallback)

	log.LogDebugWithFields("handshake", "Initiated sign-in", map[string]any{
		"attempt":     a.id,
		"provider":    o.provider.Type(),
		"returnURL":   s.ReturnURL,
		"redirectURI": redirectURI,
	})

	return &Initiation{
		AttemptID:   a.id,
		RedirectURL: req.URL(),
		State:       s,
	}, nil
}

// Result is a completed attempt.
type Result struct {
	AttemptID string
	Profile   *profile.UserProfile
	ReturnURL string
	Provider  string
}

// HandleCallback completes an attempt from the provider's callback.
//
// redirectURI must equal the one used in Initiate. Every failure is an
// *autherr.Error; callers distinguish ProviderDenied with autherr.IsBenign.
func (o *Orchestrator) HandleCallback(ctx context.Context, payload CallbackPayload, redirectURI string) (*Result, error) {
	start := time.Now()
	a := o.newAttempt()
	a.phase = PhaseAwaitingCallback

	result, err := o.handleCallback(ctx, a, payload, redirectURI)
	if err != nil {
		err = o.fail(a, err)
		o.recorder.RecordAttempt(o.provider.Type(), string(autherr.KindOf(err)), time.Since(start))
		return nil, err
	}

	a.transition(PhaseComplete)
	o.recorder.RecordAttempt(o.provider.Type(), "success", time.Since(start))
	log.LogInfoWithFields("handshake", "Sign-in completed", map[string]any{
		"attempt":  a.id,
		"provider": o.provider.Type(),
		"subject":  result.Profile.SubjectID,
		"duration": time.Since(start).String(),
	})
	return result, nil
}

func (o *Orchestrator) handleCallback(ctx context.Context, a *attempt, payload CallbackPayload, redirectURI string) (*Result, error) {
	validated, err := o.validator.Validate(payload)
	if err != nil {
		return nil, err
	}

	expiresAt := validated.State.ExpiresAt(o.codec.TTL())
	if err := o.replay.Consume(ctx, validated.State.Nonce, expiresAt); err != nil {
		if errors.Is(err, storage.ErrAlreadyConsumed) {
			return nil, autherr.New(autherr.KindReplayedState, "state nonce was already redeemed")
		}
		return nil, autherr.Wrap(autherr.KindInternal, err, "cannot record state nonce")
	}

	a.transition(PhaseExchanging)
	token, err := retry(ctx, o, a, callExchange, func(ctx context.Context) (*idp.TokenResponse, error) {
		return o.provider.ExchangeCode(ctx, validated.Code, redirectURI)
	})
	if err != nil {
		return nil, err
	}

	a.transition(PhaseFetchingProfile)
	raw, err := retry(ctx, o, a, callProfile, func(ctx context.Context) ([]byte, error) {
		return o.provider.FetchProfile(ctx, token.AccessToken)
	})
	if err != nil {
		return nil, err
	}

	p, err := o.mapper.Map(raw)
	if err != nil {
		return nil, err
	}

	return &Result{
		AttemptID: a.id,
		Profile:   p,
		ReturnURL: validated.State.ReturnURL,
		Provider:  o.provider.Type(),
	}, nil
}

// retry runs op, retrying NetworkFailure with exponential backoff up to the
// orchestrator's retry budget. Other failures return immediately.
func retry[T any](ctx context.Context, o *Orchestrator, a *attempt, call string, op func(context.Context) (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = o.retryInitial
	b.MaxInterval = max(maxRetryInterval, o.retryInitial)

	operation := func() (T, error) {
		callCtx, cancel := context.WithTimeout(ctx, o.callTimeout)
		defer cancel()

		start := time.Now()
		v, err := op(callCtx)
		result := "success"
		if err != nil {
			result = string(autherr.KindOf(err))
		}
		o.recorder.RecordBackchannel(o.provider.Type(), call, result, time.Since(start))

		if err != nil && !autherr.Retryable(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}

	v, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(o.maxRetries+1)),
		backoff.WithNotify(func(err error, next time.Duration) {
			o.recorder.RecordRetry(o.provider.Type(), call)
			log.LogWarnWithFields("handshake", "Retrying backchannel call", map[string]any{
				"attempt": a.id,
				"call":    call,
				"error":   err.Error(),
				"backoff": next.String(),
			})
		}),
	)
	if err == nil {
		return v, nil
	}

	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		err = permanent.Unwrap()
	}
	// Cancellation of ctx between tries surfaces as the bare context error.
	var aerr *autherr.Error
	if !errors.As(err, &aerr) && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		err = autherr.Wrap(autherr.KindNetworkFailure, err, call+" interrupted")
	}
	return v, err
}

// fail moves a to PhaseFailed and logs err by its kind. Provider details
// stay in the log; the returned error is what the host sees.
func (o *Orchestrator) fail(a *attempt, err error) error {
	a.transition(PhaseFailed)

	var aerr *autherr.Error
	if !errors.As(err, &aerr) {
		aerr = autherr.Wrap(autherr.KindInternal, err, "unclassified failure")
		err = aerr
	}

	fields := map[string]any{
		"attempt":  a.id,
		"provider": o.provider.Type(),
		"kind":     string(aerr.Kind),
		"error":    err.Error(),
	}
	if aerr.StatusCode != 0 {
		fields["status"] = aerr.StatusCode
	}

	switch {
	case autherr.IsBenign(err):
		log.LogInfoWithFields("handshake", "Provider denied authorization", map[string]any{
			"attempt":     a.id,
			"provider":    o.provider.Type(),
			"code":        aerr.ProviderCode,
			"description": aerr.ProviderDescription,
		})
	case autherr.IsSecurityRejection(err):
		log.LogSecurityWithFields("handshake", "Rejected callback", fields)
	default:
		log.LogErrorWithFields("handshake", "Sign-in failed", fields)
	}
	return err
}

func (o *Orchestrator) newAttempt() *attempt {
	return &attempt{
		id:       uuid.NewString(),
		phase:    PhaseIdle,
		observer: o.onTransition,
	}
}

// String describes the orchestrator for startup logs.
func (o *Orchestrator) String() string {
	return fmt.Sprintf("handshake(provider=%s, retries=%d, callTimeout=%s)", o.provider.Type(), o.maxRetries, o.callTimeout)
}
