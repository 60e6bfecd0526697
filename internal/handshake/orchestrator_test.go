package handshake

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dgellow/oauth-signin/internal/autherr"
	"github.com/dgellow/oauth-signin/internal/idp"
	"github.com/dgellow/oauth-signin/internal/profile"
	"github.com/dgellow/oauth-signin/internal/state"
	"github.com/dgellow/oauth-signin/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testRedirectURI = "https://app.example.com/signin-github"

var testStateKey = []byte("handshake-test-state-key-0123456789")

// fakeIdP serves token and profile endpoints and counts calls.
type fakeIdP struct {
	server       *httptest.Server
	tokenCalls   atomic.Int32
	profileCalls atomic.Int32

	tokenStatus   int
	tokenBody     string
	profileStatus int
	profileBody   string

	mu         sync.Mutex
	lastBearer string
	lastForm   url.Values
}

func newFakeIdP(t *testing.T) *fakeIdP {
	t.Helper()
	f := &fakeIdP{
		tokenStatus:   http.StatusOK,
		tokenBody:     `{"access_token": "tok1", "token_type": "bearer"}`,
		profileStatus: http.StatusOK,
		profileBody:   `{"id": "42", "email": "a@b.com"}`,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		f.tokenCalls.Add(1)
		_ = r.ParseForm()
		f.mu.Lock()
		f.lastForm = r.PostForm
		f.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(f.tokenStatus)
		_, _ = w.Write([]byte(f.tokenBody))
	})
	mux.HandleFunc("/user", func(w http.ResponseWriter, r *http.Request) {
		f.profileCalls.Add(1)
		f.mu.Lock()
		f.lastBearer = r.Header.Get("Authorization")
		f.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(f.profileStatus)
		_, _ = w.Write([]byte(f.profileBody))
	})

	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeIdP) client(t *testing.T) *idp.Client {
	t.Helper()
	client, err := idp.NewClient(idp.ClientConfig{
		ProviderType: "github",
		Endpoints: idp.Endpoints{
			AuthURL:     "https://github.com/login/oauth/authorize",
			TokenURL:    f.server.URL + "/token",
			UserInfoURL: f.server.URL + "/user",
		},
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		Scopes:       []string{"user"},
	})
	require.NoError(t, err)
	return client
}

func newTestCodec(t *testing.T) *state.Codec {
	t.Helper()
	codec, err := state.NewCodec(testStateKey, 15*time.Minute)
	require.NoError(t, err)
	return codec
}

func newTestOrchestrator(t *testing.T, provider Provider, mutate func(*Config)) *Orchestrator {
	t.Helper()
	cfg := Config{
		Provider:             provider,
		Codec:                newTestCodec(t),
		Mapper:               profile.NewMapper(profile.FieldConfig{Subject: "id", Email: "email", Name: "name"}),
		RetryInitialInterval: time.Millisecond,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	o, err := New(cfg)
	require.NoError(t, err)
	return o
}

// stateFromRedirect initiates an attempt and returns the state token placed
// in the redirect URL.
func stateFromRedirect(t *testing.T, o *Orchestrator, returnURL string) string {
	t.Helper()
	initiation, err := o.Initiate(returnURL, testRedirectURI)
	require.NoError(t, err)
	u, err := url.Parse(initiation.RedirectURL)
	require.NoError(t, err)
	token := u.Query().Get("state")
	require.NotEmpty(t, token)
	return token
}

type transitionLog struct {
	mu    sync.Mutex
	steps []Phase
}

func (l *transitionLog) record(_ string, _, to Phase) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.steps = append(l.steps, to)
}

func (l *transitionLog) phases() []Phase {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Phase(nil), l.steps...)
}

func TestInitiate_StateCarriesReturnURL(t *testing.T) {
	f := newFakeIdP(t)
	o := newTestOrchestrator(t, f.client(t), nil)

	initiation, err := o.Initiate("/dashboard", testRedirectURI)
	require.NoError(t, err)
	assert.NotEmpty(t, initiation.AttemptID)

	u, err := url.Parse(initiation.RedirectURL)
	require.NoError(t, err)
	q := u.Query()
	assert.Equal(t, "github.com", u.Host)
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, "client-id", q.Get("client_id"))
	assert.Equal(t, testRedirectURI, q.Get("redirect_uri"))
	assert.Equal(t, "user", q.Get("scope"))

	decoded, err := newTestCodec(t).Decode(q.Get("state"))
	require.NoError(t, err)
	assert.Equal(t, "/dashboard", decoded.ReturnURL)
	assert.Equal(t, initiation.State.Nonce, decoded.Nonce)

	assert.Zero(t, f.tokenCalls.Load()+f.profileCalls.Load(), "initiate makes no network call")
}

func TestInitiate_UnsafeReturnURLReplaced(t *testing.T) {
	f := newFakeIdP(t)
	o := newTestOrchestrator(t, f.client(t), func(cfg *Config) {
		cfg.AllowedReturnHosts = []string{"app.example.com"}
	})

	initiation, err := o.Initiate("https://evil.example.com/phish", testRedirectURI)
	require.NoError(t, err)
	assert.Equal(t, DefaultReturnURL, initiation.State.ReturnURL)

	initiation, err = o.Initiate("https://app.example.com/welcome", testRedirectURI)
	require.NoError(t, err)
	assert.Equal(t, "https://app.example.com/welcome", initiation.State.ReturnURL)
}

func TestHandleCallback_Success(t *testing.T) {
	f := newFakeIdP(t)
	transitions := &transitionLog{}
	o := newTestOrchestrator(t, f.client(t), func(cfg *Config) {
		cfg.OnTransition = transitions.record
	})

	token := stateFromRedirect(t, o, "/dashboard")
	result, err := o.HandleCallback(context.Background(), CallbackPayload{Code: "abc123", State: token}, testRedirectURI)
	require.NoError(t, err)

	assert.Equal(t, "42", result.Profile.SubjectID)
	assert.Equal(t, "a@b.com", result.Profile.Email)
	assert.Equal(t, "/dashboard", result.ReturnURL)
	assert.Equal(t, "github", result.Provider)

	assert.Equal(t, int32(1), f.tokenCalls.Load())
	assert.Equal(t, int32(1), f.profileCalls.Load())
	f.mu.Lock()
	bearer, form := f.lastBearer, f.lastForm
	f.mu.Unlock()
	assert.Equal(t, "Bearer tok1", bearer)
	assert.Equal(t, "abc123", form.Get("code"))
	assert.Equal(t, testRedirectURI, form.Get("redirect_uri"))

	assert.Equal(t, []Phase{
		PhaseAwaitingCallback, // initiate
		PhaseExchanging,
		PhaseFetchingProfile,
		PhaseComplete,
	}, transitions.phases())
}

func TestHandleCallback_ExchangeRejected(t *testing.T) {
	f := newFakeIdP(t)
	f.tokenStatus = http.StatusBadRequest
	f.tokenBody = `{"error": "invalid_grant", "error_description": "code expired"}`

	transitions := &transitionLog{}
	o := newTestOrchestrator(t, f.client(t), func(cfg *Config) {
		cfg.OnTransition = transitions.record
	})

	token := stateFromRedirect(t, o, "/dashboard")
	result, err := o.HandleCallback(context.Background(), CallbackPayload{Code: "abc123", State: token}, testRedirectURI)

	assert.Nil(t, result)
	assert.ErrorIs(t, err, autherr.ErrExchangeRejected)
	assert.Equal(t, int32(1), f.tokenCalls.Load(), "rejections are not retried")
	assert.Zero(t, f.profileCalls.Load(), "no profile fetch after a rejected exchange")
	assert.Equal(t, []Phase{PhaseAwaitingCallback, PhaseExchanging, PhaseFailed}, transitions.phases())
}

func TestHandleCallback_MissingSubjectID(t *testing.T) {
	f := newFakeIdP(t)
	f.profileBody = `{"email": "x@y.com"}`
	o := newTestOrchestrator(t, f.client(t), nil)

	token := stateFromRedirect(t, o, "/dashboard")
	_, err := o.HandleCallback(context.Background(), CallbackPayload{Code: "abc123", State: token}, testRedirectURI)

	assert.ErrorIs(t, err, autherr.ErrMissingSubjectID)
	assert.Equal(t, int32(1), f.profileCalls.Load())
}

func TestHandleCallback_ProfileRejected(t *testing.T) {
	f := newFakeIdP(t)
	f.profileStatus = http.StatusForbidden
	f.profileBody = `{"message": "forbidden"}`
	o := newTestOrchestrator(t, f.client(t), nil)

	token := stateFromRedirect(t, o, "/dashboard")
	_, err := o.HandleCallback(context.Background(), CallbackPayload{Code: "abc123", State: token}, testRedirectURI)

	assert.ErrorIs(t, err, autherr.ErrProfileRejected)
	assert.Equal(t, int32(1), f.profileCalls.Load())
}

func TestHandleCallback_RejectedBeforeNetwork(t *testing.T) {
	f := newFakeIdP(t)
	o := newTestOrchestrator(t, f.client(t), nil)
	valid := stateFromRedirect(t, o, "/dashboard")

	tests := []struct {
		name    string
		payload CallbackPayload
		want    error
	}{
		{
			name:    "missing_code",
			payload: CallbackPayload{State: valid},
			want:    autherr.ErrMissingCode,
		},
		{
			name:    "missing_state",
			payload: CallbackPayload{Code: "abc123"},
			want:    autherr.ErrMissingState,
		},
		{
			name:    "forged_state",
			payload: CallbackPayload{Code: "abc123", State: tamper(valid)},
			want:    autherr.ErrInvalidState,
		},
		{
			name:    "garbage_state",
			payload: CallbackPayload{Code: "abc123", State: "not-a-state"},
			want:    autherr.ErrMalformedState,
		},
		{
			name:    "provider_error_wins",
			payload: CallbackPayload{Code: "abc123", State: valid, Error: "access_denied"},
			want:    autherr.ErrProviderDenied,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := o.HandleCallback(context.Background(), tt.payload, testRedirectURI)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	assert.Zero(t, f.tokenCalls.Load())
	assert.Zero(t, f.profileCalls.Load())
}

// tamper flips the last signature character.
func tamper(token string) string {
	last := token[len(token)-1]
	flipped := byte('0')
	if last == '0' {
		flipped = '1'
	}
	return token[:len(token)-1] + string(flipped)
}

func TestHandleCallback_ProviderDeniedIsBenign(t *testing.T) {
	f := newFakeIdP(t)
	o := newTestOrchestrator(t, f.client(t), nil)

	_, err := o.HandleCallback(context.Background(), CallbackPayload{
		Error:            "access_denied",
		ErrorDescription: "The user has denied your application access.",
	}, testRedirectURI)

	require.Error(t, err)
	assert.True(t, autherr.IsBenign(err))
	assert.False(t, autherr.IsSecurityRejection(err))

	var aerr *autherr.Error
	require.True(t, errors.As(err, &aerr))
	assert.Equal(t, "access_denied", aerr.ProviderCode)
}

func TestHandleCallback_Replay(t *testing.T) {
	f := newFakeIdP(t)
	o := newTestOrchestrator(t, f.client(t), func(cfg *Config) {
		cfg.ReplayGuard = storage.NewMemoryReplayGuard()
	})

	payload := CallbackPayload{Code: "abc123", State: stateFromRedirect(t, o, "/dashboard")}
	_, err := o.HandleCallback(context.Background(), payload, testRedirectURI)
	require.NoError(t, err)

	_, err = o.HandleCallback(context.Background(), payload, testRedirectURI)
	assert.ErrorIs(t, err, autherr.ErrReplayedState)
	assert.True(t, autherr.IsSecurityRejection(err))
	assert.Equal(t, int32(1), f.tokenCalls.Load())
}

func TestHandleCallback_Concurrent(t *testing.T) {
	f := newFakeIdP(t)
	o := newTestOrchestrator(t, f.client(t), nil)

	tokens := make([]string, 16)
	for i := range tokens {
		tokens[i] = stateFromRedirect(t, o, "/dashboard")
	}

	var wg sync.WaitGroup
	errs := make(chan error, len(tokens))
	for _, token := range tokens {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := o.HandleCallback(context.Background(), CallbackPayload{Code: "c", State: token}, testRedirectURI)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, int32(16), f.tokenCalls.Load())
}

// scriptedProvider fails each call with the next scripted error.
type scriptedProvider struct {
	exchangeErrs []error
	profileErrs  []error

	exchangeCalls atomic.Int32
	profileCalls  atomic.Int32
}

func (p *scriptedProvider) Type() string { return "scripted" }

func (p *scriptedProvider) AuthorizationRequest(redirectURI, st string) idp.AuthorizationRequest {
	return idp.AuthorizationRequest{Endpoint: "https://idp.example.com/authorize", ClientID: "id", RedirectURI: redirectURI, State: st}
}

func (p *scriptedProvider) ExchangeCode(ctx context.Context, code, redirectURI string) (*idp.TokenResponse, error) {
	n := int(p.exchangeCalls.Add(1)) - 1
	if n < len(p.exchangeErrs) && p.exchangeErrs[n] != nil {
		return nil, p.exchangeErrs[n]
	}
	return &idp.TokenResponse{AccessToken: "tok", TokenType: "bearer"}, nil
}

func (p *scriptedProvider) FetchProfile(ctx context.Context, accessToken string) ([]byte, error) {
	n := int(p.profileCalls.Add(1)) - 1
	if n < len(p.profileErrs) && p.profileErrs[n] != nil {
		return nil, p.profileErrs[n]
	}
	return []byte(`{"id": "7"}`), nil
}

func networkErr() error {
	return autherr.Wrap(autherr.KindNetworkFailure, errors.New("connection reset by peer"), "in transit")
}

type countingRecorder struct {
	mu       sync.Mutex
	outcomes []string
	retries  int
}

func (r *countingRecorder) RecordAttempt(_, outcome string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, outcome)
}

func (r *countingRecorder) RecordBackchannel(string, string, string, time.Duration) {}

func (r *countingRecorder) RecordRetry(string, string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.retries++
}

func TestHandleCallback_Retry(t *testing.T) {
	intp := func(n int) *int { return &n }

	tests := []struct {
		name          string
		maxRetries    *int
		exchangeErrs  []error
		profileErrs   []error
		wantErr       error
		wantExchanges int32
		wantProfiles  int32
		wantRetries   int
	}{
		{
			name:          "recovers_from_network_failures",
			exchangeErrs:  []error{networkErr(), networkErr()},
			wantExchanges: 3,
			wantProfiles:  1,
			wantRetries:   2,
		},
		{
			name:          "gives_up_after_budget",
			maxRetries:    intp(1),
			exchangeErrs:  []error{networkErr(), networkErr(), networkErr()},
			wantErr:       autherr.ErrNetworkFailure,
			wantExchanges: 2,
			wantRetries:   1,
		},
		{
			name:          "zero_retries",
			maxRetries:    intp(0),
			exchangeErrs:  []error{networkErr()},
			wantErr:       autherr.ErrNetworkFailure,
			wantExchanges: 1,
		},
		{
			name:          "rejection_not_retried",
			exchangeErrs:  []error{autherr.New(autherr.KindExchangeRejected, "bad code")},
			wantErr:       autherr.ErrExchangeRejected,
			wantExchanges: 1,
		},
		{
			name:          "profile_network_failure_retried",
			profileErrs:   []error{networkErr()},
			wantExchanges: 1,
			wantProfiles:  2,
			wantRetries:   1,
		},
		{
			name:          "rejection_on_last_try_not_wrapped",
			maxRetries:    intp(1),
			exchangeErrs:  []error{networkErr(), autherr.New(autherr.KindExchangeRejected, "consumed")},
			wantErr:       autherr.ErrExchangeRejected,
			wantExchanges: 2,
			wantRetries:   1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &scriptedProvider{exchangeErrs: tt.exchangeErrs, profileErrs: tt.profileErrs}
			rec := &countingRecorder{}
			o := newTestOrchestrator(t, p, func(cfg *Config) {
				cfg.MaxRetries = tt.maxRetries
				cfg.Recorder = rec
			})

			token := stateFromRedirect(t, o, "/")
			result, err := o.HandleCallback(context.Background(), CallbackPayload{Code: "c", State: token}, testRedirectURI)

			if tt.wantErr != nil {
				assert.Nil(t, result)
				assert.ErrorIs(t, err, tt.wantErr)
				var aerr *autherr.Error
				assert.True(t, errors.As(err, &aerr))
			} else {
				require.NoError(t, err)
				assert.Equal(t, "7", result.Profile.SubjectID)
			}
			assert.Equal(t, tt.wantExchanges, p.exchangeCalls.Load())
			assert.Equal(t, tt.wantProfiles, p.profileCalls.Load())
			assert.Equal(t, tt.wantRetries, rec.retries)
			require.Len(t, rec.outcomes, 1)
		})
	}
}

func TestHandleCallback_CancelledContext(t *testing.T) {
	p := &scriptedProvider{exchangeErrs: []error{networkErr(), networkErr(), networkErr()}}
	o := newTestOrchestrator(t, p, func(cfg *Config) {
		cfg.RetryInitialInterval = 5 * time.Minute
	})
	token := stateFromRedirect(t, o, "/")

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		for p.exchangeCalls.Load() == 0 {
			time.Sleep(time.Millisecond)
		}
		cancel()
	}()

	_, err := o.HandleCallback(ctx, CallbackPayload{Code: "c", State: token}, testRedirectURI)
	assert.ErrorIs(t, err, autherr.ErrNetworkFailure)
	assert.Equal(t, int32(1), p.exchangeCalls.Load())
}

func TestNew_Validation(t *testing.T) {
	codec := newTestCodec(t)
	mapper := profile.NewMapper(profile.FieldConfig{})
	negative := -1

	tests := []struct {
		name string
		cfg  Config
	}{
		{"no_provider", Config{Codec: codec, Mapper: mapper}},
		{"no_codec", Config{Provider: &scriptedProvider{}, Mapper: mapper}},
		{"no_mapper", Config{Provider: &scriptedProvider{}, Codec: codec}},
		{"negative_retries", Config{Provider: &scriptedProvider{}, Codec: codec, Mapper: mapper, MaxRetries: &negative}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg)
			assert.ErrorIs(t, err, autherr.ErrConfiguration)
		})
	}
}
