package server

import (
	"context"
	"net/http"

	"github.com/dgellow/oauth-signin/internal/autherr"
	"github.com/dgellow/oauth-signin/internal/cookie"
	"github.com/dgellow/oauth-signin/internal/handshake"
	"github.com/dgellow/oauth-signin/internal/idp"
	jsonwriter "github.com/dgellow/oauth-signin/internal/json"
	"github.com/dgellow/oauth-signin/internal/log"
	"github.com/dgellow/oauth-signin/internal/session"
)

// Handshake is the sign-in handshake served by SignInHandlers.
// *handshake.Orchestrator implements it.
type Handshake interface {
	Initiate(returnURL, redirectURI string) (*handshake.Initiation, error)
	HandleCallback(ctx context.Context, payload handshake.CallbackPayload, redirectURI string) (*handshake.Result, error)
}

// SignInHandlers serves login, callback, session introspection and logout.
type SignInHandlers struct {
	handshake    Handshake
	sessions     *session.Manager
	baseURL      string
	callbackPath string
}

// NewSignInHandlers creates sign-in handlers. The redirect URI sent to the
// provider is baseURL+callbackPath, or derived from the request when baseURL
// is empty.
func NewSignInHandlers(h Handshake, sessions *session.Manager, baseURL, callbackPath string) *SignInHandlers {
	return &SignInHandlers{
		handshake:    h,
		sessions:     sessions,
		baseURL:      baseURL,
		callbackPath: callbackPath,
	}
}

func (h *SignInHandlers) redirectURI(r *http.Request) string {
	return idp.RedirectURI(r, h.baseURL, h.callbackPath)
}

// LoginHandler starts a handshake and redirects the browser to the provider.
// The optional return_url parameter is where the browser lands afterwards.
func (h *SignInHandlers) LoginHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonwriter.WriteMethodNotAllowed(w, http.MethodGet)
		return
	}

	initiation, err := h.handshake.Initiate(r.URL.Query().Get("return_url"), h.redirectURI(r))
	if err != nil {
		writeAuthFailure(w, err)
		return
	}

	http.Redirect(w, r, initiation.RedirectURL, http.StatusFound)
}

// CallbackHandler completes the handshake, sets the session cookie and
// redirects to the return URL carried in the state.
func (h *SignInHandlers) CallbackHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonwriter.WriteMethodNotAllowed(w, http.MethodGet)
		return
	}

	payload := handshake.PayloadFromQuery(r.URL.Query())
	result, err := h.handshake.HandleCallback(r.Context(), payload, h.redirectURI(r))
	if err != nil {
		writeAuthFailure(w, err)
		return
	}

	token, sess, err := h.sessions.Issue(result.Profile, result.Provider)
	if err != nil {
		log.LogErrorWithFields("signin", "Failed to issue session", map[string]any{
			"attempt": result.AttemptID,
			"error":   err.Error(),
		})
		writeAuthFailure(w, autherr.Wrap(autherr.KindInternal, err, "cannot issue session"))
		return
	}

	cookie.SetSession(w, token, h.sessions.TTL())
	log.LogDebugWithFields("signin", "Session issued", map[string]any{
		"attempt": result.AttemptID,
		"subject": sess.Subject,
		"expires": sess.Expires,
	})
	http.Redirect(w, r, result.ReturnURL, http.StatusFound)
}

// MeHandler returns the identity in the session cookie.
func (h *SignInHandlers) MeHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonwriter.WriteMethodNotAllowed(w, http.MethodGet)
		return
	}

	value, err := cookie.GetSession(r)
	if err != nil {
		jsonwriter.WriteUnauthorized(w, "Not signed in")
		return
	}

	sess, err := h.sessions.Verify(value)
	if err != nil {
		log.LogDebugWithFields("signin", "Rejected session cookie", map[string]any{
			"error": err.Error(),
		})
		cookie.ClearSession(w)
		jsonwriter.WriteUnauthorized(w, "Not signed in")
		return
	}

	_ = jsonwriter.Write(w, sess)
}

// LogoutHandler clears the session cookie.
func (h *SignInHandlers) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonwriter.WriteMethodNotAllowed(w, http.MethodPost)
		return
	}

	cookie.ClearSession(w)
	w.WriteHeader(http.StatusNoContent)
}

// writeAuthFailure answers a failed handshake with the public message and the
// failure kind as diagnostic code. Provider details stay in the logs.
func writeAuthFailure(w http.ResponseWriter, err error) {
	kind := autherr.KindOf(err)
	jsonwriter.WriteErrorCode(w, failureStatus(kind), "authentication_failed", autherr.PublicMessage, string(kind))
}

func failureStatus(kind autherr.Kind) int {
	switch kind {
	case autherr.KindProviderDenied:
		return http.StatusUnauthorized
	case autherr.KindInvalidState, autherr.KindExpiredState, autherr.KindMalformedState,
		autherr.KindMissingState, autherr.KindMissingCode, autherr.KindReplayedState:
		return http.StatusBadRequest
	case autherr.KindExchangeRejected, autherr.KindProfileRejected,
		autherr.KindNetworkFailure, autherr.KindMissingSubjectID:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
