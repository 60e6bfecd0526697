package handshake

import (
	"net/url"

	"github.com/dgellow/oauth-signin/internal/autherr"
	"github.com/dgellow/oauth-signin/internal/state"
)

// unspecifiedError stands in for an error parameter sent without a value.
const unspecifiedError = "unspecified"

// CallbackPayload is the query of the provider's redirect back.
type CallbackPayload struct {
	Code             string
	State            string
	Error            string
	ErrorDescription string
}

// PayloadFromQuery extracts the callback parameters from q. An error
// parameter that is present but empty still counts as an error.
func PayloadFromQuery(q url.Values) CallbackPayload {
	p := CallbackPayload{
		Code:             q.Get("code"),
		State:            q.Get("state"),
		Error:            q.Get("error"),
		ErrorDescription: q.Get("error_description"),
	}
	if p.Error == "" && q.Has("error") {
		p.Error = unspecifiedError
	}
	return p
}

// ValidatedCallback is a callback that passed every check.
type ValidatedCallback struct {
	Code  string
	State state.State
}

// Validator gates callbacks before any backchannel call.
type Validator struct {
	codec *state.Codec
}

// NewValidator creates a validator decoding state with codec.
func NewValidator(codec *state.Codec) *Validator {
	return &Validator{codec: codec}
}

// Validate checks p in order: provider error, state presence, state
// integrity and expiry, code presence. The first failing check decides the
// error kind.
func (v *Validator) Validate(p CallbackPayload) (*ValidatedCallback, error) {
	if p.Error != "" {
		return nil, &autherr.Error{
			Kind:                autherr.KindProviderDenied,
			Message:             "provider returned an error",
			ProviderCode:        p.Error,
			ProviderDescription: p.ErrorDescription,
		}
	}

	if p.State == "" {
		return nil, autherr.New(autherr.KindMissingState, "callback has no state parameter")
	}

	s, err := v.codec.Decode(p.State)
	if err != nil {
		return nil, err
	}

	if p.Code == "" {
		return nil, autherr.New(autherr.KindMissingCode, "callback has no code parameter")
	}

	return &ValidatedCallback{Code: p.Code, State: s}, nil
}
