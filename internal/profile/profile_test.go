package profile

import (
	"testing"

	"github.com/dgellow/oauth-signin/internal/autherr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var githubFields = FieldConfig{
	Subject: "id",
	Email:   "email",
	Name:    "name",
	Extra:   []string{"login", "plan", "plan.name", "company"},
}

func TestMapper_Map(t *testing.T) {
	tests := []struct {
		name       string
		raw        string
		fields     FieldConfig
		wantSub    string
		wantEmail  string
		wantName   string
		wantClaims map[string]string
	}{
		{
			name:      "string_id_and_email",
			raw:       `{"id": "42", "email": "a@b.com"}`,
			fields:    githubFields,
			wantSub:   "42",
			wantEmail: "a@b.com",
		},
		{
			name:    "numeric_id_keeps_literal_form",
			raw:     `{"id": 12345678901, "login": "octocat"}`,
			fields:  githubFields,
			wantSub: "12345678901",
			wantClaims: map[string]string{
				"login": "octocat",
			},
		},
		{
			name: "nested_object_and_subproperty",
			raw: `{
				"id": 7,
				"name": "Mona",
				"email": null,
				"plan": {"name": "pro", "seats": 3}
			}`,
			fields:   githubFields,
			wantSub:  "7",
			wantName: "Mona",
			wantClaims: map[string]string{
				"plan":      `{"name": "pro", "seats": 3}`,
				"plan.name": "pro",
			},
		},
		{
			name:      "nested_subject_path",
			raw:       `{"data": {"user": {"uid": "u-1", "mail": "u@example.com"}}}`,
			fields:    FieldConfig{Subject: "data.user.uid", Email: "data.user.mail"},
			wantSub:   "u-1",
			wantEmail: "u@example.com",
		},
		{
			name:    "booleans_and_arrays",
			raw:     `{"sub": "s", "email_verified": true, "groups": ["a", "b"]}`,
			fields:  FieldConfig{Subject: "sub", Extra: []string{"email_verified", "groups", "missing"}},
			wantSub: "s",
			wantClaims: map[string]string{
				"email_verified": "true",
				"groups":         `["a", "b"]`,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewMapper(tt.fields).Map([]byte(tt.raw))
			require.NoError(t, err)

			assert.Equal(t, tt.wantSub, p.SubjectID)
			assert.Equal(t, tt.wantEmail, p.Email)
			assert.Equal(t, tt.wantName, p.Name)
			assert.Equal(t, tt.wantClaims, p.Claims)
			assert.JSONEq(t, tt.raw, string(p.Raw))
		})
	}
}

func TestMapper_MissingSubjectID(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"no_id_field", `{"email": "x@y.com"}`},
		{"null_id", `{"id": null, "email": "x@y.com"}`},
		{"empty_id", `{"id": "  "}`},
		{"not_json", `<html>rate limited</html>`},
		{"json_array", `[{"id": 1}]`},
		{"empty_body", ``},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewMapper(githubFields).Map([]byte(tt.raw))
			assert.Nil(t, p)
			assert.ErrorIs(t, err, autherr.ErrMissingSubjectID)
		})
	}
}

func TestNewMapper_DefaultSubject(t *testing.T) {
	p, err := NewMapper(FieldConfig{}).Map([]byte(`{"id": "abc"}`))
	require.NoError(t, err)
	assert.Equal(t, "abc", p.SubjectID)
	assert.Empty(t, p.Email)
	assert.Nil(t, p.Claims)
}
