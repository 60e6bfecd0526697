// Package profile turns a provider's raw user profile into a normalized
// identity. Field names are configuration, so the mapper has no knowledge of
// any particular provider.
package profile

import (
	"encoding/json"
	"strings"

	"github.com/dgellow/oauth-signin/internal/autherr"
	"github.com/tidwall/gjson"
)

// FieldConfig names the profile fields to extract. Each value is a gjson
// path: "login" reads a top-level key, "plan.name" a nested one.
type FieldConfig struct {
	Subject string
	Email   string
	Name    string
	Extra   []string
}

// UserProfile is the normalized identity built from one profile response.
type UserProfile struct {
	SubjectID string            `json:"sub"`
	Email     string            `json:"email,omitempty"`
	Name      string            `json:"name,omitempty"`
	Claims    map[string]string `json:"claims,omitempty"`

	// Raw is the provider response as received.
	Raw json.RawMessage `json:"-"`
}

// Mapper extracts UserProfiles according to a FieldConfig.
type Mapper struct {
	fields FieldConfig
}

// NewMapper creates a mapper. An empty subject field defaults to "id".
func NewMapper(fields FieldConfig) *Mapper {
	if fields.Subject == "" {
		fields.Subject = "id"
	}
	return &Mapper{fields: fields}
}

// Map extracts the identity from raw.
//
// The subject id is required and its absence fails with MissingSubjectID.
// Email, name and extra claims are optional; missing or null values are left
// out. Nested objects and arrays are kept as their JSON text.
func (m *Mapper) Map(raw []byte) (*UserProfile, error) {
	if !gjson.ValidBytes(raw) {
		return nil, autherr.New(autherr.KindMissingSubjectID, "profile response is not valid JSON")
	}
	doc := gjson.ParseBytes(raw)
	if !doc.IsObject() {
		return nil, autherr.Newf(autherr.KindMissingSubjectID, "profile response is a JSON %s, not an object", doc.Type)
	}

	subject, ok := lookup(doc, m.fields.Subject)
	if !ok || strings.TrimSpace(subject) == "" {
		return nil, autherr.Newf(autherr.KindMissingSubjectID, "profile has no %q field", m.fields.Subject)
	}

	p := &UserProfile{
		SubjectID: subject,
		Raw:       json.RawMessage(raw),
	}
	if m.fields.Email != "" {
		p.Email, _ = lookup(doc, m.fields.Email)
	}
	if m.fields.Name != "" {
		p.Name, _ = lookup(doc, m.fields.Name)
	}

	for _, field := range m.fields.Extra {
		value, ok := lookup(doc, field)
		if !ok {
			continue
		}
		if p.Claims == nil {
			p.Claims = make(map[string]string, len(m.fields.Extra))
		}
		p.Claims[field] = value
	}

	return p, nil
}

// lookup returns the string form of the value at path. Strings come back
// unquoted, numbers in their literal form, objects and arrays as raw JSON.
func lookup(doc gjson.Result, path string) (string, bool) {
	r := doc.Get(path)
	if !r.Exists() || r.Type == gjson.Null {
		return "", false
	}
	return r.String(), true
}
