package config

// preset holds the per-provider defaults that are not endpoints. Endpoint
// defaults live with the provider client in package idp.
type preset struct {
	callbackPath    string
	scopes          []string
	scopeDelimiter  string
	fields          []string
	sendSecretProof bool
	claims          ClaimsConfig
}

var presets = map[ProviderType]preset{
	ProviderGitHub: {
		callbackPath:    "/signin-github",
		scopes:          []string{"user"},
		sendSecretProof: true,
		claims:          ClaimsConfig{Subject: "id", Email: "email", Name: "name"},
	},
	ProviderGoogle: {
		callbackPath: "/signin-google",
		scopes:       []string{"openid", "email", "profile"},
		claims:       ClaimsConfig{Subject: "sub", Email: "email", Name: "name"},
	},
	ProviderFacebook: {
		callbackPath:    "/signin-facebook",
		scopes:          []string{"email", "public_profile"},
		scopeDelimiter:  ",",
		fields:          []string{"id", "name", "email"},
		sendSecretProof: true,
		claims:          ClaimsConfig{Subject: "id", Email: "email", Name: "name"},
	},
	ProviderOIDC: {
		callbackPath: "/signin-oidc",
		scopes:       []string{"openid", "email", "profile"},
		claims:       ClaimsConfig{Subject: "sub", Email: "email", Name: "name"},
	},
	ProviderOAuth2: {
		callbackPath: "/signin-oauth",
		claims:       ClaimsConfig{Subject: "id", Email: "email", Name: "name"},
	},
}
