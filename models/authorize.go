package models

// AuthorizeRequest is a pending consent flow, created when a requester asks
// for an authorization link and looked up again when the provider redirects
// back with the matching state value.
type AuthorizeRequest struct {
	JID         string      `json:"jid"`
	UserState   string      `json:"user_state"`
	RedirectURI string      `json:"redirect_uri"`
	Environment Environment `json:"environment"`
}

// AuthorizeDescription is a reusable consent page definition: who asks for
// access, under what name, and why. The description body is sanitized HTML.
type AuthorizeDescription struct {
	JID         string `json:"jid"`
	Name        string `json:"name"`
	Description string `json:"description"`
	LogoURL     string `json:"logo_url,omitempty"`
}
