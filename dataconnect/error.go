package dataconnect

import "encoding/json"

// Error is a non-2xx answer from the provider, kept verbatim so callers can
// surface the provider's own wording. Code carries the provider error
// identifier when the body had the standard {error, error_description}
// shape, or is empty when it did not.
type Error struct {
	Message string
	Code    string
}

func (e *Error) Error() string {
	if e.Code != "" {
		return e.Code + ": " + e.Message
	}
	return e.Message
}

// parseError builds an *Error from an upstream error body. Bodies that are
// not the standard error shape are kept raw as the message.
func parseError(body []byte) *Error {
	var upstream struct {
		Err         string `json:"error"`
		Description string `json:"error_description"`
	}
	if err := json.Unmarshal(body, &upstream); err == nil && upstream.Err != "" {
		return &Error{Message: upstream.Description, Code: upstream.Err}
	}
	return &Error{Message: string(body)}
}
