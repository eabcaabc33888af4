package harness

import "net/url"

// AuthorizationResult holds the parameters a provider delivered on the
// callback redirect. Code and Error are mutually exclusive per the provider
// contract; both empty means the page was opened without completing an
// authorization.
type AuthorizationResult struct {
	Code             string `json:"code"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// ParseAuthorizationResult extracts authorization parameters from a callback
// query string. It never fails; absent parameters default to empty strings.
// Meta surfaces errors under "error_code"/"error_message" while the OAuth
// spec names them "error"/"error_description"; both spellings are accepted
// and the canonical name wins when both are present.
func ParseAuthorizationResult(query url.Values) AuthorizationResult {
	errParam := query.Get("error")
	if errParam == "" {
		errParam = query.Get("error_code")
	}

	errDesc := query.Get("error_description")
	if errDesc == "" {
		errDesc = query.Get("error_message")
	}

	return AuthorizationResult{
		Code:             query.Get("code"),
		Error:            errParam,
		ErrorDescription: errDesc,
	}
}

// Denied reports whether the provider returned an error instead of a code
func (r AuthorizationResult) Denied() bool {
	return r.Error != ""
}
