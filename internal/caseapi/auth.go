package caseapi

import (
	"context"
	"net/url"
	"strings"

	"github.com/pitabwire/vetdesk/model"
)

// LoginResult is the token answer of the case service.
type LoginResult struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// SignupInput registers a new clinician account.
type SignupInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name,omitempty"`
}

// Login exchanges credentials for an access token. The case service expects
// an OAuth2 password form, not JSON.
func (c *Client) Login(ctx context.Context, username, password string) (LoginResult, error) {
	var details []model.FieldError
	if strings.TrimSpace(username) == "" {
		details = append(details, model.FieldError{Field: "username", Code: "REQUIRED", Message: "username is required"})
	}
	if password == "" {
		details = append(details, model.FieldError{Field: "password", Code: "REQUIRED", Message: "password is required"})
	}
	if len(details) > 0 {
		return LoginResult{}, model.NewValidationError(details)
	}

	form := url.Values{}
	form.Set("username", username)
	form.Set("password", password)

	var out LoginResult
	err := c.doJSON(ctx, request{
		op:          "login",
		body:        []byte(form.Encode()),
		contentType: "application/x-www-form-urlencoded",
	}, nil, &out)
	if err != nil {
		return LoginResult{}, err
	}
	if out.AccessToken == "" {
		return LoginResult{}, model.NewUpstreamError(502, "case service returned no access token")
	}
	return out, nil
}

// Signup creates an account. The created user is not returned.
func (c *Client) Signup(ctx context.Context, in SignupInput) error {
	if err := c.schema.Validate("signup", in); err != nil {
		return err
	}
	return c.doJSON(ctx, request{op: "signup"}, in, nil)
}
