package credentials

import (
	"bytes"
	"io"
	"net/http"
)

// Transport sets the bearer token on every request and, on a 401, refreshes
// the token once and retries the request.
type Transport struct {
	Source *NotifyingTokenSource
	Base   http.RoundTripper
}

// NewHTTPClient returns a client authenticating through source
func NewHTTPClient(source *NotifyingTokenSource, base http.RoundTripper) *http.Client {
	return &http.Client{Transport: &Transport{Source: source, Base: base}}
}

func (t *Transport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Body != nil && req.GetBody == nil {
		body, err := io.ReadAll(req.Body)
		req.Body.Close()
		if err != nil {
			return nil, err
		}
		req.Body = io.NopCloser(bytes.NewReader(body))
		req.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(body)), nil
		}
	}

	token, err := t.Source.Token()
	if err != nil {
		return nil, err
	}

	resp, err := t.base().RoundTrip(authorize(req, token.AccessToken))
	if err != nil || resp.StatusCode != http.StatusUnauthorized || !t.Source.CanRefresh() {
		return resp, err
	}

	fresh, err := t.Source.Refresh(req.Context(), token.AccessToken)
	if err != nil {
		// Surface the original 401
		return resp, nil
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	retry := authorize(req, fresh.AccessToken)
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, err
		}
		retry.Body = body
	}
	return t.base().RoundTrip(retry)
}

func authorize(req *http.Request, accessToken string) *http.Request {
	clone := req.Clone(req.Context())
	clone.Header.Set("Authorization", "Bearer "+accessToken)
	return clone
}
