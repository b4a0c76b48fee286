package api

import (
	"net/http"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
)

const userAgent = "draftcal/1.0"

// customTransport stamps every request with the client identity and a request id.
type customTransport struct {
	UserAgent string
	Transport http.RoundTripper
}

// RoundTrip adds required headers to each request.
func (t *customTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", t.UserAgent)
	if req.Header.Get("X-Request-ID") == "" {
		req.Header.Set("X-Request-ID", uuid.NewString())
	}
	return t.Transport.RoundTrip(req)
}

// newTransport builds the round tripper chain. A non-empty token adds bearer
// authentication through an oauth2 static token source.
func newTransport(base http.RoundTripper, token string) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	var rt http.RoundTripper = &customTransport{UserAgent: userAgent, Transport: base}
	if token != "" {
		rt = &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}),
			Base:   rt,
		}
	}
	return rt
}
