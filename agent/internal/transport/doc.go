// Package transport builds the HTTP clients the agent uses to poll gateways
// and to reach relicwatch-server. Authentication (mTLS, API key, bearer token,
// basic auth) is applied by a RoundTripper so callers never handle secrets.
package transport
