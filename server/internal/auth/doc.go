// Package auth provides authentication middleware for relicwatch-server.
//
// APIKey(mode, header, key) returns HTTP middleware that validates the API key
// carried in the named request header. The server applies it to the mutating
// REST routes (resolve, threshold registration, HTTP ingest).
//
// When mode != "apikey" or key == "", all requests pass through (useful for
// local development with auth disabled). When the key is incorrect or absent,
// the middleware answers 401 immediately.
package auth
