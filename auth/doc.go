// Package auth manages the Envato OAuth token lifecycle for a single user and
// a single set of client credentials.
//
// A Manager exchanges the authorization code captured during the browser
// login for an access/refresh token pair, persists it to a JSON file with
// 0600 permissions, and refreshes the access token when it is within
// ExpiryMargin of its expiry:
//
//	m, err := auth.NewManager(auth.Config{
//		ClientID:     clientID,
//		ClientSecret: clientSecret,
//		RedirectURI:  "http://localhost:56654/callback",
//	})
//	rec, err := m.ExchangeCode(ctx, code)
//	token, ok := m.ValidToken(ctx) // ok == false means "log in again"
//
// Token file writes are serialised across processes with a lock file next
// to the token file. Revocation is local only: the provider has no
// revocation endpoint.
package auth
