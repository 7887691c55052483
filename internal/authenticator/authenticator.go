// Package authenticator declares the middleware contract the router
// needs from the authentication gate, so tests can substitute it.
package authenticator

import "net/http"

type Authenticator interface {
	AuthenticateUser(h http.Handler) http.Handler
}
