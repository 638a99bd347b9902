// Package server runs the short-lived local HTTP server that completes a project's OAuth login.
//
// # Router Infrastructure
//
// The [Router] interface defines HTTP routing with middleware support.
// [Middleware] wraps handlers in reverse order (last added executes first).
// The [BasicRouter] implementation uses [http.ServeMux] internally with method filtering.
//
// # OAuth Callback Handler
//
// [OAuthHandler] implements the authorization code callback. It validates the state parameter,
// exchanges the code for a token using the PKCE verifier, and sends exactly one result through a channel.
// Later callbacks are rejected.
//
// # Login Flow
//
// [Flow] ties the pieces together for `ytq auth login`: it listens on the host and path of the
// project's redirect URI, opens the consent page, waits for the callback with a timeout, and shuts
// the server down. Persisting the token is left to the caller.
package server
