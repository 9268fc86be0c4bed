// Package client is a Go client for the corp-gateway HTTP API.
//
// Public endpoints need no credentials. Audit and removal endpoints need an
// admin token:
//
//	c := client.New("http://localhost:8080", client.WithToken(token))
//	events, err := c.Audit(ctx, groupID, 50)
//
// Non-2xx responses are returned as *Error carrying the API error code.
package client
