// internal/handlers/ws_codes.go
package handlers

// Custom WebSocket close codes used by the session observer endpoint.
const (
	BadSubprotocolError = 3000 // Client connected with an unsupported subprotocol.
	ObserverClosedError = 3004 // The synchronizer shut the observer down.
)
