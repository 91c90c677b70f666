// Package sessionclient is the consuming side of the stockpad session
// lifecycle.
//
// A Coordinator holds the access credential in memory and renews it through a
// Rotator when it is within the low-water mark of expiry or when the backend
// rejects it. Renewal is single-flight: any number of concurrent callers that
// observe a stale credential share one rotation round-trip and resume with its
// result. Transport, UnaryClientInterceptor and DialEvents attach the
// credential to HTTP, gRPC and WebSocket calls respectively.
package sessionclient
