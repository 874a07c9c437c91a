package web

import (
	"context"
	"net/http"

	"github.com/JonMunkholm/carvalue/internal/core"
)

// withRequester records the client address as the requester of any import
// started by r.
func withRequester(r *http.Request) context.Context {
	return core.ContextWithRequester(r.Context(), clientIP(r))
}
