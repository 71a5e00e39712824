package inkwell

import "net/http"

// RouteRegistrar registers additional routes on the shared HTTP mux before
// the server starts.
type RouteRegistrar func(mux *http.ServeMux)

// Middleware wraps the fully assembled HTTP handler. Registered middlewares
// are applied in registration order; the first registered is outermost.
type Middleware func(http.Handler) http.Handler
