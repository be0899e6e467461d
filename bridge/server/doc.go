// Package server serves route handlers on the simulation side.
//
// Handlers are registered on a Router and receive an adapter.HttpContext, so
// the same handler works in both serving modes:
//
//   - bridge: a session connects to the HTTP host, announces the route table
//     and answers forwarded requests
//   - listener: an in-process net/http server on Options.Address
//
// Usage:
//
//	router := server.NewRouter()
//	router.Handle("/health", "GET", func(ctx *adapter.HttpContext) error {
//		return ctx.CloseJSON(http.StatusOK, map[string]string{"status": "ok"})
//	})
//
//	s := server.NewServer(config, router, pool, connector, serializer)
//	err := s.Serve(ctx)
package server
