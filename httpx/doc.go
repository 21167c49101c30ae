// Package httpx is the embedded HTTP/1.x engine of a peer-to-peer
// streaming servent. It serves admin, playlist and relay endpoints on the
// same socket as the streaming protocol.
//
// Highlights
//   - Parsing: pipelined HTTP/1.0 and HTTP/1.1 requests, case-insensitive
//     multi-valued headers, cookies, Pragma tokens, lazy query parsing.
//   - Environment: per-request state with typed Request/Response views,
//     well-known keys plus application extensions, OnSendingHeaders hooks.
//   - Framing: chunked, pass-through (declared length or connection close)
//     and deferred buffering that computes Content-Length, chosen once on
//     the first body write. Expect: 100-continue is honoured on first read.
//   - Pipeline: Builder composes Middleware around a terminal handler;
//     AllowMethods, MapMethod, Map, Authorize and Run are built in.
//   - Connection loop: keep-alive negotiation, request and time budgets,
//     protocol upgrade hand-off, cancellation on shutdown.
//   - Observability: plug‑in Logger and Meter interfaces.
//
// Quick start:
//
//	b := httpx.NewBuilder(nil)
//	b.Use(httpx.AllowMethods("GET"))
//	b.Run(func(env *httpx.Environment) error {
//	    env.Response.SetContentType("text/plain")
//	    _, err := env.Response.WriteString("hello")
//	    return err
//	})
//	s := &httpx.Server{Pipeline: b}
//	if err := s.ListenAndServe(":7144"); err != nil { log.Fatal(err) }
package httpx
