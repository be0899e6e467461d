// Package adapter makes route handlers independent of how a request arrived.
//
// An HttpContext is backed either by an in-process net/http listener or by a
// request forwarded over the bridge (session.Reply). Handlers read the request
// and write the response through the same methods in both cases:
//
//	func health(ctx *adapter.HttpContext) {
//		ctx.CloseJSON(http.StatusOK, map[string]string{"status": "ok"})
//	}
//
// Differences between the backings:
//
//   - Close on a bridge context serializes the response and queues it as a
//     DispatchResponse frame. A listener context writes the response directly.
//   - The content encoding of a bridge response is fixed to utf-8.
//
// Closing a context twice returns ErrAlreadyClosed.
package adapter
