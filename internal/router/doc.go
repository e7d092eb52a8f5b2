// Package router is the path-prefix router and forwarder. It matches each
// inbound request against the route table and, on a hit, proxies it to the
// rule's backend over that backend's pooled connections, streaming the
// response back as it arrives. Requests that match no rule are reported as
// not handled so the host server can serve them itself.
//
// Backend failures never retry. They are translated to status codes:
//
//   - ErrBackendUnreachable: 502 Bad Gateway
//   - ErrBackendTimeout:     504 Gateway Timeout
//   - ErrUpstreamProtocol:   502 Bad Gateway
//
// A failure after response headers were sent aborts the client connection
// instead of finishing the response.
package router
