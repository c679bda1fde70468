// Package server hosts the Fiber application: request-id and CORS middleware,
// the Host → site registry that decides whether a request goes through the
// offline gateway, and the shared HTTP clients used for origin and media host
// traffic. Requests whose Host matches no configured site fall through to the
// REST API and static files mounted by the caller.
package server
