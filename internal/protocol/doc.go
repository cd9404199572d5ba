// Package protocol owns the wire contract for the request/response core.
//
// Ownership boundary:
// - error codes and the typed wire error
// - frame/header primitives (frame)
// - fragmentation and reassembly (fragment)
// - stream id allocation (streamid), active streams (registry), outbound queue (sink)
package protocol
