// Package proto defines the binary wire format spoken between clients and the
// server. All integers are unsigned and little-endian.
//
// Request frame:
//
//	offset  size  field
//	0       4     payload_size  (bytes following the header)
//	4       2     command_kind  (1 = SET, 2 = GET, 3 = DELETE)
//	6       4     request_id    (opaque, echoed in the response)
//	10      N     payload
//
// SET payload: keylen(4) | valuelen(4) | key | value
// GET and DELETE payload: keylen(4) | key
//
// Response frame: the request header followed by a one byte status
// (0 = OK, 1 = NotFound, 2 = Error) and the response payload. For SET and GET
// the payload is the stored value, for errors it is the error message. Because
// the request_id is echoed, a client can pipeline requests on one connection
// and match responses even if they complete out of order.
package proto
