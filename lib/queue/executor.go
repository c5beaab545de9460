package queue

import (
	"fmt"

	"github.com/ValentinKolb/ugKV/lib/proto"
	"github.com/ValentinKolb/ugKV/lib/table"
)

// Writer pushes response bytes to a connection.
// Writing to a connection that is already gone must return an error, not panic.
type Writer interface {
	WriteOut(connID uint64, data []byte) error
}

// WriterFunc adapts a function to the Writer interface
type WriterFunc func(connID uint64, data []byte) error

func (f WriterFunc) WriteOut(connID uint64, data []byte) error {
	return f(connID, data)
}

// Result is the outcome of a single command before it is framed
type Result struct {
	Status  proto.Status
	Payload []byte
}

// Apply runs cmd against t and returns its outcome.
// Unknown kinds and malformed payloads yield StatusError without touching t.
func Apply(t *table.Table, cmd *Command) Result {
	switch cmd.Kind {
	case proto.KindSet:
		key, value, err := proto.DecodeSet(cmd.Payload)
		if err != nil {
			return errorResult(err)
		}
		if err := t.Put(key, value); err != nil {
			return errorResult(err)
		}
		return Result{Status: proto.StatusOK, Payload: value}

	case proto.KindGet:
		key, err := proto.DecodeKey(cmd.Payload)
		if err != nil {
			return errorResult(err)
		}
		value, ok := t.Get(key)
		if !ok {
			return Result{Status: proto.StatusNotFound}
		}
		return Result{Status: proto.StatusOK, Payload: value}

	case proto.KindDelete:
		key, err := proto.DecodeKey(cmd.Payload)
		if err != nil {
			return errorResult(err)
		}
		if !t.Delete(key) {
			return Result{Status: proto.StatusNotFound}
		}
		return Result{Status: proto.StatusOK}

	default:
		return errorResult(fmt.Errorf("unsupported command kind %s", cmd.Kind))
	}
}

func errorResult(err error) Result {
	return Result{Status: proto.StatusError, Payload: []byte(err.Error())}
}

// NewExecutor returns an ExecuteFunc that applies commands to t and writes a
// framed response for every command to w. Every command gets exactly one
// response, so a client never waits for an answer that will not come.
func NewExecutor(t *table.Table, w Writer) ExecuteFunc {
	return func(cmd *Command) {
		res := Apply(t, cmd)

		if res.Status == proto.StatusError {
			Logger.Debugf("command %s (conn %d, request %d) failed: %s",
				cmd.Kind, cmd.ConnID, cmd.RequestID, res.Payload)
		}

		resp := proto.EncodeResponse(cmd.Kind, cmd.RequestID, res.Status, res.Payload)
		if err := w.WriteOut(cmd.ConnID, resp); err != nil {
			// the connection may have been closed while the command was queued
			Logger.Debugf("dropping response for conn %d, request %d: %v", cmd.ConnID, cmd.RequestID, err)
		}
	}
}
