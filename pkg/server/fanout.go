// Copyright © 2023 Niko Carpenter <niko@nikocarpenter.com>
//
// This source code is governed by the MIT license, which can be found in the LICENSE file.

package server

import (
	"io"

	"github.com/pkg/errors"

	"github.com/n0ot/muxchat/pkg/frame"
)

// dispatch handles one frame read from a client.
// A failed read or the quit sentinel drops the sender; anything else is relayed to every other client.
func (srv *Server) dispatch(ev frameEvent) {
	s, ok := srv.table.get(ev.slot)
	if !ok || s.id != ev.id {
		// The connection that produced this event is already gone.
		return
	}

	if ev.err != nil {
		switch errors.Cause(ev.err) {
		case io.EOF, io.ErrUnexpectedEOF:
			srv.drop(ev.slot, "Client closed connection")
		default:
			srv.slotLog(ev.slot, s).WithField("error", ev.err).Warn("Error reading from client")
			srv.drop(ev.slot, "Receive error")
		}
		return
	}

	if frame.IsSentinel(ev.frame) {
		srv.drop(ev.slot, "Client quit")
		return
	}

	srv.broadcast(ev.slot, s.label, s.id, frame.Payload(ev.frame))
}

// broadcast relays payload from the client in slot from to every other client, in slot order.
// Clients that cannot be written to are dropped once the relay is finished.
func (srv *Server) broadcast(from int, label string, id uint64, payload []byte) {
	var failed []int
	srv.table.forEachOccupied(func(i int, s *slot) {
		if i == from {
			return
		}

		if err := frame.Write(s.conn, frame.Decorate(label, id, payload)); err != nil {
			srv.slotLog(i, s).WithField("error", err).Warn("Error relaying to client")
			failed = append(failed, i)
		}
	})

	for _, i := range failed {
		srv.drop(i, "Send error")
	}
}
