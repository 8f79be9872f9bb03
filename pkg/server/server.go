// Copyright © 2019 Niko Carpenter <nikoacarpenter@gmail.com>
//
// This source code is governed by the MIT license, which can be found in the LICENSE file.

// Package server implements a muxchat relay server.
//
// One goroutine owns the connection table. It waits for readiness events,
// which are either a newly accepted connection or a complete frame read from a client,
// and handles them in order. No other goroutine touches the table or writes to a client.
package server

import (
	"fmt"
	"net"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/n0ot/muxchat/pkg/frame"
)

const (
	// DefaultPort is the port muxchat listens on when none is given.
	DefaultPort = 7000

	// DefaultCapacity is the number of simultaneous clients used when Server.Capacity is 0.
	DefaultCapacity = 32
)

// Server Contains state for a muxchat server.
type Server struct {
	// Capacity is the maximum number of simultaneous clients.
	// A client connecting while the server is full stops the server with ErrCapacityExceeded.
	// If 0, DefaultCapacity is used.
	Capacity int

	// KeepAlivePeriod enables TCP keep-alives on accepted connections.
	// If 0, the system default is left in place.
	KeepAlivePeriod time.Duration

	// ResolveHostnames adds the reverse DNS name of connecting clients to log entries.
	// Labels shown to other clients always use the address.
	ResolveHostnames bool

	Log *logrus.Logger

	table  *table
	nextID uint64
}

// acceptEvent carries one accepted connection, or the error that stopped accepting.
type acceptEvent struct {
	conn net.Conn
	err  error
}

// frameEvent carries one frame read from the connection with the given id in slot.
type frameEvent struct {
	slot  int
	id    uint64
	frame []byte
	err   error
}

// readySet is everything that became ready during one wait.
type readySet struct {
	accept *acceptEvent
	frames []frameEvent
}

// Serve accepts connections on listener and relays frames between them.
// Serve returns when accepting fails, or when a client connects while the table is full.
// Every client still connected is disconnected before Serve returns.
func (srv *Server) Serve(listener net.Listener) error {
	if srv.Log == nil {
		srv.Log = logrus.StandardLogger()
	}
	capacity := srv.Capacity
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	srv.table = newTable(capacity)

	accepts := make(chan acceptEvent)
	frames := make(chan frameEvent)
	done := make(chan struct{})
	defer close(done)
	defer srv.releaseAll()

	srv.Log.WithFields(logrus.Fields{
		"addr":       listener.Addr().String(),
		"capacity":   capacity,
		"frame_size": frame.Size,
	}).Info("Server started")
	go srv.acceptConnections(listener, accepts, done)

	for {
		ready := srv.wait(accepts, frames)

		if ev := ready.accept; ev != nil {
			if ev.err != nil {
				return errors.Wrap(ev.err, "Accept")
			}
			if err := srv.admit(ev.conn, frames, done); err != nil {
				return err
			}
		}

		for _, ev := range ready.frames {
			srv.dispatch(ev)
		}
	}
}

// wait blocks until at least one event is ready, then collects whatever else is already pending.
// At most one accepted connection is taken per wait.
// Frames are ordered by slot; frames from the same slot keep their arrival order.
func (srv *Server) wait(accepts <-chan acceptEvent, frames <-chan frameEvent) readySet {
	var ready readySet
	select {
	case ev := <-accepts:
		ready.accept = &ev
	case ev := <-frames:
		ready.frames = append(ready.frames, ev)
	}

drain:
	for {
		pendingAccepts := accepts
		if ready.accept != nil {
			pendingAccepts = nil
		}
		select {
		case ev := <-pendingAccepts:
			ready.accept = &ev
		case ev := <-frames:
			ready.frames = append(ready.frames, ev)
		default:
			break drain
		}
	}

	sort.SliceStable(ready.frames, func(a, b int) bool {
		return ready.frames[a].slot < ready.frames[b].slot
	})
	return ready
}

// admit registers a newly accepted connection and starts watching it for frames.
func (srv *Server) admit(conn net.Conn, frames chan<- frameEvent, done <-chan struct{}) error {
	srv.nextID++
	id := srv.nextID
	label := peerLabel(conn)

	i, err := srv.table.register(conn, label, id)
	if err != nil {
		srv.Log.WithFields(logrus.Fields{
			"remote_addr": label,
			"capacity":    srv.table.capacity(),
		}).Error("Too many clients")
		conn.Close()
		return err
	}

	s, _ := srv.table.get(i)
	log := srv.slotLog(i, s).WithFields(srv.table.Stats().Fields())
	if srv.ResolveHostnames {
		log = log.WithField("remote_host", getHostFromAddrIfPossible(label))
	}
	log.Info("Client connected")

	go watch(i, id, conn, frames, done)
	return nil
}

// watch reads frames from conn and hands them to the serving goroutine.
// It stops after the first failed read, or once the server is done.
func watch(i int, id uint64, conn net.Conn, frames chan<- frameEvent, done <-chan struct{}) {
	for {
		f, err := frame.Read(conn)
		select {
		case frames <- frameEvent{slot: i, id: id, frame: f, err: err}:
		case <-done:
			return
		}
		if err != nil {
			return
		}
	}
}

// drop releases slot i, logging why.
func (srv *Server) drop(i int, reason string) {
	s, ok := srv.table.get(i)
	if !ok {
		return
	}
	log := srv.slotLog(i, s).WithField("reason", reason)
	if err := srv.table.release(i); err != nil {
		log.WithField("error", err).Warn("Error closing connection")
	}
	log.WithFields(srv.table.Stats().Fields()).Info("Client disconnected")
}

func (srv *Server) releaseAll() {
	srv.table.forEachOccupied(func(i int, s *slot) {
		srv.drop(i, "Server stopped")
	})
}

func (srv *Server) slotLog(i int, s *slot) *logrus.Entry {
	return srv.Log.WithFields(logrus.Fields{
		"slot":    i,
		"conn_id": s.id,
		"label":   s.label,
		"session": s.session.String(),
	})
}

// peerLabel returns the address of the remote end of conn, without the port.
func peerLabel(conn net.Conn) string {
	addr := conn.RemoteAddr().String()
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

// getHostFromAddrIfPossible tries to get the reverse dns host for an address.
// If that isn't possible, it just returns the address.
func getHostFromAddrIfPossible(addr string) string {
	var hosts string
	names, err := net.LookupAddr(addr)
	if err == nil { // No need to report errors; just fallback to IP
		hosts = strings.Join(names, ", ")
	}

	if hosts == "" {
		return addr
	}

	return fmt.Sprintf("%s (%s)", hosts, addr)
}
