// Copyright © 2019 Niko Carpenter <nikoacarpenter@gmail.com>
//
// This source code is governed by the MIT license, which can be found in the LICENSE file.

package server

import (
	"net"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// ListenAndServe listens for TCP connections on addr, and relays frames between them.
func (srv *Server) ListenAndServe(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrap(err, "Listen")
	}
	defer listener.Close()

	if srv.Log == nil {
		srv.Log = logrus.StandardLogger()
	}
	srv.Log.WithFields(logrus.Fields{
		"addr": addr,
	}).Info("Listening for incoming connections")
	return srv.Serve(listener)
}

// acceptConnections hands accepted connections to the serving goroutine, one at a time.
// It stops after the first accept error, which is handed over as well.
func (srv *Server) acceptConnections(listener net.Listener, accepts chan<- acceptEvent, done <-chan struct{}) {
	for {
		conn, err := listener.Accept()
		if err == nil {
			if tcpConn, ok := conn.(*net.TCPConn); ok && srv.KeepAlivePeriod > 0 {
				tcpConn.SetKeepAlive(true)
				tcpConn.SetKeepAlivePeriod(srv.KeepAlivePeriod)
			}
		}

		select {
		case accepts <- acceptEvent{conn: conn, err: err}:
		case <-done:
			if conn != nil {
				conn.Close()
			}
			return
		}
		if err != nil {
			return
		}
	}
}
