// Copyright © 2023 Niko Carpenter <niko@nikocarpenter.com>
//
// This source code is governed by the MIT license, which can be found in the LICENSE file.

// Package client implements an interactive muxchat client.
package client

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc"
	"go.uber.org/multierr"

	"github.com/n0ot/muxchat/pkg/frame"
)

// ErrConnectionLost is returned by Session.Run when the server closes the connection
// before the user quits.
var ErrConnectionLost = errors.New("Connection closed by remote host")

const (
	quitHint   = "Type q and press enter to quit."
	savePrompt = "Would you like to save the chat log? [y/n]"
)

// Dial connects to a muxchat server.
func Dial(host string, port int) (net.Conn, error) {
	conn, err := net.Dial("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return nil, errors.Wrap(err, "Connect to muxchat server")
	}
	return conn, nil
}

// A Session sends lines read from Input to a server,
// while printing frames received from the server to Output.
// Both directions are recorded in Transcript.
type Session struct {
	Conn       net.Conn
	Input      io.Reader
	Output     io.Writer
	Transcript *Transcript

	// Interactive prints a hint on how to quit when the session starts.
	Interactive bool

	Log *logrus.Logger
}

// Run runs the session until the user sends the quit sentinel, Input ends, or the server goes away.
// The connection is closed and the transcript finished before Run returns.
// If the server went away first, the error's cause is ErrConnectionLost.
func (s *Session) Run() error {
	if s.Log == nil {
		s.Log = logrus.StandardLogger()
	}
	out := &syncWriter{w: s.Output}
	if s.Interactive {
		fmt.Fprintln(out, quitHint)
	}

	done := make(chan struct{})
	defer close(done)
	lines := make(chan string)
	go readLines(s.Input, lines, done)

	// received gets the error that stopped the receive flow.
	received := make(chan error, 1)
	var wg conc.WaitGroup
	wg.Go(func() {
		received <- s.receive(out)
	})

	save, sendErr := s.send(out, lines, received)
	closeErr := s.Conn.Close()
	wg.Wait()
	finishErr := s.Transcript.Finish(save)

	if save && finishErr == nil {
		fmt.Fprintf(out, "Chat log saved to %s\n", s.Transcript.DumpPath())
	}
	if sendErr == nil {
		closeErr = errors.Wrap(closeErr, "Close connection")
	} else {
		// Closing after the connection failed tells us nothing new.
		closeErr = nil
	}
	return multierr.Combine(sendErr, closeErr, finishErr)
}

// send writes each input line to the server, using as many frames as the line needs.
// It returns whether the user asked to save the transcript.
func (s *Session) send(out io.Writer, lines <-chan string, received <-chan error) (save bool, err error) {
	for {
		select {
		case line, ok := <-lines:
			if !ok {
				s.Log.Debug("Input closed; leaving")
				return false, nil
			}

			for n, f := range frame.Split([]byte(line)) {
				if err := frame.Write(s.Conn, f); err != nil {
					return false, errors.Wrap(err, "Send")
				}
				if n == 0 && frame.IsSentinel(f) {
					return askToSave(out, lines), nil
				}
				if err := s.Transcript.Append(frame.Payload(f)); err != nil {
					s.Log.WithField("error", err).Warn("Cannot record sent line")
				}
			}

		case err := <-received:
			s.Log.WithField("error", err).Debug("Receive stopped")
			return false, ErrConnectionLost
		}
	}
}

// receive prints each frame from the server until a read fails, and returns that failure.
func (s *Session) receive(out io.Writer) error {
	for {
		f, err := frame.Read(s.Conn)
		if err != nil {
			return err
		}

		text := frame.Payload(f)
		if _, err := out.Write(text); err != nil {
			s.Log.WithField("error", err).Debug("Cannot display received frame")
		}
		if err := s.Transcript.Append(text); err != nil {
			s.Log.WithField("error", err).Warn("Cannot record received frame")
		}
	}
}

func askToSave(out io.Writer, lines <-chan string) bool {
	fmt.Fprintln(out, savePrompt)
	answer, ok := <-lines
	return ok && answer != "" && (answer[0] == 'y' || answer[0] == 'Y')
}

// readLines sends each line of r, ending in a newline, to lines.
// lines is closed when r ends.
func readLines(r io.Reader, lines chan<- string, done <-chan struct{}) {
	defer close(lines)
	br := bufio.NewReader(r)
	for {
		line, err := br.ReadString('\n')
		if err != nil && line != "" {
			// A last line without a newline is read as if it had one.
			line += "\n"
		}
		if line != "" {
			select {
			case lines <- line:
			case <-done:
				return
			}
		}
		if err != nil {
			return
		}
	}
}

// syncWriter serializes writes from both flows.
type syncWriter struct {
	lock sync.Mutex
	w    io.Writer
}

func (w *syncWriter) Write(p []byte) (int, error) {
	w.lock.Lock()
	defer w.lock.Unlock()
	return w.w.Write(p)
}
