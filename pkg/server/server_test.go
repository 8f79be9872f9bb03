package server

import (
	"fmt"
	"io"
	"net"
	"os"
	"reflect"
	"sort"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/sourcegraph/conc"

	"github.com/n0ot/muxchat/pkg/frame"
)

const testTimeout = 5 * time.Second

type testServer struct {
	addr string
	hook *test.Hook
	done chan struct{}
	err  error // Set once done is closed
}

func startServer(t *testing.T, capacity int) *testServer {
	t.Helper()
	log, hook := test.NewNullLogger()
	log.Level = logrus.DebugLevel
	if testing.Verbose() {
		log.Out = os.Stderr
	}

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %s", err)
	}

	ts := &testServer{
		addr: listener.Addr().String(),
		hook: hook,
		done: make(chan struct{}),
	}
	srv := &Server{Capacity: capacity, Log: log}
	go func() {
		ts.err = srv.Serve(listener)
		close(ts.done)
	}()
	t.Cleanup(func() {
		listener.Close()
		<-ts.done
	})
	return ts
}

// waitForLog waits until at least n entries with the given message were logged.
func (ts *testServer) waitForLog(t *testing.T, msg string, n int) {
	t.Helper()
	deadline := time.Now().Add(testTimeout)
	for time.Now().Before(deadline) {
		if ts.countLog(msg) >= n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %d %q log entries; have %d", n, msg, ts.countLog(msg))
}

func (ts *testServer) countLog(msg string) int {
	count := 0
	for _, entry := range ts.hook.AllEntries() {
		if entry.Message == msg {
			count++
		}
	}
	return count
}

// connect dials the server and waits until it has registered the connection.
func (ts *testServer) connect(t *testing.T) net.Conn {
	t.Helper()
	before := ts.countLog("Client connected")
	conn, err := net.Dial("tcp", ts.addr)
	if err != nil {
		t.Fatalf("Dial: %s", err)
	}
	t.Cleanup(func() { conn.Close() })
	ts.waitForLog(t, "Client connected", before+1)
	return conn
}

func send(conn net.Conn, text string) error {
	return frame.Write(conn, frame.New([]byte(text)))
}

func recv(conn net.Conn, timeout time.Duration) (string, error) {
	conn.SetReadDeadline(time.Now().Add(timeout))
	f, err := frame.Read(conn)
	if err != nil {
		return "", err
	}
	return string(frame.Payload(f)), nil
}

func isTimeout(err error) bool {
	netErr, ok := errors.Cause(err).(net.Error)
	return ok && netErr.Timeout()
}

func TestBroadcastReachesEveryOtherClient(t *testing.T) {
	const numClients = 4
	ts := startServer(t, numClients)

	conns := make([]net.Conn, numClients)
	for i := range conns {
		conns[i] = ts.connect(t)
	}

	// Connection ids are handed out in accept order, starting at 1.
	var wg conc.WaitGroup
	for i := range conns {
		i := i
		wg.Go(func() {
			if err := send(conns[i], fmt.Sprintf("message from %d\n", i)); err != nil {
				t.Errorf("Client %d send: %s", i, err)
				return
			}

			got := []string{}
			for n := 0; n < numClients-1; n++ {
				text, err := recv(conns[i], testTimeout)
				if err != nil {
					t.Errorf("Client %d receive: %s", i, err)
					return
				}
				got = append(got, text)
			}
			sort.Strings(got)

			want := []string{}
			for j := 0; j < numClients; j++ {
				if j != i {
					want = append(want, fmt.Sprintf("127.0.0.1: Socket: %d: message from %d\n", j+1, j))
				}
			}
			if !reflect.DeepEqual(got, want) {
				t.Errorf("Client %d received %q; want %q", i, got, want)
			}

			if text, err := recv(conns[i], 200*time.Millisecond); !isTimeout(err) {
				t.Errorf("Client %d received an extra frame %q (err: %v)", i, text, err)
			}
		})
	}
	wg.Wait()
}

func TestSentinelDropsSenderWithoutBroadcast(t *testing.T) {
	ts := startServer(t, 3)
	quitter := ts.connect(t)
	sender := ts.connect(t)
	listener := ts.connect(t)

	if err := send(quitter, "Q\n"); err != nil {
		t.Fatalf("Send sentinel: %s", err)
	}
	ts.waitForLog(t, "Client disconnected", 1)
	if reason := ts.hook.LastEntry().Data["reason"]; reason != "Client quit" {
		t.Errorf("Disconnect reason = %v; want Client quit", reason)
	}

	if err := send(sender, "still here\n"); err != nil {
		t.Fatalf("Send: %s", err)
	}
	text, err := recv(listener, testTimeout)
	if err != nil {
		t.Fatalf("Receive: %s", err)
	}
	if want := "127.0.0.1: Socket: 2: still here\n"; text != want {
		t.Errorf("Listener received %q; want %q", text, want)
	}

	if _, err := recv(quitter, testTimeout); errors.Cause(err) != io.EOF {
		t.Errorf("Quitting client should see its connection closed; got %v", err)
	}
	if text, err := recv(sender, 200*time.Millisecond); !isTimeout(err) {
		t.Errorf("Sender received its own frame %q (err: %v)", text, err)
	}
}

func TestPartialFrameDropsSender(t *testing.T) {
	ts := startServer(t, 2)
	closer := ts.connect(t)
	other := ts.connect(t)

	closer.Write([]byte("half a frame"))
	closer.Close()
	ts.waitForLog(t, "Client disconnected", 1)
	if reason := ts.hook.LastEntry().Data["reason"]; reason != "Client closed connection" {
		t.Errorf("Disconnect reason = %v; want Client closed connection", reason)
	}

	if text, err := recv(other, 200*time.Millisecond); !isTimeout(err) {
		t.Errorf("Partial frame was relayed as %q (err: %v)", text, err)
	}
}

func TestReleasedSlotIsReused(t *testing.T) {
	ts := startServer(t, 2)
	first := ts.connect(t)
	ts.connect(t)

	send(first, "q\n")
	ts.waitForLog(t, "Client disconnected", 1)

	// With a capacity of 2, this only succeeds if the released slot is handed out again.
	ts.connect(t)
	select {
	case <-ts.done:
		t.Fatalf("Server stopped: %v", ts.err)
	default:
	}
}

func TestCapacityExceededStopsServer(t *testing.T) {
	ts := startServer(t, 2)
	ts.connect(t)
	ts.connect(t)

	extra, err := net.Dial("tcp", ts.addr)
	if err != nil {
		t.Fatalf("Dial: %s", err)
	}
	defer extra.Close()

	select {
	case <-ts.done:
	case <-time.After(testTimeout):
		t.Fatalf("Server kept running with a full table")
	}
	if errors.Cause(ts.err) != ErrCapacityExceeded {
		t.Errorf("Serve returned %v; want ErrCapacityExceeded", ts.err)
	}
	if n := ts.countLog("Client connected"); n != 2 {
		t.Errorf("%d clients were registered; want 2", n)
	}
	if n := ts.countLog("Too many clients"); n != 1 {
		t.Errorf("%d capacity errors were logged; want 1", n)
	}
}
