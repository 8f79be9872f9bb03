// Copyright © 2023 Niko Carpenter <niko@nikocarpenter.com>
//
// This source code is governed by the MIT license, which can be found in the LICENSE file.

// Package frame encodes and decodes the fixed size frames exchanged between muxchat clients and servers.
//
// A frame carries no length prefix. Text is NUL padded to Size bytes,
// and both ends must agree on Size.
package frame

import (
	"bytes"
	"fmt"
	"io"

	"github.com/pkg/errors"
)

// Size is the length of every frame on the wire.
const Size = 255

// New copies p into a fresh frame.
// If p is longer than Size, the excess is dropped.
func New(p []byte) []byte {
	f := make([]byte, Size)
	copy(f, p)
	return f
}

// Read reads exactly one frame from r, accumulating partial reads.
// If r ends before the frame is full, the error's cause is io.EOF or io.ErrUnexpectedEOF.
func Read(r io.Reader) ([]byte, error) {
	f := make([]byte, Size)
	if _, err := io.ReadFull(r, f); err != nil {
		return nil, errors.Wrap(err, "Read frame")
	}
	return f, nil
}

// Split cuts p into as many frames as it takes to carry all of it.
// An empty p yields one empty frame.
func Split(p []byte) [][]byte {
	frames := [][]byte{}
	for len(p) > Size {
		frames = append(frames, New(p[:Size]))
		p = p[Size:]
	}
	return append(frames, New(p))
}

// Write writes f, one frame or several back to back, to w in a single call.
func Write(w io.Writer, f []byte) error {
	if len(f) == 0 || len(f)%Size != 0 {
		return errors.Errorf("Frame is %d bytes; want a multiple of %d", len(f), Size)
	}
	n, err := w.Write(f)
	if err != nil {
		return errors.Wrap(err, "Write frame")
	}
	if n != len(f) {
		return errors.Wrap(io.ErrShortWrite, "Write frame")
	}
	return nil
}

// IsSentinel reports whether f asks to end the session:
// its first two bytes are 'q' or 'Q' followed by a newline.
func IsSentinel(f []byte) bool {
	if len(f) < 2 {
		return false
	}
	return (f[0] == 'q' || f[0] == 'Q') && f[1] == '\n'
}

// Payload returns the text carried by f, which ends at the first NUL byte.
func Payload(f []byte) []byte {
	if i := bytes.IndexByte(f, 0); i >= 0 {
		return f[:i]
	}
	return f
}

// Decorate builds relay frames attributing payload to the sender with the given label and connection id.
// The layout is "<label>: Socket: <id>: <payload>".
// When that does not fit in one frame, the rest follows in further frames,
// and the result holds all of them back to back.
func Decorate(label string, id uint64, payload []byte) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%s: Socket: %d: ", label, id)
	buf.Write(payload)
	return bytes.Join(Split(buf.Bytes()), nil)
}
