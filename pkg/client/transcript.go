// Copyright © 2023 Niko Carpenter <niko@nikocarpenter.com>
//
// This source code is governed by the MIT license, which can be found in the LICENSE file.

package client

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
)

// A Transcript records a chat session to a working file.
// When the session ends, the working file can be copied to a dump file, and is then removed.
// Transcript is safe for concurrent use.
type Transcript struct {
	fs       afero.Fs
	path     string
	dumpPath string

	lock     sync.Mutex // Protects file and finished
	file     afero.File
	finished bool
}

// NewTranscript creates the working file <dir>/<id>.txt.
// The dump file, if saved, will be <dir>/<id>dump.txt.
func NewTranscript(fs afero.Fs, dir string, id int) (*Transcript, error) {
	t := &Transcript{
		fs:       fs,
		path:     filepath.Join(dir, fmt.Sprintf("%d.txt", id)),
		dumpPath: filepath.Join(dir, fmt.Sprintf("%ddump.txt", id)),
	}

	file, err := fs.OpenFile(t.path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return nil, errors.Wrap(err, "Create transcript")
	}
	t.file = file
	return t, nil
}

// Path returns the location of the working file.
func (t *Transcript) Path() string {
	return t.path
}

// DumpPath returns where the transcript is copied to when saved.
func (t *Transcript) DumpPath() string {
	return t.dumpPath
}

// Append writes p to the end of the working file.
func (t *Transcript) Append(p []byte) error {
	t.lock.Lock()
	defer t.lock.Unlock()
	if t.finished {
		return errors.New("Transcript already finished")
	}

	if _, err := t.file.Write(p); err != nil {
		return errors.Wrap(err, "Append to transcript")
	}
	return nil
}

// Finish closes the working file, copies it to the dump file if save is set, and removes it.
// The working file is removed even if saving fails.
// Finish is idempotent; calling it more than once has no effect.
func (t *Transcript) Finish(save bool) error {
	t.lock.Lock()
	defer t.lock.Unlock()
	if t.finished {
		return nil
	}
	t.finished = true

	if err := t.file.Close(); err != nil {
		t.fs.Remove(t.path)
		return errors.Wrap(err, "Close transcript")
	}

	var saveErr error
	if save {
		saveErr = t.copyToDump()
	}
	if err := t.fs.Remove(t.path); err != nil {
		return errors.Wrap(err, "Remove transcript")
	}
	return saveErr
}

func (t *Transcript) copyToDump() error {
	src, err := t.fs.Open(t.path)
	if err != nil {
		return errors.Wrap(err, "Open transcript")
	}
	defer src.Close()

	dst, err := t.fs.OpenFile(t.dumpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return errors.Wrap(err, "Create transcript dump")
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return errors.Wrap(err, "Save transcript")
	}
	return errors.Wrap(dst.Close(), "Save transcript")
}
