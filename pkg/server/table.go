// Copyright © 2023 Niko Carpenter <niko@nikocarpenter.com>
//
// This source code is governed by the MIT license, which can be found in the LICENSE file.

package server

import (
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

var (
	// ErrCapacityExceeded is returned when a connection arrives and every slot is occupied.
	ErrCapacityExceeded = errors.New("Too many clients")

	// ErrSlotEmpty is returned when releasing a slot that holds no connection.
	ErrSlotEmpty = errors.New("Slot is empty")
)

// A slot holds one accepted connection. A slot with a nil conn is empty.
type slot struct {
	conn           net.Conn
	label          string // Peer address; immutable while occupied
	id             uint64 // Connection number, shown to other clients
	session        uuid.UUID
	connectedSince time.Time
}

func (s *slot) occupied() bool {
	return s.conn != nil
}

// table is a fixed capacity registry of connections.
// It is owned by the serving goroutine, and is not safe for concurrent use.
type table struct {
	slots []slot
	maxi  int // Highest occupied index, or -1
	count int

	createdTime    time.Time
	maxClients     int
	maxClientsTime time.Time
}

func newTable(capacity int) *table {
	now := time.Now()
	return &table{
		slots:          make([]slot, capacity),
		maxi:           -1,
		createdTime:    now,
		maxClientsTime: now,
	}
}

// register places conn in the lowest empty slot and returns its index.
func (t *table) register(conn net.Conn, label string, id uint64) (int, error) {
	for i := range t.slots {
		if t.slots[i].occupied() {
			continue
		}

		t.slots[i] = slot{
			conn:           conn,
			label:          label,
			id:             id,
			session:        uuid.New(),
			connectedSince: time.Now(),
		}
		if i > t.maxi {
			t.maxi = i
		}
		t.count++
		if t.count > t.maxClients {
			t.maxClients = t.count
			t.maxClientsTime = time.Now()
		}
		return i, nil
	}

	return -1, ErrCapacityExceeded
}

// release closes the connection in slot i and empties the slot.
// The slot is emptied even if closing the connection fails.
func (t *table) release(i int) error {
	if i < 0 || i >= len(t.slots) || !t.slots[i].occupied() {
		return errors.Wrapf(ErrSlotEmpty, "Release slot %d", i)
	}

	err := t.slots[i].conn.Close()
	t.slots[i] = slot{}
	t.count--

	// Only walk down when the top slot was freed.
	if i == t.maxi {
		for t.maxi >= 0 && !t.slots[t.maxi].occupied() {
			t.maxi--
		}
	}

	if err != nil {
		return errors.Wrapf(err, "Close slot %d", i)
	}
	return nil
}

// highestOccupied returns the highest occupied index, or -1 if the table is empty.
func (t *table) highestOccupied() int {
	return t.maxi
}

// get returns the slot at index i if it is occupied.
func (t *table) get(i int) (*slot, bool) {
	if i < 0 || i >= len(t.slots) || !t.slots[i].occupied() {
		return nil, false
	}
	return &t.slots[i], true
}

// forEachOccupied calls fn for each occupied slot in ascending order.
// Slots released by fn, or by anything else during the walk, are skipped once they are reached.
func (t *table) forEachOccupied(fn func(i int, s *slot)) {
	for i := 0; i <= t.maxi; i++ {
		if !t.slots[i].occupied() {
			continue
		}
		fn(i, &t.slots[i])
	}
}

// len returns the number of occupied slots.
func (t *table) len() int {
	return t.count
}

// capacity returns the number of slots.
func (t *table) capacity() int {
	return len(t.slots)
}
