// Copyright © 2023 Niko Carpenter <niko@nikocarpenter.com>
//
// This source code is governed by the MIT license, which can be found in the LICENSE file.

package server

import (
	"time"

	"github.com/sirupsen/logrus"
)

// Stats contains summary information about a connection table.
type Stats struct {
	Uptime         time.Duration
	NumClients     int
	Capacity       int
	MaxClients     int
	MaxClientsTime time.Time
}

// Stats gets stats for this table.
func (t *table) Stats() Stats {
	return Stats{
		Uptime:         time.Since(t.createdTime),
		NumClients:     t.count,
		Capacity:       len(t.slots),
		MaxClients:     t.maxClients,
		MaxClientsTime: t.maxClientsTime,
	}
}

// Fields returns stats as log fields.
func (st Stats) Fields() logrus.Fields {
	return logrus.Fields{
		"num_clients": st.NumClients,
		"capacity":    st.Capacity,
		"max_clients": st.MaxClients,
	}
}
