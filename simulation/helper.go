package simulation

import (
	"time"

	"github.com/mengelbart/netsim"
)

// link describes one direction of a simulated path.
type link struct {
	delay     time.Duration
	bandwidth float64 // bit/s
	burst     int
	queueSize int
}

func (l link) nodes() []netsim.Node {
	nodes := []netsim.Node{}
	if l.delay > 0 {
		nodes = append(nodes, netsim.NewQueueNode(netsim.NewDelayQueue(l.delay)))
	}
	if l.bandwidth > 0 {
		nodes = append(nodes,
			netsim.NewQueueNode(netsim.NewRateQueue(l.bandwidth, l.burst, l.queueSize, false)),
		)
	}
	return nodes
}
