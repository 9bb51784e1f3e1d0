package ids

import (
	"strconv"
	"sync"
	"time"
)

const (
	nodeBits = 10
	seqBits  = 12
	maxNode  = 1<<nodeBits - 1
	seqMask  = 1<<seqBits - 1
	tsMask   = 1<<41 - 1
)

var epoch = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

// Generator hands out 64-bit snowflake ids: 41 bits of milliseconds since
// 2020-01-01, 10 bits of node id and a 12-bit per-millisecond sequence.
type Generator struct {
	mu     sync.Mutex
	nodeID int64
	seq    int64
	lastMS int64
	now    func() time.Time
}

// NewGenerator clamps nodeID into 0..1023; out of range values fall back to 1.
func NewGenerator(nodeID int64) *Generator {
	if nodeID < 0 || nodeID > maxNode {
		nodeID = 1
	}
	return &Generator{nodeID: nodeID, now: time.Now}
}

func (g *Generator) Next() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	for {
		now := g.now().Sub(epoch).Milliseconds()
		if now < g.lastMS {
			// clock moved backwards, wait it out
			time.Sleep(time.Duration(g.lastMS-now) * time.Millisecond)
			continue
		}
		if now == g.lastMS {
			g.seq = (g.seq + 1) & seqMask
			if g.seq == 0 {
				for now <= g.lastMS {
					time.Sleep(100 * time.Microsecond)
					now = g.now().Sub(epoch).Milliseconds()
				}
			}
		} else {
			g.seq = 0
		}
		g.lastMS = now
		return (now&tsMask)<<(nodeBits+seqBits) | g.nodeID<<seqBits | g.seq
	}
}

func (g *Generator) NextString() string {
	return strconv.FormatInt(g.Next(), 10)
}

// Node extracts the node id from an id produced by any Generator.
func Node(id int64) int64 {
	return (id >> seqBits) & maxNode
}
