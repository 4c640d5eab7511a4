package snowflake

import (
	"fmt"
	"math"
	"sync"
	"time"
)

type Snowflake struct {
	Timestamp int64
	WorkerID  int64
	Increment int64
}

const (
	timestampLength int64 = 42                                    // 42
	timestampPos          = 64 - timestampLength                  // 22
	workerLength    int64 = 10                                    // 10
	workerPos             = timestampPos - workerLength           // 12
	incrementLength       = 64 - (timestampLength + workerLength) // 12
)

var (
	maxWorkerValue    = int64(math.Pow(2, float64(workerLength)) - 1)
	maxIncrementValue = int64(math.Pow(2, float64(incrementLength)) - 1)
)

// Node hands out message ids. Ids from one node are strictly increasing,
// which is what gives every channel its monotonic id order.
type Node struct {
	mutex         sync.Mutex
	workerID      int64
	lastTimestamp int64
	lastIncrement int64
	now           func() int64
}

func NewNode(workerID int64) (*Node, error) {
	if workerID < 0 || workerID > maxWorkerValue {
		return nil, fmt.Errorf("worker ID value must be between 0 and %d", maxWorkerValue)
	}

	return &Node{
		workerID: workerID,
		now:      func() int64 { return time.Now().UnixMilli() },
	}, nil
}

func (n *Node) Generate() (int64, error) {
	n.mutex.Lock()
	defer n.mutex.Unlock()

	timestamp := n.now()

	// a clock stepping backwards must not produce smaller ids
	if timestamp < n.lastTimestamp {
		timestamp = n.lastTimestamp
	}

	if timestamp == n.lastTimestamp {
		n.lastIncrement += 1
		if n.lastIncrement > maxIncrementValue {
			// increment space for this millisecond is used up, borrow the next one
			timestamp++
			n.lastIncrement = 0
		}
	} else {
		n.lastIncrement = 0
	}
	n.lastTimestamp = timestamp

	if timestamp >= 1<<timestampLength {
		return 0, fmt.Errorf("timestamp %d overflows %d bits", timestamp, timestampLength)
	}

	return timestamp<<timestampPos | n.workerID<<workerPos | n.lastIncrement, nil
}

func Extract(snowflakeId int64) Snowflake {
	return Snowflake{
		Timestamp: snowflakeId >> timestampPos,
		WorkerID:  (snowflakeId >> workerPos) & ((1 << workerLength) - 1),
		Increment: snowflakeId & ((1 << incrementLength) - 1),
	}
}

func ExtractTimestamp(snowflakeId int64) int64 {
	return snowflakeId >> timestampPos
}
