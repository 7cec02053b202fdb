package moderation

import (
	"fmt"
	"sync"

	"github.com/bwmarrin/snowflake"
)

// DiscordEpoch is the first millisecond of 2015, the epoch of Discord snowflakes.
const DiscordEpoch int64 = 1420070400000

type IDGenerator interface {
	NextID() int64
}

type SnowflakeIDs struct {
	node *snowflake.Node
}

var epochOnce sync.Once

func NewSnowflakeIDs(node int64) (*SnowflakeIDs, error) {
	epochOnce.Do(func() {
		snowflake.Epoch = DiscordEpoch
	})
	n, err := snowflake.NewNode(node)
	if err != nil {
		return nil, fmt.Errorf("%w: snowflake node %d: %w", ErrInvalidConfiguration, node, err)
	}
	return &SnowflakeIDs{node: n}, nil
}

func (s *SnowflakeIDs) NextID() int64 {
	return s.node.Generate().Int64()
}
