package gen

import (
	"fmt"

	"appraisal-fulfillment/pkg/config"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
)

var Module = fx.Module("gen", fx.Provide(ProvideSnowflakeNode))

// IDGenerator produces request ids for log correlation.
type IDGenerator interface {
	NewID() string
}

type SnowflakeNode struct {
	node *snowflake.Node
}

func ProvideSnowflakeNode(cfg *config.Config) (IDGenerator, error) {
	return NewSnowflakeNode(cfg.NodeID)
}

func NewSnowflakeNode(nodeID int64) (*SnowflakeNode, error) {
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, fmt.Errorf("init snowflake node %d: %w", nodeID, err)
	}
	return &SnowflakeNode{node: node}, nil
}

func (s *SnowflakeNode) GenerateID() snowflake.ID {
	return s.node.Generate()
}

func (s *SnowflakeNode) NewID() string {
	return s.node.Generate().String()
}
