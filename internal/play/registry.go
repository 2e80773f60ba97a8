package play

import (
	"darts/internal/game"
	"darts/internal/game/aroundtheworld"
	"darts/internal/game/cricket"
	"darts/internal/game/example"
)

// NewRegistry returns a registry with every supported game type.
func NewRegistry() *game.Registry {
	r := game.NewRegistry()
	r.Register(cricket.Cricket{})
	r.Register(aroundtheworld.AroundTheWorld{})
	r.Register(example.Example{})
	return r
}
