// Package behavior runs Lua scripts against freshly spawned nodes.
// A script sees two globals: `node`, a table of accessors for the
// spawned node, and `is_owner`, telling it whether this client drives
// the transform or merely observes it.
package behavior

import (
	"fmt"

	lua "github.com/Shopify/go-lua"

	"github.com/methatron/worldsync/internal/scene"
)

// Runner executes behavior scripts against a scene graph. Each Run
// gets a fresh Lua state; scripts are short-lived spawn callbacks, not
// resident programs.
type Runner struct {
	graph *scene.Graph
}

func NewRunner(graph *scene.Graph) *Runner {
	return &Runner{graph: graph}
}

// Run loads and executes the script at path with the node bound in.
func (r *Runner) Run(path string, node scene.NodeID, isOwner bool) error {
	state := lua.NewState()
	lua.OpenLibraries(state)

	state.PushBoolean(isOwner)
	state.SetGlobal("is_owner")
	r.registerNode(state, node)

	if err := lua.LoadFile(state, path, ""); err != nil {
		return fmt.Errorf("behavior: load %s: %w", path, err)
	}
	if err := state.ProtectedCall(0, 0, 0); err != nil {
		return fmt.Errorf("behavior: run %s: %w", path, err)
	}
	return nil
}

func (r *Runner) registerNode(state *lua.State, node scene.NodeID) {
	state.NewTable()
	lua.SetFunctions(state, []lua.RegistryFunction{
		{Name: "id", Function: func(l *lua.State) int {
			l.PushString(r.graph.NetworkID(node))
			return 1
		}},
		{Name: "transform", Function: func(l *lua.State) int {
			t, err := r.graph.Transform(node)
			if err != nil {
				lua.Errorf(l, "%s", err.Error())
				return 0
			}
			l.CreateTable(len(t), 0)
			for i, v := range t {
				l.PushNumber(float64(v))
				l.RawSetInt(-2, i+1)
			}
			return 1
		}},
		{Name: "set_transform", Function: func(l *lua.State) int {
			lua.CheckType(l, 1, lua.TypeTable)
			var t [16]float32
			for i := range t {
				l.RawGetInt(1, i+1)
				n, ok := l.ToNumber(-1)
				l.Pop(1)
				if !ok {
					lua.ArgumentError(l, 1, "transform needs 16 numbers")
					return 0
				}
				t[i] = float32(n)
			}
			if err := r.graph.SetTransform(node, t); err != nil {
				lua.Errorf(l, "%s", err.Error())
			}
			return 0
		}},
	}, 0)
	state.SetGlobal("node")
}
