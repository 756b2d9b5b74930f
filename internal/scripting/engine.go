package scripting

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/voxsync/server/internal/data"
	"github.com/voxsync/server/internal/protocol"
	"github.com/voxsync/server/internal/world"
	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

// Engine wraps a single gopher-lua VM for world generation.
// Single-goroutine access only (tick loop / boot).
type Engine struct {
	vm     *lua.LState
	voxels *data.VoxelTable
	log    *zap.Logger

	// staged collects set_voxel calls made during one generate_chunk
	// invocation, last write per cell.
	staged map[uint16]uint16
}

// NewEngine creates a Lua engine and loads all worldgen scripts from the
// given directory. A missing directory is not an error: generation falls
// back to the built-in flat floor.
func NewEngine(scriptsDir string, voxels *data.VoxelTable, log *zap.Logger) (*Engine, error) {
	vm := lua.NewState(lua.Options{
		SkipOpenLibs: false,
	})

	vm.SetGlobal("API_VERSION", lua.LNumber(1))

	e := &Engine{vm: vm, voxels: voxels, log: log}
	e.registerBuiltins()

	if err := e.loadDir(filepath.Join(scriptsDir, "worldgen")); err != nil {
		vm.Close()
		return nil, fmt.Errorf("load worldgen scripts: %w", err)
	}
	return e, nil
}

// Close releases the VM.
func (e *Engine) Close() {
	e.vm.Close()
}

// loadDir loads all .lua files in a directory.
func (e *Engine) loadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // skip missing dirs
		}
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".lua" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := e.vm.DoFile(path); err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}
		e.log.Debug("loaded lua script", zap.String("file", path))
	}
	return nil
}

// registerBuiltins exposes the worldgen API to scripts:
//
//	voxel_id(name)        → numeric id, or nil if the catalog lacks it
//	set_voxel(x, y, z, id) → stage one cell assignment (generate_chunk only)
func (e *Engine) registerBuiltins() {
	e.vm.SetGlobal("voxel_id", e.vm.NewFunction(func(L *lua.LState) int {
		name := L.CheckString(1)
		if e.voxels == nil {
			L.Push(lua.LNil)
			return 1
		}
		id, ok := e.voxels.IDByName(name)
		if !ok {
			L.Push(lua.LNil)
			return 1
		}
		L.Push(lua.LNumber(id))
		return 1
	}))

	e.vm.SetGlobal("set_voxel", e.vm.NewFunction(func(L *lua.LState) int {
		x := L.CheckInt(1)
		y := L.CheckInt(2)
		z := L.CheckInt(3)
		id := L.CheckInt(4)
		if e.staged == nil {
			L.RaiseError("set_voxel called outside generate_chunk")
			return 0
		}
		if x < 0 || x >= world.ChunkSize || y < 0 || y >= world.ChunkSize || z < 0 || z >= world.ChunkSize {
			L.RaiseError("set_voxel cell (%d,%d,%d) out of range", x, y, z)
			return 0
		}
		if id < 0 || id > 0xFFFF {
			L.RaiseError("set_voxel id %d out of range", id)
			return 0
		}
		e.staged[world.CellIndex(x, y, z)] = uint16(id)
		return 0
	}))
}

// HasGenerator reports whether a loaded script defined generate_chunk.
func (e *Engine) HasGenerator() bool {
	return e.vm.GetGlobal("generate_chunk").Type() == lua.LTFunction
}

// GenerateChunk runs generate_chunk(cx, cy, cz) and returns the staged cell
// assignments as edits in ascending cell order. Falls back to the built-in
// flat floor when no script defined a generator.
func (e *Engine) GenerateChunk(pos world.ChunkPos) ([]protocol.VoxelEdit, error) {
	fn := e.vm.GetGlobal("generate_chunk")
	if fn.Type() != lua.LTFunction {
		return FlatFloor(pos, e.voxels), nil
	}

	e.staged = make(map[uint16]uint16)
	defer func() { e.staged = nil }()

	err := e.vm.CallByParam(lua.P{
		Fn:      fn,
		NRet:    0,
		Protect: true,
	}, lua.LNumber(pos.X), lua.LNumber(pos.Y), lua.LNumber(pos.Z))
	if err != nil {
		return nil, fmt.Errorf("generate_chunk(%d,%d,%d): %w", pos.X, pos.Y, pos.Z, err)
	}

	edits := make([]protocol.VoxelEdit, 0, len(e.staged))
	for i := uint16(0); int(i) < world.ChunkCells; i++ {
		if v, ok := e.staged[i]; ok && v != world.EmptyVoxel {
			edits = append(edits, protocol.VoxelEdit{Index: i, Voxel: v})
		}
	}
	return edits, nil
}

// FlatFloor is the built-in generator: a one-cell-thick solid layer at the
// bottom of every y=0 chunk, using the first defined voxel type (id 1 when
// no catalog is loaded).
func FlatFloor(pos world.ChunkPos, voxels *data.VoxelTable) []protocol.VoxelEdit {
	if pos.Y != 0 {
		return nil
	}
	id := uint16(1)
	if voxels != nil {
		if v, ok := voxels.IDByName("stone"); ok {
			id = v
		}
	}
	edits := make([]protocol.VoxelEdit, 0, world.ChunkSize*world.ChunkSize)
	for z := 0; z < world.ChunkSize; z++ {
		for x := 0; x < world.ChunkSize; x++ {
			edits = append(edits, protocol.VoxelEdit{Index: world.CellIndex(x, 0, z), Voxel: id})
		}
	}
	return edits
}
