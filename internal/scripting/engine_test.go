package scripting

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/voxsync/server/internal/data"
	"github.com/voxsync/server/internal/protocol"
	"github.com/voxsync/server/internal/world"
	"go.uber.org/zap"
)

func writeScript(t *testing.T, src string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "worldgen"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "worldgen", "gen.lua"), []byte(src), 0o644))
	return dir
}

func testTable(t *testing.T) *data.VoxelTable {
	t.Helper()
	path := filepath.Join(t.TempDir(), "voxel_list.yaml")
	src := "voxels:\n  - id: 1\n    name: stone\n    solid: true\n  - id: 3\n    name: grass\n    solid: true\n"
	require.NoError(t, os.WriteFile(path, []byte(src), 0o644))
	tbl, err := data.LoadVoxelTable(path)
	require.NoError(t, err)
	return tbl
}

func TestGenerateChunkRunsScript(t *testing.T) {
	dir := writeScript(t, `
function generate_chunk(cx, cy, cz)
    if cy ~= 0 then return end
    set_voxel(0, 0, 0, voxel_id("stone"))
    set_voxel(15, 0, 15, voxel_id("grass"))
    set_voxel(15, 0, 15, voxel_id("stone")) -- last write wins
end
`)
	e, err := NewEngine(dir, testTable(t), zap.NewNop())
	require.NoError(t, err)
	defer e.Close()
	require.True(t, e.HasGenerator())

	edits, err := e.GenerateChunk(world.ChunkPos{})
	require.NoError(t, err)
	assert.Equal(t, []protocol.VoxelEdit{
		{Index: world.CellIndex(0, 0, 0), Voxel: 1},
		{Index: world.CellIndex(15, 0, 15), Voxel: 1},
	}, edits)

	// Non-ground chunks stay empty.
	edits, err = e.GenerateChunk(world.ChunkPos{Y: 3})
	require.NoError(t, err)
	assert.Empty(t, edits)
}

func TestGenerateChunkRejectsOutOfRangeCell(t *testing.T) {
	dir := writeScript(t, `
function generate_chunk(cx, cy, cz)
    set_voxel(16, 0, 0, 1)
end
`)
	e, err := NewEngine(dir, testTable(t), zap.NewNop())
	require.NoError(t, err)
	defer e.Close()

	_, err = e.GenerateChunk(world.ChunkPos{})
	require.Error(t, err)
}

func TestMissingScriptsFallBackToFlatFloor(t *testing.T) {
	e, err := NewEngine(t.TempDir(), testTable(t), zap.NewNop())
	require.NoError(t, err)
	defer e.Close()
	require.False(t, e.HasGenerator())

	edits, err := e.GenerateChunk(world.ChunkPos{})
	require.NoError(t, err)
	assert.Len(t, edits, world.ChunkSize*world.ChunkSize)
	for _, ed := range edits {
		assert.Equal(t, uint16(1), ed.Voxel) // "stone"
	}

	edits, err = e.GenerateChunk(world.ChunkPos{Y: 1})
	require.NoError(t, err)
	assert.Empty(t, edits)
}

func TestSetVoxelOutsideGenerateChunkErrors(t *testing.T) {
	dir := writeScript(t, `set_voxel(0, 0, 0, 1)`)
	_, err := NewEngine(dir, testTable(t), zap.NewNop())
	require.Error(t, err)
}
