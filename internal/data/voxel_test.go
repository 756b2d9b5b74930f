package data

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeList(t *testing.T, src string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "voxel_list.yaml")
	require.NoError(t, os.WriteFile(path, []byte(src), 0o644))
	return path
}

func TestLoadVoxelTable(t *testing.T) {
	tbl, err := LoadVoxelTable(writeList(t, `
voxels:
  - id: 1
    name: stone
    solid: true
  - id: 7
    name: water
    solid: false
`))
	require.NoError(t, err)

	assert.Equal(t, 2, tbl.Len())
	assert.True(t, tbl.Known(1))
	assert.False(t, tbl.Known(2))

	stone := tbl.Get(1)
	require.NotNil(t, stone)
	assert.Equal(t, "stone", stone.Name)
	assert.True(t, stone.Solid)

	water := tbl.Get(7)
	require.NotNil(t, water)
	assert.False(t, water.Solid)

	id, ok := tbl.IDByName("water")
	require.True(t, ok)
	assert.Equal(t, uint16(7), id)

	_, ok = tbl.IDByName("lava")
	assert.False(t, ok)
}

func TestLoadVoxelTableRejectsReservedID(t *testing.T) {
	_, err := LoadVoxelTable(writeList(t, "voxels:\n  - id: 0\n    name: air\n"))
	require.Error(t, err)
}

func TestLoadVoxelTableRejectsDuplicateID(t *testing.T) {
	_, err := LoadVoxelTable(writeList(t, `
voxels:
  - id: 1
    name: stone
  - id: 1
    name: granite
`))
	require.Error(t, err)
}
