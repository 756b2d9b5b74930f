package data

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// VoxelType holds static data for one voxel id loaded from YAML. Id 0 is the
// empty-cell sentinel and never appears in the list.
type VoxelType struct {
	ID    uint16 `yaml:"id"`
	Name  string `yaml:"name"`
	Solid bool   `yaml:"solid"`
}

type voxelListFile struct {
	Voxels []VoxelType `yaml:"voxels"`
}

// VoxelTable holds all voxel types indexed by id. Client edit intents naming
// an id outside this table are discarded.
type VoxelTable struct {
	types  map[uint16]*VoxelType
	byName map[string]uint16
}

// LoadVoxelTable loads voxel types from a YAML file.
func LoadVoxelTable(path string) (*VoxelTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read voxel_list: %w", err)
	}
	var f voxelListFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse voxel_list: %w", err)
	}

	t := &VoxelTable{
		types:  make(map[uint16]*VoxelType, len(f.Voxels)),
		byName: make(map[string]uint16, len(f.Voxels)),
	}
	for i := range f.Voxels {
		v := &f.Voxels[i]
		if v.ID == 0 {
			return nil, fmt.Errorf("voxel_list: id 0 is reserved for empty cells (%q)", v.Name)
		}
		if _, dup := t.types[v.ID]; dup {
			return nil, fmt.Errorf("voxel_list: duplicate id %d", v.ID)
		}
		t.types[v.ID] = v
		t.byName[v.Name] = v.ID
	}
	return t, nil
}

// Get returns the voxel type for an id, or nil if unknown.
func (t *VoxelTable) Get(id uint16) *VoxelType {
	return t.types[id]
}

// Known reports whether id names a defined voxel type.
func (t *VoxelTable) Known(id uint16) bool {
	_, ok := t.types[id]
	return ok
}

// IDByName resolves a voxel name to its id. Used by worldgen scripts.
func (t *VoxelTable) IDByName(name string) (uint16, bool) {
	id, ok := t.byName[name]
	return id, ok
}

// Len returns the number of defined voxel types.
func (t *VoxelTable) Len() int {
	return len(t.types)
}
