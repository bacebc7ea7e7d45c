package topology

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(vars map[string]string) func(string) string {
	return func(k string) string { return vars[k] }
}

func TestFromEnv(t *testing.T) {
	tests := []struct {
		name string
		vars map[string]string
		want Topology
	}{
		{"empty", nil, Single},
		{"torchrun", map[string]string{"RANK": "3", "WORLD_SIZE": "8", "LOCAL_RANK": "1"}, Topology{3, 8, 1}},
		{"slurm", map[string]string{"SLURM_PROCID": "5", "SLURM_NTASKS": "6", "SLURM_LOCALID": "2"}, Topology{5, 6, 2}},
		{"generic wins", map[string]string{"RANK": "1", "SLURM_PROCID": "4", "WORLD_SIZE": "2", "SLURM_NTASKS": "9"}, Topology{1, 2, 1}},
		{"local defaults to rank", map[string]string{"RANK": "2", "WORLD_SIZE": "4"}, Topology{2, 4, 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FromEnv(env(tt.vars))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFromEnv_Invalid(t *testing.T) {
	for _, vars := range []map[string]string{
		{"RANK": "x"},
		{"RANK": "2", "WORLD_SIZE": "2"},
		{"WORLD_SIZE": "0"},
		{"RANK": "-1", "WORLD_SIZE": "2"},
		{"LOCAL_RANK": "-3"},
	} {
		_, err := FromEnv(env(vars))
		assert.ErrorIs(t, err, ErrInvalid, "%v", vars)
	}
}

func TestShard(t *testing.T) {
	items := []string{"a", "b", "c", "d", "e", "f", "g"}

	assert.Equal(t, items, Shard(Single, items))

	seen := map[string]int{}
	for rank := 0; rank < 3; rank++ {
		part := Shard(Topology{Rank: rank, WorldSize: 3}, items)
		for _, it := range part {
			seen[it]++
		}
	}
	assert.Len(t, seen, len(items))
	for it, n := range seen {
		assert.Equal(t, 1, n, "item %s", it)
	}

	assert.Equal(t, []string{"b", "e"}, Shard(Topology{Rank: 1, WorldSize: 3}, items))
	assert.Empty(t, Shard(Topology{Rank: 4, WorldSize: 5}, []string{"a", "b"}))
}

func TestTopology_Helpers(t *testing.T) {
	assert.True(t, Single.IsMain())
	assert.False(t, Single.Distributed())
	tp := Topology{Rank: 1, WorldSize: 2}
	assert.False(t, tp.IsMain())
	assert.True(t, tp.Distributed())
	assert.Equal(t, "rank 1/2 (local 0)", tp.String())
}
