// Package topology describes where this process sits in a multi-process
// evaluation: its rank, the world size and its rank on the local node.
package topology

import (
	"errors"
	"fmt"
	"os"
	"strconv"
)

// ErrInvalid is returned when the environment describes an impossible
// topology.
var ErrInvalid = errors.New("invalid process topology")

// Topology is the position of one process among WorldSize peers.
type Topology struct {
	Rank      int
	WorldSize int
	LocalRank int
}

// Single is the topology of a standalone process.
var Single = Topology{Rank: 0, WorldSize: 1, LocalRank: 0}

// Variable names tried in order; the first set of each group wins.
var (
	rankVars      = []string{"RANK", "SLURM_PROCID"}
	worldSizeVars = []string{"WORLD_SIZE", "SLURM_NTASKS"}
	localRankVars = []string{"LOCAL_RANK", "SLURM_LOCALID"}
)

// FromEnv reads the topology from getenv. With nothing set the process is
// treated as Single. A nil getenv uses os.Getenv.
func FromEnv(getenv func(string) string) (Topology, error) {
	if getenv == nil {
		getenv = os.Getenv
	}
	t := Single

	var err error
	if t.Rank, err = lookup(getenv, rankVars, 0); err != nil {
		return Topology{}, err
	}
	if t.WorldSize, err = lookup(getenv, worldSizeVars, 1); err != nil {
		return Topology{}, err
	}
	if t.LocalRank, err = lookup(getenv, localRankVars, t.Rank); err != nil {
		return Topology{}, err
	}

	if err := t.Validate(); err != nil {
		return Topology{}, err
	}
	return t, nil
}

func lookup(getenv func(string) string, names []string, def int) (int, error) {
	for _, name := range names {
		v := getenv(name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("%w: %s=%q", ErrInvalid, name, v)
		}
		return n, nil
	}
	return def, nil
}

// Validate checks 0 <= Rank < WorldSize and LocalRank >= 0.
func (t Topology) Validate() error {
	if t.WorldSize < 1 {
		return fmt.Errorf("%w: world size %d", ErrInvalid, t.WorldSize)
	}
	if t.Rank < 0 || t.Rank >= t.WorldSize {
		return fmt.Errorf("%w: rank %d outside world of %d", ErrInvalid, t.Rank, t.WorldSize)
	}
	if t.LocalRank < 0 {
		return fmt.Errorf("%w: local rank %d", ErrInvalid, t.LocalRank)
	}
	return nil
}

// IsMain reports whether this is rank 0, the process that writes shared
// outputs.
func (t Topology) IsMain() bool { return t.Rank == 0 }

// Distributed reports whether more than one process takes part.
func (t Topology) Distributed() bool { return t.WorldSize > 1 }

func (t Topology) String() string {
	return fmt.Sprintf("rank %d/%d (local %d)", t.Rank, t.WorldSize, t.LocalRank)
}

// Shard returns the items assigned to this rank: every WorldSize-th item
// starting at Rank. Order is preserved. The union over all ranks is the
// input and no item appears twice.
func Shard[T any](t Topology, items []T) []T {
	if t.WorldSize <= 1 {
		return items
	}
	out := make([]T, 0, len(items)/t.WorldSize+1)
	for i := t.Rank; i < len(items); i += t.WorldSize {
		out = append(out, items[i])
	}
	return out
}
