package segmentation

import (
	"context"
	"sort"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"gonum.org/v1/gonum/graph/simple"

	pc "go.viam.com/tabletop/pointcloud"
)

// SupervoxelAdjacency maps a supervoxel label to the labels of the supervoxels touching it. It is
// symmetric and every list is sorted without duplicates.
type SupervoxelAdjacency map[uint32][]uint32

// buildSupervoxelAdjacency connects supervoxels owning 26-adjacent voxels. Every cluster gets an
// entry, possibly empty.
func buildSupervoxelAdjacency(
	ctx context.Context,
	vg *pc.VoxelGrid,
	owner map[pc.VoxelCoords]uint32,
	clusters map[uint32]*Supervoxel,
) (SupervoxelAdjacency, error) {
	adjacency := make(SupervoxelAdjacency, len(clusters))
	for label := range clusters {
		adjacency[label] = []uint32{}
	}
	for i, k := range vg.Keys() {
		if i%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		label := owner[k]
		if label == 0 {
			continue
		}
		for _, nb := range vg.GetAdjacentVoxels(vg.GetVoxelFromKey(k)) {
			nbLabel := owner[nb]
			if nbLabel == 0 || nbLabel == label {
				continue
			}
			adjacency[label] = append(adjacency[label], nbLabel)
		}
	}
	for label, neighbors := range adjacency {
		sort.Slice(neighbors, func(i, j int) bool { return neighbors[i] < neighbors[j] })
		adjacency[label] = lo.Uniq(neighbors)
	}
	return adjacency, adjacency.Validate(clusters)
}

// Neighbors returns the sorted labels adjacent to the given one.
func (adj SupervoxelAdjacency) Neighbors(label uint32) []uint32 {
	return adj[label]
}

// AreAdjacent reports whether the two supervoxels touch.
func (adj SupervoxelAdjacency) AreAdjacent(a, b uint32) bool {
	neighbors := adj[a]
	i := sort.Search(len(neighbors), func(i int) bool { return neighbors[i] >= b })
	return i < len(neighbors) && neighbors[i] == b
}

// NumEdges returns the number of undirected adjacent pairs.
func (adj SupervoxelAdjacency) NumEdges() int {
	n := 0
	for _, neighbors := range adj {
		n += len(neighbors)
	}
	return n / 2
}

// Edges returns every undirected pair once, with the smaller label first, in increasing order.
func (adj SupervoxelAdjacency) Edges() [][2]uint32 {
	labels := lo.Keys(adj)
	sort.Slice(labels, func(i, j int) bool { return labels[i] < labels[j] })
	edges := make([][2]uint32, 0, adj.NumEdges())
	for _, label := range labels {
		for _, nb := range adj[label] {
			if label < nb {
				edges = append(edges, [2]uint32{label, nb})
			}
		}
	}
	return edges
}

// Validate checks that every label and neighbor is a supervoxel and that the relation is symmetric.
func (adj SupervoxelAdjacency) Validate(clusters map[uint32]*Supervoxel) error {
	for label, neighbors := range adj {
		if _, ok := clusters[label]; !ok {
			return errors.Errorf("adjacency refers to unknown supervoxel %d", label)
		}
		for _, nb := range neighbors {
			if _, ok := clusters[nb]; !ok {
				return errors.Errorf("supervoxel %d is adjacent to unknown supervoxel %d", label, nb)
			}
			if !adj.AreAdjacent(nb, label) {
				return errors.Errorf("adjacency between supervoxels %d and %d is not symmetric", label, nb)
			}
		}
	}
	return nil
}

// Graph returns the adjacency as an undirected graph whose node ids are the supervoxel labels.
func (adj SupervoxelAdjacency) Graph() *simple.UndirectedGraph {
	g := simple.NewUndirectedGraph()
	for label := range adj {
		if g.Node(int64(label)) == nil {
			g.AddNode(simple.Node(label))
		}
	}
	for _, e := range adj.Edges() {
		g.SetEdge(simple.Edge{F: simple.Node(e[0]), T: simple.Node(e[1])})
	}
	return g
}

// Copy returns a deep copy.
func (adj SupervoxelAdjacency) Copy() SupervoxelAdjacency {
	out := make(SupervoxelAdjacency, len(adj))
	for label, neighbors := range adj {
		out[label] = append([]uint32{}, neighbors...)
	}
	return out
}
