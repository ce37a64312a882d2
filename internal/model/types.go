package model

// VersionedRecord captures schema and codec evolution for persistent data.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version"`
	CodecVersion  int `json:"codec_version"`
}

// Row is the per-structure metadata the selection predicates look at.
type Row struct {
	Index               int      `json:"index"`
	Identifier          string   `json:"identifier"`
	AssemblyCount       int      `json:"assembly_count"`
	InterfaceCategories []string `json:"interface_categories"`
	Size                int      `json:"size"`
	NumResidues         int      `json:"num_residues"`
}

// Example is one structural unit as produced by the dataset provider.
// Features and NeighborIndices have one row per atom, QueryPositions one row per
// query residue, Assignment is atoms x queries and Labels holds one flag per raw
// interface category.
type Example struct {
	VersionedRecord
	Key             string      `json:"key"`
	Features        [][]float64 `json:"features"`
	NeighborIndices [][]int     `json:"neighbor_indices"`
	QueryPositions  [][]float64 `json:"query_positions"`
	Assignment      [][]float64 `json:"assignment"`
	Labels          []float64   `json:"labels"`
}

// Size is the number of atoms in the example.
func (e Example) Size() int {
	return len(e.Features)
}

// FeatureWidth is the per-atom feature count, or 0 for an empty example.
func (e Example) FeatureWidth() int {
	if len(e.Features) == 0 {
		return 0
	}
	return len(e.Features[0])
}

// LabeledExample is an example whose labels are expressed over output classes.
type LabeledExample struct {
	Example
	Row    Row       `json:"row"`
	Labels []float64 `json:"class_labels"`
}

// Segment locates one example's atoms and queries inside a collated batch.
type Segment struct {
	AtomStart  int `json:"atom_start"`
	AtomEnd    int `json:"atom_end"`
	QueryStart int `json:"query_start"`
	QueryEnd   int `json:"query_end"`
}

// Batch is a set of examples packed into shared arrays.
type Batch struct {
	Features        [][]float64
	NeighborIndices [][]int
	QueryPositions  [][]float64
	Assignment      [][]float64
	Segments        []Segment
	Labels          [][]float64
}

// Len is the number of examples in the batch.
func (b Batch) Len() int {
	return len(b.Segments)
}
