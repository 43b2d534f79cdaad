package reid

import (
	"math"
	"sync/atomic"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas64"
)

// normEpsilon guards against division by zero when normalising vectors.
const normEpsilon = 1e-8

// Record is one enrolled reference embedding. A person may have several
// records; a query matches the person owning the closest reference vector.
type Record struct {
	PersonID string
	Vector   []float32
}

// IndexMatch is the accepted result of a nearest-neighbour query.
type IndexMatch struct {
	PersonID   string
	Similarity float64
}

// Backend selects the search implementation. Both backends are exact and
// must agree on accepted matches within floating-point tolerance; the BLAS
// backend is a performance substitution, not a semantic one.
type Backend string

const (
	// BackendBruteForce scans every reference vector. Correctness
	// baseline, fine for small catalogs.
	BackendBruteForce Backend = "brute"
	// BackendBLAS computes all similarities in one dense matrix-vector
	// product. Preferred for large catalogs.
	BackendBLAS Backend = "blas"
)

// snapshot is an immutable view of the catalog: IDs plus L2-normalised
// reference vectors in a flat row-major buffer shared by both backends.
type snapshot struct {
	ids  []string
	dim  int
	flat []float64 // len(ids) rows × dim columns
}

// Index answers nearest-neighbour queries by cosine similarity over the
// enrolled catalog.
//
// The catalog is replaced wholesale via SetCatalog (snapshot-and-swap), so
// enrollment and removal never block in-flight queries and readers never
// observe a partially updated catalog. Safe for concurrent use across
// pipeline streams.
type Index struct {
	accept  float64
	backend Backend
	snap    atomic.Pointer[snapshot]
}

// NewIndex creates an index that accepts matches at or above the given
// cosine similarity threshold, using the selected backend.
func NewIndex(acceptThreshold float64, backend Backend) *Index {
	return &Index{accept: acceptThreshold, backend: backend}
}

// AcceptThreshold returns the configured acceptance threshold.
func (ix *Index) AcceptThreshold() float64 { return ix.accept }

// Len returns the number of reference vectors in the current snapshot.
func (ix *Index) Len() int {
	s := ix.snap.Load()
	if s == nil {
		return 0
	}
	return len(s.ids)
}

// SetCatalog builds a new snapshot from the given records and swaps it in
// atomically. Records with empty or inconsistent dimensionality are
// dropped. An empty record set installs an empty snapshot: every query
// then reports no match.
func (ix *Index) SetCatalog(records []Record) {
	next := &snapshot{}
	for _, rec := range records {
		if len(rec.Vector) == 0 {
			continue
		}
		if next.dim == 0 {
			next.dim = len(rec.Vector)
		}
		if len(rec.Vector) != next.dim {
			continue
		}
		next.ids = append(next.ids, rec.PersonID)
		next.flat = append(next.flat, normalize(rec.Vector)...)
	}
	ix.snap.Store(next)
}

// Query returns the best-matching identity for the query vector, or
// ok=false when the catalog is empty, the dimensionality does not match,
// or the best similarity falls below the acceptance threshold. A rejected
// query is a definitive "no match", never a low-confidence guess.
func (ix *Index) Query(vector []float32) (IndexMatch, bool) {
	s := ix.snap.Load()
	if s == nil || len(s.ids) == 0 || len(vector) != s.dim {
		return IndexMatch{}, false
	}

	query := normalize(vector)

	var best int
	var bestSim float64
	switch ix.backend {
	case BackendBLAS:
		best, bestSim = searchBLAS(s, query)
	default:
		best, bestSim = searchBrute(s, query)
	}

	if best < 0 || bestSim < ix.accept {
		return IndexMatch{}, false
	}
	return IndexMatch{PersonID: s.ids[best], Similarity: bestSim}, true
}

// normalize converts to float64 and scales to unit L2 norm, so the dot
// product of two normalised vectors is their cosine similarity.
func normalize(v []float32) []float64 {
	out := make([]float64, len(v))
	var sum float64
	for i, x := range v {
		f := float64(x)
		out[i] = f
		sum += f * f
	}
	norm := math.Sqrt(sum) + normEpsilon
	for i := range out {
		out[i] /= norm
	}
	return out
}

// searchBrute scans every row. Ties resolve to the lowest row index so
// results are deterministic for identical inputs.
func searchBrute(s *snapshot, query []float64) (int, float64) {
	best := -1
	bestSim := math.Inf(-1)
	for row := 0; row < len(s.ids); row++ {
		ref := s.flat[row*s.dim : (row+1)*s.dim]
		var dot float64
		for i, q := range query {
			dot += q * ref[i]
		}
		if dot > bestSim {
			bestSim = dot
			best = row
		}
	}
	return best, bestSim
}

// searchBLAS computes all similarities in a single dense matrix-vector
// product, then takes the argmax with the same lowest-index tie rule as
// the brute-force scan.
func searchBLAS(s *snapshot, query []float64) (int, float64) {
	rows := len(s.ids)
	a := blas64.General{
		Rows:   rows,
		Cols:   s.dim,
		Stride: s.dim,
		Data:   s.flat,
	}
	x := blas64.Vector{N: s.dim, Inc: 1, Data: query}
	y := blas64.Vector{N: rows, Inc: 1, Data: make([]float64, rows)}
	blas64.Gemv(blas.NoTrans, 1, a, x, 0, y)

	best := -1
	bestSim := math.Inf(-1)
	for row, sim := range y.Data {
		if sim > bestSim {
			bestSim = sim
			best = row
		}
	}
	return best, bestSim
}
