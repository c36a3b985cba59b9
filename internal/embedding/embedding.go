// Package embedding synthesizes a fixed-length, deterministic vector for a
// repository from its metadata and ontology analysis. It is a hand-designed
// trigonometric mix of normalized features, not a trained model: similar
// feature values produce nearby vectors and identical inputs always produce
// identical output.
package embedding

import (
	"math"

	"github.com/kevinmichaelchen/reporemix/internal/models"
	"github.com/kevinmichaelchen/reporemix/internal/ontology"
)

const (
	// Dimension is the length of every vector.
	Dimension = 1536
	// Model tags the synthesis scheme stored alongside each vector.
	Model = "ontology-hybrid/1"
)

// Vector is one repository embedding.
type Vector struct {
	Model  string    `json:"model"`
	Values []float32 `json:"values"`
}

// Compute returns the embedding for repo. Every value is finite.
func Compute(repo models.Repo, analysis ontology.Analysis) Vector {
	return Vector{
		Model:  Model,
		Values: synthesize(Features(repo, analysis)),
	}
}

func synthesize(features []Feature) []float32 {
	out := make([]float32, Dimension)
	if len(features) == 0 {
		return out
	}
	for i := range out {
		v := mix(features[i%len(features)], i)
		if !finite(v) {
			v = 0
		}
		out[i] = float32(v)
	}
	return out
}

// mix cycles the feature list across the vector. Each position gets a smooth
// oscillation whose phase depends on the feature label and position and whose
// amplitude grows with the feature value and weight.
func mix(f Feature, i int) float64 {
	angle := float64(i) / Dimension * math.Pi * 4
	drift := float64(f.Index) * 0.01
	sine := math.Sin(angle + f.Phase + drift)
	cosine := math.Cos(angle*0.5 + f.Phase*0.5 + drift)
	amplitude := 0.05 + f.Value*(0.7+f.Weight*0.3)
	return (sine + cosine) * 0.5 * amplitude * (1 + f.Value*0.2)
}
