package catalog

import (
	"fmt"
	"math"
	"strconv"
)

// UnitNormTolerance is the maximum deviation from unit length allowed for
// a retrieval vector.
const UnitNormTolerance = 1e-6

// Normalize returns a unit-length copy of v. Zero vectors are returned as-is.
func Normalize(v []float32) []float32 {
	var sumSquares float64
	for _, x := range v {
		sumSquares += float64(x) * float64(x)
	}
	magnitude := math.Sqrt(sumSquares)
	if magnitude == 0 {
		return v
	}
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / magnitude)
	}
	return out
}

// Norm returns the Euclidean length of v.
func Norm(v []float32) float64 {
	var sumSquares float64
	for _, x := range v {
		sumSquares += float64(x) * float64(x)
	}
	return math.Sqrt(sumSquares)
}

// Dot returns the dot product of two vectors of equal length.
// For unit-norm vectors this equals cosine similarity.
func Dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

// Combine forms the retrieval vector from text and image embeddings using
// a convex combination weighted by textWeight (image weight is the
// complement), then re-normalizes. When image is nil the text vector is
// returned unchanged, so the combined vector equals text.
func Combine(text, image []float32, textWeight float64) ([]float32, error) {
	if len(text) == 0 {
		return nil, fmt.Errorf("combine: text embedding is required")
	}
	if image == nil {
		return text, nil
	}
	if len(image) != len(text) {
		return nil, fmt.Errorf("combine: dimension mismatch: text %d, image %d", len(text), len(image))
	}
	if textWeight < 0 || textWeight > 1 {
		return nil, fmt.Errorf("combine: text weight %v outside [0,1]", textWeight)
	}
	imageWeight := 1 - textWeight
	mixed := make([]float32, len(text))
	for i := range text {
		mixed[i] = float32(textWeight*float64(text[i]) + imageWeight*float64(image[i]))
	}
	return Normalize(mixed), nil
}

// CheckUnitNorm returns an error when the vector deviates from unit length
// by more than UnitNormTolerance.
func CheckUnitNorm(v []float32) error {
	if n := Norm(v); math.Abs(n-1) > UnitNormTolerance {
		return fmt.Errorf("vector norm %v outside unit tolerance", n)
	}
	return nil
}

func formatPrice(p float64) string {
	return strconv.FormatFloat(p, 'f', -1, 64)
}
