// Package seat derives a saddle height recommendation from three landmark
// heights and the rider's stated height.
package seat

import (
	"errors"
	"fmt"
	"math"
)

const (
	// InseamRatio estimates inseam length from standing height.
	InseamRatio = 0.45
	// SaddleRatio converts inseam to the target saddle height.
	SaddleRatio = 0.883
	// Tolerance is the absolute difference, in cm, still treated as well adjusted.
	Tolerance = 1.0
)

var (
	// ErrInvalidHeight rejects non-positive or non-finite rider heights.
	ErrInvalidHeight = errors.New("rider height must be a positive, finite number")
	// ErrDegenerateSpan means nose and heel share a vertical coordinate.
	ErrDegenerateSpan = errors.New("head-to-heel span is zero")
)

// Directive is the adjustment the rider should make.
type Directive string

const (
	Keep  Directive = "keep"
	Raise Directive = "raise"
	Lower Directive = "lower"
)

// Measurement holds normalized vertical landmark coordinates from one image.
type Measurement struct {
	NoseY float64
	HipY  float64
	HeelY float64
}

// Recommendation is the outcome of one analysis. Values are in centimeters.
type Recommendation struct {
	RiderHeightCM           float64
	CurrentSeatHeightCM     float64
	RecommendedSeatHeightCM float64
	DifferenceCM            float64
	Directive               Directive
	Text                    string
}

// Recommend applies the fixed anthropometric formula. Returned values are not rounded.
func Recommend(riderHeightCM float64, m Measurement) (*Recommendation, error) {
	if math.IsNaN(riderHeightCM) || math.IsInf(riderHeightCM, 0) || riderHeightCM <= 0 {
		return nil, ErrInvalidHeight
	}

	totalSpan := math.Abs(m.HeelY - m.NoseY)
	seatSpan := math.Abs(m.HeelY - m.HipY)
	if totalSpan == 0 {
		return nil, ErrDegenerateSpan
	}

	pxPerCM := totalSpan / riderHeightCM
	current := seatSpan / pxPerCM
	inseam := riderHeightCM * InseamRatio
	recommended := inseam * SaddleRatio
	diff := recommended - current

	directive, text := Classify(diff)
	return &Recommendation{
		RiderHeightCM:           riderHeightCM,
		CurrentSeatHeightCM:     current,
		RecommendedSeatHeightCM: recommended,
		DifferenceCM:            diff,
		Directive:               directive,
		Text:                    text,
	}, nil
}

// Classify maps a signed difference to a directive and its display text.
func Classify(diffCM float64) (Directive, string) {
	switch {
	case math.Abs(diffCM) < Tolerance:
		return Keep, "well adjusted"
	case diffCM > 0:
		return Raise, fmt.Sprintf("raise by %.2f cm", diffCM)
	default:
		return Lower, fmt.Sprintf("lower by %.2f cm", math.Abs(diffCM))
	}
}

// Rounded returns a copy with every measurement rounded to two decimals.
func (r Recommendation) Rounded() Recommendation {
	r.RiderHeightCM = Round2(r.RiderHeightCM)
	r.CurrentSeatHeightCM = Round2(r.CurrentSeatHeightCM)
	r.RecommendedSeatHeightCM = Round2(r.RecommendedSeatHeightCM)
	r.DifferenceCM = Round2(r.DifferenceCM)
	return r
}

// Round2 rounds half away from zero to two decimal places.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
