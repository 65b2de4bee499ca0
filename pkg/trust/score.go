// Package trust implements the ubuntu reputation framework: an incremental
// score in [0, 100] built from interaction history, with diminishing returns
// near both bounds.
package trust

// Score bounds.
const (
	MinScore = 0.0
	MaxScore = 100.0
)

// Interaction weights per type. Unknown types fall back to WeightDefault.
const (
	WeightDefault           = 0.02
	WeightDelivery          = 0.02
	WeightCheckIn           = 0.04
	WeightConsent           = 0.05
	WeightEmergencyResponse = 0.10
)

var interactionWeights = map[string]float64{
	"delivery":           WeightDelivery,
	"check-in":           WeightCheckIn,
	"consent":            WeightConsent,
	"emergency-response": WeightEmergencyResponse,
}

// WeightFor returns the score weight for an interaction type.
func WeightFor(interactionType string) float64 {
	if w, ok := interactionWeights[interactionType]; ok {
		return w
	}
	return WeightDefault
}

// NextScore computes the updated ubuntu score for one interaction. Positive
// outcomes move the score toward 100 proportionally to the remaining
// headroom; negative outcomes move it toward 0 proportionally to the current
// score. The rule keeps the score in bounds by construction, but the result
// is clamped anyway.
func NextScore(current, weight float64, positive bool) float64 {
	var next float64
	if positive {
		next = current + weight*(MaxScore-current)
	} else {
		next = current - weight*current
	}
	return Clamp(next)
}

// Clamp forces a score into [MinScore, MaxScore].
func Clamp(score float64) float64 {
	if score < MinScore {
		return MinScore
	}
	if score > MaxScore {
		return MaxScore
	}
	return score
}
