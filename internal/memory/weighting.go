package memory

import (
	"math"
	"time"
)

// Weights of the emotional match blend.
const (
	valenceWeight = 0.4
	arousalWeight = 0.2
	emotionWeight = 0.4

	neutralMatch = 0.5
)

// EmotionalMatch scores how closely two emotional profiles agree, in [0,1].
// The blend is valence closeness, arousal closeness and cosine similarity
// over the named emotion dimensions. Components missing on either side
// score the neutral 0.5, so items without emotional data neither gain nor
// lose from the re-weighting.
func EmotionalMatch(query, candidate EmotionalProfile) float64 {
	if query.Empty() || candidate.Empty() {
		return neutralMatch
	}

	valence := neutralMatch
	if query.Valence != nil && candidate.Valence != nil {
		// Valence spans [-1, 1], so the maximum distance is 2.
		valence = 1 - math.Abs(*query.Valence-*candidate.Valence)/2
	}

	arousal := neutralMatch
	if query.Arousal != nil && candidate.Arousal != nil {
		arousal = 1 - math.Abs(*query.Arousal-*candidate.Arousal)
		if arousal < 0 {
			arousal = 0
		}
	}

	emotions := neutralMatch
	if len(query.Emotions) > 0 && len(candidate.Emotions) > 0 {
		emotions = emotionCosine(query.Emotions, candidate.Emotions)
	}

	return valenceWeight*valence + arousalWeight*arousal + emotionWeight*emotions
}

// ReweightEmotional adjusts a score by up to ±20% based on emotional match.
func ReweightEmotional(score float64, match float64) float64 {
	return score * (1 + (match-neutralMatch)*0.4)
}

// emotionCosine computes cosine similarity over the union of named
// dimensions, clamped to [0,1]. Scores are non-negative in practice, so the
// clamp only guards against odd inputs.
func emotionCosine(a, b map[string]float64) float64 {
	var dot, normA, normB float64
	for k, av := range a {
		normA += av * av
		if bv, ok := b[k]; ok {
			dot += av * bv
		}
	}
	for _, bv := range b {
		normB += bv * bv
	}
	if normA == 0 || normB == 0 {
		return neutralMatch
	}
	cos := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	if cos < 0 {
		return 0
	}
	if cos > 1 {
		return 1
	}
	return cos
}

// DefaultClarityRate is the per-day clarity decay for an item of neutral
// importance.
const DefaultClarityRate = 0.02

// Clarity returns a [0,1] display weight for an item: a monotonically
// decreasing function of its age, slowed by stored importance (1-5). It is
// presentation metadata only and never affects retrieval ranking.
func Clarity(it *Item, now time.Time, ratePerDay float64) float64 {
	if ratePerDay <= 0 {
		ratePerDay = DefaultClarityRate
	}
	days := now.Sub(it.CreatedAt).Hours() / 24
	if days < 0 {
		days = 0
	}
	factor := 1.0
	if it.Importance >= 1 && it.Importance <= 5 {
		// Importance 1 decays at the base rate, importance 5 at a third of it.
		factor = 1 + float64(it.Importance-1)*0.5
	}
	return math.Exp(-ratePerDay * days / factor)
}
