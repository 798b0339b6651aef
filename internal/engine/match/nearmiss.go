package match

import (
	"log/slog"
	"strings"

	"github.com/antzucaro/matchr"
)

// defaultNearMissThreshold is the minimum Jaro-Winkler similarity for a
// phrase to be reported as a near miss.
const defaultNearMissThreshold = 0.80

// NearMiss logs trigger phrases that were phonetically close to a transcript
// that matched nothing. It exists purely to help administrators tune their
// phrases; its output never influences playback.
type NearMiss struct {
	threshold float64
}

// NewNearMiss creates a reporter with the given similarity threshold;
// thresholds outside (0,1] fall back to 0.80.
func NewNearMiss(threshold float64) *NearMiss {
	if threshold <= 0 || threshold > 1 {
		threshold = defaultNearMissThreshold
	}
	return &NearMiss{threshold: threshold}
}

// Report scans the snapshot for phrases that sound like part of the
// transcript and logs the closest ones. Both phonetic overlap (Double
// Metaphone) and string similarity (Jaro-Winkler) must agree before a phrase
// is reported.
func (n *NearMiss) Report(normalizedText string, snap *Snapshot) {
	if normalizedText == "" || snap == nil {
		return
	}
	textTokens := strings.Fields(normalizedText)
	textCodes := metaphoneCodes(textTokens)

	for _, e := range snap.entries {
		phraseTokens := strings.Fields(e.Text)
		if !codesOverlap(textCodes, metaphoneCodes(phraseTokens)) {
			continue
		}
		score := bestSimilarity(textTokens, phraseTokens, normalizedText, e.Text)
		if score >= n.threshold {
			slog.Info("near-miss trigger phrase",
				"phrase", e.Text,
				"clip", e.ClipID,
				"similarity", score,
			)
		}
	}
}

// metaphoneCodes returns the union of Double Metaphone codes for the tokens.
func metaphoneCodes(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

// codesOverlap reports whether the two code sets share at least one code.
func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

// bestSimilarity is the highest Jaro-Winkler score between the transcript
// and the phrase: full strings, or the best pairwise token score when the
// phrase is buried inside a longer transcript.
func bestSimilarity(textTokens, phraseTokens []string, text, phrase string) float64 {
	score := matchr.JaroWinkler(text, phrase, false)
	for _, tt := range textTokens {
		for _, pt := range phraseTokens {
			if s := matchr.JaroWinkler(tt, pt, false); s > score {
				score = s
			}
		}
	}
	return score
}
