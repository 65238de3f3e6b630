package intent

import (
	"context"
	"sort"
	"strings"
	"sync"

	"tiller/internal/logger"
)

const (
	keywordBaseScore = 0.60
	keywordStepScore = 0.05
	keywordCapScore  = 0.95

	// Intents seen in the last few turns get a fixed continuity boost.
	recentBoost      = 0.10
	recentBoostTurns = 3

	// Mapped base-classifier labels land at least here.
	baseLabelScore = 0.70
	baseLabelStep  = 0.15

	emergencyScore = 0.98
	fallbackScore  = 0.35
)

// Classifier blends a legacy base classifier with keyword scoring.
type Classifier struct {
	base BaseClassifier

	mu       sync.RWMutex
	keywords map[Intent][]string
}

func NewClassifier(base BaseClassifier) *Classifier {
	return &Classifier{base: base, keywords: defaultKeywords}
}

// SetKeywordOverrides merges per-intent keyword lists over the defaults.
// Used by config hot reload.
func (c *Classifier) SetKeywordOverrides(overrides map[string][]string) {
	merged := make(map[Intent][]string, len(defaultKeywords))
	for k, v := range defaultKeywords {
		merged[k] = v
	}
	for label, words := range overrides {
		merged[Intent(strings.TrimSpace(label))] = words
	}
	c.mu.Lock()
	c.keywords = merged
	c.mu.Unlock()
}

// Classify never returns an error: base-classifier failure degrades to
// keyword-only scoring.
func (c *Classifier) Classify(ctx context.Context, text, channel string, cctx *Context) Resolution {
	normalized := strings.ToLower(strings.TrimSpace(text))

	candidates := c.scoreKeywords(normalized)

	rawLabel := c.baseLabel(ctx, text, channel)
	if mapped, ok := mapLegacyLabel(rawLabel); ok {
		if mapped == GeneralQuery {
			// A generic base label must not absorb short messages that
			// already produced a concrete keyword candidate.
			if len(candidates) == 0 {
				candidates[GeneralQuery] = baseLabelScore
			}
		} else {
			score := baseLabelScore
			if prev, ok := candidates[mapped]; ok && prev+baseLabelStep > score {
				score = prev + baseLabelStep
			}
			candidates[mapped] = capScore(score)
		}
	}

	if cctx != nil {
		turns := cctx.RecentIntents
		if len(turns) > recentBoostTurns {
			turns = turns[:recentBoostTurns]
		}
		for _, recent := range turns {
			if prev, ok := candidates[recent]; ok {
				candidates[recent] = capScore(prev + recentBoost)
			}
		}
	}

	if containsEmergencyVocabulary(normalized) {
		candidates[Emergency] = emergencyScore
		return Resolution{
			Intent:     Emergency,
			Confidence: emergencyScore,
			Candidates: candidates,
			RawLabel:   rawLabel,
			Reason:     "emergency_override",
		}
	}

	if len(candidates) == 0 {
		candidates[GeneralQuery] = fallbackScore
		return Resolution{
			Intent:     GeneralQuery,
			Confidence: fallbackScore,
			Candidates: candidates,
			RawLabel:   rawLabel,
			Reason:     "fallback",
		}
	}

	best, score := argmax(candidates)
	return Resolution{
		Intent:     best,
		Confidence: score,
		Candidates: candidates,
		RawLabel:   rawLabel,
		Reason:     "scored",
	}
}

func (c *Classifier) baseLabel(ctx context.Context, text, channel string) string {
	if c.base == nil {
		return ""
	}
	label, err := c.base.Classify(ctx, text, map[string]string{"channel": channel})
	if err != nil {
		logger.Warnf("intent: base classifier failed, keyword-only scoring: %v", err)
		return ""
	}
	return strings.ToLower(strings.TrimSpace(label))
}

func (c *Classifier) scoreKeywords(normalized string) map[Intent]float64 {
	c.mu.RLock()
	table := c.keywords
	c.mu.RUnlock()

	scores := make(map[Intent]float64)
	if normalized == "" {
		return scores
	}
	for label, words := range table {
		hits := 0
		for _, w := range words {
			if w == "" {
				continue
			}
			if strings.Contains(normalized, strings.ToLower(w)) {
				hits++
			}
		}
		if hits == 0 {
			continue
		}
		scores[label] = capScore(keywordBaseScore + float64(hits-1)*keywordStepScore)
	}
	return scores
}

func mapLegacyLabel(raw string) (Intent, bool) {
	if raw == "" {
		return "", false
	}
	mapped, ok := legacyLabelMap[raw]
	return mapped, ok
}

func containsEmergencyVocabulary(normalized string) bool {
	for _, w := range emergencyVocabulary {
		if strings.Contains(normalized, w) {
			return true
		}
	}
	return false
}

func capScore(s float64) float64 {
	if s > keywordCapScore {
		return keywordCapScore
	}
	return s
}

// argmax picks the highest-scored candidate; ties break alphabetically so
// resolution is deterministic.
func argmax(candidates map[Intent]float64) (Intent, float64) {
	keys := make([]Intent, 0, len(candidates))
	for k := range candidates {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	var best Intent
	bestScore := -1.0
	for _, k := range keys {
		if candidates[k] > bestScore {
			best, bestScore = k, candidates[k]
		}
	}
	return best, bestScore
}
