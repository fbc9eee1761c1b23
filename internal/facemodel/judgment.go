package facemodel

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/example/face-gate/internal/imagedata"
)

// Verdict is the model's structured decision about a face comparison.
type Verdict string

const (
	VerdictMatch   Verdict = "match"
	VerdictNoMatch Verdict = "no_match"
)

// MatchSentinel is the legacy one-sentence success phrase. Models that ignore
// the JSON contract and answer in prose are still understood when they return
// this exact sentence.
const MatchSentinel = "The same person appears in both images."

// Judgment is the outcome of one match comparison.
type Judgment struct {
	Verdict   Verdict `json:"verdict"`
	Rationale string  `json:"rationale"`
}

// Client exposes the two external model operations the verification flow
// needs.
type Client interface {
	// SummarizeMatch asks the model whether the same person appears in the
	// selfie and the captured frame.
	SummarizeMatch(ctx context.Context, selfie, frame imagedata.Payload) (*Judgment, error)
	// Enhance asks the model for a brightness/contrast/sharpness improved
	// rendition of the frame.
	Enhance(ctx context.Context, frame imagedata.Payload) (imagedata.Payload, error)
}

// ParseJudgment interprets raw model output. The primary contract is a JSON
// object {"verdict": ..., "rationale": ...}; plain prose falls back to the
// sentinel comparison, where the exact sentinel sentence means a match and
// anything else becomes a no-match with the text as rationale.
func ParseJudgment(raw string) *Judgment {
	raw = strings.TrimSpace(raw)

	var judgment Judgment
	if err := json.Unmarshal([]byte(raw), &judgment); err == nil && judgment.Verdict != "" {
		if judgment.Verdict != VerdictMatch {
			judgment.Verdict = VerdictNoMatch
		}
		return &judgment
	}

	if raw == MatchSentinel {
		return &Judgment{Verdict: VerdictMatch, Rationale: raw}
	}
	return &Judgment{Verdict: VerdictNoMatch, Rationale: raw}
}

const matchPrompt = `You are a strict identity verification assistant. Compare the two attached
face images. The first image is a user-submitted selfie; the second is a frame
captured from a live camera.

Tolerate differences in lighting, facial expression, accessories (glasses,
hats) and image quality. Weigh structural facial geometry: eye spacing, nose
shape, jawline, face proportions.

Respond with a single JSON object and nothing else:
{"verdict": "match" | "no_match", "rationale": "<one sentence explaining the decision>"}`

const enhancePrompt = `Improve the brightness, contrast and sharpness of the attached image so a
person's face is clearly visible. Return only the enhanced image. Do not add,
remove or alter any content in the scene.`
