package facemodel

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/example/face-gate/internal/imagedata"
	"github.com/example/face-gate/internal/logging"
)

const (
	// DefaultMatchModel handles the text judgment; DefaultEnhanceModel must
	// support image output.
	DefaultMatchModel   = "gemini-2.5-flash"
	DefaultEnhanceModel = "gemini-2.5-flash-image"

	// maxImageEdge bounds uploaded frames. Camera captures can be large and
	// the model does not need full resolution for either operation.
	maxImageEdge = 800
)

// GeminiClient talks to the Gemini API for both verification operations.
type GeminiClient struct {
	client       *genai.Client
	matchModel   string
	enhanceModel string
	logger       *zap.Logger
}

// NewGeminiClient builds a Gemini-backed model client. Empty model names fall
// back to the defaults.
func NewGeminiClient(ctx context.Context, apiKey, matchModel, enhanceModel string, logger *zap.Logger) (*GeminiClient, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	if matchModel == "" {
		matchModel = DefaultMatchModel
	}
	if enhanceModel == "" {
		enhanceModel = DefaultEnhanceModel
	}

	return &GeminiClient{
		client:       client,
		matchModel:   matchModel,
		enhanceModel: enhanceModel,
		logger:       logger.Named("facemodel"),
	}, nil
}

// SummarizeMatch sends both images with the fixed comparison instruction and
// parses the model's judgment.
func (g *GeminiClient) SummarizeMatch(ctx context.Context, selfie, frame imagedata.Payload) (*Judgment, error) {
	selfieBlob, err := toBlob(selfie)
	if err != nil {
		return nil, logging.NewOperationError("facemodel.prepare_selfie", "", err)
	}
	frameBlob, err := toBlob(frame)
	if err != nil {
		return nil, logging.NewOperationError("facemodel.prepare_frame", "", err)
	}

	contents := []*genai.Content{
		{
			Role: "user",
			Parts: []*genai.Part{
				{Text: matchPrompt},
				{InlineData: selfieBlob},
				{InlineData: frameBlob},
			},
		},
	}
	config := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
	}

	result, err := g.client.Models.GenerateContent(ctx, g.matchModel, contents, config)
	if err != nil {
		return nil, logging.NewOperationError("facemodel.summarize_match", "", err)
	}

	text := result.Text()
	if strings.TrimSpace(text) == "" {
		return nil, logging.NewOperationError("facemodel.summarize_match", "", errors.New("model response contained no judgment text"))
	}

	judgment := ParseJudgment(text)
	g.logger.Debug("match judgment received",
		zap.String("verdict", string(judgment.Verdict)),
		zap.String("rationale", judgment.Rationale))
	return judgment, nil
}

// Enhance requests an image-modality response and returns the first image
// part the model produces.
func (g *GeminiClient) Enhance(ctx context.Context, frame imagedata.Payload) (imagedata.Payload, error) {
	frameBlob, err := toBlob(frame)
	if err != nil {
		return imagedata.Payload{}, logging.NewOperationError("facemodel.prepare_frame", "", err)
	}

	contents := []*genai.Content{
		{
			Role: "user",
			Parts: []*genai.Part{
				{Text: enhancePrompt},
				{InlineData: frameBlob},
			},
		},
	}
	config := &genai.GenerateContentConfig{
		ResponseModalities: []string{"IMAGE", "TEXT"},
	}

	result, err := g.client.Models.GenerateContent(ctx, g.enhanceModel, contents, config)
	if err != nil {
		return imagedata.Payload{}, logging.NewOperationError("facemodel.enhance", "", err)
	}

	enhanced, ok := firstImagePart(result)
	if !ok {
		return imagedata.Payload{}, logging.NewOperationError("facemodel.enhance", "", errors.New("model response contained no image"))
	}
	return enhanced, nil
}

// toBlob downscales a payload and wraps it as an inline request part.
func toBlob(p imagedata.Payload) (*genai.Blob, error) {
	data, mimeType, err := downscale(p.Data, maxImageEdge)
	if err != nil {
		return nil, err
	}
	return &genai.Blob{Data: data, MIMEType: mimeType}, nil
}

// firstImagePart walks response candidates for inline image data.
func firstImagePart(result *genai.GenerateContentResponse) (imagedata.Payload, bool) {
	for _, candidate := range result.Candidates {
		if candidate == nil || candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part == nil || part.InlineData == nil {
				continue
			}
			if !strings.HasPrefix(part.InlineData.MIMEType, "image/") {
				continue
			}
			if len(part.InlineData.Data) == 0 {
				continue
			}
			return imagedata.New(part.InlineData.MIMEType, part.InlineData.Data), true
		}
	}
	return imagedata.Payload{}, false
}
