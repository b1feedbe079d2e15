package gcp

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"cloud.google.com/go/vertexai/genai"

	"github.com/Lllllllleong/documentingestion/internal/pipeline"
)

// --- OCR Model Prompts ---
const OCRSystemPrompt = "You are a meticulous OCR engine for scanned Arabic and English documents. You transcribe text exactly as printed. You never summarise, translate, or comment."
const OCRUserPrompt = `You will be provided with pages %d to %d of a PDF document.

Transcribe all text on these pages:

Order: Follow the natural reading order of each page. Arabic text reads right to left.
Fidelity: Preserve the original wording, diacritics, numerals and punctuation. Do not correct spelling.
Layout: Keep paragraph breaks. Render tables as rows with cells separated by " | ".
Pages: Start every page with a line "PAGE n" where n is the page number in the original document.
Noise: Omit running headers, footers and page furniture that repeat on every page.

Return ONLY the transcribed text.`

// TextCleanupPrompt is used for plain-text documents sent in token-bounded chunks.
const TextCleanupPrompt = `You will be provided with part %d of a plain-text document.

Return the text with broken lines rejoined and obvious extraction artefacts removed.
Preserve the original wording, diacritics, numerals and punctuation. Do not summarise or translate.

Return ONLY the cleaned text.`

const DefaultOCRModel = "gemini-1.5-pro"

// VertexClient holds the pre-configured generative model used for remote OCR.
type VertexClient struct {
	OCRModel   *genai.GenerativeModel
	baseClient *genai.Client
}

// NewVertexClient creates a client with the OCR model configured.
func NewVertexClient(ctx context.Context, projectID, region, modelName string) (*VertexClient, error) {
	if projectID == "" || region == "" {
		return nil, fmt.Errorf("NewVertexClient: projectID and region cannot be empty")
	}
	if modelName == "" {
		modelName = DefaultOCRModel
	}

	baseClient, err := genai.NewClient(ctx, projectID, region)
	if err != nil {
		return nil, fmt.Errorf("genai.NewClient: %w", err)
	}

	ocrModel := baseClient.GenerativeModel(modelName)
	ocrModel.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(OCRSystemPrompt)},
	}
	ocrModel.GenerationConfig = genai.GenerationConfig{
		Temperature: genai.Ptr[float32](0.0),
	}
	ocrModel.SafetySettings = []*genai.SafetySetting{
		{Category: genai.HarmCategoryHateSpeech, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategoryDangerousContent, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategorySexuallyExplicit, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategoryHarassment, Threshold: genai.HarmBlockNone},
	}

	return &VertexClient{
		OCRModel:   ocrModel,
		baseClient: baseClient,
	}, nil
}

func (c *VertexClient) Close() error {
	if c.baseClient != nil {
		return c.baseClient.Close()
	}
	return nil
}

// contentGenerator is the part of *genai.GenerativeModel the extractor needs.
type contentGenerator interface {
	GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

// VertexExtractor is a pipeline.BatchExtractor backed by Gemini. Batches carry either
// their pages as a PDF payload or, in text mode, a chunk of plain text.
type VertexExtractor struct {
	model    contentGenerator
	textMode bool
}

// NewVertexExtractor wraps the client's OCR model for PDF page batches.
func NewVertexExtractor(c *VertexClient) *VertexExtractor {
	return &VertexExtractor{model: c.OCRModel}
}

// NewVertexTextExtractor wraps the client's model for chunks planned by pipeline.PlanText.
func NewVertexTextExtractor(c *VertexClient) *VertexExtractor {
	return &VertexExtractor{model: c.OCRModel, textMode: true}
}

var refusalPhrases = []string{
	"i am unable to",
	"i cannot fulfill",
	"i cannot answer",
	"i cannot provide",
	"as a large language model",
}

// isRefusal reports whether the response opens with a refusal. Transcribed page text may
// quote the same phrases anywhere else.
func isRefusal(text string) bool {
	lower := strings.ToLower(strings.TrimSpace(text))
	for _, phrase := range refusalPhrases {
		if strings.HasPrefix(lower, phrase) {
			return true
		}
	}
	return false
}

func (v *VertexExtractor) Extract(ctx context.Context, b pipeline.Batch) (string, error) {
	if len(b.Payload) == 0 {
		return "", fmt.Errorf("batch %d has no page payload", b.Number)
	}
	var parts []genai.Part
	if v.textMode {
		parts = []genai.Part{genai.Text(fmt.Sprintf(TextCleanupPrompt, b.Number)), genai.Text(b.Payload)}
	} else {
		prompt := genai.Text(fmt.Sprintf(OCRUserPrompt, b.StartPage, b.EndPage))
		parts = []genai.Part{genai.Blob{MIMEType: "application/pdf", Data: b.Payload}, prompt}
	}

	resp, err := v.model.GenerateContent(ctx, parts...)
	if err != nil {
		return "", ClassifyVertexError(fmt.Errorf("failed to generate content from gemini: %w", err))
	}

	text := extractText(resp, b)
	if isRefusal(text) {
		return "", fmt.Errorf("gemini response indicates refusal for pages %s", b.PageRange())
	}
	if text == "" {
		slog.Warn("No text extracted from response. Treating as blank pages.", "batch", b.Number, "pages", b.PageRange())
	}
	return text, nil
}

// extractText concatenates the text parts of the first candidate.
func extractText(resp *genai.GenerateContentResponse, b pipeline.Batch) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return ""
	}
	var sb strings.Builder
	var textPartsFound int
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			sb.WriteString(string(txt))
			textPartsFound++
		}
	}
	if textPartsFound > 1 {
		slog.Warn("Gemini response contained several text parts; they have been concatenated.", "batch", b.Number, "parts", textPartsFound)
	}
	content := strings.TrimSpace(sb.String())
	content = strings.TrimPrefix(content, "```text")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	return strings.TrimSpace(content)
}
