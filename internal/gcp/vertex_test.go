package gcp

import (
	"context"
	"testing"

	"cloud.google.com/go/vertexai/genai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/Lllllllleong/documentingestion/internal/pipeline"
)

type fakeGenerator struct {
	resp  *genai.GenerateContentResponse
	err   error
	parts []genai.Part
}

func (f *fakeGenerator) GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error) {
	f.parts = parts
	return f.resp, f.err
}

func textResponse(parts ...string) *genai.GenerateContentResponse {
	content := &genai.Content{}
	for _, p := range parts {
		content.Parts = append(content.Parts, genai.Text(p))
	}
	return &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{Content: content}}}
}

var pdfBatch = pipeline.Batch{Number: 2, StartPage: 21, EndPage: 40, Payload: []byte("%PDF-1.7")}

func TestVertexExtractor_Extract(t *testing.T) {
	gen := &fakeGenerator{resp: textResponse("```text\nPAGE 21\n", "نص الصفحة\n```")}
	v := &VertexExtractor{model: gen}

	text, err := v.Extract(context.Background(), pdfBatch)
	require.NoError(t, err)
	assert.Equal(t, "PAGE 21\nنص الصفحة", text)

	require.Len(t, gen.parts, 2)
	blob, ok := gen.parts[0].(genai.Blob)
	require.True(t, ok)
	assert.Equal(t, "application/pdf", blob.MIMEType)
	assert.Contains(t, string(gen.parts[1].(genai.Text)), "pages 21 to 40")
}

func TestVertexExtractor_TextMode(t *testing.T) {
	gen := &fakeGenerator{resp: textResponse("cleaned chunk")}
	v := &VertexExtractor{model: gen, textMode: true}

	text, err := v.Extract(context.Background(), pipeline.Batch{Number: 3, StartPage: 3, EndPage: 3, Payload: []byte("raw chunk")})
	require.NoError(t, err)
	assert.Equal(t, "cleaned chunk", text)

	require.Len(t, gen.parts, 2)
	assert.Contains(t, string(gen.parts[0].(genai.Text)), "part 3")
	assert.Equal(t, genai.Text("raw chunk"), gen.parts[1])
}

func TestVertexExtractor_ClassifiesBackendErrors(t *testing.T) {
	v := &VertexExtractor{model: &fakeGenerator{err: status.Error(codes.ResourceExhausted, "quota exceeded")}}

	_, err := v.Extract(context.Background(), pdfBatch)
	require.Error(t, err)
	assert.Equal(t, pipeline.RateLimited, pipeline.Classify(err))
}

func TestVertexExtractor_Refusal(t *testing.T) {
	v := &VertexExtractor{model: &fakeGenerator{resp: textResponse("I am unable to help with that.")}}

	_, err := v.Extract(context.Background(), pdfBatch)
	assert.ErrorContains(t, err, "refusal")
}

func TestVertexExtractor_RefusalPhraseInPageText(t *testing.T) {
	page := "PAGE 21\nThe witness said: I am unable to recall the date of the contract."
	v := &VertexExtractor{model: &fakeGenerator{resp: textResponse(page)}}

	text, err := v.Extract(context.Background(), pdfBatch)
	require.NoError(t, err)
	assert.Equal(t, page, text)
}

func TestIsRefusal(t *testing.T) {
	assert.True(t, isRefusal("  I cannot provide a transcription of this document."))
	assert.True(t, isRefusal("As a large language model, I can't read this."))
	assert.False(t, isRefusal("PAGE 3\nI cannot provide the original receipt, the tenant wrote."))
	assert.False(t, isRefusal(""))
}

func TestVertexExtractor_EmptyResponse(t *testing.T) {
	v := &VertexExtractor{model: &fakeGenerator{resp: &genai.GenerateContentResponse{}}}

	text, err := v.Extract(context.Background(), pdfBatch)
	require.NoError(t, err)
	assert.Empty(t, text)
}

func TestVertexExtractor_RequiresPayload(t *testing.T) {
	v := &VertexExtractor{model: &fakeGenerator{}}
	_, err := v.Extract(context.Background(), pipeline.Batch{Number: 1, StartPage: 1, EndPage: 1})
	assert.Error(t, err)
}
