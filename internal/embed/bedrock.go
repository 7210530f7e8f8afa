package embed

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"github.com/docsmcp/docsmcp/internal/errors"
)

type bedrockProvider struct {
	client *bedrockruntime.Client
	model  string
	dims   int
}

// NewBedrock builds an Embedder over AWS Bedrock (Titan embedding
// models). Credentials and region come from the default AWS chain.
func NewBedrock(ctx context.Context, model string, dims int, timeout time.Duration) (Embedder, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, errors.Embedding(err, "failed to load aws configuration")
	}
	return newBatcher(&bedrockProvider{
		client: bedrockruntime.NewFromConfig(cfg),
		model:  model,
		dims:   dims,
	}, timeout), nil
}

type titanRequest struct {
	InputText  string `json:"inputText"`
	Dimensions int    `json:"dimensions,omitempty"`
	Normalize  bool   `json:"normalize,omitempty"`
}

type titanResponse struct {
	Embedding []float32 `json:"embedding"`
}

// Titan models embed one text per InvokeModel call.
func (p *bedrockProvider) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		req := titanRequest{InputText: text}
		// Only the v2 Titan family accepts a requested dimension.
		if strings.Contains(p.model, "v2") {
			req.Dimensions = p.dims
			req.Normalize = true
		}
		body, err := json.Marshal(req)
		if err != nil {
			return nil, err
		}

		res, err := p.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
			ModelId:     aws.String(p.model),
			ContentType: aws.String("application/json"),
			Accept:      aws.String("application/json"),
			Body:        body,
		})
		if err != nil {
			return nil, err
		}

		var parsed titanResponse
		if err := json.Unmarshal(res.Body, &parsed); err != nil {
			return nil, errors.Embedding(err, "malformed bedrock response")
		}
		out[i] = parsed.Embedding
	}
	return out, nil
}

func (p *bedrockProvider) Dimensions() int   { return p.dims }
func (p *bedrockProvider) ModelName() string { return p.model }
func (p *bedrockProvider) batchSize() int    { return 8 }
