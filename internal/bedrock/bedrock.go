// Package bedrock calls Amazon Bedrock for Titan embeddings and text generation.
package bedrock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/raaihank/quackformers/internal/embeddings"
	"github.com/raaihank/quackformers/internal/metrics"
)

const (
	DefaultRegion           = "us-east-1"
	DefaultEmbeddingModelID = "amazon.titan-embed-text-v1"
	DefaultTextModelID      = "amazon.titan-text-express-v1"

	// ServiceName is the function name remote embeddings are reported under.
	ServiceName = "embedrock"
)

// API is the subset of the Bedrock runtime client used here.
type API interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// Config selects the region, models and fan-out limits.
type Config struct {
	Region           string        `yaml:"region" mapstructure:"region"`
	EmbeddingModelID string        `yaml:"embedding_model_id" mapstructure:"embedding_model_id"`
	TextModelID      string        `yaml:"text_model_id" mapstructure:"text_model_id"`
	ItemTimeout      time.Duration `yaml:"item_timeout" mapstructure:"item_timeout"`
	Concurrency      int           `yaml:"concurrency" mapstructure:"concurrency"`
}

func (c *Config) withDefaults() {
	if c.Region == "" {
		c.Region = DefaultRegion
	}
	if c.EmbeddingModelID == "" {
		c.EmbeddingModelID = DefaultEmbeddingModelID
	}
	if c.TextModelID == "" {
		c.TextModelID = DefaultTextModelID
	}
	if c.ItemTimeout <= 0 {
		c.ItemTimeout = 30 * time.Second
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 8
	}
}

// TitanResponse is the InvokeModel response body of the Titan embedding model.
type TitanResponse struct {
	Embedding           []float32 `json:"embedding"`
	InputTextTokenCount int64     `json:"inputTextTokenCount"`
}

type titanRequest struct {
	InputText string `json:"inputText"`
}

// RemoteError describes a failed Bedrock call. Index is the input position
// for fan-out calls and -1 otherwise.
type RemoteError struct {
	Op     string
	Index  int
	Reason string
	Err    error
}

func (e *RemoteError) Error() string {
	msg := "Can't invoke model. Reason: " + e.Reason
	if e.Index >= 0 {
		msg = fmt.Sprintf("item %d: %s", e.Index, msg)
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *RemoteError) Unwrap() error { return e.Err }

// Client issues Bedrock requests. The SDK configuration is loaded once, in NewClient.
type Client struct {
	api    API
	config Config
	pool   *ants.Pool
	logger *zap.Logger

	closeOnce sync.Once
}

// NewClient loads the default AWS configuration for cfg.Region.
func NewClient(ctx context.Context, cfg Config, logger *zap.Logger) (*Client, error) {
	cfg.withDefaults()
	sdkConfig, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return NewClientWithAPI(bedrockruntime.NewFromConfig(sdkConfig), cfg, logger)
}

// NewClientWithAPI uses api instead of a real Bedrock client.
func NewClientWithAPI(api API, cfg Config, logger *zap.Logger) (*Client, error) {
	cfg.withDefaults()
	pool, err := ants.NewPool(cfg.Concurrency)
	if err != nil {
		return nil, fmt.Errorf("failed to create bedrock worker pool: %w", err)
	}
	logger.Info("Bedrock client initialized",
		zap.String("region", cfg.Region),
		zap.String("embedding_model", cfg.EmbeddingModelID),
		zap.String("text_model", cfg.TextModelID),
		zap.Int("concurrency", cfg.Concurrency))
	return &Client{api: api, config: cfg, pool: pool, logger: logger.With(zap.String("component", "bedrock"))}, nil
}

// EmbedOne embeds a single text with the Titan embedding model.
func (c *Client) EmbedOne(ctx context.Context, text string) (*TitanResponse, error) {
	body, err := json.Marshal(titanRequest{InputText: text})
	if err != nil {
		return nil, &RemoteError{Op: "InvokeModel", Index: -1, Reason: "failed to encode request", Err: err}
	}

	out, err := c.api.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(c.config.EmbeddingModelID),
		Body:        body,
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
	})
	if err != nil {
		return nil, &RemoteError{Op: "InvokeModel", Index: -1, Reason: reason(err), Err: err}
	}

	var resp TitanResponse
	if err := json.Unmarshal(out.Body, &resp); err != nil {
		return nil, &RemoteError{Op: "InvokeModel", Index: -1, Reason: "malformed embedding response", Err: err}
	}
	if len(resp.Embedding) == 0 {
		return nil, &RemoteError{Op: "InvokeModel", Index: -1, Reason: "empty embedding"}
	}
	return &resp, nil
}

// EmbedAll embeds every text concurrently, each under its own timeout, and
// returns the vectors in input order. If any item fails the call fails with
// every failed item listed.
func (c *Client) EmbedAll(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	errs := make([]error, len(texts))

	var wg sync.WaitGroup
	for i, text := range texts {
		wg.Add(1)
		task := func() {
			defer wg.Done()
			itemCtx, cancel := context.WithTimeout(ctx, c.config.ItemTimeout)
			defer cancel()

			resp, err := c.EmbedOne(itemCtx, text)
			if err != nil {
				var re *RemoteError
				if errors.As(err, &re) {
					re.Index = i
				}
				errs[i] = err
				return
			}
			out[i] = resp.Embedding
		}
		if err := c.pool.Submit(task); err != nil {
			wg.Done()
			errs[i] = &RemoteError{Op: "InvokeModel", Index: i, Reason: "failed to submit task", Err: err}
		}
	}
	wg.Wait()

	var combined error
	for _, err := range errs {
		combined = multierr.Append(combined, err)
	}
	if combined != nil {
		c.logger.Warn("Remote embedding failed",
			zap.Int("texts", len(texts)),
			zap.Int("failed", len(multierr.Errors(combined))),
			zap.Error(combined))
		return nil, combined
	}
	return out, nil
}

// Invoke sends prompt to model (the configured text model when empty) through
// the Converse API and returns the first text block of the reply.
func (c *Client) Invoke(ctx context.Context, prompt, model string) (string, error) {
	if model == "" {
		model = c.config.TextModelID
	}
	out, err := c.api.Converse(ctx, &bedrockruntime.ConverseInput{
		ModelId: aws.String(model),
		Messages: []types.Message{{
			Role:    types.ConversationRoleUser,
			Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: prompt}},
		}},
	})
	if err != nil {
		return "", &RemoteError{Op: "Converse", Index: -1, Reason: reason(err), Err: err}
	}
	return outputText(out)
}

func outputText(out *bedrockruntime.ConverseOutput) (string, error) {
	fail := func(r string) (string, error) {
		return "", &RemoteError{Op: "Converse", Index: -1, Reason: r}
	}
	if out == nil || out.Output == nil {
		return fail("no output")
	}
	msg, ok := out.Output.(*types.ConverseOutputMemberMessage)
	if !ok {
		return fail("output not a message")
	}
	if len(msg.Value.Content) == 0 {
		return fail("no content in message")
	}
	text, ok := msg.Value.Content[0].(*types.ContentBlockMemberText)
	if !ok {
		return fail("content is not text")
	}
	return text.Value, nil
}

// reason maps Bedrock service faults to short descriptions.
func reason(err error) string {
	var timeout *types.ModelTimeoutException
	var notReady *types.ModelNotReadyException
	switch {
	case errors.As(err, &timeout):
		return "Model took too long"
	case errors.As(err, &notReady):
		return "Model is not ready"
	case errors.Is(err, context.DeadlineExceeded):
		return "Request timed out"
	default:
		return "Unknown"
	}
}

// Name implements embeddings.Service.
func (c *Client) Name() string { return ServiceName }

// Fingerprint implements embeddings.Fingerprinter; vectors depend only on the model id.
func (c *Client) Fingerprint() string { return "bedrock:" + c.config.EmbeddingModelID }

// EmbedTexts implements embeddings.Service over EmbedAll.
func (c *Client) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	start := time.Now()
	vecs, err := c.EmbedAll(ctx, texts)
	metrics.EmbedDuration.WithLabelValues(ServiceName).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.EmbedRequestsTotal.WithLabelValues(ServiceName, "error").Inc()
		return nil, &embeddings.EmbeddingError{
			Kind:    embeddings.KindRemote,
			Message: fmt.Sprintf("remote embedding failed for %d of %d texts", len(multierr.Errors(err)), len(texts)),
			Code:    embeddings.ErrRemoteFailed.Code,
			Err:     err,
		}
	}
	metrics.EmbedRequestsTotal.WithLabelValues(ServiceName, "ok").Inc()
	metrics.EmbeddedTextsTotal.WithLabelValues(ServiceName).Add(float64(len(vecs)))
	return vecs, nil
}

// Close releases the worker pool.
func (c *Client) Close() error {
	c.closeOnce.Do(c.pool.Release)
	return nil
}
