package bedrock

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/raaihank/quackformers/internal/embeddings"
)

type fakeAPI struct {
	mu       sync.Mutex
	models   []string
	fail     map[string]error
	delay    map[string]time.Duration
	converse func(*bedrockruntime.ConverseInput) (*bedrockruntime.ConverseOutput, error)
}

func (f *fakeAPI) InvokeModel(ctx context.Context, in *bedrockruntime.InvokeModelInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error) {
	var req titanRequest
	if err := json.Unmarshal(in.Body, &req); err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.models = append(f.models, aws.ToString(in.ModelId))
	f.mu.Unlock()

	if d := f.delay[req.InputText]; d > 0 {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := f.fail[req.InputText]; err != nil {
		return nil, err
	}
	body, _ := json.Marshal(TitanResponse{
		Embedding:           []float32{float32(len(req.InputText)), 1},
		InputTextTokenCount: int64(len(strings.Fields(req.InputText))),
	})
	return &bedrockruntime.InvokeModelOutput{Body: body}, nil
}

func (f *fakeAPI) Converse(ctx context.Context, in *bedrockruntime.ConverseInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error) {
	return f.converse(in)
}

func newTestClient(t *testing.T, api API, cfg Config) *Client {
	t.Helper()
	c, err := NewClientWithAPI(api, cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("NewClientWithAPI failed: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestEmbedOne(t *testing.T) {
	api := &fakeAPI{}
	c := newTestClient(t, api, Config{})

	resp, err := c.EmbedOne(context.Background(), "hello big world")
	if err != nil {
		t.Fatalf("EmbedOne failed: %v", err)
	}
	if resp.Embedding[0] != 15 || resp.InputTextTokenCount != 3 {
		t.Errorf("Unexpected response %+v", resp)
	}
	if api.models[0] != DefaultEmbeddingModelID {
		t.Errorf("Expected model %s, got %s", DefaultEmbeddingModelID, api.models[0])
	}
}

func TestEmbedAllOrder(t *testing.T) {
	api := &fakeAPI{delay: map[string]time.Duration{"a": 30 * time.Millisecond}}
	c := newTestClient(t, api, Config{Concurrency: 4})

	texts := []string{"a", "bb", "ccc", "dddd", "eeeee"}
	out, err := c.EmbedAll(context.Background(), texts)
	if err != nil {
		t.Fatalf("EmbedAll failed: %v", err)
	}
	for i, v := range out {
		if int(v[0]) != len(texts[i]) {
			t.Errorf("Expected result %d to belong to %q, got %v", i, texts[i], v)
		}
	}
}

func TestEmbedAllFailures(t *testing.T) {
	tests := []struct {
		name     string
		api      *fakeAPI
		cfg      Config
		texts    []string
		failed   []int
		contains string
	}{
		{
			name:   "one failure fails the call",
			api:    &fakeAPI{fail: map[string]error{"bad": errors.New("throttled")}},
			texts:  []string{"ok", "bad", "fine"},
			failed: []int{1},
		},
		{
			name:     "model timeout",
			api:      &fakeAPI{fail: map[string]error{"x": &types.ModelTimeoutException{Message: aws.String("slow")}}},
			texts:    []string{"x"},
			failed:   []int{0},
			contains: "Model took too long",
		},
		{
			name:     "per-item timeout",
			api:      &fakeAPI{delay: map[string]time.Duration{"slow": time.Second}},
			cfg:      Config{ItemTimeout: 20 * time.Millisecond},
			texts:    []string{"fast", "slow"},
			failed:   []int{1},
			contains: "Request timed out",
		},
		{
			name: "several failures are all reported",
			api: &fakeAPI{fail: map[string]error{
				"a": errors.New("boom"),
				"c": &types.ModelNotReadyException{Message: aws.String("warming")},
			}},
			texts:    []string{"a", "b", "c"},
			failed:   []int{0, 2},
			contains: "Model is not ready",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, tt.api, tt.cfg)
			out, err := c.EmbedAll(context.Background(), tt.texts)
			if err == nil {
				t.Fatal("Expected error")
			}
			if out != nil {
				t.Errorf("Expected no partial results, got %v", out)
			}

			errs := multierr.Errors(err)
			if len(errs) != len(tt.failed) {
				t.Fatalf("Expected %d errors, got %d: %v", len(tt.failed), len(errs), err)
			}
			for j, e := range errs {
				var re *RemoteError
				if !errors.As(e, &re) {
					t.Fatalf("Expected *RemoteError, got %T", e)
				}
				if re.Index != tt.failed[j] {
					t.Errorf("Expected failed index %d, got %d", tt.failed[j], re.Index)
				}
			}
			if tt.contains != "" && !strings.Contains(err.Error(), tt.contains) {
				t.Errorf("Expected %q in %q", tt.contains, err.Error())
			}
		})
	}
}

func TestEmbedTexts(t *testing.T) {
	c := newTestClient(t, &fakeAPI{fail: map[string]error{"bad": errors.New("denied")}}, Config{})

	if c.Name() != ServiceName {
		t.Errorf("Expected name %s, got %s", ServiceName, c.Name())
	}
	if vecs, err := c.EmbedTexts(context.Background(), []string{"hi"}); err != nil || len(vecs) != 1 {
		t.Errorf("Expected 1 vector, got %v, %v", vecs, err)
	}
	_, err := c.EmbedTexts(context.Background(), []string{"hi", "bad"})
	if !errors.Is(err, embeddings.ErrRemoteFailed) {
		t.Errorf("Expected remote failure kind, got %v", err)
	}
}

func TestInvoke(t *testing.T) {
	t.Run("returns first text block", func(t *testing.T) {
		var gotModel, gotPrompt string
		api := &fakeAPI{converse: func(in *bedrockruntime.ConverseInput) (*bedrockruntime.ConverseOutput, error) {
			gotModel = aws.ToString(in.ModelId)
			gotPrompt = in.Messages[0].Content[0].(*types.ContentBlockMemberText).Value
			return &bedrockruntime.ConverseOutput{Output: &types.ConverseOutputMemberMessage{Value: types.Message{
				Role:    types.ConversationRoleAssistant,
				Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: "quack"}},
			}}}, nil
		}}
		c := newTestClient(t, api, Config{})

		out, err := c.Invoke(context.Background(), "what does a duck say", "")
		if err != nil {
			t.Fatalf("Invoke failed: %v", err)
		}
		if out != "quack" {
			t.Errorf("Expected quack, got %q", out)
		}
		if gotModel != DefaultTextModelID || gotPrompt != "what does a duck say" {
			t.Errorf("Unexpected request model=%s prompt=%q", gotModel, gotPrompt)
		}
	})

	tests := []struct {
		name string
		out  *bedrockruntime.ConverseOutput
		err  error
		want string
	}{
		{name: "model timeout", err: &types.ModelTimeoutException{}, want: "Can't invoke model. Reason: Model took too long"},
		{name: "model not ready", err: &types.ModelNotReadyException{}, want: "Can't invoke model. Reason: Model is not ready"},
		{name: "other fault", err: &types.ValidationException{}, want: "Can't invoke model. Reason: Unknown"},
		{name: "no output", out: &bedrockruntime.ConverseOutput{}, want: "Can't invoke model. Reason: no output"},
		{
			name: "empty message",
			out:  &bedrockruntime.ConverseOutput{Output: &types.ConverseOutputMemberMessage{}},
			want: "Can't invoke model. Reason: no content in message",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &fakeAPI{converse: func(*bedrockruntime.ConverseInput) (*bedrockruntime.ConverseOutput, error) {
				return tt.out, tt.err
			}}
			c := newTestClient(t, api, Config{})

			_, err := c.Invoke(context.Background(), "hi", "")
			if err == nil {
				t.Fatal("Expected error")
			}
			if !strings.HasPrefix(err.Error(), tt.want) {
				t.Errorf("Expected %q, got %q", tt.want, err.Error())
			}
		})
	}
}

func TestFingerprint(t *testing.T) {
	titan := newTestClient(t, &fakeAPI{}, Config{EmbeddingModelID: "amazon.titan-embed-text-v1"})
	v2 := newTestClient(t, &fakeAPI{}, Config{EmbeddingModelID: "amazon.titan-embed-text-v2:0"})
	moved := newTestClient(t, &fakeAPI{}, Config{EmbeddingModelID: "amazon.titan-embed-text-v1", Region: "eu-west-1"})

	if titan.Fingerprint() == v2.Fingerprint() {
		t.Errorf("Expected different fingerprints per model, got %s", titan.Fingerprint())
	}
	if titan.Fingerprint() != moved.Fingerprint() {
		t.Errorf("Expected region to leave the fingerprint alone, got %s and %s", titan.Fingerprint(), moved.Fingerprint())
	}
	if ns := embeddings.CacheNamespace(titan); !strings.HasPrefix(ns, ServiceName+"-") {
		t.Errorf("Expected namespaced cache key for %s, got %s", ServiceName, ns)
	}
}
