package udf

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/raaihank/quackformers/internal/embeddings"
	"github.com/raaihank/quackformers/internal/models"
	"github.com/raaihank/quackformers/internal/models/modeltest"
	"github.com/raaihank/quackformers/internal/tokenizer"
)

type rawStrings [][]byte

func (r rawStrings) Len() int           { return len(r) }
func (r rawStrings) Bytes(i int) []byte { return r[i] }

func TestToStrings(t *testing.T) {
	in := rawStrings{[]byte("duck"), {'q', 0xff, 'k'}, {}}
	out := ToStrings(in)

	if len(out) != 3 {
		t.Fatalf("Expected 3 strings, got %d", len(out))
	}
	if out[0] != "duck" {
		t.Errorf("Expected duck, got %q", out[0])
	}
	if out[1] != "q�k" {
		t.Errorf("Expected invalid byte replaced, got %q", out[1])
	}
	if out[2] != "" {
		t.Errorf("Expected empty string, got %q", out[2])
	}
}

func TestWriteLists(t *testing.T) {
	var out ListVector
	vecs := [][]float32{{1, 2}, {3}, {4, 5, 6}}
	if err := WriteLists(&out, vecs); err != nil {
		t.Fatalf("WriteLists failed: %v", err)
	}
	if out.Len() != 3 {
		t.Fatalf("Expected 3 rows, got %d", out.Len())
	}
	if len(out.Child) != 6 {
		t.Errorf("Expected child of 6 values, got %d", len(out.Child))
	}
	wantEntries := []ListEntry{{0, 2}, {2, 1}, {3, 3}}
	for i, e := range out.Entries {
		if e != wantEntries[i] {
			t.Errorf("Expected entry %d to be %+v, got %+v", i, wantEntries[i], e)
		}
	}
	if r := out.Row(2); r[0] != 4 || r[2] != 6 {
		t.Errorf("Expected row 2 to be [4 5 6], got %v", r)
	}

	if err := WriteLists(&out, [][]float32{{1}, nil}); err == nil {
		t.Error("Expected error for a missing row")
	}
}

type fakeRemote struct {
	fail bool
}

func (f *fakeRemote) Name() string { return "embedrock" }

func (f *fakeRemote) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if f.fail {
		return nil, embeddings.ErrRemoteFailed
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t)), 0.5}
	}
	return out, nil
}

func (f *fakeRemote) Invoke(ctx context.Context, prompt, model string) (string, error) {
	if f.fail {
		return "", errors.New("Can't invoke model. Reason: Unknown")
	}
	return strings.ToUpper(prompt), nil
}

// bertOnlyRegistry loads the tiny BERT model and fails Jina.
func bertOnlyRegistry(t *testing.T) *embeddings.Registry {
	t.Helper()
	r := embeddings.NewRegistry(zap.NewNop(), embeddings.WithBuilder(func(ctx context.Context, v models.Variant) (*embeddings.TextEmbedder, error) {
		if v == models.VariantJina {
			return nil, errors.New("jina weights missing")
		}
		tok, err := tokenizer.FromBytes([]byte(modeltest.TokenizerJSON))
		if err != nil {
			return nil, err
		}
		return embeddings.NewTextEmbedder(string(v), modeltest.Backend(t, v, 11), tok, zap.NewNop()), nil
	}))
	t.Cleanup(func() { r.Close() })
	return r
}

func TestBuild(t *testing.T) {
	c, err := Build(context.Background(), Sources{Registry: bertOnlyRegistry(t), Remote: &fakeRemote{}}, zap.NewNop())
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	want := []string{FuncBedrockInvoke, FuncEmbed, FuncEmbedrock}
	got := c.Names()
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("Expected functions %v, got %v", want, got)
	}
	if _, ok := c.Vector(FuncEmbedJina); ok {
		t.Error("Expected embed_jina to be skipped after its warm-up failed")
	}

	fn, _ := c.Vector(FuncEmbed)
	var out ListVector
	if err := fn.Invoke(context.Background(), Strings{"hello world", "duck", "quack"}, &out); err != nil {
		t.Fatalf("embed failed: %v", err)
	}
	if out.Len() != 3 {
		t.Fatalf("Expected 3 rows, got %d", out.Len())
	}
	for i := 0; i < out.Len(); i++ {
		if len(out.Row(i)) != modeltest.TinyConfig(models.VariantBert).HiddenSize {
			t.Errorf("Expected row %d to have hidden-size length, got %d", i, len(out.Row(i)))
		}
	}

	text, _ := c.Text(FuncBedrockInvoke)
	res, err := text.Invoke(context.Background(), Strings{"quack"})
	if err != nil || res[0] != "QUACK" {
		t.Errorf("Expected QUACK, got %v, %v", res, err)
	}
}

func TestBuildNothingAvailable(t *testing.T) {
	r := embeddings.NewRegistry(zap.NewNop(), embeddings.WithBuilder(func(ctx context.Context, v models.Variant) (*embeddings.TextEmbedder, error) {
		return nil, errors.New("offline")
	}))
	defer r.Close()

	if _, err := Build(context.Background(), Sources{Registry: r}, zap.NewNop()); err == nil {
		t.Error("Expected error when no function can be registered")
	}
}

func TestFunctionErrorsPropagate(t *testing.T) {
	c := NewCatalog(zap.NewNop())
	c.AddService(FuncEmbedrock, &fakeRemote{fail: true}, nil)
	c.SetInvoker(&fakeRemote{fail: true})

	fn, _ := c.Vector(FuncEmbedrock)
	var out ListVector
	if err := fn.Invoke(context.Background(), Strings{"a"}, &out); !errors.Is(err, embeddings.ErrRemoteFailed) {
		t.Errorf("Expected remote failure, got %v", err)
	}
	if out.Len() != 0 {
		t.Errorf("Expected no rows written on failure, got %d", out.Len())
	}

	text, _ := c.Text(FuncBedrockInvoke)
	if _, err := text.Invoke(context.Background(), Strings{"a"}); err == nil {
		t.Error("Expected invoke failure")
	}
}

func TestSQLite(t *testing.T) {
	c, err := Build(context.Background(), Sources{Registry: bertOnlyRegistry(t), Remote: &fakeRemote{}}, zap.NewNop())
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if err := RegisterSQLite(c); err != nil {
		t.Fatalf("RegisterSQLite failed: %v", err)
	}

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open sqlite: %v", err)
	}
	defer db.Close()

	t.Run("embed returns a JSON array", func(t *testing.T) {
		var raw string
		if err := db.QueryRow(`SELECT embed('hello world')`).Scan(&raw); err != nil {
			t.Fatalf("Query failed: %v", err)
		}
		var vec []float32
		if err := json.Unmarshal([]byte(raw), &vec); err != nil {
			t.Fatalf("Expected JSON array, got %q: %v", raw, err)
		}
		if len(vec) != modeltest.TinyConfig(models.VariantBert).HiddenSize {
			t.Errorf("Expected %d values, got %d", modeltest.TinyConfig(models.VariantBert).HiddenSize, len(vec))
		}
	})

	t.Run("null in null out", func(t *testing.T) {
		var v sql.NullString
		if err := db.QueryRow(`SELECT embed(NULL)`).Scan(&v); err != nil {
			t.Fatalf("Query failed: %v", err)
		}
		if v.Valid {
			t.Errorf("Expected NULL, got %q", v.String)
		}
	})

	t.Run("one row per input row", func(t *testing.T) {
		if _, err := db.Exec(`CREATE TABLE phrases (id INTEGER PRIMARY KEY, text TEXT)`); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		if _, err := db.Exec(`INSERT INTO phrases (text) VALUES ('duck'), ('quack'), ('a database is fast')`); err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
		rows, err := db.Query(`SELECT id, embedrock(text) FROM phrases ORDER BY id`)
		if err != nil {
			t.Fatalf("Query failed: %v", err)
		}
		defer rows.Close()

		wantLen := []float32{4, 5, 18}
		i := 0
		for rows.Next() {
			var id int
			var raw string
			if err := rows.Scan(&id, &raw); err != nil {
				t.Fatalf("Scan failed: %v", err)
			}
			var vec []float32
			if err := json.Unmarshal([]byte(raw), &vec); err != nil {
				t.Fatalf("Expected JSON array: %v", err)
			}
			if vec[0] != wantLen[i] {
				t.Errorf("Expected row %d to embed its own text, got %v", i, vec)
			}
			i++
		}
		if i != 3 {
			t.Errorf("Expected 3 rows, got %d", i)
		}
	})

	t.Run("bedrock_invoke", func(t *testing.T) {
		var out string
		if err := db.QueryRow(`SELECT bedrock_invoke('quack')`).Scan(&out); err != nil {
			t.Fatalf("Query failed: %v", err)
		}
		if out != "QUACK" {
			t.Errorf("Expected QUACK, got %q", out)
		}
	})

	t.Run("unavailable variant", func(t *testing.T) {
		var raw string
		err := db.QueryRow(`SELECT embed_jina('hello')`).Scan(&raw)
		if err == nil || !strings.Contains(err.Error(), "not available") {
			t.Errorf("Expected unavailable function error, got %v", err)
		}
	})
}
