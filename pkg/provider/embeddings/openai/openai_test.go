package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestModelDimensions(t *testing.T) {
	tests := []struct {
		model string
		want  int
	}{
		{"text-embedding-3-small", 1536},
		{"text-embedding-3-large", 3072},
		{"text-embedding-ada-002", 1536},
		{"some-future-model", 1536},
	}
	for _, tt := range tests {
		if got := modelDimensions(tt.model); got != tt.want {
			t.Errorf("modelDimensions(%q) = %d, want %d", tt.model, got, tt.want)
		}
	}
}

func TestNew(t *testing.T) {
	if _, err := New("", "text-embedding-3-small"); err == nil {
		t.Error("expected error for empty api key")
	}

	p, err := New("sk-test", "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.ModelID() != DefaultModel {
		t.Errorf("ModelID = %q, want %q", p.ModelID(), DefaultModel)
	}
}

func TestWithDimensions(t *testing.T) {
	tests := []struct {
		name          string
		model         string
		dims          int
		wantDims      int
		wantShortened bool
	}{
		{"shortened 3-large", "text-embedding-3-large", 1024, 1024, true},
		{"ada ignores", "text-embedding-ada-002", 256, 1536, false},
		{"larger than native ignored", "text-embedding-3-small", 4096, 1536, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := New("sk-test", tt.model, WithDimensions(tt.dims))
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			if p.Dimensions() != tt.wantDims || p.shortened != tt.wantShortened {
				t.Errorf("dims=%d shortened=%v, want %d %v", p.Dimensions(), p.shortened, tt.wantDims, tt.wantShortened)
			}
		})
	}
}

func TestEmbedBatch_OrdersByIndex(t *testing.T) {
	var gotDims float64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		_ = json.NewDecoder(r.Body).Decode(&req)
		gotDims, _ = req["dimensions"].(float64)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"object":"list","model":"text-embedding-3-small",
			"data":[
				{"object":"embedding","index":1,"embedding":[0,1]},
				{"object":"embedding","index":0,"embedding":[1,0]}
			],
			"usage":{"prompt_tokens":4,"total_tokens":4}}`))
	}))
	defer srv.Close()

	p, err := New("sk-test", "text-embedding-3-small", WithBaseURL(srv.URL+"/"), WithDimensions(2))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	vecs, err := p.EmbedBatch(context.Background(), []string{"what time is it", "goodbye"})
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if vecs[0][0] != 1 || vecs[1][1] != 1 {
		t.Errorf("vectors not placed by index: %v", vecs)
	}
	if gotDims != 2 {
		t.Errorf("dimensions param = %v, want 2", gotDims)
	}
}

func TestEmbedBatch_Empty(t *testing.T) {
	p, _ := New("sk-test", "")
	vecs, err := p.EmbedBatch(context.Background(), nil)
	if err != nil || vecs != nil {
		t.Errorf("EmbedBatch(nil) = %v, %v", vecs, err)
	}
}
