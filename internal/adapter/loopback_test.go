package adapter

import (
	"context"
	"testing"
	"time"
)

func TestLoopbackRetrieval_TenantScoped(t *testing.T) {
	r := NewLoopbackRetrieval()

	docs, err := r.BM25(context.Background(), "acme", "refund policy", 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 3 {
		t.Fatalf("got %d docs, want 3", len(docs))
	}
	for _, d := range docs {
		if d.TenantID != "acme" {
			t.Errorf("doc %s carries tenant %q, want acme", d.ID, d.TenantID)
		}
		if d.Score <= 0 || d.Score > 1 {
			t.Errorf("doc %s score %f out of range", d.ID, d.Score)
		}
	}
}

func TestLoopbackRetrieval_Deterministic(t *testing.T) {
	r := NewLoopbackRetrieval()
	ctx := context.Background()

	a, _ := r.Vector(ctx, "acme", "q", 2)
	b, _ := r.Vector(ctx, "acme", "q", 2)
	if a[0].ID != b[0].ID {
		t.Error("same inputs must fabricate the same documents")
	}

	c, _ := r.Vector(ctx, "globex", "q", 2)
	if a[0].ID == c[0].ID {
		t.Error("different tenants must not share document ids")
	}
}

func TestLoopbackRetrieval_LatencyRespectsContext(t *testing.T) {
	r := &LoopbackRetrieval{Latency: time.Second}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := r.BM25(ctx, "acme", "q", 1)
	if err == nil {
		t.Fatal("expected context error")
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Error("cancelled call must return promptly")
	}
}

func TestLoopbackLLM_EchoesQuery(t *testing.T) {
	llm := NewLoopbackLLM()
	prompt := "# SYSTEM INSTRUCTION (Immutable)\n...\n# QUERY FROM USER\nwhat is the refund window?\n# RESPONSE REQUIREMENTS\n..."

	got, err := llm.Complete(context.Background(), "acme", prompt, CompletionOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if got.TokensUsed <= 0 {
		t.Error("token estimate must be positive")
	}
	want := "[loopback] answer for: what is the refund window?"
	if got.Text != want {
		t.Errorf("text = %q, want %q", got.Text, want)
	}
}
