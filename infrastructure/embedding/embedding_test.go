package embedding

import (
	"context"
	"math"
	"testing"
)

func TestHashing(t *testing.T) {
	t.Parallel()

	embed := Hashing(64)
	ctx := context.Background()

	a, _ := embed(ctx, "User prefers Python for data analysis")
	b, _ := embed(ctx, "python data analysis")
	c, _ := embed(ctx, "weekly marketing newsletter")
	again, _ := embed(ctx, "User prefers Python for data analysis")

	if len(a) != 64 {
		t.Fatalf("len = %d, want 64", len(a))
	}
	if Cosine(a, again) < 0.9999 {
		t.Error("embedding is not deterministic")
	}
	if Cosine(a, b) <= Cosine(a, c) {
		t.Errorf("related text should score higher: related=%f unrelated=%f", Cosine(a, b), Cosine(a, c))
	}

	var norm float64
	for _, v := range a {
		norm += float64(v) * float64(v)
	}
	if math.Abs(norm-1) > 1e-4 {
		t.Errorf("norm = %f, want 1", norm)
	}

	empty, _ := embed(ctx, "   ")
	if empty[0] != 1 {
		t.Errorf("empty text embedding = %v, want unit vector", empty[:3])
	}
}

func TestCached(t *testing.T) {
	t.Parallel()

	calls := 0
	f, err := Cached(func(_ context.Context, text string) ([]float32, error) {
		calls++
		return []float32{float32(len(text))}, nil
	}, 8)
	if err != nil {
		t.Fatalf("Cached() error = %v", err)
	}

	ctx := context.Background()
	_, _ = f(ctx, "abc")
	v, _ := f(ctx, "abc")
	if calls != 1 || v[0] != 3 {
		t.Errorf("calls = %d, v = %v", calls, v)
	}

	if _, err := Cached(f, 0); err == nil {
		t.Error("Cached() with size 0 should fail")
	}
}

func TestCosine(t *testing.T) {
	t.Parallel()

	if got := Cosine([]float32{1, 0}, []float32{1, 0}); got != 1 {
		t.Errorf("Cosine(same) = %f, want 1", got)
	}
	if got := Cosine([]float32{1, 0}, []float32{0, 1}); got != 0 {
		t.Errorf("Cosine(orthogonal) = %f, want 0", got)
	}
	if got := Cosine([]float32{1}, []float32{1, 0}); got != 0 {
		t.Errorf("Cosine(mismatch) = %f, want 0", got)
	}
}
