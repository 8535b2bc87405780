// Package embedding provides text embedding functions for the semantic stores.
package embedding

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/philippgille/chromem-go"
)

// Func embeds text into a normalized vector. It has the same shape as
// chromem.EmbeddingFunc so either can be passed where the other is expected.
type Func = chromem.EmbeddingFunc

// DefaultDimension is the dimension of the hashing embedder.
const DefaultDimension = 256

// Hashing returns a deterministic feature-hashing embedder. Each lowercased
// word and word bigram is hashed into one of dim buckets with a signed
// weight. It needs no network and gives stable similarity for shared terms.
func Hashing(dim int) Func {
	if dim <= 0 {
		dim = DefaultDimension
	}
	return func(_ context.Context, text string) ([]float32, error) {
		vec := make([]float32, dim)
		tokens := tokenize(text)
		for i, tok := range tokens {
			addFeature(vec, tok)
			if i > 0 {
				addFeature(vec, tokens[i-1]+" "+tok)
			}
		}
		return normalize(vec), nil
	}
}

func addFeature(vec []float32, feature string) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(feature))
	sum := h.Sum64()
	idx := int(sum % uint64(len(vec))) // #nosec G115 -- modulo of slice length
	if sum&(1<<63) != 0 {
		vec[idx]--
	} else {
		vec[idx]++
	}
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// normalize scales vec to unit length. A zero vector becomes a unit vector
// on the first axis so that similarity stays defined.
func normalize(vec []float32) []float32 {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		vec[0] = 1
		return vec
	}
	norm := float32(math.Sqrt(sum))
	for i := range vec {
		vec[i] /= norm
	}
	return vec
}

// OpenAI returns an embedder backed by the OpenAI embeddings API.
func OpenAI(apiKey string) Func {
	return chromem.NewEmbeddingFuncOpenAI(apiKey, chromem.EmbeddingModelOpenAI3Small)
}

// Cached memoizes f in an LRU cache of the given size.
func Cached(f Func, size int) (Func, error) {
	cache, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, fmt.Errorf("create embedding cache: %w", err)
	}
	return func(ctx context.Context, text string) ([]float32, error) {
		if v, ok := cache.Get(text); ok {
			return v, nil
		}
		v, err := f(ctx, text)
		if err != nil {
			return nil, err
		}
		cache.Add(text, v)
		return v, nil
	}, nil
}

// Cosine returns the cosine similarity of a and b, or 0 when the lengths differ.
func Cosine(a, b []float32) float32 {
	if len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}
