package identity

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/janekbaraniewski/reqwatch/internal/core"
)

type fakePage struct {
	location string
	html     string
	embedded string

	locationErr error
	htmlErr     error
	evalErr     error
}

func (f *fakePage) Location(context.Context) (string, error) {
	return f.location, f.locationErr
}

func (f *fakePage) HTML(context.Context) (string, error) {
	return f.html, f.htmlErr
}

func (f *fakePage) Evaluate(_ context.Context, _ string, out any) error {
	if f.evalErr != nil {
		return f.evalErr
	}
	if s, ok := out.(*string); ok {
		*s = f.embedded
	}
	return nil
}

func TestQueryParamStrategy(t *testing.T) {
	page := &fakePage{location: "https://github.com/settings/billing?customer_id=4821337&period=3"}
	s := &QueryParamStrategy{Page: page}

	id, err := s.Resolve(context.Background())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if id != 4821337 {
		t.Errorf("id = %d, want 4821337", id)
	}
}

func TestQueryParamStrategyMissingParam(t *testing.T) {
	page := &fakePage{location: "https://github.com/settings/billing"}
	s := &QueryParamStrategy{Page: page}

	if _, err := s.Resolve(context.Background()); core.KindOf(err) != core.KindIdentityNotFound {
		t.Errorf("want IdentityNotFound, got %v", err)
	}
}

func TestAPIUserStrategy(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v3/user", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"login":"octocat","id":4821337}`))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	prevBase := githubAPIBase
	githubAPIBase = server.URL
	defer func() { githubAPIBase = prevBase }()

	s := &APIUserStrategy{Client: server.Client()}
	id, err := s.Resolve(context.Background())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if id != 4821337 {
		t.Errorf("id = %d, want 4821337", id)
	}
}

func TestAPIUserStrategyNonOK(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	}))
	defer server.Close()

	prevBase := githubAPIBase
	githubAPIBase = server.URL
	defer func() { githubAPIBase = prevBase }()

	s := &APIUserStrategy{Client: server.Client()}
	if _, err := s.Resolve(context.Background()); core.KindOf(err) != core.KindNetwork {
		t.Errorf("want NetworkError, got %v", err)
	}
}

func TestEmbeddedDataStrategy(t *testing.T) {
	page := &fakePage{embedded: `{"payload":{"customer":{"customerId":4821337,"displayId":"C-4821337"}}}`}
	s := &EmbeddedDataStrategy{Page: page}

	id, err := s.Resolve(context.Background())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if id != 4821337 {
		t.Errorf("id = %d, want 4821337", id)
	}
}

func TestEmbeddedDataStrategyMalformedBlob(t *testing.T) {
	page := &fakePage{embedded: `{"payload": oops`}
	s := &EmbeddedDataStrategy{Page: page}

	if _, err := s.Resolve(context.Background()); core.KindOf(err) != core.KindParse {
		t.Errorf("want ParseError, got %v", err)
	}
}

func TestMarkupScanStrategyVariants(t *testing.T) {
	cases := []struct {
		name string
		html string
	}{
		{"plain_json", `<script>{"customerId":4821337}</script>`},
		{"entity_escaped", `<div data-blob="{&quot;customerId&quot;:4821337}">`},
		{"query_string", `<a href="/settings/billing/usage?customer_id=4821337&period=3">usage</a>`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := &MarkupScanStrategy{Page: &fakePage{html: tc.html}}
			id, err := s.Resolve(context.Background())
			if err != nil {
				t.Fatalf("Resolve: %v", err)
			}
			if id != 4821337 {
				t.Errorf("id = %d, want 4821337", id)
			}
		})
	}
}

// failingStrategy always errors; used to disable earlier chain links.
type failingStrategy struct{ name string }

func (f *failingStrategy) Name() string { return f.name }
func (f *failingStrategy) Resolve(context.Context) (int64, error) {
	return 0, errors.New("disabled")
}

type fixedStrategy struct {
	id    int64
	calls int
}

func (f *fixedStrategy) Name() string { return "fixed" }
func (f *fixedStrategy) Resolve(context.Context) (int64, error) {
	f.calls++
	return f.id, nil
}

func TestResolverFallsThroughDisabledStrategies(t *testing.T) {
	// Whichever prefix of the chain is knocked out, the resolved id is the
	// same as long as one surface still carries it.
	for disabled := 0; disabled <= 3; disabled++ {
		var strategies []Strategy
		for i := 0; i < disabled; i++ {
			strategies = append(strategies, &failingStrategy{name: "off"})
		}
		strategies = append(strategies, &fixedStrategy{id: 4821337})

		r := NewResolver(strategies...)
		id, err := r.Resolve(context.Background())
		if err != nil {
			t.Fatalf("disabled=%d Resolve: %v", disabled, err)
		}
		if id != 4821337 {
			t.Errorf("disabled=%d id = %d, want 4821337", disabled, id)
		}
	}
}

func TestResolverMemoizesFirstSuccess(t *testing.T) {
	fixed := &fixedStrategy{id: 99}
	r := NewResolver(fixed)

	for i := 0; i < 3; i++ {
		if _, err := r.Resolve(context.Background()); err != nil {
			t.Fatalf("Resolve #%d: %v", i, err)
		}
	}
	if fixed.calls != 1 {
		t.Errorf("strategy calls = %d, want 1 (memoized)", fixed.calls)
	}

	r.Reset()
	if _, err := r.Resolve(context.Background()); err != nil {
		t.Fatalf("Resolve after reset: %v", err)
	}
	if fixed.calls != 2 {
		t.Errorf("strategy calls after reset = %d, want 2", fixed.calls)
	}
}

func TestResolverExhaustedYieldsIdentityNotFound(t *testing.T) {
	r := NewResolver(&failingStrategy{name: "a"}, &failingStrategy{name: "b"})
	_, err := r.Resolve(context.Background())
	if core.KindOf(err) != core.KindIdentityNotFound {
		t.Errorf("want IdentityNotFound, got %v", err)
	}
}
