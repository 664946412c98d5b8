// Package ontology resolves functional annotation labels against the public
// KEGG and eggNOG APIs. Both clients memoize responses, so repeated lookups
// across a large gene catalog stay cheap.
package ontology

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

const keggBase = "http://rest.kegg.jp"

const keggCacheSize = 4096

// KEGG looks up the human-readable name of a KO identifier.
type KEGG struct {
	base  string
	hc    *http.Client
	names *lru.Cache[string, string]
}

type KEGGOption func(*KEGG)

// WithKEGGBase overrides the API endpoint, used by tests.
func WithKEGGBase(base string) KEGGOption {
	return func(k *KEGG) { k.base = strings.TrimRight(base, "/") }
}

func WithKEGGClient(hc *http.Client) KEGGOption {
	return func(k *KEGG) { k.hc = hc }
}

func NewKEGG(opts ...KEGGOption) *KEGG {
	names, _ := lru.New[string, string](keggCacheSize)
	k := &KEGG{
		base:  keggBase,
		hc:    &http.Client{Timeout: 30 * time.Second},
		names: names,
	}
	for _, opt := range opts {
		opt(k)
	}
	return k
}

// Name returns the descriptive name for one KO, the last tab-separated field
// of the list endpoint's response.
func (k *KEGG) Name(ctx context.Context, ko string) (string, error) {

	if name, ok := k.names.Get(ko); ok {
		return name, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, k.base+"/list/"+ko, nil)
	if err != nil {
		return "", err
	}

	resp, err := k.hc.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("KEGG list for %s: %s", ko, resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}

	fields := strings.Split(strings.TrimRight(string(body), "\n"), "\t")
	name := fields[len(fields)-1]

	k.names.Add(ko, name)
	return name, nil
}
