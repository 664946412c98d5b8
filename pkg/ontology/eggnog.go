package ontology

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

const eggnogBase = "http://eggnogapi.embl.de"

const clusterCacheSize = 1024

// Eggnog resolves an eggNOG cluster to the species carrying its members.
type Eggnog struct {
	base    string
	hc      *http.Client
	species *lru.Cache[string, []string]
}

type EggnogOption func(*Eggnog)

// WithEggnogBase overrides the API endpoint, used by tests.
func WithEggnogBase(base string) EggnogOption {
	return func(e *Eggnog) { e.base = strings.TrimRight(base, "/") }
}

func WithEggnogClient(hc *http.Client) EggnogOption {
	return func(e *Eggnog) { e.hc = hc }
}

func NewEggnog(opts ...EggnogOption) *Eggnog {
	species, _ := lru.New[string, []string](clusterCacheSize)
	e := &Eggnog{
		base:    eggnogBase,
		hc:      &http.Client{Timeout: 60 * time.Second},
		species: species,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SpeciesForCluster returns the sorted, deduplicated species list for one
// seed ortholog. The seed's leading taxid (everything up to the first '.')
// is stripped and the remainder upcased before the search.
func (e *Eggnog) SpeciesForCluster(ctx context.Context, cluster string) ([]string, error) {

	if _, after, found := strings.Cut(cluster, "."); found {
		cluster = after
	}
	cluster = strings.ToUpper(cluster)

	if species, ok := e.species.Get(cluster); ok {
		return species, nil
	}

	nogname, err := e.findNogname(ctx, cluster)
	if err != nil {
		return nil, err
	}

	species, err := e.memberSpecies(ctx, cluster, nogname)
	if err != nil {
		return nil, err
	}

	e.species.Add(cluster, species)
	return species, nil
}

func (e *Eggnog) findNogname(ctx context.Context, cluster string) (string, error) {

	form := url.Values{
		"desc":           {""},
		"seqid":          {"*@" + cluster},
		"target_species": {""},
		"level":          {""},
		"nognames":       {""},
		"page":           {"0"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		e.base+"/meta_search", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := e.hc.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("could not fetch data for %s: %s", cluster, resp.Status)
	}

	var result struct {
		Matches []struct {
			Nogname string `json:"nogname"`
		} `json:"matches"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("meta_search for %s: %w", cluster, err)
	}
	if len(result.Matches) == 0 {
		return "", fmt.Errorf("no eggNOG matches for %s", cluster)
	}

	return result.Matches[0].Nogname, nil
}

func (e *Eggnog) memberSpecies(ctx context.Context, cluster, nogname string) ([]string, error) {

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		e.base+"/nog_data/json/extended_members/"+nogname, nil)
	if err != nil {
		return nil, err
	}

	resp, err := e.hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("extended members for %s: %s", nogname, resp.Status)
	}

	var data struct {
		Members map[string][]json.RawMessage `json:"members"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, fmt.Errorf("returned data is formatted unexpectedly (%s): %w", cluster, err)
	}
	if data.Members == nil {
		return nil, fmt.Errorf("returned data is formatted unexpectedly (%s)", cluster)
	}

	// The first element of each member record names the species.
	seen := make(map[string]bool)
	for id, member := range data.Members {
		if len(member) == 0 {
			return nil, fmt.Errorf("member %s of %s has no fields", id, nogname)
		}
		var name string
		if err := json.Unmarshal(member[0], &name); err != nil {
			return nil, fmt.Errorf("member %s of %s: %w", id, nogname, err)
		}
		seen[name] = true
	}

	species := make([]string, 0, len(seen))
	for name := range seen {
		species = append(species, name)
	}
	sort.Strings(species)
	return species, nil
}
