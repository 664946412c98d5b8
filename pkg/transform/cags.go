package transform

import (
	"encoding/json"
	"fmt"
	"io"
)

// CAGSet is the co-abundant gene group membership map, keeping the CAGs and
// their member genes in document order.
type CAGSet struct {
	Order   []string
	Members map[string][]string
}

// Len returns the number of CAGs.
func (c *CAGSet) Len() int {
	return len(c.Order)
}

// ParseCAGs reads a JSON object mapping CAG id -> list of member gene ids.
// The document must be a dict of lists; a gene listed under two CAGs is
// rejected, since membership is treated as a function from gene to CAG.
func ParseCAGs(r io.Reader) (*CAGSet, error) {

	dec := json.NewDecoder(r)
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("CAGs must be formatted as a dict of lists: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("CAGs must be formatted as a dict of lists, got %v", tok)
	}

	cags := &CAGSet{Members: make(map[string][]string)}
	gene_to_cag := make(map[string]string)

	for dec.More() {

		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		cag_id, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected CAG key %v", tok)
		}
		if _, dup := cags.Members[cag_id]; dup {
			return nil, fmt.Errorf("CAG %s is listed twice", cag_id)
		}

		var raw_genes []json.RawMessage
		if err := dec.Decode(&raw_genes); err != nil {
			return nil, fmt.Errorf("CAG %s: members must be a list: %w", cag_id, err)
		}

		genes := make([]string, 0, len(raw_genes))
		for _, raw := range raw_genes {
			gene, err := stringToken(raw)
			if err != nil {
				return nil, fmt.Errorf("CAG %s: %w", cag_id, err)
			}
			if prev, dup := gene_to_cag[gene]; dup {
				return nil, fmt.Errorf("gene %s is a member of both %s and %s", gene, prev, cag_id)
			}
			gene_to_cag[gene] = cag_id
			genes = append(genes, gene)
		}

		cags.Order = append(cags.Order, cag_id)
		cags.Members[cag_id] = genes
	}

	// Consume the closing brace so a malformed tail still fails.
	if _, err := dec.Token(); err != nil {
		return nil, err
	}

	if len(cags.Order) == 0 {
		return nil, fmt.Errorf("no CAGs were detected")
	}

	return cags, nil
}

func stringToken(raw json.RawMessage) (string, error) {

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}

	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String(), nil
	}

	return "", fmt.Errorf("gene id %s is not a string", string(raw))
}
