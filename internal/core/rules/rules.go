// Package rules loads the keyword dictionary driving rule-based
// classification. The rule set is loaded once at startup, validated, and
// immutable afterwards, so a single value can be shared across workers.
package rules

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Modality is a sub-pattern of a category with its own trigger phrases. A
// modality hit refines a coarse category match into a subtype.
type Modality struct {
	Nombre    string   `json:"nombre"`
	Criterios []string `json:"criterios"`
}

// Category is one entry of the dictionary: a primary label plus zero or more
// modalities.
type Category struct {
	Calificacion string     `json:"calificacion"`
	BaseLegal    string     `json:"base_legal"`
	Modalidades  []Modality `json:"modalidades"`

	// Precomputed lowercase keywords: the full label first, then each of
	// its words. Populated at load time.
	keywords []string
}

// Keywords returns the lowercase match terms for the category label.
func (c *Category) Keywords() []string {
	return c.keywords
}

// RuleSet is the loaded dictionary. Category order is the file's declaration
// order; score ties are broken by that order.
type RuleSet struct {
	Categories []Category
}

type dictionary struct {
	Delitos []Category `json:"delitos"`
}

// Load reads and validates the JSON dictionary at path. Any structural
// problem is a fatal startup error, never a per-row error.
func Load(path string) (*RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rule dictionary: %w", err)
	}
	return Parse(data)
}

// Parse builds a rule set from raw dictionary JSON.
func Parse(data []byte) (*RuleSet, error) {
	var dict dictionary
	if err := json.Unmarshal(data, &dict); err != nil {
		return nil, fmt.Errorf("failed to parse rule dictionary: %w", err)
	}
	if len(dict.Delitos) == 0 {
		return nil, fmt.Errorf("rule dictionary has no categories")
	}

	rs := &RuleSet{Categories: dict.Delitos}
	for i := range rs.Categories {
		c := &rs.Categories[i]
		if strings.TrimSpace(c.Calificacion) == "" {
			return nil, fmt.Errorf("category %d has no calificacion", i)
		}
		label := strings.ToLower(c.Calificacion)
		c.keywords = append([]string{label}, strings.Fields(label)...)

		for j, m := range c.Modalidades {
			if strings.TrimSpace(m.Nombre) == "" {
				return nil, fmt.Errorf("category %q: modality %d has no nombre", c.Calificacion, j)
			}
		}
	}
	return rs, nil
}
