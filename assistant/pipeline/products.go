package pipeline

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// ProductRef is the reference record for one loan product: the rate and
// amount bounds a generated reply is allowed to state. Rates are monthly
// percentages, amounts are USD.
type ProductRef struct {
	Name      string   `json:"name"`
	Aliases   []string `json:"aliases"`
	MinRate   float64  `json:"min_rate"`
	MaxRate   float64  `json:"max_rate"`
	MinAmount float64  `json:"min_amount"`
	MaxAmount float64  `json:"max_amount"`
}

// productTableJSON is the shipped reference table for DaraPay loan products.
// Aliases cover English and Khmer product names as they appear in replies.
const productTableJSON = `[
  {
    "name": "express-loan",
    "aliases": ["express loan", "quick loan", "កម្ចីរហ័ស", "ឥណទានរហ័ស"],
    "min_rate": 1.5, "max_rate": 3.0,
    "min_amount": 50, "max_amount": 500
  },
  {
    "name": "moto-loan",
    "aliases": ["moto loan", "motorbike loan", "កម្ចីម៉ូតូ"],
    "min_rate": 1.3, "max_rate": 2.5,
    "min_amount": 300, "max_amount": 3000
  },
  {
    "name": "sme-loan",
    "aliases": ["sme loan", "business loan", "កម្ចីអាជីវកម្ម"],
    "min_rate": 1.0, "max_rate": 1.8,
    "min_amount": 1000, "max_amount": 20000
  },
  {
    "name": "agri-loan",
    "aliases": ["agri loan", "agriculture loan", "កម្ចីកសិកម្ម"],
    "min_rate": 0.9, "max_rate": 1.5,
    "min_amount": 500, "max_amount": 10000
  }
]`

// productTableSchema guards the reference table shape. A malformed table
// must fail the validator constructor, not silently skip numeric checks.
const productTableSchema = `{
  "type": "array",
  "minItems": 1,
  "items": {
    "type": "object",
    "required": ["name", "aliases", "min_rate", "max_rate", "min_amount", "max_amount"],
    "properties": {
      "name": {"type": "string", "minLength": 1},
      "aliases": {"type": "array", "minItems": 1, "items": {"type": "string", "minLength": 1}},
      "min_rate": {"type": "number", "minimum": 0},
      "max_rate": {"type": "number", "minimum": 0},
      "min_amount": {"type": "number", "minimum": 0},
      "max_amount": {"type": "number", "minimum": 0}
    }
  }
}`

// loadProductTable parses and schema-checks a product table. Pass nil to
// load the shipped table.
func loadProductTable(raw []byte) ([]ProductRef, error) {
	if raw == nil {
		raw = []byte(productTableJSON)
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(productTableSchema),
		gojsonschema.NewBytesLoader(raw),
	)
	if err != nil {
		return nil, fmt.Errorf("product table schema check failed: %w", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return nil, fmt.Errorf("product table invalid: %s", strings.Join(msgs, "; "))
	}

	var table []ProductRef
	if err := json.Unmarshal(raw, &table); err != nil {
		return nil, fmt.Errorf("product table parse failed: %w", err)
	}
	for i := range table {
		for j, alias := range table[i].Aliases {
			table[i].Aliases[j] = strings.ToLower(alias)
		}
	}
	return table, nil
}
