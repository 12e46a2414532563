// internal/category/dictionary.go
package category

import (
	"fmt"
	"os"

	"github.com/valyala/fastjson"
)

// Unmatched is the synthetic category for records that match no real category
const Unmatched = "UNMATCHED"

// Category is one operator-defined group of module substrings
type Category struct {
	Name   string   `json:"name"`
	Tokens []string `json:"tokens"`
}

// Dictionary is an ordered mapping of category name to substring tokens.
// It is never mutated after construction, so one Dictionary can back any
// number of concurrent classifications.
type Dictionary struct {
	categories []Category
}

// NewDictionary builds a dictionary in the given order. Categories sharing a
// name are merged into the first occurrence.
func NewDictionary(categories ...Category) *Dictionary {
	d := &Dictionary{}
	index := make(map[string]int, len(categories))
	for _, c := range categories {
		tokens := append([]string(nil), c.Tokens...)
		if i, ok := index[c.Name]; ok {
			d.categories[i].Tokens = append(d.categories[i].Tokens, tokens...)
			continue
		}
		index[c.Name] = len(d.categories)
		d.categories = append(d.categories, Category{Name: c.Name, Tokens: tokens})
	}
	return d
}

// Len returns the number of categories; a nil dictionary is empty
func (d *Dictionary) Len() int {
	if d == nil {
		return 0
	}
	return len(d.categories)
}

// Categories returns a copy of the categories in declared order
func (d *Dictionary) Categories() []Category {
	if d == nil {
		return nil
	}
	out := make([]Category, len(d.categories))
	for i, c := range d.categories {
		out[i] = Category{Name: c.Name, Tokens: append([]string(nil), c.Tokens...)}
	}
	return out
}

// Names returns category names in declared order
func (d *Dictionary) Names() []string {
	if d == nil {
		return nil
	}
	names := make([]string, len(d.categories))
	for i, c := range d.categories {
		names[i] = c.Name
	}
	return names
}

// ParseDictionary reads the on-disk JSON form {"CATEGORY": ["token", ...]}.
// Object key order is kept, which encoding/json maps would lose.
func ParseDictionary(data []byte) (*Dictionary, error) {
	var p fastjson.Parser
	v, err := p.ParseBytes(data)
	if err != nil {
		return nil, fmt.Errorf("parse dictionary: %w", err)
	}
	obj, err := v.Object()
	if err != nil {
		return nil, fmt.Errorf("parse dictionary: %w", err)
	}

	var categories []Category
	var visitErr error
	obj.Visit(func(key []byte, val *fastjson.Value) {
		if visitErr != nil {
			return
		}
		items, err := val.Array()
		if err != nil {
			visitErr = fmt.Errorf("category %q: %w", key, err)
			return
		}
		c := Category{Name: string(key), Tokens: make([]string, 0, len(items))}
		for _, item := range items {
			token, err := item.StringBytes()
			if err != nil {
				visitErr = fmt.Errorf("category %q: %w", key, err)
				return
			}
			c.Tokens = append(c.Tokens, string(token))
		}
		categories = append(categories, c)
	})
	if visitErr != nil {
		return nil, fmt.Errorf("parse dictionary: %w", visitErr)
	}

	return NewDictionary(categories...), nil
}

// LoadDictionary reads a dictionary JSON file
func LoadDictionary(path string) (*Dictionary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseDictionary(data)
}

// DefaultDictionary is the built-in ESXi module grouping used when no
// dictionary file is configured.
func DefaultDictionary() *Dictionary {
	return NewDictionary(
		Category{Name: "STORAGE", Tokens: []string{
			"NMP", "ScsiPath", "Scsi", "VMFS", "LVM", "StorageDevice",
			"StorageDeviceIO", "StorageDM", "UNMAP", "UNMAP6",
		}},
		Category{Name: "NETWORK", Tokens: []string{
			"NetPort", "NetStack", "NetPkt", "NetDev", "VMXNET3",
		}},
		Category{Name: "SYSTEM", Tokens: []string{
			"SystemMem", "SystemBus", "SystemCPU", "SystemIO",
		}},
		Category{Name: "VSAN", Tokens: []string{
			"VSAN", "VSANHealth", "VSANPerf",
		}},
		Category{Name: "VM", Tokens: []string{
			"VMkernel", "VMkernelBoot", "VMkernelInit",
		}},
	)
}
