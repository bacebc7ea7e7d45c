package dataset

import (
	"fmt"
	"sort"
)

// AllCategories selects every category in a split.
const AllCategories = "all"

// Categories is an immutable bidirectional mapping between category codes
// (e.g. "02691156") and names (e.g. "airplane"). It is built once and
// never mutated, so it can be shared freely between goroutines.
type Categories struct {
	codeToName map[string]string
	nameToCode map[string]string
}

// NewCategories builds the mapping from a code→name table. Duplicate names
// are a configuration error.
func NewCategories(codeToName map[string]string) (*Categories, error) {
	c := &Categories{
		codeToName: make(map[string]string, len(codeToName)),
		nameToCode: make(map[string]string, len(codeToName)),
	}
	for code, name := range codeToName {
		if prev, dup := c.nameToCode[name]; dup {
			return nil, fmt.Errorf("%w: name %q bound to both %s and %s", ErrUnknownCategory, name, prev, code)
		}
		c.codeToName[code] = name
		c.nameToCode[name] = code
	}
	return c, nil
}

// Code returns the category code for a name.
func (c *Categories) Code(name string) (string, error) {
	code, ok := c.nameToCode[name]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownCategory, name)
	}
	return code, nil
}

// Name returns the category name for a code.
func (c *Categories) Name(code string) (string, bool) {
	name, ok := c.codeToName[code]
	return name, ok
}

// Names returns every category name, sorted.
func (c *Categories) Names() []string {
	names := make([]string, 0, len(c.nameToCode))
	for name := range c.nameToCode {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of categories.
func (c *Categories) Len() int { return len(c.codeToName) }
