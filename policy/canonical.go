package policy

import (
	"fmt"

	"github.com/bytedance/sonic"
)

// canonicalForm fixes field order for the encoder; map keys are sorted by
// sonic.ConfigStd.
type canonicalForm struct {
	Functions             List                      `json:"functions"`
	Constants             List                      `json:"constants"`
	SuperGlobals          List                      `json:"superglobals"`
	MagicConstants        List                      `json:"magic_constants"`
	DefinedConstants      map[string]any            `json:"defined_constants"`
	DefinedMagicConstants map[string]any            `json:"defined_magic_constants"`
	DefinedSuperGlobals   map[string]map[string]any `json:"defined_superglobals"`
	Flags                 Flags                     `json:"flags"`
}

// Canonical returns an order-stable encoding of the policy. List patterns
// are sorted and de-duplicated, so policies that allow the same names in a
// different order encode identically. Function definitions are not part of
// the encoding.
func (p *Policy) Canonical() ([]byte, error) {
	form := canonicalForm{
		Functions:             p.Functions.canonical(),
		Constants:             p.Constants.canonical(),
		SuperGlobals:          p.SuperGlobals.canonical(),
		MagicConstants:        p.MagicConstants.canonical(),
		DefinedConstants:      nonNil(p.DefinedConstants),
		DefinedMagicConstants: nonNil(p.DefinedMagicConstants),
		DefinedSuperGlobals:   p.DefinedSuperGlobals,
		Flags:                 p.Flags,
	}
	if form.DefinedSuperGlobals == nil {
		form.DefinedSuperGlobals = map[string]map[string]any{}
	}
	data, err := sonic.ConfigStd.Marshal(form)
	if err != nil {
		return nil, fmt.Errorf("%w: encode policy: %v", ErrConfiguration, err)
	}
	return data, nil
}

func nonNil(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
