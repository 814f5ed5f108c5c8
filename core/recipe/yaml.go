package recipe

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// yamlItemType, yamlRecipeRule and yamlRecipe mirror ItemType/RecipeRule/
// Recipe for YAML fixtures: this package's own tests, and the
// `onecore recipe register --from-file` flag. Kept separate from the
// canonical model structs rather than adding yaml tags directly to them, so
// the in-process model has no serialization concerns baked in. Grounded on
// the teacher's `cmd/cli/devnet.go`, which decodes a `testnet start
// <config.yaml>` argument into its own small yaml-tagged struct rather than
// tagging `core.Config` itself.
type yamlItemType struct {
	Kind         string           `yaml:"kind"`
	Regex        string           `yaml:"regex,omitempty"`
	Min          *float64         `yaml:"min,omitempty"`
	Max          *float64         `yaml:"max,omitempty"`
	AllowedTypes []string         `yaml:"allowedTypes,omitempty"`
	MapKey       *yamlItemType    `yaml:"mapKey,omitempty"`
	MapValue     *yamlItemType    `yaml:"mapValue,omitempty"`
	Element      *yamlItemType    `yaml:"element,omitempty"`
	Rules        []yamlRecipeRule `yaml:"rules,omitempty"`
}

type yamlRecipeRule struct {
	ItemProp           string       `yaml:"itemProp"`
	IsId               bool         `yaml:"isId,omitempty"`
	Optional           bool         `yaml:"optional,omitempty"`
	ItemType           yamlItemType `yaml:"itemType"`
	InheritFrom        string       `yaml:"inheritFrom,omitempty"`
	CollectionItemType bool         `yaml:"collectionItemType,omitempty"`
	MapItemType        bool         `yaml:"mapItemType,omitempty"`
}

type yamlRecipe struct {
	Name       string            `yaml:"name"`
	Rules      []yamlRecipeRule  `yaml:"rules"`
	CrdtConfig map[string]string `yaml:"crdtConfig,omitempty"`
}

// ParseYAML decodes a single recipe definition from a YAML fixture. The
// result is not validated or inheritance-resolved; callers pass it straight
// to Registry.Register, which does both.
func ParseYAML(data []byte) (*Recipe, error) {
	var y yamlRecipe
	if err := yaml.Unmarshal(data, &y); err != nil {
		return nil, fmt.Errorf("recipe: decode yaml: %w", err)
	}
	return y.toRecipe(), nil
}

func (y yamlRecipe) toRecipe() *Recipe {
	rules := make([]RecipeRule, len(y.Rules))
	for i, r := range y.Rules {
		rules[i] = r.toRule()
	}
	return &Recipe{Name: y.Name, Rules: rules, CrdtConfig: y.CrdtConfig}
}

func (y yamlRecipeRule) toRule() RecipeRule {
	return RecipeRule{
		ItemProp:           y.ItemProp,
		IsId:               y.IsId,
		Optional:           y.Optional,
		ItemType:           y.ItemType.toItemType(),
		InheritFrom:        y.InheritFrom,
		CollectionItemType: y.CollectionItemType,
		MapItemType:        y.MapItemType,
	}
}

func (y yamlItemType) toItemType() ItemType {
	it := ItemType{
		Kind:         Kind(y.Kind),
		Regex:        y.Regex,
		Min:          y.Min,
		Max:          y.Max,
		AllowedTypes: y.AllowedTypes,
	}
	if y.MapKey != nil {
		v := y.MapKey.toItemType()
		it.MapKey = &v
	}
	if y.MapValue != nil {
		v := y.MapValue.toItemType()
		it.MapValue = &v
	}
	if y.Element != nil {
		v := y.Element.toItemType()
		it.Element = &v
	}
	if len(y.Rules) > 0 {
		it.Rules = make([]RecipeRule, len(y.Rules))
		for i, r := range y.Rules {
			it.Rules[i] = r.toRule()
		}
	}
	return it
}
