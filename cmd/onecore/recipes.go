package main

import (
	"onecore/core/recipe"
	"onecore/core/versiongraph"
)

// keysRecipeName is the versioned type holding a Person/Instance's public
// encryption + sign keys (§3's "Keys" object). The matching secret material
// never appears here; it lives under internal/keychain's private-area
// files, named from this object's hash.
const keysRecipeName = "Keys"

func keysRecipe() *recipe.Recipe {
	return &recipe.Recipe{
		Name: keysRecipeName,
		Rules: []recipe.RecipeRule{
			{ItemProp: "owner", IsId: true, ItemType: recipe.ItemType{Kind: recipe.KindString}},
			{ItemProp: "encryptionKey", ItemType: recipe.ItemType{Kind: recipe.KindString}},
			{ItemProp: "signKey", ItemType: recipe.ItemType{Kind: recipe.KindString}},
		},
	}
}

// registerBuiltinRecipes wires the recipes every onecore instance needs
// regardless of the application-level types it also registers: the
// version-node shape the importer/merge coordinator persist everything
// under, and the Keys type the keychain-backed `keys` command manages.
func registerBuiltinRecipes(reg *recipe.Registry) error {
	if err := reg.Register(versiongraph.Recipe()); err != nil {
		return err
	}
	if err := reg.Register(keysRecipe()); err != nil {
		return err
	}
	return nil
}
