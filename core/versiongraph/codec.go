package versiongraph

import (
	"onecore/core"
	"onecore/core/object"
	"onecore/core/recipe"
	"onecore/pkg/errcode"
)

// RecipeName is the type version-nodes are persisted under: an unversioned
// object (§3) whose "kind" field discriminates the Root/Change/Merge shape.
// Version-nodes are ordinary recipe-typed objects so the rest of the system
// (store, Chum) never needs a third persistence mechanism beside "concrete
// object" and "private secret".
const RecipeName = "OneVersionNode"

const (
	fieldKind         = "kind"
	fieldPrev         = "prev"
	fieldParents      = "parents"
	fieldData         = "data"
	fieldCreationTime = "creationTime"
	fieldDepth        = "depth"
)

// Recipe returns the recipe every instance must register before persisting
// or parsing version-nodes. data references "*" so a version-node persisted
// for any versioned type round-trips through the same recipe; prev/parents
// may only reference other OneVersionNode objects.
func Recipe() *recipe.Recipe {
	return &recipe.Recipe{
		Name: RecipeName,
		Rules: []recipe.RecipeRule{
			{ItemProp: fieldKind, ItemType: recipe.ItemType{Kind: recipe.KindString}},
			{ItemProp: fieldPrev, Optional: true, ItemType: recipe.ItemType{
				Kind: recipe.KindReferenceToObj, AllowedTypes: []string{RecipeName},
			}},
			{ItemProp: fieldParents, Optional: true, ItemType: recipe.ItemType{
				Kind: recipe.KindSet,
				Element: &recipe.ItemType{
					Kind: recipe.KindReferenceToObj, AllowedTypes: []string{RecipeName},
				},
			}},
			{ItemProp: fieldData, ItemType: recipe.ItemType{
				Kind: recipe.KindReferenceToObj, AllowedTypes: []string{"*"},
			}},
			{ItemProp: fieldCreationTime, ItemType: recipe.ItemType{Kind: recipe.KindInteger}},
			{ItemProp: fieldDepth, ItemType: recipe.ItemType{Kind: recipe.KindInteger}},
		},
	}
}

// Encode renders n into the object.Object shape the microdata codec
// serializes. The caller hashes the result to learn n's own Hash; Encode
// never sets it.
func Encode(n *Node) *object.Object {
	obj := object.NewObject(RecipeName)
	obj.Fields[fieldKind] = object.Value{Kind: recipe.KindString, Str: string(n.Kind)}
	if !n.Prev.IsZero() {
		obj.Fields[fieldPrev] = refValue(n.Prev)
	}
	if len(n.Parents) > 0 {
		elements := make([]object.Value, len(n.Parents))
		for i, p := range n.Parents {
			elements[i] = refValue(p)
		}
		obj.Fields[fieldParents] = object.Value{Kind: recipe.KindSet, Elements: elements}
	}
	obj.Fields[fieldData] = refValue(n.Data)
	obj.Fields[fieldCreationTime] = object.Value{Kind: recipe.KindInteger, Int: n.CreationTime}
	obj.Fields[fieldDepth] = object.Value{Kind: recipe.KindInteger, Int: int64(n.Depth)}
	return obj
}

func refValue(h core.Hash) object.Value {
	return object.Value{Kind: recipe.KindReferenceToObj, LinkKind: core.LinkObj, Hash: h}
}

// Decode reconstructs a Node from a parsed OneVersionNode object. The
// result's Hash field is left zero; callers that parsed obj off a known
// store key should set it themselves.
func Decode(obj *object.Object) (*Node, error) {
	if obj.Type != RecipeName {
		return nil, errcode.New(errcode.TypeMismatch, "object is not a version-node").WithDetail("type", obj.Type)
	}
	kindVal, ok := obj.Fields[fieldKind]
	if !ok {
		return nil, errcode.New(errcode.MalformedMicrodata, "version-node missing kind field")
	}
	n := &Node{Kind: Kind(kindVal.Str)}
	if v, ok := obj.Fields[fieldPrev]; ok {
		n.Prev = v.Hash
	}
	if v, ok := obj.Fields[fieldParents]; ok {
		n.Parents = make([]core.Hash, len(v.Elements))
		for i, e := range v.Elements {
			n.Parents[i] = e.Hash
		}
	}
	dataVal, ok := obj.Fields[fieldData]
	if !ok {
		return nil, errcode.New(errcode.MalformedMicrodata, "version-node missing data field")
	}
	n.Data = dataVal.Hash
	if v, ok := obj.Fields[fieldCreationTime]; ok {
		n.CreationTime = v.Int
	}
	if v, ok := obj.Fields[fieldDepth]; ok {
		n.Depth = int(v.Int)
	}
	return n, nil
}
