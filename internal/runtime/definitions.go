package runtime

import (
	"context"
	"fmt"
	"sort"

	sitter "github.com/smacker/go-tree-sitter"
)

// DefKind is the kind of host-language definition tracked for built-ins.
type DefKind string

const (
	DefClass    DefKind = "class"
	DefFunction DefKind = "def"
)

// Definition is a class or function header found in a source file.
type Definition struct {
	Kind DefKind
	Name string
	Line int // 1-based
}

// nodeKinds maps tree-sitter node types to definition kinds per language.
var nodeKinds = map[string]map[string]DefKind{
	"python": {
		"class_definition":    DefClass,
		"function_definition": DefFunction,
	},
	"javascript": {
		"class_declaration":              DefClass,
		"function_declaration":           DefFunction,
		"generator_function_declaration": DefFunction,
		"method_definition":              DefFunction,
	},
}

// Definitions parses src with the grammar for lang and returns its class
// and function definitions in line order. Parsing is error tolerant:
// substitution markers make the source invalid, but headers are still found.
func Definitions(ctx context.Context, src []byte, lang string) ([]Definition, error) {
	grammar, ok := ParserForLanguage(lang)
	if !ok {
		return nil, fmt.Errorf("runtime: unsupported language %q", lang)
	}
	kinds := nodeKinds[lang]

	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(grammar)

	tree, err := parser.ParseCtx(ctx, nil, src)
	if err != nil {
		return nil, fmt.Errorf("runtime: tree-sitter parse failed: %w", err)
	}
	defer tree.Close()

	var defs []Definition
	stack := []*sitter.Node{tree.RootNode()}
	for len(stack) > 0 {
		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if kind, ok := kinds[node.Type()]; ok {
			if name := node.ChildByFieldName("name"); name != nil {
				defs = append(defs, Definition{
					Kind: kind,
					Name: name.Content(src),
					Line: int(node.StartPoint().Row) + 1,
				})
			}
		}
		for i := int(node.NamedChildCount()) - 1; i >= 0; i-- {
			stack = append(stack, node.NamedChild(i))
		}
	}
	sort.SliceStable(defs, func(i, j int) bool { return defs[i].Line < defs[j].Line })
	return defs, nil
}
