package runtime

import (
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
)

// extToLanguage maps generated-file extensions to canonical language names.
var extToLanguage = map[string]string{
	".py":  "python",
	".js":  "javascript",
	".mjs": "javascript",
}

var (
	langToGrammar map[string]*sitter.Language
	grammarsOnce  sync.Once
)

func initGrammars() {
	grammarsOnce.Do(func() {
		langToGrammar = map[string]*sitter.Language{
			"python":     python.GetLanguage(),
			"javascript": javascript.GetLanguage(),
		}
	})
}

// LanguageForTarget returns the host language of a generated file
// extension such as ".py". Returns ("", false) for unknown extensions.
func LanguageForTarget(ext string) (string, bool) {
	lang, ok := extToLanguage[strings.ToLower(ext)]
	return lang, ok
}

// ParserForLanguage returns the tree-sitter Language for a canonical
// language name.
func ParserForLanguage(lang string) (*sitter.Language, bool) {
	initGrammars()
	l, ok := langToGrammar[lang]
	return l, ok
}
