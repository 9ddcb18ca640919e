package analyzer

import (
	"go/ast"
	"go/parser"
	"go/token"
	"regexp"
	"strings"
)

// Symbol is a declaration found in a code sample.
type Symbol struct {
	Name      string
	Kind      string
	Signature string
	Line      int
}

// SymbolExtractor lists the declarations of a code sample so long blocks can
// be replaced by a short searchable summary.
type SymbolExtractor struct{}

func NewSymbolExtractor() *SymbolExtractor {
	return &SymbolExtractor{}
}

// Extract parses Go with go/parser and falls back to declaration-line
// patterns for everything else, including Go fragments that do not parse.
func (e *SymbolExtractor) Extract(content, lang string) []Symbol {
	switch strings.ToLower(lang) {
	case "go", "golang":
		if syms, err := e.extractGoSymbols(content); err == nil {
			return syms
		}
	}
	return e.extractSimpleSymbols(content, lang)
}

func (e *SymbolExtractor) extractGoSymbols(content string) ([]Symbol, error) {
	offset := 0
	if !strings.HasPrefix(strings.TrimSpace(content), "package ") {
		content = "package sample\n" + content
		offset = 1
	}

	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, "", content, parser.SkipObjectResolution)
	if err != nil {
		return nil, err
	}

	var symbols []Symbol
	for _, decl := range file.Decls {
		switch d := decl.(type) {
		case *ast.FuncDecl:
			sym := Symbol{Name: d.Name.Name, Kind: "function", Line: fset.Position(d.Pos()).Line - offset}
			recv := ""
			if d.Recv != nil && len(d.Recv.List) > 0 {
				recv = formatReceiver(d.Recv.List[0].Type)
				sym.Kind = "method"
				sym.Name = strings.TrimPrefix(recv, "*") + "." + d.Name.Name
			}
			sym.Signature = formatFuncSignature(d, recv)
			symbols = append(symbols, sym)

		case *ast.GenDecl:
			for _, spec := range d.Specs {
				switch s := spec.(type) {
				case *ast.TypeSpec:
					kind := "type"
					switch s.Type.(type) {
					case *ast.StructType:
						kind = "struct"
					case *ast.InterfaceType:
						kind = "interface"
					}
					symbols = append(symbols, Symbol{
						Name:      s.Name.Name,
						Kind:      kind,
						Signature: kind + " " + s.Name.Name,
						Line:      fset.Position(s.Pos()).Line - offset,
					})
				case *ast.ValueSpec:
					kind := "variable"
					if d.Tok == token.CONST {
						kind = "constant"
					}
					for _, name := range s.Names {
						if name.Name == "_" {
							continue
						}
						symbols = append(symbols, Symbol{
							Name:      name.Name,
							Kind:      kind,
							Signature: d.Tok.String() + " " + name.Name,
							Line:      fset.Position(name.Pos()).Line - offset,
						})
					}
				}
			}
		}
	}
	return symbols, nil
}

type symbolPattern struct {
	re   *regexp.Regexp
	kind string
}

var (
	pythonPatterns = []symbolPattern{
		{regexp.MustCompile(`^\s*(?:async\s+)?def\s+(\w+)\s*\(`), "function"},
		{regexp.MustCompile(`^\s*class\s+(\w+)`), "class"},
	}
	jsPatterns = []symbolPattern{
		{regexp.MustCompile(`^\s*(?:export\s+)?(?:async\s+)?function\s*\*?\s*(\w+)\s*\(`), "function"},
		{regexp.MustCompile(`^\s*(?:export\s+)?(?:default\s+)?class\s+(\w+)`), "class"},
		{regexp.MustCompile(`^\s*(?:export\s+)?interface\s+(\w+)`), "interface"},
		{regexp.MustCompile(`^\s*(?:export\s+)?const\s+(\w+)\s*=\s*(?:async\s*)?\(`), "function"},
	}
	javaPatterns = []symbolPattern{
		{regexp.MustCompile(`^\s*(?:(?:public|private|protected|abstract|final|static)\s+)*class\s+(\w+)`), "class"},
		{regexp.MustCompile(`^\s*(?:(?:public|private|protected)\s+)*interface\s+(\w+)`), "interface"},
		{regexp.MustCompile(`^\s*(?:(?:public|private|protected|static|final|synchronized)\s+)+[\w<>\[\],\s]+\s+(\w+)\s*\([^;]*$`), "method"},
	}
	cPatterns = []symbolPattern{
		{regexp.MustCompile(`^\s*(?:struct|class)\s+(\w+)\s*\{?\s*$`), "struct"},
		{regexp.MustCompile(`^(?:[\w\*&:<>]+\s+)+\**(\w+)\s*\([^;]*\)\s*\{?\s*$`), "function"},
	}
	rustPatterns = []symbolPattern{
		{regexp.MustCompile(`^\s*(?:pub\s+)?(?:async\s+)?fn\s+(\w+)`), "function"},
		{regexp.MustCompile(`^\s*(?:pub\s+)?(?:struct|enum|trait)\s+(\w+)`), "type"},
	}
	goPatterns = []symbolPattern{
		{regexp.MustCompile(`^func\s+(?:\([^)]*\)\s*)?(\w+)\s*\(`), "function"},
		{regexp.MustCompile(`^type\s+(\w+)`), "type"},
	}
)

func languagePatterns(lang string) []symbolPattern {
	switch strings.ToLower(lang) {
	case "python", "py", "python3":
		return pythonPatterns
	case "javascript", "js", "jsx", "typescript", "ts", "tsx":
		return jsPatterns
	case "java", "kotlin", "csharp", "cs":
		return javaPatterns
	case "c", "cpp", "c++", "cc", "h":
		return cPatterns
	case "rust", "rs":
		return rustPatterns
	case "go", "golang":
		return goPatterns
	}
	return nil
}

func (e *SymbolExtractor) extractSimpleSymbols(content, lang string) []Symbol {
	patterns := languagePatterns(lang)
	if patterns == nil {
		return nil
	}

	var symbols []Symbol
	for i, line := range strings.Split(content, "\n") {
		for _, p := range patterns {
			m := p.re.FindStringSubmatch(line)
			if m == nil {
				continue
			}
			symbols = append(symbols, Symbol{
				Name:      m[1],
				Kind:      p.kind,
				Signature: strings.TrimSuffix(strings.TrimSpace(line), "{"),
				Line:      i + 1,
			})
			break
		}
	}
	return symbols
}

func formatReceiver(expr ast.Expr) string {
	switch t := expr.(type) {
	case *ast.StarExpr:
		return "*" + formatReceiver(t.X)
	case *ast.Ident:
		return t.Name
	case *ast.IndexExpr:
		return formatReceiver(t.X)
	}
	return ""
}

func formatFuncSignature(fn *ast.FuncDecl, recvType string) string {
	var sig strings.Builder
	sig.WriteString("func ")

	if recvType != "" {
		sig.WriteString("(")
		sig.WriteString(recvType)
		sig.WriteString(") ")
	}

	sig.WriteString(fn.Name.Name)
	sig.WriteString("(")
	if fn.Type.Params != nil {
		params := make([]string, 0, len(fn.Type.Params.List))
		for _, field := range fn.Type.Params.List {
			paramType := formatType(field.Type)
			for _, name := range field.Names {
				params = append(params, name.Name+" "+paramType)
			}
			if len(field.Names) == 0 {
				params = append(params, paramType)
			}
		}
		sig.WriteString(strings.Join(params, ", "))
	}
	sig.WriteString(")")

	if fn.Type.Results != nil && len(fn.Type.Results.List) > 0 {
		results := make([]string, 0, len(fn.Type.Results.List))
		for _, field := range fn.Type.Results.List {
			results = append(results, formatType(field.Type))
		}
		sig.WriteString(" ")
		if len(results) > 1 {
			sig.WriteString("(" + strings.Join(results, ", ") + ")")
		} else {
			sig.WriteString(results[0])
		}
	}

	return sig.String()
}

func formatType(expr ast.Expr) string {
	switch t := expr.(type) {
	case *ast.Ident:
		return t.Name
	case *ast.StarExpr:
		return "*" + formatType(t.X)
	case *ast.ArrayType:
		if t.Len == nil {
			return "[]" + formatType(t.Elt)
		}
		return "[...]" + formatType(t.Elt)
	case *ast.MapType:
		return "map[" + formatType(t.Key) + "]" + formatType(t.Value)
	case *ast.SelectorExpr:
		return formatType(t.X) + "." + t.Sel.Name
	case *ast.Ellipsis:
		return "..." + formatType(t.Elt)
	case *ast.FuncType:
		return "func(...)"
	case *ast.ChanType:
		return "chan " + formatType(t.Value)
	case *ast.InterfaceType:
		return "interface{}"
	}
	return "any"
}
