// Package noosexit reports calls that terminate the process from main.main,
// which skip deferred cleanup such as flushing the logger or closing the
// storage.
package noosexit

import (
	"go/ast"
	"go/types"
	"path/filepath"
	"strings"

	"golang.org/x/tools/go/analysis"
	"golang.org/x/tools/go/analysis/passes/inspect"
	"golang.org/x/tools/go/ast/inspector"
)

// Analyzer forbids os.Exit and the log.Fatal family inside main.main.
var Analyzer = &analysis.Analyzer{
	Name:     "noosexit",
	Doc:      "prohibits direct use of os.Exit and log.Fatal in main.main",
	Requires: []*analysis.Analyzer{inspect.Analyzer},
	Run:      run,
}

var forbidden = map[string]map[string]bool{
	"os":  {"Exit": true},
	"log": {"Fatal": true, "Fatalf": true, "Fatalln": true},
}

func run(pass *analysis.Pass) (interface{}, error) {
	if pass.Pkg.Name() != "main" {
		return nil, nil
	}

	inspect := pass.ResultOf[inspect.Analyzer].(*inspector.Inspector)
	inspect.WithStack([]ast.Node{(*ast.CallExpr)(nil)}, func(n ast.Node, push bool, stack []ast.Node) bool {
		if !push || !insideMain(stack) {
			return true
		}

		// go-build cache files are generated test mains
		if isGoBuildCacheFile(pass.Fset.File(n.Pos()).Name()) {
			return true
		}

		call := n.(*ast.CallExpr)
		if fn := calledFunc(pass, call); fn != nil {
			pass.Reportf(call.Pos(), "avoid using %s.%s in main.main", fn.Pkg().Name(), fn.Name())
		}
		return true
	})

	return nil, nil
}

func insideMain(stack []ast.Node) bool {
	for _, node := range stack {
		fn, ok := node.(*ast.FuncDecl)
		if ok && fn.Recv == nil && fn.Name.Name == "main" {
			return true
		}
	}
	return false
}

func calledFunc(pass *analysis.Pass, call *ast.CallExpr) *types.Func {
	sel, ok := call.Fun.(*ast.SelectorExpr)
	if !ok {
		return nil
	}
	fn, ok := pass.TypesInfo.Uses[sel.Sel].(*types.Func)
	if !ok || fn.Pkg() == nil {
		return nil
	}
	if !forbidden[fn.Pkg().Path()][fn.Name()] {
		return nil
	}
	return fn
}

func isGoBuildCacheFile(path string) bool {
	path = filepath.ToSlash(path)
	return strings.Contains(path, "/go-build/")
}
