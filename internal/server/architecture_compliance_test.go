package server

import (
	"go/ast"
	"go/parser"
	"go/token"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"testing"
)

type registeredRoute struct {
	method  string
	path    string
	handler string
}

// Handlers must go through the save service, which owns authorization and
// key validation. Reaching a store from the transport would skip both.
func TestSaveRoutesUseServiceBoundary(t *testing.T) {
	routes := parseRegisteredRoutes(t)
	methods := parseServerMethods(t)

	saveRoutes := 0
	for _, route := range routes {
		if !strings.HasPrefix(route.path, "/saves/") {
			continue
		}
		saveRoutes++
		fn, ok := methods[route.handler]
		if !ok {
			t.Fatalf("handler %q for %s %s not found", route.handler, route.method, route.path)
		}
		if !reachesService(fn, methods, map[string]bool{}) {
			t.Fatalf("handler %q (%s %s) does not call s.saves", route.handler, route.method, route.path)
		}
	}
	if saveRoutes == 0 {
		t.Fatal("no save routes discovered")
	}
}

func TestServerDoesNotImportStorage(t *testing.T) {
	files, err := filepath.Glob(filepath.Join(serverPackageDir(t), "*.go"))
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	fset := token.NewFileSet()
	for _, path := range files {
		if strings.HasSuffix(path, "_test.go") {
			continue
		}
		file, err := parser.ParseFile(fset, path, nil, parser.ImportsOnly)
		if err != nil {
			t.Fatalf("parse %s: %v", path, err)
		}
		for _, imp := range file.Imports {
			importPath, _ := strconv.Unquote(imp.Path.Value)
			switch importPath {
			case "savesync/internal/blobstore", "savesync/internal/metastore", "savesync/internal/store":
				t.Fatalf("%s imports %s; storage belongs behind the save service", filepath.Base(path), importPath)
			}
		}
	}
}

func parseRegisteredRoutes(t *testing.T) []registeredRoute {
	t.Helper()

	routesPath := filepath.Join(serverPackageDir(t), "routes.go")
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, routesPath, nil, 0)
	if err != nil {
		t.Fatalf("parse routes.go: %v", err)
	}

	routes := make([]registeredRoute, 0)
	ast.Inspect(file, func(n ast.Node) bool {
		call, ok := n.(*ast.CallExpr)
		if !ok {
			return true
		}
		sel, ok := call.Fun.(*ast.SelectorExpr)
		if !ok || sel.Sel.Name != "HandleFunc" || len(call.Args) != 2 {
			return true
		}

		patternLit, ok := call.Args[0].(*ast.BasicLit)
		if !ok || patternLit.Kind != token.STRING {
			return true
		}
		pattern, err := strconv.Unquote(patternLit.Value)
		if err != nil {
			t.Fatalf("unquote route pattern %q: %v", patternLit.Value, err)
		}
		method, path, ok := strings.Cut(pattern, " ")
		if !ok {
			return true
		}

		handlerSel, ok := call.Args[1].(*ast.SelectorExpr)
		if !ok {
			return true
		}
		if recv, ok := handlerSel.X.(*ast.Ident); !ok || recv.Name != "s" {
			return true
		}

		routes = append(routes, registeredRoute{
			method:  strings.TrimSpace(method),
			path:    strings.TrimSpace(path),
			handler: handlerSel.Sel.Name,
		})
		return true
	})

	return routes
}

func parseServerMethods(t *testing.T) map[string]*ast.FuncDecl {
	t.Helper()

	files, err := filepath.Glob(filepath.Join(serverPackageDir(t), "handlers*.go"))
	if err != nil {
		t.Fatalf("glob handler files: %v", err)
	}

	out := make(map[string]*ast.FuncDecl)
	fset := token.NewFileSet()
	for _, filePath := range files {
		if strings.HasSuffix(filePath, "_test.go") {
			continue
		}
		file, err := parser.ParseFile(fset, filePath, nil, 0)
		if err != nil {
			t.Fatalf("parse %s: %v", filePath, err)
		}
		for _, decl := range file.Decls {
			fn, ok := decl.(*ast.FuncDecl)
			if !ok || fn.Name == nil || !isServerReceiver(fn.Recv) {
				continue
			}
			out[fn.Name.Name] = fn
		}
	}
	if len(out) == 0 {
		t.Fatal("no handler methods found")
	}
	return out
}

// reachesService reports whether fn calls s.saves.X itself or through another
// Server method.
func reachesService(fn *ast.FuncDecl, methods map[string]*ast.FuncDecl, seen map[string]bool) bool {
	if fn == nil || seen[fn.Name.Name] {
		return false
	}
	seen[fn.Name.Name] = true

	found := false
	ast.Inspect(fn.Body, func(n ast.Node) bool {
		if found {
			return false
		}
		call, ok := n.(*ast.CallExpr)
		if !ok {
			return true
		}
		selector, ok := call.Fun.(*ast.SelectorExpr)
		if !ok {
			return true
		}
		switch x := selector.X.(type) {
		case *ast.SelectorExpr:
			if recv, ok := x.X.(*ast.Ident); ok && recv.Name == "s" && x.Sel.Name == "saves" {
				found = true
			}
		case *ast.Ident:
			if x.Name == "s" && reachesService(methods[selector.Sel.Name], methods, seen) {
				found = true
			}
		}
		return true
	})
	return found
}

func isServerReceiver(recv *ast.FieldList) bool {
	if recv == nil || len(recv.List) != 1 {
		return false
	}
	star, ok := recv.List[0].Type.(*ast.StarExpr)
	if !ok {
		return false
	}
	ident, ok := star.X.(*ast.Ident)
	return ok && ident.Name == "Server"
}

func serverPackageDir(t *testing.T) string {
	t.Helper()

	_, file, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("runtime.Caller failed")
	}
	return filepath.Dir(file)
}
