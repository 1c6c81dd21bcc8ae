package main

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// The ledger's layering rules, checkable without building:
//
//   - internal/domain stays pure: no service, infrastructure, or
//     transport imports, and no driver packages
//   - internal/service never reaches into the transport layer
//   - pgx stays confined to internal/infrastructure/database
//   - nothing outside migrations writes UPDATE or DELETE against
//     trail_entries; the table is append-only
type Violation struct {
	File  string
	Issue string
}

var forbiddenInDomain = []string{
	"/internal/service",
	"/internal/infrastructure",
	"/internal/api",
	"github.com/jackc/pgx",
	"github.com/redis/go-redis",
	"net/http",
}

var mutationPattern = regexp.MustCompile(`(?i)(update|delete\s+from)\s+trail_entries`)

func main() {
	rootDir := "."
	if len(os.Args) > 1 {
		rootDir = os.Args[1]
	}

	var violations []Violation

	err := filepath.WalkDir(rootDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			name := d.Name()
			if name == "_examples" || name == "vendor" || name == "migrations" {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(path, ".go") {
			return nil
		}

		switch {
		case strings.Contains(path, "/internal/domain/"):
			violations = append(violations, checkImports(path, forbiddenInDomain, "domain")...)
		case strings.Contains(path, "/internal/service/"):
			violations = append(violations, checkImports(path, []string{"/internal/api"}, "service")...)
		}

		if !strings.Contains(path, "/internal/infrastructure/database/") {
			violations = append(violations, checkImports(path, []string{"github.com/jackc/pgx"}, filepath.Dir(path))...)
		}

		// Tests forge mutations on purpose to prove detection works, so
		// only production files are held to the append-only rule
		if !strings.HasSuffix(path, "_test.go") {
			violations = append(violations, checkAppendOnly(path)...)
		}

		return nil
	})
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	if len(violations) == 0 {
		fmt.Println("No layering violations found")
		return
	}

	fmt.Println("=== Layering Violations ===")
	for _, v := range violations {
		fmt.Printf("%s: %s\n", v.File, v.Issue)
	}
	os.Exit(1)
}

func checkImports(path string, forbidden []string, layer string) []Violation {
	fset := token.NewFileSet()
	node, err := parser.ParseFile(fset, path, nil, parser.ImportsOnly)
	if err != nil {
		return nil
	}

	var violations []Violation
	for _, imp := range node.Imports {
		value := strings.Trim(imp.Path.Value, `"`)
		for _, banned := range forbidden {
			if strings.Contains(value, banned) {
				violations = append(violations, Violation{
					File:  path,
					Issue: fmt.Sprintf("%s imports %s", layer, value),
				})
			}
		}
	}
	return violations
}

func checkAppendOnly(path string) []Violation {
	fset := token.NewFileSet()
	node, err := parser.ParseFile(fset, path, nil, 0)
	if err != nil {
		return nil
	}

	var violations []Violation
	ast.Inspect(node, func(n ast.Node) bool {
		lit, ok := n.(*ast.BasicLit)
		if !ok || lit.Kind != token.STRING {
			return true
		}
		if mutationPattern.MatchString(lit.Value) {
			violations = append(violations, Violation{
				File:  path,
				Issue: fmt.Sprintf("mutates trail_entries at %s", fset.Position(lit.Pos())),
			})
		}
		return true
	})
	return violations
}
