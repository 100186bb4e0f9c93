package parse

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/phobologic/importgraph/internal/lang"
	"github.com/phobologic/importgraph/internal/model"
)

func setup(t *testing.T) func(source string) (*model.FileAnalysis, error) {
	t.Helper()
	l := lang.Languages["python"]
	if l == nil {
		t.Fatal("python language not registered")
	}
	return func(source string) (*model.FileAnalysis, error) {
		p := l.NewParser()
		return File(context.Background(), l, p, []byte(source), "test.py")
	}
}

func mustAnalyze(t *testing.T, source string) *model.FileAnalysis {
	t.Helper()
	fa, err := setup(t)(source)
	if err != nil {
		t.Fatalf("File: %v", err)
	}
	return fa
}

func TestPythonFunction(t *testing.T) {
	t.Parallel()

	fa := mustAnalyze(t, "def hello(name: str) -> None:\n    pass\n")
	if len(fa.Declarations) != 1 {
		t.Fatalf("expected 1 declaration, got %d", len(fa.Declarations))
	}
	d := fa.Declarations[0]
	if d.Name != "hello" || d.Kind != model.Function {
		t.Errorf("got %s %q, want function hello", d.Kind, d.Name)
	}
	if len(d.Scope) != 0 {
		t.Errorf("scope = %v, want empty", d.Scope)
	}
	if d.Line != 1 {
		t.Errorf("line = %d, want 1", d.Line)
	}
	if want := "def hello(name: str) -> None:\n    pass"; d.Text != want {
		t.Errorf("text = %q, want %q", d.Text, want)
	}
	if fa.Path != "test.py" || fa.Language != "python" {
		t.Errorf("path/language = %q/%q", fa.Path, fa.Language)
	}
}

func TestPythonSingleLineFunction(t *testing.T) {
	t.Parallel()

	fa := mustAnalyze(t, "def foo(): pass\nimport os\n")
	if len(fa.Declarations) != 1 || fa.Declarations[0].Text != "def foo(): pass" {
		t.Fatalf("declarations = %+v", fa.Declarations)
	}
	if !reflect.DeepEqual(fa.Imports, []string{"os"}) {
		t.Errorf("imports = %v", fa.Imports)
	}
}

func TestPythonAsyncFunction(t *testing.T) {
	t.Parallel()

	fa := mustAnalyze(t, "async def fetch(url):\n    return url\n")
	if len(fa.Declarations) != 1 {
		t.Fatalf("expected 1 declaration, got %d", len(fa.Declarations))
	}
	d := fa.Declarations[0]
	if d.Name != "fetch" || d.Kind != model.Function {
		t.Errorf("got %s %q", d.Kind, d.Name)
	}
	if want := "async def fetch(url):\n    return url"; d.Text != want {
		t.Errorf("text = %q, want %q", d.Text, want)
	}
}

func TestPythonClassAndMethod(t *testing.T) {
	t.Parallel()

	source := `class MyClass(Base):
    def my_method(self, x: int) -> str:
        if x:
            return str(x)
        else:
            return ""
`
	fa := mustAnalyze(t, source)
	if len(fa.Declarations) != 2 {
		t.Fatalf("expected 2 declarations, got %d: %+v", len(fa.Declarations), fa.Declarations)
	}

	cls, method := fa.Declarations[0], fa.Declarations[1]
	if cls.Name != "MyClass" || cls.Kind != model.Class || len(cls.Scope) != 0 {
		t.Errorf("class = %+v", cls)
	}
	if method.Name != "my_method" || method.Kind != model.Function {
		t.Errorf("method = %+v", method)
	}
	if !reflect.DeepEqual(method.Scope, []string{"MyClass"}) {
		t.Errorf("method scope = %v, want [MyClass]", method.Scope)
	}
	if method.Line != 2 {
		t.Errorf("method line = %d, want 2", method.Line)
	}

	want := "def my_method(self, x: int) -> str:\n    if x:\n        return str(x)\n    else:\n        return \"\""
	if method.Text != want {
		t.Errorf("method text = %q, want %q", method.Text, want)
	}
	if !reflect.DeepEqual(method.Path(), []string{"MyClass", "my_method"}) {
		t.Errorf("Path() = %v", method.Path())
	}
}

func TestPythonDecoratedMethod(t *testing.T) {
	t.Parallel()

	source := `class A:
    @staticmethod
    def build():
        return A()
`
	fa := mustAnalyze(t, source)
	var build *model.Declaration
	for i := range fa.Declarations {
		if fa.Declarations[i].Name == "build" {
			build = &fa.Declarations[i]
		}
	}
	if build == nil {
		t.Fatal("build not found")
	}
	if want := "@staticmethod\ndef build():\n    return A()"; build.Text != want {
		t.Errorf("text = %q, want %q", build.Text, want)
	}
	if build.Line != 3 {
		t.Errorf("line = %d, want 3", build.Line)
	}
}

func TestPythonMultilineStringKeepsIndentation(t *testing.T) {
	t.Parallel()

	source := "class A:\n    def doc(self):\n        return \"\"\"one\n        two\"\"\"\n"
	fa := mustAnalyze(t, source)
	if len(fa.Declarations) != 2 {
		t.Fatalf("expected 2 declarations, got %d", len(fa.Declarations))
	}
	want := "def doc(self):\n    return \"\"\"one\n        two\"\"\""
	if got := fa.Declarations[1].Text; got != want {
		t.Errorf("text = %q, want %q", got, want)
	}
}

func TestPythonNestedFunction(t *testing.T) {
	t.Parallel()

	source := `def outer():
    def inner():
        class Local:
            pass
        return Local
    return inner
`
	fa := mustAnalyze(t, source)
	got := make(map[string][]string)
	for _, d := range fa.Declarations {
		got[d.Name] = d.Scope
	}
	want := map[string][]string{
		"outer": nil,
		"inner": {"outer"},
		"Local": {"outer", "inner"},
	}
	if len(got) != len(want) {
		t.Fatalf("declarations = %v", got)
	}
	for name, scope := range want {
		if len(got[name]) != len(scope) || (len(scope) > 0 && !reflect.DeepEqual(got[name], scope)) {
			t.Errorf("%s scope = %v, want %v", name, got[name], scope)
		}
	}
}

func TestPythonImports(t *testing.T) {
	t.Parallel()

	source := `import os
import a.b as c
import os
from pathlib import Path
from .pkg import x as y
from . import sibling
from m import *
from __future__ import annotations
from q import (r, s)
`
	fa := mustAnalyze(t, source)
	want := []string{
		"__future__.annotations",
		"a.b",
		"m.*",
		"os",
		"pathlib.Path",
		"pkg.x",
		"q.r",
		"q.s",
		"sibling",
	}
	if !reflect.DeepEqual(fa.Imports, want) {
		t.Errorf("imports = %v\nwant      %v", fa.Imports, want)
	}
	if len(fa.Declarations) != 0 {
		t.Errorf("expected no declarations, got %d", len(fa.Declarations))
	}
}

func TestPythonNestedImport(t *testing.T) {
	t.Parallel()

	fa := mustAnalyze(t, "def f():\n    import json\n    return json\n")
	if !reflect.DeepEqual(fa.Imports, []string{"json"}) {
		t.Errorf("imports = %v, want [json]", fa.Imports)
	}
}

func TestPythonEmpty(t *testing.T) {
	t.Parallel()

	fa := mustAnalyze(t, "")
	if len(fa.Declarations) != 0 || len(fa.Imports) != 0 {
		t.Errorf("expected empty analysis, got %+v", fa)
	}
}

func TestSyntaxError(t *testing.T) {
	t.Parallel()

	_, err := setup(t)("import os\ndef foo(:\n    pass\n")
	if err == nil {
		t.Fatal("expected error for malformed source")
	}
	if !errors.Is(err, ErrSyntax) {
		t.Errorf("error %v does not wrap ErrSyntax", err)
	}
	var se *SyntaxError
	if !errors.As(err, &se) {
		t.Fatalf("error %T is not *SyntaxError", err)
	}
	if se.Path != "test.py" {
		t.Errorf("path = %q", se.Path)
	}
	if se.Line < 2 {
		t.Errorf("line = %d, want >= 2", se.Line)
	}
}

func TestInvalidUTF8(t *testing.T) {
	t.Parallel()

	l := lang.Languages["python"]
	_, err := File(context.Background(), l, l.NewParser(), []byte{'x', '=', 0xff, 0xfe}, "bad.py")
	if !errors.Is(err, ErrInvalidContent) {
		t.Errorf("err = %v, want ErrInvalidContent", err)
	}
}
