// Package render turns named infrastructure templates into resource sets.
package render

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"
	"text/template"

	"github.com/Masterminds/sprig/v3"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	k8syaml "k8s.io/apimachinery/pkg/util/yaml"
	"sigs.k8s.io/yaml"

	"github.com/aykay76/msginfra/pkg/infra"
)

const templateSuffix = ".yaml"

// ErrUnknownTemplate is returned when no template file matches the name.
var ErrUnknownTemplate = errors.New("unknown template")

// TemplateRenderer renders <name>.yaml templates from a file system with
// text/template and the sprig function library. Referencing a parameter
// that was not supplied is an error.
type TemplateRenderer struct {
	fsys fs.FS
}

// NewTemplateRenderer returns a renderer reading templates from fsys.
func NewTemplateRenderer(fsys fs.FS) *TemplateRenderer {
	return &TemplateRenderer{fsys: fsys}
}

// NewDirRenderer returns a renderer reading templates from dir.
func NewDirRenderer(dir string) *TemplateRenderer {
	return NewTemplateRenderer(os.DirFS(dir))
}

// Names lists the available template names.
func (r *TemplateRenderer) Names() ([]string, error) {
	matches, err := fs.Glob(r.fsys, "*"+templateSuffix)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		names = append(names, strings.TrimSuffix(path.Base(m), templateSuffix))
	}
	sort.Strings(names)
	return names, nil
}

// Render executes the named template with params and decodes the output.
func (r *TemplateRenderer) Render(name string, params map[string]string) (infra.ResourceSet, error) {
	fail := func(err error) (infra.ResourceSet, error) {
		return nil, &infra.TemplateError{Template: name, Err: err}
	}

	if name == "" || strings.ContainsAny(name, `/\`) {
		return fail(fmt.Errorf("%w: invalid name", ErrUnknownTemplate))
	}
	src, err := fs.ReadFile(r.fsys, name+templateSuffix)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fail(ErrUnknownTemplate)
		}
		return fail(err)
	}

	tmpl, err := template.New(name).
		Option("missingkey=error").
		Funcs(sprig.TxtFuncMap()).
		Parse(string(src))
	if err != nil {
		return fail(err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, params); err != nil {
		return fail(err)
	}

	set, err := Decode(buf.Bytes())
	if err != nil {
		return fail(err)
	}
	for _, obj := range set {
		if _, err := infra.KindOf(obj); err != nil {
			return fail(fmt.Errorf("%s %q: %w", obj.GetKind(), obj.GetName(), err))
		}
	}
	return set, nil
}

// Decode splits a multi-document YAML stream into objects. Empty documents
// are skipped and List documents are flattened into their items.
func Decode(data []byte) (infra.ResourceSet, error) {
	reader := k8syaml.NewYAMLReader(bufio.NewReader(bytes.NewReader(data)))

	var set infra.ResourceSet
	for i := 0; ; i++ {
		doc, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read document %d: %w", i, err)
		}
		if len(bytes.TrimSpace(doc)) == 0 {
			continue
		}

		js, err := yaml.YAMLToJSON(doc)
		if err != nil {
			return nil, fmt.Errorf("document %d: %w", i, err)
		}
		if bytes.Equal(bytes.TrimSpace(js), []byte("null")) {
			continue
		}

		obj := &unstructured.Unstructured{}
		if err := obj.UnmarshalJSON(js); err != nil {
			return nil, fmt.Errorf("document %d: %w", i, err)
		}
		if !obj.IsList() {
			set = append(set, obj)
			continue
		}
		err = obj.EachListItem(func(item runtime.Object) error {
			u, ok := item.(*unstructured.Unstructured)
			if !ok {
				return fmt.Errorf("unexpected list item %T", item)
			}
			set = append(set, u)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("document %d: %w", i, err)
		}
	}
	return set, nil
}
