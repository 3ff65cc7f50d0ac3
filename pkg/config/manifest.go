package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/reignhq/reign/pkg/state"
)

// manifestExtensions are the file types picked up when a directory is parsed.
var manifestExtensions = []string{".yaml", ".yml", ".json"}

// ManifestParser reads resource manifests. A manifest is YAML (or JSON) and
// holds either a `resources:` list, a bare list, or a single resource. Files
// may contain several YAML documents.
type ManifestParser struct {
	validator *validator.Validate
	now       func() time.Time
}

// NewManifestParser creates a new manifest parser.
func NewManifestParser() *ManifestParser {
	return &ManifestParser{
		validator: validator.New(validator.WithRequiredStructEnabled()),
		now:       time.Now,
	}
}

// Parse reads every source. Sources may be files or directories; directories
// are scanned (non-recursively) for .yaml, .yml and .json files in name order.
// Problems in the content are reported in ParsedManifest.Errors; the returned
// error is reserved for sources that cannot be read at all.
func (mp *ManifestParser) Parse(sources []string) (*ParsedManifest, error) {
	if len(sources) == 0 {
		return nil, fmt.Errorf("no sources provided")
	}

	parsed := &ParsedManifest{}
	index := make(map[string]int)

	for _, source := range sources {
		files, err := expandSource(source)
		if err != nil {
			return nil, err
		}
		for _, file := range files {
			data, err := os.ReadFile(file)
			if err != nil {
				return nil, fmt.Errorf("failed to read manifest %s: %w", file, err)
			}
			mp.parseInto(parsed, index, data, file)
			parsed.SourceFiles = append(parsed.SourceFiles, file)
		}
	}

	parsed.ParsedAt = mp.now()
	return parsed, nil
}

// ParseInline parses manifest content that did not come from a file.
func (mp *ManifestParser) ParseInline(content []byte, name string) *ParsedManifest {
	parsed := &ParsedManifest{}
	mp.parseInto(parsed, make(map[string]int), content, name)
	parsed.ParsedAt = mp.now()
	return parsed
}

// ParseReader parses a manifest from r, e.g. standard input.
func (mp *ManifestParser) ParseReader(r io.Reader, name string) (*ParsedManifest, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest %s: %w", name, err)
	}
	return mp.ParseInline(data, name), nil
}

// LoadResources parses sources and fails on the first error-severity problem.
func (mp *ManifestParser) LoadResources(sources []string) ([]state.Resource, error) {
	parsed, err := mp.Parse(sources)
	if err != nil {
		return nil, err
	}
	if parsed.HasErrors() {
		return nil, manifestError(parsed.Errors)
	}
	return parsed.Resources, nil
}

func manifestError(verrs []ValidationError) error {
	errs := make([]error, 0, len(verrs))
	for _, e := range verrs {
		if e.Severity == SeverityError {
			errs = append(errs, e)
		}
	}
	return fmt.Errorf("invalid manifest: %w", errors.Join(errs...))
}

func expandSource(source string) ([]string, error) {
	info, err := os.Stat(source)
	if err != nil {
		return nil, fmt.Errorf("failed to stat source %s: %w", source, err)
	}
	if !info.IsDir() {
		return []string{source}, nil
	}

	entries, err := os.ReadDir(source)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory %s: %w", source, err)
	}
	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if slices.Contains(manifestExtensions, strings.ToLower(filepath.Ext(entry.Name()))) {
			files = append(files, filepath.Join(source, entry.Name()))
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no manifest files found in %s", source)
	}
	return files, nil
}

func (mp *ManifestParser) parseInto(parsed *ParsedManifest, index map[string]int, data []byte, file string) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	for {
		var doc yaml.Node
		err := dec.Decode(&doc)
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			parsed.Errors = append(parsed.Errors, ValidationError{
				File:     file,
				Message:  err.Error(),
				Severity: SeverityError,
			})
			return
		}

		for i, node := range resourceNodes(&doc) {
			mp.addResource(parsed, index, node, file, i)
		}
	}
}

// resourceNodes finds the resource mappings in one YAML document.
func resourceNodes(doc *yaml.Node) []*yaml.Node {
	root := doc
	if root.Kind == yaml.DocumentNode {
		if len(root.Content) == 0 {
			return nil
		}
		root = root.Content[0]
	}

	switch root.Kind {
	case yaml.SequenceNode:
		return root.Content
	case yaml.MappingNode:
		for i := 0; i+1 < len(root.Content); i += 2 {
			if root.Content[i].Value == "resources" {
				list := root.Content[i+1]
				if list.Kind == yaml.SequenceNode {
					return list.Content
				}
				return []*yaml.Node{list}
			}
		}
		return []*yaml.Node{root}
	default:
		return []*yaml.Node{root}
	}
}

func (mp *ManifestParser) addResource(parsed *ParsedManifest, index map[string]int, node *yaml.Node, file string, i int) {
	path := fmt.Sprintf("resources[%d]", i)
	fail := func(msg string) {
		parsed.Errors = append(parsed.Errors, ValidationError{
			File:     file,
			Line:     node.Line,
			Column:   node.Column,
			Path:     path,
			Message:  msg,
			Severity: SeverityError,
		})
	}

	if node.Kind != yaml.MappingNode {
		fail("resource must be a mapping")
		return
	}

	var r state.Resource
	if err := node.Decode(&r); err != nil {
		fail(err.Error())
		return
	}
	r.Normalize()

	if err := mp.validator.Struct(&r); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				fail(fmt.Sprintf("%s failed %q", fe.Field(), fe.Tag()))
			}
			return
		}
		fail(err.Error())
		return
	}

	if pos, ok := index[r.ID]; ok {
		parsed.Errors = append(parsed.Errors, ValidationError{
			File:     file,
			Line:     node.Line,
			Column:   node.Column,
			Path:     path,
			Message:  fmt.Sprintf("resource %q defined more than once, last definition wins", r.ID),
			Severity: SeverityWarning,
		})
		parsed.Resources[pos] = r
		return
	}
	index[r.ID] = len(parsed.Resources)
	parsed.Resources = append(parsed.Resources, r)
}
