package config

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reignhq/reign/pkg/state"
)

const twoResources = `
resources:
  - resource_id: db
    resource_type: container
    name: postgres
    agent_type: docker
    metadata:
      image: postgres:16
      replicas: 1
      protected: true
  - resource_id: api
    resource_type: container
    agent_type: docker
    depends_on: [db, db]
`

func TestParseInlineResourcesKey(t *testing.T) {
	parsed := NewManifestParser().ParseInline([]byte(twoResources), "inline")
	require.Empty(t, parsed.Errors)
	require.Len(t, parsed.Resources, 2)

	db := parsed.Resources[0]
	assert.Equal(t, "db", db.ID)
	assert.Equal(t, state.AgentDocker, db.AgentType)
	assert.Equal(t, state.StatusDeployed, db.Status)
	assert.Equal(t, state.String("postgres:16"), db.Metadata["image"])
	assert.Equal(t, state.Int(1), db.Metadata["replicas"])
	assert.Equal(t, state.Bool(true), db.Metadata["protected"])

	assert.Equal(t, []string{"db"}, parsed.Resources[1].DependsOn)
}

func TestParseInlineShapes(t *testing.T) {
	tests := map[string]struct {
		content string
		ids     []string
	}{
		"bare list": {
			content: "- {resource_id: a, resource_type: vm, agent_type: terraform}\n- {resource_id: b, resource_type: vm, agent_type: terraform}\n",
			ids:     []string{"a", "b"},
		},
		"single resource": {
			content: "resource_id: repo\nresource_type: repository\nagent_type: github\n",
			ids:     []string{"repo"},
		},
		"multiple documents": {
			content: "resource_id: a\nresource_type: ns\nagent_type: kubernetes\n---\nresource_id: b\nresource_type: ns\nagent_type: kubernetes\n",
			ids:     []string{"a", "b"},
		},
		"json": {
			content: `{"resources": [{"resource_id": "x", "resource_type": "container", "agent_type": "docker"}]}`,
			ids:     []string{"x"},
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			parsed := NewManifestParser().ParseInline([]byte(tt.content), name)
			require.Empty(t, parsed.Errors)
			assert.Equal(t, tt.ids, ids(parsed.Resources))
		})
	}
}

func TestParseInlineReportsLocations(t *testing.T) {
	content := `resources:
  - resource_id: ok
    resource_type: container
    agent_type: docker
  - resource_id: bad
    resource_type: container
    agent_type: ansible
`
	parsed := NewManifestParser().ParseInline([]byte(content), "deploy.yaml")
	require.True(t, parsed.HasErrors())
	require.Len(t, parsed.Errors, 1)

	verr := parsed.Errors[0]
	assert.Equal(t, "deploy.yaml", verr.File)
	assert.Equal(t, 5, verr.Line)
	assert.Equal(t, "resources[1]", verr.Path)
	assert.Contains(t, verr.Message, "oneof")
	assert.Equal(t, []string{"ok"}, ids(parsed.Resources))
}

func TestParseInlineDuplicateIsWarning(t *testing.T) {
	content := `
- {resource_id: a, resource_type: vm, agent_type: terraform, name: first}
- {resource_id: a, resource_type: vm, agent_type: terraform, name: second}
`
	parsed := NewManifestParser().ParseInline([]byte(content), "dup.yaml")
	assert.False(t, parsed.HasErrors())
	require.Len(t, parsed.Errors, 1)
	assert.Equal(t, SeverityWarning, parsed.Errors[0].Severity)
	require.Len(t, parsed.Resources, 1)
	assert.Equal(t, "second", parsed.Resources[0].Name)
}

func TestParseInlineRejectsNestedMetadata(t *testing.T) {
	content := "resource_id: a\nresource_type: vm\nagent_type: terraform\nmetadata:\n  tags: [x, y]\n"
	parsed := NewManifestParser().ParseInline([]byte(content), "nested.yaml")
	assert.True(t, parsed.HasErrors())
}

func TestParseDirectory(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "01-db.yaml", "resource_id: db\nresource_type: container\nagent_type: docker\n")
	writeFile(t, dir, "02-api.yml", "resource_id: api\nresource_type: container\nagent_type: docker\ndepends_on: [db]\n")
	writeFile(t, dir, "README.md", "ignored")

	resources, err := NewManifestParser().LoadResources([]string{dir})
	require.NoError(t, err)
	assert.Equal(t, []string{"db", "api"}, ids(resources))
}

func TestLoadResourcesFailsOnErrors(t *testing.T) {
	path := writeFile(t, t.TempDir(), "bad.yaml", "resource_id: a\nagent_type: docker\n")

	_, err := NewManifestParser().LoadResources([]string{path})
	require.Error(t, err)
	assert.Contains(t, err.Error(), filepath.Base(path))
}

func TestParseReader(t *testing.T) {
	parsed, err := NewManifestParser().ParseReader(strings.NewReader(twoResources), "stdin")
	require.NoError(t, err)
	assert.Len(t, parsed.Resources, 2)
}

func ids(resources []state.Resource) []string {
	out := make([]string, len(resources))
	for i, r := range resources {
		out[i] = r.ID
	}
	return out
}
