package citadel

import (
	"testing"

	"github.com/ghodss/yaml"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadSwagger(t *testing.T) {
	doc, err := LoadSwagger()
	require.NoError(t, err)
	assert.Nil(t, doc.Servers)
	for _, p := range []string{"/disks", "/partitions", "/bless", "/install", "/install/{id}", "/install/{id}/events", "/boot-partition"} {
		assert.NotNil(t, doc.Paths.Find(p), p)
	}
}

func TestOpenAPIJSON(t *testing.T) {
	data, err := yaml.YAMLToJSON(OpenAPIYAML)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"openapi":"3.0.3"`)
}
