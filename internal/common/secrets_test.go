package common

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
)

func mapLookup(values map[string]string) LookupFunc {
	return func(name string) (string, bool) {
		v, ok := values[name]
		return v, ok
	}
}

func TestExpandSecretRefs(t *testing.T) {
	logger := arbor.NewNoOpLogger()
	lookup := mapLookup(map[string]string{"TOKEN": "abc", "HOST": "git.example.com"})

	assert.Equal(t, "abc", ExpandSecretRefs("{TOKEN}", lookup, logger))
	assert.Equal(t, "https://git.example.com/api", ExpandSecretRefs("https://{HOST}/api", lookup, logger))
	assert.Equal(t, "{MISSING}", ExpandSecretRefs("{MISSING}", lookup, logger))
	assert.Equal(t, "", ExpandSecretRefs("", lookup, logger))
	assert.Equal(t, "{not valid}", ExpandSecretRefs("{not valid}", lookup, logger))
}

func TestExpandSecretsInStruct(t *testing.T) {
	type inner struct {
		Secret string
	}
	type sample struct {
		Name    string
		Inner   inner
		Ptr     *inner
		Tags    []string
		Mapping map[string]string
		Count   int
		private string
	}

	s := &sample{
		Name:    "{NAME}",
		Inner:   inner{Secret: "{TOKEN}"},
		Ptr:     &inner{Secret: "{TOKEN}"},
		Tags:    []string{"{NAME}", "plain"},
		Mapping: map[string]string{"k": "{TOKEN}"},
		Count:   3,
		private: "{TOKEN}",
	}

	lookup := mapLookup(map[string]string{"NAME": "tracksync", "TOKEN": "abc"})
	require.NoError(t, ExpandSecretsInStruct(s, lookup, arbor.NewNoOpLogger()))

	assert.Equal(t, "tracksync", s.Name)
	assert.Equal(t, "abc", s.Inner.Secret)
	assert.Equal(t, "abc", s.Ptr.Secret)
	assert.Equal(t, []string{"tracksync", "plain"}, s.Tags)
	assert.Equal(t, "abc", s.Mapping["k"])
	assert.Equal(t, "{TOKEN}", s.private)
}

func TestExpandSecretsInStruct_RequiresPointer(t *testing.T) {
	assert.Error(t, ExpandSecretsInStruct(struct{}{}, mapLookup(nil), arbor.NewNoOpLogger()))
}
