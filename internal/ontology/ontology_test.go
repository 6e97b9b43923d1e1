package ontology_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kgrag/internal/ontology"
)

const movies = `{
  "entities": [
    {"label": "Movie", "description": "A film", "attributes": [{"name": "title", "type": "string", "unique": true, "required": true}]},
    {"label": "Person", "attributes": [{"name": "name", "type": "string", "unique": true}]}
  ],
  "relations": [
    {"label": "DIRECTED", "source": {"label": "Person"}, "target": {"label": "Movie"}},
    {"label": "ACTED_IN", "source": {"label": "Person"}, "target": {"label": "Movie"}}
  ]
}`

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ontology.json")
	require.NoError(t, os.WriteFile(path, []byte(movies), 0o600))

	o, err := ontology.Load(path)
	require.NoError(t, err)
	assert.Len(t, o.Entities, 2)
	assert.True(t, o.HasEntity("Movie"))
	assert.False(t, o.HasEntity("Studio"))
	assert.True(t, o.AllowsRelation("Person", "DIRECTED", "Movie"))
	assert.False(t, o.AllowsRelation("Movie", "DIRECTED", "Person"))
}

func TestSave_RoundTrip(t *testing.T) {
	o, err := ontology.Parse([]byte(movies))
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "out.json")
	require.NoError(t, o.Save(path))

	loaded, err := ontology.Load(path)
	require.NoError(t, err)
	assert.Equal(t, o, loaded)
}

func TestLoad_Missing(t *testing.T) {
	_, err := ontology.Load(filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestParse_Invalid(t *testing.T) {
	tests := map[string]string{
		"not json":       `{`,
		"no entities":    `{"entities": []}`,
		"empty label":    `{"entities": [{"label": ""}]}`,
		"duplicate":      `{"entities": [{"label": "A"}, {"label": "A"}]}`,
		"unknown source": `{"entities": [{"label": "A"}], "relations": [{"label": "R", "source": {"label": "B"}, "target": {"label": "A"}}]}`,
		"unknown target": `{"entities": [{"label": "A"}], "relations": [{"label": "R", "source": {"label": "A"}, "target": {"label": "B"}}]}`,
		"duplicate rel":  `{"entities": [{"label": "A"}], "relations": [{"label": "R", "source": {"label": "A"}, "target": {"label": "A"}}, {"label": "R", "source": {"label": "A"}, "target": {"label": "A"}}]}`,
		"unlabelled rel": `{"entities": [{"label": "A"}], "relations": [{"source": {"label": "A"}, "target": {"label": "A"}}]}`,
	}
	for name, in := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ontology.Parse([]byte(in))
			assert.ErrorIs(t, err, ontology.ErrInvalid)
		})
	}
}

func TestPrompt(t *testing.T) {
	o, err := ontology.Parse([]byte(movies))
	require.NoError(t, err)

	p := o.Prompt()
	assert.Contains(t, p, "- Movie: A film (attributes: title)")
	assert.Contains(t, p, "(Person)-[DIRECTED]->(Movie)")
}

type fakeCompleter struct {
	out    string
	err    error
	prompt string
}

func (f *fakeCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	f.prompt = prompt
	return f.out, f.err
}

func TestDetect(t *testing.T) {
	c := &fakeCompleter{out: "```json\n" + movies + "\n```"}
	o, err := ontology.Detect(context.Background(), c, []string{"The Matrix was directed by the Wachowskis.", strings.Repeat("x", 20000)})
	require.NoError(t, err)
	assert.True(t, o.HasEntity("Person"))
	assert.Contains(t, c.prompt, "The Matrix was directed")
	assert.Less(t, len(c.prompt), 20000)
}

func TestDetect_Errors(t *testing.T) {
	_, err := ontology.Detect(context.Background(), &fakeCompleter{}, nil)
	assert.ErrorIs(t, err, ontology.ErrInvalid)

	_, err = ontology.Detect(context.Background(), &fakeCompleter{err: errors.New("quota")}, []string{"doc"})
	assert.ErrorContains(t, err, "quota")

	_, err = ontology.Detect(context.Background(), &fakeCompleter{out: "I cannot help"}, []string{"doc"})
	assert.ErrorIs(t, err, ontology.ErrInvalid)
}

func TestStripFences(t *testing.T) {
	assert.Equal(t, `{"a":1}`, ontology.StripFences("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, ontology.StripFences(" {\"a\":1} "))
}
