package verify

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"librarian/internal/config"
	"librarian/internal/slogutil"
)

func TestLoadFalseList_Formats(t *testing.T) {
	files := map[string]string{
		"list.yaml": `
statements:
  - id: no-orm
    text: The service uses an ORM.
    claim_type: architecture
  - text: main.go is generated
`,
		"list.toml": `
[[statements]]
id = "no-orm"
text = "The service uses an ORM."
claim_type = "architecture"

[[statements]]
text = "main.go is generated"
`,
		"list.json": `{"statements":[
  {"id":"no-orm","text":"The service uses an ORM.","claimType":"architecture"},
  {"text":"main.go is generated"}
]}`,
	}

	dir := t.TempDir()
	for name, content := range files {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name)
			require.NoError(t, os.WriteFile(path, []byte(content), 0644))

			list, err := LoadFalseList(path)
			require.NoError(t, err)
			assert.Equal(t, 2, list.Len())

			s, ok := list.Match("the service uses an ORM", "Architecture", nil)
			require.True(t, ok)
			assert.Equal(t, "no-orm", s.ID)

			_, ok = list.Match("the service uses an ORM", "call_graph", nil)
			assert.False(t, ok, "claim type restricts the statement")

			s, ok = list.Match("main.go is generated.", "anything", []string{"t1"})
			require.True(t, ok)
			assert.Equal(t, "fs-2", s.ID)
		})
	}
}

func TestLoadFalseList_Errors(t *testing.T) {
	dir := t.TempDir()
	_, err := LoadFalseList(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	bad := filepath.Join(dir, "list.ini")
	require.NoError(t, os.WriteFile(bad, []byte("x=1"), 0644))
	_, err = LoadFalseList(bad)
	assert.Error(t, err)

	broken := filepath.Join(dir, "list.json")
	require.NoError(t, os.WriteFile(broken, []byte("{"), 0644))
	_, err = LoadFalseList(broken)
	assert.Error(t, err)
}

func TestNew_LoadsConfiguredListRelativeToRoot(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "false.yaml"), []byte("statements:\n  - text: x is y\n"), 0644))

	cfg := config.DefaultConfig().Verification
	cfg.FalseStatementsPath = "false.yaml"
	v, err := New(memEvidence{}, &memSink{}, cfg, root, slogutil.NewDiscardLogger(), nil, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, v.falseList.Len())

	cfg.FalseStatementsPath = "nope.yaml"
	_, err = New(memEvidence{}, &memSink{}, cfg, root, slogutil.NewDiscardLogger(), nil, Options{})
	assert.Error(t, err)
}

func TestNilFalseListNeverMatches(t *testing.T) {
	var l *FalseList
	_, ok := l.Match("anything", "", nil)
	assert.False(t, ok)
	assert.Equal(t, 0, l.Len())
}
