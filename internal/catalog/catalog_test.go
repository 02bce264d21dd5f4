package catalog

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errors "github.com/Proton-105/flowbot/internal/errors"
	"github.com/Proton-105/flowbot/internal/flow"
	"github.com/Proton-105/flowbot/internal/manager"
	"github.com/Proton-105/flowbot/internal/testutil"
)

const inlineBot = `token: ${FLOWBOT_TEST_TOKEN}
graph:
  nodes:
    - id: start
      type: startend
      data:
        command: /start
    - id: hello
      type: text
      data:
        text: hi
  edges:
    - source: start
      target: hello
`

const graphJSON = `{
  "nodes": [
    {"id": "start", "type": "startend", "data": {"command": "/start"}},
    {"id": "hello", "type": "text", "data": {"text": "%s"}}
  ],
  "edges": [{"source": "start", "target": "hello"}]
}`

func write(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func TestIDsListsValidDefinitions(t *testing.T) {
	dir := t.TempDir()
	write(t, filepath.Join(dir, "news.yaml"), inlineBot)
	write(t, filepath.Join(dir, "shop.yml"), inlineBot)
	write(t, filepath.Join(dir, "shop.flow.json"), "{}")
	write(t, filepath.Join(dir, "bad name.yaml"), inlineBot)
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested.yaml"), 0o750))

	ids, err := New(dir, testutil.Logger()).IDs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"news", "shop"}, ids)
}

func TestIDsOfMissingDirIsEmpty(t *testing.T) {
	ids, err := New(filepath.Join(t.TempDir(), "absent"), nil).IDs(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestDefinitionInlineGraphAndEnvToken(t *testing.T) {
	t.Setenv("FLOWBOT_TEST_TOKEN", "123:abc")
	dir := t.TempDir()
	write(t, filepath.Join(dir, "news.yaml"), inlineBot)

	def, err := New(dir, testutil.Logger()).Definition(context.Background(), "news")
	require.NoError(t, err)

	assert.Equal(t, "news", def.ID)
	assert.Equal(t, "123:abc", def.Token)
	require.NotNil(t, def.Graph)

	graph, err := flow.Compile(def.Graph)
	require.NoError(t, err)
	_, ok := graph.Node("hello")
	assert.True(t, ok)
}

func TestDefinitionGraphFile(t *testing.T) {
	dir := t.TempDir()
	write(t, filepath.Join(dir, "shop.flow.json"), fmt.Sprintf(graphJSON, "welcome"))
	write(t, filepath.Join(dir, "shop.yaml"), "token: literal\ngraph_file: shop.flow.json\n")

	c := New(dir, testutil.Logger())
	def, err := c.Definition(context.Background(), "shop")
	require.NoError(t, err)
	assert.Equal(t, "literal", def.Token)
	require.Len(t, def.Graph.Nodes, 2)

	files := c.GraphFiles(context.Background())
	abs, err := filepath.Abs(filepath.Join(dir, "shop.flow.json"))
	require.NoError(t, err)
	assert.Equal(t, []string{"shop"}, files[abs])
}

func TestDefinitionErrors(t *testing.T) {
	dir := t.TempDir()
	write(t, filepath.Join(dir, "broken.yaml"), "token: [unterminated")
	write(t, filepath.Join(dir, "lost.yaml"), "token: t\ngraph_file: nowhere.json\n")
	c := New(dir, testutil.Logger())

	_, err := c.Definition(context.Background(), "ghost")
	assert.ErrorIs(t, err, manager.ErrUnknownBot)

	_, err = c.Definition(context.Background(), "../etc/passwd")
	assert.ErrorIs(t, err, manager.ErrUnknownBot)

	_, err = c.Definition(context.Background(), "broken")
	assert.True(t, errors.IsKind(err, errors.KindConfig))

	_, err = c.Definition(context.Background(), "lost")
	assert.True(t, errors.IsKind(err, errors.KindConfig))
}

type recordingLoader struct {
	mu     sync.Mutex
	staged map[string]*flow.Document
}

func (l *recordingLoader) LoadFlowGraph(botID string, doc *flow.Document) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.staged[botID] = doc
	return nil
}

func (l *recordingLoader) get(botID string) *flow.Document {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.staged[botID]
}

func TestWatcherStagesChangedGraphFile(t *testing.T) {
	dir := t.TempDir()
	graphPath := filepath.Join(dir, "shop.flow.json")
	write(t, graphPath, fmt.Sprintf(graphJSON, "v1"))
	write(t, filepath.Join(dir, "shop.yaml"), "token: t\ngraph_file: shop.flow.json\n")

	loader := &recordingLoader{staged: make(map[string]*flow.Document)}
	w := NewWatcher(New(dir, testutil.Logger()), loader, testutil.Logger())
	w.debounce = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	require.Eventually(t, func() bool {
		_ = os.WriteFile(graphPath, []byte(fmt.Sprintf(graphJSON, "v2")), 0o600)
		return loader.get("shop") != nil
	}, 3*time.Second, 50*time.Millisecond)

	doc := loader.get("shop")
	assert.Equal(t, "v2", doc.Nodes[1].Data["text"])
}
