package workflow

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/nodeflow/types"
)

func TestRegistry_Register(t *testing.T) {
	reg := NewRegistry(nil)
	node := newScriptedNode()

	require.NoError(t, reg.Register("image_gen", node.factory(), Metadata{Category: "generation", HighCost: true}))
	assert.True(t, reg.Has("image_gen"))

	meta, ok := reg.Metadata("image_gen")
	require.True(t, ok)
	assert.Equal(t, "image_gen", meta.Type)
	assert.Equal(t, "image_gen", meta.DisplayName, "display name defaults to the type")
	assert.True(t, meta.HighCost)

	err := reg.Register("image_gen", node.factory(), Metadata{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrDuplicateType))
	assert.Equal(t, types.ErrCodeDuplicateType, types.GetErrorCode(err))
}

func TestRegistry_RegisterInvalid(t *testing.T) {
	reg := NewRegistry(nil)

	err := reg.Register("", newScriptedNode().factory(), Metadata{})
	assert.Equal(t, types.ErrCodeInvalidRequest, types.GetErrorCode(err))

	err = reg.Register("x", nil, Metadata{})
	assert.Equal(t, types.ErrCodeInvalidRequest, types.GetErrorCode(err))

	assert.Panics(t, func() { reg.MustRegister("", nil, Metadata{}) })
}

func TestRegistry_LookupUnknownListsKnownTypes(t *testing.T) {
	reg := newTestRegistry(t, map[string]*scriptedNode{
		"video_gen": newScriptedNode(),
		"image_gen": newScriptedNode(),
	})

	_, err := reg.Lookup("audio_gen")
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrUnknownType))
	assert.Contains(t, err.Error(), `"audio_gen"`)
	assert.Contains(t, err.Error(), "known types: image_gen, video_gen")

	f, err := reg.Lookup("image_gen")
	require.NoError(t, err)
	assert.NotNil(t, f)
}

func TestRegistry_ListSorted(t *testing.T) {
	reg := newTestRegistry(t, map[string]*scriptedNode{
		"b": newScriptedNode(),
		"c": newScriptedNode(),
		"a": newScriptedNode(),
	})

	assert.Equal(t, []string{"a", "b", "c"}, reg.Types())
	list := reg.List()
	require.Len(t, list, 3)
	assert.Equal(t, "a", list[0].Type)
	assert.Equal(t, "c", list[2].Type)
}

func TestRegistry_InstantiateMergesDefaultParams(t *testing.T) {
	reg := NewRegistry(nil)
	var got Params
	reg.MustRegister("image_gen", func(n NodeDefinition) (NodeCapability, error) {
		got = n.Params
		return newScriptedNode(), nil
	}, Metadata{DefaultParams: Params{"width": 512.0, "height": 512.0, "model": "sd"}})

	node := slotNode("img", "image_gen", nil, nil)
	node.Params = Params{"width": 1024.0}

	_, err := reg.Instantiate(node)
	require.NoError(t, err)
	assert.Equal(t, Params{"width": 1024.0, "height": 512.0, "model": "sd"}, got)
	assert.Equal(t, Params{"width": 1024.0}, node.Params, "caller's params are untouched")

	// 默认参数本身不应被修改
	meta, _ := reg.Metadata("image_gen")
	assert.Equal(t, 512.0, meta.DefaultParams["width"])
}

func TestRegistry_InstantiateErrors(t *testing.T) {
	reg := NewRegistry(nil)
	reg.MustRegister("broken", func(NodeDefinition) (NodeCapability, error) {
		return nil, errors.New("missing api key")
	}, Metadata{})
	reg.MustRegister("nil", func(NodeDefinition) (NodeCapability, error) {
		return nil, nil
	}, Metadata{})

	_, err := reg.Instantiate(slotNode("n1", "broken", nil, nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing api key")
	assert.Contains(t, err.Error(), "n1")

	_, err = reg.Instantiate(slotNode("n2", "nil", nil, nil))
	assert.Error(t, err)

	_, err = reg.Instantiate(slotNode("n3", "nope", nil, nil))
	assert.True(t, errors.Is(err, types.ErrUnknownType))
}

func TestRegistry_ConcurrentLookup(t *testing.T) {
	reg := newTestRegistry(t, map[string]*scriptedNode{"step": newScriptedNode()})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := reg.Instantiate(slotNode("n", "step", nil, nil))
			assert.NoError(t, err)
			_ = reg.List()
		}()
	}
	wg.Wait()
}
