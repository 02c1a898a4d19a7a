package convert

import (
	"testing"

	"github.com/anvilml/graph-anvil/anvil"
	"github.com/anvilml/graph-anvil/graphdef"
	"github.com/anvilml/graph-anvil/status"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/require"
)

// doublePlugin is a custom layer that claims twice the trailing axis.
type doublePlugin struct {
	attrs        map[string][]float32
	panicInAttrs bool
	panicInDims  bool
}

func (p *doublePlugin) Name() string { return "double" }

func (p *doublePlugin) SetAttribute(key string, value []float32) bool {
	if p.panicInAttrs {
		panic("bad attribute")
	}
	if key == "ignored" {
		return false
	}
	p.attrs[key] = value
	return true
}

func (p *doublePlugin) OutputDims(inputs []anvil.Dims) []anvil.Dims {
	if p.panicInDims {
		panic("bad shape")
	}
	out := inputs[0]
	out.Sizes[out.Rank-1] *= 2
	return []anvil.Dims{out}
}

type testFactory struct {
	plugin *doublePlugin
}

func (f *testFactory) HasPlugin(op string) bool { return op == "Double" }

func (f *testFactory) CreatePlugin(op string) anvil.Plugin { return f.plugin }

func TestConvertNodeThroughPlugin(t *testing.T) {
	factory := &testFactory{plugin: &doublePlugin{attrs: make(map[string][]float32)}}
	backend := newTestConverter(t).Network()
	c := NewConverter(backend, false, factory)
	require.NoError(t, c.AddInputTensor("x", anvil.Float, anvil.MakeDims(3, 4), 2))

	node := &graphdef.NodeDef{Name: "d", Op: "Double", Input: []string{"x"},
		Attrs: map[string]*graphdef.AttrValue{
			"alpha":   graphdef.FloatsAttr(1, 2),
			"beta":    graphdef.FloatAttr(3),
			"ignored": graphdef.FloatAttr(4),
			"label":   graphdef.StringAttr("skipped"),
		}}
	require.NoError(t, c.ConvertNode(node))

	out := must.M1(c.GetTensorOrWeights("d"))
	require.Equal(t, []int{3, 8}, out.Dims().Slice())

	// Float-convertible attributes arrive; a single float is a 1-list.
	require.Equal(t, []float32{1, 2}, factory.plugin.attrs["alpha"])
	require.Equal(t, []float32{3}, factory.plugin.attrs["beta"])
	require.NotContains(t, factory.plugin.attrs, "label")
	require.NotContains(t, factory.plugin.attrs, "ignored")
}

// Plugins panic with arbitrary values, not only errors; every call into
// plugin code has to come back as an error, including the output-shape
// callback the network makes while adding the layer.
func TestConvertNodeThroughPluginConfinesPanics(t *testing.T) {
	for name, plugin := range map[string]*doublePlugin{
		"SetAttribute": {panicInAttrs: true},
		"OutputDims":   {attrs: make(map[string][]float32), panicInDims: true},
	} {
		t.Run(name, func(t *testing.T) {
			factory := &testFactory{plugin: plugin}
			network := newTestConverter(t).Network()
			c := NewConverter(network, false, factory)
			require.NoError(t, c.AddInputTensor("x", anvil.Float, anvil.MakeDims(3, 4), 2))

			node := &graphdef.NodeDef{Name: "d", Op: "Double", Input: []string{"x"},
				Attrs: map[string]*graphdef.AttrValue{"alpha": graphdef.FloatAttr(1)}}
			err := c.ConvertNode(node)
			require.Equal(t, status.Internal, status.Code(err))
		})
	}
}

func TestPluginRejectsWeightInputs(t *testing.T) {
	factory := &testFactory{plugin: &doublePlugin{attrs: make(map[string][]float32)}}
	network := newTestConverter(t).Network()
	c := NewConverter(network, false, factory)

	weights := floatWeights(c.WeightStore(), anvil.MakeDims(2), 1, 2)
	require.NoError(t, c.AddTensorOrWeights("w", WeightsValue(weights)))

	node := &graphdef.NodeDef{Name: "d", Op: "Double", Input: []string{"w"}}
	err := c.ConvertNode(node)
	require.Equal(t, status.Unimplemented, status.Code(err))
}
