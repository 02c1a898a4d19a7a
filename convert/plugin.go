package convert

import (
	"github.com/anvilml/graph-anvil/anvil"
	"github.com/anvilml/graph-anvil/status"
	"github.com/gomlx/exceptions"
	"k8s.io/klog/v2"
)

// PluginFactory supplies custom accelerator operators for ops the built-in
// registry does not cover. Implementations are consulted before the built-in
// table, so a factory can also shadow a built-in converter.
type PluginFactory interface {
	// HasPlugin reports whether a plugin exists for the given op name.
	HasPlugin(op string) bool
	// CreatePlugin instantiates a fresh plugin for one node. Implementations
	// may panic on bad construction; the converter confines the panic.
	CreatePlugin(op string) anvil.Plugin
}

// convertPluginNode lowers a node through a custom plugin: every node
// attribute is forwarded to the plugin as a float32 list, all inputs must be
// live tensors, and the plugin decides its own output arity. Plugin code is
// third-party, so everything that calls into it runs under a panic guard
// and surfaces as errors instead of tearing down the conversion. That covers
// AddPlugin too: the network calls back into the plugin for output shapes.
func convertPluginNode(params *OpConverterParams, factory PluginFactory) error {
	inputs := make([]anvil.Tensor, len(params.Inputs))
	for i, input := range params.Inputs {
		if !input.IsTensor() {
			return status.Unimplementedf(
				"plugin op %s requires tensor inputs, input %d is weights", params.Node.Op, i)
		}
		inputs[i] = input.Tensor()
	}

	var layer anvil.Layer
	var layerErr error
	exception := exceptions.Try(func() {
		plugin := factory.CreatePlugin(params.Node.Op)
		if plugin == nil {
			exceptions.Panicf("plugin factory returned no plugin for op %s", params.Node.Op)
		}
		attrs := attrsOf(params.Node)
		for _, key := range attrs.Keys() {
			values, err := attrs.Floats(key)
			if err != nil || values == nil {
				continue
			}
			if !plugin.SetAttribute(key, values) {
				klog.V(1).Infof("plugin %s ignored attribute %q", params.Node.Op, key)
			}
		}
		layer, layerErr = params.Converter.Network().AddPlugin(inputs, plugin)
	})
	if exception != nil {
		return status.Internalf("plugin %s failed: %v", params.Node.Op, exception)
	}
	if layerErr != nil || layer == nil {
		return addLayerError(params.Node.Name, layerErr)
	}
	for i := 0; i < layer.NumOutputs(); i++ {
		params.addOutput(TensorValue(layer.Output(i), -1))
	}
	return nil
}
