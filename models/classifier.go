package models

import (
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/layers"
	"github.com/gomlx/gomlx/types/shapes"
	"github.com/gomlx/gopjrt/dtypes"
)

// Dense applies a learned affine projection to the last axis of x. Inputs of
// rank above two are flattened to a matrix for the projection and reshaped
// back afterwards.
func Dense(ctx *context.Context, x *Node, outDim int) *Node {
	g := x.Graph()
	dims := x.Shape().Dimensions
	inDim := dims[len(dims)-1]

	weights := ctx.VariableWithShape("weights", shapes.Make(dtypes.Float32, inDim, outDim)).ValueGraph(g)
	bias := ctx.VariableWithShape("bias", shapes.Make(dtypes.Float32, outDim)).ValueGraph(g)

	if len(dims) > 2 {
		rows := 1
		for _, d := range dims[:len(dims)-1] {
			rows *= d
		}
		flat := Reshape(x, rows, inDim)
		projected := Add(Dot(flat, weights), ExpandLeftToRank(bias, 2))
		outDims := append(append([]int{}, dims[:len(dims)-1]...), outDim)
		return Reshape(projected, outDims...)
	}
	return Add(Dot(x, weights), ExpandLeftToRank(bias, 2))
}

// lstmCell advances one LSTM step. x is [batch, inDim], hidden and cell are
// [batch, units]. The fused kernel holds the input, forget, candidate and
// output gates in that order, matching the usual fused layout.
func lstmCell(ctx *context.Context, x, hidden, cell *Node, units int) (*Node, *Node) {
	g := x.Graph()
	inDim := x.Shape().Dimensions[1]

	kernel := ctx.VariableWithShape("kernel", shapes.Make(dtypes.Float32, inDim, 4*units)).ValueGraph(g)
	recurrentKernel := ctx.VariableWithShape("recurrent_kernel", shapes.Make(dtypes.Float32, units, 4*units)).ValueGraph(g)
	bias := ctx.VariableWithShape("bias", shapes.Make(dtypes.Float32, 4*units)).ValueGraph(g)

	z := Add(Add(Dot(x, kernel), Dot(hidden, recurrentKernel)), ExpandLeftToRank(bias, 2))

	inputGate := Sigmoid(Slice(z, AxisRange(), AxisRange(0, units)))
	forgetGate := Sigmoid(Slice(z, AxisRange(), AxisRange(units, 2*units)))
	candidate := Tanh(Slice(z, AxisRange(), AxisRange(2*units, 3*units)))
	outputGate := Sigmoid(Slice(z, AxisRange(), AxisRange(3*units, 4*units)))

	newCell := Add(Mul(forgetGate, cell), Mul(inputGate, candidate))
	newHidden := Mul(outputGate, Tanh(newCell))
	return newHidden, newCell
}

// lstm unrolls an LSTM over the time axis of x ([batch, seqLen, inDim]) and
// returns the per-step hidden states as [batch, seqLen, units].
func lstm(ctx *context.Context, x *Node, units int) *Node {
	g := x.Graph()
	dims := x.Shape().Dimensions
	batchSize, seqLen := dims[0], dims[1]

	hidden := Zeros(g, shapes.Make(dtypes.Float32, batchSize, units))
	cell := Zeros(g, shapes.Make(dtypes.Float32, batchSize, units))

	steps := make([]*Node, seqLen)
	for t := 0; t < seqLen; t++ {
		xt := Reshape(Slice(x, AxisRange(), AxisElem(t), AxisRange()), batchSize, dims[2])
		hidden, cell = lstmCell(ctx, xt, hidden, cell, units)
		steps[t] = InsertAxes(hidden, 1)
	}
	return Concatenate(steps, 1)
}

// bidirectionalLSTM runs a forward and a backward LSTM over x and
// concatenates their per-step hidden states, giving [batch, seqLen, 2*units].
func bidirectionalLSTM(ctx *context.Context, x *Node, units int) *Node {
	forward := lstm(ctx.In("forward"), x, units)
	backward := lstm(ctx.In("backward"), Reverse(x, 1), units)
	return Concatenate([]*Node{forward, Reverse(backward, 1)}, -1)
}

// ClassifierGraph builds the sentiment classifier: an embedding layer, two
// stacked bidirectional LSTMs and a projection to a single logit.
//
// inputIDs is [batch, seqLen] int64 token ids; the result is [batch, 1]
// float32 logits. Sigmoid is left to the caller so the same graph serves
// training with a from-logits loss.
func ClassifierGraph(ctx *context.Context, config *Config, inputIDs *Node) *Node {
	embedded := layers.Embedding(ctx.In("embedding"), inputIDs, dtypes.Float32, config.VocabSize, config.EmbedDim)
	hidden := bidirectionalLSTM(ctx.In("bilstm_0"), embedded, config.HiddenDim)
	hidden = bidirectionalLSTM(ctx.In("bilstm_1"), hidden, config.HiddenDim)

	// Keep only the last step of each direction, as a non-sequence-returning
	// bidirectional layer would.
	dims := hidden.Shape().Dimensions
	batchSize, seqLen := dims[0], dims[1]
	lastForward := Reshape(
		Slice(hidden, AxisRange(), AxisElem(seqLen-1), AxisRange(0, config.HiddenDim)),
		batchSize, config.HiddenDim)
	lastBackward := Reshape(
		Slice(hidden, AxisRange(), AxisElem(0), AxisRange(config.HiddenDim, 2*config.HiddenDim)),
		batchSize, config.HiddenDim)
	pooled := Concatenate([]*Node{lastForward, lastBackward}, -1)

	return Dense(ctx.In("classifier"), pooled, 1)
}
