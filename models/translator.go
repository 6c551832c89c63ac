package models

import (
	"fmt"
	"math"

	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/layers"
	"github.com/gomlx/gomlx/ml/layers/activations"
	"github.com/gomlx/gomlx/types/shapes"
	"github.com/gomlx/gopjrt/dtypes"
)

// CausalMask returns a [seqLen, seqLen] boolean mask where position (i, j) is
// true iff j <= i, so each query may only attend to itself and earlier keys.
func CausalMask(g *Graph, seqLen int) *Node {
	rows := Iota(g, shapes.Make(dtypes.Int64, seqLen, seqLen), 0)
	cols := Iota(g, shapes.Make(dtypes.Int64, seqLen, seqLen), 1)
	return LessOrEqual(cols, rows)
}

// paddingMask marks the non-padding positions of ids ([batch, seqLen]) as a
// [batch, 1, 1, seqLen] boolean mask, broadcastable over heads and queries.
func paddingMask(ids *Node) *Node {
	mask := NotEqual(ids, ZerosLike(ids))
	return InsertAxes(mask, 1, 1)
}

// multiHeadAttention computes scaled dot-product attention with learned
// query, key, value and output projections. query is [batch, qLen, embedDim],
// key and value are [batch, kLen, embedDim]. mask is a boolean node
// broadcastable to [batch, numHeads, qLen, kLen]; masked-out scores are
// driven to a large negative value before the softmax.
func multiHeadAttention(ctx *context.Context, query, key, value, mask *Node, numHeads int) *Node {
	g := query.Graph()
	qDims := query.Shape().Dimensions
	kDims := key.Shape().Dimensions
	batchSize, qLen, embedDim := qDims[0], qDims[1], qDims[2]
	kLen := kDims[1]
	headDim := embedDim / numHeads

	q := Dense(ctx.In("query"), query, embedDim)
	k := Dense(ctx.In("key"), key, embedDim)
	v := Dense(ctx.In("value"), value, embedDim)

	q = Reshape(q, batchSize, qLen, numHeads, headDim)
	k = Reshape(k, batchSize, kLen, numHeads, headDim)
	v = Reshape(v, batchSize, kLen, numHeads, headDim)

	scores := Einsum("bqhd,bkhd->bhqk", q, k)
	scores = MulScalar(scores, 1.0/math.Sqrt(float64(headDim)))

	negInf := BroadcastToShape(Scalar(g, dtypes.Float32, -1e9), scores.Shape())
	scores = Where(BroadcastToShape(mask, scores.Shape()), scores, negInf)

	weights := Softmax(scores, -1)
	attended := Einsum("bhqk,bkhd->bqhd", weights, v)
	attended = Reshape(attended, batchSize, qLen, embedDim)

	return Dense(ctx.In("output"), attended, embedDim)
}

// layerNorm normalizes the last axis of x to zero mean and unit variance,
// then applies a learned scale and offset.
func layerNorm(ctx *context.Context, x *Node) *Node {
	g := x.Graph()
	dims := x.Shape().Dimensions
	featureDim := dims[len(dims)-1]

	scale := ctx.VariableWithShape("scale", shapes.Make(dtypes.Float32, featureDim)).ValueGraph(g)
	offset := ctx.VariableWithShape("offset", shapes.Make(dtypes.Float32, featureDim)).ValueGraph(g)

	mean := ReduceAndKeep(x, ReduceMean, -1)
	centered := Sub(x, mean)
	variance := ReduceAndKeep(Mul(centered, centered), ReduceMean, -1)
	normalized := Div(centered, Sqrt(AddScalar(variance, 1e-6)))
	return Add(Mul(normalized, scale), offset)
}

// feedForward is the position-wise two-layer projection with a ReLU between.
func feedForward(ctx *context.Context, x *Node, latentDim int) *Node {
	embedDim := x.Shape().Dimensions[x.Rank()-1]
	hidden := activations.Relu(Dense(ctx.In("inner"), x, latentDim))
	return Dense(ctx.In("outer"), hidden, embedDim)
}

// positionalEmbedding embeds token ids and adds a learned embedding of each
// position, giving [batch, seqLen, embedDim].
func positionalEmbedding(ctx *context.Context, ids *Node, vocabSize, embedDim, maxLen int) *Node {
	g := ids.Graph()
	seqLen := ids.Shape().Dimensions[1]

	tokens := layers.Embedding(ctx.In("tokens"), ids, dtypes.Float32, vocabSize, embedDim)
	positions := Iota(g, shapes.Make(dtypes.Int64, seqLen), 0)
	positionVectors := layers.Embedding(ctx.In("positions"), positions, dtypes.Float32, maxLen, embedDim)
	return Add(tokens, InsertAxes(positionVectors, 0))
}

// encoderBlock is self-attention followed by the feed-forward projection,
// each with a residual connection and layer normalization.
func encoderBlock(ctx *context.Context, x, mask *Node, numHeads, latentDim int) *Node {
	attended := multiHeadAttention(ctx.In("attention"), x, x, x, mask, numHeads)
	x = layerNorm(ctx.In("norm_0"), Add(x, attended))
	projected := feedForward(ctx.In("ffn"), x, latentDim)
	return layerNorm(ctx.In("norm_1"), Add(x, projected))
}

// decoderBlock runs causal self-attention over the target prefix, then
// cross-attention over the encoder output, then the feed-forward projection.
func decoderBlock(ctx *context.Context, x, encoded, selfMask, crossMask *Node, numHeads, latentDim int) *Node {
	attended := multiHeadAttention(ctx.In("self_attention"), x, x, x, selfMask, numHeads)
	x = layerNorm(ctx.In("norm_0"), Add(x, attended))
	attended = multiHeadAttention(ctx.In("cross_attention"), x, encoded, encoded, crossMask, numHeads)
	x = layerNorm(ctx.In("norm_1"), Add(x, attended))
	projected := feedForward(ctx.In("ffn"), x, latentDim)
	return layerNorm(ctx.In("norm_2"), Add(x, projected))
}

// TranslatorGraph builds the sequence-to-sequence Transformer. sourceIDs is
// [batch, seqLen] int64 source-language tokens, targetIDs is [batch, seqLen]
// int64 target-language tokens shifted right. The result is
// [batch, seqLen, targetVocabSize] float32 logits over the next target token.
func TranslatorGraph(ctx *context.Context, config *Config, sourceIDs, targetIDs *Node) *Node {
	g := sourceIDs.Graph()
	seqLen := sourceIDs.Shape().Dimensions[1]

	sourceMask := paddingMask(sourceIDs)

	encoded := positionalEmbedding(ctx.In("encoder").In("embedding"), sourceIDs,
		config.SourceVocabSize, config.EmbedDim, config.SequenceLength)
	encoded = encoderBlock(ctx.In("encoder").In("block_0"), encoded, sourceMask,
		config.NumHeads, config.LatentDim)

	causal := InsertAxes(CausalMask(g, seqLen), 0, 0)
	selfMask := And(BroadcastToShape(causal, shapeOfScores(targetIDs, config.NumHeads)),
		BroadcastToShape(paddingMask(targetIDs), shapeOfScores(targetIDs, config.NumHeads)))

	decoded := positionalEmbedding(ctx.In("decoder").In("embedding"), targetIDs,
		config.TargetVocabSize, config.EmbedDim, config.SequenceLength)
	decoded = decoderBlock(ctx.In("decoder").In("block_0"), decoded, encoded, selfMask, sourceMask,
		config.NumHeads, config.LatentDim)

	return Dense(ctx.In("decoder").In("projection"), decoded, config.TargetVocabSize)
}

func shapeOfScores(ids *Node, numHeads int) shapes.Shape {
	dims := ids.Shape().Dimensions
	if len(dims) != 2 {
		panic(fmt.Sprintf("expected rank-2 token ids, got shape %v", dims))
	}
	return shapes.Make(dtypes.Bool, dims[0], numHeads, dims[1], dims[1])
}
