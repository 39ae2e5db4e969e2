package pipeline

import (
	"fmt"
	"slices"
)

// Node lists the stages that may follow a stage. A branch node runs exactly
// one of its successors, chosen by the stage itself.
type Node struct {
	Successors []string
	Branch     bool
}

type Graph struct {
	Entry string
	Nodes map[string]Node
}

var graphs = map[string]Graph{
	ETL: {
		Entry: StageExtract,
		Nodes: map[string]Node{
			StageExtract:        {Successors: []string{StageVersionRawData}},
			StageVersionRawData: {Successors: []string{StageTransform}},
			StageTransform:      {Successors: []string{StageLoad}},
			StageLoad:           {},
		},
	},
	Train: {
		Entry: StageDriftCheck,
		Nodes: map[string]Node{
			StageDriftCheck:          {Successors: []string{StageModelTrain, StageEndPipeline}, Branch: true},
			StageModelTrain:          {Successors: []string{StageVersionTrainedModel}},
			StageEndPipeline:         {},
			StageVersionTrainedModel: {Successors: []string{StageModelEvalPush}},
			StageModelEvalPush:       {},
		},
	},
}

func GraphFor(pipeline string) (Graph, error) {
	g, ok := graphs[pipeline]
	if !ok {
		return Graph{}, fmt.Errorf("unknown pipeline %q", pipeline)
	}
	return g, nil
}

func (g Graph) Node(stage string) (Node, error) {
	n, ok := g.Nodes[stage]
	if !ok {
		return Node{}, fmt.Errorf("stage %q is not part of the graph", stage)
	}
	return n, nil
}

// choose validates a branch token against the node's successors and returns
// the stages that were not chosen.
func (n Node) choose(branch string) ([]string, error) {
	if !slices.Contains(n.Successors, branch) {
		return nil, fmt.Errorf("branch %q is not a successor, expected one of %v", branch, n.Successors)
	}
	var skipped []string
	for _, s := range n.Successors {
		if s != branch {
			skipped = append(skipped, s)
		}
	}
	return skipped, nil
}
