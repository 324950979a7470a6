package artifact

import (
	"fmt"

	"github.com/awalterschulze/gographviz"
)

const lineageGraph = "lineage"

func nodeName(hash string) string {
	return "rs_" + hash
}

// LineageDOT renders the refinement history of a as a DOT digraph. Applied
// edits are solid edges; edits that were evaluated and rejected are dashed.
func LineageDOT(a *Artifact) (string, error) {
	g := gographviz.NewEscape()
	if err := g.SetName(lineageGraph); err != nil {
		return "", err
	}
	if err := g.SetDir(true); err != nil {
		return "", err
	}
	if err := g.AddAttr(lineageGraph, "rankdir", "LR"); err != nil {
		return "", err
	}

	addNode := func(hash string, attrs map[string]string) error {
		if g.IsNode(nodeName(hash)) {
			return nil
		}
		return g.AddNode(lineageGraph, nodeName(hash), attrs)
	}

	for _, s := range a.Lineage {
		if err := addNode(s.Parent, map[string]string{"label": fmt.Sprintf("%d discrepancies", s.Before)}); err != nil {
			return "", err
		}
		if s.Hash == "" {
			continue
		}
		attrs := map[string]string{"label": fmt.Sprintf("%d discrepancies", s.After)}
		edge := map[string]string{"label": fmt.Sprintf("%d: %s", s.Iteration, s.Edit)}
		if !s.Applied {
			attrs["style"] = "dashed"
			edge["style"] = "dashed"
		}
		if err := addNode(s.Hash, attrs); err != nil {
			return "", err
		}
		if err := g.AddEdge(nodeName(s.Parent), nodeName(s.Hash), true, edge); err != nil {
			return "", err
		}
	}

	final := a.RuleSet.StructuralHash()
	label := fmt.Sprintf("%s\\n%d discrepancies", a.Status, len(a.Discrepancies))
	if err := g.AddNode(lineageGraph, nodeName(final), map[string]string{"label": label, "peripheries": "2"}); err != nil {
		return "", err
	}
	return g.String(), nil
}
