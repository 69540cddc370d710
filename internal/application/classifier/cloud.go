package classifier

import (
	"bytes"
	"strings"

	"mvdan.cc/sh/v3/syntax"

	"github.com/glaciergh0st/HuntLens/internal/domain/artifact"
)

// matchCloudCommand recognizes invocations of cloud and cluster CLIs. The
// command is parsed as shell so quoting, pipes and subshells do not hide the
// binary, service and operation.
func matchCloudCommand(c *Classifier, s string) (artifact.Artifact, bool) {
	fields := strings.Fields(s)
	if len(fields) < 2 {
		return artifact.Artifact{}, false
	}
	if _, ok := cloudCLIs[strings.ToLower(fields[0])]; !ok {
		return artifact.Artifact{}, false
	}

	args := commandArgs(s)
	if len(args) == 0 {
		args = fields
	}
	a := artifact.Artifact{Type: artifact.TypeCloudCommand, Canonical: strings.Join(fields, " ")}

	bin := strings.ToLower(args[0])
	a.Keywords = append(a.Keywords, bin)
	var positional []string
	for _, arg := range args[1:] {
		if strings.HasPrefix(arg, "-") {
			continue
		}
		positional = append(positional, arg)
	}
	// service and operation, e.g. "iam create-access-key" or "get secrets"
	for i, p := range positional {
		if i == 2 {
			break
		}
		a.Keywords = append(a.Keywords, strings.ToLower(p))
	}
	// urls, addresses and buckets used as arguments
	for _, p := range positional {
		if sub, ok := classifyEmbedded(c, p); ok {
			a.Sub = append(a.Sub, sub)
		}
	}
	return a, true
}

// commandArgs returns the literal words of the first simple command in s.
func commandArgs(s string) []string {
	parser := syntax.NewParser(syntax.KeepComments(false), syntax.Variant(syntax.LangBash))
	file, err := parser.Parse(strings.NewReader(s), "")
	if err != nil {
		return nil
	}
	var args []string
	syntax.Walk(file, func(node syntax.Node) bool {
		if args != nil {
			return false
		}
		call, ok := node.(*syntax.CallExpr)
		if !ok || len(call.Args) == 0 {
			return true
		}
		for _, w := range call.Args {
			args = append(args, wordToString(w))
		}
		return false
	})
	return args
}

func wordToString(w *syntax.Word) string {
	if lit := w.Lit(); lit != "" {
		return lit
	}
	var buf bytes.Buffer
	if err := syntax.NewPrinter().Print(&buf, w); err != nil {
		return ""
	}
	return strings.Trim(buf.String(), `"'`)
}
