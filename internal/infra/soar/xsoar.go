// Package soar renders automation stubs for validated playbooks in the
// XSOAR playbook YAML layout. The stubs are starting points for an engineer
// to import and wire to integrations; nothing here executes them.
package soar

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/glaciergh0st/HuntLens/internal/domain/artifact"
	"github.com/glaciergh0st/HuntLens/internal/domain/playbook"
)

// namespace makes playbook ids stable for the same artifact.
var namespace = uuid.MustParse("6f1b7d0e-3c55-4f36-9a43-5d0a3c1e2b10")

type document struct {
	ID          string          `yaml:"id"`
	Version     int             `yaml:"version"`
	Name        string          `yaml:"name"`
	Description string          `yaml:"description"`
	StartTaskID string          `yaml:"starttaskid"`
	Tasks       map[string]task `yaml:"tasks"`
	Inputs      []input         `yaml:"inputs"`
	Tags        []string        `yaml:"tags"`
}

type task struct {
	ID        string              `yaml:"id"`
	TaskID    string              `yaml:"taskid"`
	Type      string              `yaml:"type"`
	Task      taskBody            `yaml:"task"`
	NextTasks map[string][]string `yaml:"nexttasks,omitempty"`
}

type taskBody struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description,omitempty"`
	Type        string `yaml:"type"`
}

type input struct {
	Key         string `yaml:"key"`
	Value       string `yaml:"value"`
	Required    bool   `yaml:"required"`
	Description string `yaml:"description"`
}

// XSOAR renders playbooks as XSOAR-style YAML.
type XSOAR struct{}

func New() *XSOAR { return &XSOAR{} }

// Template chains a section header per phase followed by its steps.
// Containment and eradication sections open with a manual approval task
// whose "no" branch ends the playbook.
func (XSOAR) Template(ctx context.Context, a artifact.Artifact, pb playbook.PhasePlaybook) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	doc := document{
		ID:          uuid.NewSHA1(namespace, []byte(a.Label()+"\x00"+a.Canonical)).String(),
		Version:     -1,
		Name:        fmt.Sprintf("HuntLens - %s %s", a.Label(), a.Canonical),
		Description: "Generated response stub. Review every task before enabling automation.",
		StartTaskID: "0",
		Tasks:       map[string]task{},
		Inputs: []input{{
			Key:         "artifact",
			Value:       a.Canonical,
			Required:    true,
			Description: "Artifact under investigation",
		}},
		Tags: []string{"huntlens", string(a.Type)},
	}

	next := 0
	add := func(kind, name, description string) string {
		id := strconv.Itoa(next)
		next++
		doc.Tasks[id] = task{
			ID:     id,
			TaskID: uuid.NewSHA1(namespace, []byte(doc.ID+":"+id)).String(),
			Type:   kind,
			Task:   taskBody{Name: name, Description: description, Type: kind},
		}
		return id
	}
	edge := func(from, label, to string) {
		t := doc.Tasks[from]
		if t.NextTasks == nil {
			t.NextTasks = map[string][]string{}
		}
		t.NextTasks[label] = append(t.NextTasks[label], to)
		doc.Tasks[from] = t
	}
	// Approval tasks continue on "yes"; their "no" branch is wired to Done
	// once it exists.
	var approvals []string
	link := func(from, to string) {
		if doc.Tasks[from].Type == "condition" {
			edge(from, "yes", to)
			return
		}
		edge(from, "#none#", to)
	}

	prev := add("start", "Start", "")
	for _, phase := range playbook.Phases() {
		steps := pb.Steps(phase)
		if len(steps) == 0 {
			continue
		}
		id := add("title", phaseTitle(phase), "")
		link(prev, id)
		prev = id
		if phase.RequiresHumanReview() {
			id = add("condition", "Approve "+phaseTitle(phase), "Analyst approval required before acting on live systems.")
			link(prev, id)
			prev = id
			approvals = append(approvals, id)
		}
		for _, s := range steps {
			id = add("regular", s.ShortDescription, strings.TrimSpace(s.How+"\nOwner: "+s.Who))
			link(prev, id)
			prev = id
		}
	}
	done := add("title", "Done", "")
	link(prev, done)
	for _, id := range approvals {
		edge(id, "no", done)
	}

	out, err := yaml.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("encode soar template: %w", err)
	}
	return string(out), nil
}

func phaseTitle(p playbook.Phase) string {
	words := strings.Split(string(p), "_")
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
