package soar

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/glaciergh0st/HuntLens/internal/domain/artifact"
	"github.com/glaciergh0st/HuntLens/internal/domain/playbook"
)

func samplePlaybook() playbook.PhasePlaybook {
	var pb playbook.PhasePlaybook
	pb.Set(playbook.PhaseDetection, []playbook.Step{{ID: "d1", ShortDescription: "Hunt for mimikatz", How: "Query EDR", Who: "SOC L1"}})
	pb.Set(playbook.PhaseContainment, []playbook.Step{{ID: "c1", ShortDescription: "Isolate host", How: "EDR isolation", Who: "IR lead"}})
	pb.Set(playbook.PhasePostIncident, []playbook.Step{{ID: "p1", ShortDescription: "Lessons learned", How: "Review", Who: "IR manager"}})
	return pb
}

func TestTemplate_Chain(t *testing.T) {
	a := artifact.Artifact{Type: artifact.TypeProcess, Canonical: "mimikatz.exe"}
	out, err := New().Template(context.Background(), a, samplePlaybook())
	require.NoError(t, err)

	var doc document
	require.NoError(t, yaml.Unmarshal([]byte(out), &doc))
	assert.Equal(t, "0", doc.StartTaskID)
	assert.Equal(t, "mimikatz.exe", doc.Inputs[0].Value)

	// start, 3 section titles, approval, 3 steps, done
	require.Len(t, doc.Tasks, 9)

	var (
		names    []string
		approval task
	)
	for id := "0"; id != ""; {
		tk := doc.Tasks[id]
		names = append(names, tk.Task.Name)
		nx := tk.NextTasks["#none#"]
		if tk.Type == "condition" {
			approval = tk
			assert.Empty(t, nx, "approval tasks branch on named outcomes")
			nx = tk.NextTasks["yes"]
		}
		if len(nx) == 0 {
			break
		}
		id = nx[0]
	}
	assert.Equal(t, []string{
		"Start", "Detection", "Hunt for mimikatz",
		"Containment", "Approve Containment", "Isolate host",
		"Post Incident", "Lessons learned", "Done",
	}, names)

	require.Equal(t, "Approve Containment", approval.Task.Name)
	require.Len(t, approval.NextTasks["yes"], 1)
	assert.Equal(t, "Isolate host", doc.Tasks[approval.NextTasks["yes"][0]].Task.Name)
	require.Len(t, approval.NextTasks["no"], 1)
	assert.Equal(t, "Done", doc.Tasks[approval.NextTasks["no"][0]].Task.Name)
	assert.Len(t, approval.NextTasks, 2)
}

func TestTemplate_EveryApprovalCanStopThePlaybook(t *testing.T) {
	pb := samplePlaybook()
	pb.Set(playbook.PhaseEradication, []playbook.Step{{ID: "e1", ShortDescription: "Reimage host", How: "Golden image", Who: "IT"}})
	out, err := New().Template(context.Background(), artifact.Artifact{Type: artifact.TypeProcess, Canonical: "mimikatz.exe"}, pb)
	require.NoError(t, err)

	var doc document
	require.NoError(t, yaml.Unmarshal([]byte(out), &doc))

	var approvals int
	for _, tk := range doc.Tasks {
		if tk.Type != "condition" {
			continue
		}
		approvals++
		require.Len(t, tk.NextTasks["no"], 1, tk.Task.Name)
		assert.Equal(t, "Done", doc.Tasks[tk.NextTasks["no"][0]].Task.Name)
		require.Len(t, tk.NextTasks["yes"], 1, tk.Task.Name)
		assert.Equal(t, "regular", doc.Tasks[tk.NextTasks["yes"][0]].Type)
	}
	assert.Equal(t, 2, approvals)
}

func TestTemplate_Deterministic(t *testing.T) {
	a := artifact.Artifact{Type: artifact.TypeIOC, Kind: artifact.KindDomain, Canonical: "evil.example"}
	one, err := New().Template(context.Background(), a, samplePlaybook())
	require.NoError(t, err)
	two, err := New().Template(context.Background(), a, samplePlaybook())
	require.NoError(t, err)
	assert.Equal(t, one, two)
	assert.Contains(t, one, "ioc:domain evil.example")
}

func TestTemplate_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New().Template(ctx, artifact.Artifact{}, samplePlaybook())
	assert.ErrorIs(t, err, context.Canceled)
}
