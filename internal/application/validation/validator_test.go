package validation

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glaciergh0st/HuntLens/internal/domain/artifact"
	"github.com/glaciergh0st/HuntLens/internal/domain/corpus"
	"github.com/glaciergh0st/HuntLens/internal/domain/evidence"
	"github.com/glaciergh0st/HuntLens/internal/domain/playbook"
)

var testArtifact = artifact.Artifact{Raw: "mimikatz.exe", Type: artifact.TypeProcess, Canonical: "mimikatz.exe"}

var testEvidence = []evidence.Item{
	{DocumentID: "kb-1", Title: "Detecting Mimikatz", Source: corpus.SourceVendorKB, Tier: 2, Score: 0.8, Rank: 1},
	{DocumentID: "attack-T1003", Title: "OS Credential Dumping", Source: corpus.SourceAttack, Tier: 1, Score: 0.6, Rank: 2},
}

const goodDraft = "```json\n" + `{
  "artifact": "ignored",
  "rationale": "model chatter",
  "nist_phase_playbook": {
    "detection": [
      {"short_description": "Hunt for mimikatz", "how": "Search EDR process events", "who": "SOC L1", "references": ["kb-1", "kb-1"]}
    ],
    "analysis": [
      {"id": "a1", "short_description": "Scope", "how": "Review lsass access", "who": "SOC L2", "references": ["mitre t1003", "https://random.blog/post"], "color": "red"}
    ],
    "containment": [
      {"id": "c1", "short_description": "Isolate host", "how": "EDR network isolation", "who": "IR lead", "references": ["ATTACK-t1003"], "requires_human_review": false}
    ],
    "eradication": null
  }
}` + "\n```"

func newTestValidator(buf *bytes.Buffer) *Validator {
	var logger *slog.Logger
	if buf != nil {
		logger = slog.New(slog.NewTextHandler(buf, nil))
	}
	return New(DefaultConfig(), logger)
}

func TestValidateRepairsAndGrounds(t *testing.T) {
	var logs bytes.Buffer
	v := newTestValidator(&logs)

	out, err := v.Validate(Input{Artifact: testArtifact, Draft: []byte(goodDraft), Evidence: testEvidence})
	require.NoError(t, err)

	assert.Equal(t, "mimikatz.exe", out.Artifact)
	assert.Equal(t, "process", out.ArtifactType)

	det := out.NISTPhasePlaybook.Detection
	require.Len(t, det, 1)
	assert.Equal(t, "detection-1", det[0].ID)
	assert.Equal(t, []string{"kb-1"}, det[0].References)
	assert.False(t, det[0].Unverified)
	assert.False(t, det[0].RequiresHumanReview)

	ana := out.NISTPhasePlaybook.Analysis
	require.Len(t, ana, 1)
	assert.Equal(t, []string{"T1003"}, ana[0].References)
	assert.True(t, ana[0].Unverified, "a stripped reference marks the step unverified")

	con := out.NISTPhasePlaybook.Containment
	require.Len(t, con, 1)
	assert.Equal(t, []string{"attack-T1003"}, con[0].References)
	assert.True(t, con[0].RequiresHumanReview)

	assert.NotNil(t, out.NISTPhasePlaybook.Eradication)
	assert.Empty(t, out.NISTPhasePlaybook.Eradication)
	assert.NotNil(t, out.NISTPhasePlaybook.PostIncident)

	assert.Equal(t, []string{"kb-1", "T1003", "attack-T1003"}, out.References)
	require.Len(t, out.Citations, 2)
	assert.Equal(t, "kb-1", out.Citations[0].DocumentID)
	assert.Equal(t, "vendor-kb", out.Citations[0].Source)

	// 0.5*2/3 + 0.35*0.7 + 0.15
	assert.InDelta(t, 0.7283, out.Confidence, 1e-9)
	assert.False(t, out.LowConfidence)

	assert.Contains(t, logs.String(), "dropping unknown draft field")
	assert.Contains(t, logs.String(), "field=rationale")
	assert.Contains(t, logs.String(), "field=color")
}

func TestValidateIsIdempotent(t *testing.T) {
	v := newTestValidator(nil)
	first, err := v.Validate(Input{Artifact: testArtifact, Draft: []byte(goodDraft), Evidence: testEvidence})
	require.NoError(t, err)

	raw, err := json.Marshal(first)
	require.NoError(t, err)
	second, err := v.Validate(Input{Artifact: testArtifact, Draft: raw, Evidence: testEvidence})
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestValidateContainmentAndEradicationAlwaysNeedReview(t *testing.T) {
	draft := `{"nist_phase_playbook": {
		"containment": [{"short_description": "Block", "how": "Firewall rule", "who": "NetOps", "references": ["kb-1"], "requires_human_review": false}],
		"eradication": [{"short_description": "Reimage", "how": "Golden image", "who": "IT", "references": ["kb-1"]}],
		"recovery": [{"short_description": "Restore", "how": "Backups", "who": "IT", "references": ["kb-1"]}]
	}}`
	out, err := newTestValidator(nil).Validate(Input{Artifact: testArtifact, Draft: []byte(draft), Evidence: testEvidence})
	require.NoError(t, err)

	for _, phase := range playbook.Phases() {
		for _, s := range out.NISTPhasePlaybook.Steps(phase) {
			if phase.RequiresHumanReview() {
				assert.True(t, s.RequiresHumanReview, "%s/%s", phase, s.ID)
			}
		}
	}
	assert.False(t, out.NISTPhasePlaybook.Recovery[0].RequiresHumanReview)
}

func TestValidateRejectsMalformedDrafts(t *testing.T) {
	tests := []struct {
		name  string
		draft string
		path  string
	}{
		{"not json", "I cannot help with that", ""},
		{"array", `[{"how": "x"}]`, ""},
		{"missing playbook", `{"not_in_schema": "oops"}`, "nist_phase_playbook"},
		{"empty how", `{"nist_phase_playbook": {"detection": [{"short_description": "s", "how": " ", "who": "w"}]}}`, "nist_phase_playbook.detection.0.how"},
		{"references not a list", `{"nist_phase_playbook": {"detection": [{"short_description": "s", "how": "h", "who": "w", "references": "T1003"}]}}`, ""},
		{"phase not a list", `{"nist_phase_playbook": {"analysis": "do things"}}`, ""},
		{"step not an object", `{"nist_phase_playbook": {"analysis": ["do things"]}}`, ""},
	}
	v := newTestValidator(nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Validate(Input{Artifact: testArtifact, Draft: []byte(tt.draft), Evidence: testEvidence})
			require.Error(t, err)
			assert.ErrorIs(t, err, playbook.ErrSchemaViolation)

			var sv *playbook.SchemaViolation
			require.True(t, errors.As(err, &sv))
			require.NotEmpty(t, sv.Violations)
			if tt.path != "" {
				assert.Equal(t, tt.path, sv.Violations[0].Path)
			}
			assert.NotContains(t, err.Error(), "do things", "violations never echo the draft")
		})
	}
}

func TestValidateReportsEveryEmptyField(t *testing.T) {
	draft := `{"nist_phase_playbook": {"detection": [{"id": 7}], "recovery": [{"short_description": "s", "how": "h", "who": ""}]}}`
	_, err := newTestValidator(nil).Validate(Input{Artifact: testArtifact, Draft: []byte(draft)})
	var sv *playbook.SchemaViolation
	require.True(t, errors.As(err, &sv))
	var paths []string
	for _, v := range sv.Violations {
		paths = append(paths, v.Path)
	}
	assert.Equal(t, []string{
		"nist_phase_playbook.detection.0.short_description",
		"nist_phase_playbook.detection.0.how",
		"nist_phase_playbook.detection.0.who",
		"nist_phase_playbook.recovery.0.who",
	}, paths)
}

func TestValidateWithoutEvidence(t *testing.T) {
	draft := `{"nist_phase_playbook": {
		"detection": [{"short_description": "s", "how": "h", "who": "w", "references": ["T1003", "kb-1"]}],
		"containment": [{"short_description": "s", "how": "h", "who": "w", "references": ["NIST SP 800-61"]}]
	}}`
	out, err := newTestValidator(nil).Validate(Input{Artifact: testArtifact, Draft: []byte(draft)})
	require.NoError(t, err)

	assert.Zero(t, out.Confidence)
	assert.True(t, out.LowConfidence)
	assert.Empty(t, out.Citations)
	assert.Equal(t, []string{"T1003"}, out.NISTPhasePlaybook.Detection[0].References)
	assert.Equal(t, []string{"NIST SP 800-61"}, out.NISTPhasePlaybook.Containment[0].References)
	for _, phase := range playbook.Phases() {
		for _, s := range out.NISTPhasePlaybook.Steps(phase) {
			assert.True(t, s.Unverified, "%s/%s", phase, s.ID)
		}
	}
}

func TestValidatePublicIdentifiersAloneDoNotGround(t *testing.T) {
	draft := `{"nist_phase_playbook": {
		"detection": [
			{"short_description": "s", "how": "h", "who": "w", "references": ["MITRE T1003", "CVE-2021-44228"]},
			{"short_description": "s", "how": "h", "who": "w", "references": ["T1003", "kb-1"]}
		]
	}}`
	out, err := newTestValidator(nil).Validate(Input{Artifact: testArtifact, Draft: []byte(draft), Evidence: testEvidence})
	require.NoError(t, err)

	det := out.NISTPhasePlaybook.Detection
	require.Len(t, det, 2)
	assert.Equal(t, []string{"T1003", "CVE-2021-44228"}, det[0].References)
	assert.True(t, det[0].Unverified, "public identifiers are kept but do not ground the step")
	assert.False(t, det[1].Unverified)
}

func TestValidateEmptyPlaybook(t *testing.T) {
	out, err := newTestValidator(nil).Validate(Input{Artifact: testArtifact, Draft: []byte(`{"nist_phase_playbook": {}}`), Evidence: testEvidence})
	require.NoError(t, err)
	assert.Zero(t, out.NISTPhasePlaybook.Count())
	assert.Zero(t, out.Confidence)
	assert.True(t, out.LowConfidence)
}

func TestGrounderResolve(t *testing.T) {
	g := newGrounder([]evidence.Item{{DocumentID: "T1059"}, {DocumentID: "KB-Ransom"}})
	tests := []struct {
		in   string
		want string
		kind refKind
	}{
		{"T1059", "T1059", refEvidence},
		{"mitre t1059", "T1059", refEvidence},
		{"kb-ransom", "KB-Ransom", refEvidence},
		{"MITRE ATT&CK T1003.001", "T1003.001", refPublic},
		{"mitre t1003", "T1003", refPublic},
		{"cve-2021-44228", "CVE-2021-44228", refPublic},
		{"CWE-79", "CWE-79", refPublic},
		{"nist sp 800-61", "NIST SP 800-61", refPublic},
		{"NIST 800-61 rev. 2", "NIST SP 800-61r2", refPublic},
		{"https://example.com/blog", "", refUnknown},
		{"T10", "", refUnknown},
		{"  ", "", refUnknown},
	}
	for _, tt := range tests {
		got, kind := g.resolve(tt.in)
		assert.Equal(t, tt.want, got, tt.in)
		assert.Equal(t, tt.kind, kind, tt.in)
	}
}

func TestExtractJSON(t *testing.T) {
	assert.Equal(t, `{"a":1}`, string(extractJSON([]byte("```json\n{\"a\":1}\n```"))))
	assert.Equal(t, `{"a":1}`, string(extractJSON([]byte("Here you go: {\"a\":1} hope it helps"))))
	assert.Equal(t, `[1]`, string(extractJSON([]byte(" [1] "))))
}
