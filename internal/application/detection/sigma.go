package detection

import (
	"context"
	"fmt"

	sigmalib "github.com/bradleyjkemp/sigma-go"
	"github.com/bradleyjkemp/sigma-go/evaluator"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/glaciergh0st/HuntLens/internal/domain/artifact"
)

type sigmaLogsource struct {
	Category string `yaml:"category,omitempty"`
	Product  string `yaml:"product,omitempty"`
	Service  string `yaml:"service,omitempty"`
}

type sigmaDoc struct {
	Title       string         `yaml:"title"`
	ID          string         `yaml:"id"`
	Status      string         `yaml:"status"`
	Description string         `yaml:"description"`
	Author      string         `yaml:"author"`
	Logsource   sigmaLogsource `yaml:"logsource"`
	Detection   map[string]any `yaml:"detection"`
	Level       string         `yaml:"level"`
	Tags        []string       `yaml:"tags,omitempty"`
}

// sigmaTemplate is a rule body plus an event the rule must match.
type sigmaTemplate struct {
	doc    sigmaDoc
	sample map[string]interface{}
}

// sigmaRuleFor renders a Sigma rule for the artifact, or "" when the family
// has no natural log source. The rendered rule is parsed back and evaluated
// against a synthetic event so a broken rule is never handed out.
func sigmaRuleFor(ctx context.Context, a artifact.Artifact) (string, error) {
	tmpl, ok := sigmaTemplateFor(a)
	if !ok {
		return "", nil
	}
	tmpl.doc.ID = uuid.NewSHA1(uuid.NameSpaceURL, []byte("huntlens:sigma:"+a.Label()+":"+a.Canonical)).String()
	tmpl.doc.Status = "experimental"
	tmpl.doc.Author = "HuntLens"

	data, err := yaml.Marshal(tmpl.doc)
	if err != nil {
		return "", fmt.Errorf("marshal sigma rule: %w", err)
	}
	rule, err := sigmalib.ParseRule(data)
	if err != nil {
		return "", fmt.Errorf("parse generated sigma rule: %w", err)
	}
	res, err := evaluator.ForRule(rule).Matches(ctx, tmpl.sample)
	if err != nil {
		return "", fmt.Errorf("evaluate generated sigma rule: %w", err)
	}
	if !res.Match {
		return "", fmt.Errorf("generated sigma rule %q does not match its sample event", rule.Title)
	}
	return string(data), nil
}

func sigmaTemplateFor(a artifact.Artifact) (sigmaTemplate, bool) {
	v := a.Canonical
	switch {
	case a.Type == artifact.TypeProcess:
		return sigmaTemplate{
			doc: sigmaDoc{
				Title:       "Execution of " + v,
				Description: "Process creation of " + v + " by image path or original file name.",
				Logsource:   sigmaLogsource{Category: "process_creation", Product: "windows"},
				Detection: map[string]any{
					"selection_image":    map[string]any{"Image|endswith": `\` + v},
					"selection_original": map[string]any{"OriginalFileName": v},
					"condition":          "selection_image or selection_original",
				},
				Level: "high",
			},
			sample: map[string]interface{}{"Image": `C:\Users\Public\` + v, "OriginalFileName": "renamed.exe"},
		}, true
	case a.Type == artifact.TypeIOC && a.Kind.IsHash():
		return sigmaTemplate{
			doc: sigmaDoc{
				Title:       "File hash " + v,
				Description: "Process or image load with " + string(a.Kind) + " " + v + ".",
				Logsource:   sigmaLogsource{Category: "process_creation", Product: "windows"},
				Detection: map[string]any{
					"selection": map[string]any{"Hashes|contains": v},
					"condition": "selection",
				},
				Level: "critical",
			},
			sample: map[string]interface{}{"Hashes": "SHA1=0,MD5=0," + string(a.Kind) + "=" + v},
		}, true
	case a.Type == artifact.TypeIOC && (a.Kind == artifact.KindIPv4 || a.Kind == artifact.KindIPv6):
		return sigmaTemplate{
			doc: sigmaDoc{
				Title:       "Network connection to " + v,
				Description: "Outbound or inbound connection involving " + v + ".",
				Logsource:   sigmaLogsource{Category: "network_connection", Product: "windows"},
				Detection: map[string]any{
					"selection_dst": map[string]any{"DestinationIp": v},
					"selection_src": map[string]any{"SourceIp": v},
					"condition":     "selection_dst or selection_src",
				},
				Level: "high",
			},
			sample: map[string]interface{}{"DestinationIp": v, "SourceIp": "10.0.0.1"},
		}, true
	case a.Type == artifact.TypeIOC && a.Kind == artifact.KindDomain:
		return sigmaTemplate{
			doc: sigmaDoc{
				Title:       "DNS query for " + v,
				Description: "Resolution of " + v + " or any of its subdomains.",
				Logsource:   sigmaLogsource{Category: "dns_query", Product: "windows"},
				Detection: map[string]any{
					"selection": map[string]any{"QueryName|endswith": v},
					"condition": "selection",
				},
				Level: "high",
			},
			sample: map[string]interface{}{"QueryName": "c2." + v},
		}, true
	case a.Type == artifact.TypeCloudCommand && len(a.Keywords) > 0 && a.Keywords[0] == "aws":
		op := cloudOperation(a)
		return sigmaTemplate{
			doc: sigmaDoc{
				Title:       "AWS API call " + op,
				Description: "CloudTrail record of " + op + " as issued by: " + v,
				Logsource:   sigmaLogsource{Product: "aws", Service: "cloudtrail"},
				Detection: map[string]any{
					"selection": map[string]any{"eventName": op},
					"condition": "selection",
				},
				Level: "medium",
			},
			sample: map[string]interface{}{"eventName": op, "eventSource": "iam.amazonaws.com"},
		}, true
	}
	return sigmaTemplate{}, false
}
