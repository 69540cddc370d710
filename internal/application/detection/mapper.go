package detection

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/glaciergh0st/HuntLens/internal/domain/artifact"
	"github.com/glaciergh0st/HuntLens/internal/domain/playbook"
)

// Query dialects carried in DetectionQueries.Queries.
const (
	DialectSplunk = "splunk"
	DialectKQL    = "kql"
	DialectEQL    = "eql"
)

// Mapper turns a classified artifact into hunting queries. It is
// deterministic and makes no network calls.
type Mapper struct {
	logger *slog.Logger
}

func NewMapper(logger *slog.Logger) *Mapper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Mapper{logger: logger}
}

// Map returns Splunk SPL, Sentinel KQL and Elastic EQL templates plus, where
// the family has a natural log source, a Sigma rule checked against a
// synthetic matching event.
func (m *Mapper) Map(ctx context.Context, a artifact.Artifact) playbook.DetectionQueries {
	dq := queriesFor(a)
	rule, err := sigmaRuleFor(ctx, a)
	if err != nil {
		m.logger.Warn("sigma rule generation failed", "artifact_type", a.Label(), "error", err)
	}
	dq.SigmaRule = rule
	return dq
}

func queriesFor(a artifact.Artifact) playbook.DetectionQueries {
	v := quote(a.Canonical)
	switch {
	case a.Type == artifact.TypeIOC && a.Kind.IsHash():
		return playbook.DetectionQueries{
			Family: "ioc",
			Queries: map[string]string{
				DialectSplunk: fmt.Sprintf(`index=* (file_hash="%[1]s" OR Hash="%[1]s" OR sha256="%[1]s" OR sha1="%[1]s" OR md5="%[1]s")`, v),
				DialectKQL: fmt.Sprintf("union isfuzzy=true (DeviceFileEvents, DeviceProcessEvents)\n"+
					`| where SHA256 == "%[1]s" or SHA1 == "%[1]s" or MD5 == "%[1]s"`, v),
				DialectEQL: fmt.Sprintf(`file where file.hash.sha256 == "%[1]s" or file.hash.sha1 == "%[1]s" or file.hash.md5 == "%[1]s"`, v),
			},
			Rationale:    fmt.Sprintf("Indicator search by %s; refine with time range, host scope, and known-good baselines.", a.Kind),
			SeverityHint: "high",
		}
	case a.Type == artifact.TypeIOC && (a.Kind == artifact.KindIPv4 || a.Kind == artifact.KindIPv6):
		return playbook.DetectionQueries{
			Family: "ioc",
			Queries: map[string]string{
				DialectSplunk: fmt.Sprintf(`index=* (dest_ip="%[1]s" OR src_ip="%[1]s") OR (dest="%[1]s" OR src="%[1]s")`, v),
				DialectKQL: fmt.Sprintf("union isfuzzy=true (SecurityEvent, DeviceNetworkEvents, CommonSecurityLog)\n"+
					`| where RemoteIP == "%[1]s" or DestinationIp == "%[1]s" or SourceIp == "%[1]s"`, v),
				DialectEQL: fmt.Sprintf(`network where destination.ip == "%[1]s" or source.ip == "%[1]s"`, v),
			},
			Rationale:    fmt.Sprintf("Indicator search by %s; refine with time range, host scope, and known-good baselines.", a.Kind),
			SeverityHint: "medium",
		}
	case a.Type == artifact.TypeIOC && a.Kind == artifact.KindCIDR:
		return playbook.DetectionQueries{
			Family: "ioc",
			Queries: map[string]string{
				DialectSplunk: fmt.Sprintf(`index=* | where cidrmatch("%[1]s", dest_ip) OR cidrmatch("%[1]s", src_ip)`, v),
				DialectKQL: fmt.Sprintf("DeviceNetworkEvents\n"+
					`| where ipv4_is_in_range(RemoteIP, "%[1]s") or ipv4_is_in_range(LocalIP, "%[1]s")`, v),
				DialectEQL: fmt.Sprintf(`network where cidrmatch(destination.ip, "%[1]s") or cidrmatch(source.ip, "%[1]s")`, v),
			},
			Rationale:    "Network range sweep; expect noise from shared infrastructure and tune by port and direction.",
			SeverityHint: "medium",
		}
	case a.Type == artifact.TypeIOC && (a.Kind == artifact.KindDomain || a.Kind == artifact.KindURL):
		return playbook.DetectionQueries{
			Family: "ioc",
			Queries: map[string]string{
				DialectSplunk: fmt.Sprintf(`index=* (query="%[1]s" OR dest="%[1]s" OR url="*%[1]s*")`, v),
				DialectKQL: fmt.Sprintf("union isfuzzy=true (DnsEvents, DeviceNetworkEvents)\n"+
					`| where Name == "%[1]s" or Url has "%[1]s"`, v),
				DialectEQL: fmt.Sprintf(`dns where dns.question.name == "%[1]s" or stringcontains(url.original, "%[1]s")`, v),
			},
			Rationale:    fmt.Sprintf("Indicator search by %s; refine with time range, host scope, and known-good baselines.", a.Kind),
			SeverityHint: "medium",
		}
	case a.Type == artifact.TypeProcess:
		return playbook.DetectionQueries{
			Family: "process",
			Queries: map[string]string{
				DialectSplunk: fmt.Sprintf(`index=* sourcetype=XmlWinEventLog:Microsoft-Windows-Sysmon/Operational EventCode=1 (Image="*\\%[1]s" OR OriginalFileName="%[1]s" OR process_name="%[1]s")`, v),
				DialectKQL: fmt.Sprintf("DeviceProcessEvents\n"+
					`| where ProcessName =~ "%[1]s" or FileName =~ "%[1]s" or InitiatingProcessFileName =~ "%[1]s"`, v),
				DialectEQL: fmt.Sprintf(`process where process.name == "%[1]s" or process.pe.original_file_name == "%[1]s"`, v),
			},
			Rationale:    "Process name triage; include parent/child correlation and command-line examination.",
			SeverityHint: "medium",
		}
	case a.Type == artifact.TypeTechnique:
		return playbook.DetectionQueries{
			Family: "mitre",
			Queries: map[string]string{
				DialectSplunk: fmt.Sprintf(`index=* ("%[1]s" OR "ATT&CK %[1]s")`, v),
				DialectKQL:    fmt.Sprintf(`union isfuzzy=true (*) | where tostring(*) has "%s"`, v),
				DialectEQL:    fmt.Sprintf(`any where stringcontains(string(all), "%s")`, v),
			},
			Rationale:    "Technique pivot; pair with telemetry-specific detections for the sub-technique.",
			SeverityHint: "medium",
		}
	case a.Type == artifact.TypeCloudCommand:
		op := cloudOperation(a)
		return playbook.DetectionQueries{
			Family: "cloud",
			Queries: map[string]string{
				DialectSplunk: fmt.Sprintf(`index=* sourcetype=aws:cloudtrail eventName="%s"`, quote(op)),
				DialectKQL: fmt.Sprintf("union isfuzzy=true (AWSCloudTrail, AzureActivity, GCPAuditLogs)\n"+
					`| where EventName == "%[1]s" or OperationNameValue has "%[2]s" or MethodName has "%[2]s"`, quote(op), v),
				DialectEQL: fmt.Sprintf(`any where event.action == "%s"`, quote(op)),
			},
			Rationale:    "Control-plane audit pivot; scope by principal, source address and session.",
			SeverityHint: "medium",
		}
	case a.Type == artifact.TypeRepository:
		return keywordQueries("repo", v,
			"Repository keyword pivot; combine with code/parser analysis to derive concrete behaviors.")
	default:
		return keywordQueries("other", v, "Generic keyword pivot; refine by telemetry source and timeframe.")
	}
}

func keywordQueries(family, v, rationale string) playbook.DetectionQueries {
	return playbook.DetectionQueries{
		Family: family,
		Queries: map[string]string{
			DialectSplunk: fmt.Sprintf(`index=* "%s"`, v),
			DialectKQL:    fmt.Sprintf(`union isfuzzy=true (*) | where tostring(*) has "%s"`, v),
			DialectEQL:    fmt.Sprintf(`any where stringcontains(string(all), "%s")`, v),
		},
		Rationale:    rationale,
		SeverityHint: "low",
	}
}

// cloudOperation extracts the API operation of a cloud CLI call. AWS
// operations are converted to their CloudTrail event name, e.g.
// "create-access-key" -> "CreateAccessKey".
func cloudOperation(a artifact.Artifact) string {
	var positional []string
	for _, f := range strings.Fields(a.Canonical) {
		if !strings.HasPrefix(f, "-") {
			positional = append(positional, f)
		}
	}
	if len(positional) < 2 {
		return a.Canonical
	}
	op := positional[len(positional)-1]
	if len(positional) > 2 {
		op = positional[2]
	}
	if strings.ToLower(positional[0]) != "aws" {
		return op
	}
	var b strings.Builder
	for _, part := range strings.Split(op, "-") {
		if part == "" {
			continue
		}
		b.WriteString(strings.ToUpper(part[:1]))
		b.WriteString(part[1:])
	}
	return b.String()
}

var quoter = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

func quote(s string) string { return quoter.Replace(s) }
