package classifier

import (
	"strings"

	ahocorasick "github.com/BobuSumisu/aho-corasick"
)

// keywordEntry maps a tool, binary or API operation to retrieval keywords.
type keywordEntry struct {
	pattern  string
	keywords []string
}

var builtinKeywords = []keywordEntry{
	{"mimikatz", []string{"T1003", "T1003.001", "credential dumping", "lsass"}},
	{"sekurlsa", []string{"T1003.001", "lsass memory"}},
	{"lsass", []string{"T1003.001", "credential dumping"}},
	{"procdump", []string{"T1003.001", "lsass memory"}},
	{"comsvcs", []string{"T1003.001", "minidump"}},
	{"ntdsutil", []string{"T1003.003", "ntds"}},
	{"secretsdump", []string{"T1003.002", "T1003.003", "impacket"}},
	{"impacket", []string{"T1021", "lateral movement"}},
	{"rubeus", []string{"T1558", "T1558.003", "kerberoasting"}},
	{"kerberoast", []string{"T1558.003", "kerberoasting"}},
	{"sharphound", []string{"T1087", "T1482", "bloodhound", "domain discovery"}},
	{"bloodhound", []string{"T1087", "T1482", "domain discovery"}},
	{"psexec", []string{"T1569.002", "T1021.002", "lateral movement"}},
	{"cobaltstrike", []string{"T1071.001", "beacon", "command and control"}},
	{"cobalt strike", []string{"T1071.001", "beacon", "command and control"}},
	{"powershell", []string{"T1059.001", "scripting"}},
	{"encodedcommand", []string{"T1059.001", "T1027", "obfuscation"}},
	{"rundll32", []string{"T1218.011", "proxy execution"}},
	{"regsvr32", []string{"T1218.010", "proxy execution"}},
	{"mshta", []string{"T1218.005", "proxy execution"}},
	{"certutil", []string{"T1105", "T1140", "ingress tool transfer"}},
	{"bitsadmin", []string{"T1197", "T1105"}},
	{"vssadmin", []string{"T1490", "shadow copy deletion"}},
	{"wbadmin", []string{"T1490", "inhibit system recovery"}},
	{"wmic", []string{"T1047", "wmi"}},
	{"schtasks", []string{"T1053.005", "scheduled task"}},
	{"ransomware", []string{"T1486", "data encrypted for impact"}},
	{"phishing", []string{"T1566", "initial access"}},
	{"create-access-key", []string{"T1098.001", "cloud credentials"}},
	{"get-secret-value", []string{"T1552", "secrets manager"}},
	{"stop-logging", []string{"T1562.008", "cloudtrail"}},
	{"delete-trail", []string{"T1562.008", "cloudtrail"}},
	{"put-bucket-policy", []string{"T1530", "s3 exposure"}},
	{"assume-role", []string{"T1078.004", "cloud accounts"}},
	{"create-login-profile", []string{"T1098", "account manipulation"}},
}

// techniqueNames gives ATT&CK artifacts a human readable keyword.
var techniqueNames = map[string]string{
	"T1003":     "OS Credential Dumping",
	"T1003.001": "LSASS Memory",
	"T1003.002": "Security Account Manager",
	"T1003.003": "NTDS",
	"T1021":     "Remote Services",
	"T1027":     "Obfuscated Files or Information",
	"T1047":     "Windows Management Instrumentation",
	"T1053":     "Scheduled Task/Job",
	"T1053.005": "Scheduled Task",
	"T1059":     "Command and Scripting Interpreter",
	"T1059.001": "PowerShell",
	"T1071":     "Application Layer Protocol",
	"T1071.001": "Web Protocols",
	"T1078":     "Valid Accounts",
	"T1078.004": "Cloud Accounts",
	"T1087":     "Account Discovery",
	"T1098":     "Account Manipulation",
	"T1098.001": "Additional Cloud Credentials",
	"T1105":     "Ingress Tool Transfer",
	"T1190":     "Exploit Public-Facing Application",
	"T1218":     "System Binary Proxy Execution",
	"T1482":     "Domain Trust Discovery",
	"T1486":     "Data Encrypted for Impact",
	"T1490":     "Inhibit System Recovery",
	"T1530":     "Data from Cloud Storage",
	"T1552":     "Unsecured Credentials",
	"T1558":     "Steal or Forge Kerberos Tickets",
	"T1558.003": "Kerberoasting",
	"T1562":     "Impair Defenses",
	"T1562.008": "Disable or Modify Cloud Logs",
	"T1566":     "Phishing",
	"T1569.002": "Service Execution",
}

// keywordIndex is an Aho-Corasick automaton over the keyword table. It is
// built once and only read afterwards.
type keywordIndex struct {
	trie    *ahocorasick.Trie
	entries []keywordEntry
}

func newKeywordIndex(entries []keywordEntry) *keywordIndex {
	patterns := make([]string, len(entries))
	for i, e := range entries {
		patterns[i] = strings.ToLower(e.pattern)
	}
	return &keywordIndex{
		trie:    ahocorasick.NewTrieBuilder().AddStrings(patterns).Build(),
		entries: entries,
	}
}

// lookup returns the keywords of every table entry found in text on word
// boundaries, in order of first occurrence.
func (k *keywordIndex) lookup(text string) []string {
	text = strings.ToLower(text)
	var out []string
	for _, m := range k.trie.MatchString(text) {
		start := int(m.Pos())
		end := start + len(m.MatchString())
		if !boundary(text, start-1) || !boundary(text, end) {
			continue
		}
		out = append(out, k.entries[m.Pattern()].keywords...)
	}
	return out
}

// known reports whether name is exactly a table entry.
func (k *keywordIndex) known(name string) bool {
	name = strings.ToLower(name)
	for _, e := range k.entries {
		if e.pattern == name {
			return true
		}
	}
	return false
}

func boundary(text string, i int) bool {
	if i < 0 || i >= len(text) {
		return true
	}
	c := text[i]
	return !(c >= 'a' && c <= 'z' || c >= '0' && c <= '9')
}
