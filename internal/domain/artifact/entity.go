package artifact

import "strings"

// Type is the family an artifact was classified into.
type Type string

const (
	TypeIOC          Type = "ioc"
	TypeTechnique    Type = "mitre"
	TypeRepository   Type = "repo"
	TypeProcess      Type = "process"
	TypeCloudCommand Type = "cloud_command"
	TypeBehavior     Type = "behavior"
)

// IOCKind narrows TypeIOC artifacts.
type IOCKind string

const (
	KindNone   IOCKind = ""
	KindMD5    IOCKind = "md5"
	KindSHA1   IOCKind = "sha1"
	KindSHA256 IOCKind = "sha256"
	KindIPv4   IOCKind = "ipv4"
	KindIPv6   IOCKind = "ipv6"
	KindCIDR   IOCKind = "cidr"
	KindDomain IOCKind = "domain"
	KindURL    IOCKind = "url"
)

// IsHash reports whether the kind is one of the supported digests.
func (k IOCKind) IsHash() bool {
	return k == KindMD5 || k == KindSHA1 || k == KindSHA256
}

// IsNetwork reports whether the kind names a network indicator.
func (k IOCKind) IsNetwork() bool {
	switch k {
	case KindIPv4, KindIPv6, KindCIDR, KindDomain, KindURL:
		return true
	}
	return false
}

// Artifact is a classified, normalized SOC input. It lives for one request.
type Artifact struct {
	Raw       string     `json:"raw"`
	Type      Type       `json:"type"`
	Kind      IOCKind    `json:"ioc_kind,omitempty"`
	Canonical string     `json:"canonical"`
	Keywords  []string   `json:"keywords,omitempty"`
	Sub       []Artifact `json:"sub_artifacts,omitempty"`
}

// Label is the artifact_type value exposed in playbook output, e.g. "ioc:sha256".
func (a Artifact) Label() string {
	if a.Kind != KindNone {
		return string(a.Type) + ":" + string(a.Kind)
	}
	return string(a.Type)
}

// QueryText joins the canonical form with the derived keywords.
func (a Artifact) QueryText() string {
	parts := make([]string, 0, 1+len(a.Keywords))
	parts = append(parts, a.Canonical)
	parts = append(parts, a.Keywords...)
	return strings.Join(parts, " ")
}

// CombinedQueryText is QueryText plus the text of every sub-artifact.
func (a Artifact) CombinedQueryText() string {
	parts := []string{a.QueryText()}
	for _, s := range a.Sub {
		parts = append(parts, s.QueryText())
	}
	return strings.Join(parts, " ")
}
