package classifier

import (
	"net/netip"
	"net/url"
	"path"
	"regexp"
	"strings"

	"github.com/glaciergh0st/HuntLens/internal/domain/artifact"
)

// matcher returns ok when s belongs to its family. s is trimmed and refanged.
type matcher func(c *Classifier, s string) (artifact.Artifact, bool)

var (
	hashRe      = regexp.MustCompile(`^(?:[0-9a-fA-F]{32}|[0-9a-fA-F]{40}|[0-9a-fA-F]{64})$`)
	techniqueRe = regexp.MustCompile(`(?i)^(?:(?:mitre|att&ck|attack)[\s:/-]*){0,2}(t\d{4}(?:\.\d{3})?)$`)
	hostedRepo  = regexp.MustCompile(`(?i)^(?:https?://|ssh://git@|git@)?(?:www\.)?(github\.com|gitlab\.com|bitbucket\.org)[/:]([\w.-]+)/([\w.-]+?)(?:\.git)?/?$`)
	genericRepo = regexp.MustCompile(`(?i)^(?:(?:https?|ssh|git)://(?:[\w.-]+@)?([\w.-]+)(?::\d+)?/|[\w.-]+@([\w.-]+):)([\w./-]+?)\.git/?$`)
	domainRe    = regexp.MustCompile(`(?i)^(?:[a-z0-9](?:[a-z0-9-]{0,61}[a-z0-9])?\.)+[a-z][a-z0-9-]{0,61}[a-z0-9]\.?$`)
	winPathRe   = regexp.MustCompile(`^(?:[a-zA-Z]:\\|\\\\|%[A-Za-z]+%\\)`)

	embeddedTechnique = regexp.MustCompile(`(?i)\bt\d{4}(?:\.\d{3})?\b`)
	embeddedHash      = regexp.MustCompile(`\b(?:[0-9a-fA-F]{64}|[0-9a-fA-F]{40}|[0-9a-fA-F]{32})\b`)
)

var executableExts = map[string]struct{}{
	".exe": {}, ".dll": {}, ".sys": {}, ".scr": {}, ".msi": {}, ".cpl": {},
	".ps1": {}, ".psm1": {}, ".bat": {}, ".cmd": {}, ".vbs": {}, ".vbe": {}, ".js": {},
	".jse": {}, ".wsf": {}, ".hta": {}, ".lnk": {}, ".sh": {}, ".elf": {}, ".bin": {},
	".so": {}, ".py": {}, ".pl": {}, ".jar": {},
}

var cloudCLIs = map[string]struct{}{
	"aws": {}, "az": {}, "gcloud": {}, "gsutil": {}, "kubectl": {}, "terraform": {},
	"eksctl": {}, "oci": {},
}

// matchers run in order; the first hit wins, which keeps families disjoint.
var matchers = []matcher{
	matchHash,
	matchIP,
	matchTechnique,
	matchRepository,
	matchURL,
	matchCloudCommand,
	matchProcess,
	matchDomain,
}

func matchHash(_ *Classifier, s string) (artifact.Artifact, bool) {
	if !hashRe.MatchString(s) {
		return artifact.Artifact{}, false
	}
	kind := artifact.KindSHA256
	switch len(s) {
	case 32:
		kind = artifact.KindMD5
	case 40:
		kind = artifact.KindSHA1
	}
	return artifact.Artifact{Type: artifact.TypeIOC, Kind: kind, Canonical: strings.ToLower(s)}, true
}

func matchIP(_ *Classifier, s string) (artifact.Artifact, bool) {
	if addr, err := netip.ParseAddr(s); err == nil {
		kind := artifact.KindIPv6
		if addr.Unmap().Is4() {
			kind = artifact.KindIPv4
			addr = addr.Unmap()
		}
		return artifact.Artifact{Type: artifact.TypeIOC, Kind: kind, Canonical: addr.String()}, true
	}
	if p, err := netip.ParsePrefix(s); err == nil {
		return artifact.Artifact{Type: artifact.TypeIOC, Kind: artifact.KindCIDR, Canonical: p.Masked().String()}, true
	}
	return artifact.Artifact{}, false
}

// CanonicalTechnique returns the upper-case ATT&CK id carried by s, if any.
func CanonicalTechnique(s string) (string, bool) {
	m := techniqueRe.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return "", false
	}
	return strings.ToUpper(m[1]), true
}

func matchTechnique(_ *Classifier, s string) (artifact.Artifact, bool) {
	id, ok := CanonicalTechnique(s)
	if !ok {
		return artifact.Artifact{}, false
	}
	return artifact.Artifact{Type: artifact.TypeTechnique, Canonical: id, Keywords: techniqueKeywords(id)}, true
}

func techniqueKeywords(id string) []string {
	kw := []string{id}
	parent, _, sub := strings.Cut(id, ".")
	if sub {
		kw = append(kw, parent)
	}
	if name, ok := techniqueNames[id]; ok {
		kw = append(kw, name)
	}
	if sub {
		if name, ok := techniqueNames[parent]; ok {
			kw = append(kw, name)
		}
	}
	return kw
}

func matchRepository(c *Classifier, s string) (artifact.Artifact, bool) {
	var host, owner, name string
	if m := hostedRepo.FindStringSubmatch(s); m != nil {
		host, owner, name = m[1], m[2], m[3]
	} else if m := genericRepo.FindStringSubmatch(s); m != nil {
		host = m[1]
		if host == "" {
			host = m[2]
		}
		dir, base := path.Split(strings.Trim(m[3], "/"))
		owner, name = strings.Trim(dir, "/"), base
	} else {
		return artifact.Artifact{}, false
	}
	host, owner, name = strings.ToLower(host), strings.ToLower(owner), strings.ToLower(name)

	canonical := host + "/" + name
	if owner != "" {
		canonical = host + "/" + owner + "/" + name
	}
	a := artifact.Artifact{Type: artifact.TypeRepository, Canonical: canonical}
	a.Keywords = append(a.Keywords, name)
	if owner != "" {
		a.Keywords = append(a.Keywords, owner)
	}
	a.Sub = append(a.Sub, artifact.Artifact{Raw: name, Type: artifact.TypeProcess, Canonical: name})
	return a, true
}

func matchURL(c *Classifier, s string) (artifact.Artifact, bool) {
	if strings.ContainsAny(s, " \t\n") {
		return artifact.Artifact{}, false
	}
	u, err := url.Parse(s)
	if err != nil || u.Host == "" {
		return artifact.Artifact{}, false
	}
	u.Scheme = strings.ToLower(u.Scheme)
	switch u.Scheme {
	case "http", "https", "ftp", "ftps", "ws", "wss":
	default:
		return artifact.Artifact{}, false
	}
	u.Host = strings.ToLower(u.Host)
	a := artifact.Artifact{Type: artifact.TypeIOC, Kind: artifact.KindURL, Canonical: u.String()}

	host := strings.TrimSuffix(u.Hostname(), ".")
	if sub, ok := matchIP(c, host); ok {
		sub.Raw = host
		a.Sub = append(a.Sub, sub)
	} else if sub, ok := matchDomain(c, host); ok {
		sub.Raw = host
		a.Sub = append(a.Sub, sub)
	}
	return a, true
}

func matchDomain(_ *Classifier, s string) (artifact.Artifact, bool) {
	if !domainRe.MatchString(s) {
		return artifact.Artifact{}, false
	}
	return artifact.Artifact{
		Type:      artifact.TypeIOC,
		Kind:      artifact.KindDomain,
		Canonical: strings.TrimSuffix(strings.ToLower(s), "."),
	}, true
}

// matchProcess recognizes Windows executables and scripts, Unix binary
// paths and bare names of well known tools.
func matchProcess(c *Classifier, s string) (artifact.Artifact, bool) {
	s = strings.Trim(s, `"'`)
	isWinPath := winPathRe.MatchString(s)
	if strings.ContainsAny(s, " \t\n") && !isWinPath {
		return artifact.Artifact{}, false
	}

	base := s
	if i := strings.LastIndexAny(base, `\/`); i >= 0 {
		base = base[i+1:]
	}
	if base == "" {
		return artifact.Artifact{}, false
	}
	lower := strings.ToLower(base)
	_, execExt := executableExts[path.Ext(lower)]

	switch {
	case execExt:
	case isWinPath:
	case strings.HasPrefix(s, "/") || strings.HasPrefix(s, "./"):
	case c.keywords.known(lower):
	default:
		return artifact.Artifact{}, false
	}
	return artifact.Artifact{Type: artifact.TypeProcess, Canonical: lower}, true
}

// refang undoes the usual defanging of shared indicators.
func refang(s string) string {
	r := strings.NewReplacer("[.]", ".", "(.)", ".", "{.}", ".", "[dot]", ".", "[:]", ":", "[://]", "://")
	s = r.Replace(s)
	lower := strings.ToLower(s)
	for _, p := range []string{"hxxps", "hxxp"} {
		if strings.HasPrefix(lower, p) {
			s = "http" + s[len("hxxp"):]
			break
		}
	}
	return s
}
