// Package accesspolicy maps tools to sensitivity tiers and tiers to the
// static policy applied on top of RBAC: who may call them, how many may
// run at once, and whether a human has to sign off first.
package accesspolicy

import "strings"

// Tier classifies how dangerous a tool is.
type Tier int

const (
	TierLow Tier = iota
	TierMedium
	TierHigh
	TierCritical
)

func (t Tier) String() string {
	switch t {
	case TierLow:
		return "LOW"
	case TierMedium:
		return "MEDIUM"
	case TierHigh:
		return "HIGH"
	case TierCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// ParseTier converts a string to a Tier. Unrecognized values map to
// TierCritical so a typo in configuration can only over-restrict.
func ParseTier(s string) Tier {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "LOW":
		return TierLow
	case "MEDIUM":
		return TierMedium
	case "HIGH":
		return TierHigh
	default:
		return TierCritical
	}
}

// Profile selects between the permissive development policy and the
// strict production policy.
type Profile int

const (
	ProfileDevelopment Profile = iota
	ProfileProduction
)

// ParseProfile maps a configuration string to a Profile. Unrecognized
// values select production.
func ParseProfile(s string) Profile {
	if strings.EqualFold(strings.TrimSpace(s), "development") {
		return ProfileDevelopment
	}
	return ProfileProduction
}

func (p Profile) String() string {
	if p == ProfileDevelopment {
		return "development"
	}
	return "production"
}

// defaultCatalog is the fixed tool→tier classification.
var defaultCatalog = map[string]Tier{
	"read_file":      TierLow,
	"list_directory": TierLow,
	"write_file":     TierMedium,
	"call_api":       TierMedium,
	"execute_code":   TierHigh,
	"delete_file":    TierHigh,
	"run_shell":      TierCritical,
}

// tierConcurrency is the default max concurrent executions per tier.
var tierConcurrency = map[Tier]int{
	TierLow:      10,
	TierMedium:   5,
	TierHigh:     2,
	TierCritical: 1,
}

// Decision is the outcome of an access check.
type Decision struct {
	Allowed bool
	Reason  string
}

// Policy answers tier, concurrency, approval, and allow-set questions for
// every registered tool under the active profile.
type Policy struct {
	profile Profile
	tiers   map[string]Tier
	admins  map[string]struct{}
}

// New builds a Policy for the given profile. admins is the set of
// identities permitted to invoke CRITICAL tools under production.
func New(profile Profile, admins []string) *Policy {
	p := &Policy{
		profile: profile,
		tiers:   make(map[string]Tier, len(defaultCatalog)),
		admins:  make(map[string]struct{}, len(admins)),
	}
	for tool, tier := range defaultCatalog {
		p.tiers[tool] = tier
	}
	for _, a := range admins {
		if a = strings.TrimSpace(a); a != "" {
			p.admins[a] = struct{}{}
		}
	}
	return p
}

// Register adds or reclassifies a tool.
func (p *Policy) Register(tool string, tier Tier) {
	p.tiers[tool] = tier
}

// Profile returns the active profile.
func (p *Policy) Profile() Profile {
	return p.profile
}

// TierOf returns the tool's tier. Unknown tools report TierCritical and
// ok=false; the enforcement layer treats them as not found.
func (p *Policy) TierOf(tool string) (Tier, bool) {
	tier, ok := p.tiers[tool]
	if !ok {
		return TierCritical, false
	}
	return tier, true
}

// MaxConcurrent returns the concurrency cap derived from the tool's tier.
func (p *Policy) MaxConcurrent(tool string) int {
	tier, ok := p.tiers[tool]
	if !ok {
		return 1
	}
	return tierConcurrency[tier]
}

// RequiresApproval reports whether invoking the tool needs a human
// sign-off. Purely a function of tier and profile.
func (p *Policy) RequiresApproval(tool string) bool {
	tier, ok := p.tiers[tool]
	if !ok {
		return true
	}
	switch p.profile {
	case ProfileDevelopment:
		return tier == TierCritical
	default:
		return tier == TierCritical || tier == TierHigh
	}
}

// CheckAccess applies the tier allow-set for the active profile. Under
// production, CRITICAL tools are restricted to the admin set; development
// leaves them open to all identities (approval still applies).
func (p *Policy) CheckAccess(tool, user string) Decision {
	tier, ok := p.tiers[tool]
	if !ok {
		return Decision{Allowed: false, Reason: "unknown tool " + tool}
	}
	if p.profile == ProfileProduction && tier == TierCritical {
		if _, ok := p.admins[user]; !ok {
			return Decision{Allowed: false, Reason: "tool restricted to administrators"}
		}
	}
	return Decision{Allowed: true}
}

// Tools lists every registered tool name.
func (p *Policy) Tools() []string {
	out := make([]string, 0, len(p.tiers))
	for tool := range p.tiers {
		out = append(out, tool)
	}
	return out
}
