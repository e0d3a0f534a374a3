package security

// GuildPolicy is the configured access policy the evaluator closes over.
type GuildPolicy struct {
	// AdminRoles satisfy LevelAdmin (and LevelMember).
	AdminRoles []string
	// MemberRoles satisfy LevelMember.
	MemberRoles []string
	// AllowedChannels, when non-empty, is the global channel allow-list
	// applied to commands that do not carry their own channel lists.
	AllowedChannels []string
}

// User-facing denial reasons. Short on purpose; the dispatcher relays
// them verbatim.
const (
	ReasonGuildOnly         = "commands only work in a server channel"
	ReasonChannelRestricted = "this command is not available in this channel"
	ReasonChannelNotAllowed = "this command only works in specific channels"
	ReasonChannelPolicy     = "commands are not enabled in this channel"
	ReasonAdminOnly         = "this command is restricted to admins"
	ReasonMemberOnly        = "this command is for club members"
	ReasonRoleMissing       = "you don't have the required role"
	ReasonUserNotAllowed    = "you are not allowed to use this command"
)

// Evaluator decides permission verdicts. Pure: no I/O, no side effects,
// no shared mutable state; the engine swaps the whole value on config
// reload.
type Evaluator struct {
	admins   map[string]struct{}
	members  map[string]struct{}
	channels map[string]struct{}
}

func NewEvaluator(p GuildPolicy) *Evaluator {
	return &Evaluator{
		admins:   toSet(p.AdminRoles),
		members:  toSet(p.MemberRoles),
		channels: toSet(p.AllowedChannels),
	}
}

// Evaluate applies the checks in order; the first failure wins. The
// order matters: channel restrictions must not be bypassed by broader
// role allow-lists.
func (e *Evaluator) Evaluate(cc CallerContext, req Requirement) Verdict {
	// Direct messages carry no guild membership to evaluate against.
	if cc.GuildID == "" {
		return deny(ReasonGuildOnly)
	}

	// 1. Channel restriction. Restricted list wins over everything,
	// then the command's own allow-list, then the global policy.
	if contains(req.RestrictedChannels, cc.ChannelID) {
		return deny(ReasonChannelRestricted)
	}
	if len(req.AllowedChannels) > 0 {
		if !contains(req.AllowedChannels, cc.ChannelID) {
			return deny(ReasonChannelNotAllowed)
		}
	} else if len(e.channels) > 0 {
		if _, ok := e.channels[cc.ChannelID]; !ok {
			return deny(ReasonChannelPolicy)
		}
	}

	// 2. Level gate. Admins implicitly satisfy member-level gates.
	switch req.Level {
	case LevelAdmin:
		if !intersects(cc.Roles, e.admins) {
			return deny(ReasonAdminOnly)
		}
	case LevelMember:
		if !intersects(cc.Roles, e.admins) && !intersects(cc.Roles, e.members) {
			return deny(ReasonMemberOnly)
		}
	}

	// 3. Custom role allow-list.
	if len(req.AllowedRoles) > 0 && !intersectsSlice(cc.Roles, req.AllowedRoles) {
		return deny(ReasonRoleMissing)
	}

	// 4. User allow-list.
	if len(req.AllowedUsers) > 0 && !contains(req.AllowedUsers, cc.UserID) {
		return deny(ReasonUserNotAllowed)
	}

	return Verdict{Allowed: true}
}

func deny(reason string) Verdict { return Verdict{Reason: reason} }

func toSet(values []string) map[string]struct{} {
	if len(values) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		if v == "" {
			continue
		}
		set[v] = struct{}{}
	}
	return set
}

func contains(values []string, v string) bool {
	for _, x := range values {
		if x == v {
			return true
		}
	}
	return false
}

func intersects(values []string, set map[string]struct{}) bool {
	if len(set) == 0 {
		return false
	}
	for _, v := range values {
		if _, ok := set[v]; ok {
			return true
		}
	}
	return false
}

func intersectsSlice(values, others []string) bool {
	for _, v := range values {
		if contains(others, v) {
			return true
		}
	}
	return false
}
