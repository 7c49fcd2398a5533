package policy

// destructive lists commands no preset lets through unattended.
var destructive = []Rule{
	{Pattern: "rm -rf /", Verdict: VerdictForbid, Reason: "removes the root filesystem"},
	{Pattern: "rm -rf /*", Verdict: VerdictForbid, Reason: "removes the root filesystem"},
	{Pattern: "mkfs*", Verdict: VerdictForbid, Reason: "formats a filesystem"},
	{Pattern: "dd if=*", Verdict: VerdictForbid, Reason: "raw block device write"},
	{Pattern: ":(){*", Verdict: VerdictForbid, Reason: "fork bomb"},
	{Pattern: "shutdown:*", Verdict: VerdictConfirm, Reason: "powers off the target"},
	{Pattern: "reboot:*", Verdict: VerdictConfirm, Reason: "reboots the target"},
}

var readOnly = []Rule{
	{Pattern: "df:*", Verdict: VerdictAllow},
	{Pattern: "du:*", Verdict: VerdictAllow},
	{Pattern: "free:*", Verdict: VerdictAllow},
	{Pattern: "uptime", Verdict: VerdictAllow},
	{Pattern: "ls:*", Verdict: VerdictAllow},
	{Pattern: "cat:*", Verdict: VerdictAllow},
	{Pattern: "systemctl status:*", Verdict: VerdictAllow},
	{Pattern: "journalctl:*", Verdict: VerdictAllow},
	{Pattern: "ss:*", Verdict: VerdictAllow},
}

func rules(groups ...[]Rule) []Rule {
	var out []Rule
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}

// PresetStandard returns the "standard" preset: read-only commands run
// unattended, service changes and package installs need confirmation.
func PresetStandard() Profile {
	return Profile{
		Name:        "standard",
		Description: "Read-only diagnostics run directly; changes need confirmation.",
		Rules: rules(destructive, readOnly, []Rule{
			{Pattern: "systemctl restart:*", Verdict: VerdictConfirm},
			{Pattern: "apt-get install:*", Verdict: VerdictConfirm},
		}),
		Default: VerdictConfirm,
	}
}

// PresetStrict returns the "strict" preset: only read-only diagnostics are
// allowed, everything else is forbidden.
func PresetStrict() Profile {
	return Profile{
		Name:        "strict",
		Description: "Diagnostics only.",
		Rules:       rules(destructive, readOnly),
		Default:     VerdictForbid,
	}
}

// PresetPermissive returns the "permissive" preset for trusted tenants:
// anything not destructive runs unattended.
func PresetPermissive() Profile {
	return Profile{
		Name:        "permissive",
		Description: "Everything except destructive commands runs unattended.",
		Rules:       rules(destructive),
		Default:     VerdictAllow,
	}
}

// PresetNames returns the names of all built-in presets.
func PresetNames() []string {
	return []string{"standard", "strict", "permissive"}
}

// PresetByName returns a preset by name, or false if not found.
func PresetByName(name string) (Profile, bool) {
	switch name {
	case "standard":
		return PresetStandard(), true
	case "strict":
		return PresetStrict(), true
	case "permissive":
		return PresetPermissive(), true
	default:
		return Profile{}, false
	}
}
