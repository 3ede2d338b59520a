package preferences

import (
	"fmt"
	"strings"
)

// Directive defaults used when a profile is missing or a field is unset.
const (
	DefaultTone           = "neutral"
	DefaultLanguage       = "English"
	DefaultFinancialStyle = "balanced"
	DefaultPersona        = "professional financial"
)

// Directives renders the per-turn style instruction. A nil profile
// yields the defaults.
func Directives(p *Profile) string {
	tone, lang, style, persona := DefaultTone, DefaultLanguage, DefaultFinancialStyle, DefaultPersona
	if p != nil {
		tone = orDefault(p.Tone, tone)
		lang = orDefault(p.Language, lang)
		style = orDefault(p.FinancialStyle, style)
		persona = orDefault(p.Persona, persona)
	}
	return fmt.Sprintf("Please respond in a %s tone, in %s, using a %s financial style. Act as a %s advisor.",
		tone, lang, style, persona)
}

// ProfileInstruction renders the context-refresh block appended to a
// user's thread when their profile is first applied (updated=false)
// or changes (updated=true).
func ProfileInstruction(p Profile, updated bool) string {
	header := "**Initial preferences set.**"
	if updated {
		header = "**Updated preferences received.**"
	}

	var b strings.Builder
	b.WriteString(header)
	b.WriteString("\n\n")
	for _, line := range [][2]string{
		{"Name", orDefault(p.Nickname, "User")},
		{"Age", orDefault(p.Age, "N/A")},
		{"Profession", orDefault(p.Profession, "N/A")},
		{"Income Range", orDefault(p.IncomeRange, "N/A")},
		{"Financial Goals", orDefault(p.FinancialGoals, "N/A")},
		{"Risk Tolerance", orDefault(p.RiskTolerance, "N/A")},
		{"Communication Style", orDefault(p.CommunicationStyle, "N/A")},
		{"Extra Info", orDefault(p.ExtraInfo, "None")},
	} {
		fmt.Fprintf(&b, "- %s: %s\n", line[0], line[1])
	}
	b.WriteString("\nUse this profile to personalize tone, advice, and responses.")
	return b.String()
}

func orDefault(v, def string) string {
	if v = strings.TrimSpace(v); v != "" {
		return v
	}
	return def
}
