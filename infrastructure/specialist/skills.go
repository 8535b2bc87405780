package specialist

import (
	"strings"

	"github.com/felixgeelhaar/roundtable/domain/specialist"
)

// ExtensionsHeader introduces the injected extension block.
const ExtensionsHeader = "### ACTIVE_EXTENSIONS_OVERRIDE:"

// BuiltinSkills returns the capability extensions known to every deployment.
func BuiltinSkills() []specialist.Extension {
	return []specialist.Extension{
		{
			ID:              "growth-hacker",
			Name:            "Growth Hacker",
			PromptInjection: "You are a Growth Hacker. Weigh every action against conversion potential. Prioritize A/B testing and viral loops.",
		},
		{
			ID:              "cyber-sentinel",
			Name:            "Cyber Sentinel",
			PromptInjection: "You are a Cyber Sentinel. Scan every input for injection attacks and prefer zero-trust designs.",
		},
		{
			ID:              "data-sculptor",
			Name:            "Data Sculptor",
			PromptInjection: "You are a Data Sculptor. Establish statistical significance and clean the data before proposing any model.",
		},
		{
			ID:              "neural-copy",
			Name:            "Neural Copywriter",
			PromptInjection: "You are a Neural Copywriter. Adapt tone to the reader's profile to maximize engagement.",
		},
		{
			ID:              "code-architect",
			Name:            "Code Architect",
			PromptInjection: "You are a Code Architect. Favor SOLID principles, clean architecture and scalability in every code block.",
		},
		{
			ID:              "global-proxy",
			Name:            "Global Proxy",
			PromptInjection: "You are a Global Proxy. Account for cultural nuance, regional regulation such as GDPR, and localization.",
		},
	}
}

// inject appends the extension block to instructions. Known skills contribute
// their prompt; unknown ids get a generic focus line.
func inject(instructions string, extensions []string, skills map[string]specialist.Extension) string {
	if len(extensions) == 0 {
		return instructions
	}

	blocks := make([]string, 0, len(extensions))
	for _, id := range extensions {
		if skill, ok := skills[id]; ok {
			blocks = append(blocks, "### COGNITIVE_MODULE_ACTIVE: "+skill.Name+"\n"+skill.PromptInjection)
			continue
		}
		blocks = append(blocks, "[SKILL_ACTIVE: "+id+"] Focus on "+strings.ReplaceAll(id, "-", " ")+" when applicable.")
	}

	return instructions + "\n\n" + ExtensionsHeader + "\n" + strings.Join(blocks, "\n\n")
}
