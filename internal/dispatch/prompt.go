package dispatch

import (
	"fmt"
	"strings"
)

// PromptSection renders the skills block appended to the persona's system
// prompt. It is empty when the persona has no enabled skill.
func (d *Dispatcher) PromptSection() string {
	if len(d.enabled) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("\n\n[AVAILABLE SKILLS]\n")
	b.WriteString("You have access to the following skills. To use one, output the specific tag.\n")
	for _, name := range d.enabled {
		desc := "(unavailable)"
		var params []string
		if def, ok := d.registry.Get(name); ok {
			desc = def.Description
			for _, p := range def.Params {
				if p.Required {
					params = append(params, p.Name+" (required)")
				} else {
					params = append(params, p.Name)
				}
			}
		}
		fmt.Fprintf(&b, "- %s: %s\n", name, desc)
		fmt.Fprintf(&b, "  Usage: [[CALL_SKILL: %s | {JSON Arguments}]]\n", name)
		if len(params) > 0 {
			fmt.Fprintf(&b, "  Arguments: %s\n", strings.Join(params, ", "))
		}
	}

	b.WriteString("\n[SKILL EXECUTION RULES]\n")
	b.WriteString("1. Output the [[CALL_SKILL]] tag on a new line.\n")
	b.WriteString("2. The system will intercept this tag, execute the code, and return the result.\n")
	b.WriteString("3. DO NOT hallucinate the result. Wait for the system response.\n")
	return b.String()
}
