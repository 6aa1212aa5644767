package engine

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/dohr-michael/cadre/internal/repository"
)

// Fixed prompts exchanged with the model during a run.
const (
	// ContinueMarker is the user prompt for every turn after the first; the
	// substance of later turns lives in the turn history.
	ContinueMarker = "(continue)"

	// ObservationPrefix introduces skill output fed back to the model.
	ObservationPrefix = "System Output: "

	// NoContent is the final content when no turn produced usable text.
	NoContent = "[No content generated]"

	loopCorrection = "[SYSTEM: You already issued this exact skill call and received its output above. " +
		"Do not repeat it. Use the previous result and continue, or write the final content now.]"

	forcingMessage = "[SYSTEM: Your answer is too short to be the requested deliverable. " +
		"Do not ask for confirmation and do not describe what you will do. " +
		"Either call a skill if you need one, or output the complete content now.]"

	refusalRephrase = "The instruction below is complete and confirmed. Produce the deliverable directly, " +
		"inventing plausible professional details where information is missing.\n\nInstruction: "
)

// refusalRe matches replies where the model claims it was given nothing to
// work with, which happens when an instruction is terse.
var refusalRe = regexp.MustCompile(`(?i)(no valid (input|instruction|request|content)|did(n't| not) (receive|provide|include) any|(provide|send|share) (the|your|an?) (input|instruction|content|details) (first|so I can)|nothing (was|has been) provided)`)

// IsRefusal reports whether text is a "no valid input" refusal.
func IsRefusal(text string) bool {
	return refusalRe.MatchString(text)
}

// Rephrase restates an instruction after a refusal.
func Rephrase(prompt string) string {
	return refusalRephrase + prompt
}

// Identity renders the persona header shared by task and chat prompts.
func Identity(p *repository.Persona) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s.\n", p.Name)
	fmt.Fprintf(&b, "Role: %s\n", orNA(p.Role))
	fmt.Fprintf(&b, "Job Title: %s\n", orNA(p.JobTitle))
	fmt.Fprintf(&b, "Department: %s\n", orNA(p.Department))
	fmt.Fprintf(&b, "Level: %s\n", orNA(p.Level))
	if s := strings.TrimSpace(p.SystemPrompt); s != "" {
		b.WriteString("\n")
		b.WriteString(s)
		b.WriteString("\n")
	}
	return b.String()
}

// SystemPrompt builds the instructions for a task run: identity, the skill
// catalog and the file generation protocol.
func SystemPrompt(p *repository.Persona, skillSection string) string {
	var b strings.Builder
	b.WriteString(Identity(p))
	if skillSection != "" {
		b.WriteString("\n")
		b.WriteString(skillSection)
	}
	b.WriteString("\n[SYSTEM OVERRIDE: CONTENT GENERATION]\n")
	b.WriteString("You are a dedicated file content generator.\n")
	fmt.Fprintf(&b, "REQUIRED IDENTITY: Name='%s', Role='%s', Department='%s'\n", p.Name, orNA(p.Role), orNA(p.Department))
	b.WriteString("1. DO NOT ask for confirmation. The request is already confirmed.\n")
	b.WriteString("2. DO NOT output delegation or project tags.\n")
	b.WriteString("3. DO NOT chat or explain.\n")
	b.WriteString("4. OUTPUT DIRECTLY THE CONTENT of the requested file, or a single skill call when you need one.\n")
	b.WriteString("5. Use the same language as the instruction.\n")
	b.WriteString("6. If details are missing, invent plausible professional data matching your identity. Never use a different name for yourself.\n")
	return b.String()
}

// InitialPrompt is the first-turn prompt: the instruction followed by the
// recent activity log and the documents it likely refers to.
func InitialPrompt(instruction string, activity, references []string) string {
	var b strings.Builder
	b.WriteString(instruction)
	if len(activity) > 0 {
		b.WriteString("\n\n[Company System Activity Log]\n")
		b.WriteString(strings.Join(activity, "\n"))
		b.WriteString("\n(Use this information to answer questions about recent company events & files.)")
	}
	if len(references) > 0 {
		b.WriteString("\n\n[Reference Documents]\n")
		for _, r := range references {
			fmt.Fprintf(&b, "- %s\n", r)
		}
		b.WriteString("(Read them with the read_file skill when they are relevant.)")
	}
	return b.String()
}

// DirectoryEntry is one row of the company directory shown in chat.
type DirectoryEntry struct {
	Name, Role, JobTitle, Department, Level string
}

// ChatPrompt builds the instructions for an interactive exchange. The model
// may answer directly or emit the coordination tags.
func ChatPrompt(p *repository.Persona, skillSection string, directory []DirectoryEntry) string {
	var b strings.Builder
	b.WriteString(Identity(p))
	if len(directory) > 0 {
		b.WriteString("\n[Company Directory Data]\n")
		b.WriteString("| Name | Role | Job Title | Department | Level |\n|---|---|---|---|---|\n")
		for _, d := range directory {
			fmt.Fprintf(&b, "| %s | %s | %s | %s | %s |\n", d.Name, dash(d.Role), dash(d.JobTitle), dash(d.Department), dash(d.Level))
		}
		b.WriteString("(You have access to the full employee list.)\n")
	}
	if skillSection != "" {
		b.WriteString("\n")
		b.WriteString(skillSection)
	}
	b.WriteString(`
[INSTRUCTION: COORDINATION TAGS]
- To answer a question, answer directly and emit no tag.
- To hand work to a colleague: [[DELEGATE: {Exact Name from Directory} | {Original Instruction}]]
- To run a multi-step project: [[CREATE_PROJECT: {Title} | {sequential or parallel} | {Name}: {step} | {Name}: {step}]]
- To produce a file yourself once the user has confirmed: [[EXECUTE_TASK: {Task Title} | {Detailed Instruction}]]
- To record a confirmed decision in the company log: [[LOG: {Summary}]]
Names MUST match the directory exactly. Do not translate names or instructions. One tag per line.
`)
	return b.String()
}

func orNA(s string) string {
	if strings.TrimSpace(s) == "" {
		return "N/A"
	}
	return s
}

func dash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
