package cortex

import (
	"strings"
)

// section is one labelled block of clinical text gathered from the context.
type section struct {
	title string
	stage string
	key   string
}

// clinicalSections lists, in precedence order, the outputs that carry text
// a model can reason over.
var clinicalSections = []section{
	{title: "Direct Input", stage: InputStage, key: "text_content"},
	{title: "Session Transcript", stage: StepTranscribe, key: "transcript"},
	{title: "Intake Form", stage: StepIntake, key: "form_text"},
	{title: "Document Text", stage: StepOCR, key: "extracted_text"},
}

// gatherClinicalText concatenates the available sections under headers.
// It returns the number of sections found.
func gatherClinicalText(ec *ExecutionContext) (string, int) {
	var b strings.Builder
	found := 0
	for _, s := range clinicalSections {
		text, ok := ec.GetString(s.stage, s.key)
		if !ok {
			continue
		}
		if found > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString("## ")
		b.WriteString(s.title)
		b.WriteString("\n")
		b.WriteString(strings.TrimSpace(text))
		found++
	}
	return b.String(), found
}

// stageOptions resolves the provider options fixed at build time.
func stageOptions(deps StepDeps) (Options, error) {
	prompt, err := deps.Prompts.Resolve(deps.Stage.PromptKey)
	if err != nil {
		return Options{}, err
	}
	return Options{Model: deps.Stage.Model, Prompt: prompt}, nil
}

// runOptions adds per-run settings to the build-time options.
func runOptions(base Options, ec *ExecutionContext) Options {
	opts := base
	if tier, ok := ec.Tier(); ok && tier == TierGhost {
		opts.Ephemeral = true
	}
	return opts
}
