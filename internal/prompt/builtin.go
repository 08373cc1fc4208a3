package prompt

// Template names.
const (
	FixTemplate    = "fix.md"
	IntentTemplate = "intent.md"
	ReadmeTemplate = "readme.md"
)

var builtinTemplates = map[string]string{
	FixTemplate:    fixTemplate,
	IntentTemplate: intentTemplate,
	ReadmeTemplate: readmeTemplate,
}

const fixTemplate = `You are repairing a single file in an automated pipeline.

File: {{path}}
{{#if function}}Function to focus on: {{function}}
{{/if}}
## Task
{{task}}
{{#if evidence}}
## Failure evidence
{{evidence}}
{{/if}}
## Current content
<<<FILE
{{content}}
FILE>>>

## Rules
- Change only what the task requires. Do not add, remove or rename imports,
  functions, methods or types.
- Keep the change small: a few lines, not a rewrite.
- Respond with the COMPLETE new file content between <<<FILE and FILE>>>.
- If no safe fix exists, respond with exactly: NO_FIX
`

const intentTemplate = `Classify the intent of this request for an automated code-change pipeline.

Requested action: {{action}}

Request:
{{prompt}}

Respond with ONLY one line in the form "<intent> <confidence>", where intent
is one of bugfix, test, refactor, feature, scaffold, unknown and confidence is
a number between 0 and 1. No other text.
`

const readmeTemplate = `Write a README.md for a new project.

Project description:
{{prompt}}
{{#if existing}}
Existing README:
{{existing}}
{{/if}}
Respond with the COMPLETE README content between <<<FILE and FILE>>>.
`
