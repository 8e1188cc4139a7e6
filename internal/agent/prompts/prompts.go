// Package prompts embeds the agent prompt files.
package prompts

import "embed"

// FS contains the prompt markdown files.
//
//go:embed *.md
var FS embed.FS
