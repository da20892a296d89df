// Package prompts holds the instructions sent to the language model.
//
// Prompt text is Go code rather than config because it is program logic:
// the search protocol described here is the same one the reasoning loop
// parses, so the two change together. Operators can replace the
// assistant's identity with a persona file; the protocol section is
// always appended.
package prompts
