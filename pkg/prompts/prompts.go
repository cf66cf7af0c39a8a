// Package prompts holds the fixed prompt templates the engine renders for
// summaries, titling, profile maintenance, and context injection.
package prompts

import (
	"fmt"
	"strings"
)

// DefaultSummary is the sentinel used when summarization fails or there is
// nothing to summarize yet.
const DefaultSummary = "No summary available yet."

const titleSystem = "You are a helpful AI assistant that generates concise, descriptive titles for conversations. You will be given the opening messages of a conversation and asked to create a single-line title that captures the main topic. Never use newlines or line breaks in your response."

const titleUserFormat = "Based on the following messages from a conversation with an AI assistant, generate a short, descriptive title (maximum 50 characters) that captures the main topic or purpose of the conversation. Return ONLY the title text on a single line, nothing else.\n\n%s\n"

// Title renders the title-generation prompt pair. Sampled messages should be
// pre-formatted one per line; contextSummary may be empty.
func Title(sampledMessages []string, contextSummary string) (system, user string) {
	var b strings.Builder
	for i, msg := range sampledMessages {
		fmt.Fprintf(&b, "%d. %s\n", i+1, msg)
	}
	if contextSummary != "" && contextSummary != DefaultSummary {
		fmt.Fprintf(&b, "\nConversation summary so far: %s\n", contextSummary)
	}
	return titleSystem, fmt.Sprintf(titleUserFormat, b.String())
}

const convSummaryShortFormat = "Summarize the following conversation in one or two sentences. Capture the user's goal and the current state of the discussion. Respond with the summary only.\n\n%s"

// ConversationSummaryShort renders the short-summary prompt.
func ConversationSummaryShort(transcript string) string {
	return fmt.Sprintf(convSummaryShortFormat, transcript)
}

const convSummaryFullFormat = "Write a detailed summary of the following conversation. Include the user's goals, decisions made, open questions, and any resources discussed. Then list the main topics, one per line, prefixed with 'TOPIC: '. Respond with the summary followed by the topic lines.\n\n%s"

// ConversationSummaryFull renders the full-summary prompt.
func ConversationSummaryFull(transcript string) string {
	return fmt.Sprintf(convSummaryFullFormat, transcript)
}

const projectSummaryFormat = "The following are summaries of the conversations in the project %q. Write a concise project summary that captures what the project is about and its current state. Respond with the summary only.\n\n%s"

// ProjectSummary renders the project-summary prompt over per-conversation
// summaries.
func ProjectSummary(projectName string, conversationSummaries []string) string {
	return fmt.Sprintf(projectSummaryFormat, projectName, strings.Join(conversationSummaries, "\n---\n"))
}

// ContextMemory renders the system message injecting project and conversation
// memory into a prompt. Empty sections are omitted.
func ContextMemory(projectName, projectSummary string, projectResources []string, convSummary string, convTopics, convResources []string) string {
	var b strings.Builder
	b.WriteString("Context from earlier in this workspace:\n")

	if projectSummary != "" {
		fmt.Fprintf(&b, "\n## Project: %s\n%s\n", projectName, projectSummary)
		if len(projectResources) > 0 {
			b.WriteString("Project resources: " + strings.Join(projectResources, ", ") + "\n")
		}
	}

	if convSummary != "" {
		fmt.Fprintf(&b, "\n## Conversation so far\n%s\n", convSummary)
		if len(convTopics) > 0 {
			b.WriteString("Topics: " + strings.Join(convTopics, ", ") + "\n")
		}
		if len(convResources) > 0 {
			b.WriteString("Conversation resources: " + strings.Join(convResources, ", ") + "\n")
		}
	}

	return b.String()
}

// UserProfile renders the system message carrying the user profile, grouped
// by category.
func UserProfile(byCategory map[string][]string, categoryOrder []string) string {
	var b strings.Builder
	b.WriteString("What you know about the user:\n")
	for _, cat := range categoryOrder {
		texts := byCategory[cat]
		if len(texts) == 0 {
			continue
		}
		fmt.Fprintf(&b, "- %s: %s\n", cat, strings.Join(texts, "; "))
	}
	return b.String()
}

const profileExtractFormat = `Review this exchange between a user and an AI assistant and extract durable facts about the user. Only extract facts that will remain true beyond this conversation.

User message:
%s

Assistant reply:
%s
%s
Respond with ONLY a JSON array. Each element must have the form {"category": "<category>", "text": "<fact>", "confidence": <0.0-1.0>}. Valid categories: %s. Respond with [] if there is nothing to extract.`

// ProfileExtract renders the JSON-producing profile extraction prompt.
func ProfileExtract(userMessage, assistantReply, contextSummary string, categories []string) string {
	ctx := ""
	if contextSummary != "" {
		ctx = fmt.Sprintf("\nConversation context: %s\n", contextSummary)
	}
	return fmt.Sprintf(profileExtractFormat, userMessage, assistantReply, ctx, strings.Join(categories, ", "))
}

const memoryUpdateFormat = `You maintain a user profile as a bulleted list of facts. Merge the new facts into the existing list: remove duplicates, merge overlapping facts into single re-phrased entries, and drop entries contradicted by newer facts. Keep each entry in the form "- [category] fact text". Respond with ONLY the merged bulleted list.

Existing profile:
%s

New facts:
%s`

// MemoryUpdate renders the profile merge prompt.
func MemoryUpdate(existing, incoming []string) string {
	return fmt.Sprintf(memoryUpdateFormat, strings.Join(existing, "\n"), strings.Join(incoming, "\n"))
}

// ResourceReference renders the text part that points the model at resource
// summaries instead of inline attachments.
func ResourceReference(ids []string) string {
	return fmt.Sprintf("The user attached the following resources (summaries were provided separately): %s", strings.Join(ids, ", "))
}

const resourceTextSummaryFormat = "Summarize the following document in one short paragraph, then one sentence prefixed with 'SHORT: ' capturing its essence.\n\nSource: %s\n\n%s"

// ResourceTextSummary renders the text-extraction summary prompt.
func ResourceTextSummary(source, text string) string {
	return fmt.Sprintf(resourceTextSummaryFormat, source, text)
}

const resourceImageSummary = "Describe this image in one short paragraph, then one sentence prefixed with 'SHORT: ' capturing its essence."

// ResourceImageSummary returns the vision summary prompt.
func ResourceImageSummary() string {
	return resourceImageSummary
}
