package usecase

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"support-chain/internal/domain"
)

const probePrompt = "Reply with OK."

// completionContent is the only part of a completion body the chain reads.
type completionContent struct {
	Choices []struct {
		Message struct {
			Content *string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// buildStagePrompt renders the prompt for stage from the query and the
// outputs of the stages before it. Prior outputs are embedded verbatim.
func buildStagePrompt(stage domain.Stage, query string, prior []string) (string, error) {
	if len(prior) < int(stage)-1 {
		return "", fmt.Errorf("usecase: stage %d needs %d prior outputs, have %d", int(stage), int(stage)-1, len(prior))
	}
	switch stage {
	case domain.StageIntentSummary:
		return intentSummaryPrompt(query), nil
	case domain.StageCategoryMapping:
		return categoryMappingPrompt(prior[0]), nil
	case domain.StageCategorySelection:
		return categorySelectionPrompt(prior[1], prior[0]), nil
	case domain.StageMissingInformation:
		return missingInformationPrompt(prior[2], prior[0]), nil
	case domain.StageResponseDraft:
		return responseDraftPrompt(prior[0], prior[2], prior[3]), nil
	default:
		return "", fmt.Errorf("usecase: unknown stage %d", int(stage))
	}
}

func intentSummaryPrompt(query string) string {
	return strings.Join([]string{
		"You are an empathetic bank support assistant. Analyze the customer query below and",
		"provide a concise, single-paragraph summary of their core intent. Focus purely on",
		"understanding the problem, not on solving it yet. Preserve key details like dates,",
		"amounts, or specific items mentioned.",
		"",
		"```",
		query,
		"```",
	}, "\n")
}

func categoryMappingPrompt(summary string) string {
	return strings.Join([]string{
		fmt.Sprintf("Based on the summarized intent: '%s', identify between 1 and 3 of the most", summary),
		"relevant categories from the provided list.",
		"",
		"The categories are:",
		"[" + strings.Join(domain.Categories, ", ") + "].",
		"List the categories separated by a comma.",
	}, "\n")
}

func categorySelectionPrompt(categories, summary string) string {
	return strings.Join([]string{
		fmt.Sprintf("From the list of possible categories: '%s', and considering the original", categories),
		fmt.Sprintf("summarized intent: '%s', select the single most appropriate category that", summary),
		"the bank needs to address. Your response must be only the category name, with no",
		"extra text or punctuation.",
	}, "\n")
}

func missingInformationPrompt(category, summary string) string {
	return strings.Join([]string{
		fmt.Sprintf("The customer query has been classified as '%s'.", category),
		fmt.Sprintf("Review the summarized intent: '%s'. Based on this category, what critical", summary),
		"piece(s) of information are still missing from the customer's query that a bank",
		"representative would need to solve the issue? (e.g., specific transaction date,",
		"amount, account number, card type, exact error message). If no further details are",
		fmt.Sprintf("immediately needed, respond with '%s'.", domain.NoneNeeded),
	}, "\n")
}

func responseDraftPrompt(summary, category, missing string) string {
	return strings.Join([]string{
		fmt.Sprintf("You are a bank support assistant. The customer's intent is: '%s'.", summary),
		fmt.Sprintf("The final category is: '%s'. The missing information", category),
		fmt.Sprintf("required is: '%s'.", missing),
		"",
		"Draft a short, empathetic, and professional response to the customer.",
		"Your response should first acknowledge their problem and then, depending",
		"on the missing information above, either state that you are now preparing",
		"to help or politely request the missing details before proceeding. Keep the",
		"response under 50 words.",
	}, "\n")
}

// extractContent reads choices[0].message.content from a completion body.
func extractContent(resp *domain.CompletionResponse) (string, error) {
	if resp == nil || len(resp.Body) == 0 {
		return "", fmt.Errorf("usecase: empty completion body: %w", domain.ErrMalformedResponse)
	}
	var payload completionContent
	dec := json.NewDecoder(bytes.NewReader(resp.Body))
	if err := dec.Decode(&payload); err != nil {
		return "", fmt.Errorf("usecase: decode completion: %v: %w", err, domain.ErrMalformedResponse)
	}
	if len(payload.Choices) == 0 {
		return "", fmt.Errorf("usecase: no choices in completion: %w", domain.ErrMalformedResponse)
	}
	content := payload.Choices[0].Message.Content
	if content == nil {
		return "", fmt.Errorf("usecase: completion has no message content: %w", domain.ErrMalformedResponse)
	}
	return *content, nil
}

var errCategoryNotAllowed = fmt.Errorf("category outside the allowed set: %w", domain.ErrMalformedResponse)

// checkCategoryList enforces that a category mapping names 1 to 3 known labels.
func checkCategoryList(list string) error {
	var labels []string
	for _, part := range strings.Split(list, ",") {
		if part = strings.TrimSpace(part); part != "" {
			labels = append(labels, part)
		}
	}
	if len(labels) < 1 || len(labels) > 3 {
		return fmt.Errorf("%w: expected 1 to 3 categories, got %d", errCategoryNotAllowed, len(labels))
	}
	for _, l := range labels {
		if _, ok := domain.CanonicalCategory(l); !ok {
			return fmt.Errorf("%w: %q", errCategoryNotAllowed, l)
		}
	}
	return nil
}

// checkCategory returns the canonical spelling of a single known label.
func checkCategory(label string) (string, error) {
	canonical, ok := domain.CanonicalCategory(label)
	if !ok {
		return "", fmt.Errorf("%w: %q", errCategoryNotAllowed, label)
	}
	return canonical, nil
}
