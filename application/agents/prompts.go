package agents

import (
	"encoding/json"
	"fmt"
	"strings"

	"lessonmap-backend/application/ports"
	"lessonmap-backend/domain/core/entities"
	"lessonmap-backend/domain/core/proposals"
	"lessonmap-backend/domain/core/valueobjects"
)

const preamble = "You are an assistant for a lesson-design concept map. " +
	"Every card has an id, a tag, a title and a description. " +
	"The tag is exactly one of: %s. " +
	"Descriptions may use simple HTML such as <p>, <ul>, <li> and <strong>. " +
	"Be concrete and actionable; avoid generic filler.\n\n"

const structuredRules = "Output rules:\n" +
	"- Reply with a single JSON object and nothing else.\n" +
	"- Use double quotes for every key and string value.\n" +
	"- Do not put a comma after the last element of an object or array.\n" +
	"- Never add links between cards.\n"

const conversationalRules = "Output rules:\n" +
	"- Answer the user in a few sentences of plain prose.\n" +
	"- Put the changes you propose in one or more ```json fenced blocks, each holding an object with an actions array.\n" +
	"- Use double quotes for every key and string value.\n" +
	"- Do not put a comma after the last element of an object or array.\n" +
	"- Never add links between cards.\n"

var systemPrompts = map[proposals.Operation]string{
	proposals.OperationRefine: "Your task is to refine one card according to the user's instruction. " +
		"Make the description more specific and detailed. Keep the title unless the refined content clearly needs a better one.\n" +
		"Keep the original id and tag unchanged.\n" +
		"Example:\n" +
		"```json\n" +
		`{"new_node": {"id": "123", "title": "Group experiment: build a solar oven", "description": "<p>Students design and test a solar oven using cardboard, foil and cling film...</p>", "tag": "Activity"}}` + "\n" +
		"```",

	proposals.OperationCorrect: "Your task is to correct one card according to the user's instruction. " +
		"Fix factual, logical and wording problems so the card is accurate, coherent and professional.\n" +
		"Keep the original id and tag unchanged.\n" +
		"Example:\n" +
		"```json\n" +
		`{"new_node": {"id": "123", "title": "Group experiment: build a solar oven", "description": "<p>(corrected content)</p>", "tag": "Activity"}}` + "\n" +
		"```",

	proposals.OperationSplit: "Your task is to split one card into several smaller, more specific cards, one per core idea or step.\n" +
		"Return old_node_id, the id of the original card, and new_nodes, the new cards. " +
		"Each new card has a tag, a non-empty title and a description. " +
		"A new card may keep the original tag or use another of the allowed tags. Leave id empty.\n" +
		"Example:\n" +
		"```json\n" +
		`{"old_node_id": "123", "new_nodes": [{"id": "", "tag": "Activity", "title": "Step 1: ...", "description": "<p>...</p>"}, {"id": "", "tag": "Assessment", "title": "Check: ...", "description": "<p>...</p>"}]}` + "\n" +
		"```",

	proposals.OperationSync: "Your task is to rewrite the current card so that it agrees with the connected cards. " +
		"The title and description must be consistent with them.\n" +
		"Keep the original id and tag unchanged.\n" +
		"Example:\n" +
		"```json\n" +
		`{"new_node": {"id": "123", "title": "Title", "description": "<p>Detailed description</p>", "tag": "Strategy"}}` + "\n" +
		"```",

	proposals.OperationInfluence: "Your task is to rewrite the connected cards so they relate more closely to the core card, " +
		"extending or deepening them according to the user's instruction.\n" +
		"Return every changed connected card in new_nodes. Only include cards from the connected list. " +
		"Keep each card's original id and tag unchanged.\n" +
		"Example:\n" +
		"```json\n" +
		`{"new_nodes": [{"id": "456", "title": "(updated title)", "description": "<p>(updated description)</p>", "tag": "Resource"}, {"id": "789", "title": "(updated title)", "description": "<p>(updated description)</p>", "tag": "Activity"}]}` + "\n" +
		"```",

	proposals.OperationGenerate: "Your task is to help the user build the whole lesson map. " +
		"Read the current map and the conversation so far, answer the request and propose cards to add or existing cards to modify.\n" +
		"Every action has option \"add\" or \"modify\". An add action has a tag, a title and a description. " +
		"A modify action also names the card_id of an existing card and keeps that card's tag.\n" +
		"Example:\n" +
		"I added an exit ticket and tightened the objective.\n" +
		"```json\n" +
		`{"actions": [{"option": "add", "tag": "Assessment", "title": "Exit ticket", "description": "<p>Three questions on ...</p>"}, {"option": "modify", "card_id": "123", "tag": "Objective", "title": "(updated title)", "description": "<p>(updated description)</p>"}]}` + "\n" +
		"```",
}

var instructionLabels = map[proposals.Operation]string{
	proposals.OperationRefine:    "Refinement instruction",
	proposals.OperationCorrect:   "Correction instruction",
	proposals.OperationSplit:     "Split instruction",
	proposals.OperationSync:      "Sync instruction",
	proposals.OperationInfluence: "Influence instruction",
	proposals.OperationGenerate:  "Request",
}

// promptCard is the part of a card shown to the model.
type promptCard struct {
	ID          string           `json:"id"`
	Tag         valueobjects.Tag `json:"tag"`
	Title       string           `json:"title"`
	Description string           `json:"description"`
}

func toPromptCard(c entities.CardSnapshot) promptCard {
	return promptCard{ID: c.ID, Tag: c.Tag, Title: c.Title, Description: c.Description}
}

type promptLink struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Label  string `json:"label,omitempty"`
}

// promptMap is the whole graph as shown to the model.
type promptMap struct {
	Cards []promptCard `json:"cards"`
	Links []promptLink `json:"links"`
}

func toPromptMap(view MapView) promptMap {
	m := promptMap{
		Cards: make([]promptCard, len(view.Cards)),
		Links: make([]promptLink, len(view.Links)),
	}
	for i, c := range view.Cards {
		m.Cards[i] = toPromptCard(c)
	}
	for i, l := range view.Links {
		m.Links[i] = promptLink{Source: l.Source, Target: l.Target, Label: l.Label}
	}
	return m
}

func systemPrompt(op proposals.Operation) string {
	tags := make([]string, 0, 6)
	for _, t := range valueobjects.AllTags() {
		tags = append(tags, t.String())
	}
	rules := structuredRules
	if op.GraphLevel() {
		rules = conversationalRules
	}
	return fmt.Sprintf(preamble, strings.Join(tags, ", ")) + rules + "\n" + systemPrompts[op]
}

// buildMessages renders the system framing and the user message: the current
// card, the connected cards when the operation reads them, then the
// instruction.
func buildMessages(req Request) ([]ports.Message, error) {
	if req.Operation.GraphLevel() {
		return buildConversation(req)
	}
	current, err := json.MarshalIndent(toPromptCard(req.Card), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode current card: %w", err)
	}

	var b strings.Builder
	if req.Operation == proposals.OperationInfluence {
		b.WriteString("Core card:\n")
	} else {
		b.WriteString("Current card:\n")
	}
	b.Write(current)
	b.WriteString("\n\n")

	if req.Operation.UsesConnected() {
		connected := make([]promptCard, len(req.Connected))
		for i, c := range req.Connected {
			connected[i] = toPromptCard(c)
		}
		data, err := json.MarshalIndent(connected, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("encode connected cards: %w", err)
		}
		b.WriteString("Connected cards:\n")
		b.Write(data)
		b.WriteString("\n\n")
	}

	b.WriteString(instructionLabels[req.Operation])
	b.WriteString(":\n")
	b.WriteString(req.Instruction)

	return []ports.Message{
		{Role: ports.RoleSystem, Content: systemPrompt(req.Operation)},
		{Role: ports.RoleUser, Content: b.String()},
	}, nil
}

// buildConversation renders a graph level request: the system framing, the
// earlier turns, then the current map followed by the new request.
func buildConversation(req Request) ([]ports.Message, error) {
	data, err := json.MarshalIndent(toPromptMap(req.Map), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode map: %w", err)
	}

	var b strings.Builder
	b.WriteString("Current map:\n")
	b.Write(data)
	b.WriteString("\n\n")
	b.WriteString(instructionLabels[req.Operation])
	b.WriteString(":\n")
	b.WriteString(req.Instruction)

	messages := make([]ports.Message, 0, len(req.Map.History)+2)
	messages = append(messages, ports.Message{Role: ports.RoleSystem, Content: systemPrompt(req.Operation)})
	messages = append(messages, req.Map.History...)
	return append(messages, ports.Message{Role: ports.RoleUser, Content: b.String()}), nil
}
