package council

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"basegraph.app/council/common/llm"
	"basegraph.app/council/internal/model"
)

// rankingReply is the shape judges are asked to return.
type rankingReply struct {
	Ranking []string `json:"ranking" jsonschema:"description=Every response label exactly once ordered best first"`
}

var rankingSchema = sync.OnceValue(func() string {
	schema, err := json.MarshalIndent(llm.GenerateSchema[rankingReply](), "", "  ")
	if err != nil {
		panic(fmt.Sprintf("marshal ranking schema: %v", err))
	}
	return string(schema)
})

func collectPrompt(question string) string {
	return fmt.Sprintf(`Answer the following question as accurately and completely as you can.

Question:
%s`, question)
}

// reviewPrompt carries only the question and labeled texts.
func reviewPrompt(question string, entries []model.AnonymizedEntry) string {
	var sb strings.Builder
	sb.WriteString("You are evaluating several independent answers to the same question.\n\n")
	fmt.Fprintf(&sb, "Question:\n%s\n\n", question)

	for _, e := range entries {
		fmt.Fprintf(&sb, "--- %s ---\n%s\n\n", e.Label, e.Text)
	}

	sb.WriteString("Assess each answer for correctness, completeness and clarity. ")
	sb.WriteString("Then rank every answer from best to worst, using each label exactly once.\n\n")
	sb.WriteString("Reply with a JSON object matching this schema:\n")
	sb.WriteString(rankingSchema())
	sb.WriteString("\n\nIf you cannot produce JSON, end your reply with a section of the form:\n")
	sb.WriteString("FINAL RANKING:\n1. <label>\n2. <label>\n")
	return sb.String()
}

type weightedResponse struct {
	ModelID    string
	BordaScore int
	Share      float64
	Text       string
}

func chairmanPrompt(question string, sources []weightedResponse) string {
	var sb strings.Builder
	sb.WriteString("You chair a council of models that answered the same question and then ranked each other's answers anonymously.\n\n")
	fmt.Fprintf(&sb, "Question:\n%s\n\n", question)

	sb.WriteString("Answers, highest consensus score first:\n\n")
	for _, src := range sources {
		fmt.Fprintf(&sb, "--- %s (Borda score %d, weight %.2f) ---\n%s\n\n", src.ModelID, src.BordaScore, src.Share, src.Text)
	}

	sb.WriteString("Write one final answer to the question. Where the answers conflict, favor the higher-weighted sources. ")
	sb.WriteString("Do not discard lower-weighted answers wholesale; keep any correct points they add.")
	return sb.String()
}
