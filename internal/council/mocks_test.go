package council_test

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"basegraph.app/council/common/logger"
	"basegraph.app/council/internal/council"
	"basegraph.app/council/internal/gateway"
	"basegraph.app/council/internal/model"
)

type gatewayCall struct {
	Stage   string
	ModelID string
	Prompt  string
}

// fakeGateway scripts a council. Collection answers come from answers;
// judges rank entries by the "quality N" token in their text unless judgeFn
// is set; the chairman echoes a fixed answer.
type fakeGateway struct {
	mu    sync.Mutex
	calls []gatewayCall

	answers map[string]string
	down    map[string]map[string]bool // stage -> model -> fail
	block   map[string]bool            // stage -> wait for ctx
	judgeFn func(judge string, labels []string, texts map[string]string) string
}

func newFakeGateway(answers map[string]string) *fakeGateway {
	return &fakeGateway{
		answers: answers,
		down:    map[string]map[string]bool{},
		block:   map[string]bool{},
	}
}

func (f *fakeGateway) failAt(stage string, modelIDs ...string) *fakeGateway {
	if f.down[stage] == nil {
		f.down[stage] = map[string]bool{}
	}
	for _, id := range modelIDs {
		f.down[stage][id] = true
	}
	return f
}

func (f *fakeGateway) Complete(ctx context.Context, modelID, prompt string, _ time.Duration) (gateway.Completion, error) {
	stage := ""
	if s := logger.GetLogFields(ctx).Stage; s != nil {
		stage = *s
	}

	f.mu.Lock()
	f.calls = append(f.calls, gatewayCall{Stage: stage, ModelID: modelID, Prompt: prompt})
	f.mu.Unlock()

	if f.block[stage] {
		<-ctx.Done()
		return gateway.Completion{}, &gateway.Error{Kind: model.ErrorKindTimeout, ModelID: modelID, Err: ctx.Err()}
	}
	if f.down[stage][modelID] {
		return gateway.Completion{}, &gateway.Error{Kind: model.ErrorKindTransport, ModelID: modelID, Err: errors.New("connection refused")}
	}

	switch stage {
	case council.StageCollect:
		text, ok := f.answers[modelID]
		if !ok {
			return gateway.Completion{}, &gateway.Error{Kind: model.ErrorKindQuota, ModelID: modelID, Err: errors.New("rate limited")}
		}
		return gateway.Completion{ModelID: modelID, Text: text}, nil
	case council.StageReview:
		labels, texts := parseReviewPrompt(prompt)
		judge := rankByQuality
		if f.judgeFn != nil {
			judge = f.judgeFn
		}
		return gateway.Completion{ModelID: modelID, Text: judge(modelID, labels, texts)}, nil
	case council.StageSynthesize:
		return gateway.Completion{ModelID: modelID, Text: "synthesized by " + modelID}, nil
	}
	return gateway.Completion{}, errors.New("unexpected stage " + stage)
}

func (f *fakeGateway) callsAt(stage string) []gatewayCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []gatewayCall
	for _, c := range f.calls {
		if c.Stage == stage {
			out = append(out, c)
		}
	}
	return out
}

var (
	reviewEntry  = regexp.MustCompile(`(?m)^--- (Response-[0-9A-Z]{5}) ---\n([^\n]*)`)
	qualityToken = regexp.MustCompile(`quality (\d+)`)
)

// parseReviewPrompt returns labels in presentation order and their texts.
func parseReviewPrompt(prompt string) ([]string, map[string]string) {
	var labels []string
	texts := map[string]string{}
	for _, m := range reviewEntry.FindAllStringSubmatch(prompt, -1) {
		labels = append(labels, m[1])
		texts[m[1]] = m[2]
	}
	return labels, texts
}

func quality(text string) int {
	m := qualityToken.FindStringSubmatch(text)
	if m == nil {
		return 0
	}
	q, _ := strconv.Atoi(m[1])
	return q
}

func rankByQuality(_ string, labels []string, texts map[string]string) string {
	ordered := append([]string(nil), labels...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return quality(texts[ordered[i]]) > quality(texts[ordered[j]])
	})
	return jsonRanking(ordered)
}

func jsonRanking(labels []string) string {
	body, _ := json.Marshal(map[string][]string{"ranking": labels})
	return "Here is my assessment.\n```json\n" + string(body) + "\n```"
}

func listRanking(labels []string) string {
	var sb strings.Builder
	sb.WriteString("Analysis...\n\nFINAL RANKING:\n")
	for i, l := range labels {
		sb.WriteString(strconv.Itoa(i+1) + ". " + l + "\n")
	}
	return sb.String()
}

type statusRecorder struct {
	mu    sync.Mutex
	snaps []model.StatusSnapshot
}

func (r *statusRecorder) Put(_ context.Context, snap model.StatusSnapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snaps = append(r.snaps, snap)
	return nil
}

func (r *statusRecorder) states() []model.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.State, len(r.snaps))
	for i, s := range r.snaps {
		out[i] = s.State
	}
	return out
}

type auditSink struct {
	mu     sync.Mutex
	trails []model.AuditTrail
	err    error
}

func (s *auditSink) Record(_ context.Context, _ int64, trail model.AuditTrail) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.trails = append(s.trails, trail)
	return nil
}

func deliberation(participants ...string) model.Deliberation {
	return model.Deliberation{
		ID:           42,
		Question:     "How should we shard the ledger?",
		Participants: participants,
		CreatedAt:    time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func successes(ids ...string) []model.ModelResponse {
	out := make([]model.ModelResponse, len(ids))
	for i, id := range ids {
		out[i] = model.ModelResponse{ModelID: id, Text: "answer with quality " + strconv.Itoa(len(ids)-i), Succeeded: true}
	}
	return out
}
