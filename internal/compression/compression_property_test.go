package compression

import (
	"context"
	"reflect"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/mgx-platform/agentcore/internal/model"
)

// TestCutIndexNeverSplitsToolExchangeProperty verifies invariant 6: a
// context-compressed message list never cuts between an assistant tool_call
// and its matching tool result, for an arbitrary transcript of
// tool-call/tool-result exchanges interleaved with plain text turns.
func TestCutIndexNeverSplitsToolExchangeProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("cutIndex never separates a tool_use from its tool_result", prop.ForAll(
		func(tc transcriptCase) bool {
			mw, err := New(Options{RetainMessages: tc.retain, Summarizer: &fakeSummarizer{digest: "d"}})
			if err != nil {
				return false
			}
			cut := mw.cutIndex(tc.messages)
			return !splitsToolExchange(tc.messages, cut)
		},
		genTranscriptCase(),
	))

	properties.TestingRun(t)
}

// TestCompressPreservesRetainedSuffixCountProperty verifies invariant 6's
// second half: compress -> decompress(approximate) preserves the count of
// preserved recent messages, i.e. the suffix kept verbatim after compression
// has exactly as many messages as the cut point allowed, never fewer.
func TestCompressPreservesRetainedSuffixCountProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("the suffix after the resolved cut point survives compression unchanged", prop.ForAll(
		func(tc transcriptCase) bool {
			mw, err := New(Options{TriggerMessages: 1, RetainMessages: tc.retain, Summarizer: &fakeSummarizer{digest: "digest"}})
			if err != nil {
				return false
			}
			cut := mw.cutIndex(tc.messages)
			want := tc.messages[cut:]

			req := &model.Request{Messages: append([]model.Message{}, tc.messages...)}
			if err := mw.BeforeModel(context.Background(), req); err != nil {
				return false
			}
			if cut == 0 {
				return sameMessages(req.Messages, tc.messages)
			}
			got := req.Messages[1:] // index 0 is the synthesized digest message
			return sameMessages(got, want)
		},
		genTranscriptCase(),
	))

	properties.TestingRun(t)
}

// sameMessages compares by content rather than reflect.DeepEqual, since an
// empty nil slice and an empty non-nil slice are equivalent here but not
// DeepEqual-equal.
func sameMessages(a, b []model.Message) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !reflect.DeepEqual(a[i], b[i]) {
			return false
		}
	}
	return true
}

type transcriptCase struct {
	messages []model.Message
	retain   int
}

// genTranscriptCase builds a random sequence of plain-text turns with
// occasional tool_use/tool_result pairs inserted as adjacent messages, so
// the generator can also produce transcripts with no tool exchanges at all
// (cutIndex should be a no-op boundary shift in that case).
func genTranscriptCase() gopter.Gen {
	return gen.IntRange(0, 12).FlatMap(func(n any) gopter.Gen {
		count := n.(int)
		return gen.SliceOfN(count, gen.OneConstOf(
			"text", "text", "tool",
		)).FlatMap(func(kinds any) gopter.Gen {
			return gen.IntRange(1, count+3).Map(func(retain int) transcriptCase {
				return buildTranscriptCase(kinds.([]string), retain)
			})
		}, reflect.TypeOf(transcriptCase{}))
	}, reflect.TypeOf(transcriptCase{}))
}

func buildTranscriptCase(kinds []string, retain int) transcriptCase {
	var messages []model.Message
	id := 0
	for _, k := range kinds {
		if k == "tool" {
			id++
			toolID := "call-" + string(rune('a'+id%26))
			messages = append(messages,
				model.Message{Role: model.RoleAssistant, Parts: []model.Part{model.ToolUsePart{ID: toolID, Name: "do_thing"}}},
				model.Message{Role: model.RoleTool, Parts: []model.Part{model.ToolResultPart{ToolUseID: toolID, Content: "ok"}}},
			)
			continue
		}
		messages = append(messages, model.Message{Role: model.RoleUser, Parts: []model.Part{model.TextPart{Text: "turn"}}})
	}
	return transcriptCase{messages: messages, retain: retain}
}
