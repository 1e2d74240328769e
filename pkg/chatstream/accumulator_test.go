package chatstream_test

import (
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/chatstream/pkg/chatstream"
	"github.com/papercomputeco/chatstream/pkg/llm"
	"github.com/papercomputeco/chatstream/pkg/sse"
)

var _ = Describe("Accumulator", func() {
	var (
		rec *recorder
		acc *chatstream.Accumulator
	)

	BeforeEach(func() {
		rec = &recorder{}
		acc = chatstream.NewAccumulator("msg-1", rec.record)
	})

	It("starts empty without publishing", func() {
		Expect(acc.State()).To(Equal(chatstream.StateEmpty))
		Expect(rec.snaps).To(BeEmpty())
	})

	It("moves to streaming on the first delta, even an empty one", func() {
		acc.Append(llm.Delta{})
		Expect(acc.State()).To(Equal(chatstream.StateStreaming))
		Expect(rec.snaps).To(BeEmpty())
	})

	It("publishes the text so far after each non-empty fragment", func() {
		acc.Append(llm.Delta{Content: "Hel"})
		acc.Append(llm.Delta{Content: ""})
		acc.Append(llm.Delta{Content: "lo"})

		Expect(rec.snaps).To(Equal([]chatstream.Snapshot{
			{Text: "Hel"},
			{Text: "Hello"},
		}))
	})

	It("publishes one terminal snapshot on completion", func() {
		acc.Append(llm.Delta{Content: "Hi"})
		acc.Complete(nil)
		acc.Complete(nil)
		acc.Fail(errors.New("late"))

		Expect(acc.State()).To(Equal(chatstream.StateCompleted))
		Expect(rec.snaps).To(HaveLen(2))
		Expect(rec.snaps[1]).To(Equal(chatstream.Snapshot{Text: "Hi", Done: true}))
	})

	It("ignores deltas after completion", func() {
		acc.Append(llm.Delta{Content: "a"})
		acc.Complete(nil)
		acc.Append(llm.Delta{Content: "b"})

		Expect(acc.Message().Text).To(Equal("a"))
		Expect(rec.snaps).To(HaveLen(2))
	})

	It("preserves accumulated text when failing", func() {
		boom := errors.New("boom")
		acc.Append(llm.Delta{Content: "partial"})
		acc.Fail(boom)

		Expect(acc.State()).To(Equal(chatstream.StateFailed))
		last := rec.snaps[len(rec.snaps)-1]
		Expect(last.Text).To(Equal("partial"))
		Expect(last.Done).To(BeTrue())
		Expect(last.Err).To(MatchError(boom))
	})

	It("can fail straight from empty", func() {
		acc.Fail(errors.New("boom"))
		Expect(rec.snaps).To(Equal([]chatstream.Snapshot{{Done: true, Err: acc.Message().Err}}))
	})

	It("cancels without publishing", func() {
		acc.Append(llm.Delta{Content: "a"})
		acc.Cancel(errors.New("canceled"))
		acc.Append(llm.Delta{Content: "b"})

		Expect(acc.State()).To(Equal(chatstream.StateFailed))
		Expect(rec.snaps).To(HaveLen(1))
	})

	It("publishes a placeholder once, only while empty", func() {
		acc.Placeholder()
		acc.Placeholder()
		acc.Append(llm.Delta{Content: "x"})
		acc.Placeholder()

		Expect(rec.texts()).To(Equal([]string{"", "x"}))
		Expect(rec.snaps[0].Done).To(BeFalse())
	})

	It("applies decoded events", func() {
		acc.Apply(sse.Event{Kind: sse.KindDelta, Delta: llm.Delta{Content: "a"}})
		acc.Apply(sse.Event{Kind: sse.KindEnd, Delta: llm.Delta{Usage: &llm.Usage{CompletionTokens: 1}}})

		Expect(acc.State()).To(Equal(chatstream.StateCompleted))
		Expect(acc.Message().Usage.CompletionTokens).To(Equal(1))
	})

	It("tolerates a nil callback", func() {
		acc = chatstream.NewAccumulator("msg-2", nil)
		Expect(func() {
			acc.Append(llm.Delta{Content: "a"})
			acc.Complete(nil)
		}).NotTo(Panic())
	})

	Describe("Message", func() {
		It("carries identity, finish reason and usage", func() {
			acc.Append(llm.Delta{Content: "Hi", Usage: &llm.Usage{PromptTokens: 3}})
			acc.Append(llm.Delta{FinishReason: "stop", Usage: &llm.Usage{CompletionTokens: 2}})
			acc.Complete(nil)

			msg := acc.Message()
			Expect(msg.ID).To(Equal("msg-1"))
			Expect(msg.Text).To(Equal("Hi"))
			Expect(msg.FinishReason).To(Equal("stop"))
			Expect(msg.Usage).To(Equal(&llm.Usage{PromptTokens: 3, CompletionTokens: 2, TotalTokens: 5}))
			Expect(msg.CompletedAt).NotTo(BeZero())
			Expect(msg.Snapshot()).To(Equal(chatstream.Snapshot{Text: "Hi", Done: true}))
		})

		It("omits usage when none was reported", func() {
			Expect(acc.Message().Usage).To(BeNil())
		})
	})
})

var _ = Describe("State", func() {
	DescribeTable("names and terminality",
		func(s chatstream.State, name string, terminal bool) {
			Expect(s.String()).To(Equal(name))
			Expect(s.Terminal()).To(Equal(terminal))
		},
		Entry("empty", chatstream.StateEmpty, "empty", false),
		Entry("streaming", chatstream.StateStreaming, "streaming", false),
		Entry("completed", chatstream.StateCompleted, "completed", true),
		Entry("failed", chatstream.StateFailed, "failed", true),
	)
})
