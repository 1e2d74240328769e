// Package storagetest holds the behavior every storage.Driver must share,
// written as Ginkgo specs so each driver's suite can run it.
package storagetest

import (
	"context"
	"fmt"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/chatstream/pkg/llm"
	"github.com/papercomputeco/chatstream/pkg/storage"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// NewTranscript returns a completed transcript finishing n seconds after a
// fixed epoch.
func NewTranscript(id string, n int) *storage.Transcript {
	return &storage.Transcript{
		ID:       id,
		Provider: llm.ProviderOpenAI,
		Model:    "gpt-4o-mini",
		Path:     "/v1/chat/completions",
		Prompt: []llm.Message{
			llm.NewTextMessage(llm.RoleSystem, "Be brief."),
			llm.NewTextMessage(llm.RoleUser, fmt.Sprintf("question %d", n)),
		},
		Text:         fmt.Sprintf("answer %d", n),
		State:        "completed",
		FinishReason: "stop",
		Usage:        &llm.Usage{PromptTokens: 12, CompletionTokens: 3, TotalTokens: 15},
		HTTPStatus:   200,
		StartedAt:    epoch.Add(time.Duration(n)*time.Second - 500*time.Millisecond),
		CompletedAt:  epoch.Add(time.Duration(n) * time.Second),
	}
}

// DescribeDriver registers the shared driver specs. newDriver is called
// before each spec and must return an empty driver.
func DescribeDriver(newDriver func() storage.Driver) {
	var (
		driver storage.Driver
		ctx    context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
		driver = newDriver()
	})

	Describe("Put and Get", func() {
		It("stores and retrieves a transcript", func() {
			want := NewTranscript("msg-1", 1)

			inserted, err := driver.Put(ctx, want)
			Expect(err).NotTo(HaveOccurred())
			Expect(inserted).To(BeTrue())

			got, err := driver.Get(ctx, "msg-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(got.ID).To(Equal(want.ID))
			Expect(got.Provider).To(Equal(want.Provider))
			Expect(got.Model).To(Equal(want.Model))
			Expect(got.Path).To(Equal(want.Path))
			Expect(got.Prompt).To(Equal(want.Prompt))
			Expect(got.Text).To(Equal(want.Text))
			Expect(got.State).To(Equal(want.State))
			Expect(got.FinishReason).To(Equal(want.FinishReason))
			Expect(got.Usage).To(Equal(want.Usage))
			Expect(got.HTTPStatus).To(Equal(want.HTTPStatus))
			Expect(got.StartedAt).To(BeTemporally("~", want.StartedAt, time.Millisecond))
			Expect(got.CompletedAt).To(BeTemporally("~", want.CompletedAt, time.Millisecond))
		})

		It("keeps failed transcripts with their error and no usage", func() {
			t := NewTranscript("msg-failed", 2)
			t.State = "failed"
			t.Error = "stream read failed: connection reset"
			t.Usage = nil
			t.Prompt = nil

			_, err := driver.Put(ctx, t)
			Expect(err).NotTo(HaveOccurred())

			got, err := driver.Get(ctx, "msg-failed")
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Error).To(Equal(t.Error))
			Expect(got.Usage).To(BeNil())
			Expect(got.Prompt).To(BeEmpty())
		})

		It("returns NotFoundError for an unknown id", func() {
			_, err := driver.Get(ctx, "missing")
			Expect(storage.IsNotFound(err)).To(BeTrue())
			Expect(err).To(MatchError(ContainSubstring("missing")))
		})

		It("is idempotent for duplicate puts", func() {
			first := NewTranscript("msg-dup", 1)
			second := NewTranscript("msg-dup", 2)

			inserted, err := driver.Put(ctx, first)
			Expect(err).NotTo(HaveOccurred())
			Expect(inserted).To(BeTrue())

			inserted, err = driver.Put(ctx, second)
			Expect(err).NotTo(HaveOccurred())
			Expect(inserted).To(BeFalse())

			got, err := driver.Get(ctx, "msg-dup")
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Text).To(Equal(first.Text))
		})

		It("rejects nil transcripts", func() {
			_, err := driver.Put(ctx, nil)
			Expect(err).To(MatchError(storage.ErrNilTranscript))
		})
	})

	Describe("List", func() {
		BeforeEach(func() {
			for i, id := range []string{"a", "b", "c"} {
				_, err := driver.Put(ctx, NewTranscript(id, i+1))
				Expect(err).NotTo(HaveOccurred())
			}
			other := NewTranscript("d", 0)
			other.Provider = llm.ProviderAnthropic
			_, err := driver.Put(ctx, other)
			Expect(err).NotTo(HaveOccurred())
		})

		ids := func(ts []*storage.Transcript) []string {
			out := make([]string, 0, len(ts))
			for _, t := range ts {
				out = append(out, t.ID)
			}
			return out
		}

		It("returns the most recently completed first", func() {
			got, err := driver.List(ctx, storage.ListOptions{})
			Expect(err).NotTo(HaveOccurred())
			Expect(ids(got)).To(Equal([]string{"c", "b", "a", "d"}))
		})

		It("honors the limit", func() {
			got, err := driver.List(ctx, storage.ListOptions{Limit: 2})
			Expect(err).NotTo(HaveOccurred())
			Expect(ids(got)).To(Equal([]string{"c", "b"}))
		})

		It("filters by provider", func() {
			got, err := driver.List(ctx, storage.ListOptions{Provider: llm.ProviderAnthropic})
			Expect(err).NotTo(HaveOccurred())
			Expect(ids(got)).To(Equal([]string{"d"}))
		})
	})
}
