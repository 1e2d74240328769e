package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/chatstream/pkg/eventstream"
	"github.com/papercomputeco/chatstream/pkg/llm"
	"github.com/papercomputeco/chatstream/pkg/storage"
	"github.com/papercomputeco/chatstream/pkg/storage/inmemory"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []*eventstream.MessageCompletedEvent
	err    error
}

func (r *recordingPublisher) PublishMessage(_ context.Context, e *eventstream.MessageCompletedEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.events = append(r.events, e)
	return nil
}

func (r *recordingPublisher) Close() error { return nil }

func (r *recordingPublisher) Events() []*eventstream.MessageCompletedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*eventstream.MessageCompletedEvent(nil), r.events...)
}

// failingDriver rejects every Put.
type failingDriver struct {
	*inmemory.Driver
}

func (failingDriver) Put(context.Context, *storage.Transcript) (bool, error) {
	return false, errors.New("disk full")
}

func newTranscript(id string) *storage.Transcript {
	now := time.Now().UTC()
	return &storage.Transcript{
		ID:          id,
		Provider:    llm.ProviderOpenAI,
		Model:       "gpt-4o-mini",
		Prompt:      []llm.Message{llm.NewTextMessage(llm.RoleUser, "What is 2+2?")},
		Text:        "2+2 equals 4.",
		State:       "completed",
		StartedAt:   now.Add(-time.Second),
		CompletedAt: now,
	}
}

var _ = Describe("Worker Pool", func() {
	var (
		wp        *Pool
		driver    *inmemory.Driver
		publisher *recordingPublisher
		ctx       context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
		driver = inmemory.NewDriver()
		publisher = &recordingPublisher{}

		var err error
		wp, err = NewPool(&Config{
			Driver:    driver,
			Publisher: publisher,
			Upstream:  "https://api.openai.com",
		})
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		wp.Close()
	})

	Describe("Enqueue", func() {
		It("returns true when the queue has capacity", func() {
			Expect(wp.Enqueue(Job{Transcript: newTranscript("msg-1")})).To(BeTrue())
		})

		It("rejects jobs without a transcript", func() {
			Expect(wp.Enqueue(Job{})).To(BeFalse())
		})

		It("rejects jobs after Close", func() {
			wp.Close()
			Expect(wp.Enqueue(Job{Transcript: newTranscript("msg-1")})).To(BeFalse())
		})

		It("drops jobs when the queue is full", func() {
			blocked := make(chan struct{})
			slow, err := NewPool(&Config{
				Driver:     &blockingDriver{Driver: inmemory.NewDriver(), release: blocked},
				NumWorkers: 1,
				QueueSize:  1,
			})
			Expect(err).NotTo(HaveOccurred())

			accepted := 0
			for i := range 5 {
				if slow.Enqueue(Job{Transcript: newTranscript(fmt.Sprintf("msg-%d", i))}) {
					accepted++
				}
			}
			Expect(accepted).To(BeNumerically("<", 5))

			close(blocked)
			slow.Close()
		})
	})

	Describe("processing", func() {
		It("stores transcripts and publishes one event each", func() {
			wp.Enqueue(Job{Transcript: newTranscript("msg-1")})
			wp.Enqueue(Job{Transcript: newTranscript("msg-2")})
			wp.Close()

			Expect(driver.Len()).To(Equal(2))

			got, err := driver.Get(ctx, "msg-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Text).To(Equal("2+2 equals 4."))

			events := publisher.Events()
			Expect(events).To(HaveLen(2))
			Expect(events[0].Source.Upstream).To(Equal("https://api.openai.com"))
			Expect([]string{events[0].Message.ID, events[1].Message.ID}).To(ConsistOf("msg-1", "msg-2"))
		})

		It("does not republish duplicates", func() {
			Expect(driver.Put(ctx, newTranscript("msg-1"))).To(BeTrue())

			wp.Enqueue(Job{Transcript: newTranscript("msg-1")})
			wp.Close()

			Expect(publisher.Events()).To(BeEmpty())
		})

		It("keeps the transcript when publishing fails", func() {
			publisher.err = errors.New("broker down")

			wp.Enqueue(Job{Transcript: newTranscript("msg-1")})
			wp.Close()

			Expect(driver.Len()).To(Equal(1))
		})

		It("skips publishing when storage fails", func() {
			failing, err := NewPool(&Config{
				Driver:    failingDriver{inmemory.NewDriver()},
				Publisher: publisher,
			})
			Expect(err).NotTo(HaveOccurred())

			failing.Enqueue(Job{Transcript: newTranscript("msg-1")})
			failing.Close()

			Expect(publisher.Events()).To(BeEmpty())
		})

		It("runs without a publisher", func() {
			bare, err := NewPool(&Config{Driver: driver})
			Expect(err).NotTo(HaveOccurred())

			bare.Enqueue(Job{Transcript: newTranscript("msg-9")})
			bare.Close()

			Expect(driver.Len()).To(Equal(1))
		})
	})

	Describe("NewPool", func() {
		It("requires a driver", func() {
			_, err := NewPool(&Config{})
			Expect(err).To(MatchError(ContainSubstring("storage driver is required")))
		})

		It("applies defaults", func() {
			cfg := &Config{Driver: inmemory.NewDriver()}
			p, err := NewPool(cfg)
			Expect(err).NotTo(HaveOccurred())
			defer p.Close()

			Expect(cfg.NumWorkers).To(Equal(defaultNumWorkers))
			Expect(cfg.QueueSize).To(Equal(defaultJobQueueSize))
			Expect(cfg.Logger).NotTo(BeNil())
		})

		It("closes idempotently", func() {
			p, err := NewPool(&Config{Driver: inmemory.NewDriver()})
			Expect(err).NotTo(HaveOccurred())
			p.Close()
			p.Close()
		})
	})
})

// blockingDriver holds every Put until release is closed.
type blockingDriver struct {
	*inmemory.Driver
	release chan struct{}
}

func (b *blockingDriver) Put(ctx context.Context, t *storage.Transcript) (bool, error) {
	<-b.release
	return b.Driver.Put(ctx, t)
}
