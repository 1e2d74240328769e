package servecmder

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/chatstream/pkg/storage"
	"github.com/papercomputeco/chatstream/pkg/storage/sqlite"
)

var _ = Describe("NewServeCmd", func() {
	It("registers the relay flags", func() {
		cmd := NewServeCmd()
		for _, name := range []string{"listen", "upstream", "provider", "api-listen", "chunk-size", "max-pending", "storage", "sqlite", "postgres", "kafka-brokers", "kafka-topic", "json-log", "log-file"} {
			Expect(cmd.Flags().Lookup(name)).NotTo(BeNil(), name)
		}
	})

	It("defaults the provider to openai", func() {
		cmd := NewServeCmd()
		Expect(cmd.Flags().Lookup("provider").DefValue).To(Equal("openai"))
	})
})

var _ = Describe("serveCommander", func() {
	var (
		upstream    *httptest.Server
		listener    net.Listener
		apiListener net.Listener
		dbPath      string
		logPath     string
		cmder       *serveCommander
	)

	BeforeEach(func() {
		upstream = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "text/event-stream")
			fmt.Fprint(w, "data: {\"id\":\"chatcmpl-serve\",\"choices\":[{\"delta\":{\"content\":\"hi\"}}]}\n\n")
			fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{},\"finish_reason\":\"stop\"}]}\n\n")
			fmt.Fprint(w, "data: [DONE]\n\n")
		}))
		DeferCleanup(upstream.Close)

		var err error
		listener, err = net.Listen("tcp", "127.0.0.1:0")
		Expect(err).NotTo(HaveOccurred())

		apiListener, err = net.Listen("tcp", "127.0.0.1:0")
		Expect(err).NotTo(HaveOccurred())

		dir := GinkgoT().TempDir()
		dbPath = filepath.Join(dir, "relay.db")
		logPath = filepath.Join(dir, "relay.log")
		cmder = &serveCommander{
			listen:        listener.Addr().String(),
			upstream:      upstream.URL,
			provider:      "openai",
			storageDriver: "sqlite",
			sqlitePath:    dbPath,
			errOut:        io.Discard,
			logFile:       logPath,
			listener:      listener,
			apiListener:   apiListener,
		}
	})

	It("relays a stream and stores its transcript until shut down", func() {
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- cmder.run(ctx) }()

		base := "http://" + listener.Addr().String()
		Eventually(func() error {
			resp, err := http.Get(base + "/healthz")
			if err != nil {
				return err
			}
			resp.Body.Close()
			return nil
		}).Should(Succeed())

		resp, err := http.Post(base+"/v1/chat/completions", "application/json",
			strings.NewReader(`{"model":"m","stream":true,"messages":[{"role":"user","content":"hello"}]}`))
		Expect(err).NotTo(HaveOccurred())
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		Expect(err).NotTo(HaveOccurred())
		messageID := resp.Header.Get("X-Chatstream-Message-Id")
		Expect(messageID).NotTo(BeEmpty())
		Expect(string(body)).To(HaveSuffix("data: [DONE]\n\n"))

		Eventually(func() string {
			resp, err := http.Get("http://" + apiListener.Addr().String() + "/v1/transcripts/" + messageID)
			if err != nil {
				return err.Error()
			}
			defer resp.Body.Close()
			b, _ := io.ReadAll(resp.Body)
			return string(b)
		}).Should(ContainSubstring(`"text":"hi"`))

		cancel()
		Eventually(done).Should(Receive(BeNil()))

		driver, err := sqlite.NewDriver(context.Background(), dbPath)
		Expect(err).NotTo(HaveOccurred())
		defer driver.Close()

		got, err := driver.List(context.Background(), storage.ListOptions{})
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(HaveLen(1))
		Expect(got[0].ID).To(Equal(messageID))
		Expect(got[0].Text).To(Equal("hi"))
		Expect(got[0].FinishReason).To(Equal("stop"))

		logs, err := os.ReadFile(logPath)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(logs)).To(ContainSubstring(`"msg":"starting relay server"`))
		Expect(string(logs)).To(ContainSubstring(`"msg":"shutting down relay"`))
	})

	It("rejects an unknown storage driver", func() {
		listener.Close()
		apiListener.Close()
		cmder.storageDriver = "etcd"
		err := cmder.run(context.Background())
		Expect(err).To(MatchError(ContainSubstring("unsupported storage driver")))
	})

	It("rejects an unknown provider", func() {
		listener.Close()
		apiListener.Close()
		cmder.provider = "cohere"
		err := cmder.run(context.Background())
		Expect(err).To(MatchError(ContainSubstring("creating relay")))
	})
})
