package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/tmc/langchaingo/llms"
	"go.uber.org/zap"

	"github.com/hyperjump/kioku/internal/chat"
	"github.com/hyperjump/kioku/internal/config"
	"github.com/hyperjump/kioku/internal/embedding"
	"github.com/hyperjump/kioku/internal/indexer"
	"github.com/hyperjump/kioku/internal/keyword"
	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/internal/search"
	"github.com/hyperjump/kioku/internal/server"
	"github.com/hyperjump/kioku/internal/storage"
	"github.com/hyperjump/kioku/internal/vector"
	"github.com/hyperjump/kioku/internal/workflow"
)

const e2eDimensions = 32

// scriptedModel is a langchaingo model that answers every conversation with the same text.
type scriptedModel struct {
	mu     sync.Mutex
	answer string
	system string
}

func (m *scriptedModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(messages) > 0 && messages[0].Role == llms.ChatMessageTypeSystem {
		if text, ok := messages[0].Parts[0].(llms.TextContent); ok {
			m.system = text.Text
		}
	}
	if m.answer == "" {
		return &llms.ContentResponse{}, nil
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: m.answer}}}, nil
}

func (m *scriptedModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return "", errors.New("not supported")
}

func (m *scriptedModel) lastSystem() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.system
}

// flakyIndex wraps a vector index and fails upserts while failing is set.
type flakyIndex struct {
	vector.VectorIndex
	mu      sync.Mutex
	failing bool
}

func (f *flakyIndex) setFailing(v bool) {
	f.mu.Lock()
	f.failing = v
	f.mu.Unlock()
}

func (f *flakyIndex) Upsert(ctx context.Context, records []models.VectorRecord) error {
	f.mu.Lock()
	failing := f.failing
	f.mu.Unlock()
	if failing {
		return errors.New("vector service unavailable")
	}
	return f.VectorIndex.Upsert(ctx, records)
}

type e2eEnv struct {
	dir       string
	url       string
	store     *storage.SQLiteStorage
	vectors   *flakyIndex
	model     *scriptedModel
	scheduler *workflow.Scheduler
	ts        *httptest.Server
	stopOnce  sync.Once
	closers   []func() error
}

func startEnv(dir string) *e2eEnv {
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	cfg.Storage.DatabasePath = filepath.Join(dir, "notes.db")
	cfg.Storage.VectorPath = filepath.Join(dir, "vectors.db")
	cfg.Storage.KeywordIndexPath = filepath.Join(dir, "bleve")
	cfg.Embedding.Dimensions = e2eDimensions

	store, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
	Expect(err).NotTo(HaveOccurred())
	sqliteIndex, err := vector.NewSQLiteIndex(cfg.Storage.VectorPath, e2eDimensions)
	Expect(err).NotTo(HaveOccurred())
	kwIndex, err := keyword.NewBleveIndex(cfg.Storage.KeywordIndexPath)
	Expect(err).NotTo(HaveOccurred())

	embedder := embedding.NewCachedEmbedder(embedding.NewMockEmbedder(e2eDimensions), 100)
	vectors := &flakyIndex{VectorIndex: sqliteIndex}
	model := &scriptedModel{answer: "The sky is blue."}

	sched := workflow.NewScheduler(store,
		workflow.WithWorkers(2),
		workflow.WithMaxAttempts(10),
		workflow.WithBackoff(20*time.Millisecond))
	idx := indexer.NewIndexer(store, embedder, vectors, sched, indexer.WithKeywordIndex(kwIndex))
	_, err = idx.BackfillKeywords(context.Background())
	Expect(err).NotTo(HaveOccurred())
	Expect(sched.Start(context.Background())).To(Succeed())

	engine := search.NewEngine(store, embedder, vectors, chat.NewLangChainProvider(model),
		search.WithKeywordIndex(kwIndex))
	srv := server.NewServer(engine, idx, store, vectors, cfg, zap.NewNop(),
		server.WithKeywordIndex(kwIndex), server.WithRetrier(sched))
	ts := httptest.NewServer(srv.Router())

	env := &e2eEnv{
		dir: dir, url: ts.URL, store: store, vectors: vectors, model: model, scheduler: sched, ts: ts,
		closers: []func() error{kwIndex.Close, vectors.Close, store.Close},
	}
	DeferCleanup(env.stop)
	return env
}

// stop shuts the process down, releasing every file lock so the directory can be reopened.
func (e *e2eEnv) stop() {
	e.stopOnce.Do(func() {
		e.ts.Close()
		e.scheduler.Stop()
		for _, c := range e.closers {
			_ = c()
		}
	})
}

func postJSON(url string, body interface{}) (*http.Response, map[string]interface{}) {
	data, err := json.Marshal(body)
	Expect(err).NotTo(HaveOccurred())
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	Expect(err).NotTo(HaveOccurred())
	defer resp.Body.Close()
	var out map[string]interface{}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func getJSON(url string, out interface{}) int {
	resp, err := http.Get(url)
	Expect(err).NotTo(HaveOccurred())
	defer resp.Body.Close()
	_ = json.NewDecoder(resp.Body).Decode(out)
	return resp.StatusCode
}

func runStatus(base, runID string) func() string {
	return func() string {
		var run models.Run
		getJSON(base+"/api/v1/runs/"+runID, &run)
		return string(run.Status)
	}
}

func listNotes(base string) []*models.Note {
	var notes []*models.Note
	Expect(getJSON(base+"/notes.json", &notes)).To(Equal(http.StatusOK))
	return notes
}

var _ = Describe("Kioku API", func() {
	var env *e2eEnv

	BeforeEach(func() {
		dir, err := os.MkdirTemp("", "kioku-e2e-")
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(os.RemoveAll, dir)
		env = startEnv(dir)
	})

	Context("ingesting a note", func() {
		It("stores the note and its vector and answers with it as context", func() {
			resp, out := postJSON(env.url+"/notes", map[string]string{"text": "The sky is blue."})
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))
			Expect(out).To(HaveKeyWithValue("status", "created"))
			runID, _ := out["run_id"].(string)
			Eventually(runStatus(env.url, runID), 5*time.Second, 20*time.Millisecond).Should(Equal("completed"))

			notes := listNotes(env.url)
			Expect(notes).To(HaveLen(1))
			Expect(notes[0].Text).To(Equal("The sky is blue."))
			Expect(env.vectors.Count(context.Background())).To(Equal(1))

			resp, out = postJSON(env.url+"/", map[string]interface{}{"query": "What color is the sky?"})
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(out).To(HaveKeyWithValue("response", "The sky is blue."))
			Expect(out["messages"]).To(HaveLen(2))
			Expect(env.model.lastSystem()).To(HaveSuffix("Context:\n- The sky is blue."))
		})

		It("rejects a note without text", func() {
			resp, out := postJSON(env.url+"/notes", map[string]string{"text": ""})
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			Expect(out).To(HaveKeyWithValue("error", "Missing text"))
			Expect(listNotes(env.url)).To(BeEmpty())
		})

		It("retries the vector step without inserting the note twice", func() {
			env.vectors.setFailing(true)
			_, out := postJSON(env.url+"/notes", map[string]string{"text": "retry me"})
			runID, _ := out["run_id"].(string)

			Eventually(func() int {
				var run models.Run
				getJSON(env.url+"/api/v1/runs/"+runID, &run)
				return run.Attempts
			}, 5*time.Second, 20*time.Millisecond).Should(BeNumerically(">=", 2))
			Expect(listNotes(env.url)).To(HaveLen(1))

			env.vectors.setFailing(false)
			Eventually(runStatus(env.url, runID), 5*time.Second, 20*time.Millisecond).Should(Equal("completed"))
			Expect(listNotes(env.url)).To(HaveLen(1))
			Expect(env.vectors.Count(context.Background())).To(Equal(1))
		})
	})

	Context("when the process restarts mid-run", func() {
		It("resumes from the first incomplete step", func() {
			ctx := context.Background()
			env.stop()

			// A previous process inserted the note and then died.
			store, err := storage.NewSQLiteStorage(filepath.Join(env.dir, "notes.db"))
			Expect(err).NotTo(HaveOccurred())
			note, err := store.InsertNote(ctx, "survives restarts")
			Expect(err).NotTo(HaveOccurred())
			result, _ := json.Marshal(note)
			run := &models.Run{
				ID:       "crashed-run",
				Workflow: indexer.IngestionWorkflow,
				Payload:  json.RawMessage(`{"text":"survives restarts"}`),
				Status:   models.RunRunning,
			}
			Expect(store.CreateRun(ctx, run)).To(Succeed())
			Expect(store.RecordStep(ctx, run.ID, &models.StepOutcome{
				Step: indexer.StepCreateRecord, Status: models.StepCompleted, Result: result,
			})).To(Succeed())
			Expect(store.Close()).To(Succeed())

			restarted := startEnv(env.dir)
			Eventually(runStatus(restarted.url, run.ID), 5*time.Second, 20*time.Millisecond).Should(Equal("completed"))
			notes := listNotes(restarted.url)
			Expect(notes).To(HaveLen(1))
			Expect(notes[0].ID).To(Equal(note.ID))
			Expect(restarted.vectors.Count(ctx)).To(Equal(1))
		})
	})

	Context("deleting a note", func() {
		It("removes it from listing and retrieval", func() {
			_, out := postJSON(env.url+"/notes", map[string]string{"text": "ephemeral"})
			runID, _ := out["run_id"].(string)
			Eventually(runStatus(env.url, runID), 5*time.Second, 20*time.Millisecond).Should(Equal("completed"))
			id := listNotes(env.url)[0].ID

			req, err := http.NewRequest(http.MethodPost, env.url+"/notes/"+id, nil)
			Expect(err).NotTo(HaveOccurred())
			req.Header.Set("X-HTTP-Method-Override", "DELETE")
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			Expect(listNotes(env.url)).To(BeEmpty())
			Expect(env.vectors.Count(context.Background())).To(Equal(0))
			postJSON(env.url+"/", map[string]interface{}{"query": "ephemeral"})
			Expect(env.model.lastSystem()).To(Equal(search.SystemPrompt))
		})
	})

	Context("when the model returns nothing", func() {
		It("reports the generation failure payload", func() {
			env.model.mu.Lock()
			env.model.answer = ""
			env.model.mu.Unlock()
			resp, out := postJSON(env.url+"/", map[string]interface{}{"messages": []interface{}{}, "query": "hello?"})
			Expect(resp.StatusCode).To(Equal(http.StatusInternalServerError))
			Expect(out).To(Equal(map[string]interface{}{"response": "We were unable to generate output"}))
		})
	})
})
