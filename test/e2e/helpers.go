//go:build e2e

package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cloo-solutions/closerbrain/internal/api/handlers"
	"github.com/cloo-solutions/closerbrain/internal/api/middleware"
	"github.com/cloo-solutions/closerbrain/internal/events"
	"github.com/cloo-solutions/closerbrain/internal/generation"
	"github.com/cloo-solutions/closerbrain/internal/prompts"
	"github.com/cloo-solutions/closerbrain/internal/repository"
	"github.com/cloo-solutions/closerbrain/internal/server"
	"github.com/cloo-solutions/closerbrain/internal/service"
	"github.com/cloo-solutions/closerbrain/internal/storage"
	"github.com/cloo-solutions/closerbrain/internal/testutil"
	"github.com/jackc/pgx/v5/pgxpool"
)

// E2ETestEnv holds all resources needed for E2E tests
type E2ETestEnv struct {
	T            *testing.T
	Ctx          context.Context
	PostgresC    *testutil.PostgresContainer
	RustFSC      *testutil.RustFSContainer
	Pool         *pgxpool.Pool
	ServerURL    string
	ServerCloser func()
	S3Client     *storage.S3Client
	Gen          *ScriptedGen
	HTTPClient   *http.Client
}

// SetupE2EEnv starts postgres and an S3 store, then serves the full router on a free port.
func SetupE2EEnv(t *testing.T) *E2ETestEnv {
	ctx := context.Background()

	pgC := testutil.NewPostgresContainer(ctx, t)
	s3C := testutil.NewRustFSContainer(ctx, t)
	pool := testutil.NewTestPool(ctx, t, pgC, "../../migrations")

	s3Client, err := storage.NewS3Client(ctx, storage.S3ClientConfig{
		Endpoint:        s3C.Endpoint(),
		Region:          "us-east-1",
		AccessKeyID:     s3C.AccessKey,
		SecretAccessKey: s3C.SecretKey,
		Bucket:          "e2e-uploads",
		UsePathStyle:    true,
	})
	if err != nil {
		t.Fatalf("failed to create S3 client: %v", err)
	}
	if err := s3Client.EnsureBucket(ctx); err != nil {
		t.Fatalf("failed to create bucket: %v", err)
	}

	port, err := getFreePort()
	if err != nil {
		t.Fatalf("failed to get free port: %v", err)
	}

	gen := NewScriptedGen()
	serverURL, serverCloser := startServer(t, pool, s3Client, gen, port)

	return &E2ETestEnv{
		T:            t,
		Ctx:          ctx,
		PostgresC:    pgC,
		RustFSC:      s3C,
		Pool:         pool,
		ServerURL:    serverURL,
		ServerCloser: serverCloser,
		S3Client:     s3Client,
		Gen:          gen,
		HTTPClient:   &http.Client{Timeout: 30 * time.Second},
	}
}

// Cleanup releases all resources
func (e *E2ETestEnv) Cleanup() {
	if e.ServerCloser != nil {
		e.ServerCloser()
	}
	if e.Pool != nil {
		e.Pool.Close()
	}
	if e.RustFSC != nil {
		e.RustFSC.Terminate(e.Ctx)
	}
	if e.PostgresC != nil {
		e.PostgresC.Terminate(e.Ctx)
	}
}

// APIResponse is the decoded response envelope.
type APIResponse struct {
	Status int
	Data   json.RawMessage `json:"data,omitempty"`
	Error  string          `json:"error,omitempty"`
	Code   string          `json:"code,omitempty"`
}

// Decode unmarshals the data payload into v.
func (r *APIResponse) Decode(t *testing.T, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(r.Data, v); err != nil {
		t.Fatalf("failed to decode response data: %v (%s)", err, r.Data)
	}
}

func (e *E2ETestEnv) Get(path, ownerID string) (*APIResponse, error) {
	return e.doRequest(http.MethodGet, path, nil, ownerID)
}

func (e *E2ETestEnv) Post(path string, body interface{}, ownerID string) (*APIResponse, error) {
	return e.doRequest(http.MethodPost, path, body, ownerID)
}

func (e *E2ETestEnv) Put(path string, body interface{}, ownerID string) (*APIResponse, error) {
	return e.doRequest(http.MethodPut, path, body, ownerID)
}

func (e *E2ETestEnv) Delete(path, ownerID string) (*APIResponse, error) {
	return e.doRequest(http.MethodDelete, path, nil, ownerID)
}

// UploadDocument posts a multipart document source.
func (e *E2ETestEnv) UploadDocument(ownerID, filename, contentType string, content []byte, fields map[string]string) (*APIResponse, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return nil, err
		}
	}
	header := make(map[string][]string)
	header["Content-Disposition"] = []string{fmt.Sprintf(`form-data; name="file"; filename=%q`, filename)}
	header["Content-Type"] = []string{contentType}
	part, err := mw.CreatePart(header)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(content); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequest(http.MethodPost, e.ServerURL+"/sources", &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set(middleware.OwnerHeader, ownerID)
	return e.send(req)
}

func (e *E2ETestEnv) doRequest(method, path string, body interface{}, ownerID string) (*APIResponse, error) {
	var reqBody io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal body: %w", err)
		}
		reqBody = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequest(method, e.ServerURL+path, reqBody)
	if err != nil {
		return nil, err
	}
	if ownerID != "" {
		req.Header.Set(middleware.OwnerHeader, ownerID)
	}
	req.Header.Set("Content-Type", "application/json")
	return e.send(req)
}

// send returns the decoded envelope for every status; transport and decoding
// failures are the only errors.
func (e *E2ETestEnv) send(req *http.Request) (*APIResponse, error) {
	resp, err := e.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	apiResp := APIResponse{Status: resp.StatusCode}
	if len(respBody) > 0 {
		if err := json.Unmarshal(respBody, &apiResp); err != nil {
			return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(respBody))
		}
	}
	return &apiResp, nil
}

func startServer(t *testing.T, pool *pgxpool.Pool, s3Client *storage.S3Client, gen generation.Client, port int) (string, func()) {
	sources := repository.NewSourceRepository(pool)
	chunks := repository.NewChunkRepository(pool)
	stats := repository.NewBrainStatsRepository(pool)
	prospectRepo := repository.NewProspectRepository(pool)
	conversations := repository.NewConversationRepository(pool)
	workspaceRepo := repository.NewWorkspaceRepository(pool)
	txRunner := repository.NewTxRunner(pool)

	catalog := prompts.Default()
	retrier := generation.NewRetrier(gen, generation.RetryConfig{MaxAttempts: 1}, nil)

	brain := service.NewBrainService(sources, chunks, stats)
	knowledge := service.NewKnowledgeStore(sources, chunks, txRunner, brain, s3Client, nil)
	learner := service.NewLearningService(conversations, knowledge, retrier, catalog, nil)

	ingestion := service.NewIngestionService(service.IngestionDeps{
		Sources:   sources,
		TxRunner:  txRunner,
		Store:     s3Client,
		Extractor: service.NewContentExtractor(retrier, s3Client, catalog, 0),
		Distiller: service.NewKnowledgeDistiller(retrier, catalog, nil, nil),
		Knowledge: knowledge,
		Brain:     brain,
		Publisher: events.NoopPublisher{},
	})
	suggestions := service.NewSuggestionService(service.SuggestionDeps{
		Prospects:     prospectRepo,
		Conversations: conversations,
		Workspaces:    workspaceRepo,
		TxRunner:      txRunner,
		Store:         s3Client,
		Brain:         brain,
		Classifier:    service.NewStageClassifier(retrier, catalog),
		Selector:      service.NewRetrievalSelector(knowledge, sources, nil, nil),
		Retrier:       retrier,
		Prompts:       catalog,
	})

	router := server.NewRouter(server.RouterConfig{
		HealthCheck:       pool.Ping,
		SourceHandler:     handlers.NewSourceHandler(ingestion),
		BrainHandler:      handlers.NewBrainHandler(brain),
		ProspectHandler:   handlers.NewProspectHandler(service.NewProspectService(prospectRepo, workspaceRepo, learner, nil)),
		SuggestionHandler: handlers.NewSuggestionHandler(suggestions),
		WorkspaceHandler:  handlers.NewWorkspaceHandler(service.NewWorkspaceService(workspaceRepo)),
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: router,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			t.Logf("server error: %v", err)
		}
	}()

	serverURL := fmt.Sprintf("http://localhost:%d", port)
	waitForServer(t, serverURL, 10*time.Second)

	return serverURL, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}
}

func waitForServer(t *testing.T, url string, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		resp, err := http.Get(url + "/health")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatalf("server did not start within %v", timeout)
}

func getFreePort() (int, error) {
	addr, err := net.ResolveTCPAddr("tcp", "localhost:0")
	if err != nil {
		return 0, err
	}

	l, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

// ScriptedGen stands in for the generation service. Structured calls are answered
// by schema name and plain calls by a fragment of their system prompt.
type ScriptedGen struct {
	mu       sync.Mutex
	bySchema map[string]string
	byPrompt map[string]string
	calls    map[string]int
}

func NewScriptedGen() *ScriptedGen {
	return &ScriptedGen{
		bySchema: map[string]string{},
		byPrompt: map[string]string{},
		calls:    map[string]int{},
	}
}

// OnSchema answers structured requests for schema with v encoded as JSON.
func (g *ScriptedGen) OnSchema(schema string, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.bySchema[schema] = string(data)
}

// OnPrompt answers unstructured requests whose system prompt contains fragment.
func (g *ScriptedGen) OnPrompt(fragment, content string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.byPrompt[fragment] = content
}

// Calls returns how many requests reached the given schema or prompt fragment.
func (g *ScriptedGen) Calls(key string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[key]
}

func (g *ScriptedGen) Invoke(ctx context.Context, req generation.Request) (*generation.Response, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if req.Schema != nil {
		content, ok := g.bySchema[req.Schema.Name]
		if !ok {
			return nil, &generation.UpstreamError{StatusCode: http.StatusBadRequest, Err: fmt.Errorf("unscripted schema %q", req.Schema.Name)}
		}
		g.calls[req.Schema.Name]++
		return textResponse(content), nil
	}

	system := ""
	if len(req.Messages) > 0 {
		system = req.Messages[0].Text()
	}
	for fragment, content := range g.byPrompt {
		if strings.Contains(system, fragment) {
			g.calls[fragment]++
			return textResponse(content), nil
		}
	}
	return nil, &generation.UpstreamError{StatusCode: http.StatusBadRequest, Err: fmt.Errorf("unscripted prompt")}
}

func textResponse(content string) *generation.Response {
	return &generation.Response{Choices: []generation.Choice{{Message: generation.ResponseMessage{Content: content}}}}
}
