package api

import (
	"math/rand"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/labstack/echo/v5"

	"github.com/samcharles93/dit/internal/dit"
	"github.com/samcharles93/dit/internal/tensor"
)

func testConfig(moe bool) dit.BlockConfig {
	cfg := dit.DefaultBlockConfig()
	cfg.NEmbd = 16
	cfg.HeadSize = 8
	cfg.MLPHiddenMult = 2
	cfg.HiddenBaseMult = 8
	cfg.PooledCaptionNEmbd = 8
	cfg.NumBlocks = 2
	cfg.UseMoE = moe
	cfg.NumExperts = 2
	cfg.ExpertCapacity = 1
	return cfg
}

func newTestEcho(t *testing.T, moe bool) *echo.Echo {
	t.Helper()
	cfg := testConfig(moe)
	stack, err := dit.NewStack(cfg, nil)
	if err != nil {
		t.Fatalf("build stack: %v", err)
	}
	prompt, err := dit.NewAttentionBlockPromptEmbedding(cfg.PromptConfig())
	if err != nil {
		t.Fatalf("build prompt block: %v", err)
	}
	rng := rand.New(rand.NewSource(1))
	stack.Init(rng)
	stack.InitModulation(rng, 0.02)
	prompt.Init(rng, 0.02)

	server := NewServer(&Model{Config: cfg, Stack: stack, Prompt: prompt, DType: tensor.DTypeF32}, NewRunStore(4), nil)
	e := echo.New()
	e.Use(RequestID)
	server.Register(e)
	return e
}

func doJSON(t *testing.T, e *echo.Echo, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func nestedBody(b, t, c int, seed int64) [][][]float32 {
	rng := rand.New(rand.NewSource(seed))
	out := make([][][]float32, b)
	for i := range out {
		out[i] = make([][]float32, t)
		for j := range out[i] {
			out[i][j] = make([]float32, c)
			for k := range out[i][j] {
				out[i][j][k] = float32(rng.NormFloat64())
			}
		}
	}
	return out
}

func mustMarshal(t *testing.T, v any) string {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return string(b)
}

func TestBlockInfo(t *testing.T) {
	t.Parallel()
	e := newTestEcho(t, false)
	rec := doJSON(t, e, http.MethodGet, "/v1/block", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d body=%s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get(headerRequestID) == "" {
		t.Fatal("missing request id header")
	}
	var info BlockInfo
	if err := json.Unmarshal(rec.Body.Bytes(), &info); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if info.NumBlocks != 2 || len(info.WeightInitStd) != 2 {
		t.Fatalf("unexpected block count: %+v", info)
	}
	if info.WeightInitStd[0] != dit.WeightInitStd(true, 0, 2) || info.WeightInitStd[1] != dit.WeightInitStd(true, 1, 2) {
		t.Fatalf("unexpected init stds: %v", info.WeightInitStd)
	}
	if info.MLPHidden != 32 || info.ParamCount == 0 || info.DType != "f32" {
		t.Fatalf("unexpected info: %+v", info)
	}
}

func TestForwardStoreAndDelete(t *testing.T) {
	t.Parallel()
	e := newTestEcho(t, true)
	body := mustMarshal(t, ForwardRequest{
		X:     nestedBody(2, 5, 16, 1),
		C:     nestedBody(2, 3, 16, 2),
		T:     nestedBody(1, 2, 8, 3)[0],
		Store: true,
	})
	rec := doJSON(t, e, http.MethodPost, "/v1/block/forward", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("forward status %d body=%s", rec.Code, rec.Body.String())
	}
	var resp ForwardResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !strings.HasPrefix(resp.ID, "run_") {
		t.Fatalf("unexpected id %q", resp.ID)
	}
	if len(resp.Output) != 2 || len(resp.Output[0]) != 5 || len(resp.Output[0][0]) != 16 {
		t.Fatalf("unexpected output shape %v", resp.Shape)
	}
	if resp.Stats.Count != 2*5*16 {
		t.Fatalf("unexpected stats %+v", resp.Stats)
	}

	get := doJSON(t, e, http.MethodGet, "/v1/runs/"+resp.ID, "")
	if get.Code != http.StatusOK {
		t.Fatalf("get status %d body=%s", get.Code, get.Body.String())
	}
	del := doJSON(t, e, http.MethodDelete, "/v1/runs/"+resp.ID, "")
	if !strings.Contains(del.Body.String(), `"deleted":true`) {
		t.Fatalf("delete body %s", del.Body.String())
	}
	if rec := doJSON(t, e, http.MethodGet, "/v1/runs/"+resp.ID, ""); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", rec.Code)
	}
}

func TestForwardValidation(t *testing.T) {
	t.Parallel()
	e := newTestEcho(t, false)

	cases := map[string]string{
		"malformed": `{"x":`,
		"empty x":   `{"x":[],"c":[[[0]]],"t":[[0]]}`,
		"ragged":    `{"x":[[[1,2],[1]]],"c":[[[0]]],"t":[[0]]}`,
		"wrong width": mustMarshal(t, ForwardRequest{
			X: nestedBody(1, 2, 12, 1),
			C: nestedBody(1, 2, 16, 2),
			T: nestedBody(1, 1, 8, 3)[0],
		}),
		"pooled batch mismatch": mustMarshal(t, ForwardRequest{
			X: nestedBody(2, 2, 16, 1),
			C: nestedBody(2, 2, 16, 2),
			T: nestedBody(1, 1, 8, 3)[0],
		}),
	}
	for name, body := range cases {
		rec := doJSON(t, e, http.MethodPost, "/v1/block/forward", body)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d body=%s", name, rec.Code, rec.Body.String())
		}
		if !strings.Contains(rec.Body.String(), "invalid_request_error") {
			t.Fatalf("%s: unexpected error body %s", name, rec.Body.String())
		}
	}
}

func TestRouteStats(t *testing.T) {
	t.Parallel()
	e := newTestEcho(t, true)
	rec := doJSON(t, e, http.MethodPost, "/v1/block/route", mustMarshal(t, RouteRequest{X: nestedBody(2, 6, 16, 4), Block: 1}))
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d body=%s", rec.Code, rec.Body.String())
	}
	var resp RouteResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Stats.Capacity != 3 || resp.Stats.Tokens != 12 {
		t.Fatalf("unexpected stats %+v", resp.Stats)
	}
	for _, n := range resp.Stats.ExpertSelections {
		if n != 6 {
			t.Fatalf("expert selections %v, want 6 each", resp.Stats.ExpertSelections)
		}
	}

	rec = doJSON(t, e, http.MethodPost, "/v1/block/route", mustMarshal(t, RouteRequest{X: nestedBody(1, 2, 16, 4), Block: 5}))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad block index, got %d", rec.Code)
	}
}

func TestRouteRejectsDenseBlock(t *testing.T) {
	t.Parallel()
	e := newTestEcho(t, false)
	rec := doJSON(t, e, http.MethodPost, "/v1/block/route", mustMarshal(t, RouteRequest{X: nestedBody(1, 2, 16, 4)}))
	if rec.Code != http.StatusBadRequest || !strings.Contains(rec.Body.String(), "dense") {
		t.Fatalf("expected dense rejection, got %d body=%s", rec.Code, rec.Body.String())
	}
}

func TestPromptForwardDeterministic(t *testing.T) {
	t.Parallel()
	e := newTestEcho(t, false)
	body := mustMarshal(t, PromptRequest{X: nestedBody(1, 4, 16, 9)})
	a := doJSON(t, e, http.MethodPost, "/v1/prompt/forward", body)
	b := doJSON(t, e, http.MethodPost, "/v1/prompt/forward", body)
	if a.Code != http.StatusOK || b.Code != http.StatusOK {
		t.Fatalf("status %d/%d body=%s", a.Code, b.Code, a.Body.String())
	}
	var ra, rb ForwardResponse
	if err := json.Unmarshal(a.Body.Bytes(), &ra); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if err := json.Unmarshal(b.Body.Bytes(), &rb); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if mustMarshal(t, ra.Output) != mustMarshal(t, rb.Output) {
		t.Fatal("prompt block output differs between identical requests")
	}
}

func TestRunStoreEvictsOldest(t *testing.T) {
	t.Parallel()
	s := NewRunStore(2)
	for _, id := range []string{"a", "b", "c"} {
		s.Put(ForwardResponse{ID: id})
	}
	if s.Len() != 2 {
		t.Fatalf("len %d, want 2", s.Len())
	}
	if _, ok := s.Get("a"); ok {
		t.Fatal("oldest run was not evicted")
	}
	if _, ok := s.Get("c"); !ok {
		t.Fatal("newest run missing")
	}
	if s.Delete("missing") {
		t.Fatal("deleting a missing run reported success")
	}
}
