package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v5"

	"github.com/samcharles93/dit/internal/dit"
	"github.com/samcharles93/dit/internal/logger"
	"github.com/samcharles93/dit/internal/nn"
	"github.com/samcharles93/dit/internal/tensor"
)

// Model is the stack served by the API. It must be initialised before the
// server starts; handlers only read it, so requests run concurrently.
type Model struct {
	Config dit.BlockConfig
	Stack  *dit.Stack
	Prompt *dit.AttentionBlockPromptEmbedding
	DType  tensor.DType
}

type Server struct {
	model *Model
	runs  *RunStore
	log   logger.Logger
	clock func() time.Time
}

func NewServer(model *Model, runs *RunStore, log logger.Logger) *Server {
	if runs == nil {
		runs = NewRunStore(DefaultRunCapacity)
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Server{
		model: model,
		runs:  runs,
		log:   log,
		clock: time.Now,
	}
}

func (s *Server) Register(e *echo.Echo) {
	e.GET("/v1/block", s.handleBlockInfo)
	e.POST("/v1/block/forward", s.handleForward)
	e.POST("/v1/block/route", s.handleRoute)
	e.POST("/v1/prompt/forward", s.handlePromptForward)
	e.GET("/v1/runs/:id", s.handleGetRun)
	e.DELETE("/v1/runs/:id", s.handleDeleteRun)
}

func (s *Server) handleBlockInfo(c *echo.Context) error {
	cfg := s.model.Config
	params := nn.NewParams()
	s.model.Stack.Params("", params)

	info := BlockInfo{
		Object:        "dit.block",
		Config:        cfg,
		NumBlocks:     len(s.model.Stack.Blocks),
		WeightInitStd: make([]float64, len(s.model.Stack.Blocks)),
		QKVHidden:     cfg.QKVHidden(),
		CrossHidden:   cfg.CrossHidden(),
		ParamCount:    params.Count(),
		DType:         s.model.DType.String(),
	}
	for i, b := range s.model.Stack.Blocks {
		info.WeightInitStd[i] = b.WeightInitStd()
		info.MLPHidden = b.MLP.HiddenDim()
	}
	return writeJSON(c, http.StatusOK, info)
}

func (s *Server) handleForward(c *echo.Context) error {
	req, err := decodeJSON[ForwardRequest](c.Request().Body)
	if err != nil {
		return writeErr(c, err)
	}
	x, err := tensor3("x", req.X)
	if err != nil {
		return writeErr(c, err)
	}
	cond, err := tensor3("c", req.C)
	if err != nil {
		return writeErr(c, err)
	}
	pooled, err := tensor2("t", req.T)
	if err != nil {
		return writeErr(c, err)
	}

	start := s.clock()
	out, err := s.model.Stack.Forward(x, cond, pooled)
	if err != nil {
		return writeErr(c, err)
	}
	resp := s.respond(out)
	s.log.Debug("block forward",
		"id", resp.ID,
		logger.Shape("x", x.Shape),
		logger.Shape("c", cond.Shape),
		"elapsed", s.clock().Sub(start),
	)
	if req.Store {
		s.runs.Put(resp)
	}
	return writeJSON(c, http.StatusOK, resp)
}

func (s *Server) handleRoute(c *echo.Context) error {
	req, err := decodeJSON[RouteRequest](c.Request().Body)
	if err != nil {
		return writeErr(c, err)
	}
	blocks := s.model.Stack.Blocks
	if req.Block < 0 || req.Block >= len(blocks) {
		return writeError(c, http.StatusBadRequest, "invalid_request_error",
			fmt.Sprintf("block %d outside [0, %d)", req.Block, len(blocks)), "block")
	}
	moe, ok := blocks[req.Block].MLP.(*dit.FeedForwardECMoe)
	if !ok {
		return writeError(c, http.StatusBadRequest, "invalid_request_error",
			fmt.Sprintf("block %d uses the dense feed-forward", req.Block), "block")
	}
	x, err := tensor3("x", req.X)
	if err != nil {
		return writeErr(c, err)
	}
	r, err := moe.Route(x)
	if err != nil {
		return writeErr(c, err)
	}
	return writeJSON(c, http.StatusOK, RouteResponse{
		Object: "dit.routing",
		Block:  req.Block,
		Stats:  r.Stats(),
	})
}

func (s *Server) handlePromptForward(c *echo.Context) error {
	req, err := decodeJSON[PromptRequest](c.Request().Body)
	if err != nil {
		return writeErr(c, err)
	}
	x, err := tensor3("x", req.X)
	if err != nil {
		return writeErr(c, err)
	}
	out, err := s.model.Prompt.Forward(x)
	if err != nil {
		return writeErr(c, err)
	}
	resp := s.respond(out)
	resp.Object = "dit.prompt_output"
	if req.Store {
		s.runs.Put(resp)
	}
	return writeJSON(c, http.StatusOK, resp)
}

func (s *Server) handleGetRun(c *echo.Context) error {
	id := c.Param("id")
	run, ok := s.runs.Get(id)
	if !ok {
		return writeNotFound(c, "run not found")
	}
	return writeJSON(c, http.StatusOK, run)
}

func (s *Server) handleDeleteRun(c *echo.Context) error {
	id := c.Param("id")
	if !s.runs.Delete(id) {
		return writeNotFound(c, "run not found")
	}
	return writeJSON(c, http.StatusOK, DeleteRunResp{ID: id, Object: "dit.run.deleted", Deleted: true})
}

func (s *Server) respond(out *tensor.Tensor) ForwardResponse {
	return ForwardResponse{
		ID:        newRunID(),
		Object:    "dit.block_output",
		CreatedAt: s.clock().Unix(),
		Shape:     out.Shape,
		Output:    nested3(out),
		Stats:     dit.Summarize("output", out),
	}
}
