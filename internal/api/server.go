// Package api serves a prepared model over HTTP. Each forward may pick its
// own adapter set without disturbing concurrent requests.
package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v5"

	"github.com/samcharles93/graft/internal/logger"
	"github.com/samcharles93/graft/internal/metrics"
	"github.com/samcharles93/graft/internal/tensor"
	"github.com/samcharles93/graft/pkg/graft"
	"github.com/samcharles93/graft/pkg/nn"
)

const (
	routeForward  = "/v1/forward"
	routeAdapters = "/v1/adapters"
	routeMetrics  = "/metrics"
)

type Server struct {
	model   *graft.Model
	metrics *metrics.Metrics
	log     logger.Logger
	clock   func() time.Time
}

// NewServer wraps model. A nil metrics gets a fresh registry; a nil log
// discards.
func NewServer(model *graft.Model, m *metrics.Metrics, log logger.Logger) *Server {
	if m == nil {
		m = metrics.New()
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Server{model: model, metrics: m, log: log, clock: time.Now}
}

func (s *Server) Register(e *echo.Echo) {
	e.POST(routeForward, s.handleForward)
	e.GET(routeAdapters, s.handleAdapters)

	h := s.metrics.Handler()
	e.GET(routeMetrics, func(c *echo.Context) error {
		s.syncAdapters()
		h.ServeHTTP(c.Response(), c.Request())
		return nil
	})
}

func (s *Server) syncAdapters() {
	info := s.model.Info()
	states := make([]metrics.AdapterState, len(info))
	for i, a := range info {
		states[i] = metrics.AdapterState{Name: a.Name, Kind: string(a.Kind), Active: a.Active}
	}
	s.metrics.SetAdapters(states)
}

func (s *Server) handleAdapters(c *echo.Context) error {
	s.metrics.ObserveRequest(routeAdapters, http.MethodGet, http.StatusOK)
	return c.JSON(http.StatusOK, AdapterList{Object: "list", Data: s.model.Info()})
}

func (s *Server) handleForward(c *echo.Context) error {
	status, err := s.forward(c)
	s.metrics.ObserveRequest(routeForward, http.MethodPost, status)
	return err
}

func (s *Server) forward(c *echo.Context) (int, error) {
	req, err := decodeJSON[ForwardRequest](c.Request().Body)
	if err != nil {
		return writeError(c, err)
	}
	args, err := buildArgs(req)
	if err != nil {
		return writeError(c, err)
	}

	ctx := c.Request().Context()
	var selection []string
	if req.Adapters != nil {
		selection = append([]string{}, *req.Adapters...)
		if ctx, err = s.model.WithActiveAdapters(ctx, selection...); err != nil {
			return writeError(c, err)
		}
	}

	done := s.metrics.StartForward(metrics.Selection(selection))
	out, err := s.model.Forward(ctx, args)
	done(err)
	if err != nil {
		s.log.Warn("forward failed", "error", err, "adapters", metrics.Selection(selection))
		return writeError(c, err)
	}

	active := selection
	if active == nil {
		active = s.model.ActiveAdapters()
	}
	if active == nil {
		active = []string{}
	}
	resp := ForwardResponse{
		ID:       newForwardID(),
		Object:   "forward",
		Created:  s.clock().Unix(),
		Adapters: active,
		Outputs:  rows(out.At(0)),
	}
	s.log.Debug("forward", "id", resp.ID, "tokens", len(req.InputIDs), "adapters", metrics.Selection(selection))
	return http.StatusOK, c.JSON(http.StatusOK, resp)
}

func buildArgs(req ForwardRequest) (nn.Args, error) {
	if len(req.InputIDs) == 0 {
		return nil, newInvalidRequest("input_ids", "must not be empty")
	}
	ids := tensor.NewMat(1, len(req.InputIDs))
	for i, id := range req.InputIDs {
		if id < 0 {
			return nil, newInvalidRequest("input_ids", fmt.Sprintf("negative id %d at %d", id, i))
		}
		ids.Data[i] = float32(id)
	}
	mask := tensor.NewMat(1, len(req.InputIDs))
	tensor.Fill(mask, 1)
	if req.AttentionMask != nil {
		if len(req.AttentionMask) != len(req.InputIDs) {
			return nil, newInvalidRequest("attention_mask",
				fmt.Sprintf("has %d entries for %d ids", len(req.AttentionMask), len(req.InputIDs)))
		}
		for i, v := range req.AttentionMask {
			if v != 0 && v != 1 {
				return nil, newInvalidRequest("attention_mask", fmt.Sprintf("entry %d is %d, want 0 or 1", i, v))
			}
			mask.Data[i] = float32(v)
		}
	}
	return nn.Args{ids, mask}, nil
}

func rows(m *tensor.Mat) [][]float32 {
	if m == nil {
		return nil
	}
	out := make([][]float32, m.R)
	for i := range out {
		out[i] = append([]float32(nil), m.Row(i)...)
	}
	return out
}
