package rpc

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/evalgo/clusterlib/clerr"
	"github.com/evalgo/clusterlib/clog"
)

// DefaultWorkers is the Server's worker-goroutine count when none is
// given.
const DefaultWorkers = 4

// Server is the method-side half of the fabric: workers goroutines
// pull Requests off queue, dispatch them through registry, and enqueue
// the Response onto whatever Queue a request's ReplyTo resolves to via
// open. The worker count is fixed at construction; each worker loops
// dequeue-then-process.
type Server struct {
	queue    Queue
	registry *Registry
	open     Opener

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	log    *clog.Entry
}

// NewServer starts a Server with workers worker goroutines (DefaultWorkers
// if workers < 1) pulling from queue.
func NewServer(queue Queue, registry *Registry, open Opener, workers int) *Server {
	if workers < 1 {
		workers = DefaultWorkers
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		queue:    queue,
		registry: registry,
		open:     open,
		ctx:      ctx,
		cancel:   cancel,
		log:      clog.NewEntry(clog.Logger, map[string]interface{}{"component": "rpc", "role": "server"}),
	}
	for i := 0; i < workers; i++ {
		s.wg.Add(1)
		go s.worker()
	}
	return s
}

func (s *Server) worker() {
	defer s.wg.Done()
	for {
		payload, err := s.queue.Take(s.ctx)
		if err != nil {
			if kind, ok := clerr.KindOf(err); ok && kind == clerr.OperationCancelled {
				return
			}
			s.log.WithError(err).Warn("request queue take failed")
			return
		}
		s.handle(payload)
	}
}

func (s *Server) handle(payload []byte) {
	defer clog.RecoverAndLog(s.log)

	req, err := decodeRequest(payload)
	if err != nil {
		s.log.WithError(err).Warn("malformed request envelope")
		return
	}

	resp := Response{ID: req.ID}
	result, invokeErr := s.registry.Invoke(s.ctx, req.Method, req.Params)
	if invokeErr != nil {
		kind, ok := clerr.KindOf(invokeErr)
		if !ok {
			kind = clerr.SystemFailure
		}
		resp.Error = &ResponseError{Kind: string(kind), Message: invokeErr.Error()}
	} else {
		raw, err := json.Marshal(result)
		if err != nil {
			resp.Error = &ResponseError{Kind: string(clerr.InconsistentInternalState), Message: "result marshal failed: " + err.Error()}
		} else {
			resp.Result = raw
		}
	}

	if req.ReplyTo == "" {
		return
	}
	replyQueue, err := s.open(req.ReplyTo)
	if err != nil {
		s.log.WithError(err).WithField("replyTo", req.ReplyTo).Warn("failed to open reply queue")
		return
	}
	encoded, err := encodeResponse(resp)
	if err != nil {
		s.log.WithError(err).Warn("failed to encode response")
		return
	}
	if err := replyQueue.Put(s.ctx, encoded); err != nil {
		s.log.WithError(err).Warn("failed to enqueue response")
	}
}

// Shutdown stops every worker and waits for in-flight handling to
// finish its current request.
func (s *Server) Shutdown() {
	s.cancel()
	s.wg.Wait()
}
