package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/jiayi-1994/piesss-binder/pkg/allocator"
	"github.com/jiayi-1994/piesss-binder/pkg/binding"
	"github.com/jiayi-1994/piesss-binder/pkg/logging"
	"github.com/jiayi-1994/piesss-binder/pkg/metrics"
	"github.com/jiayi-1994/piesss-binder/pkg/segment"
	"github.com/jiayi-1994/piesss-binder/pkg/util"
)

const (
	// RequestTimeout bounds the handling of one request
	RequestTimeout = 60 * time.Second

	// MaxRequestBodySize limits request bodies
	MaxRequestBodySize = 1 << 20
)

// Backend is the port store the API binds through.
type Backend interface {
	binding.PortLister

	// Binder returns the binding callback for a port
	Binder(portID string) binding.BindingContext

	// Record returns the stored record of a port
	Record(ctx context.Context, portID string) (binding.PortRecord, error)

	// ClearBinding forgets the binding of a port
	ClearBinding(ctx context.Context, portID string) error
}

// API serves the binding endpoints.
type API struct {
	driver  *binding.Driver
	backend Backend
}

// NewAPI creates the API over a driver and the backend it binds through.
func NewAPI(driver *binding.Driver, backend Backend) *API {
	return &API{driver: driver, backend: backend}
}

// Handler returns the HTTP handler with every endpoint registered.
func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(BindPath, a.post(BindPath, a.handleBind))
	mux.HandleFunc(UnbindPath, a.post(UnbindPath, a.handleUnbind))
	mux.HandleFunc(CheckSegmentPath, a.post(CheckSegmentPath, a.handleCheckSegment))
	mux.HandleFunc(ValidateSegmentPath, a.post(ValidateSegmentPath, a.segmentOp(a.driver.Segments().Validate)))
	mux.HandleFunc(ReserveSegmentPath, a.post(ReserveSegmentPath, a.segmentOp(a.driver.Segments().Reserve)))
	mux.HandleFunc(ReleaseSegmentPath, a.post(ReleaseSegmentPath, a.segmentOp(a.driver.Segments().Release)))
	mux.HandleFunc(AllocateTenantPath, a.post(AllocateTenantPath, a.handleAllocateTenant))
	mux.HandleFunc(AllocationsPath, a.handleAllocations)
	mux.HandleFunc(HealthzPath, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

// apiFunc handles a decoded request body and returns the response status.
type apiFunc func(ctx context.Context, body []byte) (int, *Response)

func (a *API) post(endpoint string, fn apiFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := logging.LoggerForServer(endpoint)
		if r.Method != http.MethodPost {
			sendResponse(w, http.StatusMethodNotAllowed, &Response{Error: "method not allowed"})
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, MaxRequestBodySize))
		r.Body.Close()
		if err != nil {
			sendResponse(w, http.StatusBadRequest, &Response{Error: fmt.Sprintf("failed to read request body: %v", err)})
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), RequestTimeout)
		defer cancel()

		status, resp := fn(ctx, body)
		if resp.Error != "" {
			log.Debug("Request failed", "status", status, "error", resp.Error)
			metrics.RecordAPIRequest(endpoint, fmt.Errorf("%s", resp.Error))
		} else {
			metrics.RecordAPIRequest(endpoint, nil)
		}
		sendResponse(w, status, resp)
	}
}

func decode(body []byte, v interface{}) *Response {
	if err := json.Unmarshal(body, v); err != nil {
		return &Response{Error: fmt.Sprintf("failed to unmarshal request: %v", err)}
	}
	return nil
}

func (a *API) handleBind(ctx context.Context, body []byte) (int, *Response) {
	var req binding.BindRequest
	if resp := decode(body, &req); resp != nil {
		return http.StatusBadRequest, resp
	}
	if req.PortID == "" || req.HostID == "" {
		return http.StatusBadRequest, &Response{Error: "portID and hostID are required"}
	}
	if req.DelegatedAddress.IsValid() {
		addr, err := util.ParseIPv6(req.DelegatedAddress.String())
		if err != nil {
			return http.StatusBadRequest, &Response{Error: fmt.Sprintf("invalid delegatedAddress: %v", err)}
		}
		req.DelegatedAddress = addr
	}

	// a port that already holds a binding answers with it
	if rec, err := a.backend.Record(ctx, req.PortID); err == nil {
		if out, ok := binding.OutcomeFromRecord(rec); ok {
			if out.VIFDetails.Host != req.HostID {
				err := &binding.AlreadyBoundError{PortID: req.PortID, Host: out.VIFDetails.Host}
				return http.StatusConflict, &Response{Outcome: &binding.Outcome{State: binding.StateFailed}, Error: err.Error()}
			}
			logging.LoggerForPort(req.PortID, req.HostID).Debug("Port already bound, returning stored binding")
			return http.StatusOK, &Response{Outcome: out}
		}
	}

	out, err := a.driver.BindPort(ctx, req, a.backend.Binder(req.PortID))
	if err != nil {
		return bindErrorStatus(err), &Response{Outcome: out, Error: err.Error()}
	}
	return http.StatusOK, &Response{Outcome: out}
}

func bindErrorStatus(err error) int {
	switch {
	case allocator.IsNoCapacity(err), binding.IsAlreadyBound(err):
		return http.StatusConflict
	case allocator.IsNotFound(err):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func (a *API) handleUnbind(ctx context.Context, body []byte) (int, *Response) {
	var req UnbindRequest
	if resp := decode(body, &req); resp != nil {
		return http.StatusBadRequest, resp
	}
	if req.PortID == "" {
		return http.StatusBadRequest, &Response{Error: "portID is required"}
	}

	released := false
	rec, err := a.backend.Record(ctx, req.PortID)
	if err != nil {
		// unknown ports hold nothing
		logging.LoggerForServer(UnbindPath).Debug("No record for port", "port", req.PortID, "error", err)
		return http.StatusOK, &Response{Released: &released}
	}

	released, err = a.driver.UnbindPort(ctx, rec)
	if err != nil {
		return http.StatusInternalServerError, &Response{Error: err.Error()}
	}
	if err := a.backend.ClearBinding(ctx, req.PortID); err != nil {
		return http.StatusInternalServerError, &Response{Released: &released, Error: err.Error()}
	}
	return http.StatusOK, &Response{Released: &released}
}

func (a *API) handleCheckSegment(ctx context.Context, body []byte) (int, *Response) {
	var seg segment.Segment
	if resp := decode(body, &seg); resp != nil {
		return http.StatusBadRequest, resp
	}
	ok := a.driver.CheckSegment(seg)
	return http.StatusOK, &Response{Applicable: &ok}
}

func (a *API) segmentOp(op func(segment.Segment) error) apiFunc {
	return func(ctx context.Context, body []byte) (int, *Response) {
		var seg segment.Segment
		if resp := decode(body, &seg); resp != nil {
			return http.StatusBadRequest, resp
		}
		if err := op(seg); err != nil {
			return segmentErrorStatus(err), &Response{Error: err.Error()}
		}
		return http.StatusOK, &Response{Segment: &seg}
	}
}

func (a *API) handleAllocateTenant(ctx context.Context, body []byte) (int, *Response) {
	var req AllocateTenantRequest
	if resp := decode(body, &req); resp != nil {
		return http.StatusBadRequest, resp
	}
	seg, err := a.driver.Segments().AllocateTenant(req.NetworkType)
	if err != nil {
		return segmentErrorStatus(err), &Response{Error: err.Error()}
	}
	return http.StatusOK, &Response{Segment: seg}
}

func segmentErrorStatus(err error) int {
	switch {
	case segment.IsInvalidInput(err):
		return http.StatusBadRequest
	case segment.IsNoNetworkAvailable(err), segment.IsInUse(err):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (a *API) handleAllocations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		sendResponse(w, http.StatusMethodNotAllowed, &Response{Error: "method not allowed"})
		return
	}
	metrics.RecordAPIRequest(AllocationsPath, nil)
	sendResponse(w, http.StatusOK, &Response{Allocations: a.driver.Usage()})
}

func sendResponse(w http.ResponseWriter, status int, resp *Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}
