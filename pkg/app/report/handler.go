package report

import (
	"fmt"
	"time"

	"github.com/deploymenttheory/go-mdraid/pkg/app"
	"github.com/deploymenttheory/go-mdraid/pkg/services"
)

// Handler runs command requests against an MDService
type Handler struct {
	svc          services.MDService
	pollInterval time.Duration
}

// NewHandler creates a handler over svc
func NewHandler(svc services.MDService) *Handler {
	return &Handler{svc: svc, pollInterval: 500 * time.Millisecond}
}

// Examine reads the superblock of every requested device. Unreadable devices
// are listed in the response errors; it fails only when none could be read.
func (h *Handler) Examine(ctx *app.Context, req *ExamineRequest) (*ExamineResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	resp := &ExamineResponse{}
	for _, path := range req.Devices {
		ctx.Log("examining %s", path)
		info, err := h.svc.Examine(path)
		if err != nil {
			resp.Errors = append(resp.Errors, DeviceError{Device: path, Error: err.Error()})
			continue
		}
		resp.Devices = append(resp.Devices, NewSuperblockReport(info))
	}
	if len(resp.Devices) == 0 {
		return resp, app.NewError(app.ErrCodeDeviceAccess, "no superblock could be read", nil)
	}
	return resp, nil
}

// Create builds and starts a new array, optionally driving its initial resync
func (h *Handler) Create(ctx *app.Context, req *CreateRequest) (*ArraysResponse, error) {
	sreq, err := req.ServiceRequest()
	if err != nil {
		return nil, err
	}

	ctx.Log("creating md%d from %d devices", sreq.Minor, len(sreq.Devices))
	if _, err := h.svc.Create(ctx, sreq); err != nil {
		return nil, app.FromError(fmt.Sprintf("failed to create md%d", sreq.Minor), err)
	}
	if req.Resync {
		if err := h.resync(ctx); err != nil {
			return nil, err
		}
	}
	return h.arrays(sreq.Minor)
}

// Assemble starts the arrays found on the devices. Devices that could not be
// used are reported but do not fail the request while some array started.
func (h *Handler) Assemble(ctx *app.Context, req *AssembleRequest) (*ArraysResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	started, err := h.svc.Assemble(ctx, req.Devices)
	if err != nil {
		if len(started) == 0 {
			return nil, app.FromError("failed to assemble", err)
		}
		ctx.Error(err.Error())
	}
	for _, st := range started {
		ctx.Log("%s started with %d devices", st.Name, len(st.Members))
	}
	if req.Resync {
		if err := h.resync(ctx); err != nil {
			return nil, err
		}
	}
	return h.arrays(-1)
}

// Manage assembles the array from its members and applies the requested
// member changes in fail, remove, add order
func (h *Handler) Manage(ctx *app.Context, req *ManageRequest) (*ArraysResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	target, _ := app.ParseArrayTarget(req.Array)

	if _, err := h.svc.Assemble(ctx, req.Devices); err != nil {
		ctx.Error(err.Error())
	}
	if _, err := h.svc.Array(target.Minor); err != nil {
		return nil, app.FromError(fmt.Sprintf("failed to assemble %s", target), err)
	}

	ops := []struct {
		verb  string
		paths []string
		apply func(int, string) error
	}{
		{"fail", req.Fail, h.svc.SetFaulty},
		{"remove", req.Remove, h.svc.HotRemove},
		{"add", req.Add, h.svc.HotAdd},
	}
	for _, op := range ops {
		for _, path := range op.paths {
			ctx.Log("%s %s on %s", op.verb, path, target)
			if err := op.apply(target.Minor, path); err != nil {
				return nil, app.FromError(fmt.Sprintf("failed to %s %s on %s", op.verb, path, target), err)
			}
		}
	}

	if req.Resync {
		if err := h.resync(ctx); err != nil {
			return nil, err
		}
	}
	return h.arrays(target.Minor)
}

// resync runs recovery to completion, reporting progress of syncing arrays
func (h *Handler) resync(ctx *app.Context) error {
	start := time.Now()
	done := make(chan error, 1)
	go func() { done <- h.svc.Resync(ctx) }()

	ticker := time.NewTicker(h.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case err := <-done:
			if err != nil {
				return app.FromError("resync failed", err)
			}
			return nil
		case <-ticker.C:
			for _, st := range h.svc.Arrays() {
				if !st.Syncing {
					continue
				}
				ctx.Progress(app.ProgressUpdate{
					Message:     st.Name,
					Completed:   int64(st.Cursor),
					Total:       int64(st.SizeBlocks),
					StartedAt:   start,
					ElapsedTime: time.Since(start),
				})
			}
		}
	}
}

// arrays reports one array, or every array when minor is negative
func (h *Handler) arrays(minor int) (*ArraysResponse, error) {
	resp := &ArraysResponse{}
	if minor < 0 {
		for _, st := range h.svc.Arrays() {
			resp.Arrays = append(resp.Arrays, NewArrayReport(st))
		}
		return resp, nil
	}
	st, err := h.svc.Array(minor)
	if err != nil {
		return nil, app.FromError(fmt.Sprintf("failed to query md%d", minor), err)
	}
	resp.Arrays = append(resp.Arrays, NewArrayReport(*st))
	return resp, nil
}
