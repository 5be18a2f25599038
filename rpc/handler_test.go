package rpc_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/modsagraphy/universa/config"
	"github.com/modsagraphy/universa/dispatch"
	"github.com/modsagraphy/universa/events"
	"github.com/modsagraphy/universa/hashid"
	"github.com/modsagraphy/universa/internal/testutil"
	"github.com/modsagraphy/universa/item"
	"github.com/modsagraphy/universa/itemcache"
	"github.com/modsagraphy/universa/rpc"
	"github.com/modsagraphy/universa/scheduler"
)

type stubNetwork struct{}

func (stubNetwork) Subscribe(func(item.NodeInfo, item.Notification)) {}
func (stubNetwork) Broadcast(item.Notification)                      {}
func (stubNetwork) Deliver(item.NodeInfo, item.Notification) error   { return nil }
func (stubNetwork) EachNode(func(item.NodeInfo))                     {}
func (stubNetwork) GetItem(context.Context, item.NodeInfo, hashid.ID) (*item.Item, error) {
	return nil, errors.New("stubNetwork: no peers")
}

func newTestHandler(t *testing.T) *rpc.Handler {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.PositiveConsensus = 1
	cfg.NegativeConsensus = 5
	cfg.PollTime = time.Hour

	pool := scheduler.New(4)
	t.Cleanup(pool.StopWait)

	node := dispatch.New(item.NodeInfo{ID: "self"}, cfg, testutil.NewLedger(), stubNetwork{}, itemcache.New(cfg.MaxCacheAge), pool, events.NewEmitter())
	return rpc.NewHandler(node, nil)
}

func TestItemRegisterThenWait(t *testing.T) {
	h := newTestHandler(t)
	body := item.Item{CreatedAt: time.Now(), ExpiresAt: time.Now().Add(time.Hour)}
	id := body.ComputeID()
	body.ID = id
	params, _ := json.Marshal(body)

	resp := h.Dispatch(rpc.Request{JSONRPC: "2.0", ID: 1, Method: "item_register", Params: params})
	if resp.Error != nil {
		t.Fatalf("item_register failed: %+v", resp.Error)
	}

	waitParams, _ := json.Marshal(map[string]any{"id": id.String(), "timeout_ms": 1000})
	waitResp := h.Dispatch(rpc.Request{JSONRPC: "2.0", ID: 2, Method: "item_wait", Params: waitParams})
	if waitResp.Error != nil {
		t.Fatalf("item_wait failed: %+v", waitResp.Error)
	}
	result, ok := waitResp.Result.(item.Result)
	if !ok {
		t.Fatalf("expected item.Result, got %T", waitResp.Result)
	}
	if result.State != item.StateApproved {
		t.Fatalf("expected APPROVED, got %s", result.State)
	}
}

func TestItemRegisterRejectsMissingID(t *testing.T) {
	h := newTestHandler(t)
	params, _ := json.Marshal(map[string]any{})
	resp := h.Dispatch(rpc.Request{JSONRPC: "2.0", ID: 1, Method: "item_register", Params: params})
	if resp.Error == nil || resp.Error.Code != rpc.CodeInvalidParams {
		t.Fatalf("expected CodeInvalidParams, got %+v", resp.Error)
	}
}

func TestItemCheckUnknownMethod(t *testing.T) {
	h := newTestHandler(t)
	resp := h.Dispatch(rpc.Request{JSONRPC: "2.0", ID: 1, Method: "bogus"})
	if resp.Error == nil || resp.Error.Code != rpc.CodeMethodNotFound {
		t.Fatalf("expected CodeMethodNotFound, got %+v", resp.Error)
	}
}

func TestItemCheckUnknownIDReportsUndefined(t *testing.T) {
	h := newTestHandler(t)
	params, _ := json.Marshal(map[string]any{"id": hashid.Of([]byte("nope")).String()})
	resp := h.Dispatch(rpc.Request{JSONRPC: "2.0", ID: 1, Method: "item_check", Params: params})
	if resp.Error != nil {
		t.Fatalf("item_check failed: %+v", resp.Error)
	}
	result, ok := resp.Result.(item.Result)
	if !ok || result.State != item.StateUndefined {
		t.Fatalf("expected UNDEFINED result, got %+v", resp.Result)
	}
}
