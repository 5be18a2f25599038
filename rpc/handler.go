package rpc

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/modsagraphy/universa/dispatch"
	"github.com/modsagraphy/universa/hashid"
	"github.com/modsagraphy/universa/item"
)

// defaultWaitTimeout bounds item_wait when the caller omits timeout_ms.
const defaultWaitTimeout = 30 * time.Second

// Handler holds all dependencies needed to serve RPC methods.
type Handler struct {
	node    *dispatch.Node
	checkFn item.CheckFunc // installed on every item_register submission
}

// NewHandler creates an RPC Handler. checkFn is installed on every item
// submitted via item_register before it reaches the dispatcher; neither this
// layer nor the consensus engine defines item validation itself — callers
// supply whatever CheckFunc their item format requires. A nil checkFn means
// every submitted item passes local checking unconditionally.
func NewHandler(node *dispatch.Node, checkFn item.CheckFunc) *Handler {
	return &Handler{node: node, checkFn: checkFn}
}

// Dispatch routes an RPC request to the correct method.
func (h *Handler) Dispatch(req Request) Response {
	switch req.Method {
	case "item_register":
		return h.itemRegister(req)

	case "item_check":
		return h.itemCheck(req)

	case "item_wait":
		return h.itemWait(req)

	default:
		return errResponse(req.ID, CodeMethodNotFound, fmt.Sprintf("method %q not found", req.Method))
	}
}

func (h *Handler) itemRegister(req Request) Response {
	var it item.Item
	if err := json.Unmarshal(req.Params, &it); err != nil {
		return errResponse(req.ID, CodeInvalidParams, "params: "+err.Error())
	}
	if it.ID.IsZero() {
		return errResponse(req.ID, CodeInvalidParams, "id is required")
	}
	if want := it.ComputeID(); it.ID != want {
		return errResponse(req.ID, CodeInvalidParams, "id does not match the item's canonical-encoding hash")
	}
	it.SetCheckFunc(h.checkFn)
	result := h.node.RegisterItem(&it)
	return okResponse(req.ID, result)
}

func (h *Handler) itemCheck(req Request) Response {
	id, err := parseID(req.Params)
	if err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	return okResponse(req.ID, h.node.CheckItem(id))
}

func (h *Handler) itemWait(req Request) Response {
	var params struct {
		ID        string `json:"id"`
		TimeoutMs int64  `json:"timeout_ms"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	id, err := hashid.FromHex(params.ID)
	if err != nil {
		return errResponse(req.ID, CodeInvalidParams, "id: "+err.Error())
	}
	timeout := defaultWaitTimeout
	if params.TimeoutMs > 0 {
		timeout = time.Duration(params.TimeoutMs) * time.Millisecond
	}
	return okResponse(req.ID, h.node.WaitItem(id, timeout))
}

func parseID(raw json.RawMessage) (hashid.ID, error) {
	var params struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &params); err != nil {
		return hashid.ID{}, err
	}
	if params.ID == "" {
		return hashid.ID{}, fmt.Errorf("id is required")
	}
	return hashid.FromHex(params.ID)
}
