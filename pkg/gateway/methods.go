package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"github.com/harun/ranya-sessions/pkg/session"
)

// SessionMethods binds the sessions.* RPC methods to a session service.
type SessionMethods struct {
	service *session.Service
}

// NewSessionMethods creates the binding for service.
func NewSessionMethods(service *session.Service) *SessionMethods {
	return &SessionMethods{service: service}
}

// Register adds every sessions.* method to router.
func (m *SessionMethods) Register(router *RPCRouter) error {
	methods := map[string]RequestHandler{
		"sessions.list":    m.handleList,
		"sessions.preview": m.handlePreview,
		"sessions.resolve": m.handleResolve,
		"sessions.patch":   m.handlePatch,
		"sessions.reset":   m.handleReset,
		"sessions.delete":  m.handleDelete,
		"sessions.compact": m.handleCompact,
		"sessions.append":  m.handleAppend,
	}
	for name, handler := range methods {
		if err := router.RegisterMethod(name, handler); err != nil {
			return fmt.Errorf("failed to register %s: %w", name, err)
		}
	}
	return nil
}

// toRPCError maps a session error kind to its RPC code so callers can tell
// contention from storage failures without parsing messages.
func toRPCError(err error) error {
	if err == nil {
		return nil
	}

	kind := session.KindOf(err)
	code := InternalError
	switch kind {
	case session.KindValidation:
		code = InvalidParams
	case session.KindNotFound:
		code = SessionNotFound
	case session.KindReserved:
		code = Forbidden
	case session.KindLockContention:
		code = SessionLocked
	}

	return &RPCError{
		Code:    code,
		Message: err.Error(),
		Data:    map[string]interface{}{"kind": string(kind)},
	}
}

func invalidParams(format string, args ...interface{}) error {
	return toRPCError(fmt.Errorf("%w: %s", session.ErrInvalidParams, fmt.Sprintf(format, args...)))
}

// keyParam returns params["key"]. Absence is left to the service, which
// reports it as a missing parameter.
func keyParam(params map[string]interface{}) (string, error) {
	raw, ok := params["key"]
	if !ok || raw == nil {
		return "", nil
	}
	key, ok := raw.(string)
	if !ok {
		return "", invalidParams("'key' must be a string")
	}
	return key, nil
}

// limitParam returns -1 when the limit is absent or null so the service
// applies its default; an explicit 0 is passed through.
func limitParam(params map[string]interface{}) (int, error) {
	raw, ok := params["limit"]
	if !ok || raw == nil {
		return -1, nil
	}

	switch v := raw.(type) {
	case float64:
		if v != math.Trunc(v) || v < 0 || v > math.MaxInt32 {
			return 0, invalidParams("'limit' must be a non-negative integer")
		}
		return int(v), nil
	case int:
		if v < 0 {
			return 0, invalidParams("'limit' must be a non-negative integer")
		}
		return v, nil
	case json.Number:
		n, err := v.Int64()
		if err != nil || n < 0 || n > math.MaxInt32 {
			return 0, invalidParams("'limit' must be a non-negative integer")
		}
		return int(n), nil
	default:
		return 0, invalidParams("'limit' must be a non-negative integer")
	}
}

// labelParam returns nil when the label is absent or null, which leaves the
// current label unchanged.
func labelParam(params map[string]interface{}) (*string, error) {
	raw, ok := params["label"]
	if !ok || raw == nil {
		return nil, nil
	}
	label, ok := raw.(string)
	if !ok {
		return nil, invalidParams("'label' must be a string")
	}
	return &label, nil
}

func (m *SessionMethods) handleList(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	return m.service.List(ctx), nil
}

func (m *SessionMethods) handlePreview(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	key, err := keyParam(params)
	if err != nil {
		return nil, err
	}
	limit, err := limitParam(params)
	if err != nil {
		return nil, err
	}

	result, err := m.service.Preview(ctx, key, limit)
	if err != nil {
		return nil, toRPCError(err)
	}
	return result, nil
}

func (m *SessionMethods) handleResolve(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	key, err := keyParam(params)
	if err != nil {
		return nil, err
	}

	result, err := m.service.Resolve(ctx, key)
	if err != nil {
		return nil, toRPCError(err)
	}
	return result, nil
}

func (m *SessionMethods) handlePatch(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	key, err := keyParam(params)
	if err != nil {
		return nil, err
	}
	label, err := labelParam(params)
	if err != nil {
		return nil, err
	}

	result, err := m.service.Patch(ctx, key, label)
	if err != nil {
		return nil, toRPCError(err)
	}
	return result, nil
}

func (m *SessionMethods) handleReset(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	key, err := keyParam(params)
	if err != nil {
		return nil, err
	}

	ack, err := m.service.Reset(ctx, key)
	if err != nil {
		return nil, toRPCError(err)
	}
	return ack, nil
}

func (m *SessionMethods) handleDelete(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	key, err := keyParam(params)
	if err != nil {
		return nil, err
	}

	ack, err := m.service.Delete(ctx, key)
	if err != nil {
		return nil, toRPCError(err)
	}
	return ack, nil
}

func (m *SessionMethods) handleCompact(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	key, err := keyParam(params)
	if err != nil {
		return nil, err
	}

	ack, err := m.service.Compact(ctx, key)
	if err != nil {
		return nil, toRPCError(err)
	}
	return ack, nil
}

func (m *SessionMethods) handleAppend(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	key, err := keyParam(params)
	if err != nil {
		return nil, err
	}
	message, ok := params["message"]
	if !ok {
		return nil, invalidParams("missing 'message' parameter")
	}

	result, err := m.service.Append(ctx, key, message)
	if err != nil {
		return nil, toRPCError(err)
	}
	return result, nil
}
