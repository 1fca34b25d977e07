package api

import (
	"github.com/roach88/sessionstate/internal/attrs"
	"github.com/roach88/sessionstate/internal/provider"
)

// Item is one session attribute in request and response bodies. Items keep
// their collection order.
type Item struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

// SessionView is the JSON form of a session.
type SessionView struct {
	ID            string `json:"id"`
	Timeout       int    `json:"timeout"`
	StaticObjects []byte `json:"staticObjects,omitempty"`
	Items         []Item `json:"items"`
}

// LockedView is returned with 423 when another holder has the lock.
type LockedView struct {
	ID        string `json:"id"`
	Locked    bool   `json:"locked"`
	LockAgeMs int64  `json:"lockAgeMs"`
}

// LockView is returned by POST /sessions/{id}/lock.
type LockView struct {
	LockID  int64       `json:"lockId"`
	Session SessionView `json:"session"`
}

// CreateRequest is the body of POST /sessions. Every field is optional.
type CreateRequest struct {
	Timeout       int    `json:"timeout,omitempty"`
	StaticObjects []byte `json:"staticObjects,omitempty"`
	Items         []Item `json:"items,omitempty"`
}

// CreateResponse is returned with 201 by POST /sessions.
type CreateResponse struct {
	ID string `json:"id"`
}

// PatchRequest is the body of PATCH /sessions/{id}. Clear runs first, then
// Remove, then Set.
type PatchRequest struct {
	Clear  bool     `json:"clear,omitempty"`
	Remove []string `json:"remove,omitempty"`
	Set    []Item   `json:"set,omitempty"`
}

// PurgeResponse is returned by POST /purge.
type PurgeResponse struct {
	Purged int `json:"purged"`
}

// ErrorBody is the JSON error envelope.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail describes a failed request.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (req PatchRequest) apply(c *attrs.Collection) {
	if req.Clear {
		c.Clear()
	}
	for _, k := range req.Remove {
		c.Remove(k)
	}
	for _, it := range req.Set {
		c.Set(it.Key, it.Value)
	}
}

func viewOf(id string, data *provider.StoreData) SessionView {
	items := make([]Item, 0, data.Items.Len())
	for i, k := range data.Items.Keys() {
		items = append(items, Item{Key: k, Value: data.Items.At(i)})
	}
	return SessionView{
		ID:            id,
		Timeout:       data.Timeout,
		StaticObjects: data.StaticObjects,
		Items:         items,
	}
}
