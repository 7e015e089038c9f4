package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/pixperk/zlock/pkg/fsm"
	"github.com/pixperk/zlock/pkg/raft"
	"github.com/pixperk/zlock/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	status raft.Status
	kvs    map[string][]types.KeyValue
	err    error
	prefix string
}

func (f *fakeSource) Status() raft.Status { return f.status }

func (f *fakeSource) Range(_ context.Context, prefix string) ([]types.KeyValue, error) {
	f.prefix = prefix
	if f.err != nil {
		return nil, f.err
	}
	return f.kvs[prefix], nil
}

func get(t *testing.T, h http.Handler, url string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, url, nil))
	return rec
}

func TestStatus(t *testing.T) {
	src := &fakeSource{status: raft.Status{
		NodeID: "node-1",
		Leader: "127.0.0.1:7000",
		State:  "Leader",
		Store:  fsm.Stats{Keys: 2, Leases: 1, Revision: 9},
	}}
	h := NewServer(":0", src, "/zlock").Handler()

	rec := get(t, h, "/status")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var got raft.Status
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.Equal(t, src.status, got)
}

func TestLockRecords(t *testing.T) {
	src := &fakeSource{kvs: map[string][]types.KeyValue{
		"/zlock/orders/": {
			{Key: "/zlock/orders/b", Value: "b", CreateRevision: 2},
			{Key: "/zlock/orders/a", Value: "a", CreateRevision: 5},
		},
	}}
	h := NewServer(":0", src, "/zlock").Handler()

	rec := get(t, h, "/locks/orders")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "/zlock/orders/", src.prefix)

	var got lockView
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.Equal(t, "orders", got.Name)
	assert.Equal(t, "b", got.Holder)
	assert.Len(t, got.Records, 2)

	//a free lock has no holder and an empty list
	rec = get(t, h, "/locks/free")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"name":"free","records":[]}`, rec.Body.String())
}

func TestLockRecordsErrors(t *testing.T) {
	src := &fakeSource{err: types.ErrNotLeader}
	h := NewServer(":0", src, "/zlock").Handler()

	rec := get(t, h, "/locks/orders")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	src.err = errors.New("boom")
	rec = get(t, h, "/locks/orders")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "boom")
}

func TestMetrics(t *testing.T) {
	h := NewServer(":0", &fakeSource{}, "/zlock").Handler()

	rec := get(t, h, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "zlock_up 1"))
}

func TestUnknownMethod(t *testing.T) {
	h := NewServer(":0", &fakeSource{}, "/zlock").Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/locks/orders", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
