package storage

import (
	"context"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/bytedance/sonic"
)

type fakeRow struct {
	data []byte
	etag int
}

// fakeTable is an in-memory tableClient with ETag semantics.
type fakeTable struct {
	mu   sync.Mutex
	rows map[string]map[string]fakeRow
	seq  int

	// conflicts makes the next n conditional updates fail with 412.
	conflicts int
	updates   int
}

func newFakeTable() *fakeTable {
	return &fakeTable{rows: map[string]map[string]fakeRow{}}
}

func responseError(status int, code string) error {
	return &azcore.ResponseError{
		ErrorCode:  code,
		StatusCode: status,
		RawResponse: &http.Response{
			StatusCode: status,
			Request:    &http.Request{Method: http.MethodGet, URL: &url.URL{Scheme: "https", Host: "fake.table"}},
		},
	}
}

func entityKeys(data []byte) (string, string) {
	var e aztables.Entity
	_ = sonic.Unmarshal(data, &e)
	return e.PartitionKey, e.RowKey
}

func (f *fakeTable) AddEntity(_ context.Context, entity []byte, _ *aztables.AddEntityOptions) (aztables.AddEntityResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pk, rk := entityKeys(entity)
	part := f.rows[pk]
	if part == nil {
		part = map[string]fakeRow{}
		f.rows[pk] = part
	}
	if _, ok := part[rk]; ok {
		return aztables.AddEntityResponse{}, responseError(http.StatusConflict, "EntityAlreadyExists")
	}
	f.seq++
	part[rk] = fakeRow{data: entity, etag: f.seq}
	return aztables.AddEntityResponse{}, nil
}

func (f *fakeTable) GetEntity(_ context.Context, pk, rk string, _ *aztables.GetEntityOptions) (aztables.GetEntityResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[pk][rk]
	if !ok {
		return aztables.GetEntityResponse{}, responseError(http.StatusNotFound, "ResourceNotFound")
	}
	return aztables.GetEntityResponse{ETag: azcore.ETag(strconv.Itoa(row.etag)), Value: row.data}, nil
}

func (f *fakeTable) UpdateEntity(_ context.Context, entity []byte, o *aztables.UpdateEntityOptions) (aztables.UpdateEntityResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates++
	pk, rk := entityKeys(entity)
	row, ok := f.rows[pk][rk]
	if !ok {
		return aztables.UpdateEntityResponse{}, responseError(http.StatusNotFound, "ResourceNotFound")
	}
	if f.conflicts > 0 {
		f.conflicts--
		f.seq++
		row.etag = f.seq
		f.rows[pk][rk] = row
		return aztables.UpdateEntityResponse{}, responseError(http.StatusPreconditionFailed, "UpdateConditionNotSatisfied")
	}
	if o != nil && o.IfMatch != nil && string(*o.IfMatch) != strconv.Itoa(row.etag) {
		return aztables.UpdateEntityResponse{}, responseError(http.StatusPreconditionFailed, "UpdateConditionNotSatisfied")
	}
	f.seq++
	f.rows[pk][rk] = fakeRow{data: entity, etag: f.seq}
	return aztables.UpdateEntityResponse{}, nil
}

func (f *fakeTable) DeleteEntity(_ context.Context, pk, rk string, _ *aztables.DeleteEntityOptions) (aztables.DeleteEntityResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.rows[pk][rk]; !ok {
		return aztables.DeleteEntityResponse{}, responseError(http.StatusNotFound, "ResourceNotFound")
	}
	delete(f.rows[pk], rk)
	return aztables.DeleteEntityResponse{}, nil
}

// NewListEntitiesPager understands only "PartitionKey eq '<pk>'" filters and
// serves two rows per page.
func (f *fakeTable) NewListEntitiesPager(o *aztables.ListEntitiesOptions) *runtime.Pager[aztables.ListEntitiesResponse] {
	pk := ""
	if o != nil && o.Filter != nil {
		raw := strings.TrimPrefix(*o.Filter, "PartitionKey eq '")
		pk = strings.ReplaceAll(strings.TrimSuffix(raw, "'"), "''", "'")
	}
	f.mu.Lock()
	keys := make([]string, 0, len(f.rows[pk]))
	for rk := range f.rows[pk] {
		keys = append(keys, rk)
	}
	sort.Strings(keys)
	entities := make([][]byte, len(keys))
	for i, rk := range keys {
		entities[i] = f.rows[pk][rk].data
	}
	f.mu.Unlock()

	const pageSize = 2
	offset := 0
	return runtime.NewPager(runtime.PagingHandler[aztables.ListEntitiesResponse]{
		More: func(aztables.ListEntitiesResponse) bool {
			return offset < len(entities)
		},
		Fetcher: func(context.Context, *aztables.ListEntitiesResponse) (aztables.ListEntitiesResponse, error) {
			end := min(offset+pageSize, len(entities))
			page := entities[offset:end]
			offset = end
			return aztables.ListEntitiesResponse{Entities: page}, nil
		},
	})
}
