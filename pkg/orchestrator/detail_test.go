// Copyright 2025 The REVA Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package orchestrator

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/revaplatform/reva/pkg/conversation"
	"github.com/revaplatform/reva/pkg/retrieval"
)

type fakeDetailRetriever struct {
	docs    map[string]retrieval.Document
	results []retrieval.Document
	err     error
}

func (f *fakeDetailRetriever) Search(ctx context.Context, query string, filters retrieval.Filters, limit int) (*retrieval.Result, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &retrieval.Result{Documents: f.results}, nil
}

func (f *fakeDetailRetriever) GetByID(ctx context.Context, id string) (*retrieval.Document, error) {
	if f.err != nil {
		return nil, f.err
	}
	doc, ok := f.docs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", retrieval.ErrNotFound, id)
	}
	return &doc, nil
}

func detailFixture() (*PropertyDetailHandler, *fakeDetailRetriever) {
	r := &fakeDetailRetriever{docs: map[string]retrieval.Document{
		"p1": {PropertyID: "p1", Title: "Căn hộ Sunrise City"},
		"p2": {PropertyID: "p2", Title: "Căn hộ Riverside"},
		"p3": {PropertyID: "p3", Title: "Biệt thự Thảo Điền"},
	}}
	return NewPropertyDetailHandler(r, 0.3), r
}

func retrievedState(ids ...string) *conversation.State {
	state := &conversation.State{}
	for i, id := range ids {
		state.LastRetrieved = append(state.LastRetrieved, conversation.RetrievedRef{
			Position: i + 1, PropertyID: id, TurnID: "t1",
		})
	}
	return state
}

func TestDetailHandleByID(t *testing.T) {
	h, _ := detailFixture()
	result, err := h.Handle(context.Background(), "cho xem P2 nhé", "vi", nil)
	require.NoError(t, err)
	require.Len(t, result.Components, 1)
	assert.Equal(t, "property-inspector", result.Components[0].Type)
	assert.Equal(t, []string{"p2"}, result.Sources)
	assert.Contains(t, result.Message, "Căn hộ Riverside")
}

func TestDetailHandleByIDNotFound(t *testing.T) {
	h, _ := detailFixture()
	_, err := h.Handle(context.Background(), "xem p99", "vi", nil)
	require.Error(t, err)
	oe := AsError(err)
	assert.Equal(t, KindNotFound, oe.Kind)
	assert.Equal(t, 404, oe.HTTPStatus())
}

func TestDetailHandleByPosition(t *testing.T) {
	h, _ := detailFixture()
	state := retrievedState("p3", "p1", "p2")
	result, err := h.Handle(context.Background(), "xem căn số 2", "vi", state)
	require.NoError(t, err)
	assert.Equal(t, []string{"p1"}, result.Sources)
	require.Len(t, result.Retrieved, 1)
	assert.Equal(t, "p1", result.Retrieved[0].PropertyID)
}

// Positions beyond the remembered list ask the user to restate instead
// of failing.
func TestDetailHandlePositionOutOfRange(t *testing.T) {
	h, _ := detailFixture()
	result, err := h.Handle(context.Background(), "xem căn số 9", "vi", retrievedState("p1", "p2"))
	require.NoError(t, err)
	assert.Empty(t, result.Components)
	assert.Contains(t, result.Message, "chưa rõ")
	assert.Equal(t, 0.4, result.Confidence)
}

func TestDetailHandlePositionWithoutHistory(t *testing.T) {
	h, _ := detailFixture()
	result, err := h.Handle(context.Background(), "xem căn thứ hai", "vi", nil)
	require.NoError(t, err)
	assert.Empty(t, result.Components)
}

func TestDetailHandleByKeyword(t *testing.T) {
	h, r := detailFixture()
	r.results = []retrieval.Document{{PropertyID: "p3", Title: "Biệt thự Thảo Điền", Score: 0.8}}
	result, err := h.Handle(context.Background(), "biệt thự thảo điền", "vi", nil)
	require.NoError(t, err)
	require.Len(t, result.Components, 1)
	assert.Equal(t, []string{"p3"}, result.Sources)
}

func TestDetailHandleKeywordBelowThreshold(t *testing.T) {
	h, r := detailFixture()
	r.results = []retrieval.Document{{PropertyID: "p3", Score: 0.1}}
	result, err := h.Handle(context.Background(), "biệt thự nào đó", "vi", nil)
	require.NoError(t, err)
	assert.Empty(t, result.Components)
}

func TestParseOrdinal(t *testing.T) {
	tests := []struct {
		query string
		want  int
		ok    bool
	}{
		{"xem căn số 2", 2, true},
		{"căn thứ hai", 2, true},
		{"cho xem cái thứ ba", 3, true},
		{"căn số 10", 10, true},
		{"show me the 2nd one", 2, true},
		{"the third one", 3, true},
		{"option 5 please", 5, true},
		{"number four", 4, true},
		{"tìm căn hộ 2 phòng ngủ", 0, false},
		{"xem chi tiết", 0, false},
		{"nhà 3 tầng", 0, false},
	}
	for _, tt := range tests {
		got, ok := parseOrdinal(tt.query)
		assert.Equal(t, tt.ok, ok, tt.query)
		if tt.ok {
			assert.Equal(t, tt.want, got, tt.query)
		}
	}
}
