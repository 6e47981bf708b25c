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
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/revaplatform/reva/pkg/config"
	"github.com/revaplatform/reva/pkg/server"
)

func newTestService(t *testing.T, gw *fakeGateway, searcher *fakeSearcher) *Service {
	t.Helper()
	o, store := newTestOrchestrator(t, gw, searcher, nil)
	s := &Service{
		cfg:          config.OrchestratorConfig{},
		orchestrator: o,
		store:        store,
		srv:          server.New("orchestrator", 0),
		validate:     validator.New(),
	}
	s.routes()
	return s
}

func postOrchestrate(t *testing.T, s *Service, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestServiceRejectsMissingUserID(t *testing.T) {
	s := newTestService(t, &fakeGateway{}, &fakeSearcher{})
	rec := postOrchestrate(t, s, "/orchestrate", `{"query": "tìm căn hộ"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "UserID")
}

func TestServiceRejectsMalformedBody(t *testing.T) {
	s := newTestService(t, &fakeGateway{}, &fakeSearcher{})
	rec := postOrchestrate(t, s, "/orchestrate", `{"query": `)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// An empty query is a 400, but the body is still the full response with
// the polite prompt and a conversation id the client can keep.
func TestServiceEmptyQueryReturns400WithBody(t *testing.T) {
	s := newTestService(t, &fakeGateway{}, &fakeSearcher{})
	rec := postOrchestrate(t, s, "/orchestrate", `{"user_id": "u1", "query": ""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Contains(t, resp.ResponseText, "Bạn vui lòng nhập câu hỏi")
	assert.NotEmpty(t, resp.ConversationID)
	assert.Zero(t, resp.Confidence)
}

func TestServiceChatRoundTrip(t *testing.T) {
	gw := &fakeGateway{
		classification: `{"intent": "chat", "confidence": 0.95, "entities": {}}`,
		chat:           "Chào bạn!",
	}
	s := newTestService(t, gw, &fakeSearcher{})
	rec := postOrchestrate(t, s, "/orchestrate", `{"user_id": "u1", "query": "xin chào"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, IntentChat, resp.Intent)
	assert.Equal(t, "Chào bạn!", resp.ResponseText)
	assert.Nil(t, resp.ReasoningChain)
}

func TestServiceClarificationIs200(t *testing.T) {
	s := newTestService(t, &fakeGateway{}, &fakeSearcher{})
	rec := postOrchestrate(t, s, "/orchestrate", `{"user_id": "u1", "query": "Tìm nhà đẹp"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.NeedsClarification)
	require.Len(t, resp.Clarifications, 1)
	assert.Len(t, resp.Clarifications[0].Options, 4)
}

// The v2 surface always includes the reasoning chain.
func TestServiceV2ForcesReasoningChain(t *testing.T) {
	gw := &fakeGateway{
		classification: `{"intent": "chat", "confidence": 0.95, "entities": {}}`,
		chat:           "Chào bạn!",
	}
	s := newTestService(t, gw, &fakeSearcher{})
	rec := postOrchestrate(t, s, "/orchestrate/v2", `{"user_id": "u1", "query": "xin chào"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.ReasoningChain)
	assert.NotEmpty(t, resp.ReasoningChain.Thoughts)
}

func TestServiceSearchReturnsCarousel(t *testing.T) {
	gw := &fakeGateway{
		classification: searchClassification,
		generation:     "Có 3 căn phù hợp [p1].",
	}
	s := newTestService(t, gw, &fakeSearcher{docs: listings()})
	rec := postOrchestrate(t, s, "/orchestrate",
		`{"user_id": "u1", "query": "Tìm căn hộ 2 phòng ngủ ở Quận 7 dưới 3 tỷ"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Components, 1)
	assert.Equal(t, "property-carousel", resp.Components[0].Type)
	assert.Equal(t, float64(3), resp.Components[0].Data["total"])
}
