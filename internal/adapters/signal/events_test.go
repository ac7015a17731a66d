package signal

import (
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestDecodeEvent(t *testing.T) {
	var p joinConversationEvent
	if err := decodeEvent([]byte(`{"conversation_id":7}`), &p); err != nil {
		t.Fatalf("decode valid payload: %v", err)
	}
	if p.ConversationID != 7 {
		t.Fatalf("conversation_id = %d, want 7", p.ConversationID)
	}
}

func TestDecodeEventRejects(t *testing.T) {
	cases := []struct {
		name string
		data string
		into func() any
	}{
		{"malformed json", `{"conversation_id":`, func() any { return &joinConversationEvent{} }},
		{"missing conversation_id", `{}`, func() any { return &joinConversationEvent{} }},
		{"offer without target", `{"call_id":1,"offer":{"type":"offer"}}`, func() any { return &callOfferEvent{} }},
		{"answer without sdp", `{"call_id":1,"target_user_id":2}`, func() any { return &callAnswerEvent{} }},
		{"candidate without call", `{"candidate":{"c":"x"}}`, func() any { return &iceCandidateEvent{} }},
	}
	for _, tc := range cases {
		if err := decodeEvent([]byte(tc.data), tc.into()); err == nil {
			t.Fatalf("%s: decode succeeded, want error", tc.name)
		}
	}
}

func TestDecodeEventCandidateTargetOptional(t *testing.T) {
	var p iceCandidateEvent
	if err := decodeEvent([]byte(`{"call_id":1,"candidate":{"c":"x"}}`), &p); err != nil {
		t.Fatalf("candidate without target rejected: %v", err)
	}
	if p.TargetUserID != 0 {
		t.Fatalf("target = %d, want unset", p.TargetUserID)
	}
}

func TestBearerToken(t *testing.T) {
	gin.SetMode(gin.TestMode)

	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest("GET", "/api/ws", nil)
	c.Request.Header.Set("Authorization", "Bearer abc")
	if got := bearerToken(c); got != "abc" {
		t.Fatalf("header token = %q, want abc", got)
	}

	c, _ = gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest("GET", "/api/ws?token=xyz", nil)
	if got := bearerToken(c); got != "xyz" {
		t.Fatalf("query token = %q, want xyz", got)
	}

	c, _ = gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest("GET", "/api/ws", nil)
	c.Request.Header.Set("Authorization", "Basic abc")
	if got := bearerToken(c); got != "" {
		t.Fatalf("non-bearer header token = %q, want empty", got)
	}
}
