package ai

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sppetrol/webchat/internal/config"
)

func TestKeywordReply(t *testing.T) {
	cases := []struct {
		question string
		contains string
	}{
		{"AI-95 narxi qancha?", "Narxlar"},
		{"Yetkazib berish qancha vaqt?", "~2 soat"},
		{"Ish vaqti qanaqa?", "24/7 ishlaymiz"},
		{"dizel bormi", "Dizel"},
		{"benzin kerak", "AI-92, AI-95"},
		{"neft olmoqchiman", "Neft"},
		{"salom", "aniqroq yozing"},
	}

	for _, tc := range cases {
		t.Run(tc.question, func(t *testing.T) {
			assert.Contains(t, KeywordReply(tc.question), tc.contains)
		})
	}
}

func TestResponderWithoutModelUsesKeywords(t *testing.T) {
	r, err := NewResponder(context.Background(), config.AIConfig{})
	require.NoError(t, err)
	assert.False(t, r.ModelEnabled())

	reply := r.Reply(context.Background(), "Yetkazib berasizlarmi?")
	assert.True(t, strings.Contains(reply, "yetkazib beramiz"))
	assert.NotEmpty(t, r.Reply(context.Background(), "   "))
}
