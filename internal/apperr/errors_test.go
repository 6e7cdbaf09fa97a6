package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindAndIs(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := fmt.Errorf("query: %w", Wrap(KindStoreUnavailable, "qdrant.search", cause))

	assert.Equal(t, KindStoreUnavailable, KindOf(err))
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, ErrEmbedding)
	assert.ErrorIs(t, err, New(KindStoreUnavailable, "", ""))

	assert.Equal(t, KindInternal, KindOf(errors.New("boom")))
}

func TestPublicMessage(t *testing.T) {
	err := Wrap(KindModelUnavailable, "chat", errors.New("401 invalid api key sk-xxx"))
	assert.NotContains(t, PublicMessage(err), "sk-xxx")
	assert.Equal(t, publicMessages[KindModelUnavailable], PublicMessage(err))

	assert.Equal(t, "query must not be empty", PublicMessage(New(KindInvalidRequest, "validate", "query must not be empty")))
	assert.Equal(t, publicMessages[KindInternal], PublicMessage(errors.New("x")))

	for kind := range sentinels {
		assert.NotEmpty(t, publicMessages[kind], "kind %s 缺少对外消息", kind)
	}
}

func TestRawOutput(t *testing.T) {
	err := fmt.Errorf("analyze: %w", Malformed("parse", "not json {", errors.New("unexpected end")))
	assert.Equal(t, KindMalformedAnalysisJSON, KindOf(err))
	assert.Equal(t, "not json {", RawOutputOf(err))
	assert.Empty(t, RawOutputOf(New(KindInternal, "x", "")))
	assert.Contains(t, err.Error(), "op:parse")
}
