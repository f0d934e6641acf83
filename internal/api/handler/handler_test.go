package handler

import (
	"errors"
	"fmt"
	"testing"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recruit-agent-go/internal/types"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not found", types.NewNotFoundError("op", "id", "x"), consts.StatusNotFound},
		{"invalid state", types.NewInvalidStateError("op", "id", "x"), consts.StatusBadRequest},
		{"validation", types.NewValidationError("op", "x"), consts.StatusBadRequest},
		{"extraction", types.NewExtractionError("op", "f", "x", nil), consts.StatusBadRequest},
		{"wrapped validation", fmt.Errorf("外层: %w", types.NewValidationError("op", "x")), consts.StatusBadRequest},
		{"stage", types.NewStageError("writer", "x", nil), consts.StatusInternalServerError},
		{"retrieval empty", types.NewRetrievalEmptyError("r"), consts.StatusInternalServerError},
		{"plain", errors.New("boom"), consts.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StatusFor(tt.err))
		})
	}
}

func TestDecodeBodyAliases(t *testing.T) {
	c := app.NewContext(0)
	c.Request.SetBody([]byte(`{"jd_id":"abc","top_n":3}`))
	var start StartRequest
	require.NoError(t, decodeBody(c, &start))
	assert.Equal(t, "abc", start.jdID())
	assert.Equal(t, 3, start.topN())

	c = app.NewContext(0)
	c.Request.SetBody([]byte(`{"jobDescriptionId":"camel","jd_id":"snake","topN":0}`))
	start = StartRequest{}
	require.NoError(t, decodeBody(c, &start))
	assert.Equal(t, "camel", start.jdID(), "camelCase 优先")
	assert.Equal(t, 0, start.topN())

	c = app.NewContext(0)
	c.Request.SetBody([]byte(`{"topN":"three"}`))
	start = StartRequest{}
	err := decodeBody(c, &start)
	assert.ErrorIs(t, err, types.ErrValidation)

	c = app.NewContext(0)
	c.Request.SetBody([]byte(`{"approvedResumeIds":[]}`))
	var approve ApproveRequest
	require.NoError(t, decodeBody(c, &approve))
	ids, ok := approve.ids()
	assert.True(t, ok)
	assert.Empty(t, ids)

	c = app.NewContext(0)
	var edit EditEmailRequest
	err = decodeBody(c, &edit)
	assert.ErrorIs(t, err, types.ErrValidation, "空请求体缺少必填字段")
}
