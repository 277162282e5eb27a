package utils

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"telecare-server/internal/errs"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestRespondError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"validation", errs.New(errs.KindValidation, "book", "bad date"), http.StatusBadRequest, "validation"},
		{"payment", errs.ErrPaymentRequired, http.StatusPaymentRequired, "payment_required"},
		{"unauthorized", errs.New(errs.KindUnauthorized, "send", "not a participant"), http.StatusForbidden, "unauthorized"},
		{"not found", errs.New(errs.KindNotFound, "find", "appointment not found"), http.StatusNotFound, "not_found"},
		{"invalid transition", errs.ErrInvalidTransition, http.StatusConflict, "invalid_transition"},
		{"already pending", errs.ErrAlreadyPending, http.StatusConflict, "already_pending"},
		{"already resolved", errs.ErrAlreadyResolved, http.StatusConflict, "already_resolved"},
		{"conflict", errs.ErrConflict, http.StatusConflict, "conflict"},
		{"expired", errs.ErrProposalExpired, http.StatusGone, "proposal_expired"},
		{"wrapped", fmt.Errorf("outer: %w", errs.New(errs.KindNotFound, "find", "gone")), http.StatusNotFound, "not_found"},
		{"plain", errors.New("db exploded"), http.StatusInternalServerError, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)

			RespondError(c, tt.err)

			assert.Equal(t, tt.wantStatus, w.Code)
			var body ResponseData
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tt.wantStatus, body.Status)
			assert.Equal(t, tt.wantCode, body.Code)
			assert.NotContains(t, body.Error, "db exploded")
		})
	}
}
