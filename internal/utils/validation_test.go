package utils

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

type sampleRequest struct {
	Name string `json:"name" binding:"required"`
	Kind string `json:"kind" binding:"omitempty,oneof=video voice"`
}

type optionalRequest struct {
	Reason string `json:"reason" binding:"max=5"`
}

func newContext(body string) (*gin.Context, *httptest.ResponseRecorder) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	c.Request.Header.Set("Content-Type", "application/json")
	return c, w
}

func TestBindAndValidate(t *testing.T) {
	var ok sampleRequest
	c, _ := newContext(`{"name":"a","kind":"video"}`)
	assert.True(t, BindAndValidate(c, &ok))
	assert.Equal(t, "a", ok.Name)

	var missing sampleRequest
	c, w := newContext(`{"kind":"video"}`)
	assert.False(t, BindAndValidate(c, &missing))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "Name is required")

	var badEnum sampleRequest
	c, w = newContext(`{"name":"a","kind":"fax"}`)
	assert.False(t, BindAndValidate(c, &badEnum))
	assert.Contains(t, w.Body.String(), "Kind must be one of [video voice]")

	var malformed sampleRequest
	c, w = newContext(`{`)
	assert.False(t, BindAndValidate(c, &malformed))
	assert.Contains(t, w.Body.String(), "Invalid request payload")
}

func TestBindOptional(t *testing.T) {
	var empty optionalRequest
	c, _ := newContext("")
	assert.True(t, BindOptional(c, &empty))

	var tooLong optionalRequest
	c, w := newContext(`{"reason":"far too long"}`)
	assert.False(t, BindOptional(c, &tooLong))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
