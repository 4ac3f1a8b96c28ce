package services

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
)

type TestStruct struct {
	Name   string  `json:"name" validate:"required,min=2"`
	Amount float64 `json:"amount" validate:"required,gt=0"`
	PIN    string  `json:"pin" validate:"required,len=4,numeric"`
}

func TestValidationHelper_ValidateStruct(t *testing.T) {
	vh := NewValidationHelper()

	t.Run("valid struct", func(t *testing.T) {
		valid := TestStruct{Name: "Priya", Amount: 250.0, PIN: "4821"}

		err := vh.ValidateStruct(&valid)
		assert.NoError(t, err)
	})

	t.Run("invalid struct - missing required fields", func(t *testing.T) {
		invalid := TestStruct{
			Name: "P", // Too short
			// Amount missing
			PIN: "12ab", // Not numeric
		}

		err := vh.ValidateStruct(&invalid)
		assert.Error(t, err)

		validationErrors, ok := err.(validator.ValidationErrors)
		assert.True(t, ok)
		assert.Len(t, validationErrors, 3)
	})
}

func TestDecodeStrict(t *testing.T) {
	t.Run("single valid object", func(t *testing.T) {
		body := bytes.NewBufferString(`{"name":"Priya","amount":250,"pin":"4821"}`)
		r := httptest.NewRequest(http.MethodPost, "/", body)
		w := httptest.NewRecorder()

		var dst TestStruct
		err := DecodeStrict(w, r, &dst)
		assert.NoError(t, err)
		assert.Equal(t, "Priya", dst.Name)
	})

	t.Run("unknown field rejected", func(t *testing.T) {
		body := bytes.NewBufferString(`{"name":"Priya","amount":250,"pin":"4821","extra":true}`)
		r := httptest.NewRequest(http.MethodPost, "/", body)
		w := httptest.NewRecorder()

		var dst TestStruct
		err := DecodeStrict(w, r, &dst)
		assert.Error(t, err)
	})

	t.Run("trailing JSON object rejected", func(t *testing.T) {
		body := bytes.NewBufferString(`{"name":"Priya","amount":250,"pin":"4821"}{"name":"again"}`)
		r := httptest.NewRequest(http.MethodPost, "/", body)
		w := httptest.NewRecorder()

		var dst TestStruct
		err := DecodeStrict(w, r, &dst)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "single JSON object")
	})

	t.Run("malformed JSON rejected", func(t *testing.T) {
		body := bytes.NewBufferString(`{broken`)
		r := httptest.NewRequest(http.MethodPost, "/", body)
		w := httptest.NewRecorder()

		var dst TestStruct
		err := DecodeStrict(w, r, &dst)
		assert.Error(t, err)
	})
}

func TestSendErrorResponse(t *testing.T) {
	t.Run("error response without validation errors", func(t *testing.T) {
		w := httptest.NewRecorder()

		SendErrorResponse(w, "Something went wrong", http.StatusInternalServerError, nil)

		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

		var response ErrorResponse
		err := json.Unmarshal(w.Body.Bytes(), &response)
		assert.NoError(t, err)
		assert.Equal(t, "Something went wrong", response.Error)
		assert.Nil(t, response.Details)
	})

	t.Run("error response with validation details", func(t *testing.T) {
		vh := NewValidationHelper()
		invalid := TestStruct{Name: "P", PIN: "12ab"}
		validationErr := vh.ValidateStruct(&invalid)
		assert.Error(t, validationErr)

		w := httptest.NewRecorder()
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, validationErr)

		assert.Equal(t, http.StatusBadRequest, w.Code)

		var response ErrorResponse
		err := json.Unmarshal(w.Body.Bytes(), &response)
		assert.NoError(t, err)
		assert.Equal(t, "Validation failed", response.Error)
		assert.NotEmpty(t, response.Details)
		assert.Contains(t, response.Details["Name"], "min")
	})
}
