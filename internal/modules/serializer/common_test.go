package serializer

import (
	"net/http"
	"testing"

	"github.com/draftdeck/draftdeck/internal/infra/httpclient"
	"github.com/stretchr/testify/assert"
)

func TestWorkerErrUnavailableMapsTo503(t *testing.T) {
	err := &httpclient.WorkerUnavailableError{
		WorkerError: httpclient.WorkerError{Message: "worker unavailable: request failed after 3 attempts: boom"},
		Attempts:    3,
	}

	code, resp := WorkerErr(err)

	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, http.StatusServiceUnavailable, resp.Code)
}

func TestWorkerErrClientErrorPassesThrough(t *testing.T) {
	err := &httpclient.WorkerError{Message: "invalid prompt", StatusCode: http.StatusUnprocessableEntity}

	code, resp := WorkerErr(err)

	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, "invalid prompt", resp.Msg)
}

func TestWorkerErrUnknownIsBadGateway(t *testing.T) {
	code, _ := WorkerErr(assert.AnError)

	assert.Equal(t, http.StatusBadGateway, code)
}
