package serializer

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/draftdeck/draftdeck/internal/infra/httpclient"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

var log *zap.Logger

// SetLogger wires the package logger used for 5xx responses.
func SetLogger(l *zap.Logger) { log = l }

// Response
type Response struct {
	Code  int         `json:"code"`
	Data  interface{} `json:"data,omitempty"`
	Msg   string      `json:"msg"`
	Error string      `json:"error,omitempty"`
}

// Err
func Err(errCode int, msg string, err error) Response {
	res := Response{
		Code: errCode,
		Msg:  msg,
	}
	// development mode, show error detail
	if err != nil && gin.Mode() != gin.ReleaseMode {
		res.Error = fmt.Sprintf("%+v", err)
	}
	if err != nil && errCode >= http.StatusInternalServerError && log != nil {
		log.Sugar().Errorw("request failed", "code", errCode, "msg", msg, "err", err)
	}
	return res
}

// DBErr
func DBErr(msg string, err error) Response {
	if msg == "" {
		msg = "database error"
	}
	return Err(http.StatusInternalServerError, msg, err)
}

// ParamErr
func ParamErr(msg string, err error) Response {
	if msg == "" {
		msg = "parameter error"
	}
	return Err(http.StatusBadRequest, msg, err)
}

// AuthErr
func AuthErr(msg string) Response {
	if msg == "" {
		msg = "authentication error"
	}
	return Err(http.StatusUnauthorized, msg, nil)
}

// NotFoundErr
func NotFoundErr(msg string) Response {
	if msg == "" {
		msg = "not found"
	}
	return Err(http.StatusNotFound, msg, nil)
}

// WorkerErr maps AI worker client failures onto HTTP codes: exhausted
// retries surface as 503, a 4xx from the worker passes through, anything
// else is a 502.
func WorkerErr(err error) (int, Response) {
	var unavailable *httpclient.WorkerUnavailableError
	if errors.As(err, &unavailable) {
		return http.StatusServiceUnavailable, Err(http.StatusServiceUnavailable, "ai worker unavailable", err)
	}
	var werr *httpclient.WorkerError
	if errors.As(err, &werr) && werr.StatusCode >= 400 && werr.StatusCode < 500 {
		return werr.StatusCode, Err(werr.StatusCode, werr.Message, err)
	}
	return http.StatusBadGateway, Err(http.StatusBadGateway, "ai worker error", err)
}
