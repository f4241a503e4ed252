// Package httpx holds the shared client used for outbound forum requests.
package httpx

import (
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
)

const (
	defaultExternalHTTPTimeout = 30 * time.Second
	defaultRetryMax            = 3
	defaultRetryWaitMin        = 500 * time.Millisecond
	defaultRetryWaitMax        = 5 * time.Second
)

var externalHTTPClient = New(defaultExternalHTTPTimeout, defaultRetryMax, nil)

// ExternalHTTPClient returns the process-wide client configured by
// ConfigureExternalHTTPClient.
func ExternalHTTPClient() *http.Client {
	return externalHTTPClient
}

// ConfigureExternalHTTPClient rebuilds the shared client. Non-positive
// timeoutSeconds keeps the default.
func ConfigureExternalHTTPClient(timeoutSeconds int, logger *zap.Logger) time.Duration {
	timeout := defaultExternalHTTPTimeout
	if timeoutSeconds > 0 {
		timeout = time.Duration(timeoutSeconds) * time.Second
	}
	externalHTTPClient = New(timeout, defaultRetryMax, logger)
	return timeout
}

// New builds an *http.Client that retries connection errors and 5xx
// responses up to retryMax times.
func New(timeout time.Duration, retryMax int, logger *zap.Logger) *http.Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = retryMax
	rc.RetryWaitMin = defaultRetryWaitMin
	rc.RetryWaitMax = defaultRetryWaitMax
	rc.Logger = nil
	if logger != nil {
		rc.Logger = leveledLogger{logger.Sugar()}
	}
	// Hand the last response back to the caller instead of a synthetic error.
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler

	client := rc.StandardClient()
	client.Timeout = timeout
	return client
}

type leveledLogger struct {
	l *zap.SugaredLogger
}

func (z leveledLogger) Error(msg string, kv ...interface{}) { z.l.Errorw(msg, kv...) }
func (z leveledLogger) Info(msg string, kv ...interface{})  { z.l.Infow(msg, kv...) }
func (z leveledLogger) Debug(msg string, kv ...interface{}) { z.l.Debugw(msg, kv...) }
func (z leveledLogger) Warn(msg string, kv ...interface{})  { z.l.Warnw(msg, kv...) }
