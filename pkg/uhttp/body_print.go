package uhttp

// Implements a debugging facility for request responses. This changes
// the behavior of `BaseHttpClient` with an unexported flag.

import (
	"io"

	"go.uber.org/zap"
)

type printReader struct {
	io.ReadCloser
}

func (pr *printReader) Read(p []byte) (int, error) {
	n, err := pr.ReadCloser.Read(p)
	if n > 0 {
		zap.L().Debug("http response body", zap.ByteString("chunk", p[:n]))
	}

	return n, err
}

func wrapPrintBody(body io.ReadCloser) io.ReadCloser {
	return &printReader{ReadCloser: body}
}

type printBodyOption struct {
	debugPrintBody bool
}

func (o printBodyOption) Apply(c *BaseHttpClient) {
	c.debugPrintBody = o.debugPrintBody
}

func WithPrintBody(shouldPrint bool) WrapperOption {
	return printBodyOption{debugPrintBody: shouldPrint}
}
