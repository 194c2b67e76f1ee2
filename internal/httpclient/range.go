package httpclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
)

// ErrRangeNotSatisfied is returned when the server does not honor a byte
// range request with a partial-content response.
var ErrRangeNotSatisfied = errors.New("byte range not satisfied")

// RangeResult holds one fetched byte range.
type RangeResult struct {
	// Data is the response body for the requested range.
	Data []byte

	// Start and End are the byte positions actually served, inclusive.
	Start int64
	End   int64

	// TotalSize is the full asset size from the Content-Range header,
	// or -1 when the server did not report it.
	TotalSize int64
}

// GetRange fetches the inclusive byte range [start, end] of url.
//
// The server is expected to answer 206 Partial Content with a
// Content-Range header; the asset's total size is derived from that
// header. A 200 response is accepted as a degenerate full-body range for
// servers without range support. Decompression never applies here: ranges
// address the raw asset bytes.
func (c *Client) GetRange(ctx context.Context, url string, start, end int64) (*RangeResult, error) {
	if start < 0 || end < start {
		return nil, fmt.Errorf("invalid byte range %d-%d", start, end)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating range request: %w", err)
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", start, end))
	// Identity only; a compressed body would break byte addressing.
	req.Header.Set("Accept-Encoding", "identity")

	resp, err := c.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusPartialContent:
		servedStart, servedEnd, total, err := parseContentRange(resp.Header.Get("Content-Range"))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRangeNotSatisfied, err)
		}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("reading range body: %w", err)
		}
		return &RangeResult{Data: data, Start: servedStart, End: servedEnd, TotalSize: total}, nil

	case http.StatusOK:
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("reading body: %w", err)
		}
		return &RangeResult{Data: data, Start: 0, End: int64(len(data)) - 1, TotalSize: int64(len(data))}, nil

	default:
		return nil, fmt.Errorf("%w: status %d", ErrRangeNotSatisfied, resp.StatusCode)
	}
}

// parseContentRange parses a "bytes <start>-<end>/<total>" header value.
// A total of "*" yields -1.
func parseContentRange(value string) (start, end, total int64, err error) {
	const prefix = "bytes "
	if !strings.HasPrefix(value, prefix) {
		return 0, 0, 0, fmt.Errorf("malformed Content-Range %q", value)
	}

	rangePart, totalPart, ok := strings.Cut(strings.TrimPrefix(value, prefix), "/")
	if !ok {
		return 0, 0, 0, fmt.Errorf("malformed Content-Range %q", value)
	}

	startStr, endStr, ok := strings.Cut(rangePart, "-")
	if !ok {
		return 0, 0, 0, fmt.Errorf("malformed Content-Range %q", value)
	}

	if start, err = strconv.ParseInt(startStr, 10, 64); err != nil {
		return 0, 0, 0, fmt.Errorf("malformed Content-Range %q", value)
	}
	if end, err = strconv.ParseInt(endStr, 10, 64); err != nil {
		return 0, 0, 0, fmt.Errorf("malformed Content-Range %q", value)
	}

	if totalPart == "*" {
		return start, end, -1, nil
	}
	if total, err = strconv.ParseInt(totalPart, 10, 64); err != nil {
		return 0, 0, 0, fmt.Errorf("malformed Content-Range %q", value)
	}
	return start, end, total, nil
}
