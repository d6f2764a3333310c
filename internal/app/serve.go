package app

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"

	"github.com/dshills/snippy/internal/source"
)

// MaxRequestSize is the longest request line Serve accepts.
const MaxRequestSize = 1 << 20

// Request is one line of the serve protocol.
type Request struct {
	ID string `json:"id"`
	source.Context
}

// Response answers a Request. Error is set when the request itself could not
// be handled; per-source failures are reported in Results.
type Response struct {
	ID      string         `json:"id"`
	Results []ResultRecord `json:"results"`
	Error   string         `json:"error,omitempty"`
}

// ResultRecord is the wire form of a source.Result. Candidates that cannot be
// encoded as JSON, such as NaN or infinite numbers, are dropped and reported
// in Error.
type ResultRecord struct {
	Source     string `json:"source"`
	Mark       string `json:"mark"`
	Rank       int    `json:"rank"`
	Candidates any    `json:"candidates"`
	Error      string `json:"error,omitempty"`
}

// NewResultRecords converts gather results to their wire form.
func NewResultRecords(results []source.Result) []ResultRecord {
	records := make([]ResultRecord, 0, len(results))
	for _, r := range results {
		rec := ResultRecord{
			Source: r.Source,
			Mark:   r.Mark,
			Rank:   r.Rank,
		}
		if r.Err != nil {
			rec.Error = r.Err.Error()
		}
		if data, err := json.Marshal(r.Candidates); err != nil {
			if rec.Error == "" {
				rec.Error = "encoding candidates: " + err.Error()
			}
		} else {
			rec.Candidates = json.RawMessage(data)
		}
		records = append(records, rec)
	}
	return records
}

// Serve answers newline-delimited JSON requests from r on w until r is
// exhausted or ctx is done. Blank lines are skipped. Requests are handled one
// at a time, in order.
//
// With lua.watch set and the embedded runtime in use, engine files are
// reloaded on change for the lifetime of the call.
func (app *Application) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
	}()

	if app.cfg.Lua.Watch && app.runtime != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := app.runtime.Watch(ctx); err != nil {
				app.log.Warn().Err(err).Msg("engine watcher stopped")
			}
		}()
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), MaxRequestSize)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		if err := app.write(w, app.handle(ctx, line)); err != nil {
			return fmt.Errorf("writing response: %w", err)
		}
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("reading requests: %w", err)
	}
	return nil
}

// write sends resp as one line. A response that cannot be encoded is replaced
// by an error response with the same id so the session keeps going.
func (app *Application) write(w io.Writer, resp Response) error {
	data, err := json.Marshal(resp)
	if err != nil {
		app.log.Warn().Err(err).Str("id", resp.ID).Msg("encoding response")
		data, err = json.Marshal(Response{
			ID:      resp.ID,
			Results: []ResultRecord{},
			Error:   "encoding response: " + err.Error(),
		})
		if err != nil {
			return err
		}
	}
	_, err = w.Write(append(data, '\n'))
	return err
}

func (app *Application) handle(ctx context.Context, line []byte) Response {
	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		app.log.Warn().Err(err).Msg("malformed request")
		return Response{Results: []ResultRecord{}, Error: "malformed request: " + err.Error()}
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	results := app.Gather(ctx, &req.Context)
	return Response{ID: req.ID, Results: NewResultRecords(results)}
}
