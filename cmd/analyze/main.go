// Command analyze submits media files to a running backend, follows each
// task's event stream and prints the resulting reports.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"media-analysis-backend/internal/core"
	"media-analysis-backend/internal/core/utils"
	"media-analysis-backend/internal/notify"
	"media-analysis-backend/pkg/api"
	"mime"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"
)

type client struct {
	http    *resty.Client
	options map[string]string
	quiet   bool
}

func contentType(path string) string {
	if ct := mime.TypeByExtension(filepath.Ext(path)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// analyze opens the event stream under a client-chosen task id before
// submitting, so no event can be published ahead of the subscription.
func (c *client) analyze(ctx context.Context, path string) (*api.AnalysisReport, error) {
	taskId := uuid.NewString()

	stream, err := c.http.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		SetHeader("Accept", "text/event-stream").
		SetPathParam("task_id", taskId).
		Get("/analysis/{task_id}/events")
	if err != nil {
		return nil, fmt.Errorf("error opening event stream: %w", err)
	}
	body := stream.RawBody()
	defer body.Close()
	if !stream.IsSuccess() {
		return nil, fmt.Errorf("event stream returned status %d", stream.StatusCode())
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("error opening %s: %w", path, err)
	}
	defer file.Close()

	fields := map[string]string{core.TaskIdOption: taskId}
	for k, v := range c.options {
		fields[k] = v
	}

	var accepted api.TaskAccepted
	res, err := c.http.R().
		SetContext(ctx).
		SetMultipartField("file", filepath.Base(path), contentType(path), file).
		SetMultipartFormData(fields).
		SetResult(&accepted).
		Post("/analysis")
	if err != nil {
		return nil, fmt.Errorf("error submitting %s: %w", path, err)
	}
	if !res.IsSuccess() {
		return nil, fmt.Errorf("submit returned status %d: %s", res.StatusCode(), res.String())
	}

	var bar *progressbar.ProgressBar
	if !c.quiet {
		bar = progressbar.NewOptions(100,
			progressbar.OptionSetDescription(filepath.Base(path)),
			progressbar.OptionSetWidth(30),
			progressbar.OptionClearOnFinish(),
		)
	}

	var report *api.AnalysisReport
	var failure error
	err = notify.ReadSSE(body, func(event api.Event) bool {
		switch event.Type {
		case api.EventProgress:
			if bar != nil && event.Progress != nil {
				_ = bar.Set(*event.Progress)
			}
		case api.EventDone:
			report = event.Payload
		case api.EventError:
			failure = fmt.Errorf("task %s failed: %s", accepted.TaskId, event.Code)
		}
		return !event.Terminal()
	})
	if bar != nil {
		_ = bar.Finish()
	}
	if err != nil {
		return nil, fmt.Errorf("error reading event stream: %w", err)
	}
	if failure != nil {
		return nil, failure
	}
	if report == nil {
		return nil, fmt.Errorf("event stream for task %s ended without a result", accepted.TaskId)
	}
	return report, nil
}

func main() {
	server := flag.String("server", "http://localhost:8001/api/v1", "backend API base url")
	owner := flag.String("owner", "", "owner id sent with every request")
	mode := flag.String("mode", "", "analysis mode option")
	detector := flag.String("detector", "", "detector option")
	concurrency := flag.Int("concurrency", 1, "number of files analyzed at once")
	flag.Parse()

	if *owner == "" {
		log.Fatalf("-owner is required")
	}
	paths := flag.Args()
	if len(paths) == 0 {
		log.Fatalf("usage: analyze -owner <id> [flags] <file>...")
	}

	options := map[string]string{}
	if *mode != "" {
		options["mode"] = *mode
	}
	if *detector != "" {
		options["detector"] = *detector
	}

	c := &client{
		http:    resty.New().SetBaseURL(*server).SetHeader("X-Owner-Id", *owner),
		options: options,
		quiet:   *concurrency > 1,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	failed := 0
	out := json.NewEncoder(os.Stdout)
	out.SetIndent("", "  ")
	for done := range utils.RunInPool(ctx, c.analyze, paths, *concurrency) {
		if done.Error != nil {
			failed++
			log.Printf("%s: %v", done.Input, done.Error)
			continue
		}
		if err := out.Encode(map[string]any{"file": done.Input, "report": done.Result}); err != nil {
			log.Fatalf("error writing report: %v", err)
		}
	}

	if failed > 0 {
		os.Exit(1)
	}
}
