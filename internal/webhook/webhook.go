// Package webhook forwards query results to external HTTP consumers in
// batches.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"ops-data-loaders/internal/config"
	"ops-data-loaders/internal/database"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// StatusError is returned when a webhook answers with anything but 200.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Body)
}

// Summary counts dispatch outcomes per batch.
type Summary struct {
	Sent    int
	Failed  int
	Skipped int
}

type Dispatcher struct {
	client *http.Client
	now    func() time.Time
	log    logrus.FieldLogger
}

func New(client *http.Client, log logrus.FieldLogger) *Dispatcher {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &Dispatcher{client: client, now: time.Now, log: log}
}

// Dispatch runs every webhook in order. Nothing is sent unless env is the
// production environment. A failing query or batch is logged and the
// remaining batches and webhooks still run.
func (d *Dispatcher) Dispatch(ctx context.Context, hooks []config.WebhookConfig, conns *database.Connections, env string) Summary {
	var sum Summary
	if len(hooks) == 0 {
		d.log.Info("missing webhooks - skip")
		return sum
	}

	for _, wh := range hooks {
		log := d.log.WithFields(logrus.Fields{"webhook": wh.Type, "schema": wh.Schema})

		if env != config.ProductionEnv {
			log.WithField("env", env).Info("webhook skipped outside production")
			sum.Skipped++
			continue
		}
		if !d.due(wh.Time) {
			log.WithField("time", fmt.Sprintf("%04d", wh.Time)).Info("webhook not yet due, will retry on a later run")
			sum.Skipped++
			continue
		}
		if ctx.Err() != nil {
			log.WithError(ctx.Err()).Warn("dispatch interrupted")
			break
		}

		s := d.dispatchOne(ctx, wh, conns, log)
		sum.Sent += s.Sent
		sum.Failed += s.Failed
		sum.Skipped += s.Skipped
	}
	return sum
}

// due reports whether the current UTC time of day has reached hhmm.
func (d *Dispatcher) due(hhmm int) bool {
	if hhmm == 0 {
		return true
	}
	now := d.now().UTC()
	return now.Hour()*100+now.Minute() >= hhmm
}

func (d *Dispatcher) dispatchOne(ctx context.Context, wh config.WebhookConfig, conns *database.Connections, log logrus.FieldLogger) Summary {
	var sum Summary

	result, err := d.query(ctx, wh, conns)
	if err != nil {
		log.WithError(err).Error("webhook query failed")
		sum.Failed++
		return sum
	}

	var limiter *rate.Limiter
	if wh.IntervalMS > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Duration(wh.IntervalMS)*time.Millisecond), 1)
	}

	parts := split(result.Data, wh.NumOfPayloads)
	for i, part := range parts {
		blog := log.WithField("batch", fmt.Sprintf("%d out of %d", i+1, len(parts)))
		if len(part) == 0 {
			blog.Info("empty batch skipped")
			sum.Skipped++
			continue
		}
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				blog.WithError(err).Warn("dispatch interrupted")
				sum.Failed++
				return sum
			}
		}

		body := Table{Schema: Schema{Fields: result.Fields}, Data: part}
		if err := d.post(ctx, wh.URL, body); err != nil {
			var se *StatusError
			if errors.As(err, &se) {
				blog = blog.WithFields(logrus.Fields{"status_code": se.Code, "body": se.Body})
			}
			blog.WithError(err).Error("failed to send batch")
			sum.Failed++
			continue
		}
		blog.WithField("rows", len(part)).Info("batch sent")
		sum.Sent++
	}
	return sum
}

func (d *Dispatcher) query(ctx context.Context, wh config.WebhookConfig, conns *database.Connections) (*Rows, error) {
	conn, err := conns.Get(wh.Schema)
	if err != nil {
		return nil, err
	}
	rows, err := conn.DB.QueryContext(ctx, wh.Query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return readRows(rows)
}

func (d *Dispatcher) post(ctx context.Context, url string, body Table) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	// Bodies are capped at 64KiB.
	msg, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if resp.StatusCode != http.StatusOK {
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	return nil
}
