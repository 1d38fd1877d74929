package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"watchbill/internal/domain"
	"watchbill/internal/engine"
)

const (
	defaultExportInterval = 2 * time.Second
	defaultExportTimeout  = 5 * time.Second
	defaultExportBatch    = 50
)

// ArtifactReader is the read side of the artifact store, used by the
// dispatcher to attach rendered documents to delivery requests.
type ArtifactReader interface {
	Get(path string) ([]byte, error)
}

// exportDispatcher drains pending email exports and hands them to the
// configured delivery gateway. Delivery is at-least-once; the export row is
// the cursor.
type exportDispatcher struct {
	engine engine.Engine
	client *http.Client
}

func startExportDispatcher(e engine.Engine) {
	if e.Config == nil || strings.TrimSpace(e.Config.Export.Gateway.URL) == "" {
		return
	}
	timeout := defaultExportTimeout
	if e.Config.Export.Gateway.TimeoutSeconds > 0 {
		timeout = time.Duration(e.Config.Export.Gateway.TimeoutSeconds) * time.Second
	}
	d := &exportDispatcher{
		engine: e,
		client: &http.Client{Timeout: timeout},
	}
	go d.run()
}

func (d *exportDispatcher) run() {
	ticker := time.NewTicker(defaultExportInterval)
	defer ticker.Stop()
	for {
		d.dispatchPending()
		<-ticker.C
	}
}

func (d *exportDispatcher) dispatchPending() {
	ctx := context.Background()
	pending, err := d.engine.Repo.ListPendingEmailExports(ctx, defaultExportBatch)
	if err != nil {
		log.Printf("export: fetch pending failed: %v", err)
		return
	}
	for _, exp := range pending {
		if err := d.deliver(ctx, exp); err != nil {
			log.Printf("export: deliver %s failed: %v", exp.ID, err)
			if serr := d.engine.Repo.SetExportStatus(ctx, exp.ID, domain.ExportStatusFailed, err.Error()); serr != nil {
				log.Printf("export: mark %s failed: %v", exp.ID, serr)
			}
			continue
		}
		if serr := d.engine.Repo.SetExportStatus(ctx, exp.ID, domain.ExportStatusCompleted, ""); serr != nil {
			log.Printf("export: mark %s completed: %v", exp.ID, serr)
		}
	}
}

type emailDelivery struct {
	ExportID     string   `json:"export_id"`
	DraftID      string   `json:"draft_id"`
	Recipients   []string `json:"recipients"`
	Subject      string   `json:"subject"`
	HTMLBody     string   `json:"html_body"`
	DocumentHash string   `json:"document_hash"`
}

func (d *exportDispatcher) deliver(ctx context.Context, exp domain.Export) error {
	reader, ok := d.engine.Store.(ArtifactReader)
	if !ok {
		return fmt.Errorf("artifact store is write-only")
	}
	html, err := reader.Get(exp.StoragePath)
	if err != nil {
		return fmt.Errorf("read artifact %s: %w", exp.StoragePath, err)
	}
	body := emailDelivery{
		ExportID:     exp.ID,
		DraftID:      exp.DraftID,
		Recipients:   exp.Recipients,
		Subject:      fmt.Sprintf("Handover report %s", exp.DraftID),
		HTMLBody:     string(html),
		DocumentHash: exp.DocumentHash,
	}
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	gateway := d.engine.Config.Export.Gateway
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, gateway.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Watchbill-Export", exp.ID)
	if strings.TrimSpace(gateway.Secret) != "" {
		req.Header.Set("X-Watchbill-Secret", gateway.Secret)
	}
	res, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(bodyBytes)))
	}
	return nil
}
