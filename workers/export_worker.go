package workers

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"log"
	"strconv"
	"time"

	"loyalty-engine/services"
	"loyalty-engine/utils"
)

// ExportClient periodically snapshots the referral analytics to CSV and
// uploads it to the object store. Fire-and-forget: failures are logged and
// never touch engine state.
type ExportClient struct {
	Analytics *services.AnalyticsService
}

func NewExportClient(analytics *services.AnalyticsService) *ExportClient {
	return &ExportClient{Analytics: analytics}
}

// PollExports runs the export loop until ctx is cancelled.
func PollExports(ctx context.Context, c *ExportClient, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Export worker stopping...")
			return
		case <-ticker.C:
			if err := c.ExportOnce(ctx); err != nil {
				log.Printf("[Export] %v", err)
			}
		}
	}
}

// ExportOnce builds and uploads one analytics snapshot.
func (c *ExportClient) ExportOnce(ctx context.Context) error {
	report, err := c.Analytics.Analytics(ctx)
	if err != nil {
		return fmt.Errorf("failed to build analytics report: %w", err)
	}

	data, err := buildCSV(report)
	if err != nil {
		return fmt.Errorf("failed to build CSV: %w", err)
	}

	key := fmt.Sprintf("exports/referral-analytics-%s.csv", time.Now().UTC().Format("2006-01-02T15-04-05"))
	if err := utils.UploadBytes(ctx, key, data, "text/csv"); err != nil {
		return err
	}

	log.Printf("✅ Exported analytics snapshot to %s", key)
	return nil
}

func buildCSV(report *services.Analytics) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	rows := [][]string{
		{"metric", "key", "value"},
		{"clicks", "total", strconv.FormatInt(report.TotalClicks, 10)},
		{"conversions", "total", strconv.FormatInt(report.TotalConversions, 10)},
		{"conversion_rate", "percent", strconv.FormatFloat(report.ConversionRate, 'f', 2, 64)},
	}
	for device, count := range report.ByDevice {
		rows = append(rows, []string{"clicks_by_device", device, strconv.FormatInt(count, 10)})
	}
	for browser, count := range report.ByBrowser {
		rows = append(rows, []string{"clicks_by_browser", browser, strconv.FormatInt(count, 10)})
	}
	for _, day := range report.DailyClicks {
		rows = append(rows, []string{"daily_clicks", day.Day, strconv.FormatInt(day.Count, 10)})
	}

	if err := w.WriteAll(rows); err != nil {
		return nil, err
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}
